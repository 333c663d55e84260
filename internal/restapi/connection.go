package restapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagateway/internal/gateway"
	"github.com/talkincode/wagateway/internal/webserver"
	"go.uber.org/zap"
)

type connectPayload struct {
	PhoneNumber string `json:"phoneNumber" validate:"required"`
	PhoneID     string `json:"phoneId"`
}

type accountPayload struct {
	PhoneID string `json:"phoneId"`
}

func snapshotPayload(s gateway.Snapshot) webserver.Response {
	return webserver.Response{
		"phoneId":              s.PhoneID,
		"status":               s.Status,
		"connected":            s.Connected,
		"connecting":           s.Connecting,
		"reconnecting":         s.Reconnecting,
		"phoneNumber":          s.PhoneNumber,
		"mode":                 s.Mode,
		"pairingCode":          s.PairingCode,
		"pairingCodeRequested": s.PairingCodeRequested,
		"pairingCodeSent":      s.PairingCodeSent,
		"qrCode":               s.QRCode,
		"user":                 s.User,
		"lastError":            s.LastError,
		"updatedAt":            s.UpdatedAt,
	}
}

func (h *Handlers) connect(c echo.Context) error {
	var p connectPayload
	if err := bind(c, &p, "Phone number is required"); err != nil {
		return err
	}
	id := accountOf(p.PhoneID)
	rec, err := h.manager.Connect(c.Request().Context(), p.PhoneNumber, id)
	if err != nil {
		return h.replyError(c, id, err, "Error connecting to WhatsApp")
	}
	zap.L().Info("restapi: connection initiated", zap.String("phone_id", rec.AccountID))
	return ok(c, "Connection initiated", webserver.Response{
		"phoneId": rec.AccountID,
		"status":  rec.Status,
	})
}

// requestPairingCode answers as soon as the code arrives or the short wait
// runs out. In the latter case callers poll /api/status for the code.
func (h *Handlers) requestPairingCode(c echo.Context) error {
	var p connectPayload
	if err := bind(c, &p, "Phone number is required"); err != nil {
		return err
	}
	id := accountOf(p.PhoneID)
	rec, err := h.manager.RequestPairingCode(c.Request().Context(), p.PhoneNumber, id)
	if err != nil {
		return h.replyError(c, id, err, "Error requesting pairing code")
	}
	payload := webserver.Response{
		"phoneId": rec.AccountID,
		"status":  rec.Status,
	}
	if rec.Status == gateway.StatusOpen {
		return ok(c, "Already connected", payload)
	}
	if rec.Pairing.Code != "" {
		payload["pairingCode"] = rec.Pairing.Code
		return ok(c, "Pairing code requested successfully", payload)
	}
	if rec.LastError != "" {
		payload["lastError"] = rec.LastError
	}
	return ok(c, "Pairing code requested, please wait...", payload)
}

func (h *Handlers) status(c echo.Context) error {
	id := accountOf(c.Param("phoneId"))
	rec, found := h.manager.Status(id)
	if !found {
		return c.JSON(http.StatusOK, webserver.Response{
			"success":   false,
			"connected": false,
			"phoneId":   id,
		})
	}
	return ok(c, "", snapshotPayload(rec.Snapshot()))
}

func (h *Handlers) accounts(c echo.Context) error {
	records := h.manager.Accounts()
	items := make([]gateway.Snapshot, 0, len(records))
	for _, rec := range records {
		items = append(items, rec.Snapshot())
	}
	return ok(c, "", webserver.Response{"accounts": items, "total": len(items)})
}

func (h *Handlers) qrCode(c echo.Context) error {
	id := accountOf(c.Param("phoneId"))
	rec, found := h.manager.Status(id)
	if !found {
		return h.replyError(c, id, gateway.ErrSessionNotFound, "")
	}
	return ok(c, "", webserver.Response{
		"phoneId": id,
		"qrCode":  rec.QRCode,
		"hasQr":   rec.QRCode != "",
	})
}

func (h *Handlers) logout(c echo.Context) error {
	var p accountPayload
	if err := bind(c, &p, ""); err != nil {
		return err
	}
	id := accountOf(p.PhoneID)
	if _, err := h.manager.Logout(c.Request().Context(), id); err != nil {
		return h.replyError(c, id, err, "Error logging out")
	}
	return ok(c, "Logged out successfully", webserver.Response{"phoneId": id})
}

func (h *Handlers) disconnect(c echo.Context) error {
	var p accountPayload
	if err := bind(c, &p, ""); err != nil {
		return err
	}
	id := accountOf(p.PhoneID)
	if _, err := h.manager.Disconnect(id); err != nil {
		return h.replyError(c, id, err, "Error disconnecting")
	}
	return ok(c, "Disconnected successfully", webserver.Response{"phoneId": id})
}

func (h *Handlers) accountHistory(c echo.Context) error {
	id := accountOf(c.Param("phoneId"))
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}
	logs, err := h.history.EventLogs(c.Request().Context(), id, limit)
	if err != nil {
		return h.replyError(c, id, err, "Error reading account history")
	}
	return ok(c, "", webserver.Response{"phoneId": id, "events": logs})
}
