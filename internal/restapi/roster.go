package restapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mitchellh/mapstructure"
	"github.com/talkincode/wagateway/internal/gateway"
	"github.com/talkincode/wagateway/internal/webserver"
)

type privacyPayload struct {
	PhoneID  string                 `json:"phoneId"`
	Settings map[string]interface{} `json:"settings" validate:"required"`
}

// privacyInput names the settings the way API clients send them.
type privacyInput struct {
	ReadReceipts string `mapstructure:"readReceiptsPrivacy"`
	Profile      string `mapstructure:"profilePicturePrivacy"`
	Status       string `mapstructure:"statusPrivacy"`
	Online       string `mapstructure:"onlinePrivacy"`
	LastSeen     string `mapstructure:"lastSeenPrivacy"`
	GroupAdd     string `mapstructure:"groupsAddPrivacy"`
}

func decodePrivacy(settings map[string]interface{}) (gateway.PrivacySettings, error) {
	var in privacyInput
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &in,
		ErrorUnused: true,
	})
	if err != nil {
		return gateway.PrivacySettings{}, err
	}
	if err := dec.Decode(settings); err != nil {
		return gateway.PrivacySettings{}, err
	}
	return gateway.PrivacySettings{
		ReadReceipts: in.ReadReceipts,
		Profile:      in.Profile,
		Status:       in.Status,
		Online:       in.Online,
		LastSeen:     in.LastSeen,
		GroupAdd:     in.GroupAdd,
	}, nil
}

func (h *Handlers) contacts(c echo.Context) error {
	id := accountOf(c.Param("phoneId"))
	contacts, err := h.dispatcher.Contacts(c.Request().Context(), id)
	if err != nil {
		return h.replyError(c, id, err, "Error getting contacts")
	}
	return ok(c, "", webserver.Response{"contacts": contacts})
}

func (h *Handlers) chats(c echo.Context) error {
	id := accountOf(c.Param("phoneId"))
	chats, err := h.dispatcher.Chats(c.Request().Context(), id)
	if err != nil {
		return h.replyError(c, id, err, "Error getting chats")
	}
	return ok(c, "", webserver.Response{"chats": chats})
}

func (h *Handlers) privacySettings(c echo.Context) error {
	id := accountOf(c.QueryParam("phoneId"))
	settings, err := h.dispatcher.PrivacySettings(c.Request().Context(), id)
	if err != nil {
		return h.replyError(c, id, err, "Error getting privacy settings")
	}
	return ok(c, "", webserver.Response{"privacySettings": settings})
}

func (h *Handlers) updatePrivacySettings(c echo.Context) error {
	var p privacyPayload
	if err := bind(c, &p, "Settings object is required"); err != nil {
		return err
	}
	settings, err := decodePrivacy(p.Settings)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ARGUMENT", "Invalid privacy settings", err.Error())
	}
	id := accountOf(p.PhoneID)
	applied, err := h.dispatcher.UpdatePrivacySettings(c.Request().Context(), id, settings)
	if err != nil {
		return h.replyError(c, id, err, "Error updating privacy settings")
	}
	return ok(c, "Privacy settings updated successfully", webserver.Response{"privacySettings": applied})
}
