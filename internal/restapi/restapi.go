// Package restapi exposes the gateway over HTTP. Every handler answers with
// the uniform envelope of the webserver package.
package restapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/gateway"
	"github.com/talkincode/wagateway/internal/webserver"
	"go.uber.org/zap"
)

const Version = "2.0.0"

// History reads the lifecycle log of an account from the ledger.
type History interface {
	EventLogs(ctx context.Context, accountID string, limit int) ([]domain.WhatsAppEventLog, error)
}

// Options carries the optional collaborators of the API.
type Options struct {
	// Events serves the websocket event stream at /api/events.
	Events http.Handler
	// History backs /api/history/:phoneId.
	History History
	// Debug adds internal error text to 500 envelopes.
	Debug bool
}

type route struct {
	method      string
	path        string
	description string
	public      bool
	handler     echo.HandlerFunc
}

// Handlers binds the HTTP surface to a Manager and a Dispatcher.
type Handlers struct {
	manager    *gateway.Manager
	dispatcher *gateway.Dispatcher
	events     http.Handler
	history    History
	debug      bool
	routes     []route
}

func New(manager *gateway.Manager, dispatcher *gateway.Dispatcher, opts Options) *Handlers {
	h := &Handlers{
		manager:    manager,
		dispatcher: dispatcher,
		events:     opts.Events,
		history:    opts.History,
		debug:      opts.Debug,
	}
	h.routes = h.buildRoutes()
	return h
}

func (h *Handlers) buildRoutes() []route {
	routes := []route{
		{http.MethodGet, "/health", "Health check", true, h.health},
		{http.MethodGet, "/", "API index", false, h.index},

		{http.MethodPost, "/api/connect", "Connect a WhatsApp account", false, h.connect},
		{http.MethodPost, "/api/request-pairing-code", "Request a pairing code for a phone number", false, h.requestPairingCode},
		{http.MethodGet, "/api/status", "Connection status of the default account", false, h.status},
		{http.MethodGet, "/api/status/:phoneId", "Connection status of an account", false, h.status},
		{http.MethodGet, "/api/accounts", "Status of every known account", false, h.accounts},
		{http.MethodGet, "/api/qr", "Latest QR code of the default account", false, h.qrCode},
		{http.MethodGet, "/api/qr/:phoneId", "Latest QR code of an account", false, h.qrCode},
		{http.MethodPost, "/api/logout", "Log out and unlink an account", false, h.logout},
		{http.MethodPost, "/api/disconnect", "Close a session and keep its credentials", false, h.disconnect},

		{http.MethodPost, "/api/send-message", "Send a text message", false, h.sendMessage},
		{http.MethodPost, "/api/send-media", "Send an image, video, document or audio file", false, h.sendMedia},
		{http.MethodPost, "/api/send-contact", "Send a contact card", false, h.sendContact},
		{http.MethodPost, "/api/send-location", "Send a location", false, h.sendLocation},

		{http.MethodPost, "/api/create-group", "Create a group", false, h.createGroup},
		{http.MethodPost, "/api/group-add-participant", "Add participants to a group", false, h.addParticipants},
		{http.MethodPost, "/api/group-remove-participant", "Remove participants from a group", false, h.removeParticipants},
		{http.MethodPost, "/api/group-set-subject", "Change the group subject", false, h.setGroupSubject},
		{http.MethodPost, "/api/group-set-description", "Change the group description", false, h.setGroupDescription},
		{http.MethodGet, "/api/group-info/:groupId", "Group metadata", false, h.groupInfo},
		{http.MethodGet, "/api/groups", "Joined groups", false, h.groups},

		{http.MethodGet, "/api/contacts", "Contacts of the default account", false, h.contacts},
		{http.MethodGet, "/api/contacts/:phoneId", "Contacts of an account", false, h.contacts},
		{http.MethodGet, "/api/chats", "Chats of the default account", false, h.chats},
		{http.MethodGet, "/api/chats/:phoneId", "Chats of an account", false, h.chats},
		{http.MethodGet, "/api/privacy-settings", "Read privacy settings", false, h.privacySettings},
		{http.MethodPost, "/api/privacy-settings", "Update privacy settings", false, h.updatePrivacySettings},
	}
	if h.history != nil {
		routes = append(routes, route{http.MethodGet, "/api/history/:phoneId", "Lifecycle log of an account", false, h.accountHistory})
	}
	if h.events != nil {
		routes = append(routes, route{http.MethodGet, "/api/events", "Websocket stream of status and message events", false, echo.WrapHandler(h.events)})
	}
	return routes
}

// Register mounts every route on s.
func (h *Handlers) Register(s *webserver.WebServer) {
	for _, r := range h.routes {
		switch {
		case r.public:
			s.RootGET(r.path, r.handler)
		case !strings.HasPrefix(r.path, "/api/"):
			s.RootGET(r.path, r.handler, s.Auth())
		case r.method == http.MethodPost:
			s.ApiPOST(strings.TrimPrefix(r.path, "/api"), r.handler)
		default:
			s.ApiGET(strings.TrimPrefix(r.path, "/api"), r.handler)
		}
	}
}

func (h *Handlers) health(c echo.Context) error {
	return webserver.Reply(c, http.StatusOK, "WhatsApp Gateway is running", webserver.Response{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    webserver.Uptime().String(),
	})
}

func (h *Handlers) index(c echo.Context) error {
	endpoints := make([]webserver.Response, 0, len(h.routes))
	for _, r := range h.routes {
		endpoints = append(endpoints, webserver.Response{
			"method":      r.method,
			"path":        r.path,
			"description": r.description,
		})
	}
	return webserver.Reply(c, http.StatusOK, "WhatsApp Gateway API", webserver.Response{
		"version":   Version,
		"endpoints": endpoints,
	})
}

func ok(c echo.Context, message string, payload webserver.Response) error {
	return webserver.Reply(c, http.StatusOK, message, payload)
}

func fail(c echo.Context, status int, code, message string, detail interface{}) error {
	return webserver.Fail(c, status, code, message, detail)
}

// bind decodes and validates the request body. invalid is the message used
// when validation fails; the offending field goes into the error detail.
func bind(c echo.Context, payload interface{}, invalid string) error {
	if err := c.Bind(payload); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return fail(c, he.Code, "INVALID_REQUEST", fmt.Sprint(he.Message), nil)
		}
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request body", err.Error())
	}
	if err := c.Validate(payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ARGUMENT", invalid, err.Error())
	}
	return nil
}

// accountOf resolves the account addressed by a request; empty means default.
func accountOf(raw string) string {
	if id := strings.TrimSpace(raw); id != "" {
		return id
	}
	return gateway.DefaultAccountID
}

// replyError maps a gateway error onto the envelope. failure is the message
// used for upstream and internal errors.
func (h *Handlers) replyError(c echo.Context, accountID string, err error, failure string) error {
	switch status := gateway.HTTPStatus(err); status {
	case http.StatusBadRequest:
		return fail(c, status, "INVALID_ARGUMENT", capitalize(err.Error()), nil)
	case http.StatusNotFound:
		return fail(c, status, "SESSION_NOT_FOUND",
			fmt.Sprintf("WhatsApp client for %s not found. Please connect first.", accountID), nil)
	case http.StatusUnauthorized:
		return fail(c, status, "UNAUTHORIZED", "Unauthorized", nil)
	}
	var de *gateway.DispatchError
	if errors.As(err, &de) {
		return fail(c, http.StatusInternalServerError, "DISPATCH_FAILED", failure, de.Err.Error())
	}
	zap.L().Error("restapi: internal error",
		zap.String("path", c.Path()), zap.String("phone_id", accountID), zap.Error(err))
	var detail interface{}
	if h.debug {
		detail = err.Error()
	}
	return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", failure, detail)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
