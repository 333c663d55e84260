package restapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagateway/internal/gateway"
	"github.com/talkincode/wagateway/internal/webserver"
)

type sendMessagePayload struct {
	PhoneID string `json:"phoneId"`
	Number  string `json:"number" validate:"required"`
	Message string `json:"message" validate:"required"`
}

type mediaOptions struct {
	Mimetype    string `json:"mimetype"`
	PTT         bool   `json:"ptt"`
	GifPlayback bool   `json:"gifPlayback"`
}

type sendMediaPayload struct {
	PhoneID  string       `json:"phoneId"`
	Number   string       `json:"number" validate:"required"`
	MediaURL string       `json:"mediaUrl" validate:"required"`
	Caption  string       `json:"caption"`
	Type     string       `json:"type"`
	FileName string       `json:"fileName"`
	Options  mediaOptions `json:"options"`
}

type contactCard struct {
	FullName    string `json:"fullName" validate:"required"`
	PhoneNumber string `json:"phoneNumber" validate:"required"`
}

type sendContactPayload struct {
	PhoneID string       `json:"phoneId"`
	Number  string       `json:"number" validate:"required"`
	Contact *contactCard `json:"contact" validate:"required"`
}

type sendLocationPayload struct {
	PhoneID   string   `json:"phoneId"`
	Number    string   `json:"number" validate:"required"`
	Latitude  *float64 `json:"latitude" validate:"required"`
	Longitude *float64 `json:"longitude" validate:"required"`
	Name      string   `json:"name"`
	Address   string   `json:"address"`
}

func (h *Handlers) send(c echo.Context, phoneID, number string, content gateway.Content, success, failure string) error {
	id := accountOf(phoneID)
	resp, err := h.dispatcher.Send(c.Request().Context(), id, number, content)
	if err != nil {
		return h.replyError(c, id, err, failure)
	}
	return ok(c, success, webserver.Response{"response": resp})
}

func (h *Handlers) sendMessage(c echo.Context) error {
	var p sendMessagePayload
	if err := bind(c, &p, "Number and message are required"); err != nil {
		return err
	}
	return h.send(c, p.PhoneID, p.Number, gateway.Text{Body: p.Message},
		"Message sent successfully", "Error sending message")
}

func (h *Handlers) sendMedia(c echo.Context) error {
	var p sendMediaPayload
	if err := bind(c, &p, "Number and media URL are required"); err != nil {
		return err
	}
	mediaType := gateway.MediaType(p.Type)
	switch mediaType {
	case "":
		mediaType = gateway.MediaImage
	case gateway.MediaImage, gateway.MediaVideo, gateway.MediaDocument, gateway.MediaAudio:
	default:
		return fail(c, http.StatusBadRequest, "INVALID_ARGUMENT", "Invalid media type. Use: image, video, document, or audio", nil)
	}
	if p.FileName == "" {
		p.FileName = "file"
	}
	media := gateway.Media{
		Type:        mediaType,
		URL:         p.MediaURL,
		Caption:     p.Caption,
		FileName:    p.FileName,
		MimeType:    p.Options.Mimetype,
		PTT:         p.Options.PTT,
		GIFPlayback: p.Options.GifPlayback,
	}
	return h.send(c, p.PhoneID, p.Number, media, "Media sent successfully", "Error sending media")
}

func (h *Handlers) sendContact(c echo.Context) error {
	var p sendContactPayload
	if err := bind(c, &p, "Number and contact information are required"); err != nil {
		return err
	}
	contact := gateway.Contact{FullName: p.Contact.FullName, PhoneNumber: p.Contact.PhoneNumber}
	return h.send(c, p.PhoneID, p.Number, contact, "Contact sent successfully", "Error sending contact")
}

func (h *Handlers) sendLocation(c echo.Context) error {
	var p sendLocationPayload
	if err := bind(c, &p, "Number, latitude, and longitude are required"); err != nil {
		return err
	}
	location := gateway.Location{
		Latitude:  *p.Latitude,
		Longitude: *p.Longitude,
		Name:      p.Name,
		Address:   p.Address,
	}
	return h.send(c, p.PhoneID, p.Number, location, "Location sent successfully", "Error sending location")
}
