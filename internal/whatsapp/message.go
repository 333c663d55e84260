package whatsapp

import (
	"context"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/guonaihong/gout"
	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/gateway"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

const (
	maxMediaSize    = 64 << 20
	mediaTimeout    = 60 * time.Second
	defaultDocMime  = "application/pdf"
	defaultFileName = "file"
)

// downloadMedia fetches url into memory.
func downloadMedia(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, mediaTimeout)
	defer cancel()

	var body []byte
	var code int
	err := gout.GET(url).
		WithContext(ctx).
		BindBody(&body).
		Code(&code).
		Do()
	if err != nil {
		return nil, errors.Wrapf(err, "download %s", url)
	}
	if code < 200 || code > 299 {
		return nil, errors.Errorf("download %s: unexpected status %d", url, code)
	}
	if len(body) == 0 {
		return nil, errors.Errorf("download %s: empty body", url)
	}
	if len(body) > maxMediaSize {
		return nil, errors.Errorf("download %s: %d bytes exceeds limit", url, len(body))
	}
	return body, nil
}

// mediaMime picks the declared mimetype, then the sniffed one.
func mediaMime(m gateway.Media, data []byte) string {
	if m.MimeType != "" {
		return m.MimeType
	}
	detected := mimetype.Detect(data)
	mime := detected.String()
	if m.Type == gateway.MediaDocument && detected.Is("application/octet-stream") {
		return defaultDocMime
	}
	if m.Type == gateway.MediaAudio && m.PTT && detected.Is("audio/ogg") {
		return "audio/ogg; codecs=opus"
	}
	return mime
}

func mediaKind(t gateway.MediaType) whatsmeow.MediaType {
	switch t {
	case gateway.MediaVideo:
		return whatsmeow.MediaVideo
	case gateway.MediaAudio:
		return whatsmeow.MediaAudio
	case gateway.MediaDocument:
		return whatsmeow.MediaDocument
	}
	return whatsmeow.MediaImage
}

func (c *Client) buildMessage(ctx context.Context, content gateway.Content) (*waE2E.Message, error) {
	switch v := content.(type) {
	case gateway.Text:
		return textMessage(v), nil
	case gateway.Contact:
		return contactMessage(v), nil
	case gateway.Location:
		return locationMessage(v), nil
	case gateway.Media:
		data, err := downloadMedia(ctx, v.URL)
		if err != nil {
			return nil, err
		}
		up, err := c.cli.Upload(ctx, data, mediaKind(v.Type))
		if err != nil {
			return nil, errors.Wrap(err, "upload media")
		}
		return mediaMessage(v, mediaMime(v, data), up), nil
	}
	return nil, errors.Errorf("unsupported content %T", content)
}

func textMessage(t gateway.Text) *waE2E.Message {
	return &waE2E.Message{Conversation: proto.String(t.Body)}
}

func contactMessage(ct gateway.Contact) *waE2E.Message {
	return &waE2E.Message{
		ContactsArrayMessage: &waE2E.ContactsArrayMessage{
			DisplayName: proto.String(ct.FullName),
			Contacts: []*waE2E.ContactMessage{{
				DisplayName: proto.String(ct.FullName),
				Vcard:       proto.String(ct.VCard()),
			}},
		},
	}
}

func locationMessage(l gateway.Location) *waE2E.Message {
	loc := &waE2E.LocationMessage{
		DegreesLatitude:  proto.Float64(l.Latitude),
		DegreesLongitude: proto.Float64(l.Longitude),
	}
	if l.Name != "" {
		loc.Name = proto.String(l.Name)
	}
	if l.Address != "" {
		loc.Address = proto.String(l.Address)
	}
	return &waE2E.Message{LocationMessage: loc}
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}

func mediaMessage(m gateway.Media, mime string, up whatsmeow.UploadResponse) *waE2E.Message {
	switch m.Type {
	case gateway.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       optString(m.Caption),
			Mimetype:      proto.String(mime),
			GifPlayback:   proto.Bool(m.GIFPlayback),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case gateway.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mime),
			PTT:           proto.Bool(m.PTT),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case gateway.MediaDocument:
		name := strings.TrimSpace(m.FileName)
		if name == "" {
			name = defaultFileName
		}
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       optString(m.Caption),
			Title:         proto.String(name),
			FileName:      proto.String(name),
			Mimetype:      proto.String(mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	}
	return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		Caption:       optString(m.Caption),
		Mimetype:      proto.String(mime),
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
	}}
}
