package gateway

import (
	"fmt"
	"math"
	"strings"
)

// Content is an outbound message body. The set of implementations is closed.
type Content interface {
	Kind() string
	Validate() error
	isContent()
}

type Text struct {
	Body string
}

// MediaType names a media variant accepted by NewMedia.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "document"
	MediaAudio    MediaType = "audio"
)

// Media is a file fetched from URL and uploaded before sending.
type Media struct {
	Type     MediaType
	URL      string
	Caption  string
	FileName string
	MimeType string
	// PTT marks audio as a voice note.
	PTT bool
	// GIFPlayback loops a video without sound.
	GIFPlayback bool
}

type Contact struct {
	FullName    string
	PhoneNumber string
}

type Location struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

func (Text) Kind() string     { return "text" }
func (m Media) Kind() string  { return string(m.Type) }
func (Contact) Kind() string  { return "contact" }
func (Location) Kind() string { return "location" }

func (Text) isContent()     {}
func (Media) isContent()    {}
func (Contact) isContent()  {}
func (Location) isContent() {}

func (t Text) Validate() error {
	if strings.TrimSpace(t.Body) == "" {
		return invalidArgument("message is required")
	}
	return nil
}

func (m Media) Validate() error {
	switch m.Type {
	case MediaImage, MediaVideo, MediaDocument, MediaAudio:
	default:
		return invalidArgument("unsupported media type %q, must be image, video, document or audio", m.Type)
	}
	if m.URL == "" {
		return invalidArgument("mediaUrl is required")
	}
	return ValidateURL(m.URL)
}

func (c Contact) Validate() error {
	if strings.TrimSpace(c.FullName) == "" || strings.TrimSpace(c.PhoneNumber) == "" {
		return invalidArgument("contact fullName and phoneNumber are required")
	}
	return nil
}

func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return invalidArgument("latitude %v out of range [-90, 90]", l.Latitude)
	}
	if math.IsNaN(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return invalidArgument("longitude %v out of range [-180, 180]", l.Longitude)
	}
	return nil
}

// VCard renders the contact as a vCard 3.0 card.
func (c Contact) VCard() string {
	var b strings.Builder
	b.WriteString("BEGIN:VCARD\n")
	b.WriteString("VERSION:3.0\n")
	fmt.Fprintf(&b, "FN:%s\n", c.FullName)
	fmt.Fprintf(&b, "TEL;type=CELL;type=pref:%s\n", c.PhoneNumber)
	b.WriteString("END:VCARD")
	return b.String()
}
