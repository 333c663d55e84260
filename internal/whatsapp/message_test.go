package whatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/talkincode/wagateway/internal/gateway"
	"go.mau.fi/whatsmeow"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestDownloadMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.png":
			_, _ = w.Write(pngHeader)
		case "/empty":
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	data, err := downloadMedia(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatalf("downloadMedia() error = %v", err)
	}
	if len(data) != len(pngHeader) {
		t.Errorf("downloaded %d bytes", len(data))
	}
	if _, err := downloadMedia(context.Background(), srv.URL+"/missing"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("downloadMedia(404) error = %v", err)
	}
	if _, err := downloadMedia(context.Background(), srv.URL+"/empty"); err == nil {
		t.Error("downloadMedia(empty) should fail")
	}
}

func TestMediaMime(t *testing.T) {
	tests := []struct {
		name  string
		media gateway.Media
		data  []byte
		want  string
	}{
		{"declared", gateway.Media{Type: gateway.MediaDocument, MimeType: "text/csv"}, []byte("a,b"), "text/csv"},
		{"sniffed image", gateway.Media{Type: gateway.MediaImage}, pngHeader, "image/png"},
		{"document fallback", gateway.Media{Type: gateway.MediaDocument}, []byte{0x00, 0x01, 0x02, 0x03}, defaultDocMime},
	}
	for _, tt := range tests {
		if got := mediaMime(tt.media, tt.data); got != tt.want {
			t.Errorf("%s: mediaMime() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestContactAndLocationMessages(t *testing.T) {
	msg := contactMessage(gateway.Contact{FullName: "Jane", PhoneNumber: "+6281234567890"})
	arr := msg.GetContactsArrayMessage()
	if arr.GetDisplayName() != "Jane" || len(arr.GetContacts()) != 1 {
		t.Fatalf("contacts message = %v", arr)
	}
	if !strings.Contains(arr.GetContacts()[0].GetVcard(), "TEL;type=CELL;type=pref:+6281234567890") {
		t.Errorf("vcard = %q", arr.GetContacts()[0].GetVcard())
	}

	loc := locationMessage(gateway.Location{Latitude: -6.2, Longitude: 106.8, Name: "Monas"}).GetLocationMessage()
	if loc.GetDegreesLatitude() != -6.2 || loc.GetDegreesLongitude() != 106.8 || loc.GetName() != "Monas" || loc.Address != nil {
		t.Errorf("location message = %v", loc)
	}

	if textMessage(gateway.Text{Body: "hi"}).GetConversation() != "hi" {
		t.Error("text message body mismatch")
	}
}

func TestMediaMessage(t *testing.T) {
	up := whatsmeow.UploadResponse{URL: "https://mmg.whatsapp.net/x", DirectPath: "/v/x", FileLength: 42}

	doc := mediaMessage(gateway.Media{Type: gateway.MediaDocument, Caption: "invoice"}, defaultDocMime, up).GetDocumentMessage()
	if doc.GetFileName() != defaultFileName || doc.GetMimetype() != defaultDocMime || doc.GetCaption() != "invoice" || doc.GetFileLength() != 42 {
		t.Errorf("document message = %v", doc)
	}

	audio := mediaMessage(gateway.Media{Type: gateway.MediaAudio, PTT: true}, "audio/ogg; codecs=opus", up).GetAudioMessage()
	if !audio.GetPTT() || audio.GetDirectPath() != "/v/x" {
		t.Errorf("audio message = %v", audio)
	}

	video := mediaMessage(gateway.Media{Type: gateway.MediaVideo, GIFPlayback: true}, "video/mp4", up).GetVideoMessage()
	if !video.GetGifPlayback() || video.Caption != nil {
		t.Errorf("video message = %v", video)
	}

	if img := mediaMessage(gateway.Media{Type: gateway.MediaImage}, "image/png", up).GetImageMessage(); img.GetURL() != up.URL {
		t.Errorf("image message = %v", img)
	}

	if mediaKind(gateway.MediaDocument) != whatsmeow.MediaDocument || mediaKind(gateway.MediaImage) != whatsmeow.MediaImage {
		t.Error("mediaKind mismatch")
	}
}
