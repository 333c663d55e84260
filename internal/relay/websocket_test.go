package relay

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/talkincode/wagateway/internal/gateway"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	all := dial(t, srv, "")
	onlyB := dial(t, srv, "?phoneId=b")
	waitClients(t, hub, 2)

	snap := gateway.Snapshot{PhoneID: "a", Status: gateway.StatusOpen}
	hub.Handle(Envelope{ID: "1", Type: TypeStatus, PhoneID: "a", Status: &snap})
	hub.Handle(Envelope{ID: "2", Type: TypeMessage, PhoneID: "b", Message: &gateway.MessageReceived{ID: "m1"}})

	_ = all.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second Envelope
	if err := all.ReadJSON(&first); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if err := all.ReadJSON(&second); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if first.ID != "1" || second.ID != "2" {
		t.Errorf("unfiltered client got %q, %q", first.ID, second.ID)
	}

	_ = onlyB.SetReadDeadline(time.Now().Add(2 * time.Second))
	var filtered Envelope
	if err := onlyB.ReadJSON(&filtered); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if filtered.PhoneID != "b" || filtered.Message == nil {
		t.Errorf("filtered client got %+v", filtered)
	}
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "")
	waitClients(t, hub, 1)
	conn.Close()
	waitClients(t, hub, 0)
}
