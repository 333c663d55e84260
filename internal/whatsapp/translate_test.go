package whatsapp

import (
	"testing"
	"time"

	"github.com/talkincode/wagateway/internal/gateway"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func newTestClient() *Client {
	return newClient("acc", nil)
}

func TestTranslateCloseReasons(t *testing.T) {
	tests := []struct {
		name string
		evt  interface{}
		want gateway.CloseReason
	}{
		{"logged out", &events.LoggedOut{Reason: events.ConnectFailureLoggedOut}, gateway.ReasonLoggedOut},
		{"replaced", &events.StreamReplaced{}, gateway.ReasonReplaced},
		{"disconnected", &events.Disconnected{}, gateway.ReasonConnectionLost},
		{"connect failure", &events.ConnectFailure{Reason: events.ConnectFailureServiceUnavailable}, gateway.ReasonConnectFailed},
		{"banned", &events.TemporaryBan{Code: events.TempBanSentToTooManyPeople, Expire: time.Hour}, gateway.ReasonBanned},
		{"outdated", &events.ClientOutdated{}, gateway.ReasonOutdated},
		{"stream error", &events.StreamError{Code: "500"}, gateway.ReasonStreamError},
		{"keepalive timeout", &events.KeepAliveTimeout{ErrorCount: 3}, gateway.ReasonConnectionLost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := newTestClient().translate(tt.evt)
			if len(out) != 1 {
				t.Fatalf("translate() = %v, want one event", out)
			}
			closed, ok := out[0].(gateway.ConnectionClosed)
			if !ok {
				t.Fatalf("translate() = %T, want ConnectionClosed", out[0])
			}
			if closed.Reason != tt.want {
				t.Errorf("Reason = %s, want %s", closed.Reason, tt.want)
			}
			if closed.Reason.Terminal() != (tt.want == gateway.ReasonLoggedOut) {
				t.Errorf("Terminal() = %v for %s", closed.Reason.Terminal(), closed.Reason)
			}
		})
	}
}

func TestTranslateQRSignalsPairingOnce(t *testing.T) {
	c := newTestClient()

	first := c.translate(&events.QR{Codes: []string{"2@one", "2@two"}})
	if len(first) != 2 {
		t.Fatalf("first QR = %v, want qr and pairing ready", first)
	}
	if qr := first[0].(gateway.QRCodeIssued); qr.Code != "2@one" {
		t.Errorf("QR code = %q", qr.Code)
	}
	if _, ok := first[1].(gateway.PairingCodeReady); !ok {
		t.Errorf("second event = %T, want PairingCodeReady", first[1])
	}

	second := c.translate(&events.QR{Codes: []string{"2@three"}})
	if len(second) != 1 {
		t.Errorf("later QR = %v, want only the code", second)
	}
	if out := c.translate(&events.QR{}); out != nil {
		t.Errorf("empty QR = %v", out)
	}
}

func TestTranslateConnected(t *testing.T) {
	out := newTestClient().translate(&events.Connected{})
	if len(out) != 2 {
		t.Fatalf("translate(Connected) = %v", out)
	}
	if _, ok := out[0].(gateway.CredentialsUpdated); !ok {
		t.Errorf("first event = %T, want CredentialsUpdated", out[0])
	}
	if _, ok := out[1].(gateway.ConnectionOpened); !ok {
		t.Errorf("second event = %T, want ConnectionOpened", out[1])
	}
}

func TestTranslatePairSuccess(t *testing.T) {
	jid := types.NewJID("6281234567890", types.DefaultUserServer)
	out := newTestClient().translate(&events.PairSuccess{ID: jid, Platform: "android", BusinessName: "Shop"})
	creds := out[0].(gateway.CredentialsUpdated).Credentials
	if creds.JID != "6281234567890@s.whatsapp.net" || creds.Platform != "android" || creds.BusinessName != "Shop" {
		t.Errorf("credentials = %+v", creds)
	}
}

func TestTranslateMessage(t *testing.T) {
	c := newTestClient()
	chat := types.NewJID("6281234567890", types.DefaultUserServer)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: chat},
			ID:            "3EB0ABC",
			PushName:      "Jane",
			Timestamp:     at,
		},
		Message: &waE2E.Message{Conversation: proto.String("hello")},
	}

	out := c.translate(evt)
	msg, ok := out[0].(gateway.MessageReceived)
	if !ok {
		t.Fatalf("translate(Message) = %T", out[0])
	}
	if msg.ID != "3EB0ABC" || msg.Text != "hello" || msg.Kind != "text" || msg.FromMe || msg.IsGroup {
		t.Errorf("message = %+v", msg)
	}

	chats := c.chats.list()
	if len(chats) != 1 || chats[0].UnreadCount != 1 || !chats[0].LastMessageAt.Equal(at) {
		t.Errorf("chat cache = %+v", chats)
	}
}

func TestTranslateHistorySync(t *testing.T) {
	c := newTestClient()
	evt := &events.HistorySync{Data: &waHistorySync.HistorySync{
		Conversations: []*waHistorySync.Conversation{
			{ID: proto.String("1@s.whatsapp.net"), Name: proto.String("One"), ConversationTimestamp: proto.Uint64(100), Messages: []*waHistorySync.HistorySyncMsg{{}, {}}},
			{ID: proto.String("2@g.us"), Name: proto.String("Group"), ConversationTimestamp: proto.Uint64(200), UnreadCount: proto.Uint32(3)},
		},
		Pushnames: []*waHistorySync.Pushname{{ID: proto.String("1@s.whatsapp.net"), Pushname: proto.String("One")}},
	}}

	out := c.translate(evt)
	sum, ok := out[0].(gateway.HistorySynced)
	if !ok {
		t.Fatalf("translate(HistorySync) = %T", out[0])
	}
	if sum.Chats != 2 || sum.Messages != 2 || sum.Contacts != 1 {
		t.Errorf("summary = %+v", sum)
	}
	chats := c.chats.list()
	if len(chats) != 2 || chats[0].ID != "2@g.us" || chats[0].UnreadCount != 3 {
		t.Errorf("chats = %+v", chats)
	}
}

func TestTranslateIgnoresUnknown(t *testing.T) {
	if out := newTestClient().translate(&events.Receipt{}); out != nil {
		t.Errorf("translate(Receipt) = %v", out)
	}
}

func TestEmitAfterClose(t *testing.T) {
	c := newTestClient()
	c.emit(gateway.PairingCodeReady{})
	c.closeEvents()
	c.emit(gateway.PairingCodeReady{})
	c.closeEvents()

	n := 0
	for range c.Events() {
		n++
	}
	if n != 1 {
		t.Errorf("received %d events, want 1", n)
	}
}

func TestEmitKeepsLifecycleEventsWhenBufferIsFull(t *testing.T) {
	c := newTestClient()
	for i := 0; i < eventBuffer+10; i++ {
		c.emit(gateway.MessageReceived{})
	}
	c.emit(gateway.ConnectionClosed{Reason: gateway.ReasonConnectionLost})
	c.emit(gateway.CredentialsUpdated{})

	var got []gateway.Event
	timeout := time.After(2 * time.Second)
	for len(got) < eventBuffer+2 {
		select {
		case evt := <-c.Events():
			got = append(got, evt)
		case <-timeout:
			t.Fatalf("received %d events, want %d", len(got), eventBuffer+2)
		}
	}
	for i, evt := range got[:eventBuffer] {
		if _, ok := evt.(gateway.MessageReceived); !ok {
			t.Fatalf("event %d = %T, want MessageReceived", i, evt)
		}
	}
	if closed, ok := got[eventBuffer].(gateway.ConnectionClosed); !ok || closed.Reason != gateway.ReasonConnectionLost {
		t.Errorf("event %d = %#v, want ConnectionClosed", eventBuffer, got[eventBuffer])
	}
	if _, ok := got[eventBuffer+1].(gateway.CredentialsUpdated); !ok {
		t.Errorf("event %d = %T, want CredentialsUpdated", eventBuffer+1, got[eventBuffer+1])
	}

	c.emit(gateway.MessageReceived{})
	c.closeEvents()
	n := 0
	for range c.Events() {
		n++
	}
	if n != 1 {
		t.Errorf("events after drain = %d, want 1", n)
	}
}

func TestCloseWhileBacklogPendingClosesEvents(t *testing.T) {
	c := newTestClient()
	for i := 0; i < eventBuffer; i++ {
		c.emit(gateway.MessageReceived{})
	}
	c.emit(gateway.ConnectionClosed{Reason: gateway.ReasonStreamError})
	c.closeEvents()

	done := make(chan struct{})
	go func() {
		for range c.Events() {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("events channel was not closed")
	}
}
