package gateway

import "time"

// Event is a lifecycle or message notification emitted by a session client.
// The set of implementations is closed.
type Event interface {
	isEvent()
}

// CloseReason classifies why a connection closed.
type CloseReason string

const (
	ReasonLoggedOut      CloseReason = "logged_out"
	ReasonConnectionLost CloseReason = "connection_lost"
	ReasonConnectFailed  CloseReason = "connect_failed"
	ReasonReplaced       CloseReason = "replaced"
	ReasonBanned         CloseReason = "banned"
	ReasonOutdated       CloseReason = "client_outdated"
	ReasonStreamError    CloseReason = "stream_error"
)

// Terminal reports whether the reason forbids reconnecting.
func (r CloseReason) Terminal() bool {
	return r == ReasonLoggedOut
}

// ConnectionOpened is emitted once the session is authenticated and usable.
type ConnectionOpened struct {
	JID string
}

// ConnectionClosed is emitted when the underlying connection ends.
type ConnectionClosed struct {
	Reason CloseReason
	Err    error
}

func (e ConnectionClosed) describe() string {
	if e.Err != nil {
		return string(e.Reason) + ": " + e.Err.Error()
	}
	return string(e.Reason)
}

// CredentialsUpdated carries identity material that changed on the device.
type CredentialsUpdated struct {
	Credentials Credentials
}

// PairingCodeReady signals that the socket accepts a pairing-code request.
type PairingCodeReady struct{}

// QRCodeIssued carries a fresh QR payload for linking.
type QRCodeIssued struct {
	Code string
}

// HistorySynced summarizes a history sync batch.
type HistorySynced struct {
	Chats    int
	Contacts int
	Messages int
}

// MessageReceived is an inbound or self-sent chat message.
type MessageReceived struct {
	ID        string    `json:"id"`
	Chat      string    `json:"chat"`
	Sender    string    `json:"sender"`
	PushName  string    `json:"pushName,omitempty"`
	Text      string    `json:"text,omitempty"`
	Kind      string    `json:"kind"`
	FromMe    bool      `json:"fromMe"`
	IsGroup   bool      `json:"isGroup"`
	Timestamp time.Time `json:"timestamp"`
}

func (ConnectionOpened) isEvent()   {}
func (ConnectionClosed) isEvent()   {}
func (CredentialsUpdated) isEvent() {}
func (PairingCodeReady) isEvent()   {}
func (QRCodeIssued) isEvent()       {}
func (HistorySynced) isEvent()      {}
func (MessageReceived) isEvent()    {}
