package gateway

import "time"

// Status is the lifecycle state of a managed connection.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusOpen         Status = "open"
	StatusClosed       Status = "closed"
	StatusReconnecting Status = "reconnecting"
)

// Live reports whether a record in this state may own a session handle.
func (s Status) Live() bool {
	switch s {
	case StatusConnecting, StatusOpen, StatusReconnecting:
		return true
	}
	return false
}

// Mode selects how a connection attempt authenticates when no stored
// credentials exist.
type Mode int

const (
	// ModeQR links the device by scanning a QR code.
	ModeQR Mode = iota
	// ModePairingCode links the device by entering a numeric pairing code.
	ModePairingCode
)

func (m Mode) String() string {
	if m == ModePairingCode {
		return "pairing_code"
	}
	return "qr"
}

// Pairing tracks the pairing-code sub-state of a connection attempt.
// The zero value means no pairing code was asked for.
type Pairing struct {
	Requested bool
	Code      string
	Delivered bool

	inFlight bool
}

// Record is the registry's view of one account. Records handed out by the
// registry are copies and never change after they are returned.
type Record struct {
	AccountID   string
	PhoneNumber string
	Status      Status
	Mode        Mode
	Pairing     Pairing
	QRCode      string
	JID         string
	LastError   string
	Generation  uint64
	UpdatedAt   time.Time

	session Client
}

// HasSession reports whether the record currently owns a session handle.
func (r Record) HasSession() bool {
	return r.session != nil
}

// Connected is true only when the connection is open.
func (r Record) Connected() bool {
	return r.Status == StatusOpen
}

// Snapshot is the externally visible form of a record.
type Snapshot struct {
	PhoneID              string    `json:"phoneId"`
	Status               Status    `json:"status"`
	Connected            bool      `json:"connected"`
	Connecting           bool      `json:"connecting"`
	Reconnecting         bool      `json:"reconnecting"`
	PhoneNumber          string    `json:"phoneNumber,omitempty"`
	Mode                 string    `json:"mode"`
	PairingCode          string    `json:"pairingCode,omitempty"`
	PairingCodeRequested bool      `json:"pairingCodeRequested"`
	PairingCodeSent      bool      `json:"pairingCodeSent"`
	QRCode               string    `json:"qrCode,omitempty"`
	User                 string    `json:"user,omitempty"`
	LastError            string    `json:"lastError,omitempty"`
	Generation           uint64    `json:"generation"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

func (r Record) Snapshot() Snapshot {
	return Snapshot{
		PhoneID:              r.AccountID,
		Status:               r.Status,
		Connected:            r.Status == StatusOpen,
		Connecting:           r.Status == StatusConnecting,
		Reconnecting:         r.Status == StatusReconnecting,
		PhoneNumber:          r.PhoneNumber,
		Mode:                 r.Mode.String(),
		PairingCode:          r.Pairing.Code,
		PairingCodeRequested: r.Pairing.Requested,
		PairingCodeSent:      r.Pairing.Delivered,
		QRCode:               r.QRCode,
		User:                 r.JID,
		LastError:            r.LastError,
		Generation:           r.Generation,
		UpdatedAt:            r.UpdatedAt,
	}
}
