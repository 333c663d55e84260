package domain

import "time"

// WhatsAppAccount is the persisted ledger entry of one managed account. The
// device keys themselves live in the per-account session store.
type WhatsAppAccount struct {
	ID          int64      `json:"id,string" gorm:"primaryKey"`
	PhoneId     string     `json:"phone_id" gorm:"uniqueIndex;size:64"`
	PhoneNumber string     `json:"phone_number" gorm:"size:32"`
	Jid         string     `json:"jid"`
	PushName    string     `json:"push_name"`
	Platform    string     `json:"platform"`
	Mode        string     `json:"mode"`
	Status      string     `json:"status" gorm:"index"`
	LastError   string     `json:"last_error"`
	Linked      bool       `json:"linked"`
	OpenedAt    *time.Time `json:"opened_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName Specify table name
func (WhatsAppAccount) TableName() string {
	return "wa_account"
}

// WhatsAppEventLog records lifecycle transitions for auditing.
type WhatsAppEventLog struct {
	ID        int64     `json:"id,string"`
	PhoneId   string    `json:"phone_id" gorm:"index"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail"`
	EventTime time.Time `json:"event_time" gorm:"index"`
}

// TableName Specify table name
func (WhatsAppEventLog) TableName() string {
	return "wa_event_log"
}
