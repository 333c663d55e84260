package gateway

import "context"

// Credentials is the identity a device holds after linking.
type Credentials struct {
	JID          string `json:"jid"`
	PushName     string `json:"pushName,omitempty"`
	Platform     string `json:"platform,omitempty"`
	BusinessName string `json:"businessName,omitempty"`
}

// ParticipantAction is a group membership change.
type ParticipantAction string

const (
	ParticipantAdd    ParticipantAction = "add"
	ParticipantRemove ParticipantAction = "remove"
)

// PrivacySettings holds the account privacy values keyed by setting.
type PrivacySettings struct {
	ReadReceipts string `json:"readreceipts"`
	Profile      string `json:"profile"`
	Status       string `json:"status"`
	Online       string `json:"online"`
	LastSeen     string `json:"last"`
	GroupAdd     string `json:"groupadd"`
}

// Client is one live session with the messaging network.
//
// Implementations emit events in the order they occur on the channel
// returned by Events, and close that channel once Disconnect or Logout has
// completed. All methods must be safe for concurrent use.
type Client interface {
	Connect(ctx context.Context) error
	Events() <-chan Event
	Disconnect()
	Logout(ctx context.Context) error

	// PairPhone asks the network for a pairing code for phone.
	PairPhone(ctx context.Context, phone string) (string, error)
	RefreshContacts(ctx context.Context) error

	Send(ctx context.Context, to string, content Content) (any, error)

	CreateGroup(ctx context.Context, name string, participants []string) (any, error)
	UpdateGroupParticipants(ctx context.Context, group string, participants []string, action ParticipantAction) (any, error)
	SetGroupSubject(ctx context.Context, group, subject string) error
	SetGroupDescription(ctx context.Context, group, description string) error
	GroupInfo(ctx context.Context, group string) (any, error)
	JoinedGroups(ctx context.Context) (any, error)

	Contacts(ctx context.Context) (any, error)
	Chats(ctx context.Context) (any, error)
	PrivacySettings(ctx context.Context) (any, error)
	SetPrivacySettings(ctx context.Context, settings PrivacySettings) (any, error)
}

// ClientFactory builds a fresh session client bound to the stored
// credentials of accountID.
type ClientFactory interface {
	NewClient(ctx context.Context, accountID string) (Client, error)
}

// ClientFactoryFunc adapts a function to ClientFactory.
type ClientFactoryFunc func(ctx context.Context, accountID string) (Client, error)

func (f ClientFactoryFunc) NewClient(ctx context.Context, accountID string) (Client, error) {
	return f(ctx, accountID)
}

// CredentialStore persists identity changes outside the session store.
type CredentialStore interface {
	SaveCredentials(ctx context.Context, accountID string, creds Credentials) error
	InvalidateCredentials(ctx context.Context, accountID string) error
}

// Notifier receives state changes after they are committed to the registry.
// Implementations must not block.
type Notifier interface {
	StatusChanged(rec Record)
	MessageReceived(accountID string, msg MessageReceived)
}

type nopNotifier struct{}

func (nopNotifier) StatusChanged(Record)                   {}
func (nopNotifier) MessageReceived(string, MessageReceived) {}
