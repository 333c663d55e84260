package gateway

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Dispatcher validates outbound operations and routes them to the session of
// the addressed account. It never retries: a client failure is returned to
// the caller as a DispatchError.
type Dispatcher struct {
	manager     *Manager
	requireOpen bool
}

// NewDispatcher builds a dispatcher over m. With requireOpen set, sessions
// that are still connecting or reconnecting are treated as absent.
func NewDispatcher(m *Manager, requireOpen bool) *Dispatcher {
	return &Dispatcher{manager: m, requireOpen: requireOpen}
}

func (d *Dispatcher) call(ctx context.Context, accountID, op string, fn func(ctx context.Context, c Client) (any, error)) (any, error) {
	id, client, err := d.manager.session(accountID, d.requireOpen)
	if err != nil {
		return nil, err
	}
	res, err := fn(ctx, client)
	if err != nil {
		zap.L().Warn("gateway: dispatch failed",
			zap.String("phone_id", id), zap.String("op", op), zap.Error(err))
		return nil, &DispatchError{AccountID: id, Op: op, Err: err}
	}
	return res, nil
}

// Send delivers content to a user or group address. Bare phone numbers are
// qualified with the user server.
func (d *Dispatcher) Send(ctx context.Context, accountID, to string, content Content) (any, error) {
	if content == nil {
		return nil, invalidArgument("message content is required")
	}
	if strings.TrimSpace(to) == "" {
		return nil, invalidArgument("number is required")
	}
	if err := content.Validate(); err != nil {
		return nil, err
	}
	addr, err := NormalizeAddress(to)
	if err != nil {
		return nil, err
	}
	return d.call(ctx, accountID, "send "+content.Kind(), func(ctx context.Context, c Client) (any, error) {
		return c.Send(ctx, addr, content)
	})
}

func normalizeParticipants(participants []string) ([]string, error) {
	if len(participants) == 0 {
		return nil, invalidArgument("participants must be a non-empty array")
	}
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		addr, err := NormalizeAddress(p)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func (d *Dispatcher) CreateGroup(ctx context.Context, accountID, name string, participants []string) (any, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalidArgument("groupName is required")
	}
	members, err := normalizeParticipants(participants)
	if err != nil {
		return nil, err
	}
	return d.call(ctx, accountID, "create group", func(ctx context.Context, c Client) (any, error) {
		return c.CreateGroup(ctx, name, members)
	})
}

// UpdateParticipants adds or removes members of a group.
func (d *Dispatcher) UpdateParticipants(ctx context.Context, accountID, group string, participants []string, action ParticipantAction) (any, error) {
	if action != ParticipantAdd && action != ParticipantRemove {
		return nil, invalidArgument("unknown participant action %q", action)
	}
	gid, err := NormalizeGroupAddress(group)
	if err != nil {
		return nil, err
	}
	members, err := normalizeParticipants(participants)
	if err != nil {
		return nil, err
	}
	return d.call(ctx, accountID, string(action)+" participants", func(ctx context.Context, c Client) (any, error) {
		return c.UpdateGroupParticipants(ctx, gid, members, action)
	})
}

func (d *Dispatcher) SetGroupSubject(ctx context.Context, accountID, group, subject string) error {
	gid, err := NormalizeGroupAddress(group)
	if err != nil {
		return err
	}
	if strings.TrimSpace(subject) == "" {
		return invalidArgument("subject is required")
	}
	_, err = d.call(ctx, accountID, "set group subject", func(ctx context.Context, c Client) (any, error) {
		return nil, c.SetGroupSubject(ctx, gid, subject)
	})
	return err
}

// SetGroupDescription updates the group topic. An empty description clears it.
func (d *Dispatcher) SetGroupDescription(ctx context.Context, accountID, group, description string) error {
	gid, err := NormalizeGroupAddress(group)
	if err != nil {
		return err
	}
	_, err = d.call(ctx, accountID, "set group description", func(ctx context.Context, c Client) (any, error) {
		return nil, c.SetGroupDescription(ctx, gid, description)
	})
	return err
}

func (d *Dispatcher) GroupInfo(ctx context.Context, accountID, group string) (any, error) {
	gid, err := NormalizeGroupAddress(group)
	if err != nil {
		return nil, err
	}
	return d.call(ctx, accountID, "group info", func(ctx context.Context, c Client) (any, error) {
		return c.GroupInfo(ctx, gid)
	})
}

func (d *Dispatcher) Groups(ctx context.Context, accountID string) (any, error) {
	return d.call(ctx, accountID, "list groups", func(ctx context.Context, c Client) (any, error) {
		return c.JoinedGroups(ctx)
	})
}

func (d *Dispatcher) Contacts(ctx context.Context, accountID string) (any, error) {
	return d.call(ctx, accountID, "list contacts", func(ctx context.Context, c Client) (any, error) {
		return c.Contacts(ctx)
	})
}

func (d *Dispatcher) Chats(ctx context.Context, accountID string) (any, error) {
	return d.call(ctx, accountID, "list chats", func(ctx context.Context, c Client) (any, error) {
		return c.Chats(ctx)
	})
}

func (d *Dispatcher) PrivacySettings(ctx context.Context, accountID string) (any, error) {
	return d.call(ctx, accountID, "get privacy settings", func(ctx context.Context, c Client) (any, error) {
		return c.PrivacySettings(ctx)
	})
}

// UpdatePrivacySettings applies every setting, defaulting unset ones to "all".
func (d *Dispatcher) UpdatePrivacySettings(ctx context.Context, accountID string, settings PrivacySettings) (any, error) {
	settings, err := settings.Normalize()
	if err != nil {
		return nil, err
	}
	return d.call(ctx, accountID, "update privacy settings", func(ctx context.Context, c Client) (any, error) {
		return c.SetPrivacySettings(ctx, settings)
	})
}
