package whatsapp

import (
	"sort"
	"sync"
	"time"

	"github.com/talkincode/wagateway/internal/gateway"
	"go.mau.fi/whatsmeow/types"
)

// SendResult is returned for every delivered message.
type SendResult struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

type ParticipantView struct {
	JID          string `json:"jid"`
	IsAdmin      bool   `json:"isAdmin"`
	IsSuperAdmin bool   `json:"isSuperAdmin"`
	Error        int    `json:"error,omitempty"`
}

type GroupView struct {
	ID           string            `json:"id"`
	Subject      string            `json:"subject"`
	Description  string            `json:"description,omitempty"`
	Owner        string            `json:"owner,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	Size         int               `json:"size"`
	Participants []ParticipantView `json:"participants"`
}

type ContactView struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	PushName     string `json:"pushName,omitempty"`
	BusinessName string `json:"businessName,omitempty"`
}

type ChatView struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	UnreadCount   int       `json:"unreadCount"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

func newParticipantViews(in []types.GroupParticipant) []ParticipantView {
	out := make([]ParticipantView, 0, len(in))
	for _, p := range in {
		out = append(out, ParticipantView{
			JID:          p.JID.String(),
			IsAdmin:      p.IsAdmin,
			IsSuperAdmin: p.IsSuperAdmin,
			Error:        p.Error,
		})
	}
	return out
}

func newGroupView(info *types.GroupInfo) GroupView {
	if info == nil {
		return GroupView{}
	}
	return GroupView{
		ID:           info.JID.String(),
		Subject:      info.Name,
		Description:  info.Topic,
		Owner:        info.OwnerJID.String(),
		CreatedAt:    info.GroupCreated,
		Size:         len(info.Participants),
		Participants: newParticipantViews(info.Participants),
	}
}

func newContactView(jid types.JID, info types.ContactInfo) ContactView {
	name := info.FullName
	if name == "" {
		name = info.FirstName
	}
	return ContactView{
		ID:           jid.String(),
		Name:         name,
		PushName:     info.PushName,
		BusinessName: info.BusinessName,
	}
}

func fromPrivacy(s types.PrivacySettings) gateway.PrivacySettings {
	return gateway.PrivacySettings{
		ReadReceipts: string(s.ReadReceipts),
		Profile:      string(s.Profile),
		Status:       string(s.Status),
		Online:       string(s.Online),
		LastSeen:     string(s.LastSeen),
		GroupAdd:     string(s.GroupAdd),
	}
}

// chatCache keeps the conversation list in memory only.
type chatCache struct {
	mu    sync.RWMutex
	chats map[string]ChatView
}

func newChatCache() *chatCache {
	return &chatCache{chats: make(map[string]ChatView)}
}

func (c *chatCache) put(chat ChatView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.chats[chat.ID]
	if ok {
		if chat.Name == "" {
			chat.Name = prev.Name
		}
		if chat.LastMessageAt.Before(prev.LastMessageAt) {
			chat.LastMessageAt = prev.LastMessageAt
		}
	}
	c.chats[chat.ID] = chat
}

// touch records activity on a chat without resetting its unread counter.
func (c *chatCache) touch(id string, at time.Time, incoming bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chat := c.chats[id]
	chat.ID = id
	if at.After(chat.LastMessageAt) {
		chat.LastMessageAt = at
	}
	if incoming {
		chat.UnreadCount++
	}
	c.chats[id] = chat
}

func (c *chatCache) list() []ChatView {
	c.mu.RLock()
	out := make([]ChatView, 0, len(c.chats))
	for _, chat := range c.chats {
		out = append(out, chat)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}
