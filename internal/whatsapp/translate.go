package whatsapp

import (
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/gateway"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// translate maps a whatsmeow event to zero or more gateway events.
func (c *Client) translate(evt interface{}) []gateway.Event {
	switch e := evt.(type) {
	case *events.Connected:
		return []gateway.Event{
			gateway.CredentialsUpdated{Credentials: c.credentials()},
			gateway.ConnectionOpened{JID: c.selfJID()},
		}
	case *events.PairSuccess:
		creds := c.credentials()
		creds.JID = e.ID.String()
		if e.Platform != "" {
			creds.Platform = e.Platform
		}
		if e.BusinessName != "" {
			creds.BusinessName = e.BusinessName
		}
		return []gateway.Event{gateway.CredentialsUpdated{Credentials: creds}}
	case *events.PushNameSetting:
		creds := c.credentials()
		if name := e.Action.GetName(); name != "" {
			creds.PushName = name
		}
		return []gateway.Event{gateway.CredentialsUpdated{Credentials: creds}}
	case *events.QR:
		if len(e.Codes) == 0 {
			return nil
		}
		out := []gateway.Event{gateway.QRCodeIssued{Code: e.Codes[0]}}
		c.mu.Lock()
		first := !c.qrSeen
		c.qrSeen = true
		c.mu.Unlock()
		if first {
			out = append(out, gateway.PairingCodeReady{})
		}
		return out
	case *events.LoggedOut:
		return closed(gateway.ReasonLoggedOut, errors.Errorf("logged out: %s", e.Reason.String()))
	case *events.StreamReplaced:
		return closed(gateway.ReasonReplaced, errors.New("stream replaced by another connection"))
	case *events.Disconnected:
		return closed(gateway.ReasonConnectionLost, nil)
	case *events.ConnectFailure:
		return closed(gateway.ReasonConnectFailed, errors.Errorf("connect failure %d: %s", int(e.Reason), e.Message))
	case *events.TemporaryBan:
		return closed(gateway.ReasonBanned, errors.New(e.String()))
	case *events.ClientOutdated:
		return closed(gateway.ReasonOutdated, errors.New("client version outdated"))
	case *events.StreamError:
		return closed(gateway.ReasonStreamError, errors.Errorf("stream error %s", e.Code))
	case *events.KeepAliveTimeout:
		// Auto-reconnect is off, so the socket is not recovered for us.
		zap.L().Warn("whatsapp: keepalive timeout",
			zap.String("phone_id", c.accountID), zap.Int("errors", e.ErrorCount))
		return closed(gateway.ReasonConnectionLost,
			errors.Errorf("keepalive timeout after %d failures", e.ErrorCount))
	case *events.HistorySync:
		return []gateway.Event{c.absorbHistory(e)}
	case *events.Message:
		msg := newMessageReceived(e)
		c.chats.touch(msg.Chat, msg.Timestamp, !msg.FromMe)
		return []gateway.Event{msg}
	}
	return nil
}

func closed(reason gateway.CloseReason, err error) []gateway.Event {
	return []gateway.Event{gateway.ConnectionClosed{Reason: reason, Err: err}}
}

func (c *Client) absorbHistory(e *events.HistorySync) gateway.HistorySynced {
	data := e.Data
	summary := gateway.HistorySynced{Contacts: len(data.GetPushnames())}
	for _, conv := range data.GetConversations() {
		summary.Chats++
		summary.Messages += len(conv.GetMessages())
		c.chats.put(ChatView{
			ID:            conv.GetID(),
			Name:          conv.GetName(),
			UnreadCount:   int(conv.GetUnreadCount()),
			LastMessageAt: time.Unix(int64(conv.GetConversationTimestamp()), 0), //nolint:gosec // G115: unix seconds fit in int64
		})
	}
	return summary
}

func newMessageReceived(e *events.Message) gateway.MessageReceived {
	return gateway.MessageReceived{
		ID:        e.Info.ID,
		Chat:      e.Info.Chat.String(),
		Sender:    e.Info.Sender.String(),
		PushName:  e.Info.PushName,
		Text:      messageText(e.Message),
		Kind:      messageKind(e.Message),
		FromMe:    e.Info.IsFromMe,
		IsGroup:   e.Info.IsGroup || e.Info.Chat.Server == types.GroupServer,
		Timestamp: e.Info.Timestamp,
	}
}

func messageText(m *waE2E.Message) string {
	switch {
	case m.GetConversation() != "":
		return m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		return m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		return m.GetImageMessage().GetCaption()
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage().GetCaption()
	case m.GetDocumentMessage() != nil:
		return m.GetDocumentMessage().GetCaption()
	}
	return ""
}

func messageKind(m *waE2E.Message) string {
	switch {
	case m.GetConversation() != "", m.GetExtendedTextMessage() != nil:
		return "text"
	case m.GetImageMessage() != nil:
		return "image"
	case m.GetVideoMessage() != nil:
		return "video"
	case m.GetAudioMessage() != nil:
		return "audio"
	case m.GetDocumentMessage() != nil:
		return "document"
	case m.GetContactMessage() != nil, m.GetContactsArrayMessage() != nil:
		return "contact"
	case m.GetLocationMessage() != nil:
		return "location"
	case m.GetStickerMessage() != nil:
		return "sticker"
	}
	return "other"
}
