package whatsapp

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/gateway"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/appstate"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
)

const eventBuffer = 1024

// Client adapts a whatsmeow client to gateway.Client.
type Client struct {
	accountID string
	cli       *whatsmeow.Client
	handlerID uint32

	mu     sync.Mutex
	events chan gateway.Event
	closed bool
	qrSeen bool

	// backlog holds lifecycle events that did not fit into events. It is
	// flushed in order by a single drain goroutine.
	backlog  []gateway.Event
	draining bool
	stop     chan struct{}

	chats *chatCache
}

var _ gateway.Client = (*Client)(nil)

func newClient(accountID string, cli *whatsmeow.Client) *Client {
	c := &Client{
		accountID: accountID,
		cli:       cli,
		events:    make(chan gateway.Event, eventBuffer),
		stop:      make(chan struct{}),
		chats:     newChatCache(),
	}
	if cli != nil {
		c.handlerID = cli.AddEventHandler(c.handle)
	}
	return c
}

func (c *Client) handle(evt interface{}) {
	for _, e := range c.translate(evt) {
		c.emit(e)
	}
}

// emit queues evt for the listener. Only inbound messages are shed under
// backpressure. Every other event is kept and delivered in order.
func (c *Client) emit(evt gateway.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if len(c.backlog) == 0 {
		select {
		case c.events <- evt:
			return
		default:
		}
	}
	if _, ok := evt.(gateway.MessageReceived); ok {
		zap.L().Warn("whatsapp: event buffer full, dropping message",
			zap.String("phone_id", c.accountID), zap.Any("event", evt))
		return
	}
	c.backlog = append(c.backlog, evt)
	if !c.draining {
		c.draining = true
		go c.drain()
	}
}

func (c *Client) drain() {
	for {
		c.mu.Lock()
		if c.closed || len(c.backlog) == 0 {
			c.draining = false
			if c.closed {
				close(c.events)
			}
			c.mu.Unlock()
			return
		}
		evt := c.backlog[0]
		c.mu.Unlock()

		select {
		case c.events <- evt:
			c.mu.Lock()
			c.backlog[0] = nil
			c.backlog = c.backlog[1:]
			c.mu.Unlock()
		case <-c.stop:
		}
	}
}

// closeEvents stops delivery. The events channel is closed here, or by the
// drain goroutine when one is still sending.
func (c *Client) closeEvents() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.stop)
	if !c.draining {
		close(c.events)
	}
}

func (c *Client) Events() <-chan gateway.Event {
	return c.events
}

// Connect opens the websocket. A device without stored credentials starts
// emitting QR codes once connected.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.cli.Connect(); err != nil {
		return errors.Wrap(err, "connect")
	}
	return nil
}

func (c *Client) Disconnect() {
	c.cli.RemoveEventHandler(c.handlerID)
	c.cli.Disconnect()
	c.closeEvents()
}

// Logout unlinks the device on the server and deletes its local keys.
func (c *Client) Logout(ctx context.Context) error {
	defer c.closeEvents()
	c.cli.RemoveEventHandler(c.handlerID)
	if c.cli.Store.ID == nil {
		c.cli.Disconnect()
		return nil
	}
	return c.cli.Logout(ctx)
}

func (c *Client) PairPhone(ctx context.Context, phone string) (string, error) {
	return c.cli.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
}

// RefreshContacts syncs the app state patch that carries contact names.
func (c *Client) RefreshContacts(ctx context.Context) error {
	return c.cli.FetchAppState(ctx, appstate.WAPatchCriticalUnblockLow, false, true)
}

func (c *Client) selfJID() string {
	if c.cli == nil || c.cli.Store == nil || c.cli.Store.ID == nil {
		return ""
	}
	return c.cli.Store.ID.String()
}

func (c *Client) credentials() gateway.Credentials {
	if c.cli == nil || c.cli.Store == nil {
		return gateway.Credentials{}
	}
	return gateway.Credentials{
		JID:          c.selfJID(),
		PushName:     c.cli.Store.PushName,
		Platform:     c.cli.Store.Platform,
		BusinessName: c.cli.Store.BusinessName,
	}
}

func parseJID(addr string) (types.JID, error) {
	jid, err := types.ParseJID(addr)
	if err != nil {
		return types.EmptyJID, errors.Wrapf(err, "parse address %q", addr)
	}
	return jid, nil
}

func parseJIDs(addrs []string) ([]types.JID, error) {
	out := make([]types.JID, 0, len(addrs))
	for _, a := range addrs {
		jid, err := parseJID(a)
		if err != nil {
			return nil, err
		}
		out = append(out, jid)
	}
	return out, nil
}

func (c *Client) Send(ctx context.Context, to string, content gateway.Content) (any, error) {
	jid, err := parseJID(to)
	if err != nil {
		return nil, err
	}
	msg, err := c.buildMessage(ctx, content)
	if err != nil {
		return nil, err
	}
	resp, err := c.cli.SendMessage(ctx, jid, msg)
	if err != nil {
		return nil, err
	}
	return SendResult{
		ID:        resp.ID,
		To:        jid.String(),
		Timestamp: resp.Timestamp,
	}, nil
}

func (c *Client) CreateGroup(ctx context.Context, name string, participants []string) (any, error) {
	jids, err := parseJIDs(participants)
	if err != nil {
		return nil, err
	}
	info, err := c.cli.CreateGroup(ctx, whatsmeow.ReqCreateGroup{Name: name, Participants: jids})
	if err != nil {
		return nil, err
	}
	return newGroupView(info), nil
}

func (c *Client) UpdateGroupParticipants(ctx context.Context, group string, participants []string, action gateway.ParticipantAction) (any, error) {
	gid, err := parseJID(group)
	if err != nil {
		return nil, err
	}
	jids, err := parseJIDs(participants)
	if err != nil {
		return nil, err
	}
	change := whatsmeow.ParticipantChangeAdd
	if action == gateway.ParticipantRemove {
		change = whatsmeow.ParticipantChangeRemove
	}
	res, err := c.cli.UpdateGroupParticipants(ctx, gid, jids, change)
	if err != nil {
		return nil, err
	}
	return newParticipantViews(res), nil
}

func (c *Client) SetGroupSubject(ctx context.Context, group, subject string) error {
	gid, err := parseJID(group)
	if err != nil {
		return err
	}
	return c.cli.SetGroupName(ctx, gid, subject)
}

func (c *Client) SetGroupDescription(ctx context.Context, group, description string) error {
	gid, err := parseJID(group)
	if err != nil {
		return err
	}
	return c.cli.SetGroupTopic(ctx, gid, "", "", description)
}

func (c *Client) GroupInfo(ctx context.Context, group string) (any, error) {
	gid, err := parseJID(group)
	if err != nil {
		return nil, err
	}
	info, err := c.cli.GetGroupInfo(ctx, gid)
	if err != nil {
		return nil, err
	}
	return newGroupView(info), nil
}

func (c *Client) JoinedGroups(ctx context.Context) (any, error) {
	groups, err := c.cli.GetJoinedGroups(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		views = append(views, newGroupView(g))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Subject < views[j].Subject })
	return views, nil
}

// Contacts lists the user contacts known to the device store.
func (c *Client) Contacts(ctx context.Context) (any, error) {
	all, err := c.cli.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ContactView, 0, len(all))
	for jid, info := range all {
		if jid.Server != types.DefaultUserServer {
			continue
		}
		out = append(out, newContactView(jid, info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Chats lists the conversations seen through history sync and live traffic
// since the client started.
func (c *Client) Chats(ctx context.Context) (any, error) {
	return c.chats.list(), nil
}

func (c *Client) PrivacySettings(ctx context.Context) (any, error) {
	settings, err := c.cli.TryFetchPrivacySettings(ctx, false)
	if err != nil {
		return nil, err
	}
	return fromPrivacy(*settings), nil
}

// SetPrivacySettings applies each setting in turn and returns the settings
// reported by the server after the last change.
func (c *Client) SetPrivacySettings(ctx context.Context, settings gateway.PrivacySettings) (any, error) {
	changes := []struct {
		name  types.PrivacySettingType
		value string
	}{
		{types.PrivacySettingTypeReadReceipts, settings.ReadReceipts},
		{types.PrivacySettingTypeProfile, settings.Profile},
		{types.PrivacySettingTypeStatus, settings.Status},
		{types.PrivacySettingTypeOnline, settings.Online},
		{types.PrivacySettingTypeLastSeen, settings.LastSeen},
		{types.PrivacySettingTypeGroupAdd, settings.GroupAdd},
	}
	var current types.PrivacySettings
	for _, ch := range changes {
		var err error
		current, err = c.cli.SetPrivacySetting(ctx, ch.name, types.PrivacySetting(ch.value))
		if err != nil {
			return nil, errors.Wrapf(err, "set privacy %s", ch.name)
		}
	}
	return fromPrivacy(current), nil
}
