// Package gatewaytest provides in-memory session clients and a manual clock
// for exercising the gateway without a network.
package gatewaytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/talkincode/wagateway/internal/gateway"
)

// Call records one invocation on a Client.
type Call struct {
	Method string
	Args   []any
}

// Client is a scripted gateway.Client. Tests push events with Emit and
// inspect invocations with Calls.
type Client struct {
	AccountID string

	// ConnectErr is returned by Connect.
	ConnectErr error
	// SendErr is returned by Send and the group operations.
	SendErr error
	// PairingCode is returned by PairPhone.
	PairingCode string
	// PairErr is returned by PairPhone.
	PairErr error
	// LogoutErr is returned by Logout.
	LogoutErr error

	events chan gateway.Event
	mu     sync.Mutex
	calls  []Call
	closed bool
}

func NewClient(accountID string) *Client {
	return &Client{
		AccountID:   accountID,
		PairingCode: "ABCD-1234",
		events:      make(chan gateway.Event, 64),
	}
}

func (c *Client) record(method string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Method: method, Args: args})
}

// Calls returns the invocations of method, or all invocations when method is empty.
func (c *Client) Calls(method string) []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Call
	for _, call := range c.calls {
		if method == "" || call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

// Emit delivers evt to the listener. It is a no-op once the client closed.
func (c *Client) Emit(evt gateway.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- evt
}

// Closed reports whether Disconnect or Logout ran.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.record("Connect")
	return c.ConnectErr
}

func (c *Client) Events() <-chan gateway.Event { return c.events }

func (c *Client) Disconnect() {
	c.record("Disconnect")
	c.close()
}

func (c *Client) Logout(ctx context.Context) error {
	c.record("Logout")
	c.close()
	return c.LogoutErr
}

func (c *Client) PairPhone(ctx context.Context, phone string) (string, error) {
	c.record("PairPhone", phone)
	return c.PairingCode, c.PairErr
}

func (c *Client) RefreshContacts(ctx context.Context) error {
	c.record("RefreshContacts")
	return nil
}

func (c *Client) Send(ctx context.Context, to string, content gateway.Content) (any, error) {
	c.record("Send", to, content)
	if c.SendErr != nil {
		return nil, c.SendErr
	}
	return map[string]any{"id": fmt.Sprintf("MSG%d", len(c.Calls("Send"))), "to": to}, nil
}

func (c *Client) CreateGroup(ctx context.Context, name string, participants []string) (any, error) {
	c.record("CreateGroup", name, participants)
	if c.SendErr != nil {
		return nil, c.SendErr
	}
	return map[string]any{"id": "120363000000000000@g.us", "subject": name}, nil
}

func (c *Client) UpdateGroupParticipants(ctx context.Context, group string, participants []string, action gateway.ParticipantAction) (any, error) {
	c.record("UpdateGroupParticipants", group, participants, action)
	return participants, c.SendErr
}

func (c *Client) SetGroupSubject(ctx context.Context, group, subject string) error {
	c.record("SetGroupSubject", group, subject)
	return c.SendErr
}

func (c *Client) SetGroupDescription(ctx context.Context, group, description string) error {
	c.record("SetGroupDescription", group, description)
	return c.SendErr
}

func (c *Client) GroupInfo(ctx context.Context, group string) (any, error) {
	c.record("GroupInfo", group)
	return map[string]any{"id": group}, c.SendErr
}

func (c *Client) JoinedGroups(ctx context.Context) (any, error) {
	c.record("JoinedGroups")
	return []map[string]any{{"id": "120363000000000000@g.us"}}, c.SendErr
}

func (c *Client) Contacts(ctx context.Context) (any, error) {
	c.record("Contacts")
	return []map[string]any{{"id": "6281234567890@s.whatsapp.net"}}, nil
}

func (c *Client) Chats(ctx context.Context) (any, error) {
	c.record("Chats")
	return []map[string]any{}, nil
}

func (c *Client) PrivacySettings(ctx context.Context) (any, error) {
	c.record("PrivacySettings")
	return gateway.PrivacySettings{}, nil
}

func (c *Client) SetPrivacySettings(ctx context.Context, settings gateway.PrivacySettings) (any, error) {
	c.record("SetPrivacySettings", settings)
	return settings, c.SendErr
}

// Factory hands out a new Client per NewClient call and remembers them.
type Factory struct {
	// Err is returned by NewClient when set.
	Err error
	// Prepare runs on each client before it is returned.
	Prepare func(*Client)

	mu      sync.Mutex
	clients map[string][]*Client
}

func NewFactory() *Factory {
	return &Factory{clients: make(map[string][]*Client)}
}

func (f *Factory) NewClient(ctx context.Context, accountID string) (gateway.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	c := NewClient(accountID)
	if f.Prepare != nil {
		f.Prepare(c)
	}
	f.clients[accountID] = append(f.clients[accountID], c)
	return c, nil
}

// Clients returns every client created for accountID, oldest first.
func (f *Factory) Clients(accountID string) []*Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Client(nil), f.clients[accountID]...)
}

// Latest returns the newest client for accountID or nil.
func (f *Factory) Latest(accountID string) *Client {
	clients := f.Clients(accountID)
	if len(clients) == 0 {
		return nil
	}
	return clients[len(clients)-1]
}

type fakeTimer struct {
	clock   *Clock
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Clock is a manual gateway.Clock. Callbacks run synchronously inside Advance.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, f func()) gateway.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Pending counts timers that have neither fired nor been stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Advance moves time forward by d and runs every timer that came due.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.when.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].when.Before(due[j].when) })
	for _, t := range due {
		t.f()
	}
}
