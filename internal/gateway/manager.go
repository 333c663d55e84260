package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultPairingWait    = 2 * time.Second

	connectTimeout      = 30 * time.Second
	pairingCodeTimeout  = 30 * time.Second
	credentialsTimeout  = 10 * time.Second
	contactRefreshLimit = 30 * time.Second
)

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	ReconnectDelay   time.Duration
	PairingWait      time.Duration
	LogoutOnShutdown bool
	Clock            Clock
	Credentials      CredentialStore
	Notifier         Notifier
}

type pendingReconnect struct {
	generation uint64
	timer      Timer
}

// Manager drives the connection lifecycle of every account: it creates
// session clients, consumes their events, keeps the registry current and
// schedules reconnects.
type Manager struct {
	registry *Registry
	factory  ClientFactory
	creds    CredentialStore
	notifier Notifier
	clock    Clock

	reconnectDelay   time.Duration
	pairingWait      time.Duration
	logoutOnShutdown bool

	timersMu sync.Mutex
	timers   map[string]pendingReconnect

	// lifecycle orders session installs against Shutdown. start holds it
	// shared from its closing check until the run goroutine is counted.
	lifecycle sync.RWMutex
	closing   atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewManager(factory ClientFactory, opts Options) *Manager {
	m := &Manager{
		registry:         NewRegistry(),
		factory:          factory,
		creds:            opts.Credentials,
		notifier:         opts.Notifier,
		clock:            opts.Clock,
		reconnectDelay:   opts.ReconnectDelay,
		pairingWait:      opts.PairingWait,
		logoutOnShutdown: opts.LogoutOnShutdown,
		timers:           make(map[string]pendingReconnect),
		done:             make(chan struct{}),
	}
	if m.clock == nil {
		m.clock = RealClock{}
	}
	if m.notifier == nil {
		m.notifier = nopNotifier{}
	}
	if m.reconnectDelay <= 0 {
		m.reconnectDelay = DefaultReconnectDelay
	}
	if m.pairingWait < 0 {
		m.pairingWait = DefaultPairingWait
	}
	m.registry.now = m.clock.Now
	return m
}

// Registry exposes the record store for read access.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Status returns the record for accountID.
func (m *Manager) Status(accountID string) (Record, bool) {
	return m.registry.Get(accountID)
}

// Accounts lists every known record.
func (m *Manager) Accounts() []Record {
	return m.registry.List()
}

// Connect starts a connection attempt for accountID, replacing any attempt
// already in progress. Linking falls back to QR codes when the account has
// no stored credentials.
func (m *Manager) Connect(ctx context.Context, phone, accountID string) (Record, error) {
	id, phone, err := normalizeTarget(phone, accountID)
	if err != nil {
		return Record{}, err
	}
	return m.start(ctx, id, phone, ModeQR, nil)
}

// RequestPairingCode starts a pairing-code attempt and waits briefly for the
// code. A pending attempt for the same phone number is reused, so repeated
// calls never trigger a second code request. The returned record carries the
// code when it arrived within the wait window.
func (m *Manager) RequestPairingCode(ctx context.Context, phone, accountID string) (Record, error) {
	id, phone, err := normalizeTarget(phone, accountID)
	if err != nil {
		return Record{}, err
	}

	rec, ok := m.registry.Get(id)
	if !ok || !pendingPairing(rec, phone) {
		rec, err = m.start(ctx, id, phone, ModePairingCode, nil)
		if err != nil {
			return Record{}, err
		}
	} else {
		zap.L().Info("gateway: reusing pending pairing attempt",
			zap.String("phone_id", id), zap.Uint64("generation", rec.Generation))
	}
	return m.awaitPairingCode(ctx, id, rec.Generation), nil
}

func normalizeTarget(phone, accountID string) (string, string, error) {
	id, err := NormalizeAccountID(accountID)
	if err != nil {
		return "", "", err
	}
	phone, err = NormalizePhoneNumber(phone)
	if err != nil {
		return "", "", err
	}
	return id, phone, nil
}

func pendingPairing(rec Record, phone string) bool {
	if !rec.HasSession() || !rec.Pairing.Requested || rec.PhoneNumber != phone {
		return false
	}
	return rec.Status == StatusConnecting || rec.Status == StatusReconnecting
}

func (m *Manager) awaitPairingCode(ctx context.Context, id string, gen uint64) Record {
	wait := time.NewTimer(m.pairingWait)
	defer wait.Stop()
	for {
		rec, changed, _ := m.registry.watch(id)
		if rec.Generation != gen || rec.Pairing.Delivered || !rec.Status.Live() || rec.Status == StatusOpen {
			return rec
		}
		select {
		case <-changed:
		case <-wait.C:
			return rec
		case <-ctx.Done():
			return rec
		}
	}
}

// start installs a new session client for id. When expect is set the
// attempt is a scheduled reconnect and only proceeds if the record is still
// reconnecting at that generation.
func (m *Manager) start(ctx context.Context, id, phone string, mode Mode, expect *uint64) (Record, error) {
	if m.closing.Load() {
		return Record{}, errors.WithMessage(ErrInternal, "gateway is shutting down")
	}

	client, err := m.factory.NewClient(ctx, id)
	if err != nil {
		return Record{}, errors.Wrapf(err, "create session client for %s", id)
	}

	m.lifecycle.RLock()
	if m.closing.Load() {
		m.lifecycle.RUnlock()
		client.Disconnect()
		return Record{}, errors.WithMessage(ErrInternal, "gateway is shutting down")
	}
	var previous Client
	rec, err := m.registry.Upsert(id, func(rec *Record) error {
		if expect != nil && (rec.Generation != *expect || rec.Status != StatusReconnecting) {
			return errStale
		}
		previous = rec.session

		pairing := Pairing{}
		if mode == ModePairingCode {
			if expect != nil {
				pairing = rec.Pairing
				pairing.inFlight = false
			} else {
				pairing.Requested = true
			}
		}
		rec.PhoneNumber = phone
		rec.Mode = mode
		rec.Status = StatusConnecting
		rec.Pairing = pairing
		rec.QRCode = ""
		rec.Generation++
		rec.session = client
		return nil
	})
	if err != nil {
		m.lifecycle.RUnlock()
		client.Disconnect()
		return rec, err
	}
	m.wg.Add(1)
	m.lifecycle.RUnlock()

	m.cancelReconnect(id)
	if previous != nil && previous != client {
		go previous.Disconnect()
	}

	zap.L().Info("gateway: connection attempt started",
		zap.String("phone_id", id),
		zap.String("mode", mode.String()),
		zap.Uint64("generation", rec.Generation))
	m.notifier.StatusChanged(rec)

	go m.run(id, rec.Generation, client)
	return rec, nil
}

// run connects the client and consumes its events in order until the client
// closes its event channel or the manager shuts down.
func (m *Manager) run(id string, gen uint64, client Client) {
	defer m.wg.Done()
	events := client.Events()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	err := client.Connect(ctx)
	cancel()
	if err != nil {
		m.handleEvent(id, gen, client, ConnectionClosed{Reason: ReasonConnectFailed, Err: err})
	}

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(id, gen, client, evt)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) handleEvent(id string, gen uint64, client Client, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("gateway: event handler panic",
				zap.String("phone_id", id),
				zap.String("event", fmt.Sprintf("%T", evt)),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	switch e := evt.(type) {
	case ConnectionOpened:
		m.onOpened(id, gen, client, e)
	case ConnectionClosed:
		m.onClosed(id, gen, client, e)
	case CredentialsUpdated:
		m.onCredentials(id, gen, e)
	case PairingCodeReady:
		m.onPairingReady(id, gen, client)
	case QRCodeIssued:
		m.update(id, gen, func(rec *Record) error {
			rec.QRCode = e.Code
			return nil
		})
	case HistorySynced:
		zap.L().Info("gateway: history synced",
			zap.String("phone_id", id),
			zap.Int("chats", e.Chats),
			zap.Int("contacts", e.Contacts),
			zap.Int("messages", e.Messages))
	case MessageReceived:
		if rec, ok := m.registry.Get(id); ok && rec.Generation == gen {
			m.notifier.MessageReceived(id, e)
		}
	default:
		zap.L().Warn("gateway: unhandled session event",
			zap.String("phone_id", id), zap.String("event", fmt.Sprintf("%T", evt)))
	}
}

// update applies mutate only while gen is the live generation of id.
func (m *Manager) update(id string, gen uint64, mutate func(rec *Record) error) (Record, bool) {
	rec, err := m.registry.Upsert(id, func(rec *Record) error {
		if rec.Generation != gen || !rec.Status.Live() {
			return errStale
		}
		return mutate(rec)
	})
	if err != nil {
		if errors.Is(err, errStale) {
			zap.L().Debug("gateway: ignoring event from superseded attempt",
				zap.String("phone_id", id), zap.Uint64("generation", gen))
		}
		return rec, false
	}
	m.notifier.StatusChanged(rec)
	return rec, true
}

func (m *Manager) onOpened(id string, gen uint64, client Client, e ConnectionOpened) {
	rec, ok := m.update(id, gen, func(rec *Record) error {
		rec.Status = StatusOpen
		rec.LastError = ""
		rec.Pairing = Pairing{}
		rec.QRCode = ""
		if e.JID != "" {
			rec.JID = e.JID
		}
		return nil
	})
	if !ok {
		return
	}
	zap.L().Info("gateway: connection opened",
		zap.String("phone_id", id), zap.String("jid", rec.JID))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), contactRefreshLimit)
		defer cancel()
		if err := client.RefreshContacts(ctx); err != nil {
			zap.L().Warn("gateway: contact refresh failed",
				zap.String("phone_id", id), zap.Error(err))
		}
	}()
}

func (m *Manager) onClosed(id string, gen uint64, client Client, e ConnectionClosed) {
	terminal := e.Reason.Terminal()
	rec, ok := m.update(id, gen, func(rec *Record) error {
		rec.LastError = e.describe()
		if terminal {
			rec.Status = StatusClosed
			rec.Pairing = Pairing{}
			rec.QRCode = ""
			return nil
		}
		if rec.Status == StatusReconnecting {
			return errSkip
		}
		rec.Status = StatusReconnecting
		return nil
	})
	if !ok {
		return
	}

	if terminal {
		zap.L().Warn("gateway: session logged out, not reconnecting",
			zap.String("phone_id", id), zap.String("reason", rec.LastError))
		m.cancelReconnect(id)
		client.Disconnect()
		m.invalidateCredentials(id)
		return
	}

	zap.L().Warn("gateway: connection closed, scheduling reconnect",
		zap.String("phone_id", id),
		zap.String("reason", string(e.Reason)),
		zap.Error(e.Err),
		zap.Duration("delay", m.reconnectDelay))
	m.scheduleReconnect(id, gen)
}

func (m *Manager) onCredentials(id string, gen uint64, e CredentialsUpdated) {
	rec, ok := m.registry.Get(id)
	if !ok || rec.Generation != gen {
		return
	}
	if e.Credentials.JID != "" && e.Credentials.JID != rec.JID {
		m.update(id, gen, func(rec *Record) error {
			rec.JID = e.Credentials.JID
			return nil
		})
	}
	if m.creds == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), credentialsTimeout)
	defer cancel()
	if err := m.creds.SaveCredentials(ctx, id, e.Credentials); err != nil {
		zap.L().Warn("gateway: save credentials failed",
			zap.String("phone_id", id), zap.Error(err))
	}
}

// onPairingReady requests the pairing code at most once per attempt.
func (m *Manager) onPairingReady(id string, gen uint64, client Client) {
	var phone string
	if _, ok := m.update(id, gen, func(rec *Record) error {
		p := rec.Pairing
		if !p.Requested || p.Delivered || p.inFlight || rec.Status == StatusOpen {
			return errSkip
		}
		rec.Pairing.inFlight = true
		phone = rec.PhoneNumber
		return nil
	}); !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), pairingCodeTimeout)
	code, err := client.PairPhone(ctx, phone)
	cancel()

	m.update(id, gen, func(rec *Record) error {
		rec.Pairing.inFlight = false
		if err != nil {
			rec.LastError = "pairing code request failed: " + err.Error()
			return nil
		}
		rec.Pairing.Code = code
		rec.Pairing.Delivered = true
		return nil
	})
	if err != nil {
		zap.L().Error("gateway: pairing code request failed",
			zap.String("phone_id", id), zap.Error(err))
		return
	}
	zap.L().Info("gateway: pairing code issued", zap.String("phone_id", id))
}

func (m *Manager) scheduleReconnect(id string, gen uint64) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if m.closing.Load() {
		return
	}
	if p, ok := m.timers[id]; ok {
		p.timer.Stop()
	}
	m.timers[id] = pendingReconnect{
		generation: gen,
		timer:      m.clock.AfterFunc(m.reconnectDelay, func() { m.reconnect(id, gen) }),
	}
}

func (m *Manager) cancelReconnect(id string) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if p, ok := m.timers[id]; ok {
		p.timer.Stop()
		delete(m.timers, id)
	}
}

func (m *Manager) reconnect(id string, gen uint64) {
	m.timersMu.Lock()
	if p, ok := m.timers[id]; ok && p.generation == gen {
		delete(m.timers, id)
	}
	m.timersMu.Unlock()
	if m.closing.Load() {
		return
	}

	rec, ok := m.registry.Get(id)
	if !ok || rec.Generation != gen || rec.Status != StatusReconnecting {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if _, err := m.start(ctx, id, rec.PhoneNumber, rec.Mode, &gen); err != nil {
		if errors.Is(err, errStale) || m.closing.Load() {
			return
		}
		zap.L().Error("gateway: reconnect failed, retrying",
			zap.String("phone_id", id), zap.Error(err))
		m.update(id, gen, func(rec *Record) error {
			rec.LastError = err.Error()
			return nil
		})
		m.scheduleReconnect(id, gen)
	}
}

func (m *Manager) invalidateCredentials(id string) {
	if m.creds == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), credentialsTimeout)
	defer cancel()
	if err := m.creds.InvalidateCredentials(ctx, id); err != nil {
		zap.L().Warn("gateway: invalidate credentials failed",
			zap.String("phone_id", id), zap.Error(err))
	}
}

// Logout unlinks the device of accountID and closes the record for good.
func (m *Manager) Logout(ctx context.Context, accountID string) (Record, error) {
	rec, client, err := m.detach(accountID)
	if err != nil {
		return rec, err
	}
	defer client.Disconnect()
	err = client.Logout(ctx)
	m.invalidateCredentials(rec.AccountID)
	if err != nil {
		return rec, &DispatchError{AccountID: rec.AccountID, Op: "logout", Err: err}
	}
	zap.L().Info("gateway: logged out", zap.String("phone_id", rec.AccountID))
	return rec, nil
}

// Disconnect closes the session of accountID and keeps its credentials, so
// a later Connect resumes without linking again.
func (m *Manager) Disconnect(accountID string) (Record, error) {
	rec, client, err := m.detach(accountID)
	if err != nil {
		return rec, err
	}
	client.Disconnect()
	zap.L().Info("gateway: disconnected", zap.String("phone_id", rec.AccountID))
	return rec, nil
}

func (m *Manager) detach(accountID string) (Record, Client, error) {
	id, err := NormalizeAccountID(accountID)
	if err != nil {
		return Record{}, nil, err
	}
	if rec, ok := m.registry.Get(id); !ok || !rec.HasSession() {
		return Record{}, nil, sessionNotFound(id)
	}
	m.cancelReconnect(id)
	rec, client, _ := m.registry.Remove(id)
	if client == nil {
		return rec, nil, sessionNotFound(id)
	}
	m.notifier.StatusChanged(rec)
	return rec, client, nil
}

// session returns the live handle of accountID.
func (m *Manager) session(accountID string, requireOpen bool) (string, Client, error) {
	id, err := NormalizeAccountID(accountID)
	if err != nil {
		return "", nil, err
	}
	rec, ok := m.registry.Get(id)
	if !ok || !rec.HasSession() {
		return id, nil, sessionNotFound(id)
	}
	if requireOpen && rec.Status != StatusOpen {
		return id, nil, &kindError{kind: ErrSessionNotFound, msg: fmt.Sprintf("session %q is %s", id, rec.Status)}
	}
	return id, rec.session, nil
}

// Shutdown stops reconnect timers and closes every live session, logging
// out instead when configured to. It returns once all sessions are closed
// or ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	// Holding lifecycle lets starts that already passed their closing check
	// finish installing before the registry snapshot below.
	m.lifecycle.Lock()
	first := m.closing.CompareAndSwap(false, true)
	m.lifecycle.Unlock()
	if !first {
		return nil
	}

	m.timersMu.Lock()
	for id, p := range m.timers {
		p.timer.Stop()
		delete(m.timers, id)
	}
	m.timersMu.Unlock()

	var (
		g        errgroup.Group
		failedMu sync.Mutex
		failed   []string
	)
	for _, rec := range m.registry.List() {
		if !rec.HasSession() {
			continue
		}
		g.Go(func() error {
			defer rec.session.Disconnect()
			if !m.logoutOnShutdown {
				return nil
			}
			if err := rec.session.Logout(ctx); err != nil {
				zap.L().Warn("gateway: logout on shutdown failed",
					zap.String("phone_id", rec.AccountID), zap.Error(err))
				failedMu.Lock()
				failed = append(failed, rec.AccountID)
				failedMu.Unlock()
				return err
			}
			return nil
		})
	}

	waited := make(chan error, 1)
	go func() { waited <- g.Wait() }()

	var err error
	select {
	case err = <-waited:
		if err != nil {
			failedMu.Lock()
			sort.Strings(failed)
			err = errors.Wrapf(err, "logout failed for %d session(s): %s", len(failed), strings.Join(failed, ", "))
			failedMu.Unlock()
			zap.L().Warn("gateway: shutdown finished with errors", zap.Error(err))
		}
	case <-ctx.Done():
		err = ctx.Err()
		zap.L().Warn("gateway: shutdown timed out, abandoning open sessions", zap.Error(err))
	}
	close(m.done)

	listeners := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(listeners)
	}()
	select {
	case <-listeners:
	case <-ctx.Done():
	}
	zap.L().Info("gateway: shutdown complete")
	return err
}
