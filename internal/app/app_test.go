package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/gateway"
)

func newTestApp(t *testing.T) *Application {
	t.Helper()
	cfg := *config.DefaultAppConfig
	cfg.System.Workdir = t.TempDir()
	cfg.Logger.FileEnable = false
	cfg.Gateway.AuthDir = ""
	a := NewApplication(&cfg)
	if err := a.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(a.Release)
	return a
}

type forgetter struct {
	mu  sync.Mutex
	ids []string
}

func (f *forgetter) Forget(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return nil
}

func TestAccountStoreCredentials(t *testing.T) {
	a := newTestApp(t)
	sessions := &forgetter{}
	store := a.Accounts().WithSessions(sessions)
	ctx := context.Background()

	creds := gateway.Credentials{JID: "6281234567890:3@s.whatsapp.net", PushName: "Sales", Platform: "android"}
	if err := store.SaveCredentials(ctx, "sales", creds); err != nil {
		t.Fatalf("SaveCredentials() error = %v", err)
	}
	acc, err := store.Get(ctx, "sales")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !acc.Linked || acc.Jid != creds.JID || acc.PushName != "Sales" || acc.ID == 0 {
		t.Errorf("account = %+v", acc)
	}

	// a second save updates the same row
	if err := store.SaveCredentials(ctx, "sales", gateway.Credentials{PushName: "Sales Team"}); err != nil {
		t.Fatal(err)
	}
	again, _ := store.Get(ctx, "sales")
	if again.ID != acc.ID || again.PushName != "Sales Team" || again.Jid != creds.JID {
		t.Errorf("account after update = %+v", again)
	}

	restorable, err := store.Restorable(ctx)
	if err != nil || len(restorable) != 1 {
		t.Fatalf("Restorable() = %v, %v", restorable, err)
	}

	if err := store.InvalidateCredentials(ctx, "sales"); err != nil {
		t.Fatalf("InvalidateCredentials() error = %v", err)
	}
	cleared, _ := store.Get(ctx, "sales")
	if cleared.Linked || cleared.Jid != "" {
		t.Errorf("account after invalidate = %+v", cleared)
	}
	if len(sessions.ids) != 1 || sessions.ids[0] != "sales" {
		t.Errorf("forgotten sessions = %v", sessions.ids)
	}
	if restorable, _ := store.Restorable(ctx); len(restorable) != 0 {
		t.Errorf("Restorable() after invalidate = %v", restorable)
	}
}

func TestRecordStatus(t *testing.T) {
	a := newTestApp(t)
	store := a.Accounts()
	ctx := context.Background()
	now := time.Now()

	snap := gateway.Snapshot{PhoneID: "a", Status: gateway.StatusConnecting, Mode: "qr", PhoneNumber: "6281234567890", UpdatedAt: now}
	if err := store.RecordStatus(ctx, snap); err != nil {
		t.Fatalf("RecordStatus() error = %v", err)
	}
	// unchanged status adds no event row
	snap.QRCode = "2@abc"
	if err := store.RecordStatus(ctx, snap); err != nil {
		t.Fatal(err)
	}
	snap.Status = gateway.StatusOpen
	snap.Connected = true
	snap.User = "6281234567890:3@s.whatsapp.net"
	if err := store.RecordStatus(ctx, snap); err != nil {
		t.Fatal(err)
	}

	acc, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if acc.Status != "open" || acc.OpenedAt == nil || acc.Jid != snap.User || acc.PhoneNumber != "6281234567890" {
		t.Errorf("account = %+v", acc)
	}
	logs, err := store.EventLogs(ctx, "a", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("event logs = %d, want 2", len(logs))
	}
}

func TestPurgeEventLogs(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	old := domain.WhatsAppEventLog{ID: 1, PhoneId: "a", Status: "open", EventTime: time.Now().Add(-40 * 24 * time.Hour)}
	fresh := domain.WhatsAppEventLog{ID: 2, PhoneId: "a", Status: "closed", EventTime: time.Now()}
	if err := a.DB().Create(&old).Error; err != nil {
		t.Fatal(err)
	}
	if err := a.DB().Create(&fresh).Error; err != nil {
		t.Fatal(err)
	}

	n, err := a.Accounts().PurgeEventLogs(ctx, time.Now().Add(-eventLogRetention))
	if err != nil || n != 1 {
		t.Fatalf("PurgeEventLogs() = %d, %v", n, err)
	}
	logs, _ := a.Accounts().EventLogs(ctx, "a", 10)
	if len(logs) != 1 || logs[0].ID != 2 {
		t.Errorf("remaining logs = %+v", logs)
	}
}

type connector struct {
	mu    sync.Mutex
	calls map[string]string
	fail  string
}

func (c *connector) Connect(_ context.Context, phone, id string) (gateway.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == c.fail {
		return gateway.Record{}, errors.New("boom")
	}
	if c.calls == nil {
		c.calls = make(map[string]string)
	}
	c.calls[id] = phone
	return gateway.Record{AccountID: id}, nil
}

func TestRestoreSessions(t *testing.T) {
	a := newTestApp(t)
	a.Config().Gateway.DefaultPhone = "6280000000000"
	ctx := context.Background()
	store := a.Accounts()
	linked := map[string]string{
		"a":      "6281111111111:2@s.whatsapp.net",
		"b":      "6282222222222:7@s.whatsapp.net",
		"broken": "6283333333333@s.whatsapp.net",
	}
	for id, jid := range linked {
		if err := store.SaveCredentials(ctx, id, gateway.Credentials{JID: jid}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.RecordStatus(ctx, gateway.Snapshot{PhoneID: "a", Status: gateway.StatusOpen, PhoneNumber: "6281111111111"}); err != nil {
		t.Fatal(err)
	}
	// unlinked accounts stay down
	if err := store.RecordStatus(ctx, gateway.Snapshot{PhoneID: "c", Status: gateway.StatusClosed}); err != nil {
		t.Fatal(err)
	}

	conn := &connector{fail: "broken"}
	started, err := a.RestoreSessions(ctx, conn)
	if err != nil {
		t.Fatalf("RestoreSessions() error = %v", err)
	}
	if started != 3 {
		t.Errorf("started = %d, want 3", started)
	}
	ids := make([]string, 0, len(conn.calls))
	for id := range conn.calls {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != gateway.DefaultAccountID {
		t.Errorf("restored = %v", ids)
	}
	if conn.calls["a"] != "6281111111111" || conn.calls["b"] != "6282222222222" || conn.calls[gateway.DefaultAccountID] != "6280000000000" {
		t.Errorf("phones = %v", conn.calls)
	}
}

type statsSource []gateway.Record

func (s statsSource) Accounts() []gateway.Record { return s }

func TestGatewayStatsTask(t *testing.T) {
	a := newTestApp(t)
	records := statsSource{
		{AccountID: "a", Status: gateway.StatusOpen},
		{AccountID: "b", Status: gateway.StatusOpen},
		{AccountID: "c", Status: gateway.StatusReconnecting},
	}
	counts := StatusCounts(records)
	if counts[gateway.StatusOpen] != 2 || counts[gateway.StatusReconnecting] != 1 || counts[gateway.StatusClosed] != 0 {
		t.Errorf("StatusCounts() = %v", counts)
	}

	// runs with and without an attached registry
	a.SchedGatewayStatsTask()
	a.AttachGateway(records)
	a.SchedGatewayStatsTask()
	a.SchedClearExpireData()

	acc, err := a.Accounts().Get(context.Background(), "c")
	if err != nil {
		t.Fatalf("stats task did not sync the ledger: %v", err)
	}
	if acc.Status != string(gateway.StatusReconnecting) {
		t.Errorf("ledger status = %q", acc.Status)
	}
}
