package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/talkincode/wagateway/internal/gateway"
)

type collector struct {
	mu   sync.Mutex
	envs []Envelope
}

func (c *collector) handle(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
}

func (c *collector) all() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Envelope(nil), c.envs...)
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()
	c := &collector{}
	if err := bus.Subscribe(c.handle); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	statuses := []gateway.Status{gateway.StatusConnecting, gateway.StatusOpen, gateway.StatusReconnecting}
	for _, st := range statuses {
		bus.StatusChanged(gateway.Record{AccountID: "a", Status: st})
	}
	bus.Wait()

	got := c.all()
	if len(got) != len(statuses) {
		t.Fatalf("delivered %d envelopes, want %d", len(got), len(statuses))
	}
	for i, env := range got {
		if env.Type != TypeStatus || env.PhoneID != "a" || env.ID == "" {
			t.Errorf("envelope %d = %+v", i, env)
		}
		if env.Status == nil || env.Status.Status != statuses[i] {
			t.Errorf("envelope %d status = %+v, want %s", i, env.Status, statuses[i])
		}
	}
}

func TestBusMessages(t *testing.T) {
	bus := NewBus()
	c := &collector{}
	if err := bus.Subscribe(c.handle); err != nil {
		t.Fatal(err)
	}
	bus.MessageReceived("a", gateway.MessageReceived{ID: "m1", Text: "hi"})
	bus.Wait()

	got := c.all()
	if len(got) != 1 || got[0].Type != TypeMessage || got[0].Message == nil || got[0].Message.Text != "hi" {
		t.Fatalf("envelopes = %+v", got)
	}
	if got[0].Status != nil {
		t.Error("message envelope must not carry a status")
	}
}

func TestBusSubscriberPanicIsContained(t *testing.T) {
	bus := NewBus()
	c := &collector{}
	if err := bus.Subscribe(func(Envelope) { panic("boom") }); err != nil {
		t.Fatal(err)
	}
	if err := bus.Subscribe(c.handle); err != nil {
		t.Fatal(err)
	}
	bus.StatusChanged(gateway.Record{AccountID: "a", Status: gateway.StatusOpen})
	bus.Wait()
	if n := len(c.all()); n != 1 {
		t.Errorf("healthy subscriber got %d envelopes", n)
	}
}

type recorder struct {
	mu    sync.Mutex
	snaps []gateway.Snapshot
	err   error
	// gate, when set, holds every write until it is closed.
	gate chan struct{}
}

func (r *recorder) RecordStatus(_ context.Context, snap gateway.Snapshot) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return r.err
}

func TestRecordTo(t *testing.T) {
	r := &recorder{err: errors.New("db down")}
	sink := RecordTo(r)
	snap := gateway.Snapshot{PhoneID: "a", Status: gateway.StatusOpen}
	sink(Envelope{Type: TypeStatus, PhoneID: "a", Status: &snap})
	sink(Envelope{Type: TypeMessage, PhoneID: "a", Message: &gateway.MessageReceived{ID: "m1"}})

	if len(r.snaps) != 1 || r.snaps[0].Status != gateway.StatusOpen {
		t.Errorf("recorded = %+v", r.snaps)
	}
}

func (r *recorder) recorded() []gateway.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gateway.Snapshot(nil), r.snaps...)
}

func TestSlowRecorderDoesNotHoldUpPublishing(t *testing.T) {
	store := &recorder{gate: make(chan struct{})}
	rec := NewRecorder(store)
	bus := NewBus()
	if err := bus.Subscribe(rec.Handle); err != nil {
		t.Fatal(err)
	}

	statuses := []gateway.Status{
		gateway.StatusConnecting, gateway.StatusOpen, gateway.StatusReconnecting,
		gateway.StatusConnecting, gateway.StatusOpen,
	}
	published := make(chan struct{})
	go func() {
		for _, st := range statuses {
			bus.StatusChanged(gateway.Record{AccountID: "a", Status: st})
		}
		bus.MessageReceived("a", gateway.MessageReceived{ID: "m1"})
		close(published)
	}()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publishing blocked behind a stalled status store")
	}

	close(store.gate)
	bus.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := store.recorded()
	if len(got) != len(statuses) {
		t.Fatalf("recorded %d snapshots, want %d", len(got), len(statuses))
	}
	for i, snap := range got {
		if snap.Status != statuses[i] {
			t.Errorf("snapshot %d = %s, want %s", i, snap.Status, statuses[i])
		}
	}

	snap := gateway.Snapshot{PhoneID: "a", Status: gateway.StatusClosed}
	rec.Handle(Envelope{Type: TypeStatus, PhoneID: "a", Status: &snap})
	if n := len(store.recorded()); n != len(statuses) {
		t.Errorf("Handle() after Close recorded %d snapshots", n)
	}
}

func TestRecorderCloseHonoursDeadline(t *testing.T) {
	store := &recorder{gate: make(chan struct{})}
	defer close(store.gate)
	rec := NewRecorder(store)
	snap := gateway.Snapshot{PhoneID: "a", Status: gateway.StatusOpen}
	rec.Handle(Envelope{Type: TypeStatus, PhoneID: "a", Status: &snap})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rec.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() error = %v, want deadline exceeded", err)
	}
}
