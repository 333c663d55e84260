package relay

import (
	"context"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"github.com/talkincode/wagateway/internal/gateway"
	"go.uber.org/zap"
)

const (
	TopicStatus  = "gateway:status"
	TopicMessage = "gateway:message"

	TypeStatus  = "status"
	TypeMessage = "message"

	recordTimeout = 10 * time.Second
)

// Envelope is the payload delivered to every event sink.
type Envelope struct {
	ID        string                   `json:"id"`
	Type      string                   `json:"type"`
	PhoneID   string                   `json:"phoneId"`
	Timestamp time.Time                `json:"timestamp"`
	Status    *gateway.Snapshot        `json:"status,omitempty"`
	Message   *gateway.MessageReceived `json:"message,omitempty"`
}

// Bus fans gateway notifications out to asynchronous subscribers. A
// subscriber sees the events of one topic in publish order; publishing waits
// for its previous delivery, so handlers must return quickly. Slow sinks such
// as the ledger sit behind their own queue (see Recorder).
type Bus struct {
	bus EventBus.Bus
	now func() time.Time
}

var _ gateway.Notifier = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{bus: EventBus.New(), now: time.Now}
}

func (b *Bus) StatusChanged(rec gateway.Record) {
	snap := rec.Snapshot()
	b.bus.Publish(TopicStatus, Envelope{
		ID:        uuid.NewString(),
		Type:      TypeStatus,
		PhoneID:   rec.AccountID,
		Timestamp: b.now(),
		Status:    &snap,
	})
}

func (b *Bus) MessageReceived(accountID string, msg gateway.MessageReceived) {
	b.bus.Publish(TopicMessage, Envelope{
		ID:        uuid.NewString(),
		Type:      TypeMessage,
		PhoneID:   accountID,
		Timestamp: b.now(),
		Message:   &msg,
	})
}

// Subscribe registers handler for both topics.
func (b *Bus) Subscribe(handler func(Envelope)) error {
	wrapped := func(env Envelope) {
		defer func() {
			if err := recover(); err != nil {
				zap.S().Error(err)
			}
		}()
		handler(env)
	}
	if err := b.bus.SubscribeAsync(TopicStatus, wrapped, true); err != nil {
		return err
	}
	return b.bus.SubscribeAsync(TopicMessage, wrapped, true)
}

// Wait blocks until queued deliveries have completed.
func (b *Bus) Wait() {
	b.bus.WaitAsync()
}

// StatusRecorder persists status snapshots.
type StatusRecorder interface {
	RecordStatus(ctx context.Context, snap gateway.Snapshot) error
}

// RecordTo returns a subscriber that mirrors status envelopes into r
// synchronously. Production wiring goes through a Recorder instead.
func RecordTo(r StatusRecorder) func(Envelope) {
	return func(env Envelope) {
		if env.Status == nil {
			return
		}
		record(r, *env.Status)
	}
}

func record(r StatusRecorder, snap gateway.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.RecordStatus(ctx, snap); err != nil {
		zap.L().Warn("relay: record status failed",
			zap.String("phone_id", snap.PhoneID), zap.Error(err))
	}
}

// Recorder writes status snapshots to a StatusRecorder from its own
// goroutine. Handle only queues, so a slow store never holds up the bus.
// Snapshots are written in the order they were handled.
type Recorder struct {
	store StatusRecorder

	mu      sync.Mutex
	queue   []gateway.Snapshot
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

func NewRecorder(store StatusRecorder) *Recorder {
	r := &Recorder{
		store:   store,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go r.loop()
	return r
}

// Handle queues the status of env. Message envelopes are ignored.
func (r *Recorder) Handle(env Envelope) {
	if env.Status == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.queue = append(r.queue, *env.Status)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Recorder) loop() {
	defer close(r.stopped)
	for {
		r.mu.Lock()
		batch := r.queue
		r.queue = nil
		closed := r.closed
		r.mu.Unlock()

		for _, snap := range batch {
			record(r.store, snap)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-r.wake
	}
}

// Close stops accepting snapshots and waits for the queued ones to be
// written, or for ctx to expire.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
	r.mu.Unlock()

	select {
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
