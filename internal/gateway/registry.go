package gateway

import (
	"sort"
	"sync"
	"time"
)

type slot struct {
	mu      sync.Mutex
	rec     Record
	changed chan struct{}
}

// Registry is the single source of truth for connection records, keyed by
// account id. Each record is updated through a mutator that runs under the
// record's own lock, so transitions on one account are serialized while
// different accounts never contend.
type Registry struct {
	mu    sync.RWMutex
	slots map[string]*slot
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		slots: make(map[string]*slot),
		now:   time.Now,
	}
}

func (r *Registry) lookup(id string, create bool) *slot {
	r.mu.RLock()
	s, ok := r.slots[id]
	r.mu.RUnlock()
	if ok || !create {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.slots[id]; ok {
		return s
	}
	s = &slot{
		rec:     Record{AccountID: id, Status: StatusIdle, UpdatedAt: r.now()},
		changed: make(chan struct{}),
	}
	r.slots[id] = s
	return s
}

// Get returns a snapshot of the record for id.
func (r *Registry) Get(id string) (Record, bool) {
	s := r.lookup(id, false)
	if s == nil {
		return Record{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec, true
}

// watch returns the current record and a channel closed on its next change.
func (r *Registry) watch(id string) (Record, <-chan struct{}, bool) {
	s := r.lookup(id, false)
	if s == nil {
		return Record{}, nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec, s.changed, true
}

// Upsert applies mutate to a copy of the record for id, creating an idle
// record when none exists. A non-nil error from mutate leaves the stored
// record untouched and is returned as is. Records that end in a non-live
// status lose their session handle.
func (r *Registry) Upsert(id string, mutate func(rec *Record) error) (Record, error) {
	s := r.lookup(id, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.rec
	if err := mutate(&next); err != nil {
		return s.rec, err
	}
	next.AccountID = id
	if !next.Status.Live() {
		next.session = nil
	}
	next.UpdatedAt = r.now()
	s.rec = next

	close(s.changed)
	s.changed = make(chan struct{})
	return next, nil
}

// Remove moves the record to a terminal closed state and returns the session
// handle it owned. Records are kept so the last known state stays queryable.
func (r *Registry) Remove(id string) (Record, Client, bool) {
	s := r.lookup(id, false)
	if s == nil {
		return Record{}, nil, false
	}
	var handle Client
	rec, _ := r.Upsert(id, func(rec *Record) error {
		handle = rec.session
		rec.Status = StatusClosed
		rec.Pairing = Pairing{}
		rec.QRCode = ""
		return nil
	})
	return rec, handle, true
}

// List returns a snapshot of all records ordered by account id.
func (r *Registry) List() []Record {
	r.mu.RLock()
	slots := make([]*slot, 0, len(r.slots))
	for _, s := range r.slots {
		slots = append(slots, s)
	}
	r.mu.RUnlock()

	records := make([]Record, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		records = append(records, s.rec)
		s.mu.Unlock()
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].AccountID < records[j].AccountID
	})
	return records
}
