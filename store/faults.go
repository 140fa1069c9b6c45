package store

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hydrasense/volute/twin"
)

// DefaultFaultEvents bounds the fault event log unless configured.
const DefaultFaultEvents = 256

// FaultContext captures the onset of one fault episode: the state that
// began, when it began, and the full sample observed at that moment.
type FaultContext struct {
	FaultState    twin.FaultState `json:"fault_state"`
	StartTime     time.Time       `json:"fault_start_time"`
	StartSnapshot twin.Sample     `json:"fault_start_snapshot"`
}

// FaultTracker watches the stream of samples for fault-state transitions.
// It holds the active fault context (if any) and a bounded log of fault
// onsets, oldest evicted first.
type FaultTracker struct {
	mu       sync.Mutex
	prev     twin.FaultState
	active   *FaultContext
	events   []FaultContext
	capacity int
}

// NewFaultTracker bounds the event log at capacity (DefaultFaultEvents
// if <= 0).
func NewFaultTracker(capacity int) *FaultTracker {
	if capacity <= 0 {
		capacity = DefaultFaultEvents
	}
	return &FaultTracker{
		prev:     twin.Normal,
		events:   make([]FaultContext, 0, capacity),
		capacity: capacity,
	}
}

// OnSample observes one sample. A change away from Normal opens a fault
// context; a change between two fault states replaces it; a return to
// Normal clears it. Unchanged state is a no-op, so the context keeps the
// snapshot from the onset of the episode.
func (t *FaultTracker) OnSample(s twin.Sample) {
	t.mu.Lock()
	var from = t.prev
	var to = s.FaultState
	if to == from {
		t.mu.Unlock()
		return
	}
	t.prev = to

	if to == twin.Normal {
		t.active = nil
		t.mu.Unlock()
		log.WithField("from", string(from)).Info("fault cleared")
		return
	}

	var ctx = FaultContext{
		FaultState:    to,
		StartTime:     s.Timestamp,
		StartSnapshot: s,
	}
	t.active = &ctx
	t.record(ctx)
	t.mu.Unlock()

	faultTransitionsTotal.WithLabelValues(string(to)).Inc()
	log.WithFields(log.Fields{
		"from": string(from),
		"to":   string(to),
	}).Info("fault transition")
}

// record appends to the event log, evicting the oldest entry at capacity.
// Caller holds t.mu.
func (t *FaultTracker) record(ctx FaultContext) {
	if len(t.events) == t.capacity {
		copy(t.events, t.events[1:])
		t.events = t.events[:t.capacity-1]
	}
	t.events = append(t.events, ctx)
}

// Active returns the current fault context, if a fault is in progress.
func (t *FaultTracker) Active() (FaultContext, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return FaultContext{}, false
	}
	return *t.active, true
}

// Events returns a copy of the fault onset log, oldest first.
func (t *FaultTracker) Events() []FaultContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out = make([]FaultContext, len(t.events))
	copy(out, t.events)
	return out
}

// Reset clears the active context and primes the tracker to treat the
// next non-Normal sample as a fresh onset.
func (t *FaultTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prev = twin.Normal
	t.active = nil
}
