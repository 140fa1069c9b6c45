// Package store keeps the live state of the monitored asset: the latest
// sample, a bounded rolling history, the fan-out to stream subscribers,
// and the fault-lifecycle tracker.
package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hydrasense/volute/twin"
)

// ErrNoData reports that nothing has been ingested yet.
var ErrNoData = errors.New("no telemetry ingested yet")

// DefaultHistory is the rolling-history capacity unless configured.
const DefaultHistory = 60

// subscriberQueueDepth bounds each subscriber's delivery queue. A full
// queue sheds that subscriber's oldest sample; ingest never blocks.
const subscriberQueueDepth = 16

// Store owns the latest Sample and the rolling history, and delivers every
// ingested sample to each subscriber in ingest order.
type Store struct {
	mu        sync.Mutex
	latest    twin.Sample
	hasLatest bool

	ring  []twin.Sample
	start int
	count int

	subs map[*Subscription]struct{}
}

// NewStore sizes the rolling history at capacity (DefaultHistory if <= 0).
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &Store{
		ring: make([]twin.Sample, capacity),
		subs: make(map[*Subscription]struct{}),
	}
}

// Ingest replaces the latest sample, appends to the rolling history
// (evicting the oldest at capacity), and enqueues the sample to every
// subscriber. The whole update is one critical section, so any two
// ingests are observed by all readers and subscribers in the same order.
func (s *Store) Ingest(sample twin.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = sample
	s.hasLatest = true

	if s.count < len(s.ring) {
		s.ring[(s.start+s.count)%len(s.ring)] = sample
		s.count++
	} else {
		s.ring[s.start] = sample
		s.start = (s.start + 1) % len(s.ring)
	}

	for sub := range s.subs {
		sub.enqueue(sample)
	}
	ingestedTotal.Inc()
}

// Latest returns the most recent sample, if any has been ingested.
func (s *Store) Latest() (twin.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasLatest
}

// History returns a copy of the rolling window, oldest first.
func (s *Store) History() []twin.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out = make([]twin.Sample, s.count)
	for i := 0; i < s.count; i++ {
		out[i] = s.ring[(s.start+i)%len(s.ring)]
	}
	return out
}

// HistoryLen returns the current rolling-window size.
func (s *Store) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Subscribe registers a new stream subscriber. The caller must drain
// Subscription.C and Close it when done.
func (s *Store) Subscribe() *Subscription {
	var sub = &Subscription{
		ch:    make(chan twin.Sample, subscriberQueueDepth),
		store: s,
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	subscribersGauge.Set(float64(len(s.subs)))
	s.mu.Unlock()
	return sub
}

// WatchStaleness periodically measures the age of the latest sample,
// exporting it as a gauge and logging transitions across the threshold.
// It returns when ctx is done.
func (s *Store) WatchStaleness(ctx context.Context, interval, threshold time.Duration) {
	var ticker = time.NewTicker(interval)
	defer ticker.Stop()

	var wasStale bool
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			var latest, ok = s.Latest()
			if !ok {
				continue
			}
			var age = now.Sub(latest.Timestamp)
			stalenessGauge.Set(age.Seconds())

			var stale = age > threshold
			if stale && !wasStale {
				log.WithFields(log.Fields{
					"age":       age.String(),
					"threshold": threshold.String(),
				}).Warn("telemetry stream went stale")
			} else if !stale && wasStale {
				log.Info("telemetry stream recovered")
			}
			wasStale = stale
		}
	}
}

// Subscription delivers ingested samples to one consumer. Delivery order
// matches ingest order; when the queue is full the oldest queued sample
// for this subscriber alone is shed and counted.
type Subscription struct {
	ch     chan twin.Sample
	store  *Store
	drops  atomic.Uint64
	closed bool
}

// C is the delivery channel. It is closed by Close.
func (sub *Subscription) C() <-chan twin.Sample { return sub.ch }

// Drops reports how many samples this subscriber has shed under
// backpressure.
func (sub *Subscription) Drops() uint64 { return sub.drops.Load() }

// Close unregisters the subscription and closes its channel.
func (sub *Subscription) Close() {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	delete(sub.store.subs, sub)
	subscribersGauge.Set(float64(len(sub.store.subs)))
	close(sub.ch)
}

// enqueue is called with the store lock held, making it the sole sender.
func (sub *Subscription) enqueue(sample twin.Sample) {
	select {
	case sub.ch <- sample:
		return
	default:
	}
	// Queue is full: shed this subscriber's oldest and retry once. The
	// consumer may have drained concurrently, in which case the retry
	// simply succeeds without shedding.
	select {
	case <-sub.ch:
		sub.drops.Add(1)
		subscriberDropsTotal.Inc()
	default:
	}
	select {
	case sub.ch <- sample:
	default:
		sub.drops.Add(1)
		subscriberDropsTotal.Inc()
	}
}
