// Package broadcast multicasts observability events to live subscribers.
//
// Delivery is lossy but signaled: each subscriber owns a bounded buffer,
// and when it falls behind the oldest undelivered events are dropped and
// counted. The subscriber learns about the gap through its drop counter
// and can re-fetch from the event store if it wants gap-free history.
// Producers never block.
package broadcast

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cnrmurphy/sentinel/internal/domain/entity"
)

// DefaultCapacity is the per-subscriber buffer size.
const DefaultCapacity = 100

// Broadcaster fans observability events out to all current subscribers.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[uint64]*Subscription
	nextID   uint64
	capacity int
	closed   bool
	logger   *zap.Logger

	latestSeq atomic.Int64
}

// Subscription is one subscriber's view of the broadcast channel.
type Subscription struct {
	id      uint64
	ch      chan *entity.ObservabilityEvent
	dropped atomic.Uint64
	owner   *Broadcaster
}

// New creates a broadcaster. capacity <= 0 selects DefaultCapacity.
func New(logger *zap.Logger, capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Broadcaster{
		subs:     make(map[uint64]*Subscription),
		capacity: capacity,
		logger:   logger.With(zap.String("component", "broadcaster")),
	}
}

// Publish delivers the event to every subscriber that has room, evicting
// the oldest undelivered event for any that lag. Publish never blocks;
// with zero subscribers it only advances the latest-seq watermark.
func (b *Broadcaster) Publish(event *entity.ObservabilityEvent) {
	b.advanceSeq(event.Seq)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
			continue
		default:
		}

		// Buffer full: evict the oldest, then retry once. A concurrent
		// producer may win the freed slot; the event counts as dropped
		// either way.
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
		default:
		}
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribe registers a new subscriber.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:    b.nextID,
		ch:    make(chan *entity.ObservabilityEvent, b.capacity),
		owner: b,
	}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub

	b.logger.Debug("Subscriber attached", zap.Uint64("subscriber", sub.id))
	return sub
}

// LatestSeq is the highest sequence number seen by this broadcaster.
func (b *Broadcaster) LatestSeq() int64 {
	return b.latestSeq.Load()
}

// Close detaches every subscriber and closes their channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
	b.logger.Info("Broadcaster closed")
}

// advanceSeq records seq as the latest if it moves forward. Events that
// missed storage carry seq 0 and never regress the watermark.
func (b *Broadcaster) advanceSeq(seq int64) {
	for {
		cur := b.latestSeq.Load()
		if seq <= cur || b.latestSeq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// Events is the subscriber's receive channel. It is closed when the
// subscription is closed or the broadcaster shuts down.
func (s *Subscription) Events() <-chan *entity.ObservabilityEvent {
	return s.ch
}

// TakeDropped returns the number of events dropped for this subscriber
// since the last call, resetting the counter.
func (s *Subscription) TakeDropped() uint64 {
	return s.dropped.Swap(0)
}

// Close detaches the subscription from the broadcaster.
func (s *Subscription) Close() {
	b := s.owner
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; !ok {
		return
	}
	delete(b.subs, s.id)
	close(s.ch)
}
