// Package hub implements the process-wide broadcast channel that carries
// live progress updates from the engine to any number of subscribers.
//
// Publishing never blocks: each subscriber owns a bounded buffer and a
// slow subscriber loses the oldest buffered update instead of stalling the
// publisher. A subscriber that lost updates is flagged and is expected to
// resynchronize from the persisted job record.
package hub

import (
	"sync"

	"convertd/models"
)

const defaultCapacity = 100

// Hub fans progress updates out to all current subscriptions.
type Hub struct {
	mu       sync.Mutex
	subs     map[*Subscription]struct{}
	capacity int
	closed   bool
}

// Subscription receives updates published after Subscribe was called.
type Subscription struct {
	hub    *Hub
	ch     chan models.ProgressUpdate
	mu     sync.Mutex
	lagged bool
	closed bool
}

// New creates a hub whose subscribers buffer up to capacity updates each.
// A non-positive capacity falls back to the default of 100.
func New(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Hub{
		subs:     make(map[*Subscription]struct{}),
		capacity: capacity,
	}
}

// Publish delivers the update to every subscription. When a subscription's
// buffer is full the oldest buffered update is dropped and the subscription
// is marked as lagged.
func (h *Hub) Publish(update models.ProgressUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	for sub := range h.subs {
		sub.offer(update)
	}
}

// Subscribe registers a new subscription. It only observes updates emitted
// after this call; callers wanting the current state must read the job
// record first and replay it themselves.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		hub: h,
		ch:  make(chan models.ProgressUpdate, h.capacity),
	}

	h.mu.Lock()
	if !h.closed {
		h.subs[sub] = struct{}{}
	} else {
		close(sub.ch)
		sub.closed = true
	}
	h.mu.Unlock()

	return sub
}

// Close terminates all subscriptions. Publish becomes a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for sub := range h.subs {
		sub.mu.Lock()
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		sub.mu.Unlock()
		delete(h.subs, sub)
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *Subscription) offer(update models.ProgressUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.ch <- update:
		return
	default:
	}

	// Buffer full: drop the oldest update to make room and remember that
	// this subscriber missed data.
	select {
	case <-s.ch:
	default:
	}
	s.lagged = true

	select {
	case s.ch <- update:
	default:
	}
}

// Updates is the stream of broadcast updates. The channel is closed when
// the subscription or the hub is closed.
func (s *Subscription) Updates() <-chan models.ProgressUpdate {
	return s.ch
}

// Lagged reports whether updates were dropped since the last ClearLag.
// A lagged consumer should re-read the persisted job state instead of
// assuming the stream is gapless.
func (s *Subscription) Lagged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lagged
}

// ClearLag resets the lag flag after the consumer has resynchronized.
func (s *Subscription) ClearLag() {
	s.mu.Lock()
	s.lagged = false
	s.mu.Unlock()
}

// Close detaches the subscription from the hub and closes its channel.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s)
	s.hub.mu.Unlock()

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
}
