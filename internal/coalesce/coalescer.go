// Package coalesce provides last-write-wins event coalescing per key.
package coalesce

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// slot is the single-slot buffer for one key.
type slot[V any] struct {
	payload V
	full    bool
	armed   bool
}

// Coalescer buffers the latest payload per key and flushes it once per
// window. At most one timer is pending per key: a payload arriving while the
// timer is armed replaces the buffered one without re-arming.
type Coalescer[K comparable, V any] struct {
	mu    sync.Mutex
	slots map[K]*slot[V]
	clock clockwork.Clock
	delay time.Duration
	flush func(K, V)
}

// New creates a Coalescer that calls flush with the latest payload for a key
// delay after the first unflushed payload for that key arrived.
func New[K comparable, V any](clock clockwork.Clock, delay time.Duration, flush func(K, V)) *Coalescer[K, V] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Coalescer[K, V]{
		slots: make(map[K]*slot[V]),
		clock: clock,
		delay: delay,
		flush: flush,
	}
}

// Submit stores payload for key, overwriting any unread payload. It returns
// true when this call armed a new timer and false when it was coalesced into
// one already pending.
func (c *Coalescer[K, V]) Submit(key K, payload V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[key]
	if !ok {
		s = &slot[V]{}
		c.slots[key] = s
	}

	s.payload = payload
	s.full = true

	if s.armed {
		return false
	}

	s.armed = true
	c.clock.AfterFunc(c.delay, func() { c.fire(key) })
	return true
}

// fire drains the slot for key and hands the payload to flush.
func (c *Coalescer[K, V]) fire(key K) {
	c.mu.Lock()
	s, ok := c.slots[key]
	if !ok || !s.full {
		if ok {
			s.armed = false
		}
		c.mu.Unlock()
		return
	}

	payload := s.payload
	delete(c.slots, key)
	c.mu.Unlock()

	c.invoke(key, payload)
}

// invoke runs flush on the timer goroutine. A panic is logged and the key
// stays usable for later payloads.
func (c *Coalescer[K, V]) invoke(key K, payload V) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("coalesce_flush_panic", "key", key, "panic", rec)
		}
	}()
	c.flush(key, payload)
}

// Pending reports whether key has a buffered payload awaiting its timer.
func (c *Coalescer[K, V]) Pending(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[key]
	return ok && s.full
}

// Len returns the number of keys with an armed timer.
func (c *Coalescer[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}
