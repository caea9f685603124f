// Package ring provides a bounded, thread-safe, drop-oldest ring buffer.
//
// The ring is built for event fan-out paths that must never block the
// producer: Push always succeeds, evicting the oldest buffered item when the
// ring is full and counting the eviction. Consumers either poll Pop or wait
// on Notify for new items. Statistics are always collected.
package ring

import (
	"sync"
	"sync/atomic"
)

// DropCallback is called with each item evicted by an overflowing Push.
// It runs outside the ring lock.
type DropCallback[T any] func(item T)

// Option configures a Ring using the functional options pattern.
type Option[T any] func(*Ring[T])

// WithDropCallback sets a callback invoked for every evicted item.
func WithDropCallback[T any](cb DropCallback[T]) Option[T] {
	return func(r *Ring[T]) {
		r.dropCallback = cb
	}
}

// Ring is a fixed-capacity FIFO buffer that drops the oldest item on
// overflow. All methods are safe for concurrent use.
type Ring[T any] struct {
	mu        sync.Mutex
	items     []T
	capacity  int
	size      int
	head      int // next write position
	tail      int // next read position
	highWater int
	closed    bool
	notify    chan struct{}

	// Atomic counters for lock-free reads
	pushes atomic.Uint64
	pops   atomic.Uint64
	drops  atomic.Uint64

	dropCallback DropCallback[T]
}

// New creates a ring with the given capacity (minimum 1).
func New[T any](capacity int, opts ...Option[T]) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}

	r := &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// Push appends an item, evicting the oldest one when full. It never blocks.
// Pushing to a closed ring is a no-op.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return
	}

	if r.size == r.capacity {
		dropped := r.items[r.tail]
		var zero T
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		r.drops.Add(1)

		if r.dropCallback != nil {
			// Run the callback outside the lock to avoid deadlock
			defer r.dropCallback(dropped)
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	if r.size > r.highWater {
		r.highWater = r.size
	}
	r.pushes.Add(1)

	// Wake one waiting consumer; a pending tick already covers this push
	select {
	case r.notify <- struct{}{}:
	default:
	}

	r.mu.Unlock()
}

// Pop removes and returns the oldest item. Returns the zero value and false
// when the ring is empty. A closed ring keeps draining its remaining items.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.tail]
	r.items[r.tail] = zero
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	r.pops.Add(1)

	return item, true
}

// PopBatch removes and returns up to max items in FIFO order.
func (r *Ring[T]) PopBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return nil
	}

	n := max
	if n > r.size {
		n = r.size
	}

	var zero T
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.items[r.tail])
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
		r.size--
	}
	r.pops.Add(uint64(n))

	return out
}

// Notify returns a channel that receives a tick after items are pushed and
// is closed when the ring closes. Consumers drain with Pop after each tick;
// one tick may cover several pushes.
func (r *Ring[T]) Notify() <-chan struct{} {
	return r.notify
}

// Len returns the current number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Drops returns the number of items evicted by overflow.
func (r *Ring[T]) Drops() uint64 {
	return r.drops.Load()
}

// Close stops accepting pushes and closes the Notify channel. Remaining
// items stay poppable. Close is idempotent.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	close(r.notify)
}

// Closed reports whether the ring has been closed.
func (r *Ring[T]) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Stats is a point-in-time snapshot of ring counters.
type Stats struct {
	Pushes    uint64 `json:"pushes"`
	Pops      uint64 `json:"pops"`
	Drops     uint64 `json:"drops"`
	Len       int    `json:"len"`
	Cap       int    `json:"cap"`
	HighWater int    `json:"high_water"`
}

// Stats returns a snapshot of the ring counters.
func (r *Ring[T]) Stats() Stats {
	r.mu.Lock()
	size, high := r.size, r.highWater
	r.mu.Unlock()

	return Stats{
		Pushes:    r.pushes.Load(),
		Pops:      r.pops.Load(),
		Drops:     r.drops.Load(),
		Len:       size,
		Cap:       r.capacity,
		HighWater: high,
	}
}
