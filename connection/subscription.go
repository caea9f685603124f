package connection

import (
	"encoding/json"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/connkit/pkg/ring"
)

// Event is one unsolicited wire event delivered to a subscription.
type Event struct {
	// HandleID identifies the handle the event arrived on.
	HandleID string `json:"handle_id"`

	// Subscription identifies the subscription it was delivered to.
	Subscription string `json:"subscription"`

	// Type is the wire method name of the push frame.
	Type string `json:"type"`

	// Payload is the raw params member of the frame.
	Payload json.RawMessage `json:"payload,omitempty"`

	// ReceivedAt is when the frame was read, unix milliseconds.
	ReceivedAt int64 `json:"received_at"`
}

// Filter selects wire events by type. The zero value matches everything.
type Filter struct {
	// Types lists the exact event types wanted. Empty means all.
	Types []string `json:"types,omitempty"`
}

// Matches reports whether an event of the given type passes the filter.
func (f Filter) Matches(eventType string) bool {
	return len(f.Types) == 0 || slices.Contains(f.Types, eventType)
}

type subscribeOptions struct {
	bufferSize int
}

// SubscribeOption adjusts one subscription.
type SubscribeOption func(*subscribeOptions)

// WithBufferSize overrides the handle's SubscriptionBufferSize for this
// subscription only.
func WithBufferSize(n int) SubscribeOption {
	return func(o *subscribeOptions) {
		o.bufferSize = n
	}
}

// Subscription is one consumer of wire events. Each subscription owns a
// bounded drop-oldest buffer, so a consumer that stops reading loses its
// own oldest events and nothing else: other subscriptions and the read
// loop are unaffected.
type Subscription struct {
	id     string
	filter Filter

	buf *ring.Ring[Event]
	out chan Event

	closeOnce  sync.Once
	closed     chan struct{}
	unregister func(id string)
}

// ID returns the subscription's unique ID.
func (s *Subscription) ID() string { return s.id }

// Filter returns a copy of the subscription's filter.
func (s *Subscription) Filter() Filter {
	return Filter{Types: slices.Clone(s.filter.Types)}
}

// Events returns the delivery channel. It closes when the subscription
// closes, including the channel-wide teardown at Closed and Failed.
func (s *Subscription) Events() <-chan Event { return s.out }

// Dropped reports how many events this subscription lost to buffer
// overflow. The count stays readable after Close.
func (s *Subscription) Dropped() uint64 { return s.buf.Drops() }

// Close unregisters the subscription and closes Events. Idempotent.
// Buffered events not yet handed to the consumer are discarded.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		if s.unregister != nil {
			s.unregister(s.id)
		}
		s.buf.Close()
		close(s.closed)
	})
	return nil
}

// closeFromTable tears the subscription down during a channel-wide
// teardown, where the table has already dropped its reference.
func (s *Subscription) closeFromTable() {
	s.closeOnce.Do(func() {
		s.buf.Close()
		close(s.closed)
	})
}

// pump moves events from the buffer to the consumer channel. It is the
// only sender on out and always closes it on the way out. When the
// consumer stalls, the pump stalls with it and overflow lands on the
// ring, where eviction never blocks the producer.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		for {
			ev, ok := s.buf.Pop()
			if !ok {
				break
			}
			select {
			case s.out <- ev:
			case <-s.closed:
				return
			}
		}
		select {
		case _, ok := <-s.buf.Notify():
			if !ok {
				// Ring closed: hand over what is already buffered.
				for {
					ev, ok := s.buf.Pop()
					if !ok {
						return
					}
					select {
					case s.out <- ev:
					case <-s.closed:
						return
					}
				}
			}
		case <-s.closed:
			return
		}
	}
}

// subscriptionTable fans wire events out to subscriptions. It lives on the
// persistent channel, not the socket, so the set survives reconnect cycles.
type subscriptionTable struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{subs: make(map[string]*Subscription)}
}

// add registers a subscription, building it from the channel's defaults
// and the caller's options. Fails after closeAll.
func (t *subscriptionTable) add(filter Filter, bufferSize int, onDrop func(sub *Subscription)) (*Subscription, bool) {
	sub := &Subscription{
		id:     uuid.NewString(),
		filter: Filter{Types: slices.Clone(filter.Types)},
		out:    make(chan Event),
		closed: make(chan struct{}),
	}
	sub.buf = ring.New(bufferSize, ring.WithDropCallback(func(Event) {
		onDrop(sub)
	}))
	sub.unregister = t.remove

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, false
	}
	t.subs[sub.id] = sub
	t.mu.Unlock()

	go sub.pump()
	return sub, true
}

func (t *subscriptionTable) remove(id string) {
	t.mu.Lock()
	delete(t.subs, id)
	t.mu.Unlock()
}

// dispatch pushes the event to every matching subscription without ever
// blocking. Returns how many subscriptions matched.
func (t *subscriptionTable) dispatch(ev Event) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	matched := 0
	for _, sub := range t.subs {
		if !sub.filter.Matches(ev.Type) {
			continue
		}
		matched++
		ev.Subscription = sub.id
		sub.buf.Push(ev)
	}
	return matched
}

// closeAll tears down every subscription and rejects future adds. Used
// when the channel reaches Closed or Failed.
func (t *subscriptionTable) closeAll() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	subs := make([]*Subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.subs = make(map[string]*Subscription)
	t.mu.Unlock()

	for _, sub := range subs {
		sub.closeFromTable()
	}
}

// size reports how many subscriptions are live.
func (t *subscriptionTable) size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}
