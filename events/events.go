package events

import (
	"github.com/c360/connkit/pkg/timestamp"
)

// Type names a lifecycle event.
type Type string

// Lifecycle event types emitted by channels and the registry.
const (
	TypeStateChanged         Type = "state_changed"
	TypeConnectFailed        Type = "connect_failed"
	TypeHeartbeatMissed      Type = "heartbeat_missed"
	TypeReconnectScheduled   Type = "reconnect_scheduled"
	TypeEventsDropped        Type = "events_dropped"
	TypeRequestFailed        Type = "request_failed"
	TypeRetryBudgetExhausted Type = "retry_budget_exhausted"
	TypeHandleOpened         Type = "handle_opened"
	TypeHandleClosed         Type = "handle_closed"
)

// Event is one lifecycle record. The struct is flat with omitempty tags so
// every sink serializes the same JSON shape; only the fields relevant to
// the event type are set.
type Event struct {
	Type    Type   `json:"type"`
	Channel string `json:"channel"`
	TimeMs  int64  `json:"time_ms"`

	// State transitions
	State     string `json:"state,omitempty"`
	PrevState string `json:"prev_state,omitempty"`

	// Failures. Error text is sanitized by the emitter before it gets here.
	Error string `json:"error,omitempty"`

	// Reconnect scheduling
	Attempt int   `json:"attempt,omitempty"`
	DelayMs int64 `json:"delay_ms,omitempty"`

	// Subscription overflow
	Subscription string `json:"subscription,omitempty"`
	Dropped      uint64 `json:"dropped,omitempty"`

	// Request failures
	Method string `json:"method,omitempty"`

	URL string `json:"url,omitempty"`
}

// New returns an Event of the given type stamped with the current time.
// Callers fill in the type-specific fields before emitting.
func New(typ Type, channel string) Event {
	return Event{
		Type:    typ,
		Channel: channel,
		TimeMs:  timestamp.Now(),
	}
}

// Sink consumes lifecycle events. Emit must never block: connection
// goroutines call it inline, so a slow sink would stall reads and
// heartbeats. Implementations drop rather than wait.
type Sink interface {
	Emit(ev Event)
}

// NopSink discards every event. It is the default sink.
type NopSink struct{}

// Emit discards ev.
func (NopSink) Emit(Event) {}

// MultiSink fans each event out to several sinks in order.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks into one. Nil entries are skipped; zero
// usable sinks collapse to NopSink and a single sink is returned as is.
func NewMultiSink(sinks ...Sink) Sink {
	usable := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			usable = append(usable, s)
		}
	}
	switch len(usable) {
	case 0:
		return NopSink{}
	case 1:
		return usable[0]
	default:
		return &MultiSink{sinks: usable}
	}
}

// Emit delivers ev to every sink.
func (m *MultiSink) Emit(ev Event) {
	for _, s := range m.sinks {
		s.Emit(ev)
	}
}
