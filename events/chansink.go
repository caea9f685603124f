package events

import "sync/atomic"

// ChanSink buffers events on a channel for a consumer to drain. When the
// consumer falls behind and the buffer fills, new events are dropped and
// counted; Emit never waits.
type ChanSink struct {
	ch      chan Event
	dropped atomic.Uint64
}

// NewChanSink returns a sink buffering up to size events. Zero or
// negative size falls back to 64.
func NewChanSink(size int) *ChanSink {
	if size <= 0 {
		size = 64
	}
	return &ChanSink{ch: make(chan Event, size)}
}

// Emit queues ev, dropping it when the buffer is full.
func (s *ChanSink) Emit(ev Event) {
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Events returns the receive side of the buffer. The channel is never
// closed; consumers stop by abandoning it.
func (s *ChanSink) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events were discarded because the buffer was
// full.
func (s *ChanSink) Dropped() uint64 {
	return s.dropped.Load()
}
