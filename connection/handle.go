package connection

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/c360/connkit/errors"
	"github.com/c360/connkit/pkg/timestamp"
)

// Handle is the caller's grip on one managed connection. A handle owns a
// duplex channel, a session pool, or both, depending on the configured
// kind, and routes each operation to the side that implements it:
// requests prefer the pool when one exists, subscriptions always go to
// the duplex side.
//
// Handles are safe for concurrent use. Close is one-shot; every call
// after the first reports ErrClosed.
type Handle struct {
	id        string
	name      string
	cfg       Config
	createdAt time.Time

	stats *statsCollector

	duplex *persistentChannel
	pool   *pooledChannel

	closed atomic.Bool

	// forget detaches the handle from its registry on Close.
	forget func()
}

// ID returns the registry-assigned handle ID.
func (h *Handle) ID() string { return h.id }

// Name returns the configured connection name.
func (h *Handle) Name() string { return h.name }

// Kind returns the connection kind.
func (h *Handle) Kind() Kind { return h.cfg.Kind }

// Config returns a copy of the effective configuration, defaults applied.
func (h *Handle) Config() Config { return h.cfg.Clone() }

// CreatedAt returns when the handle was opened.
func (h *Handle) CreatedAt() time.Time { return h.createdAt }

// State reports the handle's lifecycle state. Hybrid handles report their
// duplex side, the one with reconnect semantics; the pool only moves at
// open and close.
func (h *Handle) State() State {
	if h.duplex != nil {
		return h.duplex.State()
	}
	return h.pool.State()
}

// LastActivity returns the time of the last frame, call, or pong on this
// handle. Zero before any traffic.
func (h *Handle) LastActivity() time.Time {
	ms := h.stats.lastActivityAt.Load()
	if ms == 0 {
		return time.Time{}
	}
	return timestamp.FromUnixMs(ms)
}

// WaitReady blocks until the handle is usable: the first successful
// connect for duplex and hybrid handles, the pool opening for pooled
// ones. A handle that reaches a terminal state first reports why.
func (h *Handle) WaitReady(ctx context.Context) error {
	if h.duplex != nil {
		return h.duplex.WaitReady(ctx)
	}
	return h.pool.WaitReady(ctx)
}

// Request performs one correlated request. Hybrid handles route requests
// to the session pool, keeping the duplex socket for event traffic.
func (h *Handle) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if h.pool != nil {
		return h.pool.Request(ctx, method, params)
	}
	return h.duplex.Request(ctx, method, params)
}

// Subscribe registers a consumer of server-pushed events. Only handles
// with a duplex side carry them.
func (h *Handle) Subscribe(filter Filter, opts ...SubscribeOption) (*Subscription, error) {
	if h.duplex == nil {
		return nil, errors.WrapInvalid(errors.ErrNotDuplex, "connection", "Subscribe", h.name)
	}
	return h.duplex.Subscribe(filter, opts...)
}

// Stats returns a point-in-time snapshot of the handle's counters and
// gauges.
func (h *Handle) Stats() Stats {
	st := h.stats.snapshot()
	st.HandleID = h.id
	st.Name = h.name
	st.State = h.State().String()
	if h.duplex != nil {
		st.SendQueueDepth = h.duplex.queueDepth()
		st.LiveSubscriptions = h.duplex.subscriptionCount()
	}
	if h.pool != nil {
		st.PoolIdle, st.PoolLive = h.pool.sessionGauges()
	}
	return st
}

// Close tears the handle down: the duplex side stops reconnecting and
// fails its in-flight requests with CodeCancelled, the pool drains, and
// the handle leaves its registry. ctx bounds the wait for teardown.
// Calling Close again reports ErrClosed.
func (h *Handle) Close(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrClosed, "connection", "Close", h.name)
	}

	var firstErr error
	if h.duplex != nil {
		firstErr = h.duplex.Close(ctx)
	}
	if h.pool != nil {
		if err := h.pool.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if h.forget != nil {
		h.forget()
	}
	return firstErr
}
