// Package connection manages long-lived client connections: it owns their
// lifecycle, reconnects them when they drop, correlates requests with
// responses, fans server pushes out to subscribers, and keeps per-handle
// statistics and health current.
//
// # Registry and Handles
//
// A Registry is the top-level owner. Open validates a Config, registers a
// Handle under a fresh UUID, and starts connecting in the background;
// it never blocks on network I/O. Callers that need the link up block on
// Handle.WaitReady with their own timeout:
//
//	reg, err := connection.New(
//	    connection.WithLogger(logger),
//	    connection.WithMetrics(metrics),
//	)
//	if err != nil {
//	    return err
//	}
//
//	h, err := reg.Open(connection.Config{
//	    Name:       "orders",
//	    Kind:       connection.KindDuplex,
//	    DuplexURLs: []string{"wss://feed.example.com/v1"},
//	})
//	if err != nil {
//	    return err
//	}
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	if err := h.WaitReady(ctx); err != nil {
//	    return err
//	}
//
// A handle's Kind decides what sits behind it. KindDuplex is one
// persistent framed socket with reconnect, heartbeat, and server-push
// subscriptions. KindPooled is a pool of stateless RPC sessions for
// request/response traffic. KindHybrid carries both and routes each
// Request to the pool, keeping the socket free for event traffic.
//
// # Lifecycle
//
// Every channel moves through an explicit state machine:
//
//	Disconnected → Connecting → Connected ⇄ Degraded
//	                 ↑                        |
//	                 └──── Reconnecting ←─────┘
//
// with two terminal states: Closed (explicit shutdown) and Failed (the
// reconnect budget ran out). Reconnection is governed by the handle's
// backoff.Policy: exponential delays with jitter, reset to the base delay
// after every successful connect. Subscriptions survive Reconnecting;
// they are torn down only at Closed and Failed.
//
// Heartbeats probe each live socket every HeartbeatInterval. One missed
// probe moves the channel to Degraded, a second consecutive miss declares
// the connection lost, and a pong restores Connected.
//
// # Requests
//
// Handle.Request sends one correlated request and blocks for its
// response, its per-call deadline, or ctx, whichever ends first. Every
// request resolves exactly once. While a duplex channel is between
// sockets, requests queue up to SendQueueSize and flush FIFO on the next
// connect; beyond that they fail fast with CodeBackpressure. Requests
// that were on the wire when a socket died fail with CodeConnectionLost,
// which is Transient: callers may retry and land on the next socket.
//
// Pooled requests lease a session for exactly one call. A remote
// application error returns the session to the pool; a transport error
// destroys it so the next request dials fresh. When every session is
// leased and AcquireTimeout passes, the request fails with
// CodePoolExhausted.
//
// # Subscriptions
//
// Handle.Subscribe registers a consumer of unsolicited wire events,
// optionally filtered by event type. Each subscription owns a bounded
// buffer; when a consumer falls behind, the oldest buffered event is
// dropped, the drop is counted, and the dispatching goroutine never
// blocks. A slow consumer costs itself data, never the connection.
//
// # Observability
//
// Each handle keeps lock-free counters (connects, reconnects, requests by
// outcome, frames, drops) exposed as a Stats snapshot via Handle.Stats or
// Registry.Snapshot. The registry's health monitor tracks every handle by
// name for readiness endpoints, and WithMetrics wires the same signals
// into Prometheus. Lifecycle events stream to the sink given with
// WithEventSink; sinks must not block.
package connection
