// Package connkit manages long-lived stateful connections to remote
// network services on behalf of application subsystems.
//
// # Philosophy
//
// Subsystems that talk to remote services over persistent transports all
// end up re-implementing the same machinery: reconnect loops, liveness
// probes, request correlation, bounded buffering, and the bookkeeping
// that tells an operator what the connection has been doing. connkit
// centralizes that machinery behind one small API and stays strictly
// protocol-neutral above the frame envelope:
//
//   - No method-name interpretation beyond correlation and event typing
//   - No domain payload schemas; params and results are raw JSON
//   - No package-level singletons; every Registry is constructed explicitly
//   - No unbounded queues; every buffer has a size and a drop policy
//
// Protocol semantics belong in the subsystems that own them. connkit
// moves bytes, keeps the connection alive, and reports honestly when it
// cannot.
//
// # Architecture
//
// One Registry owns every handle in a process. Each handle owns the
// channel(s) its configuration asked for, and each channel drives a
// transport:
//
//	┌─────────────────────────────────────┐
//	│            Registry                 │  open, lookup, close,
//	│  (health, events, metrics, janitor) │  shared observability
//	└─────────────────┬───────────────────┘
//	                  │ owns
//	┌─────────────────┴───────────────────┐
//	│             Handles                 │  Request, Subscribe,
//	│   (duplex, pooled, or hybrid)       │  WaitReady, Stats, Close
//	└─────────────────┬───────────────────┘
//	                  │ drive
//	┌─────────────────┴───────────────────┐
//	│            Transports               │  WebSocket frames,
//	│  (transport/ws, transport/httprpc)  │  HTTP JSON-RPC sessions
//	└─────────────────────────────────────┘
//
// # Channel Kinds
//
// Every connection is opened as one of three kinds:
//
//   - duplex: one persistent framed connection (WebSocket) with automatic
//     reconnect, heartbeat liveness, request correlation, and server-push
//     subscriptions.
//   - pooled: a bounded pool of interchangeable request/response sessions
//     (HTTP JSON-RPC) built on jackc/puddle. Sessions are pre-warmed to a
//     minimum, created lazily to a hard maximum, and destroyed on
//     transport errors so the next request dials fresh.
//   - hybrid: both at once. Requests ride the pool, subscriptions ride
//     the duplex socket, and the handle reports the duplex side's state.
//
// # Connection Lifecycle
//
// Duplex channels run an explicit state machine, owned by a single
// connect-loop goroutine:
//
//	Disconnected ──► Connecting ──► Connected ◄──► Degraded
//	                     ▲              │              │
//	                     │              ▼              ▼
//	                     └──────── Reconnecting ◄──────┘
//
// with two terminal states: Closed (explicit shutdown) and Failed (retry
// budget exhausted). Terminal states are sticky.
//
//   - Connecting: dialing with a per-attempt timeout. Requests issued now
//     are queued in a bounded send queue; a full queue rejects immediately
//     with CodeBackpressure.
//   - Connected: frames flow, the heartbeat monitor probes liveness,
//     queued frames flush FIFO, and the reconnect attempt counter resets
//     so backoff restarts from its base after any later loss.
//   - Degraded: one missed heartbeat. The channel stays usable; a pong
//     returns it to Connected, a second miss declares the connection lost.
//   - Reconnecting: the socket is torn down, every in-flight request
//     resolves exactly once with CodeConnectionLost, backoff sleeps, and
//     the loop dials again, rotating across the configured URLs.
//     Subscriptions are preserved across the cycle.
//   - Failed: MaxAttempts consecutive dial failures. Pending work drains
//     with CodeRetryBudgetExhausted and subscriptions close. The handle
//     stays queryable for state and stats until closed or evicted.
//
// Reconnect delays come from pkg/backoff: exponential growth from
// InitialDelay by Multiplier, capped at MaxDelay, with optional
// proportional jitter. Zero jitter makes the schedule deterministic.
//
// # Requests and Subscriptions
//
// Request performs one correlated call: a monotonically increasing frame
// ID ties the response to its caller, and the call resolves exactly once
// with the result, a per-call timeout, a caller cancellation, or the
// classified connection error that interrupted it. Late responses to
// timed-out requests are counted and dropped, never misdelivered.
//
// Subscribe registers a consumer of unsolicited server-push frames.
// Each subscription owns a bounded drop-oldest ring: a consumer that
// stops reading loses its own oldest events and nothing else. Dispatch
// never blocks the read loop, one slow subscriber never affects another,
// and drops are visible on the subscription, in stats, on the event
// sink, and in metrics.
//
// # Error Taxonomy
//
// Every error crossing the API is classified (errors package): Invalid
// for rejected configuration, Transient for faults the lifecycle absorbs
// or the caller may retry (connect failures, connection loss, heartbeat
// and request timeouts, backpressure, pool exhaustion), Fatal for calls
// that cannot be retried (handle closed, retry budget exhausted).
// Machine codes (CodeConnectFailed, CodeRequestTimeout, ...) ride along
// for precise handling; errors.IsTransient and friends answer the common
// question directly. Messages that carry endpoints are sanitized before
// they reach health or event consumers.
//
// # Observability
//
// Four complementary surfaces, all optional except the first:
//
//   - Stats: per-handle lock-free counters snapshotted on demand:
//     connects, reconnects, requests by outcome, frames, drops, pool
//     activity, timestamps, and the last (sanitized) error.
//   - Health: a per-connection Status (healthy/degraded/unhealthy) fed by
//     every state transition, aggregated registry-wide.
//   - Events: structured lifecycle records (state_changed, connect_failed,
//     reconnect_scheduled, events_dropped, ...) pushed without blocking to
//     pluggable sinks: slog, bounded channel, NATS, or a fan-out of them.
//   - Metrics: Prometheus collectors under the connkit namespace via
//     metric.MetricsRegistry.
//
// # Packages
//
// Core:
//   - connection: Registry, Handle, the duplex and pooled channels,
//     heartbeat monitor, subscriptions, stats, config
//   - transport: Frame envelope and the Conn/Dialer contracts
//   - transport/ws: gorilla/websocket duplex transport
//   - transport/httprpc: HTTP JSON-RPC pooled session transport
//   - transport/transporttest: scriptable in-memory transport for tests
//
// Infrastructure:
//   - errors: classified error taxonomy with machine codes
//   - events: lifecycle event records and sinks
//   - health: per-handle health status with sanitized messages
//   - metric: Prometheus metrics registry wrapper
//
// Utilities:
//   - pkg/backoff: reconnect delay policy (pure, deterministic)
//   - pkg/ring: generic bounded drop-oldest ring buffer
//   - pkg/worker: generic bounded worker pool with non-blocking submit
//   - pkg/timestamp: unix-millisecond time helpers
//   - pkg/tlsutil: client TLS configuration loading
//
// # Usage
//
// Open a duplex connection and use it:
//
//	reg, err := connection.New(
//	    connection.WithLogger(logger),
//	    connection.WithEventSink(events.NewSlogSink(logger)),
//	    connection.WithMetrics(metric.NewMetricsRegistry()),
//	)
//	if err != nil {
//	    return err
//	}
//	defer reg.CloseAll(context.Background())
//
//	h, err := reg.Open(connection.Config{
//	    Name:       "market-data",
//	    Kind:       connection.KindDuplex,
//	    DuplexURLs: []string{"wss://feed.example.com/v1", "wss://feed-b.example.com/v1"},
//	    Auth:       connection.Auth{Scheme: "bearer", Token: token},
//	    Reconnect:  backoff.DefaultPolicy(),
//	})
//	if err != nil {
//	    return err
//	}
//
//	// Open never blocks on the network; wait when readiness matters.
//	if err := h.WaitReady(ctx); err != nil {
//	    return err
//	}
//
//	result, err := h.Request(ctx, "subscribe_orders", params)
//
//	sub, err := h.Subscribe(connection.Filter{Types: []string{"tick"}})
//	for ev := range sub.Events() {
//	    process(ev.Payload)
//	}
//
// Pooled request/response against an RPC endpoint:
//
//	h, err := reg.Open(connection.Config{
//	    Name:        "pricing",
//	    Kind:        connection.KindPooled,
//	    RPCURLs:     []string{"https://rpc.example.com/v1"},
//	    PoolMinSize: 2,
//	    PoolMaxSize: 10,
//	})
//
// Handling a failed call by class:
//
//	out, err := h.Request(ctx, "quote", req)
//	switch {
//	case err == nil:
//	    // use out
//	case errors.IsTransient(err):
//	    // the channel is recovering or the call timed out; retry later
//	case errors.IsFatal(err):
//	    // the handle is closed or failed; reopen or give up
//	}
//
// # Design Principles
//
// Explicit ownership:
//   - Exactly one goroutine reads each socket
//   - State transitions happen on the connect loop or under Close
//   - Counters are atomics; snapshots are immutable copies
//
// Bounded everything:
//   - Send queue, subscription rings, event sinks, session pools
//   - Overflow is a counted and observable outcome, never a blocked
//     producer
//
// Honest failure:
//   - Every pending request resolves exactly once
//   - Errors carry class and code so callers can act without string
//     matching
//   - Health and event messages are sanitized before export
//
// Testability:
//   - Transports are interfaces; transporttest scripts dial failures,
//     broken reads, suppressed pongs, and remote responses
//   - The backoff schedule is deterministic with zero jitter
//   - Integration tests (NATS sink) run against containers and skip
//     without Docker
package connkit
