package connection

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/connkit/errors"
	"github.com/c360/connkit/events"
	"github.com/c360/connkit/health"
	"github.com/c360/connkit/metric"
	"github.com/c360/connkit/pkg/timestamp"
	"github.com/c360/connkit/pkg/tlsutil"
	"github.com/c360/connkit/transport"
	"github.com/c360/connkit/transport/httprpc"
	"github.com/c360/connkit/transport/ws"
)

// evictTimeout bounds how long the janitor waits on one handle teardown.
const evictTimeout = 5 * time.Second

// Registry owns every connection handle in a process. It assigns handle
// IDs, builds each handle's transport from its config, enforces unique
// connection names, and carries the shared observability surfaces: one
// health monitor, one event sink, one metrics handle.
type Registry struct {
	logger        *slog.Logger
	sink          events.Sink
	metrics       *metric.Metrics
	monitor       *health.Monitor
	dialer        transport.Dialer
	sessionDialer transport.SessionDialer

	cleanupInterval time.Duration
	failedTTL       time.Duration

	mu      sync.RWMutex
	handles map[string]*Handle
	names   map[string]string // connection name -> handle ID
	closed  bool

	janitorCancel context.CancelFunc
	janitorDone   chan struct{}
}

// Option configures a Registry.
type Option func(*Registry) error

// WithLogger sets the logger for the registry and every handle it opens
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) error {
		if logger != nil {
			r.logger = logger
		}
		return nil
	}
}

// WithDialer injects the duplex transport, replacing the default
// websocket dialer built per handle from its config
func WithDialer(d transport.Dialer) Option {
	return func(r *Registry) error {
		r.dialer = d
		return nil
	}
}

// WithSessionDialer injects the pooled transport, replacing the default
// HTTP RPC dialer built per handle from its config
func WithSessionDialer(d transport.SessionDialer) Option {
	return func(r *Registry) error {
		r.sessionDialer = d
		return nil
	}
}

// WithEventSink routes lifecycle events somewhere; the default drops them
func WithEventSink(sink events.Sink) Option {
	return func(r *Registry) error {
		if sink != nil {
			r.sink = sink
		}
		return nil
	}
}

// WithMetrics enables Prometheus metrics for every handle
func WithMetrics(reg *metric.MetricsRegistry) Option {
	return func(r *Registry) error {
		if reg != nil {
			r.metrics = reg.CoreMetrics()
		}
		return nil
	}
}

// WithCleanup starts a janitor that closes and removes handles sitting in
// Failed longer than failedTTL, checking every interval
func WithCleanup(interval, failedTTL time.Duration) Option {
	return func(r *Registry) error {
		if interval <= 0 || failedTTL <= 0 {
			return errors.WrapInvalid(errors.ErrConfigInvalid,
				"registry", "WithCleanup", "interval and TTL must be positive")
		}
		r.cleanupInterval = interval
		r.failedTTL = failedTTL
		return nil
	}
}

// New creates a Registry. Without options it logs through slog's default
// logger, dials real sockets, drops lifecycle events, records no metrics,
// and runs no janitor.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		logger:  slog.Default(),
		sink:    events.NopSink{},
		monitor: health.NewMonitor(),
		handles: make(map[string]*Handle),
		names:   make(map[string]string),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	if r.cleanupInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		r.janitorCancel = cancel
		r.janitorDone = make(chan struct{})
		go r.janitor(ctx)
	}
	return r, nil
}

// Open validates cfg, registers a handle, and starts its first connection
// attempt in the background. It never blocks on network I/O; callers that
// need the connection up block on Handle.WaitReady.
func (r *Registry) Open(cfg Config) (*Handle, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	if cfg.Name == "" {
		cfg.Name = "conn-" + id[:8]
	}

	stats := newStatsCollector()
	logger := r.logger.With("connection", cfg.Name, "handle_id", id)

	h := &Handle{
		id:        id,
		name:      cfg.Name,
		cfg:       cfg,
		createdAt: time.Now(),
		stats:     stats,
	}

	needDuplex := cfg.Kind == KindDuplex || cfg.Kind == KindHybrid
	needPool := cfg.Kind == KindPooled || cfg.Kind == KindHybrid

	if needDuplex {
		dialer, err := r.duplexDialer(cfg)
		if err != nil {
			return nil, err
		}
		core := newChannelCore(id, cfg.Name, logger, r.sink, r.metrics, stats, r.monitor)
		h.duplex = newPersistentChannel(core, cfg, dialer)
	}
	if needPool {
		dialer, err := r.poolDialer(cfg)
		if err != nil {
			return nil, err
		}
		// Hybrid health follows the duplex side; a second writer under
		// the same name would fight it.
		monitor := r.monitor
		if needDuplex {
			monitor = nil
		}
		core := newChannelCore(id, cfg.Name, logger, r.sink, r.metrics, stats, monitor)
		pool, err := newPooledChannel(core, cfg, dialer)
		if err != nil {
			return nil, err
		}
		h.pool = pool
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrClosed, "registry", "Open", "registry closed")
	}
	if takenID, ok := r.names[cfg.Name]; ok {
		r.mu.Unlock()
		return nil, errors.WrapCode(
			fmt.Errorf("name %q already in use by handle %s", cfg.Name, takenID),
			errors.CodeConfigInvalid, "registry", "Open", "register handle")
	}
	r.handles[id] = h
	r.names[cfg.Name] = id
	r.mu.Unlock()

	h.forget = func() { r.forget(id) }

	// Seed the health entry so the handle is visible before its first
	// transition lands.
	if h.duplex != nil {
		h.duplex.updateHealth(StateDisconnected)
	} else {
		h.pool.updateHealth(StateDisconnected)
	}

	if h.duplex != nil {
		h.duplex.start()
	}
	if h.pool != nil {
		h.pool.start()
	}

	ev := events.New(events.TypeHandleOpened, cfg.Name)
	ev.State = h.State().String()
	r.sink.Emit(ev)
	r.logger.Info("connection opened", "name", cfg.Name, "handle_id", id, "kind", cfg.Kind)

	return h, nil
}

// Get returns the live handle with the given ID.
func (r *Registry) Get(id string) (*Handle, error) {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrNotFound, "registry", "Get", id)
	}
	return h, nil
}

// Close gracefully shuts down one handle and removes it from the
// registry. Unknown IDs, including already-removed ones, report
// ErrNotFound.
func (r *Registry) Close(ctx context.Context, id string) error {
	h, err := r.Get(id)
	if err != nil {
		return err
	}
	return h.Close(ctx)
}

// CloseAll closes every live handle concurrently and stops the registry;
// later Opens fail with ErrClosed.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	if r.janitorCancel != nil {
		r.janitorCancel()
		<-r.janitorDone
	}

	var g errgroup.Group
	for _, h := range handles {
		g.Go(func() error {
			err := h.Close(ctx)
			if err != nil && !stderrors.Is(err, errors.ErrClosed) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Handles returns a snapshot of the live handles.
func (r *Registry) Handles() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// Health returns the per-connection health view, keyed by name.
func (r *Registry) Health() map[string]health.Status {
	return r.monitor.GetAll()
}

// Aggregate rolls every connection's health into one status.
func (r *Registry) Aggregate() health.Status {
	return r.monitor.AggregateHealth("connections")
}

// Snapshot returns the stats snapshot for one handle.
func (r *Registry) Snapshot(id string) (Stats, error) {
	h, err := r.Get(id)
	if err != nil {
		return Stats{}, err
	}
	return h.Stats(), nil
}

// forget removes a closed handle from the tables. Runs once per handle,
// from Handle.Close.
func (r *Registry) forget(id string) {
	r.mu.Lock()
	h, ok := r.handles[id]
	if ok {
		delete(r.handles, id)
		if r.names[h.name] == id {
			delete(r.names, h.name)
		}
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	r.monitor.Remove(h.name)
	r.sink.Emit(events.New(events.TypeHandleClosed, h.name))
	r.logger.Info("connection closed", "name", h.name, "handle_id", id)
}

func (r *Registry) janitor(ctx context.Context) {
	defer close(r.janitorDone)

	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep evicts handles that have sat in Failed longer than the TTL.
// Closed handles remove themselves, so Failed is the only terminal state
// that can linger.
func (r *Registry) sweep(ctx context.Context) {
	cutoff := timestamp.Now() - r.failedTTL.Milliseconds()

	for _, h := range r.Handles() {
		if h.State() != StateFailed {
			continue
		}
		failedAt := h.stats.lastErrorAt.Load()
		if failedAt == 0 || failedAt > cutoff {
			continue
		}

		closeCtx, cancel := context.WithTimeout(ctx, evictTimeout)
		err := h.Close(closeCtx)
		cancel()
		if err != nil && !stderrors.Is(err, errors.ErrClosed) {
			r.logger.Warn("eviction of failed connection errored",
				"name", h.Name(), "handle_id", h.ID(), "error", err)
			continue
		}
		r.logger.Info("evicted failed connection", "name", h.Name(), "handle_id", h.ID())
	}
}

// duplexDialer builds the websocket dialer for one handle from its config
// unless a custom transport was injected.
func (r *Registry) duplexDialer(cfg Config) (transport.Dialer, error) {
	if r.dialer != nil {
		return r.dialer, nil
	}
	header, err := cfg.httpHeader()
	if err != nil {
		return nil, err
	}
	tlsConf, err := clientTLS(cfg)
	if err != nil {
		return nil, err
	}
	return &ws.Dialer{
		HandshakeTimeout: cfg.ConnectTimeout,
		Header:           header,
		TLS:              tlsConf,
		Logger:           r.logger,
	}, nil
}

// poolDialer builds the HTTP RPC session dialer for one handle from its
// config unless a custom transport was injected.
func (r *Registry) poolDialer(cfg Config) (transport.SessionDialer, error) {
	if r.sessionDialer != nil {
		return r.sessionDialer, nil
	}
	header, err := cfg.httpHeader()
	if err != nil {
		return nil, err
	}
	tlsConf, err := clientTLS(cfg)
	if err != nil {
		return nil, err
	}
	return &httprpc.Dialer{
		Header: header,
		TLS:    tlsConf,
		Logger: r.logger,
	}, nil
}

func clientTLS(cfg Config) (*tls.Config, error) {
	if cfg.TLS == nil {
		return nil, nil
	}
	tc, err := tlsutil.LoadClientTLSConfig(*cfg.TLS)
	if err != nil {
		return nil, errors.WrapCode(err, errors.CodeConfigInvalid,
			"registry", "Open", "load TLS config")
	}
	return tc, nil
}
