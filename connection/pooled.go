package connection

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"

	"github.com/c360/connkit/errors"
	"github.com/c360/connkit/events"
	"github.com/c360/connkit/health"
	"github.com/c360/connkit/metric"
	"github.com/c360/connkit/pkg/timestamp"
	"github.com/c360/connkit/transport"
)

// pooledChannel multiplexes request/response traffic over a pool of
// stateless RPC sessions. Connected means the pool is open and accepting
// requests; individual sessions are dialed lazily up to PoolMaxSize and
// their failures surface on the request that hit them. There is no
// reconnect loop: a dead session is destroyed and the next request dials
// a fresh one.
type pooledChannel struct {
	*channelCore

	cfg    Config
	dialer transport.SessionDialer

	pool *puddle.Pool[transport.Session]

	// urlCounter rotates session dials across RPCURLs.
	urlCounter atomic.Uint64

	ready     chan struct{}
	readyOnce sync.Once

	closeOnce sync.Once
	closed    chan struct{}
	drained   chan struct{}
}

func newPooledChannel(core *channelCore, cfg Config, dialer transport.SessionDialer) (*pooledChannel, error) {
	p := &pooledChannel{
		channelCore: core,
		cfg:         cfg,
		dialer:      dialer,
		ready:       make(chan struct{}),
		closed:      make(chan struct{}),
		drained:     make(chan struct{}),
	}

	pool, err := puddle.NewPool(&puddle.Config[transport.Session]{
		Constructor: p.dialSession,
		Destructor:  p.closeSession,
		MaxSize:     int32(cfg.PoolMaxSize),
	})
	if err != nil {
		return nil, errors.WrapInvalid(err, "connection", "newPooledChannel", "create session pool")
	}
	p.pool = pool
	return p, nil
}

// dialSession is the pool constructor: one RPC session per resource,
// rotating across the configured endpoints.
func (p *pooledChannel) dialSession(ctx context.Context) (transport.Session, error) {
	url := p.cfg.RPCURLs[int(p.urlCounter.Add(1)-1)%len(p.cfg.RPCURLs)]
	p.stats.connectAttempts.Add(1)

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	session, err := p.dialer.DialSession(dialCtx, url)
	if err != nil {
		p.stats.recordError(err)
		if p.metrics != nil {
			p.metrics.RecordConnect(p.name, false)
		}
		ev := events.New(events.TypeConnectFailed, p.name)
		ev.URL = url
		ev.Error = health.SanitizeError(err.Error())
		p.emit(ev)
		p.logger.Warn("session dial failed", "url", url, "error", err)

		if errors.CodeOf(err) == errors.CodeUnknown {
			err = errors.WrapCode(err, errors.CodeConnectFailed,
				"connection", "dialSession", "dial "+url)
		}
		return nil, err
	}

	p.stats.connectSuccesses.Add(1)
	p.stats.poolCreates.Add(1)
	p.stats.lastConnectedAt.Store(timestamp.Now())
	p.stats.recordActivity()
	if p.metrics != nil {
		p.metrics.RecordConnect(p.name, true)
	}
	p.logger.Debug("session created", "url", url)
	return session, nil
}

// closeSession is the pool destructor.
func (p *pooledChannel) closeSession(session transport.Session) {
	p.stats.poolDestroys.Add(1)
	_ = session.Close()
}

// start opens the pool and pre-warms PoolMinSize sessions in the
// background. The channel reports Connected once the pool is open;
// pre-warm failures are logged and left to per-request dials.
func (p *pooledChannel) start() {
	p.transition(StateConnecting)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout)
		defer cancel()

		for i := 0; i < p.cfg.PoolMinSize; i++ {
			if err := p.pool.CreateResource(ctx); err != nil {
				p.logger.Warn("session pre-warm failed", "error", err)
				break
			}
		}

		p.transition(StateConnected)
		p.readyOnce.Do(func() { close(p.ready) })
		p.reportPoolGauges()
	}()
}

// Request leases a session, performs one call on it, and returns it to
// the pool. Remote application errors keep the session; transport errors
// destroy it so the next request dials fresh.
func (p *pooledChannel) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	start := time.Now()

	if err := p.checkUsable(method); err != nil {
		return nil, err
	}

	p.stats.requestsSent.Add(1)

	res, err := p.acquire(ctx)
	if err != nil {
		p.recordRequestFailure(method, err, start)
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	var out json.RawMessage
	err = res.Value().Call(callCtx, method, params, &out)
	cancel()

	if err != nil {
		var remote *transport.FrameError
		if stderrors.As(err, &remote) {
			// Application-level failure; the session itself is healthy.
			res.Release()
		} else {
			res.Destroy()
		}
		p.reportPoolGauges()
		p.recordRequestFailure(method, err, start)
		return nil, err
	}

	res.Release()
	p.reportPoolGauges()

	elapsed := time.Since(start)
	p.stats.requestsSucceeded.Add(1)
	p.stats.observeLatency(elapsed)
	p.stats.recordActivity()
	if p.metrics != nil {
		p.metrics.RecordRequest(p.name, metric.OutcomeSuccess, elapsed)
	}
	return out, nil
}

// acquire leases a session, bounded by AcquireTimeout so a saturated pool
// surfaces as pool exhaustion instead of blocking for the caller's whole
// deadline.
func (p *pooledChannel) acquire(ctx context.Context) (*puddle.Resource[transport.Session], error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	res, err := p.pool.Acquire(acquireCtx)
	if err == nil {
		p.stats.poolAcquires.Add(1)
		if p.metrics != nil {
			p.metrics.RecordPoolAcquire(p.name, metric.OutcomeSuccess)
		}
		return res, nil
	}

	switch {
	case stderrors.Is(err, puddle.ErrClosedPool):
		p.recordAcquireOutcome(metric.OutcomeCancelled)
		err = errors.WrapCode(errors.ErrClosed, errors.CodeCancelled,
			"connection", "Request", "acquire session")

	case ctx.Err() != nil:
		// The caller's own deadline or cancellation, not saturation.
		code := errors.CodeCancelled
		outcome := metric.OutcomeCancelled
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			code = errors.CodeRequestTimeout
			outcome = metric.OutcomeTimeout
		}
		p.recordAcquireOutcome(outcome)
		err = errors.WrapCode(ctx.Err(), code, "connection", "Request", "acquire session")

	case acquireCtx.Err() != nil:
		// Our acquire deadline fired while the caller is still live:
		// every session is leased out.
		p.stats.poolExhausted.Add(1)
		p.recordAcquireOutcome(metric.OutcomeBackpressure)
		err = errors.WrapCode(err, errors.CodePoolExhausted,
			"connection", "Request", "acquire session")

	default:
		// Constructor failure: the dial error is already classified.
		p.recordAcquireOutcome(metric.OutcomeFailure)
		if errors.CodeOf(err) == errors.CodeUnknown {
			err = errors.WrapCode(err, errors.CodeConnectFailed,
				"connection", "Request", "acquire session")
		}
	}
	return nil, err
}

func (p *pooledChannel) recordAcquireOutcome(outcome string) {
	if p.metrics != nil {
		p.metrics.RecordPoolAcquire(p.name, outcome)
	}
}

// reportPoolGauges pushes the pool's live session count to metrics.
func (p *pooledChannel) reportPoolGauges() {
	if p.metrics == nil {
		return
	}
	stat := p.pool.Stat()
	p.metrics.RecordPoolSessions(p.name, int(stat.TotalResources()))
}

// sessionGauges reports idle and total live sessions for stats snapshots.
func (p *pooledChannel) sessionGauges() (idle, live int) {
	stat := p.pool.Stat()
	return int(stat.IdleResources()), int(stat.TotalResources())
}

// WaitReady blocks until the pool is open, the channel is closed, or ctx.
func (p *pooledChannel) WaitReady(ctx context.Context) error {
	select {
	case <-p.ready:
		if p.State().Terminal() {
			return errors.WrapCode(errors.ErrClosed, errors.CodeCancelled,
				"connection", "WaitReady", "channel closed")
		}
		return nil
	case <-p.closed:
		return errors.WrapCode(errors.ErrClosed, errors.CodeCancelled,
			"connection", "WaitReady", "channel closed")
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "connection", "WaitReady", "wait for pool")
	}
}

// Close destroys idle sessions and waits for leased ones to come back.
// puddle's Close blocks until every resource is returned, so it runs on a
// drain goroutine and the wait here is bounded by ctx; after a ctx expiry
// the pool keeps draining in the background.
func (p *pooledChannel) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.transition(StateClosed)
		close(p.closed)
		go func() {
			p.pool.Close()
			p.reportPoolGauges()
			close(p.drained)
		}()
	})

	select {
	case <-p.drained:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "connection", "Close", "drain session pool")
	}
}
