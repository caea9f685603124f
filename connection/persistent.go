package connection

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"github.com/c360/connkit/errors"
	"github.com/c360/connkit/events"
	"github.com/c360/connkit/health"
	"github.com/c360/connkit/metric"
	"github.com/c360/connkit/pkg/backoff"
	"github.com/c360/connkit/pkg/timestamp"
	"github.com/c360/connkit/transport"
)

// queuedFrame is a request frame parked while no socket is up.
type queuedFrame struct {
	id    uint64
	frame *transport.Frame
}

// persistentChannel is one long-lived duplex framed connection with
// automatic reconnect. A single run goroutine owns the connect loop and
// every state transition except the Connected and Degraded flips the
// heartbeat monitor performs under the state mutex.
type persistentChannel struct {
	*channelCore

	cfg    Config
	dialer transport.Dialer
	policy backoff.Policy

	runCtx    context.Context
	runCancel context.CancelFunc
	done      chan struct{}

	ready     chan struct{}
	readyOnce sync.Once

	// conn and lost are owned by the run loop; readers go through
	// currentConn and signalLost.
	connMu sync.RWMutex
	conn   transport.Conn
	lost   chan error

	sendMu sync.Mutex
	sendQ  []queuedFrame

	pending *pendingRequests
	subs    *subscriptionTable

	closeOnce sync.Once
}

func newPersistentChannel(core *channelCore, cfg Config, dialer transport.Dialer) *persistentChannel {
	ctx, cancel := context.WithCancel(context.Background())
	return &persistentChannel{
		channelCore: core,
		cfg:         cfg,
		dialer:      dialer,
		policy:      cfg.Reconnect,
		runCtx:      ctx,
		runCancel:   cancel,
		done:        make(chan struct{}),
		ready:       make(chan struct{}),
		pending:     newPendingRequests(),
		subs:        newSubscriptionTable(),
	}
}

// start launches the connect loop. Called exactly once by the registry.
func (c *persistentChannel) start() {
	go c.run()
}

// run is the connect loop: dial, serve until loss, back off, repeat. It
// owns the attempt counter, which resets on every successful connect, and
// parks the channel in Failed when the budget runs out.
func (c *persistentChannel) run() {
	defer close(c.done)

	failures := 0
	dials := 0

	for {
		if c.runCtx.Err() != nil {
			return
		}

		c.transition(StateConnecting)

		url := c.cfg.DuplexURLs[dials%len(c.cfg.DuplexURLs)]
		dials++

		conn, err := c.dial(url)
		if err != nil {
			if c.runCtx.Err() != nil {
				return
			}
			failures++
			c.stats.recordError(err)

			ev := events.New(events.TypeConnectFailed, c.name)
			ev.Error = health.SanitizeError(err.Error())
			ev.URL = url
			ev.Attempt = failures
			c.emit(ev)
			c.logger.Warn("connect attempt failed", "url", url, "attempt", failures, "error", err)

			if c.policy.Exhausted(failures) {
				c.fail(err)
				return
			}
			if !c.waitRetry(failures) {
				return
			}
			continue
		}

		failures = 0
		if closing := c.serve(conn); closing {
			return
		}
		if !c.waitRetry(0) {
			return
		}
	}
}

// dial performs one connect attempt bounded by ConnectTimeout.
func (c *persistentChannel) dial(url string) (transport.Conn, error) {
	c.stats.connectAttempts.Add(1)

	dialCtx, cancel := context.WithTimeout(c.runCtx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.dialer.Dial(dialCtx, url)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordConnect(c.name, false)
		}
		if errors.CodeOf(err) == errors.CodeUnknown {
			err = errors.WrapCode(err, errors.CodeConnectFailed, "connection", "dial", "dial "+url)
		}
		return nil, err
	}

	c.stats.connectSuccesses.Add(1)
	c.stats.lastConnectedAt.Store(timestamp.Now())
	c.stats.recordActivity()
	if c.metrics != nil {
		c.metrics.RecordConnect(c.name, true)
	}
	return conn, nil
}

// serve owns one live socket until it is lost or the channel shuts down.
// Returns true when the channel is closing.
func (c *persistentChannel) serve(conn transport.Conn) bool {
	connCtx, connCancel := context.WithCancel(c.runCtx)
	defer connCancel()

	lost := make(chan error, 1)
	c.setConn(conn, lost)

	c.transition(StateConnected)
	c.readyOnce.Do(func() { close(c.ready) })
	c.logger.Info("connected", "remote", conn.RemoteAddr())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.readLoop(conn)
	}()
	go func() {
		defer wg.Done()
		c.heartbeatLoop(connCtx, conn)
	}()

	c.flushQueue(conn)

	closing := false
	var lossErr error
	select {
	case <-c.runCtx.Done():
		closing = true
	case lossErr = <-lost:
	}

	c.clearConn()
	_ = conn.Close()
	connCancel()
	wg.Wait()

	if closing {
		return true
	}

	c.stats.disconnects.Add(1)
	c.stats.reconnects.Add(1)
	c.stats.recordError(lossErr)
	if c.metrics != nil {
		c.metrics.RecordReconnect(c.name)
	}
	c.logger.Warn("connection lost", "remote", conn.RemoteAddr(), "error", lossErr)

	lostWrapped := errors.WrapCode(lossErr, errors.CodeConnectionLost,
		"connection", "serve", "connection lost")
	if failed := c.pending.failAllSent(lostWrapped); failed > 0 {
		c.logger.Debug("failed in-flight requests", "count", failed)
	}
	return false
}

// waitRetry transitions to Reconnecting and sleeps out the backoff delay.
// failures counts consecutive failed dials this outage; zero means the
// socket was just lost. Returns false when the channel closed mid-wait.
func (c *persistentChannel) waitRetry(failures int) bool {
	idx := failures - 1
	if idx < 0 {
		idx = 0
	}
	delay := c.policy.Delay(idx)

	c.transition(StateReconnecting)

	ev := events.New(events.TypeReconnectScheduled, c.name)
	ev.Attempt = failures + 1
	ev.DelayMs = delay.Milliseconds()
	c.emit(ev)
	c.logger.Info("reconnect scheduled", "attempt", failures+1, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.runCtx.Done():
		return false
	}
}

// readLoop is the sole reader of the socket. Responses resolve pending
// requests, pushes fan out to subscriptions, and a read error signals the
// run loop and ends the loop. Malformed frames are dropped; the socket
// stays up.
func (c *persistentChannel) readLoop(conn transport.Conn) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if stderrors.Is(err, transport.ErrMalformed) {
				c.logger.Warn("dropping malformed frame", "error", err)
				continue
			}
			c.signalLost(conn, err)
			return
		}

		c.stats.framesIn.Add(1)
		c.stats.recordActivity()
		if c.metrics != nil {
			c.metrics.RecordFrame(c.name, metric.DirectionReceived, payloadBytes(frame))
		}

		switch {
		case frame.IsResponse():
			if !c.pending.resolve(frame.ID, frame) {
				c.stats.unmatchedFrames.Add(1)
				c.logger.Debug("unmatched response frame", "id", frame.ID)
			}
		case frame.IsEvent():
			ev := Event{
				HandleID:   c.id,
				Type:       frame.Method,
				Payload:    frame.Params,
				ReceivedAt: timestamp.Now(),
			}
			if matched := c.subs.dispatch(ev); matched > 0 {
				c.stats.eventsDispatched.Add(uint64(matched))
			} else {
				c.stats.unmatchedFrames.Add(1)
			}
		default:
			// A frame carrying both an ID and a method would be a
			// server-side request; this is a client, so drop it.
			c.stats.unmatchedFrames.Add(1)
			c.logger.Debug("dropping unexpected frame", "id", frame.ID, "method", frame.Method)
		}
	}
}

// signalLost tells the run loop its socket died. Signals for sockets that
// are no longer current are dropped, as is everything after the first:
// one loss signal per connection is enough.
func (c *persistentChannel) signalLost(conn transport.Conn, err error) {
	c.connMu.RLock()
	current, lost := c.conn, c.lost
	c.connMu.RUnlock()
	if current != conn || lost == nil {
		return
	}
	select {
	case lost <- err:
	default:
	}
}

func (c *persistentChannel) setConn(conn transport.Conn, lost chan error) {
	c.connMu.Lock()
	c.conn, c.lost = conn, lost
	c.connMu.Unlock()
}

func (c *persistentChannel) clearConn() {
	c.connMu.Lock()
	c.conn, c.lost = nil, nil
	c.connMu.Unlock()
}

func (c *persistentChannel) currentConn() transport.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// Request sends one correlated request and waits for its response, the
// per-call deadline, or ctx. Every request resolves exactly once.
func (c *persistentChannel) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	start := time.Now()

	if err := c.checkUsable(method); err != nil {
		return nil, err
	}

	id, result := c.pending.register()
	frame, err := transport.NewRequest(id, method, params)
	if err != nil {
		c.pending.remove(id)
		return nil, errors.WrapInvalid(err, "connection", "Request", "encode params")
	}

	c.stats.requestsSent.Add(1)

	if err := c.dispatch(id, frame); err != nil {
		c.pending.remove(id)
		c.recordRequestFailure(method, err, start)
		return nil, err
	}

	return c.await(ctx, id, method, result, start)
}

// dispatch writes the frame now when a socket is up, otherwise queues it
// for the flush that runs on the next Connected transition. The queue
// bound is the backpressure limit.
func (c *persistentChannel) dispatch(id uint64, frame *transport.Frame) error {
	if conn := c.currentConn(); conn != nil {
		return c.writeNow(conn, id, frame)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	// The socket may have come up on the way here. This late check under
	// sendMu pairs with serve's setConn-then-flush ordering, so a frame
	// can never be stranded in the queue while the channel is connected.
	if conn := c.currentConn(); conn != nil {
		return c.writeNow(conn, id, frame)
	}

	if len(c.sendQ) >= c.cfg.SendQueueSize {
		c.stats.backpressure.Add(1)
		return errors.WrapCode(nil, errors.CodeBackpressure,
			"connection", "Request", "send queue full")
	}
	c.sendQ = append(c.sendQ, queuedFrame{id: id, frame: frame})

	// A terminal teardown that raced the enqueue will never flush it.
	if c.State().Terminal() {
		c.sendQ = c.sendQ[:len(c.sendQ)-1]
		return errors.WrapCode(errors.ErrClosed, errors.CodeCancelled,
			"connection", "Request", "channel closed")
	}
	c.reportQueueDepth(len(c.sendQ))
	return nil
}

// writeNow puts one frame on the wire, marking its pending entry sent
// first so a loss racing the write still fails it promptly.
func (c *persistentChannel) writeNow(conn transport.Conn, id uint64, frame *transport.Frame) error {
	c.pending.markSent(id)
	if err := conn.WriteFrame(frame); err != nil {
		c.signalLost(conn, err)
		return errors.WrapCode(err, errors.CodeConnectionLost,
			"connection", "Request", "write frame")
	}
	c.recordFrameOut(frame)
	return nil
}

// flushQueue writes queued frames FIFO on a fresh socket. On a write
// failure the failed frame resolves with the loss and the remainder stays
// queued, unsent, for the next connection.
func (c *persistentChannel) flushQueue(conn transport.Conn) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	for len(c.sendQ) > 0 {
		item := c.sendQ[0]
		c.sendQ = c.sendQ[1:]
		c.pending.markSent(item.id)
		if err := conn.WriteFrame(item.frame); err != nil {
			c.signalLost(conn, err)
			c.pending.fail(item.id, errors.WrapCode(err, errors.CodeConnectionLost,
				"connection", "flush", "write queued frame"))
			break
		}
		c.recordFrameOut(item.frame)
	}
	if len(c.sendQ) == 0 {
		c.sendQ = nil
	}
	c.reportQueueDepth(len(c.sendQ))
}

// await blocks until the pending entry resolves, the per-call deadline
// passes, or ctx ends. Losing the removal race to a resolver means the
// result is already in the buffer, so it is read instead: exactly one
// outcome per request.
func (c *persistentChannel) await(ctx context.Context, id uint64, method string,
	result <-chan pendingResult, start time.Time) (json.RawMessage, error) {

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-result:
		return c.finishRequest(method, res, start)
	case <-timer.C:
		if c.pending.remove(id) {
			err := errors.WrapCode(nil, errors.CodeRequestTimeout,
				"connection", "Request", method)
			c.recordRequestFailure(method, err, start)
			return nil, err
		}
	case <-ctx.Done():
		if c.pending.remove(id) {
			code := errors.CodeCancelled
			if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
				code = errors.CodeRequestTimeout
			}
			err := errors.WrapCode(ctx.Err(), code, "connection", "Request", method)
			c.recordRequestFailure(method, err, start)
			return nil, err
		}
	}

	res := <-result
	return c.finishRequest(method, res, start)
}

// finishRequest converts a resolution into the caller-facing result and
// books the outcome.
func (c *persistentChannel) finishRequest(method string, res pendingResult, start time.Time) (json.RawMessage, error) {
	if res.err != nil {
		c.recordRequestFailure(method, res.err, start)
		return nil, res.err
	}
	if res.frame.Error != nil {
		c.recordRequestFailure(method, res.frame.Error, start)
		return nil, res.frame.Error
	}

	elapsed := time.Since(start)
	c.stats.requestsSucceeded.Add(1)
	c.stats.observeLatency(elapsed)
	c.stats.recordActivity()
	if c.metrics != nil {
		c.metrics.RecordRequest(c.name, metric.OutcomeSuccess, elapsed)
	}
	return res.frame.Result, nil
}

// Subscribe registers a consumer of unsolicited wire events.
func (c *persistentChannel) Subscribe(filter Filter, opts ...SubscribeOption) (*Subscription, error) {
	switch c.State() {
	case StateClosed:
		return nil, errors.WrapCode(errors.ErrClosed, errors.CodeCancelled,
			"connection", "Subscribe", "subscribe")
	case StateFailed:
		return nil, errors.WrapCode(nil, errors.CodeRetryBudgetExhausted,
			"connection", "Subscribe", "subscribe")
	}

	options := subscribeOptions{bufferSize: c.cfg.SubscriptionBufferSize}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.bufferSize <= 0 {
		options.bufferSize = c.cfg.SubscriptionBufferSize
	}

	sub, ok := c.subs.add(filter, options.bufferSize, c.noteDrop)
	if !ok {
		return nil, errors.WrapCode(errors.ErrClosed, errors.CodeCancelled,
			"connection", "Subscribe", "subscribe")
	}
	c.logger.Debug("subscription added", "subscription", sub.ID(), "types", filter.Types)
	return sub, nil
}

// noteDrop books one overflow eviction on a subscription.
func (c *persistentChannel) noteDrop(sub *Subscription) {
	c.stats.eventsDropped.Add(1)
	if c.metrics != nil {
		c.metrics.RecordEventDropped(c.name, sub.ID())
	}

	ev := events.New(events.TypeEventsDropped, c.name)
	ev.Subscription = sub.ID()
	ev.Dropped = sub.Dropped()
	c.emit(ev)
}

// WaitReady blocks until the first successful connect, a terminal state,
// or ctx.
func (c *persistentChannel) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		if c.State().Terminal() {
			return c.terminalError()
		}
		return nil
	case <-c.done:
		return c.terminalError()
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "connection", "WaitReady", "wait for connect")
	}
}

// terminalError describes why the channel stopped.
func (c *persistentChannel) terminalError() error {
	if c.State() == StateFailed {
		return errors.WrapCode(nil, errors.CodeRetryBudgetExhausted,
			"connection", "WaitReady", "channel failed")
	}
	return errors.WrapCode(errors.ErrClosed, errors.CodeCancelled,
		"connection", "WaitReady", "channel closed")
}

// fail parks the channel in Failed after the retry budget runs out and
// drains everything waiting on it.
func (c *persistentChannel) fail(cause error) {
	c.transition(StateFailed)

	err := errors.WrapCode(cause, errors.CodeRetryBudgetExhausted,
		"connection", "run", "reconnect "+c.name)
	c.stats.recordError(err)

	ev := events.New(events.TypeRetryBudgetExhausted, c.name)
	ev.Error = health.SanitizeError(err.Error())
	ev.Attempt = c.policy.MaxAttempts
	c.emit(ev)
	c.logger.Error("retry budget exhausted", "max_attempts", c.policy.MaxAttempts, "error", cause)

	c.discardQueue()
	c.pending.failAll(err)
	c.subs.closeAll()
}

// Close transitions to Closed, stops the run loop, and drains pending
// requests, the queue, and subscriptions. ctx bounds how long to wait for
// loop teardown; the loop keeps winding down in the background after a
// ctx expiry.
func (c *persistentChannel) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.transition(StateClosed)
		c.runCancel()

		cancelErr := errors.WrapCode(errors.ErrClosed, errors.CodeCancelled,
			"connection", "Close", "close channel")
		c.discardQueue()
		c.pending.failAll(cancelErr)
		c.subs.closeAll()
	})

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "connection", "Close", "wait for loop teardown")
	}
}

func (c *persistentChannel) discardQueue() {
	c.sendMu.Lock()
	c.sendQ = nil
	c.sendMu.Unlock()
	c.reportQueueDepth(0)
}

func (c *persistentChannel) queueDepth() int {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return len(c.sendQ)
}

func (c *persistentChannel) subscriptionCount() int {
	return c.subs.size()
}

func (c *persistentChannel) reportQueueDepth(depth int) {
	if c.metrics != nil {
		c.metrics.RecordSendQueueDepth(c.name, depth)
	}
}

func (c *persistentChannel) recordFrameOut(frame *transport.Frame) {
	c.stats.framesOut.Add(1)
	c.stats.recordActivity()
	if c.metrics != nil {
		c.metrics.RecordFrame(c.name, metric.DirectionSent, payloadBytes(frame))
	}
}

// payloadBytes approximates a frame's wire size for traffic metrics; the
// fixed envelope overhead is not counted.
func payloadBytes(f *transport.Frame) int {
	return len(f.Params) + len(f.Result)
}
