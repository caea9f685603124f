package connection

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/connkit/errors"
	"github.com/c360/connkit/events"
	"github.com/c360/connkit/pkg/backoff"
	"github.com/c360/connkit/transport"
	"github.com/c360/connkit/transport/transporttest"
)

const (
	testWait = 2 * time.Second
	testTick = 5 * time.Millisecond
)

// fastPolicy keeps reconnect cycles short and deterministic.
func fastPolicy() backoff.Policy {
	return backoff.Policy{
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2,
		JitterRatio:  0,
	}
}

// stalledPolicy keeps the channel waiting long enough for a test to inspect
// the disconnected side of its behavior.
func stalledPolicy() backoff.Policy {
	return backoff.Policy{
		InitialDelay: time.Second,
		MaxDelay:     time.Second,
		Multiplier:   1,
		JitterRatio:  0,
	}
}

func duplexConfig() Config {
	return Config{
		Name:              "test",
		Kind:              KindDuplex,
		DuplexURLs:        []string{"ws://primary.test/v1"},
		HeartbeatInterval: -1, // heartbeat tests opt in explicitly
		Reconnect:         fastPolicy(),
	}
}

// startChannel builds a persistent channel with test plumbing, starts its
// run loop, and ties teardown to the test.
func startChannel(t *testing.T, cfg Config, dialer transport.Dialer, sink events.Sink) *persistentChannel {
	t.Helper()
	cfg = cfg.withDefaults()
	require.NoError(t, cfg.Validate())

	if sink == nil {
		sink = events.NopSink{}
	}
	core := newChannelCore("h-"+cfg.Name, cfg.Name, testLogger(), sink, nil, newStatsCollector(), nil)
	ch := newPersistentChannel(core, cfg, dialer)
	ch.start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ch.Close(ctx)
	})
	return ch
}

// awaitConn waits for the dialer to hand out its next live connection.
func awaitConn(t *testing.T, dialer *transporttest.Dialer) *transporttest.Conn {
	t.Helper()
	select {
	case conn := <-dialer.Dials():
		return conn
	case <-time.After(testWait):
		t.Fatal("timed out waiting for a dial")
		return nil
	}
}

func echoResponder(req *transport.Frame) *transport.Frame {
	return &transport.Frame{ID: req.ID, Result: req.Params}
}

// requireSinkEvent reads sink events until one of the wanted type arrives.
func requireSinkEvent(t *testing.T, sink *events.ChanSink, typ events.Type) events.Event {
	t.Helper()
	deadline := time.After(testWait)
	for {
		select {
		case ev := <-sink.Events():
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event arrived", typ)
		}
	}
}

func TestPersistentChannel_ConnectsAndServesRequest(t *testing.T) {
	dialer := transporttest.NewDialer()
	ch := startChannel(t, duplexConfig(), dialer, nil)

	conn := awaitConn(t, dialer)
	conn.RespondFunc(echoResponder)

	ctx := context.Background()
	require.NoError(t, ch.WaitReady(ctx))
	assert.Equal(t, StateConnected, ch.State())

	result, err := ch.Request(ctx, "echo", map[string]string{"hello": "world"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, string(result))

	sent := conn.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "echo", sent[0].Method)
	assert.Equal(t, uint64(1), sent[0].ID)

	st := ch.stats.snapshot()
	assert.Equal(t, uint64(1), st.ConnectAttempts)
	assert.Equal(t, uint64(1), st.ConnectSuccesses)
	assert.Equal(t, uint64(1), st.RequestsSent)
	assert.Equal(t, uint64(1), st.RequestsSucceeded)
	assert.Equal(t, uint64(1), st.FramesOut)
	assert.Equal(t, uint64(1), st.FramesIn)
	assert.NotZero(t, st.LastConnectedAt)
}

func TestPersistentChannel_RemoteErrorSurfaces(t *testing.T) {
	dialer := transporttest.NewDialer()
	ch := startChannel(t, duplexConfig(), dialer, nil)
	conn := awaitConn(t, dialer)
	conn.RespondFunc(func(req *transport.Frame) *transport.Frame {
		return &transport.Frame{ID: req.ID, Error: &transport.FrameError{Code: -32601, Message: "no such method"}}
	})
	require.NoError(t, ch.WaitReady(context.Background()))

	_, err := ch.Request(context.Background(), "nope", nil)
	require.Error(t, err)

	var remote *transport.FrameError
	require.True(t, stderrors.As(err, &remote), "remote failures surface as FrameError")
	assert.Equal(t, -32601, remote.Code)
	assert.Equal(t, uint64(1), ch.stats.requestsFailed.Load())
}

func TestPersistentChannel_RequestTimeout(t *testing.T) {
	cfg := duplexConfig()
	cfg.RequestTimeout = 40 * time.Millisecond
	dialer := transporttest.NewDialer()
	ch := startChannel(t, cfg, dialer, nil)
	awaitConn(t, dialer) // no responder, so requests hang
	require.NoError(t, ch.WaitReady(context.Background()))

	_, err := ch.Request(context.Background(), "slow", nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeRequestTimeout, errors.CodeOf(err))
	assert.True(t, errors.IsTransient(err))

	assert.Equal(t, uint64(1), ch.stats.requestsTimedOut.Load())
	assert.Equal(t, 0, ch.pending.waiting(), "timed-out entry is reaped")
}

func TestPersistentChannel_CallerContextControls(t *testing.T) {
	dialer := transporttest.NewDialer()
	ch := startChannel(t, duplexConfig(), dialer, nil)
	awaitConn(t, dialer)
	require.NoError(t, ch.WaitReady(context.Background()))

	t.Run("cancel maps to cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		_, err := ch.Request(ctx, "hung", nil)
		require.Error(t, err)
		assert.Equal(t, errors.CodeCancelled, errors.CodeOf(err))
		assert.True(t, stderrors.Is(err, context.Canceled))
	})

	t.Run("deadline maps to request timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := ch.Request(ctx, "hung", nil)
		require.Error(t, err)
		assert.Equal(t, errors.CodeRequestTimeout, errors.CodeOf(err))
		assert.True(t, stderrors.Is(err, context.DeadlineExceeded))
	})
}

func TestPersistentChannel_UnroutableFramesAreCounted(t *testing.T) {
	dialer := transporttest.NewDialer()
	ch := startChannel(t, duplexConfig(), dialer, nil)
	conn := awaitConn(t, dialer)
	require.NoError(t, ch.WaitReady(context.Background()))

	// An event nobody subscribed to, a response nobody is waiting for, and
	// a server-style frame carrying both members.
	conn.Deliver(&transport.Frame{Method: "orphan.event", Params: []byte(`{}`)})
	conn.Deliver(&transport.Frame{ID: 99, Result: []byte(`"late"`)})
	conn.Deliver(&transport.Frame{ID: 7, Method: "srv.ping"})

	require.Eventually(t, func() bool {
		return ch.stats.unmatchedFrames.Load() == 3
	}, testWait, testTick)
	assert.Equal(t, StateConnected, ch.State(), "unroutable frames never hurt the connection")
}

func TestPersistentChannel_QueuedRequestsFlushFIFO(t *testing.T) {
	cfg := duplexConfig()
	cfg.Reconnect = backoff.Policy{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     250 * time.Millisecond,
		Multiplier:   1,
		JitterRatio:  0,
	}
	dialer := transporttest.NewDialer()
	dialer.FailNext(1, nil)
	ch := startChannel(t, cfg, dialer, nil)

	// The first dial fails, leaving a backoff window to queue requests in
	// a known order.
	require.Eventually(t, func() bool { return dialer.DialCount() == 1 }, testWait, testTick)

	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		method := fmt.Sprintf("m%d", i)
		go func() {
			_, err := ch.Request(context.Background(), method, nil)
			results <- err
		}()
		want := i + 1
		require.Eventually(t, func() bool { return ch.queueDepth() == want }, testWait, testTick)
	}

	conn := awaitConn(t, dialer)
	require.Eventually(t, func() bool { return conn.SentCount() == 3 }, testWait, testTick)

	sent := conn.Sent()
	for i, frame := range sent {
		assert.Equal(t, fmt.Sprintf("m%d", i), frame.Method, "queued frames flush in arrival order")
	}

	for _, frame := range sent {
		conn.Deliver(&transport.Frame{ID: frame.ID, Result: []byte(`"ok"`)})
	}
	for i := 0; i < 3; i++ {
		select {
		case err := <-results:
			assert.NoError(t, err)
		case <-time.After(testWait):
			t.Fatal("queued request never resolved")
		}
	}
	assert.Equal(t, 0, ch.queueDepth())
}

func TestPersistentChannel_BackpressureWhenQueueFull(t *testing.T) {
	cfg := duplexConfig()
	cfg.SendQueueSize = 2
	cfg.Reconnect = stalledPolicy()
	dialer := transporttest.NewDialer()
	dialer.FailNext(1, nil)
	ch := startChannel(t, cfg, dialer, nil)

	require.Eventually(t, func() bool { return dialer.DialCount() == 1 }, testWait, testTick)

	for i := 0; i < 2; i++ {
		go func() {
			_, _ = ch.Request(context.Background(), "queued", nil)
		}()
		want := i + 1
		require.Eventually(t, func() bool { return ch.queueDepth() == want }, testWait, testTick)
	}

	_, err := ch.Request(context.Background(), "overflow", nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeBackpressure, errors.CodeOf(err))
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, uint64(1), ch.stats.backpressure.Load())
	assert.Equal(t, 2, ch.queueDepth(), "rejected request left the queue untouched")
}

func TestPersistentChannel_ConnectionLossFailsInFlightRequests(t *testing.T) {
	dialer := transporttest.NewDialer()
	ch := startChannel(t, duplexConfig(), dialer, nil)
	conn := awaitConn(t, dialer)
	require.NoError(t, ch.WaitReady(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := ch.Request(context.Background(), "inflight", nil)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return conn.SentCount() == 1 }, testWait, testTick)

	conn.Break(nil)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Equal(t, errors.CodeConnectionLost, errors.CodeOf(err))
		assert.True(t, errors.IsTransient(err), "lost requests are safe to retry")
	case <-time.After(testWait):
		t.Fatal("in-flight request survived the connection loss")
	}

	// The channel recovers on its own.
	awaitConn(t, dialer)
	require.Eventually(t, func() bool { return ch.State() == StateConnected }, testWait, testTick)
	assert.Equal(t, uint64(1), ch.stats.disconnects.Load())
	assert.Equal(t, uint64(1), ch.stats.reconnects.Load())
}

func TestPersistentChannel_WriteFailureFailsFastAndReconnects(t *testing.T) {
	dialer := transporttest.NewDialer()
	ch := startChannel(t, duplexConfig(), dialer, nil)
	conn := awaitConn(t, dialer)
	require.NoError(t, ch.WaitReady(context.Background()))

	conn.FailWrites(stderrors.New("broken pipe"))

	_, err := ch.Request(context.Background(), "doomed", nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConnectionLost, errors.CodeOf(err))

	awaitConn(t, dialer)
	require.Eventually(t, func() bool { return ch.State() == StateConnected }, testWait, testTick)
}

func TestPersistentChannel_ReconnectPreservesSubscriptions(t *testing.T) {
	dialer := transporttest.NewDialer()
	sink := events.NewChanSink(128)
	ch := startChannel(t, duplexConfig(), dialer, sink)

	first := awaitConn(t, dialer)
	require.NoError(t, ch.WaitReady(context.Background()))

	sub, err := ch.Subscribe(Filter{Types: []string{"tick"}})
	require.NoError(t, err)

	first.Deliver(&transport.Frame{Method: "tick", Params: []byte(`{"seq":1}`)})
	ev := requireEvent(t, sub)
	assert.Equal(t, "tick", ev.Type)
	assert.Equal(t, "h-test", ev.HandleID)
	assert.NotZero(t, ev.ReceivedAt)

	first.Break(nil)
	second := awaitConn(t, dialer)
	require.Eventually(t, func() bool { return ch.State() == StateConnected }, testWait, testTick)
	require.NotSame(t, first, second)

	second.Deliver(&transport.Frame{Method: "tick", Params: []byte(`{"seq":2}`)})
	ev = requireEvent(t, sub)
	assert.JSONEq(t, `{"seq":2}`, string(ev.Payload))

	assert.Equal(t, uint64(0), sub.Dropped())
	assert.Equal(t, 1, ch.subscriptionCount())
	assert.Equal(t, uint64(2), ch.stats.eventsDispatched.Load())

	// The cycle was visible to observers.
	requireSinkEvent(t, sink, events.TypeReconnectScheduled)
}

func TestPersistentChannel_BackoffEnvelopeAndReset(t *testing.T) {
	cfg := duplexConfig()
	cfg.Reconnect = backoff.Policy{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Multiplier:   2,
		JitterRatio:  0,
	}
	dialer := transporttest.NewDialer()
	dialer.FailNext(4, nil)
	sink := events.NewChanSink(256)
	ch := startChannel(t, cfg, dialer, sink)

	// Four failures before the fifth dial succeeds: the scheduled delays
	// must double from the base and cap at MaxDelay.
	conn := awaitConn(t, dialer)
	require.NoError(t, ch.WaitReady(context.Background()))

	var delays []int64
	for i := 0; i < 4; i++ {
		ev := requireSinkEvent(t, sink, events.TypeReconnectScheduled)
		delays = append(delays, ev.DelayMs)
	}
	assert.Equal(t, []int64{10, 20, 40, 40}, delays)

	// A loss after a successful connect restarts the envelope at the base
	// delay: the failure streak reset.
	conn.Break(nil)
	ev := requireSinkEvent(t, sink, events.TypeReconnectScheduled)
	assert.Equal(t, int64(10), ev.DelayMs)
	awaitConn(t, dialer)
}

func TestPersistentChannel_URLRotation(t *testing.T) {
	cfg := duplexConfig()
	cfg.DuplexURLs = []string{"ws://a.test/v1", "ws://b.test/v1"}
	dialer := transporttest.NewDialer()
	dialer.FailNext(3, nil)
	ch := startChannel(t, cfg, dialer, nil)

	awaitConn(t, dialer)
	require.NoError(t, ch.WaitReady(context.Background()))

	assert.Equal(t, []string{"ws://a.test/v1", "ws://b.test/v1", "ws://a.test/v1", "ws://b.test/v1"},
		dialer.DialURLs(), "dial attempts rotate through the endpoint list")
}

func TestPersistentChannel_RetryBudgetExhausted(t *testing.T) {
	cfg := duplexConfig()
	cfg.Reconnect.MaxAttempts = 3
	dialer := transporttest.NewDialer()
	dialer.FailNext(10, nil)
	sink := events.NewChanSink(128)
	ch := startChannel(t, cfg, dialer, sink)

	sub, err := ch.Subscribe(Filter{})
	require.NoError(t, err, "subscribing while connecting is allowed")

	require.Eventually(t, func() bool { return ch.State() == StateFailed }, testWait, testTick)
	assert.Equal(t, 3, dialer.DialCount(), "the budget bounds dial attempts exactly")

	_, err = ch.Request(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeRetryBudgetExhausted, errors.CodeOf(err))
	assert.True(t, errors.IsFatal(err))

	_, err = ch.Subscribe(Filter{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeRetryBudgetExhausted, errors.CodeOf(err))

	err = ch.WaitReady(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.CodeRetryBudgetExhausted, errors.CodeOf(err))

	// The existing subscription was torn down with the channel.
	require.Eventually(t, func() bool {
		select {
		case _, open := <-sub.Events():
			return !open
		default:
			return false
		}
	}, testWait, testTick)

	ev := requireSinkEvent(t, sink, events.TypeRetryBudgetExhausted)
	assert.Equal(t, 3, ev.Attempt)
}

func TestPersistentChannel_ConcurrentRequestsResolveExactlyOnceThroughClose(t *testing.T) {
	dialer := transporttest.NewDialer()
	ch := startChannel(t, duplexConfig(), dialer, nil)
	conn := awaitConn(t, dialer)

	// Answer only even request IDs; odd ones stay pending until Close
	// sweeps them, guaranteeing a mix of outcomes.
	conn.RespondFunc(func(req *transport.Frame) *transport.Frame {
		if req.ID%2 == 0 {
			return &transport.Frame{ID: req.ID, Result: req.Params}
		}
		return nil
	})
	require.NoError(t, ch.WaitReady(context.Background()))

	const n = 100
	var wg sync.WaitGroup
	var succeeded, failed atomic.Int64
	codes := make(chan errors.Code, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ch.Request(context.Background(), "echo", nil)
			if err == nil {
				succeeded.Add(1)
				return
			}
			failed.Add(1)
			codes <- errors.CodeOf(err)
		}()
	}

	time.Sleep(2 * time.Millisecond)
	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ch.Close(closeCtx))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("requests leaked past Close")
	}

	assert.Equal(t, int64(n), succeeded.Load()+failed.Load(), "every request resolves exactly once")
	assert.Positive(t, failed.Load(), "unanswered requests must fail at Close")

	close(codes)
	for code := range codes {
		assert.Contains(t,
			[]errors.Code{errors.CodeCancelled, errors.CodeConnectionLost, errors.CodeRequestTimeout},
			code)
	}
	assert.Equal(t, 0, ch.pending.waiting())
}

func TestPersistentChannel_CloseCancelsQueuedRequests(t *testing.T) {
	cfg := duplexConfig()
	cfg.Reconnect = stalledPolicy()
	dialer := transporttest.NewDialer()
	dialer.FailNext(1, nil)
	ch := startChannel(t, cfg, dialer, nil)

	require.Eventually(t, func() bool { return dialer.DialCount() == 1 }, testWait, testTick)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := ch.Request(context.Background(), "queued", nil)
			results <- err
		}()
		want := i + 1
		require.Eventually(t, func() bool { return ch.queueDepth() == want }, testWait, testTick)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ch.Close(ctx))

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			require.Error(t, err)
			assert.Equal(t, errors.CodeCancelled, errors.CodeOf(err))
			assert.True(t, stderrors.Is(err, errors.ErrClosed))
		case <-time.After(testWait):
			t.Fatal("queued request survived Close")
		}
	}
	assert.Equal(t, 0, ch.queueDepth())
}

func TestPersistentChannel_CloseIsIdempotentAndRejectsLateCalls(t *testing.T) {
	dialer := transporttest.NewDialer()
	ch := startChannel(t, duplexConfig(), dialer, nil)
	awaitConn(t, dialer)
	require.NoError(t, ch.WaitReady(context.Background()))

	ctx := context.Background()
	require.NoError(t, ch.Close(ctx))
	assert.Equal(t, StateClosed, ch.State())
	require.NoError(t, ch.Close(ctx), "closing twice is harmless at the channel layer")

	_, err := ch.Request(ctx, "late", nil)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrClosed))
	assert.Equal(t, errors.CodeCancelled, errors.CodeOf(err))

	_, err = ch.Subscribe(Filter{})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrClosed))

	err = ch.WaitReady(ctx)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrClosed))
}

func TestPersistentChannel_WaitReadyHonorsContext(t *testing.T) {
	dialer := transporttest.NewDialer()
	dialer.FailNext(1000, nil)
	ch := startChannel(t, duplexConfig(), dialer, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := ch.WaitReady(ctx)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, context.DeadlineExceeded))
}

func TestPersistentChannel_SlowSubscriberLosesOnlyItsOwnEvents(t *testing.T) {
	cfg := duplexConfig()
	dialer := transporttest.NewDialer()
	sink := events.NewChanSink(256)
	ch := startChannel(t, cfg, dialer, sink)
	conn := awaitConn(t, dialer)
	require.NoError(t, ch.WaitReady(context.Background()))

	fast, err := ch.Subscribe(Filter{})
	require.NoError(t, err)
	slow, err := ch.Subscribe(Filter{}, WithBufferSize(2))
	require.NoError(t, err)

	const total = 20
	received := make(chan Event, total)
	go func() {
		for ev := range fast.Events() {
			received <- ev
		}
	}()

	// Nobody reads the slow subscription while the burst lands.
	for i := 0; i < total; i++ {
		conn.Deliver(&transport.Frame{Method: "tick", Params: []byte(fmt.Sprintf(`{"seq":%d}`, i))})
	}

	for i := 0; i < total; i++ {
		select {
		case <-received:
		case <-time.After(testWait):
			t.Fatalf("fast subscriber stalled at event %d", i)
		}
	}

	require.Eventually(t, func() bool { return slow.Dropped() > 0 }, testWait, testTick)
	assert.Equal(t, uint64(0), fast.Dropped(), "a slow peer cannot cost the fast one data")
	assert.Equal(t, StateConnected, ch.State(), "overflow never feeds back into the connection")
	assert.Equal(t, slow.Dropped(), ch.stats.eventsDropped.Load())

	ev := requireSinkEvent(t, sink, events.TypeEventsDropped)
	assert.Equal(t, slow.ID(), ev.Subscription)
	assert.Positive(t, ev.Dropped)
}
