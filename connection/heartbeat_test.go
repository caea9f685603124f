package connection

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/connkit/events"
	"github.com/c360/connkit/transport/transporttest"
)

func heartbeatConfig() Config {
	cfg := duplexConfig()
	cfg.HeartbeatInterval = 25 * time.Millisecond
	cfg.HeartbeatTimeout = 50 * time.Millisecond
	return cfg
}

func TestHeartbeat_ProbesKeepHealthyChannelConnected(t *testing.T) {
	dialer := transporttest.NewDialer()
	ch := startChannel(t, heartbeatConfig(), dialer, nil)
	conn := awaitConn(t, dialer) // test conns answer pings by default
	require.NoError(t, ch.WaitReady(context.Background()))

	require.Eventually(t, func() bool { return conn.PingCount() >= 3 }, testWait, testTick)

	assert.Equal(t, StateConnected, ch.State())
	assert.Equal(t, uint64(0), ch.stats.heartbeatMisses.Load())
	assert.GreaterOrEqual(t, ch.stats.heartbeatProbes.Load(), uint64(3))
	assert.NotZero(t, ch.stats.lastHeartbeatAt.Load())
	assert.Equal(t, 1, dialer.DialCount(), "healthy probing never redials")
}

func TestHeartbeat_FirstMissDegradesPongRecovers(t *testing.T) {
	dialer := transporttest.NewDialer()
	sink := events.NewChanSink(128)
	ch := startChannel(t, heartbeatConfig(), dialer, sink)
	conn := awaitConn(t, dialer)
	require.NoError(t, ch.WaitReady(context.Background()))

	conn.SetAutoPong(false)
	require.Eventually(t, func() bool { return ch.State() == StateDegraded }, testWait, testTick)

	ev := requireSinkEvent(t, sink, events.TypeHeartbeatMissed)
	assert.Equal(t, 1, ev.Attempt)

	// Answer by hand until the loop sees a pong; it must recover in place
	// rather than redial.
	require.Eventually(t, func() bool {
		conn.SendPong()
		return ch.State() == StateConnected
	}, testWait, testTick)

	assert.Equal(t, 1, dialer.DialCount(), "recovery keeps the same socket")
	assert.GreaterOrEqual(t, ch.stats.heartbeatMisses.Load(), uint64(1))
}

func TestHeartbeat_SecondMissTearsConnectionDown(t *testing.T) {
	dialer := transporttest.NewDialer()
	ch := startChannel(t, heartbeatConfig(), dialer, nil)
	first := awaitConn(t, dialer)
	require.NoError(t, ch.WaitReady(context.Background()))

	first.SetAutoPong(false)

	// Two consecutive misses declare the socket dead; the run loop replaces
	// it with a fresh one that answers pings again.
	second := awaitConn(t, dialer)
	require.Eventually(t, func() bool { return ch.State() == StateConnected }, testWait, testTick)
	require.NotSame(t, first, second)

	assert.True(t, first.IsClosed())
	assert.GreaterOrEqual(t, ch.stats.heartbeatMisses.Load(), uint64(2))
	assert.Equal(t, uint64(1), ch.stats.reconnects.Load())

	st := ch.stats.snapshot()
	assert.Contains(t, st.LastError, "heartbeat")
}

func TestHeartbeat_ProbeWriteErrorTearsConnectionDown(t *testing.T) {
	dialer := transporttest.NewDialer()
	ch := startChannel(t, heartbeatConfig(), dialer, nil)
	first := awaitConn(t, dialer)
	require.NoError(t, ch.WaitReady(context.Background()))

	first.FailPings(stderrors.New("wedged socket"))

	awaitConn(t, dialer)
	require.Eventually(t, func() bool { return ch.State() == StateConnected }, testWait, testTick)
	assert.True(t, first.IsClosed())
	assert.Contains(t, ch.stats.snapshot().LastError, "wedged socket")
}

func TestHeartbeat_DisabledNeverProbes(t *testing.T) {
	cfg := duplexConfig() // HeartbeatInterval -1
	dialer := transporttest.NewDialer()
	ch := startChannel(t, cfg, dialer, nil)
	conn := awaitConn(t, dialer)
	require.NoError(t, ch.WaitReady(context.Background()))

	require.Never(t, func() bool { return conn.PingCount() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, uint64(0), ch.stats.heartbeatProbes.Load())
}
