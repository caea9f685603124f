package connection

import (
	"context"
	"time"

	"github.com/c360/connkit/errors"
	"github.com/c360/connkit/events"
	"github.com/c360/connkit/pkg/timestamp"
	"github.com/c360/connkit/transport"
)

// heartbeatLoop probes liveness on one socket. The first missed probe
// degrades the channel, the second consecutive miss declares the
// connection lost, and a probe write error declares loss immediately. A
// pong in time resets the miss count and restores Degraded to Connected.
//
// The loop is per-connection: serve starts it fresh on every successful
// connect and cancels it at teardown, so Connecting and Reconnecting run
// no probes.
func (c *persistentChannel) heartbeatLoop(ctx context.Context, conn transport.Conn) {
	interval := c.cfg.HeartbeatInterval
	if interval <= 0 {
		return
	}
	timeout := c.cfg.HeartbeatTimeout

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pongs := conn.Pongs()
	misses := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// A pong left over from an earlier probe must not satisfy this one.
		select {
		case <-pongs:
		default:
		}

		c.stats.heartbeatProbes.Add(1)
		sentAt := time.Now()
		if err := conn.Ping(sentAt.Add(timeout)); err != nil {
			// Hard I/O error on the probe write; no point counting
			// misses, the socket is already gone.
			c.signalLost(conn, errors.WrapCode(err, errors.CodeHeartbeatTimeout,
				"connection", "heartbeat", "write probe"))
			return
		}

		timer := time.NewTimer(timeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case <-pongs:
			timer.Stop()
			misses = 0
			rtt := time.Since(sentAt)
			c.stats.lastHeartbeatAt.Store(timestamp.Now())
			c.stats.recordActivity()
			if c.metrics != nil {
				c.metrics.RecordHeartbeatRTT(c.name, rtt)
			}
			if c.transitionIf(StateDegraded, StateConnected) {
				c.logger.Info("heartbeat recovered", "rtt", rtt)
			}

		case <-timer.C:
			misses++
			c.stats.heartbeatMisses.Add(1)
			if c.metrics != nil {
				c.metrics.RecordHeartbeatMiss(c.name)
			}
			err := errors.WrapCode(nil, errors.CodeHeartbeatTimeout,
				"connection", "heartbeat", "await pong")
			c.stats.recordError(err)

			ev := events.New(events.TypeHeartbeatMissed, c.name)
			ev.Attempt = misses
			c.emit(ev)
			c.logger.Warn("heartbeat missed", "consecutive", misses, "timeout", timeout)

			if misses == 1 {
				c.transitionIf(StateConnected, StateDegraded)
				continue
			}
			c.signalLost(conn, err)
			return
		}
	}
}
