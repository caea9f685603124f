package connection

import (
	"log/slog"
	"sync"
	"time"

	"github.com/c360/connkit/errors"
	"github.com/c360/connkit/events"
	"github.com/c360/connkit/health"
	"github.com/c360/connkit/metric"
)

// channelCore carries the identity and observability plumbing shared by
// the duplex and pooled channel implementations: structured logging,
// lifecycle events, Prometheus metrics, the per-handle stats collector,
// and the handle's health entry. It also owns the lifecycle state
// machine. Hybrid handles share one core's stats collector across both
// sides but keep separate state machines.
type channelCore struct {
	id      string
	name    string
	logger  *slog.Logger
	sink    events.Sink
	metrics *metric.Metrics
	stats   *statsCollector
	monitor *health.Monitor

	stateMu sync.RWMutex
	state   State
}

func newChannelCore(id, name string, logger *slog.Logger, sink events.Sink,
	metrics *metric.Metrics, stats *statsCollector, monitor *health.Monitor) *channelCore {
	return &channelCore{
		id:      id,
		name:    name,
		logger:  logger,
		sink:    sink,
		metrics: metrics,
		stats:   stats,
		monitor: monitor,
		state:   StateDisconnected,
	}
}

// State returns the channel's current lifecycle state.
func (c *channelCore) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// transition moves to a new state. Terminal states are sticky and moving
// to the current state is a no-op.
func (c *channelCore) transition(to State) {
	c.stateMu.Lock()
	from := c.state
	if from == to || from.Terminal() {
		c.stateMu.Unlock()
		return
	}
	c.state = to
	c.stateMu.Unlock()
	c.afterTransition(from, to)
}

// transitionIf moves only when the channel is in the expected state. The
// heartbeat monitor uses it so a late Degraded flip cannot clobber a
// teardown that already moved on.
func (c *channelCore) transitionIf(from, to State) bool {
	c.stateMu.Lock()
	if c.state != from {
		c.stateMu.Unlock()
		return false
	}
	c.state = to
	c.stateMu.Unlock()
	c.afterTransition(from, to)
	return true
}

func (c *channelCore) afterTransition(from, to State) {
	c.logger.Info("channel state changed", "from", from, "to", to)
	if c.metrics != nil {
		c.metrics.RecordChannelState(c.name, int(to))
	}
	c.updateHealth(to)

	ev := events.New(events.TypeStateChanged, c.name)
	ev.State = to.String()
	ev.PrevState = from.String()
	c.emit(ev)
}

// emit hands a lifecycle event to the sink. Sinks never block.
func (c *channelCore) emit(ev events.Event) {
	if c.sink != nil {
		c.sink.Emit(ev)
	}
}

// updateHealth refreshes the handle's entry on the health monitor. Hybrid
// handles report only their duplex side here, so their pooled core runs
// with a nil monitor.
func (c *channelCore) updateHealth(state State) {
	if c.monitor == nil {
		return
	}
	c.monitor.Update(c.name, health.FromSnapshot(c.name, state.String(),
		c.stats.lastErrorText(), c.stats.healthMetrics()))
}

// checkUsable rejects requests once the channel is terminal.
func (c *channelCore) checkUsable(method string) error {
	switch c.State() {
	case StateClosed:
		return errors.WrapCode(errors.ErrClosed, errors.CodeCancelled,
			"connection", "Request", method)
	case StateFailed:
		return errors.WrapCode(nil, errors.CodeRetryBudgetExhausted,
			"connection", "Request", method)
	}
	return nil
}

// recordRequestFailure routes a failed request into the right counter and
// emits a request_failed event.
func (c *channelCore) recordRequestFailure(method string, err error, start time.Time) {
	elapsed := time.Since(start)

	outcome := metric.OutcomeFailure
	switch errors.CodeOf(err) {
	case errors.CodeRequestTimeout:
		c.stats.requestsTimedOut.Add(1)
		outcome = metric.OutcomeTimeout
	case errors.CodeBackpressure:
		// The backpressure counter was bumped at the queue.
		outcome = metric.OutcomeBackpressure
	case errors.CodeCancelled:
		c.stats.requestsFailed.Add(1)
		outcome = metric.OutcomeCancelled
	case errors.CodePoolExhausted:
		// The exhaustion counter was bumped at the acquire.
		outcome = metric.OutcomeBackpressure
	default:
		c.stats.requestsFailed.Add(1)
	}
	c.stats.recordError(err)
	if c.metrics != nil {
		c.metrics.RecordRequest(c.name, outcome, elapsed)
	}

	ev := events.New(events.TypeRequestFailed, c.name)
	ev.Method = method
	ev.Error = health.SanitizeError(err.Error())
	c.emit(ev)
}
