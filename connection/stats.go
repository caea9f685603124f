package connection

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/c360/connkit/health"
	"github.com/c360/connkit/pkg/timestamp"
)

// latencyAlpha weights the newest request round trip in the moving average.
const latencyAlpha = 0.2

// Stats is an immutable per-handle snapshot. Counters are cumulative since
// Open; gauges reflect the moment the snapshot was taken. Timestamps are
// unix milliseconds, zero when the event never happened. There is no
// cross-handle aggregation here; that is the caller's concern.
type Stats struct {
	HandleID string `json:"handle_id"`
	Name     string `json:"name"`
	State    string `json:"state"`

	ConnectAttempts  uint64 `json:"connect_attempts"`
	ConnectSuccesses uint64 `json:"connect_successes"`
	Reconnects       uint64 `json:"reconnects"`
	Disconnects      uint64 `json:"disconnects"`

	HeartbeatProbes uint64 `json:"heartbeat_probes"`
	HeartbeatMisses uint64 `json:"heartbeat_misses"`

	RequestsSent      uint64 `json:"requests_sent"`
	RequestsSucceeded uint64 `json:"requests_succeeded"`
	RequestsFailed    uint64 `json:"requests_failed"`
	RequestsTimedOut  uint64 `json:"requests_timed_out"`
	Backpressure      uint64 `json:"backpressure_rejections"`

	FramesIn  uint64 `json:"frames_in"`
	FramesOut uint64 `json:"frames_out"`

	EventsDispatched uint64 `json:"events_dispatched"`
	EventsDropped    uint64 `json:"events_dropped"`
	UnmatchedFrames  uint64 `json:"unmatched_frames"`

	PoolAcquires  uint64 `json:"pool_acquires"`
	PoolCreates   uint64 `json:"pool_creates"`
	PoolDestroys  uint64 `json:"pool_destroys"`
	PoolExhausted uint64 `json:"pool_exhaustions"`

	SendQueueDepth    int `json:"send_queue_depth"`
	LiveSubscriptions int `json:"live_subscriptions"`
	PoolIdle          int `json:"pool_idle"`
	PoolLive          int `json:"pool_live"`

	// LatencyMs is a moving average over request round trips.
	LatencyMs float64 `json:"latency_ms,omitempty"`

	OpenedAt        int64 `json:"opened_at"`
	LastConnectedAt int64 `json:"last_connected_at,omitempty"`
	LastHeartbeatAt int64 `json:"last_heartbeat_at,omitempty"`
	LastErrorAt     int64 `json:"last_error_at,omitempty"`
	LastActivityAt  int64 `json:"last_activity_at,omitempty"`

	// LastError is sanitized: endpoints and credentials are redacted.
	LastError string `json:"last_error,omitempty"`
}

// statsCollector accumulates one handle's counters without locks. The
// duplex and pooled channels of a hybrid handle share one collector.
// Counter updates never take a channel mutex.
type statsCollector struct {
	connectAttempts  atomic.Uint64
	connectSuccesses atomic.Uint64
	reconnects       atomic.Uint64
	disconnects      atomic.Uint64

	heartbeatProbes atomic.Uint64
	heartbeatMisses atomic.Uint64

	requestsSent      atomic.Uint64
	requestsSucceeded atomic.Uint64
	requestsFailed    atomic.Uint64
	requestsTimedOut  atomic.Uint64
	backpressure      atomic.Uint64

	framesIn  atomic.Uint64
	framesOut atomic.Uint64

	eventsDispatched atomic.Uint64
	eventsDropped    atomic.Uint64
	unmatchedFrames  atomic.Uint64

	poolAcquires  atomic.Uint64
	poolCreates   atomic.Uint64
	poolDestroys  atomic.Uint64
	poolExhausted atomic.Uint64

	latencyBits atomic.Uint64

	openedAt        atomic.Int64
	lastConnectedAt atomic.Int64
	lastHeartbeatAt atomic.Int64
	lastErrorAt     atomic.Int64
	lastActivityAt  atomic.Int64

	lastError atomic.Value // string, raw; sanitized at snapshot
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.openedAt.Store(timestamp.Now())
	return s
}

// recordError stores the most recent error text and stamps it.
func (s *statsCollector) recordError(err error) {
	if err == nil {
		return
	}
	s.lastError.Store(err.Error())
	s.lastErrorAt.Store(timestamp.Now())
}

func (s *statsCollector) recordActivity() {
	s.lastActivityAt.Store(timestamp.Now())
}

// observeLatency folds one request round trip into the moving average.
func (s *statsCollector) observeLatency(d time.Duration) {
	sample := float64(d.Microseconds()) / 1000.0
	for {
		oldBits := s.latencyBits.Load()
		next := sample
		if oldBits != 0 {
			next = math.Float64frombits(oldBits)*(1-latencyAlpha) + sample*latencyAlpha
		}
		if s.latencyBits.CompareAndSwap(oldBits, math.Float64bits(next)) {
			return
		}
	}
}

// lastErrorText returns the raw last error, empty when none happened.
func (s *statsCollector) lastErrorText() string {
	if v, ok := s.lastError.Load().(string); ok {
		return v
	}
	return ""
}

// snapshot captures the counter and timestamp half of a Stats value. The
// caller fills in identity and gauge fields.
func (s *statsCollector) snapshot() Stats {
	return Stats{
		ConnectAttempts:  s.connectAttempts.Load(),
		ConnectSuccesses: s.connectSuccesses.Load(),
		Reconnects:       s.reconnects.Load(),
		Disconnects:      s.disconnects.Load(),

		HeartbeatProbes: s.heartbeatProbes.Load(),
		HeartbeatMisses: s.heartbeatMisses.Load(),

		RequestsSent:      s.requestsSent.Load(),
		RequestsSucceeded: s.requestsSucceeded.Load(),
		RequestsFailed:    s.requestsFailed.Load(),
		RequestsTimedOut:  s.requestsTimedOut.Load(),
		Backpressure:      s.backpressure.Load(),

		FramesIn:  s.framesIn.Load(),
		FramesOut: s.framesOut.Load(),

		EventsDispatched: s.eventsDispatched.Load(),
		EventsDropped:    s.eventsDropped.Load(),
		UnmatchedFrames:  s.unmatchedFrames.Load(),

		PoolAcquires:  s.poolAcquires.Load(),
		PoolCreates:   s.poolCreates.Load(),
		PoolDestroys:  s.poolDestroys.Load(),
		PoolExhausted: s.poolExhausted.Load(),

		LatencyMs: math.Float64frombits(s.latencyBits.Load()),

		OpenedAt:        s.openedAt.Load(),
		LastConnectedAt: s.lastConnectedAt.Load(),
		LastHeartbeatAt: s.lastHeartbeatAt.Load(),
		LastErrorAt:     s.lastErrorAt.Load(),
		LastActivityAt:  s.lastActivityAt.Load(),

		LastError: health.SanitizeError(s.lastErrorText()),
	}
}

// healthMetrics summarizes the collector for the health monitor.
func (s *statsCollector) healthMetrics() *health.Metrics {
	m := &health.Metrics{
		Uptime:            time.Duration(timestamp.Now()-s.openedAt.Load()) * time.Millisecond,
		ErrorCount:        int(s.requestsFailed.Load() + s.requestsTimedOut.Load()),
		Reconnects:        int64(s.reconnects.Load()),
		RequestsCompleted: int64(s.requestsSucceeded.Load()),
	}
	if at := s.lastActivityAt.Load(); at != 0 {
		m.LastActivity = timestamp.FromUnixMs(at)
	}
	return m
}
