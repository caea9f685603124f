package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label values for connect and request outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeTimeout      = "timeout"
	OutcomeBackpressure = "backpressure"
	OutcomeCancelled    = "cancelled"
)

// Direction label values for transport metrics.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Metrics contains all connection-level metrics (not application-specific)
type Metrics struct {
	// Channel metrics
	ChannelState    *prometheus.GaugeVec
	ConnectsTotal   *prometheus.CounterVec
	ReconnectsTotal *prometheus.CounterVec
	SendQueueDepth  *prometheus.GaugeVec

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Heartbeat metrics
	HeartbeatMisses *prometheus.CounterVec
	HeartbeatRTT    *prometheus.GaugeVec

	// Subscription metrics
	EventsDropped *prometheus.CounterVec

	// Pool metrics
	PoolAcquires *prometheus.CounterVec
	PoolSessions *prometheus.GaugeVec

	// Transport metrics
	BytesTotal  *prometheus.CounterVec
	FramesTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all connection metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ChannelState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "connkit",
				Subsystem: "channel",
				Name:      "state",
				Help: "Channel state (0=disconnected, 1=connecting, 2=connected, " +
					"3=degraded, 4=reconnecting, 5=closed, 6=failed)",
			},
			[]string{"channel"},
		),

		ConnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "connkit",
				Subsystem: "channel",
				Name:      "connects_total",
				Help:      "Total number of connect attempts by outcome",
			},
			[]string{"channel", "outcome"},
		),

		ReconnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "connkit",
				Subsystem: "channel",
				Name:      "reconnects_total",
				Help:      "Total number of reconnection cycles entered",
			},
			[]string{"channel"},
		),

		SendQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "connkit",
				Subsystem: "channel",
				Name:      "send_queue_depth",
				Help:      "Current depth of the bounded send queue",
			},
			[]string{"channel"},
		),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "connkit",
				Subsystem: "requests",
				Name:      "total",
				Help:      "Total number of requests by outcome",
			},
			[]string{"channel", "outcome"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "connkit",
				Subsystem: "requests",
				Name:      "duration_seconds",
				Help:      "Request round-trip duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"channel"},
		),

		HeartbeatMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "connkit",
				Subsystem: "heartbeat",
				Name:      "misses_total",
				Help:      "Total number of missed heartbeats",
			},
			[]string{"channel"},
		),

		HeartbeatRTT: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "connkit",
				Subsystem: "heartbeat",
				Name:      "rtt_milliseconds",
				Help:      "Last heartbeat round-trip time in milliseconds",
			},
			[]string{"channel"},
		),

		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "connkit",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Total number of events dropped from subscription buffers",
			},
			[]string{"channel", "subscription"},
		),

		PoolAcquires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "connkit",
				Subsystem: "pool",
				Name:      "acquires_total",
				Help:      "Total number of pool acquisitions by outcome",
			},
			[]string{"channel", "outcome"},
		),

		PoolSessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "connkit",
				Subsystem: "pool",
				Name:      "sessions",
				Help:      "Current number of live pooled sessions",
			},
			[]string{"channel"},
		),

		BytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "connkit",
				Subsystem: "transport",
				Name:      "bytes_total",
				Help:      "Total bytes over the wire by direction",
			},
			[]string{"channel", "direction"},
		),

		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "connkit",
				Subsystem: "transport",
				Name:      "frames_total",
				Help:      "Total frames over the wire by direction",
			},
			[]string{"channel", "direction"},
		),
	}
}

// RecordChannelState updates the channel state gauge
func (c *Metrics) RecordChannelState(channel string, state int) {
	c.ChannelState.WithLabelValues(channel).Set(float64(state))
}

// RecordConnect increments the connect attempt counter
func (c *Metrics) RecordConnect(channel string, success bool) {
	outcome := OutcomeFailure
	if success {
		outcome = OutcomeSuccess
	}
	c.ConnectsTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordReconnect increments the reconnection cycle counter
func (c *Metrics) RecordReconnect(channel string) {
	c.ReconnectsTotal.WithLabelValues(channel).Inc()
}

// RecordSendQueueDepth updates the send queue depth gauge
func (c *Metrics) RecordSendQueueDepth(channel string, depth int) {
	c.SendQueueDepth.WithLabelValues(channel).Set(float64(depth))
}

// RecordRequest records a completed request with its outcome and duration
func (c *Metrics) RecordRequest(channel, outcome string, duration time.Duration) {
	c.RequestsTotal.WithLabelValues(channel, outcome).Inc()
	c.RequestDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordHeartbeatMiss increments the missed heartbeat counter
func (c *Metrics) RecordHeartbeatMiss(channel string) {
	c.HeartbeatMisses.WithLabelValues(channel).Inc()
}

// RecordHeartbeatRTT updates the heartbeat round-trip gauge
func (c *Metrics) RecordHeartbeatRTT(channel string, rtt time.Duration) {
	c.HeartbeatRTT.WithLabelValues(channel).Set(float64(rtt.Milliseconds()))
}

// RecordEventDropped increments the dropped event counter
func (c *Metrics) RecordEventDropped(channel, subscription string) {
	c.EventsDropped.WithLabelValues(channel, subscription).Inc()
}

// RecordPoolAcquire increments the pool acquisition counter
func (c *Metrics) RecordPoolAcquire(channel, outcome string) {
	c.PoolAcquires.WithLabelValues(channel, outcome).Inc()
}

// RecordPoolSessions updates the live pooled session gauge
func (c *Metrics) RecordPoolSessions(channel string, sessions int) {
	c.PoolSessions.WithLabelValues(channel).Set(float64(sessions))
}

// RecordFrame counts a frame and its bytes in the given direction
func (c *Metrics) RecordFrame(channel, direction string, bytes int) {
	c.FramesTotal.WithLabelValues(channel, direction).Inc()
	c.BytesTotal.WithLabelValues(channel, direction).Add(float64(bytes))
}
