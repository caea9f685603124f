// Package metric provides Prometheus metrics infrastructure for connection
// monitoring.
//
// # Overview
//
// The package has two layers:
//
//   - Core metrics: connection-level metrics (channel state, connects,
//     reconnects, request outcomes, heartbeats, pool usage, dropped events,
//     wire traffic) created once per registry and shared by all channels.
//   - Component metrics: applications embedding the library register their
//     own collectors through the MetricsRegistrar interface, namespaced by
//     component name so two components cannot collide silently.
//
// # Usage
//
//	registry := metric.NewMetricsRegistry()
//
//	// Core metrics are recorded by the connection layer automatically
//	// when a registry is attached. Manual recording is also possible:
//	registry.CoreMetrics().RecordConnect("orders", true)
//
//	// Expose over HTTP:
//	srv := metric.NewServer(9090, "/metrics", registry)
//	go srv.Start()
//	defer srv.Stop()
//
// Metric names follow the connkit_<subsystem>_<name> convention, for
// example connkit_channel_state and connkit_requests_duration_seconds.
// Every channel-scoped metric carries a "channel" label holding the
// channel name from its configuration.
//
// # Cardinality
//
// Labels are bounded: channel names come from configuration, outcomes and
// directions are fixed label sets. The one caller-influenced label is the
// subscription name on connkit_events_dropped_total; subscription names
// should be drawn from a small fixed set, not generated per request.
package metric
