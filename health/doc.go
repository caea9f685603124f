// Package health provides health monitoring for connection handles with
// thread-safe status tracking and aggregation.
//
// # Health States
//
// The package supports three health states:
//   - Healthy: channel connected and responsive
//   - Degraded: channel recovering on its own (connecting, degraded, reconnecting)
//   - Unhealthy: channel disconnected, closed, or failed
//
// The three-state model lets operators distinguish "leave it alone, it is
// recovering" from "intervene now". A degraded channel still accepts work;
// an unhealthy one does not.
//
// # Basic Usage
//
//	monitor := health.NewMonitor()
//
//	monitor.UpdateHealthy("orders", "channel connected")
//	monitor.UpdateDegraded("telemetry", "channel reconnecting: heartbeat timed out")
//
//	if status, exists := monitor.Get("orders"); exists && status.IsHealthy() {
//	    log.Println("orders channel is healthy")
//	}
//
//	// Aggregate across all handles:
//	// - Any unhealthy handle → aggregate unhealthy
//	// - Any degraded handle (with no unhealthy) → aggregate degraded
//	// - All healthy → aggregate healthy
//	system := monitor.AggregateHealth("registry")
//
// # State Mapping
//
// FromSnapshot converts a channel state name and last error into a Status.
// The connection layer calls it on every state transition so the monitor
// always reflects the live state machine.
//
// # Security
//
// Error messages flowing through FromSnapshot are sanitized before exposure:
// URLs become [URL], file paths [PATH], IP addresses [IP], ports [PORT], and
// credential-shaped fragments [REDACTED]. Health output is often scraped
// into dashboards and logs; sanitization is not optional.
//
// # Thread Safety
//
// All Monitor operations are safe for concurrent use. Status values are
// immutable: WithMetrics and WithSubStatus return copies.
package health
