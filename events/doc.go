// Package events defines the lifecycle event records channels emit and
// the sinks that consume them.
//
// Every meaningful transition in a connection's life produces one Event:
// state changes, failed connect attempts, missed heartbeats, scheduled
// reconnects, subscription overflow, failed requests, and handle open and
// close. Events are flat JSON-tagged structs so the same record works for
// logs, channels, and message brokers.
//
// # Sinks
//
// A Sink receives events from connection goroutines inline, so Emit must
// never block. Four implementations cover the usual deployments:
//
//   - NopSink discards everything (the default).
//   - SlogSink writes one structured log record per event.
//   - ChanSink buffers events for an in-process consumer, dropping and
//     counting when the consumer lags.
//   - NATSSink publishes events to connkit.events.<type> subjects through
//     a bounded worker pool.
//
// MultiSink combines any of the above.
//
// # Usage
//
//	sink := events.NewMultiSink(
//		events.NewSlogSink(logger),
//		events.NewNATSSink(natsConn),
//	)
//	registry, err := connection.New(connection.WithEventSink(sink))
//
// Sinks never see credentials: emitters sanitize error text before
// building the event.
package events
