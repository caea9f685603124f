package events

import (
	"context"
	"log/slog"
)

// SlogSink writes each event as one structured log record. Severity
// follows the event type: budget exhaustion logs at error, individual
// failures at warn, everything else at info.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink returns a sink logging through logger. A nil logger uses
// slog.Default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Emit logs ev with its non-empty fields as attributes.
func (s *SlogSink) Emit(ev Event) {
	attrs := make([]slog.Attr, 0, 8)
	attrs = append(attrs, slog.String("channel", ev.Channel))
	if ev.State != "" {
		attrs = append(attrs, slog.String("state", ev.State))
	}
	if ev.PrevState != "" {
		attrs = append(attrs, slog.String("prev_state", ev.PrevState))
	}
	if ev.Error != "" {
		attrs = append(attrs, slog.String("error", ev.Error))
	}
	if ev.Attempt != 0 {
		attrs = append(attrs, slog.Int("attempt", ev.Attempt))
	}
	if ev.DelayMs != 0 {
		attrs = append(attrs, slog.Int64("delay_ms", ev.DelayMs))
	}
	if ev.Subscription != "" {
		attrs = append(attrs, slog.String("subscription", ev.Subscription))
	}
	if ev.Dropped != 0 {
		attrs = append(attrs, slog.Uint64("dropped", ev.Dropped))
	}
	if ev.Method != "" {
		attrs = append(attrs, slog.String("method", ev.Method))
	}
	if ev.URL != "" {
		attrs = append(attrs, slog.String("url", ev.URL))
	}

	s.logger.LogAttrs(context.Background(), levelFor(ev.Type), string(ev.Type), attrs...)
}

func levelFor(typ Type) slog.Level {
	switch typ {
	case TypeRetryBudgetExhausted:
		return slog.LevelError
	case TypeConnectFailed, TypeHeartbeatMissed, TypeRequestFailed, TypeEventsDropped:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
