package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/connkit/errors"
	"github.com/c360/connkit/pkg/worker"
)

// DefaultSubjectPrefix is where NATSSink publishes when not overridden.
// The event type is appended: connkit.events.state_changed and so on.
const DefaultSubjectPrefix = "connkit.events"

// publisher is the slice of *nats.Conn the sink needs. Tests substitute
// a recorder.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events as JSON messages on a NATS connection. Emit
// hands the event to a bounded worker pool and returns immediately, so a
// slow or disconnected broker can never stall a connection goroutine;
// events that do not fit in the queue are dropped.
type NATSSink struct {
	pub           publisher
	subjectPrefix string
	logger        *slog.Logger
	workers       int
	queueSize     int
	pool          *worker.Pool[Event]
}

// NATSSinkOption configures a NATSSink.
type NATSSinkOption func(*NATSSink)

// WithSubjectPrefix overrides the subject prefix events are published
// under.
func WithSubjectPrefix(prefix string) NATSSinkOption {
	return func(s *NATSSink) {
		if prefix != "" {
			s.subjectPrefix = prefix
		}
	}
}

// WithLogger sets the logger for publish failures and drops.
func WithLogger(logger *slog.Logger) NATSSinkOption {
	return func(s *NATSSink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPublishWorkers sizes the publishing pool.
func WithPublishWorkers(workers, queueSize int) NATSSinkOption {
	return func(s *NATSSink) {
		s.workers = workers
		s.queueSize = queueSize
	}
}

// NewNATSSink returns a sink publishing on conn. Call Start before
// emitting and Close when done.
func NewNATSSink(conn *nats.Conn, opts ...NATSSinkOption) *NATSSink {
	return newNATSSink(conn, opts...)
}

func newNATSSink(pub publisher, opts ...NATSSinkOption) *NATSSink {
	s := &NATSSink{
		pub:           pub,
		subjectPrefix: DefaultSubjectPrefix,
		logger:        slog.Default(),
		workers:       2,
		queueSize:     256,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = worker.NewPool[Event](s.workers, s.queueSize, s.publish)
	return s
}

// Start launches the publishing workers. The context bounds all
// publication.
func (s *NATSSink) Start(ctx context.Context) error {
	return s.pool.Start(ctx)
}

// Emit queues ev for publication. Events emitted before Start or while
// the queue is full are dropped.
func (s *NATSSink) Emit(ev Event) {
	if err := s.pool.Submit(ev); err != nil {
		s.logger.Debug("lifecycle event dropped",
			"type", ev.Type,
			"channel", ev.Channel,
			"error", err)
	}
}

// Close stops the workers, waiting up to timeout for queued events to
// drain.
func (s *NATSSink) Close(timeout time.Duration) error {
	return s.pool.Stop(timeout)
}

// Stats reports the publishing pool's counters.
func (s *NATSSink) Stats() worker.PoolStats {
	return s.pool.Stats()
}

func (s *NATSSink) publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.WrapInvalid(err, "NATSSink", "publish", "encode event")
	}
	subject := s.subjectPrefix + "." + string(ev.Type)
	if err := s.pub.Publish(subject, data); err != nil {
		s.logger.Warn("lifecycle event publish failed",
			"subject", subject,
			"channel", ev.Channel,
			"error", err)
		return errors.WrapTransient(err, "NATSSink", "publish", "publish event")
	}
	return nil
}
