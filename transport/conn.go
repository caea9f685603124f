package transport

import (
	"context"
	"errors"
	"time"
)

// Transport-level sentinel errors.
var (
	// ErrMalformed marks an inbound frame that could not be decoded. The
	// connection itself is still usable; callers log and keep reading.
	ErrMalformed = errors.New("transport: malformed frame")

	// ErrConnClosed is returned by reads and writes after Close.
	ErrConnClosed = errors.New("transport: connection closed")
)

// Conn is a full-duplex framed connection. Exactly one goroutine may call
// ReadFrame; WriteFrame and Ping are safe for concurrent use.
type Conn interface {
	// ReadFrame blocks until a frame arrives or the connection dies.
	// A decode failure returns an error wrapping ErrMalformed and leaves
	// the connection usable; any other error means the connection is dead.
	ReadFrame() (*Frame, error)

	// WriteFrame sends one frame. Writes are serialized internally.
	WriteFrame(f *Frame) error

	// Ping sends a transport-level liveness probe. The deadline bounds
	// the control write, not the pong arrival.
	Ping(deadline time.Time) error

	// Pongs delivers a tick for each pong received. The channel stops
	// ticking when the connection dies; it is never closed.
	Pongs() <-chan struct{}

	// Counters returns cumulative payload bytes read and written.
	Counters() (read, written uint64)

	// RemoteAddr describes the peer for logging.
	RemoteAddr() string

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer establishes duplex connections for persistent channels.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Session is a single request/response session used by pooled channels.
// Sessions carry no server push and no correlation state; each Call is
// self-contained.
type Session interface {
	// Call sends a request and decodes the response result into result,
	// which may be nil when the caller only cares about success.
	Call(ctx context.Context, method string, params, result any) error

	// Ping probes session liveness.
	Ping(ctx context.Context) error

	// Close releases the session's resources.
	Close() error
}

// SessionDialer establishes sessions for pooled channels.
type SessionDialer interface {
	DialSession(ctx context.Context, url string) (Session, error)
}
