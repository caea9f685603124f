package transporttest

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/connkit/errors"
	"github.com/c360/connkit/transport"
)

// SessionDialer is a scriptable transport.SessionDialer.
type SessionDialer struct {
	mu        sync.Mutex
	sessions  []*Session
	dialErrs  []error
	dialCount int
	dialDelay time.Duration
}

var _ transport.SessionDialer = (*SessionDialer)(nil)

// NewSessionDialer returns a SessionDialer whose dials all succeed until
// scripted otherwise.
func NewSessionDialer() *SessionDialer {
	return &SessionDialer{}
}

// FailNext queues n dial failures. A nil err fails with ErrConnectFailed.
func (d *SessionDialer) FailNext(n int, err error) {
	if err == nil {
		err = errors.ErrConnectFailed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		d.dialErrs = append(d.dialErrs, err)
	}
}

// SetDialDelay makes every DialSession sleep first, for exercising
// acquire deadlines.
func (d *SessionDialer) SetDialDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialDelay = delay
}

// DialSession pops a scripted failure if one is queued, otherwise
// creates a live Session bound to url.
func (d *SessionDialer) DialSession(ctx context.Context, url string) (transport.Session, error) {
	d.mu.Lock()
	d.dialCount++
	delay := d.dialDelay
	if len(d.dialErrs) > 0 {
		err := d.dialErrs[0]
		d.dialErrs = d.dialErrs[1:]
		d.mu.Unlock()
		return nil, err
	}
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := NewSession(url)
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

// Sessions returns every Session this dialer has created, oldest first.
func (d *SessionDialer) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Session, len(d.sessions))
	copy(out, d.sessions)
	return out
}

// DialCount reports how many times DialSession was called, failures
// included.
func (d *SessionDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialCount
}

// SessionCall records one Call made against a Session.
type SessionCall struct {
	Method string
	Params json.RawMessage
}

// Session is a scriptable transport.Session that records its calls.
type Session struct {
	url string

	mu      sync.Mutex
	calls   []SessionCall
	callFn  func(ctx context.Context, method string, params, result any) error
	pingErr error

	closed atomic.Bool
}

var _ transport.Session = (*Session)(nil)

// NewSession returns a Session whose calls all succeed with an empty
// result until scripted otherwise.
func NewSession(url string) *Session {
	return &Session{url: url}
}

// SetCallFunc installs a handler invoked for every Call. The handler
// may populate result and return any error.
func (s *Session) SetCallFunc(fn func(ctx context.Context, method string, params, result any) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callFn = fn
}

// FailPings makes every subsequent Ping return err. A nil err restores
// normal pings.
func (s *Session) FailPings(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

// Calls returns a copy of every recorded call, oldest first.
func (s *Session) Calls() []SessionCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// URL returns the dialed URL.
func (s *Session) URL() string {
	return s.url
}

// Call records the invocation and delegates to the scripted handler.
func (s *Session) Call(ctx context.Context, method string, params, result any) error {
	if s.closed.Load() {
		return transport.ErrConnClosed
	}
	var raw json.RawMessage
	if params != nil {
		if data, err := json.Marshal(params); err == nil {
			raw = data
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, SessionCall{Method: method, Params: raw})
	fn := s.callFn
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, method, params, result)
	}
	return nil
}

// Ping fails only when scripted to.
func (s *Session) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return transport.ErrConnClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

// Close marks the session closed. Safe to call twice.
func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}
