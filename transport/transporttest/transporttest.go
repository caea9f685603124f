// Package transporttest provides scriptable in-memory implementations of
// the transport interfaces. Tests use them to exercise connection
// lifecycles without a network: dial failures, broken reads, suppressed
// pongs, and remote responses are all injected from the test body.
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

// Dialer is a scriptable transport.Dialer. Each successful Dial creates
// a fresh Conn and announces it on Dials.
type Dialer struct {
	mu        sync.Mutex
	conns     []*Conn
	dialErrs  []error
	dialURLs  []string
	dialCount int
	dials     chan *Conn
}

var _ transport.Dialer = (*Dialer)(nil)

// NewDialer returns a Dialer whose dials all succeed until scripted
// otherwise.
func NewDialer() *Dialer {
	return &Dialer{dials: make(chan *Conn, 16)}
}

// FailNext queues n dial failures. A nil err fails with ErrConnectFailed.
func (d *Dialer) FailNext(n int, err error) {
	if err == nil {
		err = errors.ErrConnectFailed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		d.dialErrs = append(d.dialErrs, err)
	}
}

// Dial pops a scripted failure if one is queued, otherwise creates a
// live Conn bound to url.
func (d *Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.dialCount++
	d.dialURLs = append(d.dialURLs, url)
	if len(d.dialErrs) > 0 {
		err := d.dialErrs[0]
		d.dialErrs = d.dialErrs[1:]
		d.mu.Unlock()
		return nil, err
	}
	conn := NewConn(url)
	d.conns = append(d.conns, conn)
	d.mu.Unlock()

	select {
	case d.dials <- conn:
	default:
	}
	return conn, nil
}

// Dials announces each successful dial. Buffered so dials never block.
func (d *Dialer) Dials() <-chan *Conn {
	return d.dials
}

// Conns returns every Conn this dialer has created, oldest first.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Conn, len(d.conns))
	copy(out, d.conns)
	return out
}

// LastConn returns the most recently dialed Conn, or nil.
func (d *Dialer) LastConn() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// DialCount reports how many times Dial was called, failures included.
func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialCount
}

// DialURLs reports the URL of every dial attempt in order.
func (d *Dialer) DialURLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.dialURLs))
	copy(out, d.dialURLs)
	return out
}

// Conn is a scriptable transport.Conn. Frames written by the code under
// test are recorded; frames for it to read are injected with Deliver.
type Conn struct {
	url string

	mu      sync.Mutex
	sent    []*transport.Frame
	respond func(*transport.Frame) *transport.Frame
	writeEr error
	pingErr error

	inbound chan *transport.Frame
	pongs   chan struct{}

	autoPong  atomic.Bool
	pingCount atomic.Int64

	breakOnce sync.Once
	broken    chan struct{}
	breakErr  error

	closeOnce sync.Once
	closedCh  chan struct{}
	closed    atomic.Bool

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

var _ transport.Conn = (*Conn)(nil)

// NewConn returns a Conn that answers pings with pongs until told not to.
func NewConn(url string) *Conn {
	c := &Conn{
		url:      url,
		inbound:  make(chan *transport.Frame, 64),
		pongs:    make(chan struct{}, 1),
		broken:   make(chan struct{}),
		closedCh: make(chan struct{}),
	}
	c.autoPong.Store(true)
	return c
}

// Deliver queues a frame for the next ReadFrame call.
func (c *Conn) Deliver(f *transport.Frame) {
	select {
	case c.inbound <- f:
		if data, err := json.Marshal(f); err == nil {
			c.bytesRead.Add(uint64(len(data)))
		}
	case <-c.closedCh:
	}
}

// Break makes all current and future reads fail with err, simulating
// the remote end dropping the connection. A nil err uses
// ErrConnectionLost. Only the first Break takes effect.
func (c *Conn) Break(err error) {
	if err == nil {
		err = errors.ErrConnectionLost
	}
	c.breakOnce.Do(func() {
		c.mu.Lock()
		c.breakErr = err
		c.mu.Unlock()
		close(c.broken)
	})
}

// RespondFunc installs an auto-responder: whenever a request frame is
// written, fn builds the reply and it is delivered as if read from the
// wire. Notifications (ID zero) are not answered.
func (c *Conn) RespondFunc(fn func(*transport.Frame) *transport.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.respond = fn
}

// FailWrites makes every subsequent WriteFrame return err. A nil err
// restores normal writes.
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeEr = err
}

// FailPings makes every subsequent Ping return err. A nil err restores
// normal pings.
func (c *Conn) FailPings(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingErr = err
}

// SetAutoPong controls whether Ping produces a pong tick. Turning it
// off simulates a peer that stops answering liveness probes.
func (c *Conn) SetAutoPong(on bool) {
	c.autoPong.Store(on)
}

// SendPong injects a pong tick directly, for tests that drive liveness
// by hand.
func (c *Conn) SendPong() {
	select {
	case c.pongs <- struct{}{}:
	default:
	}
}

// Sent returns a copy of every frame written so far, oldest first.
func (c *Conn) Sent() []*transport.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*transport.Frame, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentCount reports how many frames have been written.
func (c *Conn) SentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// PingCount reports how many pings have been issued.
func (c *Conn) PingCount() int64 {
	return c.pingCount.Load()
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// ReadFrame blocks until a frame is delivered, the conn breaks, or it
// closes.
func (c *Conn) ReadFrame() (*transport.Frame, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	case <-c.broken:
		c.mu.Lock()
		err := c.breakErr
		c.mu.Unlock()
		return nil, err
	case <-c.closedCh:
		return nil, transport.ErrConnClosed
	}
}

// WriteFrame records the frame and triggers the auto-responder when one
// is installed.
func (c *Conn) WriteFrame(f *transport.Frame) error {
	if c.closed.Load() {
		return transport.ErrConnClosed
	}

	c.mu.Lock()
	if c.writeEr != nil {
		err := c.writeEr
		c.mu.Unlock()
		return err
	}
	c.sent = append(c.sent, f)
	respond := c.respond
	c.mu.Unlock()

	if data, err := json.Marshal(f); err == nil {
		c.bytesWritten.Add(uint64(len(data)))
	}

	if respond != nil && f.ID != 0 {
		if reply := respond(f); reply != nil {
			c.Deliver(reply)
		}
	}
	return nil
}

// Ping counts the probe and, in auto-pong mode, answers it.
func (c *Conn) Ping(deadline time.Time) error {
	if c.closed.Load() {
		return transport.ErrConnClosed
	}
	c.mu.Lock()
	pingErr := c.pingErr
	c.mu.Unlock()
	if pingErr != nil {
		return pingErr
	}
	c.pingCount.Add(1)
	if c.autoPong.Load() {
		c.SendPong()
	}
	return nil
}

// Pongs surfaces pong ticks. Never closed.
func (c *Conn) Pongs() <-chan struct{} {
	return c.pongs
}

// Counters reports simulated byte totals.
func (c *Conn) Counters() (read, written uint64) {
	return c.bytesRead.Load(), c.bytesWritten.Load()
}

// RemoteAddr returns the dialed URL.
func (c *Conn) RemoteAddr() string {
	return c.url
}

// Close marks the conn closed and releases blocked readers.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closedCh)
	})
	return nil
}
