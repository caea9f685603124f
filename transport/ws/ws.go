// Package ws implements the transport contracts over WebSocket using
// gorilla/websocket.
package ws

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/connkit/errors"
	"github.com/c360/connkit/transport"
)

// Defaults applied when the Dialer leaves fields zero.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
)

// Dialer dials WebSocket connections. The zero value is usable.
type Dialer struct {
	// HandshakeTimeout bounds the WebSocket upgrade.
	HandshakeTimeout time.Duration

	// WriteTimeout is applied per frame write on connections this
	// dialer creates.
	WriteTimeout time.Duration

	// ReadLimit caps inbound message size in bytes. Zero means the
	// gorilla default (no limit).
	ReadLimit int64

	// Header is sent with the upgrade request, typically auth headers.
	Header http.Header

	// TLS is used for wss URLs. Nil means default verification.
	TLS *tls.Config

	Logger *slog.Logger
}

var _ transport.Dialer = (*Dialer)(nil)

// Dial establishes a WebSocket connection to the given ws or wss URL.
func (d *Dialer) Dial(ctx context.Context, rawURL string) (transport.Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = DefaultHandshakeTimeout
	}
	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}

	wsDialer := websocket.Dialer{
		HandshakeTimeout: handshake,
		TLSClientConfig:  d.TLS,
	}

	header := http.Header{}
	for k, vs := range d.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	wsConn, resp, err := wsDialer.DialContext(ctx, rawURL, header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.WrapCode(err, errors.CodeConnectFailed,
			"ws", "Dial", fmt.Sprintf("dial %s", rawURL))
	}

	if d.ReadLimit > 0 {
		wsConn.SetReadLimit(d.ReadLimit)
	}

	c := &conn{
		ws:           wsConn,
		writeTimeout: writeTimeout,
		logger:       logger,
		pongs:        make(chan struct{}, 1),
	}

	// Pongs are surfaced to the heartbeat monitor; the tick is dropped
	// if the monitor is not currently waiting.
	wsConn.SetPongHandler(func(string) error {
		select {
		case c.pongs <- struct{}{}:
		default:
		}
		return nil
	})

	logger.Debug("websocket connected", "url", rawURL)

	return c, nil
}

// conn adapts a gorilla connection to transport.Conn.
type conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	logger       *slog.Logger

	// Write serialization
	writeMu sync.Mutex

	pongs     chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

var _ transport.Conn = (*conn)(nil)

// ReadFrame blocks until a frame arrives. Only one goroutine may call it.
func (c *conn) ReadFrame() (*transport.Frame, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if c.closed.Load() {
			return nil, transport.ErrConnClosed
		}
		return nil, errors.WrapCode(err, errors.CodeConnectionLost,
			"ws", "ReadFrame", "read frame")
	}

	c.bytesRead.Add(uint64(len(data)))

	var f transport.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrMalformed, err)
	}
	return &f, nil
}

// WriteFrame sends one frame, serialized against concurrent writers.
func (c *conn) WriteFrame(f *transport.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return errors.WrapInvalid(err, "ws", "WriteFrame", "marshal frame")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return transport.ErrConnClosed
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.WrapCode(err, errors.CodeConnectionLost,
			"ws", "WriteFrame", "write frame")
	}

	c.bytesWritten.Add(uint64(len(data)))
	return nil
}

// Ping sends a WebSocket ping control frame. Control writes are safe
// concurrently with data writes, so no write lock is taken.
func (c *conn) Ping(deadline time.Time) error {
	if c.closed.Load() {
		return transport.ErrConnClosed
	}
	if err := c.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
		return errors.WrapCode(err, errors.CodeConnectionLost,
			"ws", "Ping", "write ping")
	}
	return nil
}

func (c *conn) Pongs() <-chan struct{} {
	return c.pongs
}

func (c *conn) Counters() (read, written uint64) {
	return c.bytesRead.Load(), c.bytesWritten.Load()
}

func (c *conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Close sends a normal closure message and tears down the connection.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.ws.Close()
	})
	return err
}
