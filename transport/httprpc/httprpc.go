// Package httprpc implements the transport.Session interface over plain
// HTTP request/response. Each Call is one POST carrying a transport.Frame;
// the response body carries the matching response frame. Sessions hold a
// dedicated http.Client pinned to a single connection so a pooled session
// keeps connection affinity with the server.
package httprpc

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/c360/connkit/errors"
	"github.com/c360/connkit/transport"
)

const (
	// DefaultProbeTimeout bounds the reachability check in DialSession.
	DefaultProbeTimeout = 10 * time.Second

	// maxResponseBytes caps how much of a response body Call will read.
	maxResponseBytes = 16 << 20
)

// Dialer establishes HTTP sessions. The zero value is usable.
type Dialer struct {
	// ProbeTimeout bounds the reachability probe when the dial context
	// carries no deadline. Defaults to DefaultProbeTimeout.
	ProbeTimeout time.Duration

	// Header is sent with every request (authentication, tracing).
	Header http.Header

	// TLS configures https endpoints. Nil means default verification.
	TLS *tls.Config

	// Logger for session events. Defaults to slog.Default.
	Logger *slog.Logger
}

var _ transport.SessionDialer = (*Dialer)(nil)

// DialSession verifies the endpoint is reachable and returns a session
// bound to it. The probe is a HEAD request; any HTTP response counts as
// reachable, since the server answered.
func (d *Dialer) DialSession(ctx context.Context, rawURL string) (transport.Session, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.WrapCode(err, errors.CodeConfigInvalid, "httprpc", "DialSession", "parse url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.WrapCode(fmt.Errorf("unsupported scheme %q", parsed.Scheme),
			errors.CodeConfigInvalid, "httprpc", "DialSession", "parse url")
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     1,
			MaxIdleConnsPerHost: 1,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig:     d.TLS,
		},
	}

	s := &session{
		client: client,
		url:    rawURL,
		header: d.Header,
		logger: logger,
	}

	probeCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		timeout := d.ProbeTimeout
		if timeout <= 0 {
			timeout = DefaultProbeTimeout
		}
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := s.probe(probeCtx); err != nil {
		client.CloseIdleConnections()
		return nil, errors.WrapCode(err, errors.CodeConnectFailed, "httprpc", "DialSession", "probe "+rawURL)
	}

	logger.Debug("http session established", "url", rawURL)
	return s, nil
}

// session is one logical connection to an HTTP endpoint.
type session struct {
	client *http.Client
	url    string
	header http.Header
	logger *slog.Logger
	ids    atomic.Uint64
	closed atomic.Bool
}

var _ transport.Session = (*session)(nil)

// Call sends one request frame and decodes the response frame. A remote
// error frame is returned as a *transport.FrameError.
func (s *session) Call(ctx context.Context, method string, params, result any) error {
	if s.closed.Load() {
		return transport.ErrConnClosed
	}

	id := s.ids.Add(1)
	frame, err := transport.NewRequest(id, method, params)
	if err != nil {
		return errors.WrapInvalid(err, "httprpc", "Call", "build frame")
	}
	body, err := json.Marshal(frame)
	if err != nil {
		return errors.WrapInvalid(err, "httprpc", "Call", "encode frame")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return errors.WrapInvalid(err, "httprpc", "Call", "build request")
	}
	s.applyHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.WrapCode(err, callFailureCode(ctx), "httprpc", "Call", method)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := fmt.Errorf("unexpected status %s", resp.Status)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return errors.WrapCode(statusErr, errors.CodeConnectionLost, "httprpc", "Call", method)
		}
		return errors.WrapInvalid(statusErr, "httprpc", "Call", method)
	}

	var reply transport.Frame
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes))
	if err := dec.Decode(&reply); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrMalformed, err)
	}
	if reply.Error != nil {
		return reply.Error
	}
	if reply.ID != id {
		return fmt.Errorf("%w: response id %d does not match request id %d", transport.ErrMalformed, reply.ID, id)
	}
	if result != nil && len(reply.Result) > 0 {
		if err := json.Unmarshal(reply.Result, result); err != nil {
			return fmt.Errorf("%w: decode result: %v", transport.ErrMalformed, err)
		}
	}
	return nil
}

// Ping checks the endpoint is still answering.
func (s *session) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return transport.ErrConnClosed
	}
	if err := s.probe(ctx); err != nil {
		return errors.WrapCode(err, errors.CodeConnectionLost, "httprpc", "Ping", "probe "+s.url)
	}
	return nil
}

// Close releases the session's connection. Safe to call twice.
func (s *session) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.client.CloseIdleConnections()
		s.logger.Debug("http session closed", "url", s.url)
	}
	return nil
}

// probe issues a HEAD request and treats any HTTP response as success.
func (s *session) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return err
	}
	s.applyHeaders(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return resp.Body.Close()
}

func (s *session) applyHeaders(req *http.Request) {
	for key, values := range s.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
}

// callFailureCode maps a failed round trip to a taxonomy code based on
// why the context ended.
func callFailureCode(ctx context.Context) errors.Code {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return errors.CodeRequestTimeout
	case context.Canceled:
		return errors.CodeCancelled
	default:
		return errors.CodeConnectionLost
	}
}
