package connection

import (
	"encoding/base64"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/c360/connkit/errors"
	"github.com/c360/connkit/pkg/backoff"
	"github.com/c360/connkit/pkg/tlsutil"
)

// Kind selects which channel shapes a handle carries.
type Kind string

const (
	// KindDuplex is one persistent framed connection with reconnect.
	KindDuplex Kind = "duplex"

	// KindPooled is a bounded pool of request/response sessions.
	KindPooled Kind = "pooled"

	// KindHybrid carries both: requests ride the pool, subscriptions
	// ride the duplex connection.
	KindHybrid Kind = "hybrid"
)

// Defaults applied by withDefaults when a field is left zero.
const (
	DefaultConnectTimeout         = 30 * time.Second
	DefaultRequestTimeout         = 30 * time.Second
	DefaultAcquireTimeout         = 10 * time.Second
	DefaultHeartbeatInterval      = 30 * time.Second
	DefaultSendQueueSize          = 128
	DefaultPoolMinSize            = 1
	DefaultPoolMaxSize            = 10
	DefaultSubscriptionBufferSize = 256
)

// Auth configures outbound authentication, translated into an
// Authorization header on dials and session requests.
type Auth struct {
	// Scheme is "bearer", "basic", or empty for none.
	Scheme string `json:"scheme,omitempty"`

	// Token is the bearer token.
	Token string `json:"token,omitempty"`

	// Username and Password feed basic auth.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Config describes one connection handle. It is stored by value at Open, so
// later mutation by the caller has no effect on the running handle.
type Config struct {
	// Name labels the handle in logs, metrics, events, and health output.
	// Empty names get a short one derived from the handle ID at Open.
	Name string `json:"name,omitempty"`

	// Kind selects the channel shape. Empty means duplex.
	Kind Kind `json:"kind,omitempty"`

	// DuplexURLs lists failover endpoints for the persistent connection.
	// Dial attempt N uses URL N mod len(DuplexURLs).
	DuplexURLs []string `json:"duplex_urls,omitempty"`

	// RPCURLs lists endpoints for pooled sessions, rotated per session
	// construction.
	RPCURLs []string `json:"rpc_urls,omitempty"`

	// Headers are sent with every dial and session request.
	Headers map[string]string `json:"headers,omitempty"`

	// Auth adds an Authorization header alongside Headers.
	Auth Auth `json:"auth,omitempty"`

	// TLS configures client-side TLS for wss and https endpoints. Nil
	// means default verification against the system pool.
	TLS *tlsutil.Config `json:"tls,omitempty"`

	// ConnectTimeout bounds each dial attempt.
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty"`

	// RequestTimeout bounds each request round trip. A request context
	// with an earlier deadline tightens it per call.
	RequestTimeout time.Duration `json:"request_timeout,omitempty"`

	// AcquireTimeout bounds waiting for a pooled session.
	AcquireTimeout time.Duration `json:"acquire_timeout,omitempty"`

	// HeartbeatInterval is the liveness probe period on duplex channels.
	// Zero means DefaultHeartbeatInterval; negative disables heartbeats.
	HeartbeatInterval time.Duration `json:"heartbeat_interval,omitempty"`

	// HeartbeatTimeout is how long a probe may go unanswered before it
	// counts as missed. Zero means twice the interval.
	HeartbeatTimeout time.Duration `json:"heartbeat_timeout,omitempty"`

	// Reconnect governs the delay between dial attempts. The zero value
	// means backoff.DefaultPolicy.
	Reconnect backoff.Policy `json:"reconnect,omitempty"`

	// SendQueueSize bounds requests queued while the duplex channel is
	// Connecting or Reconnecting. A full queue rejects with
	// CodeBackpressure.
	SendQueueSize int `json:"send_queue_size,omitempty"`

	// PoolMinSize sessions are pre-warmed asynchronously at Open;
	// PoolMaxSize is a hard cap on live sessions.
	PoolMinSize int `json:"pool_min_size,omitempty"`
	PoolMaxSize int `json:"pool_max_size,omitempty"`

	// SubscriptionBufferSize is the per-subscription event buffer
	// capacity. Overflow evicts the oldest buffered event.
	SubscriptionBufferSize int `json:"subscription_buffer_size,omitempty"`
}

// Clone returns a deep copy so the registry's stored config cannot be
// mutated through shared slices or maps.
func (c Config) Clone() Config {
	out := c
	out.DuplexURLs = slices.Clone(c.DuplexURLs)
	out.RPCURLs = slices.Clone(c.RPCURLs)
	out.Headers = maps.Clone(c.Headers)
	if c.TLS != nil {
		tlsCopy := *c.TLS
		tlsCopy.CAFiles = slices.Clone(c.TLS.CAFiles)
		out.TLS = &tlsCopy
	}
	return out
}

// withDefaults returns a copy with every zero field replaced by its
// default. The copy is deep, so the result is safe to retain.
func (c Config) withDefaults() Config {
	out := c.Clone()
	if out.Kind == "" {
		out.Kind = KindDuplex
	}
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = DefaultConnectTimeout
	}
	if out.RequestTimeout == 0 {
		out.RequestTimeout = DefaultRequestTimeout
	}
	if out.AcquireTimeout == 0 {
		out.AcquireTimeout = DefaultAcquireTimeout
	}
	if out.HeartbeatInterval == 0 {
		out.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if out.HeartbeatTimeout == 0 && out.HeartbeatInterval > 0 {
		out.HeartbeatTimeout = 2 * out.HeartbeatInterval
	}
	if out.Reconnect == (backoff.Policy{}) {
		out.Reconnect = backoff.DefaultPolicy()
	}
	if out.SendQueueSize == 0 {
		out.SendQueueSize = DefaultSendQueueSize
	}
	if out.PoolMinSize == 0 {
		out.PoolMinSize = DefaultPoolMinSize
	}
	if out.PoolMaxSize == 0 {
		out.PoolMaxSize = DefaultPoolMaxSize
	}
	if out.SubscriptionBufferSize == 0 {
		out.SubscriptionBufferSize = DefaultSubscriptionBufferSize
	}
	return out
}

// Validate checks the config for structural problems. It runs after
// withDefaults at Open, so zero fields are legal here; only contradictory
// or malformed values fail. All failures carry CodeConfigInvalid.
func (c Config) Validate() error {
	switch c.Kind {
	case "", KindDuplex, KindPooled, KindHybrid:
	default:
		return invalidConfig(fmt.Errorf("unknown kind %q", c.Kind), "check kind")
	}

	needsDuplex := c.Kind == "" || c.Kind == KindDuplex || c.Kind == KindHybrid
	needsPool := c.Kind == KindPooled || c.Kind == KindHybrid

	if needsDuplex {
		if len(c.DuplexURLs) == 0 {
			return invalidConfig(fmt.Errorf("kind %q requires at least one duplex URL", c.Kind), "check duplex URLs")
		}
		for _, raw := range c.DuplexURLs {
			if err := checkURL(raw); err != nil {
				return invalidConfig(err, "check duplex URLs")
			}
		}
	}
	if needsPool {
		if len(c.RPCURLs) == 0 {
			return invalidConfig(fmt.Errorf("kind %q requires at least one rpc URL", c.Kind), "check rpc URLs")
		}
		for _, raw := range c.RPCURLs {
			if err := checkURL(raw); err != nil {
				return invalidConfig(err, "check rpc URLs")
			}
		}
	}

	if c.ConnectTimeout < 0 {
		return invalidConfig(fmt.Errorf("connect timeout %v is negative", c.ConnectTimeout), "check timeouts")
	}
	if c.RequestTimeout < 0 {
		return invalidConfig(fmt.Errorf("request timeout %v is negative", c.RequestTimeout), "check timeouts")
	}
	if c.AcquireTimeout < 0 {
		return invalidConfig(fmt.Errorf("acquire timeout %v is negative", c.AcquireTimeout), "check timeouts")
	}
	if c.HeartbeatTimeout < 0 {
		return invalidConfig(fmt.Errorf("heartbeat timeout %v is negative", c.HeartbeatTimeout), "check timeouts")
	}

	if c.Reconnect != (backoff.Policy{}) {
		if err := c.Reconnect.Validate(); err != nil {
			return invalidConfig(err, "check reconnect policy")
		}
	}

	if c.SendQueueSize < 0 {
		return invalidConfig(fmt.Errorf("send queue size %d is negative", c.SendQueueSize), "check bounds")
	}
	if c.SubscriptionBufferSize < 0 {
		return invalidConfig(fmt.Errorf("subscription buffer size %d is negative", c.SubscriptionBufferSize), "check bounds")
	}
	if c.PoolMinSize < 0 {
		return invalidConfig(fmt.Errorf("pool min size %d is negative", c.PoolMinSize), "check bounds")
	}
	if c.PoolMaxSize < 0 {
		return invalidConfig(fmt.Errorf("pool max size %d is negative", c.PoolMaxSize), "check bounds")
	}
	if needsPool && c.PoolMaxSize > 0 && c.PoolMinSize > c.PoolMaxSize {
		return invalidConfig(fmt.Errorf("pool min size %d exceeds max size %d", c.PoolMinSize, c.PoolMaxSize), "check bounds")
	}

	switch strings.ToLower(c.Auth.Scheme) {
	case "":
	case "bearer":
		if c.Auth.Token == "" {
			return invalidConfig(fmt.Errorf("bearer auth requires a token"), "check auth")
		}
	case "basic":
		if c.Auth.Username == "" {
			return invalidConfig(fmt.Errorf("basic auth requires a username"), "check auth")
		}
	default:
		return invalidConfig(fmt.Errorf("unknown auth scheme %q", c.Auth.Scheme), "check auth")
	}

	return nil
}

// httpHeader builds the outbound header set from Headers and Auth.
func (c Config) httpHeader() (http.Header, error) {
	header := http.Header{}
	for k, v := range c.Headers {
		header.Set(k, v)
	}
	switch strings.ToLower(c.Auth.Scheme) {
	case "":
	case "bearer":
		header.Set("Authorization", "Bearer "+c.Auth.Token)
	case "basic":
		cred := base64.StdEncoding.EncodeToString([]byte(c.Auth.Username + ":" + c.Auth.Password))
		header.Set("Authorization", "Basic "+cred)
	default:
		return nil, invalidConfig(fmt.Errorf("unknown auth scheme %q", c.Auth.Scheme), "build auth header")
	}
	return header, nil
}

// checkURL rejects unparseable URLs and URLs without a scheme or host.
// Scheme values are not pinned down: custom dialers may accept anything.
func checkURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed URL %q: %w", raw, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("URL %q needs a scheme and host", raw)
	}
	return nil
}

func invalidConfig(err error, action string) error {
	return errors.WrapCode(err, errors.CodeConfigInvalid, "connection", "Validate", action)
}
