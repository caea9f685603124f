// Package backoff provides pure exponential reconnect delay computation
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Default policy values applied when fields are left zero
const (
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
	DefaultJitterRatio  = 0.2
)

// Policy describes how reconnect delays grow between attempts. The zero
// value is usable and behaves like DefaultPolicy with jitter disabled.
// Policy holds no state: the attempt counter lives with the caller and
// resets on every successful connect.
type Policy struct {
	InitialDelay time.Duration `json:"initial_delay"` // Delay before the first retry (attempt 0)
	MaxDelay     time.Duration `json:"max_delay"`     // Upper bound for the computed delay, before jitter
	Multiplier   float64       `json:"multiplier"`    // Growth factor per attempt (typically 2.0)
	JitterRatio  float64       `json:"jitter_ratio"`  // Symmetric jitter as a fraction of the delay, 0..1
	MaxAttempts  int           `json:"max_attempts"`  // Attempt budget (0 = unlimited)
}

// DefaultPolicy returns sensible defaults for reconnect loops
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
		JitterRatio:  DefaultJitterRatio,
		MaxAttempts:  0,
	}
}

// Validate rejects policies that cannot produce a sane delay sequence
func (p Policy) Validate() error {
	if p.InitialDelay < 0 {
		return errors.New("backoff: InitialDelay cannot be negative")
	}
	if p.MaxDelay < 0 {
		return errors.New("backoff: MaxDelay cannot be negative")
	}
	if p.Multiplier < 0 {
		return errors.New("backoff: Multiplier cannot be negative")
	}
	if p.JitterRatio < 0 || p.JitterRatio > 1 {
		return errors.New("backoff: JitterRatio must be within [0, 1]")
	}
	if p.MaxAttempts < 0 {
		return errors.New("backoff: MaxAttempts cannot be negative")
	}
	if p.MaxDelay > 0 && p.InitialDelay > 0 && p.MaxDelay < p.InitialDelay {
		return errors.New("backoff: MaxDelay must be >= InitialDelay")
	}
	return nil
}

// normalized fills zero fields with defaults so the zero value is usable
func (p Policy) normalized() Policy {
	if p.InitialDelay == 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Multiplier == 0 {
		p.Multiplier = DefaultMultiplier
	}
	// Prevent overflow with extremely large multipliers
	if p.Multiplier > 1000 {
		p.Multiplier = 1000
	}
	return p
}

// Delay computes the backoff before the given attempt, counted from 0:
// min(MaxDelay, InitialDelay * Multiplier^attempt), then plus or minus up to
// JitterRatio of the capped value. Deterministic when JitterRatio is zero.
// Never negative.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 0 {
		attempt = 0
	}

	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}

	if p.JitterRatio > 0 {
		span := d * p.JitterRatio
		randMu.Lock()
		offset := (randSource.Float64()*2 - 1) * span
		randMu.Unlock()
		d += offset
	}

	if d < 0 {
		d = 0
	}
	if d > float64(math.MaxInt64) {
		d = float64(math.MaxInt64)
	}
	return time.Duration(d)
}

// Exhausted reports whether the attempt budget is spent. Attempts count
// from 0, so MaxAttempts=3 allows attempts 0, 1 and 2.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Sleep blocks for Delay(attempt) honoring context cancellation
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Delay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
