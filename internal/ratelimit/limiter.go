// Package ratelimit provides per-key admission control for the proxy.
//
// Limiters are process-local: with several server instances each one enforces
// its own quota independently.
package ratelimit

import (
	"math"
	"time"
)

// DefaultSweepThreshold is the number of tracked keys above which expired
// buckets are swept during an admission check.
const DefaultSweepThreshold = 5000

// Decision is the result of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetIn is the time left until the key's window resets. For a
	// rejected call it is how long the client should wait.
	ResetIn time.Duration
}

// RetryAfterSeconds returns ResetIn rounded up to whole seconds, as used by
// the Retry-After header.
func (d Decision) RetryAfterSeconds() int {
	if d.ResetIn <= 0 {
		return 0
	}
	return int(math.Ceil(d.ResetIn.Seconds()))
}

// Admitter decides whether a request identified by key may proceed.
// Implementations must make Admit atomic per key.
type Admitter interface {
	Admit(key string, limit int, window time.Duration) Decision
	// Sweep drops state for keys that would behave as fresh, returning the
	// number removed.
	Sweep() int
	// Len returns the number of tracked keys.
	Len() int
}

// Algorithm names accepted by New.
const (
	AlgorithmFixedWindow = "fixed_window"
	AlgorithmTokenBucket = "token_bucket"
)

type options struct {
	now            func() time.Time
	sweepThreshold int
}

// Option configures a limiter.
type Option func(*options)

// WithClock replaces time.Now, letting tests control time.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithSweepThreshold overrides DefaultSweepThreshold.
func WithSweepThreshold(n int) Option {
	return func(o *options) {
		o.sweepThreshold = n
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:            time.Now,
		sweepThreshold: DefaultSweepThreshold,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sweepThreshold <= 0 {
		o.sweepThreshold = DefaultSweepThreshold
	}
	return o
}

// New builds the limiter named by algorithm. An empty name selects the fixed
// window.
func New(algorithm string, opts ...Option) (Admitter, error) {
	switch algorithm {
	case "", AlgorithmFixedWindow:
		return NewFixedWindow(opts...), nil
	case AlgorithmTokenBucket:
		return NewTokenBucket(opts...), nil
	default:
		return nil, &UnknownAlgorithmError{Name: algorithm}
	}
}

// UnknownAlgorithmError is returned by New for an unsupported algorithm.
type UnknownAlgorithmError struct {
	Name string
}

func (e *UnknownAlgorithmError) Error() string {
	return "unknown rate limit algorithm: " + e.Name
}
