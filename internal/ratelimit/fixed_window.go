package ratelimit

import (
	"sync"
	"time"
)

// FixedWindow counts requests per key in discrete windows. A window starts
// with the first request for a key and lasts the requested duration.
//
// Up to 2×limit requests can pass around a window boundary. Callers that need
// a strict rate should use TokenBucket.
type FixedWindow struct {
	mu             sync.Mutex
	buckets        map[string]*bucket
	now            func() time.Time
	sweepThreshold int
}

type bucket struct {
	count   int
	resetAt time.Time
}

// NewFixedWindow creates an empty fixed window limiter.
func NewFixedWindow(opts ...Option) *FixedWindow {
	o := buildOptions(opts)
	return &FixedWindow{
		buckets:        make(map[string]*bucket),
		now:            o.now,
		sweepThreshold: o.sweepThreshold,
	}
}

// Admit records a request for key and reports whether it is within limit for
// the current window. Rejected requests do not count.
func (l *FixedWindow) Admit(key string, limit int, window time.Duration) Decision {
	if window <= 0 {
		window = time.Second
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if len(l.buckets) > l.sweepThreshold {
		l.sweepLocked(now)
	}

	if limit <= 0 {
		return Decision{Allowed: false, Limit: 0, Remaining: 0, ResetIn: window}
	}

	b, ok := l.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{count: 1, resetAt: now.Add(window)}
		l.buckets[key] = b
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - 1,
			ResetIn:   window,
		}
	}

	resetIn := b.resetAt.Sub(now)
	if b.count >= limit {
		return Decision{
			Allowed:   false,
			Limit:     limit,
			Remaining: 0,
			ResetIn:   resetIn,
		}
	}

	b.count++
	remaining := limit - b.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
		ResetIn:   resetIn,
	}
}

// Sweep removes every bucket whose window has elapsed.
func (l *FixedWindow) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(l.now())
}

func (l *FixedWindow) sweepLocked(now time.Time) int {
	removed := 0
	for k, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *FixedWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
