package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket admits limit requests per window with a steady refill instead
// of a hard reset, so there is no burst at window seams.
type TokenBucket struct {
	mu             sync.Mutex
	buckets        map[string]*tokenEntry
	now            func() time.Time
	sweepThreshold int
}

type tokenEntry struct {
	lim      *rate.Limiter
	limit    int
	window   time.Duration
	lastSeen time.Time
}

// NewTokenBucket creates an empty token bucket limiter.
func NewTokenBucket(opts ...Option) *TokenBucket {
	o := buildOptions(opts)
	return &TokenBucket{
		buckets:        make(map[string]*tokenEntry),
		now:            o.now,
		sweepThreshold: o.sweepThreshold,
	}
}

// Admit takes one token from key's bucket if one is available.
func (l *TokenBucket) Admit(key string, limit int, window time.Duration) Decision {
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

	perToken := window / time.Duration(limit)
	e, ok := l.buckets[key]
	if !ok || e.limit != limit || e.window != window {
		e = &tokenEntry{
			lim:    rate.NewLimiter(rate.Every(perToken), limit),
			limit:  limit,
			window: window,
		}
		l.buckets[key] = e
	}
	e.lastSeen = now

	allowed := e.lim.AllowN(now, 1)
	tokens := e.lim.TokensAt(now)

	remaining := int(math.Floor(tokens))
	if remaining < 0 {
		remaining = 0
	}

	var resetIn time.Duration
	if allowed {
		// Time until the bucket is full again.
		resetIn = time.Duration((float64(limit) - tokens) * float64(perToken))
	} else {
		// Time until one whole token is available.
		resetIn = time.Duration((1 - tokens) * float64(perToken))
	}
	if resetIn < 0 {
		resetIn = 0
	}

	return Decision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetIn:   resetIn,
	}
}

// Sweep removes buckets that have refilled completely since last use.
func (l *TokenBucket) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(l.now())
}

func (l *TokenBucket) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range l.buckets {
		if now.Sub(e.lastSeen) >= e.window {
			delete(l.buckets, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *TokenBucket) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
