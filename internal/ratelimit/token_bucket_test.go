package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTokenBucket_AdmitsBurstThenRejects(t *testing.T) {
	clock := newFakeClock()
	l := NewTokenBucket(WithClock(clock.Now))

	for i := 1; i <= 6; i++ {
		d := l.Admit("stream:a", 6, time.Minute)
		if !d.Allowed {
			t.Fatalf("call %d rejected", i)
		}
		if d.Remaining != 6-i {
			t.Errorf("call %d remaining = %d, want %d", i, d.Remaining, 6-i)
		}
	}

	d := l.Admit("stream:a", 6, time.Minute)
	if d.Allowed {
		t.Fatal("call 7 admitted")
	}
	if d.ResetIn <= 0 || d.ResetIn > 10*time.Second {
		t.Errorf("ResetIn = %v, want (0, 10s]", d.ResetIn)
	}
}

func TestTokenBucket_Refills(t *testing.T) {
	clock := newFakeClock()
	l := NewTokenBucket(WithClock(clock.Now))

	for i := 0; i < 6; i++ {
		l.Admit("k", 6, time.Minute)
	}
	if l.Admit("k", 6, time.Minute).Allowed {
		t.Fatal("bucket should be empty")
	}

	clock.Advance(11 * time.Second)
	if !l.Admit("k", 6, time.Minute).Allowed {
		t.Fatal("one token should have refilled after 11s")
	}
	if l.Admit("k", 6, time.Minute).Allowed {
		t.Fatal("only one token should have refilled")
	}
}

func TestTokenBucket_Sweep(t *testing.T) {
	clock := newFakeClock()
	l := NewTokenBucket(WithClock(clock.Now))

	l.Admit("a", 2, time.Second)
	l.Admit("b", 2, time.Hour)
	clock.Advance(time.Minute)

	if removed := l.Sweep(); removed != 1 {
		t.Errorf("Sweep() removed %d, want 1", removed)
	}
	if got := l.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestTokenBucket_ConcurrentAdmissions(t *testing.T) {
	const limit = 20
	clock := newFakeClock()
	l := NewTokenBucket(WithClock(clock.Now))

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < limit*3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit("race", limit, time.Minute).Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != limit {
		t.Errorf("admitted = %d, want %d", got, limit)
	}
}
