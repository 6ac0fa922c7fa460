package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockSweeper counts sweeps and optionally fails or blocks.
type mockSweeper struct {
	mu    sync.Mutex
	calls int
	err   error
	block chan struct{}
}

func (m *mockSweeper) Sweep(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	block := m.block
	m.mu.Unlock()

	if block != nil {
		<-block
	}
	return m.err
}

func (m *mockSweeper) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestNewJanitor(t *testing.T) {
	j := NewJanitor(Config{Interval: 10 * time.Second}, &mockSweeper{}, testLogger())

	if j.interval != 10*time.Second {
		t.Errorf("interval = %v, want 10s", j.interval)
	}
}

func TestNewJanitor_DefaultInterval(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
	}{
		{"zero", 0},
		{"negative", -time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewJanitor(Config{Interval: tt.interval}, &mockSweeper{}, testLogger())
			if j.interval != time.Minute {
				t.Errorf("interval = %v, want 1m", j.interval)
			}
		})
	}
}

func TestJanitor_SweepsPeriodically(t *testing.T) {
	sweeper := &mockSweeper{}
	j := NewJanitor(Config{Interval: 10 * time.Millisecond}, sweeper, testLogger())

	j.Start()
	time.Sleep(80 * time.Millisecond)

	if err := j.Stop(time.Second); err != nil {
		t.Errorf("Stop should not error: %v", err)
	}
	if sweeper.Calls() < 2 {
		t.Errorf("sweep calls = %d, want at least 2", sweeper.Calls())
	}
}

func TestJanitor_SweepErrorKeepsRunning(t *testing.T) {
	sweeper := &mockSweeper{err: errors.New("database is locked")}
	j := NewJanitor(Config{Interval: 10 * time.Millisecond}, sweeper, testLogger())

	j.Start()
	time.Sleep(80 * time.Millisecond)

	if err := j.Stop(time.Second); err != nil {
		t.Errorf("Stop should not error: %v", err)
	}
	if sweeper.Calls() < 2 {
		t.Errorf("sweep calls = %d, want the loop to survive failures", sweeper.Calls())
	}
}

func TestJanitor_StopBeforeFirstTick(t *testing.T) {
	sweeper := &mockSweeper{}
	j := NewJanitor(Config{Interval: time.Hour}, sweeper, testLogger())

	j.Start()
	if err := j.Stop(time.Second); err != nil {
		t.Errorf("Stop should not error: %v", err)
	}
	if sweeper.Calls() != 0 {
		t.Errorf("sweep calls = %d, want 0", sweeper.Calls())
	}
}

func TestJanitor_StopTimeout(t *testing.T) {
	sweeper := &mockSweeper{block: make(chan struct{})}
	j := NewJanitor(Config{Interval: 5 * time.Millisecond}, sweeper, testLogger())

	j.Start()
	for sweeper.Calls() == 0 {
		time.Sleep(time.Millisecond)
	}

	err := j.Stop(50 * time.Millisecond)
	close(sweeper.block)

	if !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("expected ErrShutdownTimeout, got %v", err)
	}
}
