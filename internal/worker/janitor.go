package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrShutdownTimeout is returned when the janitor doesn't stop within timeout.
var ErrShutdownTimeout = errors.New("janitor shutdown timed out")

// Sweeper drops expired state. MediaService implements it.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// Janitor periodically sweeps expired rate-limit buckets and cache entries.
type Janitor struct {
	interval time.Duration
	sweeper  Sweeper
	logger   *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds janitor configuration.
type Config struct {
	Interval time.Duration
}

// NewJanitor creates a new janitor.
func NewJanitor(cfg Config, sweeper Sweeper, logger *slog.Logger) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Janitor{
		interval: cfg.Interval,
		sweeper:  sweeper,
		logger:   logger.With("component", "janitor"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the sweep loop.
func (j *Janitor) Start() {
	j.logger.Info("starting janitor", "interval", j.interval)

	j.wg.Add(1)
	go j.run()
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (j *Janitor) Stop(timeout time.Duration) error {
	j.logger.Info("stopping janitor")
	j.cancel()

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		j.logger.Info("janitor stopped")
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

func (j *Janitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	if err := j.sweeper.Sweep(j.ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		j.logger.Error("sweep failed", "error", err)
	}
}
