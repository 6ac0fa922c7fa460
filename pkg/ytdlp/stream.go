package ytdlp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// StreamHandle is one in-flight yt-dlp stream. Its Read method yields the
// media bytes in the order yt-dlp writes them. Exactly one terminal error is
// produced: io.EOF after a clean exit, an *ExitError for a failed run, or
// ErrCanceled once Cancel was called. Every Read after that returns the same
// error and no data.
type StreamHandle struct {
	ID  string
	PID int

	cmd    *exec.Cmd
	stdout io.ReadCloser
	phrase Phrases
	grace  time.Duration
	logger *slog.Logger
	start  time.Time

	mu       sync.Mutex
	canceled bool
	terminal error

	stderrDone chan struct{}
	stderrTail *cappedTail
	exited     chan struct{}
	waitOnce   sync.Once
	waitErr    error
	stopWatch  func() bool
	relayed    atomic.Int64
}

// OpenStream starts yt-dlp writing the selected media to stdout and returns
// a handle to read it. The process is cancelled when ctx is done.
func (c *Client) OpenStream(ctx context.Context, url string) (*StreamHandle, error) {
	args := []string{
		"-f", c.cfg.StreamFormat,
		"--no-warnings",
		"--no-playlist",
		"--no-progress",
		"--no-part",
		"--no-mtime",
		"--merge-output-format", "mp4",
	}
	args = append(args, c.extraArgs()...)
	args = append(args, "-o", "-", "--", url)

	cmd := exec.Command(c.cfg.BinaryPath, args...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, c.cfg.Phrases.classify("", err)
	}

	h := &StreamHandle{
		ID:         uuid.New().String(),
		PID:        cmd.Process.Pid,
		cmd:        cmd,
		stdout:     stdout,
		phrase:     c.cfg.Phrases,
		grace:      c.cfg.KillGrace,
		start:      time.Now(),
		stderrDone: make(chan struct{}),
		stderrTail: &cappedTail{max: maxStderr},
		exited:     make(chan struct{}),
	}
	h.logger = c.logger.With("stream_id", h.ID, "pid", h.PID)
	h.logger.Info("stream started", "url", url)

	go h.drainStderr(stderr)
	h.stopWatch = context.AfterFunc(ctx, h.Cancel)

	return h, nil
}

// Read reads media bytes from yt-dlp's stdout. Once Cancel has been called
// no further bytes are returned, even while the process is still exiting.
func (h *StreamHandle) Read(p []byte) (int, error) {
	h.mu.Lock()
	if h.terminal == nil && h.canceled {
		h.terminal = ErrCanceled
	}
	if h.terminal != nil {
		err := h.terminal
		h.mu.Unlock()
		return 0, err
	}
	h.mu.Unlock()

	n, err := h.stdout.Read(p)

	h.mu.Lock()
	if h.canceled {
		if h.terminal == nil {
			h.terminal = ErrCanceled
		}
		err := h.terminal
		h.mu.Unlock()
		return 0, err
	}
	h.mu.Unlock()

	if n > 0 {
		h.relayed.Add(int64(n))
	}
	if err != nil {
		return n, h.finish(err)
	}
	return n, nil
}

// Cancel asks yt-dlp to stop and kills it if it is still running after the
// grace interval. Calling Cancel after the terminal event has no effect.
func (h *StreamHandle) Cancel() {
	h.mu.Lock()
	if h.canceled || h.terminal != nil {
		h.mu.Unlock()
		return
	}
	h.canceled = true
	h.mu.Unlock()

	h.logger.Info("stream canceled", "relayed", humanize.Bytes(uint64(h.relayed.Load())))

	if err := terminate(h.cmd.Process); err != nil {
		h.logger.Debug("terminate failed", "error", err)
	}

	go func() {
		timer := time.NewTimer(h.grace)
		defer timer.Stop()
		select {
		case <-h.exited:
		case <-timer.C:
			h.logger.Warn("process ignored termination, killing", "grace", h.grace)
			if err := kill(h.cmd.Process); err != nil {
				h.logger.Debug("kill failed", "error", err)
			}
		}
	}()

	go h.reap()
}

// Close cancels the stream if it is still running and waits until the
// process has been reaped.
func (h *StreamHandle) Close() error {
	h.Cancel()
	h.reap()
	return nil
}

// Done is closed once the process has exited and been reaped.
func (h *StreamHandle) Done() <-chan struct{} {
	return h.exited
}

// Relayed returns the number of bytes read from the stream so far.
func (h *StreamHandle) Relayed() int64 {
	return h.relayed.Load()
}

// finish records the terminal error after stdout reported readErr.
func (h *StreamHandle) finish(readErr error) error {
	h.reap()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.terminal != nil {
		return h.terminal
	}

	switch {
	case h.canceled:
		h.terminal = ErrCanceled
	case h.waitErr == nil && errors.Is(readErr, io.EOF):
		h.terminal = io.EOF
	case h.waitErr == nil:
		h.terminal = readErr
	default:
		h.terminal = h.exitError()
	}
	return h.terminal
}

func (h *StreamHandle) exitError() error {
	code := -1
	var exitErr *exec.ExitError
	if errors.As(h.waitErr, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &ExitError{
		Code: code,
		Err:  h.phrase.classify(h.stderrTail.String(), h.waitErr),
	}
}

// reap waits for the process exactly once. Stderr is drained first because
// Wait closes the pipes.
func (h *StreamHandle) reap() {
	h.waitOnce.Do(func() {
		<-h.stderrDone
		h.waitErr = h.cmd.Wait()
		if h.stopWatch != nil {
			h.stopWatch()
		}
		close(h.exited)

		h.mu.Lock()
		canceled := h.canceled
		h.mu.Unlock()

		attrs := []any{
			"relayed", humanize.Bytes(uint64(h.relayed.Load())),
			"elapsed", time.Since(h.start),
			"canceled", canceled,
		}
		if h.waitErr != nil && !canceled {
			h.logger.Warn("stream process failed", append(attrs, "error", h.waitErr, "stderr", h.stderrTail.String())...)
			return
		}
		h.logger.Info("stream process exited", attrs...)
	})
}

func (h *StreamHandle) drainStderr(r io.Reader) {
	defer close(h.stderrDone)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		h.stderrTail.WriteLine(line)
		h.logger.Debug("yt-dlp stderr", "line", line)
	}
	// Keep the pipe drained if the scanner gave up on an oversized line.
	io.Copy(io.Discard, r)
}

// cappedTail keeps the last max bytes of stderr lines.
type cappedTail struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *cappedTail) WriteLine(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
}

func (t *cappedTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
