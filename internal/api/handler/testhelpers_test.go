package handler

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/iconidentify/vidrelay/internal/domain"
	"github.com/iconidentify/vidrelay/internal/ratelimit"
	"github.com/iconidentify/vidrelay/internal/service"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockMediaService is a test implementation of MediaService.
type mockMediaService struct {
	info     *service.InfoResult
	stream   *scriptedStream
	image    *domain.Image
	decision ratelimit.Decision
	err      error

	gotURL    string
	gotClient string
}

func (m *mockMediaService) FetchInfo(ctx context.Context, rawURL, clientKey string) (*service.InfoResult, ratelimit.Decision, error) {
	m.gotURL, m.gotClient = rawURL, clientKey
	if m.err != nil {
		return nil, m.decision, m.err
	}
	return m.info, m.decision, nil
}

func (m *mockMediaService) OpenStream(ctx context.Context, rawURL, clientKey string) (service.Stream, ratelimit.Decision, error) {
	m.gotURL, m.gotClient = rawURL, clientKey
	if m.err != nil {
		return nil, m.decision, m.err
	}
	return m.stream, m.decision, nil
}

func (m *mockMediaService) FetchImage(ctx context.Context, rawURL string) (*domain.Image, error) {
	m.gotURL = rawURL
	if m.err != nil {
		return nil, m.err
	}
	return m.image, nil
}

// scriptedStream yields chunks in order, then err (io.EOF when nil).
type scriptedStream struct {
	mu       sync.Mutex
	chunks   [][]byte
	err      error
	relayed  int64
	canceled bool
	closed   bool
}

func (s *scriptedStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		return 0, io.EOF
	}
	n := copy(p, s.chunks[0])
	s.chunks[0] = s.chunks[0][n:]
	if len(s.chunks[0]) == 0 {
		s.chunks = s.chunks[1:]
	}
	s.relayed += int64(n)
	return n, nil
}

func (s *scriptedStream) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = true
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedStream) Relayed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relayed
}
