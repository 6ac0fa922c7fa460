package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/iconidentify/vidrelay/internal/api/handler"
	"github.com/iconidentify/vidrelay/internal/config"
	"github.com/iconidentify/vidrelay/internal/domain"
	"github.com/iconidentify/vidrelay/internal/ratelimit"
	"github.com/iconidentify/vidrelay/internal/repository"
	"github.com/iconidentify/vidrelay/internal/service"
	"github.com/iconidentify/vidrelay/pkg/ytdlp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubExtractor struct {
	streamBody string
	streamErr  error
}

func (s stubExtractor) FetchInfo(ctx context.Context, url string) (*ytdlp.VideoInfo, error) {
	return &ytdlp.VideoInfo{Title: "Clip", Thumbnail: "https://i.ytimg.com/vi/x/hq.jpg", Ext: "mp4"}, nil
}

func (s stubExtractor) OpenStream(ctx context.Context, url string) (service.Stream, error) {
	return &stubStream{r: strings.NewReader(s.streamBody), err: s.streamErr}, nil
}

// stubStream returns its body and then err, or io.EOF when err is nil.
type stubStream struct {
	r   *strings.Reader
	err error
}

func (s *stubStream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if errors.Is(err, io.EOF) && s.err != nil {
		return n, s.err
	}
	return n, err
}
func (s *stubStream) Cancel()        {}
func (s *stubStream) Close() error   { return nil }
func (s *stubStream) Relayed() int64 { return 0 }

// slowExtractor blocks every info fetch until release is closed.
type slowExtractor struct {
	stubExtractor
	release chan struct{}
}

func (s slowExtractor) FetchInfo(ctx context.Context, url string) (*ytdlp.VideoInfo, error) {
	<-s.release
	return s.stubExtractor.FetchInfo(ctx, url)
}

type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, url string) (*domain.Image, error) {
	return &domain.Image{ContentType: "image/jpeg", Data: []byte("jpg")}, nil
}

type stubTool struct{}

func (stubTool) LookPath() (string, error) { return "/usr/bin/yt-dlp", nil }

func newTestServer(t *testing.T, extractor service.Extractor) *httptest.Server {
	t.Helper()
	return newTestServerWithTimeout(t, extractor, 5*time.Second)
}

func newTestServerWithTimeout(t *testing.T, extractor service.Extractor, timeout time.Duration) *httptest.Server {
	t.Helper()

	limiter, err := ratelimit.New(ratelimit.AlgorithmFixedWindow)
	if err != nil {
		t.Fatalf("ratelimit.New() error = %v", err)
	}
	limits := config.RateLimitConfig{InfoLimit: 15, InfoWindow: time.Minute, StreamLimit: 6, StreamWindow: time.Minute}
	svc := service.NewMediaService(extractor, stubFetcher{}, limiter, repository.NewInMemoryInfoCache(),
		limits, config.CacheConfig{TTL: time.Minute}, testLogger())

	router := NewRouter(
		handler.NewMediaHandler(svc, testLogger()),
		handler.NewHealthHandler(stubTool{}, limiter),
		handler.NewSitemapHandler("https://vidrelay.example"),
		timeout,
		testLogger(),
	)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func get(t *testing.T, server *httptest.Server, path string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, server.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func TestRouter_Routes(t *testing.T) {
	server := newTestServer(t, stubExtractor{streamBody: "mp4-bytes"})
	video := url.QueryEscape("https://youtu.be/abc123")
	image := url.QueryEscape("https://i.ytimg.com/vi/abc123/hq.jpg")

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/health", http.StatusOK},
		{"/ready", http.StatusOK},
		{"/sitemap.xml", http.StatusOK},
		{"//health", http.StatusOK},
		{"/api/info?url=" + video, http.StatusOK},
		{"/api/stream?url=" + video + "&title=Clip", http.StatusOK},
		{"/api/proxy-image?url=" + image, http.StatusOK},
		{"/api/stats", http.StatusOK},
		{"/api/info?url=" + url.QueryEscape("http://127.0.0.1/video"), http.StatusBadRequest},
		{"/api/proxy-image?url=" + url.QueryEscape("https://example.com/a.jpg"), http.StatusBadRequest},
		{"/api/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := get(t, server, tt.path, nil)
			defer resp.Body.Close()
			io.Copy(io.Discard, resp.Body)

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
				t.Error("CORS headers should be set on every route")
			}
		})
	}
}

func TestRouter_InfoRateLimit(t *testing.T) {
	server := newTestServer(t, stubExtractor{})
	path := "/api/info?url=" + url.QueryEscape("https://youtu.be/abc123")
	client := map[string]string{"X-Forwarded-For": "203.0.113.50"}

	for i := 1; i <= 15; i++ {
		resp := get(t, server, path, client)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, resp.StatusCode)
		}
	}

	resp := get(t, server, path, client)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("16th request status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", resp.Header.Get("X-RateLimit-Remaining"))
	}
	if ra := resp.Header.Get("Retry-After"); ra == "" || ra == "0" {
		t.Errorf("Retry-After = %q, want a positive number of seconds", ra)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] == "" {
		t.Error("429 response should carry an error message")
	}

	other := get(t, server, path, map[string]string{"X-Forwarded-For": "203.0.113.51"})
	other.Body.Close()
	if other.StatusCode != http.StatusOK {
		t.Errorf("different client status = %d, want 200", other.StatusCode)
	}
}

func TestRouter_StreamAbortDropsConnection(t *testing.T) {
	server := newTestServer(t, stubExtractor{
		streamBody: "partial-bytes",
		streamErr:  &ytdlp.ExitError{Code: 1, Err: &ytdlp.ToolError{Diagnostic: "ERROR: network"}},
	})

	resp := get(t, server, "/api/stream?url="+url.QueryEscape("https://youtu.be/abc123"), nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (headers precede the failure)", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err == nil {
		t.Error("reading an aborted stream should fail")
	}
	if !strings.HasPrefix("partial-bytes", string(data)) {
		t.Errorf("body = %q, want a prefix of the relayed bytes", data)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	server := newTestServer(t, stubExtractor{})

	req, _ := http.NewRequest(http.MethodOptions, server.URL+"/api/info", nil)
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
}

func TestRouter_InfoTimeout(t *testing.T) {
	release := make(chan struct{})
	server := newTestServerWithTimeout(t, slowExtractor{release: release}, 50*time.Millisecond)
	defer close(release)

	resp := get(t, server, "/api/info?url="+url.QueryEscape("https://youtu.be/abc123"), nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusGatewayTimeout)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 0 {
		t.Errorf("body = %q, want the bare timeout response", body)
	}
}
