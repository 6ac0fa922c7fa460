package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/iconidentify/vidrelay/internal/config"
	"github.com/iconidentify/vidrelay/internal/domain"
	"github.com/iconidentify/vidrelay/internal/downloader"
	"github.com/iconidentify/vidrelay/internal/ratelimit"
	"github.com/iconidentify/vidrelay/internal/repository"
	"github.com/iconidentify/vidrelay/internal/validator"
	"github.com/iconidentify/vidrelay/pkg/ytdlp"
)

// Stream is a running media stream. Read yields media bytes until the
// terminal error; Cancel stops the producer.
type Stream interface {
	io.Reader
	Cancel()
	Close() error
	Relayed() int64
}

// Extractor resolves media info and opens media streams.
type Extractor interface {
	FetchInfo(ctx context.Context, url string) (*ytdlp.VideoInfo, error)
	OpenStream(ctx context.Context, url string) (Stream, error)
}

// YtDlpExtractor adapts a ytdlp.Client to Extractor.
type YtDlpExtractor struct {
	Client *ytdlp.Client
}

// FetchInfo runs yt-dlp in metadata mode.
func (e YtDlpExtractor) FetchInfo(ctx context.Context, url string) (*ytdlp.VideoInfo, error) {
	return e.Client.FetchInfo(ctx, url)
}

// OpenStream starts a yt-dlp stream.
func (e YtDlpExtractor) OpenStream(ctx context.Context, url string) (Stream, error) {
	h, err := e.Client.OpenStream(ctx, url)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// RateLimitError is returned when a client exhausted its quota.
type RateLimitError struct {
	Scope    string
	Decision ratelimit.Decision
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded, retry in %ds", e.Scope, e.Decision.RetryAfterSeconds())
}

func (e *RateLimitError) Unwrap() error {
	return domain.ErrRateLimited
}

// InfoResult is the outcome of an info request.
type InfoResult struct {
	URL    string
	Info   domain.MediaInfo
	Cached bool
}

// MediaService orchestrates admission, validation and extraction for the
// proxy endpoints.
type MediaService struct {
	extractor Extractor
	images    downloader.Fetcher
	limiter   ratelimit.Admitter
	cache     repository.InfoCache
	limits    config.RateLimitConfig
	cacheTTL  time.Duration
	flight    singleflight.Group
	logger    *slog.Logger
	now       func() time.Time
}

// NewMediaService creates a new media service. A nil cache disables info
// caching.
func NewMediaService(
	extractor Extractor,
	images downloader.Fetcher,
	limiter ratelimit.Admitter,
	cache repository.InfoCache,
	limits config.RateLimitConfig,
	cacheCfg config.CacheConfig,
	logger *slog.Logger,
) *MediaService {
	return &MediaService{
		extractor: extractor,
		images:    images,
		limiter:   limiter,
		cache:     cache,
		limits:    limits,
		cacheTTL:  cacheCfg.TTL,
		logger:    logger,
		now:       time.Now,
	}
}

// FetchInfo admits, validates and resolves the metadata for rawURL. The
// returned decision is valid whenever admission was evaluated.
func (s *MediaService) FetchInfo(ctx context.Context, rawURL, clientKey string) (*InfoResult, ratelimit.Decision, error) {
	decision := s.limiter.Admit("info:"+clientKey, s.limits.InfoLimit, s.limits.InfoWindow)
	if !decision.Allowed {
		s.logger.Info("info request throttled", "client", clientKey, "retry_after", decision.RetryAfterSeconds())
		return nil, decision, &RateLimitError{Scope: "info", Decision: decision}
	}

	target, err := validator.ValidateVideoURL(rawURL)
	if err != nil {
		return nil, decision, err
	}

	if info, ok := s.cachedInfo(ctx, target.URL); ok {
		return &InfoResult{URL: target.URL, Info: info, Cached: true}, decision, nil
	}

	// Concurrent requests for the same link share one extraction. The
	// shared call is detached from any single caller's cancellation.
	ch := s.flight.DoChan(target.URL, func() (any, error) {
		return s.extractInfo(context.WithoutCancel(ctx), target)
	})

	select {
	case <-ctx.Done():
		return nil, decision, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, decision, res.Err
		}
		return &InfoResult{URL: target.URL, Info: res.Val.(domain.MediaInfo)}, decision, nil
	}
}

func (s *MediaService) extractInfo(ctx context.Context, target validator.VideoURL) (domain.MediaInfo, error) {
	start := s.now()
	vi, err := s.extractor.FetchInfo(ctx, target.URL)
	if err != nil {
		s.logger.Warn("info extraction failed", "url", target.URL, "error", err)
		return domain.MediaInfo{}, domain.NewFetchError("fetch info", target.URL, fmt.Errorf("%w: %w", domain.ErrUpstream, err))
	}

	info := domain.MediaInfo{
		Title:     vi.Title,
		Thumbnail: vi.Thumbnail,
		Duration:  vi.Duration,
		Ext:       vi.Ext,
		Platform:  target.Platform,
	}

	s.logger.Info("info extracted",
		"url", target.URL,
		"platform", target.Platform,
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)

	if s.cache != nil && s.cacheTTL > 0 {
		entry := &domain.CachedInfo{URL: target.URL, Info: info, ExpiresAt: s.now().Add(s.cacheTTL)}
		if err := s.cache.Put(ctx, entry); err != nil {
			s.logger.Warn("failed to cache info", "url", target.URL, "error", err)
		}
	}

	return info, nil
}

func (s *MediaService) cachedInfo(ctx context.Context, url string) (domain.MediaInfo, bool) {
	if s.cache == nil {
		return domain.MediaInfo{}, false
	}
	entry, err := s.cache.Get(ctx, url)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			s.logger.Warn("info cache lookup failed", "url", url, "error", err)
		}
		return domain.MediaInfo{}, false
	}
	s.logger.Debug("info cache hit", "url", url)
	return entry.Info, true
}

// OpenStream admits, validates and starts a stream for rawURL. The stream is
// cancelled when ctx is done, so callers pass the request context.
func (s *MediaService) OpenStream(ctx context.Context, rawURL, clientKey string) (Stream, ratelimit.Decision, error) {
	decision := s.limiter.Admit("stream:"+clientKey, s.limits.StreamLimit, s.limits.StreamWindow)
	if !decision.Allowed {
		s.logger.Info("stream request throttled", "client", clientKey, "retry_after", decision.RetryAfterSeconds())
		return nil, decision, &RateLimitError{Scope: "stream", Decision: decision}
	}

	target, err := validator.ValidateVideoURL(rawURL)
	if err != nil {
		return nil, decision, err
	}

	stream, err := s.extractor.OpenStream(ctx, target.URL)
	if err != nil {
		s.logger.Warn("stream start failed", "url", target.URL, "error", err)
		return nil, decision, domain.NewFetchError("open stream", target.URL, fmt.Errorf("%w: %w", domain.ErrUpstream, err))
	}

	return stream, decision, nil
}

// FetchImage validates rawURL against the thumbnail hosts and fetches it.
func (s *MediaService) FetchImage(ctx context.Context, rawURL string) (*domain.Image, error) {
	target, err := validator.ValidateImageURL(rawURL)
	if err != nil {
		return nil, err
	}

	img, err := s.images.Fetch(ctx, target.URL)
	if err != nil {
		s.logger.Warn("image fetch failed", "url", target.URL, "error", err)
		return nil, err
	}
	return img, nil
}

// Sweep drops idle limiter state and expired cache entries. It is run
// periodically by the janitor.
func (s *MediaService) Sweep(ctx context.Context) error {
	keys := s.limiter.Sweep()

	purged := 0
	if s.cache != nil {
		n, err := s.cache.Purge(ctx)
		if err != nil {
			return fmt.Errorf("purge info cache: %w", err)
		}
		purged = n
	}

	if keys > 0 || purged > 0 {
		s.logger.Debug("swept expired state", "limiter_keys", keys, "cache_entries", purged, "tracked_keys", s.limiter.Len())
	}
	return nil
}
