package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/iconidentify/vidrelay/internal/config"
	"github.com/iconidentify/vidrelay/internal/domain"
	"github.com/iconidentify/vidrelay/internal/validator"
)

const (
	defaultContentType = "image/jpeg"
	imageAccept        = "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"
	maxRedirects       = 5
)

// ImageFetcher implements Fetcher over HTTP with browser-like headers.
type ImageFetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	logger    *slog.Logger
}

// NewImageFetcher creates an image fetcher. Redirects are followed only to
// hosts that pass image URL validation.
func NewImageFetcher(cfg config.ImageConfig, logger *slog.Logger) *ImageFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageFetcher{
		client: &http.Client{
			Timeout:       cfg.Timeout,
			CheckRedirect: checkRedirect,
		},
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBytes,
		logger:    logger.With("component", "image_fetcher"),
	}
}

// Fetch downloads the image at url.
func (f *ImageFetcher) Fetch(ctx context.Context, url string) (*domain.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewFetchError("create request", url, fmt.Errorf("%w: %v", domain.ErrImageFetch, err))
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", imageAccept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, errRedirectRejected) {
			return nil, domain.NewFetchError("fetch image", url, fmt.Errorf("%w: %v", domain.ErrImageUpstream, err))
		}
		return nil, domain.NewFetchError("fetch image", url, fmt.Errorf("%w: %v", domain.ErrImageFetch, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.NewFetchError("fetch image", url,
			fmt.Errorf("%w: unexpected status code: %d", domain.ErrImageUpstream, resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	if !isImage(contentType) {
		return nil, domain.NewFetchError("fetch image", url,
			fmt.Errorf("%w: content type %q is not an image", domain.ErrImageUpstream, contentType))
	}

	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, domain.NewFetchError("fetch image", url,
			fmt.Errorf("%w: image of %s exceeds %s", domain.ErrImageUpstream,
				humanize.Bytes(uint64(resp.ContentLength)), humanize.Bytes(uint64(f.maxBytes))))
	}

	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, domain.NewFetchError("read image", url, fmt.Errorf("%w: %v", domain.ErrImageFetch, err))
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, domain.NewFetchError("read image", url,
			fmt.Errorf("%w: image exceeds %s", domain.ErrImageUpstream, humanize.Bytes(uint64(f.maxBytes))))
	}

	f.logger.Debug("image fetched",
		"url", url,
		"content_type", contentType,
		"size", humanize.Bytes(uint64(len(data))),
	)

	return &domain.Image{ContentType: contentType, Data: data}, nil
}

func isImage(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	return strings.HasPrefix(strings.ToLower(mediaType), "image/")
}

var errRedirectRejected = errors.New("redirect target not allowed")

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("%w: stopped after %d redirects", errRedirectRejected, maxRedirects)
	}
	if _, err := validator.ValidateImageURL(req.URL.String()); err != nil {
		return fmt.Errorf("%w: %v", errRedirectRejected, err)
	}
	return nil
}
