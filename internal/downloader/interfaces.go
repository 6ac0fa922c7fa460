package downloader

import (
	"context"

	"github.com/iconidentify/vidrelay/internal/domain"
)

// Fetcher retrieves a remote image in full.
type Fetcher interface {
	// Fetch downloads the image at url. The URL must already have passed
	// image URL validation.
	Fetch(ctx context.Context, url string) (*domain.Image, error)
}
