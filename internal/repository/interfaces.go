package repository

import (
	"context"

	"github.com/iconidentify/vidrelay/internal/domain"
)

// InfoCache stores extracted media info keyed by normalized URL.
type InfoCache interface {
	// Get returns the fresh entry for url, or domain.ErrCacheMiss.
	Get(ctx context.Context, url string) (*domain.CachedInfo, error)

	// Put stores or replaces the entry for entry.URL.
	Put(ctx context.Context, entry *domain.CachedInfo) error

	// Purge removes expired entries and returns how many were removed.
	Purge(ctx context.Context) (int, error)

	// Close releases any resources held by the cache.
	Close() error
}
