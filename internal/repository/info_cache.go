package repository

import (
	"context"
	"sync"
	"time"

	"github.com/iconidentify/vidrelay/internal/domain"
)

// InMemoryInfoCache implements InfoCache using in-memory storage.
type InMemoryInfoCache struct {
	mu      sync.RWMutex
	entries map[string]*domain.CachedInfo
	now     func() time.Time
}

// NewInMemoryInfoCache creates a new in-memory info cache.
func NewInMemoryInfoCache() *InMemoryInfoCache {
	return &InMemoryInfoCache{
		entries: make(map[string]*domain.CachedInfo),
		now:     time.Now,
	}
}

// SetClock replaces the time source used for expiry.
func (c *InMemoryInfoCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the fresh entry for url.
func (c *InMemoryInfoCache) Get(ctx context.Context, url string) (*domain.CachedInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[url]
	if !ok || entry.Expired(c.now()) {
		return nil, domain.ErrCacheMiss
	}

	cp := *entry
	return &cp, nil
}

// Put stores or replaces the entry for entry.URL.
func (c *InMemoryInfoCache) Put(ctx context.Context, entry *domain.CachedInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *entry
	c.entries[entry.URL] = &cp
	return nil
}

// Purge removes expired entries.
func (c *InMemoryInfoCache) Purge(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for url, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, url)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, expired or not.
func (c *InMemoryInfoCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close is a no-op for the in-memory cache.
func (c *InMemoryInfoCache) Close() error {
	return nil
}
