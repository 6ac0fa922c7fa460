package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iconidentify/vidrelay/internal/domain"
)

// SQLiteInfoCache implements InfoCache on a SQLite database so cached info
// survives restarts.
type SQLiteInfoCache struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteInfoCache opens (creating if needed) the cache database at path.
func NewSQLiteInfoCache(path string) (*SQLiteInfoCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS info_cache (
			url TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			thumbnail TEXT NOT NULL,
			duration REAL,
			ext TEXT NOT NULL,
			platform TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_info_cache_expires_at ON info_cache(expires_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteInfoCache{db: db, now: time.Now}, nil
}

// Get returns the fresh entry for url.
func (c *SQLiteInfoCache) Get(ctx context.Context, url string) (*domain.CachedInfo, error) {
	var (
		entry     = domain.CachedInfo{URL: url}
		duration  sql.NullFloat64
		platform  string
		expiresAt int64
	)

	err := c.db.QueryRowContext(ctx, `
		SELECT title, thumbnail, duration, ext, platform, expires_at
		FROM info_cache WHERE url = ?
	`, url).Scan(&entry.Info.Title, &entry.Info.Thumbnail, &duration, &entry.Info.Ext, &platform, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("query info cache: %w", err)
	}

	entry.Info.Platform = domain.Platform(platform)
	if duration.Valid {
		d := duration.Float64
		entry.Info.Duration = &d
	}
	entry.ExpiresAt = time.Unix(0, expiresAt)

	if entry.Expired(c.now()) {
		return nil, domain.ErrCacheMiss
	}
	return &entry, nil
}

// Put stores or replaces the entry for entry.URL.
func (c *SQLiteInfoCache) Put(ctx context.Context, entry *domain.CachedInfo) error {
	var duration sql.NullFloat64
	if entry.Info.Duration != nil {
		duration = sql.NullFloat64{Float64: *entry.Info.Duration, Valid: true}
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO info_cache (url, title, thumbnail, duration, ext, platform, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			title = excluded.title,
			thumbnail = excluded.thumbnail,
			duration = excluded.duration,
			ext = excluded.ext,
			platform = excluded.platform,
			expires_at = excluded.expires_at
	`, entry.URL, entry.Info.Title, entry.Info.Thumbnail, duration, entry.Info.Ext,
		string(entry.Info.Platform), entry.ExpiresAt.UnixNano())
	if err != nil {
		return fmt.Errorf("store info cache entry: %w", err)
	}
	return nil
}

// Purge removes expired entries.
func (c *SQLiteInfoCache) Purge(ctx context.Context) (int, error) {
	result, err := c.db.ExecContext(ctx, "DELETE FROM info_cache WHERE expires_at <= ?", c.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge info cache: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge info cache: %w", err)
	}
	return int(affected), nil
}

// Close closes the database.
func (c *SQLiteInfoCache) Close() error {
	return c.db.Close()
}
