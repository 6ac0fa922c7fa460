// Package ytdlp runs yt-dlp as a one-shot subprocess, either to read a
// video's metadata or to stream the selected media from its stdout.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Defaults applied by NewClient for zero Config fields.
const (
	DefaultBinary        = "yt-dlp"
	DefaultInfoFormat    = "bv*[ext=mp4]+ba[ext=m4a]/b[ext=mp4]/bv*+ba/b"
	DefaultStreamFormat  = "b[ext=mp4]/b"
	DefaultInfoTimeout   = 30 * time.Second
	DefaultMaxInfoOutput = 10 * 1024 * 1024
	DefaultKillGrace     = 1500 * time.Millisecond

	maxStderr = 64 * 1024
)

// Config controls how yt-dlp is invoked.
type Config struct {
	// BinaryPath is the yt-dlp executable, resolved through PATH if relative.
	BinaryPath string
	// InfoFormat is the format selector used when reading metadata.
	InfoFormat string
	// StreamFormat is the format selector used for every stream.
	StreamFormat string
	// CookiesFile is passed as --cookies when set.
	CookiesFile string
	// RemoteComponents is passed as --remote-components when set.
	RemoteComponents string

	InfoTimeout   time.Duration
	MaxInfoOutput int64
	// KillGrace is how long a terminated process may take to exit before
	// it is killed.
	KillGrace time.Duration

	Phrases Phrases
}

// Client invokes yt-dlp.
type Client struct {
	cfg    Config
	logger *slog.Logger
}

// NewClient creates a new yt-dlp client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = DefaultBinary
	}
	if cfg.InfoFormat == "" {
		cfg.InfoFormat = DefaultInfoFormat
	}
	if cfg.StreamFormat == "" {
		cfg.StreamFormat = DefaultStreamFormat
	}
	if cfg.InfoTimeout <= 0 {
		cfg.InfoTimeout = DefaultInfoTimeout
	}
	if cfg.MaxInfoOutput <= 0 {
		cfg.MaxInfoOutput = DefaultMaxInfoOutput
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	defaults := DefaultPhrases()
	if len(cfg.Phrases.NotFound) == 0 {
		cfg.Phrases.NotFound = defaults.NotFound
	}
	if len(cfg.Phrases.Unavailable) == 0 {
		cfg.Phrases.Unavailable = defaults.Unavailable
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		logger: logger.With("component", "ytdlp"),
	}
}

// LookPath resolves the configured binary.
func (c *Client) LookPath() (string, error) {
	path, err := exec.LookPath(c.cfg.BinaryPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrToolNotFound, err)
	}
	return path, nil
}

// VideoInfo contains the metadata yt-dlp reports for a video.
type VideoInfo struct {
	ID        string
	Title     string
	Thumbnail string
	// Duration in seconds; nil when the extractor does not know it.
	Duration *float64
	Ext      string
	Uploader string
}

type dumpJSON struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	FullTitle  string   `json:"fulltitle"`
	Thumbnail  string   `json:"thumbnail"`
	Duration   *float64 `json:"duration"`
	Ext        string   `json:"ext"`
	Uploader   string   `json:"uploader"`
	Thumbnails []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
}

// FetchInfo runs yt-dlp in metadata mode and parses its JSON dump.
// The call is bounded by the configured timeout and output size.
func (c *Client) FetchInfo(ctx context.Context, url string) (*VideoInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.InfoTimeout)
	defer cancel()

	args := []string{
		"--dump-json",
		"--no-warnings",
		"--no-playlist",
		"-f", c.cfg.InfoFormat,
	}
	args = append(args, c.extraArgs()...)
	args = append(args, "--", url)

	cmd := exec.CommandContext(ctx, c.cfg.BinaryPath, args...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return kill(cmd.Process)
	}
	cmd.WaitDelay = c.cfg.KillGrace

	stdout := &cappedBuffer{max: c.cfg.MaxInfoOutput, strict: true}
	stderr := &cappedBuffer{max: maxStderr}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	c.logger.Debug("fetching info", "url", url)

	err := cmd.Run()
	if err != nil {
		switch {
		case stdout.overflow:
			return nil, fmt.Errorf("%w: output exceeds %d bytes", ErrMalformedOutput, c.cfg.MaxInfoOutput)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.cfg.InfoTimeout)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}
		classified := c.cfg.Phrases.classify(stderr.String(), err)
		c.logger.Warn("info fetch failed",
			"url", url,
			"error", err,
			"stderr", stderr.String(),
		)
		return nil, classified
	}

	var parsed dumpJSON
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	c.logger.Debug("info fetched", "url", url, "duration", time.Since(start))
	return parsed.toVideoInfo(), nil
}

func (d *dumpJSON) toVideoInfo() *VideoInfo {
	info := &VideoInfo{
		ID:        d.ID,
		Title:     d.Title,
		Thumbnail: d.Thumbnail,
		Duration:  d.Duration,
		Ext:       d.Ext,
		Uploader:  d.Uploader,
	}
	if info.Title == "" {
		info.Title = d.FullTitle
	}
	if info.Title == "" {
		info.Title = "Video"
	}
	if info.Thumbnail == "" && len(d.Thumbnails) > 0 {
		info.Thumbnail = d.Thumbnails[len(d.Thumbnails)-1].URL
	}
	if info.Ext == "" {
		info.Ext = "mp4"
	}
	return info
}

func (c *Client) extraArgs() []string {
	var args []string
	if c.cfg.CookiesFile != "" {
		args = append(args, "--cookies", c.cfg.CookiesFile)
	}
	if c.cfg.RemoteComponents != "" {
		args = append(args, "--remote-components", c.cfg.RemoteComponents)
	}
	return args
}

var errOutputTooLarge = errors.New("output too large")

// cappedBuffer collects at most max bytes. A strict buffer fails the write
// that would overflow; otherwise excess bytes are dropped.
type cappedBuffer struct {
	buf      bytes.Buffer
	max      int64
	strict   bool
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.max - int64(b.buf.Len())
	if int64(len(p)) > room {
		b.overflow = true
		if b.strict {
			return 0, errOutputTooLarge
		}
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
