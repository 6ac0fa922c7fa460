package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/iconidentify/vidrelay/internal/api"
	"github.com/iconidentify/vidrelay/internal/api/handler"
	"github.com/iconidentify/vidrelay/internal/config"
	"github.com/iconidentify/vidrelay/internal/downloader"
	"github.com/iconidentify/vidrelay/internal/ratelimit"
	"github.com/iconidentify/vidrelay/internal/repository"
	"github.com/iconidentify/vidrelay/internal/service"
	"github.com/iconidentify/vidrelay/internal/worker"
	"github.com/iconidentify/vidrelay/pkg/ytdlp"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vidrelay %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Setup logger; the level is raised or lowered once config is loaded.
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	lvl, _ := cfg.Log.SlogLevel()
	level.Set(lvl)

	logger.Info("starting vidrelay",
		"version", Version,
		"build_time", BuildTime,
		"rate_limit_algorithm", cfg.RateLimit.Algorithm,
	)

	// Initialize dependencies
	ytdlpClient := ytdlp.NewClient(ytdlp.Config{
		BinaryPath:       cfg.YtDlp.Path,
		InfoFormat:       cfg.YtDlp.InfoFormat,
		StreamFormat:     cfg.YtDlp.StreamFormat,
		CookiesFile:      cfg.YtDlp.CookiesFile,
		RemoteComponents: cfg.YtDlp.RemoteComponents,
		InfoTimeout:      cfg.YtDlp.InfoTimeout,
		MaxInfoOutput:    cfg.YtDlp.MaxInfoOutput,
		KillGrace:        cfg.YtDlp.KillGrace,
		Phrases: ytdlp.Phrases{
			NotFound:    cfg.YtDlp.NotFoundPhrases,
			Unavailable: cfg.YtDlp.UnavailablePhrases,
		},
	}, logger)

	if path, err := ytdlpClient.LookPath(); err != nil {
		logger.Warn("yt-dlp not resolvable, readiness will fail", "error", err)
	} else {
		logger.Info("yt-dlp resolved", "path", path)
	}

	limiter, err := ratelimit.New(cfg.RateLimit.Algorithm,
		ratelimit.WithSweepThreshold(cfg.RateLimit.SweepThreshold))
	if err != nil {
		logger.Error("failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	cache, err := openInfoCache(cfg.Cache, logger)
	if err != nil {
		logger.Error("failed to open info cache", "error", err)
		os.Exit(1)
	}

	images := downloader.NewImageFetcher(cfg.Image, logger)

	// Initialize services
	mediaSvc := service.NewMediaService(
		service.YtDlpExtractor{Client: ytdlpClient},
		images,
		limiter,
		cache,
		cfg.RateLimit,
		cfg.Cache,
		logger,
	)

	// Initialize handlers
	mediaHandler := handler.NewMediaHandler(mediaSvc, logger)
	healthHandler := handler.NewHealthHandler(ytdlpClient, limiter)
	sitemapHandler := handler.NewSitemapHandler(cfg.Site.BaseURL())

	// Setup router
	router := api.NewRouter(mediaHandler, healthHandler, sitemapHandler, cfg.Server.RequestTimeout, logger)

	// Start janitor
	janitor := worker.NewJanitor(worker.Config{Interval: cfg.RateLimit.SweepInterval}, mediaSvc, logger)
	janitor.Start()

	// Setup HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting new requests and let in-flight streams finish. Streams
	// still running at the deadline are cut off, which cancels their
	// subprocesses through the request context.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
		if err := srv.Close(); err != nil {
			logger.Error("server close error", "error", err)
		}
	}

	if err := janitor.Stop(5 * time.Second); err != nil {
		logger.Error("janitor shutdown error", "error", err)
	}

	if err := cache.Close(); err != nil {
		logger.Error("info cache close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// openInfoCache returns the sqlite cache when a path is configured and the
// in-memory cache otherwise.
func openInfoCache(cfg config.CacheConfig, logger *slog.Logger) (repository.InfoCache, error) {
	if cfg.Path == "" {
		logger.Info("using in-memory info cache", "ttl", cfg.TTL)
		return repository.NewInMemoryInfoCache(), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	cache, err := repository.NewSQLiteInfoCache(cfg.Path)
	if err != nil {
		return nil, err
	}
	logger.Info("using sqlite info cache", "path", cfg.Path, "ttl", cfg.TTL)
	return cache, nil
}
