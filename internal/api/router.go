package api

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/vidrelay/internal/api/handler"
	mw "github.com/iconidentify/vidrelay/internal/api/middleware"
)

// NewRouter creates the HTTP router with all routes configured.
// requestTimeout bounds every route except the stream relay.
func NewRouter(
	mediaHandler *handler.MediaHandler,
	healthHandler *handler.HealthHandler,
	sitemapHandler *handler.SitemapHandler,
	requestTimeout time.Duration,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CleanPath) // Normalize paths (e.g., //ready -> /ready)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))
	r.Use(mw.CORS)

	// Streams run for as long as the download takes.
	r.Get("/api/stream", mediaHandler.Stream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/health", healthHandler.Live)
		r.Get("/ready", healthHandler.Ready)
		r.Get("/sitemap.xml", sitemapHandler.Sitemap)

		r.Get("/api/info", mediaHandler.Info)
		r.Get("/api/proxy-image", mediaHandler.ProxyImage)
		r.Get("/api/stats", healthHandler.Stats)
	})

	return r
}
