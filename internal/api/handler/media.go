package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/vidrelay/internal/domain"
	"github.com/iconidentify/vidrelay/internal/ratelimit"
	"github.com/iconidentify/vidrelay/internal/service"
	"github.com/iconidentify/vidrelay/pkg/ytdlp"
)

const (
	relayBufferSize   = 32 * 1024
	maxFilenameLength = 120
	defaultFilename   = "video"

	infoCacheControl  = "public, max-age=300, s-maxage=300"
	imageCacheControl = "public, max-age=3600, s-maxage=3600"
)

// MediaService is the subset of service.MediaService used by MediaHandler.
type MediaService interface {
	FetchInfo(ctx context.Context, rawURL, clientKey string) (*service.InfoResult, ratelimit.Decision, error)
	OpenStream(ctx context.Context, rawURL, clientKey string) (service.Stream, ratelimit.Decision, error)
	FetchImage(ctx context.Context, rawURL string) (*domain.Image, error)
}

// MediaHandler serves the info, stream and image proxy endpoints.
type MediaHandler struct {
	svc    MediaService
	logger *slog.Logger
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(svc MediaService, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{
		svc:    svc,
		logger: logger,
	}
}

// InfoResponse is the JSON response for GET /api/info.
type InfoResponse struct {
	Title     string          `json:"title"`
	Thumbnail string          `json:"thumbnail"`
	Duration  *float64        `json:"duration"`
	Platform  domain.Platform `json:"platform"`
}

// Info handles GET /api/info?url=
func (h *MediaHandler) Info(w http.ResponseWriter, r *http.Request) {
	res, decision, err := h.svc.FetchInfo(r.Context(), r.URL.Query().Get("url"), ClientKey(r))
	setRateHeaders(w, decision)
	if err != nil {
		h.handleError(w, r, err, "too many requests, try again in a few seconds")
		return
	}

	w.Header().Set("Cache-Control", infoCacheControl)
	writeJSON(w, http.StatusOK, InfoResponse{
		Title:     res.Info.Title,
		Thumbnail: res.Info.Thumbnail,
		Duration:  res.Info.Duration,
		Platform:  res.Info.Platform,
	})
}

// Stream handles GET /api/stream?url=&title=
//
// The body is relayed as yt-dlp produces it. A failure before the first byte
// is reported as JSON; after that the connection is dropped.
func (h *MediaHandler) Stream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stream, decision, err := h.svc.OpenStream(r.Context(), q.Get("url"), ClientKey(r))
	setRateHeaders(w, decision)
	if err != nil {
		h.handleError(w, r, err, "too many downloads, try again in a few seconds")
		return
	}
	defer stream.Close()

	logger := h.logger.With("request_id", chimw.GetReqID(r.Context()))
	buf := make([]byte, relayBufferSize)

	n, readErr := stream.Read(buf)
	if n == 0 && readErr != nil {
		switch {
		case errors.Is(readErr, ytdlp.ErrCanceled):
			logger.Debug("stream canceled before first byte")
		case errors.Is(readErr, io.EOF):
			logger.Warn("stream ended without data")
			writeError(w, http.StatusInternalServerError, "yt-dlp produced no output")
		default:
			logger.Warn("stream failed before first byte", "error", readErr)
			writeError(w, http.StatusInternalServerError, upstreamMessage(readErr))
		}
		return
	}

	filename := SafeFilename(q.Get("title")) + ".mp4"
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", ContentDisposition(filename))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	// Streams outlive any server-wide write timeout.
	rc.SetWriteDeadline(time.Time{})

	for {
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				logger.Debug("client went away", "error", err, "relayed", humanize.Bytes(uint64(stream.Relayed())))
				stream.Cancel()
				return
			}
			rc.Flush()
		}
		if readErr != nil {
			break
		}
		n, readErr = stream.Read(buf)
	}

	switch {
	case errors.Is(readErr, io.EOF):
		logger.Info("stream completed", "relayed", humanize.Bytes(uint64(stream.Relayed())))
	case errors.Is(readErr, ytdlp.ErrCanceled):
		logger.Debug("stream canceled", "relayed", humanize.Bytes(uint64(stream.Relayed())))
	default:
		logger.Warn("stream aborted mid-transfer", "error", readErr, "relayed", humanize.Bytes(uint64(stream.Relayed())))
		panic(http.ErrAbortHandler)
	}
}

// ProxyImage handles GET /api/proxy-image?url=
func (h *MediaHandler) ProxyImage(w http.ResponseWriter, r *http.Request) {
	img, err := h.svc.FetchImage(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		h.handleError(w, r, err, "")
		return
	}

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", imageCacheControl)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	w.Write(img.Data)
}

func (h *MediaHandler) handleError(w http.ResponseWriter, r *http.Request, err error, throttled string) {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, throttled)
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrImageUpstream):
		writeError(w, http.StatusBadGateway, "image origin returned an invalid response")
	case errors.Is(err, domain.ErrImageFetch):
		writeError(w, http.StatusInternalServerError, "failed to fetch image")
	case errors.Is(err, context.Canceled):
		h.logger.Debug("request canceled", "path", r.URL.Path)
	case errors.Is(err, context.DeadlineExceeded):
		// The router's timeout middleware answers with 504.
		h.logger.Debug("request timed out", "path", r.URL.Path)
	case errors.Is(err, domain.ErrUpstream):
		writeError(w, http.StatusInternalServerError, upstreamMessage(err))
	default:
		h.logger.Error("unhandled error", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// upstreamMessage returns the client-facing text for an extraction failure.
func upstreamMessage(err error) string {
	for _, known := range []error{
		ytdlp.ErrToolNotFound,
		ytdlp.ErrContentUnavailable,
		ytdlp.ErrMalformedOutput,
		ytdlp.ErrTimeout,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	var toolErr *ytdlp.ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Error()
	}
	return "failed to process video"
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^\w\s\-().]`)
	filenameSpaces      = regexp.MustCompile(`\s+`)
)

// SafeFilename reduces title to word characters, whitespace, dashes, dots
// and parentheses, capped at 120 characters. An empty result becomes
// "video".
func SafeFilename(title string) string {
	name := unsafeFilenameChars.ReplaceAllString(title, "")
	name = filenameSpaces.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	if len(name) > maxFilenameLength {
		name = name[:maxFilenameLength]
	}
	if name == "" {
		return defaultFilename
	}
	return name
}

// ContentDisposition builds an attachment header carrying both the plain
// and the RFC 5987 encoded filename.
func ContentDisposition(filename string) string {
	return `attachment; filename="` + filename + `"; filename*=UTF-8''` + url.PathEscape(filename)
}

// ClientKey identifies the caller for rate limiting: the first
// X-Forwarded-For entry, then X-Real-IP, then the connection address.
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
