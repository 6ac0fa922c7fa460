package handler

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
)

var startTime = time.Now()

// ToolLocator resolves the external extraction binary.
type ToolLocator interface {
	LookPath() (string, error)
}

// KeyCounter reports how many rate-limit keys are being tracked.
type KeyCounter interface {
	Len() int
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	tool    ToolLocator
	limiter KeyCounter
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(tool ToolLocator, limiter KeyCounter) *HealthHandler {
	return &HealthHandler{
		tool:    tool,
		limiter: limiter,
	}
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	YtDlp     string `json:"yt_dlp,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Live handles GET /health - liveness probe.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready - readiness probe. The service is ready when the
// yt-dlp binary can be resolved.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	path, err := h.tool.LookPath()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:    "error",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Error:     err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		YtDlp:     path,
	})
}

// SystemStats contains process statistics.
type SystemStats struct {
	Uptime          int64  `json:"uptime_seconds"`
	UptimeHuman     string `json:"uptime_human"`
	MemAlloc        string `json:"mem_alloc"`
	MemSys          string `json:"mem_sys"`
	NumGoroutines   int    `json:"num_goroutines"`
	NumCPU          int    `json:"num_cpu"`
	RateLimitedKeys int    `json:"rate_limit_keys"`
}

// Stats handles GET /api/stats - process statistics.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime)

	stats := SystemStats{
		Uptime:        int64(uptime.Seconds()),
		UptimeHuman:   formatUptime(uptime),
		MemAlloc:      humanize.Bytes(m.Alloc),
		MemSys:        humanize.Bytes(m.Sys),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
	}
	if h.limiter != nil {
		stats.RateLimitedKeys = h.limiter.Len()
	}

	writeJSON(w, http.StatusOK, stats)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
