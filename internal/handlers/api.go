package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/queue"
)

// PoolStats is satisfied by queue.WorkerPool; nil in api-only mode
type PoolStats interface {
	Stats() queue.Stats
}

// StreamCounter is satisfied by streaming.Streamer
type StreamCounter interface {
	ActiveStreams() int64
}

type APIHandler struct {
	store   interfaces.JobStore
	pool    PoolStats
	streams StreamCounter
	mode    string
	started time.Time
	logger  arbor.ILogger
}

// NewAPIHandler creates the health and fallback handler. pool may be nil.
func NewAPIHandler(store interfaces.JobStore, pool PoolStats, streams StreamCounter, mode string, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		store:   store,
		pool:    pool,
		streams: streams,
		mode:    mode,
		started: time.Now(),
		logger:  logger,
	}
}

// HealthResponse is the body of GET /api/health
type HealthResponse struct {
	Status        string       `json:"status"`
	Version       string       `json:"version"`
	Mode          string       `json:"mode"`
	Uptime        string       `json:"uptime"`
	Pending       int          `json:"pending"`
	ActiveStreams int64        `json:"activeStreams"`
	Goroutines    int64        `json:"goroutines"`
	Worker        *queue.Stats `json:"worker,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// HealthHandler reports queue depth, worker counters and open streams.
// A store that cannot be read turns the response into 503.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Version:    common.GetVersion(),
		Mode:       h.mode,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Goroutines: common.GetGoroutineCount(),
	}
	if h.streams != nil {
		resp.ActiveStreams = h.streams.ActiveStreams()
	}
	if h.pool != nil {
		stats := h.pool.Stats()
		resp.Worker = &stats
	}

	pending, err := h.store.PendingLength(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Health check could not read pending queue")
		resp.Status = "degraded"
		resp.Error = "job store unavailable"
		WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Pending = pending

	WriteJSON(w, http.StatusOK, resp)
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"status": "error",
		"error":  "Not Found",
		"path":   r.URL.Path,
	})
}
