package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mattjoyce/pulsegate/internal/queue"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := s.queue.Status()
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    status.Pending + status.Processing,
		QueueRunning:  status.Running,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleEnqueue handles POST /api/v1/commands. The body is decoded loosely
// and normalized by the queue, so producers may post either the canonical
// snake_case shape (EnqueueRequest) or camelCase equivalents.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil || raw == nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result := s.queue.AddItem(r.Context(), raw)
	if !result.OK {
		if result.Message == queue.ErrQueueFull.Error() {
			// Capacity rejections are backpressure, not client errors.
			s.writeJSON(w, http.StatusTooManyRequests, result)
			return
		}
		s.writeError(w, http.StatusBadRequest, result.Message)
		return
	}
	s.writeJSON(w, http.StatusAccepted, result)
}

// handleCancel handles DELETE /api/v1/commands/{itemID}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	if ok := s.queue.CancelItem(id); !ok {
		s.writeError(w, http.StatusConflict, "item not pending or not found")
		return
	}
	s.writeJSON(w, http.StatusOK, CancelResponse{Cancelled: true, ID: id})
}

// handleClear handles DELETE /api/v1/commands.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, ClearResponse{Cancelled: s.queue.ClearQueue()})
}

// handleGetItem handles GET /api/v1/commands/{itemID}.
func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.queue.ItemByID(chi.URLParam(r, "itemID"))
	if err != nil {
		if errors.Is(err, queue.ErrItemNotFound) {
			s.writeError(w, http.StatusNotFound, "item not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

// handleQueueStatus handles GET /api/v1/queue.
func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.queue.Status())
}

// handleQueueItems handles GET /api/v1/queue/items?status=pending.
func (s *Server) handleQueueItems(w http.ResponseWriter, r *http.Request) {
	filter := queue.Status(r.URL.Query().Get("status"))
	switch filter {
	case "", queue.StatusPending, queue.StatusProcessing, queue.StatusCompleted,
		queue.StatusFailed, queue.StatusCancelled:
	default:
		s.writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}
	s.writeJSON(w, http.StatusOK, s.queue.Items(filter))
}

// handleStats handles GET /api/v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, StatsResponse{
		Queue:    s.queue.Stats(),
		Dispatch: s.dispatch.Stats(),
	})
}

// handleRateLimit handles GET /api/v1/dispatch/ratelimit.
func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dispatch.RateLimitStatus())
}

// handleHistory handles GET /api/v1/history?limit=50.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "history storage disabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	recs, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	s.writeJSON(w, http.StatusOK, recs)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}
