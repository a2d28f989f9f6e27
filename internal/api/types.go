package api

import (
	"github.com/mattjoyce/pulsegate/internal/dispatch"
	"github.com/mattjoyce/pulsegate/internal/queue"
)

// EnqueueRequest is the canonical POST /api/v1/commands body. Duration is
// accepted in milliseconds. The handler decodes bodies loosely and the queue
// normalizes key variants, so camelCase equivalents (resourceId, durationMs)
// are accepted too.
type EnqueueRequest struct {
	Kind       string         `json:"kind"`
	ResourceID string         `json:"resource_id"`
	Intensity  int            `json:"intensity"`
	DurationMs int64          `json:"duration_ms"`
	UserID     string         `json:"user_id"`
	Source     string         `json:"source"`
	SourceData map[string]any `json:"source_data,omitempty"`
	Priority   int            `json:"priority"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is the GET /healthz body.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	QueueRunning  bool   `json:"queue_running"`
}

// CancelResponse is the DELETE /api/v1/commands/{itemID} body.
type CancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	ID        string `json:"id"`
}

// ClearResponse is the DELETE /api/v1/commands body.
type ClearResponse struct {
	Cancelled int `json:"cancelled"`
}

// StatsResponse merges queue and dispatch counters.
type StatsResponse struct {
	Queue    queue.Stats    `json:"queue"`
	Dispatch dispatch.Stats `json:"dispatch"`
}
