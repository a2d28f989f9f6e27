package queue

import (
	"errors"
	"time"

	"github.com/mattjoyce/pulsegate/internal/command"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

const (
	MinPriority = 1
	MaxPriority = 10
)

var (
	ErrQueueFull    = errors.New("queue: queue full")
	ErrItemNotFound = errors.New("queue: item not found")
)

// Item is one queued actuator command with its full lifecycle state.
type Item struct {
	ID          string          `json:"id"`
	Priority    int             `json:"priority"`
	Command     command.Command `json:"command"`
	UserID      string          `json:"user_id"`
	Source      string          `json:"source"`
	SourceData  map[string]any  `json:"source_data,omitempty"`
	Status      Status          `json:"status"`
	Retries     int             `json:"retries"`
	MaxRetries  int             `json:"max_retries"`
	LastError   string          `json:"last_error,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// clone returns a snapshot safe to hand outside the queue's lock.
func (it *Item) clone() *Item {
	cp := *it
	if it.SourceData != nil {
		cp.SourceData = make(map[string]any, len(it.SourceData))
		for k, v := range it.SourceData {
			cp.SourceData[k] = v
		}
	}
	if it.StartedAt != nil {
		t := *it.StartedAt
		cp.StartedAt = &t
	}
	if it.CompletedAt != nil {
		t := *it.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// EnqueueRequest carries everything a producer supplies for one command.
type EnqueueRequest struct {
	Command    command.Command
	UserID     string
	Source     string
	SourceData map[string]any
	Priority   int
	// MaxRetries overrides the configured queue retry budget when > 0.
	MaxRetries int
}

// EnqueueResult is the producer-facing outcome of an enqueue attempt.
type EnqueueResult struct {
	OK       bool   `json:"ok"`
	ID       string `json:"id,omitempty"`
	Position int    `json:"position,omitempty"`
	Message  string `json:"message,omitempty"`
}

// StatusSummary is a point-in-time view of queue occupancy.
type StatusSummary struct {
	Pending    int  `json:"pending"`
	Processing int  `json:"processing"`
	Completed  int  `json:"completed"`
	Failed     int  `json:"failed"`
	Cancelled  int  `json:"cancelled"`
	Capacity   int  `json:"capacity"`
	Running    bool `json:"running"`
}

// MinuteCount is one bucket of the per-minute throughput series.
type MinuteCount struct {
	Minute time.Time `json:"minute"`
	Count  int       `json:"count"`
}

// Stats are derived counters reconstructable from item lifecycle events.
type Stats struct {
	TotalEnqueued   int64         `json:"total_enqueued"`
	TotalProcessed  int64         `json:"total_processed"`
	TotalFailed     int64         `json:"total_failed"`
	TotalCancelled  int64         `json:"total_cancelled"`
	TotalRetried    int64         `json:"total_retried"`
	AvgProcessingMs float64       `json:"avg_processing_ms"`
	SampleCount     int           `json:"sample_count"`
	PerMinute       []MinuteCount `json:"per_minute,omitempty"`
}

// Config holds command queue settings.
type Config struct {
	// Capacity caps Pending+Processing items.
	Capacity int

	// Retention caps retained terminal items; older ones are pruned.
	Retention int

	// InterItemDelay is observed between any two dispatched items.
	InterItemDelay time.Duration

	// RetryDelay is the fixed delay before a retried item re-enters the
	// pending pool.
	RetryDelay time.Duration

	// MaxRetries is the default per-item retry budget.
	MaxRetries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:       50,
		Retention:      100,
		InterItemDelay: 500 * time.Millisecond,
		RetryDelay:     2 * time.Second,
		MaxRetries:     2,
	}
}
