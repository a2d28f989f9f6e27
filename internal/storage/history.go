package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattjoyce/pulsegate/internal/queue"
)

// History persists terminal queue items pruned from memory. It satisfies
// queue.Archiver.
type History struct {
	db *sql.DB
}

// NewHistory creates a History over an opened database.
func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

// Record is one archived command, the queryable projection of a pruned item.
type Record struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	ResourceID  string     `json:"resource_id"`
	Intensity   int        `json:"intensity"`
	DurationMs  int64      `json:"duration_ms"`
	Priority    int        `json:"priority"`
	UserID      string     `json:"user_id"`
	Source      string     `json:"source"`
	Status      string     `json:"status"`
	Retries     int        `json:"retries"`
	LastError   *string    `json:"last_error,omitempty"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ArchiveItem appends a terminal item to command_log.
func (h *History) ArchiveItem(ctx context.Context, item *queue.Item) error {
	if item == nil {
		return fmt.Errorf("item is nil")
	}
	if !item.Status.Terminal() {
		return fmt.Errorf("item %s is not terminal: %s", item.ID, item.Status)
	}

	var lastError any
	if item.LastError != "" {
		lastError = item.LastError
	}
	var completedAt any
	if item.CompletedAt != nil {
		completedAt = item.CompletedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := h.db.ExecContext(ctx, `
INSERT OR REPLACE INTO command_log(
  id, kind, resource_id, intensity, duration_ms, priority, user_id, source,
  status, retries, last_error, enqueued_at, completed_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, item.ID, item.Command.Kind.String(), item.Command.ResourceID,
		item.Command.Intensity, item.Command.Duration.Milliseconds(), item.Priority,
		item.UserID, item.Source, string(item.Status), item.Retries, lastError,
		item.EnqueuedAt.UTC().Format(time.RFC3339Nano), completedAt)
	if err != nil {
		return fmt.Errorf("archive item: %w", err)
	}
	return nil
}

// Recent returns the newest archived commands, most recently completed
// first.
func (h *History) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := h.db.QueryContext(ctx, `
SELECT id, kind, resource_id, intensity, duration_ms, priority, user_id, source,
       status, retries, last_error, enqueued_at, completed_at
FROM command_log
ORDER BY completed_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query command_log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var (
			r            Record
			lastError    sql.NullString
			enqueuedAtS  string
			completedAtS sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.ResourceID, &r.Intensity, &r.DurationMs,
			&r.Priority, &r.UserID, &r.Source, &r.Status, &r.Retries,
			&lastError, &enqueuedAtS, &completedAtS); err != nil {
			return nil, fmt.Errorf("scan command_log: %w", err)
		}
		if lastError.Valid {
			r.LastError = &lastError.String
		}
		if t, err := time.Parse(time.RFC3339Nano, enqueuedAtS); err == nil {
			r.EnqueuedAt = t
		}
		if completedAtS.Valid {
			if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
				r.CompletedAt = &t
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
