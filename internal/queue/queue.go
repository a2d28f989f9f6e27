package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/pulsegate/internal/backoff"
	"github.com/mattjoyce/pulsegate/internal/command"
	"github.com/mattjoyce/pulsegate/internal/dispatch"
	"github.com/mattjoyce/pulsegate/internal/events"
	"github.com/mattjoyce/pulsegate/internal/log"
	"github.com/mattjoyce/pulsegate/internal/safety"
)

//go:generate mockgen -destination=mocks/mock_dispatcher.go -package=mocks github.com/mattjoyce/pulsegate/internal/queue Dispatcher,Archiver

// Dispatcher delivers one validated command. dispatch.Client satisfies it.
type Dispatcher interface {
	Send(ctx context.Context, cmd command.Command, priority int) error
}

// Archiver receives terminal items pruned from the in-memory queue.
type Archiver interface {
	ArchiveItem(ctx context.Context, item *Item) error
}

// maxDurationSamples bounds the rolling processing-duration sample.
const maxDurationSamples = 100

// throughputHorizon bounds the per-minute throughput series.
const throughputHorizon = time.Hour

// CommandQueue is the safety-gated priority queue in front of the dispatch
// layer. A single Run loop consumes items; enqueue, cancel and accessors may
// be called from any goroutine. The backing slice is guarded by one mutex
// and every sleep happens outside it, so no queue operation is ever blocked
// by a backoff or pacing delay.
type CommandQueue struct {
	cfg        Config
	gate       safety.Gate
	dispatcher Dispatcher
	archiver   Archiver
	hub        *events.Hub
	logger     *slog.Logger
	boff       backoff.Strategy

	mu      sync.Mutex
	items   []*Item
	running bool

	wake chan struct{}

	totalEnqueued  int64
	totalProcessed int64
	totalFailed    int64
	totalCancelled int64
	totalRetried   int64
	durations      []time.Duration
	perMinute      map[int64]int
}

// New creates a CommandQueue. archiver may be nil; pruned items are then
// discarded.
func New(cfg Config, gate safety.Gate, dispatcher Dispatcher, archiver Archiver, hub *events.Hub) *CommandQueue {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if hub == nil {
		hub = events.NewHub(128)
	}
	return &CommandQueue{
		cfg:        cfg,
		gate:       gate,
		dispatcher: dispatcher,
		archiver:   archiver,
		hub:        hub,
		logger:     log.WithComponent("queue"),
		boff:       backoff.NewConstant(cfg.RetryDelay),
		wake:       make(chan struct{}, 1),
		perMinute:  make(map[int64]int),
	}
}

// Enqueue validates and inserts a command as a Pending item, returning its
// 1-based position among pending items. The processing loop is woken if
// idle.
func (q *CommandQueue) Enqueue(ctx context.Context, req EnqueueRequest) EnqueueResult {
	if err := req.Command.Validate(); err != nil {
		return EnqueueResult{OK: false, Message: fmt.Sprintf("invalid command: %v", err)}
	}

	priority := req.Priority
	if priority < MinPriority {
		priority = MinPriority
	}
	if priority > MaxPriority {
		priority = MaxPriority
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = q.cfg.MaxRetries
	}

	item := &Item{
		ID:         uuid.NewString(),
		Priority:   priority,
		Command:    req.Command,
		UserID:     req.UserID,
		Source:     req.Source,
		SourceData: req.SourceData,
		Status:     StatusPending,
		MaxRetries: maxRetries,
		EnqueuedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	if q.occupancyLocked() >= q.cfg.Capacity {
		q.mu.Unlock()
		return EnqueueResult{OK: false, Message: ErrQueueFull.Error()}
	}
	q.items = append(q.items, item)
	q.sortPendingLocked()
	position := q.positionLocked(item.ID)
	q.totalEnqueued++
	q.mu.Unlock()

	q.logger.Debug("command enqueued",
		"item_id", item.ID, "kind", item.Command.Kind.String(),
		"priority", item.Priority, "position", position)
	q.publishChanged()
	q.wakeLoop()

	return EnqueueResult{OK: true, ID: item.ID, Position: position}
}

// AddItem is a field-name-normalizing convenience wrapper over Enqueue for
// loosely-shaped producer payloads (camelCase or snake_case keys).
func (q *CommandQueue) AddItem(ctx context.Context, raw map[string]any) EnqueueResult {
	kindRaw, _ := pickString(raw, "kind", "type")
	resourceID, _ := pickString(raw, "resourceId", "resource_id", "deviceId", "device_id")
	intensity, _ := pickInt(raw, "intensity")
	durationMs, ok := pickInt(raw, "durationMs", "duration_ms")
	if !ok {
		durationMs, _ = pickInt(raw, "duration")
	}

	cmd, err := command.New(kindRaw, resourceID, intensity, time.Duration(durationMs)*time.Millisecond)
	if err != nil {
		return EnqueueResult{OK: false, Message: fmt.Sprintf("invalid command: %v", err)}
	}

	userID, _ := pickString(raw, "userId", "user_id")
	source, _ := pickString(raw, "source")
	priority, _ := pickInt(raw, "priority")
	sourceData, _ := raw["sourceData"].(map[string]any)
	if sourceData == nil {
		sourceData, _ = raw["source_data"].(map[string]any)
	}

	return q.Enqueue(ctx, EnqueueRequest{
		Command:    cmd,
		UserID:     userID,
		Source:     source,
		SourceData: sourceData,
		Priority:   priority,
	})
}

// Run is the single consumer loop. It blocks until ctx is cancelled.
func (q *CommandQueue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return fmt.Errorf("queue: already running")
	}
	q.running = true
	q.mu.Unlock()

	q.logger.Info("processing loop started")
	q.hub.Publish(events.TypeQueueStarted, nil)
	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
		q.hub.Publish(events.TypeQueueStopped, nil)
		q.logger.Info("processing loop stopped")
	}()

	for {
		item := q.takeNext(ctx)
		if item == nil {
			return ctx.Err()
		}

		q.process(ctx, item)

		// Cleanup exactly once per iteration.
		q.cleanup(ctx)

		if q.cfg.InterItemDelay > 0 {
			if !sleepCtx(ctx, q.cfg.InterItemDelay) {
				return ctx.Err()
			}
		}
	}
}

// Dequeue returns a snapshot of the first Pending item without removing it,
// or nil when none is pending. The Run loop owns the actual transition.
func (q *CommandQueue) Dequeue() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.Status == StatusPending {
			return it.clone()
		}
	}
	return nil
}

// takeNext blocks until a Pending item exists, marks it Processing and
// returns it. Returns nil when ctx is done.
func (q *CommandQueue) takeNext(ctx context.Context) *Item {
	for {
		q.mu.Lock()
		for _, it := range q.items {
			if it.Status == StatusPending {
				now := time.Now().UTC()
				it.Status = StatusProcessing
				it.StartedAt = &now
				q.mu.Unlock()
				return it
			}
		}
		q.mu.Unlock()

		q.hub.Publish(events.TypeQueueEmpty, nil)
		select {
		case <-q.wake:
		case <-ctx.Done():
			return nil
		}
	}
}

// process runs one item through the safety gate and the dispatcher,
// retrying at this layer up to the item's budget. item is the live pointer;
// only the Run loop mutates a Processing item, so reads of its fixed fields
// are safe without the lock.
func (q *CommandQueue) process(ctx context.Context, item *Item) {
	itemLogger := log.WithItem(item.ID).With(
		"kind", item.Command.Kind.String(),
		"resource_id", item.Command.ResourceID,
		"attempt", item.Retries+1,
	)

	verdict := q.gate.CheckCommand(ctx,
		item.Command.Kind, item.Command.ResourceID,
		item.Command.Intensity, item.Command.Duration, item.UserID)
	if !verdict.Allowed {
		itemLogger.Warn("command rejected by safety policy", "reason", verdict.Reason)
		q.finish(item, StatusFailed, fmt.Sprintf("rejected by policy: %s", verdict.Reason))
		return
	}

	cmd := item.Command
	cmd.Intensity = verdict.Intensity(cmd.Intensity)
	cmd.Duration = verdict.Duration(cmd.Duration)

	err := q.dispatcher.Send(ctx, cmd, item.Priority)
	if err == nil {
		itemLogger.Info("command dispatched")
		q.finish(item, StatusCompleted, "")
		return
	}

	if dispatch.Transient(err) && item.Retries < item.MaxRetries {
		itemLogger.Warn("dispatch failed, re-queueing", "error", err)
		q.mu.Lock()
		item.Retries++
		item.Status = StatusPending
		item.StartedAt = nil
		item.LastError = err.Error()
		q.sortPendingLocked()
		q.totalRetried++
		q.mu.Unlock()
		q.publishChanged()

		// Inter-retry delay, observed outside the lock.
		if d := q.boff.Delay(item.Retries); d > 0 {
			sleepCtx(ctx, d)
		}
		return
	}

	itemLogger.Error("dispatch failed permanently", "error", err, "retries", item.Retries)
	q.finish(item, StatusFailed, err.Error())
}

// finish moves a Processing item to a terminal status and updates stats.
func (q *CommandQueue) finish(item *Item, status Status, lastError string) {
	now := time.Now().UTC()

	q.mu.Lock()
	item.Status = status
	item.CompletedAt = &now
	if lastError != "" {
		item.LastError = lastError
	}
	switch status {
	case StatusCompleted:
		q.totalProcessed++
		if item.StartedAt != nil {
			q.recordDurationLocked(now.Sub(*item.StartedAt))
		}
		q.perMinute[now.Truncate(time.Minute).Unix()]++
	case StatusFailed:
		q.totalFailed++
	}
	snapshot := item.clone()
	q.mu.Unlock()

	q.hub.Publish(events.TypeItemProcessed, map[string]any{
		"item":    snapshot,
		"success": status == StatusCompleted,
	})
	q.publishChanged()
}

// cleanup prunes terminal items beyond the retention cap, oldest completed
// first, handing them to the archiver.
func (q *CommandQueue) cleanup(ctx context.Context) {
	q.mu.Lock()
	var terminal []*Item
	for _, it := range q.items {
		if it.Status.Terminal() {
			terminal = append(terminal, it)
		}
	}
	excess := len(terminal) - q.cfg.Retention
	if excess <= 0 {
		q.mu.Unlock()
		return
	}

	sort.SliceStable(terminal, func(i, j int) bool {
		return completedAt(terminal[i]).Before(completedAt(terminal[j]))
	})
	pruned := terminal[:excess]
	drop := make(map[string]bool, len(pruned))
	for _, it := range pruned {
		drop[it.ID] = true
	}
	kept := q.items[:0]
	for _, it := range q.items {
		if !drop[it.ID] {
			kept = append(kept, it)
		}
	}
	q.items = kept
	q.mu.Unlock()

	for _, it := range pruned {
		if q.archiver != nil {
			if err := q.archiver.ArchiveItem(ctx, it); err != nil {
				q.logger.Error("failed to archive pruned item", "item_id", it.ID, "error", err)
			}
		}
	}
	q.logger.Debug("pruned terminal items", "count", len(pruned))
	q.publishChanged()
}

// CancelItem cancels a Pending item. Cancelling a Processing or terminal
// item is rejected.
func (q *CommandQueue) CancelItem(id string) bool {
	now := time.Now().UTC()

	q.mu.Lock()
	var found *Item
	for _, it := range q.items {
		if it.ID == id {
			found = it
			break
		}
	}
	if found == nil || found.Status != StatusPending {
		q.mu.Unlock()
		return false
	}
	found.Status = StatusCancelled
	found.CompletedAt = &now
	q.totalCancelled++
	q.mu.Unlock()

	q.logger.Info("item cancelled", "item_id", id)
	q.publishChanged()
	return true
}

// ClearQueue cancels every Pending item in one atomic step and returns the
// count. Processing items are left to finish.
func (q *CommandQueue) ClearQueue() int {
	now := time.Now().UTC()

	q.mu.Lock()
	count := 0
	for _, it := range q.items {
		if it.Status == StatusPending {
			it.Status = StatusCancelled
			it.CompletedAt = &now
			count++
		}
	}
	q.totalCancelled += int64(count)
	q.mu.Unlock()

	if count > 0 {
		q.logger.Info("queue cleared", "cancelled", count)
		q.publishChanged()
	}
	return count
}

// Status summarizes queue occupancy.
func (q *CommandQueue) Status() StatusSummary {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := StatusSummary{Capacity: q.cfg.Capacity, Running: q.running}
	for _, it := range q.items {
		switch it.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Items returns snapshots of queue items, optionally filtered by status.
func (q *CommandQueue) Items(filter Status) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Item, 0, len(q.items))
	for _, it := range q.items {
		if filter == "" || it.Status == filter {
			out = append(out, it.clone())
		}
	}
	return out
}

// ItemByID returns a snapshot of one item.
func (q *CommandQueue) ItemByID(id string) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.ID == id {
			return it.clone(), nil
		}
	}
	return nil, ErrItemNotFound
}

// Stats snapshots the derived counters.
func (q *CommandQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Stats{
		TotalEnqueued:  q.totalEnqueued,
		TotalProcessed: q.totalProcessed,
		TotalFailed:    q.totalFailed,
		TotalCancelled: q.totalCancelled,
		TotalRetried:   q.totalRetried,
		SampleCount:    len(q.durations),
	}
	if len(q.durations) > 0 {
		var sum time.Duration
		for _, d := range q.durations {
			sum += d
		}
		st.AvgProcessingMs = float64(sum.Milliseconds()) / float64(len(q.durations))
	}

	cutoff := time.Now().Add(-throughputHorizon).Truncate(time.Minute).Unix()
	for minute, count := range q.perMinute {
		if minute < cutoff {
			delete(q.perMinute, minute)
			continue
		}
		st.PerMinute = append(st.PerMinute, MinuteCount{Minute: time.Unix(minute, 0).UTC(), Count: count})
	}
	sort.Slice(st.PerMinute, func(i, j int) bool {
		return st.PerMinute[i].Minute.Before(st.PerMinute[j].Minute)
	})
	return st
}

// occupancyLocked counts Pending+Processing items.
func (q *CommandQueue) occupancyLocked() int {
	n := 0
	for _, it := range q.items {
		if it.Status == StatusPending || it.Status == StatusProcessing {
			n++
		}
	}
	return n
}

// sortPendingLocked re-sorts only the Pending items (priority descending,
// enqueue time ascending) and writes them back into the positions pending
// items occupied. Processing and terminal items keep their positions, so an
// in-flight item is never reordered.
func (q *CommandQueue) sortPendingLocked() {
	var idx []int
	var pending []*Item
	for i, it := range q.items {
		if it.Status == StatusPending {
			idx = append(idx, i)
			pending = append(pending, it)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].EnqueuedAt.Before(pending[j].EnqueuedAt)
	})
	for k, i := range idx {
		q.items[i] = pending[k]
	}
}

// positionLocked returns the 1-based position of id among Pending items.
func (q *CommandQueue) positionLocked(id string) int {
	pos := 0
	for _, it := range q.items {
		if it.Status != StatusPending {
			continue
		}
		pos++
		if it.ID == id {
			return pos
		}
	}
	return 0
}

func (q *CommandQueue) recordDurationLocked(d time.Duration) {
	q.durations = append(q.durations, d)
	if len(q.durations) > maxDurationSamples {
		q.durations = q.durations[len(q.durations)-maxDurationSamples:]
	}
}

func (q *CommandQueue) publishChanged() {
	q.hub.Publish(events.TypeQueueChanged, q.Status())
}

func (q *CommandQueue) wakeLoop() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func completedAt(it *Item) time.Time {
	if it.CompletedAt != nil {
		return *it.CompletedAt
	}
	return it.EnqueuedAt
}

// sleepCtx waits d or until ctx is done. Returns false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func pickString(raw map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func pickInt(raw map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return n, true
		case int64:
			return int(n), true
		case float64:
			return int(n), true
		}
	}
	return 0, false
}
