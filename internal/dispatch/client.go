package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/pulsegate/internal/backoff"
	"github.com/mattjoyce/pulsegate/internal/command"
	"github.com/mattjoyce/pulsegate/internal/log"
)

// maxErrorBodyBytes caps how much of an error response body is folded into
// the normalized error message.
const maxErrorBodyBytes = 4 * 1024

// Config holds dispatch client settings.
type Config struct {
	// BaseURL is the device-control API endpoint.
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Timeout is the per-attempt HTTP timeout.
	Timeout time.Duration

	// MaxConcurrent caps simultaneously in-flight calls.
	MaxConcurrent int

	// RateLimitMax and RateLimitWindow bound the rolling issue window.
	RateLimitMax    int
	RateLimitWindow time.Duration

	// MaxRetries is the per-request retry budget for transient failures.
	MaxRetries int

	// RetryBase is the base delay for exponential retry backoff.
	RetryBase time.Duration

	// DeviceCooldown is the minimum spacing between calls to one resource.
	DeviceCooldown time.Duration

	// MinDuration and MaxDuration bound accepted command durations.
	MinDuration time.Duration
	MaxDuration time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		MaxConcurrent:   3,
		RateLimitMax:    60,
		RateLimitWindow: time.Minute,
		MaxRetries:      3,
		RetryBase:       500 * time.Millisecond,
		DeviceCooldown:  2 * time.Second,
		MinDuration:     100 * time.Millisecond,
		MaxDuration:     30 * time.Second,
	}
}

// SendOptions carries optional per-call settings.
type SendOptions struct {
	// Priority orders still-queued requests, higher first. Defaults to 5.
	Priority int
}

// Stats are derived dispatch counters.
type Stats struct {
	TotalQueued    int64 `json:"total_queued"`
	TotalSent      int64 `json:"total_sent"`
	TotalSucceeded int64 `json:"total_succeeded"`
	TotalFailed    int64 `json:"total_failed"`
	TotalRetried   int64 `json:"total_retried"`
	QueueDepth     int   `json:"queue_depth"`
	InFlight       int   `json:"in_flight"`
}

// request is one outbound call between submission and completion. It exists
// only inside the client; producers never see it.
type request struct {
	method     string
	endpoint   string
	payload    []byte
	resourceID string
	priority   int
	enqueuedAt time.Time
	result     chan error
}

// Client queues outbound device-control calls behind three gates: a
// concurrency cap, a rolling rate-limit window and a per-resource cooldown.
// A single pump goroutine drains the queue; attempts run in their own
// goroutines so calls may complete out of order when MaxConcurrent > 1.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
	boff   backoff.Strategy

	mu     sync.Mutex
	queue  []*request
	closed bool

	wake     chan struct{}
	stop     chan struct{}
	pumpDone chan struct{}
	inflight chan struct{}
	attempts sync.WaitGroup

	// issueMu serializes gate checks with their stamps so two callers can
	// never pass the same window slot or cooldown gap.
	issueMu   sync.Mutex
	window    *window
	cooldowns *cooldowns

	totalQueued    atomic.Int64
	totalSent      atomic.Int64
	totalSucceeded atomic.Int64
	totalFailed    atomic.Int64
	totalRetried   atomic.Int64
}

// New creates a Client and starts its pump loop.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = def.RateLimitMax
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = def.RateLimitWindow
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = def.MinDuration
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = def.MaxDuration
	}

	c := &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    log.WithComponent("dispatch"),
		boff:      backoff.NewExponentialWithJitter(cfg.RetryBase, 0),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		pumpDone:  make(chan struct{}),
		inflight:  make(chan struct{}, cfg.MaxConcurrent),
		window:    newWindow(cfg.RateLimitMax, cfg.RateLimitWindow),
		cooldowns: newCooldowns(cfg.DeviceCooldown),
	}
	go c.pump()
	return c
}

// SendShock dispatches a shock command.
func (c *Client) SendShock(ctx context.Context, resourceID string, intensity int, duration time.Duration, opts SendOptions) error {
	return c.Send(ctx, command.Command{Kind: command.KindShock, ResourceID: resourceID, Intensity: intensity, Duration: duration}, opts.Priority)
}

// SendVibrate dispatches a vibrate command.
func (c *Client) SendVibrate(ctx context.Context, resourceID string, intensity int, duration time.Duration, opts SendOptions) error {
	return c.Send(ctx, command.Command{Kind: command.KindVibrate, ResourceID: resourceID, Intensity: intensity, Duration: duration}, opts.Priority)
}

// SendSound dispatches a sound command.
func (c *Client) SendSound(ctx context.Context, resourceID string, intensity int, duration time.Duration, opts SendOptions) error {
	return c.Send(ctx, command.Command{Kind: command.KindSound, ResourceID: resourceID, Intensity: intensity, Duration: duration}, opts.Priority)
}

// Send validates cmd, queues the outbound call and blocks until it
// completes, fails, or ctx is done. Validation failures are reported
// synchronously and never queued.
func (c *Client) Send(ctx context.Context, cmd command.Command, priority int) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("validate command: %w", err)
	}
	if cmd.Duration < c.cfg.MinDuration || cmd.Duration > c.cfg.MaxDuration {
		return fmt.Errorf("duration %v outside [%v,%v]", cmd.Duration, c.cfg.MinDuration, c.cfg.MaxDuration)
	}
	if priority <= 0 {
		priority = 5
	}

	payload, err := json.Marshal(map[string]any{
		"id":          cmd.ResourceID,
		"type":        cmd.Kind.String(),
		"intensity":   cmd.Intensity,
		"duration_ms": cmd.Duration.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("marshal control payload: %w", err)
	}

	req := &request{
		method:     http.MethodPost,
		endpoint:   "/control",
		payload:    payload,
		resourceID: cmd.ResourceID,
		priority:   priority,
		enqueuedAt: time.Now().UTC(),
		result:     make(chan error, 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.queue = append(c.queue, req)
	// Append order is enqueue order, so a stable sort on priority keeps
	// FIFO within each priority band.
	sort.SliceStable(c.queue, func(i, j int) bool {
		return c.queue[i].priority > c.queue[j].priority
	})
	c.mu.Unlock()
	c.totalQueued.Add(1)

	select {
	case c.wake <- struct{}{}:
	default:
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pump is the single drain loop. All three gates must pass before a call is
// issued: a free concurrency slot, rate-window capacity, and an elapsed
// per-resource cooldown. Waiting on the rate window or a cooldown sleeps the
// pump itself; the stamps land here, before the attempt goroutine is
// spawned, so the next iteration always sees them.
func (c *Client) pump() {
	defer close(c.pumpDone)

	for {
		req := c.next()
		if req == nil {
			return
		}

		select {
		case c.inflight <- struct{}{}:
		case <-c.stop:
			c.deliver(req, ErrClientClosed)
			return
		}

		if !c.waitIssue(req.resourceID) {
			<-c.inflight
			c.deliver(req, ErrClientClosed)
			return
		}

		c.attempts.Add(1)
		go c.attempt(req)
	}
}

// tryIssue checks the rate window and the cooldown for resourceID and, when
// both are clear, stamps them in the same critical section. When a gate is
// closed it returns the wait needed without stamping anything.
func (c *Client) tryIssue(resourceID string) (time.Duration, bool) {
	c.issueMu.Lock()
	defer c.issueMu.Unlock()

	now := time.Now()
	if d := c.window.waitTime(now); d > 0 {
		return d, false
	}
	if d := c.cooldowns.remaining(resourceID, now); d > 0 {
		return d, false
	}
	c.window.stamp(now)
	c.cooldowns.stamp(resourceID, now)
	return 0, true
}

// waitIssue blocks until both gates clear and are stamped for resourceID.
// Returns false if the client stops first.
func (c *Client) waitIssue(resourceID string) bool {
	for {
		d, ok := c.tryIssue(resourceID)
		if ok {
			return true
		}
		if !c.sleep(d) {
			return false
		}
	}
}

// next blocks until a request is queued or the client stops.
func (c *Client) next() *request {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			req := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return req
		}
		c.mu.Unlock()

		select {
		case <-c.wake:
		case <-c.stop:
			return nil
		}
	}
}

// attempt issues the call with the client's retry budget. Every attempt is
// a wire call, so every attempt passes through the same gates: the pump
// acquires and stamps them for the first attempt, retries re-acquire them
// here after the backoff delay.
func (c *Client) attempt(req *request) {
	defer c.attempts.Done()
	defer func() { <-c.inflight }()

	var lastErr error
	for n := 0; ; n++ {
		c.totalSent.Add(1)

		lastErr = c.do(req)
		if lastErr == nil {
			c.totalSucceeded.Add(1)
			c.deliver(req, nil)
			return
		}
		if !Transient(lastErr) || n >= c.cfg.MaxRetries {
			break
		}

		c.totalRetried.Add(1)
		d := c.boff.Delay(n + 1)
		c.logger.Debug("retrying dispatch",
			"resource_id", req.resourceID, "attempt", n+1, "delay", d, "error", lastErr)
		if !c.sleep(d) {
			lastErr = ErrClientClosed
			break
		}
		if !c.waitIssue(req.resourceID) {
			lastErr = ErrClientClosed
			break
		}
	}

	c.totalFailed.Add(1)
	c.logger.Warn("dispatch failed", "resource_id", req.resourceID, "error", lastErr)
	c.deliver(req, lastErr)
}

// do performs one HTTP attempt and normalizes any failure into an APIError.
func (c *Client) do(req *request) error {
	httpReq, err := http.NewRequest(req.method, c.cfg.BaseURL+req.endpoint, bytes.NewReader(req.payload))
	if err != nil {
		return &APIError{StatusCode: 0, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &APIError{StatusCode: 0, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	msg := http.StatusText(resp.StatusCode)
	if len(body) > 0 {
		msg = string(body)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

func (c *Client) deliver(req *request, err error) {
	select {
	case req.result <- err:
	default:
	}
}

// sleep waits d or until the client stops. Returns false if stopped.
func (c *Client) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.stop:
		return false
	}
}

// RateLimitStatus snapshots the rolling window.
func (c *Client) RateLimitStatus() RateLimitStatus {
	return c.window.status(time.Now())
}

// Stats snapshots the dispatch counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	depth := len(c.queue)
	c.mu.Unlock()
	return Stats{
		TotalQueued:    c.totalQueued.Load(),
		TotalSent:      c.totalSent.Load(),
		TotalSucceeded: c.totalSucceeded.Load(),
		TotalFailed:    c.totalFailed.Load(),
		TotalRetried:   c.totalRetried.Load(),
		QueueDepth:     depth,
		InFlight:       len(c.inflight),
	}
}

// ClearQueue fails every still-queued request with ErrQueueCleared and
// returns how many were dropped. In-flight calls are left to finish.
func (c *Client) ClearQueue() int {
	c.mu.Lock()
	dropped := c.queue
	c.queue = nil
	c.mu.Unlock()

	for _, req := range dropped {
		c.deliver(req, ErrQueueCleared)
	}
	return len(dropped)
}

// Destroy stops the pump, fails queued requests, waits for in-flight calls
// and releases HTTP resources. The client cannot be reused afterwards.
func (c *Client) Destroy() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stop)
	<-c.pumpDone

	c.mu.Lock()
	dropped := c.queue
	c.queue = nil
	c.mu.Unlock()
	for _, req := range dropped {
		c.deliver(req, ErrClientClosed)
	}

	c.attempts.Wait()
	c.http.CloseIdleConnections()
}
