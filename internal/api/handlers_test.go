package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/pulsegate/internal/auth"
	"github.com/mattjoyce/pulsegate/internal/dispatch"
	"github.com/mattjoyce/pulsegate/internal/events"
	"github.com/mattjoyce/pulsegate/internal/log"
	"github.com/mattjoyce/pulsegate/internal/queue"
	"github.com/mattjoyce/pulsegate/internal/storage"
)

type fakeQueue struct {
	enqueueResult queue.EnqueueResult
	lastRaw       map[string]any
	cancelOK      bool
	cleared       int
	item          *queue.Item
	itemErr       error
}

func (f *fakeQueue) AddItem(_ context.Context, raw map[string]any) queue.EnqueueResult {
	f.lastRaw = raw
	return f.enqueueResult
}

func (f *fakeQueue) CancelItem(id string) bool { return f.cancelOK }
func (f *fakeQueue) ClearQueue() int           { return f.cleared }

func (f *fakeQueue) Status() queue.StatusSummary {
	return queue.StatusSummary{Pending: 2, Capacity: 50, Running: true}
}

func (f *fakeQueue) Items(filter queue.Status) []*queue.Item {
	if f.item == nil {
		return nil
	}
	return []*queue.Item{f.item}
}

func (f *fakeQueue) ItemByID(id string) (*queue.Item, error) {
	if f.itemErr != nil {
		return nil, f.itemErr
	}
	return f.item, nil
}

func (f *fakeQueue) Stats() queue.Stats { return queue.Stats{TotalEnqueued: 7} }

type fakeDispatch struct{}

func (fakeDispatch) RateLimitStatus() dispatch.RateLimitStatus {
	return dispatch.RateLimitStatus{Used: 1, Max: 60, Window: time.Minute}
}

func (fakeDispatch) Stats() dispatch.Stats { return dispatch.Stats{TotalSent: 3} }

type fakeHistory struct {
	records []storage.Record
	err     error
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]storage.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

const (
	controlToken = "test-control-token"
	readToken    = "test-read-token"
)

func newTestServer(t *testing.T, q CommandQueuer, history HistoryReader) *httptest.Server {
	t.Helper()
	s := New(Config{
		Listen: "127.0.0.1:0",
		Tokens: []auth.TokenConfig{
			{Token: controlToken, Scopes: []string{"control"}},
			{Token: readToken, Scopes: []string{"read"}},
		},
	}, q, fakeDispatch{}, history, events.NewHub(16), log.WithComponent("api-test"))

	srv := httptest.NewServer(s.setupRoutes())
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthzNoAuth(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakeQueue{}, nil)

	resp := doRequest(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body HealthzResponse
	decodeBody(t, resp, &body)
	if body.Status != "ok" || body.QueueDepth != 2 || !body.QueueRunning {
		t.Errorf("healthz body = %+v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakeQueue{}, nil)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/queue", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/queue", "wrong-token", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", resp.StatusCode)
	}
}

func TestScopeEnforcement(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakeQueue{enqueueResult: queue.EnqueueResult{OK: true, ID: "x", Position: 1}}, nil)

	body := EnqueueRequest{Kind: "shock", ResourceID: "d1", Intensity: 10, DurationMs: 200}

	// Read-only token cannot enqueue.
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/commands", readToken, body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("read token POST status = %d, want 403", resp.StatusCode)
	}

	// Control token implies read.
	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/queue", controlToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("control token GET status = %d, want 200", resp.StatusCode)
	}
}

func TestEnqueueAccepted(t *testing.T) {
	t.Parallel()
	q := &fakeQueue{enqueueResult: queue.EnqueueResult{OK: true, ID: "item-1", Position: 3}}
	srv := newTestServer(t, q, nil)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/commands", controlToken, EnqueueRequest{
		Kind: "vibrate", ResourceID: "d7", Intensity: 40, DurationMs: 800, UserID: "u1", Priority: 8,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var result queue.EnqueueResult
	decodeBody(t, resp, &result)
	if result.ID != "item-1" || result.Position != 3 {
		t.Errorf("result = %+v", result)
	}

	if q.lastRaw["resource_id"] != "d7" {
		t.Errorf("queued resource = %v, want d7", q.lastRaw["resource_id"])
	}
	if q.lastRaw["duration_ms"] != float64(800) {
		t.Errorf("queued duration_ms = %v, want 800", q.lastRaw["duration_ms"])
	}
	if q.lastRaw["priority"] != float64(8) {
		t.Errorf("queued priority = %v, want 8", q.lastRaw["priority"])
	}
}

func TestEnqueueAcceptsCamelCaseBody(t *testing.T) {
	t.Parallel()
	q := &fakeQueue{enqueueResult: queue.EnqueueResult{OK: true, ID: "item-2", Position: 1}}
	srv := newTestServer(t, q, nil)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/commands", controlToken, map[string]any{
		"kind": "shock", "resourceId": "d9", "intensity": 12, "durationMs": 250,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if q.lastRaw["resourceId"] != "d9" {
		t.Errorf("raw body = %v, camelCase keys should pass through", q.lastRaw)
	}
}

func TestEnqueueInvalidCommand(t *testing.T) {
	t.Parallel()
	q := &fakeQueue{enqueueResult: queue.EnqueueResult{OK: false, Message: `invalid command: unknown command kind: "teleport"`}}
	srv := newTestServer(t, q, nil)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/commands", controlToken, EnqueueRequest{
		Kind: "teleport", ResourceID: "d1", Intensity: 10, DurationMs: 200,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d, want 400", resp.StatusCode)
	}
	var errBody ErrorResponse
	decodeBody(t, resp, &errBody)
	if !strings.Contains(errBody.Error, "unknown command kind") {
		t.Errorf("error body = %q, want validation message", errBody.Error)
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/commands", controlToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty body status = %d, want 400", resp.StatusCode)
	}
}

func TestEnqueueBackpressure(t *testing.T) {
	t.Parallel()
	q := &fakeQueue{enqueueResult: queue.EnqueueResult{OK: false, Message: queue.ErrQueueFull.Error()}}
	srv := newTestServer(t, q, nil)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/commands", controlToken, EnqueueRequest{
		Kind: "shock", ResourceID: "d1", Intensity: 10, DurationMs: 200,
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("full queue status = %d, want 429", resp.StatusCode)
	}
	var result queue.EnqueueResult
	decodeBody(t, resp, &result)
	if result.OK {
		t.Error("result.OK should be false")
	}
}

func TestCancelItem(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeQueue{cancelOK: true}, nil)
	resp := doRequest(t, http.MethodDelete, srv.URL+"/api/v1/commands/abc", controlToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("cancel status = %d, want 200", resp.StatusCode)
	}
	var body CancelResponse
	decodeBody(t, resp, &body)
	if !body.Cancelled || body.ID != "abc" {
		t.Errorf("cancel body = %+v", body)
	}

	srv2 := newTestServer(t, &fakeQueue{cancelOK: false}, nil)
	resp = doRequest(t, http.MethodDelete, srv2.URL+"/api/v1/commands/abc", controlToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("uncancellable status = %d, want 409", resp.StatusCode)
	}
}

func TestClearQueue(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakeQueue{cleared: 4}, nil)

	resp := doRequest(t, http.MethodDelete, srv.URL+"/api/v1/commands", controlToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d, want 200", resp.StatusCode)
	}
	var body ClearResponse
	decodeBody(t, resp, &body)
	if body.Cancelled != 4 {
		t.Errorf("cancelled = %d, want 4", body.Cancelled)
	}
}

func TestGetItemNotFound(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakeQueue{itemErr: queue.ErrItemNotFound}, nil)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/commands/missing", readToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestQueueItemsFilterValidation(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakeQueue{}, nil)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/queue/items?status=bogus", readToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus filter status = %d, want 400", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/queue/items?status=pending", readToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("pending filter status = %d, want 200", resp.StatusCode)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	t.Parallel()

	h := &fakeHistory{records: []storage.Record{
		{ID: "a", Kind: "shock"},
		{ID: "b", Kind: "vibrate"},
	}}
	srv := newTestServer(t, &fakeQueue{}, h)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/history?limit=1", readToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d, want 200", resp.StatusCode)
	}
	var recs []storage.Record
	decodeBody(t, resp, &recs)
	if len(recs) != 1 || recs[0].ID != "a" {
		t.Errorf("records = %+v", recs)
	}

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/v1/history?limit=x", readToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", resp.StatusCode)
	}

	// History disabled.
	srv2 := newTestServer(t, &fakeQueue{}, nil)
	resp = doRequest(t, http.MethodGet, srv2.URL+"/api/v1/history", readToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("disabled history status = %d, want 404", resp.StatusCode)
	}
}

func TestRateLimitEndpoint(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakeQueue{}, nil)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/dispatch/ratelimit", readToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var st dispatch.RateLimitStatus
	decodeBody(t, resp, &st)
	if st.Max != 60 || st.Used != 1 {
		t.Errorf("ratelimit = %+v", st)
	}
}
