package dispatch

import (
	"sync"
	"time"
)

// RateLimitStatus is a point-in-time snapshot of the rolling window.
type RateLimitStatus struct {
	Used    int           `json:"used"`
	Max     int           `json:"max"`
	Window  time.Duration `json:"window"`
	ResetIn time.Duration `json:"reset_in"`
}

// window is a rolling list of issue timestamps bounded to (max, span).
// The pump consults it before issuing a call; retry attempts restamp it,
// so access is serialized with a mutex.
type window struct {
	mu     sync.Mutex
	max    int
	span   time.Duration
	stamps []time.Time
}

func newWindow(max int, span time.Duration) *window {
	return &window{max: max, span: span}
}

// waitTime returns zero if the window has capacity at now, otherwise the
// time until the oldest stamp falls out of the window.
func (w *window) waitTime(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	if len(w.stamps) < w.max {
		return 0
	}
	return w.stamps[0].Add(w.span).Sub(now)
}

// stamp records one issued call.
func (w *window) stamp(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	w.stamps = append(w.stamps, now)
}

func (w *window) status(now time.Time) RateLimitStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	st := RateLimitStatus{Used: len(w.stamps), Max: w.max, Window: w.span}
	if len(w.stamps) > 0 {
		st.ResetIn = w.stamps[0].Add(w.span).Sub(now)
		if st.ResetIn < 0 {
			st.ResetIn = 0
		}
	}
	return st
}

func (w *window) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
