package dispatch

import (
	"sync"
	"time"
)

// cooldowns tracks the last issue time per device resource. Two calls to the
// same resource are never issued closer together than min. Stamps are taken
// when a call is issued, not when it completes, so the cooldown protects the
// wire rather than logical success.
type cooldowns struct {
	mu   sync.Mutex
	min  time.Duration
	last map[string]time.Time
}

func newCooldowns(min time.Duration) *cooldowns {
	return &cooldowns{min: min, last: make(map[string]time.Time)}
}

// remaining returns how much of the cooldown is left for resourceID at now.
func (c *cooldowns) remaining(resourceID string, now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.last[resourceID]
	if !ok {
		return 0
	}
	d := c.min - now.Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

// stamp records an issued call to resourceID.
func (c *cooldowns) stamp(resourceID string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[resourceID] = now
}
