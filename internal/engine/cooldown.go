package engine

import (
	"sync"
	"time"

	"github.com/eliteGoblin/accountd/internal/domain"
)

// CooldownTracker throttles repeated kills of the same target so
// enforcement does not thrash against browsers that relaunch with
// saved sessions. Entries are cleared whenever enforcement is
// disarmed, so stale cooldowns never block a kill after a restart.
type CooldownTracker struct {
	mu       sync.Mutex
	window   time.Duration
	clock    domain.Clock
	lastKill map[string]time.Time
}

// NewCooldownTracker creates a tracker with the given window.
func NewCooldownTracker(window time.Duration, clock domain.Clock) *CooldownTracker {
	return &CooldownTracker{
		window:   window,
		clock:    clock,
		lastKill: make(map[string]time.Time),
	}
}

// Allow reports whether the target is outside its cooldown window.
func (c *CooldownTracker) Allow(target string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.lastKill[target]
	if !ok {
		return true
	}
	return c.clock().Sub(last) >= c.window
}

// Record marks the target as killed now.
func (c *CooldownTracker) Record(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastKill[target] = c.clock()
}

// Clear drops all cooldown entries.
func (c *CooldownTracker) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastKill = make(map[string]time.Time)
}
