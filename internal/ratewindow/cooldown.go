package ratewindow

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cooldown allows one event per key per period.
type Cooldown struct {
	period time.Duration

	mu   sync.Mutex
	last *lru.Cache[string, time.Time]
}

// NewCooldown creates a cooldown bounded to maxKeys keys.
func NewCooldown(period time.Duration, maxKeys int) (*Cooldown, error) {
	cache, err := lru.New[string, time.Time](maxKeys)
	if err != nil {
		return nil, err
	}
	return &Cooldown{period: period, last: cache}, nil
}

// Allow reports whether an event for key may fire at now, and records it if
// so.
func (c *Cooldown) Allow(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.last.Get(key); ok && now.Sub(last) < c.period {
		return false
	}
	c.last.Add(key, now)
	return true
}

// Sweep drops keys whose cooldown has passed.
func (c *Cooldown) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for _, key := range c.last.Keys() {
		if last, ok := c.last.Peek(key); ok && now.Sub(last) >= c.period {
			c.last.Remove(key)
			dropped++
		}
	}
	return dropped
}
