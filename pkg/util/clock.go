package util

import (
	"sync"
	"time"
)

type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Now() time.Time                         { return time.Now() }

// BlockClock reports the timestamp of the block being executed, so every
// order in a block carries the same time. Outside a block it falls back to
// the wall clock.
type BlockClock struct {
	mu  sync.RWMutex
	now time.Time
}

func (c *BlockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Clear returns the clock to wall time.
func (c *BlockClock) Clear() {
	c.Set(time.Time{})
}

func (c *BlockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.now.IsZero() {
		return time.Now()
	}
	return c.now
}

func (c *BlockClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
