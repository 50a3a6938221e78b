package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a wall clock for tests that advances by a fixed step
// on every reading.
//
// Pass its Now method wherever a component takes a func() time.Time, so
// pattern timestamps and log lines are identical across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	reads int64
}

// NewDeterministicClock creates a clock whose first reading is start.
// A zero step returns start forever.
func NewDeterministicClock(start time.Time, step time.Duration) *DeterministicClock {
	return &DeterministicClock{start: start.UTC(), step: step}
}

// Now returns the next reading.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.reads) * c.step)
	c.reads++
	return t
}

// Current returns the latest reading without advancing. Before the first
// call to Now it returns start.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reads == 0 {
		return c.start
	}
	return c.start.Add(time.Duration(c.reads-1) * c.step)
}

// Reset rewinds the clock. After Reset, the next call to Now returns start.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = 0
}
