package causal

import "sync/atomic"

// Clock is a monotonic logical clock for event timestamps.
//
// All events are stamped with a strictly increasing value from this clock.
// This ensures:
//   - Deterministic ordering (no wall-clock race conditions)
//   - Events created in quick succession never share a timestamp
//   - Imported histories can be merged without going back in time (Observe)
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// processClock backs every store that is not given an explicit clock.
// Sharing it makes timestamps strictly increasing across the whole process.
var processClock = NewClock()

// ProcessClock returns the clock shared by all stores in this process.
func ProcessClock() *Clock {
	return processClock
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific timestamp.
// The first call to Next() returns start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next timestamp and advances the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued timestamp without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Observe advances the clock to at least ts.
// Used after importing events so new events sort after every imported one.
func (c *Clock) Observe(ts int64) {
	for {
		cur := c.seq.Load()
		if ts <= cur {
			return
		}
		if c.seq.CompareAndSwap(cur, ts) {
			return
		}
	}
}
