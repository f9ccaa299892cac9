package engine

import "sync/atomic"

// Clock hands out call sequence numbers. The first Next after NewClock(n)
// returns n+1, so a fresh engine numbers its calls from 1. Diagnostics reuse
// the seq of the call that caused them, which makes a replayed trace
// produce the same numbers as the live run.
//
// Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose last issued seq is start.
func NewClock(start int64) *Clock {
	c := new(Clock)
	c.seq.Store(start)
	return c
}

// Next issues the next seq.
func (c *Clock) Next() int64 { return c.seq.Add(1) }

// Current is the last issued seq.
func (c *Clock) Current() int64 { return c.seq.Load() }

// Advance raises the clock to seq; a lower seq is ignored. Restore and
// Observe use it so restored or recorded seqs are never issued again.
func (c *Clock) Advance(seq int64) {
	for cur := c.seq.Load(); cur < seq; cur = c.seq.Load() {
		if c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}
