package engine

import "sync/atomic"

// Clock is the logical clock that stamps journal entries.
//
// Every dispatched event and every cold pass takes one strictly increasing
// seq, shared by all processor outcomes of that dispatch. Ordering in the
// journal uses seq, never wall time.
//
// Thread-safety: Clock is safe for concurrent use; dispatchers of different
// projects share one clock.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that resumes after start, so a new session
// continues the sequence already in the journal.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
