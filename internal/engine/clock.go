package engine

import "sync/atomic"

// Clock is the logical clock that stamps persisted facts.
//
// Seq values are strictly increasing for the life of a database: Open
// resumes the clock at the backend's largest stored seq. Wall-clock time is
// never used for ordering.
//
// Clock is safe for concurrent use, although only the engine goroutine
// calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next value is start+1.
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
