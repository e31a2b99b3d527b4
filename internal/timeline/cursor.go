package timeline

import "github.com/roach88/tempograph/internal/ir"

// Cursor is the current (branch, turn, tick).
//
// While advancing, the cursor only moves forward: no earlier coordinate,
// no other branch, and at most one turn at a time.
type Cursor struct {
	now       ir.Time
	advancing int
}

// NewCursor returns a cursor at t.
func NewCursor(t ir.Time) *Cursor {
	return &Cursor{now: t}
}

// Now returns the current coordinate.
func (c *Cursor) Now() ir.Time {
	return c.now
}

// Check reports whether a move to t is allowed in the current mode.
func (c *Cursor) Check(t ir.Time) error {
	if c.advancing == 0 {
		return nil
	}
	switch {
	case t.Branch != c.now.Branch:
		return ir.NewTimeError(ir.ErrCodeForwardOnly, t, "cannot switch branch from %q while advancing", c.now.Branch)
	case t.Before(c.now.Turn, c.now.Tick):
		return ir.NewTimeError(ir.ErrCodeForwardOnly, t, "cannot travel backward from %s while advancing", c.now)
	case t.Turn > c.now.Turn+1:
		return ir.NewTimeError(ir.ErrCodeForwardOnly, t, "cannot skip turns from %d while advancing", c.now.Turn)
	}
	return nil
}

// Set moves the cursor without checks.
func (c *Cursor) Set(t ir.Time) {
	c.now = t
}

// Advance enters advancing mode and returns the function that leaves it.
// Calls nest.
func (c *Cursor) Advance() (done func()) {
	c.advancing++
	var left bool
	return func() {
		if left {
			return
		}
		left = true
		c.advancing--
	}
}

// Advancing reports whether advancing mode is active.
func (c *Cursor) Advancing() bool {
	return c.advancing > 0
}
