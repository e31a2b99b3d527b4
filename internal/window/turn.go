package window

import (
	"iter"
	"math"

	"github.com/roach88/tempograph/internal/ir"
)

// TurnEntry is one recorded (turn, tick) revision of a value.
type TurnEntry[V any] struct {
	Turn    int64
	Tick    int64
	Value   V
	Deleted bool
}

// TurnDict is the history of one value on one branch, indexed by
// (turn, tick). It is a Dict of turns whose values are Dicts of ticks.
// Every stored turn holds at least one tick.
type TurnDict[V any] struct {
	turns *Dict[*Dict[V]]
	size  int
}

// NewTurnDict returns an empty TurnDict.
func NewTurnDict[V any]() *TurnDict[V] {
	return &TurnDict[V]{turns: New[*Dict[V]]()}
}

// Len returns the number of stored (turn, tick) revisions.
func (t *TurnDict[V]) Len() int {
	return t.size
}

// Empty reports whether nothing was ever recorded.
func (t *TurnDict[V]) Empty() bool {
	return t.size == 0
}

func (t *TurnDict[V]) ticks(turn int64, create bool) *Dict[V] {
	if t.turns.Has(turn) {
		e, _ := t.turns.Lookup(turn)
		return e.Value
	}
	if !create {
		return nil
	}
	d := New[V]()
	t.turns.Set(turn, d)
	return d
}

// Set records v at (turn, tick), replacing any entry already there.
func (t *TurnDict[V]) Set(turn, tick int64, v V) {
	d := t.ticks(turn, true)
	if !d.Has(tick) {
		t.size++
	}
	d.Set(tick, v)
}

// SetDeleted records a tombstone at (turn, tick).
func (t *TurnDict[V]) SetDeleted(turn, tick int64) {
	d := t.ticks(turn, true)
	if !d.Has(tick) {
		t.size++
	}
	d.SetDeleted(tick)
}

// Put records an entry at its own coordinate.
func (t *TurnDict[V]) Put(e TurnEntry[V]) {
	if e.Deleted {
		t.SetDeleted(e.Turn, e.Tick)
		return
	}
	t.Set(e.Turn, e.Tick, e.Value)
}

// Has reports whether an entry is stored at exactly (turn, tick).
func (t *TurnDict[V]) Has(turn, tick int64) bool {
	d := t.ticks(turn, false)
	return d != nil && d.Has(tick)
}

// Lookup returns the entry in effect at (turn, tick): the latest entry at
// or before it, falling back to the last tick of an earlier turn when
// tick precedes every write of this turn.
func (t *TurnDict[V]) Lookup(turn, tick int64) (TurnEntry[V], ir.State) {
	te, state := t.turns.Lookup(turn)
	if state == ir.Absent {
		return TurnEntry[V]{}, ir.Absent
	}
	if te.Rev == turn {
		if e, s := te.Value.Lookup(tick); s != ir.Absent {
			return turnEntry(turn, e), s
		}
		te, state = t.turns.Lookup(turn - 1)
		if state == ir.Absent {
			return TurnEntry[V]{}, ir.Absent
		}
	}
	last, _ := te.Value.Last()
	if last.Deleted {
		return turnEntry(te.Rev, last), ir.Deleted
	}
	return turnEntry(te.Rev, last), ir.Present
}

func turnEntry[V any](turn int64, e Entry[V]) TurnEntry[V] {
	return TurnEntry[V]{Turn: turn, Tick: e.Rev, Value: e.Value, Deleted: e.Deleted}
}

// Get returns the value in effect at (turn, tick), or a *HistoryError
// carrying the turn.
func (t *TurnDict[V]) Get(turn, tick int64) (V, error) {
	e, state := t.Lookup(turn, tick)
	var zero V
	switch state {
	case ir.Present:
		return e.Value, nil
	case ir.Deleted:
		return zero, &HistoryError{Rev: turn, Deleted: true}
	default:
		return zero, &HistoryError{Rev: turn}
	}
}

// RevAfter returns the earliest stored (turn, tick) strictly after the
// given one.
func (t *TurnDict[V]) RevAfter(turn, tick int64) (int64, int64, bool) {
	if d := t.ticks(turn, false); d != nil {
		if next, ok := d.RevAfter(tick); ok {
			return turn, next, true
		}
	}
	nextTurn, ok := t.turns.RevAfter(turn)
	if !ok {
		return 0, 0, false
	}
	e, _ := t.turns.Lookup(nextTurn)
	first, _ := e.Value.Beginning()
	return nextTurn, first, true
}

// Beginning returns the first stored (turn, tick).
func (t *TurnDict[V]) Beginning() (int64, int64, bool) {
	turn, ok := t.turns.Beginning()
	if !ok {
		return 0, 0, false
	}
	e, _ := t.turns.Lookup(turn)
	tick, _ := e.Value.Beginning()
	return turn, tick, true
}

// End returns the last stored (turn, tick).
func (t *TurnDict[V]) End() (int64, int64, bool) {
	last, ok := t.turns.Last()
	if !ok {
		return 0, 0, false
	}
	tick, _ := last.Value.End()
	return last.Rev, tick, true
}

// Truncate deletes every entry after (turn, tick).
func (t *TurnDict[V]) Truncate(turn, tick int64) {
	for e := range t.turns.Slice(turn+1, math.MaxInt64) {
		t.size -= e.Value.Len()
	}
	t.turns.Truncate(turn)
	d := t.ticks(turn, false)
	if d == nil {
		return
	}
	before := d.Len()
	d.Truncate(tick)
	t.size -= before - d.Len()
	if d.Empty() {
		_ = t.turns.Delete(turn)
	}
}

// Ticks yields the entries recorded during turn, in tick order.
func (t *TurnDict[V]) Ticks(turn int64) iter.Seq[Entry[V]] {
	return func(yield func(Entry[V]) bool) {
		d := t.ticks(turn, false)
		if d == nil {
			return
		}
		for e := range d.Items() {
			if !yield(e) {
				return
			}
		}
	}
}

// Items yields every entry in (turn, tick) order.
func (t *TurnDict[V]) Items() iter.Seq[TurnEntry[V]] {
	return func(yield func(TurnEntry[V]) bool) {
		for te := range t.turns.Items() {
			for e := range te.Value.Items() {
				if !yield(turnEntry(te.Rev, e)) {
					return
				}
			}
		}
	}
}

// Between yields the entries strictly after (fromTurn, fromTick) and at
// or before (toTurn, toTick), in order.
func (t *TurnDict[V]) Between(fromTurn, fromTick, toTurn, toTick int64) iter.Seq[TurnEntry[V]] {
	return func(yield func(TurnEntry[V]) bool) {
		end := toTurn + 1
		if toTurn == math.MaxInt64 {
			end = math.MaxInt64
		}
		for te := range t.turns.Slice(fromTurn, end) {
			for e := range te.Value.Items() {
				if ir.CompareRev(te.Rev, e.Rev, fromTurn, fromTick) <= 0 {
					continue
				}
				if ir.CompareRev(te.Rev, e.Rev, toTurn, toTick) > 0 {
					return
				}
				if !yield(turnEntry(te.Rev, e)) {
					return
				}
			}
		}
	}
}
