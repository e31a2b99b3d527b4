// Package plan stages speculative writes.
//
// While a plan is active, writes land in a plan-local overlay instead of
// the authoritative caches. Reads inside the plan merge the overlay with
// authoritative history; reads after the plan closes never see it unless
// it was committed. Committing hands the staged writes back to the caller
// in the order they were made.
//
// Nested plans share the outermost plan: every write is attributed to it,
// and only closing the outermost scope commits or discards.
package plan

import (
	"iter"
	"slices"

	"github.com/roach88/tempograph/internal/ir"
	"github.com/roach88/tempograph/internal/window"
)

// Status is the lifecycle state of a plan.
type Status uint8

const (
	// Active plans accept writes.
	Active Status = iota
	// Committed plans were folded into the main timeline.
	Committed
	// Discarded plans were dropped.
	Discarded
)

// String returns a lowercase name for the status.
func (s Status) String() string {
	switch s {
	case Committed:
		return "committed"
	case Discarded:
		return "discarded"
	default:
		return "active"
	}
}

// Write is one staged write.
type Write struct {
	Ref     ir.EntityRef
	Key     string
	Time    ir.Time
	Value   ir.Value
	Deleted bool
}

type overlayKey struct {
	ref    ir.EntityRef
	key    string
	branch string
}

// Plan holds the writes staged by one outermost plan scope.
type Plan struct {
	ID        string
	Branch    string
	StartTurn int64
	StartTick int64

	status  Status
	writes  []Write
	overlay map[overlayKey]*window.TurnDict[ir.Value]
}

func newPlan(id string, now ir.Time) *Plan {
	return &Plan{
		ID:        id,
		Branch:    now.Branch,
		StartTurn: now.Turn,
		StartTick: now.Tick,
		overlay:   make(map[overlayKey]*window.TurnDict[ir.Value]),
	}
}

// Start returns the coordinate the plan was started at.
func (p *Plan) Start() ir.Time {
	return ir.At(p.Branch, p.StartTurn, p.StartTick)
}

// Status returns the plan's lifecycle state.
func (p *Plan) Status() Status {
	return p.status
}

// Reject marks a committed plan whose writes could not be applied as
// discarded. It has no effect on a plan that is still active.
func (p *Plan) Reject() {
	if p.status == Committed {
		p.status = Discarded
	}
}

// Record stages a write. It fails with STALE_PLAN once the plan is closed.
func (p *Plan) Record(w Write) error {
	if p.status != Active {
		return ir.NewTimeError(ir.ErrCodeStalePlan, w.Time, "plan %s is %s", p.ID, p.status)
	}
	k := overlayKey{w.Ref, w.Key, w.Time.Branch}
	td, ok := p.overlay[k]
	if !ok {
		td = window.NewTurnDict[ir.Value]()
		p.overlay[k] = td
	}
	if w.Deleted {
		td.SetDeleted(w.Time.Turn, w.Time.Tick)
	} else {
		td.Set(w.Time.Turn, w.Time.Tick, w.Value)
	}
	p.writes = append(p.writes, w)
	return nil
}

// Lookup returns the staged entry in effect for (ref, key) at t, looking
// only at writes staged on t's branch.
func (p *Plan) Lookup(ref ir.EntityRef, key string, t ir.Time) (window.TurnEntry[ir.Value], ir.State) {
	td, ok := p.overlay[overlayKey{ref, key, t.Branch}]
	if !ok {
		return window.TurnEntry[ir.Value]{}, ir.Absent
	}
	return td.Lookup(t.Turn, t.Tick)
}

// Writes yields the staged writes in the order they were made.
func (p *Plan) Writes() iter.Seq[Write] {
	return slices.Values(p.writes)
}

// Len returns the number of staged writes.
func (p *Plan) Len() int {
	return len(p.writes)
}

// Keys yields the keys of ref with staged writes on branch.
func (p *Plan) Keys(ref ir.EntityRef, branch string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for k := range p.overlay {
			if k.ref == ref && k.branch == branch {
				if !yield(k.key) {
					return
				}
			}
		}
	}
}

// Merge combines an authoritative lookup result with the plan's staged
// entry for the same coordinate; the more recent of the two wins. A staged
// entry beats authoritative history inherited from an ancestor branch.
func Merge(main ir.Result, staged window.TurnEntry[ir.Value], stagedState ir.State, t ir.Time) ir.Result {
	if stagedState == ir.Absent {
		return main
	}
	if main.State != ir.Absent && main.From.Branch == t.Branch &&
		ir.CompareRev(main.From.Turn, main.From.Tick, staged.Turn, staged.Tick) > 0 {
		return main
	}
	return ir.Result{
		Value: staged.Value,
		State: stagedState,
		From:  ir.At(t.Branch, staged.Turn, staged.Tick),
	}
}
