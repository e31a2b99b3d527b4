// Package timeline keeps the branch tree and the high-water marks of
// every branch, and resolves the lineage a lookup walks through.
package timeline

import (
	"iter"
	"slices"

	"github.com/roach88/tempograph/internal/ir"
	"github.com/roach88/tempograph/internal/window"
)

type turnKey struct {
	branch string
	turn   int64
}

// Index is the registry of branches.
//
// For every branch it records the fork point and the high-water mark
// reached by authoritative writes and time travel. Per (branch, turn) it
// records the last tick reached, separately for authoritative activity and
// for activity including plans.
type Index struct {
	root        string
	branches    map[string]*ir.Branch
	turnEnd     map[turnKey]int64
	turnEndPlan map[turnKey]int64
	keyframes   map[string]*window.TurnDict[string]
}

// NewIndex returns an index holding only the root branch.
func NewIndex(root string) *Index {
	if root == "" {
		root = ir.DefaultRootBranch
	}
	x := &Index{
		root:        root,
		branches:    make(map[string]*ir.Branch),
		turnEnd:     make(map[turnKey]int64),
		turnEndPlan: make(map[turnKey]int64),
		keyframes:   make(map[string]*window.TurnDict[string]),
	}
	x.branches[root] = &ir.Branch{ID: root}
	return x
}

// Root returns the id of the root branch.
func (x *Index) Root() string {
	return x.root
}

// Branch returns the branch with the given id.
func (x *Index) Branch(id string) (ir.Branch, bool) {
	b, ok := x.branches[id]
	if !ok {
		return ir.Branch{}, false
	}
	return *b, true
}

// Branches returns every branch, sorted by id.
func (x *Index) Branches() []ir.Branch {
	out := make([]ir.Branch, 0, len(x.branches))
	for _, b := range x.branches {
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b ir.Branch) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Restore registers a branch loaded from persistence, replacing any
// existing entry with the same id.
func (x *Index) Restore(b ir.Branch) {
	stored := b
	x.branches[b.ID] = &stored
	x.raiseTurnEnd(b.ID, b.EndTurn, b.EndTick, false)
}

// NewBranch registers child, forked from parent at (turn, tick).
// The child's history before the fork point is the parent's.
func (x *Index) NewBranch(parent, child string, turn, tick int64) (ir.Branch, error) {
	at := ir.At(child, turn, tick)
	if parent == child {
		return ir.Branch{}, ir.NewTimeError(ir.ErrCodeBranchCycle, at, "branch %q cannot be its own parent", child)
	}
	if _, ok := x.branches[child]; ok {
		return ir.Branch{}, ir.NewTimeError(ir.ErrCodeDuplicateBranch, at, "branch %q already exists", child)
	}
	p, ok := x.branches[parent]
	if !ok {
		return ir.Branch{}, ir.NewTimeError(ir.ErrCodeUnknownBranch, at, "parent branch %q does not exist", parent)
	}
	if !p.IsRoot() && ir.CompareRev(turn, tick, p.ForkTurn, p.ForkTick) < 0 {
		return ir.Branch{}, ir.NewTimeError(ir.ErrCodeOutOfHistory, at,
			"fork point precedes the start of %q at %d.%d", parent, p.ForkTurn, p.ForkTick)
	}
	if ir.CompareRev(turn, tick, p.EndTurn, p.EndTick) > 0 {
		return ir.Branch{}, ir.NewTimeError(ir.ErrCodeOutOfHistory, at,
			"fork point is past the end of %q at %d.%d", parent, p.EndTurn, p.EndTick)
	}

	b := &ir.Branch{
		ID:       child,
		Parent:   parent,
		ForkTurn: turn,
		ForkTick: tick,
		EndTurn:  turn,
		EndTick:  tick,
	}
	x.branches[child] = b
	x.raiseTurnEnd(child, turn, tick, false)
	return *b, nil
}

// Validate checks that t names a known branch and does not precede the
// branch's start.
func (x *Index) Validate(t ir.Time) error {
	b, ok := x.branches[t.Branch]
	if !ok {
		return ir.NewTimeError(ir.ErrCodeUnknownBranch, t, "branch %q does not exist", t.Branch)
	}
	if t.Turn < 0 || t.Tick < 0 {
		return ir.NewTimeError(ir.ErrCodeOutOfHistory, t, "negative time")
	}
	if !b.IsRoot() && t.Before(b.ForkTurn, b.ForkTick) {
		return ir.NewTimeError(ir.ErrCodeOutOfHistory, t,
			"branch %q starts at %d.%d", t.Branch, b.ForkTurn, b.ForkTick)
	}
	return nil
}

// Extend raises the high-water marks of t's branch to t.
// Planning activity only raises the plan marks.
func (x *Index) Extend(t ir.Time, planning bool) {
	b, ok := x.branches[t.Branch]
	if !ok {
		return
	}
	if !planning && ir.CompareRev(t.Turn, t.Tick, b.EndTurn, b.EndTick) > 0 {
		b.EndTurn, b.EndTick = t.Turn, t.Tick
	}
	x.raiseTurnEnd(t.Branch, t.Turn, t.Tick, planning)
}

func (x *Index) raiseTurnEnd(branch string, turn, tick int64, planning bool) {
	k := turnKey{branch, turn}
	if !planning {
		if cur, ok := x.turnEnd[k]; !ok || tick > cur {
			x.turnEnd[k] = tick
		}
	}
	if cur, ok := x.turnEndPlan[k]; !ok || tick > cur {
		x.turnEndPlan[k] = tick
	}
}

// End returns the high-water mark of a branch.
func (x *Index) End(branch string) (turn, tick int64, ok bool) {
	b, ok := x.branches[branch]
	if !ok {
		return 0, 0, false
	}
	return b.EndTurn, b.EndTick, true
}

// TurnEnd returns the last tick authoritative activity reached in turn.
func (x *Index) TurnEnd(branch string, turn int64) int64 {
	return x.turnEnd[turnKey{branch, turn}]
}

// TurnEndPlan returns the last tick any activity, plans included,
// reached in turn.
func (x *Index) TurnEndPlan(branch string, turn int64) int64 {
	return x.turnEndPlan[turnKey{branch, turn}]
}

// Lineage yields the coordinates a lookup at t visits: t itself, then for
// each ancestor the latest point of that ancestor the child inherited.
func (x *Index) Lineage(t ir.Time) iter.Seq[ir.Time] {
	return func(yield func(ir.Time) bool) {
		cur := t
		for {
			if !yield(cur) {
				return
			}
			b, ok := x.branches[cur.Branch]
			if !ok || b.IsRoot() {
				return
			}
			next := ir.At(b.Parent, b.ForkTurn, b.ForkTick)
			if cur.Before(b.ForkTurn, b.ForkTick) {
				next.Turn, next.Tick = cur.Turn, cur.Tick
			}
			cur = next
		}
	}
}

// IsParentOf reports whether child descends from parent at any remove.
func (x *Index) IsParentOf(parent, child string) bool {
	for {
		b, ok := x.branches[child]
		if !ok || b.IsRoot() {
			return false
		}
		if b.Parent == parent {
			return true
		}
		child = b.Parent
	}
}

// Children returns the branches forked directly from branch, sorted.
func (x *Index) Children(branch string) []string {
	var out []string
	for id, b := range x.branches {
		if b.Parent == branch && id != branch {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// AddKeyframe records that a keyframe with the given digest exists at t.
func (x *Index) AddKeyframe(t ir.Time, digest string) {
	kf, ok := x.keyframes[t.Branch]
	if !ok {
		kf = window.NewTurnDict[string]()
		x.keyframes[t.Branch] = kf
	}
	kf.Set(t.Turn, t.Tick, digest)
}

// KeyframeBefore returns the latest keyframe at or before t, searching
// t's lineage.
func (x *Index) KeyframeBefore(t ir.Time) (ir.Time, string, bool) {
	for at := range x.Lineage(t) {
		kf, ok := x.keyframes[at.Branch]
		if !ok {
			continue
		}
		if e, state := kf.Lookup(at.Turn, at.Tick); state == ir.Present {
			return ir.At(at.Branch, e.Turn, e.Tick), e.Value, true
		}
	}
	return ir.Time{}, "", false
}

// Drop unregisters a branch and its marks. The root cannot be dropped.
// Used to roll back a NewBranch whose persistence failed.
func (x *Index) Drop(id string) {
	if id == x.root {
		return
	}
	delete(x.branches, id)
	delete(x.keyframes, id)
	for k := range x.turnEnd {
		if k.branch == id {
			delete(x.turnEnd, k)
		}
	}
	for k := range x.turnEndPlan {
		if k.branch == id {
			delete(x.turnEndPlan, k)
		}
	}
}
