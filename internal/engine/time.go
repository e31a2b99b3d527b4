package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/tempograph/internal/dispatch"
	"github.com/roach88/tempograph/internal/ir"
)

// ErrPlanning is returned by operations that are not allowed while a plan
// is active.
var ErrPlanning = errors.New("not allowed while planning")

// Now returns the cursor.
func (e *Engine) Now() ir.Time {
	return e.cursor.Now()
}

// Branch returns the branch with the given id.
func (e *Engine) Branch(id string) (ir.Branch, bool) {
	return e.index.Branch(id)
}

// Branches returns every branch, sorted by id.
func (e *Engine) Branches() []ir.Branch {
	return e.index.Branches()
}

// IsParentOf reports whether child descends from parent.
func (e *Engine) IsParentOf(parent, child string) bool {
	return e.index.IsParentOf(parent, child)
}

// TimeTravel moves the cursor to t, extends t's branch if t is past its
// high-water mark, and reports the values the move changed to subscribers.
//
// Fails with UNKNOWN_BRANCH or OUT_OF_HISTORY if t is not reachable, and
// with FORWARD_ONLY if advancing mode forbids the move. While a plan is
// active the move neither extends the branch nor dispatches.
func (e *Engine) TimeTravel(ctx context.Context, t ir.Time) error {
	if e.closed {
		return ErrClosed
	}
	if err := e.index.Validate(t); err != nil {
		return err
	}
	if err := e.cursor.Check(t); err != nil {
		return err
	}

	then := e.cursor.Now()
	planning := e.plans.Planning()
	e.cursor.Set(t)
	e.index.Extend(t, planning)
	e.logger.Debug("time travel",
		"from", then.String(),
		"branch", t.Branch,
		"turn", t.Turn,
		"tick", t.Tick,
	)
	if planning {
		return nil
	}
	if err := e.dispatch.DispatchTime(then, t, e.resolver(ctx)); err != nil {
		return fmt.Errorf("time travel to %s: %w", t, err)
	}
	return nil
}

// resolver reads the authoritative timeline for the dispatcher.
func (e *Engine) resolver(ctx context.Context) dispatch.Resolver {
	return func(ref ir.EntityRef, key string, t ir.Time) (ir.Result, ir.Validity, error) {
		return e.cache.Window(ctx, ref, key, t)
	}
}

// SetTurn travels to turn on the current branch, landing on the last tick
// that turn reached (tick 0 for a turn never visited).
func (e *Engine) SetTurn(ctx context.Context, turn int64) error {
	now := e.cursor.Now()
	tick := e.index.TurnEnd(now.Branch, turn)
	if e.plans.Planning() {
		tick = e.index.TurnEndPlan(now.Branch, turn)
	}
	return e.TimeTravel(ctx, ir.At(now.Branch, turn, tick))
}

// NextTurn travels to the next turn of the current branch.
func (e *Engine) NextTurn(ctx context.Context) error {
	return e.SetTurn(ctx, e.cursor.Now().Turn+1)
}

// NextTick travels one tick forward and returns the new cursor.
func (e *Engine) NextTick(ctx context.Context) (ir.Time, error) {
	now := e.cursor.Now()
	next := ir.At(now.Branch, now.Turn, now.Tick+1)
	if err := e.TimeTravel(ctx, next); err != nil {
		return now, err
	}
	return next, nil
}

// NewBranch forks child from parent at (turn, tick) and persists it.
//
// Fails with BRANCH_CYCLE, DUPLICATE_BRANCH, UNKNOWN_BRANCH or
// OUT_OF_HISTORY, and with ErrPlanning while a plan is active.
func (e *Engine) NewBranch(ctx context.Context, parent, child string, turn, tick int64) (ir.Branch, error) {
	if e.closed {
		return ir.Branch{}, ErrClosed
	}
	if e.plans.Planning() {
		return ir.Branch{}, fmt.Errorf("new branch %q: %w", child, ErrPlanning)
	}
	b, err := e.index.NewBranch(parent, child, turn, tick)
	if err != nil {
		return ir.Branch{}, err
	}
	if err := e.call("save branch", func() error { return e.backend.SaveBranch(ctx, b) }); err != nil {
		e.index.Drop(child)
		e.logger.Error("branch not persisted", "branch", child, "parent", parent, "error", err)
		return ir.Branch{}, fmt.Errorf("new branch %q: %w", child, err)
	}
	e.logger.Info("branch created",
		"branch", child,
		"parent", parent,
		"turn", turn,
		"tick", tick,
	)
	return b, nil
}

// SwitchBranch travels to the current (turn, tick) on branch. A branch
// that does not exist yet is first forked from the current branch at the
// cursor.
func (e *Engine) SwitchBranch(ctx context.Context, branch string) error {
	now := e.cursor.Now()
	if branch == now.Branch {
		return nil
	}
	if _, ok := e.index.Branch(branch); !ok {
		if err := e.cursor.Check(ir.At(branch, now.Turn, now.Tick)); err != nil {
			return err
		}
		if _, err := e.NewBranch(ctx, now.Branch, branch, now.Turn, now.Tick); err != nil {
			return err
		}
	}
	return e.TimeTravel(ctx, ir.At(branch, now.Turn, now.Tick))
}

// Advance enters advancing mode, in which the cursor only moves forward on
// its branch, one turn at a time. The returned function leaves it. Calls
// nest.
func (e *Engine) Advance() (done func()) {
	return e.cursor.Advance()
}

// Advancing reports whether advancing mode is active.
func (e *Engine) Advancing() bool {
	return e.cursor.Advancing()
}
