package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/tempograph/internal/config"
	"github.com/roach88/tempograph/internal/ir"
	"github.com/roach88/tempograph/internal/metrics"
	"github.com/roach88/tempograph/internal/plan"
)

// Plan is the caller's handle on one plan scope.
//
// While any scope is open, every write made through the engine is staged
// in the outermost plan. Writes through a handle whose scope is closed
// fail with STALE_PLAN.
type Plan struct {
	e     *Engine
	scope *plan.Scope
}

// StartPlan opens a plan scope at the cursor. A scope opened while
// another is open nests inside it and shares its writes; only the
// outermost scope decides whether they are committed.
func (e *Engine) StartPlan() (*Plan, error) {
	if e.closed {
		return nil, ErrClosed
	}
	s := e.plans.Start(e.cursor.Now())
	if s.Outermost() {
		now := e.cursor.Now()
		e.logger.Debug("plan started", "plan", s.Plan().ID, "branch", now.Branch, "turn", now.Turn, "tick", now.Tick)
	}
	return &Plan{e: e, scope: s}, nil
}

// Planning reports whether a plan scope is open.
func (e *Engine) Planning() bool {
	return e.plans.Planning()
}

// ID returns the id of the plan the scope writes into.
func (p *Plan) ID() string {
	return p.scope.Plan().ID
}

// Start returns the cursor at the time the plan started.
func (p *Plan) Start() ir.Time {
	return p.scope.Plan().Start()
}

// Len returns the number of writes staged in the plan so far.
func (p *Plan) Len() int {
	return p.scope.Plan().Len()
}

// Closed reports whether the scope can no longer be written through.
func (p *Plan) Closed() bool {
	return p.scope.Closed()
}

func (p *Plan) stale(op string) error {
	pl := p.scope.Plan()
	return ir.NewTimeError(ir.ErrCodeStalePlan, p.e.cursor.Now(), "%s through plan %s, which is %s", op, pl.ID, pl.Status())
}

// SetStat stages value for (ref, key) at the cursor.
func (p *Plan) SetStat(ctx context.Context, ref ir.EntityRef, key string, value ir.Value) error {
	if p.scope.Closed() {
		return p.stale("set stat")
	}
	return p.e.SetStat(ctx, ref, key, value)
}

// DelStat stages a tombstone for (ref, key) at the cursor.
func (p *Plan) DelStat(ctx context.Context, ref ir.EntityRef, key string) error {
	if p.scope.Closed() {
		return p.stale("del stat")
	}
	return p.e.DelStat(ctx, ref, key)
}

// Commit closes the scope. For the outermost scope the cursor returns to
// where the plan started and the staged writes are applied to the main
// timeline in the order they were made, persisted in one append. Writes
// visible at the restored cursor are dispatched like direct writes; later
// ones are dispatched when time travel reaches them. If the append fails
// nothing is applied and the plan ends up discarded.
func (p *Plan) Commit(ctx context.Context) error {
	e := p.e
	done, err := e.plans.Close(p.scope, plan.Committed)
	if err != nil || !done {
		return err
	}
	pl := p.scope.Plan()
	e.cursor.Set(pl.Start())

	writes := slices.Collect(pl.Writes())
	if len(writes) > 0 {
		if err := e.apply(ctx, writes); err != nil {
			pl.Reject()
			metrics.Plans.WithLabelValues(plan.Discarded.String()).Inc()
			e.logger.Error("plan commit failed", "plan", pl.ID, "writes", len(writes), "error", err)
			return fmt.Errorf("commit plan %s: %w", pl.ID, err)
		}
	}
	metrics.Plans.WithLabelValues(plan.Committed.String()).Inc()
	e.logger.Info("plan committed", "plan", pl.ID, "writes", len(writes))
	return nil
}

// Discard closes the scope. For the outermost scope the staged writes are
// dropped and the cursor returns to where the plan started.
func (p *Plan) Discard() error {
	e := p.e
	done, err := e.plans.Close(p.scope, plan.Discarded)
	if err != nil || !done {
		return err
	}
	pl := p.scope.Plan()
	e.cursor.Set(pl.Start())
	metrics.Plans.WithLabelValues(plan.Discarded.String()).Inc()
	e.logger.Info("plan discarded", "plan", pl.ID, "writes", pl.Len())
	return nil
}

// End closes the scope the way the engine's plan mode says: commit under
// config.PlanCommit, discard otherwise.
func (p *Plan) End(ctx context.Context) error {
	if p.e.planMode == config.PlanCommit {
		return p.Commit(ctx)
	}
	return p.Discard()
}

// WithPlan runs fn inside a plan scope. If fn fails the plan is discarded
// and fn's error returned; otherwise the scope ends per the plan mode,
// unless fn already closed it.
func (e *Engine) WithPlan(ctx context.Context, fn func(p *Plan) error) error {
	p, err := e.StartPlan()
	if err != nil {
		return err
	}
	if err := fn(p); err != nil {
		if !p.scope.Closed() {
			if derr := p.Discard(); derr != nil {
				e.logger.Warn("discard after failed plan", "plan", p.ID(), "error", derr)
			}
		}
		return err
	}
	if p.scope.Closed() {
		return nil
	}
	return p.End(ctx)
}

// abandonPlan discards the active plan regardless of open inner scopes.
func (e *Engine) abandonPlan() {
	if pl := e.plans.Abandon(); pl != nil {
		e.cursor.Set(pl.Start())
		metrics.Plans.WithLabelValues(plan.Discarded.String()).Inc()
	}
}
