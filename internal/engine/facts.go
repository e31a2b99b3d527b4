package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/tempograph/internal/ir"
	"github.com/roach88/tempograph/internal/metrics"
	"github.com/roach88/tempograph/internal/plan"
)

// StatAt returns the entry of (ref, key) in effect at t. Absent is not an
// error. Inside a plan, staged writes are merged in.
func (e *Engine) StatAt(ctx context.Context, ref ir.EntityRef, key string, t ir.Time) (ir.Result, error) {
	if e.closed {
		return ir.Result{}, ErrClosed
	}
	if err := e.index.Validate(t); err != nil {
		return ir.Result{}, err
	}
	return e.read(ctx, ref, key, t)
}

// Stat returns the entry of (ref, key) in effect at the cursor.
func (e *Engine) Stat(ctx context.Context, ref ir.EntityRef, key string) (ir.Result, error) {
	return e.StatAt(ctx, ref, key, e.cursor.Now())
}

// GetStat returns the value of (ref, key) at the cursor, or an UNSET
// error if nothing is in effect.
func (e *Engine) GetStat(ctx context.Context, ref ir.EntityRef, key string) (ir.Value, error) {
	now := e.cursor.Now()
	res, err := e.StatAt(ctx, ref, key, now)
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		return nil, ir.NewUnsetError(ref, key, now)
	}
	return res.Value, nil
}

// SetStat writes value for (ref, key) at the cursor.
func (e *Engine) SetStat(ctx context.Context, ref ir.EntityRef, key string, value ir.Value) error {
	if key == ir.ExistsKey {
		return fmt.Errorf("set stat: %q is reserved", key)
	}
	if value == nil {
		return fmt.Errorf("set stat %s %q: nil value (use DelStat)", ref, key)
	}
	return e.write(ctx, ref, key, value, false)
}

// DelStat records a tombstone for (ref, key) at the cursor. Earlier
// history stays readable.
func (e *Engine) DelStat(ctx context.Context, ref ir.EntityRef, key string) error {
	if key == ir.ExistsKey {
		return fmt.Errorf("del stat: %q is reserved", key)
	}
	return e.write(ctx, ref, key, nil, true)
}

// StatKeys returns the keys of ref with a value at the cursor, sorted.
func (e *Engine) StatKeys(ctx context.Context, ref ir.EntityRef) ([]string, error) {
	if e.closed {
		return nil, ErrClosed
	}
	now := e.cursor.Now()
	known, err := e.cache.KnownKeys(ctx, ref)
	if err != nil {
		return nil, err
	}
	if p := e.plans.Active(); p != nil {
		for k := range p.Keys(ref, now.Branch) {
			if !slices.Contains(known, k) {
				known = append(known, k)
			}
		}
		slices.Sort(known)
	}

	var out []string
	for _, k := range known {
		if k == ir.ExistsKey {
			continue
		}
		res, err := e.read(ctx, ref, k, now)
		if err != nil {
			return nil, err
		}
		if res.Ok() {
			out = append(out, k)
		}
	}
	return out, nil
}

// History returns the entries of (ref, key) written on branch itself,
// oldest first.
func (e *Engine) History(ctx context.Context, ref ir.EntityRef, key, branch string) ([]ir.Row, error) {
	if e.closed {
		return nil, ErrClosed
	}
	entries, err := e.cache.History(ctx, ref, key, branch)
	if err != nil {
		return nil, err
	}
	rows := make([]ir.Row, len(entries))
	for i, en := range entries {
		rows[i] = ir.Row{Turn: en.Turn, Tick: en.Tick, Value: en.Value, Deleted: en.Deleted}
	}
	return rows, nil
}

func (e *Engine) read(ctx context.Context, ref ir.EntityRef, key string, t ir.Time) (ir.Result, error) {
	res, err := e.cache.Retrieve(ctx, ref, key, t)
	if err != nil {
		return ir.Result{}, err
	}
	if p := e.plans.Active(); p != nil {
		staged, state := p.Lookup(ref, key, t)
		res = plan.Merge(res, staged, state, t)
	}
	return res, nil
}

// write routes a write at the cursor to the active plan or the main
// timeline.
func (e *Engine) write(ctx context.Context, ref ir.EntityRef, key string, value ir.Value, deleted bool) error {
	if e.closed {
		return ErrClosed
	}
	now := e.cursor.Now()
	if p := e.plans.Active(); p != nil {
		return e.stage(p, plan.Write{Ref: ref, Key: key, Time: now, Value: value, Deleted: deleted})
	}
	return e.apply(ctx, []plan.Write{{Ref: ref, Key: key, Time: now, Value: value, Deleted: deleted}})
}

func (e *Engine) stage(p *plan.Plan, w plan.Write) error {
	if turn, tick, ok := e.index.End(w.Time.Branch); ok && w.Time.Before(turn, tick) {
		return ir.NewTimeError(ir.ErrCodePlanInPast, w.Time,
			"plan %s cannot write before the end of %q at %d.%d", p.ID, w.Time.Branch, turn, tick)
	}
	if err := p.Record(w); err != nil {
		return err
	}
	e.index.Extend(w.Time, true)
	e.logger.Debug("write staged",
		"plan", p.ID,
		"entity", w.Ref.String(),
		"key", w.Key,
		"branch", w.Time.Branch,
		"turn", w.Time.Turn,
		"tick", w.Time.Tick,
	)
	return nil
}

// apply persists writes in one append, then applies them to memory in
// order and dispatches the ones that changed the value observed at the
// cursor.
func (e *Engine) apply(ctx context.Context, writes []plan.Write) error {
	// Loading every touched history first means the memory updates below
	// cannot fail once the append succeeded.
	for _, w := range writes {
		if _, err := e.cache.Retrieve(ctx, w.Ref, w.Key, w.Time); err != nil {
			return fmt.Errorf("write %s %q: %w", w.Ref, w.Key, err)
		}
	}

	facts := make([]ir.Fact, len(writes))
	for i, w := range writes {
		facts[i] = ir.Fact{
			Ref:     w.Ref,
			Key:     w.Key,
			Branch:  w.Time.Branch,
			Turn:    w.Time.Turn,
			Tick:    w.Time.Tick,
			Value:   w.Value,
			Deleted: w.Deleted,
			Seq:     e.clock.Next(),
		}
	}
	if err := e.call("append", func() error { return e.backend.Append(ctx, facts...) }); err != nil {
		e.logger.Error("append failed", "facts", len(facts), "error", err)
		return fmt.Errorf("write: %w", err)
	}

	for i, w := range writes {
		prev, err := e.cache.Retrieve(ctx, w.Ref, w.Key, w.Time)
		if err != nil {
			return fmt.Errorf("write %s %q: %w", w.Ref, w.Key, err)
		}
		if err := e.cache.Store(ctx, w.Ref, w.Key, w.Time, w.Value, w.Deleted); err != nil {
			return fmt.Errorf("write %s %q: %w", w.Ref, w.Key, err)
		}
		e.index.Extend(w.Time, false)

		op := "set"
		if w.Deleted {
			op = "delete"
		}
		metrics.Writes.WithLabelValues(w.Ref.Kind.String(), op).Inc()
		e.logger.Debug("fact written",
			"entity", w.Ref.String(),
			"key", w.Key,
			"branch", w.Time.Branch,
			"turn", w.Time.Turn,
			"tick", w.Time.Tick,
			"seq", facts[i].Seq,
		)

		if !e.visible(w.Time) || ir.Equal(observed(prev), w.Value) {
			e.dispatch.Invalidate(w.Ref, w.Key)
			continue
		}
		e.dispatch.Notify(ir.Change{Ref: w.Ref, Key: w.Key, Value: w.Value, Time: w.Time})
	}
	return nil
}

// visible reports whether an entry written at t is on the lookup path of
// the cursor.
func (e *Engine) visible(t ir.Time) bool {
	for at := range e.index.Lineage(e.cursor.Now()) {
		if at.Branch == t.Branch {
			return !at.Before(t.Turn, t.Tick)
		}
	}
	return false
}

// observed is the value a read shows for res: nil unless Present.
func observed(res ir.Result) ir.Value {
	if res.State != ir.Present {
		return nil
	}
	return res.Value
}
