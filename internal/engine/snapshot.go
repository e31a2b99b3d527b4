package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/tempograph/internal/ir"
)

type factID struct {
	ref ir.EntityRef
	key string
}

// factIDs returns every (ref, key) with persisted history on any of the
// given branches, or on any branch if none are given.
func (e *Engine) factIDs(ctx context.Context, branches ...string) ([]factID, error) {
	var facts []ir.Fact
	if err := e.call("load all", func() (err error) {
		facts, err = e.backend.LoadAll(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	seen := make(map[factID]bool)
	var out []factID
	for _, f := range facts {
		if len(branches) > 0 && !slices.Contains(branches, f.Branch) {
			continue
		}
		id := factID{f.Ref, f.Key}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	slices.SortFunc(out, func(a, b factID) int {
		return cmp.Or(cmp.Compare(a.ref.String(), b.ref.String()), cmp.Compare(a.key, b.key))
	})
	return out, nil
}

// Snapshot returns every fact of the main timeline in effect at t, keyed
// by entity (EntityRef.String) and then by key. Plans are not included.
func (e *Engine) Snapshot(ctx context.Context, t ir.Time) (map[string]ir.Object, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if err := e.index.Validate(t); err != nil {
		return nil, err
	}
	var lineage []string
	for at := range e.index.Lineage(t) {
		lineage = append(lineage, at.Branch)
	}
	ids, err := e.factIDs(ctx, lineage...)
	if err != nil {
		return nil, fmt.Errorf("snapshot at %s: %w", t, err)
	}

	out := make(map[string]ir.Object)
	for _, id := range ids {
		res, err := e.cache.Retrieve(ctx, id.ref, id.key, t)
		if err != nil {
			return nil, fmt.Errorf("snapshot at %s: %w", t, err)
		}
		if !res.Ok() {
			continue
		}
		name := id.ref.String()
		obj, ok := out[name]
		if !ok {
			obj = make(ir.Object)
			out[name] = obj
		}
		obj[id.key] = res.Value
	}
	return out, nil
}

// SaveKeyframe snapshots the main timeline at the cursor and persists it
// with its digest.
func (e *Engine) SaveKeyframe(ctx context.Context) (ir.Keyframe, error) {
	now := e.cursor.Now()
	facts, err := e.Snapshot(ctx, now)
	if err != nil {
		return ir.Keyframe{}, err
	}
	kf, err := ir.NewKeyframe(now, facts)
	if err != nil {
		return ir.Keyframe{}, fmt.Errorf("keyframe at %s: %w", now, err)
	}
	if err := e.call("save keyframe", func() error { return e.backend.SaveKeyframe(ctx, kf) }); err != nil {
		return ir.Keyframe{}, fmt.Errorf("keyframe at %s: %w", now, err)
	}
	e.index.AddKeyframe(now, kf.Digest)
	e.logger.Info("keyframe saved",
		"branch", now.Branch,
		"turn", now.Turn,
		"tick", now.Tick,
		"entities", len(facts),
		"digest", kf.Digest,
	)
	return kf, nil
}

// Keyframe returns the latest keyframe at or before t along t's lineage.
func (e *Engine) Keyframe(ctx context.Context, t ir.Time) (ir.Keyframe, bool, error) {
	if e.closed {
		return ir.Keyframe{}, false, ErrClosed
	}
	at, _, ok := e.index.KeyframeBefore(t)
	if !ok {
		return ir.Keyframe{}, false, nil
	}
	var (
		kf    ir.Keyframe
		found bool
	)
	if err := e.call("load keyframe", func() (err error) {
		kf, found, err = e.backend.LoadKeyframe(ctx, at)
		return err
	}); err != nil {
		return ir.Keyframe{}, false, err
	}
	return kf, found, nil
}

// Delta returns, for every (entity, key) written on branch itself strictly
// after (fromTurn, fromTick) and at or before (toTurn, toTick), the last
// such write. A nil Value means the fact was deleted. Changes are sorted
// by entity, then key.
func (e *Engine) Delta(ctx context.Context, branch string, fromTurn, fromTick, toTurn, toTick int64) ([]ir.Change, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if _, ok := e.index.Branch(branch); !ok {
		return nil, ir.NewTimeError(ir.ErrCodeUnknownBranch, ir.At(branch, toTurn, toTick), "branch %q does not exist", branch)
	}
	ids, err := e.factIDs(ctx, branch)
	if err != nil {
		return nil, fmt.Errorf("delta on %s: %w", branch, err)
	}

	var out []ir.Change
	for _, id := range ids {
		entries, err := e.cache.Between(ctx, id.ref, id.key, branch, fromTurn, fromTick, toTurn, toTick)
		if err != nil {
			return nil, fmt.Errorf("delta on %s: %w", branch, err)
		}
		if len(entries) == 0 {
			continue
		}
		last := entries[len(entries)-1]
		c := ir.Change{Ref: id.ref, Key: id.key, Time: ir.At(branch, last.Turn, last.Tick)}
		if !last.Deleted {
			c.Value = last.Value
		}
		out = append(out, c)
	}
	return out, nil
}
