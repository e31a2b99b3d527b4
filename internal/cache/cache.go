// Package cache keeps the in-memory history of every (entity, key, branch)
// the engine has touched and answers temporal lookups against it.
//
// History is loaded lazily: the first lookup or write of (ref, key, branch)
// pulls that history from the Loader in one call, after which the
// in-memory copy is authoritative. Lookups walk the branch lineage, so a
// child branch inherits its parent's values up to the fork point.
package cache

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/roach88/tempograph/internal/ir"
	"github.com/roach88/tempograph/internal/metrics"
	"github.com/roach88/tempograph/internal/window"
)

// Loader reads persisted history.
type Loader interface {
	LoadHistory(ctx context.Context, ref ir.EntityRef, key, branch string) ([]ir.Row, error)
	ListKeys(ctx context.Context, ref ir.EntityRef) ([]string, error)
}

// Lineage resolves branch ancestry.
type Lineage interface {
	// Lineage yields the coordinates a lookup at t visits, child first.
	Lineage(t ir.Time) iter.Seq[ir.Time]
	Branch(id string) (ir.Branch, bool)
}

type historyKey struct {
	ref    ir.EntityRef
	key    string
	branch string
}

type factKey struct {
	ref ir.EntityRef
	key string
}

// memoEntry is the last lookup of (ref, key) on one branch together with
// the stretch it holds for.
type memoEntry struct {
	res   ir.Result
	valid ir.Validity
}

// Stats counts cache activity since creation.
type Stats struct {
	Hits   int64
	Misses int64
	Loads  int64
}

// Cache is the temporal cache for every entity kind. Not safe for
// concurrent use; the engine owns it from one goroutine.
type Cache struct {
	loader  Loader
	lineage Lineage

	histories map[historyKey]*window.TurnDict[ir.Value]
	keys      map[ir.EntityRef]map[string]struct{}
	memo      map[factKey]map[string]memoEntry
	stats     Stats
}

// New returns an empty cache reading through loader.
func New(loader Loader, lineage Lineage) *Cache {
	return &Cache{
		loader:    loader,
		lineage:   lineage,
		histories: make(map[historyKey]*window.TurnDict[ir.Value]),
		keys:      make(map[ir.EntityRef]map[string]struct{}),
		memo:      make(map[factKey]map[string]memoEntry),
	}
}

// Stats returns activity counters.
func (c *Cache) Stats() Stats {
	return c.stats
}

// history returns the loaded history of (ref, key, branch), loading it on
// first touch.
func (c *Cache) history(ctx context.Context, ref ir.EntityRef, key, branch string) (*window.TurnDict[ir.Value], error) {
	hk := historyKey{ref, key, branch}
	if td, ok := c.histories[hk]; ok {
		return td, nil
	}
	rows, err := c.loader.LoadHistory(ctx, ref, key, branch)
	if err != nil {
		metrics.HistoryLoads.WithLabelValues("error").Inc()
		return nil, &ir.StorageError{Op: "load history", Err: fmt.Errorf("%s %q on %s: %w", ref, key, branch, err)}
	}
	metrics.HistoryLoads.WithLabelValues("ok").Inc()
	c.stats.Loads++

	td := window.NewTurnDict[ir.Value]()
	for _, r := range rows {
		td.Put(window.TurnEntry[ir.Value]{Turn: r.Turn, Tick: r.Tick, Value: r.Value, Deleted: r.Deleted})
	}
	c.histories[hk] = td
	if len(rows) > 0 {
		c.noteKey(ref, key)
	}
	return td, nil
}

func (c *Cache) noteKey(ref ir.EntityRef, key string) {
	if ks, ok := c.keys[ref]; ok {
		ks[key] = struct{}{}
	}
}

// Retrieve returns the entry of (ref, key) in effect at t, inherited
// through the branch lineage. A result that is Absent is not an error.
//
// One result per (ref, key, branch) is memoized with its validity window,
// so reading a stat while the cursor advances hits until the next entry.
func (c *Cache) Retrieve(ctx context.Context, ref ir.EntityRef, key string, t ir.Time) (ir.Result, error) {
	fk := factKey{ref, key}
	if m, ok := c.memo[fk][t.Branch]; ok && m.valid.Covers(t) {
		c.stats.Hits++
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return m.res, nil
	}
	c.stats.Misses++
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	res, valid, err := c.Window(ctx, ref, key, t)
	if err != nil {
		return ir.Result{}, err
	}
	byBranch, ok := c.memo[fk]
	if !ok {
		byBranch = make(map[string]memoEntry)
		c.memo[fk] = byBranch
	}
	byBranch[t.Branch] = memoEntry{res: res, valid: valid}
	return res, nil
}

// Store writes value (or a tombstone) for (ref, key) at t into memory.
// The caller persists first; Store only updates the in-memory history.
func (c *Cache) Store(ctx context.Context, ref ir.EntityRef, key string, t ir.Time, value ir.Value, deleted bool) error {
	td, err := c.history(ctx, ref, key, t.Branch)
	if err != nil {
		return err
	}
	if deleted {
		td.SetDeleted(t.Turn, t.Tick)
	} else {
		td.Set(t.Turn, t.Tick, value)
	}
	c.noteKey(ref, key)
	// A write on one branch can change what its descendants inherit.
	delete(c.memo, factKey{ref, key})
	return nil
}

// History returns the stored entries of (ref, key) on branch alone, oldest
// first. Inherited entries are not included.
func (c *Cache) History(ctx context.Context, ref ir.EntityRef, key, branch string) ([]window.TurnEntry[ir.Value], error) {
	td, err := c.history(ctx, ref, key, branch)
	if err != nil {
		return nil, err
	}
	return slices.Collect(td.Items()), nil
}

// Between returns the entries of (ref, key) on branch strictly after
// (fromTurn, fromTick) and at or before (toTurn, toTick).
func (c *Cache) Between(ctx context.Context, ref ir.EntityRef, key, branch string, fromTurn, fromTick, toTurn, toTick int64) ([]window.TurnEntry[ir.Value], error) {
	td, err := c.history(ctx, ref, key, branch)
	if err != nil {
		return nil, err
	}
	return slices.Collect(td.Between(fromTurn, fromTick, toTurn, toTick)), nil
}

// KnownKeys returns every key ever recorded for ref, persisted or written
// since, sorted. The persisted names are listed once per entity.
func (c *Cache) KnownKeys(ctx context.Context, ref ir.EntityRef) ([]string, error) {
	ks, ok := c.keys[ref]
	if !ok {
		names, err := c.loader.ListKeys(ctx, ref)
		if err != nil {
			return nil, &ir.StorageError{Op: "list keys", Err: fmt.Errorf("%s: %w", ref, err)}
		}
		ks = make(map[string]struct{}, len(names))
		for _, n := range names {
			ks[n] = struct{}{}
		}
		for hk, td := range c.histories {
			if hk.ref == ref && !td.Empty() {
				ks[hk.key] = struct{}{}
			}
		}
		c.keys[ref] = ks
	}
	out := make([]string, 0, len(ks))
	for k := range ks {
		out = append(out, k)
	}
	slices.Sort(out)
	return out, nil
}

// Keys returns the keys of ref with a value in effect at t, sorted.
func (c *Cache) Keys(ctx context.Context, ref ir.EntityRef, t ir.Time) ([]string, error) {
	known, err := c.KnownKeys(ctx, ref)
	if err != nil {
		return nil, err
	}
	out := known[:0]
	for _, k := range known {
		r, err := c.Retrieve(ctx, ref, k, t)
		if err != nil {
			return nil, err
		}
		if r.Ok() {
			out = append(out, k)
		}
	}
	return out, nil
}

// Forget drops every in-memory entry and memo. The next lookup reloads
// from the Loader.
func (c *Cache) Forget() {
	clear(c.histories)
	clear(c.keys)
	clear(c.memo)
}
