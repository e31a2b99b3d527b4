package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/tempograph/internal/ir"
)

// LoadHistory returns every row of (ref, key) on branch, ordered by
// (turn, tick, seq). Rows sharing a coordinate come in seq order, so a
// caller that applies them in order ends with the latest write.
//
// Returns an empty slice (not nil) if nothing was recorded.
func (s *Store) LoadHistory(ctx context.Context, ref ir.EntityRef, key, branch string) (rows []ir.Row, err error) {
	ctx, span := startSpan(ctx, "LoadHistory", trace.WithAttributes(
		attribute.String("entity", ref.String()),
		attribute.String("key", key),
		attribute.String("branch", branch),
	))
	defer func() { endSpan(span, err) }()

	kind, graph, node, dest, idx := refColumns(ref)
	q, err := s.db.QueryContext(ctx, `
		SELECT turn, tick, value
		FROM facts
		WHERE kind = ? AND graph = ? AND node = ? AND dest = ? AND idx = ?
		  AND key = ? AND branch = ?
		ORDER BY turn ASC, tick ASC, seq ASC
	`, kind, graph, node, dest, idx, key, branch)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer q.Close()

	rows = []ir.Row{}
	for q.Next() {
		var (
			row   ir.Row
			value sql.NullString
		)
		if err := q.Scan(&row.Turn, &row.Tick, &value); err != nil {
			return nil, fmt.Errorf("load history: scan: %w", err)
		}
		row.Value, row.Deleted, err = unmarshalValue(value)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		rows = append(rows, row)
	}
	if err := q.Err(); err != nil {
		return nil, fmt.Errorf("load history: iterate: %w", err)
	}
	return rows, nil
}

// ListKeys returns every key ever written for ref on any branch, sorted.
func (s *Store) ListKeys(ctx context.Context, ref ir.EntityRef) (keys []string, err error) {
	ctx, span := startSpan(ctx, "ListKeys", trace.WithAttributes(attribute.String("entity", ref.String())))
	defer func() { endSpan(span, err) }()

	kind, graph, node, dest, idx := refColumns(ref)
	q, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT key
		FROM facts
		WHERE kind = ? AND graph = ? AND node = ? AND dest = ? AND idx = ?
		ORDER BY key COLLATE BINARY ASC
	`, kind, graph, node, dest, idx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer q.Close()

	keys = []string{}
	for q.Next() {
		var k string
		if err := q.Scan(&k); err != nil {
			return nil, fmt.Errorf("list keys: scan: %w", err)
		}
		keys = append(keys, k)
	}
	if err := q.Err(); err != nil {
		return nil, fmt.Errorf("list keys: iterate: %w", err)
	}
	return keys, nil
}

// ListEntities returns every entity of kind in graph that has at least
// one recorded fact, sorted.
func (s *Store) ListEntities(ctx context.Context, graph string, kind ir.EntityKind) (refs []ir.EntityRef, err error) {
	ctx, span := startSpan(ctx, "ListEntities", trace.WithAttributes(
		attribute.String("graph", graph),
		attribute.String("kind", kind.String()),
	))
	defer func() { endSpan(span, err) }()

	q, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT kind, graph, node, dest, idx
		FROM facts
		WHERE kind = ? AND graph = ?
		ORDER BY node COLLATE BINARY ASC, dest COLLATE BINARY ASC, idx ASC
	`, kind.String(), graph)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer q.Close()

	refs = []ir.EntityRef{}
	for q.Next() {
		var (
			k, g, node, dest string
			idx              int64
		)
		if err := q.Scan(&k, &g, &node, &dest, &idx); err != nil {
			return nil, fmt.Errorf("list entities: scan: %w", err)
		}
		ref, err := scanRef(k, g, node, dest, idx)
		if err != nil {
			return nil, fmt.Errorf("list entities: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := q.Err(); err != nil {
		return nil, fmt.Errorf("list entities: iterate: %w", err)
	}
	return refs, nil
}

// ListGraphs returns the names of graphs with graph-level facts, sorted.
func (s *Store) ListGraphs(ctx context.Context) (graphs []string, err error) {
	ctx, span := startSpan(ctx, "ListGraphs")
	defer func() { endSpan(span, err) }()

	q, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT graph
		FROM facts
		WHERE kind = ?
		ORDER BY graph COLLATE BINARY ASC
	`, ir.KindGraph.String())
	if err != nil {
		return nil, fmt.Errorf("list graphs: %w", err)
	}
	defer q.Close()

	graphs = []string{}
	for q.Next() {
		var g string
		if err := q.Scan(&g); err != nil {
			return nil, fmt.Errorf("list graphs: scan: %w", err)
		}
		graphs = append(graphs, g)
	}
	if err := q.Err(); err != nil {
		return nil, fmt.Errorf("list graphs: iterate: %w", err)
	}
	return graphs, nil
}

// LoadBranches returns every stored branch in insertion order, so a
// parent always precedes its children.
func (s *Store) LoadBranches(ctx context.Context) (branches []ir.Branch, err error) {
	ctx, span := startSpan(ctx, "LoadBranches")
	defer func() { endSpan(span, err) }()

	q, err := s.db.QueryContext(ctx, `
		SELECT id, parent, fork_turn, fork_tick, end_turn, end_tick
		FROM branches
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load branches: %w", err)
	}
	defer q.Close()

	branches = []ir.Branch{}
	for q.Next() {
		var (
			b      ir.Branch
			parent sql.NullString
		)
		if err := q.Scan(&b.ID, &parent, &b.ForkTurn, &b.ForkTick, &b.EndTurn, &b.EndTick); err != nil {
			return nil, fmt.Errorf("load branches: scan: %w", err)
		}
		b.Parent = parent.String
		branches = append(branches, b)
	}
	if err := q.Err(); err != nil {
		return nil, fmt.Errorf("load branches: iterate: %w", err)
	}
	return branches, nil
}

// LoadHandled returns every handled-rule record in insertion order.
func (s *Store) LoadHandled(ctx context.Context) (handled []ir.HandledRule, err error) {
	ctx, span := startSpan(ctx, "LoadHandled")
	defer func() { endSpan(span, err) }()

	q, err := s.db.QueryContext(ctx, `
		SELECT kind, graph, node, dest, idx, rulebook, rule, branch, turn, tick
		FROM handled_rules
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load handled: %w", err)
	}
	defer q.Close()

	handled = []ir.HandledRule{}
	for q.Next() {
		var (
			h                      ir.HandledRule
			kind, graph, node, dst string
			idx                    int64
		)
		if err := q.Scan(&kind, &graph, &node, &dst, &idx, &h.Rulebook, &h.Rule, &h.Branch, &h.Turn, &h.Tick); err != nil {
			return nil, fmt.Errorf("load handled: scan: %w", err)
		}
		if h.Ref, err = scanRef(kind, graph, node, dst, idx); err != nil {
			return nil, fmt.Errorf("load handled: %w", err)
		}
		handled = append(handled, h)
	}
	if err := q.Err(); err != nil {
		return nil, fmt.Errorf("load handled: iterate: %w", err)
	}
	return handled, nil
}

// LoadCursor returns the saved coordinate. ok is false if none was saved.
func (s *Store) LoadCursor(ctx context.Context) (t ir.Time, ok bool, err error) {
	ctx, span := startSpan(ctx, "LoadCursor")
	defer func() { endSpan(span, err) }()

	q, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM globals
		WHERE key IN ('branch', 'turn', 'tick')
		ORDER BY key ASC
	`)
	if err != nil {
		return ir.Time{}, false, fmt.Errorf("load cursor: %w", err)
	}
	defer q.Close()

	found := 0
	for q.Next() {
		var k, v string
		if err := q.Scan(&k, &v); err != nil {
			return ir.Time{}, false, fmt.Errorf("load cursor: scan: %w", err)
		}
		switch k {
		case "branch":
			t.Branch = v
		case "turn":
			t.Turn, err = strconv.ParseInt(v, 10, 64)
		case "tick":
			t.Tick, err = strconv.ParseInt(v, 10, 64)
		}
		if err != nil {
			return ir.Time{}, false, fmt.Errorf("load cursor: %s: %w", k, err)
		}
		found++
	}
	if err := q.Err(); err != nil {
		return ir.Time{}, false, fmt.Errorf("load cursor: iterate: %w", err)
	}
	return t, found == 3, nil
}

// LoadKeyframe returns the keyframe stored at exactly t.
func (s *Store) LoadKeyframe(ctx context.Context, t ir.Time) (kf ir.Keyframe, ok bool, err error) {
	ctx, span := startSpan(ctx, "LoadKeyframe", trace.WithAttributes(attribute.String("time", t.String())))
	defer func() { endSpan(span, err) }()

	var facts string
	err = s.db.QueryRowContext(ctx, `
		SELECT digest, facts FROM keyframes
		WHERE branch = ? AND turn = ? AND tick = ?
	`, t.Branch, t.Turn, t.Tick).Scan(&kf.Digest, &facts)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Keyframe{}, false, nil
	}
	if err != nil {
		return ir.Keyframe{}, false, fmt.Errorf("load keyframe: %w", err)
	}
	kf.Time = t
	if kf.Facts, err = unmarshalFacts(facts); err != nil {
		return ir.Keyframe{}, false, fmt.Errorf("load keyframe: %w", err)
	}
	return kf, true, nil
}

// ListKeyframes returns the time and digest of every stored keyframe,
// ordered by (branch, turn, tick). Facts are not loaded.
func (s *Store) ListKeyframes(ctx context.Context) (kfs []ir.Keyframe, err error) {
	ctx, span := startSpan(ctx, "ListKeyframes")
	defer func() { endSpan(span, err) }()

	q, err := s.db.QueryContext(ctx, `
		SELECT branch, turn, tick, digest FROM keyframes
		ORDER BY branch COLLATE BINARY ASC, turn ASC, tick ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list keyframes: %w", err)
	}
	defer q.Close()

	kfs = []ir.Keyframe{}
	for q.Next() {
		var kf ir.Keyframe
		if err := q.Scan(&kf.Time.Branch, &kf.Time.Turn, &kf.Time.Tick, &kf.Digest); err != nil {
			return nil, fmt.Errorf("list keyframes: scan: %w", err)
		}
		kfs = append(kfs, kf)
	}
	if err := q.Err(); err != nil {
		return nil, fmt.Errorf("list keyframes: iterate: %w", err)
	}
	return kfs, nil
}
