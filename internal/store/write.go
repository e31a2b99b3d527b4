package store

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/tempograph/internal/ir"
)

// Append inserts fact rows in one transaction: either every row is
// durable or none is.
// Uses ON CONFLICT DO NOTHING for idempotency - rewriting a row with the
// same coordinate and seq is silently ignored.
func (s *Store) Append(ctx context.Context, facts ...ir.Fact) (err error) {
	ctx, span := startSpan(ctx, "Append", trace.WithAttributes(attribute.Int("facts", len(facts))))
	defer func() { endSpan(span, err) }()

	if len(facts) == 0 {
		return nil
	}
	return retryOp(ctx, defaultRetryConfig, func() error {
		return s.appendTx(ctx, facts)
	})
}

func (s *Store) appendTx(ctx context.Context, facts []ir.Fact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append facts: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO facts
		(kind, graph, node, dest, idx, key, branch, turn, tick, seq, value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("append facts: prepare: %w", err)
	}
	defer stmt.Close()

	for _, f := range facts {
		value, err := marshalValue(f.Value, f.Deleted)
		if err != nil {
			return fmt.Errorf("append facts: %s %q: %w", f.Ref, f.Key, err)
		}
		kind, graph, node, dest, idx := refColumns(f.Ref)
		if _, err := stmt.ExecContext(ctx,
			kind, graph, node, dest, idx,
			f.Key, f.Branch, f.Turn, f.Tick, f.Seq, value,
		); err != nil {
			return fmt.Errorf("append facts: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append facts: commit: %w", err)
	}
	return nil
}

// SaveBranch inserts a branch or updates its high-water mark.
// The fork point of an existing branch never changes.
func (s *Store) SaveBranch(ctx context.Context, b ir.Branch) (err error) {
	ctx, span := startSpan(ctx, "SaveBranch", trace.WithAttributes(attribute.String("branch", b.ID)))
	defer func() { endSpan(span, err) }()

	var parent any
	if !b.IsRoot() {
		parent = b.Parent
	}
	return retryOp(ctx, defaultRetryConfig, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO branches
			(id, parent, fork_turn, fork_tick, end_turn, end_tick)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				end_turn = excluded.end_turn,
				end_tick = excluded.end_tick
		`, b.ID, parent, b.ForkTurn, b.ForkTick, b.EndTurn, b.EndTick)
		if err != nil {
			return fmt.Errorf("save branch: %w", err)
		}
		return nil
	})
}

// MarkHandled records that a rule fired. Returns whether a new record was
// inserted; a rule already handled in the same turn is left untouched.
func (s *Store) MarkHandled(ctx context.Context, h ir.HandledRule) (inserted bool, err error) {
	ctx, span := startSpan(ctx, "MarkHandled", trace.WithAttributes(
		attribute.String("rulebook", h.Rulebook),
		attribute.String("rule", h.Rule),
	))
	defer func() { endSpan(span, err) }()

	kind, graph, node, dest, idx := refColumns(h.Ref)
	err = retryOp(ctx, defaultRetryConfig, func() error {
		result, err := s.db.ExecContext(ctx, `
			INSERT INTO handled_rules
			(kind, graph, node, dest, idx, rulebook, rule, branch, turn, tick)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(kind, graph, node, dest, idx, rulebook, rule, branch, turn) DO NOTHING
		`, kind, graph, node, dest, idx, h.Rulebook, h.Rule, h.Branch, h.Turn, h.Tick)
		if err != nil {
			return fmt.Errorf("mark handled: insert: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark handled: rows affected: %w", err)
		}
		inserted = n > 0
		return nil
	})
	return inserted, err
}

// SaveCursor stores the current coordinate.
func (s *Store) SaveCursor(ctx context.Context, t ir.Time) (err error) {
	ctx, span := startSpan(ctx, "SaveCursor")
	defer func() { endSpan(span, err) }()

	return retryOp(ctx, defaultRetryConfig, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("save cursor: begin tx: %w", err)
		}
		defer tx.Rollback()

		for _, kv := range [][2]string{
			{"branch", t.Branch},
			{"turn", fmt.Sprint(t.Turn)},
			{"tick", fmt.Sprint(t.Tick)},
		} {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO globals (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value
			`, kv[0], kv[1]); err != nil {
				return fmt.Errorf("save cursor: %s: %w", kv[0], err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("save cursor: commit: %w", err)
		}
		return nil
	})
}

// SaveKeyframe stores a snapshot, replacing any keyframe at the same time.
func (s *Store) SaveKeyframe(ctx context.Context, kf ir.Keyframe) (err error) {
	ctx, span := startSpan(ctx, "SaveKeyframe", trace.WithAttributes(attribute.String("time", kf.Time.String())))
	defer func() { endSpan(span, err) }()

	facts, err := marshalFacts(kf.Facts)
	if err != nil {
		return fmt.Errorf("save keyframe: %w", err)
	}
	return retryOp(ctx, defaultRetryConfig, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO keyframes (branch, turn, tick, digest, facts)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(branch, turn, tick) DO UPDATE SET
				digest = excluded.digest,
				facts = excluded.facts
		`, kf.Time.Branch, kf.Time.Turn, kf.Time.Tick, kf.Digest, facts)
		if err != nil {
			return fmt.Errorf("save keyframe: %w", err)
		}
		return nil
	})
}
