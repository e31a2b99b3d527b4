package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/tempograph/internal/ir"
)

// Stats summarizes the contents of a store.
type Stats struct {
	Facts     int64
	Branches  int64
	Handled   int64
	Keyframes int64
	LastSeq   int64
}

// LoadAll returns every fact in write order (seq ASC), the order in which
// replaying them reproduces the store's history.
func (s *Store) LoadAll(ctx context.Context) (facts []ir.Fact, err error) {
	ctx, span := startSpan(ctx, "LoadAll")
	defer func() { endSpan(span, err) }()

	q, err := s.db.QueryContext(ctx, `
		SELECT kind, graph, node, dest, idx, key, branch, turn, tick, seq, value
		FROM facts
		ORDER BY seq ASC, branch COLLATE BINARY ASC, turn ASC, tick ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load all: %w", err)
	}
	defer q.Close()

	facts = []ir.Fact{}
	for q.Next() {
		var (
			f                       ir.Fact
			kind, graph, node, dest string
			idx                     int64
			value                   sql.NullString
		)
		if err := q.Scan(&kind, &graph, &node, &dest, &idx, &f.Key, &f.Branch, &f.Turn, &f.Tick, &f.Seq, &value); err != nil {
			return nil, fmt.Errorf("load all: scan: %w", err)
		}
		if f.Ref, err = scanRef(kind, graph, node, dest, idx); err != nil {
			return nil, fmt.Errorf("load all: %w", err)
		}
		if f.Value, f.Deleted, err = unmarshalValue(value); err != nil {
			return nil, fmt.Errorf("load all: %w", err)
		}
		facts = append(facts, f)
	}
	if err := q.Err(); err != nil {
		return nil, fmt.Errorf("load all: iterate: %w", err)
	}
	return facts, nil
}

// MaxSeq returns the largest seq in the store, or 0 if it is empty.
// The engine resumes its logical clock from here.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM facts`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq.Int64, nil
}

// GetStats counts the rows of every table.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	for _, q := range []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM facts`, &st.Facts},
		{`SELECT COUNT(*) FROM branches`, &st.Branches},
		{`SELECT COUNT(*) FROM handled_rules`, &st.Handled},
		{`SELECT COUNT(*) FROM keyframes`, &st.Keyframes},
	} {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return Stats{}, fmt.Errorf("get stats: %w", err)
		}
	}
	seq, err := s.MaxSeq(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("get stats: %w", err)
	}
	st.LastSeq = seq
	return st, nil
}
