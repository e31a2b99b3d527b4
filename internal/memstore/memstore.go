// Package memstore is a persistence backend that keeps everything in
// process memory.
//
// It has the same ordering and idempotency rules as the SQLite and Badger
// backends and is used for scenario runs, the "memory" backend of the CLI
// and engine tests. Values are stored in their canonical encoding, so a
// value read back is a fresh copy, never an alias of the caller's.
package memstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/tempograph/internal/ir"
)

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("memstore: closed")

type historyKey struct {
	ref    ir.EntityRef
	key    string
	branch string
}

type row struct {
	turn, tick, seq int64
	data            []byte
}

// Store is an in-memory backend. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	closed    bool
	history   map[historyKey][]row
	maxSeq    int64
	branches  []ir.Branch
	handled   []ir.HandledRule
	cursor    *ir.Time
	keyframes map[ir.Time]ir.Keyframe
}

// New returns an empty store.
func New() *Store {
	return &Store{
		history:   make(map[historyKey][]row),
		keyframes: make(map[ir.Time]ir.Keyframe),
	}
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Append stores facts. All facts are validated before any is stored.
// Appending a row with the same coordinate and seq again replaces it.
func (s *Store) Append(ctx context.Context, facts ...ir.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	encoded := make([][]byte, len(facts))
	for i, f := range facts {
		data, err := ir.EncodeValue(f.Value, f.Deleted)
		if err != nil {
			return fmt.Errorf("append facts: %s %q: %w", f.Ref, f.Key, err)
		}
		encoded[i] = data
	}
	for i, f := range facts {
		hk := historyKey{f.Ref, f.Key, f.Branch}
		r := row{turn: f.Turn, tick: f.Tick, seq: f.Seq, data: encoded[i]}
		rows := s.history[hk]
		at, found := slices.BinarySearchFunc(rows, r, compareRows)
		if found {
			rows[at] = r
		} else {
			rows = slices.Insert(rows, at, r)
		}
		s.history[hk] = rows
		s.maxSeq = max(s.maxSeq, f.Seq)
	}
	return nil
}

func compareRows(a, b row) int {
	return cmp.Or(ir.CompareRev(a.turn, a.tick, b.turn, b.tick), cmp.Compare(a.seq, b.seq))
}

// LoadHistory returns the rows of (ref, key) on branch ordered by
// (turn, tick, seq).
func (s *Store) LoadHistory(ctx context.Context, ref ir.EntityRef, key, branch string) ([]ir.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	rows := s.history[historyKey{ref, key, branch}]
	out := make([]ir.Row, 0, len(rows))
	for _, r := range rows {
		v, deleted, err := ir.DecodeValue(r.data)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		out = append(out, ir.Row{Turn: r.turn, Tick: r.tick, Value: v, Deleted: deleted})
	}
	return out, nil
}

// ListKeys returns every key with rows for ref, sorted.
func (s *Store) ListKeys(ctx context.Context, ref ir.EntityRef) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	keys := []string{}
	for hk := range s.history {
		if hk.ref == ref && !slices.Contains(keys, hk.key) {
			keys = append(keys, hk.key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// ListEntities returns every entity of kind in graph with rows, sorted by
// node, dest, then idx.
func (s *Store) ListEntities(ctx context.Context, graph string, kind ir.EntityKind) ([]ir.EntityRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	refs := []ir.EntityRef{}
	for hk := range s.history {
		if hk.ref.Kind == kind && hk.ref.Graph == graph && !slices.Contains(refs, hk.ref) {
			refs = append(refs, hk.ref)
		}
	}
	slices.SortFunc(refs, func(a, b ir.EntityRef) int {
		return cmp.Or(cmp.Compare(a.Node, b.Node), cmp.Compare(a.Dest, b.Dest), cmp.Compare(a.Idx, b.Idx))
	})
	return refs, nil
}

// ListGraphs returns the names of graphs with graph-level facts, sorted.
func (s *Store) ListGraphs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	graphs := []string{}
	for hk := range s.history {
		if hk.ref.Kind == ir.KindGraph && !slices.Contains(graphs, hk.ref.Graph) {
			graphs = append(graphs, hk.ref.Graph)
		}
	}
	slices.Sort(graphs)
	return graphs, nil
}

// LoadAll returns every fact ordered by seq, then branch, then coordinate.
func (s *Store) LoadAll(ctx context.Context) ([]ir.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	facts := []ir.Fact{}
	for hk, rows := range s.history {
		for _, r := range rows {
			v, deleted, err := ir.DecodeValue(r.data)
			if err != nil {
				return nil, fmt.Errorf("load all: %w", err)
			}
			facts = append(facts, ir.Fact{
				Ref: hk.ref, Key: hk.key, Branch: hk.branch,
				Turn: r.turn, Tick: r.tick, Value: v, Deleted: deleted, Seq: r.seq,
			})
		}
	}
	slices.SortFunc(facts, func(a, b ir.Fact) int {
		return cmp.Or(
			cmp.Compare(a.Seq, b.Seq),
			cmp.Compare(a.Branch, b.Branch),
			ir.CompareRev(a.Turn, a.Tick, b.Turn, b.Tick),
			cmp.Compare(a.Ref.String(), b.Ref.String()),
			cmp.Compare(a.Key, b.Key),
		)
	})
	return facts, nil
}

// MaxSeq returns the largest appended seq, or 0.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	return s.maxSeq, nil
}

// SaveBranch inserts a branch or updates its high-water mark. The fork
// point of an existing branch never changes.
func (s *Store) SaveBranch(ctx context.Context, b ir.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	for i := range s.branches {
		if s.branches[i].ID == b.ID {
			s.branches[i].EndTurn, s.branches[i].EndTick = b.EndTurn, b.EndTick
			return nil
		}
	}
	s.branches = append(s.branches, b)
	return nil
}

// LoadBranches returns branches in insertion order.
func (s *Store) LoadBranches(ctx context.Context) ([]ir.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(s.branches), nil
}

// MarkHandled stores h unless a record with the same identity exists.
func (s *Store) MarkHandled(ctx context.Context, h ir.HandledRule) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}

	for _, existing := range s.handled {
		if existing.Key() == h.Key() {
			return false, nil
		}
	}
	s.handled = append(s.handled, h)
	return true, nil
}

// LoadHandled returns handled rules in insertion order.
func (s *Store) LoadHandled(ctx context.Context) ([]ir.HandledRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(s.handled), nil
}

// SaveCursor stores t as the cursor.
func (s *Store) SaveCursor(ctx context.Context, t ir.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.cursor = &t
	return nil
}

// LoadCursor returns the saved cursor; ok is false if none was saved.
func (s *Store) LoadCursor(ctx context.Context) (ir.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return ir.Time{}, false, err
	}
	if s.cursor == nil {
		return ir.Time{}, false, nil
	}
	return *s.cursor, true, nil
}

// SaveKeyframe stores kf, replacing any keyframe at the same time.
func (s *Store) SaveKeyframe(ctx context.Context, kf ir.Keyframe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.keyframes[kf.Time] = kf
	return nil
}

// LoadKeyframe returns the keyframe stored at exactly t.
func (s *Store) LoadKeyframe(ctx context.Context, t ir.Time) (ir.Keyframe, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return ir.Keyframe{}, false, err
	}
	kf, ok := s.keyframes[t]
	return kf, ok, nil
}

// ListKeyframes returns keyframe headers ordered by (branch, turn, tick).
func (s *Store) ListKeyframes(ctx context.Context) ([]ir.Keyframe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	kfs := make([]ir.Keyframe, 0, len(s.keyframes))
	for t, kf := range s.keyframes {
		kfs = append(kfs, ir.Keyframe{Time: t, Digest: kf.Digest})
	}
	slices.SortFunc(kfs, func(a, b ir.Keyframe) int {
		return cmp.Or(
			cmp.Compare(a.Time.Branch, b.Time.Branch),
			ir.CompareRev(a.Time.Turn, a.Time.Tick, b.Time.Turn, b.Time.Tick),
		)
	})
	return kfs, nil
}

// Close releases the store. Later calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
