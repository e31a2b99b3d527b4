package kvstore

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/tempograph/internal/ir"
)

// LoadHistory returns every row of (ref, key) on branch, ordered by
// (turn, tick, seq). The key layout makes this a single prefix scan.
func (s *Store) LoadHistory(ctx context.Context, ref ir.EntityRef, key, branch string) (rows []ir.Row, err error) {
	ctx, span := startSpan(ctx, "LoadHistory", trace.WithAttributes(
		attribute.String("entity", ref.String()),
		attribute.String("key", key),
		attribute.String("branch", branch),
	))
	defer func() { endSpan(span, err) }()

	prefix, err := historyPrefix(ref, key, branch)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	rows = []ir.Row{}
	err = s.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			r := readKey(item.Key(), prefix)
			row := ir.Row{Turn: r.int(), Tick: r.int()}
			if r.err != nil {
				return fmt.Errorf("load history: %w", r.err)
			}
			if err := item.Value(func(val []byte) error {
				var err error
				row.Value, row.Deleted, err = ir.DecodeValue(val)
				return err
			}); err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListKeys returns every key ever written for ref on any branch, sorted.
func (s *Store) ListKeys(ctx context.Context, ref ir.EntityRef) (keys []string, err error) {
	ctx, span := startSpan(ctx, "ListKeys", trace.WithAttributes(attribute.String("entity", ref.String())))
	defer func() { endSpan(span, err) }()

	prefix, err := newKey(prefixFact).ref(ref).bytes()
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	keys = []string{}
	err = s.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); {
			r := readKey(it.Item().Key(), prefix)
			k := r.str()
			if r.err != nil {
				return fmt.Errorf("list keys: %w", r.err)
			}
			keys = append(keys, k)
			// Skip the rest of this key's rows.
			it.Seek(append(append(slices.Clip(prefix), k...), sep+1))
		}
		return nil
	})
	if err != nil {
		return nil, err
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

	prefix, err := newKey(prefixFact).str(kind.String()).str(graph).bytes()
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	refs = []ir.EntityRef{}
	err = s.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); {
			r := readKey(it.Item().Key(), prefixFact)
			ref := r.ref()
			if r.err != nil {
				return fmt.Errorf("list entities: %w", r.err)
			}
			refs = append(refs, ref)
			next, err := newKey(prefixFact).ref(ref).bytes()
			if err != nil {
				return fmt.Errorf("list entities: %w", err)
			}
			// Every key segment sorts below 0xff, so this skips the entity.
			it.Seek(append(next, 0xff))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// ListGraphs returns the names of graphs with graph-level facts, sorted.
func (s *Store) ListGraphs(ctx context.Context) (graphs []string, err error) {
	ctx, span := startSpan(ctx, "ListGraphs")
	defer func() { endSpan(span, err) }()

	prefix, err := newKey(prefixFact).str(ir.KindGraph.String()).bytes()
	if err != nil {
		return nil, fmt.Errorf("list graphs: %w", err)
	}
	graphs = []string{}
	err = s.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); {
			r := readKey(it.Item().Key(), prefix)
			g := r.str()
			if r.err != nil {
				return fmt.Errorf("list graphs: %w", r.err)
			}
			graphs = append(graphs, g)
			next, err := newKey(prefix).str(g).bytes()
			if err != nil {
				return fmt.Errorf("list graphs: %w", err)
			}
			it.Seek(append(next, 0xff))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return graphs, nil
}

// LoadBranches returns every stored branch in insertion order.
func (s *Store) LoadBranches(ctx context.Context) (branches []ir.Branch, err error) {
	ctx, span := startSpan(ctx, "LoadBranches")
	defer func() { endSpan(span, err) }()

	var recs []branchRecord
	err = s.scanJSON(ctx, prefixBranch, func(data []byte) error {
		var rec branchRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load branches: %w", err)
	}
	slices.SortFunc(recs, func(a, b branchRecord) int { return cmp.Compare(a.Ordinal, b.Ordinal) })
	branches = make([]ir.Branch, 0, len(recs))
	for _, rec := range recs {
		branches = append(branches, rec.Branch)
	}
	return branches, nil
}

// LoadHandled returns every handled-rule record in insertion order.
func (s *Store) LoadHandled(ctx context.Context) (handled []ir.HandledRule, err error) {
	ctx, span := startSpan(ctx, "LoadHandled")
	defer func() { endSpan(span, err) }()

	var recs []handledRecord
	err = s.scanJSON(ctx, prefixHandled, func(data []byte) error {
		var rec handledRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load handled: %w", err)
	}
	slices.SortFunc(recs, func(a, b handledRecord) int { return cmp.Compare(a.Ordinal, b.Ordinal) })
	handled = make([]ir.HandledRule, 0, len(recs))
	for _, rec := range recs {
		handled = append(handled, rec.HandledRule)
	}
	return handled, nil
}

// LoadCursor returns the saved coordinate. ok is false if none was saved.
func (s *Store) LoadCursor(ctx context.Context) (t ir.Time, ok bool, err error) {
	ctx, span := startSpan(ctx, "LoadCursor")
	defer func() { endSpan(span, err) }()

	err = s.view(ctx, func(txn *badger.Txn) error {
		var err error
		ok, err = getJSON(txn, keyCursor, &t)
		return err
	})
	if err != nil {
		return ir.Time{}, false, fmt.Errorf("load cursor: %w", err)
	}
	return t, ok, nil
}

// LoadKeyframe returns the keyframe stored at exactly t.
func (s *Store) LoadKeyframe(ctx context.Context, t ir.Time) (kf ir.Keyframe, ok bool, err error) {
	ctx, span := startSpan(ctx, "LoadKeyframe", trace.WithAttributes(attribute.String("time", t.String())))
	defer func() { endSpan(span, err) }()

	key, err := keyframeKey(t)
	if err != nil {
		return ir.Keyframe{}, false, fmt.Errorf("load keyframe: %w", err)
	}
	var rec keyframeRecord
	err = s.view(ctx, func(txn *badger.Txn) error {
		var err error
		ok, err = getJSON(txn, key, &rec)
		return err
	})
	if err != nil {
		return ir.Keyframe{}, false, fmt.Errorf("load keyframe: %w", err)
	}
	if !ok {
		return ir.Keyframe{}, false, nil
	}
	facts, err := decodeFacts(rec.Facts)
	if err != nil {
		return ir.Keyframe{}, false, fmt.Errorf("load keyframe: %w", err)
	}
	return ir.Keyframe{Time: t, Facts: facts, Digest: rec.Digest}, true, nil
}

// ListKeyframes returns the time and digest of every stored keyframe,
// ordered by (branch, turn, tick). Facts are not loaded.
func (s *Store) ListKeyframes(ctx context.Context) (kfs []ir.Keyframe, err error) {
	ctx, span := startSpan(ctx, "ListKeyframes")
	defer func() { endSpan(span, err) }()

	kfs = []ir.Keyframe{}
	err = s.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefixKeyframe, PrefetchValues: true, PrefetchSize: 16})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			r := readKey(item.Key(), prefixKeyframe)
			kf := ir.Keyframe{Time: ir.Time{Branch: r.str(), Turn: r.int(), Tick: r.int()}}
			if r.err != nil {
				return r.err
			}
			var rec keyframeRecord
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return err
			}
			kf.Digest = rec.Digest
			kfs = append(kfs, kf)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list keyframes: %w", err)
	}
	return kfs, nil
}

// LoadAll returns every fact ordered by seq, then by coordinate.
func (s *Store) LoadAll(ctx context.Context) (facts []ir.Fact, err error) {
	ctx, span := startSpan(ctx, "LoadAll")
	defer func() { endSpan(span, err) }()

	facts = []ir.Fact{}
	err = s.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefixFact, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			f, err := parseFactKey(item.Key())
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				var err error
				f.Value, f.Deleted, err = ir.DecodeValue(val)
				return err
			}); err != nil {
				return err
			}
			facts = append(facts, f)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load all: %w", err)
	}
	slices.SortStableFunc(facts, func(a, b ir.Fact) int {
		return cmp.Or(
			cmp.Compare(a.Seq, b.Seq),
			cmp.Compare(a.Branch, b.Branch),
			ir.CompareRev(a.Turn, a.Tick, b.Turn, b.Tick),
		)
	})
	return facts, nil
}

// MaxSeq returns the largest seq ever appended, or 0 if none.
func (s *Store) MaxSeq(ctx context.Context) (seq int64, err error) {
	err = s.view(ctx, func(txn *badger.Txn) error {
		seq, err = getInt(txn, keyMaxSeq)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq, nil
}

func (s *Store) scanJSON(ctx context.Context, prefix []byte, fn func(data []byte) error) error {
	return s.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

func decodeFacts(data []byte) (map[string]ir.Object, error) {
	v, err := ir.ParseValue(bytes.TrimSpace(data))
	if err != nil {
		return nil, fmt.Errorf("decode facts: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("decode facts: expected object, got %T", v)
	}
	out := make(map[string]ir.Object, len(obj))
	for ref, kv := range obj {
		inner, ok := kv.(ir.Object)
		if !ok {
			return nil, fmt.Errorf("decode facts: %s: expected object, got %T", ref, kv)
		}
		out[ref] = inner
	}
	return out, nil
}
