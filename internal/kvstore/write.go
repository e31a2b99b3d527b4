package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/tempograph/internal/ir"
)

// branchRecord is the stored form of a branch. Ordinal preserves insertion
// order so parents load before children.
type branchRecord struct {
	ir.Branch
	Ordinal int64 `json:"ordinal"`
}

// handledRecord is the stored form of a handled rule.
type handledRecord struct {
	ir.HandledRule
	Ordinal int64 `json:"ordinal"`
}

// keyframeRecord is the stored form of a keyframe. Facts holds canonical JSON.
type keyframeRecord struct {
	Digest string          `json:"digest"`
	Facts  json.RawMessage `json:"facts"`
}

// Append writes fact rows in one transaction. Writing a row with the same
// coordinate and seq again stores the same bytes under the same key.
func (s *Store) Append(ctx context.Context, facts ...ir.Fact) (err error) {
	ctx, span := startSpan(ctx, "Append", trace.WithAttributes(attribute.Int("facts", len(facts))))
	defer func() { endSpan(span, err) }()

	if len(facts) == 0 {
		return nil
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		maxSeq, err := getInt(txn, keyMaxSeq)
		if err != nil {
			return fmt.Errorf("append facts: %w", err)
		}
		for _, f := range facts {
			key, err := factKey(f)
			if err != nil {
				return fmt.Errorf("append facts: %s %q: %w", f.Ref, f.Key, err)
			}
			value, err := ir.EncodeValue(f.Value, f.Deleted)
			if err != nil {
				return fmt.Errorf("append facts: %s %q: %w", f.Ref, f.Key, err)
			}
			if value == nil {
				value = []byte{}
			}
			if err := txn.Set(key, value); err != nil {
				return fmt.Errorf("append facts: set: %w", err)
			}
			maxSeq = max(maxSeq, f.Seq)
		}
		if err := txn.Set(keyMaxSeq, encodeInt(maxSeq)); err != nil {
			return fmt.Errorf("append facts: max seq: %w", err)
		}
		return nil
	})
}

// SaveBranch inserts a branch or updates its high-water mark.
// The fork point of an existing branch never changes.
func (s *Store) SaveBranch(ctx context.Context, b ir.Branch) (err error) {
	ctx, span := startSpan(ctx, "SaveBranch", trace.WithAttributes(attribute.String("branch", b.ID)))
	defer func() { endSpan(span, err) }()

	key, err := branchKey(b.ID)
	if err != nil {
		return fmt.Errorf("save branch: %w", err)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		var rec branchRecord
		found, err := getJSON(txn, key, &rec)
		if err != nil {
			return fmt.Errorf("save branch: %w", err)
		}
		if found {
			rec.EndTurn, rec.EndTick = b.EndTurn, b.EndTick
		} else {
			ord, err := nextOrdinal(txn)
			if err != nil {
				return fmt.Errorf("save branch: %w", err)
			}
			rec = branchRecord{Branch: b, Ordinal: ord}
		}
		return setJSON(txn, key, rec)
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

	key, err := handledKey(h)
	if err != nil {
		return false, fmt.Errorf("mark handled: %w", err)
	}
	err = s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("mark handled: %w", err)
		}
		ord, err := nextOrdinal(txn)
		if err != nil {
			return fmt.Errorf("mark handled: %w", err)
		}
		inserted = true
		return setJSON(txn, key, handledRecord{HandledRule: h, Ordinal: ord})
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// SaveCursor stores the current coordinate.
func (s *Store) SaveCursor(ctx context.Context, t ir.Time) (err error) {
	ctx, span := startSpan(ctx, "SaveCursor")
	defer func() { endSpan(span, err) }()

	return s.update(ctx, func(txn *badger.Txn) error {
		if err := setJSON(txn, keyCursor, t); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
		return nil
	})
}

// SaveKeyframe stores a snapshot, replacing any keyframe at the same time.
func (s *Store) SaveKeyframe(ctx context.Context, kf ir.Keyframe) (err error) {
	ctx, span := startSpan(ctx, "SaveKeyframe", trace.WithAttributes(attribute.String("time", kf.Time.String())))
	defer func() { endSpan(span, err) }()

	key, err := keyframeKey(kf.Time)
	if err != nil {
		return fmt.Errorf("save keyframe: %w", err)
	}
	obj := make(ir.Object, len(kf.Facts))
	for ref, kv := range kf.Facts {
		obj[ref] = kv
	}
	facts, err := ir.MarshalCanonical(obj)
	if err != nil {
		return fmt.Errorf("save keyframe: %w", err)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		if err := setJSON(txn, key, keyframeRecord{Digest: kf.Digest, Facts: facts}); err != nil {
			return fmt.Errorf("save keyframe: %w", err)
		}
		return nil
	})
}

func nextOrdinal(txn *badger.Txn) (int64, error) {
	n, err := getInt(txn, keyOrdinal)
	if err != nil {
		return 0, err
	}
	n++
	if err := txn.Set(keyOrdinal, encodeInt(n)); err != nil {
		return 0, fmt.Errorf("ordinal: %w", err)
	}
	return n, nil
}

func getInt(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	var n int64
	err = item.Value(func(val []byte) error {
		n = decodeInt(val)
		return nil
	})
	return n, err
}

func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}
