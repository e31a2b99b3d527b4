package store

import (
	"database/sql"
	"fmt"

	"github.com/roach88/tempograph/internal/ir"
)

// refColumns flattens an entity reference into its five key columns.
func refColumns(ref ir.EntityRef) (kind, graph, node, dest string, idx int64) {
	return ref.Kind.String(), ref.Graph, ref.Node, ref.Dest, ref.Idx
}

// scanRef rebuilds an entity reference from its key columns.
func scanRef(kind, graph, node, dest string, idx int64) (ir.EntityRef, error) {
	k, err := ir.ParseEntityKind(kind)
	if err != nil {
		return ir.EntityRef{}, err
	}
	return ir.EntityRef{Kind: k, Graph: graph, Node: node, Dest: dest, Idx: idx}, nil
}

// marshalValue converts a fact value to canonical JSON TEXT.
// Tombstones become SQL NULL.
func marshalValue(v ir.Value, deleted bool) (sql.NullString, error) {
	data, err := ir.EncodeValue(v, deleted)
	if err != nil {
		return sql.NullString{}, err
	}
	if data == nil {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalValue parses a value column. NULL is a tombstone.
func unmarshalValue(col sql.NullString) (ir.Value, bool, error) {
	if !col.Valid {
		return nil, true, nil
	}
	v, deleted, err := ir.DecodeValue([]byte(col.String))
	if err != nil {
		return nil, false, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, deleted, nil
}

// marshalFacts converts keyframe facts to canonical JSON TEXT.
func marshalFacts(facts map[string]ir.Object) (string, error) {
	obj := make(ir.Object, len(facts))
	for ref, kv := range facts {
		obj[ref] = kv
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal facts: %w", err)
	}
	return string(data), nil
}

// unmarshalFacts parses keyframe facts.
func unmarshalFacts(data string) (map[string]ir.Object, error) {
	v, err := ir.ParseValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal facts: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("unmarshal facts: expected object, got %T", v)
	}
	out := make(map[string]ir.Object, len(obj))
	for ref, kv := range obj {
		inner, ok := kv.(ir.Object)
		if !ok {
			return nil, fmt.Errorf("unmarshal facts: %s: expected object, got %T", ref, kv)
		}
		out[ref] = inner
	}
	return out, nil
}
