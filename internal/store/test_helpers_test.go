package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/tempograph/internal/ir"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestFact creates a node fact on trunk.
func createTestFact(node, key string, turn, tick, seq int64, value ir.Value) ir.Fact {
	return ir.Fact{
		Ref:    ir.NodeRef("world", node),
		Key:    key,
		Branch: ir.DefaultRootBranch,
		Turn:   turn,
		Tick:   tick,
		Value:  value,
		Seq:    seq,
	}
}

// createTestKeyframe builds a keyframe with its digest filled in.
func createTestKeyframe(t *testing.T, at ir.Time, facts map[string]ir.Object) ir.Keyframe {
	t.Helper()
	kf, err := ir.NewKeyframe(at, facts)
	if err != nil {
		t.Fatalf("NewKeyframe() failed: %v", err)
	}
	return kf
}
