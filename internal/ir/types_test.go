package ir

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareRev(t *testing.T) {
	assert.Equal(t, -1, CompareRev(1, 5, 2, 0))
	assert.Equal(t, 1, CompareRev(2, 0, 1, 5))
	assert.Equal(t, -1, CompareRev(2, 0, 2, 1))
	assert.Equal(t, 0, CompareRev(3, 3, 3, 3))

	assert.True(t, At("trunk", 1, 0).Before(1, 1))
	assert.False(t, At("trunk", 1, 1).Before(1, 1))
}

func TestTimeString(t *testing.T) {
	assert.Equal(t, "trunk@3.7", At("trunk", 3, 7).String())
}

func TestEntityKindRoundTrip(t *testing.T) {
	for _, k := range []EntityKind{KindGraph, KindNode, KindEdge} {
		parsed, err := ParseEntityKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseEntityKind("portal")
	assert.Error(t, err)
}

func TestEntityRef(t *testing.T) {
	edge := EdgeRef("world", "kitchen", "hall", 0)
	assert.Equal(t, "world/kitchen->hall", edge.String())
	assert.Equal(t, "world/kitchen->hall#2", EdgeRef("world", "kitchen", "hall", 2).String())

	parent, ok := edge.Parent()
	require.True(t, ok)
	assert.Equal(t, NodeRef("world", "kitchen"), parent)

	graph, ok := parent.Parent()
	require.True(t, ok)
	assert.Equal(t, GraphRef("world"), graph)

	_, ok = graph.Parent()
	assert.False(t, ok)
}

func TestHandledRuleKeyIgnoresTick(t *testing.T) {
	a := HandledRule{Ref: NodeRef("g", "n"), Rulebook: "rb", Rule: "r", Branch: "trunk", Turn: 2, Tick: 1}
	b := a
	b.Tick = 9
	assert.Equal(t, a.Key(), b.Key())
}

func TestResultOk(t *testing.T) {
	assert.True(t, Result{State: Present, Value: Int(1)}.Ok())
	assert.False(t, Result{State: Deleted}.Ok())
	assert.False(t, Result{}.Ok())
}

func TestKeyframeDigestStable(t *testing.T) {
	facts := map[string]Object{
		"g/a": {"hp": Int(1)},
		"g/b": {"$exists": Bool(true)},
	}
	kf1, err := NewKeyframe(At("trunk", 1, 0), facts)
	require.NoError(t, err)
	kf2, err := NewKeyframe(At("other", 4, 2), facts)
	require.NoError(t, err)

	assert.Len(t, kf1.Digest, 64)
	assert.Equal(t, kf1.Digest, kf2.Digest)

	facts["g/a"] = Object{"hp": Int(2)}
	kf3, err := NewKeyframe(At("trunk", 1, 0), facts)
	require.NoError(t, err)
	assert.NotEqual(t, kf1.Digest, kf3.Digest)
}

func TestTimeErrorHelpers(t *testing.T) {
	err := NewUnsetError(NodeRef("g", "alice"), "run", At("trunk", 0, 0))
	assert.True(t, IsUnset(err))
	assert.False(t, IsOutOfHistory(err))
	assert.Contains(t, err.Error(), "UNSET")
	assert.Contains(t, err.Error(), "trunk@0.0")

	wrapped := fmt.Errorf("outer: %w", NewTimeError(ErrCodeDuplicateBranch, At("b", 1, 0), "branch %q exists", "b"))
	assert.True(t, IsBranchError(wrapped))
	assert.Equal(t, ErrCodeDuplicateBranch, ErrorCode(wrapped))

	se := fmt.Errorf("outer: %w", &StorageError{Op: "append", Err: assert.AnError})
	assert.True(t, IsStorageError(se))
	assert.ErrorIs(t, se, assert.AnError)
	assert.Equal(t, TimeErrorCode(""), ErrorCode(se))
}

func TestValidityCovers(t *testing.T) {
	v := Validity{Branch: "trunk", SinceTurn: 3, SinceTick: 0, UntilTurn: 5, UntilTick: 2}

	assert.True(t, v.Covers(At("trunk", 3, 0)))
	assert.True(t, v.Covers(At("trunk", 5, 1)))
	assert.False(t, v.Covers(At("trunk", 5, 2)))
	assert.False(t, v.Covers(At("trunk", 2, 9)))
	assert.False(t, v.Covers(At("alt", 4, 0)))

	v.Open = true
	assert.True(t, v.Covers(At("trunk", 900, 0)))
}

func TestParseEntityRef(t *testing.T) {
	refs := []EntityRef{
		GraphRef("world"),
		NodeRef("world", "kitchen"),
		EdgeRef("world", "kitchen", "hall", 0),
		EdgeRef("world", "kitchen", "hall", 3),
	}
	for _, ref := range refs {
		got, err := ParseEntityRef(ref.String())
		require.NoError(t, err, ref.String())
		assert.Equal(t, ref, got)
	}

	for _, bad := range []string{"", "/n", "g/", "g/a->", "g/a->b#x"} {
		_, err := ParseEntityRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseTime(t *testing.T) {
	got, err := ParseTime("trunk@3.2")
	require.NoError(t, err)
	assert.Equal(t, At("trunk", 3, 2), got)

	got, err = ParseTime("a@b@4")
	require.NoError(t, err)
	assert.Equal(t, At("a@b", 4, 0), got)

	got, err = ParseTime("7.1")
	require.NoError(t, err)
	assert.Equal(t, At("", 7, 1), got)

	for _, bad := range []string{"", "@1.0", "trunk@x", "trunk@1.y", "trunk@-1.0"} {
		_, err := ParseTime(bad)
		assert.Error(t, err, bad)
	}
}
