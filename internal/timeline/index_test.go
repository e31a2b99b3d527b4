package timeline

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempograph/internal/ir"
)

func TestNewIndexHasRoot(t *testing.T) {
	x := NewIndex("")

	assert.Equal(t, ir.DefaultRootBranch, x.Root())
	b, ok := x.Branch("trunk")
	require.True(t, ok)
	assert.True(t, b.IsRoot())
}

func TestNewBranchErrors(t *testing.T) {
	x := NewIndex("trunk")
	x.Extend(ir.At("trunk", 5, 0), false)
	_, err := x.NewBranch("trunk", "b", 2, 0)
	require.NoError(t, err)

	tests := []struct {
		name          string
		parent, child string
		turn, tick    int64
		code          ir.TimeErrorCode
	}{
		{"self parent", "b", "b", 2, 0, ir.ErrCodeBranchCycle},
		{"duplicate", "trunk", "b", 1, 0, ir.ErrCodeDuplicateBranch},
		{"unknown parent", "nowhere", "c", 0, 0, ir.ErrCodeUnknownBranch},
		{"past parent end", "trunk", "c", 6, 0, ir.ErrCodeOutOfHistory},
		{"before parent start", "b", "c", 1, 0, ir.ErrCodeOutOfHistory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := x.NewBranch(tt.parent, tt.child, tt.turn, tt.tick)
			require.Error(t, err)
			assert.Equal(t, tt.code, ir.ErrorCode(err))
		})
	}
}

func TestNewBranchStartsAtForkPoint(t *testing.T) {
	x := NewIndex("trunk")
	x.Extend(ir.At("trunk", 3, 2), false)

	b, err := x.NewBranch("trunk", "alt", 3, 1)
	require.NoError(t, err)
	assert.Equal(t, ir.Branch{ID: "alt", Parent: "trunk", ForkTurn: 3, ForkTick: 1, EndTurn: 3, EndTick: 1}, b)
	assert.Equal(t, int64(1), x.TurnEnd("alt", 3))
}

func TestValidate(t *testing.T) {
	x := NewIndex("trunk")
	x.Extend(ir.At("trunk", 4, 0), false)
	_, err := x.NewBranch("trunk", "b", 2, 3)
	require.NoError(t, err)

	assert.NoError(t, x.Validate(ir.At("trunk", 0, 0)))
	assert.NoError(t, x.Validate(ir.At("trunk", 99, 0)))
	assert.NoError(t, x.Validate(ir.At("b", 2, 3)))
	assert.True(t, ir.IsOutOfHistory(x.Validate(ir.At("b", 2, 2))))
	assert.True(t, ir.IsOutOfHistory(x.Validate(ir.At("trunk", -1, 0))))
	assert.Equal(t, ir.ErrCodeUnknownBranch, ir.ErrorCode(x.Validate(ir.At("zzz", 0, 0))))
}

func TestExtendPlanningLeavesBranchEnd(t *testing.T) {
	x := NewIndex("trunk")
	x.Extend(ir.At("trunk", 1, 4), false)
	x.Extend(ir.At("trunk", 3, 0), true)
	x.Extend(ir.At("trunk", 1, 9), true)

	turn, tick, ok := x.End("trunk")
	require.True(t, ok)
	assert.Equal(t, [2]int64{1, 4}, [2]int64{turn, tick})
	assert.Equal(t, int64(4), x.TurnEnd("trunk", 1))
	assert.Equal(t, int64(9), x.TurnEndPlan("trunk", 1))
	assert.Equal(t, int64(0), x.TurnEndPlan("trunk", 3))
}

func TestLineage(t *testing.T) {
	x := NewIndex("trunk")
	x.Extend(ir.At("trunk", 10, 0), false)
	_, err := x.NewBranch("trunk", "a", 4, 1)
	require.NoError(t, err)
	x.Extend(ir.At("a", 8, 0), false)
	_, err = x.NewBranch("a", "b", 6, 0)
	require.NoError(t, err)

	got := slices.Collect(x.Lineage(ir.At("b", 9, 2)))
	assert.Equal(t, []ir.Time{
		ir.At("b", 9, 2),
		ir.At("a", 6, 0),
		ir.At("trunk", 4, 1),
	}, got)

	// A coordinate before a fork point is carried to the parent unchanged.
	got = slices.Collect(x.Lineage(ir.At("b", 5, 0)))
	assert.Equal(t, []ir.Time{ir.At("b", 5, 0), ir.At("a", 5, 0), ir.At("trunk", 4, 1)}, got)
}

func TestIsParentOfAndChildren(t *testing.T) {
	x := NewIndex("trunk")
	x.Extend(ir.At("trunk", 2, 0), false)
	for _, id := range []string{"z", "a"} {
		_, err := x.NewBranch("trunk", id, 1, 0)
		require.NoError(t, err)
	}
	_, err := x.NewBranch("a", "a1", 1, 0)
	require.NoError(t, err)

	assert.True(t, x.IsParentOf("trunk", "a1"))
	assert.True(t, x.IsParentOf("a", "a1"))
	assert.False(t, x.IsParentOf("z", "a1"))
	assert.False(t, x.IsParentOf("a1", "trunk"))
	assert.Equal(t, []string{"a", "z"}, x.Children("trunk"))

	ids := make([]string, 0)
	for _, b := range x.Branches() {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{"a", "a1", "trunk", "z"}, ids)
}

func TestRestore(t *testing.T) {
	x := NewIndex("trunk")
	x.Restore(ir.Branch{ID: "trunk", EndTurn: 7, EndTick: 3})
	x.Restore(ir.Branch{ID: "b", Parent: "trunk", ForkTurn: 2, EndTurn: 5, EndTick: 1})

	turn, tick, _ := x.End("trunk")
	assert.Equal(t, [2]int64{7, 3}, [2]int64{turn, tick})
	assert.Equal(t, int64(1), x.TurnEnd("b", 5))
	assert.True(t, x.IsParentOf("trunk", "b"))
}

func TestKeyframeBefore(t *testing.T) {
	x := NewIndex("trunk")
	x.Extend(ir.At("trunk", 10, 0), false)
	x.AddKeyframe(ir.At("trunk", 2, 0), "k2")
	x.AddKeyframe(ir.At("trunk", 8, 0), "k8")
	_, err := x.NewBranch("trunk", "b", 5, 0)
	require.NoError(t, err)

	at, digest, ok := x.KeyframeBefore(ir.At("b", 9, 0))
	require.True(t, ok)
	assert.Equal(t, ir.At("trunk", 2, 0), at)
	assert.Equal(t, "k2", digest)

	x.AddKeyframe(ir.At("b", 6, 0), "b6")
	at, _, ok = x.KeyframeBefore(ir.At("b", 9, 0))
	require.True(t, ok)
	assert.Equal(t, ir.At("b", 6, 0), at)

	_, _, ok = x.KeyframeBefore(ir.At("trunk", 1, 0))
	assert.False(t, ok)
}

func TestDropForgetsBranch(t *testing.T) {
	x := NewIndex("trunk")
	x.Extend(ir.At("trunk", 2, 0), false)
	_, err := x.NewBranch("trunk", "alt", 1, 0)
	require.NoError(t, err)
	x.AddKeyframe(ir.At("alt", 1, 0), "d")

	x.Drop("alt")
	_, ok := x.Branch("alt")
	assert.False(t, ok)
	assert.Equal(t, int64(0), x.TurnEndPlan("alt", 1))
	_, err = x.NewBranch("trunk", "alt", 1, 0)
	require.NoError(t, err, "a dropped id can be registered again")

	x.Drop("trunk")
	_, ok = x.Branch("trunk")
	assert.True(t, ok, "the root is never dropped")
}
