package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempograph/internal/ir"
)

func TestFaultyBackend_FailAndHeal(t *testing.T) {
	ctx := context.Background()
	b := NewFaultyBackend()
	f := ir.Fact{Ref: ir.GraphRef("g"), Key: "k", Branch: "trunk", Value: ir.Int(1), Seq: 1}

	b.Fail(OpAppend, nil)
	err := b.Append(ctx, f)
	assert.ErrorIs(t, err, ErrInjected)

	custom := errors.New("disk full")
	b.Fail(OpAppend, custom)
	assert.ErrorIs(t, b.Append(ctx, f), custom)

	b.Heal()
	require.NoError(t, b.Append(ctx, f))
	assert.Equal(t, 3, b.Calls(OpAppend))

	rows, err := b.LoadHistory(ctx, f.Ref, "k", "trunk")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestChangeRecorder(t *testing.T) {
	var r ChangeRecorder
	r.Record(ir.Change{Ref: ir.NodeRef("world", "hero"), Key: "hp", Value: ir.Int(5), Time: ir.At("trunk", 3, 0)})
	r.Record(ir.Change{Ref: ir.NodeRef("world", "hero"), Key: "hp", Time: ir.At("trunk", 4, 0)})

	assert.Equal(t, []string{
		"world/hero hp=5 at trunk@3.0",
		"world/hero hp=<unset> at trunk@4.0",
	}, r.Lines())

	r.Reset()
	assert.Empty(t, r.Changes())
}
