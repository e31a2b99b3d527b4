package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempograph/internal/ir"
	"github.com/roach88/tempograph/internal/timeline"
)

type historyID struct {
	ref    ir.EntityRef
	key    string
	branch string
}

// fakeLoader serves canned history and counts calls.
type fakeLoader struct {
	rows      map[historyID][]ir.Row
	keys      map[ir.EntityRef][]string
	loads     int
	listCalls int
	err       error
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		rows: make(map[historyID][]ir.Row),
		keys: make(map[ir.EntityRef][]string),
	}
}

func (f *fakeLoader) LoadHistory(_ context.Context, ref ir.EntityRef, key, branch string) ([]ir.Row, error) {
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[historyID{ref, key, branch}], nil
}

func (f *fakeLoader) ListKeys(_ context.Context, ref ir.EntityRef) ([]string, error) {
	f.listCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.keys[ref], nil
}

var kobold = ir.NodeRef("world", "kobold")

func TestRetrieve_BulkLoadsOnce(t *testing.T) {
	ctx := context.Background()
	loader := newFakeLoader()
	loader.rows[historyID{kobold, "hp", "trunk"}] = []ir.Row{
		{Turn: 1, Tick: 0, Value: ir.Int(10)},
		{Turn: 4, Tick: 2, Value: ir.Int(6)},
	}
	c := New(loader, timeline.NewIndex(""))

	r, err := c.Retrieve(ctx, kobold, "hp", ir.At("trunk", 3, 0))
	require.NoError(t, err)
	assert.Equal(t, ir.Present, r.State)
	assert.Equal(t, ir.Int(10), r.Value)
	assert.Equal(t, ir.At("trunk", 1, 0), r.From)

	r, err = c.Retrieve(ctx, kobold, "hp", ir.At("trunk", 9, 0))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(6), r.Value)

	assert.Equal(t, 1, loader.loads)
}

func TestRetrieve_Idempotent(t *testing.T) {
	ctx := context.Background()
	loader := newFakeLoader()
	loader.rows[historyID{kobold, "hp", "trunk"}] = []ir.Row{{Turn: 1, Value: ir.Int(10)}}
	c := New(loader, timeline.NewIndex(""))

	first, err := c.Retrieve(ctx, kobold, "hp", ir.At("trunk", 2, 0))
	require.NoError(t, err)
	second, err := c.Retrieve(ctx, kobold, "hp", ir.At("trunk", 2, 0))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), c.Stats().Hits)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestRetrieve_AbsentAndDeleted(t *testing.T) {
	ctx := context.Background()
	loader := newFakeLoader()
	loader.rows[historyID{kobold, "hp", "trunk"}] = []ir.Row{
		{Turn: 2, Value: ir.Int(10)},
		{Turn: 5, Deleted: true},
	}
	c := New(loader, timeline.NewIndex(""))

	r, err := c.Retrieve(ctx, kobold, "hp", ir.At("trunk", 1, 0))
	require.NoError(t, err)
	assert.Equal(t, ir.Absent, r.State)

	r, err = c.Retrieve(ctx, kobold, "hp", ir.At("trunk", 6, 0))
	require.NoError(t, err)
	assert.Equal(t, ir.Deleted, r.State)
	assert.Nil(t, r.Value)
}

func TestRetrieve_InheritsFromParentUpToFork(t *testing.T) {
	ctx := context.Background()
	idx := timeline.NewIndex("")
	idx.Extend(ir.At("trunk", 10, 0), false)
	_, err := idx.NewBranch("trunk", "alt", 3, 0)
	require.NoError(t, err)

	loader := newFakeLoader()
	loader.rows[historyID{kobold, "hp", "trunk"}] = []ir.Row{
		{Turn: 1, Value: ir.Int(10)},
		{Turn: 5, Value: ir.Int(99)},
	}
	c := New(loader, idx)

	r, err := c.Retrieve(ctx, kobold, "hp", ir.At("alt", 8, 0))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(10), r.Value, "child must not see the parent's writes after the fork")
	assert.Equal(t, ir.At("trunk", 1, 0), r.From)

	require.NoError(t, c.Store(ctx, kobold, "hp", ir.At("alt", 4, 0), ir.Int(4), false))
	r, err = c.Retrieve(ctx, kobold, "hp", ir.At("alt", 8, 0))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(4), r.Value)

	r, err = c.Retrieve(ctx, kobold, "hp", ir.At("trunk", 8, 0))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(99), r.Value, "parent must not see the child's writes")
}

func TestStore_InvalidatesMemo(t *testing.T) {
	ctx := context.Background()
	c := New(newFakeLoader(), timeline.NewIndex(""))
	at := ir.At("trunk", 2, 0)

	r, err := c.Retrieve(ctx, kobold, "hp", at)
	require.NoError(t, err)
	assert.Equal(t, ir.Absent, r.State)

	require.NoError(t, c.Store(ctx, kobold, "hp", ir.At("trunk", 1, 0), ir.Int(3), false))
	r, err = c.Retrieve(ctx, kobold, "hp", at)
	require.NoError(t, err)
	assert.Equal(t, ir.Int(3), r.Value)
}

func TestStore_LoadsBeforeWriting(t *testing.T) {
	ctx := context.Background()
	loader := newFakeLoader()
	loader.rows[historyID{kobold, "hp", "trunk"}] = []ir.Row{{Turn: 1, Value: ir.Int(10)}}
	c := New(loader, timeline.NewIndex(""))

	require.NoError(t, c.Store(ctx, kobold, "hp", ir.At("trunk", 5, 0), ir.Int(5), false))

	r, err := c.Retrieve(ctx, kobold, "hp", ir.At("trunk", 2, 0))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(10), r.Value, "persisted history must survive a write to an unloaded key")
}

func TestLoaderErrorIsStorageError(t *testing.T) {
	loader := newFakeLoader()
	loader.err = errors.New("disk on fire")
	c := New(loader, timeline.NewIndex(""))

	_, err := c.Retrieve(context.Background(), kobold, "hp", ir.At("trunk", 1, 0))
	require.Error(t, err)
	assert.True(t, ir.IsStorageError(err))
	assert.ErrorIs(t, err, loader.err)
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	loader := newFakeLoader()
	loader.keys[kobold] = []string{"hp", "mp"}
	loader.rows[historyID{kobold, "hp", "trunk"}] = []ir.Row{{Turn: 1, Value: ir.Int(1)}}
	loader.rows[historyID{kobold, "mp", "trunk"}] = []ir.Row{{Turn: 1, Value: ir.Int(1)}, {Turn: 3, Deleted: true}}
	c := New(loader, timeline.NewIndex(""))

	require.NoError(t, c.Store(ctx, kobold, "name", ir.At("trunk", 2, 0), ir.String("k"), false))

	keys, err := c.Keys(ctx, kobold, ir.At("trunk", 2, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"hp", "mp", "name"}, keys)

	keys, err = c.Keys(ctx, kobold, ir.At("trunk", 4, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"hp", "name"}, keys)

	assert.Equal(t, 1, loader.listCalls)
}

func TestWindow_SameBranch(t *testing.T) {
	ctx := context.Background()
	loader := newFakeLoader()
	loader.rows[historyID{kobold, "hp", "trunk"}] = []ir.Row{
		{Turn: 1, Value: ir.Int(1)},
		{Turn: 3, Value: ir.Int(3)},
		{Turn: 7, Tick: 2, Value: ir.Int(7)},
	}
	c := New(loader, timeline.NewIndex(""))

	r, v, err := c.Window(ctx, kobold, "hp", ir.At("trunk", 5, 0))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(3), r.Value)
	assert.Equal(t, ir.Validity{Branch: "trunk", SinceTurn: 3, UntilTurn: 7, UntilTick: 2}, v)
	assert.True(t, v.Covers(ir.At("trunk", 7, 1)))
	assert.False(t, v.Covers(ir.At("trunk", 7, 2)))

	_, v, err = c.Window(ctx, kobold, "hp", ir.At("trunk", 9, 0))
	require.NoError(t, err)
	assert.True(t, v.Open)
}

func TestWindow_PinnedAtFork(t *testing.T) {
	ctx := context.Background()
	idx := timeline.NewIndex("")
	idx.Extend(ir.At("trunk", 10, 0), false)
	_, err := idx.NewBranch("trunk", "alt", 4, 0)
	require.NoError(t, err)

	loader := newFakeLoader()
	loader.rows[historyID{kobold, "hp", "trunk"}] = []ir.Row{
		{Turn: 1, Value: ir.Int(1)},
		{Turn: 6, Value: ir.Int(6)},
	}
	loader.rows[historyID{kobold, "hp", "alt"}] = []ir.Row{{Turn: 8, Value: ir.Int(8)}}
	c := New(loader, idx)

	r, v, err := c.Window(ctx, kobold, "hp", ir.At("alt", 5, 0))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1), r.Value)
	assert.Equal(t, ir.Validity{Branch: "alt", SinceTurn: 4, UntilTurn: 8}, v)

	// At exactly the fork point the parent is pinned, so its write at 6 does
	// not bound the window.
	_, v, err = c.Window(ctx, kobold, "hp", ir.At("alt", 4, 0))
	require.NoError(t, err)
	assert.Equal(t, ir.Validity{Branch: "alt", SinceTurn: 4, UntilTurn: 8}, v)
}

func TestHistoryAndBetween(t *testing.T) {
	ctx := context.Background()
	loader := newFakeLoader()
	loader.rows[historyID{kobold, "hp", "trunk"}] = []ir.Row{
		{Turn: 1, Value: ir.Int(1)},
		{Turn: 2, Tick: 1, Value: ir.Int(2)},
		{Turn: 3, Deleted: true},
	}
	c := New(loader, timeline.NewIndex(""))

	all, err := c.History(ctx, kobold, "hp", "trunk")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mid, err := c.Between(ctx, kobold, "hp", "trunk", 1, 0, 3, 0)
	require.NoError(t, err)
	require.Len(t, mid, 2)
	assert.Equal(t, int64(2), mid[0].Turn)
	assert.True(t, mid[1].Deleted)
}

func TestForget(t *testing.T) {
	ctx := context.Background()
	loader := newFakeLoader()
	c := New(loader, timeline.NewIndex(""))

	_, err := c.Retrieve(ctx, kobold, "hp", ir.At("trunk", 1, 0))
	require.NoError(t, err)
	c.Forget()
	_, err = c.Retrieve(ctx, kobold, "hp", ir.At("trunk", 1, 0))
	require.NoError(t, err)

	assert.Equal(t, 2, loader.loads)
}

func TestRetrieve_MemoBoundedAcrossTicks(t *testing.T) {
	ctx := context.Background()
	loader := newFakeLoader()
	loader.rows[historyID{kobold, "hp", "trunk"}] = []ir.Row{
		{Turn: 0, Tick: 0, Value: ir.Int(10)},
		{Turn: 1, Tick: 0, Value: ir.Int(12)},
	}
	c := New(loader, timeline.NewIndex(""))

	for tick := int64(0); tick < 5000; tick++ {
		r, err := c.Retrieve(ctx, kobold, "hp", ir.At("trunk", 0, tick))
		require.NoError(t, err)
		require.Equal(t, ir.Int(10), r.Value)
	}
	assert.Len(t, c.memo, 1)
	assert.Len(t, c.memo[factKey{kobold, "hp"}], 1)
	assert.Equal(t, int64(1), c.Stats().Misses)
	assert.Equal(t, int64(4999), c.Stats().Hits)

	r, err := c.Retrieve(ctx, kobold, "hp", ir.At("trunk", 1, 3))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(12), r.Value, "a read past the window must resolve again")
	assert.Len(t, c.memo[factKey{kobold, "hp"}], 1)
	assert.Equal(t, int64(2), c.Stats().Misses)
}

func TestRetrieve_ChildMemoDroppedByParentWrite(t *testing.T) {
	ctx := context.Background()
	idx := timeline.NewIndex("")
	idx.Extend(ir.At("trunk", 10, 0), false)
	_, err := idx.NewBranch("trunk", "alt", 5, 0)
	require.NoError(t, err)
	c := New(newFakeLoader(), idx)

	r, err := c.Retrieve(ctx, kobold, "hp", ir.At("alt", 6, 0))
	require.NoError(t, err)
	assert.Equal(t, ir.Absent, r.State)

	require.NoError(t, c.Store(ctx, kobold, "hp", ir.At("trunk", 2, 0), ir.Int(7), false))
	r, err = c.Retrieve(ctx, kobold, "hp", ir.At("alt", 6, 0))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(7), r.Value)
}
