package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempograph/internal/ir"
)

func TestCommandQueue_FIFO(t *testing.T) {
	q := newCommandQueue()
	for _, op := range []string{"a", "b", "c"} {
		require.True(t, q.Enqueue(call{req: Request{Op: op}}))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		c, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, c.req.Op)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestCommandQueue_Close(t *testing.T) {
	q := newCommandQueue()
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(call{req: Request{Op: OpNow}}))
	_, open := <-q.Wait()
	assert.False(t, open)
}

func TestCommandQueue_ConcurrentEnqueue(t *testing.T) {
	q := newCommandQueue()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(call{req: Request{Op: OpNow}})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, q.Len())
}

// serve runs e.Serve in the background until the test ends.
func serve(t *testing.T, e *Engine) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return")
		}
	})
	return e.Client()
}

func TestServe_RoundTrip(t *testing.T) {
	e := setupTestEngine(t)
	c := serve(t, e)
	ctx := context.Background()

	resp, err := c.Call(ctx, Request{Op: OpTimeTravel, Turn: 2})
	require.NoError(t, err)
	assert.Equal(t, ir.At("trunk", 2, 0), resp.Now)

	_, err = c.Call(ctx, Request{Op: OpSetStat, Entity: "world/hero", Key: "hp", Value: json.RawMessage(`7`)})
	require.NoError(t, err)
	_, err = c.Call(ctx, Request{Op: OpSetStat, Entity: "world/hero", Key: "name", Value: json.RawMessage(`"Ann"`)})
	require.NoError(t, err)

	resp, err = c.Call(ctx, Request{Op: OpGetStat, Entity: "world/hero", Key: "hp"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), resp.Value)

	resp, err = c.Call(ctx, Request{Op: OpStatKeys, Entity: "world/hero"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hp", "name"}, resp.Keys)

	_, err = c.Call(ctx, Request{Op: OpTimeTravel, Turn: 1})
	require.NoError(t, err)
	_, err = c.Call(ctx, Request{Op: OpGetStat, Entity: "world/hero", Key: "hp"})
	assert.True(t, ir.IsUnset(err))
}

func TestServe_GraphAndBranchOps(t *testing.T) {
	e := setupTestEngine(t)
	c := serve(t, e)
	ctx := context.Background()

	for _, req := range []Request{
		{Op: OpAddNode, Entity: "world/a"},
		{Op: OpAddNode, Entity: "world/b"},
		{Op: OpAddEdge, Entity: "world/a->b"},
		{Op: OpNextTurn},
		{Op: OpNewBranch, Branch: "alt"},
		{Op: OpTimeTravel, Branch: "alt", Turn: 1},
		{Op: OpDelNode, Entity: "world/b"},
	} {
		_, err := c.Call(ctx, req)
		require.NoError(t, err, req.Op)
	}

	_, err := c.Call(ctx, Request{Op: OpAddNode, Entity: "world/a->b"})
	assert.True(t, IsBadRequest(err))
	_, err = c.Call(ctx, Request{Op: OpNewBranch})
	assert.True(t, IsBadRequest(err))
	_, err = c.Call(ctx, Request{Op: OpSetStat, Entity: "world/a", Key: "hp"})
	assert.True(t, IsBadRequest(err), "a value is required")
	_, err = c.Call(ctx, Request{Op: OpGetStat, Entity: "world/a"})
	assert.True(t, IsBadRequest(err), "a key is required")

	resp, err := c.Call(ctx, Request{Op: OpTimeTravel, Branch: "trunk", Turn: 1})
	require.NoError(t, err)
	assert.Equal(t, "trunk", resp.Now.Branch)
}

func TestServe_GraphLifecycleOps(t *testing.T) {
	e := setupTestEngine(t)
	c := serve(t, e)
	ctx := context.Background()

	for _, req := range []Request{
		{Op: OpAddGraph, Entity: "world"},
		{Op: OpAddGraph, Entity: "limbo"},
		{Op: OpAddNode, Entity: "world/a"},
		{Op: OpAddNode, Entity: "world/b"},
		{Op: OpAddEdge, Entity: "world/a->b#1"},
		{Op: OpNextTurn},
		{Op: OpDelGraph, Entity: "limbo"},
	} {
		_, err := c.Call(ctx, req)
		require.NoError(t, err, req.Op)
	}

	resp, err := c.Call(ctx, Request{Op: OpGraphs})
	require.NoError(t, err)
	assert.Equal(t, []string{"world"}, resp.Graphs)

	_, err = c.Call(ctx, Request{Op: OpDelEdge, Entity: "world/a->b"})
	assert.True(t, ir.IsUnset(err), "only edge #1 exists")
	_, err = c.Call(ctx, Request{Op: OpDelEdge, Entity: "world/a->b#1"})
	require.NoError(t, err)

	_, err = c.Call(ctx, Request{Op: OpAddGraph, Entity: "world/a"})
	assert.True(t, IsBadRequest(err))
	_, err = c.Call(ctx, Request{Op: OpDelGraph, Entity: "limbo"})
	assert.True(t, ir.IsUnset(err))
}

func TestServe_PlanOps(t *testing.T) {
	e := setupTestEngine(t)
	c := serve(t, e)
	ctx := context.Background()

	resp, err := c.Call(ctx, Request{Op: OpStartPlan})
	require.NoError(t, err)
	assert.Equal(t, "plan-1", resp.Plan)

	_, err = c.Call(ctx, Request{Op: OpTimeTravel, Turn: 3})
	require.NoError(t, err)
	_, err = c.Call(ctx, Request{Op: OpSetStat, Entity: "world/hero", Key: "hp", Value: json.RawMessage(`1`)})
	require.NoError(t, err)

	resp, err = c.Call(ctx, Request{Op: OpDiscardPlan})
	require.NoError(t, err)
	assert.Equal(t, "plan-1", resp.Plan)
	assert.Equal(t, ir.At("trunk", 0, 0), resp.Now, "closing the plan restores the cursor")

	_, err = c.Call(ctx, Request{Op: OpCommitPlan})
	assert.True(t, IsBadRequest(err))

	_, err = c.Call(ctx, Request{Op: OpStartPlan})
	require.NoError(t, err)
	_, err = c.Call(ctx, Request{Op: OpSetStat, Entity: "world/hero", Key: "hp", Value: json.RawMessage(`2`)})
	require.NoError(t, err)
	_, err = c.Call(ctx, Request{Op: OpCommitPlan})
	require.NoError(t, err)

	resp, err = c.Call(ctx, Request{Op: OpGetStat, Entity: "world/hero", Key: "hp"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.Value)
	_, err = c.Call(ctx, Request{Op: OpCommit})
	require.NoError(t, err)
}

func TestServe_UnknownOp(t *testing.T) {
	e := setupTestEngine(t)
	c := serve(t, e)

	_, err := c.Call(context.Background(), Request{Op: "explode"})
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrCodeUnknownOp, ce.Code)
	assert.Equal(t, "explode", ce.Op)
}

func TestServe_StopDrainsQueue(t *testing.T) {
	e := setupTestEngine(t)
	c := e.Client()
	ctx := context.Background()

	replies := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := c.Call(ctx, Request{Op: OpNextTick})
			replies <- err
		}()
	}
	require.Eventually(t, func() bool { return e.queue.Len() == 3 }, time.Second, time.Millisecond)

	e.Stop()
	require.NoError(t, e.Serve(ctx))
	for i := 0; i < 3; i++ {
		assert.NoError(t, <-replies, "calls queued before Stop still run")
	}
	assert.Equal(t, ir.At("trunk", 0, 3), e.Now())

	_, err := c.Call(ctx, Request{Op: OpNow})
	assert.True(t, IsStopped(err))
}

func TestServe_ContextCancelled(t *testing.T) {
	e := setupTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Serve(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = e.Client().Call(context.Background(), Request{Op: OpNow})
	assert.ErrorIs(t, err, ErrStopped)
}
