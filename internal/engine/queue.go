package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/roach88/tempograph/internal/ir"
)

// Named operations accepted by Serve.
const (
	OpNow         = "now"
	OpTimeTravel  = "time_travel"
	OpNextTick    = "next_tick"
	OpNextTurn    = "next_turn"
	OpNewBranch   = "new_branch"
	OpGetStat     = "get_stat"
	OpSetStat     = "set_stat"
	OpDelStat     = "del_stat"
	OpStatKeys    = "stat_keys"
	OpAddGraph    = "add_graph"
	OpDelGraph    = "del_graph"
	OpGraphs      = "graphs"
	OpAddNode     = "add_node"
	OpDelNode     = "del_node"
	OpAddEdge     = "add_edge"
	OpDelEdge     = "del_edge"
	OpStartPlan   = "start_plan"
	OpCommitPlan  = "commit_plan"
	OpDiscardPlan = "discard_plan"
	OpCommit      = "commit"
)

// Request is one named operation for the engine goroutine.
//
// Field use per op:
//   - time_travel: Branch (default: current), Turn, Tick
//   - new_branch: Parent (default: current), Branch, Turn, Tick
//   - get_stat, del_stat, stat_keys: Entity, Key
//   - set_stat: Entity, Key, Value
//   - add_graph, del_graph: Entity (a graph)
//   - add_node, del_node: Entity (a node)
//   - add_edge, del_edge: Entity (an edge, with #idx for parallel edges)
type Request struct {
	Op     string          `json:"op"`
	Branch string          `json:"branch,omitempty"`
	Parent string          `json:"parent,omitempty"`
	Turn   int64           `json:"turn,omitempty"`
	Tick   int64           `json:"tick,omitempty"`
	Entity string          `json:"entity,omitempty"`
	Key    string          `json:"key,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// Response is the result of a Request. Value holds the plain-Go form of a
// stat (see ir.ToAny); Keys the result of stat_keys; Graphs the result of
// graphs.
type Response struct {
	Now    ir.Time  `json:"now"`
	Value  any      `json:"value,omitempty"`
	Keys   []string `json:"keys,omitempty"`
	Graphs []string `json:"graphs,omitempty"`
	Plan   string   `json:"plan,omitempty"`
}

type call struct {
	ctx   context.Context
	req   Request
	reply chan result
}

type result struct {
	resp Response
	err  error
}

// commandQueue is a thread-safe FIFO of calls waiting for the engine
// goroutine.
//
// The queue is unbounded so callers never block on enqueue. The signal
// channel (buffered, size 1) lets Serve wait on it together with ctx.
type commandQueue struct {
	mu     sync.Mutex
	calls  []call
	closed bool
	signal chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		calls:  make([]call, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds c to the back of the queue. Returns false once closed.
func (q *commandQueue) Enqueue(c call) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.calls = append(q.calls, c)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front call without blocking.
func (q *commandQueue) TryDequeue() (call, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.calls) == 0 {
		return call{}, false
	}
	c := q.calls[0]
	// Clear the slot so the backing array does not pin the call's context.
	q.calls[0] = call{}
	if len(q.calls) == 1 {
		q.calls = q.calls[:0]
	} else {
		q.calls = q.calls[1:]
	}
	return c, true
}

// Wait returns a channel that fires when calls may be available. It is
// closed when the queue closes.
func (q *commandQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of waiting calls.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}

// Close stops accepting calls and wakes the waiter.
func (q *commandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Client submits requests to an engine running Serve. Safe for
// concurrent use.
type Client struct {
	q *commandQueue
}

// Client returns a handle for submitting requests from other goroutines.
func (e *Engine) Client() *Client {
	return &Client{q: e.queue}
}

// Call queues req and waits for its response. If ctx ends first the
// request may still run; its response is dropped.
func (c *Client) Call(ctx context.Context, req Request) (Response, error) {
	reply := make(chan result, 1)
	if !c.q.Enqueue(call{ctx: ctx, req: req, reply: reply}) {
		return Response{}, ErrStopped
	}
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case r := <-reply:
		return r.resp, r.err
	}
}

// Serve runs queued requests one at a time, in arrival order, until ctx
// is cancelled or Stop is called. Calls still queued when Serve returns
// fail with ErrStopped.
//
// CRITICAL: Serve is the only goroutine allowed to touch the engine while
// it runs.
func (e *Engine) Serve(ctx context.Context) error {
	e.logger.Info("engine serving")
	var plans []*Plan
	defer func() {
		e.queue.Close()
		for {
			c, ok := e.queue.TryDequeue()
			if !ok {
				break
			}
			c.reply <- result{err: ErrStopped}
		}
	}()

	for {
		if c, ok := e.queue.TryDequeue(); ok {
			if c.ctx.Err() != nil {
				c.reply <- result{err: c.ctx.Err()}
				continue
			}
			resp, err := e.handle(c.ctx, c.req, &plans)
			if err != nil {
				e.logger.Debug("request failed", "op", c.req.Op, "error", err)
			}
			resp.Now = e.cursor.Now()
			c.reply <- result{resp: resp, err: err}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			return ctx.Err()
		case _, open := <-e.queue.Wait():
			if !open && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop makes Serve return once the calls already queued have run.
func (e *Engine) Stop() {
	e.queue.Close()
}

// handle runs one request. plans is the stack of scopes opened through
// the queue; commit_plan and discard_plan close the innermost.
func (e *Engine) handle(ctx context.Context, req Request, plans *[]*Plan) (Response, error) {
	var resp Response
	switch req.Op {
	case OpNow:
		return resp, nil

	case OpTimeTravel:
		branch := req.Branch
		if branch == "" {
			branch = e.cursor.Now().Branch
		}
		return resp, e.TimeTravel(ctx, ir.At(branch, req.Turn, req.Tick))

	case OpNextTick:
		_, err := e.NextTick(ctx)
		return resp, err

	case OpNextTurn:
		return resp, e.NextTurn(ctx)

	case OpNewBranch:
		if req.Branch == "" {
			return resp, badRequest(req.Op, "branch is required")
		}
		parent := req.Parent
		if parent == "" {
			parent = e.cursor.Now().Branch
		}
		_, err := e.NewBranch(ctx, parent, req.Branch, req.Turn, req.Tick)
		return resp, err

	case OpGetStat:
		ref, err := requestRef(req, true)
		if err != nil {
			return resp, err
		}
		v, err := e.GetStat(ctx, ref, req.Key)
		if err != nil {
			return resp, err
		}
		resp.Value = ir.ToAny(v)
		return resp, nil

	case OpSetStat:
		ref, err := requestRef(req, true)
		if err != nil {
			return resp, err
		}
		if len(req.Value) == 0 {
			return resp, badRequest(req.Op, "value is required")
		}
		v, err := ir.ParseValue(req.Value)
		if err != nil {
			return resp, badRequest(req.Op, "value: %v", err)
		}
		return resp, e.SetStat(ctx, ref, req.Key, v)

	case OpDelStat:
		ref, err := requestRef(req, true)
		if err != nil {
			return resp, err
		}
		return resp, e.DelStat(ctx, ref, req.Key)

	case OpStatKeys:
		ref, err := requestRef(req, false)
		if err != nil {
			return resp, err
		}
		resp.Keys, err = e.StatKeys(ctx, ref)
		return resp, err

	case OpAddGraph, OpDelGraph:
		ref, err := requestRef(req, false)
		if err != nil {
			return resp, err
		}
		if ref.Kind != ir.KindGraph {
			return resp, badRequest(req.Op, "entity %q is not a graph", req.Entity)
		}
		if req.Op == OpAddGraph {
			return resp, e.AddGraph(ctx, ref.Graph)
		}
		return resp, e.DelGraph(ctx, ref.Graph)

	case OpGraphs:
		var err error
		resp.Graphs, err = e.Graphs(ctx)
		return resp, err

	case OpAddNode, OpDelNode:
		ref, err := requestRef(req, false)
		if err != nil {
			return resp, err
		}
		if ref.Kind != ir.KindNode {
			return resp, badRequest(req.Op, "entity %q is not a node", req.Entity)
		}
		if req.Op == OpAddNode {
			return resp, e.AddNode(ctx, ref.Graph, ref.Node)
		}
		return resp, e.DelNode(ctx, ref.Graph, ref.Node)

	case OpAddEdge, OpDelEdge:
		ref, err := requestRef(req, false)
		if err != nil {
			return resp, err
		}
		if ref.Kind != ir.KindEdge {
			return resp, badRequest(req.Op, "entity %q is not an edge", req.Entity)
		}
		if req.Op == OpAddEdge {
			return resp, e.AddEdge(ctx, ref.Graph, ref.Node, ref.Dest, ref.Idx)
		}
		return resp, e.DelEdge(ctx, ref.Graph, ref.Node, ref.Dest, ref.Idx)

	case OpStartPlan:
		p, err := e.StartPlan()
		if err != nil {
			return resp, err
		}
		*plans = append(*plans, p)
		resp.Plan = p.ID()
		return resp, nil

	case OpCommitPlan, OpDiscardPlan:
		if len(*plans) == 0 {
			return resp, badRequest(req.Op, "no plan is open")
		}
		p := (*plans)[len(*plans)-1]
		*plans = (*plans)[:len(*plans)-1]
		resp.Plan = p.ID()
		if req.Op == OpCommitPlan {
			return resp, p.Commit(ctx)
		}
		return resp, p.Discard()

	case OpCommit:
		return resp, e.Commit(ctx)

	default:
		return resp, &CommandError{Code: ErrCodeUnknownOp, Op: req.Op, Message: "unknown operation"}
	}
}

func requestRef(req Request, needKey bool) (ir.EntityRef, error) {
	if req.Entity == "" {
		return ir.EntityRef{}, badRequest(req.Op, "entity is required")
	}
	ref, err := ir.ParseEntityRef(req.Entity)
	if err != nil {
		return ir.EntityRef{}, badRequest(req.Op, "%v", err)
	}
	if needKey && req.Key == "" {
		return ir.EntityRef{}, badRequest(req.Op, "key is required")
	}
	return ref, nil
}
