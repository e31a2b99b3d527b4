package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/tempograph/internal/ir"
)

// Graph, node and edge existence is an ordinary fact under ir.ExistsKey,
// so it has history, inherits across branches and can be planned like any
// stat.

// AddGraph makes graph exist from the cursor on. Nodes may be added to a
// graph that was never declared; declaring it makes it listable.
func (e *Engine) AddGraph(ctx context.Context, graph string) error {
	return e.write(ctx, ir.GraphRef(graph), ir.ExistsKey, ir.Bool(true), false)
}

// HasGraph reports whether graph exists at the cursor.
func (e *Engine) HasGraph(ctx context.Context, graph string) (bool, error) {
	return e.exists(ctx, ir.GraphRef(graph))
}

// DelGraph deletes graph from the cursor on: every live node goes as
// DelNode would delete it, then the graph's own stats, then the graph.
// History before the cursor stays readable.
func (e *Engine) DelGraph(ctx context.Context, graph string) error {
	ref := ir.GraphRef(graph)
	ok, err := e.exists(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return ir.NewUnsetError(ref, ir.ExistsKey, e.cursor.Now())
	}

	nodes, err := e.Nodes(ctx, graph)
	if err != nil {
		return fmt.Errorf("del graph %s: %w", graph, err)
	}
	for _, n := range nodes {
		if err := e.DelNode(ctx, graph, n); err != nil {
			return fmt.Errorf("del graph %s: %w", graph, err)
		}
	}
	// Edges whose nodes were never declared are not reached through nodes.
	edges, err := e.liveEdges(ctx, graph, func(ir.EntityRef) bool { return true })
	if err != nil {
		return fmt.Errorf("del graph %s: %w", graph, err)
	}
	for _, edge := range edges {
		if err := e.tombstone(ctx, edge); err != nil {
			return fmt.Errorf("del graph %s: %w", graph, err)
		}
	}
	if err := e.tombstone(ctx, ref); err != nil {
		return fmt.Errorf("del graph %s: %w", graph, err)
	}
	e.logger.Debug("graph deleted", "graph", graph, "nodes", len(nodes))
	return nil
}

// Graphs returns the graphs that exist at the cursor, sorted.
func (e *Engine) Graphs(ctx context.Context) ([]string, error) {
	if e.closed {
		return nil, ErrClosed
	}
	var names []string
	if err := e.call("list graphs", func() (err error) {
		names, err = e.backend.ListGraphs(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if p := e.plans.Active(); p != nil {
		for w := range p.Writes() {
			if w.Ref.Kind == ir.KindGraph && !slices.Contains(names, w.Ref.Graph) {
				names = append(names, w.Ref.Graph)
			}
		}
	}

	var out []string
	for _, g := range names {
		ok, err := e.HasGraph(ctx, g)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, g)
		}
	}
	slices.Sort(out)
	return out, nil
}

// AddNode makes node exist in graph from the cursor on.
func (e *Engine) AddNode(ctx context.Context, graph, node string) error {
	return e.write(ctx, ir.NodeRef(graph, node), ir.ExistsKey, ir.Bool(true), false)
}

// HasNode reports whether node exists in graph at the cursor.
func (e *Engine) HasNode(ctx context.Context, graph, node string) (bool, error) {
	return e.exists(ctx, ir.NodeRef(graph, node))
}

// DelNode deletes node from the cursor on: its stats, every edge into or
// out of it, and the node itself are tombstoned. History before the cursor
// is kept.
func (e *Engine) DelNode(ctx context.Context, graph, node string) error {
	ref := ir.NodeRef(graph, node)
	ok, err := e.exists(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return ir.NewUnsetError(ref, ir.ExistsKey, e.cursor.Now())
	}

	edges, err := e.liveEdges(ctx, graph, func(r ir.EntityRef) bool { return r.Node == node || r.Dest == node })
	if err != nil {
		return fmt.Errorf("del node %s: %w", ref, err)
	}
	for _, edge := range edges {
		if err := e.tombstone(ctx, edge); err != nil {
			return fmt.Errorf("del node %s: %w", ref, err)
		}
	}
	if err := e.tombstone(ctx, ref); err != nil {
		return fmt.Errorf("del node %s: %w", ref, err)
	}
	return nil
}

// Nodes returns the nodes of graph that exist at the cursor, sorted.
func (e *Engine) Nodes(ctx context.Context, graph string) ([]string, error) {
	refs, err := e.entities(ctx, graph, ir.KindNode)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ref := range refs {
		ok, err := e.exists(ctx, ref)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ref.Node)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// AddEdge makes edge idx from orig to dest exist from the cursor on.
// Both nodes must exist. Distinct idx values between the same nodes are
// parallel edges.
func (e *Engine) AddEdge(ctx context.Context, graph, orig, dest string, idx int64) error {
	for _, n := range []string{orig, dest} {
		ok, err := e.HasNode(ctx, graph, n)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("add edge %s->%s: %w", orig, dest,
				ir.NewUnsetError(ir.NodeRef(graph, n), ir.ExistsKey, e.cursor.Now()))
		}
	}
	return e.write(ctx, ir.EdgeRef(graph, orig, dest, idx), ir.ExistsKey, ir.Bool(true), false)
}

// HasEdge reports whether edge idx from orig to dest exists at the cursor.
func (e *Engine) HasEdge(ctx context.Context, graph, orig, dest string, idx int64) (bool, error) {
	return e.exists(ctx, ir.EdgeRef(graph, orig, dest, idx))
}

// DelEdge tombstones edge idx from orig to dest and its stats from the
// cursor on.
func (e *Engine) DelEdge(ctx context.Context, graph, orig, dest string, idx int64) error {
	ref := ir.EdgeRef(graph, orig, dest, idx)
	ok, err := e.exists(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return ir.NewUnsetError(ref, ir.ExistsKey, e.cursor.Now())
	}
	return e.tombstone(ctx, ref)
}

// Successors returns the destinations of live edges out of node, sorted.
func (e *Engine) Successors(ctx context.Context, graph, node string) ([]string, error) {
	edges, err := e.liveEdges(ctx, graph, func(r ir.EntityRef) bool { return r.Node == node })
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(edges))
	for _, r := range edges {
		out = append(out, r.Dest)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Predecessors returns the origins of live edges into node, sorted.
func (e *Engine) Predecessors(ctx context.Context, graph, node string) ([]string, error) {
	edges, err := e.liveEdges(ctx, graph, func(r ir.EntityRef) bool { return r.Dest == node })
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(edges))
	for _, r := range edges {
		out = append(out, r.Node)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func (e *Engine) exists(ctx context.Context, ref ir.EntityRef) (bool, error) {
	if e.closed {
		return false, ErrClosed
	}
	res, err := e.read(ctx, ref, ir.ExistsKey, e.cursor.Now())
	if err != nil {
		return false, err
	}
	b, _ := res.Value.(ir.Bool)
	return res.Ok() && bool(b), nil
}

// tombstone deletes every live stat of ref, then its existence.
func (e *Engine) tombstone(ctx context.Context, ref ir.EntityRef) error {
	keys, err := e.StatKeys(ctx, ref)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := e.write(ctx, ref, k, nil, true); err != nil {
			return err
		}
	}
	return e.write(ctx, ref, ir.ExistsKey, nil, true)
}

// entities lists the entities of kind in graph that have persisted or
// staged facts. Existence is not checked.
func (e *Engine) entities(ctx context.Context, graph string, kind ir.EntityKind) ([]ir.EntityRef, error) {
	if e.closed {
		return nil, ErrClosed
	}
	var refs []ir.EntityRef
	if err := e.call("list entities", func() (err error) {
		refs, err = e.backend.ListEntities(ctx, graph, kind)
		return err
	}); err != nil {
		return nil, err
	}
	if p := e.plans.Active(); p != nil {
		for w := range p.Writes() {
			if w.Ref.Kind == kind && w.Ref.Graph == graph && !slices.Contains(refs, w.Ref) {
				refs = append(refs, w.Ref)
			}
		}
	}
	return refs, nil
}

func (e *Engine) liveEdges(ctx context.Context, graph string, match func(ir.EntityRef) bool) ([]ir.EntityRef, error) {
	refs, err := e.entities(ctx, graph, ir.KindEdge)
	if err != nil {
		return nil, err
	}
	var out []ir.EntityRef
	for _, r := range refs {
		if !match(r) {
			continue
		}
		ok, err := e.exists(ctx, r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}
