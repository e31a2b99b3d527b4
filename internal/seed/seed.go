// Package seed loads initial worlds from CUE files.
//
// A world file names graphs, their nodes and edges, and the stats each
// carries:
//
//	at: { turn: 0, tick: 0 }
//	graphs: world: {
//		stats: { weather: "rain" }
//		nodes: {
//			hero: { hp: 10, name: "Ann" }
//			castle: {}
//		}
//		edges: [{ from: "hero", to: "castle", stats: { distance: 3 } }]
//	}
//
// Values follow the fact value model: strings, ints, bools, lists and
// structs. Floats and nulls are rejected.
package seed

import (
	"context"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/tempograph/internal/ir"
)

// World is a compiled world file.
type World struct {
	Turn   int64
	Tick   int64
	Graphs []Graph
}

// Graph is one graph of a world, in declaration order.
type Graph struct {
	Name  string
	Stats []Stat
	Nodes []Node
	Edges []Edge
}

// Node is a node and its stats.
type Node struct {
	Name  string
	Stats []Stat
}

// Edge is an edge and its stats. Idx tells parallel edges apart.
type Edge struct {
	From  string
	To    string
	Idx   int64
	Stats []Stat
}

// Stat is one key and value.
type Stat struct {
	Key   string
	Value ir.Value
}

// Writer receives a world. *engine.Engine satisfies it.
type Writer interface {
	AddGraph(ctx context.Context, graph string) error
	AddNode(ctx context.Context, graph, node string) error
	AddEdge(ctx context.Context, graph, orig, dest string, idx int64) error
	SetStat(ctx context.Context, ref ir.EntityRef, key string, value ir.Value) error
}

// Report counts what Apply wrote.
type Report struct {
	Graphs int `json:"graphs"`
	Nodes  int `json:"nodes"`
	Edges  int `json:"edges"`
	Stats  int `json:"stats"`
}

// Load reads and compiles the world file at path.
func Load(path string) (*World, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read world file: %w", err)
	}
	v := cuecontext.New().CompileBytes(data, cue.Filename(path))
	return Compile(v)
}

// Compile converts a CUE value into a World.
func Compile(v cue.Value) (*World, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	w := &World{}
	if at := v.LookupPath(cue.ParsePath("at")); at.Exists() {
		var err error
		if w.Turn, err = intField(at, "turn"); err != nil {
			return nil, err
		}
		if w.Tick, err = intField(at, "tick"); err != nil {
			return nil, err
		}
		if w.Turn < 0 || w.Tick < 0 {
			return nil, &SeedError{Field: "at", Message: "turn and tick must be >= 0", Pos: at.Pos()}
		}
	}

	graphs := v.LookupPath(cue.ParsePath("graphs"))
	if !graphs.Exists() {
		return nil, &SeedError{Field: "graphs", Message: "graphs is required", Pos: v.Pos()}
	}
	iter, err := graphs.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		g, err := compileGraph(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		w.Graphs = append(w.Graphs, g)
	}
	return w, nil
}

func compileGraph(name string, v cue.Value) (Graph, error) {
	g := Graph{Name: name}
	var err error
	if g.Stats, err = stats(v.LookupPath(cue.ParsePath("stats")), "graphs."+name+".stats"); err != nil {
		return g, err
	}

	if nodes := v.LookupPath(cue.ParsePath("nodes")); nodes.Exists() {
		iter, err := nodes.Fields()
		if err != nil {
			return g, formatCUEError(err)
		}
		for iter.Next() {
			field := fmt.Sprintf("graphs.%s.nodes.%s", name, iter.Label())
			s, err := stats(iter.Value(), field)
			if err != nil {
				return g, err
			}
			g.Nodes = append(g.Nodes, Node{Name: iter.Label(), Stats: s})
		}
	}

	edges := v.LookupPath(cue.ParsePath("edges"))
	if !edges.Exists() {
		return g, nil
	}
	list, err := edges.List()
	if err != nil {
		return g, formatCUEError(err)
	}
	for i := 0; list.Next(); i++ {
		ev := list.Value()
		field := fmt.Sprintf("graphs.%s.edges[%d]", name, i)
		from, err := stringField(ev, "from", field)
		if err != nil {
			return g, err
		}
		to, err := stringField(ev, "to", field)
		if err != nil {
			return g, err
		}
		idx, err := intField(ev, "idx")
		if err != nil {
			return g, err
		}
		if idx < 0 {
			return g, &SeedError{Field: field + ".idx", Message: "must not be negative", Pos: ev.Pos()}
		}
		s, err := stats(ev.LookupPath(cue.ParsePath("stats")), field+".stats")
		if err != nil {
			return g, err
		}
		if !g.hasNode(from) || !g.hasNode(to) {
			return g, &SeedError{Field: field, Message: fmt.Sprintf("edge %s->%s names an undeclared node", from, to), Pos: ev.Pos()}
		}
		g.Edges = append(g.Edges, Edge{From: from, To: to, Idx: idx, Stats: s})
	}
	return g, nil
}

func (g Graph) hasNode(name string) bool {
	for _, n := range g.Nodes {
		if n.Name == name {
			return true
		}
	}
	return false
}

// stats reads a struct of stats. A missing value has none.
func stats(v cue.Value, field string) ([]Stat, error) {
	if !v.Exists() {
		return nil, nil
	}
	if v.Kind() != cue.StructKind {
		return nil, &SeedError{Field: field, Message: "must be a struct", Pos: v.Pos()}
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []Stat
	for iter.Next() {
		key := iter.Label()
		if key == ir.ExistsKey {
			return nil, &SeedError{Field: field + "." + key, Message: "reserved key", Pos: iter.Value().Pos()}
		}
		val, err := value(iter.Value(), field+"."+key)
		if err != nil {
			return nil, err
		}
		out = append(out, Stat{Key: key, Value: val})
	}
	return out, nil
}

// value converts a concrete CUE value to a fact value.
func value(v cue.Value, field string) (ir.Value, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.String(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Int(n), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.Array{}
		for i := 0; iter.Next(); i++ {
			elem, err := value(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.Object{}
		for iter.Next() {
			elem, err := value(iter.Value(), field+"."+iter.Label())
			if err != nil {
				return nil, err
			}
			obj[iter.Label()] = elem
		}
		return obj, nil
	case cue.FloatKind:
		return nil, &SeedError{Field: field, Message: "floats are not fact values - use int instead", Pos: v.Pos()}
	case cue.NullKind:
		return nil, &SeedError{Field: field, Message: "null is not a fact value", Pos: v.Pos()}
	default:
		return nil, &SeedError{Field: field, Message: fmt.Sprintf("unsupported kind %s", v.Kind()), Pos: v.Pos()}
	}
}

func intField(v cue.Value, name string) (int64, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return 0, nil
	}
	n, err := f.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return n, nil
}

func stringField(v cue.Value, name, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return "", &SeedError{Field: field + "." + name, Message: name + " is required", Pos: v.Pos()}
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	if s == "" {
		return "", &SeedError{Field: field + "." + name, Message: "must not be empty", Pos: f.Pos()}
	}
	return s, nil
}

// Apply writes the world through w at w's current cursor: each graph is
// declared, then its nodes, then edges, then stats. It stops at the first failure.
func (world *World) Apply(ctx context.Context, w Writer) (Report, error) {
	var r Report
	for _, g := range world.Graphs {
		if err := w.AddGraph(ctx, g.Name); err != nil {
			return r, fmt.Errorf("seed graph %s: %w", g.Name, err)
		}
		r.Graphs++
		for _, n := range g.Nodes {
			if err := w.AddNode(ctx, g.Name, n.Name); err != nil {
				return r, fmt.Errorf("seed node %s/%s: %w", g.Name, n.Name, err)
			}
			r.Nodes++
		}
		for _, e := range g.Edges {
			if err := w.AddEdge(ctx, g.Name, e.From, e.To, e.Idx); err != nil {
				return r, fmt.Errorf("seed edge %s/%s->%s: %w", g.Name, e.From, e.To, err)
			}
			r.Edges++
		}

		set := func(ref ir.EntityRef, stats []Stat) error {
			for _, s := range stats {
				if err := w.SetStat(ctx, ref, s.Key, s.Value); err != nil {
					return fmt.Errorf("seed %s %q: %w", ref, s.Key, err)
				}
				r.Stats++
			}
			return nil
		}
		if err := set(ir.GraphRef(g.Name), g.Stats); err != nil {
			return r, err
		}
		for _, n := range g.Nodes {
			if err := set(ir.NodeRef(g.Name, n.Name), n.Stats); err != nil {
				return r, err
			}
		}
		for _, e := range g.Edges {
			if err := set(ir.EdgeRef(g.Name, e.From, e.To, e.Idx), e.Stats); err != nil {
				return r, err
			}
		}
	}
	return r, nil
}

// SeedError is a world file error with source position.
type SeedError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *SeedError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &SeedError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
