package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultRootBranch is the name of the branch every other branch descends from.
const DefaultRootBranch = "trunk"

// ExistsKey is the reserved key under which node and edge existence is stored.
// Node and edge caches hold Bool values under this key; a tombstone or false
// means the entity does not exist at that time.
const ExistsKey = "$exists"

// Time is a coordinate in simulated time.
// Coordinates are totally ordered within a branch by (Turn, Tick).
type Time struct {
	Branch string `json:"branch"`
	Turn   int64  `json:"turn"`
	Tick   int64  `json:"tick"`
}

// At returns the coordinate (branch, turn, tick).
func At(branch string, turn, tick int64) Time {
	return Time{Branch: branch, Turn: turn, Tick: tick}
}

// Before reports whether (t.Turn, t.Tick) precedes (turn, tick).
// The branch is ignored.
func (t Time) Before(turn, tick int64) bool {
	return CompareRev(t.Turn, t.Tick, turn, tick) < 0
}

// String renders the coordinate as branch@turn.tick.
func (t Time) String() string {
	return fmt.Sprintf("%s@%d.%d", t.Branch, t.Turn, t.Tick)
}

// ParseTime is the inverse of Time.String. A bare "turn.tick" or "turn"
// leaves Branch empty for the caller to fill in.
func ParseTime(s string) (Time, error) {
	var t Time
	rest := s
	if i := strings.LastIndex(s, "@"); i >= 0 {
		t.Branch, rest = s[:i], s[i+1:]
		if t.Branch == "" {
			return Time{}, fmt.Errorf("time %q: empty branch", s)
		}
	}
	turn, tick, hasTick := strings.Cut(rest, ".")
	var err error
	if t.Turn, err = strconv.ParseInt(turn, 10, 64); err != nil {
		return Time{}, fmt.Errorf("time %q: bad turn: %w", s, err)
	}
	if hasTick {
		if t.Tick, err = strconv.ParseInt(tick, 10, 64); err != nil {
			return Time{}, fmt.Errorf("time %q: bad tick: %w", s, err)
		}
	}
	if t.Turn < 0 || t.Tick < 0 {
		return Time{}, fmt.Errorf("time %q: turn and tick must be non-negative", s)
	}
	return t, nil
}

// CompareRev orders (turn, tick) pairs.
func CompareRev(turnA, tickA, turnB, tickB int64) int {
	switch {
	case turnA < turnB:
		return -1
	case turnA > turnB:
		return 1
	case tickA < tickB:
		return -1
	case tickA > tickB:
		return 1
	default:
		return 0
	}
}

// Branch describes one timeline.
// The root branch has an empty Parent and forks at (0, 0).
// EndTurn/EndTick is the branch's high-water mark: the latest coordinate
// any non-plan write or time travel has reached.
type Branch struct {
	ID       string `json:"id"`
	Parent   string `json:"parent,omitempty"`
	ForkTurn int64  `json:"fork_turn"`
	ForkTick int64  `json:"fork_tick"`
	EndTurn  int64  `json:"end_turn"`
	EndTick  int64  `json:"end_tick"`
}

// IsRoot reports whether the branch has no parent.
func (b Branch) IsRoot() bool {
	return b.Parent == ""
}

// EntityKind tags the variant of an EntityRef.
type EntityKind uint8

const (
	// KindGraph identifies a graph; its facts are graph-level stats.
	KindGraph EntityKind = iota + 1
	// KindNode identifies a node (place or thing) within a graph.
	KindNode
	// KindEdge identifies an edge (portal) between two nodes of a graph.
	KindEdge
)

// String returns the persisted name of the kind.
func (k EntityKind) String() string {
	switch k {
	case KindGraph:
		return "graph"
	case KindNode:
		return "node"
	case KindEdge:
		return "edge"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseEntityKind is the inverse of EntityKind.String.
func ParseEntityKind(s string) (EntityKind, error) {
	switch s {
	case "graph":
		return KindGraph, nil
	case "node":
		return KindNode, nil
	case "edge":
		return KindEdge, nil
	default:
		return 0, fmt.Errorf("unknown entity kind %q", s)
	}
}

// EntityRef identifies one entity. It is comparable and used directly as a
// map key by the caches.
//
// Field use per kind:
//   - KindGraph: Graph
//   - KindNode:  Graph, Node
//   - KindEdge:  Graph, Node (origin), Dest, Idx (multigraph index)
type EntityRef struct {
	Kind  EntityKind `json:"kind"`
	Graph string     `json:"graph"`
	Node  string     `json:"node,omitempty"`
	Dest  string     `json:"dest,omitempty"`
	Idx   int64      `json:"idx,omitempty"`
}

// GraphRef returns a reference to a graph.
func GraphRef(graph string) EntityRef {
	return EntityRef{Kind: KindGraph, Graph: graph}
}

// NodeRef returns a reference to a node in a graph.
func NodeRef(graph, node string) EntityRef {
	return EntityRef{Kind: KindNode, Graph: graph, Node: node}
}

// EdgeRef returns a reference to the edge orig->dest in a graph.
func EdgeRef(graph, orig, dest string, idx int64) EntityRef {
	return EntityRef{Kind: KindEdge, Graph: graph, Node: orig, Dest: dest, Idx: idx}
}

// Parent returns the reference of the entity containing this one:
// nodes belong to their graph, edges to their origin node.
func (r EntityRef) Parent() (EntityRef, bool) {
	switch r.Kind {
	case KindNode:
		return GraphRef(r.Graph), true
	case KindEdge:
		return NodeRef(r.Graph, r.Node), true
	default:
		return EntityRef{}, false
	}
}

// String renders the reference for logs and CLI output.
func (r EntityRef) String() string {
	switch r.Kind {
	case KindGraph:
		return r.Graph
	case KindNode:
		return r.Graph + "/" + r.Node
	case KindEdge:
		if r.Idx != 0 {
			return fmt.Sprintf("%s/%s->%s#%d", r.Graph, r.Node, r.Dest, r.Idx)
		}
		return r.Graph + "/" + r.Node + "->" + r.Dest
	default:
		return "?" + r.Graph
	}
}

// ParseEntityRef is the inverse of EntityRef.String: "g" is a graph,
// "g/n" a node, "g/a->b" an edge and "g/a->b#2" an edge with index 2.
func ParseEntityRef(s string) (EntityRef, error) {
	graph, rest, hasNode := strings.Cut(s, "/")
	if graph == "" {
		return EntityRef{}, fmt.Errorf("entity %q: empty graph name", s)
	}
	if !hasNode {
		return GraphRef(graph), nil
	}
	orig, dest, isEdge := strings.Cut(rest, "->")
	if orig == "" {
		return EntityRef{}, fmt.Errorf("entity %q: empty node name", s)
	}
	if !isEdge {
		return NodeRef(graph, orig), nil
	}
	var idx int64
	if d, n, ok := strings.Cut(dest, "#"); ok {
		v, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return EntityRef{}, fmt.Errorf("entity %q: bad edge index: %w", s, err)
		}
		dest, idx = d, v
	}
	if dest == "" {
		return EntityRef{}, fmt.Errorf("entity %q: empty destination", s)
	}
	return EdgeRef(graph, orig, dest, idx), nil
}

// Fact is one persisted history row: the value of (Ref, Key) on a branch at
// (Turn, Tick). Deleted marks a tombstone; Value is nil in that case.
// Seq is the engine's logical clock at write time; when two rows share a
// coordinate, the one with the larger Seq wins.
type Fact struct {
	Ref     EntityRef `json:"ref"`
	Key     string    `json:"key"`
	Branch  string    `json:"branch"`
	Turn    int64     `json:"turn"`
	Tick    int64     `json:"tick"`
	Value   Value     `json:"value,omitempty"`
	Deleted bool      `json:"deleted,omitempty"`
	Seq     int64     `json:"seq"`
}

// Row is one entry of a loaded history: the value at (Turn, Tick).
type Row struct {
	Turn    int64
	Tick    int64
	Value   Value
	Deleted bool
}

// HandledRule records that a rule already fired for an entity at a time.
// Written once per successful rule execution, never mutated.
type HandledRule struct {
	Ref      EntityRef `json:"ref"`
	Rulebook string    `json:"rulebook"`
	Rule     string    `json:"rule"`
	Branch   string    `json:"branch"`
	Turn     int64     `json:"turn"`
	Tick     int64     `json:"tick"`
}

// HandledKey is the identity of a handled-rule record. Tick is not part of
// it: a rule fires at most once per entity per turn.
type HandledKey struct {
	Ref      EntityRef
	Rulebook string
	Rule     string
	Branch   string
	Turn     int64
}

// Key returns the identity of the record.
func (h HandledRule) Key() HandledKey {
	return HandledKey{Ref: h.Ref, Rulebook: h.Rulebook, Rule: h.Rule, Branch: h.Branch, Turn: h.Turn}
}

// State says whether a lookup found a value.
type State uint8

const (
	// Absent means nothing was ever recorded at or before the queried time.
	Absent State = iota
	// Present means a value is in effect.
	Present
	// Deleted means a tombstone is in effect: the value was set, then unset.
	Deleted
)

// String returns a lowercase name for the state.
func (s State) String() string {
	switch s {
	case Present:
		return "present"
	case Deleted:
		return "deleted"
	default:
		return "absent"
	}
}

// Result is the outcome of a temporal lookup.
// From is the coordinate of the history entry that produced the result;
// it is meaningful only when State is not Absent.
type Result struct {
	Value Value
	State State
	From  Time
}

// Ok reports whether a value is in effect.
func (r Result) Ok() bool {
	return r.State == Present
}

// Change describes a value that appeared to change, either because it was
// written or because the cursor moved across history.
// Value is nil when the fact became unset.
type Change struct {
	Ref   EntityRef
	Key   string
	Value Value
	Time  Time
}

// Keyframe is a full snapshot of every live fact at a time.
type Keyframe struct {
	Time   Time              `json:"time"`
	Facts  map[string]Object `json:"facts"`
	Digest string            `json:"digest"`
}

// Validity is the stretch of one branch over which a lookup result holds:
// every time on Branch from (SinceTurn, SinceTick) up to, but excluding,
// (UntilTurn, UntilTick) resolves to the same entry. Open means no later
// entry bounds it.
type Validity struct {
	Branch    string
	SinceTurn int64
	SinceTick int64
	UntilTurn int64
	UntilTick int64
	Open      bool
}

// Covers reports whether t falls inside the window.
func (v Validity) Covers(t Time) bool {
	if t.Branch != v.Branch || t.Before(v.SinceTurn, v.SinceTick) {
		return false
	}
	return v.Open || t.Before(v.UntilTurn, v.UntilTick)
}
