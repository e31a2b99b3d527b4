package store

import (
	"context"
	"slices"
	"testing"

	"github.com/roach88/tempograph/internal/ir"
)

func TestLoadHistory_OrderedByTime(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Written out of order on purpose.
	err := s.Append(ctx,
		createTestFact("kobold", "hp", 5, 0, 1, ir.Int(5)),
		createTestFact("kobold", "hp", 1, 3, 2, ir.Int(13)),
		createTestFact("kobold", "hp", 1, 0, 3, ir.Int(10)),
	)
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	rows, err := s.LoadHistory(ctx, ir.NodeRef("world", "kobold"), "hp", ir.DefaultRootBranch)
	if err != nil {
		t.Fatalf("LoadHistory() failed: %v", err)
	}

	want := []ir.Row{
		{Turn: 1, Tick: 0, Value: ir.Int(10)},
		{Turn: 1, Tick: 3, Value: ir.Int(13)},
		{Turn: 5, Tick: 0, Value: ir.Int(5)},
	}
	if len(rows) != len(want) {
		t.Fatalf("len(rows) = %d, want %d", len(rows), len(want))
	}
	for i := range want {
		if rows[i].Turn != want[i].Turn || rows[i].Tick != want[i].Tick || !ir.Equal(rows[i].Value, want[i].Value) {
			t.Errorf("rows[%d] = %+v, want %+v", i, rows[i], want[i])
		}
	}
}

func TestLoadHistory_FiltersBranch(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	other := createTestFact("kobold", "hp", 3, 0, 2, ir.Int(1))
	other.Branch = "alt"
	if err := s.Append(ctx, createTestFact("kobold", "hp", 1, 0, 1, ir.Int(10)), other); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	rows, err := s.LoadHistory(ctx, ir.NodeRef("world", "kobold"), "hp", "alt")
	if err != nil {
		t.Fatalf("LoadHistory() failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Turn != 3 {
		t.Errorf("rows = %+v, want only the alt row", rows)
	}
}

func TestLoadHistory_Empty(t *testing.T) {
	s := createTestStore(t)

	rows, err := s.LoadHistory(context.Background(), ir.NodeRef("world", "ghost"), "hp", "trunk")
	if err != nil {
		t.Fatalf("LoadHistory() failed: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("rows = %#v, want empty non-nil slice", rows)
	}
}

func TestLoadHistory_Tombstone(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	del := createTestFact("kobold", "hp", 2, 0, 2, nil)
	del.Deleted = true
	if err := s.Append(ctx, createTestFact("kobold", "hp", 1, 0, 1, ir.Int(10)), del); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	rows, err := s.LoadHistory(ctx, ir.NodeRef("world", "kobold"), "hp", "trunk")
	if err != nil {
		t.Fatalf("LoadHistory() failed: %v", err)
	}
	if len(rows) != 2 || !rows[1].Deleted || rows[1].Value != nil {
		t.Errorf("rows = %+v, want a trailing tombstone", rows)
	}
}

func TestListKeys(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Append(ctx,
		createTestFact("kobold", "mp", 1, 0, 1, ir.Int(1)),
		createTestFact("kobold", "hp", 1, 0, 2, ir.Int(1)),
		createTestFact("kobold", "hp", 2, 0, 3, ir.Int(2)),
		createTestFact("goblin", "name", 1, 0, 4, ir.String("g")),
	)
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	keys, err := s.ListKeys(ctx, ir.NodeRef("world", "kobold"))
	if err != nil {
		t.Fatalf("ListKeys() failed: %v", err)
	}
	if !slices.Equal(keys, []string{"hp", "mp"}) {
		t.Errorf("keys = %v, want [hp mp]", keys)
	}
}

func TestListEntities(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	edge := ir.Fact{
		Ref: ir.EdgeRef("world", "cave", "forest", 0), Key: ir.ExistsKey,
		Branch: "trunk", Turn: 1, Value: ir.Bool(true), Seq: 3,
	}
	err := s.Append(ctx,
		createTestFact("kobold", "hp", 1, 0, 1, ir.Int(1)),
		createTestFact("cave", ir.ExistsKey, 1, 0, 2, ir.Bool(true)),
		edge,
	)
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	nodes, err := s.ListEntities(ctx, "world", ir.KindNode)
	if err != nil {
		t.Fatalf("ListEntities() failed: %v", err)
	}
	want := []ir.EntityRef{ir.NodeRef("world", "cave"), ir.NodeRef("world", "kobold")}
	if !slices.Equal(nodes, want) {
		t.Errorf("nodes = %v, want %v", nodes, want)
	}

	edges, err := s.ListEntities(ctx, "world", ir.KindEdge)
	if err != nil {
		t.Fatalf("ListEntities() failed: %v", err)
	}
	if len(edges) != 1 || edges[0] != edge.Ref {
		t.Errorf("edges = %v, want [%v]", edges, edge.Ref)
	}
}

func TestLoadBranches_ParentsFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, b := range []ir.Branch{
		{ID: "trunk"},
		{ID: "b", Parent: "trunk", ForkTurn: 1},
		{ID: "a", Parent: "b", ForkTurn: 2},
	} {
		if err := s.SaveBranch(ctx, b); err != nil {
			t.Fatalf("SaveBranch(%s) failed: %v", b.ID, err)
		}
	}

	branches, err := s.LoadBranches(ctx)
	if err != nil {
		t.Fatalf("LoadBranches() failed: %v", err)
	}
	var ids []string
	for _, b := range branches {
		ids = append(ids, b.ID)
	}
	if !slices.Equal(ids, []string{"trunk", "b", "a"}) {
		t.Errorf("ids = %v, want insertion order", ids)
	}
	if !branches[0].IsRoot() {
		t.Error("trunk should load with an empty parent")
	}
}

func TestLoadHandled(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	h := ir.HandledRule{
		Ref: ir.EdgeRef("world", "a", "b", 2), Rulebook: "rb", Rule: "r",
		Branch: "trunk", Turn: 1, Tick: 4,
	}
	if _, err := s.MarkHandled(ctx, h); err != nil {
		t.Fatalf("MarkHandled() failed: %v", err)
	}

	handled, err := s.LoadHandled(ctx)
	if err != nil {
		t.Fatalf("LoadHandled() failed: %v", err)
	}
	if len(handled) != 1 || handled[0] != h {
		t.Errorf("handled = %+v, want [%+v]", handled, h)
	}
}

func TestLoadCursor_NotSaved(t *testing.T) {
	s := createTestStore(t)

	_, ok, err := s.LoadCursor(context.Background())
	if err != nil {
		t.Fatalf("LoadCursor() failed: %v", err)
	}
	if ok {
		t.Error("LoadCursor() on an empty store should report ok=false")
	}
}

func TestLoadKeyframe_Missing(t *testing.T) {
	s := createTestStore(t)

	_, ok, err := s.LoadKeyframe(context.Background(), ir.At("trunk", 1, 0))
	if err != nil {
		t.Fatalf("LoadKeyframe() failed: %v", err)
	}
	if ok {
		t.Error("LoadKeyframe() should report ok=false")
	}
}

func TestListKeyframes_Ordered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, at := range []ir.Time{ir.At("trunk", 5, 0), ir.At("alt", 3, 0), ir.At("trunk", 2, 1)} {
		if err := s.SaveKeyframe(ctx, createTestKeyframe(t, at, map[string]ir.Object{})); err != nil {
			t.Fatalf("SaveKeyframe(%v) failed: %v", at, err)
		}
	}

	kfs, err := s.ListKeyframes(ctx)
	if err != nil {
		t.Fatalf("ListKeyframes() failed: %v", err)
	}
	var got []ir.Time
	for _, kf := range kfs {
		got = append(got, kf.Time)
		if kf.Facts != nil {
			t.Errorf("ListKeyframes() loaded facts for %v", kf.Time)
		}
	}
	want := []ir.Time{ir.At("alt", 3, 0), ir.At("trunk", 2, 1), ir.At("trunk", 5, 0)}
	if !slices.Equal(got, want) {
		t.Errorf("times = %v, want %v", got, want)
	}
}

func TestListGraphs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Append(ctx,
		ir.Fact{Ref: ir.GraphRef("world"), Key: ir.ExistsKey, Branch: "trunk", Value: ir.Bool(true), Seq: 1},
		ir.Fact{Ref: ir.GraphRef("world"), Key: "weather", Branch: "trunk", Turn: 1, Value: ir.String("rain"), Seq: 2},
		ir.Fact{Ref: ir.GraphRef("abbey"), Key: ir.ExistsKey, Branch: "alt", Value: ir.Bool(true), Seq: 3},
		createTestFact("kobold", "hp", 1, 0, 4, ir.Int(1)),
	)
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	graphs, err := s.ListGraphs(ctx)
	if err != nil {
		t.Fatalf("ListGraphs() failed: %v", err)
	}
	if !slices.Equal(graphs, []string{"abbey", "world"}) {
		t.Errorf("graphs = %v, want [abbey world]", graphs)
	}
}
