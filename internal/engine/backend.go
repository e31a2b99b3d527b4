package engine

import (
	"context"

	"github.com/roach88/tempograph/internal/ir"
)

// Backend is the persistence adapter behind an Engine.
//
// internal/store (SQLite), internal/kvstore (Badger) and internal/memstore
// implement it. Every method is a synchronous round trip that honors ctx
// cancellation; a cancelled read fails and may be retried.
type Backend interface {
	// LoadHistory returns every row of (ref, key) on branch alone, ordered
	// by (turn, tick, seq). Rows sharing a coordinate are all returned;
	// the last one wins.
	LoadHistory(ctx context.Context, ref ir.EntityRef, key, branch string) ([]ir.Row, error)
	// ListKeys returns every key ever written for ref, on any branch.
	ListKeys(ctx context.Context, ref ir.EntityRef) ([]string, error)
	// ListEntities returns every entity of kind in graph that has facts.
	ListEntities(ctx context.Context, graph string, kind ir.EntityKind) ([]ir.EntityRef, error)
	// ListGraphs returns the names of graphs with graph-level facts, sorted.
	ListGraphs(ctx context.Context) ([]string, error)
	// Append persists facts atomically.
	Append(ctx context.Context, facts ...ir.Fact) error
	// LoadAll returns every fact ordered by seq.
	LoadAll(ctx context.Context) ([]ir.Fact, error)
	// MaxSeq returns the largest stored seq, or 0.
	MaxSeq(ctx context.Context) (int64, error)

	SaveBranch(ctx context.Context, b ir.Branch) error
	LoadBranches(ctx context.Context) ([]ir.Branch, error)

	// MarkHandled records a handled rule; inserted is false if the record
	// already existed.
	MarkHandled(ctx context.Context, h ir.HandledRule) (inserted bool, err error)
	LoadHandled(ctx context.Context) ([]ir.HandledRule, error)

	SaveCursor(ctx context.Context, t ir.Time) error
	LoadCursor(ctx context.Context) (t ir.Time, ok bool, err error)

	SaveKeyframe(ctx context.Context, kf ir.Keyframe) error
	LoadKeyframe(ctx context.Context, t ir.Time) (kf ir.Keyframe, ok bool, err error)
	// ListKeyframes returns keyframe headers; Facts is nil.
	ListKeyframes(ctx context.Context) ([]ir.Keyframe, error)

	Close() error
}
