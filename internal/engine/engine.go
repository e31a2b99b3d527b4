package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/tempograph/internal/cache"
	"github.com/roach88/tempograph/internal/config"
	"github.com/roach88/tempograph/internal/dispatch"
	"github.com/roach88/tempograph/internal/ir"
	"github.com/roach88/tempograph/internal/metrics"
	"github.com/roach88/tempograph/internal/plan"
	"github.com/roach88/tempograph/internal/timeline"
)

// Engine is the temporal graph core.
//
// CRITICAL: not safe for concurrent use. Either drive it from one
// goroutine or run Serve and submit requests through a Client.
//
// INVARIANTS:
//   - memory is updated only after the backend accepted the write
//   - a failed backend call leaves cursor, index and cache unchanged
//   - the dispatcher sees the authoritative timeline only, never plans
type Engine struct {
	backend  Backend
	logger   *slog.Logger
	clock    *Clock
	index    *timeline.Index
	cursor   *timeline.Cursor
	cache    *cache.Cache
	dispatch *dispatch.Dispatcher
	plans    *plan.Manager
	queue    *commandQueue

	root     string
	planMode config.PlanMode
	ids      IDGenerator
	handled  map[ir.HandledKey]ir.HandledRule
	closed   bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPlanMode sets what Plan.End and WithPlan do with a plan that closes
// without error. Default: config.PlanDiscard.
func WithPlanMode(mode config.PlanMode) Option {
	return func(e *Engine) {
		e.planMode = mode
	}
}

// WithIDGenerator sets the plan id generator. Default: UUIDv7Generator.
func WithIDGenerator(ids IDGenerator) Option {
	return func(e *Engine) {
		e.ids = ids
	}
}

// WithRootBranch names the root branch of a new database.
// Default: ir.DefaultRootBranch.
func WithRootBranch(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.root = id
		}
	}
}

// Open builds an engine over backend and restores the branches, cursor,
// handled rules, keyframe index and logical clock it holds.
//
// The engine owns backend from here on; Close closes it.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Engine, error) {
	e := &Engine{
		backend:  backend,
		logger:   slog.Default(),
		root:     ir.DefaultRootBranch,
		planMode: config.PlanDiscard,
		ids:      UUIDv7Generator{},
		handled:  make(map[ir.HandledKey]ir.HandledRule),
		queue:    newCommandQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.index = timeline.NewIndex(e.root)
	e.cursor = timeline.NewCursor(ir.At(e.root, 0, 0))
	e.cache = cache.New(backend, e.index)
	e.dispatch = dispatch.New(e.logger)
	e.plans = plan.NewManager(e.ids.Generate)

	if err := e.restore(ctx); err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}

	now := e.cursor.Now()
	e.logger.Info("engine opened",
		"branch", now.Branch,
		"turn", now.Turn,
		"tick", now.Tick,
		"branches", len(e.index.Branches()),
		"seq", e.clock.Current(),
	)
	return e, nil
}

// restore loads persisted engine state. Parents are restored before their
// children because backends return branches in creation order.
func (e *Engine) restore(ctx context.Context) error {
	var branches []ir.Branch
	if err := e.call("load branches", func() (err error) {
		branches, err = e.backend.LoadBranches(ctx)
		return err
	}); err != nil {
		return err
	}
	for _, b := range branches {
		e.index.Restore(b)
	}

	var (
		saved ir.Time
		ok    bool
	)
	if err := e.call("load cursor", func() (err error) {
		saved, ok, err = e.backend.LoadCursor(ctx)
		return err
	}); err != nil {
		return err
	}
	if ok {
		if err := e.index.Validate(saved); err != nil {
			e.logger.Warn("ignoring saved cursor", "branch", saved.Branch, "turn", saved.Turn, "tick", saved.Tick, "error", err)
		} else {
			e.cursor.Set(saved)
			e.index.Extend(saved, false)
		}
	}

	var handled []ir.HandledRule
	if err := e.call("load handled", func() (err error) {
		handled, err = e.backend.LoadHandled(ctx)
		return err
	}); err != nil {
		return err
	}
	for _, h := range handled {
		e.handled[h.Key()] = h
	}

	var keyframes []ir.Keyframe
	if err := e.call("list keyframes", func() (err error) {
		keyframes, err = e.backend.ListKeyframes(ctx)
		return err
	}); err != nil {
		return err
	}
	for _, kf := range keyframes {
		e.index.AddKeyframe(kf.Time, kf.Digest)
	}

	var seq int64
	if err := e.call("max seq", func() (err error) {
		seq, err = e.backend.MaxSeq(ctx)
		return err
	}); err != nil {
		return err
	}
	e.clock = NewClockAt(seq)
	return nil
}

// call runs one backend round trip, records its latency and wraps any
// failure in an *ir.StorageError.
func (e *Engine) call(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.BackendLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return &ir.StorageError{Op: op, Err: err}
	}
	return nil
}

// Commit persists the cursor and every branch's high-water mark. Facts
// are persisted as they are written; Commit covers the state that time
// travel changes without writing.
func (e *Engine) Commit(ctx context.Context) error {
	if e.closed {
		return ErrClosed
	}
	for _, b := range e.index.Branches() {
		if err := e.call("save branch", func() error { return e.backend.SaveBranch(ctx, b) }); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	now := e.cursor.Now()
	if err := e.call("save cursor", func() error { return e.backend.SaveCursor(ctx, now) }); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	e.logger.Debug("committed", "branch", now.Branch, "turn", now.Turn, "tick", now.Tick)
	return nil
}

// Close discards any active plan, commits, and closes the backend.
// Closing twice is a no-op.
func (e *Engine) Close(ctx context.Context) error {
	if e.closed {
		return nil
	}
	if p := e.plans.Active(); p != nil {
		e.logger.Warn("discarding plan left open at close", "plan", p.ID, "writes", p.Len())
		e.abandonPlan()
	}
	commitErr := e.Commit(ctx)
	e.closed = true
	e.queue.Close()
	if err := e.backend.Close(); err != nil {
		return fmt.Errorf("close backend: %w", err)
	}
	e.logger.Info("engine closed", "seq", e.clock.Current())
	return commitErr
}

// Seq returns the last seq stamped on a persisted fact.
func (e *Engine) Seq() int64 {
	return e.clock.Current()
}

// CacheStats returns the cache activity counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// Subscribe registers fn for changes to (ref, key). Writes on the main
// timeline and time travel that changes the value at the cursor are both
// reported.
func (e *Engine) Subscribe(ref ir.EntityRef, key string, fn dispatch.Handler) *dispatch.Subscription {
	return e.dispatch.Subscribe(ref, key, fn)
}

// SubscribeAll registers fn for every change delivered to any subscriber.
func (e *Engine) SubscribeAll(fn dispatch.Handler) *dispatch.Subscription {
	return e.dispatch.SubscribeAll(fn)
}
