package engine

// Recovery
//
// Every fact is persisted before it becomes visible, so the backend alone
// is enough to rebuild an engine after a crash: Open restores branches,
// cursor, handled rules and the clock, and the cache reloads histories on
// first touch. Reload does the same for a running engine. Verify replays
// the fact log and checks the properties that make this safe.

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/tempograph/internal/ir"
)

// VerifyReport summarizes a replay of the fact log.
type VerifyReport struct {
	Facts    int   `json:"facts"`
	Entities int   `json:"entities"`
	Branches int   `json:"branches"`
	LastSeq  int64 `json:"last_seq"`
}

// Verify replays every persisted fact in seq order and checks that seqs
// strictly increase, that every fact's branch is registered, and that no
// fact precedes its branch's fork point. All violations are reported
// together.
func (e *Engine) Verify(ctx context.Context) (VerifyReport, error) {
	if e.closed {
		return VerifyReport{}, ErrClosed
	}
	var facts []ir.Fact
	if err := e.call("load all", func() (err error) {
		facts, err = e.backend.LoadAll(ctx)
		return err
	}); err != nil {
		return VerifyReport{}, fmt.Errorf("verify: %w", err)
	}

	report := VerifyReport{Facts: len(facts), Branches: len(e.index.Branches())}
	entities := make(map[ir.EntityRef]bool)
	var errs []error
	for _, f := range facts {
		entities[f.Ref] = true
		if f.Seq <= report.LastSeq {
			errs = append(errs, fmt.Errorf("seq %d of %s %q follows seq %d", f.Seq, f.Ref, f.Key, report.LastSeq))
		}
		report.LastSeq = max(report.LastSeq, f.Seq)

		at := ir.At(f.Branch, f.Turn, f.Tick)
		if err := e.index.Validate(at); err != nil {
			errs = append(errs, fmt.Errorf("seq %d: %w", f.Seq, err))
		}
	}
	report.Entities = len(entities)
	if report.LastSeq > e.clock.Current() {
		errs = append(errs, fmt.Errorf("stored seq %d is ahead of the clock at %d", report.LastSeq, e.clock.Current()))
	}
	if len(errs) > 0 {
		return report, fmt.Errorf("verify: %w", errors.Join(errs...))
	}
	return report, nil
}

// Reload drops every in-memory history and validity window and restores
// engine state from the backend. Any active plan is discarded.
func (e *Engine) Reload(ctx context.Context) error {
	if e.closed {
		return ErrClosed
	}
	e.abandonPlan()
	e.cache.Forget()
	e.dispatch.Reset()
	if err := e.restore(ctx); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	e.logger.Info("engine reloaded", "seq", e.clock.Current())
	return nil
}
