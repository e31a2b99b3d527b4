package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/tempograph/internal/ir"
)

// MarkRuleHandled records that rule of rulebook fired for ref in the
// current turn. It returns false if the record already existed, in which
// case nothing is written.
func (e *Engine) MarkRuleHandled(ctx context.Context, ref ir.EntityRef, rulebook, rule string) (bool, error) {
	if e.closed {
		return false, ErrClosed
	}
	now := e.cursor.Now()
	h := ir.HandledRule{
		Ref:      ref,
		Rulebook: rulebook,
		Rule:     rule,
		Branch:   now.Branch,
		Turn:     now.Turn,
		Tick:     now.Tick,
	}
	if _, ok := e.handled[h.Key()]; ok {
		return false, nil
	}

	var inserted bool
	if err := e.call("mark handled", func() (err error) {
		inserted, err = e.backend.MarkHandled(ctx, h)
		return err
	}); err != nil {
		return false, fmt.Errorf("mark %s/%s handled for %s: %w", rulebook, rule, ref, err)
	}
	e.handled[h.Key()] = h
	e.logger.Debug("rule handled",
		"entity", ref.String(),
		"rulebook", rulebook,
		"rule", rule,
		"branch", now.Branch,
		"turn", now.Turn,
	)
	return inserted, nil
}

// RuleHandled reports whether rule of rulebook already fired for ref in
// (branch, turn).
func (e *Engine) RuleHandled(ref ir.EntityRef, rulebook, rule, branch string, turn int64) bool {
	_, ok := e.handled[ir.HandledKey{Ref: ref, Rulebook: rulebook, Rule: rule, Branch: branch, Turn: turn}]
	return ok
}

// HandledRules returns the records of (branch, turn), ordered by tick,
// then rulebook, then rule.
func (e *Engine) HandledRules(branch string, turn int64) []ir.HandledRule {
	var out []ir.HandledRule
	for k, h := range e.handled {
		if k.Branch == branch && k.Turn == turn {
			out = append(out, h)
		}
	}
	slices.SortFunc(out, func(a, b ir.HandledRule) int {
		return cmp.Or(
			cmp.Compare(a.Tick, b.Tick),
			cmp.Compare(a.Rulebook, b.Rulebook),
			cmp.Compare(a.Rule, b.Rule),
			cmp.Compare(a.Ref.String(), b.Ref.String()),
		)
	})
	return out
}
