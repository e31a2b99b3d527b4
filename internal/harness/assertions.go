package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tempograph/internal/ir"
)

// AssertionError is returned when an assertion fails. It carries the
// full trace to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, line := range traceLines(e.Trace) {
		fmt.Fprintf(&buf, "  %s\n", line)
	}
	return buf.String()
}

// evaluate checks every assertion and returns the failure messages.
func (h *Harness) evaluate(ctx context.Context, result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertChanges:
			err = assertChanges(result, a)
		case AssertChangeCount:
			err = assertChangeCount(result, a)
		case AssertFinalState:
			err = h.assertFinalState(ctx, result, a)
		case AssertHandled:
			err = h.assertHandled(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion[%d]: %v", i, err))
		}
	}
	return errs
}

func assertChanges(result *Result, a Assertion) error {
	want := a.Lines
	if want == nil {
		want = []string{}
	}
	if slices.Equal(want, result.Changes) {
		return nil
	}
	return &AssertionError{
		Type:     AssertChanges,
		Expected: fmt.Sprintf("%q", want),
		Actual:   fmt.Sprintf("%q", result.Changes),
		Trace:    result.Trace,
	}
}

func assertChangeCount(result *Result, a Assertion) error {
	if len(result.Changes) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertChangeCount,
		Expected: fmt.Sprintf("%d changes", a.Count),
		Actual:   fmt.Sprintf("%d changes: %q", len(result.Changes), result.Changes),
		Trace:    result.Trace,
	}
}

// assertFinalState compares every live stat of the entity at the final
// cursor with the expected object.
func (h *Harness) assertFinalState(ctx context.Context, result *Result, a Assertion) error {
	ref, err := ir.ParseEntityRef(a.Entity)
	if err != nil {
		return err
	}
	expect := map[string]any{}
	for k, v := range a.Expect {
		expect[k] = v
	}
	want, err := ir.FromAny(expect)
	if err != nil {
		return fmt.Errorf("final_state expect: %w", err)
	}

	keys, err := h.engine.StatKeys(ctx, ref)
	if err != nil {
		return err
	}
	got := make(ir.Object, len(keys))
	for _, k := range keys {
		v, err := h.engine.GetStat(ctx, ref, k)
		if err != nil {
			return err
		}
		got[k] = v
	}
	if ir.Equal(got, want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("%s = %s", ref, ir.Format(want)),
		Actual:   fmt.Sprintf("%s = %s at %s", ref, ir.Format(got), h.engine.Now()),
		Trace:    result.Trace,
	}
}

func (h *Harness) assertHandled(result *Result, a Assertion) error {
	ref, err := ir.ParseEntityRef(a.Entity)
	if err != nil {
		return err
	}
	if h.engine.RuleHandled(ref, a.Rulebook, a.Rule, a.Branch, a.Turn) {
		return nil
	}
	return &AssertionError{
		Type:     AssertHandled,
		Expected: fmt.Sprintf("%s/%s handled for %s in %s turn %d", a.Rulebook, a.Rule, ref, a.Branch, a.Turn),
		Actual:   "no record",
		Trace:    result.Trace,
	}
}
