package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/tempograph/internal/engine"
	"github.com/roach88/tempograph/internal/ir"
	"github.com/roach88/tempograph/internal/memstore"
	"github.com/roach88/tempograph/internal/testutil"
)

// Harness drives one engine through a scenario.
type Harness struct {
	engine   *engine.Engine
	plans    []*engine.Plan
	recorder testutil.ChangeRecorder
}

// Run executes a scenario on a fresh in-memory engine and returns the
// result. Step failures and failed assertions are reported in the result;
// the error is for scenarios that could not run at all.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	opts := []engine.Option{
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithIDGenerator(engine.NewSequenceGenerator("")),
	}
	if scenario.Root != "" {
		opts = append(opts, engine.WithRootBranch(scenario.Root))
	}
	if scenario.PlanMode != "" {
		opts = append(opts, engine.WithPlanMode(scenario.PlanMode))
	}

	eng, err := engine.Open(ctx, memstore.New(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	defer eng.Close(ctx)

	h := &Harness{engine: eng}
	for _, w := range scenario.Watch {
		ref, err := ir.ParseEntityRef(w.Entity)
		if err != nil {
			return nil, fmt.Errorf("watch %s: %w", w.Entity, err)
		}
		eng.Subscribe(ref, w.Key, h.recorder.Record)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.runStep(ctx, i+1, step, result)
	}
	result.Changes = h.recorder.Lines()

	for _, msg := range h.evaluate(ctx, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) runStep(ctx context.Context, n int, step Step, result *Result) {
	detail, err := h.execute(ctx, step)
	ev := TraceEvent{Step: n, Op: step.Op, Now: h.engine.Now().String(), Detail: detail}
	if err != nil {
		ev.Error = ErrorCode(err)
	}
	result.AddTrace(ev)

	var mismatch *expectError
	switch {
	case errors.As(err, &mismatch):
		result.AddError(fmt.Sprintf("step %d: %s", n, mismatch.msg))
	case step.Error != "" && err == nil:
		result.AddError(fmt.Sprintf("step %d %s: expected error %s, got none", n, step.Op, step.Error))
	case step.Error != "" && ev.Error != step.Error:
		result.AddError(fmt.Sprintf("step %d %s: expected error %s, got %v", n, step.Op, step.Error, err))
	case step.Error == "" && err != nil:
		result.AddError(fmt.Sprintf("step %d %s: %v", n, step.Op, err))
	}
}

// expectError is an expect step whose observed value differed.
type expectError struct {
	msg string
}

func (e *expectError) Error() string { return e.msg }

func (h *Harness) execute(ctx context.Context, step Step) (string, error) {
	eng := h.engine
	switch step.Op {
	case OpTravel:
		branch := step.Branch
		if branch == "" {
			branch = eng.Now().Branch
		}
		return "", eng.TimeTravel(ctx, ir.At(branch, step.Turn, step.Tick))

	case OpNextTick:
		_, err := eng.NextTick(ctx)
		return "", err

	case OpNextTurn:
		return "", eng.NextTurn(ctx)

	case OpBranch:
		parent := step.Parent
		if parent == "" {
			parent = eng.Now().Branch
		}
		b, err := eng.NewBranch(ctx, parent, step.Branch, step.Turn, step.Tick)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s from %s", b.ID, ir.At(b.Parent, b.ForkTurn, b.ForkTick)), nil

	case OpSet:
		ref, _ := ir.ParseEntityRef(step.Entity)
		v, err := ir.FromAny(step.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s=%s", ref, step.Key, ir.Format(v)), eng.SetStat(ctx, ref, step.Key, v)

	case OpDel:
		ref, _ := ir.ParseEntityRef(step.Entity)
		return fmt.Sprintf("%s %s", ref, step.Key), eng.DelStat(ctx, ref, step.Key)

	case OpAddGraph, OpDelGraph:
		ref, _ := ir.ParseEntityRef(step.Entity)
		if ref.Kind != ir.KindGraph {
			return "", fmt.Errorf("%s is not a graph", step.Entity)
		}
		if step.Op == OpAddGraph {
			return ref.String(), eng.AddGraph(ctx, ref.Graph)
		}
		return ref.String(), eng.DelGraph(ctx, ref.Graph)

	case OpAddNode, OpDelNode:
		ref, _ := ir.ParseEntityRef(step.Entity)
		if ref.Kind != ir.KindNode {
			return "", fmt.Errorf("%s is not a node", step.Entity)
		}
		if step.Op == OpAddNode {
			return ref.String(), eng.AddNode(ctx, ref.Graph, ref.Node)
		}
		return ref.String(), eng.DelNode(ctx, ref.Graph, ref.Node)

	case OpAddEdge, OpDelEdge:
		ref, _ := ir.ParseEntityRef(step.Entity)
		if ref.Kind != ir.KindEdge {
			return "", fmt.Errorf("%s is not an edge", step.Entity)
		}
		if step.Op == OpAddEdge {
			return ref.String(), eng.AddEdge(ctx, ref.Graph, ref.Node, ref.Dest, ref.Idx)
		}
		return ref.String(), eng.DelEdge(ctx, ref.Graph, ref.Node, ref.Dest, ref.Idx)

	case OpPlan:
		p, err := eng.StartPlan()
		if err != nil {
			return "", err
		}
		h.plans = append(h.plans, p)
		return p.ID(), nil

	case OpCommit, OpDiscard:
		if len(h.plans) == 0 {
			return "", fmt.Errorf("no plan is open")
		}
		p := h.plans[len(h.plans)-1]
		h.plans = h.plans[:len(h.plans)-1]
		if step.Op == OpCommit {
			return p.ID(), p.Commit(ctx)
		}
		return p.ID(), p.Discard()

	case OpHandled:
		ref, _ := ir.ParseEntityRef(step.Entity)
		inserted, err := eng.MarkRuleHandled(ctx, ref, step.Rulebook, step.Rule)
		if err != nil {
			return "", err
		}
		if !inserted {
			return fmt.Sprintf("%s %s/%s already handled", ref, step.Rulebook, step.Rule), nil
		}
		return fmt.Sprintf("%s %s/%s", ref, step.Rulebook, step.Rule), nil

	case OpExpect:
		return h.expect(ctx, step)

	default:
		return "", fmt.Errorf("unknown op %q", step.Op)
	}
}

func (h *Harness) expect(ctx context.Context, step Step) (string, error) {
	ref, _ := ir.ParseEntityRef(step.Entity)
	got, err := h.engine.GetStat(ctx, ref, step.Key)
	if err != nil && !ir.IsUnset(err) {
		return "", err
	}
	if step.Error != "" {
		return fmt.Sprintf("%s %s=%s", ref, step.Key, ir.Format(got)), err
	}
	detail := fmt.Sprintf("%s %s=%s", ref, step.Key, ir.Format(got))

	var want ir.Value
	if !step.Unset {
		if want, err = ir.FromAny(step.Value); err != nil {
			return detail, err
		}
	}
	if !ir.Equal(got, want) {
		return detail, &expectError{msg: fmt.Sprintf("expected %s %s=%s at %s, got %s",
			ref, step.Key, ir.Format(want), h.engine.Now(), ir.Format(got))}
	}
	return detail, nil
}

// ErrorCode names the class of err for traces and expected-error checks.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if code := ir.ErrorCode(err); code != "" {
		return string(code)
	}
	var ce *engine.CommandError
	switch {
	case errors.As(err, &ce):
		return string(ce.Code)
	case ir.IsStorageError(err):
		return "STORAGE"
	case errors.Is(err, engine.ErrPlanning):
		return "PLANNING"
	default:
		return "ERROR"
	}
}
