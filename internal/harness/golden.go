package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// FormatTrace renders a run as stable text: one line per step, then one
// line per delivered change.
//
//	scenario: fork_visibility
//	steps:
//	  1 set trunk@0.0 world/hero hp=10
//	  2 travel trunk@2.0
//	changes:
//	  world/hero hp=10 at trunk@0.0
func FormatTrace(name string, result *Result) []byte {
	var buf strings.Builder
	fmt.Fprintf(&buf, "scenario: %s\n", name)
	buf.WriteString("steps:\n")
	for _, line := range traceLines(result.Trace) {
		fmt.Fprintf(&buf, "  %s\n", line)
	}
	buf.WriteString("changes:\n")
	for _, line := range result.Changes {
		fmt.Fprintf(&buf, "  %s\n", line)
	}
	return []byte(buf.String())
}

func traceLines(trace []TraceEvent) []string {
	out := make([]string, len(trace))
	for i, ev := range trace {
		line := fmt.Sprintf("%d %s %s", ev.Step, ev.Op, ev.Now)
		if ev.Detail != "" {
			line += " " + ev.Detail
		}
		if ev.Error != "" {
			line += " !" + ev.Error
		}
		out[i] = line
	}
	return out
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, FormatTrace(name, result))
}
