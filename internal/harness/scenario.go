package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tempograph/internal/config"
	"github.com/roach88/tempograph/internal/ir"
)

// Scenario is a scripted run against a fresh engine.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// Root is the root branch id. Defaults to "trunk".
	Root string `yaml:"root,omitempty"`

	// PlanMode is what closing a plan without commit or discard does.
	PlanMode config.PlanMode `yaml:"plan_mode,omitempty"`

	// Watch lists the keys whose changes are recorded.
	Watch []Watch `yaml:"watch,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Watch names one subscribed (entity, key).
type Watch struct {
	Entity string `yaml:"entity"`
	Key    string `yaml:"key"`
}

// Step is one engine operation. Which fields apply depends on Op.
type Step struct {
	Op       string `yaml:"op"`
	Branch   string `yaml:"branch,omitempty"`
	Parent   string `yaml:"parent,omitempty"`
	Turn     int64  `yaml:"turn,omitempty"`
	Tick     int64  `yaml:"tick,omitempty"`
	Entity   string `yaml:"entity,omitempty"`
	Key      string `yaml:"key,omitempty"`
	Value    any    `yaml:"value,omitempty"`
	Unset    bool   `yaml:"unset,omitempty"`
	Rulebook string `yaml:"rulebook,omitempty"`
	Rule     string `yaml:"rule,omitempty"`

	// Error is the error code the step must fail with, if any.
	Error string `yaml:"error,omitempty"`
}

// Step ops.
const (
	OpTravel   = "travel"
	OpNextTick = "next_tick"
	OpNextTurn = "next_turn"
	OpBranch   = "branch"
	OpSet      = "set"
	OpDel      = "del"
	OpAddGraph = "add_graph"
	OpDelGraph = "del_graph"
	OpAddNode  = "add_node"
	OpDelNode  = "del_node"
	OpAddEdge  = "add_edge"
	OpDelEdge  = "del_edge"
	OpPlan     = "plan"
	OpCommit   = "commit"
	OpDiscard  = "discard"
	OpHandled  = "handled"
	OpExpect   = "expect"
)

// Assertion checks the state after the last step.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Lines are the expected change lines (changes).
	Lines []string `yaml:"lines,omitempty"`

	// Count is the expected number of changes (change_count).
	Count int `yaml:"count,omitempty"`

	// Entity and Expect describe a final state (final_state). Expect must
	// match the entity's live stats exactly.
	Entity string         `yaml:"entity,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	// Rulebook, Rule, Branch and Turn name a handled record (handled).
	Rulebook string `yaml:"rulebook,omitempty"`
	Rule     string `yaml:"rule,omitempty"`
	Branch   string `yaml:"branch,omitempty"`
	Turn     int64  `yaml:"turn,omitempty"`
}

// Assertion types.
const (
	AssertChanges     = "changes"
	AssertChangeCount = "change_count"
	AssertFinalState  = "final_state"
	AssertHandled     = "handled"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	switch s.PlanMode {
	case "", config.PlanDiscard, config.PlanCommit:
	default:
		return fmt.Errorf("plan_mode %q is not discard or commit", s.PlanMode)
	}

	for i, w := range s.Watch {
		if _, err := ir.ParseEntityRef(w.Entity); err != nil {
			return fmt.Errorf("watch[%d]: %w", i, err)
		}
		if w.Key == "" {
			return fmt.Errorf("watch[%d]: key is required", i)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	needEntity := func() error {
		if step.Entity == "" {
			return fmt.Errorf("%s: entity is required", step.Op)
		}
		_, err := ir.ParseEntityRef(step.Entity)
		return err
	}
	needKey := func() error {
		if err := needEntity(); err != nil {
			return err
		}
		if step.Key == "" {
			return fmt.Errorf("%s: key is required", step.Op)
		}
		return nil
	}

	switch step.Op {
	case OpTravel, OpNextTick, OpNextTurn, OpPlan, OpCommit, OpDiscard:
		return nil
	case OpBranch:
		if step.Branch == "" {
			return fmt.Errorf("branch: branch is required")
		}
		return nil
	case OpSet:
		if err := needKey(); err != nil {
			return err
		}
		if step.Value == nil {
			return fmt.Errorf("set: value is required")
		}
		return nil
	case OpDel:
		return needKey()
	case OpExpect:
		if err := needKey(); err != nil {
			return err
		}
		if step.Error == "" && step.Unset == (step.Value != nil) {
			return fmt.Errorf("expect: exactly one of value or unset is required")
		}
		return nil
	case OpAddGraph, OpDelGraph, OpAddNode, OpDelNode, OpAddEdge, OpDelEdge:
		return needEntity()
	case OpHandled:
		if err := needEntity(); err != nil {
			return err
		}
		if step.Rulebook == "" || step.Rule == "" {
			return fmt.Errorf("handled: rulebook and rule are required")
		}
		return nil
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertChanges, AssertChangeCount:
		return nil
	case AssertFinalState:
		if a.Entity == "" {
			return fmt.Errorf("final_state: entity is required")
		}
		_, err := ir.ParseEntityRef(a.Entity)
		return err
	case AssertHandled:
		if a.Entity == "" || a.Rulebook == "" || a.Rule == "" || a.Branch == "" {
			return fmt.Errorf("handled: entity, rulebook, rule and branch are required")
		}
		return nil
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}
