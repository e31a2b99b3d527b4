// Package harness runs scripted timeline scenarios against a fresh engine
// and checks what they observe.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: fork_visibility
//	description: "A child branch sees its parent only up to the fork"
//	watch:
//	  - { entity: world/hero, key: hp }
//	steps:
//	  - { op: set, entity: world/hero, key: hp, value: 10 }
//	  - { op: travel, turn: 2 }
//	  - { op: branch, branch: alt, turn: 1 }
//	  - { op: travel, branch: alt, turn: 2 }
//	  - { op: expect, entity: world/hero, key: hp, value: 10 }
//	  - { op: expect, entity: world/hero, key: mp, unset: true }
//	assertions:
//	  - type: change_count
//	    count: 1
//	  - type: final_state
//	    entity: world/hero
//	    expect: { hp: 10 }
//
// Any step may name the error code it must fail with in "error".
//
// # Step Ops
//
//   - travel, next_tick, next_turn: move the cursor
//   - branch: fork Branch from Parent (default: current) at Turn.Tick
//   - set, del: write or delete Entity.Key
//   - add_node, del_node, add_edge, del_edge: graph structure
//   - plan, commit, discard: open and close plan scopes (innermost first)
//   - handled: mark Rulebook/Rule handled for Entity
//   - expect: check the value of Entity.Key at the cursor
//
// # Assertion Types
//
//   - changes: the delivered changes, one line each, in order
//   - change_count: the number of delivered changes
//   - final_state: the live stats of an entity at the final cursor
//   - handled: a rule is recorded as handled in (Branch, Turn)
//
// # Deterministic Testing
//
// Every run gets its own in-memory backend and a sequence plan id
// generator, so identical scenarios produce identical traces. RunWithGolden
// compares a run's trace against testdata/golden.
package harness
