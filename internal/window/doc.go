// Package window stores the history of a single value along one axis of time.
//
// A Dict maps revision numbers to values and answers "what was in effect
// at revision r" with the entry at the greatest stored revision <= r.
// It keeps a cursor so that the common access pattern, a clock moving
// forward one step at a time, costs O(1) per lookup.
//
// A TurnDict composes two Dicts to index one branch by (turn, tick).
//
// Deletions are tombstone entries. A lookup distinguishes "never set"
// (ir.Absent) from "set, then deleted" (ir.Deleted).
//
// Neither type is safe for concurrent use; the engine owns them from a
// single goroutine.
package window
