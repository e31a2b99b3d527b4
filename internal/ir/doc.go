// Package ir provides the foundational types shared by every tempograph package.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps ir the bottom layer with
// no circular dependencies.
//
// Key design constraints:
//   - NO float types in fact values - use Int for numbers so replays are exact
//   - Time is (branch, turn, tick); ordering within a branch is (turn, tick)
//   - Deletion is a tombstone in history, never a physical removal
//   - All JSON tags use snake_case
package ir
