// Package store provides SQLite-backed durable storage for temporal facts.
//
// The store is an append-only log with:
//   - Facts: one row per (entity, key, branch, turn, tick, seq); NULL value is a tombstone
//   - Branches: fork points and high-water marks, upserted on commit
//   - Handled rules: one row per (entity, rulebook, rule, branch, turn)
//   - Globals: the saved cursor
//   - Keyframes: full snapshots of live facts with their digest
//
// # Critical Patterns
//
// Idempotent appends
//   - PRIMARY KEY over the full coordinate plus seq, inserted with ON CONFLICT DO NOTHING
//   - Replaying the same write twice leaves one row
//
// Logical time
//   - All ordering uses seq INTEGER (the engine's logical clock), never timestamps
//   - When two rows share a coordinate the larger seq wins
//
// Deterministic query results
//   - Every multi-row query has a total ORDER BY
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Values are stored as RFC 8785 canonical JSON produced by ir.EncodeValue.
package store
