// Package engine is the single-writer core of tempograph.
//
// An Engine owns the cursor, the branch index, the temporal cache, the
// change dispatcher, the plan manager and the persistence backend. Every
// read and write of a fact goes through it.
//
// # Single writer
//
// The engine is not safe for concurrent use. Callers on one goroutine use
// it directly; callers on many goroutines submit requests through a Client
// while one goroutine runs Serve. Serve handles requests one at a time, in
// the order they were queued.
//
// # Write path
//
// A direct write is persisted first, then applied to the cache, then
// dispatched if the observed value changed. A failed append leaves memory
// untouched and returns an *ir.StorageError. Each write is stamped with the
// next value of the logical Clock; when two rows share a coordinate the
// larger seq wins on reload.
//
// # Plans
//
// Writes made while a plan is active are staged in the plan and neither
// persisted nor dispatched. Committing replays them through the write path
// in the order they were made. Closing the outermost plan scope returns the
// cursor to where the plan started.
package engine
