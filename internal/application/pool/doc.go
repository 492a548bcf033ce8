// Package pool implements the bounded worker pool.
//
// The pool owns the worker set and mediates every worker status transition:
//   - Spawn/Terminate bound the number of active (idle+working) workers
//   - AssignWork/CompleteWork move workers between idle and working
//   - Pause/Resume, ReportError and UpdateMetrics mutate a single worker
//
// Read-modify-write sequences on one worker are serialized per worker id,
// so concurrent metric deltas never lose updates. Durable writes to the
// worker store happen outside the critical section.
package pool
