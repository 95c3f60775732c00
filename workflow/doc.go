// Package workflow is the stage controller for PowerShell script analysis.
//
// A workflow moves through ANALYZE -> TOOLS -> SYNTHESIS, with a
// HUMAN_REVIEW detour when the caller asked for review or the security scan
// reports a critical risk, and ends in COMPLETED, FAILED or CANCELLED. The
// reasoning model decides which tools to run in each ANALYZE step; the TOOLS
// step fans them out concurrently; SYNTHESIS produces the final response.
//
// Every transition is persisted as a checkpoint keyed by thread id, so a
// paused or interrupted workflow resumes from its last durable state. The
// checkpoint store's per-thread compare-and-swap guarantees at most one
// mutation wins per thread; the loser observes ErrThreadBusy.
//
// AnalyzeBatch runs independent analyses under a bounded worker pool.
package workflow
