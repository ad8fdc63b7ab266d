// Package operations admits, runs and tracks extraction jobs.
//
// At most one job is active (pending or running) at any time. Admission is
// enforced by the JobStore: TryAdmit atomically refuses a new job while
// another is active, so the invariant holds for every store backend, not
// only within one process.
//
// Core Components:
//
// Manager: accepts submissions, launches each admitted job on its own
// goroutine detached from the request, and records the outcome.
//
// Pipeline: the job body. ExtractionPipeline sequences session, login,
// report navigation, the per-location loop, aggregation and export. Session,
// login and navigation failures are fatal; per-location failures are recorded
// in the result and the job still completes.
//
// JobStore: persistence with legal status transitions only
// (pending -> running -> completed | failed). Memory, Redis and SQLite
// implementations share one contract.
//
// StatusBroadcaster: pushes job snapshots to websocket clients.
package operations
