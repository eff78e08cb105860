// Package scheduler implements the tick-driven execution loop and its
// append-only run records.
package scheduler

// Run represents a single invocation of the scheduler loop.
//
// Each tick that passes the gating checks creates a Run record to track:
// - Timing (started_at, finished_at)
// - Status (running, done, failed)
// - Planned vs executed work counts for daily quota accounting
// - A free-form execution log (JSON)
//
// The existence of a row with status "running" is the mutual-exclusion lock
// against overlapping ticks. Runs are append-only audit records: once
// finalized they are never updated again.
type Run struct {
	// Identity
	ID      string `json:"id"`
	RunDate string `json:"run_date"` // YYYY-MM-DD, UTC

	// Work accounting
	PlannedCount  int `json:"planned_count"`
	ExecutedCount int `json:"executed_count"`

	// Status
	Status string `json:"status"` // "running", "done", "failed"

	// Output capture
	Log *string `json:"log,omitempty"` // free-form JSON

	// Timing
	StartedAt  string  `json:"started_at"`            // RFC3339 timestamp
	FinishedAt *string `json:"finished_at,omitempty"` // RFC3339 timestamp (null while running)
}

// Run status constants for type safety
const (
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)
