// Package job provides the content job model, its lifecycle state machine,
// and persistence.
package job

import "time"

// Job represents a scheduled content-production unit.
type Job struct {
	ID            string
	Mode          string // content category: evergreen | seasonal
	Status        string
	DailyQuota    int
	StartDate     string // YYYY-MM-DD, empty when open-ended
	EndDate       string
	WindowStart   int // minutes-of-day, inclusive
	WindowEnd     int // minutes-of-day, exclusive; always > WindowStart
	PublishPolicy string
	LastRunAt     *time.Time
	NextRunAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Job status constants
const (
	StatusScheduled = "SCHEDULED"
	StatusRunning   = "RUNNING"
	StatusPaused    = "PAUSED"
	StatusCancelled = "CANCELLED"
	StatusCompleted = "COMPLETED"
)

// Publish policies
const (
	PublishAuto        = "auto"
	PublishDraft       = "draft"
	PublishQualityGate = "quality_gate"
)

// Content modes
const (
	ModeEvergreen = "evergreen"
	ModeSeasonal  = "seasonal"
)

// WorkItem is one keyword owned by a job, with its own sub-status.
type WorkItem struct {
	ID        string
	JobID     string
	Keyword   string
	Status    string
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkItem status constants
const (
	ItemPending    = "PENDING"
	ItemProcessing = "PROCESSING"
	ItemDone       = "DONE"
	ItemFailed     = "FAILED"
	ItemSkipped    = "SKIPPED"
)
