package job

import (
	"fmt"

	"github.com/contentplane/governor/errors"
)

// transitions is the job lifecycle table. COMPLETED and CANCELLED are
// terminal and have no outgoing edges.
var transitions = map[string][]string{
	StatusScheduled: {StatusRunning, StatusPaused, StatusCancelled},
	StatusRunning:   {StatusPaused, StatusCompleted, StatusCancelled},
	StatusPaused:    {StatusScheduled, StatusRunning, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

// CanTransition reports whether current -> target is a legal lifecycle
// transition. Pure function; callers check it before any persistence.
func CanTransition(current, target string) bool {
	for _, allowed := range transitions[current] {
		if allowed == target {
			return true
		}
	}
	return false
}

// TransitionError builds the ConflictingState error for an illegal
// transition, naming both states.
func TransitionError(current, target string) error {
	return errors.Wrapf(errors.ErrConflictingState,
		"cannot transition job from %s to %s", current, target)
}

// CanUpdateSchedule reports whether schedule fields (quota, window, dates)
// may be edited in the given status. Only SCHEDULED and PAUSED jobs may be
// edited; changing a quota or time window under a running job would
// invalidate the gating decisions already made this tick.
func CanUpdateSchedule(current string) bool {
	return current == StatusScheduled || current == StatusPaused
}

// CanHardDelete reports whether a job may be hard-deleted given its status
// and its owned work items. When false, the reason names what blocks the
// delete; the caller must soft-cancel first and retry.
func CanHardDelete(current string, items []WorkItem) (bool, string) {
	if current == StatusRunning {
		return false, "job is RUNNING; cancel it before deleting"
	}
	for _, item := range items {
		if item.Status == ItemProcessing {
			return false, fmt.Sprintf("work item %s (%q) is PROCESSING; cancel the job and wait for the item to settle", item.ID, item.Keyword)
		}
	}
	return true, ""
}

// CanPause reports whether the job may be paused, with a user-facing reason
// when it may not.
func CanPause(current string) (bool, string) {
	if CanTransition(current, StatusPaused) {
		return true, ""
	}
	return false, fmt.Sprintf("job in status %s cannot be paused", current)
}

// CanResume reports whether the job may be resumed. Resume targets
// SCHEDULED; the scheduler promotes it to RUNNING on its next eligible tick.
func CanResume(current string) (bool, string) {
	if current != StatusPaused {
		return false, fmt.Sprintf("only PAUSED jobs can be resumed, job is %s", current)
	}
	return true, ""
}

// CanCancel reports whether the job may be cancelled, with a user-facing
// reason when it may not.
func CanCancel(current string) (bool, string) {
	if CanTransition(current, StatusCancelled) {
		return true, ""
	}
	return false, fmt.Sprintf("job in status %s cannot be cancelled", current)
}
