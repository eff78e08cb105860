package scheduler

import (
	"database/sql"
	"strings"
	"time"

	"github.com/contentplane/governor/errors"
	"github.com/contentplane/governor/internal/util"
)

// RunStore handles persistence of scheduler runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new run store.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// BeginRun atomically creates a new running Run, failing with
// ConflictingState when another run is already in progress. The insert is a
// single conditional statement, so two concurrent schedulers cannot both
// acquire the lock; the partial unique index on status='running' backstops
// it at the schema level.
func (s *RunStore) BeginRun(now time.Time, plannedCount int) (*Run, error) {
	run := &Run{
		ID:            util.NewID("run"),
		RunDate:       now.UTC().Format("2006-01-02"),
		PlannedCount:  plannedCount,
		ExecutedCount: 0,
		Status:        RunStatusRunning,
		StartedAt:     now.UTC().Format(time.RFC3339),
	}

	result, err := s.db.Exec(`
		INSERT INTO scheduler_runs (id, run_date, planned_count, executed_count, status, started_at)
		SELECT ?, ?, ?, 0, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM scheduler_runs WHERE status = ?)
	`, run.ID, run.RunDate, run.PlannedCount, RunStatusRunning, run.StartedAt, RunStatusRunning)
	if err != nil {
		// The unique partial index can still fire under a true race
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, errors.Wrap(errors.ErrConflictingState, "a scheduler run is already in progress")
		}
		return nil, errors.Wrap(err, "failed to begin scheduler run")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return nil, errors.Wrap(errors.ErrConflictingState, "a scheduler run is already in progress")
	}

	return run, nil
}

// FinalizeRun marks a running Run as done or failed. Finalized runs are
// append-only: a second finalize fails with InvalidState.
func (s *RunStore) FinalizeRun(id, status string, executedCount int, log string, finishedAt time.Time) error {
	if status != RunStatusDone && status != RunStatusFailed {
		return errors.NewInvalidStateError("run can only be finalized to done or failed, got %q", status)
	}

	var logVal interface{}
	if log != "" {
		logVal = log
	}

	result, err := s.db.Exec(`
		UPDATE scheduler_runs
		SET status = ?, executed_count = ?, log = ?, finished_at = ?
		WHERE id = ? AND status = ?
	`, status, executedCount, logVal, finishedAt.UTC().Format(time.RFC3339), id, RunStatusRunning)
	if err != nil {
		return errors.Wrapf(err, "failed to finalize run %s", id)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrInvalidState, "run %s is not running; finalized runs are immutable", id)
	}
	return nil
}

// GetRunningRun returns the currently running Run, or nil when none exists.
func (s *RunStore) GetRunningRun() (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, run_date, planned_count, executed_count, status, log, started_at, finished_at
		FROM scheduler_runs
		WHERE status = ?
	`, RunStatusRunning)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get running run")
	}
	return run, nil
}

// GetRun retrieves a Run by ID.
func (s *RunStore) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, run_date, planned_count, executed_count, status, log, started_at, finished_at
		FROM scheduler_runs
		WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("scheduler run %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get run %s", id)
	}
	return run, nil
}

// ExecutedCountForDate sums executed work across all runs on the given
// calendar date. The daily quota gate compares against this; the sum is
// monotonically non-decreasing within a day because runs are append-only.
func (s *RunStore) ExecutedCountForDate(date string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(executed_count), 0)
		FROM scheduler_runs
		WHERE run_date = ?
	`, date).Scan(&count)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count executions for %s", date)
	}
	return count, nil
}

// ListRunsForDate returns all runs for a calendar date, oldest first.
func (s *RunStore) ListRunsForDate(date string) ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT id, run_date, planned_count, executed_count, status, log, started_at, finished_at
		FROM scheduler_runs
		WHERE run_date = ?
		ORDER BY started_at ASC
	`, date)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list runs for %s", date)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var log, finishedAt sql.NullString

	err := row.Scan(
		&run.ID,
		&run.RunDate,
		&run.PlannedCount,
		&run.ExecutedCount,
		&run.Status,
		&log,
		&run.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if log.Valid {
		run.Log = &log.String
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.String
	}
	return &run, nil
}
