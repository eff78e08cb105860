package job

import (
	"database/sql"
	"time"

	"github.com/contentplane/governor/errors"
	"github.com/contentplane/governor/internal/util"
)

// Store handles persistence of jobs and their work items.
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, mode, status, daily_quota, start_date, end_date,
       window_start_min, window_end_min, publish_policy,
       last_run_at, next_run_at, created_at, updated_at`

// CreateJob creates a new job. Empty status defaults to SCHEDULED.
func (s *Store) CreateJob(j *Job) error {
	if j.Status == "" {
		j.Status = StatusScheduled
	}
	if j.WindowEnd <= j.WindowStart {
		return errors.NewInvalidStateError(
			"window end (%d min) must be after window start (%d min)", j.WindowEnd, j.WindowStart)
	}
	if j.ID == "" {
		j.ID = util.NewID("job")
	}

	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		j.ID,
		j.Mode,
		j.Status,
		j.DailyQuota,
		nullIfEmpty(j.StartDate),
		nullIfEmpty(j.EndDate),
		j.WindowStart,
		j.WindowEnd,
		j.PublishPolicy,
		nullTime(j.LastRunAt),
		nullTime(j.NextRunAt),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return j, nil
}

// ListJobs returns all jobs, newest first.
func (s *Store) ListJobs() ([]*Job, error) {
	rows, err := s.db.Query(`SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateStatus moves a job to target status, enforcing the lifecycle table.
func (s *Store) UpdateStatus(id, target string) error {
	j, err := s.GetJob(id)
	if err != nil {
		return err
	}

	if !CanTransition(j.Status, target) {
		return TransitionError(j.Status, target)
	}

	return s.setStatus(id, target)
}

// Pause pauses a job, returning the lifecycle rejection reason on failure.
func (s *Store) Pause(id string) error {
	j, err := s.GetJob(id)
	if err != nil {
		return err
	}
	if ok, reason := CanPause(j.Status); !ok {
		return errors.Wrap(errors.ErrInvalidState, reason)
	}
	return s.setStatus(id, StatusPaused)
}

// Resume moves a PAUSED job back to SCHEDULED. The scheduler promotes it to
// RUNNING on its next eligible tick.
func (s *Store) Resume(id string) error {
	j, err := s.GetJob(id)
	if err != nil {
		return err
	}
	if ok, reason := CanResume(j.Status); !ok {
		return errors.Wrap(errors.ErrInvalidState, reason)
	}
	return s.setStatus(id, StatusScheduled)
}

// Cancel soft-cancels a job. This is the required first step before a job
// with active work can be hard-deleted.
func (s *Store) Cancel(id string) error {
	j, err := s.GetJob(id)
	if err != nil {
		return err
	}
	if ok, reason := CanCancel(j.Status); !ok {
		return errors.Wrap(errors.ErrInvalidState, reason)
	}
	return s.setStatus(id, StatusCancelled)
}

// UpdateSchedule edits quota, window, dates, and publish policy. Legal only
// for SCHEDULED or PAUSED jobs.
func (s *Store) UpdateSchedule(id string, dailyQuota, windowStart, windowEnd int, startDate, endDate, publishPolicy string) error {
	j, err := s.GetJob(id)
	if err != nil {
		return err
	}
	if !CanUpdateSchedule(j.Status) {
		return errors.Wrapf(errors.ErrInvalidState,
			"schedule of a %s job cannot be edited; pause it first", j.Status)
	}
	if windowEnd <= windowStart {
		return errors.NewInvalidStateError(
			"window end (%d min) must be after window start (%d min)", windowEnd, windowStart)
	}

	query := `
		UPDATE jobs
		SET daily_quota = ?, window_start_min = ?, window_end_min = ?,
		    start_date = ?, end_date = ?, publish_policy = ?, updated_at = ?
		WHERE id = ?
	`
	_, err = s.db.Exec(query,
		dailyQuota, windowStart, windowEnd,
		nullIfEmpty(startDate), nullIfEmpty(endDate), publishPolicy,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update schedule for job %s", id)
	}
	return nil
}

// HardDelete removes a job and its work items. Refused while the job is
// RUNNING or any owned item is PROCESSING; the error reason names the
// blocking item so the admin surface can display it verbatim.
func (s *Store) HardDelete(id string) error {
	j, err := s.GetJob(id)
	if err != nil {
		return err
	}
	items, err := s.ListWorkItems(id)
	if err != nil {
		return err
	}

	if ok, reason := CanHardDelete(j.Status, items); !ok {
		return errors.Wrap(errors.ErrInvalidState, reason)
	}

	// work_items cascade via FK
	if _, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return errors.Wrapf(err, "failed to delete job %s", id)
	}
	return nil
}

// UpdateJobAfterRun stamps last/next run timestamps after a tick executed
// work for this job.
func (s *Store) UpdateJobAfterRun(id string, lastRun, nextRun time.Time) error {
	result, err := s.db.Exec(`
		UPDATE jobs
		SET last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?
	`, lastRun.UTC().Format(time.RFC3339), nextRun.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s after run", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("job %s", id)
	}
	return nil
}

func (s *Store) setStatus(id, status string) error {
	result, err := s.db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s status", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("job %s", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var startDate, endDate, lastRunAt, nextRunAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&j.ID,
		&j.Mode,
		&j.Status,
		&j.DailyQuota,
		&startDate,
		&endDate,
		&j.WindowStart,
		&j.WindowEnd,
		&j.PublishPolicy,
		&lastRunAt,
		&nextRunAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.StartDate = startDate.String
	j.EndDate = endDate.String

	// Parse timestamps (return error if parsing fails - indicates data corruption or schema mismatch)
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for job %s", j.ID)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for job %s", j.ID)
	}
	if lastRunAt.Valid {
		t, err := time.Parse(time.RFC3339, lastRunAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse last_run_at for job %s", j.ID)
		}
		j.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t, err := time.Parse(time.RFC3339, nextRunAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse next_run_at for job %s", j.ID)
		}
		j.NextRunAt = &t
	}

	return &j, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
