package job

import (
	"database/sql"
	"time"

	"github.com/contentplane/governor/errors"
	"github.com/contentplane/governor/internal/util"
)

const itemColumns = `id, job_id, keyword, status, attempts, last_error, created_at, updated_at`

// AddWorkItems appends keywords to a job's backlog as PENDING items.
func (s *Store) AddWorkItems(jobID string, keywords []string) ([]*WorkItem, error) {
	if _, err := s.GetJob(jobID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	items := make([]*WorkItem, 0, len(keywords))
	for _, kw := range keywords {
		item := &WorkItem{
			ID:        util.NewID("wki"),
			JobID:     jobID,
			Keyword:   kw,
			Status:    ItemPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		_, err := s.db.Exec(`
			INSERT INTO work_items (`+itemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, item.ID, item.JobID, item.Keyword, item.Status, 0, nil,
			now.Format(time.RFC3339), now.Format(time.RFC3339))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to add work item %q", kw)
		}
		items = append(items, item)
	}
	return items, nil
}

// ListWorkItems returns all work items for a job, oldest first.
func (s *Store) ListWorkItems(jobID string) ([]WorkItem, error) {
	rows, err := s.db.Query(`
		SELECT `+itemColumns+`
		FROM work_items
		WHERE job_id = ?
		ORDER BY created_at ASC, id ASC
	`, jobID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list work items for job %s", jobID)
	}
	defer rows.Close()

	var items []WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ClaimNextPending atomically claims the oldest PENDING work item belonging
// to a schedulable job (SCHEDULED or RUNNING) and marks it PROCESSING.
// Returns nil when the backlog is empty.
func (s *Store) ClaimNextPending() (*WorkItem, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin claim transaction")
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT `+prefixedItemColumns("w")+`
		FROM work_items w
		JOIN jobs j ON j.id = w.job_id
		WHERE w.status = ? AND j.status IN (?, ?)
		ORDER BY w.created_at ASC, w.id ASC
		LIMIT 1
	`, ItemPending, StatusScheduled, StatusRunning)

	item, err := scanWorkItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to select next pending work item")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.Exec(`
		UPDATE work_items
		SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ?
	`, ItemProcessing, now, item.ID); err != nil {
		return nil, errors.Wrapf(err, "failed to claim work item %s", item.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit claim")
	}

	item.Status = ItemProcessing
	item.Attempts++
	return item, nil
}

// PeekNextPending returns the item ClaimNextPending would claim, without
// claiming it. Used by dry-run ticks to report the topic they would process.
func (s *Store) PeekNextPending() (*WorkItem, error) {
	row := s.db.QueryRow(`
		SELECT `+prefixedItemColumns("w")+`
		FROM work_items w
		JOIN jobs j ON j.id = w.job_id
		WHERE w.status = ? AND j.status IN (?, ?)
		ORDER BY w.created_at ASC, w.id ASC
		LIMIT 1
	`, ItemPending, StatusScheduled, StatusRunning)

	item, err := scanWorkItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to peek next pending work item")
	}
	return item, nil
}

// HasOpenItems reports whether the job still has PENDING or PROCESSING
// items. The scheduler completes a job once its backlog drains.
func (s *Store) HasOpenItems(jobID string) (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM work_items
		WHERE job_id = ? AND status IN (?, ?)
	`, jobID, ItemPending, ItemProcessing).Scan(&count)
	if err != nil {
		return false, errors.Wrapf(err, "failed to count open items for job %s", jobID)
	}
	return count > 0, nil
}

// MarkItem finalizes a work item's status, recording the error for failures.
func (s *Store) MarkItem(id, status, lastError string) error {
	result, err := s.db.Exec(`
		UPDATE work_items
		SET status = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, status, nullIfEmpty(lastError), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrapf(err, "failed to mark work item %s", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("work item %s", id)
	}
	return nil
}

// RetryItem puts a FAILED or SKIPPED item back into the backlog.
func (s *Store) RetryItem(id string) error {
	item, err := s.getWorkItem(id)
	if err != nil {
		return err
	}
	if item.Status != ItemFailed && item.Status != ItemSkipped {
		return errors.Wrapf(errors.ErrInvalidState,
			"only FAILED or SKIPPED items can be retried, item %s is %s", id, item.Status)
	}
	return s.MarkItem(id, ItemPending, "")
}

// SkipItem removes an item from the backlog without processing it.
func (s *Store) SkipItem(id string) error {
	item, err := s.getWorkItem(id)
	if err != nil {
		return err
	}
	if item.Status != ItemPending && item.Status != ItemFailed {
		return errors.Wrapf(errors.ErrInvalidState,
			"only PENDING or FAILED items can be skipped, item %s is %s", id, item.Status)
	}
	return s.MarkItem(id, ItemSkipped, "")
}

func (s *Store) getWorkItem(id string) (*WorkItem, error) {
	row := s.db.QueryRow(`SELECT `+itemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := scanWorkItem(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("work item %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get work item %s", id)
	}
	return item, nil
}

func scanWorkItem(row scanner) (*WorkItem, error) {
	var item WorkItem
	var lastError sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&item.ID,
		&item.JobID,
		&item.Keyword,
		&item.Status,
		&item.Attempts,
		&lastError,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.LastError = lastError.String
	if item.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for work item %s", item.ID)
	}
	if item.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for work item %s", item.ID)
	}
	return &item, nil
}

func prefixedItemColumns(alias string) string {
	return alias + ".id, " + alias + ".job_id, " + alias + ".keyword, " + alias + ".status, " +
		alias + ".attempts, " + alias + ".last_error, " + alias + ".created_at, " + alias + ".updated_at"
}
