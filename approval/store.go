package approval

import (
	"database/sql"
	"time"

	"github.com/contentplane/governor/errors"
	"github.com/contentplane/governor/internal/util"
)

// Store handles persistence of actions, traces, and the audit log.
type Store struct {
	db *sql.DB
}

// NewStore creates a new approval store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const actionColumns = `id, action_type, action_name, target_ref, status,
       requester, approver, decision_reason, idempotency_key, execution_result,
       requested_at, approved_at, executed_at, created_at, updated_at`

// CreateAction inserts a PENDING action together with its traces in one
// transaction, so a proposal is never visible without its evidence.
func (s *Store) CreateAction(a *Action, traces []Trace) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin proposal transaction")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = util.NewID("act")
	}
	a.Status = StatusPending
	a.RequestedAt = now
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err = tx.Exec(`
		INSERT INTO actions (`+actionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ActionType, a.ActionName, a.TargetRef, a.Status,
		a.Requester, nil, nil, nil, nil,
		now.Format(time.RFC3339), nil, nil,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return errors.Wrap(err, "failed to create action")
	}

	for i := range traces {
		traces[i].ID = util.NewID("trc")
		traces[i].ActionID = a.ID
		traces[i].Ordinal = i
		traces[i].CreatedAt = now

		_, err = tx.Exec(`
			INSERT INTO action_traces (id, action_id, ordinal, insight_key, metric_key, metric_value, explanation, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, traces[i].ID, a.ID, i, traces[i].InsightKey, traces[i].MetricKey,
			traces[i].MetricValue, traces[i].Explanation, now.Format(time.RFC3339))
		if err != nil {
			return errors.Wrapf(err, "failed to record trace %d", i)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit proposal")
}

// GetAction retrieves an action by ID.
func (s *Store) GetAction(id string) (*Action, error) {
	row := s.db.QueryRow(`SELECT `+actionColumns+` FROM actions WHERE id = ?`, id)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("action %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get action %s", id)
	}
	return a, nil
}

// ListTraces returns an action's traces in proposal order.
func (s *Store) ListTraces(actionID string) ([]Trace, error) {
	rows, err := s.db.Query(`
		SELECT id, action_id, ordinal, insight_key, metric_key, metric_value, explanation, created_at
		FROM action_traces
		WHERE action_id = ?
		ORDER BY ordinal ASC
	`, actionID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list traces for action %s", actionID)
	}
	defer rows.Close()

	var traces []Trace
	for rows.Next() {
		var tr Trace
		var createdAt string
		if err := rows.Scan(&tr.ID, &tr.ActionID, &tr.Ordinal, &tr.InsightKey,
			&tr.MetricKey, &tr.MetricValue, &tr.Explanation, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan trace")
		}
		if tr.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, errors.Wrapf(err, "failed to parse created_at for trace %s", tr.ID)
		}
		traces = append(traces, tr)
	}
	return traces, rows.Err()
}

// Decide moves a PENDING action to APPROVED or REJECTED via a conditional
// update; a lost race (the action is no longer PENDING) fails with
// InvalidState.
func (s *Store) Decide(id, approver, status, reason string, at time.Time) error {
	var approvedAt interface{}
	if status == StatusApproved {
		approvedAt = at.UTC().Format(time.RFC3339)
	}

	result, err := s.db.Exec(`
		UPDATE actions
		SET status = ?, approver = ?, decision_reason = ?, approved_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, status, approver, nullIfEmpty(reason), approvedAt,
		at.UTC().Format(time.RFC3339), id, StatusPending)
	if err != nil {
		return errors.Wrapf(err, "failed to decide action %s", id)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		current, getErr := s.GetAction(id)
		if getErr != nil {
			return getErr
		}
		return errors.Wrapf(errors.ErrInvalidState,
			"only PENDING actions can be decided, action %s is %s", id, current.Status)
	}
	return nil
}

// MarkExecuted is the atomic core of execution: a compare-and-swap from
// APPROVED to EXECUTED inside one transaction. Exactly one of any number of
// concurrent callers observes rowsAffected == 1; the rest fail with
// ConflictingState and re-read.
func (s *Store) MarkExecuted(id, idempotencyKey, result string, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin execution transaction")
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE actions
		SET status = ?, idempotency_key = ?, execution_result = ?, executed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, StatusExecuted, nullIfEmpty(idempotencyKey), nullIfEmpty(result),
		at.UTC().Format(time.RFC3339), at.UTC().Format(time.RFC3339),
		id, StatusApproved)
	if err != nil {
		return errors.Wrapf(err, "failed to execute action %s", id)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrConflictingState,
			"action %s was not APPROVED at execution time", id)
	}

	return errors.Wrap(tx.Commit(), "failed to commit execution")
}

// WriteAudit appends one immutable audit record. Callers treat failures as
// non-fatal: the state change the record describes has already committed.
func (s *Store) WriteAudit(rec *AuditRecord) error {
	if rec.ID == "" {
		rec.ID = util.NewID("aud")
	}
	_, err := s.db.Exec(`
		INSERT INTO action_audit (id, action_id, actor, before_status, after_status, idempotency_key, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.ActionID, rec.Actor, rec.BeforeStatus, rec.AfterStatus,
		nullIfEmpty(rec.IdempotencyKey), rec.RecordedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "failed to write audit record for action %s", rec.ActionID)
	}
	return nil
}

// ListAudit returns the audit trail for an action, oldest first.
func (s *Store) ListAudit(actionID string) ([]AuditRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, action_id, actor, before_status, after_status, idempotency_key, recorded_at
		FROM action_audit
		WHERE action_id = ?
		ORDER BY recorded_at ASC
	`, actionID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list audit for action %s", actionID)
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var key sql.NullString
		var recordedAt string
		if err := rows.Scan(&rec.ID, &rec.ActionID, &rec.Actor, &rec.BeforeStatus,
			&rec.AfterStatus, &key, &recordedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan audit record")
		}
		rec.IdempotencyKey = key.String
		if rec.RecordedAt, err = time.Parse(time.RFC3339, recordedAt); err != nil {
			return nil, errors.Wrapf(err, "failed to parse recorded_at for audit %s", rec.ID)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row scanner) (*Action, error) {
	var a Action
	var approver, decisionReason, idempotencyKey, executionResult sql.NullString
	var approvedAt, executedAt sql.NullString
	var requestedAt, createdAt, updatedAt string

	err := row.Scan(
		&a.ID,
		&a.ActionType,
		&a.ActionName,
		&a.TargetRef,
		&a.Status,
		&a.Requester,
		&approver,
		&decisionReason,
		&idempotencyKey,
		&executionResult,
		&requestedAt,
		&approvedAt,
		&executedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Approver = approver.String
	a.DecisionReason = decisionReason.String
	a.IdempotencyKey = idempotencyKey.String
	a.ExecutionResult = executionResult.String

	if a.RequestedAt, err = time.Parse(time.RFC3339, requestedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse requested_at for action %s", a.ID)
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for action %s", a.ID)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for action %s", a.ID)
	}
	if approvedAt.Valid {
		t, err := time.Parse(time.RFC3339, approvedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse approved_at for action %s", a.ID)
		}
		a.ApprovedAt = &t
	}
	if executedAt.Valid {
		t, err := time.Parse(time.RFC3339, executedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse executed_at for action %s", a.ID)
		}
		a.ExecutedAt = &t
	}

	return &a, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
