package ratelimit

import (
	"database/sql"

	"github.com/contentplane/governor/errors"
)

// SQLStore is the shared counter store backing multiple limiter instances
// with one sqlite table. The upsert makes increment-and-read a single atomic
// statement.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a sqlite-backed counter store.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Increment bumps the counter for one fixed window and returns the new count.
func (s *SQLStore) Increment(scope, identifier string, windowStartMs, windowMs int64) (int, error) {
	var count int
	err := s.db.QueryRow(`
		INSERT INTO rate_limit_counters (scope, identifier, window_start_ms, count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (scope, identifier, window_start_ms)
		DO UPDATE SET count = count + 1
		RETURNING count
	`, scope, identifier, windowStartMs).Scan(&count)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to increment counter for %s/%s", scope, identifier)
	}
	return count, nil
}

// Sweep deletes counters whose window ended before cutoffMs. Called
// periodically by the daemon; the table stays small either way because
// windows are short.
func (s *SQLStore) Sweep(cutoffMs int64) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM rate_limit_counters WHERE window_start_ms < ?
	`, cutoffMs)
	if err != nil {
		return 0, errors.Wrap(err, "failed to sweep expired rate limit counters")
	}
	return result.RowsAffected()
}
