package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrateCreatesSchema(t *testing.T) {
	conn := openMemory(t)

	require.NoError(t, Migrate(conn, nil))

	for _, table := range []string{"jobs", "work_items", "scheduler_runs", "actions", "action_traces", "action_audit", "rate_limit_counters"} {
		var name string
		err := conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn := openMemory(t)

	require.NoError(t, Migrate(conn, nil))
	require.NoError(t, Migrate(conn, nil))

	var count int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 5, count)
}

func TestSingleRunningRunConstraint(t *testing.T) {
	conn := openMemory(t)
	require.NoError(t, Migrate(conn, nil))

	_, err := conn.Exec(`INSERT INTO scheduler_runs (id, run_date, status, started_at) VALUES ('run_a', '2026-08-30', 'running', '2026-08-30T09:00:00Z')`)
	require.NoError(t, err)

	// Second running row violates the partial unique index
	_, err = conn.Exec(`INSERT INTO scheduler_runs (id, run_date, status, started_at) VALUES ('run_b', '2026-08-30', 'running', '2026-08-30T09:00:05Z')`)
	assert.Error(t, err)

	// A finalized row is fine
	_, err = conn.Exec(`INSERT INTO scheduler_runs (id, run_date, status, started_at) VALUES ('run_c', '2026-08-30', 'done', '2026-08-30T08:00:00Z')`)
	assert.NoError(t, err)
}
