package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentplane/governor/errors"
	govtest "github.com/contentplane/governor/internal/testing"
)

func TestBeginRunAcquiresLock(t *testing.T) {
	store := NewRunStore(govtest.CreateTestDB(t))
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	run, err := store.BeginRun(now, 1)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.Equal(t, "2026-08-30", run.RunDate)
	assert.Equal(t, 1, run.PlannedCount)

	// Second begin loses the lock
	_, err = store.BeginRun(now.Add(time.Second), 1)
	require.Error(t, err)
	assert.True(t, errors.IsConflictingState(err))

	// Finalizing releases it
	require.NoError(t, store.FinalizeRun(run.ID, RunStatusDone, 1, `{"topic":"x"}`, now.Add(time.Minute)))
	_, err = store.BeginRun(now.Add(2*time.Minute), 1)
	assert.NoError(t, err)
}

func TestFinalizeRunIsAppendOnly(t *testing.T) {
	store := NewRunStore(govtest.CreateTestDB(t))
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	run, err := store.BeginRun(now, 1)
	require.NoError(t, err)
	require.NoError(t, store.FinalizeRun(run.ID, RunStatusFailed, 0, `{"error":"boom"}`, now))

	// A finalized run can never change again
	err = store.FinalizeRun(run.ID, RunStatusDone, 1, "", now)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))

	got, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	require.NotNil(t, got.Log)
	assert.Contains(t, *got.Log, "boom")
}

func TestFinalizeRunRejectsBadStatus(t *testing.T) {
	store := NewRunStore(govtest.CreateTestDB(t))
	now := time.Now().UTC()

	run, err := store.BeginRun(now, 1)
	require.NoError(t, err)

	err = store.FinalizeRun(run.ID, "running", 0, "", now)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))
}

func TestExecutedCountForDate(t *testing.T) {
	store := NewRunStore(govtest.CreateTestDB(t))
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	count, err := store.ExecutedCountForDate("2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Counts accumulate monotonically within the day
	for i := 0; i < 3; i++ {
		run, err := store.BeginRun(now.Add(time.Duration(i)*time.Hour), 1)
		require.NoError(t, err)
		require.NoError(t, store.FinalizeRun(run.ID, RunStatusDone, 1, "", now))

		count, err = store.ExecutedCountForDate("2026-08-30")
		require.NoError(t, err)
		assert.Equal(t, i+1, count)
	}

	// The next calendar day starts from zero
	count, err = store.ExecutedCountForDate("2026-08-31")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestGetRunningRun(t *testing.T) {
	store := NewRunStore(govtest.CreateTestDB(t))

	running, err := store.GetRunningRun()
	require.NoError(t, err)
	assert.Nil(t, running)

	now := time.Now().UTC()
	run, err := store.BeginRun(now, 1)
	require.NoError(t, err)

	running, err = store.GetRunningRun()
	require.NoError(t, err)
	require.NotNil(t, running)
	assert.Equal(t, run.ID, running.ID)
}

func TestListRunsForDate(t *testing.T) {
	store := NewRunStore(govtest.CreateTestDB(t))
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	first, err := store.BeginRun(now, 1)
	require.NoError(t, err)
	require.NoError(t, store.FinalizeRun(first.ID, RunStatusDone, 1, "", now))

	second, err := store.BeginRun(now.Add(time.Hour), 1)
	require.NoError(t, err)
	require.NoError(t, store.FinalizeRun(second.ID, RunStatusFailed, 0, "", now.Add(time.Hour)))

	runs, err := store.ListRunsForDate("2026-08-30")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, first.ID, runs[0].ID)
	assert.Equal(t, second.ID, runs[1].ID)
}
