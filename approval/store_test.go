package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentplane/governor/errors"
	govtest "github.com/contentplane/governor/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(govtest.CreateTestDB(t))
}

func createPending(t *testing.T, store *Store, traces []Trace) *Action {
	t.Helper()
	a := &Action{
		ActionType: "content",
		ActionName: "refresh-post",
		TargetRef:  "post_42",
		Requester:  "bob",
	}
	require.NoError(t, store.CreateAction(a, traces))
	return a
}

func TestCreateAndGetAction(t *testing.T) {
	store := newTestStore(t)

	a := createPending(t, store, []Trace{
		{InsightKey: "stale_content", MetricKey: "days_since_update", MetricValue: 200, Explanation: "old"},
	})
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, StatusPending, a.Status)

	got, err := store.GetAction(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "refresh-post", got.ActionName)
	assert.Equal(t, "post_42", got.TargetRef)
	assert.Equal(t, "bob", got.Requester)
	assert.Empty(t, got.Approver)
	assert.Nil(t, got.ApprovedAt)
	assert.Nil(t, got.ExecutedAt)
}

func TestGetActionNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetAction("act_missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestTracesPreserveProposalOrder(t *testing.T) {
	store := newTestStore(t)
	a := createPending(t, store, []Trace{
		{InsightKey: "third_insight", MetricValue: 3},
		{InsightKey: "first_insight", MetricValue: 1},
		{InsightKey: "second_insight", MetricValue: 2},
	})

	traces, err := store.ListTraces(a.ID)
	require.NoError(t, err)
	require.Len(t, traces, 3)
	// Ordinal order, not alphabetical or value order
	assert.Equal(t, "third_insight", traces[0].InsightKey)
	assert.Equal(t, "first_insight", traces[1].InsightKey)
	assert.Equal(t, "second_insight", traces[2].InsightKey)
	for i, tr := range traces {
		assert.Equal(t, i, tr.Ordinal)
		assert.Equal(t, a.ID, tr.ActionID)
	}
}

func TestDecideIsCompareAndSwap(t *testing.T) {
	store := newTestStore(t)
	a := createPending(t, store, nil)

	now := time.Now()
	require.NoError(t, store.Decide(a.ID, "alice", StatusApproved, "fine", now))

	got, err := store.GetAction(a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	assert.Equal(t, "alice", got.Approver)
	assert.Equal(t, "fine", got.DecisionReason)
	require.NotNil(t, got.ApprovedAt)

	// Second decide loses the CAS and reports the current status
	err = store.Decide(a.ID, "carol", StatusRejected, "", now)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))
	assert.Contains(t, err.Error(), StatusApproved)
}

func TestMarkExecutedRequiresApproved(t *testing.T) {
	store := newTestStore(t)
	a := createPending(t, store, nil)

	err := store.MarkExecuted(a.ID, "key", "done", time.Now())
	require.Error(t, err)
	assert.True(t, errors.IsConflictingState(err))

	require.NoError(t, store.Decide(a.ID, "alice", StatusApproved, "", time.Now()))
	require.NoError(t, store.MarkExecuted(a.ID, "key", "done", time.Now()))

	// Only one winner
	err = store.MarkExecuted(a.ID, "other", "again", time.Now())
	require.Error(t, err)
	assert.True(t, errors.IsConflictingState(err))

	got, err := store.GetAction(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "key", got.IdempotencyKey)
	assert.Equal(t, "done", got.ExecutionResult)
}

func TestAuditTrailIsAppendOnly(t *testing.T) {
	store := newTestStore(t)
	a := createPending(t, store, nil)

	base := time.Now()
	for i, actor := range []string{"root", "root", "ops"} {
		require.NoError(t, store.WriteAudit(&AuditRecord{
			ActionID:     a.ID,
			Actor:        actor,
			BeforeStatus: StatusApproved,
			AfterStatus:  StatusExecuted,
			RecordedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}

	records, err := store.ListAudit(a.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "ops", records[2].Actor)
	assert.True(t, records[0].RecordedAt.Before(records[2].RecordedAt))
}
