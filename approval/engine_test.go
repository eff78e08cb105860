package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contentplane/governor/config"
	"github.com/contentplane/governor/errors"
	govtest "github.com/contentplane/governor/internal/testing"
)

type engineFixture struct {
	engine *Engine
	store  *Store
	safety *config.SafetySource
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	store := NewStore(govtest.CreateTestDB(t))
	safety := config.NewSafetySource(config.Safety{})
	return &engineFixture{
		engine: NewEngine(store, safety, zap.NewNop().Sugar()),
		store:  store,
		safety: safety,
	}
}

func sampleTraces() []Trace {
	return []Trace{
		{InsightKey: "stale_content", MetricKey: "days_since_update", MetricValue: 412, Explanation: "post has not been touched in over a year"},
		{InsightKey: "traffic_drop", MetricKey: "sessions_delta_pct", MetricValue: -38, Explanation: "organic sessions down 38% quarter over quarter"},
	}
}

func (f *engineFixture) proposeApproved(t *testing.T) *Action {
	t.Helper()
	action, err := f.engine.Propose("content", "refresh-post", "post_17", "insight-engine", RoleEditor, sampleTraces())
	require.NoError(t, err)
	_, err = f.engine.Decide(action.ID, "alice", RoleApprover, DecisionApprove, "evidence is solid")
	require.NoError(t, err)
	return action
}

func TestProposeCreatesPendingWithTraces(t *testing.T) {
	f := newEngineFixture(t)

	action, err := f.engine.Propose("content", "refresh-post", "post_17", "bob", RoleEditor, sampleTraces())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, action.Status)

	traces, err := f.store.ListTraces(action.ID)
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, 0, traces[0].Ordinal)
	assert.Equal(t, "stale_content", traces[0].InsightKey)
}

func TestProposeRequiresEditor(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Propose("content", "refresh-post", "post_17", "eve", RoleViewer, nil)
	require.Error(t, err)
	assert.True(t, errors.IsPrivilegeDenied(err))
}

func TestDecideApproveAndReject(t *testing.T) {
	f := newEngineFixture(t)

	action, err := f.engine.Propose("content", "refresh-post", "post_17", "bob", RoleEditor, sampleTraces())
	require.NoError(t, err)

	decided, err := f.engine.Decide(action.ID, "alice", RoleApprover, DecisionApprove, "looks right")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, decided.Status)
	assert.Equal(t, "alice", decided.Approver)
	assert.NotNil(t, decided.ApprovedAt)

	// Deciding twice fails: the action is no longer PENDING
	_, err = f.engine.Decide(action.ID, "alice", RoleApprover, DecisionReject, "")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))
}

func TestDecideRequiresApprover(t *testing.T) {
	f := newEngineFixture(t)
	action, err := f.engine.Propose("content", "refresh-post", "post_17", "bob", RoleEditor, nil)
	require.NoError(t, err)

	_, err = f.engine.Decide(action.ID, "bob", RoleEditor, DecisionApprove, "")
	require.Error(t, err)
	assert.True(t, errors.IsPrivilegeDenied(err))
}

func TestRejectIsTerminal(t *testing.T) {
	f := newEngineFixture(t)
	action, err := f.engine.Propose("content", "delete-post", "post_9", "bob", RoleEditor, nil)
	require.NoError(t, err)

	_, err = f.engine.Decide(action.ID, "alice", RoleApprover, DecisionReject, "too risky")
	require.NoError(t, err)

	// Rejected actions can neither be re-decided nor executed
	_, err = f.engine.Decide(action.ID, "alice", RoleApprover, DecisionApprove, "")
	assert.True(t, errors.IsInvalidState(err))

	_, err = f.engine.Execute(action.ID, "root", RoleAdmin, "")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))
	assert.Contains(t, err.Error(), StatusRejected)
}

func TestExecuteHappyPathWritesAudit(t *testing.T) {
	f := newEngineFixture(t)
	action := f.proposeApproved(t)

	result, err := f.engine.Execute(action.ID, "root", RoleAdmin, "key-1")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, result.Status)
	assert.False(t, result.Replayed)

	got, err := f.store.GetAction(action.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, got.Status)
	assert.Equal(t, "key-1", got.IdempotencyKey)
	require.NotNil(t, got.ExecutedAt)

	audit, err := f.store.ListAudit(action.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "root", audit[0].Actor)
	assert.Equal(t, StatusApproved, audit[0].BeforeStatus)
	assert.Equal(t, StatusExecuted, audit[0].AfterStatus)
	assert.Equal(t, "key-1", audit[0].IdempotencyKey)
}

func TestExecuteSafeModeBlocksEverything(t *testing.T) {
	f := newEngineFixture(t)
	action := f.proposeApproved(t)

	f.safety.Set(config.Safety{SafeMode: true})

	// SAFE_MODE wins regardless of role or action state
	_, err := f.engine.Execute(action.ID, "root", RoleAdmin, "")
	require.Error(t, err)
	assert.True(t, errors.IsSafetyFrozen(err))

	_, err = f.engine.Execute("act_missing", "root", RoleAdmin, "")
	assert.True(t, errors.IsSafetyFrozen(err))

	// Nothing mutated
	got, _ := f.store.GetAction(action.ID)
	assert.Equal(t, StatusApproved, got.Status)

	// Lifting safe mode unfreezes on the next call
	f.safety.Set(config.Safety{})
	_, err = f.engine.Execute(action.ID, "root", RoleAdmin, "")
	assert.NoError(t, err)
}

func TestExecuteNotFound(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Execute("act_nope", "root", RoleAdmin, "")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestExecutePendingFails(t *testing.T) {
	f := newEngineFixture(t)
	action, err := f.engine.Propose("content", "refresh-post", "post_17", "bob", RoleEditor, nil)
	require.NoError(t, err)

	_, err = f.engine.Execute(action.ID, "root", RoleAdmin, "")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))
	assert.Contains(t, err.Error(), StatusPending)
}

func TestExecuteRequiresAdmin(t *testing.T) {
	f := newEngineFixture(t)
	action := f.proposeApproved(t)

	// The approver role may approve but never execute
	_, err := f.engine.Execute(action.ID, "alice", RoleApprover, "")
	require.Error(t, err)
	assert.True(t, errors.IsPrivilegeDenied(err))

	got, _ := f.store.GetAction(action.ID)
	assert.Equal(t, StatusApproved, got.Status)
}

func TestExecuteIdempotentReplay(t *testing.T) {
	f := newEngineFixture(t)
	action := f.proposeApproved(t)

	first, err := f.engine.Execute(action.ID, "root", RoleAdmin, "retry-key")
	require.NoError(t, err)

	// Identical key inside the window: one transition, two success responses
	second, err := f.engine.Execute(action.ID, "root", RoleAdmin, "retry-key")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Result, second.Result)

	audit, err := f.store.ListAudit(action.ID)
	require.NoError(t, err)
	assert.Len(t, audit, 1, "replay must not produce a second audit record")
}

func TestExecuteAlreadyExecutedWithoutKeyFails(t *testing.T) {
	f := newEngineFixture(t)
	action := f.proposeApproved(t)

	_, err := f.engine.Execute(action.ID, "root", RoleAdmin, "key-a")
	require.NoError(t, err)

	// No key
	_, err = f.engine.Execute(action.ID, "root", RoleAdmin, "")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))
	assert.Contains(t, err.Error(), "already executed")

	// Different key
	_, err = f.engine.Execute(action.ID, "root", RoleAdmin, "key-b")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))
}

func TestExecuteReplayWindowExpires(t *testing.T) {
	f := newEngineFixture(t)
	action := f.proposeApproved(t)

	_, err := f.engine.Execute(action.ID, "root", RoleAdmin, "old-key")
	require.NoError(t, err)

	// Jump past the replay window
	f.engine.timeNow = func() time.Time { return time.Now().Add(ReplayWindow + time.Minute) }

	_, err = f.engine.Execute(action.ID, "root", RoleAdmin, "old-key")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))
}

func TestFeatureFreezeDemotesNonAdmins(t *testing.T) {
	f := newEngineFixture(t)
	f.safety.Set(config.Safety{FeatureFreeze: true})

	_, err := f.engine.Propose("content", "refresh-post", "post_17", "bob", RoleEditor, nil)
	require.Error(t, err)
	assert.True(t, errors.IsPrivilegeDenied(err))

	// Admins keep write access under a feature freeze
	action, err := f.engine.Propose("content", "refresh-post", "post_17", "root", RoleAdmin, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, action.Status)
}
