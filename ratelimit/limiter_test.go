package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contentplane/governor/config"
	"github.com/contentplane/governor/errors"
	govtest "github.com/contentplane/governor/internal/testing"
)

func testConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		BypassToken: "internal-secret",
		Scopes: map[string]config.ScopeLimits{
			ScopeAdmin: {WindowMs: 60_000, MaxRequests: 3},
			ScopeLogin: {WindowMs: 900_000, MaxRequests: 5},
		},
	}
}

type failingStore struct {
	calls int
}

func (f *failingStore) Increment(scope, identifier string, windowStartMs, windowMs int64) (int, error) {
	f.calls++
	return 0, errors.New("counter service unreachable")
}

func TestAllowUpToLimitThenReject(t *testing.T) {
	l := NewLimiter(testConfig(), nil, zap.NewNop().Sugar())

	for i := 0; i < 3; i++ {
		result, err := l.Allow(ScopeAdmin, "10.0.0.1", "")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 2-i, result.Remaining)
	}

	result, err := l.Allow(ScopeAdmin, "10.0.0.1", "")
	require.Error(t, err)
	assert.True(t, errors.IsRateLimited(err))
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Greater(t, result.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, result.RetryAfter, time.Minute)
}

func TestIdentifiersAreIndependent(t *testing.T) {
	l := NewLimiter(testConfig(), nil, zap.NewNop().Sugar())

	for i := 0; i < 3; i++ {
		_, err := l.Allow(ScopeAdmin, "10.0.0.1", "")
		require.NoError(t, err)
	}
	_, err := l.Allow(ScopeAdmin, "10.0.0.1", "")
	require.Error(t, err)

	// A different IP in the same scope is unaffected
	result, err := l.Allow(ScopeAdmin, "10.0.0.2", "")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestScopesAreIndependent(t *testing.T) {
	l := NewLimiter(testConfig(), nil, zap.NewNop().Sugar())

	for i := 0; i < 3; i++ {
		_, err := l.Allow(ScopeAdmin, "10.0.0.1", "")
		require.NoError(t, err)
	}

	result, err := l.Allow(ScopeLogin, "10.0.0.1", "")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 4, result.Remaining)
}

func TestWindowRollover(t *testing.T) {
	l := NewLimiter(testConfig(), nil, zap.NewNop().Sugar())

	base := time.Date(2026, 8, 30, 12, 0, 30, 0, time.UTC)
	l.timeNow = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		_, err := l.Allow(ScopeAdmin, "10.0.0.1", "")
		require.NoError(t, err)
	}
	_, err := l.Allow(ScopeAdmin, "10.0.0.1", "")
	require.Error(t, err)

	// The next fixed window grants a fresh budget
	l.timeNow = func() time.Time { return base.Add(time.Minute) }
	result, err := l.Allow(ScopeAdmin, "10.0.0.1", "")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 2, result.Remaining)
}

func TestBypassTokenSkipsCounting(t *testing.T) {
	store := &failingStore{}
	l := NewLimiter(testConfig(), store, zap.NewNop().Sugar())

	for i := 0; i < 50; i++ {
		result, err := l.Allow(ScopeAdmin, "scheduler", "internal-secret")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}
	assert.Zero(t, store.calls, "bypassed requests must not touch the counters")

	// The wrong token still counts
	_, err := l.Allow(ScopeAdmin, "scheduler", "wrong-secret")
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)
}

func TestUnknownScopeFailsOpen(t *testing.T) {
	l := NewLimiter(testConfig(), nil, zap.NewNop().Sugar())

	result, err := l.Allow("unconfigured", "10.0.0.1", "")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestStoreFailureFallsBackToLocalCounting(t *testing.T) {
	store := &failingStore{}
	l := NewLimiter(testConfig(), store, zap.NewNop().Sugar())

	// The local fallback still enforces the limit
	for i := 0; i < 3; i++ {
		result, err := l.Allow(ScopeAdmin, "10.0.0.1", "")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}
	_, err := l.Allow(ScopeAdmin, "10.0.0.1", "")
	require.Error(t, err)
	assert.True(t, errors.IsRateLimited(err))
	assert.Equal(t, 4, store.calls, "the shared store is retried every call")
}

func TestSQLStoreSharedBetweenLimiters(t *testing.T) {
	db := govtest.CreateTestDB(t)
	store := NewSQLStore(db)

	a := NewLimiter(testConfig(), store, zap.NewNop().Sugar())
	b := NewLimiter(testConfig(), store, zap.NewNop().Sugar())

	// Both limiters draw from one budget
	for i := 0; i < 3; i++ {
		l := a
		if i%2 == 1 {
			l = b
		}
		result, err := l.Allow(ScopeAdmin, "10.0.0.1", "")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	_, err := b.Allow(ScopeAdmin, "10.0.0.1", "")
	require.Error(t, err)
	assert.True(t, errors.IsRateLimited(err))
}

func TestSQLStoreSweep(t *testing.T) {
	db := govtest.CreateTestDB(t)
	store := NewSQLStore(db)

	old := time.Now().Add(-2 * time.Hour).UnixMilli()
	fresh := time.Now().UnixMilli()
	_, err := store.Increment(ScopeAdmin, "10.0.0.1", old, 60_000)
	require.NoError(t, err)
	_, err = store.Increment(ScopeAdmin, "10.0.0.1", fresh, 60_000)
	require.NoError(t, err)

	deleted, err := store.Sweep(time.Now().Add(-time.Hour).UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// The fresh window kept its count
	count, err := store.Increment(ScopeAdmin, "10.0.0.1", fresh, 60_000)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestLocalStoreSweepRemovesExpiredWindows(t *testing.T) {
	store := NewLocalStore()

	expired := time.Now().Add(-time.Hour).UnixMilli()
	for i := 0; i < 4; i++ {
		_, err := store.Increment(ScopeAdmin, fmt.Sprintf("10.0.0.%d", i), expired, 60_000)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, store.Len())

	// Force the next increment to run a sweep
	store.mu.Lock()
	store.lastSweep = time.Time{}
	store.mu.Unlock()

	now := time.Now().UnixMilli()
	_, err := store.Increment(ScopeAdmin, "10.0.0.9", now-now%60_000, 60_000)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}
