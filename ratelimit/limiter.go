// Package ratelimit bounds request rates per (scope, identifier) with fixed
// windows. Counters live in a shared store when one is available; any store
// failure silently falls back to an in-process counter so the limiter can
// never be the reason a request fails.
package ratelimit

import (
	"time"

	"go.uber.org/zap"

	"github.com/contentplane/governor/config"
	"github.com/contentplane/governor/errors"
)

// Well-known scopes. The scope table is configuration; these constants only
// name the defaults.
const (
	ScopePublic = "public"
	ScopeAdmin  = "admin"
	ScopeAI     = "ai"
	ScopeLogin  = "login"
)

// Result describes one limiting decision. Remaining and RetryAfter feed the
// response headers the caller emits.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// CounterStore atomically increments the counter for one fixed window and
// returns the post-increment count. windowMs lets implementations expire
// finished windows.
type CounterStore interface {
	Increment(scope, identifier string, windowStartMs, windowMs int64) (int, error)
}

// Limiter applies per-scope fixed-window limits. Unknown scopes are allowed
// through with a warning; misconfiguration must not turn into an outage.
type Limiter struct {
	scopes      map[string]config.ScopeLimits
	store       CounterStore
	local       *LocalStore
	bypassToken string
	log         *zap.SugaredLogger

	// Injectable for window-rollover tests
	timeNow func() time.Time
}

// NewLimiter creates a limiter. store may be nil; counting then happens only
// in-process.
func NewLimiter(cfg config.RateLimitConfig, store CounterStore, log *zap.SugaredLogger) *Limiter {
	return &Limiter{
		scopes:      cfg.Scopes,
		store:       store,
		local:       NewLocalStore(),
		bypassToken: cfg.BypassToken,
		log:         log,
		timeNow:     time.Now,
	}
}

// Allow decides whether one request may proceed. Rejections are immediate,
// never queued, and carry a RateLimited error plus the retry-after duration
// in the result. bearerToken is the caller's token, compared against the
// trusted-internal bypass secret.
func (l *Limiter) Allow(scope, identifier, bearerToken string) (Result, error) {
	if l.bypassToken != "" && bearerToken == l.bypassToken {
		return Result{Allowed: true, Remaining: -1}, nil
	}

	limits, ok := l.scopes[scope]
	if !ok || limits.MaxRequests <= 0 || limits.WindowMs <= 0 {
		l.log.Warnw("No limits configured for scope, allowing request",
			"scope", scope)
		return Result{Allowed: true, Remaining: -1}, nil
	}

	now := l.timeNow()
	nowMs := now.UnixMilli()
	windowMs := int64(limits.WindowMs)
	windowStartMs := nowMs - nowMs%windowMs

	count, err := l.increment(scope, identifier, windowStartMs, windowMs)
	if err != nil {
		// The local path cannot fail; reaching here means both paths did.
		// Fail open: a broken limiter must not take the system down.
		l.log.Errorw("All rate limit counter paths failed, allowing request",
			"scope", scope,
			"identifier", identifier,
			"error", err)
		return Result{Allowed: true, Remaining: -1}, nil
	}

	if count > limits.MaxRequests {
		retryAfter := time.Duration(windowStartMs+windowMs-nowMs) * time.Millisecond
		return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter},
			errors.Wrapf(errors.ErrRateLimited,
				"scope %s exceeded %d requests per %dms for %s, retry after %s",
				scope, limits.MaxRequests, limits.WindowMs, identifier, retryAfter.Round(time.Second))
	}

	return Result{Allowed: true, Remaining: limits.MaxRequests - count}, nil
}

// increment tries the shared store first and falls back to the in-process
// counters on any error.
func (l *Limiter) increment(scope, identifier string, windowStartMs, windowMs int64) (int, error) {
	if l.store != nil {
		count, err := l.store.Increment(scope, identifier, windowStartMs, windowMs)
		if err == nil {
			return count, nil
		}
		l.log.Warnw("Shared counter store failed, falling back to in-process counters",
			"scope", scope,
			"error", err)
	}
	return l.local.Increment(scope, identifier, windowStartMs, windowMs)
}
