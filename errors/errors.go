// Package errors provides error handling for the governor engine.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// It also carries the governance error taxonomy as sentinel errors. Every
// guard failure in the engine wraps one of these sentinels so callers can
// check the machine-readable kind with errors.Is while the message keeps the
// human-readable reason that admin surfaces display verbatim.
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check error kinds
//	if errors.IsSafetyFrozen(err) {
//	    // render kill-switch message
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint        = crdb.WithHint
	WithHintf       = crdb.WithHintf
	WithDetail      = crdb.WithDetail
	WithDetailf     = crdb.WithDetailf
	WithSafeDetails = crdb.WithSafeDetails
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Governance error taxonomy.
// Wrap these with errors.Wrap()/errors.Wrapf() so the specific rejection
// reason survives while the kind stays checkable.
var (
	// ErrInvalidState indicates an illegal lifecycle transition
	ErrInvalidState = New("invalid state")

	// ErrConflictingState indicates a concurrent-run lock is held or a
	// conflicting transition won a race
	ErrConflictingState = New("conflicting state")

	// ErrNotFound indicates the requested job or action does not exist
	ErrNotFound = New("not found")

	// ErrSafetyFrozen indicates the global SAFE_MODE kill-switch is engaged
	ErrSafetyFrozen = New("safety frozen")

	// ErrPrivilegeDenied indicates the actor lacks the required role
	ErrPrivilegeDenied = New("privilege denied")

	// ErrQuotaExceeded indicates the daily production quota is spent
	ErrQuotaExceeded = New("quota exceeded")

	// ErrOutsideWindow indicates the current time is outside every
	// configured execution window
	ErrOutsideWindow = New("outside execution window")

	// ErrRateLimited indicates the caller exceeded a request-rate scope
	ErrRateLimited = New("rate limited")

	// ErrUpstreamFailure indicates the generation collaborator failed or
	// timed out
	ErrUpstreamFailure = New("upstream failure")
)

// IsInvalidState checks if an error is or wraps ErrInvalidState
func IsInvalidState(err error) bool {
	return err != nil && Is(err, ErrInvalidState)
}

// IsConflictingState checks if an error is or wraps ErrConflictingState
func IsConflictingState(err error) bool {
	return err != nil && Is(err, ErrConflictingState)
}

// IsNotFound checks if an error is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsSafetyFrozen checks if an error is or wraps ErrSafetyFrozen
func IsSafetyFrozen(err error) bool {
	return err != nil && Is(err, ErrSafetyFrozen)
}

// IsPrivilegeDenied checks if an error is or wraps ErrPrivilegeDenied
func IsPrivilegeDenied(err error) bool {
	return err != nil && Is(err, ErrPrivilegeDenied)
}

// IsQuotaExceeded checks if an error is or wraps ErrQuotaExceeded
func IsQuotaExceeded(err error) bool {
	return err != nil && Is(err, ErrQuotaExceeded)
}

// IsOutsideWindow checks if an error is or wraps ErrOutsideWindow
func IsOutsideWindow(err error) bool {
	return err != nil && Is(err, ErrOutsideWindow)
}

// IsRateLimited checks if an error is or wraps ErrRateLimited
func IsRateLimited(err error) bool {
	return err != nil && Is(err, ErrRateLimited)
}

// IsUpstreamFailure checks if an error is or wraps ErrUpstreamFailure
func IsUpstreamFailure(err error) bool {
	return err != nil && Is(err, ErrUpstreamFailure)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidStateError creates an invalid-state error with a formatted message
func NewInvalidStateError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidState, Newf(format, args...).Error())
}

// Kind returns the short machine-checkable name for the governance kind an
// error belongs to, or "internal" when it matches none. Admin surfaces use
// this to render an exact error kind next to the human-readable message.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrInvalidState):
		return "InvalidState"
	case Is(err, ErrConflictingState):
		return "ConflictingState"
	case Is(err, ErrNotFound):
		return "NotFound"
	case Is(err, ErrSafetyFrozen):
		return "SafetyFrozen"
	case Is(err, ErrPrivilegeDenied):
		return "PrivilegeDenied"
	case Is(err, ErrQuotaExceeded):
		return "QuotaExceeded"
	case Is(err, ErrOutsideWindow):
		return "OutsideWindow"
	case Is(err, ErrRateLimited):
		return "RateLimited"
	case Is(err, ErrUpstreamFailure):
		return "UpstreamFailure"
	default:
		return "internal"
	}
}
