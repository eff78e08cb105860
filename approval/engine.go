package approval

import (
	"time"

	"go.uber.org/zap"

	"github.com/contentplane/governor/config"
	"github.com/contentplane/governor/errors"
)

// ReplayWindow bounds how long an idempotency key shields a duplicate
// execute call. Inside the window the prior result is returned; outside it
// the duplicate fails like any other attempt on an EXECUTED action.
const ReplayWindow = 5 * time.Minute

// ExecutionResult is what Execute returns to the caller.
type ExecutionResult struct {
	ActionID   string
	Status     string
	Result     string
	ExecutedAt time.Time
	// Replayed is true when an idempotency-key collision inside the
	// replay window returned the prior result instead of re-executing.
	Replayed bool
}

// Engine moves proposed actions through request -> decision -> execution.
// Every operation reads the safety flags first; SAFE_MODE freezes all
// executions, FEATURE_FREEZE demotes every role below admin to read-only.
type Engine struct {
	store  *Store
	safety *config.SafetySource
	log    *zap.SugaredLogger

	// Injectable for replay-window tests
	timeNow func() time.Time
}

// NewEngine creates an approval engine.
func NewEngine(store *Store, safety *config.SafetySource, log *zap.SugaredLogger) *Engine {
	return &Engine{
		store:   store,
		safety:  safety,
		log:     log,
		timeNow: time.Now,
	}
}

// Propose creates a PENDING action with its evidentiary traces. Requires at
// least editor privilege; under FEATURE_FREEZE only admins may write.
func (e *Engine) Propose(actionType, actionName, targetRef, requester, requesterRole string, traces []Trace) (*Action, error) {
	if err := e.writeAllowed(requesterRole); err != nil {
		return nil, err
	}
	if !roleAtLeast(requesterRole, RoleEditor) {
		return nil, errors.Wrapf(errors.ErrPrivilegeDenied,
			"role %s cannot propose actions (editor or higher required)", requesterRole)
	}

	action := &Action{
		ActionType: actionType,
		ActionName: actionName,
		TargetRef:  targetRef,
		Requester:  requester,
	}
	if err := e.store.CreateAction(action, traces); err != nil {
		return nil, err
	}

	e.log.Infow("Action proposed",
		"action_id", action.ID,
		"type", actionType,
		"name", actionName,
		"target", targetRef,
		"requester", requester,
		"traces", len(traces))
	return action, nil
}

// Decide approves or rejects a PENDING action. Requires approver privilege.
// REJECT is terminal.
func (e *Engine) Decide(actionID, approverID, approverRole, decision, reason string) (*Action, error) {
	if err := e.writeAllowed(approverRole); err != nil {
		return nil, err
	}
	if !roleAtLeast(approverRole, RoleApprover) {
		return nil, errors.Wrapf(errors.ErrPrivilegeDenied,
			"role %s cannot decide actions (approver or higher required)", approverRole)
	}

	var target string
	switch decision {
	case DecisionApprove:
		target = StatusApproved
	case DecisionReject:
		target = StatusRejected
	default:
		return nil, errors.NewInvalidStateError("unknown decision %q (want APPROVE or REJECT)", decision)
	}

	if err := e.store.Decide(actionID, approverID, target, reason, e.timeNow()); err != nil {
		return nil, err
	}

	e.log.Infow("Action decided",
		"action_id", actionID,
		"decision", decision,
		"approver", approverID)
	return e.store.GetAction(actionID)
}

// Execute runs an APPROVED action. Guard order: global SAFE_MODE, action
// existence, status, idempotency replay, privilege. The state transition is
// a transactional compare-and-swap; the audit record is written after the
// commit and is best-effort, so an audit failure can never roll back an
// execution that already happened.
func (e *Engine) Execute(actionID, executorID, executorRole, idempotencyKey string) (*ExecutionResult, error) {
	// Guard 1: the kill-switch, independent of role and action state
	if e.safety.Current().SafeMode {
		return nil, errors.Wrap(errors.ErrSafetyFrozen,
			"safe mode is engaged; all action executions are frozen")
	}

	// Guard 2: existence
	action, err := e.store.GetAction(actionID)
	if err != nil {
		return nil, err
	}

	// Guards 3+4: status, with the idempotency replay carve-out
	switch action.Status {
	case StatusApproved:
		// proceed
	case StatusExecuted:
		if result := e.replayResult(action, idempotencyKey); result != nil {
			return result, nil
		}
		return nil, errors.Wrapf(errors.ErrInvalidState,
			"action %s was already executed at %s", actionID, action.ExecutedAt.Format(time.RFC3339))
	default:
		return nil, errors.Wrapf(errors.ErrInvalidState,
			"only APPROVED actions can be executed, action %s is %s", actionID, action.Status)
	}

	// Guard 5: only the highest-privilege role executes
	if !roleAtLeast(executorRole, RoleAdmin) {
		return nil, errors.Wrapf(errors.ErrPrivilegeDenied,
			"role %s cannot execute actions (admin required)", executorRole)
	}

	now := e.timeNow()
	resultMsg := "executed " + action.ActionName + " on " + action.TargetRef

	if err := e.store.MarkExecuted(actionID, idempotencyKey, resultMsg, now); err != nil {
		if errors.IsConflictingState(err) {
			// Lost a race: re-read and see whether the winner shares our key
			current, getErr := e.store.GetAction(actionID)
			if getErr == nil && current.Status == StatusExecuted {
				if result := e.replayResult(current, idempotencyKey); result != nil {
					return result, nil
				}
				return nil, errors.Wrapf(errors.ErrInvalidState,
					"action %s was concurrently executed", actionID)
			}
		}
		return nil, err
	}

	// Best-effort audit after the committed transition
	audit := &AuditRecord{
		ActionID:       actionID,
		Actor:          executorID,
		BeforeStatus:   StatusApproved,
		AfterStatus:    StatusExecuted,
		IdempotencyKey: idempotencyKey,
		RecordedAt:     now,
	}
	if err := e.store.WriteAudit(audit); err != nil {
		e.log.Errorw("Audit write failed after committed execution",
			"action_id", actionID,
			"actor", executorID,
			"error", err)
	}

	e.log.Infow("Action executed",
		"action_id", actionID,
		"actor", executorID,
		"idempotency_key", idempotencyKey)

	return &ExecutionResult{
		ActionID:   actionID,
		Status:     StatusExecuted,
		Result:     resultMsg,
		ExecutedAt: now,
	}, nil
}

// replayResult returns the prior execution's result when the supplied key
// matches the winning key and the execution is inside the replay window.
func (e *Engine) replayResult(action *Action, idempotencyKey string) *ExecutionResult {
	if idempotencyKey == "" || action.IdempotencyKey != idempotencyKey {
		return nil
	}
	if action.ExecutedAt == nil || e.timeNow().Sub(*action.ExecutedAt) > ReplayWindow {
		return nil
	}
	e.log.Infow("Execution replayed from idempotency key",
		"action_id", action.ID,
		"idempotency_key", idempotencyKey)
	return &ExecutionResult{
		ActionID:   action.ID,
		Status:     StatusExecuted,
		Result:     action.ExecutionResult,
		ExecutedAt: *action.ExecutedAt,
		Replayed:   true,
	}
}

// writeAllowed applies FEATURE_FREEZE: when engaged, every role below admin
// is read-only.
func (e *Engine) writeAllowed(role string) error {
	if e.safety.Current().FeatureFreeze && !roleAtLeast(role, RoleAdmin) {
		return errors.Wrapf(errors.ErrPrivilegeDenied,
			"feature freeze is engaged; role %s is read-only", role)
	}
	return nil
}
