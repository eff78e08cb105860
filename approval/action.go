// Package approval implements the action approval state machine: a proposed
// action moves PENDING -> APPROVED|REJECTED -> EXECUTED under explicit
// guards, with audit writes at each step.
package approval

import "time"

// Action represents a proposed, possibly risky, state-changing action.
type Action struct {
	ID         string
	ActionType string // category, e.g. "pricing", "content", "cleanup"
	ActionName string
	TargetRef  string // reference to the entity the action mutates
	Status     string

	Requester      string
	Approver       string // empty until decided
	DecisionReason string

	// Execution bookkeeping
	IdempotencyKey  string // key of the winning execution, empty otherwise
	ExecutionResult string

	RequestedAt time.Time
	ApprovedAt  *time.Time
	ExecutedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Action status constants. EXECUTED and REJECTED are terminal.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
	StatusExecuted = "EXECUTED"
)

// Decisions accepted by Decide.
const (
	DecisionApprove = "APPROVE"
	DecisionReject  = "REJECT"
)

// Trace is one evidentiary record attached to an action at proposal time.
// Traces are immutable: they are the WHY an automated or human proposer had
// at the moment of proposing, not a later rationalization.
type Trace struct {
	ID          string    `json:"id"`
	ActionID    string    `json:"actionId"`
	Ordinal     int       `json:"ordinal"`
	InsightKey  string    `json:"insightKey"`
	MetricKey   string    `json:"metricKey"`
	MetricValue float64   `json:"metricValue"`
	Explanation string    `json:"explanation"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AuditRecord captures one execution attempt's committed state change.
// Audit writes are best-effort and never roll back the transition they
// describe.
type AuditRecord struct {
	ID             string
	ActionID       string
	Actor          string
	BeforeStatus   string
	AfterStatus    string
	IdempotencyKey string
	RecordedAt     time.Time
}

// Roles recognized by the engine, in ascending privilege order.
const (
	RoleViewer   = "viewer"
	RoleEditor   = "editor"
	RoleApprover = "approver"
	RoleAdmin    = "admin"
)

var roleRank = map[string]int{
	RoleViewer:   0,
	RoleEditor:   1,
	RoleApprover: 2,
	RoleAdmin:    3,
}

// roleAtLeast reports whether role carries at least the privilege of min.
// Unknown roles rank below viewer.
func roleAtLeast(role, min string) bool {
	r, ok := roleRank[role]
	if !ok {
		return false
	}
	return r >= roleRank[min]
}
