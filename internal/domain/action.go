package domain

import "time"

// Actor values for ledger records not written by a named agent.
const (
	ActorSystem   = "system"
	ActorOperator = "operator"
)

// Action types written by the orchestrator and pipeline.
const (
	ActionCycleSummary   = "cycle_summary"
	ActionExecutiveBrief = "executive_brief"
	ActionDeploymentExec = "deployment_executed"
	ActionDeploymentHalt = "deployment_halted"
	ActionCapitalRecon   = "capital_reconciled"
	ActionApproval       = "approval"
	ActionRejection      = "rejection"
)

// Review decisions derived from an approval chain.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// AutonomousAction is one row of the append-only action ledger. Rows are
// never updated after creation; a review of a pending row is a new row whose
// TargetRef points at the original.
type AutonomousAction struct {
	ID               string    `json:"id" db:"id"`
	OrgID            string    `json:"org_id" db:"org_id"`
	Actor            string    `json:"actor" db:"actor"`
	ActionType       string    `json:"action_type" db:"action_type"`
	TargetRef        string    `json:"target_ref,omitempty" db:"target_ref"`
	Decision         string    `json:"decision" db:"decision"`
	Reasoning        string    `json:"reasoning" db:"reasoning"`
	ConfidenceScore  float64   `json:"confidence_score,omitempty" db:"confidence_score"`
	ValueImpact      float64   `json:"value_impact,omitempty" db:"value_impact"`
	AutoExecuted     bool      `json:"auto_executed" db:"auto_executed"`
	RequiresApproval bool      `json:"requires_approval" db:"requires_approval"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
