package domain

import "time"

// RiskTolerance adjusts how far an agent may stray from baseline thresholds.
type RiskTolerance string

const (
	RiskConservative RiskTolerance = "conservative"
	RiskBalanced     RiskTolerance = "balanced"
	RiskAggressive   RiskTolerance = "aggressive"
)

// MarketPhase is the tenant's current lifecycle phase as reported by the
// analytics feed. Each phase maps to a fixed aggressiveness multiplier.
type MarketPhase string

const (
	PhaseGrowth        MarketPhase = "growth"
	PhaseExpansion     MarketPhase = "expansion"
	PhaseConsolidation MarketPhase = "consolidation"
	PhaseHarvest       MarketPhase = "harvest"
	PhasePivot         MarketPhase = "pivot"
)

// Aggressiveness returns the threshold multiplier for a phase. Unknown phases
// fall back to the consolidation baseline so missing data never loosens limits.
func (p MarketPhase) Aggressiveness() float64 {
	switch p {
	case PhaseGrowth:
		return 1.5
	case PhaseExpansion:
		return 1.3
	case PhaseHarvest:
		return 0.8
	case PhasePivot:
		return 0.5
	default:
		return 1.0
	}
}

// MarketContext is the per-cycle situational input to policy adjustment.
// It is derived each cycle and never persisted back as base truth.
type MarketContext struct {
	OrgID          string      `json:"org_id"`
	Phase          MarketPhase `json:"phase"`
	Aggressiveness float64     `json:"aggressiveness"`
	ResolvedAt     time.Time   `json:"resolved_at"`
}

// AgentConfig holds the persisted base policy for one (tenant, agent) pair.
// Counters tolerate last-writer-wins; they are approximate by contract.
type AgentConfig struct {
	OrgID                 string        `json:"org_id" db:"org_id"`
	AgentType             string        `json:"agent_type" db:"agent_type"`
	Enabled               bool          `json:"enabled" db:"enabled"`
	RiskTolerance         RiskTolerance `json:"risk_tolerance" db:"risk_tolerance"`
	AutoExecuteThreshold  int           `json:"auto_execute_threshold" db:"auto_execute_threshold"`
	RequiresApprovalAbove float64       `json:"requires_approval_above" db:"requires_approval_above"`
	MaxDailyActions       int           `json:"max_daily_actions" db:"max_daily_actions"`
	ActionsToday          int           `json:"actions_today" db:"actions_today"`
	ActionsDay            string        `json:"actions_day" db:"actions_day"`
	TotalActionsTaken     int64         `json:"total_actions_taken" db:"total_actions_taken"`
	TotalValueGenerated   float64       `json:"total_value_generated" db:"total_value_generated"`
	UpdatedAt             time.Time     `json:"updated_at" db:"updated_at"`
}

// DefaultAgentConfig is created lazily the first time a cycle touches an
// agent the tenant has no stored policy for.
func DefaultAgentConfig(orgID, agentType string) AgentConfig {
	return AgentConfig{
		OrgID:                 orgID,
		AgentType:             agentType,
		Enabled:               true,
		RiskTolerance:         RiskBalanced,
		AutoExecuteThreshold:  70,
		RequiresApprovalAbove: 500,
		MaxDailyActions:       25,
	}
}

// AutonomyState is the tenant-level "no-input mode" switch plus its
// observability counters. Level >= 2 makes the tenant eligible for
// unattended multi-tenant cycles.
type AutonomyState struct {
	OrgID        string    `json:"org_id" db:"org_id"`
	Enabled      bool      `json:"enabled" db:"enabled"`
	Level        int       `json:"level" db:"level"`
	Observations int64     `json:"observations" db:"observations"`
	Decisions    int64     `json:"decisions" db:"decisions"`
	RisksFlagged int64     `json:"risks_flagged" db:"risks_flagged"`
	ActionsTaken int64     `json:"actions_taken" db:"actions_taken"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// ContractStatus values for CapitalContract.
const (
	ContractActive    = "active"
	ContractSuspended = "suspended"
)

// CapitalContract bounds how much capital the pipeline may deploy for a
// tenant and how much loss the kill switch tolerates before halting.
// Invariant: CurrentDeployed <= MaxCapital, enforced at execute time by an
// atomic check-and-increment.
type CapitalContract struct {
	ID              string    `json:"id" db:"id"`
	OrgID           string    `json:"org_id" db:"org_id"`
	ContractType    string    `json:"contract_type" db:"contract_type"`
	MaxCapital      float64   `json:"max_capital" db:"max_capital"`
	CurrentDeployed float64   `json:"current_deployed" db:"current_deployed"`
	MaxLoss         float64   `json:"max_loss" db:"max_loss"`
	Status          string    `json:"status" db:"status"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Headroom is the capital still available under the contract cap.
func (c CapitalContract) Headroom() float64 {
	return c.MaxCapital - c.CurrentDeployed
}

// Opportunity lifecycle statuses.
const (
	OpportunityDetected  = "detected"
	OpportunityReady     = "ready"
	OpportunityExecuting = "executing"
	OpportunitySold      = "sold"
	OpportunityExpired   = "expired"
)

// Opportunity is a detected candidate for capital deployment. Scan creates
// it, simulate enriches it with projections, execute consumes it.
type Opportunity struct {
	ID               string    `json:"id" db:"id"`
	OrgID            string    `json:"org_id" db:"org_id"`
	ContractID       string    `json:"contract_id" db:"contract_id"`
	Type             string    `json:"type" db:"type"`
	EstimatedCost    float64   `json:"estimated_cost" db:"estimated_cost"`
	EstimatedRevenue float64   `json:"estimated_revenue" db:"estimated_revenue"`
	RequiresCapital  float64   `json:"requires_capital" db:"requires_capital"`
	ConfidenceScore  float64   `json:"confidence_score" db:"confidence_score"`
	Status           string    `json:"status" db:"status"`
	// Projection fields, written by simulate. Re-simulation overwrites them.
	WorstCase          float64   `json:"worst_case" db:"worst_case"`
	BaseCase           float64   `json:"base_case" db:"base_case"`
	BestCase           float64   `json:"best_case" db:"best_case"`
	ExpectedValue      float64   `json:"expected_value" db:"expected_value"`
	RiskAdjustedReturn float64   `json:"risk_adjusted_return" db:"risk_adjusted_return"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// Deployment lifecycle statuses.
const (
	DeploymentActive     = "active"
	DeploymentMonitoring = "monitoring"
	DeploymentCompleted  = "completed"
	DeploymentHalted     = "halted"
	DeploymentReconciled = "reconciled"
)

// ExecutionSteps is the fixed ordered step list every deployment runs
// through. Order matters; CurrentStep indexes into this list.
var ExecutionSteps = []string{"source", "qualify", "route", "collect", "reconcile"}

// Deployment is an executing allocation of capital against a contract.
// Owned by the pipeline; the kill switch may only transition it to halted.
type Deployment struct {
	ID              string    `json:"id" db:"id"`
	OrgID           string    `json:"org_id" db:"org_id"`
	ContractID      string    `json:"contract_id" db:"contract_id"`
	OpportunityID   string    `json:"opportunity_id" db:"opportunity_id"`
	CapitalDeployed float64   `json:"capital_deployed" db:"capital_deployed"`
	CurrentValue    float64   `json:"current_value" db:"current_value"`
	Status          string    `json:"status" db:"status"`
	CurrentStep     int       `json:"current_step" db:"current_step"`
	HaltReason      string    `json:"halt_reason,omitempty" db:"halt_reason"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// PnLPercent is the live profit/loss fraction of a deployment. Returns 0
// for a zero-capital deployment rather than dividing by zero.
func (d Deployment) PnLPercent() float64 {
	if d.CapitalDeployed == 0 {
		return 0
	}
	return (d.CurrentValue - d.CapitalDeployed) / d.CapitalDeployed
}

// KillSwitchEvent is the immutable record of a forced halt. Exactly one
// event exists per halt; re-halting a halted deployment writes nothing.
type KillSwitchEvent struct {
	ID           string    `json:"id" db:"id"`
	OrgID        string    `json:"org_id" db:"org_id"`
	DeploymentID string    `json:"deployment_id" db:"deployment_id"`
	ContractID   string    `json:"contract_id" db:"contract_id"`
	Reason       string    `json:"reason" db:"reason"`
	LossAmount   float64   `json:"loss_amount" db:"loss_amount"`
	TriggeredBy  string    `json:"triggered_by" db:"triggered_by"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Alert severities raised by deployment monitoring.
const (
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert is a monitoring finding for one deployment. Critical alerts are
// accompanied by an automatic halt.
type Alert struct {
	DeploymentID string  `json:"deployment_id"`
	Severity     string  `json:"severity"`
	Message      string  `json:"message"`
	PnLPercent   float64 `json:"pnl_percent"`
	Halted       bool    `json:"halted"`
}

// Business rows read by the agents. These belong to the wider dashboard
// schema; only the fields the agents inspect are modeled here.

// Transaction is a recorded sale the pricing guard audits.
type Transaction struct {
	ID        string    `json:"id" db:"id"`
	OrgID     string    `json:"org_id" db:"org_id"`
	BasePrice float64   `json:"base_price" db:"base_price"`
	Amount    float64   `json:"amount" db:"amount"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Lead is an inbound prospect the lead filter triages.
type Lead struct {
	ID           string    `json:"id" db:"id"`
	OrgID        string    `json:"org_id" db:"org_id"`
	QualityScore int       `json:"quality_score" db:"quality_score"`
	Status       string    `json:"status" db:"status"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Meeting is a calendar entry the calendar guard prices.
type Meeting struct {
	ID            string    `json:"id" db:"id"`
	OrgID         string    `json:"org_id" db:"org_id"`
	Title         string    `json:"title" db:"title"`
	DurationHours float64   `json:"duration_hours" db:"duration_hours"`
	RevenueLinked bool      `json:"revenue_linked" db:"revenue_linked"`
	StartsAt      time.Time `json:"starts_at" db:"starts_at"`
}

// Integration is a connected third-party service the waste detector audits.
type Integration struct {
	ID         string    `json:"id" db:"id"`
	OrgID      string    `json:"org_id" db:"org_id"`
	Name       string    `json:"name" db:"name"`
	LastSyncAt time.Time `json:"last_sync_at" db:"last_sync_at"`
}

// Workflow is an automation the waste detector audits for dead weight.
type Workflow struct {
	ID        string    `json:"id" db:"id"`
	OrgID     string    `json:"org_id" db:"org_id"`
	Name      string    `json:"name" db:"name"`
	RunCount  int       `json:"run_count" db:"run_count"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
