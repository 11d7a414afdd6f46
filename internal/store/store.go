// Package store defines the persistence boundary for the orchestrator.
// Two implementations exist: postgres (production) and memory (tests and
// dev mode). All rows are tenant-scoped; callers always pass the org id.
package store

import (
	"context"

	"github.com/meridianhq/autopilot/internal/domain"
)

// PolicyStore holds per-tenant agent policy and autonomy state.
type PolicyStore interface {
	// EnsureAgentConfig returns the stored config for (org, agent), creating
	// it with defaults on first touch.
	EnsureAgentConfig(ctx context.Context, orgID, agentType string) (domain.AgentConfig, error)

	// RecordAgentOutcome additively increments the cumulative counters and
	// the day-keyed action counter. day is a YYYY-MM-DD key; a stored row
	// with a different day has its daily counter reset to actions.
	// Last-writer-wins semantics are acceptable here.
	RecordAgentOutcome(ctx context.Context, orgID, agentType, day string, actions int, value float64) error

	// GetAutonomyState returns the tenant's autonomy switch; a missing row
	// reads as disabled, never as an error.
	GetAutonomyState(ctx context.Context, orgID string) (domain.AutonomyState, error)

	// RecordAutonomyCounters additively increments autonomy-mode counters.
	RecordAutonomyCounters(ctx context.Context, orgID string, observations, decisions, risks, actions int64) error

	// ListAutonomousOrgs returns org ids whose autonomy level is at least
	// minLevel; used when a cycle trigger names no tenant.
	ListAutonomousOrgs(ctx context.Context, minLevel int) ([]string, error)
}

// CapitalStore holds contracts, opportunities and deployments.
type CapitalStore interface {
	GetContract(ctx context.Context, id string) (domain.CapitalContract, error)
	ListActiveContracts(ctx context.Context, orgID string) ([]domain.CapitalContract, error)

	// ReserveCapital atomically increments current_deployed by amount iff
	// the contract stays within max_capital, returning CapitalExceededError
	// otherwise. Implementations must not read-then-write unconditionally.
	ReserveCapital(ctx context.Context, contractID string, amount float64) error

	// ReleaseCapital decrements current_deployed by amount, flooring at
	// zero. Used only by the explicit reconciliation step.
	ReleaseCapital(ctx context.Context, contractID string, amount float64) error

	CreateOpportunity(ctx context.Context, opp domain.Opportunity) error
	GetOpportunity(ctx context.Context, id string) (domain.Opportunity, error)

	// SaveProjection overwrites the simulation fields and status of an
	// opportunity. Idempotent by construction.
	SaveProjection(ctx context.Context, opp domain.Opportunity) error

	SetOpportunityStatus(ctx context.Context, id, status string) error

	// ClaimOpportunity conditionally transitions an opportunity from ready
	// to executing. Returns false when another execution already claimed
	// it; only the caller that gets true may deploy capital against it.
	ClaimOpportunity(ctx context.Context, id string) (bool, error)

	CreateDeployment(ctx context.Context, dep domain.Deployment) error
	GetDeployment(ctx context.Context, id string) (domain.Deployment, error)

	// ListOpenDeployments returns deployments in active or monitoring
	// status. Empty orgID means all tenants (kill-switch sweep).
	ListOpenDeployments(ctx context.Context, orgID string) ([]domain.Deployment, error)

	// HaltDeployment conditionally transitions a deployment to halted,
	// stamping the reason. Returns false when the deployment was already
	// halted or otherwise terminal; the caller writes audit records only
	// on a true return, which is what makes halt idempotent.
	HaltDeployment(ctx context.Context, id, reason string) (bool, error)

	// SetDeploymentStatus transitions between non-halt statuses.
	SetDeploymentStatus(ctx context.Context, id, status string) error

	AppendKillSwitchEvent(ctx context.Context, ev domain.KillSwitchEvent) error
	ListKillSwitchEvents(ctx context.Context, orgID string) ([]domain.KillSwitchEvent, error)
}

// LedgerStore is the append-only action log. No update or delete exists on
// purpose; reviews of pending records append new rows.
type LedgerStore interface {
	AppendAction(ctx context.Context, act domain.AutonomousAction) error
	GetAction(ctx context.Context, id string) (domain.AutonomousAction, error)
	ListActions(ctx context.Context, orgID string, limit int) ([]domain.AutonomousAction, error)

	// ListActionsByTarget returns rows whose TargetRef equals ref, oldest
	// first; used to derive the current review status of a record.
	ListActionsByTarget(ctx context.Context, ref string) ([]domain.AutonomousAction, error)
}

// BusinessStore exposes the dashboard rows the agents inspect. The wider
// CRUD schema behind these reads is out of scope; only agent-facing
// queries are modeled.
type BusinessStore interface {
	ListRecentTransactions(ctx context.Context, orgID string) ([]domain.Transaction, error)
	ListPendingLeads(ctx context.Context, orgID string) ([]domain.Lead, error)
	SetLeadStatus(ctx context.Context, leadID, status string) error
	ListUpcomingMeetings(ctx context.Context, orgID string) ([]domain.Meeting, error)
	DeclineMeeting(ctx context.Context, meetingID string) error
	ListIntegrations(ctx context.Context, orgID string) ([]domain.Integration, error)
	ListWorkflows(ctx context.Context, orgID string) ([]domain.Workflow, error)
}

// Store is the full persistence surface used by the orchestrator, pipeline
// and kill switch.
type Store interface {
	PolicyStore
	CapitalStore
	LedgerStore
	BusinessStore
}
