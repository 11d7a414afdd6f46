package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meridianhq/autopilot/internal/ledger"
	"github.com/meridianhq/autopilot/internal/store"
)

const (
	staleIntegrationAfter = 30 * 24 * time.Hour
	idleWorkflowAfter     = 14 * 24 * time.Hour
)

// WasteDetector flags unsynced integrations and never-executed workflows.
// Deletions are irreversible, so every finding requires approval; this
// agent never auto-executes.
type WasteDetector struct {
	business store.BusinessStore
	ledger   *ledger.Ledger
	now      func() time.Time
}

// NewWasteDetector builds the agent.
func NewWasteDetector(business store.BusinessStore, l *ledger.Ledger) *WasteDetector {
	return &WasteDetector{business: business, ledger: l, now: time.Now}
}

func (a *WasteDetector) Type() string { return TypeWasteDetector }

func (a *WasteDetector) Run(ctx context.Context, run TenantRun) (Result, error) {
	result := Result{AgentType: a.Type(), Errors: []string{}}
	now := a.now()

	integrations, err := a.business.ListIntegrations(ctx, run.OrgID)
	if err != nil {
		return result, fmt.Errorf("list integrations: %w", err)
	}
	for _, in := range integrations {
		if now.Sub(in.LastSyncAt) <= staleIntegrationAfter {
			continue
		}
		if _, err := a.ledger.Append(ctx, ledger.Entry{
			OrgID:      run.OrgID,
			Actor:      a.Type(),
			ActionType: "stale_integration_flagged",
			TargetRef:  in.ID,
			Decision:   "flag",
			Reasoning: fmt.Sprintf("integration %q unsynced for %d days",
				in.Name, int(now.Sub(in.LastSyncAt).Hours()/24)),
			RequiresApproval: true,
		}); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.ActionsBlocked++
	}

	workflows, err := a.business.ListWorkflows(ctx, run.OrgID)
	if err != nil {
		return result, fmt.Errorf("list workflows: %w", err)
	}
	for _, wf := range workflows {
		if wf.RunCount > 0 || now.Sub(wf.CreatedAt) <= idleWorkflowAfter {
			continue
		}
		if _, err := a.ledger.Append(ctx, ledger.Entry{
			OrgID:      run.OrgID,
			Actor:      a.Type(),
			ActionType: "idle_workflow_flagged",
			TargetRef:  wf.ID,
			Decision:   "flag",
			Reasoning: fmt.Sprintf("workflow %q never executed since creation %d days ago",
				wf.Name, int(now.Sub(wf.CreatedAt).Hours()/24)),
			RequiresApproval: true,
		}); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.ActionsBlocked++
	}

	log.Debug().
		Str("org", run.OrgID).
		Int("flagged", result.ActionsBlocked).
		Msg("waste detector finished")
	return result, nil
}
