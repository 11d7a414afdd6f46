// Package pipeline drives capital deployments through their lifecycle:
// scan finds opportunities, simulate projects them, execute allocates
// capital under the contract cap, monitor watches live P&L, and halt is
// the single kill-switch primitive shared by operators and the automatic
// monitor.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/meridianhq/autopilot/internal/domain"
	"github.com/meridianhq/autopilot/internal/ledger"
	"github.com/meridianhq/autopilot/internal/metrics"
	"github.com/meridianhq/autopilot/internal/store"
)

const (
	// minDeployable is the smallest capital slice worth an opportunity.
	minDeployable = 100.0
	// maxContractSlice caps one opportunity at a quarter of the contract.
	maxContractSlice = 0.25
	// drawdownAlertPct raises a high-severity alert without halting.
	drawdownAlertPct = -0.30
)

// Pipeline owns opportunities and deployments. Only the halt path may be
// reached from outside tenant request traffic (via the kill switch).
type Pipeline struct {
	store   store.CapitalStore
	ledger  *ledger.Ledger
	metrics *metrics.Metrics
}

// New builds a pipeline.
func New(s store.CapitalStore, l *ledger.Ledger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{store: s, ledger: l, metrics: m}
}

// Scan reads the tenant's active contracts and emits detected
// opportunities for every contract with deployable headroom.
func (p *Pipeline) Scan(ctx context.Context, orgID string) ([]domain.Opportunity, error) {
	contracts, err := p.store.ListActiveContracts(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	var opps []domain.Opportunity
	for _, c := range contracts {
		headroom := c.Headroom()
		if headroom < minDeployable {
			continue
		}
		capital := c.MaxCapital * maxContractSlice
		if capital > headroom {
			capital = headroom
		}
		opp := domain.Opportunity{
			ID:               uuid.NewString(),
			OrgID:            orgID,
			ContractID:       c.ID,
			Type:             "capital_arbitrage",
			EstimatedCost:    capital,
			EstimatedRevenue: capital * 1.3,
			RequiresCapital:  capital,
			ConfidenceScore:  0.5 + 0.4*(headroom/c.MaxCapital),
			Status:           domain.OpportunityDetected,
			CreatedAt:        time.Now().UTC(),
		}
		if err := p.store.CreateOpportunity(ctx, opp); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		opps = append(opps, opp)
	}

	log.Info().Str("org", orgID).Int("detected", len(opps)).Msg("opportunity scan finished")
	return opps, nil
}

// Simulate computes the three scenario payoffs and the probability-weighted
// expected value, then marks the opportunity ready. Callable repeatedly;
// it only overwrites the projection fields of the opportunity row.
func (p *Pipeline) Simulate(ctx context.Context, opportunityID string) (domain.Opportunity, error) {
	opp, err := p.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return domain.Opportunity{}, err
	}

	conf := opp.ConfidenceScore
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	opp.WorstCase = opp.EstimatedCost * 0.6
	opp.BaseCase = opp.EstimatedRevenue
	opp.BestCase = opp.EstimatedRevenue * 1.25

	pWorst := (1 - conf) * 0.7
	pBest := (1 - conf) * 0.3
	opp.ExpectedValue = pWorst*opp.WorstCase + conf*opp.BaseCase + pBest*opp.BestCase
	if opp.EstimatedCost > 0 {
		opp.RiskAdjustedReturn = (opp.BaseCase - opp.EstimatedCost) / opp.EstimatedCost
	}
	opp.Status = domain.OpportunityReady

	if err := p.store.SaveProjection(ctx, opp); err != nil {
		return domain.Opportunity{}, err
	}

	log.Info().
		Str("org", opp.OrgID).
		Str("opportunity", opp.ID).
		Float64("expected_value", opp.ExpectedValue).
		Float64("risk_adjusted_return", opp.RiskAdjustedReturn).
		Msg("opportunity simulated")
	return opp, nil
}

// Execute deploys capital against a ready opportunity. The contract
// headroom check and the increment are one atomic store operation; a
// failed check mutates nothing and surfaces CapitalExceededError.
func (p *Pipeline) Execute(ctx context.Context, opportunityID string) (domain.Deployment, error) {
	opp, err := p.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return domain.Deployment{}, err
	}
	if opp.Status != domain.OpportunityReady {
		return domain.Deployment{}, domain.NewValidationError("opportunity_id",
			fmt.Sprintf("must be in %s status, is %s", domain.OpportunityReady, opp.Status))
	}
	if _, err := p.store.GetContract(ctx, opp.ContractID); err != nil {
		return domain.Deployment{}, err
	}

	// Claim the ready row before touching capital so two concurrent
	// executions of the same opportunity cannot both deploy.
	claimed, err := p.store.ClaimOpportunity(ctx, opp.ID)
	if err != nil {
		return domain.Deployment{}, err
	}
	if !claimed {
		return domain.Deployment{}, domain.NewValidationError("opportunity_id",
			fmt.Sprintf("already claimed by a concurrent execution, is no longer %s", domain.OpportunityReady))
	}

	if err := p.store.ReserveCapital(ctx, opp.ContractID, opp.RequiresCapital); err != nil {
		if domain.IsCapitalExceeded(err) {
			p.metrics.ExecuteRejections.Inc()
		}
		p.releaseClaim(ctx, opp.ID)
		return domain.Deployment{}, err
	}

	now := time.Now().UTC()
	dep := domain.Deployment{
		ID:              uuid.NewString(),
		OrgID:           opp.OrgID,
		ContractID:      opp.ContractID,
		OpportunityID:   opp.ID,
		CapitalDeployed: opp.RequiresCapital,
		CurrentValue:    opp.RequiresCapital,
		Status:          domain.DeploymentActive,
		CurrentStep:     0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := p.store.CreateDeployment(ctx, dep); err != nil {
		// Roll the reservation back; the deployment row never existed.
		if relErr := p.store.ReleaseCapital(ctx, opp.ContractID, opp.RequiresCapital); relErr != nil {
			log.Error().Err(relErr).Str("contract", opp.ContractID).
				Msg("failed to release capital after deployment create failure")
		}
		p.releaseClaim(ctx, opp.ID)
		return domain.Deployment{}, fmt.Errorf("execute: %w", err)
	}

	if _, err := p.ledger.Append(ctx, ledger.Entry{
		OrgID:      opp.OrgID,
		Actor:      domain.ActorSystem,
		ActionType: domain.ActionDeploymentExec,
		TargetRef:  dep.ID,
		Decision:   "executed",
		Reasoning: fmt.Sprintf("opportunity %s passed simulation and contract validation, deploying %.2f against contract %s",
			opp.ID, opp.RequiresCapital, opp.ContractID),
		ConfidenceScore: opp.ConfidenceScore,
		ValueImpact:     opp.ExpectedValue - opp.EstimatedCost,
		AutoExecuted:    true,
	}); err != nil {
		log.Warn().Err(err).Str("deployment", dep.ID).Msg("failed to write execution audit record")
	}

	if c, err := p.store.GetContract(ctx, opp.ContractID); err == nil {
		p.metrics.CapitalDeployed.WithLabelValues(c.ID).Set(c.CurrentDeployed)
	}

	log.Info().
		Str("org", dep.OrgID).
		Str("deployment", dep.ID).
		Str("contract", dep.ContractID).
		Float64("capital", dep.CapitalDeployed).
		Msg("deployment executed")
	return dep, nil
}

// releaseClaim puts a claimed opportunity back in ready after a failed
// execution so a later attempt can pick it up.
func (p *Pipeline) releaseClaim(ctx context.Context, opportunityID string) {
	if err := p.store.SetOpportunityStatus(ctx, opportunityID, domain.OpportunityReady); err != nil {
		log.Error().Err(err).Str("opportunity", opportunityID).
			Msg("failed to release opportunity claim after execution failure")
	}
}

// Monitor sweeps the tenant's open deployments (all tenants when orgID is
// empty), computing live P&L. Loss beyond the contract's max_loss halts
// the deployment through the shared halt primitive.
func (p *Pipeline) Monitor(ctx context.Context, orgID string) ([]domain.Alert, error) {
	deps, err := p.store.ListOpenDeployments(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	p.metrics.OpenDeployments.Set(float64(len(deps)))

	alerts := []domain.Alert{}
	for _, dep := range deps {
		contract, err := p.store.GetContract(ctx, dep.ContractID)
		if err != nil {
			log.Error().Err(err).Str("deployment", dep.ID).Msg("monitor: contract lookup failed")
			continue
		}

		pnl := dep.PnLPercent()
		loss := dep.CapitalDeployed - dep.CurrentValue

		if loss > contract.MaxLoss {
			reason := fmt.Sprintf("loss %.2f breached contract max loss %.2f", loss, contract.MaxLoss)
			if _, err := p.Halt(ctx, dep.ID, reason, "kill_switch"); err != nil {
				log.Error().Err(err).Str("deployment", dep.ID).Msg("monitor: halt failed")
				continue
			}
			alerts = append(alerts, domain.Alert{
				DeploymentID: dep.ID,
				Severity:     domain.SeverityCritical,
				Message:      reason,
				PnLPercent:   pnl,
				Halted:       true,
			})
			continue
		}

		if pnl < drawdownAlertPct {
			alerts = append(alerts, domain.Alert{
				DeploymentID: dep.ID,
				Severity:     domain.SeverityHigh,
				Message:      fmt.Sprintf("deployment down %.1f%%, within loss limit", pnl*100),
				PnLPercent:   pnl,
			})
		}
	}
	return alerts, nil
}

// Halt force-stops a deployment. It is the single halt code path for both
// operator action and the kill switch, unconditional and idempotent:
// halting an already-halted deployment writes nothing and is not an
// error. Capital is NOT released here; reconciliation is an explicit
// separate step.
func (p *Pipeline) Halt(ctx context.Context, deploymentID, reason, triggeredBy string) (domain.Deployment, error) {
	transitioned, err := p.store.HaltDeployment(ctx, deploymentID, reason)
	if err != nil {
		return domain.Deployment{}, err
	}
	dep, err := p.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return domain.Deployment{}, err
	}
	if !transitioned {
		return dep, nil
	}

	ev := domain.KillSwitchEvent{
		ID:           uuid.NewString(),
		OrgID:        dep.OrgID,
		DeploymentID: dep.ID,
		ContractID:   dep.ContractID,
		Reason:       reason,
		LossAmount:   dep.CapitalDeployed - dep.CurrentValue,
		TriggeredBy:  triggeredBy,
		CreatedAt:    time.Now().UTC(),
	}
	if err := p.store.AppendKillSwitchEvent(ctx, ev); err != nil {
		return domain.Deployment{}, fmt.Errorf("halt: record event: %w", err)
	}
	p.metrics.KillSwitchHalts.Inc()

	// A halt is a successful execution of the safety contract, logged as
	// such and never as a failure.
	if _, err := p.ledger.Append(ctx, ledger.Entry{
		OrgID:        dep.OrgID,
		Actor:        triggeredBy,
		ActionType:   domain.ActionDeploymentHalt,
		TargetRef:    dep.ID,
		Decision:     "halted",
		Reasoning:    reason,
		ValueImpact:  -(dep.CapitalDeployed - dep.CurrentValue),
		AutoExecuted: true,
	}); err != nil {
		log.Warn().Err(err).Str("deployment", dep.ID).Msg("failed to write halt audit record")
	}

	log.Warn().
		Str("org", dep.OrgID).
		Str("deployment", dep.ID).
		Str("reason", reason).
		Str("triggered_by", triggeredBy).
		Msg("deployment halted")
	return dep, nil
}

// Reconcile releases a terminal deployment's capital back to its contract.
// Halting alone never does this; the accounting step is always explicit.
func (p *Pipeline) Reconcile(ctx context.Context, deploymentID string) (domain.Deployment, error) {
	dep, err := p.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return domain.Deployment{}, err
	}
	if dep.Status != domain.DeploymentHalted && dep.Status != domain.DeploymentCompleted {
		return domain.Deployment{}, domain.NewValidationError("deployment_id",
			fmt.Sprintf("must be halted or completed, is %s", dep.Status))
	}

	if err := p.store.ReleaseCapital(ctx, dep.ContractID, dep.CapitalDeployed); err != nil {
		return domain.Deployment{}, err
	}
	if err := p.store.SetDeploymentStatus(ctx, dep.ID, domain.DeploymentReconciled); err != nil {
		return domain.Deployment{}, err
	}
	dep.Status = domain.DeploymentReconciled

	if _, err := p.ledger.Append(ctx, ledger.Entry{
		OrgID:        dep.OrgID,
		Actor:        domain.ActorOperator,
		ActionType:   domain.ActionCapitalRecon,
		TargetRef:    dep.ID,
		Decision:     "reconciled",
		Reasoning:    fmt.Sprintf("released %.2f back to contract %s", dep.CapitalDeployed, dep.ContractID),
		ValueImpact:  dep.CurrentValue - dep.CapitalDeployed,
		AutoExecuted: false,
	}); err != nil {
		log.Warn().Err(err).Str("deployment", dep.ID).Msg("failed to write reconciliation audit record")
	}

	if c, err := p.store.GetContract(ctx, dep.ContractID); err == nil {
		p.metrics.CapitalDeployed.WithLabelValues(c.ID).Set(c.CurrentDeployed)
	}
	return dep, nil
}
