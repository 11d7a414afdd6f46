package agents

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/meridianhq/autopilot/internal/domain"
	"github.com/meridianhq/autopilot/internal/ledger"
	"github.com/meridianhq/autopilot/internal/store"
)

const baseMaxDiscountPercent = 20.0

// PricingGuard flags recent transactions priced below the discount floor.
// It never reprices anything itself; every violation is surfaced for human
// review.
type PricingGuard struct {
	business store.BusinessStore
	ledger   *ledger.Ledger
}

// NewPricingGuard builds the agent.
func NewPricingGuard(business store.BusinessStore, l *ledger.Ledger) *PricingGuard {
	return &PricingGuard{business: business, ledger: l}
}

func (a *PricingGuard) Type() string { return TypePricingGuard }

// maxDiscount is the tolerated discount percentage: the base, shifted by
// risk tolerance and by market phase. Growth tolerates deeper discounts,
// harvest tightens.
func maxDiscount(tolerance domain.RiskTolerance, phase domain.MarketPhase) float64 {
	d := baseMaxDiscountPercent
	switch tolerance {
	case domain.RiskAggressive:
		d += 5
	case domain.RiskConservative:
		d -= 5
	}
	switch phase {
	case domain.PhaseGrowth:
		d += 5
	case domain.PhaseHarvest:
		d -= 5
	}
	return d
}

func (a *PricingGuard) Run(ctx context.Context, run TenantRun) (Result, error) {
	result := Result{AgentType: a.Type(), Errors: []string{}}

	txs, err := a.business.ListRecentTransactions(ctx, run.OrgID)
	if err != nil {
		return result, fmt.Errorf("list transactions: %w", err)
	}

	limit := maxDiscount(run.Policy.RiskTolerance, run.Context.Phase)
	for _, tx := range txs {
		floor := tx.BasePrice * (1 - limit/100)
		if tx.Amount >= floor {
			continue
		}
		shortfall := floor - tx.Amount
		_, err := a.ledger.Append(ctx, ledger.Entry{
			OrgID:      run.OrgID,
			Actor:      a.Type(),
			ActionType: "discount_violation_flagged",
			TargetRef:  tx.ID,
			Decision:   "flag",
			Reasoning: fmt.Sprintf("transaction priced %.2f, below floor %.2f (max discount %.0f%%)",
				tx.Amount, floor, limit),
			ValueImpact:      shortfall,
			RequiresApproval: true,
		})
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.ActionsBlocked++
		result.ValueGenerated += shortfall
	}

	log.Debug().
		Str("org", run.OrgID).
		Int("flagged", result.ActionsBlocked).
		Float64("max_discount_pct", limit).
		Msg("pricing guard finished")
	return result, nil
}
