package agents

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/meridianhq/autopilot/internal/domain"
	"github.com/meridianhq/autopilot/internal/ledger"
	"github.com/meridianhq/autopilot/internal/store"
)

const (
	baseLeadQualityThreshold = 40
	fastTrackScore           = 80
)

// LeadFilter auto-rejects leads below a phase-adjusted quality threshold
// and fast-tracks leads scoring above fastTrackScore.
type LeadFilter struct {
	business store.BusinessStore
	ledger   *ledger.Ledger
}

// NewLeadFilter builds the agent.
func NewLeadFilter(business store.BusinessStore, l *ledger.Ledger) *LeadFilter {
	return &LeadFilter{business: business, ledger: l}
}

func (a *LeadFilter) Type() string { return TypeLeadFilter }

// rejectThreshold shifts the base quality bar by phase: growth casts a
// wider net, harvest filters hard, pivot loosens slightly.
func rejectThreshold(phase domain.MarketPhase) int {
	t := baseLeadQualityThreshold
	switch phase {
	case domain.PhaseGrowth:
		t -= 10
	case domain.PhaseHarvest:
		t += 15
	case domain.PhasePivot:
		t -= 5
	}
	return t
}

func (a *LeadFilter) Run(ctx context.Context, run TenantRun) (Result, error) {
	result := Result{AgentType: a.Type(), Errors: []string{}}

	leads, err := a.business.ListPendingLeads(ctx, run.OrgID)
	if err != nil {
		return result, fmt.Errorf("list pending leads: %w", err)
	}

	threshold := rejectThreshold(run.Context.Phase)
	for _, lead := range leads {
		switch {
		case lead.QualityScore < threshold:
			if !run.Budget.Take() {
				result.ActionsBlocked++
				continue
			}
			if err := a.business.SetLeadStatus(ctx, lead.ID, "rejected"); err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			if _, err := a.ledger.Append(ctx, ledger.Entry{
				OrgID:      run.OrgID,
				Actor:      a.Type(),
				ActionType: "auto_reject",
				TargetRef:  lead.ID,
				Decision:   "rejected",
				Reasoning: fmt.Sprintf("quality score %d below threshold %d in %s phase",
					lead.QualityScore, threshold, run.Context.Phase),
				ConfidenceScore: confidenceFromMargin(threshold - lead.QualityScore),
				AutoExecuted:    true,
			}); err != nil {
				result.Errors = append(result.Errors, err.Error())
			}
			result.ActionsTaken++

		case lead.QualityScore > fastTrackScore:
			if !run.Budget.Take() {
				result.ActionsBlocked++
				continue
			}
			if err := a.business.SetLeadStatus(ctx, lead.ID, "fast_tracked"); err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			if _, err := a.ledger.Append(ctx, ledger.Entry{
				OrgID:           run.OrgID,
				Actor:           a.Type(),
				ActionType:      "fast_track",
				TargetRef:       lead.ID,
				Decision:        "fast_tracked",
				Reasoning:       fmt.Sprintf("quality score %d above fast-track bar %d", lead.QualityScore, fastTrackScore),
				ConfidenceScore: confidenceFromMargin(lead.QualityScore - fastTrackScore),
				AutoExecuted:    true,
			}); err != nil {
				result.Errors = append(result.Errors, err.Error())
			}
			result.ActionsTaken++
		}
	}

	log.Debug().
		Str("org", run.OrgID).
		Int("threshold", threshold).
		Int("actions", result.ActionsTaken).
		Msg("lead filter finished")
	return result, nil
}

// confidenceFromMargin maps a score margin to a 0.5-0.99 confidence.
func confidenceFromMargin(margin int) float64 {
	c := 0.5 + float64(margin)/100
	if c > 0.99 {
		c = 0.99
	}
	if c < 0.5 {
		c = 0.5
	}
	return c
}
