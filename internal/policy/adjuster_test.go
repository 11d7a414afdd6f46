package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/autopilot/internal/domain"
	"github.com/meridianhq/autopilot/internal/policy"
)

func baseConfig() domain.AgentConfig {
	cfg := domain.DefaultAgentConfig("org-1", "pricing_guard")
	cfg.AutoExecuteThreshold = 70
	cfg.RequiresApprovalAbove = 500
	cfg.MaxDailyActions = 25
	return cfg
}

func contextFor(phase domain.MarketPhase) domain.MarketContext {
	return domain.MarketContext{
		OrgID:          "org-1",
		Phase:          phase,
		Aggressiveness: phase.Aggressiveness(),
	}
}

func TestComputeMarketAdjustment(t *testing.T) {
	cfg := baseConfig()

	growth := policy.Compute(cfg, contextFor(domain.PhaseGrowth), false)
	assert.Equal(t, 47, growth.AutoExecuteThreshold) // round(70/1.5)
	assert.Equal(t, 750.0, growth.ApprovalCeiling)   // round(500*1.5)
	assert.Equal(t, 25, growth.MaxDailyActions)

	harvest := policy.Compute(cfg, contextFor(domain.PhaseHarvest), false)
	assert.Equal(t, 88, harvest.AutoExecuteThreshold) // round(70/0.8)
	assert.Equal(t, 400.0, harvest.ApprovalCeiling)
}

// Lower threshold means easier auto-execution, so the threshold must be
// non-increasing as aggressiveness increases.
func TestThresholdMonotonicInAggressiveness(t *testing.T) {
	cfg := baseConfig()
	// Ascending aggressiveness: pivot 0.5 ... growth 1.5.
	ordered := []domain.MarketPhase{
		domain.PhasePivot, domain.PhaseHarvest, domain.PhaseConsolidation,
		domain.PhaseExpansion, domain.PhaseGrowth,
	}
	prevThreshold := -1
	for _, phase := range ordered {
		eff := policy.Compute(cfg, contextFor(phase), false)
		if prevThreshold >= 0 {
			assert.LessOrEqual(t, eff.AutoExecuteThreshold, prevThreshold,
				"threshold must not increase from %s", phase)
		}
		prevThreshold = eff.AutoExecuteThreshold
	}
}

// Autonomy mode must always make auto-execution at least as easy and
// approval at least as rare as with it disabled.
func TestAutonomyAlwaysLoosens(t *testing.T) {
	cfg := baseConfig()
	for _, phase := range []domain.MarketPhase{
		domain.PhaseGrowth, domain.PhaseExpansion, domain.PhaseConsolidation,
		domain.PhaseHarvest, domain.PhasePivot,
	} {
		off := policy.Compute(cfg, contextFor(phase), false)
		on := policy.Compute(cfg, contextFor(phase), true)
		assert.LessOrEqual(t, on.AutoExecuteThreshold, off.AutoExecuteThreshold, "phase %s", phase)
		assert.GreaterOrEqual(t, on.ApprovalCeiling, off.ApprovalCeiling, "phase %s", phase)
		assert.Equal(t, off.MaxDailyActions*2, on.MaxDailyActions, "phase %s", phase)
	}
}

// Market adjustment first, autonomy second. Reversing the order changes
// the rounded threshold for some configs, so the exact composition is
// pinned here.
func TestAdjustmentOrdering(t *testing.T) {
	cfg := baseConfig()
	cfg.AutoExecuteThreshold = 75

	eff := policy.Compute(cfg, contextFor(domain.PhaseExpansion), true)
	// market: round(75/1.3) = 58; autonomy: round(58*0.7) = 41.
	// Reversed, round(75*0.7)=53 then round(53/1.3)=41 happens to agree,
	// but for the ceiling: round(round(500*1.3)*2) = 1300.
	require.Equal(t, 41, eff.AutoExecuteThreshold)
	require.Equal(t, 1300.0, eff.ApprovalCeiling)
}

func TestZeroAggressivenessFallsBackToBaseline(t *testing.T) {
	cfg := baseConfig()
	eff := policy.Compute(cfg, domain.MarketContext{Phase: domain.PhaseConsolidation}, false)
	assert.Equal(t, cfg.AutoExecuteThreshold, eff.AutoExecuteThreshold)
	assert.Equal(t, cfg.RequiresApprovalAbove, eff.ApprovalCeiling)
}

func TestRemainingActions(t *testing.T) {
	eff := policy.Effective{MaxDailyActions: 10, ActionsToday: 7}
	assert.Equal(t, 3, eff.RemainingActions())

	eff.ActionsToday = 12
	assert.Equal(t, 0, eff.RemainingActions())
}
