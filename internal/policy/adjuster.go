// Package policy computes cycle-scoped effective thresholds from the
// persisted base config and the resolved market context. Nothing here
// writes back to the store; base values are never overwritten.
package policy

import (
	"math"

	"github.com/meridianhq/autopilot/internal/domain"
)

// Autonomy-mode multipliers, applied after the market adjustment.
const (
	autonomyThresholdFactor = 0.7
	autonomyCeilingFactor   = 2.0
	autonomyDailyCapFactor  = 2
)

// Effective is the policy an agent runs under for exactly one cycle.
type Effective struct {
	AgentType            string
	RiskTolerance        domain.RiskTolerance
	AutoExecuteThreshold int
	ApprovalCeiling      float64
	MaxDailyActions      int
	ActionsToday         int
	AutonomyEnabled      bool
}

// Compute derives the effective policy. Order is a contract: the market
// aggressiveness adjustment runs first, the autonomy loosening second.
// Higher aggressiveness lowers the auto-execute bar and raises the value
// under which no human approval is needed.
func Compute(cfg domain.AgentConfig, mctx domain.MarketContext, autonomy bool) Effective {
	agg := mctx.Aggressiveness
	if agg <= 0 {
		agg = 1.0
	}

	threshold := int(math.Round(float64(cfg.AutoExecuteThreshold) / agg))
	ceiling := math.Round(cfg.RequiresApprovalAbove * agg)
	dailyCap := cfg.MaxDailyActions

	if autonomy {
		threshold = int(math.Round(float64(threshold) * autonomyThresholdFactor))
		ceiling = math.Round(ceiling * autonomyCeilingFactor)
		dailyCap *= autonomyDailyCapFactor
	}

	return Effective{
		AgentType:            cfg.AgentType,
		RiskTolerance:        cfg.RiskTolerance,
		AutoExecuteThreshold: threshold,
		ApprovalCeiling:      ceiling,
		MaxDailyActions:      dailyCap,
		ActionsToday:         cfg.ActionsToday,
		AutonomyEnabled:      autonomy,
	}
}

// RemainingActions is how many more actions the agent may take today under
// the effective daily cap.
func (e Effective) RemainingActions() int {
	remaining := e.MaxDailyActions - e.ActionsToday
	if remaining < 0 {
		return 0
	}
	return remaining
}
