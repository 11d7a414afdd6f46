// Package marketctx resolves the per-cycle situational modifiers for a
// tenant: the market-phase aggressiveness multiplier and the autonomy
// ("no-input mode") flag. Resolution has no side effects, and missing
// upstream data always degrades toward the conservative baseline.
package marketctx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/meridianhq/autopilot/internal/domain"
	"github.com/meridianhq/autopilot/internal/store"
)

// Resolved is the full situational input to one tenant cycle.
type Resolved struct {
	Context  domain.MarketContext
	Autonomy domain.AutonomyState
}

// Resolver computes Resolved values. The redis cache is optional; with a
// nil client every resolution hits the feed.
type Resolver struct {
	phases   PhaseSource
	policies store.PolicyStore
	cache    *redis.Client
	cacheTTL time.Duration
}

// NewResolver builds a resolver. cache may be nil.
func NewResolver(phases PhaseSource, policies store.PolicyStore, cache *redis.Client, cacheTTL time.Duration) *Resolver {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Resolver{phases: phases, policies: policies, cache: cache, cacheTTL: cacheTTL}
}

func phaseCacheKey(orgID string) string { return "autopilot:phase:" + orgID }

// Resolve returns the tenant's market context and autonomy state. A feed
// failure or unknown phase resolves to consolidation (aggressiveness 1.0)
// and an autonomy read failure resolves to disabled; the system never
// becomes more aggressive on missing data.
func (r *Resolver) Resolve(ctx context.Context, orgID string) Resolved {
	phase := r.resolvePhase(ctx, orgID)

	mctx := domain.MarketContext{
		OrgID:          orgID,
		Phase:          phase,
		Aggressiveness: phase.Aggressiveness(),
		ResolvedAt:     time.Now().UTC(),
	}

	autonomy, err := r.policies.GetAutonomyState(ctx, orgID)
	if err != nil {
		log.Warn().Err(err).Str("org", orgID).Msg("autonomy state unavailable, treating as disabled")
		autonomy = domain.AutonomyState{OrgID: orgID}
	}

	return Resolved{Context: mctx, Autonomy: autonomy}
}

func (r *Resolver) resolvePhase(ctx context.Context, orgID string) domain.MarketPhase {
	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, phaseCacheKey(orgID)).Result(); err == nil {
			if phase := domain.MarketPhase(cached); knownPhase(phase) {
				return phase
			}
		}
	}

	phase, err := r.phases.Phase(ctx, orgID)
	if err != nil || !knownPhase(phase) {
		if err != nil {
			log.Warn().Err(err).Str("org", orgID).Msg("phase feed unavailable, defaulting to consolidation")
		}
		return domain.PhaseConsolidation
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, phaseCacheKey(orgID), string(phase), r.cacheTTL).Err(); err != nil {
			log.Debug().Err(err).Str("org", orgID).Msg("phase cache write failed")
		}
	}
	return phase
}

func knownPhase(p domain.MarketPhase) bool {
	switch p {
	case domain.PhaseGrowth, domain.PhaseExpansion, domain.PhaseConsolidation,
		domain.PhaseHarvest, domain.PhasePivot:
		return true
	}
	return false
}
