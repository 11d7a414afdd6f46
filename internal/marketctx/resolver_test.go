package marketctx_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/autopilot/internal/domain"
	"github.com/meridianhq/autopilot/internal/marketctx"
	"github.com/meridianhq/autopilot/internal/store/memory"
)

func TestResolveKnownPhase(t *testing.T) {
	st := memory.New()
	st.PutAutonomyState(domain.AutonomyState{OrgID: "org-1", Enabled: true, Level: 2})

	phases := marketctx.StaticPhaseSource{"org-1": domain.PhaseGrowth}
	r := marketctx.NewResolver(phases, st, nil, 0)

	res := r.Resolve(context.Background(), "org-1")
	assert.Equal(t, domain.PhaseGrowth, res.Context.Phase)
	assert.Equal(t, 1.5, res.Context.Aggressiveness)
	assert.True(t, res.Autonomy.Enabled)
}

// A missing feed must resolve to the consolidation baseline, never to a
// more aggressive posture.
func TestResolveMissingPhaseDefaultsConservative(t *testing.T) {
	st := memory.New()
	r := marketctx.NewResolver(marketctx.StaticPhaseSource{}, st, nil, 0)

	res := r.Resolve(context.Background(), "org-unknown")
	assert.Equal(t, domain.PhaseConsolidation, res.Context.Phase)
	assert.Equal(t, 1.0, res.Context.Aggressiveness)
	assert.False(t, res.Autonomy.Enabled)
}

func TestResolvePhaseCachedInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	st := memory.New()
	phases := marketctx.StaticPhaseSource{"org-1": domain.PhaseHarvest}
	r := marketctx.NewResolver(phases, st, cache, time.Minute)

	res := r.Resolve(context.Background(), "org-1")
	require.Equal(t, domain.PhaseHarvest, res.Context.Phase)

	// Flip the feed; the cached phase must still win inside the TTL.
	phases["org-1"] = domain.PhaseGrowth
	res = r.Resolve(context.Background(), "org-1")
	assert.Equal(t, domain.PhaseHarvest, res.Context.Phase)

	mr.FastForward(2 * time.Minute)
	res = r.Resolve(context.Background(), "org-1")
	assert.Equal(t, domain.PhaseGrowth, res.Context.Phase)
}

func TestResolveIgnoresGarbageCacheValue(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()
	require.NoError(t, mr.Set("autopilot:phase:org-1", "hyper_growth"))

	st := memory.New()
	phases := marketctx.StaticPhaseSource{"org-1": domain.PhasePivot}
	r := marketctx.NewResolver(phases, st, cache, time.Minute)

	res := r.Resolve(context.Background(), "org-1")
	assert.Equal(t, domain.PhasePivot, res.Context.Phase)
}
