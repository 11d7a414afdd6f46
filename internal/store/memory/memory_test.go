package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/autopilot/internal/domain"
)

func TestReserveCapitalEnforcesCeiling(t *testing.T) {
	ctx := context.Background()
	st := New()
	st.PutContract(domain.CapitalContract{
		ID: "c1", OrgID: "org-a", Status: domain.ContractActive,
		MaxCapital: 1000, CurrentDeployed: 600,
	})

	require.NoError(t, st.ReserveCapital(ctx, "c1", 400))

	err := st.ReserveCapital(ctx, "c1", 1)
	require.Error(t, err)
	assert.True(t, domain.IsCapitalExceeded(err))

	c, err := st.GetContract(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, c.CurrentDeployed)
}

func TestReserveCapitalConcurrent(t *testing.T) {
	ctx := context.Background()
	st := New()
	st.PutContract(domain.CapitalContract{
		ID: "c1", OrgID: "org-a", Status: domain.ContractActive, MaxCapital: 500,
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := st.ReserveCapital(ctx, "c1", 100); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	c, err := st.GetContract(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 500.0, c.CurrentDeployed)
}

func TestReleaseCapitalFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	st := New()
	st.PutContract(domain.CapitalContract{ID: "c1", Status: domain.ContractActive, MaxCapital: 100, CurrentDeployed: 50})

	require.NoError(t, st.ReleaseCapital(ctx, "c1", 80))
	c, err := st.GetContract(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.CurrentDeployed)
}

func TestHaltDeploymentTransitionsOnce(t *testing.T) {
	ctx := context.Background()
	st := New()
	st.PutDeployment(domain.Deployment{ID: "d1", OrgID: "org-a", Status: domain.DeploymentActive})

	halted, err := st.HaltDeployment(ctx, "d1", "loss limit breached")
	require.NoError(t, err)
	assert.True(t, halted)

	halted, err = st.HaltDeployment(ctx, "d1", "second reason")
	require.NoError(t, err)
	assert.False(t, halted)

	dep, err := st.GetDeployment(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentHalted, dep.Status)
	assert.Equal(t, "loss limit breached", dep.HaltReason)
}

func TestHaltDeploymentUnknownID(t *testing.T) {
	st := New()
	_, err := st.HaltDeployment(context.Background(), "missing", "r")
	assert.True(t, domain.IsNotFound(err))
}

func TestClaimOpportunityOnlyFromReady(t *testing.T) {
	ctx := context.Background()
	st := New()
	require.NoError(t, st.CreateOpportunity(ctx, domain.Opportunity{ID: "o1", Status: domain.OpportunityReady}))

	claimed, err := st.ClaimOpportunity(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = st.ClaimOpportunity(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, claimed)

	opp, err := st.GetOpportunity(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OpportunityExecuting, opp.Status)

	_, err = st.ClaimOpportunity(ctx, "missing")
	assert.True(t, domain.IsNotFound(err))
}

func TestRecordAgentOutcomeRollsDayWindow(t *testing.T) {
	ctx := context.Background()
	st := New()

	require.NoError(t, st.RecordAgentOutcome(ctx, "org-a", "lead_filter", "2026-08-29", 3, 10))
	require.NoError(t, st.RecordAgentOutcome(ctx, "org-a", "lead_filter", "2026-08-29", 2, 5))
	cfg, err := st.EnsureAgentConfig(ctx, "org-a", "lead_filter")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.ActionsToday)
	assert.Equal(t, int64(5), cfg.TotalActionsTaken)

	// A new day resets the daily counter but keeps lifetime totals.
	require.NoError(t, st.RecordAgentOutcome(ctx, "org-a", "lead_filter", "2026-08-30", 1, 2))
	cfg, err = st.EnsureAgentConfig(ctx, "org-a", "lead_filter")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.ActionsToday)
	assert.Equal(t, int64(6), cfg.TotalActionsTaken)
	assert.Equal(t, 17.0, cfg.TotalValueGenerated)
}

func TestListAutonomousOrgsFiltersByLevel(t *testing.T) {
	ctx := context.Background()
	st := New()
	st.PutAutonomyState(domain.AutonomyState{OrgID: "org-a", Level: 3})
	st.PutAutonomyState(domain.AutonomyState{OrgID: "org-b", Level: 1})
	st.PutAutonomyState(domain.AutonomyState{OrgID: "org-c", Level: 2})

	orgs, err := st.ListAutonomousOrgs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"org-a", "org-c"}, orgs)
}

func TestListActionsNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	st := New()
	for _, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, st.AppendAction(ctx, domain.AutonomousAction{ID: id, OrgID: "org-a"}))
	}

	acts, err := st.ListActions(ctx, "org-a", 2)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, "a3", acts[0].ID)
	assert.Equal(t, "a2", acts[1].ID)
}

func TestListOpenDeploymentsAllTenants(t *testing.T) {
	ctx := context.Background()
	st := New()
	st.PutDeployment(domain.Deployment{ID: "d1", OrgID: "org-a", Status: domain.DeploymentActive})
	st.PutDeployment(domain.Deployment{ID: "d2", OrgID: "org-b", Status: domain.DeploymentMonitoring})
	st.PutDeployment(domain.Deployment{ID: "d3", OrgID: "org-b", Status: domain.DeploymentHalted})

	all, err := st.ListOpenDeployments(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := st.ListOpenDeployments(ctx, "org-b")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "d2", scoped[0].ID)
}
