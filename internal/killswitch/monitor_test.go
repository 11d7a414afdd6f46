package killswitch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/autopilot/internal/domain"
	"github.com/meridianhq/autopilot/internal/killswitch"
	"github.com/meridianhq/autopilot/internal/ledger"
	"github.com/meridianhq/autopilot/internal/metrics"
	"github.com/meridianhq/autopilot/internal/pipeline"
	"github.com/meridianhq/autopilot/internal/store/memory"
)

func TestRunOnceSweepsAllTenants(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	st.PutContract(domain.CapitalContract{
		ID: "c-a", OrgID: "org-a", MaxCapital: 1000, CurrentDeployed: 500,
		MaxLoss: 200, Status: domain.ContractActive,
	})
	st.PutContract(domain.CapitalContract{
		ID: "c-b", OrgID: "org-b", MaxCapital: 1000, CurrentDeployed: 300,
		MaxLoss: 100, Status: domain.ContractActive,
	})
	// org-a is deep underwater, org-b is healthy.
	st.PutDeployment(domain.Deployment{
		ID: "dep-a", OrgID: "org-a", ContractID: "c-a", OpportunityID: "opp-a",
		CapitalDeployed: 500, CurrentValue: 100, Status: domain.DeploymentActive,
	})
	st.PutDeployment(domain.Deployment{
		ID: "dep-b", OrgID: "org-b", ContractID: "c-b", OpportunityID: "opp-b",
		CapitalDeployed: 300, CurrentValue: 310, Status: domain.DeploymentMonitoring,
	})

	p := pipeline.New(st, ledger.New(st), metrics.New())
	m := killswitch.New(p, time.Second)

	alerts, err := m.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "dep-a", alerts[0].DeploymentID)
	assert.True(t, alerts[0].Halted)

	depA, err := st.GetDeployment(ctx, "dep-a")
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentHalted, depA.Status)

	depB, err := st.GetDeployment(ctx, "dep-b")
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentMonitoring, depB.Status)
}

// The monitor and concurrent executes share one halt primitive and one
// atomic capital path, so racing them corrupts nothing.
func TestRunOnceConcurrentWithExecute(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	st.PutContract(domain.CapitalContract{
		ID: "c-1", OrgID: "org-1", MaxCapital: 1000, CurrentDeployed: 0,
		MaxLoss: 200, Status: domain.ContractActive,
	})
	p := pipeline.New(st, ledger.New(st), metrics.New())
	m := killswitch.New(p, time.Second)

	for _, id := range []string{"opp-1", "opp-2", "opp-3"} {
		require.NoError(t, st.CreateOpportunity(ctx, domain.Opportunity{
			ID: id, OrgID: "org-1", ContractID: "c-1", Type: "capital_arbitrage",
			EstimatedCost: 300, EstimatedRevenue: 390, RequiresCapital: 300,
			ConfidenceScore: 0.8, Status: domain.OpportunityDetected,
		}))
		_, err := p.Simulate(ctx, id)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, id := range []string{"opp-1", "opp-2", "opp-3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = p.Execute(ctx, id)
		}(id)
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.RunOnce(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c, err := st.GetContract(ctx, "c-1")
	require.NoError(t, err)
	assert.LessOrEqual(t, c.CurrentDeployed, c.MaxCapital)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	st := memory.New()
	p := pipeline.New(st, ledger.New(st), metrics.New())
	m := killswitch.New(p, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := m.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
