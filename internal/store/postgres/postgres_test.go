package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/autopilot/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "postgres"), time.Second), mock
}

func TestReserveCapitalSuccess(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE capital_contracts`).
		WithArgs("c1", 400.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.ReserveCapital(context.Background(), "c1", 400))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveCapitalNoHeadroom(t *testing.T) {
	st, mock := newMockStore(t)

	// The conditional update matches no row, so the store re-reads the
	// contract to report the remaining headroom.
	mock.ExpectExec(`UPDATE capital_contracts`).
		WithArgs("c1", 700.0).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM capital_contracts WHERE id = \$1`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "org_id", "contract_type", "max_capital", "current_deployed",
			"max_loss", "status", "created_at",
		}).AddRow("c1", "org-a", "marketing_experiments", 1000.0, 400.0, 200.0, "active", time.Now()))

	err := st.ReserveCapital(context.Background(), "c1", 700)
	require.Error(t, err)
	var exceeded *domain.CapitalExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 700.0, exceeded.Requested)
	assert.Equal(t, 600.0, exceeded.Headroom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveCapitalUnknownContract(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE capital_contracts`).
		WithArgs("missing", 100.0).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM capital_contracts WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := st.ReserveCapital(context.Background(), "missing", 100)
	assert.True(t, domain.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHaltDeploymentFirstCallWins(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE deployments SET status = 'halted'`).
		WithArgs("d1", "loss limit breached").
		WillReturnResult(sqlmock.NewResult(0, 1))

	halted, err := st.HaltDeployment(context.Background(), "d1", "loss limit breached")
	require.NoError(t, err)
	assert.True(t, halted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHaltDeploymentAlreadyTerminal(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE deployments SET status = 'halted'`).
		WithArgs("d1", "again").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM deployments WHERE id = \$1`).
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "org_id", "contract_id", "opportunity_id", "capital_deployed",
			"current_value", "status", "current_step", "halt_reason", "created_at", "updated_at",
		}).AddRow("d1", "org-a", "c1", "o1", 400.0, 250.0, "halted", 2, "loss limit breached", time.Now(), time.Now()))

	halted, err := st.HaltDeployment(context.Background(), "d1", "again")
	require.NoError(t, err)
	assert.False(t, halted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHaltDeploymentMissing(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE deployments SET status = 'halted'`).
		WithArgs("missing", "r").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM deployments WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := st.HaltDeployment(context.Background(), "missing", "r")
	assert.True(t, domain.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimOpportunityFirstCallWins(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE opportunities SET status = 'executing'`).
		WithArgs("o1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := st.ClaimOpportunity(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimOpportunityAlreadyClaimed(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE opportunities SET status = 'executing'`).
		WithArgs("o1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .+ FROM opportunities WHERE id = \$1`).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "org_id", "contract_id", "type", "estimated_cost", "estimated_revenue",
			"requires_capital", "confidence_score", "status", "worst_case", "base_case",
			"best_case", "expected_value", "risk_adjusted_return", "created_at",
		}).AddRow("o1", "org-a", "c1", "capital_arbitrage", 300.0, 390.0, 300.0, 0.8,
			"executing", 180.0, 390.0, 487.5, 350.0, 0.3, time.Now()))

	claimed, err := st.ClaimOpportunity(context.Background(), "o1")
	require.NoError(t, err)
	assert.False(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureAgentConfigUpsertReturnsRow(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO agent_configs`).
		WithArgs("org-a", "pricing_guard", true, "balanced", 70, 500.0, 25).
		WillReturnRows(sqlmock.NewRows([]string{
			"org_id", "agent_type", "enabled", "risk_tolerance", "auto_execute_threshold",
			"requires_approval_above", "max_daily_actions", "actions_today",
			"actions_day", "total_actions_taken", "total_value_generated", "updated_at",
		}).AddRow("org-a", "pricing_guard", true, "conservative", 80, 300.0, 10, 4, "2026-08-30", 12, 150.0, now))

	cfg, err := st.EnsureAgentConfig(context.Background(), "org-a", "pricing_guard")
	require.NoError(t, err)
	// The stored row wins over the defaults the upsert carried.
	assert.Equal(t, domain.RiskConservative, cfg.RiskTolerance)
	assert.Equal(t, 80, cfg.AutoExecuteThreshold)
	assert.Equal(t, 4, cfg.ActionsToday)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAutonomyStateMissingRowReadsDisabled(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM autonomy_states`).
		WithArgs("org-a").
		WillReturnRows(sqlmock.NewRows([]string{"org_id"}))

	state, err := st.GetAutonomyState(context.Background(), "org-a")
	require.NoError(t, err)
	assert.Equal(t, "org-a", state.OrgID)
	assert.False(t, state.Enabled)
	assert.Equal(t, 0, state.Level)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DSN is required")
}
