// Package postgres implements store.Store on PostgreSQL via sqlx. Every
// query runs under the configured timeout. Capital reservation relies on a
// conditional UPDATE so two concurrent executions can never both pass the
// headroom check.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/meridianhq/autopilot/internal/domain"
	"github.com/meridianhq/autopilot/internal/store"
)

// Config holds connection settings.
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DefaultConfig returns conservative pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    10 * time.Second,
	}
}

// Store implements store.Store against PostgreSQL.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

var _ store.Store = (*Store)(nil)

// Open connects and pings the database.
func Open(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: DSN is required")
	}
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return NewStore(db, cfg.QueryTimeout), nil
}

// NewStore wraps an existing connection; used by tests with sqlmock.
func NewStore(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Store{db: db, timeout: timeout}
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) EnsureAgentConfig(ctx context.Context, orgID, agentType string) (domain.AgentConfig, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	def := domain.DefaultAgentConfig(orgID, agentType)
	query := `
		INSERT INTO agent_configs
			(org_id, agent_type, enabled, risk_tolerance, auto_execute_threshold,
			 requires_approval_above, max_daily_actions, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (org_id, agent_type) DO UPDATE SET org_id = agent_configs.org_id
		RETURNING org_id, agent_type, enabled, risk_tolerance, auto_execute_threshold,
		          requires_approval_above, max_daily_actions, actions_today,
		          actions_day, total_actions_taken, total_value_generated, updated_at`

	var cfg domain.AgentConfig
	err := s.db.GetContext(ctx, &cfg, query,
		def.OrgID, def.AgentType, def.Enabled, def.RiskTolerance,
		def.AutoExecuteThreshold, def.RequiresApprovalAbove, def.MaxDailyActions)
	if err != nil {
		return domain.AgentConfig{}, fmt.Errorf("ensure agent config: %w", err)
	}
	return cfg, nil
}

func (s *Store) RecordAgentOutcome(ctx context.Context, orgID, agentType, day string, actions int, value float64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE agent_configs SET
			actions_today = CASE WHEN actions_day = $3 THEN actions_today + $4 ELSE $4 END,
			actions_day = $3,
			total_actions_taken = total_actions_taken + $4,
			total_value_generated = total_value_generated + $5,
			updated_at = now()
		WHERE org_id = $1 AND agent_type = $2`

	if _, err := s.db.ExecContext(ctx, query, orgID, agentType, day, actions, value); err != nil {
		return fmt.Errorf("record agent outcome: %w", err)
	}
	return nil
}

func (s *Store) GetAutonomyState(ctx context.Context, orgID string) (domain.AutonomyState, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var st domain.AutonomyState
	err := s.db.GetContext(ctx, &st,
		`SELECT org_id, enabled, level, observations, decisions, risks_flagged, actions_taken, updated_at
		 FROM autonomy_states WHERE org_id = $1`, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		// Missing row reads as autonomy disabled.
		return domain.AutonomyState{OrgID: orgID}, nil
	}
	if err != nil {
		return domain.AutonomyState{}, fmt.Errorf("get autonomy state: %w", err)
	}
	return st, nil
}

func (s *Store) RecordAutonomyCounters(ctx context.Context, orgID string, observations, decisions, risks, actions int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE autonomy_states SET
			observations = observations + $2,
			decisions = decisions + $3,
			risks_flagged = risks_flagged + $4,
			actions_taken = actions_taken + $5,
			updated_at = now()
		WHERE org_id = $1`

	if _, err := s.db.ExecContext(ctx, query, orgID, observations, decisions, risks, actions); err != nil {
		return fmt.Errorf("record autonomy counters: %w", err)
	}
	return nil
}

func (s *Store) ListAutonomousOrgs(ctx context.Context, minLevel int) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var orgs []string
	err := s.db.SelectContext(ctx, &orgs,
		`SELECT org_id FROM autonomy_states WHERE level >= $1 ORDER BY org_id`, minLevel)
	if err != nil {
		return nil, fmt.Errorf("list autonomous orgs: %w", err)
	}
	return orgs, nil
}

func (s *Store) GetContract(ctx context.Context, id string) (domain.CapitalContract, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var c domain.CapitalContract
	err := s.db.GetContext(ctx, &c,
		`SELECT id, org_id, contract_type, max_capital, current_deployed, max_loss, status, created_at
		 FROM capital_contracts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CapitalContract{}, domain.NewNotFoundError("contract", id)
	}
	if err != nil {
		return domain.CapitalContract{}, fmt.Errorf("get contract: %w", err)
	}
	return c, nil
}

func (s *Store) ListActiveContracts(ctx context.Context, orgID string) ([]domain.CapitalContract, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out []domain.CapitalContract
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, org_id, contract_type, max_capital, current_deployed, max_loss, status, created_at
		 FROM capital_contracts WHERE org_id = $1 AND status = 'active' ORDER BY id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list active contracts: %w", err)
	}
	return out, nil
}

// ReserveCapital performs the atomic check-and-increment. Zero rows
// affected means the contract either does not exist or has no headroom;
// the follow-up read distinguishes the two.
func (s *Store) ReserveCapital(ctx context.Context, contractID string, amount float64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE capital_contracts
		 SET current_deployed = current_deployed + $2
		 WHERE id = $1 AND status = 'active' AND current_deployed + $2 <= max_capital`,
		contractID, amount)
	if err != nil {
		return fmt.Errorf("reserve capital: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve capital: rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	c, err := s.GetContract(ctx, contractID)
	if err != nil {
		return err
	}
	return &domain.CapitalExceededError{
		ContractID: contractID,
		Requested:  amount,
		Headroom:   c.Headroom(),
	}
}

func (s *Store) ReleaseCapital(ctx context.Context, contractID string, amount float64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE capital_contracts
		 SET current_deployed = GREATEST(current_deployed - $2, 0)
		 WHERE id = $1`, contractID, amount)
	if err != nil {
		return fmt.Errorf("release capital: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release capital: rows affected: %w", err)
	}
	if n == 0 {
		return domain.NewNotFoundError("contract", contractID)
	}
	return nil
}

func (s *Store) CreateOpportunity(ctx context.Context, opp domain.Opportunity) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO opportunities
			(id, org_id, contract_id, type, estimated_cost, estimated_revenue,
			 requires_capital, confidence_score, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.ExecContext(ctx, query,
		opp.ID, opp.OrgID, opp.ContractID, opp.Type, opp.EstimatedCost,
		opp.EstimatedRevenue, opp.RequiresCapital, opp.ConfidenceScore,
		opp.Status, opp.CreatedAt)
	if err != nil {
		return fmt.Errorf("create opportunity: %w", err)
	}
	return nil
}

func (s *Store) GetOpportunity(ctx context.Context, id string) (domain.Opportunity, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var opp domain.Opportunity
	err := s.db.GetContext(ctx, &opp,
		`SELECT id, org_id, contract_id, type, estimated_cost, estimated_revenue,
		        requires_capital, confidence_score, status, worst_case, base_case,
		        best_case, expected_value, risk_adjusted_return, created_at
		 FROM opportunities WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Opportunity{}, domain.NewNotFoundError("opportunity", id)
	}
	if err != nil {
		return domain.Opportunity{}, fmt.Errorf("get opportunity: %w", err)
	}
	return opp, nil
}

func (s *Store) SaveProjection(ctx context.Context, opp domain.Opportunity) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE opportunities SET
			worst_case = $2, base_case = $3, best_case = $4,
			expected_value = $5, risk_adjusted_return = $6, status = $7
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, opp.ID,
		opp.WorstCase, opp.BaseCase, opp.BestCase,
		opp.ExpectedValue, opp.RiskAdjustedReturn, opp.Status)
	if err != nil {
		return fmt.Errorf("save projection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("opportunity", opp.ID)
	}
	return nil
}

// ClaimOpportunity is the execute-side twin of HaltDeployment: the
// conditional WHERE guarantees at most one caller wins the ready row.
func (s *Store) ClaimOpportunity(ctx context.Context, id string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE opportunities SET status = 'executing' WHERE id = $1 AND status = 'ready'`, id)
	if err != nil {
		return false, fmt.Errorf("claim opportunity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim opportunity: rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetOpportunity(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) SetOpportunityStatus(ctx context.Context, id, status string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE opportunities SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set opportunity status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("opportunity", id)
	}
	return nil
}

func (s *Store) CreateDeployment(ctx context.Context, dep domain.Deployment) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO deployments
			(id, org_id, contract_id, opportunity_id, capital_deployed,
			 current_value, status, current_step, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.ExecContext(ctx, query,
		dep.ID, dep.OrgID, dep.ContractID, dep.OpportunityID,
		dep.CapitalDeployed, dep.CurrentValue, dep.Status, dep.CurrentStep,
		dep.CreatedAt, dep.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create deployment: %w", err)
	}
	return nil
}

func (s *Store) GetDeployment(ctx context.Context, id string) (domain.Deployment, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var dep domain.Deployment
	err := s.db.GetContext(ctx, &dep,
		`SELECT id, org_id, contract_id, opportunity_id, capital_deployed,
		        current_value, status, current_step, halt_reason, created_at, updated_at
		 FROM deployments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Deployment{}, domain.NewNotFoundError("deployment", id)
	}
	if err != nil {
		return domain.Deployment{}, fmt.Errorf("get deployment: %w", err)
	}
	return dep, nil
}

func (s *Store) ListOpenDeployments(ctx context.Context, orgID string) ([]domain.Deployment, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT id, org_id, contract_id, opportunity_id, capital_deployed,
	                 current_value, status, current_step, halt_reason, created_at, updated_at
	          FROM deployments WHERE status IN ('active', 'monitoring')`
	args := []interface{}{}
	if orgID != "" {
		query += ` AND org_id = $1`
		args = append(args, orgID)
	}
	query += ` ORDER BY id`

	var out []domain.Deployment
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list open deployments: %w", err)
	}
	return out, nil
}

// HaltDeployment transitions to halted only from an open status. The
// conditional WHERE is what makes repeated halts a no-op.
func (s *Store) HaltDeployment(ctx context.Context, id, reason string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE deployments SET status = 'halted', halt_reason = $2, updated_at = now()
		 WHERE id = $1 AND status IN ('active', 'monitoring')`, id, reason)
	if err != nil {
		return false, fmt.Errorf("halt deployment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("halt deployment: rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	// Distinguish "already terminal" from "missing".
	if _, err := s.GetDeployment(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) SetDeploymentStatus(ctx context.Context, id, status string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE deployments SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set deployment status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("deployment", id)
	}
	return nil
}

func (s *Store) AppendKillSwitchEvent(ctx context.Context, ev domain.KillSwitchEvent) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO kill_switch_events
			(id, org_id, deployment_id, contract_id, reason, loss_amount, triggered_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.OrgID, ev.DeploymentID, ev.ContractID, ev.Reason,
		ev.LossAmount, ev.TriggeredBy, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append kill switch event: %w", err)
	}
	return nil
}

func (s *Store) ListKillSwitchEvents(ctx context.Context, orgID string) ([]domain.KillSwitchEvent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out []domain.KillSwitchEvent
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, org_id, deployment_id, contract_id, reason, loss_amount, triggered_by, created_at
		 FROM kill_switch_events WHERE org_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list kill switch events: %w", err)
	}
	return out, nil
}

func (s *Store) AppendAction(ctx context.Context, act domain.AutonomousAction) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO autonomous_actions
			(id, org_id, actor, action_type, target_ref, decision, reasoning,
			 confidence_score, value_impact, auto_executed, requires_approval, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.db.ExecContext(ctx, query,
		act.ID, act.OrgID, act.Actor, act.ActionType, act.TargetRef, act.Decision,
		act.Reasoning, act.ConfidenceScore, act.ValueImpact, act.AutoExecuted,
		act.RequiresApproval, act.CreatedAt)
	if err != nil {
		return fmt.Errorf("append action: %w", err)
	}
	return nil
}

func (s *Store) GetAction(ctx context.Context, id string) (domain.AutonomousAction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var act domain.AutonomousAction
	err := s.db.GetContext(ctx, &act,
		`SELECT id, org_id, actor, action_type, target_ref, decision, reasoning,
		        confidence_score, value_impact, auto_executed, requires_approval, created_at
		 FROM autonomous_actions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AutonomousAction{}, domain.NewNotFoundError("action", id)
	}
	if err != nil {
		return domain.AutonomousAction{}, fmt.Errorf("get action: %w", err)
	}
	return act, nil
}

func (s *Store) ListActions(ctx context.Context, orgID string, limit int) ([]domain.AutonomousAction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	var out []domain.AutonomousAction
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, org_id, actor, action_type, target_ref, decision, reasoning,
		        confidence_score, value_impact, auto_executed, requires_approval, created_at
		 FROM autonomous_actions WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2`,
		orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return out, nil
}

func (s *Store) ListActionsByTarget(ctx context.Context, ref string) ([]domain.AutonomousAction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out []domain.AutonomousAction
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, org_id, actor, action_type, target_ref, decision, reasoning,
		        confidence_score, value_impact, auto_executed, requires_approval, created_at
		 FROM autonomous_actions WHERE target_ref = $1 ORDER BY created_at ASC`, ref)
	if err != nil {
		return nil, fmt.Errorf("list actions by target: %w", err)
	}
	return out, nil
}
