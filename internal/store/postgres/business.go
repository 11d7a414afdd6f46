package postgres

import (
	"context"
	"fmt"

	"github.com/meridianhq/autopilot/internal/domain"
)

// Business-row reads. These tables belong to the dashboard schema; the
// agents only need narrow slices of them.

func (s *Store) ListRecentTransactions(ctx context.Context, orgID string) ([]domain.Transaction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out []domain.Transaction
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, org_id, base_price, amount, created_at
		 FROM transactions
		 WHERE org_id = $1 AND created_at > now() - interval '7 days'
		 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list recent transactions: %w", err)
	}
	return out, nil
}

func (s *Store) ListPendingLeads(ctx context.Context, orgID string) ([]domain.Lead, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out []domain.Lead
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, org_id, quality_score, status, created_at
		 FROM leads WHERE org_id = $1 AND status = 'pending' ORDER BY created_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list pending leads: %w", err)
	}
	return out, nil
}

func (s *Store) SetLeadStatus(ctx context.Context, leadID, status string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = $2 WHERE id = $1`, leadID, status)
	if err != nil {
		return fmt.Errorf("set lead status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("lead", leadID)
	}
	return nil
}

func (s *Store) ListUpcomingMeetings(ctx context.Context, orgID string) ([]domain.Meeting, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out []domain.Meeting
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, org_id, title, duration_hours, revenue_linked, starts_at
		 FROM meetings WHERE org_id = $1 AND starts_at > now() ORDER BY starts_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list upcoming meetings: %w", err)
	}
	return out, nil
}

func (s *Store) DeclineMeeting(ctx context.Context, meetingID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM meetings WHERE id = $1`, meetingID)
	if err != nil {
		return fmt.Errorf("decline meeting: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("meeting", meetingID)
	}
	return nil
}

func (s *Store) ListIntegrations(ctx context.Context, orgID string) ([]domain.Integration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out []domain.Integration
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, org_id, name, last_sync_at FROM integrations WHERE org_id = $1 ORDER BY id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	return out, nil
}

func (s *Store) ListWorkflows(ctx context.Context, orgID string) ([]domain.Workflow, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out []domain.Workflow
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, org_id, name, run_count, created_at FROM workflows WHERE org_id = $1 ORDER BY id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return out, nil
}
