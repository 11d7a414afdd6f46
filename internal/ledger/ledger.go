// Package ledger is the append-only audit trail of every autonomous
// decision. Rows are immutable; approving or rejecting a pending decision
// appends a new row referencing the original, and the current status of a
// record is derived from its chain rather than stored.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/meridianhq/autopilot/internal/domain"
	"github.com/meridianhq/autopilot/internal/store"
)

// Ledger wraps the append-only store surface.
type Ledger struct {
	store store.LedgerStore
}

// New builds a ledger over the given store.
func New(s store.LedgerStore) *Ledger {
	return &Ledger{store: s}
}

// Entry describes a decision to record. ID and CreatedAt are assigned on
// append.
type Entry struct {
	OrgID            string
	Actor            string
	ActionType       string
	TargetRef        string
	Decision         string
	Reasoning        string
	ConfidenceScore  float64
	ValueImpact      float64
	AutoExecuted     bool
	RequiresApproval bool
}

// Append writes one immutable record and returns it.
func (l *Ledger) Append(ctx context.Context, e Entry) (domain.AutonomousAction, error) {
	act := domain.AutonomousAction{
		ID:               uuid.NewString(),
		OrgID:            e.OrgID,
		Actor:            e.Actor,
		ActionType:       e.ActionType,
		TargetRef:        e.TargetRef,
		Decision:         e.Decision,
		Reasoning:        e.Reasoning,
		ConfidenceScore:  e.ConfidenceScore,
		ValueImpact:      e.ValueImpact,
		AutoExecuted:     e.AutoExecuted,
		RequiresApproval: e.RequiresApproval,
		CreatedAt:        time.Now().UTC(),
	}
	if err := l.store.AppendAction(ctx, act); err != nil {
		return domain.AutonomousAction{}, fmt.Errorf("ledger append: %w", err)
	}
	log.Debug().
		Str("org", act.OrgID).
		Str("actor", act.Actor).
		Str("action", act.ActionType).
		Str("decision", act.Decision).
		Msg("ledger record appended")
	return act, nil
}

// Review appends an approval or rejection row for a pending record. The
// original row is never touched. reviewType must be ActionApproval or
// ActionRejection.
func (l *Ledger) Review(ctx context.Context, actionID, reviewType, reviewer, note string) (domain.AutonomousAction, error) {
	original, err := l.store.GetAction(ctx, actionID)
	if err != nil {
		return domain.AutonomousAction{}, err
	}
	if !original.RequiresApproval {
		return domain.AutonomousAction{}, domain.NewValidationError("id", "does not require approval")
	}

	status, err := l.CurrentStatus(ctx, actionID)
	if err != nil {
		return domain.AutonomousAction{}, err
	}
	if status != domain.StatusPending {
		return domain.AutonomousAction{}, domain.NewValidationError("id", "already reviewed")
	}

	decision := "approved"
	if reviewType == domain.ActionRejection {
		decision = "rejected"
	}
	return l.Append(ctx, Entry{
		OrgID:      original.OrgID,
		Actor:      reviewer,
		ActionType: reviewType,
		TargetRef:  original.ID,
		Decision:   decision,
		Reasoning:  note,
	})
}

// CurrentStatus derives pending/approved/rejected for a record from its
// review chain. The latest review row wins.
func (l *Ledger) CurrentStatus(ctx context.Context, actionID string) (string, error) {
	reviews, err := l.store.ListActionsByTarget(ctx, actionID)
	if err != nil {
		return "", fmt.Errorf("ledger status: %w", err)
	}
	status := domain.StatusPending
	for _, r := range reviews {
		switch r.ActionType {
		case domain.ActionApproval:
			status = domain.StatusApproved
		case domain.ActionRejection:
			status = domain.StatusRejected
		}
	}
	return status, nil
}

// History returns a tenant's most recent records, newest first.
func (l *Ledger) History(ctx context.Context, orgID string, limit int) ([]domain.AutonomousAction, error) {
	return l.store.ListActions(ctx, orgID, limit)
}

// Get returns a single record by id.
func (l *Ledger) Get(ctx context.Context, id string) (domain.AutonomousAction, error) {
	return l.store.GetAction(ctx, id)
}
