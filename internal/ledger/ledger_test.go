package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/autopilot/internal/domain"
	"github.com/meridianhq/autopilot/internal/ledger"
	"github.com/meridianhq/autopilot/internal/store/memory"
)

func TestAppendAndHistory(t *testing.T) {
	l := ledger.New(memory.New())
	ctx := context.Background()

	first, err := l.Append(ctx, ledger.Entry{
		OrgID:      "org-1",
		Actor:      "pricing_guard",
		ActionType: "discount_violation_flagged",
		Decision:   "flag",
		Reasoning:  "sale priced below discount floor",
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	_, err = l.Append(ctx, ledger.Entry{
		OrgID:      "org-1",
		Actor:      domain.ActorSystem,
		ActionType: domain.ActionCycleSummary,
		Decision:   "completed",
		Reasoning:  "cycle finished",
	})
	require.NoError(t, err)

	history, err := l.History(ctx, "org-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// Newest first.
	assert.Equal(t, domain.ActionCycleSummary, history[0].ActionType)
}

func TestReviewAppendsNewRecord(t *testing.T) {
	st := memory.New()
	l := ledger.New(st)
	ctx := context.Background()

	pending, err := l.Append(ctx, ledger.Entry{
		OrgID:            "org-1",
		Actor:            "waste_detector",
		ActionType:       "stale_integration_flagged",
		Decision:         "flag",
		Reasoning:        "integration unsynced for 45 days",
		RequiresApproval: true,
	})
	require.NoError(t, err)

	status, err := l.CurrentStatus(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, status)

	review, err := l.Review(ctx, pending.ID, domain.ActionApproval, domain.ActorOperator, "confirmed dead")
	require.NoError(t, err)
	assert.Equal(t, pending.ID, review.TargetRef)
	assert.NotEqual(t, pending.ID, review.ID)

	// Original row is untouched.
	original, err := l.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, "flag", original.Decision)
	assert.True(t, original.RequiresApproval)

	status, err = l.CurrentStatus(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, status)
}

func TestReviewRejectsDoubleReview(t *testing.T) {
	l := ledger.New(memory.New())
	ctx := context.Background()

	pending, err := l.Append(ctx, ledger.Entry{
		OrgID:            "org-1",
		Actor:            "waste_detector",
		ActionType:       "idle_workflow_flagged",
		Decision:         "flag",
		RequiresApproval: true,
	})
	require.NoError(t, err)

	_, err = l.Review(ctx, pending.ID, domain.ActionRejection, domain.ActorOperator, "still needed")
	require.NoError(t, err)

	_, err = l.Review(ctx, pending.ID, domain.ActionApproval, domain.ActorOperator, "changed my mind")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestReviewRequiresApprovableRecord(t *testing.T) {
	l := ledger.New(memory.New())
	ctx := context.Background()

	auto, err := l.Append(ctx, ledger.Entry{
		OrgID:        "org-1",
		Actor:        "lead_filter",
		ActionType:   "auto_reject",
		Decision:     "rejected",
		AutoExecuted: true,
	})
	require.NoError(t, err)

	_, err = l.Review(ctx, auto.ID, domain.ActionApproval, domain.ActorOperator, "")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}
