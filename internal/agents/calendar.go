package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/meridianhq/autopilot/internal/ledger"
	"github.com/meridianhq/autopilot/internal/store"
)

const impliedHourlyRate = 150.0

// lowValueKeywords mark meetings that rarely justify their cost.
var lowValueKeywords = []string{"sync", "catch up", "catch-up", "check in", "check-in", "status update", "weekly"}

// CalendarGuard prices every upcoming meeting at its opportunity cost and
// auto-declines cheap low-value non-revenue meetings. Anything above the
// approval ceiling is only flagged.
type CalendarGuard struct {
	business store.BusinessStore
	ledger   *ledger.Ledger
}

// NewCalendarGuard builds the agent.
func NewCalendarGuard(business store.BusinessStore, l *ledger.Ledger) *CalendarGuard {
	return &CalendarGuard{business: business, ledger: l}
}

func (a *CalendarGuard) Type() string { return TypeCalendarGuard }

func isLowValue(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range lowValueKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (a *CalendarGuard) Run(ctx context.Context, run TenantRun) (Result, error) {
	result := Result{AgentType: a.Type(), Errors: []string{}}

	meetings, err := a.business.ListUpcomingMeetings(ctx, run.OrgID)
	if err != nil {
		return result, fmt.Errorf("list upcoming meetings: %w", err)
	}

	for _, m := range meetings {
		if m.RevenueLinked || !isLowValue(m.Title) {
			continue
		}
		cost := m.DurationHours * impliedHourlyRate

		if cost < run.Policy.ApprovalCeiling && run.Budget.Take() {
			if err := a.business.DeclineMeeting(ctx, m.ID); err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			if _, err := a.ledger.Append(ctx, ledger.Entry{
				OrgID:      run.OrgID,
				Actor:      a.Type(),
				ActionType: "meeting_auto_declined",
				TargetRef:  m.ID,
				Decision:   "declined",
				Reasoning: fmt.Sprintf("low-value meeting %q costs %.2f, under approval ceiling %.2f",
					m.Title, cost, run.Policy.ApprovalCeiling),
				ValueImpact:  cost,
				AutoExecuted: true,
			}); err != nil {
				result.Errors = append(result.Errors, err.Error())
			}
			result.ActionsTaken++
			result.ValueGenerated += cost
			continue
		}

		if _, err := a.ledger.Append(ctx, ledger.Entry{
			OrgID:      run.OrgID,
			Actor:      a.Type(),
			ActionType: "meeting_flagged",
			TargetRef:  m.ID,
			Decision:   "flag",
			Reasoning: fmt.Sprintf("low-value meeting %q costs %.2f, needs review above ceiling %.2f",
				m.Title, cost, run.Policy.ApprovalCeiling),
			ValueImpact:      cost,
			RequiresApproval: true,
		}); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.ActionsBlocked++
	}

	log.Debug().
		Str("org", run.OrgID).
		Int("declined", result.ActionsTaken).
		Int("flagged", result.ActionsBlocked).
		Msg("calendar guard finished")
	return result, nil
}
