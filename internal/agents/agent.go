// Package agents holds the semi-autonomous decision agents and the
// registry the dispatcher runs them from. Each agent is a Handler; new
// agents register once at process start instead of being listed at every
// call site.
package agents

import (
	"context"

	"github.com/meridianhq/autopilot/internal/domain"
	"github.com/meridianhq/autopilot/internal/policy"
)

// Agent type names.
const (
	TypePricingGuard  = "pricing_guard"
	TypeLeadFilter    = "lead_filter"
	TypeCalendarGuard = "calendar_guard"
	TypeWasteDetector = "waste_detector"
)

// Result is the uniform record every handler returns.
type Result struct {
	AgentType      string   `json:"agent_type"`
	ActionsTaken   int      `json:"actions_taken"`
	ActionsBlocked int      `json:"actions_blocked"`
	ValueGenerated float64  `json:"value_generated"`
	Errors         []string `json:"errors"`
}

// TenantRun is the input to one agent invocation: the tenant, the
// cycle-scoped effective policy, the market context, and the shared daily
// action budget.
type TenantRun struct {
	OrgID   string
	Policy  policy.Effective
	Context domain.MarketContext
	Budget  *Budget
}

// Handler is one decision agent. Run either completes or returns an
// error; the dispatcher isolates failures, so a handler never worries
// about its neighbors.
type Handler interface {
	Type() string
	Run(ctx context.Context, run TenantRun) (Result, error)
}

// Budget caps auto-executed actions per agent per day. Agents consume it
// before acting; once spent, further candidates are blocked instead of
// executed. Per-tenant cycles are sequential, so no locking is needed.
type Budget struct {
	remaining int
}

// NewBudget builds a budget with n remaining auto-executions.
func NewBudget(n int) *Budget {
	if n < 0 {
		n = 0
	}
	return &Budget{remaining: n}
}

// Take consumes one action if any budget remains.
func (b *Budget) Take() bool {
	if b == nil {
		return true
	}
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// Remaining reports the unspent budget.
func (b *Budget) Remaining() int {
	if b == nil {
		return 0
	}
	return b.remaining
}

// Registry is the registered-handler table, populated once at startup.
type Registry struct {
	handlers []Handler
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Register appends a handler. Registration order is the roster order,
// though callers must not depend on cross-agent ordering.
func (r *Registry) Register(h Handler) { r.handlers = append(r.handlers, h) }

// Handlers returns the roster.
func (r *Registry) Handlers() []Handler { return r.handlers }
