// Package orchestrator runs the per-tenant agent cycle: resolve context,
// compute effective policy, run every enabled agent, record outcomes.
// Invocations are stateless; an external trigger starts each cycle.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/meridianhq/autopilot/internal/agents"
	"github.com/meridianhq/autopilot/internal/domain"
	"github.com/meridianhq/autopilot/internal/ledger"
	"github.com/meridianhq/autopilot/internal/marketctx"
	"github.com/meridianhq/autopilot/internal/metrics"
	"github.com/meridianhq/autopilot/internal/policy"
	"github.com/meridianhq/autopilot/internal/store"
)

// Tenants with autonomy level at or above this run in unattended
// multi-tenant cycles.
const EligibleAutonomyLevel = 2

// Options tunes dispatcher behavior.
type Options struct {
	// MaxConcurrentTenants bounds the worker pool in multi-tenant cycles.
	MaxConcurrentTenants int
	// DebounceWindow suppresses duplicate cycle triggers for the same
	// tenant when redis is configured. Zero disables debouncing.
	DebounceWindow time.Duration
}

// DefaultOptions returns dispatcher defaults.
func DefaultOptions() Options {
	return Options{MaxConcurrentTenants: 4, DebounceWindow: time.Minute}
}

// Dispatcher iterates the registered agent roster per tenant.
type Dispatcher struct {
	store    store.Store
	resolver *marketctx.Resolver
	registry *agents.Registry
	ledger   *ledger.Ledger
	metrics  *metrics.Metrics
	redis    *redis.Client
	opts     Options
}

// New builds a dispatcher. redisClient may be nil; debouncing is then
// skipped.
func New(s store.Store, resolver *marketctx.Resolver, registry *agents.Registry,
	l *ledger.Ledger, m *metrics.Metrics, redisClient *redis.Client, opts Options) *Dispatcher {
	if opts.MaxConcurrentTenants <= 0 {
		opts.MaxConcurrentTenants = 4
	}
	return &Dispatcher{
		store:    s,
		resolver: resolver,
		registry: registry,
		ledger:   l,
		metrics:  m,
		redis:    redisClient,
		opts:     opts,
	}
}

// CycleReport is the outcome of one invocation covering one or more
// tenants.
type CycleReport struct {
	OrganizationsProcessed int                        `json:"organizations_processed"`
	Results                map[string][]agents.Result `json:"results"`
}

// RunAll processes every tenant with autonomy level >= EligibleAutonomyLevel
// through a bounded worker pool. One tenant's failure never aborts the
// others; its results carry the error instead.
func (d *Dispatcher) RunAll(ctx context.Context, generateBrief bool) (CycleReport, error) {
	orgs, err := d.store.ListAutonomousOrgs(ctx, EligibleAutonomyLevel)
	if err != nil {
		return CycleReport{}, fmt.Errorf("list eligible tenants: %w", err)
	}

	report := CycleReport{Results: make(map[string][]agents.Result, len(orgs))}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, d.opts.MaxConcurrentTenants)

	for _, org := range orgs {
		wg.Add(1)
		sem <- struct{}{}
		go func(org string) {
			defer wg.Done()
			defer func() { <-sem }()
			results := d.RunTenant(ctx, org, generateBrief)
			mu.Lock()
			report.Results[org] = results
			report.OrganizationsProcessed++
			mu.Unlock()
		}(org)
	}
	wg.Wait()

	return report, nil
}

// RunTenant runs one tenant's full cycle. Context resolution, policy
// adjustment and agent execution are strictly sequential for the tenant;
// thresholds are fixed before any agent reads them.
func (d *Dispatcher) RunTenant(ctx context.Context, orgID string, generateBrief bool) []agents.Result {
	started := time.Now()

	if skip := d.debounced(ctx, orgID); skip {
		log.Info().Str("org", orgID).Msg("cycle debounced, skipping tenant")
		d.metrics.CyclesTotal.WithLabelValues("debounced").Inc()
		return []agents.Result{}
	}

	resolved := d.resolver.Resolve(ctx, orgID)
	autonomyOn := resolved.Autonomy.Enabled

	log.Info().
		Str("org", orgID).
		Str("phase", string(resolved.Context.Phase)).
		Float64("aggressiveness", resolved.Context.Aggressiveness).
		Bool("autonomy", autonomyOn).
		Msg("agent cycle started")

	results := make([]agents.Result, 0, len(d.registry.Handlers()))
	totalActions := 0
	totalBlocked := 0
	totalValue := 0.0
	day := started.UTC().Format("2006-01-02")

	for _, handler := range d.registry.Handlers() {
		cfg, err := d.store.EnsureAgentConfig(ctx, orgID, handler.Type())
		if err != nil {
			// Per-tenant unexpected store failure aborts this tenant only.
			log.Error().Err(err).Str("org", orgID).Str("agent", handler.Type()).
				Msg("agent config unavailable, aborting tenant cycle")
			results = append(results, errorResult(handler.Type(), err))
			d.metrics.CyclesTotal.WithLabelValues("aborted").Inc()
			return results
		}
		if !cfg.Enabled {
			continue
		}

		eff := policy.Compute(cfg, resolved.Context, autonomyOn)
		run := agents.TenantRun{
			OrgID:   orgID,
			Policy:  eff,
			Context: resolved.Context,
			Budget:  agents.NewBudget(eff.RemainingActions()),
		}

		result := d.runIsolated(ctx, handler, run)
		results = append(results, result)

		totalActions += result.ActionsTaken
		totalBlocked += result.ActionsBlocked
		totalValue += result.ValueGenerated

		d.metrics.AgentActionsTaken.WithLabelValues(handler.Type()).Add(float64(result.ActionsTaken))
		d.metrics.AgentActionsBlocked.WithLabelValues(handler.Type()).Add(float64(result.ActionsBlocked))
		if len(result.Errors) > 0 {
			d.metrics.AgentErrors.WithLabelValues(handler.Type()).Add(float64(len(result.Errors)))
		}

		if result.ActionsTaken > 0 || result.ValueGenerated != 0 {
			if err := d.store.RecordAgentOutcome(ctx, orgID, handler.Type(), day,
				result.ActionsTaken, result.ValueGenerated); err != nil {
				log.Warn().Err(err).Str("org", orgID).Str("agent", handler.Type()).
					Msg("failed to record agent counters")
			}
		}
	}

	if autonomyOn {
		if err := d.store.RecordAutonomyCounters(ctx, orgID,
			int64(len(results)), int64(totalActions+totalBlocked),
			int64(totalBlocked), int64(totalActions)); err != nil {
			log.Warn().Err(err).Str("org", orgID).Msg("failed to record autonomy counters")
		}
	}

	d.writeCycleSummary(ctx, orgID, resolved.Context, results, totalActions, totalBlocked, totalValue)
	if generateBrief {
		d.writeBrief(ctx, orgID, resolved.Context, totalActions, totalBlocked, totalValue)
	}

	d.metrics.CycleDuration.Observe(time.Since(started).Seconds())
	d.metrics.CyclesTotal.WithLabelValues("completed").Inc()

	log.Info().
		Str("org", orgID).
		Int("actions", totalActions).
		Int("blocked", totalBlocked).
		Float64("value", totalValue).
		Dur("elapsed", time.Since(started)).
		Msg("agent cycle finished")
	return results
}

// runIsolated executes one handler, converting errors and panics into an
// error-tagged zero result so the rest of the roster keeps running.
func (d *Dispatcher) runIsolated(ctx context.Context, handler agents.Handler, run agents.TenantRun) (result agents.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("org", run.OrgID).Str("agent", handler.Type()).
				Interface("panic", r).Msg("agent handler panicked")
			result = errorResult(handler.Type(), fmt.Errorf("panic: %v", r))
		}
	}()

	result, err := handler.Run(ctx, run)
	if err != nil {
		execErr := &domain.AgentExecutionError{AgentType: handler.Type(), Err: err}
		log.Error().Err(execErr).Str("org", run.OrgID).Msg("agent handler failed")
		return errorResult(handler.Type(), execErr)
	}
	result.AgentType = handler.Type()
	if result.Errors == nil {
		result.Errors = []string{}
	}
	return result
}

func errorResult(agentType string, err error) agents.Result {
	return agents.Result{AgentType: agentType, Errors: []string{err.Error()}}
}

// debounced reports whether this tenant's cycle already ran inside the
// debounce window. Best effort: with no redis, or on redis failure, the
// cycle runs. At-most-once semantics are not guaranteed.
func (d *Dispatcher) debounced(ctx context.Context, orgID string) bool {
	if d.redis == nil || d.opts.DebounceWindow <= 0 {
		return false
	}
	key := "autopilot:cycle:" + orgID
	ok, err := d.redis.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), d.opts.DebounceWindow).Result()
	if err != nil {
		log.Debug().Err(err).Str("org", orgID).Msg("cycle debounce check failed, running anyway")
		return false
	}
	return !ok
}

func (d *Dispatcher) writeCycleSummary(ctx context.Context, orgID string, mctx domain.MarketContext,
	results []agents.Result, actions, blocked int, value float64) {
	reasoning := fmt.Sprintf("%d agents ran in %s phase: %d actions taken, %d blocked, %.2f value generated",
		len(results), mctx.Phase, actions, blocked, value)
	if _, err := d.ledger.Append(ctx, ledger.Entry{
		OrgID:        orgID,
		Actor:        domain.ActorSystem,
		ActionType:   domain.ActionCycleSummary,
		Decision:     "completed",
		Reasoning:    reasoning,
		ValueImpact:  value,
		AutoExecuted: true,
	}); err != nil {
		log.Warn().Err(err).Str("org", orgID).Msg("failed to write cycle summary")
	}
}

func (d *Dispatcher) writeBrief(ctx context.Context, orgID string, mctx domain.MarketContext,
	actions, blocked int, value float64) {
	reasoning := fmt.Sprintf("executive brief: market phase %s (aggressiveness %.1f); agents executed %d actions, withheld %d for review, estimated value impact %.2f",
		mctx.Phase, mctx.Aggressiveness, actions, blocked, value)
	if _, err := d.ledger.Append(ctx, ledger.Entry{
		OrgID:        orgID,
		Actor:        domain.ActorSystem,
		ActionType:   domain.ActionExecutiveBrief,
		Decision:     "generated",
		Reasoning:    reasoning,
		ValueImpact:  value,
		AutoExecuted: true,
	}); err != nil {
		log.Warn().Err(err).Str("org", orgID).Msg("failed to write executive brief")
	}
}
