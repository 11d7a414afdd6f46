// Package metrics exposes prometheus instrumentation for the orchestrator
// and the capital pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service registers.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal         *prometheus.CounterVec
	CycleDuration       prometheus.Histogram
	AgentActionsTaken   *prometheus.CounterVec
	AgentActionsBlocked *prometheus.CounterVec
	AgentErrors         *prometheus.CounterVec
	CapitalDeployed     *prometheus.GaugeVec
	OpenDeployments     prometheus.Gauge
	KillSwitchHalts     prometheus.Counter
	ExecuteRejections   prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_cycles_total",
			Help: "Agent cycles run, by outcome.",
		}, []string{"outcome"}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "autopilot_cycle_duration_seconds",
			Help:    "Wall time of one tenant's agent cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		AgentActionsTaken: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_agent_actions_taken_total",
			Help: "Actions taken per agent type.",
		}, []string{"agent"}),
		AgentActionsBlocked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_agent_actions_blocked_total",
			Help: "Actions withheld pending approval, per agent type.",
		}, []string{"agent"}),
		AgentErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_agent_errors_total",
			Help: "Isolated agent handler failures, per agent type.",
		}, []string{"agent"}),
		CapitalDeployed: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autopilot_capital_deployed",
			Help: "Capital currently deployed per contract.",
		}, []string{"contract"}),
		OpenDeployments: factory.NewGauge(prometheus.GaugeOpts{
			Name: "autopilot_open_deployments",
			Help: "Deployments in active or monitoring status.",
		}),
		KillSwitchHalts: factory.NewCounter(prometheus.CounterOpts{
			Name: "autopilot_kill_switch_halts_total",
			Help: "Deployments force-halted by the kill switch.",
		}),
		ExecuteRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "autopilot_execute_capital_rejections_total",
			Help: "Execute calls rejected for insufficient contract headroom.",
		}),
	}
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
