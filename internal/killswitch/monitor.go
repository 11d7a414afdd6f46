// Package killswitch runs deployment monitoring on a recurring trigger,
// independent of tenant request traffic. It owns no state transition of
// its own: every forced stop goes through the pipeline's single halt
// primitive, so running concurrently with execute is safe.
package killswitch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meridianhq/autopilot/internal/domain"
	"github.com/meridianhq/autopilot/internal/pipeline"
)

// Monitor polls open deployments across all tenants.
type Monitor struct {
	pipeline *pipeline.Pipeline
	interval time.Duration
}

// New builds a monitor with the given polling interval.
func New(p *pipeline.Pipeline, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{pipeline: p, interval: interval}
}

// RunOnce sweeps every tenant's open deployments once and returns the
// raised alerts.
func (m *Monitor) RunOnce(ctx context.Context) ([]domain.Alert, error) {
	alerts, err := m.pipeline.Monitor(ctx, "")
	if err != nil {
		return nil, err
	}
	halts := 0
	for _, a := range alerts {
		if a.Halted {
			halts++
		}
	}
	if len(alerts) > 0 {
		log.Info().Int("alerts", len(alerts)).Int("halts", halts).Msg("kill-switch sweep raised alerts")
	}
	return alerts, nil
}

// Run polls until the context is canceled. Sweep errors are logged and
// the loop keeps going; a flaky store must not disable the safety net.
func (m *Monitor) Run(ctx context.Context) error {
	log.Info().Dur("interval", m.interval).Msg("kill-switch monitor started")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("kill-switch monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("kill-switch sweep failed")
			}
		}
	}
}
