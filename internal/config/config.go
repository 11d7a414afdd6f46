// Package config loads the service configuration from YAML with
// environment overrides for the secrets-bearing fields.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meridianhq/autopilot/internal/marketctx"
	"github.com/meridianhq/autopilot/internal/server"
	"github.com/meridianhq/autopilot/internal/store/postgres"
)

// RedisConfig configures the optional cache/debounce backend. An empty
// Addr disables redis entirely.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	DB       int           `yaml:"db"`
	PhaseTTL time.Duration `yaml:"phase_ttl"`
}

// OrchestratorConfig tunes the dispatcher.
type OrchestratorConfig struct {
	MaxConcurrentTenants int           `yaml:"max_concurrent_tenants"`
	DebounceWindow       time.Duration `yaml:"debounce_window"`
}

// KillSwitchConfig tunes the monitor loop.
type KillSwitchConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Config is the full service configuration.
type Config struct {
	LogLevel     string                    `yaml:"log_level"`
	Server       server.Config             `yaml:"server"`
	Database     postgres.Config           `yaml:"database"`
	Redis        RedisConfig               `yaml:"redis"`
	Analytics    marketctx.AnalyticsConfig `yaml:"analytics"`
	Orchestrator OrchestratorConfig        `yaml:"orchestrator"`
	KillSwitch   KillSwitchConfig          `yaml:"kill_switch"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		LogLevel:  "info",
		Server:    server.DefaultConfig(),
		Database:  postgres.DefaultConfig(),
		Analytics: marketctx.DefaultAnalyticsConfig(),
		Redis:     RedisConfig{PhaseTTL: 5 * time.Minute},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentTenants: 4,
			DebounceWindow:       time.Minute,
		},
		KillSwitch: KillSwitchConfig{Interval: 30 * time.Second},
	}
}

// Load reads path over the defaults. A missing path returns defaults;
// env vars PG_DSN and REDIS_ADDR override their file counterparts.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	return cfg, nil
}
