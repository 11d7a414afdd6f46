package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/meridianhq/autopilot/internal/agents"
	"github.com/meridianhq/autopilot/internal/config"
	"github.com/meridianhq/autopilot/internal/killswitch"
	"github.com/meridianhq/autopilot/internal/ledger"
	"github.com/meridianhq/autopilot/internal/marketctx"
	"github.com/meridianhq/autopilot/internal/metrics"
	"github.com/meridianhq/autopilot/internal/orchestrator"
	"github.com/meridianhq/autopilot/internal/pipeline"
	"github.com/meridianhq/autopilot/internal/server"
	"github.com/meridianhq/autopilot/internal/store"
	"github.com/meridianhq/autopilot/internal/store/memory"
	"github.com/meridianhq/autopilot/internal/store/postgres"
)

const (
	appName = "autopilot"
	version = "v0.4.0"
)

var (
	configPath string
	devMode    bool
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Autonomous business-agent orchestrator with capital safety controls",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "use the in-memory store instead of postgres")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the background deployment monitor",
		RunE:  runServe,
	}

	cycleCmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one agent cycle and exit",
		RunE:  runCycle,
	}
	cycleCmd.Flags().String("org", "", "run a single organization (default: all eligible)")
	cycleCmd.Flags().Bool("brief", false, "record an executive brief after the cycle")

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run one safety sweep over open deployments and exit",
		RunE:  runMonitor,
	}

	rootCmd.AddCommand(serveCmd, cycleCmd, monitorCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// app holds the wired service graph shared by the subcommands.
type app struct {
	cfg        config.Config
	store      store.Store
	redis      *redis.Client
	metrics    *metrics.Metrics
	ledger     *ledger.Ledger
	pipeline   *pipeline.Pipeline
	dispatcher *orchestrator.Dispatcher
	monitor    *killswitch.Monitor

	closers []func() error
}

func bootstrap() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	a := &app{cfg: cfg}

	if devMode {
		a.store = memory.New()
		log.Warn().Msg("running with in-memory store, state will not survive restarts")
	} else {
		pg, err := postgres.Open(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.store = pg
		a.closers = append(a.closers, pg.Close)
	}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		a.closers = append(a.closers, a.redis.Close)
	}

	a.metrics = metrics.New()
	a.ledger = ledger.New(a.store)
	a.pipeline = pipeline.New(a.store, a.ledger, a.metrics)
	a.monitor = killswitch.New(a.pipeline, cfg.KillSwitch.Interval)

	var phases marketctx.PhaseSource
	if cfg.Analytics.BaseURL != "" {
		phases = marketctx.NewAnalyticsClient(cfg.Analytics)
	} else {
		phases = marketctx.StaticPhaseSource{}
		log.Warn().Msg("no analytics feed configured, all tenants fall back to consolidation")
	}
	resolver := marketctx.NewResolver(phases, a.store, a.redis, cfg.Redis.PhaseTTL)

	registry := agents.NewRegistry()
	registry.Register(agents.NewPricingGuard(a.store, a.ledger))
	registry.Register(agents.NewLeadFilter(a.store, a.ledger))
	registry.Register(agents.NewCalendarGuard(a.store, a.ledger))
	registry.Register(agents.NewWasteDetector(a.store, a.ledger))

	a.dispatcher = orchestrator.New(a.store, resolver, registry, a.ledger, a.metrics, a.redis, orchestrator.Options{
		MaxConcurrentTenants: cfg.Orchestrator.MaxConcurrentTenants,
		DebounceWindow:       cfg.Orchestrator.DebounceWindow,
	})
	return a, nil
}

func (a *app) close() {
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := a.monitor.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("deployment monitor stopped")
		}
	}()

	srv := server.New(a.cfg.Server, a.dispatcher, a.pipeline, a.ledger, a.metrics)
	log.Info().Str("addr", a.cfg.Server.Addr).Msg("starting api server")
	return srv.ListenAndServe(ctx)
}

func runCycle(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	org, _ := cmd.Flags().GetString("org")
	brief, _ := cmd.Flags().GetBool("brief")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if org != "" {
		results := a.dispatcher.RunTenant(ctx, org, brief)
		for _, r := range results {
			log.Info().Str("org", org).Str("agent", r.AgentType).
				Int("taken", r.ActionsTaken).Int("blocked", r.ActionsBlocked).
				Float64("value", r.ValueGenerated).Msg("agent finished")
		}
		return nil
	}

	report, err := a.dispatcher.RunAll(ctx, brief)
	if err != nil {
		return err
	}
	log.Info().Int("tenants", report.OrganizationsProcessed).Msg("cycle complete")
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	alerts, err := a.monitor.RunOnce(ctx)
	if err != nil {
		return err
	}
	for _, alert := range alerts {
		log.Warn().Str("severity", alert.Severity).Str("deployment", alert.DeploymentID).
			Float64("pnl_pct", alert.PnLPercent).Msg(alert.Message)
	}
	log.Info().Int("alerts", len(alerts)).Msg("safety sweep complete")
	return nil
}
