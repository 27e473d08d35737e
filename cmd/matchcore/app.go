package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/oddsline/matchcore/internal/activation"
	"github.com/oddsline/matchcore/internal/analyzer"
	"github.com/oddsline/matchcore/internal/batch"
	"github.com/oddsline/matchcore/internal/connectors"
	"github.com/oddsline/matchcore/internal/liveshadow"
	"github.com/oddsline/matchcore/internal/metrics"
	"github.com/oddsline/matchcore/internal/persistence"
	"github.com/oddsline/matchcore/internal/persistence/postgres"
	"github.com/oddsline/matchcore/internal/pipeline"
	"github.com/oddsline/matchcore/internal/policy"
	"github.com/oddsline/matchcore/internal/reports"
	"github.com/oddsline/matchcore/internal/tune"
)

// RecordedConnectorName is the default fixture-backed connector; the
// stub live connector wraps it for drills.
const (
	RecordedConnectorName = "historical"
	StubLiveConnectorName = "stub_live"
)

// app bundles everything one command invocation needs.
type app struct {
	cfg      activation.Config
	pol      policy.Policy
	registry *connectors.Registry
	liveio   *metrics.LiveIO
	store    *reports.Store
	manager  *postgres.Manager
	gate     *activation.Gate
	pipe     *pipeline.Pipeline
	runner   *batch.Runner
	promReg  *prometheus.Registry
}

// newApp builds the shared wiring from the environment and the
// persistent flags on cmd.
func newApp(cmd *cobra.Command) (*app, error) {
	fixtures, _ := cmd.Flags().GetString("fixtures")
	reportsDir, _ := cmd.Flags().GetString("reports")
	policyPath, _ := cmd.Flags().GetString("policy")
	dbConfigPath, _ := cmd.Flags().GetString("db-config")

	cfg := activation.FromEnv()

	pol, err := policy.LoadActive(policyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	promReg := prometheus.NewRegistry()
	liveio := metrics.NewLiveIO(promReg)

	recorded := connectors.NewRecorded(RecordedConnectorName, fixtures)
	registry := connectors.NewRegistry(
		recorded,
		connectors.NewStubLive(StubLiveConnectorName, recorded, liveio),
	)

	store, err := reports.NewStore(reportsDir, log.Logger)
	if err != nil {
		return nil, err
	}

	manager, err := openManager(dbConfigPath)
	if err != nil {
		return nil, err
	}

	var repos *persistence.Repository
	var readiness []activation.ReadinessCheck
	if manager != nil && manager.IsEnabled() {
		repos = manager.Repository()
		readiness = append(readiness, activation.ReadinessCheck{
			Name:  "postgres",
			Check: manager.Health().Ping,
		})
	}

	gate := activation.NewGate(cfg, pol, liveio, readiness, store.ReadIndex, log.Logger)
	engine := analyzer.New(analyzer.NewStabilityStore(), log.Logger)
	pipe := pipeline.New(registry, engine, pol, tune.New(log.Logger), gate, cfg, repos, log.Logger)

	a := &app{
		cfg:      cfg,
		pol:      pol,
		registry: registry,
		liveio:   liveio,
		store:    store,
		manager:  manager,
		gate:     gate,
		pipe:     pipe,
		promReg:  promReg,
	}
	a.runner = batch.NewRunner(pipe, registry, cfg, liveio, a.dailyRemaining, log.Logger)
	return a, nil
}

func (a *app) close() {
	if a.manager != nil {
		if err := a.manager.Close(); err != nil {
			log.Warn().Err(err).Msg("closing database")
		}
	}
}

// dailyRemaining reads the activation budget left for today.
func (a *app) dailyRemaining() (int, error) {
	ix, err := a.store.ReadIndex()
	if err != nil {
		return 0, err
	}
	return activation.DailyCapRemaining(ix, a.cfg.DailyMaxActivations, time.Now()), nil
}

// shadowAnalyzer builds the live-shadow analyze runner on the shared
// wiring; it gets its own engine so stability state stays per-run.
func (a *app) shadowAnalyzer() *liveshadow.Analyzer {
	engine := analyzer.New(analyzer.NewStabilityStore(), log.Logger)
	return liveshadow.NewAnalyzer(a.registry, engine, a.pol, a.cfg, a.store, log.Logger)
}

func (a *app) comparer() *liveshadow.Comparer {
	return liveshadow.NewComparer(a.registry, a.cfg, a.store, a.liveio, log.Logger)
}

func openManager(path string) (*postgres.Manager, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read db config: %w", err)
	}
	cfg := postgres.DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	return postgres.NewManager(cfg)
}

// printJSON writes an indented report to stdout; reports are the CLI's
// primary output, logs go to stderr.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
