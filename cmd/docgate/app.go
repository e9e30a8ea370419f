package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/clinicdocs/docgate/internal/config"
	"github.com/clinicdocs/docgate/internal/gateway"
	"github.com/clinicdocs/docgate/internal/metrics"
	"github.com/clinicdocs/docgate/internal/provider"
	"github.com/clinicdocs/docgate/internal/retry"
	"github.com/clinicdocs/docgate/internal/statussync"
	"github.com/clinicdocs/docgate/internal/storage"
)

// app is the wired gateway stack shared by the server and the one-shot
// commands.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	store   *storage.Store
	ledger  *statussync.Ledger
	gw      *gateway.Service
}

// newApp loads and validates the configuration and builds the stack. Tests
// replace it.
var newApp = func() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return buildApp(cfg, setupLogging(cfg.Log, os.Stderr))
}

func buildApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	m := metrics.New()

	client := provider.NewClient(provider.Config{
		BaseURL:       cfg.Provider.BaseURL,
		APIKey:        cfg.Provider.APIKey,
		DefaultFolder: cfg.Provider.DefaultFolder,
	}, provider.WithObserver(m), provider.WithLogger(logger))

	policy := retry.Policy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		OnRetry:      m.OnRetry,
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	ledger := statussync.NewLedger(store,
		statussync.WithTracking(cfg.StatusSync.Enabled),
		statussync.WithMaxPolls(cfg.StatusSync.MaxPolls),
	)

	gw := gateway.New(client, policy,
		gateway.WithRecorder(ledger),
		gateway.WithBatchSize(cfg.Ingest.BatchSize),
		gateway.WithBatchObserver(m),
		gateway.WithLogger(logger),
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		store:   store,
		ledger:  ledger,
		gw:      gw,
	}, nil
}

// requireConfigured fails before any provider call when the key or base URL
// is missing.
func (a *app) requireConfigured() error {
	if a.gw.Configured() {
		return nil
	}
	return fmt.Errorf("document provider is not configured: %s", config.MissingKeyHint())
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing storage", "error", err)
	}
}
