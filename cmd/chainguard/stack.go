package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chainguard/internal/cache"
	"github.com/fyrsmithlabs/chainguard/internal/checklist"
	"github.com/fyrsmithlabs/chainguard/internal/config"
	"github.com/fyrsmithlabs/chainguard/internal/execx"
	"github.com/fyrsmithlabs/chainguard/internal/gate"
	"github.com/fyrsmithlabs/chainguard/internal/logging"
	"github.com/fyrsmithlabs/chainguard/internal/project"
	"github.com/fyrsmithlabs/chainguard/internal/store"
	"github.com/fyrsmithlabs/chainguard/internal/taskstate"
	"github.com/fyrsmithlabs/chainguard/internal/telemetry"
	"github.com/fyrsmithlabs/chainguard/internal/validate"
	"github.com/fyrsmithlabs/chainguard/internal/writer"
)

// shutdownTimeout bounds the final flush of pending project state.
const shutdownTimeout = 15 * time.Second

// loadConfig loads the configuration selected by the global flags and
// makes sure the home directory exists.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{Home: homeDir, ConfigPath: configPath})
	if err != nil {
		return nil, err
	}
	if err := config.EnsureHome(cfg.Home); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initLogger(cfg *config.Config) (*logging.Logger, error) {
	lc, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(lc)
}

// stack is the wired engine shared by serve and call.
type stack struct {
	cfg       *config.Config
	logger    *logging.Logger
	registry  *prometheus.Registry
	store     store.Store
	writer    *writer.Writer
	resolver  *project.Resolver
	manager   *project.Manager
	settings  *config.Runtime
	gate      *gate.Dispatcher
	telemetry *telemetry.Telemetry
	snapshot  func(prometheus.Gatherer) error
}

type stackOptions struct {
	// forceMetrics registers collectors even when metrics are disabled.
	forceMetrics bool
	// snapshot receives the registry on Close, after the final flush.
	snapshot func(prometheus.Gatherer) error
}

// newStack opens the store and wires every component on top of it. A
// store that cannot be opened, including a corrupt one, is fatal.
func newStack(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts stackOptions) (*stack, error) {
	policy, err := taskstate.DefaultAlertPolicy().Merge(cfg.Alerts.Severity)
	if err != nil {
		return nil, fmt.Errorf("alerts.severity: %w", err)
	}

	s := &stack{cfg: cfg, logger: logger}
	var reg prometheus.Registerer
	if cfg.Metrics.Enabled || opts.forceMetrics {
		s.registry = prometheus.NewRegistry()
		reg = s.registry
		s.snapshot = opts.snapshot
	}
	zl := logger.Underlying()

	tcfg := telemetry.FromAppConfig(cfg, version)
	tcfg.Metrics = reg != nil
	s.telemetry, err = telemetry.New(tcfg, reg, zl)
	if err != nil {
		return nil, err
	}

	s.store, err = store.Open(ctx, store.Config{
		Driver:       cfg.Storage.Driver,
		Path:         cfg.Storage.Path,
		HistoryLimit: cfg.Storage.HistoryLimit,
	})
	if err != nil {
		_ = s.telemetry.Shutdown(ctx)
		return nil, fmt.Errorf("opening %s store at %s: %w", cfg.Storage.Driver, cfg.Storage.Path, err)
	}

	s.writer = writer.New(s.store, writer.Options{
		Window:      cfg.Persistence.Debounce.Duration(),
		Retries:     cfg.Persistence.Retries,
		SaveTimeout: cfg.Persistence.SaveTimeout.Duration(),
		Logger:      zl.Named("writer"),
		Metrics:     writer.NewMetrics(reg),
	})

	cacheMetrics := cache.NewMetrics(reg)
	s.resolver = project.NewResolver(cfg.Cache.RepoTTL.Duration(), cfg.Cache.RepoEntries,
		cache.WithObserver(cacheMetrics.Observer("identities")))
	s.manager = project.NewManager(s.resolver, s.store, s.writer, project.ManagerOptions{
		MaxProjects: cfg.Cache.MaxProjects,
		StateOptions: taskstate.Options{
			MaxChanges: cfg.Tracking.MaxLogEntries,
			Policy:     policy,
		},
		Observer: cacheMetrics.Observer("projects"),
		Logger:   logger.Named("project"),
	})

	runner := execx.New(execx.Options{
		Allowed: cfg.Exec.AllowedCommands,
		Timeout: cfg.Exec.Timeout.Duration(),
		Rate:    cfg.Exec.Rate,
		Burst:   cfg.Exec.Burst,
		Logger:  zl.Named("exec"),
		Metrics: execx.NewMetrics(reg),
	})

	s.settings = config.NewRuntime(cfg, true)
	s.gate = gate.New(s.manager, s.store, gate.Options{
		Marker:        cfg.Context.Marker,
		MaxBatchFiles: cfg.Tracking.MaxBatchFiles,
		Validator:     validate.NewSyntax(runner),
		Checklist: checklist.NewRunner(runner, checklist.Options{
			Parallelism: cfg.Exec.Parallelism,
			Timeout:     cfg.Exec.ChecklistTimeout.Duration(),
			Logger:      zl.Named("checklist"),
		}),
		Settings: s.settings,
		Metrics:  gate.NewMetrics(reg),
		Logger:   logger.Named("gate"),
	})
	return s, nil
}

// Close flushes pending project state, closes the store, hands the
// metrics to the snapshot hook and shuts telemetry down, in that order.
func (s *stack) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.writer.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flushing project state: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	if s.snapshot != nil {
		if err := s.snapshot(s.registry); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics snapshot: %w", err))
		}
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down telemetry: %w", err))
	}
	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error(ctx, "shutdown incomplete", zap.Error(err))
	}
	return err
}
