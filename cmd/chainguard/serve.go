package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/chainguard/internal/config"
	"github.com/fyrsmithlabs/chainguard/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chainguard MCP tools on stdio",
	Long: `Serve one MCP tool per chainguard operation on stdin/stdout.

Logs go to the configured log file or stderr; stdout carries the MCP
protocol only. Pending project state is flushed before exit.

Examples:
  # Register with an agent
  claude mcp add chainguard -- chainguard serve

  # Log to stderr while debugging
  CHAINGUARD_LOGGING_STDERR=true CHAINGUARD_LOGGING_LEVEL=debug chainguard serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return serve(ctx, cmd)
}

// serve runs the MCP server until the client disconnects or ctx is
// cancelled.
func serve(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting chainguard",
		zap.String("version", version),
		zap.String("home", cfg.Home),
		zap.String("storage.driver", cfg.Storage.Driver),
		zap.Int("cache.max_projects", cfg.Cache.MaxProjects))

	metricsPath := filepath.Join(cfg.Home, metricsFileName)
	st, err := newStack(ctx, cfg, logger, stackOptions{
		snapshot: func(g prometheus.Gatherer) error { return writeMetricsFile(metricsPath, g) },
	})
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(&mcp.Config{
		Name:    "chainguard",
		Version: version,
		Logger:  logger.Underlying().Named("mcp"),
	}, st.gate)
	if err != nil {
		_ = st.Close(context.Background())
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	janitor := st.resolver.StartJanitor(gctx, cfg.Cache.RepoTTL.Duration())
	g.Go(func() error {
		if err := config.WatchSettings(gctx, st.settings, logger.Underlying().Named("settings")); err != nil {
			logger.Warn(gctx, "settings watcher stopped", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		defer stop()
		err := server.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	fmt.Fprintf(cmd.ErrOrStderr(), "chainguard %s serving %d tools on stdio\n", version, server.Tools().Count())

	runErr := g.Wait()
	stop()
	<-janitor

	// Shutdown runs on a fresh context so the final flush is not
	// cancelled by the signal that triggered it.
	closeErr := st.Close(context.Background())
	logger.Info(ctx, "chainguard shutdown complete")
	return errors.Join(runErr, closeErr)
}
