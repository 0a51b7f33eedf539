package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mcoot/outlier/internal/api"
	"github.com/mcoot/outlier/internal/config"
	"github.com/mcoot/outlier/internal/factory"
	"github.com/mcoot/outlier/internal/logging"
	"github.com/mcoot/outlier/internal/telemetry"
	"github.com/mcoot/outlier/internal/web/stream"
)

const releaseVersion = "0.1.0"

func main() {
	cfg := &config.Server{}
	if err := newCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newCmd(cfg *config.Server) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "outlier-server",
		Short:         "Serve outlier party game sessions over HTTP",
		Args:          cobra.NoArgs,
		Version:       releaseVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Resolve(cmd.Flags()); err != nil {
				return err
			}
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	config.BindFlags(cmd.Flags(), cfg)
	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetVersionTemplate("outlier-server v{{.Version}}\n")

	return cmd
}

func run(ctx context.Context, cfg *config.Server) error {
	logger, logCloser, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry())
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		// The signal context is already cancelled by now
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", slog.String("error", err.Error()))
		}
	}()

	factoryCfg := cfg.Factory()
	factoryCfg.Logger = logger
	app, err := factory.New(ctx, factoryCfg)
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("application close failed", slog.String("error", err.Error()))
		}
	}()

	router := api.NewRouter(api.RouterConfig{
		Logger:            logger,
		SessionController: app.SessionController,
		Categories:        app.Categories,
		HubManager:        app.HubManager,
		PublicURL:         cfg.PublicURL,
	})

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Host
	serverConfig.Port = cfg.Port
	serverConfig.ShutdownTimeout = cfg.ShutdownTimeout
	server := api.NewServer(router, serverConfig, logger)
	server.OnShutdown(app.HubManager.Close)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		cleanupHubs(gctx, app.HubManager, cfg.HubCleanupInterval)
		return nil
	})

	logger.Info("server started",
		slog.String("addr", server.Addr()),
		slog.String("storage", cfg.Storage),
		slog.Bool("generator", app.Categories.HasGenerator()))

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// cleanupHubs closes stream hubs whose clients have all gone
func cleanupHubs(ctx context.Context, hubs *stream.HubManager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hubs.CleanupEmptyHubs()
		}
	}
}
