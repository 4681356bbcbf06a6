package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/donaldgifford/price-watch/internal/api"
	"github.com/donaldgifford/price-watch/internal/engine"
	"github.com/donaldgifford/price-watch/internal/telemetry"
	"github.com/donaldgifford/price-watch/pkg/rules"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and scheduler",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, &cfg.Telemetry, Version, logger)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing resources", "error", err)
		}
	}()

	if n, err := a.store.RecoverStaleJobRuns(ctx, cfg.Scheduler.StaleJobAge); err != nil {
		logger.Warn("recovering stale job runs", "error", err)
	} else if n > 0 {
		logger.Info("marked stale job runs as failed", "count", n)
	}

	if _, err := a.engine.Load(ctx); err != nil {
		return fmt.Errorf("loading products: %w", err)
	}

	if cfg.Rules.Watch {
		go func() {
			if err := rules.Watch(ctx, cfg.Rules.Path, a.registry, logger); err != nil {
				logger.Error("rules watcher stopped", "error", err)
			}
		}()
	}

	a.engine.Start(ctx)

	sched, err := engine.NewScheduler(
		a.engine,
		a.store,
		cfg.Scheduler.ScanInterval,
		cfg.Alerts.Interval,
		cfg.History.RetentionSchedule,
		logger,
	)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	sched.Start()

	opts := api.Options{
		Engine:       a.engine,
		Store:        a.store,
		Logger:       logger,
		Version:      Version,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	if tel.TracerProvider != nil {
		opts.TracerProvider = tel.TracerProvider
	}
	e := api.New(opts)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("starting server", "addr", addr, "version", Version, "driver", cfg.Database.Driver)

	serveErr := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		logger.Error("server error", "error", err)
	}

	logger.Info("shutting down")

	// Stop scheduling first so no new scans start, then drain the workers.
	<-sched.Stop().Done()
	a.engine.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
