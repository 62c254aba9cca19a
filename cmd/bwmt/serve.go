package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/api"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/health"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/observability"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/session"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/setup"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/store"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/stream"
)

const completedBuffer = 64

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control service (default)",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
	addServeFlags(cmd)
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// serve runs the service until ctx is cancelled.
func serve(ctx context.Context, cfg Config, logger *slog.Logger) error {
	logger.Info("config",
		"addr", cfg.HTTPAddr,
		"log_level", cfg.LogLevel.String(),
		"setup_path", cfg.SetupPath,
		"db_path", cfg.DBPath,
		"tick_rate", cfg.TickRate.String(),
		"max_tick", cfg.MaxTick.String(),
		"max_sessions", cfg.MaxSessions,
		"auth_enabled", cfg.Auth.Enabled,
		"trust_proxy", cfg.TrustProxy,
		"stream_max_per_ip", cfg.Stream.MaxConcurrentPerIP,
		"stream_frame_interval", cfg.Stream.FrameInterval.String(),
		"tracing_enabled", cfg.Tracing.Enabled,
	)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, logger)

	setupStore, err := setup.Open(cfg.SetupPath)
	if err != nil {
		return fmt.Errorf("load setup %s: %w", cfg.SetupPath, err)
	}
	logger.Info("setup loaded", "path", setupStore.Path())

	registry := session.NewRegistry(session.RegistryConfig{
		TickRate:        cfg.TickRate,
		MaxTick:         cfg.MaxTick,
		MaxSessions:     cfg.MaxSessions,
		CompletedBuffer: completedBuffer,
		Layout:          setupStore.Get().Stripes,
	}, logger)

	deps := api.Deps{
		Registry: registry,
		Setup:    setupStore,
		Stream:   stream.NewHandler(registry, cfg.Stream, logger),
		Ready:    map[string]health.Check{},
	}

	var runs *store.Store
	if cfg.HistoryEnabled() {
		runs, err = store.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open run history %s: %w", cfg.DBPath, err)
		}
		defer runs.Close()
		deps.Runs = runs
		deps.Ready["store"] = runs.Ping
		logger.Info("run history enabled", "path", cfg.DBPath)
	}

	var wg sync.WaitGroup
	loopCtx, stopLoops := context.WithCancel(context.Background())
	defer stopLoops()

	wg.Add(2)
	go func() {
		defer wg.Done()
		registry.Run(loopCtx)
	}()
	go func() {
		defer wg.Done()
		if runs != nil {
			store.NewRecorder(runs, logger).Run(loopCtx, registry.Completed())
			return
		}
		logCompletions(loopCtx, registry.Completed(), logger)
	}()

	srv := api.NewServer(cfg.HTTPAddr, logger, cfg.Auth, deps)
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.HTTPAddr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		logger.Error("server listen error", "error", err)
		stopLoops()
		wg.Wait()
		return err
	}
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := srv.HTTPServer().Shutdown(shutdownCtx)
	if shutdownErr != nil {
		logger.Error("server shutdown error", "error", shutdownErr)
	}

	// Stop ticking, then let the recorder flush buffered runs.
	stopLoops()
	wg.Wait()

	logger.Info("server stopped")
	return shutdownErr
}

// logCompletions drains completed runs when no history is kept.
func logCompletions(ctx context.Context, records <-chan session.RunRecord, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-records:
			logger.Info("run completed",
				"session_id", rec.SessionID,
				"run", rec.Run,
				"source", string(rec.Source),
				"duration_s", rec.DurationSeconds,
			)
		}
	}
}
