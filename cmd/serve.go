package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jackmmaher/appscout/internal/api"
	"github.com/jackmmaher/appscout/internal/clock/system"
	"github.com/jackmmaher/appscout/internal/config"
	"github.com/jackmmaher/appscout/internal/crawlworker"
	"github.com/jackmmaher/appscout/internal/id/uuid"
	"github.com/jackmmaher/appscout/internal/logging"
	"github.com/jackmmaher/appscout/internal/pipeline"
	"github.com/jackmmaher/appscout/internal/progress"
	"github.com/jackmmaher/appscout/internal/progress/sinks"
	"github.com/jackmmaher/appscout/internal/scheduler"
	"github.com/jackmmaher/appscout/internal/storage/memory"
	"github.com/jackmmaher/appscout/internal/storage/postgres"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline API server",
		Long: `Starts the HTTP API: job submission, the dedup gate, the drain
trigger, worker supervision, and the task progress stream.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()

	store, closeStore, err := buildJobStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger},
		sinks.NewLogSink(logger),
		promSink,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Close(closeCtx)
	}()

	clock := system.New()
	idGen := uuid.New()
	gate := scheduler.NewGate(store, idGen, clock, hub, logger)
	sched := scheduler.NewScheduler(store, clock, hub, logger)
	sched.SetRecentJobs(cfg.Pipeline.RecentJobs)

	manager := crawlworker.NewManager(crawlworker.ManagerConfig{
		BaseURL:        cfg.Worker.BaseURL(),
		Command:        cfg.Worker.Command,
		Args:           cfg.Worker.Args,
		ProbeTimeout:   time.Duration(cfg.Worker.ProbeTimeoutSec) * time.Second,
		SettleWait:     time.Duration(cfg.Worker.SettleWaitSec) * time.Second,
		ConfirmTimeout: time.Duration(cfg.Worker.ConfirmTimeoutSec) * time.Second,
	}, logger)

	var cache crawlworker.TaskCache
	if cfg.Redis.Addr != "" {
		cache = crawlworker.NewRedisTaskCache(crawlworker.RedisCacheConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      time.Duration(cfg.Redis.TaskTTLMin) * time.Minute,
		})
		logger.Info("task cache backed by redis", zap.String("addr", cfg.Redis.Addr))
	}
	orch := crawlworker.NewOrchestrator(crawlworker.OrchestratorConfig{
		BaseURL:        cfg.Worker.BaseURL(),
		RequestTimeout: cfg.RequestTimeout(),
		PollInterval:   time.Duration(cfg.Orchestrator.PollIntervalSec) * time.Second,
		TaskCeiling:    cfg.TaskCeiling(),
	}, manager, cache, logger)

	scheduler.RegisterHandlers(sched, orch)

	server := api.NewServer(gate, sched, store, manager, orch, api.Config{
		AuthEnabled:        cfg.Auth.Enabled,
		APIKey:             cfg.Auth.APIKey,
		DrainSecret:        cfg.Auth.DrainSecret,
		MaxBatch:           cfg.Pipeline.MaxBatch,
		StreamPollInterval: time.Duration(cfg.Stream.PollIntervalSec) * time.Second,
		StreamMaxPolls:     cfg.Stream.MaxPolls,
	}, logger)

	// Best effort; the worker can also be spawned later via the API.
	if outcome, err := manager.EnsureRunning(ctx); err != nil {
		logger.Warn("crawl worker not started", zap.Error(err))
	} else {
		logger.Info("crawl worker state", zap.String("outcome", outcome))
	}

	return serveHTTP(ctx, fmt.Sprintf(":%d", cfg.Server.Port), server.Handler(), logger)
}

func buildJobStore(ctx context.Context, cfg config.Config) (pipeline.JobStore, func(), error) {
	if cfg.DB.DSN == "" {
		return memory.NewJobStore(), func() {}, nil
	}
	store, err := postgres.NewJobStore(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("init postgres job store: %w", err)
	}
	return store, store.Close, nil
}

// serveHTTP runs the server until SIGINT/SIGTERM, then shuts down
// gracefully.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
