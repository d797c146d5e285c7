// prep-service is the HTTP API server for meeting preparation jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"meetingprep/internal/api"
	"meetingprep/internal/config"
	"meetingprep/internal/dispatcher"
	"meetingprep/internal/health"
	"meetingprep/internal/job"
	"meetingprep/internal/observability"
	"meetingprep/internal/pipeline"
	"meetingprep/internal/research"
	"meetingprep/internal/step"
	"meetingprep/internal/workflow"
)

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	svcCfg := config.LoadServiceConfig()
	dispatcherCfg := dispatcher.LoadConfigFromEnv()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Create callback dispatcher
	eventDispatcher := dispatcher.NewMemory(dispatcherCfg, metrics)

	// Select the step provider once at startup
	provider, err := buildProvider(svcCfg)
	if err != nil {
		return err
	}
	slog.Info("Step provider selected", "provider", svcCfg.StepProvider)

	registry, err := step.Build(provider, step.Catalog())
	if err != nil {
		provider.Close()
		return err
	}
	defer registry.Close()

	// Assemble store, executor, and workflow service
	store := job.NewStore()
	executor := pipeline.NewExecutor(store, metrics, eventDispatcher, svcCfg.StepTimeout)
	svc := workflow.NewService(store, registry, executor, metrics, svcCfg.MaxActiveJobs)

	// Retention sweeper for terminal jobs
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(svcCfg.RetentionSchedule, func() {
		if removed := store.Sweep(svcCfg.JobRetention); removed > 0 {
			slog.Info("Swept terminal jobs", "removed", removed, "retention", svcCfg.JobRetention)
		}
	}); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", svcCfg.RetentionSchedule, err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Create health checker
	healthChecker := health.NewChecker(registry)

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Service:       svc,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Cancel running jobs and wait for their goroutines. Jobs are
	// in-process; anything still running when the deadline hits is cancelled
	// and recorded as failed.
	slog.Info("Stopping running jobs", "active", svc.ActiveRuns())
	jobCtx, jobCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer jobCancel()
	if err := svc.Shutdown(jobCtx); err != nil {
		slog.Warn("Job shutdown incomplete", "error", err)
	}

	// Phase 4: Drain callback dispatcher so terminal events get delivered
	slog.Info("Draining callback dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	slog.Info("Shutdown complete")
	return nil
}

// buildProvider constructs the configured step provider.
func buildProvider(cfg *config.ServiceConfig) (step.Provider, error) {
	switch cfg.StepProvider {
	case config.ProviderHTTP:
		if cfg.EndpointsFile == "" {
			return nil, fmt.Errorf("STEP_PROVIDER=http requires RESEARCH_ENDPOINTS_FILE")
		}
		endpoints, err := research.LoadEndpoints(cfg.EndpointsFile)
		if err != nil {
			return nil, fmt.Errorf("load research endpoints: %w", err)
		}
		return research.NewProvider(endpoints), nil
	case config.ProviderStub:
		return step.NewStubProvider(), nil
	default:
		return nil, fmt.Errorf("unknown step provider %q", cfg.StepProvider)
	}
}
