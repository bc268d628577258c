package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/onnwee/geoprivacy/internal/db"
	"github.com/onnwee/geoprivacy/internal/health"
	"github.com/onnwee/geoprivacy/internal/middleware"
	"github.com/onnwee/geoprivacy/internal/retention"
	"github.com/onnwee/geoprivacy/internal/tracing"
	"github.com/onnwee/geoprivacy/migrations"
)

const serviceName = "geoprivacy"

// shutdownTimeout bounds graceful shutdown of the ops server and tracer.
const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the retention scheduler and the ops server",
		Long: "serve runs the periodic retention job and exposes /health, /ready and " +
			"/metrics until SIGINT or SIGTERM.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *configPath, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before starting")
	return cmd
}

func runServe(ctx context.Context, configPath string, migrate bool) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	for key, value := range a.cfg.LogSummary() {
		a.logger.Info("config", slog.String("key", key), slog.String("value", value))
	}

	if migrate {
		if _, err := db.Migrate(ctx, a.db, migrations.FS, a.logger); err != nil {
			return err
		}
	}

	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Enabled:        a.cfg.TracingEnabled,
		Environment:    a.cfg.Env,
		ExporterType:   a.cfg.TracingExporter,
		OTLPEndpoint:   a.cfg.TracingEndpoint,
		SamplingRate:   a.cfg.TracingSamplingRate,
		InsecureMode:   a.cfg.TracingInsecure,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	job := retention.NewJob(retention.JobConfig{
		Interval:    a.cfg.RetentionInterval,
		Timeout:     a.cfg.RetentionTimeout,
		Concurrency: a.cfg.RetentionConcurrency,
		Logger:      a.logger,
		Metrics:     a.retentionMetrics,
		JobMetrics:  a.jobMetrics,
	}, a.retention, a.history)

	checks := health.NewHandlers(map[string]health.Checker{
		"database": health.NewDBChecker(a.db),
		"redis":    health.NewRedisChecker(a.redis),
	}, a.logger)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(a.cfg.Port),
		Handler:      newOpsHandler(checks, a.registry, a.logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := job.Start(ctx); err != nil {
		return fmt.Errorf("failed to start retention job: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("starting ops server", slog.Int("port", a.cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("ops server: %w", err)
		}
	}

	job.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("ops server forced to shutdown", slog.String("error", err.Error()))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to shutdown tracer provider", slog.String("error", err.Error()))
	}

	a.logger.Info("stopped")
	return runErr
}

// newOpsHandler routes the health, readiness and metrics endpoints through
// the request ID, tracing and logging middleware.
func newOpsHandler(checks *health.Handlers, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", checks.Health)
	mux.HandleFunc("GET /ready", checks.Ready)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return middleware.RequestID(middleware.Tracing(serviceName)(middleware.Logging(logger)(mux)))
}
