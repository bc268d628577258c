package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/geoprivacy/internal/config"
	"github.com/onnwee/geoprivacy/internal/db"
	"github.com/onnwee/geoprivacy/internal/envelope"
	"github.com/onnwee/geoprivacy/internal/jobs"
	"github.com/onnwee/geoprivacy/internal/middleware"
	"github.com/onnwee/geoprivacy/internal/privacy"
	"github.com/onnwee/geoprivacy/internal/retention"
)

// app holds the wired components shared by every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db    *sql.DB
	redis *redis.Client

	registry         *prometheus.Registry
	privacyMetrics   *privacy.Metrics
	retentionMetrics *retention.Metrics
	jobMetrics       *jobs.Metrics

	settings  *privacy.SettingsStore
	codec     *envelope.Codec
	evaluator *privacy.AccessEvaluator
	discloser *privacy.Discloser
	history   *retention.PostgresHistoryRepository
	retention *retention.Manager
}

// loadConfig loads and validates configuration, joining every validation error.
func loadConfig(path string) (*config.Config, error) {
	cfg, errs := config.Load(path)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// newApp connects to Postgres and Redis and builds the privacy engine.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	codec, err := envelope.NewCodec([]byte(cfg.LocationEncryptionSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to create location codec: %w", err)
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)

	a := &app{
		cfg:              cfg,
		logger:           logger,
		db:               conn,
		redis:            redisClient,
		registry:         prometheus.NewRegistry(),
		privacyMetrics:   privacy.NewMetrics(),
		retentionMetrics: retention.NewMetrics(),
		jobMetrics:       jobs.NewMetrics(),
		codec:            codec,
	}
	if err := a.registerMetrics(); err != nil {
		a.close()
		return nil, err
	}

	a.settings = privacy.NewSettingsStore(
		privacy.NewPostgresSettingsRepository(conn, logger),
		privacy.NewRedisCache(redisClient),
		privacy.SettingsStoreConfig{
			CacheTTL: cfg.SettingsCacheTTL,
			Logger:   logger,
			Metrics:  a.privacyMetrics,
		},
	)

	participation := privacy.NewBreakerParticipationChecker(
		privacy.NewPostgresParticipationRepository(conn),
		privacy.BreakerConfig{
			Timeout:             cfg.BreakerOpenTimeout,
			ConsecutiveFailures: uint32(cfg.BreakerFailures),
			Logger:              logger,
		},
	)
	a.evaluator = privacy.NewAccessEvaluator(a.settings, participation, logger, a.privacyMetrics)
	a.discloser = privacy.NewDiscloser(a.evaluator, a.settings, codec, logger, a.privacyMetrics)

	a.history = retention.NewPostgresHistoryRepository(conn, logger, retention.DefaultAnonymizeBatchSize)
	a.retention = retention.NewManager(a.settings, a.history, retention.ManagerConfig{
		Logger:  logger,
		Metrics: a.retentionMetrics,
	})

	return a, nil
}

func (a *app) registerMetrics() error {
	if err := a.registry.Register(collectors.NewGoCollector()); err != nil {
		return fmt.Errorf("failed to register go collector: %w", err)
	}
	if err := a.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return fmt.Errorf("failed to register process collector: %w", err)
	}
	if err := a.privacyMetrics.Register(a.registry); err != nil {
		return fmt.Errorf("failed to register privacy metrics: %w", err)
	}
	if err := a.retentionMetrics.Register(a.registry); err != nil {
		return fmt.Errorf("failed to register retention metrics: %w", err)
	}
	if err := a.jobMetrics.Register(a.registry); err != nil {
		return fmt.Errorf("failed to register job metrics: %w", err)
	}
	return nil
}

func (a *app) close() {
	if err := a.redis.Close(); err != nil {
		a.logger.Warn("failed to close redis client", slog.String("error", err.Error()))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", slog.String("error", err.Error()))
	}
}
