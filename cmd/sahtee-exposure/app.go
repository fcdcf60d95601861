package main

import (
	"context"
	"database/sql"
	"fmt"

	"sahtee-exposure/internal/analysis"
	"sahtee-exposure/internal/config"
	"sahtee-exposure/internal/consumer"
	"sahtee-exposure/internal/database"
	"sahtee-exposure/internal/evaluator"
	"sahtee-exposure/internal/narrative"
	rediscommon "sahtee-exposure/internal/redis"
	"sahtee-exposure/internal/repository"
	"sahtee-exposure/internal/service"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// app 组装后的服务依赖
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	cache       *consumer.CacheManager

	exposures *service.ExposureService
	alerts    *service.AlertService
	analysis  *service.AnalysisService
}

// newApp 按配置选择 Postgres / 内存仓储，并按需接入 Redis 和叙述生成服务
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var (
		exposureRepo repository.ExposuresRepository
		alertRepo    repository.AlertsRepository
	)
	if cfg.DBEnabled {
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect database: %w", err)
		}
		a.db = db
		exposureRepo = repository.NewPostgresExposuresRepo(db, logger)
		alertRepo = repository.NewPostgresAlertsRepo(db, logger)
		logger.Info("Using PostgreSQL repositories",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Database),
		)
	} else {
		exposureRepo = repository.NewMemoryExposuresRepo()
		alertRepo = repository.NewMemoryAlertsRepo()
		logger.Warn("DB_ENABLED=false, using in-memory repositories")
	}
	recRepo := repository.NewMemoryRecommendationsRepo()

	var (
		cache     service.EvaluationCache
		publisher service.AlertEventPublisher
	)
	if cfg.RedisEnabled {
		client := rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, client); err != nil {
			a.Close()
			client.Close()
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		a.redisClient = client
		a.cache = consumer.NewCacheManager(cfg, client, logger)
		cache = a.cache
		publisher = a.cache
	}

	var enricher *analysis.Enricher
	if cfg.Narrative.URL != "" {
		gen := narrative.NewClient(cfg.Narrative.URL, cfg.Narrative.APIKey, cfg.Narrative.Timeout, logger)
		enricher = analysis.NewEnricher(gen, cfg.Narrative.Timeout, logger)
		logger.Info("Narrative enrichment enabled", zap.String("url", cfg.Narrative.URL))
	}

	threshold := evaluator.NewThresholdEvaluator(cfg.Exposure.Thresholds)
	a.alerts = service.NewAlertService(alertRepo, publisher, logger)
	a.exposures = service.NewExposureService(exposureRepo, threshold, a.alerts, cache, logger)
	a.analysis = service.NewAnalysisService(
		exposureRepo,
		recRepo,
		threshold,
		evaluator.NewTrendAnalyzer(cfg.Exposure.Trend),
		analysis.NewRiskGroupClassifier(cfg.Exposure.RiskGroup.MinGroupSize),
		analysis.NewRecommendationEngine(),
		enricher,
		logger,
	)
	return a, nil
}

// Close 释放数据库和 Redis 连接
func (a *app) Close() {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Warn("Failed to close database", zap.Error(err))
		}
	}
}
