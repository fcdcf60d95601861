package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sahtee-exposure/internal/config"
	"sahtee-exposure/internal/domain"
	"sahtee-exposure/internal/evaluator"
	rediscommon "sahtee-exposure/internal/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CacheManager Redis 评估缓存 + 警报事件流
type CacheManager struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *CacheManager {
	return &CacheManager{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

func (c *CacheManager) evaluationKey(exposureID string) string {
	return fmt.Sprintf("%s%s%s",
		c.config.Exposure.Cache.EvaluationKeyPrefix,
		exposureID,
		c.config.Exposure.Cache.EvaluationSuffix,
	)
}

// SetEvaluation 写入最近一次评估（带 TTL）
func (c *CacheManager) SetEvaluation(ctx context.Context, exposureID string, ev evaluator.Evaluation) error {
	key := c.evaluationKey(exposureID)

	jsonData, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation: %w", err)
	}

	err = c.redisClient.Set(
		ctx,
		key,
		jsonData,
		time.Duration(c.config.Exposure.Cache.EvaluationTTL)*time.Second,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to set evaluation cache: %w", err)
	}

	c.logger.Debug("Updated evaluation cache",
		zap.String("exposure_id", exposureID),
		zap.String("key", key),
		zap.String("alert_level", string(ev.AlertLevel)),
	)
	return nil
}

// GetEvaluation 读取最近一次评估；未命中返回 ErrNotFound
func (c *CacheManager) GetEvaluation(ctx context.Context, exposureID string) (*evaluator.Evaluation, error) {
	val, err := c.redisClient.Get(ctx, c.evaluationKey(exposureID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("evaluation for %s: %w", exposureID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	var ev evaluator.Evaluation
	if err := json.Unmarshal([]byte(val), &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal evaluation: %w", err)
	}
	return &ev, nil
}

// PublishAlertEvent 推送警报事件到 alerts stream
func (c *CacheManager) PublishAlertEvent(ctx context.Context, event domain.AlertEvent) error {
	stream := c.config.Exposure.Stream.Alerts
	id, err := rediscommon.PublishJSONToStream(ctx, c.redisClient, stream, event)
	if err != nil {
		return fmt.Errorf("failed to publish alert event: %w", err)
	}

	alertID := ""
	if event.Alert != nil {
		alertID = event.Alert.ID
	}
	c.logger.Debug("Published alert event",
		zap.String("stream", stream),
		zap.String("stream_id", id),
		zap.String("alert_id", alertID),
		zap.String("kind", string(event.Kind)),
	)
	return nil
}
