package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"sahtee-exposure/internal/config"
	"sahtee-exposure/internal/domain"
	"sahtee-exposure/internal/evaluator"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestCacheManager_SetAndGetEvaluation(t *testing.T) {
	mr, client := setupTestRedis(t)
	cm := NewCacheManager(config.Default(), client, zap.NewNop())
	ctx := context.Background()

	ev := evaluator.Evaluation{
		Value:           0.06,
		RegulatoryLimit: 0.05,
		PercentOfLimit:  120,
		DisplayPercent:  100,
		AlertLevel:      domain.AlertLevelCritical,
	}
	require.NoError(t, cm.SetEvaluation(ctx, "exp-1", ev))

	assert.True(t, mr.Exists("exposure:exp-1:evaluation"))
	assert.Equal(t, time.Hour, mr.TTL("exposure:exp-1:evaluation"))

	got, err := cm.GetEvaluation(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, ev, *got)
}

func TestCacheManager_GetEvaluation_Miss(t *testing.T) {
	_, client := setupTestRedis(t)
	cm := NewCacheManager(config.Default(), client, zap.NewNop())

	_, err := cm.GetEvaluation(context.Background(), "unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCacheManager_GetEvaluation_Expired(t *testing.T) {
	mr, client := setupTestRedis(t)
	cm := NewCacheManager(config.Default(), client, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, cm.SetEvaluation(ctx, "exp-1", evaluator.Evaluation{Value: 1}))
	mr.FastForward(2 * time.Hour)

	_, err := cm.GetEvaluation(ctx, "exp-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCacheManager_PublishAlertEvent(t *testing.T) {
	_, client := setupTestRedis(t)
	cfg := config.Default()
	cm := NewCacheManager(cfg, client, zap.NewNop())
	ctx := context.Background()

	event := domain.AlertEvent{
		Kind: domain.AlertEventCreated,
		Alert: &domain.HealthAlert{
			ID:        "alert-1",
			Type:      domain.AlertTypeExposureThreshold,
			Severity:  domain.SeverityCritical,
			Status:    domain.AlertStatusActive,
			SubjectID: "exp-1",
		},
		OccurredAt: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, cm.PublishAlertEvent(ctx, event))

	msgs, err := client.XRange(ctx, cfg.Exposure.Stream.Alerts, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var got domain.AlertEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &got))
	assert.Equal(t, domain.AlertEventCreated, got.Kind)
	assert.Equal(t, "alert-1", got.Alert.ID)
	assert.Equal(t, domain.SeverityCritical, got.Alert.Severity)
}
