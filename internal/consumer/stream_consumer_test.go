package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"sahtee-exposure/internal/config"
	"sahtee-exposure/internal/domain"
	"sahtee-exposure/internal/evaluator"
	rediscommon "sahtee-exposure/internal/redis"
	"sahtee-exposure/internal/repository"
	"sahtee-exposure/internal/service"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeIngester struct {
	mu    sync.Mutex
	calls map[string][]domain.Measurement
	errs  map[string]error
}

func newFakeIngester() *fakeIngester {
	return &fakeIngester{calls: map[string][]domain.Measurement{}, errs: map[string]error{}}
}

func (f *fakeIngester) AppendMeasurement(_ context.Context, exposureID string, m domain.Measurement) (*service.MeasurementResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[exposureID]; err != nil {
		return nil, err
	}
	f.calls[exposureID] = append(f.calls[exposureID], m)
	return &service.MeasurementResult{ExposureID: exposureID, Measurement: m, AlertCreated: m.Value > 1}, nil
}

func newTestConsumer(t *testing.T, ingester MeasurementIngester) (*StreamConsumer, *redis.Client, *config.Config) {
	_, client := setupTestRedis(t)
	cfg := config.Default()
	c := NewStreamConsumer(cfg, client, ingester, zap.NewNop())
	c.block = 10 * time.Millisecond
	require.NoError(t, rediscommon.CreateConsumerGroup(
		context.Background(), client, cfg.Exposure.Stream.Measurements, cfg.Exposure.Stream.ConsumerGroup))
	return c, client, cfg
}

func publishMeasurement(t *testing.T, client *redis.Client, stream string, msg MeasurementMessage) {
	_, err := rediscommon.PublishJSONToStream(context.Background(), client, stream, msg)
	require.NoError(t, err)
}

func pendingCount(t *testing.T, client *redis.Client, cfg *config.Config) int64 {
	p, err := client.XPending(context.Background(), cfg.Exposure.Stream.Measurements, cfg.Exposure.Stream.ConsumerGroup).Result()
	require.NoError(t, err)
	return p.Count
}

func TestStreamConsumer_ProcessesAndAcks(t *testing.T) {
	ingester := newFakeIngester()
	c, client, cfg := newTestConsumer(t, ingester)
	at := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

	publishMeasurement(t, client, cfg.Exposure.Stream.Measurements, MeasurementMessage{
		ExposureID: "exp-1", Value: 0.04, Unit: "mg/m3", MeasuredAt: at, Method: "badge", DurationSeconds: 28800,
	})
	publishMeasurement(t, client, cfg.Exposure.Stream.Measurements, MeasurementMessage{
		ExposureID: "exp-1", Value: 2.5, Unit: "mg/m3", MeasuredAt: at.Add(time.Hour),
	})

	n, err := c.consumeOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, ingester.calls["exp-1"], 2)
	first := ingester.calls["exp-1"][0]
	assert.Equal(t, 0.04, first.Value)
	assert.Equal(t, 8*time.Hour, first.Duration)
	assert.Equal(t, at, first.Date)

	m := c.Metrics()
	assert.Equal(t, int64(2), m.MessagesProcessed)
	assert.Equal(t, int64(2), m.MessagesSucceeded)
	assert.Equal(t, int64(1), m.AlertsCreated)
	assert.Equal(t, int64(0), pendingCount(t, client, cfg))
}

func TestStreamConsumer_RejectsPermanentFailures(t *testing.T) {
	ingester := newFakeIngester()
	ingester.errs["missing"] = fmt.Errorf("exposure missing: %w", domain.ErrNotFound)
	c, client, cfg := newTestConsumer(t, ingester)
	ctx := context.Background()

	publishMeasurement(t, client, cfg.Exposure.Stream.Measurements, MeasurementMessage{ExposureID: "missing", Value: 1})
	publishMeasurement(t, client, cfg.Exposure.Stream.Measurements, MeasurementMessage{Value: 1})
	_, err := rediscommon.PublishToStream(ctx, client, cfg.Exposure.Stream.Measurements, map[string]interface{}{"data": "{not json"})
	require.NoError(t, err)

	_, err = c.consumeOnce(ctx)
	require.NoError(t, err)

	m := c.Metrics()
	assert.Equal(t, int64(3), m.MessagesProcessed)
	assert.Equal(t, int64(3), m.MessagesRejected)
	assert.Equal(t, int64(0), pendingCount(t, client, cfg))
}

func TestStreamConsumer_MalformedExposureIDAgainstPostgresIsAcked(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := config.Default()
	exposures := service.NewExposureService(
		repository.NewPostgresExposuresRepo(db, zap.NewNop()),
		evaluator.NewThresholdEvaluator(cfg.Exposure.Thresholds),
		nil, nil, zap.NewNop(),
	)
	c, client, cfg := newTestConsumer(t, exposures)
	ctx := context.Background()

	// MQTT topic 派生的 id 不是 UUID
	publishMeasurement(t, client, cfg.Exposure.Stream.Measurements, MeasurementMessage{ExposureID: "line-2", Value: 0.4})

	_, err = c.consumeOnce(ctx)
	require.NoError(t, err)

	m := c.Metrics()
	assert.Equal(t, int64(1), m.MessagesRejected)
	assert.Equal(t, int64(0), m.MessagesFailed)
	assert.Equal(t, int64(0), pendingCount(t, client, cfg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStreamConsumer_TransientFailureIsRetried(t *testing.T) {
	ingester := newFakeIngester()
	ingester.errs["exp-1"] = errors.New("connection reset")
	c, client, cfg := newTestConsumer(t, ingester)
	ctx := context.Background()

	publishMeasurement(t, client, cfg.Exposure.Stream.Measurements, MeasurementMessage{ExposureID: "exp-1", Value: 0.5})

	_, err := c.consumeOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Metrics().MessagesFailed)
	assert.Equal(t, int64(1), pendingCount(t, client, cfg))

	// 间隔未到：不重投
	_, err = c.consumeOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pendingCount(t, client, cfg))

	ingester.mu.Lock()
	delete(ingester.errs, "exp-1")
	ingester.mu.Unlock()
	c.lastPendingScan = time.Time{}

	n, err := c.consumeOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, ingester.calls["exp-1"], 1)
	assert.Equal(t, int64(1), c.Metrics().MessagesSucceeded)
	assert.Equal(t, int64(0), pendingCount(t, client, cfg))
}

func TestStreamConsumer_StartStopsOnCancel(t *testing.T) {
	ingester := newFakeIngester()
	c, client, cfg := newTestConsumer(t, ingester)

	publishMeasurement(t, client, cfg.Exposure.Stream.Measurements, MeasurementMessage{ExposureID: "exp-1", Value: 0.5})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool {
		return c.Metrics().MessagesSucceeded == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
