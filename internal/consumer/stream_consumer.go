package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sahtee-exposure/internal/config"
	"sahtee-exposure/internal/domain"
	rediscommon "sahtee-exposure/internal/redis"
	"sahtee-exposure/internal/service"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// MeasurementIngester 测量值写入口（ExposureService）
type MeasurementIngester interface {
	AppendMeasurement(ctx context.Context, exposureID string, m domain.Measurement) (*service.MeasurementResult, error)
}

// Metrics 消费统计
type Metrics struct {
	mu sync.RWMutex

	MessagesProcessed int64
	MessagesSucceeded int64
	MessagesFailed    int64
	MessagesRejected  int64 // 格式 / 校验 / 未知 exposure，已确认丢弃
	AlertsCreated     int64
	StartTime         time.Time
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		MessagesProcessed: m.MessagesProcessed,
		MessagesSucceeded: m.MessagesSucceeded,
		MessagesFailed:    m.MessagesFailed,
		MessagesRejected:  m.MessagesRejected,
		AlertsCreated:     m.AlertsCreated,
		StartTime:         m.StartTime,
	}
}

func (m *Metrics) record(fn func(*Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

// StreamConsumer 从 Redis Streams 消费测量值
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	ingester    MeasurementIngester
	logger      *zap.Logger
	metrics     *Metrics
	block       time.Duration

	// 暂时性失败的消息留在 pending 列表，按间隔重新投递
	pendingInterval time.Duration
	lastPendingScan time.Time
}

// NewStreamConsumer 创建消费者
func NewStreamConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	ingester MeasurementIngester,
	logger *zap.Logger,
) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		ingester:    ingester,
		logger:      logger,
		metrics:     &Metrics{StartTime: time.Now()},
		block:       2 * time.Second,

		pendingInterval: 30 * time.Second,
	}
}

// Metrics returns a snapshot of the consumer counters.
func (c *StreamConsumer) Metrics() Metrics {
	return c.metrics.GetSnapshot()
}

// Start 阻塞运行直到 ctx 取消；读取失败时指数退避
func (c *StreamConsumer) Start(ctx context.Context) error {
	stream := c.config.Exposure.Stream.Measurements
	group := c.config.Exposure.Stream.ConsumerGroup

	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, stream, group); err != nil {
		return err
	}

	c.logger.Info("Starting measurement stream consumer",
		zap.String("stream", stream),
		zap.String("consumer_group", group),
		zap.String("consumer_name", c.config.Exposure.Stream.ConsumerName),
	)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := c.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume stream",
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
			continue
		}
		backoffDuration = time.Second
	}
}

// consumeOnce retries due pending messages, then reads one new batch. It returns
// the number of messages handled.
func (c *StreamConsumer) consumeOnce(ctx context.Context) (int, error) {
	stream := c.config.Exposure.Stream.Measurements
	group := c.config.Exposure.Stream.ConsumerGroup
	consumerName := c.config.Exposure.Stream.ConsumerName
	handled := 0

	if time.Since(c.lastPendingScan) >= c.pendingInterval {
		c.lastPendingScan = time.Now()
		pending, err := rediscommon.ReadPendingFromStream(ctx, c.redisClient, stream, group, consumerName, c.config.Exposure.Stream.BatchSize)
		if err != nil {
			return 0, fmt.Errorf("failed to read pending messages: %w", err)
		}
		if len(pending) > 0 {
			c.logger.Info("Retrying pending measurements", zap.Int("count", len(pending)))
		}
		c.handle(ctx, pending)
		handled += len(pending)
	}

	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		stream,
		group,
		consumerName,
		c.config.Exposure.Stream.BatchSize,
		c.block,
	)
	if err != nil {
		return handled, fmt.Errorf("failed to read from stream: %w", err)
	}
	c.handle(ctx, messages)
	return handled + len(messages), nil
}

func (c *StreamConsumer) handle(ctx context.Context, messages []rediscommon.StreamMessage) {
	stream := c.config.Exposure.Stream.Measurements
	group := c.config.Exposure.Stream.ConsumerGroup

	for _, msg := range messages {
		if !c.processMessage(ctx, msg) {
			continue
		}
		if err := rediscommon.Ack(ctx, c.redisClient, stream, group, msg.ID); err != nil {
			c.logger.Error("Failed to ack message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
	}
}

// processMessage reports whether the message should be acknowledged.
func (c *StreamConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) bool {
	c.metrics.record(func(m *Metrics) { m.MessagesProcessed++ })

	raw, ok := msg.Values["data"].(string)
	if !ok {
		c.reject(msg.ID, fmt.Errorf("missing data field in message"))
		return true
	}
	mm, err := parseMeasurementMessage([]byte(raw))
	if err != nil {
		c.reject(msg.ID, err)
		return true
	}
	if mm.ExposureID == "" {
		c.reject(msg.ID, fmt.Errorf("exposure_id is required"))
		return true
	}

	result, err := c.ingester.AppendMeasurement(ctx, mm.ExposureID, mm.Measurement())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) ||
			errors.Is(err, domain.ErrValidation) ||
			errors.Is(err, domain.ErrInvalidMeasurement) {
			c.reject(msg.ID, err)
			return true
		}
		if result != nil {
			// 测量已写入，只有警报评估失败；不重投以免重复追加
			c.metrics.record(func(m *Metrics) { m.MessagesFailed++ })
			c.logger.Error("Measurement stored but alert evaluation failed",
				zap.String("stream_id", msg.ID),
				zap.String("exposure_id", mm.ExposureID),
				zap.Error(err),
			)
			return true
		}
		c.metrics.record(func(m *Metrics) { m.MessagesFailed++ })
		c.logger.Error("Failed to process measurement",
			zap.String("stream_id", msg.ID),
			zap.String("exposure_id", mm.ExposureID),
			zap.Error(err),
		)
		return false
	}

	c.metrics.record(func(m *Metrics) {
		m.MessagesSucceeded++
		if result.AlertCreated {
			m.AlertsCreated++
		}
	})
	return true
}

func (c *StreamConsumer) reject(id string, err error) {
	c.metrics.record(func(m *Metrics) { m.MessagesRejected++ })
	c.logger.Warn("Rejected measurement message",
		zap.String("stream_id", id),
		zap.Error(err),
	)
}
