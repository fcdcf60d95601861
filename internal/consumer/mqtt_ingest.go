package consumer

import (
	"context"
	"fmt"
	"time"

	"sahtee-exposure/internal/config"
	"sahtee-exposure/internal/mqtt"

	"go.uber.org/zap"
)

// MQTTIngest MQTT 传感器测量值订阅
type MQTTIngest struct {
	ingester MeasurementIngester
	logger   *zap.Logger
	timeout  time.Duration
}

func NewMQTTIngest(ingester MeasurementIngester, logger *zap.Logger) *MQTTIngest {
	return &MQTTIngest{ingester: ingester, logger: logger, timeout: 10 * time.Second}
}

// Start subscribes to the configured topic. Messages are handled on the client's
// callback goroutine.
func (i *MQTTIngest) Start(client *mqtt.Client, cfg *config.MQTTConfig) error {
	if err := client.Subscribe(cfg.Topic, cfg.QoS, i.HandleMessage); err != nil {
		return err
	}
	i.logger.Info("Subscribed to MQTT measurements", zap.String("topic", cfg.Topic))
	return nil
}

// HandleMessage 解析并写入一条测量值；payload 缺少 exposure_id 时从 topic 中提取
func (i *MQTTIngest) HandleMessage(topic string, payload []byte) error {
	mm, err := parseMeasurementMessage(payload)
	if err != nil {
		return err
	}
	if mm.ExposureID == "" {
		mm.ExposureID = exposureIDFromTopic(topic)
	}
	if mm.ExposureID == "" {
		return fmt.Errorf("no exposure_id in payload or topic %q", topic)
	}

	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()

	result, err := i.ingester.AppendMeasurement(ctx, mm.ExposureID, mm.Measurement())
	if err != nil {
		return fmt.Errorf("failed to ingest measurement for %s: %w", mm.ExposureID, err)
	}
	if result.AlertCreated && result.Alert != nil {
		i.logger.Info("Alert raised from MQTT measurement",
			zap.String("exposure_id", mm.ExposureID),
			zap.String("alert_id", result.Alert.ID),
		)
	}
	return nil
}
