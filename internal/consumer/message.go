package consumer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sahtee-exposure/internal/domain"
)

// MeasurementMessage 传感器 / 采样系统上报的测量值
type MeasurementMessage struct {
	ExposureID      string    `json:"exposure_id"`
	Value           float64   `json:"value"`
	Unit            string    `json:"unit"`
	MeasuredAt      time.Time `json:"measured_at"`
	Method          string    `json:"method"`
	DurationSeconds int64     `json:"duration_seconds"`
}

// Measurement converts the message into a domain measurement. WithinLimits is
// derived on append.
func (m MeasurementMessage) Measurement() domain.Measurement {
	return domain.Measurement{
		Value:    m.Value,
		Unit:     m.Unit,
		Date:     m.MeasuredAt,
		Method:   m.Method,
		Duration: time.Duration(m.DurationSeconds) * time.Second,
	}
}

func parseMeasurementMessage(data []byte) (MeasurementMessage, error) {
	var msg MeasurementMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("failed to unmarshal measurement: %w", err)
	}
	return msg, nil
}

// exposureIDFromTopic 从 sahtee/exposure/{id}/measurements 提取 exposure_id
func exposureIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	for i, p := range parts {
		if p == "exposure" && i+1 < len(parts) && parts[i+1] != "+" && parts[i+1] != "#" {
			return parts[i+1]
		}
	}
	return ""
}
