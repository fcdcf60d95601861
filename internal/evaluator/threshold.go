package evaluator

import (
	"fmt"
	"math"

	"sahtee-exposure/internal/config"
	"sahtee-exposure/internal/domain"
)

// Evaluation 单次测量相对监管限值的评估结果
type Evaluation struct {
	Value           float64           `json:"value"`
	RegulatoryLimit float64           `json:"regulatory_limit"`
	PercentOfLimit  float64           `json:"percent_of_limit"` // 未截断，用于报警
	DisplayPercent  float64           `json:"display_percent"`  // 截断到 100，用于展示
	AlertLevel      domain.AlertLevel `json:"alert_level"`
}

// ThresholdEvaluator 纯函数：measurement + limit -> percent + level
type ThresholdEvaluator struct {
	thresholds config.Thresholds
}

// NewThresholdEvaluator 创建阈值评估器
func NewThresholdEvaluator(t config.Thresholds) *ThresholdEvaluator {
	return &ThresholdEvaluator{thresholds: t}
}

// Evaluate computes percentOfLimit and the alert level.
func (e *ThresholdEvaluator) Evaluate(value, regulatoryLimit float64) (Evaluation, error) {
	if !(regulatoryLimit > 0) || math.IsInf(regulatoryLimit, 0) {
		return Evaluation{}, fmt.Errorf("regulatory limit %v: %w", regulatoryLimit, domain.ErrInvalidLimit)
	}
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return Evaluation{}, fmt.Errorf("value %v: %w", value, domain.ErrInvalidMeasurement)
	}

	percent := snapPercent(value / regulatoryLimit * 100)
	return Evaluation{
		Value:           value,
		RegulatoryLimit: regulatoryLimit,
		PercentOfLimit:  percent,
		DisplayPercent:  math.Min(percent, 100),
		AlertLevel:      e.Classify(percent),
	}, nil
}

// percentPrecision 除法误差（如 0.1352/0.169 得 79.999999999999986）在此精度内归整
const percentPrecision = 1e9

func snapPercent(p float64) float64 {
	if math.IsInf(p*percentPrecision, 0) {
		return p
	}
	return math.Round(p*percentPrecision) / percentPrecision
}

// Classify maps a percent-of-limit onto low / moderate / elevated / critical.
func (e *ThresholdEvaluator) Classify(percent float64) domain.AlertLevel {
	switch {
	case percent >= e.thresholds.Critical:
		return domain.AlertLevelCritical
	case percent >= e.thresholds.Elevated:
		return domain.AlertLevelElevated
	case percent >= e.thresholds.Moderate:
		return domain.AlertLevelModerate
	default:
		return domain.AlertLevelLow
	}
}
