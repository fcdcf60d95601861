package domain

import (
	"fmt"
	"time"
)

// HazardCategory 危害类别
type HazardCategory string

const (
	HazardPhysical      HazardCategory = "physical"
	HazardChemical      HazardCategory = "chemical"
	HazardBiological    HazardCategory = "biological"
	HazardErgonomic     HazardCategory = "ergonomic"
	HazardPsychosocial  HazardCategory = "psychosocial"
	HazardMechanical    HazardCategory = "mechanical"
	HazardElectrical    HazardCategory = "electrical"
	HazardThermal       HazardCategory = "thermal"
	HazardEnvironmental HazardCategory = "environmental"
)

var hazardCategories = map[HazardCategory]bool{
	HazardPhysical:      true,
	HazardChemical:      true,
	HazardBiological:    true,
	HazardErgonomic:     true,
	HazardPsychosocial:  true,
	HazardMechanical:    true,
	HazardElectrical:    true,
	HazardThermal:       true,
	HazardEnvironmental: true,
}

func (c HazardCategory) Valid() bool { return hazardCategories[c] }

// MonitoringFrequency 监测频率
type MonitoringFrequency string

const (
	FrequencyContinuous MonitoringFrequency = "continuous"
	FrequencyWeekly     MonitoringFrequency = "weekly"
	FrequencyMonthly    MonitoringFrequency = "monthly"
	FrequencyQuarterly  MonitoringFrequency = "quarterly"
	FrequencyAnnually   MonitoringFrequency = "annually"
)

func (f MonitoringFrequency) Valid() bool {
	switch f {
	case FrequencyContinuous, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyAnnually:
		return true
	}
	return false
}

// AlertLevel 超限等级（由 Threshold Evaluator 计算）
type AlertLevel string

const (
	AlertLevelLow      AlertLevel = "low"
	AlertLevelModerate AlertLevel = "moderate"
	AlertLevelElevated AlertLevel = "elevated"
	AlertLevelCritical AlertLevel = "critical"
)

func (l AlertLevel) Valid() bool {
	switch l {
	case AlertLevelLow, AlertLevelModerate, AlertLevelElevated, AlertLevelCritical:
		return true
	}
	return false
}

// Triggers reports whether the level opens an exposure_threshold alert.
func (l AlertLevel) Triggers() bool {
	return l == AlertLevelElevated || l == AlertLevelCritical
}

// ExposureRecord 暴露记录（对应 exposures 表 + exposure_measurements 表）
type ExposureRecord struct {
	ID                   string              `json:"id" db:"exposure_id"`
	Agent                string              `json:"agent" db:"agent" validate:"required,max=200"`
	HazardCategory       HazardCategory      `json:"hazard_category" db:"hazard_category" validate:"required"`
	Area                 string              `json:"area" db:"area"`
	SiteID               string              `json:"site_id" db:"site_id"`
	DepartmentID         string              `json:"department_id" db:"department_id"`
	RegulatoryLimit      float64             `json:"regulatory_limit" db:"regulatory_limit" validate:"gt=0"`
	Unit                 string              `json:"unit" db:"unit" validate:"required"`
	MonitoringFrequency  MonitoringFrequency `json:"monitoring_frequency" db:"monitoring_frequency" validate:"required"`
	ExposedEmployeeCount int                 `json:"exposed_employee_count" db:"exposed_employee_count" validate:"gte=0"`
	MeasurementHistory   []Measurement       `json:"measurement_history"`
	ControlMeasures      []string            `json:"control_measures" db:"control_measures"`
	LinkedCapaIDs        []string            `json:"linked_capa_ids" db:"linked_capa_ids"`
	CreatedAt            time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at" db:"updated_at"`
}

// Latest returns the most recent measurement, if any.
func (e *ExposureRecord) Latest() (Measurement, bool) {
	if len(e.MeasurementHistory) == 0 {
		return Measurement{}, false
	}
	return e.MeasurementHistory[len(e.MeasurementHistory)-1], true
}

// CheckChronological 测量时间不得早于上一条；同一时刻允许
func CheckChronological(prev, next time.Time) error {
	if next.Before(prev) {
		return fmt.Errorf("measurement dated %s precedes latest %s: %w",
			next.UTC().Format(time.RFC3339), prev.UTC().Format(time.RFC3339), ErrValidation)
	}
	return nil
}

// ValidateHistoryOrder 检查初始历史是否按时间非递减
func ValidateHistoryOrder(history []Measurement) error {
	for i := 1; i < len(history); i++ {
		if err := CheckChronological(history[i-1].Date, history[i].Date); err != nil {
			return fmt.Errorf("measurement_history[%d]: %w", i, err)
		}
	}
	return nil
}

// Clone deep-copies slices so callers never share the measurement history.
func (e *ExposureRecord) Clone() *ExposureRecord {
	if e == nil {
		return nil
	}
	c := *e
	c.MeasurementHistory = append([]Measurement(nil), e.MeasurementHistory...)
	c.ControlMeasures = append([]string(nil), e.ControlMeasures...)
	c.LinkedCapaIDs = append([]string(nil), e.LinkedCapaIDs...)
	return &c
}

// Measurement 单次测量（创建后不可变）
type Measurement struct {
	Value        float64       `json:"value" db:"value" validate:"gte=0"`
	Unit         string        `json:"unit" db:"unit"`
	Date         time.Time     `json:"date" db:"measured_at" validate:"required"`
	Method       string        `json:"method" db:"method"`
	Duration     time.Duration `json:"duration" db:"duration_ms"`
	WithinLimits bool          `json:"within_limits" db:"within_limits"`
}

// ExposureFilter listExposures 过滤条件
type ExposureFilter struct {
	HazardCategory *HazardCategory
	AlertLevel     *AlertLevel // 按最近一次测量的超限等级过滤
	Search         *string     // agent / area 模糊匹配
}
