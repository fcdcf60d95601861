package domain

import "time"

// AlertType 健康警报类型
type AlertType string

const (
	AlertTypeExposureThreshold AlertType = "exposure_threshold"
	AlertTypeVisitOverdue      AlertType = "visit_overdue"
	AlertTypeTrendDetected     AlertType = "trend_detected"
	AlertTypeOutbreak          AlertType = "outbreak"
	AlertTypeFitnessChange     AlertType = "fitness_change"
	AlertTypeRestrictionExpiry AlertType = "restriction_expiry"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertTypeExposureThreshold, AlertTypeVisitOverdue, AlertTypeTrendDetected,
		AlertTypeOutbreak, AlertTypeFitnessChange, AlertTypeRestrictionExpiry:
		return true
	}
	return false
}

// AlertSeverity info < warning < critical
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

func (s AlertSeverity) Valid() bool { return s.Rank() > 0 }

// AlertStatus active -> acknowledged -> resolved
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

func (s AlertStatus) Valid() bool {
	return s == AlertStatusActive || s == AlertStatusAcknowledged || s == AlertStatusResolved
}

// Open reports whether the alert still counts for deduplication.
func (s AlertStatus) Open() bool {
	return s == AlertStatusActive || s == AlertStatusAcknowledged
}

// HealthAlert 健康警报（对应 health_alerts 表，只 resolve 不删除）
type HealthAlert struct {
	ID                    string        `json:"id" db:"alert_id"`
	Type                  AlertType     `json:"type" db:"alert_type"`
	Severity              AlertSeverity `json:"severity" db:"severity"`
	Status                AlertStatus   `json:"status" db:"status"`
	Title                 string        `json:"title" db:"title"`
	Description           string        `json:"description" db:"description"`
	ExposureID            *string       `json:"exposure_id,omitempty" db:"exposure_id"`
	SubjectID             string        `json:"subject_id" db:"subject_id"` // 去重键：exposure_id 或其他业务主体
	PercentOfLimit        *float64      `json:"percent_of_limit,omitempty" db:"percent_of_limit"`
	AffectedEmployeeCount *int          `json:"affected_employee_count,omitempty" db:"affected_employee_count"`
	AffectedDepartments   []string      `json:"affected_departments,omitempty" db:"affected_departments"`
	ResolutionNotes       *string       `json:"resolution_notes,omitempty" db:"resolution_notes"`
	AcknowledgedAt        *time.Time    `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolvedAt            *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
	LinkedCapaID          *string       `json:"linked_capa_id,omitempty" db:"linked_capa_id"`
	Version               int64         `json:"version" db:"version"`
	CreatedAt             time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at" db:"updated_at"`
}

// Clone copies pointer and slice fields.
func (a *HealthAlert) Clone() *HealthAlert {
	if a == nil {
		return nil
	}
	c := *a
	c.AffectedDepartments = append([]string(nil), a.AffectedDepartments...)
	if a.ExposureID != nil {
		v := *a.ExposureID
		c.ExposureID = &v
	}
	if a.PercentOfLimit != nil {
		v := *a.PercentOfLimit
		c.PercentOfLimit = &v
	}
	if a.AffectedEmployeeCount != nil {
		v := *a.AffectedEmployeeCount
		c.AffectedEmployeeCount = &v
	}
	if a.ResolutionNotes != nil {
		v := *a.ResolutionNotes
		c.ResolutionNotes = &v
	}
	if a.AcknowledgedAt != nil {
		v := *a.AcknowledgedAt
		c.AcknowledgedAt = &v
	}
	if a.ResolvedAt != nil {
		v := *a.ResolvedAt
		c.ResolvedAt = &v
	}
	if a.LinkedCapaID != nil {
		v := *a.LinkedCapaID
		c.LinkedCapaID = &v
	}
	return &c
}

// AlertFilter listAlerts 过滤条件
type AlertFilter struct {
	Status   *AlertStatus
	Severity *AlertSeverity
	Type     *AlertType
}

// AlertEventKind 警报事件类型
type AlertEventKind string

const (
	AlertEventCreated      AlertEventKind = "created"
	AlertEventAcknowledged AlertEventKind = "acknowledged"
	AlertEventResolved     AlertEventKind = "resolved"
)

// AlertEvent 警报生命周期事件，推送给外部订阅者（看板等）
type AlertEvent struct {
	Kind       AlertEventKind `json:"kind"`
	Alert      *HealthAlert   `json:"alert"`
	OccurredAt time.Time      `json:"occurred_at"`
}
