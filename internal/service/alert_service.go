package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sahtee-exposure/internal/domain"
	"sahtee-exposure/internal/evaluator"
	"sahtee-exposure/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxCASAttempts 乐观并发重试上限
const maxCASAttempts = 5

// VisitOverdueCriticalDays visit_overdue 超过该天数升级为 critical
const VisitOverdueCriticalDays = 30

// AlertEventPublisher 警报事件订阅出口（Redis Stream 等）
type AlertEventPublisher interface {
	PublishAlertEvent(ctx context.Context, event domain.AlertEvent) error
}

// AlertRequest 非 exposure_threshold 类型警报的创建请求
type AlertRequest struct {
	Type                  domain.AlertType     `json:"type" validate:"required"`
	SubjectID             string               `json:"subject_id" validate:"required,max=100"`
	Title                 string               `json:"title" validate:"required"`
	Description           string               `json:"description"`
	Severity              domain.AlertSeverity `json:"severity"`
	DaysOverdue           *int                 `json:"days_overdue,omitempty"` // visit_overdue 专用
	ExposureID            *string              `json:"exposure_id,omitempty"`
	AffectedEmployeeCount *int                 `json:"affected_employee_count,omitempty"`
	AffectedDepartments   []string             `json:"affected_departments,omitempty"`
}

// AlertService 警报生命周期管理
// active -> acknowledged -> resolved，resolved 为终态
type AlertService struct {
	repo      repository.AlertsRepository
	publisher AlertEventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewAlertService publisher 可为 nil
func NewAlertService(repo repository.AlertsRepository, publisher AlertEventPublisher, logger *zap.Logger) *AlertService {
	return &AlertService{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ThresholdSeverity elevated -> warning, critical -> critical
func ThresholdSeverity(level domain.AlertLevel) domain.AlertSeverity {
	if level == domain.AlertLevelCritical {
		return domain.SeverityCritical
	}
	return domain.SeverityWarning
}

// VisitOverdueSeverity warning, critical beyond 30 days overdue
func VisitOverdueSeverity(daysOverdue int) domain.AlertSeverity {
	if daysOverdue > VisitOverdueCriticalDays {
		return domain.SeverityCritical
	}
	return domain.SeverityWarning
}

// OnEvaluation opens an exposure_threshold alert for an elevated or critical evaluation,
// unless one is already open for the exposure. Returns the open alert and whether it
// was created by this call; (nil, false) when the level does not trigger.
func (s *AlertService) OnEvaluation(ctx context.Context, exposure *domain.ExposureRecord, ev evaluator.Evaluation) (*domain.HealthAlert, bool, error) {
	if exposure == nil || !ev.AlertLevel.Triggers() {
		return nil, false, nil
	}

	exposureID := exposure.ID
	percent := ev.PercentOfLimit
	employees := exposure.ExposedEmployeeCount
	alert := &domain.HealthAlert{
		Type:     domain.AlertTypeExposureThreshold,
		Severity: ThresholdSeverity(ev.AlertLevel),
		Status:   domain.AlertStatusActive,
		Title:    fmt.Sprintf("%s : %.0f%% de la valeur limite", exposure.Agent, ev.PercentOfLimit),
		Description: fmt.Sprintf("Mesure %.4g %s pour une limite de %.4g %s (%s) dans la zone %q.",
			ev.Value, exposure.Unit, ev.RegulatoryLimit, exposure.Unit, ev.AlertLevel, exposure.Area),
		ExposureID:            &exposureID,
		SubjectID:             exposure.ID,
		PercentOfLimit:        &percent,
		AffectedEmployeeCount: &employees,
	}
	if exposure.DepartmentID != "" {
		alert.AffectedDepartments = []string{exposure.DepartmentID}
	}
	return s.create(ctx, alert)
}

// Raise opens an alert of any other type under the same (subject, type) dedup rule.
func (s *AlertService) Raise(ctx context.Context, req AlertRequest) (*domain.HealthAlert, bool, error) {
	if err := validateStruct(req); err != nil {
		return nil, false, err
	}
	if !req.Type.Valid() {
		return nil, false, fmt.Errorf("unknown alert type %q: %w", req.Type, domain.ErrValidation)
	}
	if req.Type == domain.AlertTypeExposureThreshold {
		return nil, false, fmt.Errorf("exposure_threshold alerts are raised by measurement evaluation: %w", domain.ErrValidation)
	}
	if req.ExposureID != nil {
		if _, err := uuid.Parse(*req.ExposureID); err != nil {
			return nil, false, fmt.Errorf("exposure_id %q is not a UUID: %w", *req.ExposureID, domain.ErrValidation)
		}
	}

	severity := req.Severity
	if req.Type == domain.AlertTypeVisitOverdue {
		if req.DaysOverdue == nil || *req.DaysOverdue < 0 {
			return nil, false, fmt.Errorf("days_overdue is required for visit_overdue: %w", domain.ErrValidation)
		}
		severity = VisitOverdueSeverity(*req.DaysOverdue)
	}
	if !severity.Valid() {
		return nil, false, fmt.Errorf("severity %q: %w", severity, domain.ErrValidation)
	}

	return s.create(ctx, &domain.HealthAlert{
		Type:                  req.Type,
		Severity:              severity,
		Status:                domain.AlertStatusActive,
		Title:                 req.Title,
		Description:           req.Description,
		ExposureID:            req.ExposureID,
		SubjectID:             req.SubjectID,
		AffectedEmployeeCount: req.AffectedEmployeeCount,
		AffectedDepartments:   req.AffectedDepartments,
	})
}

func (s *AlertService) create(ctx context.Context, alert *domain.HealthAlert) (*domain.HealthAlert, bool, error) {
	alert.CreatedAt = s.now()

	got, created, err := s.repo.CreateIfNoOpen(ctx, alert)
	if errors.Is(err, domain.ErrConflict) {
		// 并发创建者已提交，重新读取已存在的警报
		got, created, err = s.repo.CreateIfNoOpen(ctx, alert)
	}
	if err != nil {
		s.logger.Error("Failed to create alert",
			zap.String("subject_id", alert.SubjectID),
			zap.String("alert_type", string(alert.Type)),
			zap.Error(err),
		)
		return nil, false, fmt.Errorf("failed to create alert: %w", err)
	}

	if !created {
		s.logger.Debug("Open alert already exists, skipping",
			zap.String("alert_id", got.ID),
			zap.String("subject_id", got.SubjectID),
			zap.String("alert_type", string(got.Type)),
		)
		return got, false, nil
	}

	s.logger.Info("Alert created",
		zap.String("alert_id", got.ID),
		zap.String("alert_type", string(got.Type)),
		zap.String("severity", string(got.Severity)),
		zap.String("subject_id", got.SubjectID),
	)
	s.publish(ctx, domain.AlertEventCreated, got)
	return got, true, nil
}

// GetAlert 获取单个警报
func (s *AlertService) GetAlert(ctx context.Context, alertID string) (*domain.HealthAlert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required: %w", domain.ErrValidation)
	}
	return s.repo.GetAlert(ctx, alertID)
}

// ListAlerts 按状态 / 严重度过滤
func (s *AlertService) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.HealthAlert, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fmt.Errorf("status %q: %w", *filter.Status, domain.ErrValidation)
	}
	if filter.Severity != nil && !filter.Severity.Valid() {
		return nil, fmt.Errorf("severity %q: %w", *filter.Severity, domain.ErrValidation)
	}
	alerts, err := s.repo.ListAlerts(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to list alerts", zap.Error(err))
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

// AcknowledgeAlert active -> acknowledged. No-op when already acknowledged,
// ErrInvalidTransition when resolved.
func (s *AlertService) AcknowledgeAlert(ctx context.Context, alertID string) (*domain.HealthAlert, error) {
	var changed bool
	alert, err := s.transition(ctx, alertID, func(a *domain.HealthAlert) (bool, error) {
		changed = false
		switch a.Status {
		case domain.AlertStatusAcknowledged:
			return false, nil
		case domain.AlertStatusResolved:
			return false, fmt.Errorf("alert %s is resolved: %w", a.ID, domain.ErrInvalidTransition)
		}
		now := s.now()
		a.Status = domain.AlertStatusAcknowledged
		a.AcknowledgedAt = &now
		changed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info("Alert acknowledged", zap.String("alert_id", alert.ID))
		s.publish(ctx, domain.AlertEventAcknowledged, alert)
	}
	return alert, nil
}

// ResolveAlert active|acknowledged -> resolved. A resolved alert is never touched again.
func (s *AlertService) ResolveAlert(ctx context.Context, alertID, notes string, linkedCapaID *string) (*domain.HealthAlert, error) {
	alert, err := s.transition(ctx, alertID, func(a *domain.HealthAlert) (bool, error) {
		if a.Status == domain.AlertStatusResolved {
			return false, fmt.Errorf("alert %s already resolved: %w", a.ID, domain.ErrInvalidTransition)
		}
		now := s.now()
		a.Status = domain.AlertStatusResolved
		a.ResolvedAt = &now
		a.ResolutionNotes = &notes
		if linkedCapaID != nil && *linkedCapaID != "" {
			capa := *linkedCapaID
			a.LinkedCapaID = &capa
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Alert resolved",
		zap.String("alert_id", alert.ID),
		zap.Bool("capa_linked", alert.LinkedCapaID != nil),
	)
	s.publish(ctx, domain.AlertEventResolved, alert)
	return alert, nil
}

// transition 读取 -> 状态机 -> CAS 写入；版本冲突时重新读取并重新套用规则
func (s *AlertService) transition(ctx context.Context, alertID string, apply func(*domain.HealthAlert) (bool, error)) (*domain.HealthAlert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required: %w", domain.ErrValidation)
	}

	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		alert, err := s.repo.GetAlert(ctx, alertID)
		if err != nil {
			return nil, err
		}

		write, err := apply(alert)
		if err != nil {
			return nil, err
		}
		if !write {
			return alert, nil
		}

		alert.Version++
		err = s.repo.UpdateAlert(ctx, alert)
		if err == nil {
			return alert, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			s.logger.Error("Failed to update alert",
				zap.String("alert_id", alertID),
				zap.Error(err),
			)
			return nil, fmt.Errorf("failed to update alert: %w", err)
		}
		s.logger.Debug("Alert version conflict, retrying",
			zap.String("alert_id", alertID),
			zap.Int("attempt", attempt),
		)
	}
	return nil, fmt.Errorf("alert %s: too many concurrent updates: %w", alertID, domain.ErrConflict)
}

func (s *AlertService) publish(ctx context.Context, kind domain.AlertEventKind, alert *domain.HealthAlert) {
	if s.publisher == nil {
		return
	}
	event := domain.AlertEvent{Kind: kind, Alert: alert.Clone(), OccurredAt: s.now()}
	if err := s.publisher.PublishAlertEvent(ctx, event); err != nil {
		s.logger.Warn("Failed to publish alert event",
			zap.String("alert_id", alert.ID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}
