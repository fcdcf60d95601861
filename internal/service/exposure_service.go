package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sahtee-exposure/internal/domain"
	"sahtee-exposure/internal/evaluator"
	"sahtee-exposure/internal/repository"

	"go.uber.org/zap"
)

// EvaluationCache 最近一次评估的读缓存（Redis）
type EvaluationCache interface {
	SetEvaluation(ctx context.Context, exposureID string, ev evaluator.Evaluation) error
	GetEvaluation(ctx context.Context, exposureID string) (*evaluator.Evaluation, error)
}

// MeasurementResult appendMeasurement 的结果
type MeasurementResult struct {
	ExposureID   string                `json:"exposure_id"`
	Measurement  domain.Measurement    `json:"measurement"`
	Evaluation   *evaluator.Evaluation `json:"evaluation,omitempty"`
	Alert        *domain.HealthAlert   `json:"alert,omitempty"`
	AlertCreated bool                  `json:"alert_created"`
}

// ExposureView 暴露记录 + 最近一次评估
type ExposureView struct {
	*domain.ExposureRecord
	Evaluation *evaluator.Evaluation `json:"evaluation,omitempty"`
}

// ExposureService 暴露登记 + 测量评估入口
type ExposureService struct {
	repo      repository.ExposuresRepository
	threshold *evaluator.ThresholdEvaluator
	alerts    *AlertService
	cache     EvaluationCache
	logger    *zap.Logger
	now       func() time.Time
}

// NewExposureService cache 可为 nil
func NewExposureService(
	repo repository.ExposuresRepository,
	threshold *evaluator.ThresholdEvaluator,
	alerts *AlertService,
	cache EvaluationCache,
	logger *zap.Logger,
) *ExposureService {
	return &ExposureService{
		repo:      repo,
		threshold: threshold,
		alerts:    alerts,
		cache:     cache,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateExposure validates and persists a new record, returning its id.
// Initial measurements get WithinLimits derived from the record's limit.
func (s *ExposureService) CreateExposure(ctx context.Context, e *domain.ExposureRecord) (string, error) {
	if e == nil {
		return "", fmt.Errorf("exposure is required: %w", domain.ErrValidation)
	}
	e.Agent = strings.TrimSpace(e.Agent)
	if err := validateStruct(e); err != nil {
		return "", err
	}
	if !e.HazardCategory.Valid() {
		return "", fmt.Errorf("hazard_category %q: %w", e.HazardCategory, domain.ErrValidation)
	}
	if !e.MonitoringFrequency.Valid() {
		return "", fmt.Errorf("monitoring_frequency %q: %w", e.MonitoringFrequency, domain.ErrValidation)
	}
	for i := range e.MeasurementHistory {
		m, err := s.prepareMeasurement(e, e.MeasurementHistory[i])
		if err != nil {
			return "", fmt.Errorf("measurement %d: %w", i, err)
		}
		e.MeasurementHistory[i] = m
	}
	if err := domain.ValidateHistoryOrder(e.MeasurementHistory); err != nil {
		return "", err
	}

	if err := s.repo.CreateExposure(ctx, e); err != nil {
		s.logger.Error("Failed to create exposure",
			zap.String("agent", e.Agent),
			zap.Error(err),
		)
		return "", fmt.Errorf("failed to create exposure: %w", err)
	}

	s.logger.Info("Exposure created",
		zap.String("exposure_id", e.ID),
		zap.String("agent", e.Agent),
		zap.String("hazard_category", string(e.HazardCategory)),
	)
	return e.ID, nil
}

// GetExposure 获取暴露记录及最近一次评估
func (s *ExposureService) GetExposure(ctx context.Context, exposureID string) (*ExposureView, error) {
	e, err := s.repo.GetExposure(ctx, exposureID)
	if err != nil {
		return nil, err
	}
	return &ExposureView{ExposureRecord: e, Evaluation: s.latestEvaluation(ctx, e)}, nil
}

// ListExposures filters by hazard category, search text and latest alert level.
// Records without measurements count as low.
func (s *ExposureService) ListExposures(ctx context.Context, filter domain.ExposureFilter) ([]*ExposureView, error) {
	if filter.HazardCategory != nil && !filter.HazardCategory.Valid() {
		return nil, fmt.Errorf("hazard_category %q: %w", *filter.HazardCategory, domain.ErrValidation)
	}
	if filter.AlertLevel != nil && !filter.AlertLevel.Valid() {
		return nil, fmt.Errorf("alert_level %q: %w", *filter.AlertLevel, domain.ErrValidation)
	}

	records, err := s.repo.ListExposures(ctx, repository.ExposureQuery{
		HazardCategory: filter.HazardCategory,
		Search:         filter.Search,
	})
	if err != nil {
		s.logger.Error("Failed to list exposures", zap.Error(err))
		return nil, fmt.Errorf("failed to list exposures: %w", err)
	}

	out := make([]*ExposureView, 0, len(records))
	for _, e := range records {
		ev := s.evaluateLatest(e)
		if filter.AlertLevel != nil {
			level := domain.AlertLevelLow
			if ev != nil {
				level = ev.AlertLevel
			}
			if level != *filter.AlertLevel {
				continue
			}
		}
		out = append(out, &ExposureView{ExposureRecord: e, Evaluation: ev})
	}
	return out, nil
}

// GetMeasurementHistory 按追加顺序返回测量历史
func (s *ExposureService) GetMeasurementHistory(ctx context.Context, exposureID string) ([]domain.Measurement, error) {
	return s.repo.GetMeasurementHistory(ctx, exposureID)
}

// AppendMeasurement records a measurement, evaluates it against the regulatory limit
// and opens an exposure_threshold alert when the level is elevated or critical.
func (s *ExposureService) AppendMeasurement(ctx context.Context, exposureID string, m domain.Measurement) (*MeasurementResult, error) {
	exposure, err := s.repo.GetExposure(ctx, exposureID)
	if err != nil {
		return nil, err
	}

	m, err = s.prepareMeasurement(exposure, m)
	if err != nil {
		return nil, err
	}

	if err := s.repo.AppendMeasurement(ctx, exposureID, m); err != nil {
		s.logger.Error("Failed to append measurement",
			zap.String("exposure_id", exposureID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to append measurement: %w", err)
	}

	result := &MeasurementResult{ExposureID: exposureID, Measurement: m}

	ev, err := s.threshold.Evaluate(m.Value, exposure.RegulatoryLimit)
	if err != nil {
		// 配置错误：记录日志并跳过本次评估
		s.logger.Error("Skipping evaluation",
			zap.String("exposure_id", exposureID),
			zap.Float64("regulatory_limit", exposure.RegulatoryLimit),
			zap.Error(err),
		)
		return result, nil
	}
	result.Evaluation = &ev

	if s.cache != nil {
		if err := s.cache.SetEvaluation(ctx, exposureID, ev); err != nil {
			s.logger.Warn("Failed to cache evaluation",
				zap.String("exposure_id", exposureID),
				zap.Error(err),
			)
		}
	}

	if s.alerts != nil {
		alert, created, err := s.alerts.OnEvaluation(ctx, exposure, ev)
		if err != nil {
			return result, fmt.Errorf("measurement recorded, alert evaluation failed: %w", err)
		}
		result.Alert = alert
		result.AlertCreated = created
	}

	s.logger.Debug("Measurement evaluated",
		zap.String("exposure_id", exposureID),
		zap.Float64("percent_of_limit", ev.PercentOfLimit),
		zap.String("alert_level", string(ev.AlertLevel)),
		zap.Bool("alert_created", result.AlertCreated),
	)
	return result, nil
}

// prepareMeasurement 默认日期/单位，校验，并计算 WithinLimits
func (s *ExposureService) prepareMeasurement(e *domain.ExposureRecord, m domain.Measurement) (domain.Measurement, error) {
	if m.Date.IsZero() {
		m.Date = s.now()
	}
	m.Date = m.Date.UTC()
	if m.Unit == "" {
		m.Unit = e.Unit
	}
	if err := validateStruct(m); err != nil {
		return m, err
	}
	if m.Unit != e.Unit {
		return m, fmt.Errorf("unit %q does not match exposure unit %q: %w", m.Unit, e.Unit, domain.ErrValidation)
	}
	if m.Duration < 0 {
		return m, fmt.Errorf("negative duration: %w", domain.ErrValidation)
	}
	m.WithinLimits = m.Value < e.RegulatoryLimit
	return m, nil
}

func (s *ExposureService) evaluateLatest(e *domain.ExposureRecord) *evaluator.Evaluation {
	latest, ok := e.Latest()
	if !ok {
		return nil
	}
	ev, err := s.threshold.Evaluate(latest.Value, e.RegulatoryLimit)
	if err != nil {
		s.logger.Warn("Cannot evaluate latest measurement",
			zap.String("exposure_id", e.ID),
			zap.Error(err),
		)
		return nil
	}
	return &ev
}

// latestEvaluation 先读缓存，未命中时按最近测量重算
func (s *ExposureService) latestEvaluation(ctx context.Context, e *domain.ExposureRecord) *evaluator.Evaluation {
	if s.cache != nil {
		ev, err := s.cache.GetEvaluation(ctx, e.ID)
		if err == nil && ev != nil {
			if latest, ok := e.Latest(); ok && latest.Value == ev.Value {
				return ev
			}
		} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.Debug("Evaluation cache read failed",
				zap.String("exposure_id", e.ID),
				zap.Error(err),
			)
		}
	}
	return s.evaluateLatest(e)
}
