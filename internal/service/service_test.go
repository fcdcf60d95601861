package service

import (
	"context"
	"sync"
	"time"

	"sahtee-exposure/internal/analysis"
	"sahtee-exposure/internal/config"
	"sahtee-exposure/internal/domain"
	"sahtee-exposure/internal/evaluator"
	"sahtee-exposure/internal/repository"

	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.AlertEvent
}

func (p *recordingPublisher) PublishAlertEvent(_ context.Context, event domain.AlertEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) kinds() []domain.AlertEventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.AlertEventKind, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

type testEnv struct {
	exposures *ExposureService
	alerts    *AlertService
	analysis  *AnalysisService
	publisher *recordingPublisher
	expRepo   *repository.MemoryExposuresRepo
	alertRepo *repository.MemoryAlertsRepo
}

func newTestEnv() *testEnv {
	cfg := config.Default()
	logger := zap.NewNop()

	expRepo := repository.NewMemoryExposuresRepo()
	alertRepo := repository.NewMemoryAlertsRepo()
	recRepo := repository.NewMemoryRecommendationsRepo()
	publisher := &recordingPublisher{}

	threshold := evaluator.NewThresholdEvaluator(cfg.Exposure.Thresholds)
	alerts := NewAlertService(alertRepo, publisher, logger)
	exposures := NewExposureService(expRepo, threshold, alerts, nil, logger)
	an := NewAnalysisService(
		expRepo, recRepo, threshold,
		evaluator.NewTrendAnalyzer(cfg.Exposure.Trend),
		analysis.NewRiskGroupClassifier(cfg.Exposure.RiskGroup.MinGroupSize),
		analysis.NewRecommendationEngine(),
		nil,
		logger,
	)

	return &testEnv{
		exposures: exposures,
		alerts:    alerts,
		analysis:  an,
		publisher: publisher,
		expRepo:   expRepo,
		alertRepo: alertRepo,
	}
}

func benzene() *domain.ExposureRecord {
	return &domain.ExposureRecord{
		Agent:                "Benzène",
		HazardCategory:       domain.HazardChemical,
		Area:                 "Atelier peinture",
		DepartmentID:         "dept-peinture",
		RegulatoryLimit:      0.05,
		Unit:                 "mg/m3",
		MonitoringFrequency:  domain.FrequencyMonthly,
		ExposedEmployeeCount: 8,
	}
}

func measurement(v float64, at time.Time) domain.Measurement {
	return domain.Measurement{Value: v, Unit: "mg/m3", Date: at, Method: "badge"}
}
