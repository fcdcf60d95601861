package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"sahtee-exposure/internal/analysis"
	"sahtee-exposure/internal/domain"
	"sahtee-exposure/internal/evaluator"
	"sahtee-exposure/internal/repository"

	"go.uber.org/zap"
)

// SubjectExceedanceFrequency 按类别统计的超限次数趋势
const SubjectExceedanceFrequency = "exceedance_frequency"

// AnalysisService analyzeTrends：趋势 -> 风险组 -> 建议（只读，可取消）
type AnalysisService struct {
	exposures  repository.ExposuresRepository
	recs       repository.RecommendationsRepository
	threshold  *evaluator.ThresholdEvaluator
	trends     *evaluator.TrendAnalyzer
	classifier *analysis.RiskGroupClassifier
	engine     *analysis.RecommendationEngine
	enricher   *analysis.Enricher
	logger     *zap.Logger
	now        func() time.Time
}

// NewAnalysisService enricher 可为 nil（只输出确定性结果）
func NewAnalysisService(
	exposures repository.ExposuresRepository,
	recs repository.RecommendationsRepository,
	threshold *evaluator.ThresholdEvaluator,
	trends *evaluator.TrendAnalyzer,
	classifier *analysis.RiskGroupClassifier,
	engine *analysis.RecommendationEngine,
	enricher *analysis.Enricher,
	logger *zap.Logger,
) *AnalysisService {
	return &AnalysisService{
		exposures:  exposures,
		recs:       recs,
		threshold:  threshold,
		trends:     trends,
		classifier: classifier,
		engine:     engine,
		enricher:   enricher,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type categoryAccumulator struct {
	exceedances []time.Time
	ids         []string
	employees   int
	departments map[string]struct{}
}

// AnalyzeTrends computes trends over the last periodMonths, risk groups and pending
// recommendations. The deterministic result is stored for later decisions.
func (s *AnalysisService) AnalyzeTrends(ctx context.Context, periodMonths int) (*domain.AnalysisResult, error) {
	if periodMonths <= 0 {
		return nil, fmt.Errorf("period_months must be > 0, got %d: %w", periodMonths, domain.ErrValidation)
	}

	records, err := s.exposures.ListExposures(ctx, repository.ExposureQuery{})
	if err != nil {
		return nil, fmt.Errorf("failed to load exposures: %w", err)
	}

	now := s.now()
	trends := []domain.TrendResult{}
	snapshots := make([]analysis.ExposureSnapshot, 0, len(records))
	categories := map[domain.HazardCategory]*categoryAccumulator{}

	for _, e := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snap := analysis.ExposureSnapshot{Exposure: e}
		if latest, ok := e.Latest(); ok {
			ev, err := s.threshold.Evaluate(latest.Value, e.RegulatoryLimit)
			if err != nil {
				s.logger.Warn("Skipping evaluation in analysis",
					zap.String("exposure_id", e.ID),
					zap.Error(err),
				)
			} else {
				snap.AlertLevel = ev.AlertLevel
				snap.HasEvaluation = true
			}
		}
		snapshots = append(snapshots, snap)

		window := evaluator.WithinPeriod(e.MeasurementHistory, periodMonths, now)
		if len(window) >= 2 {
			st := s.trends.AnalyzeMeasurements(window)
			trends = append(trends, domain.TrendResult{
				Type:                  string(e.HazardCategory),
				Subject:               e.Agent,
				Direction:             st.Direction,
				ChangePercent:         st.ChangePercent,
				AffectedEmployeeCount: e.ExposedEmployeeCount,
				AffectedDepartments:   departmentsOf(e),
				Severity:              st.Severity,
				Confidence:            st.Confidence,
				PeriodMonths:          periodMonths,
				SampleCount:           st.SampleCount,
				ExposureIDs:           []string{e.ID},
			})
		}

		var exceeded []time.Time
		for _, m := range window {
			if !m.WithinLimits {
				exceeded = append(exceeded, m.Date)
			}
		}
		if len(exceeded) > 0 {
			acc, ok := categories[e.HazardCategory]
			if !ok {
				acc = &categoryAccumulator{departments: map[string]struct{}{}}
				categories[e.HazardCategory] = acc
			}
			acc.exceedances = append(acc.exceedances, exceeded...)
			acc.ids = append(acc.ids, e.ID)
			acc.employees += e.ExposedEmployeeCount
			if e.DepartmentID != "" {
				acc.departments[e.DepartmentID] = struct{}{}
			}
		}
	}

	for category, acc := range categories {
		st := s.trends.AnalyzeMonthlyCounts(evaluator.MonthBuckets(acc.exceedances, periodMonths, now))
		ids := append([]string(nil), acc.ids...)
		sort.Strings(ids)
		trends = append(trends, domain.TrendResult{
			Type:                  string(category),
			Subject:               SubjectExceedanceFrequency,
			Direction:             st.Direction,
			ChangePercent:         st.ChangePercent,
			AffectedEmployeeCount: acc.employees,
			AffectedDepartments:   setToSorted(acc.departments),
			Severity:              st.Severity,
			Confidence:            st.Confidence,
			PeriodMonths:          periodMonths,
			SampleCount:           len(acc.exceedances),
			ExposureIDs:           ids,
		})
	}

	sort.SliceStable(trends, func(i, j int) bool {
		if trends[i].Type != trends[j].Type {
			return trends[i].Type < trends[j].Type
		}
		return trends[i].Subject < trends[j].Subject
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	groups := s.classifier.Classify(snapshots, trends)
	recs := s.engine.Recommend(trends, groups, now)

	if s.recs != nil {
		if err := s.recs.SaveRecommendations(ctx, recs); err != nil {
			s.logger.Error("Failed to store recommendations", zap.Error(err))
			return nil, fmt.Errorf("failed to store recommendations: %w", err)
		}
	}

	s.logger.Info("Trend analysis completed",
		zap.Int("period_months", periodMonths),
		zap.Int("exposures", len(records)),
		zap.Int("trends", len(trends)),
		zap.Int("risk_groups", len(groups)),
		zap.Int("recommendations", len(recs)),
	)

	return &domain.AnalysisResult{
		PeriodMonths:    periodMonths,
		GeneratedAt:     now,
		Trends:          trends,
		RiskGroups:      groups,
		Recommendations: recs,
	}, nil
}

// Enrich attaches narrative rationale to a copy of result. Narrative failures are
// logged and the deterministic recommendations are returned unchanged.
func (s *AnalysisService) Enrich(ctx context.Context, result *domain.AnalysisResult) *domain.AnalysisResult {
	if result == nil {
		return nil
	}
	out := *result
	if !s.enricher.Enabled() {
		return &out
	}

	recs, err := s.enricher.Enrich(ctx, result.Recommendations)
	if err != nil {
		if errors.Is(err, domain.ErrAnalysisUnavailable) {
			s.logger.Warn("Narrative enrichment degraded", zap.Error(err))
		} else {
			s.logger.Error("Narrative enrichment failed", zap.Error(err))
		}
	}
	out.Recommendations = recs

	if s.recs != nil {
		if err := s.recs.SaveRecommendations(ctx, recs); err != nil {
			s.logger.Warn("Failed to store enriched recommendations", zap.Error(err))
		}
	}
	return &out
}

// AnalyzeAndEnrich runs the deterministic analysis and, when a narrative backend is
// configured, enriches the result.
func (s *AnalysisService) AnalyzeAndEnrich(ctx context.Context, periodMonths int) (*domain.AnalysisResult, error) {
	result, err := s.AnalyzeTrends(ctx, periodMonths)
	if err != nil {
		return nil, err
	}
	return s.Enrich(ctx, result), nil
}

// ListRecommendations 按状态过滤已存储的建议
func (s *AnalysisService) ListRecommendations(ctx context.Context, status *domain.RecommendationStatus) ([]domain.Recommendation, error) {
	return s.recs.ListRecommendations(ctx, status)
}

// DecideRecommendation pending -> accepted|modified|rejected; decided instances are final.
func (s *AnalysisService) DecideRecommendation(ctx context.Context, id string, status domain.RecommendationStatus) (*domain.Recommendation, error) {
	if id == "" {
		return nil, fmt.Errorf("recommendation id is required: %w", domain.ErrValidation)
	}
	if !status.Decision() {
		return nil, fmt.Errorf("status %q is not a decision: %w", status, domain.ErrValidation)
	}
	rec, err := s.recs.DecideRecommendation(ctx, id, status, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info("Recommendation decided",
		zap.String("recommendation_id", id),
		zap.String("status", string(status)),
	)
	return rec, nil
}

func departmentsOf(e *domain.ExposureRecord) []string {
	if e.DepartmentID == "" {
		return []string{}
	}
	return []string{e.DepartmentID}
}

func setToSorted(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
