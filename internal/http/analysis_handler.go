package httpapi

import (
	"context"
	"net/http"
	"time"

	"sahtee-exposure/internal/domain"
	"sahtee-exposure/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const defaultPeriodMonths = 6

// AnalysisHandler 趋势分析 / 建议接口
type AnalysisHandler struct {
	service       *service.AnalysisService
	logger        *zap.Logger
	enrichTimeout time.Duration
}

func NewAnalysisHandler(svc *service.AnalysisService, enrichTimeout time.Duration, logger *zap.Logger) *AnalysisHandler {
	if enrichTimeout <= 0 {
		enrichTimeout = time.Minute
	}
	return &AnalysisHandler{service: svc, logger: logger, enrichTimeout: enrichTimeout}
}

// DecisionRequest 建议决策请求体
type DecisionRequest struct {
	Status domain.RecommendationStatus `json:"status"`
}

// AnalyzeTrends GET /api/v1/analysis/trends?period_months=6&enrich=sync|async
// sync：等待叙述生成；async：先返回确定性结果，叙述在后台写回建议存储
func (h *AnalysisHandler) AnalyzeTrends(w http.ResponseWriter, r *http.Request) {
	period, err := parseInt("period_months", r.URL.Query().Get("period_months"), defaultPeriodMonths)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.service.AnalyzeTrends(r.Context(), period)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	switch r.URL.Query().Get("enrich") {
	case "sync", "true":
		result = h.service.Enrich(r.Context(), result)
	case "async":
		go h.enrichInBackground(context.WithoutCancel(r.Context()), result)
	}
	writeJSON(w, http.StatusOK, Ok(result))
}

func (h *AnalysisHandler) enrichInBackground(parent context.Context, result *domain.AnalysisResult) {
	ctx, cancel := context.WithTimeout(parent, h.enrichTimeout)
	defer cancel()

	enriched := h.service.Enrich(ctx, result)
	h.logger.Info("Background enrichment finished",
		zap.Int("recommendations", len(enriched.Recommendations)),
	)
}

// ListRecommendations GET /api/v1/recommendations?status=
func (h *AnalysisHandler) ListRecommendations(w http.ResponseWriter, r *http.Request) {
	var status *domain.RecommendationStatus
	if v := queryParam(r, "status"); v != nil {
		s := domain.RecommendationStatus(*v)
		status = &s
	}

	recs, err := h.service.ListRecommendations(r.Context(), status)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": recs,
		"total": len(recs),
	}))
}

// DecideRecommendation POST /api/v1/recommendations/{recommendationID}/decision
func (h *AnalysisHandler) DecideRecommendation(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}

	rec, err := h.service.DecideRecommendation(r.Context(), chi.URLParam(r, "recommendationID"), req.Status)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(rec))
}
