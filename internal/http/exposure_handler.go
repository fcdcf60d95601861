package httpapi

import (
	"net/http"
	"time"

	"sahtee-exposure/internal/domain"
	"sahtee-exposure/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ExposureHandler 暴露记录 / 测量值接口
type ExposureHandler struct {
	service *service.ExposureService
	logger  *zap.Logger
}

func NewExposureHandler(svc *service.ExposureService, logger *zap.Logger) *ExposureHandler {
	return &ExposureHandler{service: svc, logger: logger}
}

// MeasurementRequest 测量值请求体；date 为空时取当前时间，unit 为空时取记录单位
type MeasurementRequest struct {
	Value           float64   `json:"value"`
	Unit            string    `json:"unit"`
	Date            time.Time `json:"date"`
	Method          string    `json:"method"`
	DurationSeconds int64     `json:"duration_seconds"`
}

func (m MeasurementRequest) toDomain() domain.Measurement {
	return domain.Measurement{
		Value:    m.Value,
		Unit:     m.Unit,
		Date:     m.Date,
		Method:   m.Method,
		Duration: time.Duration(m.DurationSeconds) * time.Second,
	}
}

// CreateExposureRequest 创建暴露记录请求体
type CreateExposureRequest struct {
	Agent                string                     `json:"agent"`
	HazardCategory       domain.HazardCategory      `json:"hazard_category"`
	Area                 string                     `json:"area"`
	SiteID               string                     `json:"site_id"`
	DepartmentID         string                     `json:"department_id"`
	RegulatoryLimit      float64                    `json:"regulatory_limit"`
	Unit                 string                     `json:"unit"`
	MonitoringFrequency  domain.MonitoringFrequency `json:"monitoring_frequency"`
	ExposedEmployeeCount int                        `json:"exposed_employee_count"`
	ControlMeasures      []string                   `json:"control_measures"`
	LinkedCapaIDs        []string                   `json:"linked_capa_ids"`
	Measurements         []MeasurementRequest       `json:"measurements"`
}

func (req CreateExposureRequest) toDomain() *domain.ExposureRecord {
	e := &domain.ExposureRecord{
		Agent:                req.Agent,
		HazardCategory:       req.HazardCategory,
		Area:                 req.Area,
		SiteID:               req.SiteID,
		DepartmentID:         req.DepartmentID,
		RegulatoryLimit:      req.RegulatoryLimit,
		Unit:                 req.Unit,
		MonitoringFrequency:  req.MonitoringFrequency,
		ExposedEmployeeCount: req.ExposedEmployeeCount,
		ControlMeasures:      req.ControlMeasures,
		LinkedCapaIDs:        req.LinkedCapaIDs,
	}
	for _, m := range req.Measurements {
		e.MeasurementHistory = append(e.MeasurementHistory, m.toDomain())
	}
	return e
}

func exposureFilterFromReq(r *http.Request) domain.ExposureFilter {
	var filter domain.ExposureFilter
	if v := queryParam(r, "hazard_category"); v != nil {
		c := domain.HazardCategory(*v)
		filter.HazardCategory = &c
	}
	if v := queryParam(r, "alert_level"); v != nil {
		l := domain.AlertLevel(*v)
		filter.AlertLevel = &l
	}
	filter.Search = queryParam(r, "search")
	return filter
}

// ListExposures GET /api/v1/exposures?hazard_category=&alert_level=&search=
func (h *ExposureHandler) ListExposures(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListExposures(r.Context(), exposureFilterFromReq(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": items,
		"total": len(items),
	}))
}

// CreateExposure POST /api/v1/exposures
func (h *ExposureHandler) CreateExposure(w http.ResponseWriter, r *http.Request) {
	var req CreateExposureRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}

	id, err := h.service.CreateExposure(r.Context(), req.toDomain())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(map[string]string{"id": id}))
}

// GetExposure GET /api/v1/exposures/{exposureID}
func (h *ExposureHandler) GetExposure(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetExposure(r.Context(), chi.URLParam(r, "exposureID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(view))
}

// GetMeasurementHistory GET /api/v1/exposures/{exposureID}/measurements
func (h *ExposureHandler) GetMeasurementHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.GetMeasurementHistory(r.Context(), chi.URLParam(r, "exposureID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(history))
}

// AppendMeasurement POST /api/v1/exposures/{exposureID}/measurements
// 测量已写入但警报评估失败时仍返回 201，并在 message 中说明
func (h *ExposureHandler) AppendMeasurement(w http.ResponseWriter, r *http.Request) {
	var req MeasurementRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}

	result, err := h.service.AppendMeasurement(r.Context(), chi.URLParam(r, "exposureID"), req.toDomain())
	if err != nil {
		if result == nil {
			writeError(w, h.logger, err)
			return
		}
		h.logger.Warn("Measurement stored with alert failure",
			zap.String("exposure_id", result.ExposureID),
			zap.Error(err),
		)
		res := Ok(result)
		res.Type = "warning"
		res.Message = err.Error()
		writeJSON(w, http.StatusCreated, res)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(result))
}

// ExportExposures GET /api/v1/exposures/export（xlsx）
func (h *ExposureHandler) ExportExposures(w http.ResponseWriter, r *http.Request) {
	data, err := h.service.ExportExposures(r.Context(), exposureFilterFromReq(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="expositions.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
