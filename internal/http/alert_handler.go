package httpapi

import (
	"net/http"

	"sahtee-exposure/internal/domain"
	"sahtee-exposure/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AlertHandler 健康警报接口
type AlertHandler struct {
	service *service.AlertService
	logger  *zap.Logger
}

func NewAlertHandler(svc *service.AlertService, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{service: svc, logger: logger}
}

// ResolveRequest 解决警报请求体
type ResolveRequest struct {
	Notes        string  `json:"notes"`
	LinkedCapaID *string `json:"linked_capa_id"`
}

// ListAlerts GET /api/v1/alerts?status=&severity=&type=
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	var filter domain.AlertFilter
	if v := queryParam(r, "status"); v != nil {
		s := domain.AlertStatus(*v)
		filter.Status = &s
	}
	if v := queryParam(r, "severity"); v != nil {
		s := domain.AlertSeverity(*v)
		filter.Severity = &s
	}
	if v := queryParam(r, "type"); v != nil {
		t := domain.AlertType(*v)
		filter.Type = &t
	}

	alerts, err := h.service.ListAlerts(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": alerts,
		"total": len(alerts),
	}))
}

// RaiseAlert POST /api/v1/alerts（visit_overdue 等非测量类警报）
func (h *AlertHandler) RaiseAlert(w http.ResponseWriter, r *http.Request) {
	var req service.AlertRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}

	alert, created, err := h.service.Raise(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, Ok(map[string]any{
		"alert":   alert,
		"created": created,
	}))
}

// GetAlert GET /api/v1/alerts/{alertID}
func (h *AlertHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.service.GetAlert(r.Context(), chi.URLParam(r, "alertID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(alert))
}

// AcknowledgeAlert POST /api/v1/alerts/{alertID}/acknowledge
func (h *AlertHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.service.AcknowledgeAlert(r.Context(), chi.URLParam(r, "alertID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(alert))
}

// ResolveAlert POST /api/v1/alerts/{alertID}/resolve
func (h *AlertHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}

	alert, err := h.service.ResolveAlert(r.Context(), chi.URLParam(r, "alertID"), req.Notes, req.LinkedCapaID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(alert))
}
