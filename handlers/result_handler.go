package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/upb/audit-collector/models"
	"github.com/upb/audit-collector/repositories"
	"github.com/upb/audit-collector/services"
	"github.com/upb/audit-collector/utils"
	"go.uber.org/zap"
)

// AuditResultsResponse lists the current audit results of one dashboard
type AuditResultsResponse struct {
	Dashboard string                `json:"dashboard"`
	Count     int                   `json:"count"`
	Results   []*models.AuditResult `json:"results"`
}

// ResultHandler serves stored audit results
type ResultHandler struct {
	dashboards repositories.DashboardRepository
	results    repositories.AuditResultRepository
	logger     *zap.Logger
}

// NewResultHandler creates a new ResultHandler
func NewResultHandler(dashboards repositories.DashboardRepository, results repositories.AuditResultRepository, logger *zap.Logger) *ResultHandler {
	return &ResultHandler{
		dashboards: dashboards,
		results:    results,
		logger:     logger,
	}
}

// HandleListResults handles GET /api/v1/dashboards/{title}/audit-results
func (h *ResultHandler) HandleListResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	title, err := url.PathUnescape(chi.URLParam(r, "title"))
	if err == nil {
		err = utils.ValidateRequired(title, "title")
	}
	if err != nil {
		HandleServiceError(w, services.WrapError(services.ErrorTypeValidation, err.Error(), nil), h.logger)
		return
	}

	dashboard, err := h.dashboards.GetByTitle(ctx, title)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to load dashboard", err), h.logger)
		return
	}
	if dashboard == nil {
		HandleServiceError(w,
			services.WrapError(services.ErrorTypeNotFound, services.ErrDashboardNotFound.Message, nil).WithDetail("dashboard", title),
			h.logger)
		return
	}

	results, err := h.results.FindCurrent(ctx, dashboard.Title)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to load audit results", err), h.logger)
		return
	}
	if results == nil {
		results = []*models.AuditResult{}
	}

	if err := utils.WriteOK(w, AuditResultsResponse{
		Dashboard: dashboard.Title,
		Count:     len(results),
		Results:   results,
	}); err != nil {
		h.logger.Error("failed to write audit results response", zap.Error(err))
	}
}
