package handlers

import (
	"context"
	"net/http"

	"github.com/upb/audit-collector/middleware"
	"github.com/upb/audit-collector/models"
	"github.com/upb/audit-collector/services"
	"github.com/upb/audit-collector/utils"
	"go.uber.org/zap"
)

// RunTrigger starts collector runs in the background
type RunTrigger interface {
	// Name returns the collector name runs are recorded under
	Name() string

	// Start launches a run, failing with a conflict error when one is active
	Start(ctx context.Context) error
}

// RunHistory reads recorded collector runs
type RunHistory interface {
	LatestRun(ctx context.Context, name string) (*models.RunRecord, error)
}

// RunHandler handles collector run HTTP requests
type RunHandler struct {
	trigger RunTrigger
	history RunHistory
	logger  *zap.Logger
}

// NewRunHandler creates a new RunHandler
func NewRunHandler(trigger RunTrigger, history RunHistory, logger *zap.Logger) *RunHandler {
	return &RunHandler{
		trigger: trigger,
		history: history,
		logger:  logger,
	}
}

// HandleLatestRun handles GET /api/v1/runs/latest
func (h *RunHandler) HandleLatestRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := h.trigger.Name()

	run, err := h.history.LatestRun(ctx, name)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to load latest run", err), h.logger)
		return
	}
	if run == nil {
		HandleServiceError(w, services.ErrRunNotFound, h.logger)
		return
	}

	if err := utils.WriteOK(w, run); err != nil {
		h.logger.Error("failed to write latest run response", zap.Error(err))
	}
}

// HandleTriggerRun handles POST /api/v1/runs
// The run outlives the request, so it only inherits the request's values.
func (h *RunHandler) HandleTriggerRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var subject string
	if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
		subject = claims.Sub
	}

	if err := h.trigger.Start(context.WithoutCancel(ctx)); err != nil {
		if services.IsConflictError(err) {
			h.logger.Info("manual run rejected, collector busy",
				zap.String("request_id", requestID),
				zap.String("sub", subject))
			details := map[string]interface{}{"collector": h.trigger.Name()}
			if werr := utils.WriteConflict(w, err.Error(), details); werr != nil {
				h.logger.Error("failed to write conflict response", zap.Error(werr))
			}
			return
		}
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("manual collector run started",
		zap.String("request_id", requestID),
		zap.String("sub", subject),
		zap.String("collector", h.trigger.Name()))

	if err := utils.WriteAccepted(w, "collector run started", map[string]string{"collector": h.trigger.Name()}); err != nil {
		h.logger.Error("failed to write accepted response", zap.Error(err))
	}
}
