// Package isolation runs one dashboard's work so that its failure never escapes
// into the surrounding collection run.
package isolation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/upb/audit-collector/internal/observability"
	"github.com/upb/audit-collector/models"
	"github.com/upb/audit-collector/services"
	"go.uber.org/zap"
)

// ErrSkipped marks a unit that finished without anything to store
var ErrSkipped = errors.New("no audit results to store")

// Unit is one dashboard's processing within a run
type Unit struct {
	Index     int
	Total     int
	EntityKey string
	RunID     int64
	Fn        func(ctx context.Context) error
}

// Result reports how a unit ended. Err is nil for succeeded and skipped units.
type Result struct {
	Err      error
	Stage    string
	Duration time.Duration
	Skipped  bool
}

// Failed reports whether the unit failed
func (r Result) Failed() bool {
	return r.Err != nil
}

// Policy executes units, recovering errors and panics and logging each failure once.
// Units are never retried.
type Policy struct {
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Policy
type Option func(*Policy)

// WithTimeout bounds every unit by d; 0 disables the bound
func WithTimeout(d time.Duration) Option {
	return func(p *Policy) { p.timeout = d }
}

// WithClock sets the time source used to measure unit durations
func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.now = now }
}

// NewPolicy creates a policy
func NewPolicy(logger *zap.Logger, opts ...Option) *Policy {
	p := &Policy{
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the unit. It never panics and never returns the error to the caller
// other than inside Result.
func (p *Policy) Run(ctx context.Context, unit Unit) (res Result) {
	start := p.now()

	unitCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		unitCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			res = Result{
				Err:   services.WrapInternal("panic while processing dashboard", fmt.Errorf("%v", rec)),
				Stage: models.StagePanic,
			}
			p.logger.Error("recovered panic while processing dashboard",
				observability.Dashboard(unit.EntityKey),
				observability.RunID(unit.RunID),
				zap.String(observability.FieldStage, models.StagePanic),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
		}
		res.Duration = p.now().Sub(start)
	}()

	err := unit.Fn(unitCtx)
	switch {
	case err == nil:
		return Result{}
	case errors.Is(err, ErrSkipped):
		return Result{Skipped: true}
	}

	res = Result{Err: err, Stage: StageOf(err)}
	p.logFailure(unit, res)
	return res
}

// StageOf classifies a unit error. Cancellation wins over the stage it interrupted.
func StageOf(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return models.StageCancelled
	case services.IsRefreshError(err):
		return models.StageRefresh
	default:
		return models.StageEvaluation
	}
}

func (p *Policy) logFailure(unit Unit, res Result) {
	fields := []zap.Field{
		observability.Dashboard(unit.EntityKey),
		observability.RunID(unit.RunID),
		zap.String(observability.FieldStage, res.Stage),
		zap.Int("index", unit.Index),
		zap.Int("total", unit.Total),
		zap.Error(res.Err),
	}

	switch res.Stage {
	case models.StageRefresh:
		if phase, ok := services.GetErrorDetails(res.Err)["phase"].(string); ok {
			fields = append(fields, zap.String(observability.FieldPhase, phase))
		}
		p.logger.Error("failed to refresh dashboard audit results", fields...)
	case models.StageCancelled:
		p.logger.Warn("dashboard processing cancelled", fields...)
	default:
		p.logger.Error("failed to evaluate dashboard audits", fields...)
	}
}
