// Package collector orchestrates audit collection runs over the dashboard catalog.
package collector

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/upb/audit-collector/internal/observability"
	"github.com/upb/audit-collector/internal/shared"
	"github.com/upb/audit-collector/models"
	"github.com/upb/audit-collector/repositories"
	"github.com/upb/audit-collector/services"
	"github.com/upb/audit-collector/services/cmdb"
	"github.com/upb/audit-collector/services/evaluator"
	"github.com/upb/audit-collector/services/isolation"
	"github.com/upb/audit-collector/services/window"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Refresher replaces the stored results of one dashboard
type Refresher interface {
	Refresh(ctx context.Context, entityKey string, newResults []*models.AuditResult) error
}

// Options are the collector defaults. Values persisted for the collector override them.
type Options struct {
	Name          string
	DashboardType models.DashboardType
	LookbackDays  int
	Schedule      string
	Workers       int
	EntityTimeout time.Duration
	TargetSources []string
}

// Settings are the effective settings of one run
type Settings struct {
	LookbackDays  int
	Schedule      string
	TargetSources []string
}

// Dependencies groups the collaborators of a Runner
type Dependencies struct {
	Dashboards repositories.DashboardRepository
	Collectors repositories.CollectorRepository
	Evaluator  evaluator.Evaluator
	Refresher  Refresher
	Cmdb       *cmdb.Resolver
	Metrics    observability.Metrics
	Clock      clock.Clock
	Logger     *zap.Logger
}

// Runner executes collection runs. At most one run is active at a time.
type Runner struct {
	opts       Options
	dashboards repositories.DashboardRepository
	collectors repositories.CollectorRepository
	evaluator  evaluator.Evaluator
	refresher  Refresher
	cmdb       *cmdb.Resolver
	metrics    observability.Metrics
	clock      clock.Clock
	calculator *window.Calculator
	policy     *isolation.Policy
	logger     *zap.Logger
	running    atomic.Bool
}

// NewRunner creates a runner
func NewRunner(opts Options, deps Dependencies) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	logger := deps.Logger.With(zap.String("collector", opts.Name))

	return &Runner{
		opts:       opts,
		dashboards: deps.Dashboards,
		collectors: deps.Collectors,
		evaluator:  deps.Evaluator,
		refresher:  deps.Refresher,
		cmdb:       deps.Cmdb,
		metrics:    deps.Metrics,
		clock:      deps.Clock,
		calculator: window.NewCalculator(deps.Clock),
		policy: isolation.NewPolicy(logger,
			isolation.WithTimeout(opts.EntityTimeout),
			isolation.WithClock(deps.Clock.Now)),
		logger: logger,
	}
}

// Name returns the collector name
func (r *Runner) Name() string {
	return r.opts.Name
}

// IsRunning reports whether a run is active
func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// Run executes one collection run and returns its record. The error is non-nil
// only when the run could not start iterating: another run is active, the
// settings are invalid, or the catalog could not be listed.
func (r *Runner) Run(ctx context.Context) (models.RunRecord, error) {
	if !r.running.CompareAndSwap(false, true) {
		return models.RunRecord{}, services.ErrRunInProgress
	}
	defer r.running.Store(false)

	return r.run(ctx)
}

// Start launches a run in the background and returns once it has been claimed.
// It fails with ErrRunInProgress when a run is already active.
func (r *Runner) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return services.ErrRunInProgress
	}

	go func() {
		defer r.running.Store(false)
		if _, err := r.run(ctx); err != nil {
			r.logger.Error("collector run aborted", zap.Error(err))
		}
	}()
	return nil
}

// ResolveSettings merges the persisted collector settings over the defaults
// and validates the result.
func (r *Runner) ResolveSettings(ctx context.Context) (Settings, error) {
	settings := Settings{
		LookbackDays:  r.opts.LookbackDays,
		Schedule:      r.opts.Schedule,
		TargetSources: r.opts.TargetSources,
	}

	persisted, err := r.collectors.GetCollectorConfig(ctx, r.opts.Name)
	if err != nil {
		return settings, services.WrapError(services.ErrorTypeConfiguration, "failed to load collector settings", err).
			WithDetail("collector", r.opts.Name)
	}
	if persisted != nil {
		if persisted.LookbackDays != 0 {
			settings.LookbackDays = persisted.LookbackDays
		}
		if persisted.Schedule != "" {
			settings.Schedule = persisted.Schedule
		}
		if len(persisted.TargetSources) > 0 {
			settings.TargetSources = persisted.TargetSources
		}
	}

	if err := window.ValidateLookback(settings.LookbackDays); err != nil {
		return settings, err
	}
	return settings, nil
}

func (r *Runner) run(ctx context.Context) (models.RunRecord, error) {
	record := models.NewRunRecord(r.clock.Now())
	runID := record.RunID
	ctx = shared.WithRunID(ctx, runID)
	logger := r.logger.With(observability.RunID(runID))

	logger.Info("Starting audit collector run")

	settings, err := r.ResolveSettings(ctx)
	if err != nil {
		return r.abort(logger, record, err)
	}

	if len(settings.TargetSources) > 0 {
		ctx = shared.WithTargetSources(ctx, settings.TargetSources)
	}

	dashboards, err := r.dashboards.ListByType(ctx, r.opts.DashboardType)
	if err != nil {
		return r.abort(logger, record, services.WrapError(services.ErrorTypeCatalog, services.ErrCatalogUnavailable.Message, err).
			WithDetail("dashboard_type", string(r.opts.DashboardType)))
	}

	w, err := r.calculator.Window(settings.LookbackDays)
	if err != nil {
		return r.abort(logger, record, err)
	}
	record.WindowBegin = w.Begin
	record.WindowEnd = w.End
	record.EntityCount = len(dashboards)

	logger.Info(fmt.Sprintf("time_range_start=%d (%s) time_range_end=%d (%s) dashboard_count=%d collector_run_id=%d",
		w.BeginMillis(), w.Begin.Format(window.TimeRangeLayout),
		w.EndMillis(), w.End.Format(window.TimeRangeLayout),
		len(dashboards), runID),
		zap.Int64("time_range_start", w.BeginMillis()),
		zap.Int64("time_range_end", w.EndMillis()),
		zap.Int(observability.FieldDashboardCount, len(dashboards)),
		zap.Strings("target_sources", settings.TargetSources))

	results := r.processAll(ctx, logger, dashboards, w, runID)

	for i, res := range results {
		switch {
		case res.Failed():
			record.Failed++
			record.Failures = append(record.Failures, models.RunFailure{
				Dashboard: dashboards[i].Title,
				Stage:     res.Stage,
				Message:   res.Err.Error(),
			})
		case res.Skipped:
			record.Skipped++
		default:
			record.Succeeded++
		}
	}

	record.Finish(r.clock.Now())

	logger.Info(fmt.Sprintf("Finished audit collector run collector_process_time=%d collector_item_count=%d collector_run_id=%d",
		record.ElapsedSeconds, record.EntityCount, runID),
		zap.Int64("collector_process_time", record.ElapsedSeconds),
		zap.Int("collector_item_count", record.EntityCount),
		zap.Int("succeeded", record.Succeeded),
		zap.Int("skipped", record.Skipped),
		zap.Int("failed", record.Failed))

	// persisted even when the run was cancelled
	if err := r.collectors.RecordRunStats(context.WithoutCancel(ctx), r.opts.Name, record); err != nil {
		logger.Error("failed to record collector run stats", zap.Error(err))
	}
	r.metrics.RecordRun(record.FinishedAt.Sub(record.StartedAt), record.EntityCount, record.Failed)

	return record, nil
}

func (r *Runner) abort(logger *zap.Logger, record models.RunRecord, err error) (models.RunRecord, error) {
	record.Finish(r.clock.Now())
	errType := string(services.GetErrorType(err))
	logger.Error("audit collector run aborted", zap.String("error_type", errType), zap.Error(err))
	r.metrics.RecordRunError(errType)
	return record, err
}

// processAll runs every dashboard under the isolation policy, sequentially or on a
// bounded pool. Results are indexed like dashboards. Dashboards not started
// before ctx ends are reported as cancelled.
func (r *Runner) processAll(ctx context.Context, logger *zap.Logger, dashboards []*models.Dashboard, w window.Window, runID int64) []isolation.Result {
	results := make([]isolation.Result, len(dashboards))
	total := len(dashboards)

	var g errgroup.Group
	if r.opts.Workers > 1 {
		g.SetLimit(r.opts.Workers)
	}

	cancelledFrom := -1
	for i, dashboard := range dashboards {
		if ctx.Err() != nil {
			cancelledFrom = i
			break
		}
		if r.opts.Workers <= 1 {
			results[i] = r.processOne(ctx, logger, i, total, dashboard, w, runID)
			continue
		}
		i, dashboard := i, dashboard
		// unit failures stay in results so siblings keep running
		g.Go(func() error {
			results[i] = r.processOne(ctx, logger, i, total, dashboard, w, runID)
			return nil
		})
	}
	_ = g.Wait()

	if cancelledFrom >= 0 {
		cause := ctx.Err()
		for i := cancelledFrom; i < total; i++ {
			results[i] = isolation.Result{Err: cause, Stage: models.StageCancelled}
			r.metrics.RecordFailure(models.StageCancelled)
		}
		logger.Warn("collector run cancelled, remaining dashboards not processed",
			zap.Int("remaining", total-cancelledFrom),
			zap.Error(cause))
	}

	return results
}

func (r *Runner) processOne(ctx context.Context, logger *zap.Logger, index, total int, dashboard *models.Dashboard, w window.Window, runID int64) isolation.Result {
	res := r.policy.Run(ctx, isolation.Unit{
		Index:     index + 1,
		Total:     total,
		EntityKey: dashboard.Title,
		RunID:     runID,
		Fn: func(ctx context.Context) error {
			return r.collect(shared.WithDashboard(ctx, dashboard.Title), dashboard, w, runID)
		},
	})

	outcome := observability.OutcomeSucceeded
	switch {
	case res.Failed():
		outcome = observability.OutcomeFailed
		r.metrics.RecordFailure(res.Stage)
	case res.Skipped:
		outcome = observability.OutcomeSkipped
	}
	r.metrics.RecordEntity(outcome, res.Duration)

	logger.Info(fmt.Sprintf("Adding audit results - dashboard=%s [%d/%d] duration=%d collector_run_id=%d",
		dashboard.Title, index+1, total, res.Duration.Milliseconds(), runID),
		observability.Dashboard(dashboard.Title),
		zap.String("outcome", outcome),
		zap.Duration(observability.FieldDuration, res.Duration))

	return res
}

// collect evaluates one dashboard and replaces its stored results
func (r *Runner) collect(ctx context.Context, dashboard *models.Dashboard, w window.Window, runID int64) error {
	outcomes, err := r.evaluator.Evaluate(ctx, dashboard, w)
	if err != nil {
		if services.IsEvaluationError(err) {
			return err
		}
		return services.WrapEvaluation("failed to evaluate dashboard audits", err)
	}
	if outcomes == nil {
		return services.ErrNilOutcomes
	}
	if len(outcomes) == 0 {
		return isolation.ErrSkipped
	}

	meta, err := r.cmdb.Resolve(ctx, dashboard)
	if err != nil {
		return services.WrapEvaluation("failed to resolve dashboard metadata", err)
	}
	results := models.BuildAuditResults(dashboard, outcomes, meta, w.Begin, w.End, runID)
	if len(results) == 0 {
		return isolation.ErrSkipped
	}

	return r.refresher.Refresh(ctx, dashboard.Title, results)
}
