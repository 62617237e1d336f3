// Package scheduler triggers collection runs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/upb/audit-collector/models"
	"github.com/upb/audit-collector/services"
	"go.uber.org/zap"
)

// Job is what the scheduler runs on every tick
type Job interface {
	Run(ctx context.Context) (models.RunRecord, error)
}

// parser accepts a leading seconds field, matching the collector's cron format
var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks a cron expression
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return services.WrapError(services.ErrorTypeConfiguration, services.ErrInvalidSchedule.Message, err).
			WithDetail("schedule", expr)
	}
	return nil
}

// Scheduler runs a Job on a cron expression. A tick that fires while the previous
// run is still active is skipped.
type Scheduler struct {
	cron   *cron.Cron
	job    Job
	expr   string
	logger *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	entry  cron.EntryID
}

// New creates a scheduler for job on expr
func New(expr string, job Job, logger *zap.Logger) (*Scheduler, error) {
	if err := Validate(expr); err != nil {
		return nil, err
	}

	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
	)

	return &Scheduler{
		cron:   c,
		job:    job,
		expr:   expr,
		logger: logger,
	}, nil
}

// Start registers the job and starts ticking. Runs receive a context derived from ctx
// that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	id, err := s.cron.AddFunc(s.expr, s.tick)
	if err != nil {
		s.cancel()
		s.cancel = nil
		return services.WrapError(services.ErrorTypeConfiguration, services.ErrInvalidSchedule.Message, err)
	}
	s.entry = id
	s.cron.Start()

	s.logger.Info("collector scheduled",
		zap.String("schedule", s.expr),
		zap.Time("next_run", s.cron.Entry(id).Next))
	return nil
}

// Stop cancels the active run, if any, and waits for it to finish or ctx to end
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}

	done := s.cron.Stop()
	cancel()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next scheduled run, or the zero time when not started
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) tick() {
	record, err := s.job.Run(s.ctx)
	switch {
	case services.IsConflictError(err):
		s.logger.Info("skipping scheduled run, a run is already in progress")
	case err != nil:
		s.logger.Error("scheduled collector run failed", zap.Error(err))
	default:
		s.logger.Info("scheduled collector run finished",
			zap.Int64("collector_run_id", record.RunID),
			zap.Int("dashboard_count", record.EntityCount),
			zap.Int("failed", record.Failed))
	}
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
