package isolation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/audit-collector/models"
	"github.com/upb/audit-collector/services"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedPolicy(opts ...Option) (*Policy, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewPolicy(zap.New(core), opts...), logs
}

func unit(fn func(ctx context.Context) error) Unit {
	return Unit{Index: 2, Total: 3, EntityKey: "payments", RunID: 42, Fn: fn}
}

func TestPolicy_Success(t *testing.T) {
	p, logs := newObservedPolicy()

	res := p.Run(context.Background(), unit(func(ctx context.Context) error { return nil }))

	assert.False(t, res.Failed())
	assert.False(t, res.Skipped)
	assert.Empty(t, res.Stage)
	assert.Zero(t, logs.Len())
}

func TestPolicy_Skipped(t *testing.T) {
	p, logs := newObservedPolicy()

	res := p.Run(context.Background(), unit(func(ctx context.Context) error {
		return fmt.Errorf("dashboard payments: %w", ErrSkipped)
	}))

	assert.False(t, res.Failed())
	assert.True(t, res.Skipped)
	assert.Zero(t, logs.Len())
}

func TestPolicy_EvaluationFailure(t *testing.T) {
	p, logs := newObservedPolicy()
	cause := services.WrapEvaluation("audit API rejected the request", errors.New("status 400"))

	res := p.Run(context.Background(), unit(func(ctx context.Context) error { return cause }))

	require.True(t, res.Failed())
	assert.Equal(t, models.StageEvaluation, res.Stage)
	assert.ErrorIs(t, res.Err, cause)

	entries := logs.FilterMessage("failed to evaluate dashboard audits").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "payments", fields["dashboard"])
	assert.Equal(t, int64(42), fields["collector_run_id"])
	assert.Equal(t, "evaluation", fields["stage"])
	assert.Contains(t, fields["error"], "status 400")
}

func TestPolicy_RefreshFailureLoggedDistinctly(t *testing.T) {
	p, logs := newObservedPolicy()

	res := p.Run(context.Background(), unit(func(ctx context.Context) error {
		return services.WrapRefresh("insert", errors.New("disk full"))
	}))

	require.True(t, res.Failed())
	assert.Equal(t, models.StageRefresh, res.Stage)
	assert.Zero(t, logs.FilterMessage("failed to evaluate dashboard audits").Len())

	entries := logs.FilterMessage("failed to refresh dashboard audit results").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "insert", fields["phase"])
	assert.Equal(t, "refresh", fields["stage"])
}

func TestPolicy_RecoversPanic(t *testing.T) {
	p, logs := newObservedPolicy()

	var res Result
	assert.NotPanics(t, func() {
		res = p.Run(context.Background(), unit(func(ctx context.Context) error {
			panic("evaluator exploded")
		}))
	})

	require.True(t, res.Failed())
	assert.Equal(t, models.StagePanic, res.Stage)
	assert.True(t, services.IsInternalError(res.Err))

	entries := logs.FilterMessage("recovered panic while processing dashboard").All()
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ContextMap()["stack"])
}

func TestPolicy_Timeout(t *testing.T) {
	p, _ := newObservedPolicy(WithTimeout(10 * time.Millisecond))

	res := p.Run(context.Background(), unit(func(ctx context.Context) error {
		<-ctx.Done()
		return services.WrapEvaluation("audit request cancelled", ctx.Err())
	}))

	require.True(t, res.Failed())
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Equal(t, models.StageEvaluation, res.Stage)
}

func TestPolicy_Cancelled(t *testing.T) {
	p, logs := newObservedPolicy()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.Run(ctx, unit(func(ctx context.Context) error { return ctx.Err() }))

	assert.Equal(t, models.StageCancelled, res.Stage)
	assert.Equal(t, 1, logs.FilterMessage("dashboard processing cancelled").Len())
}

func TestPolicy_MeasuresDuration(t *testing.T) {
	base := time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC)
	calls := 0
	now := func() time.Time {
		calls++
		return base.Add(time.Duration(calls-1) * 1500 * time.Millisecond)
	}
	p, _ := newObservedPolicy(WithClock(now))

	res := p.Run(context.Background(), unit(func(ctx context.Context) error { return errors.New("boom") }))

	assert.Equal(t, 1500*time.Millisecond, res.Duration)
}

func TestStageOf(t *testing.T) {
	assert.Equal(t, models.StageCancelled, StageOf(services.WrapRefresh("lock", context.Canceled)))
	assert.Equal(t, models.StageRefresh, StageOf(services.WrapRefresh("insert", errors.New("disk full"))))
	assert.Equal(t, models.StageCancelled, StageOf(fmt.Errorf("x: %w", context.Canceled)))
	assert.Equal(t, models.StageEvaluation, StageOf(errors.New("boom")))
}
