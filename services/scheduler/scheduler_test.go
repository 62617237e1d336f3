package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/audit-collector/models"
	"github.com/upb/audit-collector/services"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type jobFunc func(ctx context.Context) (models.RunRecord, error)

func (f jobFunc) Run(ctx context.Context) (models.RunRecord, error) {
	return f(ctx)
}

func TestValidate(t *testing.T) {
	valid := []string{"0 0 */6 * * *", "*/30 * * * * *", "@hourly", "@every 5m"}
	for _, expr := range valid {
		assert.NoError(t, Validate(expr), expr)
	}

	invalid := []string{"", "0 */6 * * *", "61 * * * * *", "not a schedule"}
	for _, expr := range invalid {
		err := Validate(expr)
		require.Error(t, err, expr)
		assert.True(t, services.IsConfigurationError(err))
		assert.Equal(t, expr, services.GetErrorDetails(err)["schedule"])
	}
}

func TestNew_RejectsInvalidSchedule(t *testing.T) {
	_, err := New("nope", jobFunc(nil), zap.NewNop())
	assert.True(t, services.IsConfigurationError(err))
}

func TestScheduler_RunsJob(t *testing.T) {
	var calls int32
	job := jobFunc(func(ctx context.Context) (models.RunRecord, error) {
		atomic.AddInt32(&calls, 1)
		return models.RunRecord{EntityCount: 3}, nil
	})

	s, err := New("* * * * * *", job, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, s.Next().IsZero())

	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.Next().IsZero())
	assert.Error(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestScheduler_SkipsWhileRunning(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	job := jobFunc(func(ctx context.Context) (models.RunRecord, error) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return models.RunRecord{}, nil
	})

	s, err := New("* * * * * *", job, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(2200 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestScheduler_StopCancelsActiveRun(t *testing.T) {
	started := make(chan struct{})
	var sawCancel atomic.Bool
	job := jobFunc(func(ctx context.Context) (models.RunRecord, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		sawCancel.Store(true)
		return models.RunRecord{}, ctx.Err()
	})

	s, err := New("* * * * * *", job, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.True(t, sawCancel.Load())
}

func TestScheduler_StopBeforeStart(t *testing.T) {
	s, err := New("@hourly", jobFunc(nil), zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_TickLogsConflict(t *testing.T) {
	job := jobFunc(func(ctx context.Context) (models.RunRecord, error) {
		return models.RunRecord{}, services.ErrRunInProgress
	})
	s, err := New("@hourly", job, zap.NewNop())
	require.NoError(t, err)
	s.ctx = context.Background()

	assert.NotPanics(t, s.tick)

	s.job = jobFunc(func(ctx context.Context) (models.RunRecord, error) {
		return models.RunRecord{}, errors.New("catalog down")
	})
	assert.NotPanics(t, s.tick)
}
