package refresher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/audit-collector/models"
	"github.com/upb/audit-collector/repositories"
	"github.com/upb/audit-collector/repositories/memory"
	"github.com/upb/audit-collector/services"
	"github.com/upb/audit-collector/services/lock"
	"go.uber.org/zap"
)

var errStorage = errors.New("storage unavailable")

// faultyResults fails the named operation and delegates the rest
type faultyResults struct {
	repositories.AuditResultRepository
	failOn string
}

func (f *faultyResults) FindCurrent(ctx context.Context, title string) ([]*models.AuditResult, error) {
	if f.failOn == PhaseFind {
		return nil, errStorage
	}
	return f.AuditResultRepository.FindCurrent(ctx, title)
}

func (f *faultyResults) DeleteAll(ctx context.Context, results []*models.AuditResult) error {
	if f.failOn == PhaseDelete {
		return errStorage
	}
	return f.AuditResultRepository.DeleteAll(ctx, results)
}

func (f *faultyResults) InsertAll(ctx context.Context, results []*models.AuditResult) error {
	if f.failOn == PhaseInsert {
		return errStorage
	}
	return f.AuditResultRepository.InsertAll(ctx, results)
}

func (f *faultyResults) WithTx(tx repositories.Transaction) repositories.AuditResultRepository {
	return &faultyResults{AuditResultRepository: f.AuditResultRepository.WithTx(tx), failOn: f.failOn}
}

type lockerFunc func(ctx context.Context, key string) (func(), error)

func (f lockerFunc) Acquire(ctx context.Context, key string) (func(), error) {
	return f(ctx, key)
}

func buildResults(title string, kinds ...models.AuditKind) []*models.AuditResult {
	dashboard := models.NewDashboard(title, models.DashboardTypeTeam, "")
	outcomes := models.AuditOutcomes{}
	for _, k := range kinds {
		outcomes[k] = &models.AuditOutcome{Status: models.AuditStatusOK}
	}
	now := time.Now()
	return models.BuildAuditResults(dashboard, outcomes, nil, now.Add(-time.Hour), now, now.UnixMilli())
}

func ids(results []*models.AuditResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.ID.String())
	}
	return out
}

func TestRefresh_ReplacesCurrentResults(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repos := store.Repositories()

	old := buildResults("payments", models.AuditKindCodeReview, models.AuditKindDeploy, models.AuditKindArtifact)
	require.NoError(t, repos.AuditResults.InsertAll(ctx, old))
	other := buildResults("ledger", models.AuditKindDeploy)
	require.NoError(t, repos.AuditResults.InsertAll(ctx, other))

	fresh := buildResults("payments", models.AuditKindCodeQuality, models.AuditKindTestResult)
	r := New(store.TransactionManager(), repos.AuditResults, lock.NewKeyedMutex(), zap.NewNop())

	require.NoError(t, r.Refresh(ctx, "payments", fresh))

	current, err := repos.AuditResults.FindCurrent(ctx, "payments")
	require.NoError(t, err)
	assert.Equal(t, ids(fresh), ids(current))

	untouched, err := repos.AuditResults.FindCurrent(ctx, "ledger")
	require.NoError(t, err)
	assert.Equal(t, ids(other), ids(untouched))
}

func TestRefresh_FirstResults(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repos := store.Repositories()
	fresh := buildResults("payments", models.AuditKindDeploy)

	require.NoError(t, New(store.TransactionManager(), repos.AuditResults, nil, zap.NewNop()).Refresh(ctx, "payments", fresh))

	current, err := repos.AuditResults.FindCurrent(ctx, "payments")
	require.NoError(t, err)
	assert.Equal(t, ids(fresh), ids(current))
}

func TestRefresh_RejectsInvalidInput(t *testing.T) {
	store := memory.NewStore()
	r := New(store.TransactionManager(), store.Repositories().AuditResults, nil, zap.NewNop())

	err := r.Refresh(context.Background(), "payments", nil)
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
	assert.Equal(t, "payments", services.GetErrorDetails(err)["dashboard"])

	err = r.Refresh(context.Background(), "payments", buildResults("ledger", models.AuditKindDeploy))
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
}

func TestRefresh_FailureKeepsPreviousResults(t *testing.T) {
	for _, phase := range []string{PhaseFind, PhaseDelete, PhaseInsert} {
		t.Run(phase, func(t *testing.T) {
			ctx := context.Background()
			store := memory.NewStore()
			repos := store.Repositories()
			old := buildResults("payments", models.AuditKindCodeReview, models.AuditKindDeploy)
			require.NoError(t, repos.AuditResults.InsertAll(ctx, old))

			faulty := &faultyResults{AuditResultRepository: repos.AuditResults, failOn: phase}
			r := New(store.TransactionManager(), faulty, nil, zap.NewNop())

			err := r.Refresh(ctx, "payments", buildResults("payments", models.AuditKindArtifact))

			require.Error(t, err)
			assert.True(t, services.IsRefreshError(err))
			assert.ErrorIs(t, err, errStorage)
			assert.Equal(t, phase, services.GetErrorDetails(err)["phase"])

			current, err := repos.AuditResults.FindCurrent(ctx, "payments")
			require.NoError(t, err)
			assert.Equal(t, ids(old), ids(current))
		})
	}
}

func TestRefresh_LockFailure(t *testing.T) {
	store := memory.NewStore()
	locker := lockerFunc(func(ctx context.Context, key string) (func(), error) {
		return nil, lock.ErrNotAcquired
	})
	faulty := &faultyResults{AuditResultRepository: store.Repositories().AuditResults}
	r := New(store.TransactionManager(), faulty, locker, zap.NewNop())

	err := r.Refresh(context.Background(), "payments", buildResults("payments", models.AuditKindDeploy))

	require.Error(t, err)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
	assert.Equal(t, PhaseLock, services.GetErrorDetails(err)["phase"])
}

func TestRefresh_ReleasesLock(t *testing.T) {
	store := memory.NewStore()
	var acquired, released int
	locker := lockerFunc(func(ctx context.Context, key string) (func(), error) {
		assert.Equal(t, "payments", key)
		acquired++
		return func() { released++ }, nil
	})
	faulty := &faultyResults{AuditResultRepository: store.Repositories().AuditResults, failOn: PhaseInsert}

	_ = New(store.TransactionManager(), faulty, locker, zap.NewNop()).
		Refresh(context.Background(), "payments", buildResults("payments", models.AuditKindDeploy))

	assert.Equal(t, 1, acquired)
	assert.Equal(t, 1, released)
}

func TestRefresh_BeginFailure(t *testing.T) {
	store := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(store.TransactionManager(), store.Repositories().AuditResults, nil, zap.NewNop()).
		Refresh(ctx, "payments", buildResults("payments", models.AuditKindDeploy))

	require.Error(t, err)
	assert.True(t, services.IsRefreshError(err))
	assert.Equal(t, PhaseBegin, services.GetErrorDetails(err)["phase"])
}

func TestRefresh_ConcurrentRefreshesOfSameDashboard(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repos := store.Repositories()
	r := New(store.TransactionManager(), repos.AuditResults, lock.NewKeyedMutex(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		results := buildResults("payments", models.AuditKindCodeReview, models.AuditKindDeploy)
		for _, res := range results {
			res.RunID = int64(i + 1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Refresh(ctx, "payments", results))
		}()
	}
	wg.Wait()

	current, err := repos.AuditResults.FindCurrent(ctx, "payments")
	require.NoError(t, err)
	require.Len(t, current, 2)
	assert.Equal(t, current[0].RunID, current[1].RunID)
}
