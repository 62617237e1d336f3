package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/audit-collector/models"
	"github.com/upb/audit-collector/repositories"
)

func seedResults(t *testing.T, store *Store, title string, kinds ...models.AuditKind) []*models.AuditResult {
	t.Helper()
	dashboard := models.NewDashboard(title, models.DashboardTypeTeam, "")
	outcomes := models.AuditOutcomes{}
	for _, k := range kinds {
		outcomes[k] = &models.AuditOutcome{Status: models.AuditStatusOK}
	}
	now := time.Now()
	results := models.BuildAuditResults(dashboard, outcomes, nil, now.Add(-time.Hour), now, 1)
	require.NoError(t, store.Repositories().AuditResults.InsertAll(context.Background(), results))
	return results
}

func TestDashboardRepository_ListByType(t *testing.T) {
	store := NewStore()
	store.PutDashboard(models.NewDashboard("charlie", models.DashboardTypeTeam, ""))
	store.PutDashboard(models.NewDashboard("alpha", models.DashboardTypeTeam, ""))
	store.PutDashboard(models.NewDashboard("bravo", models.DashboardTypeProduct, ""))

	repos := store.Repositories()
	dashboards, err := repos.Dashboards.ListByType(context.Background(), models.DashboardTypeTeam)

	require.NoError(t, err)
	require.Len(t, dashboards, 2)
	assert.Equal(t, "alpha", dashboards[0].Title)
	assert.Equal(t, "charlie", dashboards[1].Title)

	d, err := repos.Dashboards.GetByTitle(context.Background(), "bravo")
	require.NoError(t, err)
	assert.Equal(t, models.DashboardTypeProduct, d.Type)

	d, err = repos.Dashboards.GetByTitle(context.Background(), "zulu")
	assert.NoError(t, err)
	assert.Nil(t, d)
}

func TestCmdbRepository_FindByConfigurationItem(t *testing.T) {
	store := NewStore()
	store.PutConfigMetadata(&models.ConfigMetadata{ConfigurationItem: "BAPALPHA", AppServiceOwner: "alex"})

	meta, err := store.Repositories().Cmdb.FindByConfigurationItem(context.Background(), "BAPALPHA")
	require.NoError(t, err)
	assert.Equal(t, "alex", meta.AppServiceOwner)

	meta, err = store.Repositories().Cmdb.FindByConfigurationItem(context.Background(), "NONE")
	assert.NoError(t, err)
	assert.Nil(t, meta)
}

func TestAuditResultRepository_FindCurrentIsolatedByTitle(t *testing.T) {
	store := NewStore()
	seedResults(t, store, "alpha", models.AuditKindDeploy, models.AuditKindCodeReview)
	seedResults(t, store, "bravo", models.AuditKindArtifact)

	results, err := store.Repositories().AuditResults.FindCurrent(context.Background(), "alpha")

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, models.AuditKindCodeReview, results[0].Kind)
	assert.Equal(t, models.AuditKindDeploy, results[1].Kind)
}

func TestAuditResultRepository_InsertConflict(t *testing.T) {
	store := NewStore()
	results := seedResults(t, store, "alpha", models.AuditKindDeploy)

	err := store.Repositories().AuditResults.InsertAll(context.Background(), results)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestTransaction_CommitReplacesAtomically(t *testing.T) {
	store := NewStore()
	old := seedResults(t, store, "alpha", models.AuditKindDeploy)
	repo := store.Repositories().AuditResults
	fresh := models.BuildAuditResults(models.NewDashboard("alpha", models.DashboardTypeTeam, ""),
		models.AuditOutcomes{models.AuditKindArtifact: {Status: models.AuditStatusFail}}, nil, time.Now(), time.Now(), 2)

	tx, err := store.TransactionManager().Begin(context.Background())
	require.NoError(t, err)
	txRepo := repo.WithTx(tx)
	require.NoError(t, txRepo.DeleteAll(context.Background(), old))
	require.NoError(t, txRepo.InsertAll(context.Background(), fresh))

	// read your own writes inside, old state outside
	inside, err := txRepo.FindCurrent(context.Background(), "alpha")
	require.NoError(t, err)
	require.Len(t, inside, 1)
	assert.Equal(t, models.AuditKindArtifact, inside[0].Kind)

	outside, err := repo.FindCurrent(context.Background(), "alpha")
	require.NoError(t, err)
	require.Len(t, outside, 1)
	assert.Equal(t, models.AuditKindDeploy, outside[0].Kind)

	require.NoError(t, tx.Commit())

	after, err := repo.FindCurrent(context.Background(), "alpha")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, models.AuditKindArtifact, after[0].Kind)
	assert.Equal(t, int64(2), after[0].RunID)
}

func TestTransactionManager_InTransactionRollsBack(t *testing.T) {
	store := NewStore()
	old := seedResults(t, store, "alpha", models.AuditKindDeploy, models.AuditKindTestResult)
	repo := store.Repositories().AuditResults
	boom := errors.New("insert failed")

	err := store.TransactionManager().InTransaction(context.Background(), func(ctx context.Context, tx repositories.Transaction) error {
		require.NoError(t, repo.DeleteAll(ctx, old))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	results, err := repo.FindCurrent(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestTransaction_UseAfterCompletion(t *testing.T) {
	store := NewStore()
	tx, err := store.TransactionManager().Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback())
	assert.Error(t, tx.Commit())

	err = store.Repositories().AuditResults.WithTx(tx).InsertAll(context.Background(), []*models.AuditResult{{}})
	assert.ErrorIs(t, err, ErrTxDone)
}

func TestCollectorRepository_RecordRunStats(t *testing.T) {
	store := NewStore()
	repo := store.Repositories().Collectors
	ctx := context.Background()

	latest, err := repo.LatestRun(ctx, "AuditCollector")
	require.NoError(t, err)
	assert.Nil(t, latest)

	start := time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		run := models.NewRunRecord(start.Add(time.Duration(i) * time.Hour))
		run.EntityCount = 3 + i
		run.Finish(run.StartedAt.Add(10 * time.Second))
		require.NoError(t, repo.RecordRunStats(ctx, "AuditCollector", run))
	}

	latest, err = repo.LatestRun(ctx, "AuditCollector")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 4, latest.EntityCount)

	settings, err := repo.GetCollectorConfig(ctx, "AuditCollector")
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, start.Add(time.Hour), settings.LastExecuted)
	assert.Equal(t, int64(10), settings.LastExecutedSeconds)
	assert.Equal(t, 4, settings.LastExecutionRecordCount)
}
