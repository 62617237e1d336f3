package repositories

import (
	"context"

	"github.com/upb/audit-collector/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// DashboardRepository is the entity catalog. It is read-only to the collector.
type DashboardRepository interface {
	// ListByType returns every dashboard of the given classification ordered by title
	ListByType(ctx context.Context, dashboardType models.DashboardType) ([]*models.Dashboard, error)

	// GetByTitle retrieves a dashboard by its unique title
	GetByTitle(ctx context.Context, title string) (*models.Dashboard, error)
}

// CmdbRepository reads configuration-management metadata
type CmdbRepository interface {
	// FindByConfigurationItem returns nil, nil when the item is unknown
	FindByConfigurationItem(ctx context.Context, configurationItem string) (*models.ConfigMetadata, error)
}

// AuditResultRepository stores the current audit result set of each dashboard
type AuditResultRepository interface {
	// FindCurrent returns the stored results for a dashboard title, ordered by audit kind
	FindCurrent(ctx context.Context, dashboardTitle string) ([]*models.AuditResult, error)

	// DeleteAll removes exactly the given results
	DeleteAll(ctx context.Context, results []*models.AuditResult) error

	// InsertAll stores the given results
	InsertAll(ctx context.Context, results []*models.AuditResult) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) AuditResultRepository
}

// CollectorRepository is the run metadata store
type CollectorRepository interface {
	// GetCollectorConfig returns the persisted settings of a collector, or nil, nil when none exist
	GetCollectorConfig(ctx context.Context, name string) (*models.CollectorSettings, error)

	// RecordRunStats appends the run to the history and updates the collector bookkeeping
	RecordRunStats(ctx context.Context, name string, run models.RunRecord) error

	// LatestRun returns the most recent run of a collector, or nil, nil when it never ran
	LatestRun(ctx context.Context, name string) (*models.RunRecord, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Dashboards   DashboardRepository
	Cmdb         CmdbRepository
	AuditResults AuditResultRepository
	Collectors   CollectorRepository
}
