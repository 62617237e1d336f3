// Package memory provides map-backed repositories for local runs and tests.
// Audit result writes made through a transaction are buffered and only become
// visible to other readers on Commit.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/upb/audit-collector/models"
	"github.com/upb/audit-collector/repositories"
)

// Store holds every collection behind one lock
type Store struct {
	mu         sync.RWMutex
	dashboards map[string]*models.Dashboard
	cmdb       map[string]*models.ConfigMetadata
	results    map[uuid.UUID]*models.AuditResult
	collectors map[string]*models.CollectorSettings
	runs       map[string][]models.RunRecord
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		dashboards: make(map[string]*models.Dashboard),
		cmdb:       make(map[string]*models.ConfigMetadata),
		results:    make(map[uuid.UUID]*models.AuditResult),
		collectors: make(map[string]*models.CollectorSettings),
		runs:       make(map[string][]models.RunRecord),
	}
}

// Repositories exposes the store through the repository interfaces
func (s *Store) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Dashboards:   &DashboardRepository{store: s},
		Cmdb:         &CmdbRepository{store: s},
		AuditResults: &AuditResultRepository{store: s},
		Collectors:   &CollectorRepository{store: s},
	}
}

// TransactionManager returns a manager whose transactions buffer result writes
func (s *Store) TransactionManager() repositories.TransactionManager {
	return &TransactionManager{store: s}
}

// PutDashboard adds or replaces a catalog entry
func (s *Store) PutDashboard(d *models.Dashboard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.dashboards[d.Title] = &cp
}

// PutConfigMetadata adds or replaces a CMDB entry
func (s *Store) PutConfigMetadata(meta *models.ConfigMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *meta
	s.cmdb[meta.ConfigurationItem] = &cp
}

// PutCollectorSettings adds or replaces a collector row
func (s *Store) PutCollectorSettings(settings *models.CollectorSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *settings
	cp.TargetSources = append([]string(nil), settings.TargetSources...)
	s.collectors[settings.Name] = &cp
}

// DashboardRepository implements repositories.DashboardRepository
type DashboardRepository struct {
	store *Store
}

// ListByType returns matching dashboards ordered by title
func (r *DashboardRepository) ListByType(ctx context.Context, dashboardType models.DashboardType) ([]*models.Dashboard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*models.Dashboard
	for _, d := range r.store.dashboards {
		if d.Type == dashboardType {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// GetByTitle returns the dashboard or nil when unknown
func (r *DashboardRepository) GetByTitle(ctx context.Context, title string) (*models.Dashboard, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	d, ok := r.store.dashboards[title]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

// CmdbRepository implements repositories.CmdbRepository
type CmdbRepository struct {
	store *Store
}

// FindByConfigurationItem returns the metadata or nil when unknown
func (r *CmdbRepository) FindByConfigurationItem(ctx context.Context, configurationItem string) (*models.ConfigMetadata, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	meta, ok := r.store.cmdb[configurationItem]
	if !ok {
		return nil, nil
	}
	cp := *meta
	return &cp, nil
}

// AuditResultRepository implements repositories.AuditResultRepository
type AuditResultRepository struct {
	store *Store
	tx    *Transaction
}

// FindCurrent returns the results visible to the caller ordered by audit kind.
// Inside a transaction its own buffered writes are visible.
func (r *AuditResultRepository) FindCurrent(ctx context.Context, dashboardTitle string) ([]*models.AuditResult, error) {
	tx, err := r.transaction(ctx)
	if err != nil {
		return nil, err
	}

	var deleted map[uuid.UUID]bool
	if tx != nil {
		deleted = tx.deletedIDs()
	}

	r.store.mu.RLock()
	var out []*models.AuditResult
	for id, res := range r.store.results {
		if res.DashboardTitle != dashboardTitle || deleted[id] {
			continue
		}
		out = append(out, copyResult(res))
	}
	r.store.mu.RUnlock()

	if tx != nil {
		out = append(out, tx.pendingFor(dashboardTitle)...)
	}

	sort.Slice(out, func(i, j int) bool {
		oi, oj := out[i].Kind.Ordinal(), out[j].Kind.Ordinal()
		if oi != oj {
			return oi < oj
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// DeleteAll removes exactly the given results
func (r *AuditResultRepository) DeleteAll(ctx context.Context, results []*models.AuditResult) error {
	tx, err := r.transaction(ctx)
	if err != nil {
		return err
	}
	if tx != nil {
		return tx.delete(results)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, res := range results {
		delete(r.store.results, res.ID)
	}
	return nil
}

// InsertAll stores the given results
func (r *AuditResultRepository) InsertAll(ctx context.Context, results []*models.AuditResult) error {
	tx, err := r.transaction(ctx)
	if err != nil {
		return err
	}
	for _, res := range results {
		if res.ID == uuid.Nil {
			res.ID = uuid.New()
		}
	}
	if tx != nil {
		return tx.insert(results)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, res := range results {
		if _, exists := r.store.results[res.ID]; exists {
			return ErrConflict
		}
	}
	for _, res := range results {
		r.store.results[res.ID] = copyResult(res)
	}
	return nil
}

// WithTx returns a repository bound to the transaction
func (r *AuditResultRepository) WithTx(tx repositories.Transaction) repositories.AuditResultRepository {
	memTx, _ := tx.(*Transaction)
	return &AuditResultRepository{store: r.store, tx: memTx}
}

func (r *AuditResultRepository) transaction(ctx context.Context) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.tx != nil {
		return r.tx, nil
	}
	if tx, ok := ctx.Value(transactionContextKey{}).(*Transaction); ok {
		return tx, nil
	}
	return nil, nil
}

// CollectorRepository implements repositories.CollectorRepository
type CollectorRepository struct {
	store *Store
}

// GetCollectorConfig returns the collector row or nil when none exists
func (r *CollectorRepository) GetCollectorConfig(ctx context.Context, name string) (*models.CollectorSettings, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	s, ok := r.store.collectors[name]
	if !ok {
		return nil, nil
	}
	cp := *s
	cp.TargetSources = append([]string(nil), s.TargetSources...)
	return &cp, nil
}

// RecordRunStats appends the run and updates the collector bookkeeping
func (r *CollectorRepository) RecordRunStats(ctx context.Context, name string, run models.RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	run.Failures = append([]models.RunFailure(nil), run.Failures...)
	r.store.runs[name] = append(r.store.runs[name], run)

	s, ok := r.store.collectors[name]
	if !ok {
		s = &models.CollectorSettings{ID: uuid.New(), Name: name, Enabled: true}
		r.store.collectors[name] = s
	}
	s.LastExecuted = run.StartedAt
	s.LastExecutedSeconds = run.ElapsedSeconds
	s.LastExecutionRecordCount = run.EntityCount
	return nil
}

// LatestRun returns the most recently recorded run or nil
func (r *CollectorRepository) LatestRun(ctx context.Context, name string) (*models.RunRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	runs := r.store.runs[name]
	if len(runs) == 0 {
		return nil, nil
	}
	latest := runs[len(runs)-1]
	latest.Failures = append([]models.RunFailure(nil), latest.Failures...)
	return &latest, nil
}

// ErrConflict is returned when a result id is already stored
var ErrConflict = errors.New("audit result already exists")

func copyResult(res *models.AuditResult) *models.AuditResult {
	cp := *res
	if res.Statuses != nil {
		cp.Statuses = append(cp.Statuses[:0:0], res.Statuses...)
	}
	if res.Details != nil {
		cp.Details = append(cp.Details[:0:0], res.Details...)
	}
	return &cp
}
