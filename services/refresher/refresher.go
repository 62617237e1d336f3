// Package refresher replaces the stored audit results of a dashboard.
package refresher

import (
	"context"

	"github.com/upb/audit-collector/internal/observability"
	"github.com/upb/audit-collector/models"
	"github.com/upb/audit-collector/repositories"
	"github.com/upb/audit-collector/services"
	"github.com/upb/audit-collector/services/lock"
	"go.uber.org/zap"
)

// Refresh phases reported on failure
const (
	PhaseLock   = "lock"
	PhaseBegin  = "begin"
	PhaseFind   = "find"
	PhaseDelete = "delete"
	PhaseInsert = "insert"
	PhaseCommit = "commit"
)

// Refresher swaps a dashboard's current result set for a new one in a single
// transaction, holding the dashboard's lock for the duration.
type Refresher struct {
	txManager repositories.TransactionManager
	results   repositories.AuditResultRepository
	locker    lock.Locker
	logger    *zap.Logger
}

// New creates a refresher. A nil locker disables per-dashboard locking.
func New(txManager repositories.TransactionManager, results repositories.AuditResultRepository, locker lock.Locker, logger *zap.Logger) *Refresher {
	if locker == nil {
		locker = lock.Nop{}
	}
	return &Refresher{
		txManager: txManager,
		results:   results,
		locker:    locker,
		logger:    logger,
	}
}

// Refresh replaces every stored result of entityKey with newResults.
// newResults must be non-empty and belong to entityKey. On any failure the
// transaction is rolled back and the previous results stay current.
func (r *Refresher) Refresh(ctx context.Context, entityKey string, newResults []*models.AuditResult) error {
	if len(newResults) == 0 {
		return services.NewDomainError(services.ErrorTypeValidation, services.ErrEmptyResultSet.Message, nil).
			WithDetail("dashboard", entityKey)
	}
	for _, res := range newResults {
		if res == nil || res.DashboardTitle != entityKey {
			return services.WrapError(services.ErrorTypeValidation, "result does not belong to dashboard", services.ErrInvalidInput).
				WithDetail("dashboard", entityKey)
		}
	}

	release, err := r.locker.Acquire(ctx, entityKey)
	if err != nil {
		return services.WrapRefresh(PhaseLock, err)
	}
	defer release()

	var replaced int
	phase := PhaseBegin
	err = services.WithTransaction(ctx, r.txManager, func(ctx context.Context, tx repositories.Transaction) error {
		repo := r.results.WithTx(tx)

		phase = PhaseFind
		current, err := repo.FindCurrent(ctx, entityKey)
		if err != nil {
			return services.WrapRefresh(PhaseFind, err)
		}

		phase = PhaseDelete
		if err := repo.DeleteAll(ctx, current); err != nil {
			return services.WrapRefresh(PhaseDelete, err)
		}

		phase = PhaseInsert
		if err := repo.InsertAll(ctx, newResults); err != nil {
			return services.WrapRefresh(PhaseInsert, err)
		}

		replaced = len(current)
		phase = PhaseCommit
		return nil
	})
	if err != nil {
		if services.IsRefreshError(err) {
			return err
		}
		return services.WrapRefresh(phase, err)
	}

	r.logger.Debug("audit results refreshed",
		observability.Dashboard(entityKey),
		zap.Int("replaced", replaced),
		zap.Int("inserted", len(newResults)))
	return nil
}
