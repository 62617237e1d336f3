package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/upb/audit-collector/models"
	"github.com/upb/audit-collector/repositories"
)

type transactionContextKey struct{}

// ErrTxDone is returned when a finished transaction is used
var ErrTxDone = errors.New("transaction already completed")

// TransactionManager implements repositories.TransactionManager over a Store
type TransactionManager struct {
	store *Store
}

// Begin starts a transaction that buffers audit result writes
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx := &Transaction{
		store:   tm.store,
		inserts: make(map[uuid.UUID]*models.AuditResult),
		deletes: make(map[uuid.UUID]bool),
	}
	tx.ctx = context.WithValue(ctx, transactionContextKey{}, tx)
	return tx, nil
}

// InTransaction runs fn and commits when it succeeds
func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, err := tm.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx.Context(), tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Transaction buffers inserts and deletes until Commit
type Transaction struct {
	store      *Store
	ctx        context.Context
	mu         sync.Mutex
	inserts    map[uuid.UUID]*models.AuditResult
	order      []uuid.UUID
	deletes    map[uuid.UUID]bool
	committed  bool
	rolledBack bool
}

// Context returns the context carrying the transaction
func (tx *Transaction) Context() context.Context {
	return tx.ctx
}

// Commit applies the buffered writes atomically
func (tx *Transaction) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.committed {
		return nil
	}
	if tx.rolledBack {
		return errors.New("transaction was rolled back")
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	for id := range tx.inserts {
		if _, exists := tx.store.results[id]; exists && !tx.deletes[id] {
			return ErrConflict
		}
	}
	for id := range tx.deletes {
		delete(tx.store.results, id)
	}
	for id, res := range tx.inserts {
		tx.store.results[id] = res
	}

	tx.committed = true
	return nil
}

// Rollback discards the buffered writes. Safe to call more than once.
func (tx *Transaction) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.rolledBack || tx.committed {
		return nil
	}
	tx.rolledBack = true
	tx.inserts = make(map[uuid.UUID]*models.AuditResult)
	tx.order = nil
	tx.deletes = make(map[uuid.UUID]bool)
	return nil
}

func (tx *Transaction) insert(results []*models.AuditResult) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.committed || tx.rolledBack {
		return ErrTxDone
	}
	for _, res := range results {
		if _, exists := tx.inserts[res.ID]; exists {
			return ErrConflict
		}
	}
	for _, res := range results {
		tx.inserts[res.ID] = copyResult(res)
		tx.order = append(tx.order, res.ID)
	}
	return nil
}

func (tx *Transaction) delete(results []*models.AuditResult) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.committed || tx.rolledBack {
		return ErrTxDone
	}
	for _, res := range results {
		if _, pending := tx.inserts[res.ID]; pending {
			delete(tx.inserts, res.ID)
			continue
		}
		tx.deletes[res.ID] = true
	}
	return nil
}

func (tx *Transaction) deletedIDs() map[uuid.UUID]bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	out := make(map[uuid.UUID]bool, len(tx.deletes))
	for id := range tx.deletes {
		out[id] = true
	}
	return out
}

func (tx *Transaction) pendingFor(dashboardTitle string) []*models.AuditResult {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	var out []*models.AuditResult
	for _, id := range tx.order {
		res, ok := tx.inserts[id]
		if ok && res.DashboardTitle == dashboardTitle {
			out = append(out, copyResult(res))
		}
	}
	return out
}
