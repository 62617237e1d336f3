package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/audit-collector/models"
	"github.com/upb/audit-collector/repositories"
	"go.uber.org/zap"
)

// AuditResultRepository implements the repositories.AuditResultRepository interface
type AuditResultRepository struct {
	db     *DB
	tx     repositories.Transaction
	logger *zap.Logger
}

// NewAuditResultRepository creates a new audit result repository
func NewAuditResultRepository(db *DB, logger *zap.Logger) repositories.AuditResultRepository {
	return &AuditResultRepository{
		db:     db,
		logger: logger,
	}
}

// FindCurrent returns the stored results for a dashboard ordered by audit kind
func (r *AuditResultRepository) FindCurrent(ctx context.Context, dashboardTitle string) ([]*models.AuditResult, error) {
	query := `
		SELECT id, dashboard_id, dashboard_title, audit_type, audit_status, audit_statuses,
		       audit_details, url, configuration_item, app_service_owner, business_owner,
		       line_of_business, owner_dept, window_begin, window_end, timestamp, collector_run_id
		FROM audit_results
		WHERE dashboard_title = $1
	`

	rows, err := r.executor(ctx).QueryContext(ctx, query, dashboardTitle)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit results: %w", err)
	}
	defer rows.Close()

	var results []*models.AuditResult
	for rows.Next() {
		res := &models.AuditResult{}
		var details []byte
		if err := rows.Scan(
			&res.ID,
			&res.DashboardID,
			&res.DashboardTitle,
			&res.Kind,
			&res.Status,
			&res.Statuses,
			&details,
			&res.URL,
			&res.ConfigurationItem,
			&res.AppServiceOwner,
			&res.BusinessOwner,
			&res.LineOfBusiness,
			&res.OwnerDept,
			&res.WindowBegin,
			&res.WindowEnd,
			&res.Timestamp,
			&res.RunID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit result: %w", err)
		}
		if len(details) > 0 {
			res.Details = details
		}
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit results: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Kind.Ordinal() < results[j].Kind.Ordinal()
	})

	return results, nil
}

// DeleteAll removes exactly the given results
func (r *AuditResultRepository) DeleteAll(ctx context.Context, results []*models.AuditResult) error {
	if len(results) == 0 {
		return nil
	}

	ids := make([]string, len(results))
	for i, res := range results {
		ids[i] = res.ID.String()
	}

	query := `DELETE FROM audit_results WHERE id = ANY($1::uuid[])`

	result, err := r.executor(ctx).ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to delete audit results: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Debug("audit results deleted", zap.Int64("rows", rowsAffected))
	return nil
}

// InsertAll stores the given results
func (r *AuditResultRepository) InsertAll(ctx context.Context, results []*models.AuditResult) error {
	query := `
		INSERT INTO audit_results (
			id, dashboard_id, dashboard_title, audit_type, audit_status, audit_statuses,
			audit_details, url, configuration_item, app_service_owner, business_owner,
			line_of_business, owner_dept, window_begin, window_end, timestamp, collector_run_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
	`

	executor := r.executor(ctx)
	for _, res := range results {
		if res.ID == uuid.Nil {
			res.ID = uuid.New()
		}

		var details interface{}
		if len(res.Details) > 0 {
			details = []byte(res.Details)
		}

		if _, err := executor.ExecContext(ctx, query,
			res.ID,
			res.DashboardID,
			res.DashboardTitle,
			res.Kind,
			res.Status,
			res.Statuses,
			details,
			res.URL,
			res.ConfigurationItem,
			res.AppServiceOwner,
			res.BusinessOwner,
			res.LineOfBusiness,
			res.OwnerDept,
			res.WindowBegin,
			res.WindowEnd,
			res.Timestamp,
			res.RunID,
		); err != nil {
			return fmt.Errorf("failed to insert audit result %s: %w", res.Kind, err)
		}
	}

	r.logger.Debug("audit results inserted", zap.Int("count", len(results)))
	return nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *AuditResultRepository) WithTx(tx repositories.Transaction) repositories.AuditResultRepository {
	return &AuditResultRepository{
		db:     r.db,
		tx:     tx,
		logger: r.logger,
	}
}

func (r *AuditResultRepository) executor(ctx context.Context) Executor {
	return boundExecutor(ctx, r.db, r.tx)
}
