package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upb/audit-collector/models"
	"github.com/upb/audit-collector/repositories"
	"go.uber.org/zap"
)

const dashboardColumns = `id, title, type, configuration_item, configuration_item_component, created_at, updated_at`

// DashboardRepository implements the repositories.DashboardRepository interface
type DashboardRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDashboardRepository creates a new dashboard repository
func NewDashboardRepository(db *DB, logger *zap.Logger) repositories.DashboardRepository {
	return &DashboardRepository{
		db:     db,
		logger: logger,
	}
}

// ListByType returns every dashboard of a classification ordered by title
func (r *DashboardRepository) ListByType(ctx context.Context, dashboardType models.DashboardType) ([]*models.Dashboard, error) {
	query := `SELECT ` + dashboardColumns + `
		FROM dashboards
		WHERE type = $1
		ORDER BY title ASC`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, dashboardType)
	if err != nil {
		return nil, fmt.Errorf("failed to list dashboards: %w", err)
	}
	defer rows.Close()

	var dashboards []*models.Dashboard
	for rows.Next() {
		d := &models.Dashboard{}
		if err := rows.Scan(
			&d.ID,
			&d.Title,
			&d.Type,
			&d.ConfigurationItem,
			&d.ConfigurationItemComponent,
			&d.CreatedAt,
			&d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dashboard: %w", err)
		}
		dashboards = append(dashboards, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dashboards: %w", err)
	}

	r.logger.Debug("dashboards listed", zap.String("type", string(dashboardType)), zap.Int("count", len(dashboards)))
	return dashboards, nil
}

// GetByTitle retrieves a dashboard by title, or nil when it does not exist
func (r *DashboardRepository) GetByTitle(ctx context.Context, title string) (*models.Dashboard, error) {
	query := `SELECT ` + dashboardColumns + `
		FROM dashboards
		WHERE title = $1`

	executor := GetExecutor(ctx, r.db)
	d := &models.Dashboard{}
	err := executor.QueryRowContext(ctx, query, title).Scan(
		&d.ID,
		&d.Title,
		&d.Type,
		&d.ConfigurationItem,
		&d.ConfigurationItemComponent,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get dashboard: %w", err)
	}

	return d, nil
}
