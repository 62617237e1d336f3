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

// CmdbRepository implements the repositories.CmdbRepository interface
type CmdbRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCmdbRepository creates a new CMDB repository
func NewCmdbRepository(db *DB, logger *zap.Logger) repositories.CmdbRepository {
	return &CmdbRepository{
		db:     db,
		logger: logger,
	}
}

// FindByConfigurationItem returns the metadata of a configuration item, or nil when unknown
func (r *CmdbRepository) FindByConfigurationItem(ctx context.Context, configurationItem string) (*models.ConfigMetadata, error) {
	if configurationItem == "" {
		return nil, nil
	}

	query := `
		SELECT configuration_item, common_name, app_service_owner, business_owner,
		       support_owner, owner_dept, line_of_business, environment
		FROM cmdb
		WHERE configuration_item = $1
	`

	executor := GetExecutor(ctx, r.db)
	meta := &models.ConfigMetadata{}
	err := executor.QueryRowContext(ctx, query, configurationItem).Scan(
		&meta.ConfigurationItem,
		&meta.CommonName,
		&meta.AppServiceOwner,
		&meta.BusinessOwner,
		&meta.SupportOwner,
		&meta.OwnerDept,
		&meta.LineOfBusiness,
		&meta.Environment,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cmdb item: %w", err)
	}

	return meta, nil
}
