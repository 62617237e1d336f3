// Package cmdb resolves configuration-management metadata for dashboards.
// A missing record is not an error; a failing lookup is.
package cmdb

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/upb/audit-collector/internal/observability"
	"github.com/upb/audit-collector/models"
	"github.com/upb/audit-collector/repositories"
	"go.uber.org/zap"
)

// CachedRepository memoizes CMDB reads, including misses, for a TTL.
// Errors are never cached.
type CachedRepository struct {
	next  repositories.CmdbRepository
	cache *expirable.LRU[string, *models.ConfigMetadata]
}

// NewCachedRepository wraps next with an LRU of size entries; size 0 is unbounded
// and ttl 0 keeps entries until evicted by size.
func NewCachedRepository(next repositories.CmdbRepository, size int, ttl time.Duration) *CachedRepository {
	return &CachedRepository{
		next:  next,
		cache: expirable.NewLRU[string, *models.ConfigMetadata](size, nil, ttl),
	}
}

// FindByConfigurationItem implements repositories.CmdbRepository
func (r *CachedRepository) FindByConfigurationItem(ctx context.Context, configurationItem string) (*models.ConfigMetadata, error) {
	if meta, ok := r.cache.Get(configurationItem); ok {
		return copyMeta(meta), nil
	}

	meta, err := r.next.FindByConfigurationItem(ctx, configurationItem)
	if err != nil {
		return nil, err
	}
	r.cache.Add(configurationItem, copyMeta(meta))
	return meta, nil
}

func copyMeta(meta *models.ConfigMetadata) *models.ConfigMetadata {
	if meta == nil {
		return nil
	}
	cp := *meta
	return &cp
}

// Resolver looks up the metadata of a dashboard's business service
type Resolver struct {
	repo   repositories.CmdbRepository
	logger *zap.Logger
}

// NewResolver creates a resolver over repo
func NewResolver(repo repositories.CmdbRepository, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{repo: repo, logger: logger}
}

// Resolve returns the dashboard's metadata, or nil when the dashboard has no
// configuration item or the CMDB has no record for it. Lookup errors are returned.
func (r *Resolver) Resolve(ctx context.Context, dashboard *models.Dashboard) (*models.ConfigMetadata, error) {
	if r == nil || r.repo == nil || dashboard.ConfigurationItem == "" {
		return nil, nil
	}

	meta, err := r.repo.FindByConfigurationItem(ctx, dashboard.ConfigurationItem)
	if err != nil {
		return nil, fmt.Errorf("cmdb lookup for %s: %w", dashboard.ConfigurationItem, err)
	}
	if meta == nil {
		r.logger.Debug("no cmdb record, storing results without metadata",
			observability.Dashboard(dashboard.Title),
			zap.String("configuration_item", dashboard.ConfigurationItem))
	}
	return meta, nil
}
