package mcprepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"chat-platform/services/chat-api/internal/domain/mcp"
	"chat-platform/services/chat-api/internal/infrastructure/database/entities"
	"chat-platform/services/chat-api/internal/utils/platformerrors"
)

type providerRepository struct {
	db *gorm.DB
}

// NewProviderRepository creates a GORM-backed mcp.Repository. The table
// is written by the provider management surface, not by this service;
// only the read paths used by discovery and invocation live here.
func NewProviderRepository(db *gorm.DB) mcp.Repository {
	return &providerRepository{db: db}
}

func (r *providerRepository) FindByID(ctx context.Context, id string) (*mcp.Provider, error) {
	var entity entities.ToolProvider
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository,
				platformerrors.ErrorTypeNotFound, "tool provider not found", err)
		}
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError, "failed to load tool provider", err)
	}
	return entity.EtoD(), nil
}

func (r *providerRepository) ListActiveByUser(ctx context.Context, userID string) ([]*mcp.Provider, error) {
	var rows []entities.ToolProvider
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError, "failed to list tool providers", err)
	}

	providers := make([]*mcp.Provider, 0, len(rows))
	for i := range rows {
		providers = append(providers, rows[i].EtoD())
	}
	return providers, nil
}
