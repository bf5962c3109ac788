package database

import (
	"context"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"lifeboat/internal/types"
)

type restoreRepository struct {
	db *gorm.DB
}

func NewRestoreRepository(db *gorm.DB) RestoreRepository {
	return &restoreRepository{db: db}
}

func (r restoreRepository) Save(ctx context.Context, op *types.RestoreOperation) error {
	return r.db.WithContext(ctx).Save(op).Error
}

func (r restoreRepository) FindByID(ctx context.Context, id uuid.UUID) (*types.RestoreOperation, error) {
	op := &types.RestoreOperation{}
	err := r.db.WithContext(ctx).Where("id = ?", id).First(op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(types.ErrNotFound, "restore "+id.String())
	}
	return op, err
}

func (r restoreRepository) FindAll(ctx context.Context, tenantID *string) ([]*types.RestoreOperation, error) {
	result := make([]*types.RestoreOperation, 0)
	err := r.db.WithContext(ctx).
		Scopes(tenantScope(tenantID)).
		Order("created_at DESC").
		Find(&result).Error
	return result, err
}

func (r restoreRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&types.RestoreOperation{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r restoreRepository) FindByStatus(ctx context.Context, statuses ...types.RestoreStatus) ([]*types.RestoreOperation, error) {
	result := make([]*types.RestoreOperation, 0)
	err := r.db.WithContext(ctx).Where("status IN ?", statuses).Find(&result).Error
	return result, err
}
