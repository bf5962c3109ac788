package database

import (
	"context"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"lifeboat/internal/types"
	"time"
)

type updateRepository struct {
	db *gorm.DB
}

func NewUpdateRepository(db *gorm.DB) UpdateRepository {
	return &updateRepository{db: db}
}

func (u updateRepository) Save(ctx context.Context, up *types.SystemUpdate) error {
	return u.db.WithContext(ctx).Save(up).Error
}

func (u updateRepository) FindByID(ctx context.Context, id uuid.UUID) (*types.SystemUpdate, error) {
	up := &types.SystemUpdate{}
	err := u.db.WithContext(ctx).Where("id = ?", id).First(up).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(types.ErrNotFound, "update "+id.String())
	}
	return up, err
}

func (u updateRepository) FindAll(ctx context.Context, tenantID *string) ([]*types.SystemUpdate, error) {
	result := make([]*types.SystemUpdate, 0)
	err := u.db.WithContext(ctx).
		Scopes(tenantScope(tenantID)).
		Order("created_at DESC").
		Find(&result).Error
	return result, err
}

func (u updateRepository) FindInFlight(ctx context.Context, tenantID *string, version string) ([]*types.SystemUpdate, error) {
	result := make([]*types.SystemUpdate, 0)
	err := u.db.WithContext(ctx).
		Scopes(exactTenant(tenantID)).
		Where("version = ?", version).
		Where("status IN ?", []types.UpdateStatus{
			types.UpdateStatusPending,
			types.UpdateStatusDownloading,
			types.UpdateStatusApplying,
		}).
		Find(&result).Error
	return result, err
}

func (u updateRepository) FindDuePending(ctx context.Context, now time.Time) ([]*types.SystemUpdate, error) {
	result := make([]*types.SystemUpdate, 0)
	err := u.db.WithContext(ctx).
		Where("status = ?", types.UpdateStatusPending).
		Where("scheduled_at IS NULL OR scheduled_at <= ?", now).
		Order("created_at ASC").
		Find(&result).Error
	return result, err
}

func (u updateRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	return u.db.WithContext(ctx).
		Model(&types.SystemUpdate{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (u updateRepository) FindByStatus(ctx context.Context, statuses ...types.UpdateStatus) ([]*types.SystemUpdate, error) {
	result := make([]*types.SystemUpdate, 0)
	err := u.db.WithContext(ctx).Where("status IN ?", statuses).Find(&result).Error
	return result, err
}

// LatestCompleted is the update currently in effect, nil when none was applied.
func (u updateRepository) LatestCompleted(ctx context.Context) (*types.SystemUpdate, error) {
	up := &types.SystemUpdate{}
	err := u.db.WithContext(ctx).
		Where("status = ?", types.UpdateStatusCompleted).
		Order("completed_at DESC").
		First(up).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return up, err
}
