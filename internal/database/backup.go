package database

import (
	"context"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"lifeboat/internal/types"
	"time"
)

type backupRepository struct {
	db *gorm.DB
}

func NewBackupRepository(db *gorm.DB) BackupRepository {
	return &backupRepository{db: db}
}

func (b backupRepository) Save(ctx context.Context, bc *types.Backup) error {
	return b.db.WithContext(ctx).Save(bc).Error
}

func (b backupRepository) FindByID(ctx context.Context, id uuid.UUID) (*types.Backup, error) {
	bk := &types.Backup{}
	err := b.db.WithContext(ctx).Where("id = ?", id).First(bk).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(types.ErrNotFound, "backup "+id.String())
	}
	return bk, err
}

func (b backupRepository) Find(ctx context.Context, filter types.BackupFilter) ([]*types.Backup, error) {
	result := make([]*types.Backup, 0)
	query := b.db.WithContext(ctx).Scopes(tenantScope(filter.TenantID))
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.ScheduleID != nil {
		query = query.Where("schedule_id = ?", *filter.ScheduleID)
	}
	if filter.IsAutomatic != nil {
		query = query.Where("is_automatic = ?", *filter.IsAutomatic)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	err := query.Order("created_at DESC").Find(&result).Error
	return result, err
}

func (b backupRepository) FindByStatus(ctx context.Context, statuses ...types.BackupStatus) ([]*types.Backup, error) {
	result := make([]*types.Backup, 0)
	err := b.db.WithContext(ctx).Where("status IN ?", statuses).Find(&result).Error
	return result, err
}

func (b backupRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	return b.db.WithContext(ctx).
		Model(&types.Backup{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (b backupRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return b.db.WithContext(ctx).Where("id = ?", id).Delete(&types.Backup{}).Error
}

func (b backupRepository) FindExpired(ctx context.Context, now time.Time) ([]*types.Backup, error) {
	result := make([]*types.Backup, 0)
	err := b.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Where("status = ?", types.BackupStatusCompleted).
		Find(&result).Error
	return result, err
}

func (b backupRepository) LatestCompleted(ctx context.Context, kind types.BackupKind, tenantID *string) (*types.Backup, error) {
	bk := &types.Backup{}
	err := b.db.WithContext(ctx).
		Scopes(exactTenant(tenantID)).
		Where("kind = ? AND status = ?", kind, types.BackupStatusCompleted).
		Order("completed_at DESC").
		First(bk).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return bk, err
}

func (b backupRepository) Stats(ctx context.Context, tenantID *string) (*BackupStats, error) {
	stats := &BackupStats{}
	base := func() *gorm.DB {
		return b.db.WithContext(ctx).Model(&types.Backup{}).Scopes(tenantScope(tenantID))
	}
	if err := base().Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := base().Where("status = ?", types.BackupStatusCompleted).Count(&stats.Completed).Error; err != nil {
		return nil, err
	}
	if err := base().Where("status = ?", types.BackupStatusFailed).Count(&stats.Failed).Error; err != nil {
		return nil, err
	}
	var size struct{ Total int64 }
	if err := base().
		Select("COALESCE(SUM(file_size), 0) AS total").
		Where("status = ?", types.BackupStatusCompleted).
		Scan(&size).Error; err != nil {
		return nil, err
	}
	stats.TotalSize = size.Total
	return stats, nil
}
