package database

import (
	"context"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"lifeboat/internal/types"
)

type scheduleRepository struct {
	db *gorm.DB
}

func NewScheduleRepository(db *gorm.DB) ScheduleRepository {
	return &scheduleRepository{db: db}
}

func (s scheduleRepository) Save(ctx context.Context, sc *types.BackupSchedule) error {
	return s.db.WithContext(ctx).Save(sc).Error
}

func (s scheduleRepository) FindByID(ctx context.Context, id uuid.UUID) (*types.BackupSchedule, error) {
	sc := &types.BackupSchedule{}
	err := s.db.WithContext(ctx).Where("id = ?", id).First(sc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(types.ErrNotFound, "schedule "+id.String())
	}
	return sc, err
}

func (s scheduleRepository) FindAll(ctx context.Context, tenantID *string) ([]*types.BackupSchedule, error) {
	result := make([]*types.BackupSchedule, 0)
	err := s.db.WithContext(ctx).
		Scopes(tenantScope(tenantID)).
		Order("created_at ASC").
		Find(&result).Error
	return result, err
}

func (s scheduleRepository) FindEnabled(ctx context.Context) ([]*types.BackupSchedule, error) {
	result := make([]*types.BackupSchedule, 0)
	err := s.db.WithContext(ctx).Where("is_enabled = ?", true).Find(&result).Error
	return result, err
}

func (s scheduleRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	return s.db.WithContext(ctx).
		Model(&types.BackupSchedule{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (s scheduleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&types.BackupSchedule{}).Error
}
