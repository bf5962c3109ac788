package database

import (
	"context"
	"github.com/google/uuid"
	"lifeboat/internal/types"
	"time"
)

type BackupRepository interface {
	Save(ctx context.Context, b *types.Backup) error
	FindByID(ctx context.Context, id uuid.UUID) (*types.Backup, error)
	Find(ctx context.Context, filter types.BackupFilter) ([]*types.Backup, error)
	FindByStatus(ctx context.Context, statuses ...types.BackupStatus) ([]*types.Backup, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindExpired(ctx context.Context, now time.Time) ([]*types.Backup, error)
	LatestCompleted(ctx context.Context, kind types.BackupKind, tenantID *string) (*types.Backup, error)
	Stats(ctx context.Context, tenantID *string) (*BackupStats, error)
}

type RestoreRepository interface {
	Save(ctx context.Context, r *types.RestoreOperation) error
	FindByID(ctx context.Context, id uuid.UUID) (*types.RestoreOperation, error)
	FindAll(ctx context.Context, tenantID *string) ([]*types.RestoreOperation, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error
	FindByStatus(ctx context.Context, statuses ...types.RestoreStatus) ([]*types.RestoreOperation, error)
}

type ScheduleRepository interface {
	Save(ctx context.Context, s *types.BackupSchedule) error
	FindByID(ctx context.Context, id uuid.UUID) (*types.BackupSchedule, error)
	FindAll(ctx context.Context, tenantID *string) ([]*types.BackupSchedule, error)
	FindEnabled(ctx context.Context) ([]*types.BackupSchedule, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type UpdateRepository interface {
	Save(ctx context.Context, u *types.SystemUpdate) error
	FindByID(ctx context.Context, id uuid.UUID) (*types.SystemUpdate, error)
	FindAll(ctx context.Context, tenantID *string) ([]*types.SystemUpdate, error)
	FindInFlight(ctx context.Context, tenantID *string, version string) ([]*types.SystemUpdate, error)
	FindDuePending(ctx context.Context, now time.Time) ([]*types.SystemUpdate, error)
	FindByStatus(ctx context.Context, statuses ...types.UpdateStatus) ([]*types.SystemUpdate, error)
	LatestCompleted(ctx context.Context) (*types.SystemUpdate, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error
}

type BackupStats struct {
	Total     int64
	Completed int64
	Failed    int64
	TotalSize int64
}
