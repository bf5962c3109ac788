package types

import (
	"github.com/google/uuid"
	"time"
)

type (
	// Principal is the caller identity handed over by the identity layer.
	// A nil TenantID is the instance wide scope.
	Principal struct {
		TenantID *string `json:"tenant_id"`
		Role     string  `json:"role"`
	}

	CreateDatabaseBackupParams struct {
		Name            string          `json:"name" validate:"required,max=255"`
		Description     string          `json:"description"`
		BackupType      BackupType      `json:"backup_type" validate:"omitempty,oneof=full incremental differential schema_only data_only"`
		CompressionType CompressionType `json:"compression_type" validate:"omitempty,oneof=none gzip zstd"`
		RetentionDays   int             `json:"retention_days" validate:"gte=0,lte=3650"`
		Tags            []string        `json:"tags"`
		IsAutomatic     bool            `json:"is_automatic"`
		ScheduleID      *uuid.UUID      `json:"schedule_id"`
		MaxSizeBytes    int64           `json:"max_size_bytes" validate:"gte=0"`
	}

	CreateSystemBackupParams struct {
		Name            string          `json:"name" validate:"required,max=255"`
		Description     string          `json:"description"`
		BackupType      BackupType      `json:"backup_type" validate:"omitempty,oneof=full incremental files_only config_only media_only"`
		CompressionType CompressionType `json:"compression_type" validate:"omitempty,oneof=none gzip zstd"`
		IncludeDatabase bool            `json:"include_database"`
		IncludeFiles    bool            `json:"include_files"`
		IncludeConfig   bool            `json:"include_config"`
		IncludeMedia    bool            `json:"include_media"`
		IncludeLogs     bool            `json:"include_logs"`
		RetentionDays   int             `json:"retention_days" validate:"gte=0,lte=3650"`
		Tags            []string        `json:"tags"`
		IsAutomatic     bool            `json:"is_automatic"`
		ScheduleID      *uuid.UUID      `json:"schedule_id"`
		MaxSizeBytes    int64           `json:"max_size_bytes" validate:"gte=0"`
	}

	CreateRestoreParams struct {
		BackupID        uuid.UUID    `json:"backup_id" validate:"required"`
		Scope           RestoreScope `json:"scope" validate:"omitempty,oneof=full partial selective"`
		RestoreDatabase bool         `json:"restore_database"`
		RestoreFiles    bool         `json:"restore_files"`
		RestoreConfig   bool         `json:"restore_config"`
		RestoreMedia    bool         `json:"restore_media"`
		RestoreLogs     bool         `json:"restore_logs"`
		TargetPath      string       `json:"target_path"`
		Reason          string       `json:"reason" validate:"max=1024"`
	}

	ScheduleParams struct {
		Name               string          `json:"name" validate:"required,max=255"`
		Description        string          `json:"description"`
		Kind               BackupKind      `json:"kind" validate:"required,oneof=database system"`
		BackupType         BackupType      `json:"backup_type"`
		CronExpression     string          `json:"cron_expression" validate:"required"`
		Timezone           string          `json:"timezone"`
		IsEnabled          bool            `json:"is_enabled"`
		RetentionDays      int             `json:"retention_days" validate:"gte=0,lte=3650"`
		MaxBackups         int             `json:"max_backups" validate:"gte=0"`
		CompressionType    CompressionType `json:"compression_type" validate:"omitempty,oneof=none gzip zstd"`
		NotifyOnSuccess    bool            `json:"notify_on_success"`
		NotifyOnFailure    bool            `json:"notify_on_failure"`
		Recipients         []string        `json:"recipients" validate:"dive,email"`
		MaxDurationMinutes int             `json:"max_duration_minutes" validate:"gte=0"`
		MaxSizeBytes       int64           `json:"max_size_bytes" validate:"gte=0"`
	}

	CreateUpdateParams struct {
		Name            string             `json:"name" validate:"required,max=255"`
		Description     string             `json:"description"`
		UpdateType      UpdateType         `json:"update_type" validate:"required,oneof=patch minor major security hotfix"`
		Version         string             `json:"version" validate:"required"`
		PackageURL      string             `json:"package_url" validate:"required"`
		PackageSize     int64              `json:"package_size" validate:"gte=0"`
		PackageChecksum string             `json:"package_checksum" validate:"omitempty,len=64,hexadecimal"`
		ReleaseNotes    string             `json:"release_notes"`
		Requirements    UpdateRequirements `json:"requirements"`
		Dependencies    []string           `json:"dependencies"`
		Conflicts       []string           `json:"conflicts"`
		AutoBackup      bool               `json:"auto_backup"`
		ScheduledAt     *time.Time         `json:"scheduled_at"`
		IsRollbackable  bool               `json:"is_rollbackable"`
		NotifyOnSuccess bool               `json:"notify_on_success"`
		NotifyOnFailure bool               `json:"notify_on_failure"`
		Recipients      []string           `json:"recipients" validate:"dive,email"`
	}

	// UpdatePatch changes a pending update. Nil fields are left alone.
	UpdatePatch struct {
		Name            *string    `json:"name"`
		Description     *string    `json:"description"`
		ReleaseNotes    *string    `json:"release_notes"`
		ScheduledAt     *time.Time `json:"scheduled_at"`
		AutoBackup      *bool      `json:"auto_backup"`
		IsRollbackable  *bool      `json:"is_rollbackable"`
		NotifyOnSuccess *bool      `json:"notify_on_success"`
		NotifyOnFailure *bool      `json:"notify_on_failure"`
		Recipients      []string   `json:"recipients" validate:"omitempty,dive,email"`
	}

	Dashboard struct {
		RunningBackups      int              `json:"running_backups"`
		RunningRestores     int              `json:"running_restores"`
		RunningUpdates      int              `json:"running_updates"`
		RegisteredSchedules int              `json:"registered_schedules"`
		TotalBackups        int64            `json:"total_backups"`
		CompletedBackups    int64            `json:"completed_backups"`
		FailedBackups       int64            `json:"failed_backups"`
		SuccessRate         float64          `json:"success_rate"`
		TotalSizeBytes      int64            `json:"total_size_bytes"`
		TotalSize           string           `json:"total_size"`
		LastBackup          *Backup          `json:"last_backup,omitempty"`
		FailingSchedules    []BackupSchedule `json:"failing_schedules"`
		DatastoreHealthy    bool             `json:"datastore_healthy"`
		DatastoreError      string           `json:"datastore_error,omitempty"`
	}
)

const RoleAdmin = "admin"

func (p Principal) IsInstanceAdmin() bool {
	return p.TenantID == nil && p.Role == RoleAdmin
}

// CanAccess reports whether the principal may see a record owned by tenantID.
func (p Principal) CanAccess(tenantID *string) bool {
	if p.IsInstanceAdmin() {
		return true
	}
	if p.TenantID == nil || tenantID == nil {
		return false
	}
	return *p.TenantID == *tenantID
}
