package types

import (
	"github.com/google/uuid"
	"time"
)

type (
	BackupKind      string
	BackupType      string
	BackupStatus    string
	CompressionType string
)

const (
	BackupKindDatabase BackupKind = "database"
	BackupKindSystem   BackupKind = "system"

	// database backup types
	BackupTypeFull         BackupType = "full"
	BackupTypeIncremental  BackupType = "incremental"
	BackupTypeDifferential BackupType = "differential"
	BackupTypeSchemaOnly   BackupType = "schema_only"
	BackupTypeDataOnly     BackupType = "data_only"

	// system backup types, full and incremental are shared
	BackupTypeFilesOnly  BackupType = "files_only"
	BackupTypeConfigOnly BackupType = "config_only"
	BackupTypeMediaOnly  BackupType = "media_only"

	BackupStatusPending   BackupStatus = "pending"
	BackupStatusRunning   BackupStatus = "running"
	BackupStatusCompleted BackupStatus = "completed"
	BackupStatusFailed    BackupStatus = "failed"

	CompressionNone CompressionType = "none"
	CompressionGzip CompressionType = "gzip"
	CompressionZstd CompressionType = "zstd"

	TagScheduled = "scheduled"
	TagSafety    = "pre_update"
)

var backupTransitions = map[BackupStatus][]BackupStatus{
	BackupStatusPending: {BackupStatusRunning, BackupStatusFailed},
	BackupStatusRunning: {BackupStatusCompleted, BackupStatusFailed},
}

// CanTransition reports whether a record may move from s to next.
// Completed and failed records never move again.
func (s BackupStatus) CanTransition(next BackupStatus) bool {
	for _, allowed := range backupTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s BackupStatus) IsTerminal() bool {
	return s == BackupStatusCompleted || s == BackupStatusFailed
}

func (c CompressionType) Extension() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

type (
	Backup struct {
		ID              uuid.UUID       `json:"id" gorm:"primaryKey"`
		TenantID        *string         `json:"tenant_id" gorm:"index"`
		Name            string          `json:"name"`
		Description     string          `json:"description"`
		Kind            BackupKind      `json:"kind" gorm:"index"`
		BackupType      BackupType      `json:"backup_type"`
		Status          BackupStatus    `json:"status" gorm:"index"`
		FilePath        string          `json:"file_path"`
		FileSize        int64           `json:"file_size"`
		Checksum        string          `json:"checksum"`
		CompressionType CompressionType `json:"compression_type"`
		IsAutomatic     bool            `json:"is_automatic"`
		ScheduleID      *uuid.UUID      `json:"schedule_id" gorm:"index"`
		RetentionDays   int             `json:"retention_days"`
		ExpiresAt       *time.Time      `json:"expires_at" gorm:"index"`
		Tags            []string        `json:"tags" gorm:"serializer:json"`
		ObjectKey       string          `json:"object_key,omitempty"`
		MaxSizeBytes    int64           `json:"max_size_bytes,omitempty"`
		CreatedAt       time.Time       `json:"created_at"`
		StartedAt       *time.Time      `json:"started_at"`
		CompletedAt     *time.Time      `json:"completed_at"`
		ErrorMessage    string          `json:"error_message,omitempty"`

		// system backups only
		IncludeDatabase  bool    `json:"include_database"`
		IncludeFiles     bool    `json:"include_files"`
		IncludeConfig    bool    `json:"include_config"`
		IncludeMedia     bool    `json:"include_media"`
		IncludeLogs      bool    `json:"include_logs"`
		OriginalSize     int64   `json:"original_size"`
		CompressionRatio float64 `json:"compression_ratio"`
	}

	BackupFilter struct {
		TenantID    *string
		Kind        BackupKind
		Status      BackupStatus
		ScheduleID  *uuid.UUID
		IsAutomatic *bool
		Limit       int
	}
)

func (b *Backup) HasTag(tag string) bool {
	for _, t := range b.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ComputeExpiry sets ExpiresAt to CreatedAt + RetentionDays. Zero days keeps the backup forever.
func (b *Backup) ComputeExpiry() {
	if b.RetentionDays <= 0 {
		b.ExpiresAt = nil
		return
	}
	exp := b.CreatedAt.AddDate(0, 0, b.RetentionDays)
	b.ExpiresAt = &exp
}

func (b *Backup) IsExpired(now time.Time) bool {
	return b.ExpiresAt != nil && b.ExpiresAt.Before(now)
}

func (b *Backup) IncludedComponents() Components {
	return Components{
		Database: b.IncludeDatabase,
		Files:    b.IncludeFiles,
		Config:   b.IncludeConfig,
		Media:    b.IncludeMedia,
		Logs:     b.IncludeLogs,
	}
}
