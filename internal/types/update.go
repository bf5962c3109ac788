package types

import (
	"github.com/google/uuid"
	"time"
)

type (
	UpdateType   string
	UpdateStatus string
)

const (
	UpdateTypePatch    UpdateType = "patch"
	UpdateTypeMinor    UpdateType = "minor"
	UpdateTypeMajor    UpdateType = "major"
	UpdateTypeSecurity UpdateType = "security"
	UpdateTypeHotfix   UpdateType = "hotfix"

	UpdateStatusPending     UpdateStatus = "pending"
	UpdateStatusDownloading UpdateStatus = "downloading"
	UpdateStatusApplying    UpdateStatus = "applying"
	UpdateStatusCompleted   UpdateStatus = "completed"
	UpdateStatusFailed      UpdateStatus = "failed"
	UpdateStatusRollingBack UpdateStatus = "rolling_back"
	UpdateStatusRolledBack  UpdateStatus = "rolled_back"
)

// InFlight reports statuses that block another update of the same version.
func (s UpdateStatus) InFlight() bool {
	return s == UpdateStatusPending || s == UpdateStatusDownloading || s == UpdateStatusApplying
}

func (s UpdateStatus) IsTerminal() bool {
	return s == UpdateStatusCompleted || s == UpdateStatusFailed || s == UpdateStatusRolledBack
}

var updateTransitions = map[UpdateStatus][]UpdateStatus{
	UpdateStatusPending:     {UpdateStatusDownloading, UpdateStatusFailed},
	UpdateStatusDownloading: {UpdateStatusApplying, UpdateStatusFailed},
	UpdateStatusApplying:    {UpdateStatusCompleted, UpdateStatusFailed},
	UpdateStatusCompleted:   {UpdateStatusRollingBack},
	UpdateStatusFailed:      {UpdateStatusRollingBack},
	UpdateStatusRollingBack: {UpdateStatusRolledBack, UpdateStatusFailed},
}

func (s UpdateStatus) CanTransition(next UpdateStatus) bool {
	for _, allowed := range updateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type (
	UpdateRequirements struct {
		MinCurrentVersion string `json:"min_current_version,omitempty"`
		MinFreeDiskMB     int64  `json:"min_free_disk_mb,omitempty"`
		MinMemoryMB       int64  `json:"min_memory_mb,omitempty"`
	}

	SystemUpdate struct {
		ID              uuid.UUID          `json:"id" gorm:"primaryKey"`
		TenantID        *string            `json:"tenant_id" gorm:"index"`
		Name            string             `json:"name"`
		Description     string             `json:"description"`
		UpdateType      UpdateType         `json:"update_type"`
		Version         string             `json:"version" gorm:"index"`
		CurrentVersion  string             `json:"current_version"`
		PackageURL      string             `json:"package_url"`
		PackageSize     int64              `json:"package_size"`
		PackageChecksum string             `json:"package_checksum"`
		ReleaseNotes    string             `json:"release_notes"`
		Requirements    UpdateRequirements `json:"requirements" gorm:"serializer:json"`
		Dependencies    []string           `json:"dependencies" gorm:"serializer:json"`
		Conflicts       []string           `json:"conflicts" gorm:"serializer:json"`
		AutoBackup      bool               `json:"auto_backup"`
		ScheduledAt     *time.Time         `json:"scheduled_at"`
		IsRollbackable  bool               `json:"is_rollbackable"`
		// DatabaseMigration is read from the package manifest; rollback restores the database only when set
		DatabaseMigration bool         `json:"database_migration"`
		NotifyOnSuccess   bool         `json:"notify_on_success"`
		NotifyOnFailure   bool         `json:"notify_on_failure"`
		Recipients        []string     `json:"recipients" gorm:"serializer:json"`
		Status            UpdateStatus `json:"status" gorm:"index"`
		BackupID          *uuid.UUID   `json:"backup_id"`
		StartedAt         *time.Time   `json:"started_at"`
		CompletedAt       *time.Time   `json:"completed_at"`
		RolledBackAt      *time.Time   `json:"rolled_back_at"`
		ErrorMessage      string       `json:"error_message,omitempty"`
		CreatedAt         time.Time    `json:"created_at"`
		UpdatedAt         time.Time    `json:"updated_at"`
	}
)

// IsDue reports whether a pending update should start now.
func (u *SystemUpdate) IsDue(now time.Time) bool {
	return u.ScheduledAt == nil || !u.ScheduledAt.After(now)
}
