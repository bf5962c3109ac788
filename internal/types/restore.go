package types

import (
	"github.com/google/uuid"
	"time"
)

type (
	RestoreScope  string
	RestoreStatus string
)

const (
	RestoreScopeFull      RestoreScope = "full"
	RestoreScopePartial   RestoreScope = "partial"
	RestoreScopeSelective RestoreScope = "selective"

	RestoreStatusPending   RestoreStatus = "pending"
	RestoreStatusRunning   RestoreStatus = "running"
	RestoreStatusCompleted RestoreStatus = "completed"
	RestoreStatusFailed    RestoreStatus = "failed"
	RestoreStatusCancelled RestoreStatus = "cancelled"
)

func (s RestoreStatus) IsTerminal() bool {
	return s == RestoreStatusCompleted || s == RestoreStatusFailed || s == RestoreStatusCancelled
}

type RestoreOperation struct {
	ID              uuid.UUID     `json:"id" gorm:"primaryKey"`
	TenantID        *string       `json:"tenant_id" gorm:"index"`
	BackupID        uuid.UUID     `json:"backup_id" gorm:"index"`
	BackupKind      BackupKind    `json:"backup_kind"`
	Scope           RestoreScope  `json:"scope"`
	RestoreDatabase bool          `json:"restore_database"`
	RestoreFiles    bool          `json:"restore_files"`
	RestoreConfig   bool          `json:"restore_config"`
	RestoreMedia    bool          `json:"restore_media"`
	RestoreLogs     bool          `json:"restore_logs"`
	TargetPath      string        `json:"target_path,omitempty"`
	Reason          string        `json:"reason"`
	Status          RestoreStatus `json:"status" gorm:"index"`
	CreatedAt       time.Time     `json:"created_at"`
	StartedAt       *time.Time    `json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at"`
	ErrorMessage    string        `json:"error_message,omitempty"`
}

// Components resolves which system components this operation writes, given
// what the backup actually contains. Full scope takes everything present.
func (r *RestoreOperation) Components(b *Backup) Components {
	if r.Scope == RestoreScopeFull {
		return b.IncludedComponents()
	}
	return Components{
		Database: r.RestoreDatabase && b.IncludeDatabase,
		Files:    r.RestoreFiles && b.IncludeFiles,
		Config:   r.RestoreConfig && b.IncludeConfig,
		Media:    r.RestoreMedia && b.IncludeMedia,
		Logs:     r.RestoreLogs && b.IncludeLogs,
	}
}

// Components is the set of system backup parts an operation touches.
type Components struct {
	Database bool `json:"database"`
	Files    bool `json:"files"`
	Config   bool `json:"config"`
	Media    bool `json:"media"`
	Logs     bool `json:"logs"`
}

func (c Components) Any() bool {
	return c.Database || c.Files || c.Config || c.Media || c.Logs
}
