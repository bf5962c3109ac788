package types

import (
	"github.com/google/uuid"
	"time"
)

const (
	// MaxConsecutiveFailures disables a schedule once reached
	MaxConsecutiveFailures = 5

	DefaultMaxDurationMinutes = 30
)

type BackupSchedule struct {
	ID                  uuid.UUID       `json:"id" gorm:"primaryKey"`
	TenantID            *string         `json:"tenant_id" gorm:"index"`
	Name                string          `json:"name"`
	Description         string          `json:"description"`
	Kind                BackupKind      `json:"kind"`
	BackupType          BackupType      `json:"backup_type"`
	CronExpression      string          `json:"cron_expression"`
	Timezone            string          `json:"timezone"`
	IsEnabled           bool            `json:"is_enabled" gorm:"index"`
	RetentionDays       int             `json:"retention_days"`
	MaxBackups          int             `json:"max_backups"`
	CompressionType     CompressionType `json:"compression_type"`
	NotifyOnSuccess     bool            `json:"notify_on_success"`
	NotifyOnFailure     bool            `json:"notify_on_failure"`
	Recipients          []string        `json:"recipients" gorm:"serializer:json"`
	MaxDurationMinutes  int             `json:"max_duration_minutes"`
	MaxSizeBytes        int64           `json:"max_size_bytes"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	LastRunAt           *time.Time      `json:"last_run_at"`
	NextRunAt           *time.Time      `json:"next_run_at"`
	LastRunStatus       string          `json:"last_run_status"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func (s *BackupSchedule) MaxDuration() time.Duration {
	if s.MaxDurationMinutes <= 0 {
		return DefaultMaxDurationMinutes * time.Minute
	}
	return time.Duration(s.MaxDurationMinutes) * time.Minute
}

// ScheduleTag marks the automatic backups produced by one schedule.
func ScheduleTag(id uuid.UUID) string {
	return "schedule:" + id.String()
}
