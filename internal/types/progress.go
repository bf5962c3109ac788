package types

import (
	"github.com/google/uuid"
	"time"
)

type OperationKind string

const (
	OperationBackup  OperationKind = "backup"
	OperationRestore OperationKind = "restore"
	OperationUpdate  OperationKind = "update"
)

// Progress is the live view of a running operation. It is never persisted.
type Progress struct {
	OperationID    uuid.UUID     `json:"operation_id"`
	Kind           OperationKind `json:"kind"`
	Status         string        `json:"status"`
	Progress       int           `json:"progress"`
	Phase          string        `json:"phase"`
	BytesProcessed int64         `json:"bytes_processed"`
	TotalBytes     int64         `json:"total_bytes"`
	FilesProcessed int           `json:"files_processed"`
	TotalFiles     int           `json:"total_files"`
	StartedAt      time.Time     `json:"started_at"`
	ErrorMessage   string        `json:"error_message,omitempty"`
}
