package storage

import (
	"context"
	"io"
	"mime"
	"path/filepath"
)

type (
	Type string

	// Storage is an offsite copy target for finished artifacts.
	Storage interface {
		Save(ctx context.Context, location string, f File) error
		Get(ctx context.Context, location string) (*File, error)
		Delete(ctx context.Context, location string) error
		Ping(ctx context.Context) error
		Type() Type
	}

	File struct {
		Content io.ReadCloser
		Name    string
		Size    int64
	}
)

const (
	TypeFS Type = "File"
	TypeS3 Type = "S3"
)

func (t Type) String() string {
	return string(t)
}

func (f File) ContentType() string {
	switch filepath.Ext(f.Name) {
	case ".gz":
		return "application/gzip"
	case ".zst":
		return "application/zstd"
	case ".sql":
		return "application/sql"
	}
	if ct := mime.TypeByExtension(filepath.Ext(f.Name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
