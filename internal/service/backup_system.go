package service

import (
	"context"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"lifeboat/internal/archive"
	"lifeboat/internal/backup"
	"lifeboat/internal/types"
	"lifeboat/logger"
	"os"
	"path/filepath"
	"time"
)

const (
	ComponentDatabase = "database"
	ComponentFiles    = "files"
	ComponentConfig   = "config"
	ComponentMedia    = "media"
	ComponentLogs     = "logs"

	manifestFile = "manifest.json"
	dumpFile     = "dump.sql"
)

type (
	// systemManifest is written at the archive root next to the component directories.
	systemManifest struct {
		BackupID    string                       `json:"backup_id"`
		Name        string                       `json:"name"`
		BackupType  types.BackupType             `json:"backup_type"`
		TenantID    *string                      `json:"tenant_id,omitempty"`
		AppVersion  string                       `json:"app_version"`
		CreatedAt   time.Time                    `json:"created_at"`
		Since       *time.Time                   `json:"since,omitempty"`
		Components  map[string]componentManifest `json:"components"`
		Compression types.CompressionType        `json:"compression"`
	}

	componentManifest struct {
		Source string `json:"source"`
		Files  int    `json:"files"`
		Bytes  int64  `json:"bytes"`
	}

	componentStep struct {
		name   string
		source string
		run    func(ctx context.Context, dst string) (archive.Stats, error)
	}
)

// systemCodec picks the archive codec. Archives are always compressed; zstd
// is honoured and everything else becomes gzip.
func systemCodec(requested types.CompressionType) types.CompressionType {
	if requested == types.CompressionZstd {
		return types.CompressionZstd
	}
	return types.CompressionGzip
}

func applyComponents(bk *types.Backup, params types.CreateSystemBackupParams) {
	switch params.BackupType {
	case types.BackupTypeFilesOnly:
		bk.IncludeFiles = true
	case types.BackupTypeConfigOnly:
		bk.IncludeConfig = true
	case types.BackupTypeMediaOnly:
		bk.IncludeMedia = true
	default:
		bk.IncludeDatabase = params.IncludeDatabase
		bk.IncludeFiles = params.IncludeFiles
		bk.IncludeConfig = params.IncludeConfig
		bk.IncludeMedia = params.IncludeMedia
		bk.IncludeLogs = params.IncludeLogs
	}
}

func (b *backupService) systemSteps(bk *types.Backup, since time.Time) []componentStep {
	dirStep := func(name, source string) componentStep {
		return componentStep{
			name:   name,
			source: source,
			run: func(ctx context.Context, dst string) (archive.Stats, error) {
				if source == "" {
					return archive.Stats{}, errors.Errorf("%s directory is not configured", name)
				}
				return archive.CopyDir(ctx, source, dst, since)
			},
		}
	}

	steps := make([]componentStep, 0, 5)
	if bk.IncludeDatabase {
		steps = append(steps, componentStep{
			name:   ComponentDatabase,
			source: b.dumper.Name(),
			run: func(ctx context.Context, dst string) (archive.Stats, error) {
				if err := os.MkdirAll(dst, 0o750); err != nil {
					return archive.Stats{}, err
				}
				out := filepath.Join(dst, dumpFile)
				if err := b.dumper.Dump(ctx, backup.DumpParams{
					Path:   out,
					Type:   types.BackupTypeFull,
					Schema: b.tenantSchema(bk.TenantID),
				}); err != nil {
					return archive.Stats{}, err
				}
				size, err := archive.FileSize(out)
				return archive.Stats{Files: 1, Bytes: size}, err
			},
		})
	}
	if bk.IncludeFiles {
		steps = append(steps, dirStep(ComponentFiles, b.cfg.AppDir))
	}
	if bk.IncludeConfig {
		steps = append(steps, dirStep(ComponentConfig, b.cfg.ConfigDir))
	}
	if bk.IncludeMedia {
		steps = append(steps, dirStep(ComponentMedia, b.cfg.MediaDir))
	}
	if bk.IncludeLogs {
		steps = append(steps, dirStep(ComponentLogs, b.cfg.LogDir))
	}
	return steps
}

// runSystemBackup materialises each component into the staging directory in
// turn and archives the directory as a single tarball.
func (b *backupService) runSystemBackup(ctx context.Context, bk *types.Backup) (*artifact, error) {
	staging := b.layout.StagingDir(bk.ID.String())
	if err := os.MkdirAll(staging, 0o750); err != nil {
		return nil, errors.Wrap(err, "failed to create staging directory")
	}
	defer b.removeStaging(staging)

	var since time.Time
	manifest := systemManifest{
		BackupID:    bk.ID.String(),
		Name:        bk.Name,
		BackupType:  bk.BackupType,
		TenantID:    bk.TenantID,
		AppVersion:  b.cfg.AppVersion,
		CreatedAt:   bk.CreatedAt,
		Components:  make(map[string]componentManifest),
		Compression: bk.CompressionType,
	}
	if bk.BackupType == types.BackupTypeIncremental {
		prev, err := b.repository.LatestCompleted(ctx, types.BackupKindSystem, bk.TenantID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to find base backup")
		}
		if prev != nil && prev.CompletedAt != nil {
			since = *prev.CompletedAt
			manifest.Since = &since
		}
	}

	steps := b.systemSteps(bk, since)
	for i, step := range steps {
		b.progress.Update(bk.ID, func(p *types.Progress) {
			p.Phase = "backing up " + step.name
			p.Progress = 10 + i*50/len(steps)
			p.TotalFiles = len(steps)
			p.FilesProcessed = i
		})

		st, err := step.run(ctx, filepath.Join(staging, step.name))
		if err != nil {
			return nil, errors.Wrap(err, "failed to back up "+step.name)
		}
		manifest.Components[step.name] = componentManifest{Source: step.source, Files: st.Files, Bytes: st.Bytes}
		logger.Debug("component staged",
			zap.String("backup_id", bk.ID.String()),
			zap.String("component", step.name),
			zap.Int("files", st.Files),
			zap.Int64("bytes", st.Bytes))
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode manifest")
	}
	if err := os.WriteFile(filepath.Join(staging, manifestFile), data, 0o640); err != nil {
		return nil, errors.Wrap(err, "failed to write manifest")
	}

	originalSize, err := archive.DirSize(staging)
	if err != nil {
		return nil, err
	}

	b.progress.Update(bk.ID, func(p *types.Progress) {
		p.Phase = "archiving"
		p.Progress = 65
		p.FilesProcessed = len(steps)
		p.TotalBytes = originalSize
	})
	if _, err := archive.TarDir(ctx, staging, bk.FilePath, bk.CompressionType, func(n int64) {
		b.progress.Update(bk.ID, func(p *types.Progress) { p.BytesProcessed = n })
	}); err != nil {
		return nil, errors.Wrap(err, "failed to archive staging directory")
	}

	return b.finalize(bk, originalSize)
}
