package service

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"lifeboat/internal/archive"
	"lifeboat/internal/backup"
	"lifeboat/internal/config"
	"lifeboat/internal/database"
	"lifeboat/internal/metrics"
	"lifeboat/internal/progress"
	"lifeboat/internal/storage"
	"lifeboat/internal/types"
	"lifeboat/logger"
	"os"
	"path/filepath"
	"time"
)

type (
	BackupService interface {
		CreateDatabaseBackup(ctx context.Context, tenantID *string, params types.CreateDatabaseBackupParams) (*types.Backup, error)
		CreateSystemBackup(ctx context.Context, tenantID *string, params types.CreateSystemBackupParams) (*types.Backup, error)
		GetBackup(ctx context.Context, id uuid.UUID) (*types.Backup, error)
		ListBackups(ctx context.Context, filter types.BackupFilter) ([]*types.Backup, error)
		DeleteBackup(ctx context.Context, id uuid.UUID) error
		GetProgress(id uuid.UUID) (types.Progress, bool)
		Await(ctx context.Context, id uuid.UUID, pollInterval, timeout time.Duration) (*types.Backup, error)
		CleanupExpired(ctx context.Context) (int, error)
		RecoverInterrupted(ctx context.Context) (int, error)
		CanDumpDatabase() bool
		InFlight() int
		Wait()
	}

	BackupServiceParams struct {
		Config     config.Config
		Repository database.BackupRepository
		Layout     *storage.Layout
		// Dumper may be nil when no datastore is configured
		Dumper   backup.Dumper
		Offsite  storage.Storage
		Progress *progress.Registry
		Limiter  *Limiter
		Metrics  *metrics.Metrics
	}

	backupService struct {
		cfg        config.Config
		repository database.BackupRepository
		layout     *storage.Layout
		dumper     backup.Dumper
		offsite    storage.Storage
		progress   *progress.Registry
		limiter    *Limiter
		metrics    *metrics.Metrics
		tasks      tasks
	}
)

var ErrAwaitTimeout = errors.New("backup did not finish in time")

func NewBackupService(p BackupServiceParams) BackupService {
	limiter := p.Limiter
	if limiter == nil {
		limiter = NewLimiter(MaxConcurrentBackups)
	}
	return &backupService{
		cfg:        p.Config,
		repository: p.Repository,
		layout:     p.Layout,
		dumper:     p.Dumper,
		offsite:    p.Offsite,
		progress:   p.Progress,
		limiter:    limiter,
		metrics:    p.Metrics,
	}
}

func (b *backupService) CreateDatabaseBackup(ctx context.Context, tenantID *string, params types.CreateDatabaseBackupParams) (*types.Backup, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if b.dumper == nil {
		return nil, errors.Wrap(types.ErrValidation, "no datastore is configured for database backups")
	}
	if params.BackupType == "" {
		params.BackupType = types.BackupTypeFull
	}
	if params.CompressionType == "" {
		params.CompressionType = types.CompressionGzip
	}

	bk := &types.Backup{
		TenantID:        tenantID,
		Name:            params.Name,
		Description:     params.Description,
		Kind:            types.BackupKindDatabase,
		BackupType:      params.BackupType,
		CompressionType: params.CompressionType,
		IsAutomatic:     params.IsAutomatic,
		ScheduleID:      params.ScheduleID,
		RetentionDays:   params.RetentionDays,
		Tags:            params.Tags,
		MaxSizeBytes:    params.MaxSizeBytes,
	}
	ext := ".sql" + params.CompressionType.Extension()
	if err := b.admit(ctx, bk, ext); err != nil {
		return nil, err
	}

	created := *bk
	b.tasks.Go(func() { b.execute(bk, b.runDatabaseBackup) })
	return &created, nil
}

func (b *backupService) CreateSystemBackup(ctx context.Context, tenantID *string, params types.CreateSystemBackupParams) (*types.Backup, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if params.BackupType == "" {
		params.BackupType = types.BackupTypeFull
	}

	bk := &types.Backup{
		TenantID:        tenantID,
		Name:            params.Name,
		Description:     params.Description,
		Kind:            types.BackupKindSystem,
		BackupType:      params.BackupType,
		CompressionType: systemCodec(params.CompressionType),
		IsAutomatic:     params.IsAutomatic,
		ScheduleID:      params.ScheduleID,
		RetentionDays:   params.RetentionDays,
		Tags:            params.Tags,
		MaxSizeBytes:    params.MaxSizeBytes,
	}
	applyComponents(bk, params)
	if !bk.IncludedComponents().Any() {
		// nothing selected: database (when reachable), files and config
		bk.IncludeDatabase = b.dumper != nil
		bk.IncludeFiles = true
		bk.IncludeConfig = true
	}
	if bk.IncludeDatabase && b.dumper == nil {
		return nil, errors.Wrap(types.ErrValidation, "no datastore is configured to include in a system backup")
	}

	ext := ".tar" + bk.CompressionType.Extension()
	if err := b.admit(ctx, bk, ext); err != nil {
		return nil, err
	}

	created := *bk
	b.tasks.Go(func() { b.execute(bk, b.runSystemBackup) })
	return &created, nil
}

// admit takes a slot and persists the pending record. Nothing is written
// when the ceiling is reached.
func (b *backupService) admit(ctx context.Context, bk *types.Backup, ext string) error {
	if !b.limiter.TryAcquire() {
		b.metrics.Rejected(string(types.OperationBackup), "capacity")
		return errors.Wrapf(types.ErrCapacity, "at most %d backups may run at once", b.limiter.Max())
	}

	path, err := b.layout.NewArtifactPath(bk.Kind, bk.Name, bk.BackupType, ext)
	if err != nil {
		b.limiter.Release()
		return err
	}

	bk.ID = uuid.New()
	bk.Status = types.BackupStatusPending
	bk.FilePath = path
	bk.CreatedAt = time.Now()
	bk.ComputeExpiry()
	if err := b.repository.Save(ctx, bk); err != nil {
		b.limiter.Release()
		return errors.Wrap(err, "failed to save backup")
	}

	b.progress.Start(bk.ID, types.OperationBackup, string(types.BackupStatusPending))
	logger.Info("backup accepted",
		zap.String("backup_id", bk.ID.String()),
		zap.String("kind", string(bk.Kind)),
		zap.String("type", string(bk.BackupType)),
		zap.String("path", bk.FilePath))
	return nil
}

type runFunc func(ctx context.Context, bk *types.Backup) (*artifact, error)

type artifact struct {
	size             int64
	checksum         string
	originalSize     int64
	compressionRatio float64
}

// execute drives one backup to a terminal state. The slot and the progress
// entry are released whatever happens inside run.
func (b *backupService) execute(bk *types.Backup, run runFunc) {
	ctx := context.Background()
	startedAt := time.Now()
	status, errMessage := types.BackupStatusFailed, ""

	defer func() {
		b.limiter.Release()
		b.progress.Remove(bk.ID, string(status), errMessage)
		b.metrics.ObserveOperation(string(types.OperationBackup), string(status), startedAt)
	}()

	err := safely("backup", func() error {
		if err := b.transition(ctx, bk, types.BackupStatusRunning, map[string]interface{}{
			"started_at": &startedAt,
		}); err != nil {
			return err
		}
		b.progress.Phase(bk.ID, string(types.BackupStatusRunning), 5)

		art, err := run(ctx, bk)
		if err != nil {
			return err
		}
		if bk.MaxSizeBytes > 0 && art.size > bk.MaxSizeBytes {
			return errors.Errorf("artifact is %d bytes, limit is %d", art.size, bk.MaxSizeBytes)
		}

		objectKey := b.replicate(ctx, bk)
		fields := map[string]interface{}{
			"file_size":         art.size,
			"checksum":          art.checksum,
			"original_size":     art.originalSize,
			"compression_ratio": art.compressionRatio,
			"object_key":        objectKey,
			"completed_at":      now(),
		}
		if err := b.transition(ctx, bk, types.BackupStatusCompleted, fields); err != nil {
			return err
		}
		bk.FileSize, bk.Checksum, bk.ObjectKey = art.size, art.checksum, objectKey
		b.metrics.AddArtifactBytes(art.size)
		return nil
	})

	if err == nil {
		status = types.BackupStatusCompleted
		logger.Info("backup completed",
			zap.String("backup_id", bk.ID.String()),
			zap.Int64("size", bk.FileSize),
			zap.Duration("took", time.Since(startedAt)))
		return
	}

	errMessage = err.Error()
	logger.Error("backup failed",
		zap.String("backup_id", bk.ID.String()),
		zap.Error(err))
	b.discardArtifact(bk.FilePath)
	if terr := b.transition(ctx, bk, types.BackupStatusFailed, map[string]interface{}{
		"error_message": errMessage,
		"completed_at":  now(),
	}); terr != nil {
		logger.Error("failed to record backup failure",
			zap.String("backup_id", bk.ID.String()),
			zap.Error(terr))
	}
}

// transition moves the record forward and persists fields alongside the status.
func (b *backupService) transition(ctx context.Context, bk *types.Backup, next types.BackupStatus, fields map[string]interface{}) error {
	if !bk.Status.CanTransition(next) {
		return errors.Wrapf(types.ErrInvalidState, "backup %s cannot move from %s to %s", bk.ID, bk.Status, next)
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["status"] = next
	if err := b.repository.UpdateFields(ctx, bk.ID, fields); err != nil {
		return errors.Wrap(err, "failed to update backup status")
	}
	bk.Status = next
	if !next.IsTerminal() {
		b.progress.SetStatus(bk.ID, string(next))
	}
	return nil
}

func (b *backupService) runDatabaseBackup(ctx context.Context, bk *types.Backup) (*artifact, error) {
	staging := b.layout.StagingDir(bk.ID.String())
	if err := os.MkdirAll(staging, 0o750); err != nil {
		return nil, errors.Wrap(err, "failed to create staging directory")
	}
	defer b.removeStaging(staging)

	raw := filepath.Join(staging, "dump.sql")
	b.progress.Phase(bk.ID, "dumping database", 10)
	if err := b.dumper.Dump(ctx, backup.DumpParams{
		Path:   raw,
		Type:   bk.BackupType,
		Schema: b.tenantSchema(bk.TenantID),
	}); err != nil {
		return nil, err
	}

	rawSize, err := archive.FileSize(raw)
	if err != nil {
		return nil, errors.Wrap(err, "dump produced no file")
	}

	b.progress.Update(bk.ID, func(p *types.Progress) {
		p.Phase = "compressing"
		p.Progress = 60
		p.TotalBytes = rawSize
	})
	if _, err := archive.Compress(raw, bk.FilePath, bk.CompressionType, func(n int64) {
		b.progress.Update(bk.ID, func(p *types.Progress) { p.BytesProcessed = n })
	}); err != nil {
		return nil, err
	}

	return b.finalize(bk, rawSize)
}

func (b *backupService) finalize(bk *types.Backup, originalSize int64) (*artifact, error) {
	b.progress.Phase(bk.ID, "verifying", 90)
	size, err := archive.FileSize(bk.FilePath)
	if err != nil {
		return nil, err
	}
	sum, err := archive.Checksum(bk.FilePath)
	if err != nil {
		return nil, err
	}
	art := &artifact{size: size, checksum: sum, originalSize: originalSize}
	if originalSize > 0 {
		art.compressionRatio = float64(size) / float64(originalSize)
	}
	return art, nil
}

func (b *backupService) tenantSchema(tenantID *string) string {
	if tenantID == nil || b.cfg.TenantSchemaPattern == "" {
		return ""
	}
	return fmt.Sprintf(b.cfg.TenantSchemaPattern, *tenantID)
}

func (b *backupService) replicate(ctx context.Context, bk *types.Backup) string {
	if b.offsite == nil {
		return ""
	}
	b.progress.Phase(bk.ID, "replicating", 95)

	f, err := os.Open(bk.FilePath)
	if err != nil {
		logger.Warn("offsite replication skipped", zap.String("backup_id", bk.ID.String()), zap.Error(err))
		return ""
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return ""
	}

	key := b.layout.ObjectKey(bk.FilePath)
	if err := b.offsite.Save(ctx, key, storage.File{Content: f, Name: fi.Name(), Size: fi.Size()}); err != nil {
		logger.Warn("offsite replication failed",
			zap.String("backup_id", bk.ID.String()),
			zap.String("storage", b.offsite.Type().String()),
			zap.Error(err))
		return ""
	}
	return key
}

func (b *backupService) discardArtifact(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove partial artifact", zap.String("path", path), zap.Error(err))
	}
}

func (b *backupService) removeStaging(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("failed to remove staging directory", zap.String("path", dir), zap.Error(err))
	}
}

func (b *backupService) GetBackup(ctx context.Context, id uuid.UUID) (*types.Backup, error) {
	return b.repository.FindByID(ctx, id)
}

func (b *backupService) ListBackups(ctx context.Context, filter types.BackupFilter) ([]*types.Backup, error) {
	return b.repository.Find(ctx, filter)
}

func (b *backupService) GetProgress(id uuid.UUID) (types.Progress, bool) {
	return b.progress.Get(id)
}

func (b *backupService) DeleteBackup(ctx context.Context, id uuid.UUID) error {
	bk, err := b.repository.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !bk.Status.IsTerminal() {
		return errors.Wrapf(types.ErrInvalidState, "backup %s is %s", id, bk.Status)
	}
	return b.remove(ctx, bk)
}

func (b *backupService) remove(ctx context.Context, bk *types.Backup) error {
	if bk.FilePath != "" {
		if err := os.Remove(bk.FilePath); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to remove artifact")
		}
	}
	if bk.ObjectKey != "" && b.offsite != nil {
		if err := b.offsite.Delete(ctx, bk.ObjectKey); err != nil {
			logger.Warn("failed to remove offsite copy",
				zap.String("backup_id", bk.ID.String()),
				zap.String("object_key", bk.ObjectKey),
				zap.Error(err))
		}
	}
	return b.repository.Delete(ctx, bk.ID)
}

func (b *backupService) Await(ctx context.Context, id uuid.UUID, pollInterval, timeout time.Duration) (*types.Backup, error) {
	deadline := time.Now().Add(timeout)
	for {
		bk, err := b.repository.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if bk.Status.IsTerminal() {
			return bk, nil
		}
		if time.Now().After(deadline) {
			return bk, errors.Wrapf(ErrAwaitTimeout, "backup %s still %s after %s", id, bk.Status, timeout)
		}
		if err := sleep(ctx, pollInterval); err != nil {
			return bk, err
		}
	}
}

func (b *backupService) CleanupExpired(ctx context.Context) (int, error) {
	expired, err := b.repository.FindExpired(ctx, time.Now())
	if err != nil {
		return 0, errors.Wrap(err, "failed to find expired backups")
	}

	removed := 0
	for _, bk := range expired {
		if err := b.remove(ctx, bk); err != nil {
			logger.Error("failed to remove expired backup",
				zap.String("backup_id", bk.ID.String()),
				zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("retention sweep finished", zap.Int("removed", removed), zap.Int("expired", len(expired)))
	}
	return removed, nil
}

// RecoverInterrupted fails records a previous process left pending or running.
func (b *backupService) RecoverInterrupted(ctx context.Context) (int, error) {
	stale, err := b.repository.FindByStatus(ctx, types.BackupStatusPending, types.BackupStatusRunning)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, bk := range stale {
		if _, running := b.progress.Get(bk.ID); running {
			continue
		}
		b.discardArtifact(bk.FilePath)
		b.removeStaging(b.layout.StagingDir(bk.ID.String()))
		if err := b.transition(ctx, bk, types.BackupStatusFailed, map[string]interface{}{
			"error_message": "interrupted by process restart",
			"completed_at":  now(),
		}); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

func (b *backupService) CanDumpDatabase() bool {
	return b.dumper != nil
}

func (b *backupService) InFlight() int {
	return b.limiter.InFlight()
}

func (b *backupService) Wait() {
	b.tasks.Wait()
}
