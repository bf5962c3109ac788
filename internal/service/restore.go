package service

import (
	"context"
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
	"sync"
	"time"
)

type (
	RestoreService interface {
		CreateRestoreOperation(ctx context.Context, tenantID *string, params types.CreateRestoreParams) (*types.RestoreOperation, error)
		// RunRestore restores synchronously on the calling goroutine.
		RunRestore(ctx context.Context, tenantID *string, params types.CreateRestoreParams) (*types.RestoreOperation, error)
		GetRestoreOperation(ctx context.Context, id uuid.UUID) (*types.RestoreOperation, error)
		ListRestoreOperations(ctx context.Context, tenantID *string) ([]*types.RestoreOperation, error)
		CancelRestoreOperation(ctx context.Context, id uuid.UUID) (*types.RestoreOperation, error)
		GetProgress(id uuid.UUID) (types.Progress, bool)
		RecoverInterrupted(ctx context.Context) (int, error)
		Running() int
		Wait()
	}

	RestoreServiceParams struct {
		Config           config.Config
		Repository       database.RestoreRepository
		BackupRepository database.BackupRepository
		Layout           *storage.Layout
		Dumper           backup.Dumper
		Progress         *progress.Registry
		Metrics          *metrics.Metrics
	}

	restoreService struct {
		cfg        config.Config
		repository database.RestoreRepository
		backups    database.BackupRepository
		layout     *storage.Layout
		dumper     backup.Dumper
		progress   *progress.Registry
		metrics    *metrics.Metrics
		tasks      tasks

		mu      sync.Mutex
		cancels map[uuid.UUID]context.CancelFunc
	}
)

func NewRestoreService(p RestoreServiceParams) RestoreService {
	return &restoreService{
		cfg:        p.Config,
		repository: p.Repository,
		backups:    p.BackupRepository,
		layout:     p.Layout,
		dumper:     p.Dumper,
		progress:   p.Progress,
		metrics:    p.Metrics,
		cancels:    make(map[uuid.UUID]context.CancelFunc),
	}
}

func (r *restoreService) CreateRestoreOperation(ctx context.Context, tenantID *string, params types.CreateRestoreParams) (*types.RestoreOperation, error) {
	op, bk, err := r.admit(ctx, tenantID, params)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancels[op.ID] = cancel
	r.mu.Unlock()

	created := *op
	r.tasks.Go(func() { r.execute(runCtx, op, bk) })
	return &created, nil
}

func (r *restoreService) RunRestore(ctx context.Context, tenantID *string, params types.CreateRestoreParams) (*types.RestoreOperation, error) {
	op, bk, err := r.admit(ctx, tenantID, params)
	if err != nil {
		return nil, err
	}
	r.execute(ctx, op, bk)
	if op.Status != types.RestoreStatusCompleted {
		return op, errors.Errorf("restore %s: %s", op.Status, op.ErrorMessage)
	}
	return op, nil
}

// admit checks the referenced backup and persists the pending operation.
func (r *restoreService) admit(ctx context.Context, tenantID *string, params types.CreateRestoreParams) (*types.RestoreOperation, *types.Backup, error) {
	if err := validateParams(params); err != nil {
		return nil, nil, err
	}
	bk, err := r.backups.FindByID(ctx, params.BackupID)
	if err != nil {
		return nil, nil, err
	}
	if bk.Status != types.BackupStatusCompleted {
		return nil, nil, errors.Wrapf(types.ErrInvalidState, "backup %s is %s, only completed backups can be restored", bk.ID, bk.Status)
	}
	if params.Scope == "" {
		params.Scope = types.RestoreScopeFull
	}

	op := &types.RestoreOperation{
		ID:              uuid.New(),
		TenantID:        tenantID,
		BackupID:        bk.ID,
		BackupKind:      bk.Kind,
		Scope:           params.Scope,
		RestoreDatabase: params.RestoreDatabase,
		RestoreFiles:    params.RestoreFiles,
		RestoreConfig:   params.RestoreConfig,
		RestoreMedia:    params.RestoreMedia,
		RestoreLogs:     params.RestoreLogs,
		TargetPath:      params.TargetPath,
		Reason:          params.Reason,
		Status:          types.RestoreStatusPending,
		CreatedAt:       time.Now(),
	}
	needsDumper := false
	if bk.Kind == types.BackupKindDatabase {
		op.RestoreDatabase = true
		needsDumper = true
	} else {
		components := op.Components(bk)
		if !components.Any() {
			return nil, nil, errors.Wrap(types.ErrValidation, "restore selects no component present in the backup")
		}
		needsDumper = components.Database
	}
	if needsDumper && r.dumper == nil {
		return nil, nil, errors.Wrap(types.ErrValidation, "no datastore is configured to restore into")
	}

	if err := r.repository.Save(ctx, op); err != nil {
		return nil, nil, errors.Wrap(err, "failed to save restore operation")
	}
	r.progress.Start(op.ID, types.OperationRestore, string(types.RestoreStatusPending))
	logger.Info("restore accepted",
		zap.String("restore_id", op.ID.String()),
		zap.String("backup_id", bk.ID.String()),
		zap.String("scope", string(op.Scope)))
	return op, bk, nil
}

func (r *restoreService) execute(ctx context.Context, op *types.RestoreOperation, bk *types.Backup) {
	startedAt := time.Now()
	staging := r.layout.StagingDir(op.ID.String())

	defer func() {
		r.mu.Lock()
		if cancel, ok := r.cancels[op.ID]; ok {
			cancel()
			delete(r.cancels, op.ID)
		}
		r.mu.Unlock()
		if err := os.RemoveAll(staging); err != nil {
			logger.Warn("failed to remove staging directory", zap.String("path", staging), zap.Error(err))
		}
		r.progress.Remove(op.ID, string(op.Status), op.ErrorMessage)
		r.metrics.ObserveOperation(string(types.OperationRestore), string(op.Status), startedAt)
	}()

	err := safely("restore", func() error {
		if err := r.update(ctx, op, types.RestoreStatusRunning, map[string]interface{}{"started_at": &startedAt}); err != nil {
			return err
		}

		r.progress.Phase(op.ID, "verifying checksum", 10)
		if err := archive.Verify(bk.FilePath, bk.Checksum); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.MkdirAll(staging, 0o750); err != nil {
			return err
		}

		if bk.Kind == types.BackupKindDatabase {
			return r.restoreDatabase(ctx, op, bk, staging)
		}
		return r.restoreSystem(ctx, op, bk, staging)
	})

	// the terminal write must land even when the run context was cancelled
	final := context.Background()
	switch {
	case err == nil:
		if uerr := r.update(final, op, types.RestoreStatusCompleted, map[string]interface{}{"completed_at": now()}); uerr != nil {
			logger.Error("failed to record restore completion", zap.String("restore_id", op.ID.String()), zap.Error(uerr))
		}
		logger.Info("restore completed", zap.String("restore_id", op.ID.String()), zap.Duration("took", time.Since(startedAt)))
	case errors.Is(err, context.Canceled):
		op.ErrorMessage = "cancelled"
		if uerr := r.update(final, op, types.RestoreStatusCancelled, map[string]interface{}{
			"completed_at":  now(),
			"error_message": op.ErrorMessage,
		}); uerr != nil {
			logger.Error("failed to record restore cancellation", zap.String("restore_id", op.ID.String()), zap.Error(uerr))
		}
		logger.Warn("restore cancelled", zap.String("restore_id", op.ID.String()))
	default:
		op.ErrorMessage = err.Error()
		if uerr := r.update(final, op, types.RestoreStatusFailed, map[string]interface{}{
			"completed_at":  now(),
			"error_message": op.ErrorMessage,
		}); uerr != nil {
			logger.Error("failed to record restore failure", zap.String("restore_id", op.ID.String()), zap.Error(uerr))
		}
		logger.Error("restore failed", zap.String("restore_id", op.ID.String()), zap.Error(err))
	}
}

func (r *restoreService) restoreDatabase(ctx context.Context, op *types.RestoreOperation, bk *types.Backup, staging string) error {
	if r.dumper == nil {
		return errors.New("no datastore is configured to restore into")
	}
	r.progress.Phase(op.ID, "decompressing", 30)
	raw := filepath.Join(staging, dumpFile)
	if err := archive.Decompress(bk.FilePath, raw, bk.CompressionType); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.progress.Phase(op.ID, "restoring database", 60)
	return r.dumper.Restore(ctx, raw)
}

func (r *restoreService) restoreSystem(ctx context.Context, op *types.RestoreOperation, bk *types.Backup, staging string) error {
	r.progress.Phase(op.ID, "extracting", 20)
	if _, err := archive.Extract(ctx, bk.FilePath, staging, bk.CompressionType); err != nil {
		return err
	}

	components := op.Components(bk)
	steps := make([]func() error, 0, 5)
	names := make([]string, 0, 5)
	if components.Database {
		names = append(names, ComponentDatabase)
		steps = append(steps, func() error {
			return r.dumper.Restore(ctx, filepath.Join(staging, ComponentDatabase, dumpFile))
		})
	}
	dirStep := func(name, live string) {
		names = append(names, name)
		steps = append(steps, func() error {
			target := r.target(op, name, live)
			if target == "" {
				return errors.Errorf("%s directory is not configured", name)
			}
			_, err := archive.CopyDir(ctx, filepath.Join(staging, name), target, time.Time{})
			return err
		})
	}
	if components.Files {
		dirStep(ComponentFiles, r.cfg.AppDir)
	}
	if components.Config {
		dirStep(ComponentConfig, r.cfg.ConfigDir)
	}
	if components.Media {
		dirStep(ComponentMedia, r.cfg.MediaDir)
	}
	if components.Logs {
		dirStep(ComponentLogs, r.cfg.LogDir)
	}

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.progress.Update(op.ID, func(p *types.Progress) {
			p.Phase = "restoring " + names[i]
			p.Progress = 30 + i*60/len(steps)
			p.TotalFiles = len(steps)
			p.FilesProcessed = i
		})
		if err := step(); err != nil {
			return errors.Wrap(err, "failed to restore "+names[i])
		}
	}
	return nil
}

// target is the directory a component is written to: the live location, or
// <TargetPath>/<component> when the operation overrides it.
func (r *restoreService) target(op *types.RestoreOperation, component, live string) string {
	if op.TargetPath != "" {
		return filepath.Join(op.TargetPath, component)
	}
	return live
}

func (r *restoreService) update(ctx context.Context, op *types.RestoreOperation, next types.RestoreStatus, fields map[string]interface{}) error {
	if op.Status.IsTerminal() {
		return errors.Wrapf(types.ErrInvalidState, "restore %s is already %s", op.ID, op.Status)
	}
	fields["status"] = next
	if err := r.repository.UpdateFields(ctx, op.ID, fields); err != nil {
		return err
	}
	op.Status = next
	if !next.IsTerminal() {
		r.progress.SetStatus(op.ID, string(next))
	}
	return nil
}

func (r *restoreService) GetRestoreOperation(ctx context.Context, id uuid.UUID) (*types.RestoreOperation, error) {
	return r.repository.FindByID(ctx, id)
}

func (r *restoreService) ListRestoreOperations(ctx context.Context, tenantID *string) ([]*types.RestoreOperation, error) {
	return r.repository.FindAll(ctx, tenantID)
}

// CancelRestoreOperation signals the running task. The task ends cancelled at
// its next phase boundary; an operation with no live task is cancelled here.
func (r *restoreService) CancelRestoreOperation(ctx context.Context, id uuid.UUID) (*types.RestoreOperation, error) {
	op, err := r.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if op.Status.IsTerminal() {
		return nil, errors.Wrapf(types.ErrInvalidState, "restore %s is already %s", id, op.Status)
	}

	r.mu.Lock()
	cancel, live := r.cancels[id]
	r.mu.Unlock()
	if live {
		cancel()
		return op, nil
	}

	op.ErrorMessage = "cancelled"
	if err := r.update(ctx, op, types.RestoreStatusCancelled, map[string]interface{}{
		"completed_at":  now(),
		"error_message": op.ErrorMessage,
	}); err != nil {
		return nil, err
	}
	return op, nil
}

func (r *restoreService) GetProgress(id uuid.UUID) (types.Progress, bool) {
	return r.progress.Get(id)
}

func (r *restoreService) RecoverInterrupted(ctx context.Context) (int, error) {
	stale, err := r.repository.FindByStatus(ctx, types.RestoreStatusPending, types.RestoreStatusRunning)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, op := range stale {
		if _, running := r.progress.Get(op.ID); running {
			continue
		}
		op.ErrorMessage = "interrupted by process restart"
		if err := r.update(ctx, op, types.RestoreStatusFailed, map[string]interface{}{
			"completed_at":  now(),
			"error_message": op.ErrorMessage,
		}); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

func (r *restoreService) Running() int {
	return r.progress.Count(types.OperationRestore)
}

func (r *restoreService) Wait() {
	r.tasks.Wait()
}
