package service

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"lifeboat/internal/config"
	"lifeboat/internal/database"
	"lifeboat/internal/integrations"
	"lifeboat/internal/metrics"
	"lifeboat/internal/progress"
	"lifeboat/internal/types"
	"lifeboat/logger"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultSafetyTimeout = 30 * time.Minute
	safetyRetentionDays  = 30
)

type (
	UpdateService interface {
		CreateSystemUpdate(ctx context.Context, tenantID *string, params types.CreateUpdateParams) (*types.SystemUpdate, error)
		GetSystemUpdate(ctx context.Context, id uuid.UUID) (*types.SystemUpdate, error)
		ListSystemUpdates(ctx context.Context, tenantID *string) ([]*types.SystemUpdate, error)
		UpdateSystemUpdate(ctx context.Context, id uuid.UUID, patch types.UpdatePatch) (*types.SystemUpdate, error)
		RollbackSystemUpdate(ctx context.Context, id uuid.UUID) (*types.SystemUpdate, error)
		// ProcessScheduledUpdates runs every due pending update, one after another.
		ProcessScheduledUpdates(ctx context.Context) (int, error)
		CurrentVersion(ctx context.Context) (string, error)
		GetProgress(id uuid.UUID) (types.Progress, bool)
		RecoverInterrupted(ctx context.Context) (int, error)
		Running() int
		Wait()
	}

	UpdateServiceParams struct {
		Config     config.Config
		Repository database.UpdateRepository
		Backups    BackupService
		Restores   RestoreService
		Downloader integrations.Downloader
		Notifier   integrations.Notifier
		Progress   *progress.Registry
		Limiter    *Limiter
		Metrics    *metrics.Metrics
		// PollInterval and SafetyTimeout bound the wait for the safety backup
		PollInterval  time.Duration
		SafetyTimeout time.Duration
	}

	updateService struct {
		cfg           config.Config
		repository    database.UpdateRepository
		backups       BackupService
		restores      RestoreService
		downloader    integrations.Downloader
		notifier      integrations.Notifier
		progress      *progress.Registry
		limiter       *Limiter
		metrics       *metrics.Metrics
		pollInterval  time.Duration
		safetyTimeout time.Duration
		tasks         tasks

		// admission serialises the duplicate check with the insert
		admission sync.Mutex
	}
)

func NewUpdateService(p UpdateServiceParams) UpdateService {
	limiter := p.Limiter
	if limiter == nil {
		limiter = NewLimiter(MaxConcurrentUpdates)
	}
	poll := p.PollInterval
	if poll <= 0 {
		poll = defaultAwaitPoll
	}
	timeout := p.SafetyTimeout
	if timeout <= 0 {
		timeout = defaultSafetyTimeout
	}
	return &updateService{
		cfg:           p.Config,
		repository:    p.Repository,
		backups:       p.Backups,
		restores:      p.Restores,
		downloader:    p.Downloader,
		notifier:      p.Notifier,
		progress:      p.Progress,
		limiter:       limiter,
		metrics:       p.Metrics,
		pollInterval:  poll,
		safetyTimeout: timeout,
	}
}

func (u *updateService) CreateSystemUpdate(ctx context.Context, tenantID *string, params types.CreateUpdateParams) (*types.SystemUpdate, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if err := checkVersion(params.Version); err != nil {
		return nil, err
	}

	u.admission.Lock()
	defer u.admission.Unlock()

	inFlight, err := u.repository.FindInFlight(ctx, tenantID, params.Version)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check in-flight updates")
	}
	if len(inFlight) > 0 {
		u.metrics.Rejected(string(types.OperationUpdate), "duplicate")
		return nil, errors.Wrapf(types.ErrDuplicate, "update to %s is already %s", params.Version, inFlight[0].Status)
	}

	current, err := u.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	createdAt := time.Now()
	up := &types.SystemUpdate{
		ID:              uuid.New(),
		TenantID:        tenantID,
		Name:            params.Name,
		Description:     params.Description,
		UpdateType:      params.UpdateType,
		Version:         params.Version,
		CurrentVersion:  current,
		PackageURL:      params.PackageURL,
		PackageSize:     params.PackageSize,
		PackageChecksum: strings.ToLower(params.PackageChecksum),
		ReleaseNotes:    params.ReleaseNotes,
		Requirements:    params.Requirements,
		Dependencies:    params.Dependencies,
		Conflicts:       params.Conflicts,
		AutoBackup:      params.AutoBackup,
		ScheduledAt:     params.ScheduledAt,
		IsRollbackable:  params.IsRollbackable,
		NotifyOnSuccess: params.NotifyOnSuccess,
		NotifyOnFailure: params.NotifyOnFailure,
		Recipients:      params.Recipients,
		Status:          types.UpdateStatusPending,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}

	immediate := up.IsDue(createdAt)
	if immediate && !u.limiter.TryAcquire() {
		u.metrics.Rejected(string(types.OperationUpdate), "capacity")
		return nil, errors.Wrapf(types.ErrCapacity, "at most %d update may run at once", u.limiter.Max())
	}
	if err := u.repository.Save(ctx, up); err != nil {
		if immediate {
			u.limiter.Release()
		}
		return nil, errors.Wrap(err, "failed to save system update")
	}

	logger.Info("system update accepted",
		zap.String("update_id", up.ID.String()),
		zap.String("version", up.Version),
		zap.String("current_version", up.CurrentVersion),
		zap.Bool("immediate", immediate))

	created := *up
	if immediate {
		u.progress.Start(up.ID, types.OperationUpdate, string(types.UpdateStatusPending))
		u.tasks.Go(func() { u.execute(up) })
	}
	return &created, nil
}

func (u *updateService) GetSystemUpdate(ctx context.Context, id uuid.UUID) (*types.SystemUpdate, error) {
	return u.repository.FindByID(ctx, id)
}

func (u *updateService) ListSystemUpdates(ctx context.Context, tenantID *string) ([]*types.SystemUpdate, error) {
	return u.repository.FindAll(ctx, tenantID)
}

// UpdateSystemUpdate edits an update that has not started yet.
func (u *updateService) UpdateSystemUpdate(ctx context.Context, id uuid.UUID, patch types.UpdatePatch) (*types.SystemUpdate, error) {
	if err := validateParams(patch); err != nil {
		return nil, err
	}
	up, err := u.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if up.Status != types.UpdateStatusPending || u.isLive(id) {
		return nil, errors.Wrapf(types.ErrInvalidState, "update %s is %s, only pending updates can be changed", id, up.Status)
	}

	if patch.Name != nil {
		up.Name = *patch.Name
	}
	if patch.Description != nil {
		up.Description = *patch.Description
	}
	if patch.ReleaseNotes != nil {
		up.ReleaseNotes = *patch.ReleaseNotes
	}
	if patch.ScheduledAt != nil {
		up.ScheduledAt = patch.ScheduledAt
	}
	if patch.AutoBackup != nil {
		up.AutoBackup = *patch.AutoBackup
	}
	if patch.IsRollbackable != nil {
		up.IsRollbackable = *patch.IsRollbackable
	}
	if patch.NotifyOnSuccess != nil {
		up.NotifyOnSuccess = *patch.NotifyOnSuccess
	}
	if patch.NotifyOnFailure != nil {
		up.NotifyOnFailure = *patch.NotifyOnFailure
	}
	if patch.Recipients != nil {
		up.Recipients = patch.Recipients
	}
	up.UpdatedAt = time.Now()

	if err := u.repository.Save(ctx, up); err != nil {
		return nil, errors.Wrap(err, "failed to save system update")
	}
	return up, nil
}

// RollbackSystemUpdate restores the safety backup of a completed or failed
// update on a background task.
func (u *updateService) RollbackSystemUpdate(ctx context.Context, id uuid.UUID) (*types.SystemUpdate, error) {
	up, err := u.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !up.Status.CanTransition(types.UpdateStatusRollingBack) {
		return nil, errors.Wrapf(types.ErrInvalidState, "update %s is %s and cannot be rolled back", id, up.Status)
	}
	if !up.IsRollbackable || up.BackupID == nil {
		return nil, errors.Wrapf(types.ErrInvalidState, "update %s has no safety backup to roll back to", id)
	}
	if !u.limiter.TryAcquire() {
		u.metrics.Rejected(string(types.OperationUpdate), "capacity")
		return nil, errors.Wrapf(types.ErrCapacity, "at most %d update may run at once", u.limiter.Max())
	}
	if err := u.transition(ctx, up, types.UpdateStatusRollingBack, nil); err != nil {
		u.limiter.Release()
		return nil, err
	}

	u.progress.Start(up.ID, types.OperationUpdate, string(types.UpdateStatusRollingBack))
	started := *up
	u.tasks.Go(func() {
		startedAt := time.Now()
		defer func() {
			u.limiter.Release()
			u.progress.Remove(up.ID, string(up.Status), up.ErrorMessage)
			u.metrics.ObserveOperation("rollback", string(up.Status), startedAt)
		}()
		if err := safely("rollback", func() error { return u.rollback(context.Background(), up) }); err != nil {
			logger.Error("rollback failed", zap.String("update_id", up.ID.String()), zap.Error(err))
		}
	})
	return &started, nil
}

// ProcessScheduledUpdates starts due pending updates in creation order and
// waits for each before moving to the next.
func (u *updateService) ProcessScheduledUpdates(ctx context.Context) (int, error) {
	due, err := u.repository.FindDuePending(ctx, time.Now())
	if err != nil {
		return 0, errors.Wrap(err, "failed to find due updates")
	}

	processed := 0
	for _, up := range due {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if u.isLive(up.ID) {
			continue
		}
		if !u.limiter.TryAcquire() {
			logger.Warn("scheduled update sweep stopped, an update is already running",
				zap.Int("remaining", len(due)-processed))
			break
		}
		u.progress.Start(up.ID, types.OperationUpdate, string(types.UpdateStatusPending))
		u.execute(up)
		processed++
	}
	return processed, nil
}

// CurrentVersion is the version of the newest completed update, or the
// configured version when nothing was applied yet.
func (u *updateService) CurrentVersion(ctx context.Context) (string, error) {
	latest, err := u.repository.LatestCompleted(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to read current version")
	}
	if latest == nil {
		return u.cfg.AppVersion, nil
	}
	return latest.Version, nil
}

func (u *updateService) GetProgress(id uuid.UUID) (types.Progress, bool) {
	return u.progress.Get(id)
}

// RecoverInterrupted fails updates a previous process left mid-flight.
// Pending updates stay pending and are picked up by the scheduled sweep.
func (u *updateService) RecoverInterrupted(ctx context.Context) (int, error) {
	stale, err := u.repository.FindByStatus(ctx,
		types.UpdateStatusDownloading, types.UpdateStatusApplying, types.UpdateStatusRollingBack)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, up := range stale {
		if u.isLive(up.ID) {
			continue
		}
		up.ErrorMessage = "interrupted by process restart"
		if err := u.transition(ctx, up, types.UpdateStatusFailed, map[string]interface{}{
			"error_message": up.ErrorMessage,
			"completed_at":  now(),
		}); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

func (u *updateService) Running() int {
	return u.limiter.InFlight()
}

func (u *updateService) Wait() {
	u.tasks.Wait()
}

func (u *updateService) isLive(id uuid.UUID) bool {
	_, ok := u.progress.Get(id)
	return ok
}

func (u *updateService) transition(ctx context.Context, up *types.SystemUpdate, next types.UpdateStatus, fields map[string]interface{}) error {
	if !up.Status.CanTransition(next) {
		return errors.Wrapf(types.ErrInvalidState, "update %s cannot move from %s to %s", up.ID, up.Status, next)
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["status"] = next
	fields["updated_at"] = time.Now()
	if err := u.repository.UpdateFields(ctx, up.ID, fields); err != nil {
		return errors.Wrap(err, "failed to update system update status")
	}
	up.Status = next
	if !next.IsTerminal() {
		u.progress.SetStatus(up.ID, string(next))
	}
	return nil
}

// execute runs the phases of one update. The caller holds a limiter slot
// and has started the progress entry; both are released here.
func (u *updateService) execute(up *types.SystemUpdate) {
	ctx := context.Background()
	startedAt := time.Now()
	workDir := filepath.Join(u.cfg.UpdateStagingDir, up.ID.String())

	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn("failed to remove update staging directory", zap.String("path", workDir), zap.Error(err))
		}
		u.limiter.Release()
		u.progress.Remove(up.ID, string(up.Status), up.ErrorMessage)
		u.metrics.ObserveOperation(string(types.OperationUpdate), string(up.Status), startedAt)
	}()

	if err := u.repository.UpdateFields(ctx, up.ID, map[string]interface{}{"started_at": &startedAt}); err != nil {
		logger.Warn("failed to stamp update start", zap.String("update_id", up.ID.String()), zap.Error(err))
	}

	safetyTaken := false
	err := safely("update", func() error {
		if up.AutoBackup {
			if err := u.safetyBackup(ctx, up); err != nil {
				return errors.Wrap(err, "safety backup failed")
			}
			safetyTaken = true
		}
		return u.apply(ctx, up, workDir)
	})

	if err == nil {
		if terr := u.transition(ctx, up, types.UpdateStatusCompleted, map[string]interface{}{
			"completed_at": now(),
		}); terr != nil {
			logger.Error("failed to record update completion", zap.String("update_id", up.ID.String()), zap.Error(terr))
			return
		}
		logger.Info("system update completed",
			zap.String("update_id", up.ID.String()),
			zap.String("version", up.Version),
			zap.Duration("took", time.Since(startedAt)))
		u.notify(up, true, "")
		return
	}

	up.ErrorMessage = err.Error()
	logger.Error("system update failed",
		zap.String("update_id", up.ID.String()),
		zap.String("version", up.Version),
		zap.Error(err))
	if terr := u.transition(ctx, up, types.UpdateStatusFailed, map[string]interface{}{
		"error_message": up.ErrorMessage,
		"completed_at":  now(),
	}); terr != nil {
		logger.Error("failed to record update failure", zap.String("update_id", up.ID.String()), zap.Error(terr))
		return
	}

	if up.IsRollbackable && safetyTaken {
		if rerr := u.transition(ctx, up, types.UpdateStatusRollingBack, nil); rerr == nil {
			if rerr := safely("rollback", func() error { return u.rollback(ctx, up) }); rerr != nil {
				logger.Error("automatic rollback failed", zap.String("update_id", up.ID.String()), zap.Error(rerr))
			}
		}
	}
	u.notify(up, false, up.ErrorMessage)
}

// safetyBackup takes a full system backup and waits for it to finish.
func (u *updateService) safetyBackup(ctx context.Context, up *types.SystemUpdate) error {
	u.progress.Phase(up.ID, "safety backup", 5)
	bk, err := u.backups.CreateSystemBackup(ctx, up.TenantID, types.CreateSystemBackupParams{
		Name:            fmt.Sprintf("pre-update %s", up.Version),
		Description:     "Safety backup before applying " + up.Name,
		BackupType:      types.BackupTypeFull,
		CompressionType: types.CompressionGzip,
		IncludeDatabase: u.backups.CanDumpDatabase(),
		IncludeFiles:    true,
		IncludeConfig:   true,
		RetentionDays:   safetyRetentionDays,
		Tags:            []string{types.TagSafety, "update:" + up.ID.String()},
		IsAutomatic:     true,
	})
	if err != nil {
		return err
	}

	done, err := u.backups.Await(ctx, bk.ID, u.pollInterval, u.safetyTimeout)
	if err != nil {
		return err
	}
	if done.Status != types.BackupStatusCompleted {
		return errors.Errorf("backup %s failed: %s", done.ID, done.ErrorMessage)
	}

	id := done.ID
	if err := u.repository.UpdateFields(ctx, up.ID, map[string]interface{}{"backup_id": &id}); err != nil {
		return err
	}
	up.BackupID = &id
	u.progress.Phase(up.ID, "safety backup completed", 20)
	return nil
}

// rollback restores the safety backup of an update that is rolling_back.
// Files and configuration always come back; the database only when the
// package declared a migration. A failed rollback leaves the update failed.
func (u *updateService) rollback(ctx context.Context, up *types.SystemUpdate) error {
	u.progress.Phase(up.ID, "rolling back", 50)
	_, err := u.restores.RunRestore(ctx, up.TenantID, types.CreateRestoreParams{
		BackupID:        *up.BackupID,
		Scope:           types.RestoreScopeSelective,
		RestoreDatabase: up.DatabaseMigration,
		RestoreFiles:    true,
		RestoreConfig:   true,
		Reason:          fmt.Sprintf("rollback of update %s to %s", up.ID, up.Version),
	})
	if err != nil {
		message := up.ErrorMessage
		if message != "" {
			message += "; "
		}
		up.ErrorMessage = message + "rollback failed: " + err.Error()
		if terr := u.transition(ctx, up, types.UpdateStatusFailed, map[string]interface{}{
			"error_message": up.ErrorMessage,
		}); terr != nil {
			logger.Error("failed to record rollback failure", zap.String("update_id", up.ID.String()), zap.Error(terr))
		}
		return err
	}

	if err := u.transition(ctx, up, types.UpdateStatusRolledBack, map[string]interface{}{
		"rolled_back_at": now(),
	}); err != nil {
		return err
	}
	logger.Info("system update rolled back",
		zap.String("update_id", up.ID.String()),
		zap.String("backup_id", up.BackupID.String()))
	return nil
}

func (u *updateService) notify(up *types.SystemUpdate, success bool, message string) {
	if success && !up.NotifyOnSuccess || !success && !up.NotifyOnFailure {
		return
	}
	event, subject := "update.completed", "System update applied: "+up.Version
	if !success {
		event, subject = "update."+string(up.Status), "System update "+string(up.Status)+": "+up.Version
	}
	if message == "" {
		message = fmt.Sprintf("%s updated from %s to %s", up.Name, up.CurrentVersion, up.Version)
	}
	integrations.Dispatch(u.notifier, integrations.Notification{
		Event:      event,
		Subject:    subject,
		Message:    message,
		Recipients: up.Recipients,
		TenantID:   up.TenantID,
		ResourceID: up.ID.String(),
		Success:    success,
	})
}
