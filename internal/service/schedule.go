package service

import (
	"context"
	"fmt"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"lifeboat/internal/backup"
	"lifeboat/internal/database"
	"lifeboat/internal/integrations"
	"lifeboat/internal/types"
	"lifeboat/logger"
	"sync"
	"time"
)

const (
	// a schedule is stale when its next run is this far in the past
	scheduleOverdue = 30 * time.Minute
	// and it has not fired for this long
	scheduleIdle = time.Hour

	defaultAwaitPoll = 5 * time.Second
)

type (
	ScheduleService interface {
		CreateSchedule(ctx context.Context, tenantID *string, params types.ScheduleParams) (*types.BackupSchedule, error)
		UpdateSchedule(ctx context.Context, id uuid.UUID, params types.ScheduleParams) (*types.BackupSchedule, error)
		DeleteSchedule(ctx context.Context, id uuid.UUID) error
		ToggleSchedule(ctx context.Context, id uuid.UUID, enabled bool) (*types.BackupSchedule, error)
		ListSchedules(ctx context.Context, tenantID *string) ([]*types.BackupSchedule, error)
		GetSchedule(ctx context.Context, id uuid.UUID) (*types.BackupSchedule, error)
		// RunSchedule fires a schedule now, outside its cron cadence.
		RunSchedule(ctx context.Context, id uuid.UUID) (*types.Backup, error)
		IsRegistered(id uuid.UUID) bool
		RegisteredCount() int
		CheckHealth(ctx context.Context) (int, error)
		Start(ctx context.Context, jobs ...MaintenanceJob) error
		Stop() error
	}

	// MaintenanceJob is a recurring task owned by the same scheduler as the
	// backup schedules. Exactly one of Cron or Every is set.
	MaintenanceJob struct {
		Name  string
		Cron  string
		Every time.Duration
		Run   func(ctx context.Context) error
	}

	ScheduleServiceParams struct {
		Repository database.ScheduleRepository
		Backups    BackupService
		Notifier   integrations.Notifier
		// PollInterval is how often a fired schedule checks its backup
		PollInterval time.Duration
	}

	scheduleService struct {
		repository   database.ScheduleRepository
		backups      BackupService
		notifier     integrations.Notifier
		scheduler    gocron.Scheduler
		pollInterval time.Duration
		tasks        tasks

		mu         sync.Mutex
		ctx        context.Context
		registered map[uuid.UUID]struct{}
	}
)

func NewScheduleService(p ScheduleServiceParams) (ScheduleService, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLimitConcurrentJobs(10, gocron.LimitModeWait))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create scheduler")
	}
	poll := p.PollInterval
	if poll <= 0 {
		poll = defaultAwaitPoll
	}
	return &scheduleService{
		repository:   p.Repository,
		backups:      p.Backups,
		notifier:     p.Notifier,
		scheduler:    scheduler,
		pollInterval: poll,
		ctx:          context.Background(),
		registered:   make(map[uuid.UUID]struct{}),
	}, nil
}

// Start registers every enabled schedule, adds the maintenance jobs and
// starts the scheduler. A schedule that fails to register is logged and
// skipped.
func (s *scheduleService) Start(ctx context.Context, jobs ...MaintenanceJob) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	enabled, err := s.repository.FindEnabled(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load schedules")
	}
	for _, sc := range enabled {
		if err := s.register(sc); err != nil {
			logger.Error("failed to register schedule",
				zap.String("schedule_id", sc.ID.String()),
				zap.String("expression", sc.CronExpression),
				zap.Error(err))
		}
	}

	jobs = append(jobs, MaintenanceJob{
		Name:  "schedule-health",
		Every: 10 * time.Minute,
		Run: func(ctx context.Context) error {
			_, err := s.CheckHealth(ctx)
			return err
		},
	})
	for _, job := range jobs {
		if err := s.addMaintenance(ctx, job); err != nil {
			return err
		}
	}

	s.scheduler.Start()
	logger.Info("scheduler started",
		zap.Int("schedules", s.RegisteredCount()),
		zap.Int("maintenance_jobs", len(jobs)))
	return nil
}

func (s *scheduleService) addMaintenance(ctx context.Context, job MaintenanceJob) error {
	var definition gocron.JobDefinition
	switch {
	case job.Cron != "":
		definition = gocron.CronJob(job.Cron, false)
	case job.Every > 0:
		definition = gocron.DurationJob(job.Every)
	default:
		return errors.Errorf("maintenance job %s has no cadence", job.Name)
	}

	run := job.Run
	_, err := s.scheduler.NewJob(
		definition,
		gocron.NewTask(func() {
			if err := safely(job.Name, func() error { return run(ctx) }); err != nil {
				logger.Error("maintenance job failed", zap.String("job", job.Name), zap.Error(err))
			}
		}),
		gocron.WithName(job.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule))
	return errors.Wrapf(err, "failed to add maintenance job %s", job.Name)
}

func (s *scheduleService) Stop() error {
	err := s.scheduler.Shutdown()
	s.tasks.Wait()
	return err
}

func (s *scheduleService) register(sc *types.BackupSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registered[sc.ID]; ok {
		if err := s.scheduler.RemoveJob(sc.ID); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
			return err
		}
		delete(s.registered, sc.ID)
	}

	id := sc.ID
	job, err := s.scheduler.NewJob(
		gocron.CronJob(backup.CronSpec(sc.CronExpression, sc.Timezone), false),
		gocron.NewTask(func(ctx context.Context) { s.fire(ctx, id) }, s.ctx),
		gocron.WithIdentifier(id),
		gocron.WithName(sc.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule))
	if err != nil {
		return err
	}
	s.registered[id] = struct{}{}

	logger.Info("backup schedule registered",
		zap.String("schedule_id", id.String()),
		zap.String("name", job.Name()),
		zap.String("expression", sc.CronExpression),
		zap.String("timezone", sc.Timezone))
	return nil
}

func (s *scheduleService) unregister(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registered[id]; !ok {
		return
	}
	if err := s.scheduler.RemoveJob(id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
		logger.Warn("failed to remove schedule job", zap.String("schedule_id", id.String()), zap.Error(err))
	}
	delete(s.registered, id)
}

func (s *scheduleService) IsRegistered(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.registered[id]
	return ok
}

func (s *scheduleService) RegisteredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registered)
}

func (s *scheduleService) CreateSchedule(ctx context.Context, tenantID *string, params types.ScheduleParams) (*types.BackupSchedule, error) {
	if err := validateSchedule(params); err != nil {
		return nil, err
	}

	sc := &types.BackupSchedule{
		ID:        uuid.New(),
		TenantID:  tenantID,
		CreatedAt: time.Now(),
	}
	applySchedule(sc, params)
	sc.UpdatedAt = sc.CreatedAt
	sc.NextRunAt = nextRun(sc, time.Now())

	if err := s.repository.Save(ctx, sc); err != nil {
		return nil, errors.Wrap(err, "failed to save schedule")
	}
	if sc.IsEnabled {
		if err := s.register(sc); err != nil {
			return nil, errors.Wrap(err, "failed to register schedule")
		}
	}
	return sc, nil
}

func (s *scheduleService) UpdateSchedule(ctx context.Context, id uuid.UUID, params types.ScheduleParams) (*types.BackupSchedule, error) {
	if err := validateSchedule(params); err != nil {
		return nil, err
	}
	sc, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	applySchedule(sc, params)
	sc.UpdatedAt = time.Now()
	sc.NextRunAt = nextRun(sc, sc.UpdatedAt)
	if err := s.repository.Save(ctx, sc); err != nil {
		return nil, errors.Wrap(err, "failed to save schedule")
	}

	if sc.IsEnabled {
		if err := s.register(sc); err != nil {
			return nil, errors.Wrap(err, "failed to register schedule")
		}
	} else {
		s.unregister(sc.ID)
	}
	return sc, nil
}

func (s *scheduleService) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repository.FindByID(ctx, id); err != nil {
		return err
	}
	s.unregister(id)
	return s.repository.Delete(ctx, id)
}

// ToggleSchedule enables or disables a schedule. Enabling clears the
// failure counter so a schedule disabled by repeated failures gets a
// fresh start. A disabled schedule has no next run.
func (s *scheduleService) ToggleSchedule(ctx context.Context, id uuid.UUID, enabled bool) (*types.BackupSchedule, error) {
	sc, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sc.IsEnabled = enabled
	sc.NextRunAt = nextRun(sc, now)
	fields := map[string]interface{}{
		"is_enabled":  enabled,
		"updated_at":  now,
		"next_run_at": sc.NextRunAt,
	}
	if enabled {
		fields["consecutive_failures"] = 0
		sc.ConsecutiveFailures = 0
	}
	if err := s.repository.UpdateFields(ctx, id, fields); err != nil {
		return nil, err
	}
	sc.UpdatedAt = now

	if enabled {
		if err := s.register(sc); err != nil {
			return nil, errors.Wrap(err, "failed to register schedule")
		}
	} else {
		s.unregister(id)
	}
	return sc, nil
}

func (s *scheduleService) ListSchedules(ctx context.Context, tenantID *string) ([]*types.BackupSchedule, error) {
	return s.repository.FindAll(ctx, tenantID)
}

func (s *scheduleService) GetSchedule(ctx context.Context, id uuid.UUID) (*types.BackupSchedule, error) {
	return s.repository.FindByID(ctx, id)
}

func (s *scheduleService) RunSchedule(ctx context.Context, id uuid.UUID) (*types.Backup, error) {
	sc, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	bk, err := s.launch(ctx, sc)
	if err != nil {
		s.settle(context.Background(), sc, nil, err)
		return nil, err
	}
	s.tasks.Go(func() { s.await(context.Background(), sc, bk.ID) })
	return bk, nil
}

// fire is the cron entry point of a schedule.
func (s *scheduleService) fire(ctx context.Context, id uuid.UUID) {
	err := safely("schedule", func() error {
		sc, err := s.repository.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if !sc.IsEnabled {
			s.unregister(id)
			return nil
		}
		bk, err := s.launch(ctx, sc)
		if err != nil {
			s.settle(ctx, sc, nil, err)
			return nil
		}
		s.await(ctx, sc, bk.ID)
		return nil
	})
	if err != nil {
		logger.Error("scheduled backup run failed", zap.String("schedule_id", id.String()), zap.Error(err))
	}
}

// launch stamps the run times and creates the backup a schedule describes.
func (s *scheduleService) launch(ctx context.Context, sc *types.BackupSchedule) (*types.Backup, error) {
	firedAt := time.Now()
	sc.NextRunAt = nextRun(sc, firedAt)
	fields := map[string]interface{}{"last_run_at": &firedAt, "next_run_at": sc.NextRunAt}
	if err := s.repository.UpdateFields(ctx, sc.ID, fields); err != nil {
		logger.Warn("failed to stamp schedule run", zap.String("schedule_id", sc.ID.String()), zap.Error(err))
	}
	sc.LastRunAt = &firedAt

	name := fmt.Sprintf("%s %s", sc.Name, firedAt.UTC().Format("2006-01-02 15:04:05"))
	tags := []string{types.TagScheduled, string(sc.Kind), types.ScheduleTag(sc.ID)}
	scheduleID := sc.ID

	logger.Info("scheduled backup starting",
		zap.String("schedule_id", sc.ID.String()),
		zap.String("kind", string(sc.Kind)))

	if sc.Kind == types.BackupKindSystem {
		return s.backups.CreateSystemBackup(ctx, sc.TenantID, types.CreateSystemBackupParams{
			Name:            name,
			Description:     sc.Description,
			BackupType:      sc.BackupType,
			CompressionType: sc.CompressionType,
			RetentionDays:   sc.RetentionDays,
			Tags:            tags,
			IsAutomatic:     true,
			ScheduleID:      &scheduleID,
			MaxSizeBytes:    sc.MaxSizeBytes,
		})
	}
	return s.backups.CreateDatabaseBackup(ctx, sc.TenantID, types.CreateDatabaseBackupParams{
		Name:            name,
		Description:     sc.Description,
		BackupType:      sc.BackupType,
		CompressionType: sc.CompressionType,
		RetentionDays:   sc.RetentionDays,
		Tags:            tags,
		IsAutomatic:     true,
		ScheduleID:      &scheduleID,
		MaxSizeBytes:    sc.MaxSizeBytes,
	})
}

func (s *scheduleService) await(ctx context.Context, sc *types.BackupSchedule, backupID uuid.UUID) {
	bk, err := s.backups.Await(ctx, backupID, s.pollInterval, sc.MaxDuration())
	if err == nil && bk.Status == types.BackupStatusFailed {
		err = errors.New(bk.ErrorMessage)
	}
	s.settle(ctx, sc, bk, err)
}

// settle records the outcome of one run on the schedule. A run cut short by
// shutdown is neither a success nor a failure.
func (s *scheduleService) settle(ctx context.Context, sc *types.BackupSchedule, bk *types.Backup, runErr error) {
	if errors.Is(runErr, context.Canceled) {
		logger.Warn("scheduled backup interrupted",
			zap.String("schedule_id", sc.ID.String()),
			zap.Error(runErr))
		return
	}
	if runErr == nil {
		if err := s.repository.UpdateFields(ctx, sc.ID, map[string]interface{}{
			"consecutive_failures": 0,
			"last_run_status":      string(types.BackupStatusCompleted),
		}); err != nil {
			logger.Error("failed to record schedule success", zap.String("schedule_id", sc.ID.String()), zap.Error(err))
		}
		sc.ConsecutiveFailures = 0
		s.trim(ctx, sc)

		logger.Info("scheduled backup completed",
			zap.String("schedule_id", sc.ID.String()),
			zap.String("backup_id", bk.ID.String()))
		if sc.NotifyOnSuccess {
			integrations.Dispatch(s.notifier, integrations.Notification{
				Event:      "backup.completed",
				Subject:    "Scheduled backup completed: " + sc.Name,
				Message:    fmt.Sprintf("Backup %s finished, %d bytes", bk.Name, bk.FileSize),
				Recipients: sc.Recipients,
				TenantID:   sc.TenantID,
				ResourceID: bk.ID.String(),
				Success:    true,
			})
		}
		return
	}

	failures := sc.ConsecutiveFailures + 1
	fields := map[string]interface{}{
		"consecutive_failures": failures,
		"last_run_status":      string(types.BackupStatusFailed),
	}
	if failures >= types.MaxConsecutiveFailures {
		fields["is_enabled"] = false
		fields["next_run_at"] = nil
		sc.IsEnabled = false
		sc.NextRunAt = nil
		s.unregister(sc.ID)
		logger.Error("schedule disabled after repeated failures",
			zap.String("schedule_id", sc.ID.String()),
			zap.Int("consecutive_failures", failures))
	}
	if err := s.repository.UpdateFields(ctx, sc.ID, fields); err != nil {
		logger.Error("failed to record schedule failure", zap.String("schedule_id", sc.ID.String()), zap.Error(err))
	}
	sc.ConsecutiveFailures = failures

	logger.Warn("scheduled backup failed",
		zap.String("schedule_id", sc.ID.String()),
		zap.Int("consecutive_failures", failures),
		zap.Error(runErr))
	if sc.NotifyOnFailure {
		integrations.Dispatch(s.notifier, integrations.Notification{
			Event:      "backup.failed",
			Subject:    "Scheduled backup failed: " + sc.Name,
			Message:    runErr.Error(),
			Recipients: sc.Recipients,
			TenantID:   sc.TenantID,
			ResourceID: sc.ID.String(),
		})
	}
}

// trim deletes the oldest automatic backups of a schedule beyond MaxBackups.
func (s *scheduleService) trim(ctx context.Context, sc *types.BackupSchedule) {
	if sc.MaxBackups <= 0 {
		return
	}
	automatic := true
	kept, err := s.backups.ListBackups(ctx, types.BackupFilter{
		ScheduleID:  &sc.ID,
		IsAutomatic: &automatic,
		Status:      types.BackupStatusCompleted,
	})
	if err != nil {
		logger.Warn("failed to list schedule backups", zap.String("schedule_id", sc.ID.String()), zap.Error(err))
		return
	}

	// newest first
	for _, bk := range lo.Drop(kept, sc.MaxBackups) {
		if err := s.backups.DeleteBackup(ctx, bk.ID); err != nil {
			logger.Warn("failed to trim schedule backup",
				zap.String("schedule_id", sc.ID.String()),
				zap.String("backup_id", bk.ID.String()),
				zap.Error(err))
		}
	}
}

// CheckHealth re-registers enabled schedules that are missing from the
// scheduler or look stuck: next run long overdue and no recent run.
func (s *scheduleService) CheckHealth(ctx context.Context) (int, error) {
	enabled, err := s.repository.FindEnabled(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now()
	repaired := 0
	for _, sc := range enabled {
		stale := sc.NextRunAt != nil && sc.NextRunAt.Before(cutoff.Add(-scheduleOverdue)) &&
			(sc.LastRunAt == nil || sc.LastRunAt.Before(cutoff.Add(-scheduleIdle)))
		if !stale && s.IsRegistered(sc.ID) {
			continue
		}
		if err := s.register(sc); err != nil {
			logger.Error("failed to re-register schedule", zap.String("schedule_id", sc.ID.String()), zap.Error(err))
			continue
		}
		if next := nextRun(sc, cutoff); next != nil {
			if err := s.repository.UpdateFields(ctx, sc.ID, map[string]interface{}{"next_run_at": next}); err != nil {
				logger.Error("failed to store next run of repaired schedule",
					zap.String("schedule_id", sc.ID.String()),
					zap.Error(err))
			}
		}
		repaired++
	}
	if repaired > 0 {
		logger.Warn("schedule health check repaired schedules", zap.Int("repaired", repaired))
	}
	return repaired, nil
}

func validateSchedule(params types.ScheduleParams) error {
	if err := validateParams(params); err != nil {
		return err
	}
	if err := validateBackupType(params.Kind, params.BackupType); err != nil {
		return err
	}
	if _, err := backup.ParseCron(params.CronExpression, params.Timezone); err != nil {
		return errors.Wrap(types.ErrValidation, err.Error())
	}
	return nil
}

// nextRun is the next cron time after the given instant, nil for a disabled schedule.
func nextRun(sc *types.BackupSchedule, after time.Time) *time.Time {
	if !sc.IsEnabled {
		return nil
	}
	next, err := backup.NextRun(sc.CronExpression, sc.Timezone, after)
	if err != nil {
		return nil
	}
	return &next
}

func applySchedule(sc *types.BackupSchedule, params types.ScheduleParams) {
	sc.Name = params.Name
	sc.Description = params.Description
	sc.Kind = params.Kind
	sc.BackupType = params.BackupType
	if sc.BackupType == "" {
		sc.BackupType = types.BackupTypeFull
	}
	sc.CronExpression = params.CronExpression
	sc.Timezone = params.Timezone
	sc.IsEnabled = params.IsEnabled
	sc.RetentionDays = params.RetentionDays
	sc.MaxBackups = params.MaxBackups
	sc.CompressionType = params.CompressionType
	sc.NotifyOnSuccess = params.NotifyOnSuccess
	sc.NotifyOnFailure = params.NotifyOnFailure
	sc.Recipients = params.Recipients
	sc.MaxDurationMinutes = params.MaxDurationMinutes
	if sc.MaxDurationMinutes <= 0 {
		sc.MaxDurationMinutes = types.DefaultMaxDurationMinutes
	}
	sc.MaxSizeBytes = params.MaxSizeBytes
}
