package service

import (
	"context"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"lifeboat/internal/database"
	"lifeboat/internal/integrations"
	"lifeboat/internal/types"
	"lifeboat/logger"
	"testing"
	"time"
)

func newScheduleService(t *testing.T, h *harness, notifier *recordingNotifier) *scheduleService {
	t.Helper()
	var n integrations.Notifier
	if notifier != nil {
		n = notifier
	}
	svc, err := NewScheduleService(ScheduleServiceParams{
		Repository:   h.scheduleRepo,
		Backups:      h.backups,
		Notifier:     n,
		PollInterval: testPoll,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop() })
	return svc.(*scheduleService)
}

func nightly(kind types.BackupKind) types.ScheduleParams {
	return types.ScheduleParams{
		Name:           "nightly",
		Kind:           kind,
		CronExpression: "0 2 * * *",
		IsEnabled:      true,
	}
}

func TestCreateSchedule_RegistersTimer(t *testing.T) {
	h := newHarness(t, &fakeDumper{})
	svc := newScheduleService(t, h, nil)
	ctx := context.Background()

	sc, err := svc.CreateSchedule(ctx, nil, nightly(types.BackupKindDatabase))
	require.NoError(t, err)

	all, err := svc.ListSchedules(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].NextRunAt)
	assert.True(t, all[0].NextRunAt.After(time.Now()))
	assert.Equal(t, 2, all[0].NextRunAt.Hour())
	assert.Equal(t, types.DefaultMaxDurationMinutes, all[0].MaxDurationMinutes)

	assert.True(t, svc.IsRegistered(sc.ID))
	assert.Equal(t, 1, svc.RegisteredCount())
}

func TestCreateSchedule_Disabled(t *testing.T) {
	h := newHarness(t, &fakeDumper{})
	svc := newScheduleService(t, h, nil)

	params := nightly(types.BackupKindSystem)
	params.IsEnabled = false
	sc, err := svc.CreateSchedule(context.Background(), nil, params)
	require.NoError(t, err)
	assert.False(t, svc.IsRegistered(sc.ID))
	assert.Equal(t, 0, svc.RegisteredCount())
}

func TestCreateSchedule_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *types.ScheduleParams)
	}{
		{"malformed cron", func(p *types.ScheduleParams) { p.CronExpression = "every night" }},
		{"minute out of range", func(p *types.ScheduleParams) { p.CronExpression = "61 2 * * *" }},
		{"six fields", func(p *types.ScheduleParams) { p.CronExpression = "0 0 2 * * *" }},
		{"unknown timezone", func(p *types.ScheduleParams) { p.Timezone = "Mars/Olympus_Mons" }},
		{"missing name", func(p *types.ScheduleParams) { p.Name = "" }},
		{"unknown kind", func(p *types.ScheduleParams) { p.Kind = "cluster" }},
		{"bad recipient", func(p *types.ScheduleParams) { p.Recipients = []string{"not-an-email"} }},
		{"unknown backup type", func(p *types.ScheduleParams) { p.BackupType = "snapshot" }},
		{"system type on database kind", func(p *types.ScheduleParams) { p.BackupType = types.BackupTypeFilesOnly }},
		{"database type on system kind", func(p *types.ScheduleParams) {
			p.Kind = types.BackupKindSystem
			p.BackupType = types.BackupTypeSchemaOnly
		}},
	}
	h := newHarness(t, &fakeDumper{})
	svc := newScheduleService(t, h, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := nightly(types.BackupKindDatabase)
			tt.mutate(&params)
			_, err := svc.CreateSchedule(context.Background(), nil, params)
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}

	all, err := svc.ListSchedules(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 0, svc.RegisteredCount())
}

func TestCreateSchedule_BackupTypePerKind(t *testing.T) {
	tests := []struct {
		kind       types.BackupKind
		backupType types.BackupType
		want       types.BackupType
	}{
		{types.BackupKindDatabase, "", types.BackupTypeFull},
		{types.BackupKindDatabase, types.BackupTypeDifferential, types.BackupTypeDifferential},
		{types.BackupKindDatabase, types.BackupTypeDataOnly, types.BackupTypeDataOnly},
		{types.BackupKindSystem, "", types.BackupTypeFull},
		{types.BackupKindSystem, types.BackupTypeIncremental, types.BackupTypeIncremental},
		{types.BackupKindSystem, types.BackupTypeMediaOnly, types.BackupTypeMediaOnly},
	}
	h := newHarness(t, &fakeDumper{})
	svc := newScheduleService(t, h, nil)
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+string(tt.want), func(t *testing.T) {
			params := nightly(tt.kind)
			params.BackupType = tt.backupType
			sc, err := svc.CreateSchedule(context.Background(), nil, params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sc.BackupType)
		})
	}
}

func TestCreateSchedule_Timezone(t *testing.T) {
	h := newHarness(t, &fakeDumper{})
	svc := newScheduleService(t, h, nil)

	params := nightly(types.BackupKindDatabase)
	params.Timezone = "America/New_York"
	sc, err := svc.CreateSchedule(context.Background(), nil, params)
	require.NoError(t, err)
	require.NotNil(t, sc.NextRunAt)

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, 2, sc.NextRunAt.In(loc).Hour())
	assert.True(t, svc.IsRegistered(sc.ID))
}

func TestToggleSchedule(t *testing.T) {
	h := newHarness(t, &fakeDumper{})
	svc := newScheduleService(t, h, nil)
	ctx := context.Background()

	sc, err := svc.CreateSchedule(ctx, nil, nightly(types.BackupKindDatabase))
	require.NoError(t, err)

	off, err := svc.ToggleSchedule(ctx, sc.ID, false)
	require.NoError(t, err)
	assert.False(t, off.IsEnabled)
	assert.Nil(t, off.NextRunAt)
	assert.False(t, svc.IsRegistered(sc.ID))
	assert.Equal(t, 0, svc.RegisteredCount())

	stored, err := svc.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.NextRunAt)

	for i := 0; i < 2; i++ {
		on, err := svc.ToggleSchedule(ctx, sc.ID, true)
		require.NoError(t, err)
		assert.True(t, on.IsEnabled)
		require.NotNil(t, on.NextRunAt)
		assert.True(t, on.NextRunAt.After(time.Now()))
		assert.True(t, svc.IsRegistered(sc.ID))
		assert.Equal(t, 1, svc.RegisteredCount())
	}

	stored, err = svc.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsEnabled)
	require.NotNil(t, stored.NextRunAt)
	assert.Equal(t, 2, stored.NextRunAt.Hour())

	_, err = svc.ToggleSchedule(ctx, uuid.New(), true)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestUpdateSchedule(t *testing.T) {
	h := newHarness(t, &fakeDumper{})
	svc := newScheduleService(t, h, nil)
	ctx := context.Background()

	sc, err := svc.CreateSchedule(ctx, nil, nightly(types.BackupKindDatabase))
	require.NoError(t, err)

	params := nightly(types.BackupKindDatabase)
	params.CronExpression = "30 4 * * 1"
	updated, err := svc.UpdateSchedule(ctx, sc.ID, params)
	require.NoError(t, err)
	assert.Equal(t, "30 4 * * 1", updated.CronExpression)
	require.NotNil(t, updated.NextRunAt)
	assert.Equal(t, time.Monday, updated.NextRunAt.Weekday())
	assert.Equal(t, 1, svc.RegisteredCount())

	params.CronExpression = "nonsense"
	_, err = svc.UpdateSchedule(ctx, sc.ID, params)
	assert.ErrorIs(t, err, types.ErrValidation)

	params.CronExpression = "30 4 * * 1"
	params.BackupType = types.BackupTypeConfigOnly
	_, err = svc.UpdateSchedule(ctx, sc.ID, params)
	assert.ErrorIs(t, err, types.ErrValidation)
	params.BackupType = ""

	params.CronExpression = "0 5 * * *"
	params.IsEnabled = false
	disabled, err := svc.UpdateSchedule(ctx, sc.ID, params)
	require.NoError(t, err)
	assert.False(t, svc.IsRegistered(sc.ID))
	assert.Nil(t, disabled.NextRunAt)
}

func TestDeleteSchedule(t *testing.T) {
	h := newHarness(t, &fakeDumper{})
	svc := newScheduleService(t, h, nil)
	ctx := context.Background()

	sc, err := svc.CreateSchedule(ctx, nil, nightly(types.BackupKindDatabase))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteSchedule(ctx, sc.ID))
	assert.False(t, svc.IsRegistered(sc.ID))
	_, err = svc.GetSchedule(ctx, sc.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteSchedule(ctx, sc.ID), types.ErrNotFound)
}

func TestStart_RehydratesEnabledSchedules(t *testing.T) {
	h := newHarness(t, &fakeDumper{})
	ctx := context.Background()

	first := newScheduleService(t, h, nil)
	enabled, err := first.CreateSchedule(ctx, nil, nightly(types.BackupKindDatabase))
	require.NoError(t, err)
	params := nightly(types.BackupKindSystem)
	params.IsEnabled = false
	disabled, err := first.CreateSchedule(ctx, nil, params)
	require.NoError(t, err)

	// a fresh process only knows what was persisted
	second := newScheduleService(t, h, nil)
	assert.True(t, second.IsRegistered(enabled.ID))
	assert.False(t, second.IsRegistered(disabled.ID))
	assert.Equal(t, 1, second.RegisteredCount())
}

func TestRunSchedule_TrimsOldBackups(t *testing.T) {
	h := newHarness(t, &fakeDumper{dump: "SELECT 1;"})
	notifier := &recordingNotifier{}
	svc := newScheduleService(t, h, notifier)
	ctx := context.Background()

	params := nightly(types.BackupKindDatabase)
	params.MaxBackups = 2
	params.NotifyOnSuccess = true
	params.Recipients = []string{"ops@example.com"}
	sc, err := svc.CreateSchedule(ctx, nil, params)
	require.NoError(t, err)

	runs := make([]*types.Backup, 0, 3)
	for i := 0; i < 3; i++ {
		bk, err := svc.RunSchedule(ctx, sc.ID)
		require.NoError(t, err)
		assert.True(t, bk.IsAutomatic)
		assert.True(t, bk.HasTag(types.TagScheduled))
		assert.True(t, bk.HasTag(string(types.BackupKindDatabase)))
		assert.True(t, bk.HasTag(types.ScheduleTag(sc.ID)))
		assert.Contains(t, bk.Name, "nightly ")
		require.Equal(t, types.BackupStatusCompleted, h.awaitBackup(t, bk.ID).Status)
		require.Eventually(t, func() bool { return notifier.Count("backup.completed") == i+1 }, testTimeout, testPoll)
		runs = append(runs, bk)
	}

	require.Eventually(t, func() bool {
		_, err := h.backups.GetBackup(ctx, runs[0].ID)
		return errors.Is(err, types.ErrNotFound)
	}, testTimeout, testPoll)

	automatic := true
	kept, err := h.backups.ListBackups(ctx, types.BackupFilter{ScheduleID: &sc.ID, IsAutomatic: &automatic})
	require.NoError(t, err)
	require.Len(t, kept, 2)
	assert.ElementsMatch(t, []uuid.UUID{runs[1].ID, runs[2].ID}, []uuid.UUID{kept[0].ID, kept[1].ID})

	stored, err := svc.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.ConsecutiveFailures)
	assert.Equal(t, string(types.BackupStatusCompleted), stored.LastRunStatus)
	assert.NotNil(t, stored.LastRunAt)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, stored.NextRunAt.After(*stored.LastRunAt))
}

func TestRunSchedule_DisablesAfterRepeatedFailures(t *testing.T) {
	h := newHarness(t, &fakeDumper{err: errors.New("datastore unreachable")})
	notifier := &recordingNotifier{}
	svc := newScheduleService(t, h, notifier)
	ctx := context.Background()

	params := nightly(types.BackupKindDatabase)
	params.NotifyOnFailure = true
	sc, err := svc.CreateSchedule(ctx, nil, params)
	require.NoError(t, err)

	for i := 1; i <= types.MaxConsecutiveFailures; i++ {
		_, err := svc.RunSchedule(ctx, sc.ID)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			stored, err := svc.GetSchedule(ctx, sc.ID)
			return err == nil && stored.ConsecutiveFailures == i
		}, testTimeout, testPoll)
	}

	stored, err := svc.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsEnabled)
	assert.Equal(t, string(types.BackupStatusFailed), stored.LastRunStatus)
	assert.False(t, svc.IsRegistered(sc.ID))
	assert.Equal(t, 0, svc.RegisteredCount())
	assert.Eventually(t, func() bool {
		return notifier.Count("backup.failed") == types.MaxConsecutiveFailures
	}, testTimeout, testPoll)

	// a trigger that still fires produces nothing
	svc.fire(ctx, sc.ID)
	all, err := h.backups.ListBackups(ctx, types.BackupFilter{ScheduleID: &sc.ID})
	require.NoError(t, err)
	assert.Len(t, all, types.MaxConsecutiveFailures)

	assert.Nil(t, stored.NextRunAt)

	// re-enabling starts over
	on, err := svc.ToggleSchedule(ctx, sc.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 0, on.ConsecutiveFailures)
	assert.NotNil(t, on.NextRunAt)
	assert.True(t, svc.IsRegistered(sc.ID))
}

func TestSettle_InterruptedRunIsNotAFailure(t *testing.T) {
	h := newHarness(t, &fakeDumper{dump: "SELECT 1;"})
	notifier := &recordingNotifier{}
	svc := newScheduleService(t, h, notifier)
	ctx := context.Background()

	params := nightly(types.BackupKindDatabase)
	params.NotifyOnFailure = true
	sc, err := svc.CreateSchedule(ctx, nil, params)
	require.NoError(t, err)
	bk, err := svc.launch(ctx, sc)
	require.NoError(t, err)
	h.awaitBackup(t, bk.ID)

	tests := []struct {
		name string
		run  func()
	}{
		{"await on a cancelled context", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			svc.await(cancelled, sc, bk.ID)
		}},
		{"wrapped cancellation", func() {
			svc.settle(ctx, sc, nil, errors.Wrap(context.Canceled, "failed to create backup"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.run()
			stored, err := svc.GetSchedule(ctx, sc.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, stored.ConsecutiveFailures)
			assert.Empty(t, stored.LastRunStatus)
			assert.True(t, stored.IsEnabled)
			assert.Equal(t, 0, notifier.Count("backup.failed"))
		})
	}
}

func TestCheckHealth(t *testing.T) {
	h := newHarness(t, &fakeDumper{})
	svc := newScheduleService(t, h, nil)
	ctx := context.Background()

	healthy, err := svc.CreateSchedule(ctx, nil, nightly(types.BackupKindDatabase))
	require.NoError(t, err)
	stuck, err := svc.CreateSchedule(ctx, nil, nightly(types.BackupKindDatabase))
	require.NoError(t, err)
	missing, err := svc.CreateSchedule(ctx, nil, nightly(types.BackupKindSystem))
	require.NoError(t, err)

	overdue := time.Now().Add(-2 * time.Hour)
	require.NoError(t, h.scheduleRepo.UpdateFields(ctx, stuck.ID, map[string]interface{}{
		"next_run_at": &overdue,
		"last_run_at": &overdue,
	}))
	svc.unregister(missing.ID)

	repaired, err := svc.CheckHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)
	for _, id := range []uuid.UUID{healthy.ID, stuck.ID, missing.ID} {
		assert.True(t, svc.IsRegistered(id))
	}
	assert.Equal(t, 3, svc.RegisteredCount())

	stored, err := svc.GetSchedule(ctx, stuck.ID)
	require.NoError(t, err)
	assert.True(t, stored.NextRunAt.After(time.Now()))

	repaired, err = svc.CheckHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, repaired)
}

type failingScheduleRepo struct {
	database.ScheduleRepository
}

func (failingScheduleRepo) UpdateFields(context.Context, uuid.UUID, map[string]interface{}) error {
	return errors.New("database is locked")
}

func TestCheckHealth_LogsFailedWrite(t *testing.T) {
	h := newHarness(t, &fakeDumper{})
	ctx := context.Background()
	sc, err := newScheduleService(t, h, nil).CreateSchedule(ctx, nil, nightly(types.BackupKindDatabase))
	require.NoError(t, err)

	core, logs := observer.New(zapcore.ErrorLevel)
	t.Cleanup(logger.Replace(zap.New(core)))

	created, err := NewScheduleService(ScheduleServiceParams{
		Repository: failingScheduleRepo{ScheduleRepository: h.scheduleRepo},
		Backups:    h.backups,
	})
	require.NoError(t, err)
	svc := created.(*scheduleService)
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() { _ = svc.Stop() })
	svc.unregister(sc.ID)

	repaired, err := svc.CheckHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)
	assert.True(t, svc.IsRegistered(sc.ID))

	entries := logs.FilterMessage("failed to store next run of repaired schedule").All()
	require.Len(t, entries, 1)
	assert.Equal(t, sc.ID.String(), entries[0].ContextMap()["schedule_id"])
	assert.Equal(t, "database is locked", entries[0].ContextMap()["error"])
}

func TestMaintenanceJobRequiresCadence(t *testing.T) {
	h := newHarness(t, &fakeDumper{})
	svc, err := NewScheduleService(ScheduleServiceParams{Repository: h.scheduleRepo, Backups: h.backups})
	require.NoError(t, err)
	defer func() { _ = svc.Stop() }()

	err = svc.Start(context.Background(), MaintenanceJob{Name: "nothing", Run: func(context.Context) error { return nil }})
	assert.Error(t, err)
}
