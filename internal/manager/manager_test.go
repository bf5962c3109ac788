package manager

import (
	"context"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lifeboat/internal/config"
	"lifeboat/internal/database"
	"lifeboat/internal/eventbus"
	"lifeboat/internal/integrations"
	"lifeboat/internal/progress"
	"lifeboat/internal/service"
	"lifeboat/internal/storage"
	"lifeboat/internal/types"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error {
	return f.err
}

type fixture struct {
	mn         Manager
	backupRepo database.BackupRepository
	schedules  database.ScheduleRepository
	restores   database.RestoreRepository
	cfg        config.Config
}

var (
	acme   = "acme"
	globex = "globex"

	instanceAdmin = types.Principal{Role: types.RoleAdmin}
	acmeAdmin     = types.Principal{TenantID: &acme, Role: types.RoleAdmin}
	acmeMember    = types.Principal{TenantID: &acme, Role: "member"}
	globexAdmin   = types.Principal{TenantID: &globex, Role: types.RoleAdmin}
	anonymous     = types.Principal{Role: "member"}
)

func newFixture(t *testing.T, pinger integrations.Pinger) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := config.Config{
		LogMode:              "test",
		ListenAddr:           ":0",
		AccessKey:            "s3cret",
		BackupDir:            filepath.Join(root, "backups"),
		StateDBPath:          filepath.Join(root, "lifeboat.db"),
		AppDir:               filepath.Join(root, "app"),
		ConfigDir:            filepath.Join(root, "etc"),
		UpdateStagingDir:     filepath.Join(root, "updates"),
		AppVersion:           "1.0.0",
		SchedulePollInterval: 10 * time.Millisecond,
	}
	require.NoError(t, os.MkdirAll(cfg.AppDir, 0o750))
	require.NoError(t, os.MkdirAll(cfg.ConfigDir, 0o750))

	db, err := database.Open(cfg.StateDBPath)
	require.NoError(t, err)
	layout := storage.NewLayout(cfg.BackupDir)
	require.NoError(t, layout.EnsureLayout())
	registry := progress.NewRegistry(eventbus.New())

	backupRepo := database.NewBackupRepository(db)
	restoreRepo := database.NewRestoreRepository(db)
	scheduleRepo := database.NewScheduleRepository(db)

	backups := service.NewBackupService(service.BackupServiceParams{
		Config:     cfg,
		Repository: backupRepo,
		Layout:     layout,
		Progress:   registry,
	})
	restores := service.NewRestoreService(service.RestoreServiceParams{
		Config:           cfg,
		Repository:       restoreRepo,
		BackupRepository: backupRepo,
		Layout:           layout,
		Progress:         registry,
	})
	schedules, err := service.NewScheduleService(service.ScheduleServiceParams{
		Repository: scheduleRepo,
		Backups:    backups,
	})
	require.NoError(t, err)
	updates := service.NewUpdateService(service.UpdateServiceParams{
		Config:     cfg,
		Repository: database.NewUpdateRepository(db),
		Backups:    backups,
		Restores:   restores,
		Progress:   registry,
	})
	t.Cleanup(func() {
		backups.Wait()
		restores.Wait()
		updates.Wait()
	})

	return &fixture{
		mn: New(Params{
			AccessKey:        cfg.AccessKey,
			Backups:          backups,
			Restores:         restores,
			Schedules:        schedules,
			Updates:          updates,
			BackupRepository: backupRepo,
			Pinger:           pinger,
		}),
		backupRepo: backupRepo,
		schedules:  scheduleRepo,
		restores:   restoreRepo,
		cfg:        cfg,
	}
}

func (f *fixture) saveBackup(t *testing.T, tenantID *string, kind types.BackupKind, status types.BackupStatus, size int64) *types.Backup {
	t.Helper()
	bk := &types.Backup{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      "seeded",
		Kind:      kind,
		Status:    status,
		FileSize:  size,
		CreatedAt: time.Now(),
	}
	require.NoError(t, f.backupRepo.Save(context.Background(), bk))
	return bk
}

func TestValidateToken(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		token string
		ok    bool
	}{
		{"s3cret", true},
		{"s3cre", false},
		{"", false},
	}
	for _, tt := range tests {
		err := f.mn.ValidateToken(tt.token)
		if tt.ok {
			assert.NoError(t, err, tt.token)
		} else {
			assert.ErrorIs(t, err, types.ErrForbidden, tt.token)
		}
	}
}

func TestBackups_TenantScope(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	mine := f.saveBackup(t, &acme, types.BackupKindDatabase, types.BackupStatusCompleted, 10)
	theirs := f.saveBackup(t, &globex, types.BackupKindDatabase, types.BackupStatusCompleted, 10)
	global := f.saveBackup(t, nil, types.BackupKindSystem, types.BackupStatusCompleted, 10)

	list, err := f.mn.ListBackups(ctx, acmeMember, types.BackupFilter{TenantID: &globex})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	list, err = f.mn.ListBackups(ctx, instanceAdmin, types.BackupFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 3)

	_, err = f.mn.GetBackup(ctx, acmeMember, mine.ID)
	assert.NoError(t, err)
	_, err = f.mn.GetBackup(ctx, acmeMember, theirs.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = f.mn.GetBackup(ctx, acmeAdmin, global.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.mn.ListBackups(ctx, anonymous, types.BackupFilter{})
	assert.ErrorIs(t, err, types.ErrForbidden)

	assert.ErrorIs(t, f.mn.DeleteBackup(ctx, acmeMember, mine.ID), types.ErrForbidden)
	assert.ErrorIs(t, f.mn.DeleteBackup(ctx, globexAdmin, mine.ID), types.ErrNotFound)
	require.NoError(t, f.mn.DeleteBackup(ctx, acmeAdmin, mine.ID))
	_, err = f.backupRepo.FindByID(ctx, mine.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	acmeBackup := f.saveBackup(t, &acme, types.BackupKindDatabase, types.BackupStatusCompleted, 10)
	system := f.saveBackup(t, nil, types.BackupKindSystem, types.BackupStatusCompleted, 10)

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"member cannot take system backups", func() error {
			_, err := f.mn.CreateSystemBackup(ctx, acmeAdmin, types.CreateSystemBackupParams{Name: "x", IncludeFiles: true})
			return err
		}, types.ErrForbidden},
		{"principal without tenant cannot take database backups", func() error {
			_, err := f.mn.CreateDatabaseBackup(ctx, anonymous, types.CreateDatabaseBackupParams{Name: "x"})
			return err
		}, types.ErrForbidden},
		{"member cannot restore", func() error {
			_, err := f.mn.CreateRestore(ctx, acmeMember, types.CreateRestoreParams{BackupID: acmeBackup.ID})
			return err
		}, types.ErrForbidden},
		{"tenant admin cannot see another tenant's backup", func() error {
			_, err := f.mn.CreateRestore(ctx, globexAdmin, types.CreateRestoreParams{BackupID: acmeBackup.ID})
			return err
		}, types.ErrNotFound},
		{"tenant admin cannot restore system backups", func() error {
			_, err := f.mn.CreateRestore(ctx, acmeAdmin, types.CreateRestoreParams{BackupID: system.ID})
			return err
		}, types.ErrNotFound},
		{"tenant admin cannot schedule system backups", func() error {
			_, err := f.mn.CreateSchedule(ctx, acmeAdmin, types.ScheduleParams{Name: "x", Kind: types.BackupKindSystem, CronExpression: "0 2 * * *"})
			return err
		}, types.ErrForbidden},
		{"member cannot schedule", func() error {
			_, err := f.mn.CreateSchedule(ctx, acmeMember, types.ScheduleParams{Name: "x", Kind: types.BackupKindDatabase, CronExpression: "0 2 * * *"})
			return err
		}, types.ErrForbidden},
		{"tenant admin cannot update the system", func() error {
			_, err := f.mn.CreateUpdate(ctx, acmeAdmin, types.CreateUpdateParams{Name: "x", UpdateType: types.UpdateTypePatch, Version: "1.0.1", PackageURL: "/tmp/p"})
			return err
		}, types.ErrForbidden},
		{"tenant admin cannot list updates", func() error {
			_, err := f.mn.ListUpdates(ctx, acmeAdmin)
			return err
		}, types.ErrForbidden},
		{"progress of an unknown kind", func() error {
			_, err := f.mn.Progress(ctx, instanceAdmin, "deploy", acmeBackup.ID)
			return err
		}, types.ErrValidation},
		{"progress of a finished backup", func() error {
			_, err := f.mn.Progress(ctx, acmeMember, types.OperationBackup, acmeBackup.ID)
			return err
		}, types.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), tt.want)
		})
	}
}

func TestRestoreAndSchedule_TenantAdmin(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	writeFile(t, filepath.Join(f.cfg.AppDir, "app.txt"), "v1")

	bk, err := f.mn.CreateSystemBackup(ctx, instanceAdmin, types.CreateSystemBackupParams{Name: "system", IncludeFiles: true})
	require.NoError(t, err)
	assert.Nil(t, bk.TenantID)
	require.Eventually(t, func() bool {
		got, err := f.mn.GetBackup(ctx, instanceAdmin, bk.ID)
		return err == nil && got.Status.IsTerminal()
	}, 10*time.Second, 10*time.Millisecond)

	op, err := f.mn.CreateRestore(ctx, instanceAdmin, types.CreateRestoreParams{BackupID: bk.ID, TargetPath: t.TempDir()})
	require.NoError(t, err)
	_, err = f.mn.GetRestore(ctx, acmeAdmin, op.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	sc, err := f.mn.CreateSchedule(ctx, acmeAdmin, types.ScheduleParams{
		Name:           "nightly",
		Kind:           types.BackupKindDatabase,
		CronExpression: "0 2 * * *",
	})
	require.NoError(t, err)
	require.NotNil(t, sc.TenantID)
	assert.Equal(t, acme, *sc.TenantID)

	mine, err := f.mn.ListSchedules(ctx, acmeMember)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	theirs, err := f.mn.ListSchedules(ctx, globexAdmin)
	require.NoError(t, err)
	assert.Empty(t, theirs)

	_, err = f.mn.ToggleSchedule(ctx, globexAdmin, sc.ID, true)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, f.mn.DeleteSchedule(ctx, acmeMember, sc.ID), types.ErrForbidden)
	require.NoError(t, f.mn.DeleteSchedule(ctx, acmeAdmin, sc.ID))
}

func TestDashboard(t *testing.T) {
	tests := []struct {
		name    string
		pinger  integrations.Pinger
		healthy bool
		message string
	}{
		{"healthy datastore", fakePinger{}, true, ""},
		{"unreachable datastore", fakePinger{err: errors.New("connection refused")}, false, "connection refused"},
		{"no datastore", nil, false, "not configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.pinger)
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				f.saveBackup(t, &acme, types.BackupKindDatabase, types.BackupStatusCompleted, 1024)
			}
			f.saveBackup(t, &acme, types.BackupKindDatabase, types.BackupStatusFailed, 0)
			f.saveBackup(t, &globex, types.BackupKindDatabase, types.BackupStatusCompleted, 1<<20)
			require.NoError(t, f.schedules.Save(ctx, &types.BackupSchedule{
				ID:                  uuid.New(),
				TenantID:            &acme,
				Name:                "flaky",
				Kind:                types.BackupKindDatabase,
				CronExpression:      "0 2 * * *",
				ConsecutiveFailures: 2,
			}))

			dash, err := f.mn.Dashboard(ctx, acmeMember)
			require.NoError(t, err)
			assert.Equal(t, int64(4), dash.TotalBackups)
			assert.Equal(t, int64(3), dash.CompletedBackups)
			assert.Equal(t, int64(1), dash.FailedBackups)
			assert.InDelta(t, 75.0, dash.SuccessRate, 0.001)
			assert.Equal(t, int64(3072), dash.TotalSizeBytes)
			assert.Equal(t, "3.0 KiB", dash.TotalSize)
			require.NotNil(t, dash.LastBackup)
			assert.Equal(t, acme, *dash.LastBackup.TenantID)
			require.Len(t, dash.FailingSchedules, 1)
			assert.Equal(t, "flaky", dash.FailingSchedules[0].Name)
			assert.Equal(t, tt.healthy, dash.DatastoreHealthy)
			assert.Contains(t, dash.DatastoreError, tt.message)

			all, err := f.mn.Dashboard(ctx, instanceAdmin)
			require.NoError(t, err)
			assert.Equal(t, int64(5), all.TotalBackups)
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
}
