package database

import (
	"context"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"lifeboat/internal/types"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state", "test.db"))
	require.NoError(t, err)
	return db
}

func strPtr(s string) *string { return &s }

func TestBackupRepository_TenantFilter(t *testing.T) {
	ctx := context.Background()
	repo := NewBackupRepository(openTestDB(t))

	for _, tenant := range []*string{nil, strPtr("acme"), strPtr("globex")} {
		require.NoError(t, repo.Save(ctx, &types.Backup{
			ID:        uuid.New(),
			TenantID:  tenant,
			Kind:      types.BackupKindDatabase,
			Status:    types.BackupStatusCompleted,
			FileSize:  10,
			CreatedAt: time.Now(),
		}))
	}

	tests := []struct {
		name     string
		tenantID *string
		expected int
	}{
		{name: "instance scope lists all", tenantID: nil, expected: 3},
		{name: "tenant sees own", tenantID: strPtr("acme"), expected: 1},
		{name: "unknown tenant sees nothing", tenantID: strPtr("initech"), expected: 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := repo.Find(ctx, types.BackupFilter{TenantID: test.tenantID})
			require.NoError(t, err)
			assert.Len(t, got, test.expected)
		})
	}
}

func TestBackupRepository_FindByIDNotFound(t *testing.T) {
	repo := NewBackupRepository(openTestDB(t))
	_, err := repo.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestBackupRepository_FindExpired(t *testing.T) {
	ctx := context.Background()
	repo := NewBackupRepository(openTestDB(t))
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	rows := []*types.Backup{
		{ID: uuid.New(), Status: types.BackupStatusCompleted, ExpiresAt: &past, CreatedAt: now},
		{ID: uuid.New(), Status: types.BackupStatusCompleted, ExpiresAt: &future, CreatedAt: now},
		{ID: uuid.New(), Status: types.BackupStatusCompleted, CreatedAt: now},
		{ID: uuid.New(), Status: types.BackupStatusRunning, ExpiresAt: &past, CreatedAt: now},
	}
	for _, r := range rows {
		require.NoError(t, repo.Save(ctx, r))
	}

	got, err := repo.FindExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rows[0].ID, got[0].ID)
}

func TestBackupRepository_Stats(t *testing.T) {
	ctx := context.Background()
	repo := NewBackupRepository(openTestDB(t))
	for _, st := range []types.BackupStatus{types.BackupStatusCompleted, types.BackupStatusCompleted, types.BackupStatusFailed} {
		require.NoError(t, repo.Save(ctx, &types.Backup{ID: uuid.New(), Status: st, FileSize: 100, CreatedAt: time.Now()}))
	}

	stats, err := repo.Stats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(200), stats.TotalSize)
}

func TestBackupRepository_TagsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewBackupRepository(openTestDB(t))
	bk := &types.Backup{ID: uuid.New(), Tags: []string{types.TagScheduled, "database"}, CreatedAt: time.Now()}
	require.NoError(t, repo.Save(ctx, bk))

	got, err := repo.FindByID(ctx, bk.ID)
	require.NoError(t, err)
	assert.True(t, got.HasTag(types.TagScheduled))
	assert.False(t, got.HasTag(types.TagSafety))
}

func TestUpdateRepository_FindInFlight(t *testing.T) {
	ctx := context.Background()
	repo := NewUpdateRepository(openTestDB(t))
	require.NoError(t, repo.Save(ctx, &types.SystemUpdate{ID: uuid.New(), Version: "1.2.0", Status: types.UpdateStatusPending}))
	require.NoError(t, repo.Save(ctx, &types.SystemUpdate{ID: uuid.New(), Version: "1.2.0", Status: types.UpdateStatusFailed}))
	require.NoError(t, repo.Save(ctx, &types.SystemUpdate{ID: uuid.New(), TenantID: strPtr("acme"), Version: "1.2.0", Status: types.UpdateStatusApplying}))

	got, err := repo.FindInFlight(ctx, nil, "1.2.0")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = repo.FindInFlight(ctx, strPtr("acme"), "1.2.0")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = repo.FindInFlight(ctx, nil, "1.3.0")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScheduleRepository_FindEnabled(t *testing.T) {
	ctx := context.Background()
	repo := NewScheduleRepository(openTestDB(t))
	require.NoError(t, repo.Save(ctx, &types.BackupSchedule{ID: uuid.New(), IsEnabled: true, Recipients: []string{"ops@example.com"}}))
	require.NoError(t, repo.Save(ctx, &types.BackupSchedule{ID: uuid.New(), IsEnabled: false}))

	got, err := repo.FindEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"ops@example.com"}, got[0].Recipients)

	require.NoError(t, repo.UpdateFields(ctx, got[0].ID, map[string]interface{}{"is_enabled": false}))
	got, err = repo.FindEnabled(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpdateRepository_FindDuePendingAndLatest(t *testing.T) {
	ctx := context.Background()
	repo := NewUpdateRepository(openTestDB(t))
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	due := &types.SystemUpdate{ID: uuid.New(), Version: "1.0.1", Status: types.UpdateStatusPending, ScheduledAt: &past, CreatedAt: now.Add(-2 * time.Hour)}
	unscheduled := &types.SystemUpdate{ID: uuid.New(), Version: "1.0.2", Status: types.UpdateStatusPending, CreatedAt: now.Add(-time.Hour)}
	later := &types.SystemUpdate{ID: uuid.New(), Version: "1.0.3", Status: types.UpdateStatusPending, ScheduledAt: &future, CreatedAt: now}
	for _, u := range []*types.SystemUpdate{due, unscheduled, later} {
		require.NoError(t, repo.Save(ctx, u))
	}

	got, err := repo.FindDuePending(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, due.ID, got[0].ID)
	assert.Equal(t, unscheduled.ID, got[1].ID)

	latest, err := repo.LatestCompleted(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	completedAt := now
	require.NoError(t, repo.UpdateFields(ctx, due.ID, map[string]interface{}{"status": types.UpdateStatusCompleted, "completed_at": &completedAt}))
	latest, err = repo.LatestCompleted(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "1.0.1", latest.Version)
}
