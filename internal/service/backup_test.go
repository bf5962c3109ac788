package service

import (
	"context"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lifeboat/internal/archive"
	"lifeboat/internal/types"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

var hexChecksum = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestCreateDatabaseBackup_Completes(t *testing.T) {
	content := strings.Repeat("INSERT INTO items VALUES (1, 'lifeboat');\n", 200)
	h := newHarness(t, &fakeDumper{dump: content})
	ctx := context.Background()

	created, err := h.backups.CreateDatabaseBackup(ctx, nil, types.CreateDatabaseBackupParams{
		Name:            "nightly",
		BackupType:      types.BackupTypeFull,
		CompressionType: types.CompressionGzip,
		RetentionDays:   7,
	})
	require.NoError(t, err)
	assert.Equal(t, types.BackupStatusPending, created.Status)
	assert.True(t, strings.HasPrefix(created.FilePath, h.layout.DatabaseDir()))
	assert.True(t, strings.HasSuffix(created.FilePath, ".sql.gz"))
	require.NotNil(t, created.ExpiresAt)

	bk := h.awaitBackup(t, created.ID)
	assert.Equal(t, types.BackupStatusCompleted, bk.Status)
	assert.Greater(t, bk.FileSize, int64(0))
	assert.Regexp(t, hexChecksum, bk.Checksum)
	assert.NotNil(t, bk.StartedAt)
	assert.NotNil(t, bk.CompletedAt)
	assert.Equal(t, int64(len(content)), bk.OriginalSize)

	sum, err := archive.Checksum(bk.FilePath)
	require.NoError(t, err)
	assert.Equal(t, bk.Checksum, sum)

	out := filepath.Join(t.TempDir(), "dump.sql")
	require.NoError(t, archive.Decompress(bk.FilePath, out, bk.CompressionType))
	assert.Equal(t, content, readFile(t, out))

	_, running := h.backups.GetProgress(bk.ID)
	assert.False(t, running)
	_, err = os.Stat(h.layout.StagingDir(bk.ID.String()))
	assert.True(t, os.IsNotExist(err))
}

func TestCreateDatabaseBackup_Compression(t *testing.T) {
	tests := []struct {
		compression types.CompressionType
		suffix      string
	}{
		{types.CompressionNone, ".sql"},
		{types.CompressionGzip, ".sql.gz"},
		{types.CompressionZstd, ".sql.zst"},
	}
	for _, tt := range tests {
		t.Run(string(tt.compression), func(t *testing.T) {
			h := newHarness(t, &fakeDumper{dump: "SELECT 1;\n"})
			created, err := h.backups.CreateDatabaseBackup(context.Background(), nil, types.CreateDatabaseBackupParams{
				Name:            "codec",
				CompressionType: tt.compression,
			})
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(created.FilePath, tt.suffix))

			bk := h.awaitBackup(t, created.ID)
			require.Equal(t, types.BackupStatusCompleted, bk.Status, bk.ErrorMessage)
			assert.Equal(t, tt.compression, bk.CompressionType)

			out := filepath.Join(t.TempDir(), "dump.sql")
			require.NoError(t, archive.Decompress(bk.FilePath, out, bk.CompressionType))
			assert.Equal(t, "SELECT 1;\n", readFile(t, out))
		})
	}
}

func TestCreateDatabaseBackup_DumpSubtypes(t *testing.T) {
	dumper := &fakeDumper{dump: "--"}
	h := newHarness(t, dumper)
	h.backups.(*backupService).cfg.TenantSchemaPattern = "tenant_%s"

	created, err := h.backups.CreateDatabaseBackup(context.Background(), strPtr("acme"), types.CreateDatabaseBackupParams{
		Name:       "schema",
		BackupType: types.BackupTypeSchemaOnly,
	})
	require.NoError(t, err)
	h.awaitBackup(t, created.ID)

	require.Len(t, dumper.dumps, 1)
	assert.Equal(t, types.BackupTypeSchemaOnly, dumper.dumps[0].Type)
	assert.Equal(t, "tenant_acme", dumper.dumps[0].Schema)
}

func TestCreateBackup_RejectsOverCapacity(t *testing.T) {
	dumper := &fakeDumper{dump: "x", release: make(chan struct{})}
	h := newHarness(t, dumper)
	ctx := context.Background()

	ids := make([]uuid.UUID, 0, MaxConcurrentBackups)
	for i := 0; i < MaxConcurrentBackups; i++ {
		bk, err := h.backups.CreateDatabaseBackup(ctx, nil, types.CreateDatabaseBackupParams{Name: "busy"})
		require.NoError(t, err)
		ids = append(ids, bk.ID)
	}
	assert.Equal(t, MaxConcurrentBackups, h.backups.InFlight())

	_, err := h.backups.CreateDatabaseBackup(ctx, nil, types.CreateDatabaseBackupParams{Name: "one too many"})
	assert.ErrorIs(t, err, types.ErrCapacity)
	_, err = h.backups.CreateSystemBackup(ctx, nil, types.CreateSystemBackupParams{Name: "one too many"})
	assert.ErrorIs(t, err, types.ErrCapacity)

	all, err := h.backups.ListBackups(ctx, types.BackupFilter{})
	require.NoError(t, err)
	assert.Len(t, all, MaxConcurrentBackups)

	close(dumper.release)
	for _, id := range ids {
		assert.Equal(t, types.BackupStatusCompleted, h.awaitBackup(t, id).Status)
	}
	assert.Equal(t, 0, h.backups.InFlight())

	// the slot is free again
	bk, err := h.backups.CreateDatabaseBackup(ctx, nil, types.CreateDatabaseBackupParams{Name: "after"})
	require.NoError(t, err)
	h.awaitBackup(t, bk.ID)
}

func TestCreateDatabaseBackup_Failures(t *testing.T) {
	tests := []struct {
		name    string
		dumper  *fakeDumper
		params  types.CreateDatabaseBackupParams
		message string
	}{
		{
			name:    "dump tool error",
			dumper:  &fakeDumper{err: errors.New("pg_dump: connection refused")},
			params:  types.CreateDatabaseBackupParams{Name: "broken"},
			message: "connection refused",
		},
		{
			name:    "panic",
			dumper:  &fakeDumper{panics: true},
			params:  types.CreateDatabaseBackupParams{Name: "panics"},
			message: "internal error",
		},
		{
			name:    "size limit",
			dumper:  &fakeDumper{dump: strings.Repeat("a", 4096)},
			params:  types.CreateDatabaseBackupParams{Name: "big", CompressionType: types.CompressionNone, MaxSizeBytes: 16},
			message: "limit is 16",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.dumper)
			created, err := h.backups.CreateDatabaseBackup(context.Background(), nil, tt.params)
			require.NoError(t, err)

			bk := h.awaitBackup(t, created.ID)
			assert.Equal(t, types.BackupStatusFailed, bk.Status)
			assert.Contains(t, bk.ErrorMessage, tt.message)
			assert.NotNil(t, bk.CompletedAt)

			_, err = os.Stat(bk.FilePath)
			assert.True(t, os.IsNotExist(err), "partial artifact left behind")
			_, running := h.backups.GetProgress(bk.ID)
			assert.False(t, running)
			assert.Equal(t, 0, h.backups.InFlight())
		})
	}
}

func TestCreateDatabaseBackup_Validation(t *testing.T) {
	h := newHarness(t, &fakeDumper{})
	ctx := context.Background()

	_, err := h.backups.CreateDatabaseBackup(ctx, nil, types.CreateDatabaseBackupParams{})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = h.backups.CreateDatabaseBackup(ctx, nil, types.CreateDatabaseBackupParams{Name: "x", CompressionType: "lz4"})
	assert.ErrorIs(t, err, types.ErrValidation)

	noDatastore := newHarness(t, nil)
	_, err = noDatastore.backups.CreateDatabaseBackup(ctx, nil, types.CreateDatabaseBackupParams{Name: "x"})
	assert.ErrorIs(t, err, types.ErrValidation)

	all, err := h.backups.ListBackups(ctx, types.BackupFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateSystemBackup_ArchivesComponents(t *testing.T) {
	tests := []struct {
		name        string
		compression types.CompressionType
		want        types.CompressionType
	}{
		{"gzip by default", "", types.CompressionGzip},
		{"none still compresses", types.CompressionNone, types.CompressionGzip},
		{"zstd", types.CompressionZstd, types.CompressionZstd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &fakeDumper{dump: "CREATE TABLE t();"})
			writeFile(t, filepath.Join(h.cfg.AppDir, "bin", "app"), "binary")
			writeFile(t, filepath.Join(h.cfg.ConfigDir, "app.yaml"), "port: 80")
			writeFile(t, filepath.Join(h.cfg.MediaDir, "logo.png"), "png")

			created, err := h.backups.CreateSystemBackup(context.Background(), nil, types.CreateSystemBackupParams{
				Name:            "system",
				CompressionType: tt.compression,
				IncludeDatabase: true,
				IncludeFiles:    true,
				IncludeConfig:   true,
			})
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(created.FilePath, h.layout.SystemDir()))

			bk := h.awaitBackup(t, created.ID)
			require.Equal(t, types.BackupStatusCompleted, bk.Status, bk.ErrorMessage)
			assert.Equal(t, tt.want, bk.CompressionType)
			assert.Greater(t, bk.OriginalSize, int64(0))
			assert.Greater(t, bk.CompressionRatio, 0.0)
			assert.Regexp(t, hexChecksum, bk.Checksum)

			out := t.TempDir()
			_, err = archive.Extract(context.Background(), bk.FilePath, out, bk.CompressionType)
			require.NoError(t, err)
			assert.Equal(t, "binary", readFile(t, filepath.Join(out, ComponentFiles, "bin", "app")))
			assert.Equal(t, "port: 80", readFile(t, filepath.Join(out, ComponentConfig, "app.yaml")))
			assert.Equal(t, "CREATE TABLE t();", readFile(t, filepath.Join(out, ComponentDatabase, dumpFile)))
			_, err = os.Stat(filepath.Join(out, ComponentMedia))
			assert.True(t, os.IsNotExist(err), "media was not selected")

			var manifest systemManifest
			require.NoError(t, json.Unmarshal([]byte(readFile(t, filepath.Join(out, manifestFile))), &manifest))
			assert.Equal(t, bk.ID.String(), manifest.BackupID)
			assert.Len(t, manifest.Components, 3)
			assert.Equal(t, 1, manifest.Components[ComponentFiles].Files)

			_, err = os.Stat(h.layout.StagingDir(bk.ID.String()))
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestCreateSystemBackup_Components(t *testing.T) {
	tests := []struct {
		name    string
		dumper  *fakeDumper
		params  types.CreateSystemBackupParams
		want    types.Components
		wantErr error
	}{
		{
			name:   "defaults with datastore",
			dumper: &fakeDumper{},
			params: types.CreateSystemBackupParams{Name: "s"},
			want:   types.Components{Database: true, Files: true, Config: true},
		},
		{
			name:   "defaults without datastore",
			params: types.CreateSystemBackupParams{Name: "s"},
			want:   types.Components{Files: true, Config: true},
		},
		{
			name:   "media only ignores flags",
			dumper: &fakeDumper{},
			params: types.CreateSystemBackupParams{Name: "s", BackupType: types.BackupTypeMediaOnly, IncludeFiles: true},
			want:   types.Components{Media: true},
		},
		{
			name:    "database without datastore",
			params:  types.CreateSystemBackupParams{Name: "s", IncludeDatabase: true},
			wantErr: types.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.dumper)
			bk, err := h.backups.CreateSystemBackup(context.Background(), nil, tt.params)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, bk.IncludedComponents())
			h.awaitBackup(t, bk.ID)
		})
	}
}

func TestCreateSystemBackup_Incremental(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	writeFile(t, filepath.Join(h.cfg.AppDir, "old.txt"), "old")

	base, err := h.backups.CreateSystemBackup(ctx, nil, types.CreateSystemBackupParams{Name: "base", IncludeFiles: true})
	require.NoError(t, err)
	require.Equal(t, types.BackupStatusCompleted, h.awaitBackup(t, base.ID).Status)

	// modification times must land after the base completed
	time.Sleep(20 * time.Millisecond)
	writeFile(t, filepath.Join(h.cfg.AppDir, "new.txt"), "new")

	inc, err := h.backups.CreateSystemBackup(ctx, nil, types.CreateSystemBackupParams{
		Name:         "inc",
		BackupType:   types.BackupTypeIncremental,
		IncludeFiles: true,
	})
	require.NoError(t, err)
	bk := h.awaitBackup(t, inc.ID)
	require.Equal(t, types.BackupStatusCompleted, bk.Status, bk.ErrorMessage)

	out := t.TempDir()
	_, err = archive.Extract(ctx, bk.FilePath, out, bk.CompressionType)
	require.NoError(t, err)
	assert.Equal(t, "new", readFile(t, filepath.Join(out, ComponentFiles, "new.txt")))
	_, err = os.Stat(filepath.Join(out, ComponentFiles, "old.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestAwait_Timeout(t *testing.T) {
	dumper := &fakeDumper{release: make(chan struct{})}
	h := newHarness(t, dumper)
	defer close(dumper.release)

	bk, err := h.backups.CreateDatabaseBackup(context.Background(), nil, types.CreateDatabaseBackupParams{Name: "slow"})
	require.NoError(t, err)

	got, err := h.backups.Await(context.Background(), bk.ID, testPoll, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrAwaitTimeout)
	require.NotNil(t, got)
	assert.False(t, got.Status.IsTerminal())

	p, running := h.backups.GetProgress(bk.ID)
	require.True(t, running)
	assert.Equal(t, types.OperationBackup, p.Kind)
}

func TestCleanupExpired(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	save := func(status types.BackupStatus, expiresAt *time.Time) *types.Backup {
		path := filepath.Join(h.layout.DatabaseDir(), uuid.NewString()+".sql")
		writeFile(t, path, "dump")
		bk := &types.Backup{
			ID:        uuid.New(),
			Name:      "retention",
			Kind:      types.BackupKindDatabase,
			Status:    status,
			FilePath:  path,
			ExpiresAt: expiresAt,
			CreatedAt: time.Now().Add(-48 * time.Hour),
		}
		require.NoError(t, h.backupRepo.Save(ctx, bk))
		return bk
	}
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	expired := save(types.BackupStatusCompleted, &past)
	fresh := save(types.BackupStatusCompleted, &future)
	forever := save(types.BackupStatusCompleted, nil)
	failedExpired := save(types.BackupStatusFailed, &past)

	removed, err := h.backups.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = h.backups.GetBackup(ctx, expired.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = os.Stat(expired.FilePath)
	assert.True(t, os.IsNotExist(err))

	for _, kept := range []*types.Backup{fresh, forever, failedExpired} {
		_, err := h.backups.GetBackup(ctx, kept.ID)
		assert.NoError(t, err)
		_, err = os.Stat(kept.FilePath)
		assert.NoError(t, err)
	}
}

func TestDeleteBackup(t *testing.T) {
	h := newHarness(t, &fakeDumper{dump: "x"})
	ctx := context.Background()

	running := &types.Backup{ID: uuid.New(), Kind: types.BackupKindDatabase, Status: types.BackupStatusRunning, CreatedAt: time.Now()}
	require.NoError(t, h.backupRepo.Save(ctx, running))
	assert.ErrorIs(t, h.backups.DeleteBackup(ctx, running.ID), types.ErrInvalidState)
	assert.ErrorIs(t, h.backups.DeleteBackup(ctx, uuid.New()), types.ErrNotFound)

	created, err := h.backups.CreateDatabaseBackup(ctx, nil, types.CreateDatabaseBackupParams{Name: "gone"})
	require.NoError(t, err)
	bk := h.awaitBackup(t, created.ID)

	require.NoError(t, h.backups.DeleteBackup(ctx, bk.ID))
	_, err = os.Stat(bk.FilePath)
	assert.True(t, os.IsNotExist(err))
	_, err = h.backups.GetBackup(ctx, bk.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestBackupRecoverInterrupted(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	stale := &types.Backup{ID: uuid.New(), Kind: types.BackupKindDatabase, Status: types.BackupStatusRunning, CreatedAt: time.Now()}
	done := &types.Backup{ID: uuid.New(), Kind: types.BackupKindDatabase, Status: types.BackupStatusCompleted, CreatedAt: time.Now()}
	require.NoError(t, h.backupRepo.Save(ctx, stale))
	require.NoError(t, h.backupRepo.Save(ctx, done))

	recovered, err := h.backups.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	bk, err := h.backups.GetBackup(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BackupStatusFailed, bk.Status)
	assert.Contains(t, bk.ErrorMessage, "interrupted")
}
