package service

import (
	"context"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"lifeboat/internal/backup"
	"lifeboat/internal/config"
	"lifeboat/internal/database"
	"lifeboat/internal/eventbus"
	"lifeboat/internal/integrations"
	"lifeboat/internal/progress"
	"lifeboat/internal/storage"
	"lifeboat/internal/types"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeDumper stands in for pg_dump/psql.
type fakeDumper struct {
	mu       sync.Mutex
	dump     string
	err      error
	panics   bool
	release  chan struct{}
	dumps    []backup.DumpParams
	restored []string
}

func (f *fakeDumper) Dump(ctx context.Context, p backup.DumpParams) error {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.panics {
		panic("dump tool exploded")
	}
	f.mu.Lock()
	f.dumps = append(f.dumps, p)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(p.Path, []byte(f.dump), 0o640)
}

func (f *fakeDumper) Restore(_ context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, string(data))
	return nil
}

func (f *fakeDumper) Name() string { return "fake" }

func (f *fakeDumper) Restored() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.restored...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []integrations.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n integrations.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.Event == event {
			n++
		}
	}
	return n
}

type harness struct {
	cfg          config.Config
	layout       *storage.Layout
	progress     *progress.Registry
	dumper       *fakeDumper
	backupRepo   database.BackupRepository
	restoreRepo  database.RestoreRepository
	scheduleRepo database.ScheduleRepository
	updateRepo   database.UpdateRepository
	backups      BackupService
	restores     RestoreService
}

const (
	testPoll    = 10 * time.Millisecond
	testTimeout = 10 * time.Second
)

func newHarness(t *testing.T, dumper *fakeDumper) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := config.Config{
		LogMode:              "test",
		ListenAddr:           ":0",
		BackupDir:            filepath.Join(root, "backups"),
		StateDBPath:          filepath.Join(root, "state", "lifeboat.db"),
		AppDir:               filepath.Join(root, "app"),
		ConfigDir:            filepath.Join(root, "etc"),
		MediaDir:             filepath.Join(root, "media"),
		LogDir:               filepath.Join(root, "log"),
		UpdateStagingDir:     filepath.Join(root, "updates"),
		AppVersion:           "1.0.0",
		SchedulePollInterval: testPoll,
	}
	for _, dir := range []string{cfg.AppDir, cfg.ConfigDir, cfg.MediaDir, cfg.LogDir} {
		require.NoError(t, os.MkdirAll(dir, 0o750))
	}

	db, err := database.Open(cfg.StateDBPath)
	require.NoError(t, err)
	layout := storage.NewLayout(cfg.BackupDir)
	require.NoError(t, layout.EnsureLayout())

	var d backup.Dumper
	if dumper != nil {
		d = dumper
	}

	h := &harness{
		cfg:          cfg,
		layout:       layout,
		progress:     progress.NewRegistry(eventbus.New()),
		dumper:       dumper,
		backupRepo:   database.NewBackupRepository(db),
		restoreRepo:  database.NewRestoreRepository(db),
		scheduleRepo: database.NewScheduleRepository(db),
		updateRepo:   database.NewUpdateRepository(db),
	}
	h.backups = NewBackupService(BackupServiceParams{
		Config:     cfg,
		Repository: h.backupRepo,
		Layout:     layout,
		Dumper:     d,
		Progress:   h.progress,
	})
	h.restores = NewRestoreService(RestoreServiceParams{
		Config:           cfg,
		Repository:       h.restoreRepo,
		BackupRepository: h.backupRepo,
		Layout:           layout,
		Dumper:           d,
		Progress:         h.progress,
	})
	t.Cleanup(func() {
		h.backups.Wait()
		h.restores.Wait()
	})
	return h
}

// awaitBackup blocks until the backup is terminal and its task has exited.
func (h *harness) awaitBackup(t *testing.T, id uuid.UUID) *types.Backup {
	t.Helper()
	bk, err := h.backups.Await(context.Background(), id, testPoll, testTimeout)
	require.NoError(t, err)
	h.backups.Wait()
	return bk
}

func (h *harness) awaitRestore(t *testing.T, id uuid.UUID) *types.RestoreOperation {
	t.Helper()
	var op *types.RestoreOperation
	require.Eventually(t, func() bool {
		found, err := h.restores.GetRestoreOperation(context.Background(), id)
		if err != nil {
			return false
		}
		op = found
		return found.Status.IsTerminal()
	}, testTimeout, testPoll)
	h.restores.Wait()
	return op
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func strPtr(s string) *string { return &s }
