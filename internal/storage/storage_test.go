package storage

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"lifeboat/internal/types"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestLayout_EnsureLayout(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)
	require.NoError(t, l.EnsureLayout())

	for _, name := range []string{DatabaseDirName, SystemDirName, TempDirName} {
		fi, err := os.Stat(filepath.Join(root, name))
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	}
}

func TestLayout_NewArtifactPath(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)
	l.now = func() time.Time { return time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC) }

	tests := []struct {
		name     string
		kind     types.BackupKind
		typ      types.BackupType
		ext      string
		dir      string
		expected string
	}{
		{
			name:     "database dump",
			kind:     types.BackupKindDatabase,
			typ:      types.BackupTypeFull,
			ext:      ".sql.gz",
			dir:      filepath.Join(root, DatabaseDirName),
			expected: `^nightly_full_20260301T020000_[a-z0-9]{8}\.sql\.gz$`,
		},
		{
			name:     "system archive",
			kind:     types.BackupKindSystem,
			typ:      types.BackupTypeFilesOnly,
			ext:      ".tar.gz",
			dir:      filepath.Join(root, SystemDirName),
			expected: `^nightly_files_only_20260301T020000_[a-z0-9]{8}\.tar\.gz$`,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := l.NewArtifactPath(test.kind, "Nightly", test.typ, test.ext)
			require.NoError(t, err)
			assert.Equal(t, test.dir, filepath.Dir(got))
			assert.Regexp(t, regexp.MustCompile(test.expected), filepath.Base(got))
		})
	}

	a, _ := l.NewArtifactPath(types.BackupKindDatabase, "x", types.BackupTypeFull, ".sql")
	b, _ := l.NewArtifactPath(types.BackupKindDatabase, "x", types.BackupTypeFull, ".sql")
	assert.NotEqual(t, a, b)
}

func TestLayout_ObjectKey(t *testing.T) {
	l := NewLayout("/var/lifeboat/backups")
	assert.Equal(t, "database/a.sql.gz", l.ObjectKey("/var/lifeboat/backups/database/a.sql.gz"))
}

func TestFSStorage(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStorage(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))
	assert.Equal(t, TypeFS, s.Type())

	content := "select 1;"
	require.NoError(t, s.Save(ctx, "database/a.sql", File{
		Content: io.NopCloser(strings.NewReader(content)),
		Name:    "a.sql",
		Size:    int64(len(content)),
	}))

	f, err := s.Get(ctx, "database/a.sql")
	require.NoError(t, err)
	got, err := io.ReadAll(f.Content)
	require.NoError(t, err)
	_ = f.Content.Close()
	assert.Equal(t, content, string(got))
	assert.Equal(t, int64(len(content)), f.Size)

	require.NoError(t, s.Delete(ctx, "database/a.sql"))
	require.NoError(t, s.Delete(ctx, "database/a.sql"))
	_, err = s.Get(ctx, "database/a.sql")
	assert.Error(t, err)

	assert.Error(t, s.Save(ctx, "../escape", File{Content: io.NopCloser(strings.NewReader(""))}))
}

func TestFile_ContentType(t *testing.T) {
	assert.Equal(t, "application/gzip", File{Name: "a.tar.gz"}.ContentType())
	assert.Equal(t, "application/zstd", File{Name: "a.sql.zst"}.ContentType())
	assert.Equal(t, "application/octet-stream", File{Name: "blob"}.ContentType())
}
