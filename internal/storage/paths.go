package storage

import (
	"fmt"
	"github.com/pkg/errors"
	"lifeboat/internal/misc"
	"lifeboat/internal/types"
	"os"
	"path/filepath"
	"time"
)

const (
	DatabaseDirName = "database"
	SystemDirName   = "system"
	TempDirName     = "temp"

	timestampLayout = "20060102T150405"
	randomSuffixLen = 8
)

// Layout is the artifact tree under the backup root:
//
//	<root>/database/  one dump file per database backup
//	<root>/system/    one tar archive per system backup
//	<root>/temp/<id>/ staging for a single operation
type Layout struct {
	Root string
	ids  misc.RandomIdGenerator
	now  func() time.Time
}

func NewLayout(root string) *Layout {
	return &Layout{Root: root, ids: misc.DefaultRandomIdGenerator, now: time.Now}
}

func (l *Layout) EnsureLayout() error {
	for _, dir := range []string{l.DatabaseDir(), l.SystemDir(), l.TempDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.Wrap(err, "failed to create "+dir)
		}
	}
	return nil
}

func (l *Layout) DatabaseDir() string { return filepath.Join(l.Root, DatabaseDirName) }
func (l *Layout) SystemDir() string   { return filepath.Join(l.Root, SystemDirName) }
func (l *Layout) TempDir() string     { return filepath.Join(l.Root, TempDirName) }

// StagingDir returns the scratch directory of one operation. It is not created.
func (l *Layout) StagingDir(operationID string) string {
	return filepath.Join(l.TempDir(), operationID)
}

// NewArtifactPath derives a unique path: <dir>/<prefix>_<type>_<timestamp>_<random><ext>.
func (l *Layout) NewArtifactPath(kind types.BackupKind, prefix string, backupType types.BackupType, ext string) (string, error) {
	suffix, err := l.ids.Generate(randomSuffixLen)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate artifact suffix")
	}

	dir := l.DatabaseDir()
	if kind == types.BackupKindSystem {
		dir = l.SystemDir()
	}

	name := fmt.Sprintf("%s_%s_%s_%s%s", misc.SafeName(prefix), backupType, l.now().UTC().Format(timestampLayout), suffix, ext)
	return filepath.Join(dir, name), nil
}

// ObjectKey is the offsite location of an artifact, relative to the backup root.
func (l *Layout) ObjectKey(artifactPath string) string {
	rel, err := filepath.Rel(l.Root, artifactPath)
	if err != nil {
		return filepath.Base(artifactPath)
	}
	return filepath.ToSlash(rel)
}
