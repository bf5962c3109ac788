package archive

import (
	"context"
	"github.com/pkg/errors"
	"os"
	"path/filepath"
	"time"
)

// CopyDir mirrors regular files from src into dst, overwriting files that
// already exist and leaving extra files in dst alone. When modifiedAfter is
// non-zero only files changed after it are copied. A missing src copies nothing.
func CopyDir(ctx context.Context, src, dst string, modifiedAfter time.Time) (Stats, error) {
	st := Stats{}
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return st, nil
	}

	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if !modifiedAfter.IsZero() && !info.ModTime().After(modifiedAfter) {
			return nil
		}

		n, err := CopyFile(path, target)
		if err != nil {
			return err
		}
		st.Files++
		st.Bytes += n
		return nil
	})
	if err != nil {
		return st, errors.Wrap(err, "failed to copy "+src)
	}
	return st, nil
}

func CopyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return 0, err
	}
	return writeFile(dst, in, fi.Mode().Perm())
}

// DirSize sums regular file sizes below dir.
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
