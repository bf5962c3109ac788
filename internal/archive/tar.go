package archive

import (
	"archive/tar"
	"context"
	"github.com/pkg/errors"
	"io"
	"lifeboat/internal/types"
	"os"
	"path/filepath"
	"strings"
)

// Stats describes what went into or came out of an archive.
type Stats struct {
	Files int
	Bytes int64
}

// TarDir archives every regular file below src into dst. Entry names are
// relative to src. The context is checked between entries.
func TarDir(ctx context.Context, src, dst string, c types.CompressionType, progress ProgressFunc) (st Stats, err error) {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return st, errors.Wrap(err, "failed to create archive "+dst)
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
	}()

	cw, err := NewWriter(out, c)
	if err != nil {
		return st, err
	}
	tw := tar.NewWriter(cw)

	walkErr := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil || rel == "." {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		n, err := copyFileInto(tw, path)
		if err != nil {
			return errors.Wrap(err, "failed to add "+rel)
		}
		st.Files++
		st.Bytes += n
		if progress != nil {
			progress(st.Bytes)
		}
		return nil
	})
	if walkErr != nil {
		_ = tw.Close()
		_ = cw.Close()
		return st, walkErr
	}

	if err := tw.Close(); err != nil {
		return st, errors.Wrap(err, "failed to finalize tar stream")
	}
	if err := cw.Close(); err != nil {
		return st, errors.Wrap(err, "failed to flush compressor")
	}
	return st, out.Sync()
}

func copyFileInto(w io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, f)
}

// Extract unpacks src into dst. Entries escaping dst are rejected.
func Extract(ctx context.Context, src, dst string, c types.CompressionType) (Stats, error) {
	st := Stats{}
	in, err := os.Open(src)
	if err != nil {
		return st, errors.Wrap(err, "failed to open archive "+src)
	}
	defer in.Close()

	cr, err := NewReader(in, c)
	if err != nil {
		return st, errors.Wrap(err, "failed to read archive stream")
	}
	defer cr.Close()

	if err := os.MkdirAll(dst, 0o750); err != nil {
		return st, err
	}

	tr := tar.NewReader(cr)
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		header, err := tr.Next()
		if err == io.EOF {
			return st, nil
		}
		if err != nil {
			return st, errors.Wrap(err, "failed to read archive entry")
		}

		target, err := destPath(dst, header.Name)
		if err != nil {
			return st, err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return st, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return st, err
			}
			n, err := writeFile(target, tr, os.FileMode(header.Mode).Perm())
			if err != nil {
				return st, errors.Wrap(err, "failed to extract "+header.Name)
			}
			st.Files++
			st.Bytes += n
		}
	}
}

func destPath(dir, name string) (string, error) {
	p := filepath.Join(dir, filepath.FromSlash(name))
	if p != filepath.Clean(dir) && !strings.HasPrefix(p, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", errors.New("invalid file path in archive: " + name)
	}
	return p, nil
}

func writeFile(path string, r io.Reader, perm os.FileMode) (int64, error) {
	if perm == 0 {
		perm = 0o640
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return 0, err
	}
	defer out.Close()
	return io.Copy(out, r)
}
