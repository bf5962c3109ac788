package archive

import (
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"io"
	"lifeboat/internal/types"
	"os"
	"path/filepath"
)

// ProgressFunc receives the running count of bytes consumed from the source.
type ProgressFunc func(processed int64)

type countingReader struct {
	r        io.Reader
	n        int64
	progress ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.progress != nil && n > 0 {
		c.progress(c.n)
	}
	return n, err
}

// NewWriter wraps w with the codec. The returned closer flushes the codec only, not w.
func NewWriter(w io.Writer, c types.CompressionType) (io.WriteCloser, error) {
	switch c {
	case types.CompressionGzip:
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case types.CompressionZstd:
		return zstd.NewWriter(w)
	case types.CompressionNone, "":
		return nopWriteCloser{w}, nil
	default:
		return nil, errors.Errorf("unsupported compression: %s", c)
	}
}

func NewReader(r io.Reader, c types.CompressionType) (io.ReadCloser, error) {
	switch c {
	case types.CompressionGzip:
		return gzip.NewReader(r)
	case types.CompressionZstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	case types.CompressionNone, "":
		return io.NopCloser(r), nil
	default:
		return nil, errors.Errorf("unsupported compression: %s", c)
	}
}

// Compress writes src to dst through the codec and returns the number of raw bytes read.
// src and dst must be different files.
func Compress(src, dst string, c types.CompressionType, progress ProgressFunc) (int64, error) {
	if samePath(src, dst) {
		return 0, errors.Errorf("compress source and destination are the same file: %s", src)
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, errors.Wrap(err, "failed to open "+src)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create "+dst)
	}
	defer out.Close()

	cw, err := NewWriter(out, c)
	if err != nil {
		return 0, err
	}

	cr := &countingReader{r: in, progress: progress}
	if _, err := io.Copy(cw, cr); err != nil {
		_ = cw.Close()
		return cr.n, errors.Wrap(err, "failed to compress "+src)
	}
	if err := cw.Close(); err != nil {
		return cr.n, errors.Wrap(err, "failed to flush compressor")
	}
	return cr.n, out.Sync()
}

func Decompress(src, dst string, c types.CompressionType) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "failed to open "+src)
	}
	defer in.Close()

	cr, err := NewReader(in, c)
	if err != nil {
		return errors.Wrap(err, "failed to read compressed stream")
	}
	defer cr.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return errors.Wrap(err, "failed to create "+dst)
	}
	defer out.Close()

	if _, err := io.Copy(out, cr); err != nil {
		return errors.Wrap(err, "failed to decompress "+src)
	}
	return out.Sync()
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func samePath(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
