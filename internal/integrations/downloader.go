package integrations

import (
	"context"
	"fmt"
	"github.com/pkg/errors"
	"io"
	"lifeboat/internal/storage"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

type (
	// DownloadProgress receives bytes written so far and the expected total (0 when unknown).
	DownloadProgress func(done, total int64)

	Downloader interface {
		Download(ctx context.Context, source, dest string, expectedSize int64, progress DownloadProgress) (int64, error)
	}

	// BucketOpener returns object storage bound to a bucket.
	BucketOpener func(bucket string) (storage.Storage, error)

	downloader struct {
		client  *http.Client
		buckets BucketOpener
	}
)

// NewDownloader streams packages from http(s), s3://bucket/key or local paths.
// buckets may be nil when no object storage is configured.
func NewDownloader(client *http.Client, buckets BucketOpener) Downloader {
	if client == nil {
		client = &http.Client{}
	}
	return &downloader{client: client, buckets: buckets}
}

// Download copies source to dest. A positive expectedSize is a hard limit:
// the download fails once the body grows past it.
func (d *downloader) Download(ctx context.Context, source, dest string, expectedSize int64, progress DownloadProgress) (int64, error) {
	u, err := url.Parse(source)
	if err != nil {
		return 0, errors.Wrap(err, "invalid package location")
	}

	var (
		body io.ReadCloser
		size = expectedSize
	)
	switch u.Scheme {
	case "http", "https":
		body, size, err = d.openHTTP(ctx, source, expectedSize)
	case "s3":
		body, size, err = d.openObject(ctx, u, expectedSize)
	case "file", "":
		body, size, err = openLocal(u, source, expectedSize)
	default:
		return 0, errors.Errorf("unsupported package scheme: %s", u.Scheme)
	}
	if err != nil {
		return 0, err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create "+dest)
	}
	defer out.Close()

	// a declared size caps the read one byte past it, enough to tell an oversized package
	var src io.Reader = &contextReader{ctx: ctx, r: body}
	if expectedSize > 0 {
		src = io.LimitReader(src, expectedSize+1)
	}
	w := &progressWriter{w: out, total: size, progress: progress}
	n, err := io.Copy(w, src)
	if err != nil {
		return n, errors.Wrap(err, "download interrupted")
	}
	if expectedSize > 0 && n > expectedSize {
		return n, errors.Errorf("package size mismatch: larger than the declared %d bytes", expectedSize)
	}
	return n, out.Sync()
}

func (d *downloader) openHTTP(ctx context.Context, source string, expectedSize int64) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to fetch package")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, 0, fmt.Errorf("package download failed: %s", resp.Status)
	}
	size := expectedSize
	if size <= 0 && resp.ContentLength > 0 {
		size = resp.ContentLength
	}
	return resp.Body, size, nil
}

func (d *downloader) openObject(ctx context.Context, u *url.URL, expectedSize int64) (io.ReadCloser, int64, error) {
	if d.buckets == nil {
		return nil, 0, errors.New("object storage is not configured")
	}
	st, err := d.buckets(u.Host)
	if err != nil {
		return nil, 0, err
	}
	f, err := st.Get(ctx, strings.TrimPrefix(u.Path, "/"))
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to fetch package object")
	}
	size := expectedSize
	if size <= 0 {
		size = f.Size
	}
	return f.Content, size, nil
}

func openLocal(u *url.URL, source string, expectedSize int64) (io.ReadCloser, int64, error) {
	p := source
	if u.Scheme == "file" {
		p = u.Path
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to open package")
	}
	size := expectedSize
	if size <= 0 {
		if fi, err := f.Stat(); err == nil {
			size = fi.Size()
		}
	}
	return f, size, nil
}

type progressWriter struct {
	w        io.Writer
	done     int64
	total    int64
	progress DownloadProgress
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)
	if p.progress != nil {
		p.progress(p.done, p.total)
	}
	return n, err
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(b)
}
