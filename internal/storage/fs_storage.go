package storage

import (
	"context"
	"github.com/pkg/errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type fsStorage struct {
	root string
}

// NewFSStorage keeps copies under root. Used for mounted offsite volumes.
func NewFSStorage(root string) (Storage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create storage root")
	}
	return &fsStorage{root: root}, nil
}

func (s fsStorage) resolve(location string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(location))
	if !strings.HasPrefix(p, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", errors.New("location escapes storage root: " + location)
	}
	return p, nil
}

func (s fsStorage) Save(ctx context.Context, location string, f File) error {
	p, err := s.resolve(location)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	out, err := os.Create(p)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, f.Content); err != nil {
		return errors.Wrap(err, "failed to write "+location)
	}
	return out.Sync()
}

func (s fsStorage) Get(ctx context.Context, location string) (*File, error) {
	p, err := s.resolve(location)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	r, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	return &File{Content: r, Name: filepath.Base(p), Size: fi.Size()}, nil
}

func (s fsStorage) Delete(ctx context.Context, location string) error {
	p, err := s.resolve(location)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s fsStorage) Ping(ctx context.Context) error {
	_, err := os.Stat(s.root)
	return err
}

func (s fsStorage) Type() Type {
	return TypeFS
}
