package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"github.com/pkg/errors"
	"io"
	"os"
	"strings"
)

// Checksum streams the file through SHA-256 and returns the lowercase hex digest.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to open "+path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrap(err, "failed to hash "+path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify fails when the digest of path differs from expected, ignoring hex case.
func Verify(path, expected string) error {
	got, err := Checksum(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, strings.TrimSpace(expected)) {
		return errors.Errorf("checksum mismatch: expected %s, got %s", expected, got)
	}
	return nil
}

func FileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
