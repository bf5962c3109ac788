package config

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lifeboat.yml")
	t.Setenv("LIFEBOAT_CONFIG", path)

	_, err := Parse()
	assert.ErrorIs(t, err, ErrNotConfigured)

	want := Config{Host: "https://backup.example.com", TenantID: "acme", Role: "admin"}
	require.NoError(t, SaveConfig(want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParse_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lifeboat.yml")
	t.Setenv("LIFEBOAT_CONFIG", path)

	require.NoError(t, os.WriteFile(path, []byte("role: admin\n"), 0o600))
	_, err := Parse()
	assert.ErrorIs(t, err, ErrNotConfigured)

	require.NoError(t, os.WriteFile(path, []byte("host: [unterminated"), 0o600))
	_, err = Parse()
	assert.ErrorContains(t, err, "malformed client config")
}
