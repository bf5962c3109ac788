package config

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"io"
	"os"
	"path/filepath"
)

const (
	fileName = ".lifeboat.yml"
)

var ErrNotConfigured = errors.New("lifeboat client is not configured, run 'lifeboat config init'")

type (
	Config struct {
		Host     string `yaml:"host"`
		TenantID string `yaml:"tenantID,omitempty"`
		Role     string `yaml:"role,omitempty"`
	}
)

// Path is the config file location; LIFEBOAT_CONFIG overrides the default in the home dir.
func Path() (string, error) {
	if p := os.Getenv("LIFEBOAT_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, fileName), nil
}

func Parse() (Config, error) {
	c := Config{}
	path, err := Path()
	if err != nil {
		return c, err
	}
	fi, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, ErrNotConfigured
		}
		return c, err
	}
	defer fi.Close()

	value, err := io.ReadAll(fi)
	if err != nil {
		return c, err
	}

	if err = yaml.Unmarshal(value, &c); err != nil {
		return c, errors.Wrap(err, "malformed client config")
	}
	if c.Host == "" {
		return c, ErrNotConfigured
	}
	return c, nil
}

func SaveConfig(c Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	value, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, value, 0o600)
}
