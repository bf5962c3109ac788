package auth

import (
	"github.com/pkg/errors"
	"github.com/zalando/go-keyring"
)

const (
	appName = "lifeboat"
	keyName = "access-key"
)

// Save stores the admin API access key in the OS keychain, never on disk.
func Save(key string) error {
	return keyring.Set(appName, keyName, key)
}

func Get() (string, error) {
	key, err := keyring.Get(appName, keyName)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", errors.New("no access key stored, run 'lifeboat config init'")
	}
	return key, err
}

func Clear() error {
	err := keyring.Delete(appName, keyName)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
