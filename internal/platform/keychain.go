package platform

import (
	"errors"
	"os"
	"path/filepath"
)

var ErrKeychainMiss = errors.New("platform: key not found")

// Keychain holds small device-local secrets, first of all the key that
// seals the on-disk store. OS keystore backends (Keychain Services,
// libsecret, DPAPI) slot in behind this interface; the fallback keeps the
// secret in a mode-0600 file under the config directory.
type Keychain interface {
	Store(keyID string, secret []byte) error
	Load(keyID string) ([]byte, error)
	Delete(keyID string) error
}

type fileKeychain struct {
	dir string
}

// NewKeychain returns the file-backed keychain rooted at dir.
func NewKeychain(dir string) Keychain {
	return &fileKeychain{dir: dir}
}

func (f *fileKeychain) path(keyID string) string {
	return filepath.Join(f.dir, keyID+".key")
}

func (f *fileKeychain) Store(keyID string, secret []byte) error {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(f.path(keyID), secret, 0o600)
}

func (f *fileKeychain) Load(keyID string) ([]byte, error) {
	b, err := os.ReadFile(f.path(keyID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrKeychainMiss
	}
	return b, err
}

func (f *fileKeychain) Delete(keyID string) error {
	err := os.Remove(f.path(keyID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
