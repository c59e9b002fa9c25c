package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoToken is returned when the session has never been logged in.
var ErrNoToken = errors.New("no token stored for session")

// LoadToken reads the bearer token saved for the session.
func LoadToken(name string) (string, error) {
	data, err := os.ReadFile(TokenPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// SaveToken writes the token with owner-only permissions. The write goes
// through a temp file so a crash never leaves a truncated token behind.
func SaveToken(name, token string) error {
	path := TokenPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return os.Rename(tmp, path)
}

// DeleteToken removes the stored token. Missing files are not an error.
func DeleteToken(name string) error {
	err := os.Remove(TokenPath(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// TokenFile is the token store of one named session.
type TokenFile string

func (f TokenFile) Load() (string, error) { return LoadToken(string(f)) }
func (f TokenFile) Save(token string) error { return SaveToken(string(f), token) }
func (f TokenFile) Delete() error { return DeleteToken(string(f)) }
