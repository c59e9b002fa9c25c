package session

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
)

// BaseDir returns ~/.bolechat, or $BOLECHAT_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("BOLECHAT_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".bolechat")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// SocketPath returns the UDS socket path for a session.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// CachePath returns the sqlite cache that mirrors conversations and messages.
func CachePath(name string) string {
	return filepath.Join(Dir(name), "cache.db")
}

// TokenPath returns the file holding the session's bearer token.
func TokenPath(name string) string {
	return filepath.Join(Dir(name), "token")
}

func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "bolechatd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnvPath returns the optional .env file read for overrides.
func EnvPath() string {
	return filepath.Join(BaseDir(), ".env")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// List returns the names of the sessions that have a directory under
// BaseDir, sorted. Directories whose names are not valid session names are
// skipped.
func List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(BaseDir(), "sessions"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
