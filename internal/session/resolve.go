package session

import (
	"os"

	"github.com/matheus3301/bolechat/internal/config"
)

const (
	DefaultSessionName = "main"
	EnvSession         = "BOLECHAT_SESSION"
)

// Resolve picks the active session name. The first non-empty source wins:
// the --session flag, $BOLECHAT_SESSION, default_session in config.toml,
// then "main".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv(EnvSession); env != "" {
		return env
	}
	if cfg, err := config.LoadOrDefault(ConfigPath(), EnvPath()); err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
