package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment overrides. Process environment wins over .env files.
const (
	EnvAPIURL    = "BOLECHAT_API_URL"
	EnvSocketURL = "BOLECHAT_SOCKET_URL"
	EnvToken     = "BOLECHAT_TOKEN"
	EnvTimeout   = "BOLECHAT_TIMEOUT"
)

// Config represents the global ~/.bolechat/config.toml.
type Config struct {
	DefaultSession string    `toml:"default_session"`
	API            API       `toml:"api"`
	Breaker        Breaker   `toml:"breaker"`
	Reconnect      Reconnect `toml:"reconnect"`
	Sync           Sync      `toml:"sync"`

	// Token is only ever populated from the environment.
	Token string `toml:"-"`
}

type API struct {
	BaseURL           string        `toml:"base_url"`
	SocketURL         string        `toml:"socket_url"`
	Timeout           time.Duration `toml:"timeout"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	Burst             int           `toml:"burst"`
}

type Breaker struct {
	Failures uint32        `toml:"failures"`
	Cooldown time.Duration `toml:"cooldown"`
}

type Reconnect struct {
	MinBackoff time.Duration `toml:"min_backoff"`
	MaxBackoff time.Duration `toml:"max_backoff"`
}

type Sync struct {
	PageSize        int           `toml:"page_size"`
	OutboxInterval  time.Duration `toml:"outbox_interval"`
	OutboxRetention time.Duration `toml:"outbox_retention"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		API: API{
			BaseURL:           "http://localhost:3000/api",
			Timeout:           10 * time.Second,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Breaker: Breaker{
			Failures: 5,
			Cooldown: 30 * time.Second,
		},
		Reconnect: Reconnect{
			MinBackoff: time.Second,
			MaxBackoff: 30 * time.Second,
		},
		Sync: Sync{
			PageSize:        50,
			OutboxInterval:  5 * time.Second,
			OutboxRetention: 24 * time.Hour,
		},
	}
}

// Load reads config from the given path on top of the defaults, then
// applies overrides from envFiles and the process environment.
// Returns an error if the file is missing.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(envFiles); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, but a missing config file yields the defaults.
func LoadOrDefault(path string, envFiles ...string) (*Config, error) {
	cfg, err := Load(path, envFiles...)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		if err := cfg.applyEnv(envFiles); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return cfg, err
}

func (c *Config) applyEnv(envFiles []string) error {
	fileVals := map[string]string{}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		vals, err := godotenv.Read(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range vals {
			fileVals[k] = v
		}
	}
	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return fileVals[key]
	}

	if v := lookup(EnvAPIURL); v != "" {
		c.API.BaseURL = v
	}
	if v := lookup(EnvSocketURL); v != "" {
		c.API.SocketURL = v
	}
	if v := lookup(EnvToken); v != "" {
		c.Token = v
	}
	if v := lookup(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			if secs, convErr := strconv.Atoi(v); convErr == nil {
				d = time.Duration(secs) * time.Second
			} else {
				return fmt.Errorf("%s: %w", EnvTimeout, err)
			}
		}
		c.API.Timeout = d
	}
	return nil
}

// SocketURL returns the push endpoint, derived from the API base URL
// when not configured explicitly.
func (c *Config) SocketURL() string {
	if c.API.SocketURL != "" {
		return c.API.SocketURL
	}
	base := c.API.BaseURL
	if len(base) >= 4 && base[len(base)-4:] == "/api" {
		base = base[:len(base)-4]
	}
	return base + "/ws"
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
