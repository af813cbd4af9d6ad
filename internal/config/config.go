// Package config loads settings from defaults, an optional TOML file and
// HAGOTCHI_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"

	"github.com/julianstephens/hagotchi/internal/constants"
	"github.com/julianstephens/hagotchi/internal/keyring"
	"github.com/julianstephens/hagotchi/internal/remote"
	"github.com/julianstephens/hagotchi/internal/utils"
)

// ErrNoConnString is returned when no connection string is set in the
// environment or the keyring.
var ErrNoConnString = errors.New("no remote connection string configured")

type Config struct {
	UserID    string `toml:"user_id" env:"USER_ID"`
	Timezone  string `toml:"timezone" env:"TIMEZONE"`
	CachePath string `toml:"cache_path" env:"CACHE_PATH"`
	Debug     bool   `toml:"debug" env:"DEBUG"`

	Remote     RemoteConfig `toml:"remote" envPrefix:"REMOTE_"`
	Sync       SyncConfig   `toml:"sync" envPrefix:"SYNC_"`
	Companions []string     `toml:"companions" env:"COMPANIONS"`
}

type RemoteConfig struct {
	// ConnString never comes from the config file.
	ConnString string `toml:"-" env:"CONN"`
	// ConnectTimeout bounds the first connection attempt, in seconds.
	ConnectTimeout int `toml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

func (r RemoteConfig) Connect() time.Duration { return seconds(r.ConnectTimeout) }

// SyncConfig holds the sync timings in seconds.
type SyncConfig struct {
	InitialLoadTimeout int `toml:"initial_load_timeout" env:"INITIAL_LOAD_TIMEOUT"`
	FlushActionTimeout int `toml:"flush_action_timeout" env:"FLUSH_ACTION_TIMEOUT"`
	FlushInterval      int `toml:"flush_interval" env:"FLUSH_INTERVAL"`
	RefreshTimeout     int `toml:"refresh_timeout" env:"REFRESH_TIMEOUT"`
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (s SyncConfig) InitialLoad() time.Duration { return seconds(s.InitialLoadTimeout) }
func (s SyncConfig) FlushAction() time.Duration { return seconds(s.FlushActionTimeout) }
func (s SyncConfig) Flush() time.Duration       { return seconds(s.FlushInterval) }
func (s SyncConfig) Refresh() time.Duration     { return seconds(s.RefreshTimeout) }

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Timezone:  constants.DefaultTimezone,
		CachePath: filepath.Join(constants.DefaultConfigDir, constants.DefaultCacheFile),
		Remote:    RemoteConfig{ConnectTimeout: 10},
		Sync: SyncConfig{
			InitialLoadTimeout: int(constants.DefaultInitialLoadTimeout / time.Second),
			FlushActionTimeout: int(constants.DefaultFlushActionTimeout / time.Second),
			FlushInterval:      int(constants.DefaultFlushInterval / time.Second),
			RefreshTimeout:     int(constants.DefaultRefreshTimeout / time.Second),
		},
		Companions: append([]string(nil), constants.DefaultCompanions...),
	}
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(constants.DefaultConfigDir, constants.DefaultConfigFile)
}

// Load reads path on top of the defaults, then applies the environment. A
// missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	path, err := ExpandPath(path)
	if err != nil {
		return cfg, err
	}
	if err := decodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: constants.EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	if cfg.CachePath, err = ExpandPath(cfg.CachePath); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	dec := toml.NewDecoder(file)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config %s: %s", path, strict.String())
		}
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

// Validate checks the settings that would otherwise fail late.
func (c Config) Validate() error {
	if !utils.ValidateTimezone(c.Timezone) {
		return fmt.Errorf("invalid timezone: %s", c.Timezone)
	}
	if c.CachePath == "" {
		return errors.New("cache_path cannot be empty")
	}
	for name, v := range map[string]int{
		"remote.connect_timeout":    c.Remote.ConnectTimeout,
		"sync.initial_load_timeout": c.Sync.InitialLoadTimeout,
		"sync.flush_action_timeout": c.Sync.FlushActionTimeout,
		"sync.flush_interval":       c.Sync.FlushInterval,
		"sync.refresh_timeout":      c.Sync.RefreshTimeout,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if len(c.Companions) == 0 {
		return errors.New("companions cannot be empty")
	}
	return nil
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	return utils.LoadLocation(c.Timezone)
}

// Save writes the file-backed settings to path, creating its directory.
func (c Config) Save(path string) error {
	path, err := ExpandPath(path)
	if err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ResolveConnString returns the remote connection string, from the
// environment first and the OS keyring second. A string from the
// environment must not embed a password; the keyring is trusted with one.
func (c Config) ResolveConnString() (string, error) {
	if c.Remote.ConnString != "" {
		if err := remote.ValidateConnString(c.Remote.ConnString); err != nil {
			return "", err
		}
		return c.Remote.ConnString, nil
	}

	connStr, err := keyring.GetConnectionString()
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", ErrNoConnString
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrNoConnString, err)
	}
	if err := remote.ValidateConnString(connStr); err != nil && !errors.Is(err, remote.ErrEmbeddedCredentials) {
		return "", err
	}
	return connStr, nil
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
