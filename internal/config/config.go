package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	HTTP     HTTPConfig     `toml:"http"`
	State    StateConfig    `toml:"state"`
	Platform PlatformConfig `toml:"platform"`
	Sync     SyncConfig     `toml:"sync"`
}

type HTTPConfig struct {
	Addr      string `toml:"addr"`
	AuthToken string `toml:"auth_token"`
}

type StateConfig struct {
	// DSN selects the storage backend: a bare path or file:// for the JSON
	// file, memory:// for ephemeral state, postgres:// for a shared
	// database.
	DSN string `toml:"dsn"`
}

type PlatformConfig struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
}

type SyncConfig struct {
	DebounceDelay      time.Duration `toml:"debounce_delay"`
	ProbeInterval      time.Duration `toml:"probe_interval"`
	BackgroundInterval time.Duration `toml:"background_interval"`
	MaxAttempts        int           `toml:"max_attempts"`
	StartOffline       bool          `toml:"start_offline"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:8787",
		},
		State: StateConfig{
			DSN: "offsync-state.json",
		},
		Sync: SyncConfig{
			DebounceDelay:      500 * time.Millisecond,
			ProbeInterval:      10 * time.Second,
			BackgroundInterval: 5 * time.Minute,
			MaxAttempts:        3,
		},
	}
}

// Load builds the effective configuration: defaults, then the TOML file if
// one is given, then OFFSYNC_* environment variables on top.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = strings.TrimSpace(path)
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.HTTP.Addr, "OFFSYNC_ADDR")
	setString(&cfg.HTTP.AuthToken, "OFFSYNC_AUTH_TOKEN")
	setString(&cfg.State.DSN, "OFFSYNC_STATE_DSN")
	setString(&cfg.Platform.BaseURL, "OFFSYNC_API_BASE_URL")
	setString(&cfg.Platform.Token, "OFFSYNC_API_TOKEN")
	setDuration(&cfg.Sync.DebounceDelay, "OFFSYNC_DEBOUNCE")
	setDuration(&cfg.Sync.ProbeInterval, "OFFSYNC_PROBE_INTERVAL")
	setDuration(&cfg.Sync.BackgroundInterval, "OFFSYNC_BACKGROUND_SYNC_INTERVAL")
	setInt(&cfg.Sync.MaxAttempts, "OFFSYNC_MAX_ATTEMPTS")
	setBool(&cfg.Sync.StartOffline, "OFFSYNC_START_OFFLINE")
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return fmt.Errorf("http addr must be specified")
	}
	if c.Sync.DebounceDelay <= 0 {
		return fmt.Errorf("sync debounce_delay must be positive")
	}
	if c.Sync.ProbeInterval <= 0 {
		return fmt.Errorf("sync probe_interval must be positive")
	}
	if c.Sync.BackgroundInterval <= 0 {
		return fmt.Errorf("sync background_interval must be positive")
	}
	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("sync max_attempts must be positive")
	}
	return nil
}

func setString(dst *string, name string) {
	value := strings.TrimSpace(os.Getenv(name))
	if value != "" {
		*dst = value
	}
}

func setDuration(dst *time.Duration, name string) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return
	}
	if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
		*dst = parsed
	}
}

func setInt(dst *int, name string) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return
	}
	if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
		*dst = parsed
	}
}

func setBool(dst *bool, name string) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return
	}
	if parsed, err := strconv.ParseBool(raw); err == nil {
		*dst = parsed
	}
}
