// Package config loads taskweave settings from a YAML file with sane
// defaults, and can watch the file for edits so a running daemon picks
// up changes without a restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the CLI and daemon read.
type Config struct {
	// Store is the path to the local SQLite database.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Remote configures the backend the engine syncs against.
	Remote RemoteConfig `yaml:"remote" mapstructure:"remote"`

	// Sync configures the auto-sync scheduler.
	Sync SyncConfig `yaml:"sync" mapstructure:"sync"`

	// Dashboard configures the WebSocket monitoring endpoint.
	Dashboard DashboardConfig `yaml:"dashboard" mapstructure:"dashboard"`

	// Log configures daemon log output.
	Log LogConfig `yaml:"log" mapstructure:"log"`
}

type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type RemoteConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type SyncConfig struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

type DashboardConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	Port    int  `yaml:"port" mapstructure:"port"`
}

type LogConfig struct {
	// File is the daemon log path. Empty means stderr only.
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".taskweave")
	return &Config{
		Store: StoreConfig{
			Path: filepath.Join(base, "tasks.db"),
		},
		Remote: RemoteConfig{
			BaseURL: "http://localhost:8375",
			Timeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			Interval: 30 * time.Second,
		},
		Dashboard: DashboardConfig{
			Enabled: false,
			Port:    8376,
		},
		Log: LogConfig{
			File:       filepath.Join(base, "daemon.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// DefaultPath returns the config file location used when none is given.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".taskweave", "config.yaml")
}

// Load reads the config file at path, layered over the defaults.
// A missing file is not an error; the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TASKWEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url must not be empty")
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port %d out of range", c.Dashboard.Port)
	}
	return nil
}
