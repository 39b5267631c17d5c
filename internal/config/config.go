// Package config loads runtime configuration from a YAML file and
// SYNCPAD_* environment variables, with sensible defaults for local use.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings for both the server and the sync daemon.
type Config struct {
	// StateDir is where the sync daemon keeps its local state files.
	StateDir string `yaml:"state_dir" mapstructure:"state_dir"`

	// DatabasePath is the server's SQLite file.
	DatabasePath string `yaml:"database_path" mapstructure:"database_path"`

	// ListenAddr is the server bind address.
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr"`

	Remote RemoteConfig `yaml:"remote" mapstructure:"remote"`
	Parse  ParseConfig  `yaml:"parse" mapstructure:"parse"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// RemoteConfig points the sync daemon at the task service.
type RemoteConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Token   string `yaml:"token" mapstructure:"token"`

	// SyncInterval is the period between full reconciliation passes.
	SyncInterval time.Duration `yaml:"sync_interval" mapstructure:"sync_interval"`
}

// ParseConfig configures quick-add parsing. With an empty APIKey the local
// heuristic parser is used.
type ParseConfig struct {
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
	Model  string `yaml:"model" mapstructure:"model"`
}

// LogConfig configures rotating file logging. With an empty File logs go to
// stderr.
type LogConfig struct {
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
}

// Default returns the configuration used when nothing is provided.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".syncpad")
	return &Config{
		StateDir:     filepath.Join(base, "state"),
		DatabasePath: filepath.Join(base, "syncpad.db"),
		ListenAddr:   ":8484",
		Remote: RemoteConfig{
			BaseURL:      "http://localhost:8484",
			SyncInterval: 5 * time.Minute,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads configuration from path (optional) and the environment.
// Environment variables use the SYNCPAD prefix with underscores, e.g.
// SYNCPAD_REMOTE_TOKEN overrides remote.token.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("SYNCPAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so every
	// overridable key is bound explicitly.
	for _, key := range []string{
		"state_dir", "database_path", "listen_addr",
		"remote.base_url", "remote.token", "remote.sync_interval",
		"parse.api_key", "parse.model",
		"log.file", "log.max_size_mb", "log.max_backups",
	} {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Remote.SyncInterval <= 0 {
		cfg.Remote.SyncInterval = 5 * time.Minute
	}
	return cfg, nil
}
