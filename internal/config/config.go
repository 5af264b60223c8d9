// Package config loads server configuration from defaults, an optional YAML
// file and PROCJOBS_-prefixed environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// BaseURL is the external base URL used in generated links. Empty
	// yields relative hrefs.
	BaseURL string `mapstructure:"base_url"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Path is the SQLite database path, or ":memory:" for an ephemeral
	// store.
	Path string `mapstructure:"path"`
}

// ExecConfig holds execution negotiation settings.
type ExecConfig struct {
	// MaxSyncWait is the server-configured maximum synchronous wait in
	// seconds (W_max).
	MaxSyncWait int `mapstructure:"max_sync_wait"`

	// PollInterval is the cadence of status polls during a synchronous
	// wait.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// PagingConfig bounds listing windows.
type PagingConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// ProcessConfig declares one executable process and its capabilities.
type ProcessConfig struct {
	ID string `mapstructure:"id"`

	// Provider names the remote service hosting the process; empty for
	// local processes.
	Provider string `mapstructure:"provider"`

	Workflow bool `mapstructure:"workflow"`

	// Sync/Async declare the supported execution modes.
	Sync  bool `mapstructure:"sync"`
	Async bool `mapstructure:"async"`
}

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Exec      ExecConfig      `mapstructure:"exec"`
	Paging    PagingConfig    `mapstructure:"paging"`
	LogLevel  string          `mapstructure:"log_level"`
	Processes []ProcessConfig `mapstructure:"processes"`
}

// Load reads configuration. path may name an explicit config file; when
// empty the loader searches the working directory for procjobs.yaml.
func Load(_ context.Context, path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.base_url", "")
	v.SetDefault("store.path", "procjobs.db")
	v.SetDefault("exec.max_sync_wait", 20)
	v.SetDefault("exec.poll_interval", time.Second)
	v.SetDefault("paging.default_limit", 10)
	v.SetDefault("paging.max_limit", 100)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("PROCJOBS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("procjobs")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Exec.MaxSyncWait < 0 {
		return fmt.Errorf("max_sync_wait must be non-negative, got %d", c.Exec.MaxSyncWait)
	}
	if c.Paging.DefaultLimit <= 0 {
		return fmt.Errorf("default_limit must be positive, got %d", c.Paging.DefaultLimit)
	}
	if c.Paging.MaxLimit < c.Paging.DefaultLimit {
		return fmt.Errorf("max_limit %d is below default_limit %d", c.Paging.MaxLimit, c.Paging.DefaultLimit)
	}
	seen := make(map[string]bool, len(c.Processes))
	for _, p := range c.Processes {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("process entry with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate process id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
