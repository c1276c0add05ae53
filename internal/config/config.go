// Package config loads settings from a YAML file, SENJA_* environment
// variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rcliao/senja-sync/internal/chunker"
	"github.com/rcliao/senja-sync/internal/remote"
)

// EnvPrefix prefixes every environment variable, e.g. SENJA_ENDPOINT or
// SENJA_RETRY_MAX_ATTEMPTS.
const EnvPrefix = "SENJA"

// Config is the resolved configuration.
type Config struct {
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`
	DB         string        `mapstructure:"db" yaml:"db"`
	ChunkLimit int           `mapstructure:"chunk_limit" yaml:"chunk_limit"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retry      Retry         `mapstructure:"retry" yaml:"retry"`
	Log        Log           `mapstructure:"log" yaml:"log"`
}

// Retry configures retries of remote calls.
type Retry struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialWait time.Duration `mapstructure:"initial_wait" yaml:"initial_wait"`
	MaxWait     time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
}

// Log configures logging.
type Log struct {
	Level     string `mapstructure:"level" yaml:"level"`
	File      string `mapstructure:"file" yaml:"file"`
	MaxSizeMB int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
}

// Dir is the default home of the config file and the cache database.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".senja-sync")
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	retry := remote.DefaultRetryConfig()
	v.SetDefault("endpoint", "")
	v.SetDefault("db", filepath.Join(Dir(), "cache.db"))
	v.SetDefault("chunk_limit", chunker.DefaultLimit)
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("retry.initial_wait", retry.InitialWait)
	v.SetDefault("retry.max_wait", retry.MaxWait)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
}

// Load reads configuration into a Config. An explicit file must exist; the
// default file (~/.senja-sync/config.yaml) is optional.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.ChunkLimit < 1 {
		return fmt.Errorf("chunk_limit must be at least 1, got %d", c.ChunkLimit)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Remote returns the transport settings.
func (c *Config) Remote() remote.Config {
	retry := remote.DefaultRetryConfig()
	retry.MaxAttempts = c.Retry.MaxAttempts
	retry.InitialWait = c.Retry.InitialWait
	retry.MaxWait = c.Retry.MaxWait
	return remote.Config{
		Endpoint: c.Endpoint,
		Timeout:  c.Timeout,
		Retry:    retry,
	}
}
