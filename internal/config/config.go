// Package config provides configuration management for convertd using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8090
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultProbeTimeout   = 15 * time.Second
	defaultMaxConcurrency = 2
	defaultLogRingSize    = 2048
	defaultCancelGrace    = 2 * time.Second

	defaultJanitorSchedule = "@every 10m"
	defaultTaskRetention   = 30 * time.Minute
	defaultHistoryLimit    = 500
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	FFmpeg     FFmpegConfig     `mapstructure:"ffmpeg"`
	Conversion ConversionConfig `mapstructure:"conversion"`
	History    HistoryConfig    `mapstructure:"history"`
	Janitor    JanitorConfig    `mapstructure:"janitor"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// FFmpegConfig holds FFmpeg/FFprobe sidecar configuration.
type FFmpegConfig struct {
	// BinariesDir is the directory searched for ffmpeg-<target-triple>
	// sidecars. Empty means the directory of the running executable.
	BinariesDir string `mapstructure:"binaries_dir"`
	// BinaryPath / ProbePath override sidecar discovery entirely.
	BinaryPath string `mapstructure:"binary_path"`
	ProbePath  string `mapstructure:"probe_path"`
	// AllowPathFallback permits resolving plain "ffmpeg"/"ffprobe" names
	// from PATH when no sidecar is present.
	AllowPathFallback bool          `mapstructure:"allow_path_fallback"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
}

// ConversionConfig holds conversion pool configuration.
type ConversionConfig struct {
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	LogRingSize    int           `mapstructure:"log_ring_size"`
	CancelGrace    time.Duration `mapstructure:"cancel_grace"`
	// TempDir is the directory the janitor sweeps for orphaned convertd-*
	// scratch files. Empty means the OS temp dir.
	TempDir string `mapstructure:"temp_dir"`
}

// HistoryConfig holds the conversion history ledger configuration.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Limit   int    `mapstructure:"limit"`
}

// JanitorConfig holds scheduled maintenance configuration.
type JanitorConfig struct {
	Schedule      string        `mapstructure:"schedule"`
	TaskRetention time.Duration `mapstructure:"task_retention"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with CONVERTD_ and use underscores
// for nesting. Example: CONVERTD_SERVER_PORT=8090.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/convertd")
		v.AddConfigPath("$HOME/.convertd")
	}

	v.SetEnvPrefix("CONVERTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SetDefaults registers default values on the provided viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", "")

	v.SetDefault("ffmpeg.binaries_dir", "")
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.allow_path_fallback", true)
	v.SetDefault("ffmpeg.probe_timeout", defaultProbeTimeout)

	v.SetDefault("conversion.max_concurrency", defaultMaxConcurrency)
	v.SetDefault("conversion.log_ring_size", defaultLogRingSize)
	v.SetDefault("conversion.cancel_grace", defaultCancelGrace)
	v.SetDefault("conversion.temp_dir", "")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "convertd-history.db")
	v.SetDefault("history.limit", defaultHistoryLimit)

	v.SetDefault("janitor.schedule", defaultJanitorSchedule)
	v.SetDefault("janitor.task_retention", defaultTaskRetention)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	if c.Conversion.MaxConcurrency < 1 {
		return fmt.Errorf("conversion.max_concurrency must be at least 1, got %d", c.Conversion.MaxConcurrency)
	}
	if c.Conversion.LogRingSize < 1 {
		return fmt.Errorf("conversion.log_ring_size must be at least 1, got %d", c.Conversion.LogRingSize)
	}
	if c.Conversion.CancelGrace <= 0 {
		return fmt.Errorf("conversion.cancel_grace must be positive, got %s", c.Conversion.CancelGrace)
	}
	if c.FFmpeg.ProbeTimeout <= 0 {
		return fmt.Errorf("ffmpeg.probe_timeout must be positive, got %s", c.FFmpeg.ProbeTimeout)
	}
	if c.History.Enabled && c.History.Path == "" {
		return errors.New("history.path must be set when history is enabled")
	}
	if c.Janitor.TaskRetention <= 0 {
		return fmt.Errorf("janitor.task_retention must be positive, got %s", c.Janitor.TaskRetention)
	}

	return nil
}
