// Package config provides YAML-based configuration loading for the
// render server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. RENDERCORE_LOG_LEVEL.
const EnvPrefix = "RENDERCORE"

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Host     HostConfig     `mapstructure:"host" yaml:"host"`
	Dispatch DispatchConfig `mapstructure:"dispatch" yaml:"dispatch"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// ServerConfig controls the listening socket.
type ServerConfig struct {
	// Network: tcp or unix
	Network string `mapstructure:"network" yaml:"network"`
	// Address is host:port for tcp, a socket path for unix
	Address string `mapstructure:"address" yaml:"address"`
	// Codec: json or cbor
	Codec    string `mapstructure:"codec" yaml:"codec"`
	MaxFrame int    `mapstructure:"max_frame" yaml:"max_frame"`
}

// HostConfig controls the tick loop.
type HostConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DispatchConfig controls request dispatching.
type DispatchConfig struct {
	// ValidateResults checks handler results against their schema and
	// logs mismatches.
	ValidateResults bool `mapstructure:"validate_results" yaml:"validate_results"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
	// Format: console or json
	Format string `mapstructure:"format" yaml:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs" yaml:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation" yaml:"rotation"`
	Development bool           `mapstructure:"development" yaml:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable" yaml:"enable"`
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Network:  "tcp",
			Address:  "127.0.0.1:5000",
			Codec:    "json",
			MaxFrame: 3_670_016,
		},
		Host: HostConfig{
			TickInterval:    16 * time.Millisecond,
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/rendercore.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise from
// RENDERCORE_CONFIG or a rendercore.yaml in the usual locations. A
// missing file is not an error. Environment variables override file
// values; `.` and `-` in keys become `_`.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.network", cfg.Server.Network)
	v.SetDefault("server.address", cfg.Server.Address)
	v.SetDefault("server.codec", cfg.Server.Codec)
	v.SetDefault("server.max_frame", cfg.Server.MaxFrame)
	v.SetDefault("host.tick_interval", cfg.Host.TickInterval)
	v.SetDefault("host.shutdown_timeout", cfg.Host.ShutdownTimeout)
	v.SetDefault("dispatch.validate_results", cfg.Dispatch.ValidateResults)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rendercore")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".rendercore"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and normalizes enum-like fields.
func (c *Config) Validate() error {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	switch c.Log.Format {
	case "":
		c.Log.Format = "console"
	case "console", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	c.Server.Network = strings.ToLower(strings.TrimSpace(c.Server.Network))
	if c.Server.Network != "tcp" && c.Server.Network != "unix" {
		return fmt.Errorf("invalid server.network: %q", c.Server.Network)
	}
	if strings.TrimSpace(c.Server.Address) == "" {
		return errors.New("server.address is required")
	}
	c.Server.Codec = strings.ToLower(strings.TrimSpace(c.Server.Codec))
	if c.Server.Codec != "json" && c.Server.Codec != "cbor" {
		return fmt.Errorf("invalid server.codec: %q", c.Server.Codec)
	}
	if c.Server.MaxFrame <= 0 || c.Server.MaxFrame > 16_777_216 {
		return fmt.Errorf("invalid server.max_frame: %d", c.Server.MaxFrame)
	}

	if c.Host.TickInterval <= 0 {
		return fmt.Errorf("invalid host.tick_interval: %s", c.Host.TickInterval)
	}
	if c.Host.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid host.shutdown_timeout: %s", c.Host.ShutdownTimeout)
	}
	return nil
}

// Dump renders the effective configuration as YAML.
func Dump(c *Config) ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
