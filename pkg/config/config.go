// Package config loads and validates poolmon configuration from YAML files
// and CONNPOOL_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/trmlabs/connpool/pkg/pool"
	"github.com/trmlabs/connpool/pkg/resilience"
	"github.com/trmlabs/connpool/pkg/telemetry"
)

// Config is the top-level configuration.
type Config struct {
	Pool      pool.Config      `yaml:"pool" mapstructure:"pool"`
	Retry     RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Factory   FactoryConfig    `yaml:"factory" mapstructure:"factory"`
	Events    EventsConfig     `yaml:"events" mapstructure:"events"`
	Logging   LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry" mapstructure:"telemetry"`
}

// RetryConfig wraps the resilience retry settings with an enable switch.
type RetryConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	resilience.Config `yaml:",inline" mapstructure:",squash"`
}

// FactoryConfig selects and configures the bundled connection factory.
type FactoryConfig struct {
	Kind        string        `yaml:"kind" mapstructure:"kind"`                 // "tcp" or "sqlite"
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"` // tcp only
}

// EventsConfig configures the event bus.
type EventsConfig struct {
	BufferSize   int           `yaml:"buffer_size" mapstructure:"buffer_size"`
	DatabasePath string        `yaml:"database_path" mapstructure:"database_path"` // empty disables persistence
	Retention    time.Duration `yaml:"retention" mapstructure:"retention"`
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	OutputFile string `yaml:"output_file" mapstructure:"output_file"`
}

// DefaultConfig returns the default configuration values.
func DefaultConfig() *Config {
	return &Config{
		Pool: pool.DefaultConfig(),
		Retry: RetryConfig{
			Enabled: true,
			Config:  *resilience.DefaultConfig(),
		},
		Factory: FactoryConfig{
			Kind:        "tcp",
			DialTimeout: 5 * time.Second,
		},
		Events: EventsConfig{
			BufferSize:   256,
			DatabasePath: "",
			Retention:    7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LoadConfig loads configuration from the given file (or the default search
// paths when path is empty) and the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("poolmon")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.config/connpool")
		v.AddConfigPath("/etc/connpool")
	}

	v.SetEnvPrefix("CONNPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine, defaults apply.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration as YAML.
func (c *Config) SaveConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}

	switch c.Factory.Kind {
	case "tcp":
		if c.Factory.DialTimeout <= 0 {
			return fmt.Errorf("factory: dial_timeout must be positive")
		}
	case "sqlite":
	default:
		return fmt.Errorf("factory: unknown kind %q (must be 'tcp' or 'sqlite')", c.Factory.Kind)
	}

	if c.Events.BufferSize <= 0 {
		return fmt.Errorf("events: buffer_size must be positive")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: invalid level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console", "text":
	default:
		return fmt.Errorf("logging: invalid format %q", c.Logging.Format)
	}

	return nil
}
