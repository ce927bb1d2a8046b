// Package config loads lambdaops configuration.
//
// Sources, lowest to highest precedence: built-in defaults, an optional
// lambdaops.yaml file, LAMBDAOPS_* environment variables, runtime overrides
// (usually command-line flags).
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the full application configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	S3      S3Config      `mapstructure:"s3"`
	Emptier EmptierConfig `mapstructure:"emptier"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig configures the CLI and function loggers.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// S3Config holds connection defaults for S3 and S3-compatible stores.
type S3Config struct {
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// EmptierConfig tunes bucket emptying.
type EmptierConfig struct {
	BatchSize int     `mapstructure:"batch_size"`
	RateLimit float64 `mapstructure:"rate_limit"`
}

// RelayConfig configures the HTTP relay handler.
type RelayConfig struct {
	DefaultURL   string        `mapstructure:"default_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PreviewChars int           `mapstructure:"preview_chars"`
}

// ServerConfig configures the local relay server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MetricsConfig toggles the Prometheus endpoint of the local server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ValidationError reports an invalid configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "config: " + e.Field + ": " + e.Message
}

// Validate checks value ranges. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, msg string) {
		errs = append(errs, &ValidationError{Field: field, Message: msg})
	}

	if c.Emptier.BatchSize < 1 || c.Emptier.BatchSize > 1000 {
		add("emptier.batch_size", fmt.Sprintf("must be between 1 and 1000, got %d", c.Emptier.BatchSize))
	}
	if c.Emptier.RateLimit < 0 {
		add("emptier.rate_limit", "must not be negative")
	}
	if c.Relay.Timeout <= 0 {
		add("relay.timeout", "must be positive")
	}
	if c.Relay.PreviewChars <= 0 {
		add("relay.preview_chars", "must be positive")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port", fmt.Sprintf("must be between 0 and 65535, got %d", c.Server.Port))
	}
	for field, d := range map[string]time.Duration{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.idle_timeout":     c.Server.IdleTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
	} {
		if d <= 0 {
			add(field, "must be positive")
		}
	}

	return errors.Join(errs...)
}
