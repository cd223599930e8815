// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Functions accept context.Context as the first parameter.
// - Errors wrap ErrInvalidConfig or ErrLoadConfig.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: json or text.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// ServiceName and Version are reported by /health.
	ServiceName string `koanf:"service_name"`
	Version     string `koanf:"version"`

	// DocsScriptURL overrides where /api-docs loads ReDoc from. Empty keeps
	// the public CDN bundle.
	DocsScriptURL string `koanf:"docs_script_url"`

	// SchemaVersion is stamped on and signed into every attestation.
	SchemaVersion string `koanf:"schema_version"`

	// SigningSecret keys the attestation HMAC. Required.
	SigningSecret string `koanf:"signing_secret"`

	// RetentionDays bounds how long attestations and their hash index live.
	RetentionDays int `koanf:"retention_days"`

	// MaxBodyBytes caps the raw request body.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`

	// MaxPayloadBytes caps the serialized payload field of an event.
	MaxPayloadBytes int `koanf:"max_payload_bytes"`

	// DefaultRateLimit applies to keys that carry no per-minute limit.
	DefaultRateLimit int `koanf:"default_rate_limit"`

	Store StoreConfig `koanf:"store"`
}

// StoreConfig selects and configures the key-value backend.
type StoreConfig struct {
	Backend       string `koanf:"backend"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	SQLitePath    string `koanf:"sqlite_path"`

	// SweepIntervalSeconds paces expired-key sweeps for memory and sqlite.
	SweepIntervalSeconds int `koanf:"sweep_interval_seconds"`
}

// New creates a Config populated with defaults. The signing secret has no
// default.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "json",
		Addr:             ":8080",
		ServiceName:      "eea",
		Version:          "dev",
		SchemaVersion:    "1.0.0",
		RetentionDays:    30,
		MaxBodyBytes:     128 * 1024,
		MaxPayloadBytes:  64 * 1024,
		DefaultRateLimit: 60,
		Store: StoreConfig{
			Backend:              BackendMemory,
			RedisAddr:            "localhost:6379",
			SQLitePath:           "eea.db",
			SweepIntervalSeconds: 60,
		},
	}
}

// Retention returns RetentionDays as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// SweepInterval returns the store sweep period. Zero or less disables it.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Store.SweepIntervalSeconds) * time.Second
}

// Validate reports the first setting that would stop the service working.
func (c *Config) Validate(_ context.Context) error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.SigningSecret) == "":
		return fmt.Errorf("%w: signing_secret must be set", ErrInvalidConfig)
	case c.SchemaVersion == "":
		return fmt.Errorf("%w: schema_version must not be empty", ErrInvalidConfig)
	case c.RetentionDays <= 0:
		return fmt.Errorf("%w: retention_days must be positive", ErrInvalidConfig)
	case c.MaxBodyBytes <= 0:
		return fmt.Errorf("%w: max_body_bytes must be positive", ErrInvalidConfig)
	case c.MaxPayloadBytes <= 0:
		return fmt.Errorf("%w: max_payload_bytes must be positive", ErrInvalidConfig)
	case int64(c.MaxPayloadBytes) > c.MaxBodyBytes:
		return fmt.Errorf("%w: max_payload_bytes exceeds max_body_bytes", ErrInvalidConfig)
	case c.DefaultRateLimit <= 0:
		return fmt.Errorf("%w: default_rate_limit must be positive", ErrInvalidConfig)
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("%w: store.redis_addr must be set for the redis backend", ErrInvalidConfig)
		}
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("%w: store.sqlite_path must be set for the sqlite backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store.backend %q", ErrInvalidConfig, c.Store.Backend)
	}
	return nil
}
