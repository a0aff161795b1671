// Package config provides configuration types and defaults for axd.
// Everything has a safe default; local development needs no config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/axd/internal/tracing"
)

// ServerConfig holds the listen surface.
type ServerConfig struct {
	// Address is the TCP listen address. Ignored when UnixSocket is set.
	Address string `mapstructure:"address" yaml:"address"`
	// UnixSocket is a filesystem socket path; takes precedence over Address.
	UnixSocket string `mapstructure:"unix_socket" yaml:"unix_socket,omitempty"`
	// APIKey, when non-empty, is required in the X-API-Key header.
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// TLSCert/TLSKey enable TLS when both are set.
	TLSCert string `mapstructure:"tls_cert" yaml:"tls_cert,omitempty"`
	TLSKey  string `mapstructure:"tls_key" yaml:"tls_key,omitempty"`
	// RateLimitRPS bounds request rate per client; 0 disables limiting.
	RateLimitRPS float64 `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps"`
	// RateLimitBurst is the token bucket depth.
	RateLimitBurst int `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// ObserveConfig tunes the observation engine.
type ObserveConfig struct {
	MaxConcurrent       int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	DefaultPollInterval time.Duration `mapstructure:"default_poll_interval" yaml:"default_poll_interval"`
	MinPollInterval     time.Duration `mapstructure:"min_poll_interval" yaml:"min_poll_interval"`
	EventRingSize       int           `mapstructure:"event_ring_size" yaml:"event_ring_size"`
	// BreakerWindow is the self-activation proximity that trips an
	// observation's circuit breaker.
	BreakerWindow time.Duration `mapstructure:"breaker_window" yaml:"breaker_window"`
}

// TraversalConfig tunes snapshots and the coordinator.
type TraversalConfig struct {
	MaxElements   int           `mapstructure:"max_elements" yaml:"max_elements"`
	OSCallTimeout time.Duration `mapstructure:"os_call_timeout" yaml:"os_call_timeout"`
	// BoundsTolerance is the per-axis diff matching tolerance in points.
	BoundsTolerance float64 `mapstructure:"bounds_tolerance" yaml:"bounds_tolerance"`
}

// PaginationConfig bounds list surfaces.
type PaginationConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size" yaml:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size" yaml:"max_page_size"`
}

// AuditConfig locates the audit journal.
type AuditConfig struct {
	// Path is the sqlite journal destination; empty disables auditing.
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// Config holds all configuration options for axd.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Observe    ObserveConfig    `mapstructure:"observe" yaml:"observe"`
	Traversal  TraversalConfig  `mapstructure:"traversal" yaml:"traversal"`
	Pagination PaginationConfig `mapstructure:"pagination" yaml:"pagination"`
	Audit      AuditConfig      `mapstructure:"audit" yaml:"audit"`
	Tracing    tracing.Config   `mapstructure:"tracing" yaml:"tracing"`
}

// Defaults returns the full default configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Address:        "127.0.0.1:7869",
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Observe: ObserveConfig{
			MaxConcurrent:       32,
			DefaultPollInterval: time.Second,
			MinPollInterval:     50 * time.Millisecond,
			EventRingSize:       64,
			BreakerWindow:       2 * time.Second,
		},
		Traversal: TraversalConfig{
			MaxElements:     5000,
			OSCallTimeout:   10 * time.Second,
			BoundsTolerance: 5.0,
		},
		Pagination: PaginationConfig{
			DefaultPageSize: 50,
			MaxPageSize:     500,
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// Validate rejects configurations the daemon cannot honor.
func (c Config) Validate() error {
	if c.Server.Address == "" && c.Server.UnixSocket == "" {
		return fmt.Errorf("server: address or unix_socket is required")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server: tls_cert and tls_key must be set together")
	}
	if c.Observe.MaxConcurrent <= 0 {
		return fmt.Errorf("observe: max_concurrent must be positive")
	}
	if c.Observe.DefaultPollInterval < c.Observe.MinPollInterval {
		return fmt.Errorf("observe: default_poll_interval is below min_poll_interval")
	}
	if c.Pagination.DefaultPageSize <= 0 || c.Pagination.MaxPageSize < c.Pagination.DefaultPageSize {
		return fmt.Errorf("pagination: need 0 < default_page_size <= max_page_size")
	}
	if c.Traversal.BoundsTolerance < 0 {
		return fmt.Errorf("traversal: bounds_tolerance must be non-negative")
	}
	return nil
}

// WriteDefaultConfig writes the default configuration as YAML, creating
// parent directories as needed.
func WriteDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
