package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaults_AreValid(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no listen surface", func(c *Config) { c.Server.Address = ""; c.Server.UnixSocket = "" }},
		{"tls cert without key", func(c *Config) { c.Server.TLSCert = "cert.pem" }},
		{"zero max concurrent", func(c *Config) { c.Observe.MaxConcurrent = 0 }},
		{"poll below minimum", func(c *Config) { c.Observe.DefaultPollInterval = time.Millisecond }},
		{"max page below default", func(c *Config) { c.Pagination.MaxPageSize = 1 }},
		{"negative tolerance", func(c *Config) { c.Traversal.BoundsTolerance = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_UnixSocketAlone(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Address = ""
	cfg.Server.UnixSocket = "/tmp/axd.sock"
	require.NoError(t, cfg.Validate())
}

func TestWriteDefaultConfig_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var cfg Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, Defaults().Server.Address, cfg.Server.Address)
	assert.Equal(t, Defaults().Observe.MaxConcurrent, cfg.Observe.MaxConcurrent)
	require.NoError(t, cfg.Validate())
}
