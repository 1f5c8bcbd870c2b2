package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "poolmon.yaml")
	content := `
pool:
  target: "db.internal:5432"
  min_pool_size: 4
  max_pool_size: 16
  queue_timeout: 5s
factory:
  kind: sqlite
logging:
  level: debug
  format: console
events:
  buffer_size: 64
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal:5432", cfg.Pool.Target)
	assert.Equal(t, 4, cfg.Pool.MinSize)
	assert.Equal(t, 16, cfg.Pool.MaxSize)
	assert.Equal(t, 5*time.Second, cfg.Pool.QueueTimeout)
	assert.Equal(t, "sqlite", cfg.Factory.Kind)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 64, cfg.Events.BufferSize)

	// Unset keys keep their defaults.
	assert.Equal(t, 0.8, cfg.Pool.ScaleUpThreshold)
	assert.True(t, cfg.Retry.Enabled)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "poolmon.yaml")
	content := `
pool:
  min_pool_size: 20
  max_pool_size: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "poolmon.yaml")

	cfg := DefaultConfig()
	cfg.Pool.Target = "cache.internal:6379"
	cfg.Pool.MaxSize = 32
	require.NoError(t, cfg.SaveConfig(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6379", loaded.Pool.Target)
	assert.Equal(t, 32, loaded.Pool.MaxSize)
}

func TestValidateCatchesBadSections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown factory kind", func(c *Config) { c.Factory.Kind = "carrier-pigeon" }},
		{"zero dial timeout", func(c *Config) { c.Factory.DialTimeout = 0 }},
		{"zero event buffer", func(c *Config) { c.Events.BufferSize = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad pool bounds", func(c *Config) { c.Pool.MinSize = 99 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
