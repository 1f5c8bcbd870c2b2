package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty target", func(c *Config) { c.Target = "" }},
		{"negative min", func(c *Config) { c.MinSize = -1 }},
		{"zero max", func(c *Config) { c.MaxSize = 0 }},
		{"min above max", func(c *Config) { c.MinSize = 11 }},
		{"zero connection timeout", func(c *Config) { c.ConnectionTimeout = 0 }},
		{"zero queue timeout", func(c *Config) { c.QueueTimeout = 0 }},
		{"zero idle timeout", func(c *Config) { c.IdleTimeout = 0 }},
		{"zero max age", func(c *Config) { c.MaxConnectionAge = 0 }},
		{"up threshold above one", func(c *Config) { c.ScaleUpThreshold = 1.5 }},
		{"up threshold zero", func(c *Config) { c.ScaleUpThreshold = 0 }},
		{"down threshold negative", func(c *Config) { c.ScaleDownThreshold = -0.1 }},
		{"down threshold at up threshold", func(c *Config) { c.ScaleDownThreshold = c.ScaleUpThreshold }},
		{"zero increment", func(c *Config) { c.ScaleUpIncrement = 0 }},
		{"zero decrement", func(c *Config) { c.ScaleDownDecrement = 0 }},
		{"zero scale interval", func(c *Config) { c.ScaleInterval = 0 }},
		{"zero health interval", func(c *Config) { c.HealthCheckInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConnExpiry(t *testing.T) {
	c := newConn("c", nil)
	now := time.Now()

	assert.False(t, c.expired(time.Minute, time.Hour, now))

	// Past the idle timeout while idle.
	assert.True(t, c.expired(time.Minute, time.Hour, now.Add(2*time.Minute)))

	// The idle clock does not apply while acquired, the age ceiling does.
	c.markAcquired(now)
	assert.False(t, c.expired(time.Minute, time.Hour, now.Add(2*time.Minute)))
	assert.True(t, c.expired(time.Minute, time.Hour, now.Add(2*time.Hour)))
}
