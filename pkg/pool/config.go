package pool

import (
	"fmt"
	"time"
)

// Config is the pool configuration snapshot. It is immutable once applied;
// Reconfigure swaps in a whole new snapshot.
type Config struct {
	Target              string        `json:"target" yaml:"target" mapstructure:"target"`                                              // backend address handed to the factory
	MinSize             int           `json:"min_pool_size" yaml:"min_pool_size" mapstructure:"min_pool_size"`                         // lower bound on registry size
	MaxSize             int           `json:"max_pool_size" yaml:"max_pool_size" mapstructure:"max_pool_size"`                         // upper bound on registry size
	ConnectionTimeout   time.Duration `json:"connection_timeout" yaml:"connection_timeout" mapstructure:"connection_timeout"`          // max time for the factory to produce a handle
	IdleTimeout         time.Duration `json:"idle_timeout" yaml:"idle_timeout" mapstructure:"idle_timeout"`                            // idle duration after which a record is expiry-eligible
	QueueTimeout        time.Duration `json:"queue_timeout" yaml:"queue_timeout" mapstructure:"queue_timeout"`                         // max wait for a queued acquisition
	ScaleUpThreshold    float64       `json:"scale_up_threshold" yaml:"scale_up_threshold" mapstructure:"scale_up_threshold"`          // utilization fraction above which the pool grows
	ScaleDownThreshold  float64       `json:"scale_down_threshold" yaml:"scale_down_threshold" mapstructure:"scale_down_threshold"`    // utilization fraction below which the pool shrinks
	ScaleUpIncrement    int           `json:"scale_up_increment" yaml:"scale_up_increment" mapstructure:"scale_up_increment"`          // connections added per scale-up pass
	ScaleDownDecrement  int           `json:"scale_down_decrement" yaml:"scale_down_decrement" mapstructure:"scale_down_decrement"`    // connections removed per scale-down pass
	ScaleInterval       time.Duration `json:"scale_interval" yaml:"scale_interval" mapstructure:"scale_interval"`                      // cadence of the scaling controller
	HealthCheckInterval time.Duration `json:"health_check_interval" yaml:"health_check_interval" mapstructure:"health_check_interval"` // cadence of the reaper
	MaxConnectionAge    time.Duration `json:"max_connection_age" yaml:"max_connection_age" mapstructure:"max_connection_age"`          // absolute age ceiling regardless of idle state
}

// DefaultConfig returns a pool configuration suitable for most backends.
func DefaultConfig() Config {
	return Config{
		Target:              "localhost:27017",
		MinSize:             2,
		MaxSize:             10,
		ConnectionTimeout:   10 * time.Second,
		IdleTimeout:         5 * time.Minute,
		QueueTimeout:        30 * time.Second,
		ScaleUpThreshold:    0.8,
		ScaleDownThreshold:  0.3,
		ScaleUpIncrement:    2,
		ScaleDownDecrement:  1,
		ScaleInterval:       30 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		MaxConnectionAge:    30 * time.Minute,
	}
}

// Validate checks the configuration for values the pool cannot run with.
func (c Config) Validate() error {
	if c.Target == "" {
		return fmt.Errorf("target cannot be empty")
	}
	if c.MinSize < 0 {
		return fmt.Errorf("min_pool_size cannot be negative: %d", c.MinSize)
	}
	if c.MaxSize <= 0 {
		return fmt.Errorf("max_pool_size must be positive: %d", c.MaxSize)
	}
	if c.MinSize > c.MaxSize {
		return fmt.Errorf("min_pool_size %d exceeds max_pool_size %d", c.MinSize, c.MaxSize)
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection_timeout must be positive")
	}
	if c.QueueTimeout <= 0 {
		return fmt.Errorf("queue_timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive")
	}
	if c.MaxConnectionAge <= 0 {
		return fmt.Errorf("max_connection_age must be positive")
	}
	if c.ScaleUpThreshold <= 0 || c.ScaleUpThreshold > 1 {
		return fmt.Errorf("scale_up_threshold must be in (0, 1]: %f", c.ScaleUpThreshold)
	}
	if c.ScaleDownThreshold < 0 || c.ScaleDownThreshold >= c.ScaleUpThreshold {
		return fmt.Errorf("scale_down_threshold must be in [0, scale_up_threshold): %f", c.ScaleDownThreshold)
	}
	if c.ScaleUpIncrement <= 0 {
		return fmt.Errorf("scale_up_increment must be positive: %d", c.ScaleUpIncrement)
	}
	if c.ScaleDownDecrement <= 0 {
		return fmt.Errorf("scale_down_decrement must be positive: %d", c.ScaleDownDecrement)
	}
	if c.ScaleInterval <= 0 {
		return fmt.Errorf("scale_interval must be positive")
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("health_check_interval must be positive")
	}
	return nil
}
