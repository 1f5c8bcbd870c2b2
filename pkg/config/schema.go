package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/trmlabs/connpool/pkg/pool"
)

// reconfigureSchema constrains runtime pool reconfiguration documents. All
// fields are optional; absent fields keep their current value. Durations are
// expressed in milliseconds.
const reconfigureSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"min_pool_size":            {"type": "integer", "minimum": 0},
		"max_pool_size":            {"type": "integer", "minimum": 1},
		"connection_timeout_ms":    {"type": "integer", "minimum": 1},
		"idle_timeout_ms":          {"type": "integer", "minimum": 1},
		"queue_timeout_ms":         {"type": "integer", "minimum": 1},
		"scale_up_threshold":       {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
		"scale_down_threshold":     {"type": "number", "minimum": 0, "exclusiveMaximum": 1},
		"scale_up_increment":       {"type": "integer", "minimum": 1},
		"scale_down_decrement":     {"type": "integer", "minimum": 1},
		"scale_interval_ms":        {"type": "integer", "minimum": 100},
		"health_check_interval_ms": {"type": "integer", "minimum": 100},
		"max_connection_age_ms":    {"type": "integer", "minimum": 1}
	}
}`

// reconfigureDoc mirrors the schema. Pointer fields distinguish "absent"
// from zero values.
type reconfigureDoc struct {
	MinPoolSize           *int     `json:"min_pool_size"`
	MaxPoolSize           *int     `json:"max_pool_size"`
	ConnectionTimeoutMS   *int64   `json:"connection_timeout_ms"`
	IdleTimeoutMS         *int64   `json:"idle_timeout_ms"`
	QueueTimeoutMS        *int64   `json:"queue_timeout_ms"`
	ScaleUpThreshold      *float64 `json:"scale_up_threshold"`
	ScaleDownThreshold    *float64 `json:"scale_down_threshold"`
	ScaleUpIncrement      *int     `json:"scale_up_increment"`
	ScaleDownDecrement    *int     `json:"scale_down_decrement"`
	ScaleIntervalMS       *int64   `json:"scale_interval_ms"`
	HealthCheckIntervalMS *int64   `json:"health_check_interval_ms"`
	MaxConnectionAgeMS    *int64   `json:"max_connection_age_ms"`
}

// ValidateReconfigureDoc checks a JSON reconfiguration document against the
// schema without applying it.
func ValidateReconfigureDoc(doc []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(reconfigureSchema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid reconfiguration document: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// PoolConfigFromDoc validates a reconfiguration document and applies it on
// top of base, returning the merged configuration. The result is validated
// as a whole, so a document that is schema-valid in isolation can still be
// rejected (for example min_pool_size above the current max).
func PoolConfigFromDoc(base pool.Config, raw []byte) (pool.Config, error) {
	if err := ValidateReconfigureDoc(raw); err != nil {
		return pool.Config{}, err
	}

	var doc reconfigureDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return pool.Config{}, fmt.Errorf("failed to parse reconfiguration document: %w", err)
	}

	cfg := base
	if doc.MinPoolSize != nil {
		cfg.MinSize = *doc.MinPoolSize
	}
	if doc.MaxPoolSize != nil {
		cfg.MaxSize = *doc.MaxPoolSize
	}
	if doc.ConnectionTimeoutMS != nil {
		cfg.ConnectionTimeout = time.Duration(*doc.ConnectionTimeoutMS) * time.Millisecond
	}
	if doc.IdleTimeoutMS != nil {
		cfg.IdleTimeout = time.Duration(*doc.IdleTimeoutMS) * time.Millisecond
	}
	if doc.QueueTimeoutMS != nil {
		cfg.QueueTimeout = time.Duration(*doc.QueueTimeoutMS) * time.Millisecond
	}
	if doc.ScaleUpThreshold != nil {
		cfg.ScaleUpThreshold = *doc.ScaleUpThreshold
	}
	if doc.ScaleDownThreshold != nil {
		cfg.ScaleDownThreshold = *doc.ScaleDownThreshold
	}
	if doc.ScaleUpIncrement != nil {
		cfg.ScaleUpIncrement = *doc.ScaleUpIncrement
	}
	if doc.ScaleDownDecrement != nil {
		cfg.ScaleDownDecrement = *doc.ScaleDownDecrement
	}
	if doc.ScaleIntervalMS != nil {
		cfg.ScaleInterval = time.Duration(*doc.ScaleIntervalMS) * time.Millisecond
	}
	if doc.HealthCheckIntervalMS != nil {
		cfg.HealthCheckInterval = time.Duration(*doc.HealthCheckIntervalMS) * time.Millisecond
	}
	if doc.MaxConnectionAgeMS != nil {
		cfg.MaxConnectionAge = time.Duration(*doc.MaxConnectionAgeMS) * time.Millisecond
	}

	if err := cfg.Validate(); err != nil {
		return pool.Config{}, fmt.Errorf("merged configuration invalid: %w", err)
	}
	return cfg, nil
}
