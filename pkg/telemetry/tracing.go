// Package telemetry wires OpenTelemetry tracing for the pool and its
// event stream.
package telemetry

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Exporter selects where spans are shipped.
type Exporter string

const (
	ExporterStdout Exporter = "stdout"
	ExporterOTLP   Exporter = "otlp"
)

// Config configures tracing.
type Config struct {
	Enabled        bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	ServiceName    string        `json:"service_name" yaml:"service_name" mapstructure:"service_name"`
	ServiceVersion string        `json:"service_version" yaml:"service_version" mapstructure:"service_version"`
	Environment    string        `json:"environment" yaml:"environment" mapstructure:"environment"`
	Exporter       Exporter      `json:"exporter" yaml:"exporter" mapstructure:"exporter"`
	Endpoint       string        `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	Insecure       bool          `json:"insecure" yaml:"insecure" mapstructure:"insecure"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	SamplingRatio  float64       `json:"sampling_ratio" yaml:"sampling_ratio" mapstructure:"sampling_ratio"`
}

// DefaultConfig returns default tracing configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "connpool",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Exporter:       ExporterStdout,
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Timeout:        10 * time.Second,
		SamplingRatio:  1.0,
	}
}

// Manager owns the tracer provider lifecycle.
type Manager struct {
	cfg      Config
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewManager initializes tracing according to cfg. When tracing is disabled
// the returned manager hands out a no-op tracer.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		log.Info().Msg("Tracing disabled")
		return &Manager{cfg: cfg, tracer: trace.NewNoopTracerProvider().Tracer(cfg.ServiceName)}, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
		attribute.String("process.runtime.name", "go"),
		attribute.String("process.runtime.version", runtime.Version()),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRatio)),
		sdktrace.WithBatcher(exp),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("service_name", cfg.ServiceName).
		Str("exporter", string(cfg.Exporter)).
		Float64("sampling_ratio", cfg.SamplingRatio).
		Msg("Tracing initialized successfully")

	return &Manager{
		cfg:      cfg,
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName, trace.WithInstrumentationVersion(cfg.ServiceVersion)),
	}, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithTimeout(cfg.Timeout),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.Exporter)
	}
}

// Tracer returns the tracer for instrumenting pool operations.
func (m *Manager) Tracer() trace.Tracer {
	return m.tracer
}

// Shutdown flushes pending spans and stops the provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	if err := m.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down tracer provider: %w", err)
	}
	return nil
}
