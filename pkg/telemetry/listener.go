package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trmlabs/connpool/pkg/events"
)

// EventHandler returns an event bus handler that records pool events as
// spans. Scaling and health events carry their numeric fields as span
// attributes so exporters can graph pool behavior over time.
func EventHandler(tracer trace.Tracer) events.Handler {
	return func(e events.Event) error {
		_, span := tracer.Start(context.Background(), e.Type,
			trace.WithTimestamp(e.Timestamp),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		attrs := []attribute.KeyValue{
			attribute.String("event.id", e.ID),
			attribute.String("event.source", e.Source),
			attribute.String("event.severity", string(e.Severity)),
		}
		if e.ConnectionID != "" {
			attrs = append(attrs, attribute.String("connection.id", e.ConnectionID))
		}
		for k, v := range e.Fields {
			switch val := v.(type) {
			case string:
				attrs = append(attrs, attribute.String(k, val))
			case int:
				attrs = append(attrs, attribute.Int(k, val))
			case int64:
				attrs = append(attrs, attribute.Int64(k, val))
			case float64:
				attrs = append(attrs, attribute.Float64(k, val))
			case bool:
				attrs = append(attrs, attribute.Bool(k, val))
			}
		}
		span.SetAttributes(attrs...)

		if e.Severity == events.SeverityError {
			span.SetStatus(codes.Error, e.Message)
		} else {
			span.SetStatus(codes.Ok, e.Message)
		}
		return nil
	}
}
