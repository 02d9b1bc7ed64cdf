package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OTelObserver records events as span events. When the context carries a
// recording span the event is attached to it; otherwise a zero-length span
// named after the event type is emitted.
type OTelObserver struct {
	tracer trace.Tracer
}

func NewOTelObserver(tracer trace.Tracer) *OTelObserver {
	return &OTelObserver{tracer: tracer}
}

func (o *OTelObserver) OnEvent(ctx context.Context, event Event) {
	attrs := attributes(event)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(string(event.Type),
			trace.WithTimestamp(event.Timestamp),
			trace.WithAttributes(attrs...),
		)
		return
	}

	_, span := o.tracer.Start(ctx, string(event.Type),
		trace.WithTimestamp(event.Timestamp),
		trace.WithAttributes(attrs...),
	)
	span.End(trace.WithTimestamp(event.Timestamp))
}

func attributes(event Event) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(event.Data)+2)
	attrs = append(attrs,
		attribute.String("event.source", event.Source),
		attribute.String("event.severity", event.Level.String()),
	)
	for k, v := range event.Data {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return attrs
}
