package otel

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// inject merges the propagation fields of ctx into a JSON object metadata
// document. Metadata that is not a JSON object is returned unchanged.
func inject(ctx context.Context, metadata []byte) []byte {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return metadata
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return metadata
	}

	doc := map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &doc); err != nil || doc == nil {
			return metadata
		}
	}
	for k, v := range carrier {
		doc[k] = v
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return metadata
	}
	return out
}

// extract returns the span context propagated in metadata, if any.
func extract(ctx context.Context, metadata []byte) trace.SpanContext {
	if len(metadata) == 0 {
		return trace.SpanContext{}
	}
	var doc map[string]any
	if err := json.Unmarshal(metadata, &doc); err != nil {
		return trace.SpanContext{}
	}
	carrier := propagation.MapCarrier{}
	for k, v := range doc {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}
	return trace.SpanContextFromContext(otel.GetTextMapPropagator().Extract(ctx, carrier))
}
