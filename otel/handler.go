package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/terraskye/eventlog"
)

// WithHandlerTelemetry wraps a bus handler with a consumer span per event.
// When the event's metadata carries a propagated trace context, the span is
// linked to it.
func WithHandlerTelemetry(name string, next eventlog.EventHandler, options ...Option) eventlog.EventHandler {
	cfg := newConfig(options)
	return eventlog.NewEventHandlerFunc(func(ctx context.Context, event eventlog.RecordedEvent) error {
		attrs := cfg.attributes(ctx,
			AttrHandlerName.String(name),
			AttrStreamID.String(event.StreamID),
			AttrEventType.String(event.EventType),
			AttrEventID.String(event.EventID.String()),
			AttrEventStreamPos.Int64(event.EventNumber),
			AttrEventLogPos.Int64(event.LogPosition),
		)
		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(attrs...),
		}
		if producer := extract(ctx, event.Metadata); producer.IsValid() {
			opts = append(opts, trace.WithLinks(trace.Link{SpanContext: producer}))
		}

		ctx, span := tracer.Start(ctx, "handle "+event.EventType, opts...)
		defer span.End()

		handlerAttrs := metric.WithAttributes(attribute.String("handler", name))
		HandlerEvents.Add(ctx, 1, handlerAttrs)

		start := time.Now()
		err := next.Handle(ctx, event)
		HandlerDuration.Record(ctx, float64(time.Since(start).Milliseconds()), handlerAttrs)

		if err != nil {
			HandlerErrors.Add(ctx, 1, handlerAttrs)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	})
}
