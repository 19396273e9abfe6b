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

var _ eventlog.Client = (*TelemetryClient)(nil)

// TelemetryClient wraps an eventlog.Client with spans and metrics.
type TelemetryClient struct {
	next eventlog.Client
	cfg  *config
}

// WithClientTelemetry returns next instrumented with a client span per
// operation and the eventlog.client.* metrics.
func WithClientTelemetry(next eventlog.Client, options ...Option) *TelemetryClient {
	return &TelemetryClient{next: next, cfg: newConfig(options)}
}

func (t *TelemetryClient) start(ctx context.Context, op, stream string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	ctx, span := tracer.Start(ctx, "Client."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.cfg.attributes(ctx, append(attrs,
			AttrOperation.String(op),
			AttrStreamID.String(stream),
		)...)...),
	)
	return ctx, span, time.Now()
}

func (t *TelemetryClient) end(ctx context.Context, span trace.Span, op string, started time.Time, err error) {
	defer span.End()

	attrs := metric.WithAttributes(AttrOperation.String(op))
	ClientOperations.Add(ctx, 1, attrs)
	ClientDuration.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}

	kind := eventlog.KindOf(err).String()
	ClientErrors.Add(ctx, 1, metric.WithAttributes(AttrOperation.String(op), AttrErrorKind.String(kind)))
	span.SetAttributes(AttrErrorKind.String(kind))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (t *TelemetryClient) AppendToStream(ctx context.Context, stream string, expected eventlog.StreamState, events ...eventlog.EventData) (eventlog.WriteResult, error) {
	ctx, span, started := t.start(ctx, "append", stream,
		AttrExpectedVersion.Int64(eventlog.RawExpectedVersion(expected)),
		AttrEventCount.Int(len(events)),
	)

	if t.cfg.Propagate {
		traced := make([]eventlog.EventData, len(events))
		for i, ev := range events {
			ev.Metadata = inject(ctx, ev.Metadata)
			traced[i] = ev
		}
		events = traced
	}

	res, err := t.next.AppendToStream(ctx, stream, expected, events...)
	if err == nil {
		span.SetAttributes(AttrNextVersion.Int64(res.NextExpectedVersion), AttrEventLogPos.Int64(res.LogPosition))
		EventsAppended.Add(ctx, int64(len(events)), metric.WithAttributes())
	}
	t.end(ctx, span, "append", started, err)
	return res, err
}

func (t *TelemetryClient) read(ctx context.Context, direction, stream string, start int64, fn func(context.Context) (eventlog.StreamSlice, error)) (eventlog.StreamSlice, error) {
	ctx, span, started := t.start(ctx, "read", stream,
		AttrReadDirection.String(direction),
		AttrEventStreamPos.Int64(start),
	)
	slice, err := fn(ctx)
	if err == nil {
		span.SetAttributes(AttrReadStatus.String(slice.Status.String()), AttrEventCount.Int(len(slice.Events)))
		EventsRead.Add(ctx, int64(len(slice.Events)), metric.WithAttributes(AttrReadDirection.String(direction)))
	}
	t.end(ctx, span, "read", started, err)
	return slice, err
}

func (t *TelemetryClient) ReadStreamForward(ctx context.Context, stream string, start int64, count int) (eventlog.StreamSlice, error) {
	return t.read(ctx, "forward", stream, start, func(ctx context.Context) (eventlog.StreamSlice, error) {
		return t.next.ReadStreamForward(ctx, stream, start, count)
	})
}

func (t *TelemetryClient) ReadStreamBackward(ctx context.Context, stream string, start int64, count int) (eventlog.StreamSlice, error) {
	return t.read(ctx, "backward", stream, start, func(ctx context.Context) (eventlog.StreamSlice, error) {
		return t.next.ReadStreamBackward(ctx, stream, start, count)
	})
}

func (t *TelemetryClient) SetStreamMetadata(ctx context.Context, stream string, expected eventlog.StreamState, metadata eventlog.StreamMetadata) (eventlog.WriteResult, error) {
	ctx, span, started := t.start(ctx, "set_metadata", stream, AttrExpectedVersion.Int64(eventlog.RawExpectedVersion(expected)))
	res, err := t.next.SetStreamMetadata(ctx, stream, expected, metadata)
	t.end(ctx, span, "set_metadata", started, err)
	return res, err
}

func (t *TelemetryClient) GetStreamMetadata(ctx context.Context, stream string) (eventlog.StreamMetadataResult, error) {
	ctx, span, started := t.start(ctx, "get_metadata", stream)
	res, err := t.next.GetStreamMetadata(ctx, stream)
	t.end(ctx, span, "get_metadata", started, err)
	return res, err
}

func (t *TelemetryClient) DeleteStream(ctx context.Context, stream string, expected eventlog.StreamState) (eventlog.WriteResult, error) {
	ctx, span, started := t.start(ctx, "delete", stream,
		AttrDeleteKind.String("hard"),
		AttrExpectedVersion.Int64(eventlog.RawExpectedVersion(expected)),
	)
	res, err := t.next.DeleteStream(ctx, stream, expected)
	t.end(ctx, span, "delete", started, err)
	return res, err
}

func (t *TelemetryClient) SoftDeleteStream(ctx context.Context, stream string, expected eventlog.StreamState) (eventlog.WriteResult, error) {
	ctx, span, started := t.start(ctx, "delete", stream,
		AttrDeleteKind.String("soft"),
		AttrExpectedVersion.Int64(eventlog.RawExpectedVersion(expected)),
	)
	res, err := t.next.SoftDeleteStream(ctx, stream, expected)
	t.end(ctx, span, "delete", started, err)
	return res, err
}

// Close just forwards
func (t *TelemetryClient) Close() error {
	return t.next.Close()
}
