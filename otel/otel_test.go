package otel

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/terraskye/eventlog"
	"github.com/terraskye/eventlog/consistency"
	"github.com/terraskye/eventlog/fixtures"
	"github.com/terraskye/eventlog/streamlog/memory"
)

func tracedContext(t *testing.T) (context.Context, trace.SpanContext) {
	t.Helper()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02, 0x03},
		SpanID:     trace.SpanID{0x04, 0x05},
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(t.Context(), sc), sc
}

func TestInjectMergesIntoJSONMetadata(t *testing.T) {
	ctx, sc := tracedContext(t)

	out := inject(ctx, []byte(`{"$correlationId":"c1"}`))
	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "c1", doc["$correlationId"])
	assert.Contains(t, doc, "traceparent")
	assert.Equal(t, sc.TraceID(), extract(t.Context(), out).TraceID())

	assert.Equal(t, []byte(`{$o:"oa"`), inject(ctx, []byte(`{$o:"oa"`)))
	assert.Equal(t, []byte(`[1]`), inject(ctx, []byte(`[1]`)))
	assert.Equal(t, []byte(`{}`), inject(t.Context(), []byte(`{}`)))
	assert.False(t, extract(t.Context(), []byte("nope")).IsValid())
}

func TestClientTelemetryPropagatesTraceContext(t *testing.T) {
	ctx, sc := tracedContext(t)
	store := consistency.NewStore(memory.NewLog())
	client := WithClientTelemetry(store, WithPropagation())
	t.Cleanup(func() { _ = client.Close() })

	events := fixtures.NewEvents(1)
	_, err := client.AppendToStream(ctx, "orders", eventlog.NoStream{}, events...)
	require.NoError(t, err)
	assert.Empty(t, events[0].Metadata, "caller events are not modified")

	slice, err := client.ReadStreamForward(t.Context(), "orders", 0, 10)
	require.NoError(t, err)
	require.Len(t, slice.Events, 1)
	assert.Equal(t, sc.TraceID(), extract(t.Context(), slice.Events[0].Metadata).TraceID())

	_, err = client.AppendToStream(ctx, "orders", eventlog.NoStream{}, fixtures.NewEvents(1)...)
	assert.ErrorIs(t, err, eventlog.ErrWrongExpectedVersion)
}

func TestHandlerTelemetryForwardsResult(t *testing.T) {
	var seen eventlog.RecordedEvent
	h := WithHandlerTelemetry("projector", eventlog.NewEventHandlerFunc(func(_ context.Context, ev eventlog.RecordedEvent) error {
		seen = ev
		return nil
	}))
	ev := eventlog.RecordedEvent{StreamID: "orders", EventNumber: 2, EventType: "OrderPlaced"}
	require.NoError(t, h.Handle(t.Context(), ev))
	assert.Equal(t, ev, seen)
}
