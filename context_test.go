package eventlog

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestContextGetters(t *testing.T) {
	eventID := uuid.New()
	created := time.Now().UTC()

	ev := &RecordedEvent{
		StreamID:    "stream-123",
		EventNumber: 7,
		EventID:     eventID,
		EventType:   "OrderPlaced",
		Metadata:    []byte(`{"key":"value"}`),
		LogPosition: 42,
		Created:     created,
	}

	withEvent := WithRecordedEvent(t.Context(), ev)
	empty := t.Context()

	tests := []struct {
		name string
		ctx  context.Context
		fn   func(context.Context) any
		want any
	}{
		{name: "StreamIDFromContext with value", ctx: withEvent, fn: func(ctx context.Context) any { return StreamIDFromContext(ctx) }, want: "stream-123"},
		{name: "StreamIDFromContext without value", ctx: empty, fn: func(ctx context.Context) any { return StreamIDFromContext(ctx) }, want: ""},
		{name: "EventIDFromContext with value", ctx: withEvent, fn: func(ctx context.Context) any { return EventIDFromContext(ctx) }, want: eventID},
		{name: "EventIDFromContext without value", ctx: empty, fn: func(ctx context.Context) any { return EventIDFromContext(ctx) }, want: uuid.Nil},
		{name: "EventNumberFromContext with value", ctx: withEvent, fn: func(ctx context.Context) any { return EventNumberFromContext(ctx) }, want: int64(7)},
		{name: "EventNumberFromContext without value", ctx: empty, fn: func(ctx context.Context) any { return EventNumberFromContext(ctx) }, want: int64(-1)},
		{name: "EventTypeFromContext with value", ctx: withEvent, fn: func(ctx context.Context) any { return EventTypeFromContext(ctx) }, want: "OrderPlaced"},
		{name: "LogPositionFromContext with value", ctx: withEvent, fn: func(ctx context.Context) any { return LogPositionFromContext(ctx) }, want: int64(42)},
		{name: "LogPositionFromContext without value", ctx: empty, fn: func(ctx context.Context) any { return LogPositionFromContext(ctx) }, want: int64(-1)},
		{name: "CreatedFromContext with value", ctx: withEvent, fn: func(ctx context.Context) any { return CreatedFromContext(ctx) }, want: created},
		{name: "CreatedFromContext without value", ctx: empty, fn: func(ctx context.Context) any { return CreatedFromContext(ctx) }, want: time.Time{}},
		{name: "MetadataFromContext with value", ctx: withEvent, fn: func(ctx context.Context) any { return MetadataFromContext(ctx) }, want: []byte(`{"key":"value"}`)},
		{name: "MetadataFromContext without value", ctx: empty, fn: func(ctx context.Context) any { return MetadataFromContext(ctx) }, want: []byte(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn(tt.ctx)
			switch want := tt.want.(type) {
			case time.Time:
				if !got.(time.Time).Equal(want) {
					t.Errorf("%s = %v, want %v", tt.name, got, want)
				}
			case []byte:
				if !bytes.Equal(got.([]byte), want) {
					t.Errorf("%s = %s, want %s", tt.name, got, want)
				}
			default:
				if got != tt.want {
					t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
				}
			}
		})
	}
}
