package eventlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey string

const (
	streamIDKey    ctxKey = "streamID"
	eventIDKey     ctxKey = "eventID"
	eventNumberKey ctxKey = "eventNumber"
	eventTypeKey   ctxKey = "eventType"
	logPositionKey ctxKey = "logPosition"
	createdKey     ctxKey = "created"
	metadataKey    ctxKey = "metadata"
)

// WithRecordedEvent adds the coordinates of a committed event to the context.
func WithRecordedEvent(ctx context.Context, ev *RecordedEvent) context.Context {
	ctx = context.WithValue(ctx, streamIDKey, ev.StreamID)
	ctx = context.WithValue(ctx, eventIDKey, ev.EventID)
	ctx = context.WithValue(ctx, eventNumberKey, ev.EventNumber)
	ctx = context.WithValue(ctx, eventTypeKey, ev.EventType)
	ctx = context.WithValue(ctx, logPositionKey, ev.LogPosition)
	ctx = context.WithValue(ctx, createdKey, ev.Created)
	ctx = context.WithValue(ctx, metadataKey, ev.Metadata)
	return ctx
}

// StreamIDFromContext returns the StreamID or "" if not present
func StreamIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(streamIDKey).(string); ok {
		return v
	}
	return ""
}

// EventIDFromContext returns the EventID or uuid.Nil if not present
func EventIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(eventIDKey).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// EventNumberFromContext returns the event number or -1 if not present
func EventNumberFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(eventNumberKey).(int64); ok {
		return v
	}
	return -1
}

// EventTypeFromContext returns the event type or "" if not present
func EventTypeFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(eventTypeKey).(string); ok {
		return v
	}
	return ""
}

// LogPositionFromContext returns the log position or -1 if not present
func LogPositionFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(logPositionKey).(int64); ok {
		return v
	}
	return -1
}

// CreatedFromContext returns the commit time or zero time if not present
func CreatedFromContext(ctx context.Context) time.Time {
	if v, ok := ctx.Value(createdKey).(time.Time); ok {
		return v
	}
	return time.Time{}
}

// MetadataFromContext returns the event metadata or nil if not present
func MetadataFromContext(ctx context.Context) []byte {
	if v, ok := ctx.Value(metadataKey).([]byte); ok {
		return v
	}
	return nil
}
