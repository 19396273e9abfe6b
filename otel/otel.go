// Package otel decorates event log clients and bus handlers with
// OpenTelemetry spans and metrics.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/terraskye/eventlog"
)

const (
	instrumentationName = "github.com/terraskye/eventlog/otel"
)

// Semantic attribute keys following OpenTelemetry conventions
const (
	// Stream attributes
	AttrStreamID        = attribute.Key("eventlog.stream.id")
	AttrExpectedVersion = attribute.Key("eventlog.stream.expected_version")
	AttrNextVersion     = attribute.Key("eventlog.stream.next_version")
	AttrReadStatus      = attribute.Key("eventlog.read.status")
	AttrReadDirection   = attribute.Key("eventlog.read.direction")

	// Event attributes
	AttrEventType      = attribute.Key("eventlog.event.type")
	AttrEventID        = attribute.Key("eventlog.event.id")
	AttrEventCount     = attribute.Key("eventlog.events.count")
	AttrEventLogPos    = attribute.Key("eventlog.event.log_position")
	AttrEventStreamPos = attribute.Key("eventlog.event.stream_position")

	// Handler attributes
	AttrHandlerName = attribute.Key("eventlog.handler.name")

	// Error attributes
	AttrErrorKind = attribute.Key("eventlog.error.kind")

	// Operation attributes
	AttrOperation  = attribute.Key("eventlog.operation")
	AttrDeleteKind = attribute.Key("eventlog.delete.kind")
)

var (
	meter  = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(eventlog.InstrumentationVersion))
	tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(eventlog.InstrumentationVersion))

	// Client metrics
	ClientOperations, _ = meter.Int64Counter(
		"eventlog.client.operations",
		metric.WithDescription("Number of client operations"),
		metric.WithUnit("{operation}"),
	)

	ClientDuration, _ = meter.Float64Histogram(
		"eventlog.client.duration",
		metric.WithDescription("Client operation duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	ClientErrors, _ = meter.Int64Counter(
		"eventlog.client.errors",
		metric.WithDescription("Number of failed client operations by error kind"),
		metric.WithUnit("{error}"),
	)

	// Event metrics
	EventsAppended, _ = meter.Int64Counter(
		"eventlog.events.appended",
		metric.WithDescription("Number of events appended to streams"),
		metric.WithUnit("{event}"),
	)

	EventsRead, _ = meter.Int64Counter(
		"eventlog.events.read",
		metric.WithDescription("Number of events read from streams"),
		metric.WithUnit("{event}"),
	)

	// Handler metrics
	HandlerEvents, _ = meter.Int64Counter(
		"eventlog.handler.events",
		metric.WithDescription("Number of events delivered to handlers"),
		metric.WithUnit("{event}"),
	)

	HandlerErrors, _ = meter.Int64Counter(
		"eventlog.handler.errors",
		metric.WithDescription("Number of handler errors"),
		metric.WithUnit("{error}"),
	)

	HandlerDuration, _ = meter.Float64Histogram(
		"eventlog.handler.duration",
		metric.WithDescription("Event handler duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
)
