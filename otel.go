package eventlog

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	instrumentationName = "github.com/terraskye/eventlog"
)

var (
	meter = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(InstrumentationVersion))

	// Stream lifecycle metrics
	StreamsRecreated, _ = meter.Int64Counter(
		"eventlog.streams.recreated",
		metric.WithDescription("Number of soft-deleted streams brought back by an append"),
		metric.WithUnit("{stream}"),
	)

	StreamsDeleted, _ = meter.Int64Counter(
		"eventlog.streams.deleted",
		metric.WithDescription("Number of streams deleted, by kind"),
		metric.WithUnit("{stream}"),
	)

	ConcurrencyConflicts, _ = meter.Int64Counter(
		"eventlog.concurrency.conflicts",
		metric.WithDescription("Number of writes rejected for a wrong expected version"),
		metric.WithUnit("{conflict}"),
	)

	StorageRetries, _ = meter.Int64Counter(
		"eventlog.storage.retries",
		metric.WithDescription("Number of StreamLog operations retried after a transient failure"),
		metric.WithUnit("{retry}"),
	)

	// Order-stream metrics
	LinksWritten, _ = meter.Int64Counter(
		"eventlog.order.links.written",
		metric.WithDescription("Number of link events written to order-streams"),
		metric.WithUnit("{event}"),
	)

	LinksSkipped, _ = meter.Int64Counter(
		"eventlog.order.links.skipped",
		metric.WithDescription("Number of recorded positions already present in the order-stream"),
		metric.WithUnit("{event}"),
	)

	OrderBatchSize, _ = meter.Int64Histogram(
		"eventlog.order.batch.size",
		metric.WithDescription("Number of link events per order-stream write"),
		metric.WithUnit("{event}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500),
	)

	OrderStreamFaults, _ = meter.Int64Counter(
		"eventlog.order.faults",
		metric.WithDescription("Number of checkpoint managers stopped by an order-stream write fault"),
		metric.WithUnit("{fault}"),
	)
)
