package eventlog

import "context"

// StreamAppend is the part of a commit that targets one stream. The events
// are numbered consecutively from FirstEventNumber.
type StreamAppend struct {
	StreamID         string
	FirstEventNumber int64
	Events           []EventData
}

// StreamLog is the durable append-only store the consistency engine builds on.
// It knows nothing about expected versions or metadata; it only guarantees
// that each stream is a gap-free sequence and that a Commit is atomic.
//
// Implementations must guarantee:
//   - Commit applies every StreamAppend or none of them, and a reader never
//     observes a partially applied commit.
//   - Commit fails with a LogConflictError when an append does not start at
//     the next event number of its stream. The only exception is a tombstone,
//     an append starting at DeletedStream, which is accepted once.
//   - Retryable failures are marked with Transient.
type StreamLog interface {
	// LastEventNumber returns the last event number of stream, -1 when the
	// stream was never written and DeletedStream when it carries a tombstone.
	LastEventNumber(ctx context.Context, stream string) (int64, error)

	// ReadForward returns up to count events of stream starting at from, in
	// ascending event number order.
	ReadForward(ctx context.Context, stream string, from int64, count int) ([]RecordedEvent, error)

	// ReadBackward returns up to count events of stream starting at from and
	// going down, in descending event number order. A negative from starts at
	// the last event.
	ReadBackward(ctx context.Context, stream string, from int64, count int) ([]RecordedEvent, error)

	// Commit atomically appends to one or more streams and returns the
	// recorded events in append order.
	Commit(ctx context.Context, appends ...StreamAppend) ([]RecordedEvent, error)

	// Close releases the resources of the log. Close is idempotent.
	Close() error
}
