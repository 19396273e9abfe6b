package consistency

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/terraskye/eventlog"
)

// Decision is the outcome of checking an expected version against a stream.
type Decision struct {
	Accepted bool
	// FirstEventNumber is the number the first appended event receives.
	FirstEventNumber int64
	// NextExpectedVersion is the last event number once the append is
	// committed. It equals the current version for an empty append.
	NextExpectedVersion int64
	// Recreate is set when the append brings a soft-deleted stream back.
	Recreate bool
	Err      error
}

// Decide checks expected against state for an append of count events.
//
// Any is always accepted, NoStream when the stream was never written or is
// soft-deleted, and Revision(n) when n is the current version. Hard-deleted
// streams reject every expected version.
func Decide(state StreamState, expected eventlog.StreamState, count int) Decision {
	if state.HardDeleted {
		return Decision{Err: &eventlog.StreamDeletedError{Stream: state.Stream}}
	}

	current := state.CurrentVersion
	var ok bool
	switch e := expected.(type) {
	case eventlog.Any:
		ok = true
	case eventlog.NoStream:
		ok = current == -1 || state.SoftDeleted
	case eventlog.Revision:
		ok = int64(e) >= 0 && int64(e) == current
	default:
		return Decision{Err: fmt.Errorf("expected version %v: %w", expected, eventlog.ErrInvalidRevision)}
	}
	if !ok {
		return Decision{Err: &eventlog.StreamRevisionConflictError{
			Stream:           state.Stream,
			ExpectedRevision: expected,
			ActualVersion:    current,
		}}
	}

	return Decision{
		Accepted:            true,
		FirstEventNumber:    current + 1,
		NextExpectedVersion: current + int64(count),
		Recreate:            state.SoftDeleted && !state.System && count > 0,
	}
}

// Controller enforces optimistic concurrency per stream. A check and the
// commit that follows it run under the stream's exclusive handle, so no
// other write to the stream or its metastream can interleave.
type Controller struct {
	log       eventlog.StreamLog
	lifecycle *Lifecycle
	handles   *handleTable
	retry     RetryPolicy
	logger    *logrus.Entry
}

// NewController returns a Controller committing to log.
func NewController(log eventlog.StreamLog, lifecycle *Lifecycle, retry RetryPolicy, logger *logrus.Entry) *Controller {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Controller{
		log:       log,
		lifecycle: lifecycle,
		handles:   newHandleTable(),
		retry:     retry,
		logger:    logger,
	}
}

// CheckAndReserve acquires the handle of stream and checks expected for an
// append of eventCount events. On success the caller owns the returned
// Reservation and must Commit or Release it.
func (c *Controller) CheckAndReserve(ctx context.Context, stream string, expected eventlog.StreamState, eventCount int) (*Reservation, error) {
	r, err := c.reserve(ctx, stream, expected)
	if err != nil {
		return nil, err
	}
	r.Decision = Decide(r.State, expected, eventCount)
	if r.Decision.Err != nil {
		r.Release()
		c.logRejected(ctx, stream, expected, r.Decision.Err)
		return nil, r.Decision.Err
	}
	return r, nil
}

// CheckAndReserveMetadata acquires the handle of stream and checks expected
// against the version of its metastream.
func (c *Controller) CheckAndReserveMetadata(ctx context.Context, stream string, expected eventlog.StreamState) (*Reservation, error) {
	r, err := c.reserve(ctx, stream, expected)
	if err != nil {
		return nil, err
	}
	if r.State.HardDeleted {
		r.Release()
		return nil, &eventlog.StreamDeletedError{Stream: stream}
	}
	meta := StreamState{Stream: eventlog.MetastreamOf(stream), CurrentVersion: r.State.MetastreamVersion}
	r.Decision = Decide(meta, expected, 1)
	if r.Decision.Err != nil {
		r.Release()
		c.logRejected(ctx, meta.Stream, expected, r.Decision.Err)
		return nil, r.Decision.Err
	}
	return r, nil
}

func (c *Controller) reserve(ctx context.Context, stream string, expected eventlog.StreamState) (*Reservation, error) {
	release, err := c.handles.acquire(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("acquire stream %q: %w", stream, err)
	}
	state, err := withRetry(ctx, c.retry, "read state", stream, func() (StreamState, error) {
		return c.lifecycle.ReadState(ctx, stream)
	})
	if err != nil {
		release()
		return nil, err
	}
	return &Reservation{State: state, expected: expected, c: c, release: release}, nil
}

func (c *Controller) logRejected(ctx context.Context, stream string, expected eventlog.StreamState, err error) {
	if errors.Is(err, eventlog.ErrWrongExpectedVersion) {
		eventlog.ConcurrencyConflicts.Add(ctx, 1)
	}
	c.logger.WithFields(logrus.Fields{
		"stream":   stream,
		"expected": fmt.Sprint(expected),
	}).WithError(err).Debug("write rejected")
}

// commit writes appends, retrying transient failures. A position conflict
// raised by the log means another writer bypassed the handle; it is
// reported as a concurrency violation on the stream.
func (c *Controller) commit(ctx context.Context, stream string, expected eventlog.StreamState, appends ...eventlog.StreamAppend) ([]eventlog.RecordedEvent, error) {
	recorded, err := withRetry(ctx, c.retry, "commit", stream, func() ([]eventlog.RecordedEvent, error) {
		return c.log.Commit(ctx, appends...)
	})
	if err == nil {
		return recorded, nil
	}

	var conflict *eventlog.LogConflictError
	if !errors.As(err, &conflict) {
		return nil, err
	}
	if conflict.Next == eventlog.DeletedStream {
		err = &eventlog.StreamDeletedError{Stream: conflict.Stream}
	} else {
		err = &eventlog.StreamRevisionConflictError{
			Stream:           conflict.Stream,
			ExpectedRevision: expected,
			ActualVersion:    conflict.Next - 1,
		}
	}
	c.logRejected(ctx, stream, expected, err)
	return nil, err
}

// Reservation is an accepted check holding the stream's handle.
type Reservation struct {
	State    StreamState
	Decision Decision

	expected eventlog.StreamState
	c        *Controller
	release  func()
	once     sync.Once
}

// Commit appends events at the reserved position and releases the
// reservation. When the stream is soft-deleted the recreation metadata
// write is committed in the same atomic commit.
func (r *Reservation) Commit(ctx context.Context, events []eventlog.EventData) ([]eventlog.RecordedEvent, error) {
	defer r.Release()
	if len(events) == 0 {
		return []eventlog.RecordedEvent{}, nil
	}

	appends := []eventlog.StreamAppend{{
		StreamID:         r.State.Stream,
		FirstEventNumber: r.Decision.FirstEventNumber,
		Events:           withEventIDs(events),
	}}
	meta, ok, err := r.c.lifecycle.OnAppendAccepted(r.State, r.Decision.FirstEventNumber)
	if err != nil {
		return nil, err
	}
	if ok {
		appends = append(appends, meta)
	}

	recorded, err := r.c.commit(ctx, r.State.Stream, r.expected, appends...)
	if err != nil {
		return nil, err
	}
	if ok {
		eventlog.StreamsRecreated.Add(ctx, 1)
		r.c.logger.WithFields(logrus.Fields{
			"stream":          r.State.Stream,
			"truncate_before": r.Decision.FirstEventNumber,
		}).Info("recreated soft-deleted stream")
	}
	return recorded, nil
}

// CommitMetadata writes md as the next metastream event and releases the
// reservation.
func (r *Reservation) CommitMetadata(ctx context.Context, md eventlog.StreamMetadata) ([]eventlog.RecordedEvent, error) {
	defer r.Release()
	write, err := metadataAppend(r.State.Stream, r.State.MetastreamVersion+1, md)
	if err != nil {
		return nil, fmt.Errorf("set metadata of stream %q: %w", r.State.Stream, err)
	}
	return r.c.commit(ctx, write.StreamID, r.expected, write)
}

// CommitTombstone hard-deletes the stream and releases the reservation.
func (r *Reservation) CommitTombstone(ctx context.Context) ([]eventlog.RecordedEvent, error) {
	defer r.Release()
	tombstone := eventlog.StreamAppend{
		StreamID:         r.State.Stream,
		FirstEventNumber: eventlog.DeletedStream,
		Events: []eventlog.EventData{{
			EventID:   uuid.New(),
			EventType: eventlog.EventTypeStreamDeleted,
			IsJSON:    true,
			Data:      []byte(`{}`),
		}},
	}
	return r.c.commit(ctx, r.State.Stream, r.expected, tombstone)
}

// Release gives up the reservation without writing. It is safe to call
// after Commit.
func (r *Reservation) Release() {
	r.once.Do(r.release)
}

func withEventIDs(events []eventlog.EventData) []eventlog.EventData {
	out := make([]eventlog.EventData, len(events))
	for i, ev := range events {
		if ev.EventID == uuid.Nil {
			ev.EventID = uuid.New()
		}
		out[i] = ev
	}
	return out
}
