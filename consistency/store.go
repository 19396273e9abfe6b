// Package consistency enforces optimistic concurrency and the stream
// lifecycle on top of an eventlog.StreamLog.
//
// Every write runs under the target stream's exclusive handle: the stream
// state is read, the expected version is checked and the resulting commit is
// applied before another writer on that stream is let through. Writes to
// different streams never wait for each other.
package consistency

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/terraskye/eventlog"
)

var _ eventlog.Client = (*Store)(nil)

// Publisher receives every committed event after the commit is durable.
type Publisher interface {
	Publish(ctx context.Context, events ...eventlog.RecordedEvent) error
}

type options struct {
	logger    *logrus.Entry
	retry     RetryPolicy
	publisher Publisher
	now       func() time.Time
}

// Option configures a Store.
type Option func(*options)

// WithLogger sets the logger used by the store and its components.
func WithLogger(logger *logrus.Entry) Option {
	return func(o *options) { o.logger = logger }
}

// WithRetryPolicy sets the retry policy for transient StreamLog failures.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithPublisher publishes committed events to p. Publish failures are
// logged and never fail the write.
func WithPublisher(p Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithClock sets the clock used for max-age visibility.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Store is the eventlog.Client of a single node.
type Store struct {
	log        eventlog.StreamLog
	lifecycle  *Lifecycle
	controller *Controller
	retry      RetryPolicy
	publisher  Publisher
	logger     *logrus.Entry
	closed     atomic.Bool
}

// NewStore returns a Store writing to log. The store owns log and closes it
// on Close.
func NewStore(log eventlog.StreamLog, opts ...Option) *Store {
	o := options{
		logger: logrus.NewEntry(logrus.StandardLogger()),
		retry:  DefaultRetryPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	lifecycle := NewLifecycle(log, o.logger, o.now)
	return &Store{
		log:        log,
		lifecycle:  lifecycle,
		controller: NewController(log, lifecycle, o.retry, o.logger),
		retry:      o.retry,
		publisher:  o.publisher,
		logger:     o.logger,
	}
}

// Controller returns the concurrency controller of the store.
func (s *Store) Controller() *Controller {
	return s.controller
}

func (s *Store) check(stream string) error {
	if s.closed.Load() {
		return eventlog.ErrClosed
	}
	return eventlog.ValidateStreamName(stream)
}

func validateEvents(stream string, events []eventlog.EventData) error {
	for i, ev := range events {
		if ev.EventType == "" {
			return fmt.Errorf("append to stream %q: event %d has no type: %w", stream, i, eventlog.ErrInvalidEventBatch)
		}
	}
	return nil
}

func writeResult(next int64, recorded []eventlog.RecordedEvent) eventlog.WriteResult {
	res := eventlog.WriteResult{NextExpectedVersion: next, LogPosition: -1}
	if n := len(recorded); n > 0 {
		res.LogPosition = recorded[n-1].LogPosition
	}
	return res
}

func (s *Store) publish(ctx context.Context, recorded []eventlog.RecordedEvent) {
	if s.publisher == nil || len(recorded) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, recorded...); err != nil {
		s.logger.WithField("stream", recorded[0].StreamID).WithError(err).Warn("publish committed events")
	}
}

// AppendToStream appends events to stream after checking expected. An
// append with no events only checks expected and returns the current
// version. Appending to a soft-deleted stream recreates it: events keep
// their numbering after the old events, which stay hidden.
func (s *Store) AppendToStream(ctx context.Context, stream string, expected eventlog.StreamState, events ...eventlog.EventData) (eventlog.WriteResult, error) {
	if err := s.check(stream); err != nil {
		return eventlog.WriteResult{}, err
	}
	if err := validateEvents(stream, events); err != nil {
		return eventlog.WriteResult{}, err
	}

	r, err := s.controller.CheckAndReserve(ctx, stream, expected, len(events))
	if err != nil {
		return eventlog.WriteResult{}, fmt.Errorf("append to stream %q: %w", stream, err)
	}
	next := r.Decision.NextExpectedVersion
	recorded, err := r.Commit(ctx, events)
	if err != nil {
		return eventlog.WriteResult{}, fmt.Errorf("append to stream %q: %w", stream, err)
	}

	s.publish(ctx, recorded)
	return writeResult(next, recorded), nil
}

func (s *Store) readState(ctx context.Context, stream string) (StreamState, error) {
	if err := s.check(stream); err != nil {
		return StreamState{}, err
	}
	return withRetry(ctx, s.retry, "read state", stream, func() (StreamState, error) {
		return s.lifecycle.ReadState(ctx, stream)
	})
}

func (s *Store) ReadStreamForward(ctx context.Context, stream string, start int64, count int) (eventlog.StreamSlice, error) {
	state, err := s.readState(ctx, stream)
	if err != nil {
		return eventlog.StreamSlice{}, fmt.Errorf("read stream %q: %w", stream, err)
	}
	slice, err := withRetry(ctx, s.retry, "read", stream, func() (eventlog.StreamSlice, error) {
		return s.lifecycle.ReadForward(ctx, state, start, count)
	})
	if err != nil {
		return eventlog.StreamSlice{}, fmt.Errorf("read stream %q: %w", stream, err)
	}
	return slice, nil
}

func (s *Store) ReadStreamBackward(ctx context.Context, stream string, start int64, count int) (eventlog.StreamSlice, error) {
	state, err := s.readState(ctx, stream)
	if err != nil {
		return eventlog.StreamSlice{}, fmt.Errorf("read stream %q: %w", stream, err)
	}
	slice, err := withRetry(ctx, s.retry, "read", stream, func() (eventlog.StreamSlice, error) {
		return s.lifecycle.ReadBackward(ctx, state, start, count)
	})
	if err != nil {
		return eventlog.StreamSlice{}, fmt.Errorf("read stream %q: %w", stream, err)
	}
	return slice, nil
}

// SetStreamMetadata writes metadata to the metastream of stream. expected
// is checked against the metastream version. NextExpectedVersion of the
// result is the new metastream version.
func (s *Store) SetStreamMetadata(ctx context.Context, stream string, expected eventlog.StreamState, metadata eventlog.StreamMetadata) (eventlog.WriteResult, error) {
	if err := s.check(stream); err != nil {
		return eventlog.WriteResult{}, err
	}
	r, err := s.controller.CheckAndReserveMetadata(ctx, stream, expected)
	if err != nil {
		return eventlog.WriteResult{}, fmt.Errorf("set metadata of stream %q: %w", stream, err)
	}
	next := r.State.MetastreamVersion + 1
	recorded, err := r.CommitMetadata(ctx, metadata)
	if err != nil {
		return eventlog.WriteResult{}, fmt.Errorf("set metadata of stream %q: %w", stream, err)
	}

	s.publish(ctx, recorded)
	return writeResult(next, recorded), nil
}

// GetStreamMetadata returns the latest metadata of stream. A stream whose
// metastream was never written has empty metadata and version -1.
func (s *Store) GetStreamMetadata(ctx context.Context, stream string) (eventlog.StreamMetadataResult, error) {
	state, err := s.readState(ctx, stream)
	if err != nil {
		return eventlog.StreamMetadataResult{}, fmt.Errorf("get metadata of stream %q: %w", stream, err)
	}
	return eventlog.StreamMetadataResult{
		Stream:            stream,
		IsStreamDeleted:   state.HardDeleted,
		MetastreamVersion: state.MetastreamVersion,
		Metadata:          state.Metadata,
	}, nil
}

// DeleteStream hard-deletes stream after checking expected. The deletion is
// terminal: reads report ReadDeleted and every later write fails with
// eventlog.ErrStreamDeleted.
func (s *Store) DeleteStream(ctx context.Context, stream string, expected eventlog.StreamState) (eventlog.WriteResult, error) {
	if err := s.check(stream); err != nil {
		return eventlog.WriteResult{}, err
	}
	r, err := s.controller.CheckAndReserve(ctx, stream, expected, 0)
	if err != nil {
		return eventlog.WriteResult{}, fmt.Errorf("delete stream %q: %w", stream, err)
	}
	recorded, err := r.CommitTombstone(ctx)
	if err != nil {
		return eventlog.WriteResult{}, fmt.Errorf("delete stream %q: %w", stream, err)
	}

	eventlog.StreamsDeleted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "hard")))
	s.logger.WithField("stream", stream).Info("stream hard-deleted")
	s.publish(ctx, recorded)
	return writeResult(eventlog.DeletedStream, recorded), nil
}

// SoftDeleteStream hides every event of stream by setting its truncate-before
// to eventlog.DeletedStream, keeping the rest of its metadata. expected is
// checked against the stream version. NextExpectedVersion of the result is
// the new metastream version.
func (s *Store) SoftDeleteStream(ctx context.Context, stream string, expected eventlog.StreamState) (eventlog.WriteResult, error) {
	if err := s.check(stream); err != nil {
		return eventlog.WriteResult{}, err
	}
	r, err := s.controller.CheckAndReserve(ctx, stream, expected, 0)
	if err != nil {
		return eventlog.WriteResult{}, fmt.Errorf("soft-delete stream %q: %w", stream, err)
	}
	next := r.State.MetastreamVersion + 1
	recorded, err := r.CommitMetadata(ctx, r.State.Metadata.WithTruncateBefore(eventlog.DeletedStream))
	if err != nil {
		return eventlog.WriteResult{}, fmt.Errorf("soft-delete stream %q: %w", stream, err)
	}

	eventlog.StreamsDeleted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "soft")))
	s.logger.WithField("stream", stream).Info("stream soft-deleted")
	s.publish(ctx, recorded)
	return writeResult(next, recorded), nil
}

// Close closes the underlying log. Close is idempotent.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.log.Close()
}
