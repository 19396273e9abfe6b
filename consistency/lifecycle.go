package consistency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/terraskye/eventlog"
)

// StreamState is the lifecycle state of a stream as seen by one check.
type StreamState struct {
	Stream string
	// CurrentVersion is the last event number written, truncated events
	// included. -1 when the stream was never written and
	// eventlog.DeletedStream once it is hard-deleted.
	CurrentVersion int64
	// TruncateBefore is the lowest visible event number set by metadata.
	TruncateBefore int64
	SoftDeleted    bool
	HardDeleted    bool
	// System is set for projection-owned streams, whose metadata never
	// affects visibility or recreation.
	System            bool
	Metadata          eventlog.StreamMetadata
	MetastreamVersion int64
}

// Exists reports whether the stream has been written and is not hard-deleted.
func (s StreamState) Exists() bool {
	return s.CurrentVersion >= 0 && !s.HardDeleted
}

// FirstVisible returns the lowest event number a read may return, derived
// from the truncate-before and max-count settings.
func (s StreamState) FirstVisible() int64 {
	if s.System {
		return 0
	}
	first := s.TruncateBefore
	if s.Metadata.MaxCount != nil && *s.Metadata.MaxCount > 0 {
		floor := s.CurrentVersion - *s.Metadata.MaxCount + 1
		first = max(first, floor)
	}
	return max(first, 0)
}

// Lifecycle interprets stream metadata. It decides visibility of events,
// detects soft-deleted streams and produces the metadata write that
// recreates them.
type Lifecycle struct {
	log    eventlog.StreamLog
	now    func() time.Time
	logger *logrus.Entry
}

// NewLifecycle returns a Lifecycle reading from log.
func NewLifecycle(log eventlog.StreamLog, logger *logrus.Entry, now func() time.Time) *Lifecycle {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if now == nil {
		now = time.Now
	}
	return &Lifecycle{log: log, now: now, logger: logger}
}

// ReadState reads the current version and the latest metadata of stream.
// A metastream event that is not valid metadata is treated as empty
// metadata.
func (l *Lifecycle) ReadState(ctx context.Context, stream string) (StreamState, error) {
	state := StreamState{
		Stream:            stream,
		MetastreamVersion: -1,
		System:            eventlog.IsProjectionStream(stream),
	}

	last, err := l.log.LastEventNumber(ctx, stream)
	if err != nil {
		return StreamState{}, fmt.Errorf("read state of stream %q: %w", stream, err)
	}
	state.CurrentVersion = last
	if last == eventlog.DeletedStream {
		state.HardDeleted = true
		state.MetastreamVersion = eventlog.DeletedStream
		return state, nil
	}

	meta, err := l.log.ReadBackward(ctx, eventlog.MetastreamOf(stream), -1, 1)
	if err != nil {
		return StreamState{}, fmt.Errorf("read metadata of stream %q: %w", stream, err)
	}
	if len(meta) == 0 {
		return state, nil
	}

	state.MetastreamVersion = meta[0].EventNumber
	md, err := eventlog.ParseStreamMetadata(meta[0].Data)
	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"stream":             stream,
			"metastream_version": meta[0].EventNumber,
		}).WithError(err).Warn("ignoring invalid stream metadata")
		return state, nil
	}
	state.Metadata = md
	if !state.System {
		state.TruncateBefore = md.TruncateBeforeOrZero()
		state.SoftDeleted = md.IsSoftDeleted()
	}
	return state, nil
}

// OnAppendAccepted returns the metastream write that must be committed with
// an append starting at newFirstEventNumber. It returns false when the
// append needs no metadata change, which is the case unless the stream is
// soft-deleted.
//
// The write sets the truncate-before to newFirstEventNumber, keeps every
// other metadata field and bumps the metastream version by one.
func (l *Lifecycle) OnAppendAccepted(state StreamState, newFirstEventNumber int64) (eventlog.StreamAppend, bool, error) {
	if !state.SoftDeleted || state.System {
		return eventlog.StreamAppend{}, false, nil
	}
	md := state.Metadata.WithTruncateBefore(newFirstEventNumber)
	write, err := metadataAppend(state.Stream, state.MetastreamVersion+1, md)
	if err != nil {
		return eventlog.StreamAppend{}, false, fmt.Errorf("recreate stream %q: %w", state.Stream, err)
	}
	return write, true, nil
}

func metadataAppend(stream string, first int64, md eventlog.StreamMetadata) (eventlog.StreamAppend, error) {
	data, err := json.Marshal(md)
	if err != nil {
		return eventlog.StreamAppend{}, fmt.Errorf("encode metadata: %w", err)
	}
	return eventlog.StreamAppend{
		StreamID:         eventlog.MetastreamOf(stream),
		FirstEventNumber: first,
		Events: []eventlog.EventData{{
			EventID:   uuid.New(),
			EventType: eventlog.EventTypeMetadata,
			IsJSON:    true,
			Data:      data,
		}},
	}, nil
}

// ReadForward reads up to count visible events of the stream from start.
func (l *Lifecycle) ReadForward(ctx context.Context, state StreamState, start int64, count int) (eventlog.StreamSlice, error) {
	slice, done := l.terminal(state, start)
	if done {
		return slice, nil
	}

	from := max(start, state.FirstVisible())
	if from > state.CurrentVersion || count <= 0 {
		slice.NextEventNumber = min(from, state.CurrentVersion+1)
		slice.IsEndOfStream = from > state.CurrentVersion
		return slice, nil
	}

	raw, err := l.log.ReadForward(ctx, state.Stream, from, count)
	if err != nil {
		return eventlog.StreamSlice{}, fmt.Errorf("read stream %q forward from %d: %w", state.Stream, from, err)
	}
	slice.Events = l.visible(state, raw)
	next := from + int64(len(raw))
	slice.NextEventNumber = min(next, state.CurrentVersion+1)
	slice.IsEndOfStream = next > state.CurrentVersion
	return slice, nil
}

// ReadBackward reads up to count visible events of the stream going down
// from start. A negative start, or one past the end, reads from the last
// event.
func (l *Lifecycle) ReadBackward(ctx context.Context, state StreamState, start int64, count int) (eventlog.StreamSlice, error) {
	slice, done := l.terminal(state, start)
	if done {
		return slice, nil
	}

	from := start
	if from < 0 || from > state.CurrentVersion {
		from = state.CurrentVersion
	}
	first := state.FirstVisible()
	if from < first || count <= 0 {
		slice.NextEventNumber = -1
		slice.IsEndOfStream = from < first
		if !slice.IsEndOfStream {
			slice.NextEventNumber = from
		}
		return slice, nil
	}

	raw, err := l.log.ReadBackward(ctx, state.Stream, from, count)
	if err != nil {
		return eventlog.StreamSlice{}, fmt.Errorf("read stream %q backward from %d: %w", state.Stream, from, err)
	}
	kept := make([]eventlog.RecordedEvent, 0, len(raw))
	for _, ev := range raw {
		if ev.EventNumber >= first {
			kept = append(kept, ev)
		}
	}
	slice.Events = l.visible(state, kept)
	next := from - int64(count)
	if next < first {
		slice.NextEventNumber = -1
		slice.IsEndOfStream = true
	} else {
		slice.NextEventNumber = next
	}
	return slice, nil
}

// terminal handles reads that never reach the log: hard-deleted streams,
// streams never written and streams whose every event is truncated.
func (l *Lifecycle) terminal(state StreamState, start int64) (eventlog.StreamSlice, bool) {
	slice := eventlog.StreamSlice{
		Stream:          state.Stream,
		Status:          eventlog.ReadSuccess,
		FromEventNumber: start,
		Events:          []eventlog.RecordedEvent{},
		LastEventNumber: state.CurrentVersion,
	}
	switch {
	case state.HardDeleted:
		slice.Status = eventlog.ReadDeleted
		slice.LastEventNumber = eventlog.DeletedStream
	case state.CurrentVersion < 0:
		slice.Status = eventlog.ReadNotFound
		slice.LastEventNumber = -1
	case state.FirstVisible() > state.CurrentVersion:
		slice.Status = eventlog.ReadNotFound
	default:
		return slice, false
	}
	slice.NextEventNumber = -1
	slice.IsEndOfStream = true
	return slice, true
}

// visible drops events older than the stream's max age.
func (l *Lifecycle) visible(state StreamState, events []eventlog.RecordedEvent) []eventlog.RecordedEvent {
	out := make([]eventlog.RecordedEvent, 0, len(events))
	if state.System || state.Metadata.MaxAge == nil || *state.Metadata.MaxAge <= 0 {
		return append(out, events...)
	}
	cutoff := l.now().Add(-*state.Metadata.MaxAge)
	for _, ev := range events {
		if !ev.Created.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}
