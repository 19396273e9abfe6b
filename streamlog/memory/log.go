package memory

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/terraskye/eventlog"
)

var _ eventlog.StreamLog = (*Log)(nil)

// Log is a StreamLog kept in process memory. It is safe for concurrent use
// and is intended for tests and embedded, non-durable deployments.
type Log struct {
	mu         sync.RWMutex
	streams    map[string][]eventlog.RecordedEvent
	tombstones map[string]eventlog.RecordedEvent
	position   int64
	closed     bool
	now        func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock sets the clock used to stamp committed events.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// NewLog creates an empty in-memory log.
func NewLog(opts ...Option) *Log {
	l := &Log{
		streams:    make(map[string][]eventlog.RecordedEvent),
		tombstones: make(map[string]eventlog.RecordedEvent),
		now:        time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Log) LastEventNumber(ctx context.Context, stream string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, eventlog.ErrClosed
	}
	return l.lastLocked(stream), nil
}

func (l *Log) lastLocked(stream string) int64 {
	if _, ok := l.tombstones[stream]; ok {
		return eventlog.DeletedStream
	}
	return int64(len(l.streams[stream])) - 1
}

func (l *Log) ReadForward(ctx context.Context, stream string, from int64, count int) ([]eventlog.RecordedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, eventlog.ErrClosed
	}

	events := l.streams[stream]
	if from < 0 {
		from = 0
	}
	out := make([]eventlog.RecordedEvent, 0)
	for i := from; i < int64(len(events)) && len(out) < count; i++ {
		out = append(out, events[i])
	}
	return out, nil
}

func (l *Log) ReadBackward(ctx context.Context, stream string, from int64, count int) ([]eventlog.RecordedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, eventlog.ErrClosed
	}

	events := l.streams[stream]
	last := int64(len(events)) - 1
	if from < 0 || from > last {
		from = last
	}
	out := make([]eventlog.RecordedEvent, 0)
	for i := from; i >= 0 && len(out) < count; i-- {
		out = append(out, events[i])
	}
	return out, nil
}

func (l *Log) Commit(ctx context.Context, appends ...eventlog.StreamAppend) ([]eventlog.RecordedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, eventlog.ErrClosed
	}

	// Validate the whole commit before touching any stream.
	next := make(map[string]int64, len(appends))
	for _, a := range appends {
		if len(a.Events) == 0 {
			return nil, fmt.Errorf("commit to stream %q: %w: no events", a.StreamID, eventlog.ErrInvalidEventBatch)
		}
		n, seen := next[a.StreamID]
		if !seen {
			n = l.lastLocked(a.StreamID)
			if n != eventlog.DeletedStream {
				n++
			}
		}
		if n == eventlog.DeletedStream {
			return nil, &eventlog.LogConflictError{Stream: a.StreamID, FirstEventNumber: a.FirstEventNumber, Next: n}
		}
		if a.FirstEventNumber == eventlog.DeletedStream {
			if len(a.Events) != 1 {
				return nil, fmt.Errorf("commit tombstone to stream %q: %w: want exactly one event", a.StreamID, eventlog.ErrInvalidEventBatch)
			}
			next[a.StreamID] = eventlog.DeletedStream
			continue
		}
		if a.FirstEventNumber != n {
			return nil, &eventlog.LogConflictError{Stream: a.StreamID, FirstEventNumber: a.FirstEventNumber, Next: n}
		}
		next[a.StreamID] = n + int64(len(a.Events))
	}

	now := l.now().UTC()
	recorded := make([]eventlog.RecordedEvent, 0)
	for _, a := range appends {
		for i, ev := range a.Events {
			l.position++
			rec := eventlog.RecordedEvent{
				StreamID:    a.StreamID,
				EventNumber: a.FirstEventNumber + int64(i),
				EventID:     ev.EventID,
				EventType:   ev.EventType,
				IsJSON:      ev.IsJSON,
				Data:        bytes.Clone(ev.Data),
				Metadata:    bytes.Clone(ev.Metadata),
				LogPosition: l.position,
				Created:     now,
			}
			if a.FirstEventNumber == eventlog.DeletedStream {
				l.tombstones[a.StreamID] = rec
			} else {
				l.streams[a.StreamID] = append(l.streams[a.StreamID], rec)
			}
			recorded = append(recorded, rec)
		}
	}
	return recorded, nil
}

// Close drops every stream. Close is idempotent.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.streams = make(map[string][]eventlog.RecordedEvent)
	l.tombstones = make(map[string]eventlog.RecordedEvent)
	return nil
}
