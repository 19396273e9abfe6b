// Package badgerlog is a durable StreamLog on top of BadgerDB.
//
// Key layout:
//
//	s:<stream>\x00<event number, big endian>  committed event
//	h:<stream>                                last event number of the stream
//	t:<stream>                                hard-delete tombstone
//	p                                         last assigned log position
//
// A commit is a single Badger transaction, so a reader never observes a
// partially applied commit.
package badgerlog

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/terraskye/eventlog"
)

var _ eventlog.StreamLog = (*Log)(nil)

var (
	prefixEvent     = []byte("s:")
	prefixHead      = []byte("h:")
	prefixTombstone = []byte("t:")
	keyPosition     = []byte("p")
)

// Options configures the Badger log.
type Options struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps the database in memory only.
	InMemory bool
	// SyncWrites fsyncs every commit before it is acknowledged.
	SyncWrites bool
	// Logger receives Badger's internal log output. Defaults to the logrus
	// standard logger at warning level.
	Logger *logrus.Entry
}

// Log is a StreamLog backed by BadgerDB.
type Log struct {
	db        *badger.DB
	mu        sync.Mutex
	now       func() time.Time
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (l *Log) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.closed.Load() {
		return eventlog.ErrClosed
	}
	return nil
}

// Open opens or creates the database described by opts.
func Open(opts Options) (*Log, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badgerlog: Options.Dir is required")
	}
	logger := opts.Logger
	if logger == nil {
		std := logrus.New()
		std.SetLevel(logrus.WarnLevel)
		logger = logrus.NewEntry(std)
	}

	bopts := badger.DefaultOptions(opts.Dir).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(logger.WithField("component", "badger"))
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badgerlog: open %q: %w", opts.Dir, err)
	}
	return &Log{db: db, now: time.Now}, nil
}

type storedEvent struct {
	EventID     uuid.UUID `json:"event_id"`
	StreamID    string    `json:"stream_id"`
	EventNumber int64     `json:"event_number"`
	EventType   string    `json:"event_type"`
	IsJSON      bool      `json:"is_json"`
	Data        []byte    `json:"data"`
	Metadata    []byte    `json:"metadata"`
	LogPosition int64     `json:"log_position"`
	Created     time.Time `json:"created"`
}

func (s storedEvent) recorded() eventlog.RecordedEvent {
	return eventlog.RecordedEvent{
		StreamID:    s.StreamID,
		EventNumber: s.EventNumber,
		EventID:     s.EventID,
		EventType:   s.EventType,
		IsJSON:      s.IsJSON,
		Data:        s.Data,
		Metadata:    s.Metadata,
		LogPosition: s.LogPosition,
		Created:     s.Created,
	}
}

// streamPrefix is length-prefixed so no stream's keys share a prefix with
// another stream's.
func streamPrefix(stream string) []byte {
	k := make([]byte, 0, len(prefixEvent)+binary.MaxVarintLen64+len(stream))
	k = append(k, prefixEvent...)
	k = binary.AppendUvarint(k, uint64(len(stream)))
	return append(k, stream...)
}

func eventKey(stream string, number int64) []byte {
	k := streamPrefix(stream)
	return binary.BigEndian.AppendUint64(k, uint64(number))
}

func headKey(stream string) []byte {
	return append(bytes.Clone(prefixHead), stream...)
}

func tombstoneKey(stream string) []byte {
	return append(bytes.Clone(prefixTombstone), stream...)
}

func readInt(txn *badger.Txn, key []byte, missing int64) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return missing, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("badgerlog: corrupt counter at %q", key)
	}
	return int64(binary.BigEndian.Uint64(v)), nil
}

func putInt(txn *badger.Txn, key []byte, v int64) error {
	return txn.Set(key, binary.BigEndian.AppendUint64(nil, uint64(v)))
}

func lastEventNumber(txn *badger.Txn, stream string) (int64, error) {
	_, err := txn.Get(tombstoneKey(stream))
	if err == nil {
		return eventlog.DeletedStream, nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return 0, err
	}
	return readInt(txn, headKey(stream), -1)
}

func mapError(op, stream string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrConflict) || errors.Is(err, badger.ErrBlockedWrites) {
		return eventlog.Transient(fmt.Errorf("badgerlog: %s %q: %w", op, stream, err))
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("badgerlog: %s %q: %w", op, stream, eventlog.ErrClosed)
	}
	var conflict *eventlog.LogConflictError
	if errors.As(err, &conflict) || errors.Is(err, eventlog.ErrInvalidEventBatch) {
		return err
	}
	return fmt.Errorf("badgerlog: %s %q: %w", op, stream, err)
}

func (l *Log) LastEventNumber(ctx context.Context, stream string) (int64, error) {
	if err := l.check(ctx); err != nil {
		return 0, err
	}
	var last int64
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		last, err = lastEventNumber(txn, stream)
		return err
	})
	return last, mapError("last event number", stream, err)
}

func (l *Log) read(ctx context.Context, stream string, from int64, count int, reverse bool) ([]eventlog.RecordedEvent, error) {
	if err := l.check(ctx); err != nil {
		return nil, err
	}
	out := make([]eventlog.RecordedEvent, 0)
	if count <= 0 {
		return out, nil
	}

	prefix := streamPrefix(stream)
	var seek []byte
	switch {
	case reverse && from < 0:
		seek = append(bytes.Clone(prefix), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
	case from < 0:
		seek = eventKey(stream, 0)
	default:
		seek = eventKey(stream, from)
	}

	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   min(count, 100),
			Reverse:        reverse,
			Prefix:         prefix,
		})
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < count; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var se storedEvent
			if err := json.Unmarshal(v, &se); err != nil {
				return fmt.Errorf("decode event at %q: %w", it.Item().Key(), err)
			}
			out = append(out, se.recorded())
		}
		return nil
	})
	if err != nil {
		return nil, mapError("read", stream, err)
	}
	return out, nil
}

func (l *Log) ReadForward(ctx context.Context, stream string, from int64, count int) ([]eventlog.RecordedEvent, error) {
	return l.read(ctx, stream, from, count, false)
}

func (l *Log) ReadBackward(ctx context.Context, stream string, from int64, count int) ([]eventlog.RecordedEvent, error) {
	return l.read(ctx, stream, from, count, true)
}

func (l *Log) Commit(ctx context.Context, appends ...eventlog.StreamAppend) ([]eventlog.RecordedEvent, error) {
	if err := l.check(ctx); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var recorded []eventlog.RecordedEvent
	err := l.db.Update(func(txn *badger.Txn) error {
		recorded = recorded[:0]
		position, err := readInt(txn, keyPosition, 0)
		if err != nil {
			return err
		}

		next := make(map[string]int64, len(appends))
		now := l.now().UTC()
		for _, a := range appends {
			if len(a.Events) == 0 {
				return fmt.Errorf("commit to stream %q: %w: no events", a.StreamID, eventlog.ErrInvalidEventBatch)
			}
			n, seen := next[a.StreamID]
			if !seen {
				n, err = lastEventNumber(txn, a.StreamID)
				if err != nil {
					return err
				}
				if n != eventlog.DeletedStream {
					n++
				}
			}
			if n == eventlog.DeletedStream {
				return &eventlog.LogConflictError{Stream: a.StreamID, FirstEventNumber: a.FirstEventNumber, Next: n}
			}

			tombstone := a.FirstEventNumber == eventlog.DeletedStream
			switch {
			case tombstone && len(a.Events) != 1:
				return fmt.Errorf("commit tombstone to stream %q: %w: want exactly one event", a.StreamID, eventlog.ErrInvalidEventBatch)
			case !tombstone && a.FirstEventNumber != n:
				return &eventlog.LogConflictError{Stream: a.StreamID, FirstEventNumber: a.FirstEventNumber, Next: n}
			}

			for i, ev := range a.Events {
				position++
				se := storedEvent{
					EventID:     ev.EventID,
					StreamID:    a.StreamID,
					EventNumber: a.FirstEventNumber + int64(i),
					EventType:   ev.EventType,
					IsJSON:      ev.IsJSON,
					Data:        ev.Data,
					Metadata:    ev.Metadata,
					LogPosition: position,
					Created:     now,
				}
				raw, err := json.Marshal(se)
				if err != nil {
					return err
				}
				key := eventKey(a.StreamID, se.EventNumber)
				if tombstone {
					key = tombstoneKey(a.StreamID)
				}
				if err := txn.Set(key, raw); err != nil {
					return err
				}
				recorded = append(recorded, se.recorded())
			}

			if tombstone {
				next[a.StreamID] = eventlog.DeletedStream
				continue
			}
			n += int64(len(a.Events))
			next[a.StreamID] = n
			if err := putInt(txn, headKey(a.StreamID), n-1); err != nil {
				return err
			}
		}
		return putInt(txn, keyPosition, position)
	})
	if err != nil {
		stream := ""
		if len(appends) > 0 {
			stream = appends[0].StreamID
		}
		return nil, mapError("commit", stream, err)
	}
	return recorded, nil
}

// Close closes the database. Close is idempotent.
func (l *Log) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.closeErr = l.db.Close()
	})
	return l.closeErr
}
