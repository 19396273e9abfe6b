package badgerlog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraskye/eventlog"
	"github.com/terraskye/eventlog/fixtures"
	badgerlog "github.com/terraskye/eventlog/streamlog/badger"
)

func TestLogContract(t *testing.T) {
	fixtures.RunStreamLogContract(t, func(t *testing.T) eventlog.StreamLog {
		log, err := badgerlog.Open(badgerlog.Options{InMemory: true})
		require.NoError(t, err)
		return log
	})
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := badgerlog.Open(badgerlog.Options{})
	require.Error(t, err)
}

func TestLogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	log, err := badgerlog.Open(badgerlog.Options{Dir: dir, SyncWrites: true})
	require.NoError(t, err)
	_, err = log.Commit(t.Context(),
		eventlog.StreamAppend{StreamID: "s", FirstEventNumber: 0, Events: fixtures.NewEvents(3)},
		eventlog.StreamAppend{StreamID: "gone", FirstEventNumber: 0, Events: fixtures.NewEvents(1)},
	)
	require.NoError(t, err)
	_, err = log.Commit(t.Context(), eventlog.StreamAppend{
		StreamID:         "gone",
		FirstEventNumber: eventlog.DeletedStream,
		Events:           []eventlog.EventData{fixtures.NewEvent().WithType(eventlog.EventTypeStreamDeleted).Build()},
	})
	require.NoError(t, err)
	require.NoError(t, log.Close())

	log, err = badgerlog.Open(badgerlog.Options{Dir: dir})
	require.NoError(t, err)
	defer log.Close()

	last, err := log.LastEventNumber(t.Context(), "s")
	require.NoError(t, err)
	assert.Equal(t, int64(2), last)

	last, err = log.LastEventNumber(t.Context(), "gone")
	require.NoError(t, err)
	assert.Equal(t, eventlog.DeletedStream, last)

	rec, err := log.Commit(t.Context(), eventlog.StreamAppend{StreamID: "s", FirstEventNumber: 3, Events: fixtures.NewEvents(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(6), rec[0].LogPosition, "log positions continue after reopen")
}

func TestStreamNamesDoNotOverlap(t *testing.T) {
	log, err := badgerlog.Open(badgerlog.Options{InMemory: true})
	require.NoError(t, err)
	defer log.Close()

	_, err = log.Commit(t.Context(),
		eventlog.StreamAppend{StreamID: "ab", FirstEventNumber: 0, Events: fixtures.NewEvents(2)},
		eventlog.StreamAppend{StreamID: "a", FirstEventNumber: 0, Events: fixtures.NewEvents(1)},
	)
	require.NoError(t, err)

	events, err := log.ReadForward(t.Context(), "a", 0, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	events, err = log.ReadBackward(t.Context(), "a", -1, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStreamNamesWithNULDoNotOverlap(t *testing.T) {
	log, err := badgerlog.Open(badgerlog.Options{InMemory: true})
	require.NoError(t, err)
	defer log.Close()

	_, err = log.Commit(t.Context(),
		eventlog.StreamAppend{StreamID: "a", FirstEventNumber: 0, Events: fixtures.NewEvents(1)},
		eventlog.StreamAppend{StreamID: "a\x00b", FirstEventNumber: 0, Events: fixtures.NewEvents(2)},
		eventlog.StreamAppend{StreamID: "$$a\x00b", FirstEventNumber: 0, Events: fixtures.NewEvents(1)},
	)
	require.NoError(t, err)

	for _, stream := range []string{"a", "$$a"} {
		forward, err := log.ReadForward(t.Context(), stream, 0, 10)
		require.NoError(t, err)
		backward, err := log.ReadBackward(t.Context(), stream, -1, 10)
		require.NoError(t, err)
		for _, ev := range append(forward, backward...) {
			assert.Equal(t, stream, ev.StreamID)
		}
	}

	events, err := log.ReadBackward(t.Context(), "a", -1, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	events, err = log.ReadBackward(t.Context(), "$$a", -1, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = log.ReadForward(t.Context(), "a\x00b", 0, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
