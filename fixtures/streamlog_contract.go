package fixtures

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraskye/eventlog"
)

// RunStreamLogContract runs the behavior every StreamLog backend must share.
// open returns a fresh, empty log; the contract closes it.
func RunStreamLogContract(t *testing.T, open func(t *testing.T) eventlog.StreamLog) {
	t.Helper()

	t.Run("new stream has no events", func(t *testing.T) {
		log := open(t)
		defer log.Close()

		last, err := log.LastEventNumber(t.Context(), "s")
		require.NoError(t, err)
		assert.Equal(t, int64(-1), last)

		events, err := log.ReadForward(t.Context(), "s", 0, 10)
		require.NoError(t, err)
		assert.NotNil(t, events)
		assert.Empty(t, events)
	})

	t.Run("commit numbers events consecutively", func(t *testing.T) {
		log := open(t)
		defer log.Close()

		rec, err := log.Commit(t.Context(), eventlog.StreamAppend{StreamID: "s", FirstEventNumber: 0, Events: NewEvents(3)})
		require.NoError(t, err)
		require.Len(t, rec, 3)
		assert.Equal(t, []int64{0, 1, 2}, EventNumbers(rec))
		assert.Less(t, rec[0].LogPosition, rec[2].LogPosition)

		_, err = log.Commit(t.Context(), eventlog.StreamAppend{StreamID: "s", FirstEventNumber: 3, Events: NewEvents(2)})
		require.NoError(t, err)

		last, err := log.LastEventNumber(t.Context(), "s")
		require.NoError(t, err)
		assert.Equal(t, int64(4), last)

		events, err := log.ReadForward(t.Context(), "s", 1, 3)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, EventNumbers(events))
		assert.Equal(t, "s", events[0].StreamID)
	})

	t.Run("read backward", func(t *testing.T) {
		log := open(t)
		defer log.Close()

		_, err := log.Commit(t.Context(), eventlog.StreamAppend{StreamID: "s", FirstEventNumber: 0, Events: NewEvents(5)})
		require.NoError(t, err)

		events, err := log.ReadBackward(t.Context(), "s", -1, 2)
		require.NoError(t, err)
		assert.Equal(t, []int64{4, 3}, EventNumbers(events))

		events, err = log.ReadBackward(t.Context(), "s", 2, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 1, 0}, EventNumbers(events))
	})

	t.Run("payloads round trip", func(t *testing.T) {
		log := open(t)
		defer log.Close()

		ev := NewEvent().WithMetadata([]byte(`{$o:"oa"`)).Build()
		_, err := log.Commit(t.Context(), eventlog.StreamAppend{StreamID: "s", FirstEventNumber: 0, Events: []eventlog.EventData{ev}})
		require.NoError(t, err)

		events, err := log.ReadForward(t.Context(), "s", 0, 1)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, ev.EventID, events[0].EventID)
		assert.Equal(t, ev.EventType, events[0].EventType)
		assert.Equal(t, ev.Data, events[0].Data)
		assert.Equal(t, ev.Metadata, events[0].Metadata)
		assert.True(t, events[0].IsJSON)
	})

	t.Run("commit at wrong position conflicts", func(t *testing.T) {
		log := open(t)
		defer log.Close()

		_, err := log.Commit(t.Context(), eventlog.StreamAppend{StreamID: "s", FirstEventNumber: 1, Events: NewEvents(1)})
		require.ErrorIs(t, err, eventlog.ErrLogConflict)

		var conflict *eventlog.LogConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, int64(0), conflict.Next)
	})

	t.Run("multi-stream commit is atomic", func(t *testing.T) {
		log := open(t)
		defer log.Close()

		_, err := log.Commit(t.Context(),
			eventlog.StreamAppend{StreamID: "a", FirstEventNumber: 0, Events: NewEvents(1)},
			eventlog.StreamAppend{StreamID: "b", FirstEventNumber: 5, Events: NewEvents(1)},
		)
		require.ErrorIs(t, err, eventlog.ErrLogConflict)

		last, err := log.LastEventNumber(t.Context(), "a")
		require.NoError(t, err)
		assert.Equal(t, int64(-1), last, "first append must not be applied")

		rec, err := log.Commit(t.Context(),
			eventlog.StreamAppend{StreamID: "a", FirstEventNumber: 0, Events: NewEvents(2)},
			eventlog.StreamAppend{StreamID: "$$a", FirstEventNumber: 0, Events: NewEvents(1)},
		)
		require.NoError(t, err)
		assert.Len(t, rec, 3)
	})

	t.Run("two appends to one stream in a commit", func(t *testing.T) {
		log := open(t)
		defer log.Close()

		_, err := log.Commit(t.Context(),
			eventlog.StreamAppend{StreamID: "s", FirstEventNumber: 0, Events: NewEvents(2)},
			eventlog.StreamAppend{StreamID: "s", FirstEventNumber: 2, Events: NewEvents(1)},
		)
		require.NoError(t, err)

		last, err := log.LastEventNumber(t.Context(), "s")
		require.NoError(t, err)
		assert.Equal(t, int64(2), last)
	})

	t.Run("empty append is invalid", func(t *testing.T) {
		log := open(t)
		defer log.Close()

		_, err := log.Commit(t.Context(), eventlog.StreamAppend{StreamID: "s", FirstEventNumber: 0})
		require.ErrorIs(t, err, eventlog.ErrInvalidEventBatch)
	})

	t.Run("tombstone is terminal", func(t *testing.T) {
		log := open(t)
		defer log.Close()

		_, err := log.Commit(t.Context(), eventlog.StreamAppend{StreamID: "s", FirstEventNumber: 0, Events: NewEvents(2)})
		require.NoError(t, err)

		tomb := NewEvent().WithType(eventlog.EventTypeStreamDeleted).Build()
		rec, err := log.Commit(t.Context(), eventlog.StreamAppend{StreamID: "s", FirstEventNumber: eventlog.DeletedStream, Events: []eventlog.EventData{tomb}})
		require.NoError(t, err)
		require.Len(t, rec, 1)
		assert.Equal(t, eventlog.DeletedStream, rec[0].EventNumber)

		last, err := log.LastEventNumber(t.Context(), "s")
		require.NoError(t, err)
		assert.Equal(t, eventlog.DeletedStream, last)

		_, err = log.Commit(t.Context(), eventlog.StreamAppend{StreamID: "s", FirstEventNumber: 2, Events: NewEvents(1)})
		require.ErrorIs(t, err, eventlog.ErrLogConflict)

		_, err = log.Commit(t.Context(), eventlog.StreamAppend{StreamID: "s", FirstEventNumber: eventlog.DeletedStream, Events: []eventlog.EventData{tomb}})
		require.ErrorIs(t, err, eventlog.ErrLogConflict)
	})

	t.Run("concurrent commits keep streams gap free", func(t *testing.T) {
		log := open(t)
		defer log.Close()

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					last, err := log.LastEventNumber(t.Context(), "s")
					if err != nil {
						return
					}
					_, err = log.Commit(t.Context(), eventlog.StreamAppend{StreamID: "s", FirstEventNumber: last + 1, Events: NewEvents(1)})
					if err == nil || !(errors.Is(err, eventlog.ErrLogConflict) || eventlog.IsTransient(err)) {
						return
					}
				}
			}()
		}
		wg.Wait()

		events, err := log.ReadForward(t.Context(), "s", 0, 100)
		require.NoError(t, err)
		require.Len(t, events, 8)
		for i, ev := range events {
			assert.Equal(t, int64(i), ev.EventNumber)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		log := open(t)
		defer log.Close()

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := log.Commit(ctx, eventlog.StreamAppend{StreamID: "s", FirstEventNumber: 0, Events: NewEvents(1)})
		require.Error(t, err)
	})

	t.Run("closed log", func(t *testing.T) {
		log := open(t)
		require.NoError(t, log.Close())
		require.NoError(t, log.Close())

		_, err := log.LastEventNumber(t.Context(), "s")
		require.ErrorIs(t, err, eventlog.ErrClosed)
	})
}
