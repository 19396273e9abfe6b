package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraskye/eventlog"
	"github.com/terraskye/eventlog/consistency"
	"github.com/terraskye/eventlog/eventbus/memory"
	"github.com/terraskye/eventlog/fixtures"
	streamlog "github.com/terraskye/eventlog/streamlog/memory"
)

func receive(t *testing.T, ch <-chan eventlog.RecordedEvent) eventlog.RecordedEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return eventlog.RecordedEvent{}
	}
}

func collect(ch chan<- eventlog.RecordedEvent) eventlog.EventHandler {
	return eventlog.NewEventHandlerFunc(func(_ context.Context, ev eventlog.RecordedEvent) error {
		ch <- ev
		return nil
	})
}

func TestCommittedEventsReachSubscribers(t *testing.T) {
	bus := memory.NewEventBus(16)
	t.Cleanup(func() { _ = bus.Close() })
	store := consistency.NewStore(streamlog.NewLog(), consistency.WithPublisher(bus))
	t.Cleanup(func() { _ = store.Close() })

	got := make(chan eventlog.RecordedEvent, 16)
	streams := make(chan string, 16)
	handler := eventlog.NewEventHandlerFunc(func(ctx context.Context, ev eventlog.RecordedEvent) error {
		streams <- eventlog.StreamIDFromContext(ctx)
		got <- ev
		return nil
	})
	require.NoError(t, bus.Subscribe(t.Context(), "orders", eventlog.StreamFilter("orders"), handler))

	_, err := store.AppendToStream(t.Context(), "orders", eventlog.NoStream{}, fixtures.NewEvents(2)...)
	require.NoError(t, err)
	_, err = store.AppendToStream(t.Context(), "other", eventlog.NoStream{}, fixtures.NewEvents(1)...)
	require.NoError(t, err)

	assert.Equal(t, int64(0), receive(t, got).EventNumber)
	assert.Equal(t, int64(1), receive(t, got).EventNumber)
	assert.Equal(t, "orders", <-streams)
	select {
	case ev := <-got:
		t.Fatalf("unexpected event %d@%s", ev.EventNumber, ev.StreamID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeValidation(t *testing.T) {
	bus := memory.NewEventBus(1)
	ch := make(chan eventlog.RecordedEvent, 1)

	assert.Error(t, bus.Subscribe(t.Context(), "a", nil, collect(ch)))
	require.NoError(t, bus.Subscribe(t.Context(), "a", eventlog.UserEvents, collect(ch)))
	assert.Error(t, bus.Subscribe(t.Context(), "a", eventlog.UserEvents, collect(ch)))

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Subscribe(t.Context(), "b", eventlog.UserEvents, collect(ch)), eventlog.ErrClosed)
	assert.ErrorIs(t, bus.Publish(t.Context(), eventlog.RecordedEvent{}), eventlog.ErrClosed)
}

func TestHandlerErrorsAreReported(t *testing.T) {
	bus := memory.NewEventBus(4)
	boom := errors.New("boom")
	require.NoError(t, bus.Subscribe(t.Context(), "failing", eventlog.UserEvents, eventlog.NewEventHandlerFunc(func(context.Context, eventlog.RecordedEvent) error {
		return boom
	})))

	require.NoError(t, bus.Publish(t.Context(), eventlog.RecordedEvent{StreamID: "s", EventType: "TestEvent"}))
	select {
	case err := <-bus.Errors():
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), `"failing"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported")
	}
	require.NoError(t, bus.Close())
}

func TestLaggingSubscriberDropsEvents(t *testing.T) {
	bus := memory.NewEventBus(1)
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	require.NoError(t, bus.Subscribe(t.Context(), "slow", eventlog.UserEvents, eventlog.NewEventHandlerFunc(func(context.Context, eventlog.RecordedEvent) error {
		entered <- struct{}{}
		<-gate
		return nil
	})))

	require.NoError(t, bus.Publish(t.Context(), eventlog.RecordedEvent{StreamID: "s", EventNumber: 0, EventType: "E"}))
	<-entered
	require.NoError(t, bus.Publish(t.Context(), eventlog.RecordedEvent{StreamID: "s", EventNumber: 1, EventType: "E"}))
	require.NoError(t, bus.Publish(t.Context(), eventlog.RecordedEvent{StreamID: "s", EventNumber: 2, EventType: "E"}))

	err := <-bus.Errors()
	assert.ErrorIs(t, err, memory.ErrSubscriberLagging)
	close(gate)
	require.NoError(t, bus.Close())
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	bus := memory.NewEventBus(4)
	t.Cleanup(func() { _ = bus.Close() })
	ctx, cancel := context.WithCancel(t.Context())
	ch := make(chan eventlog.RecordedEvent, 4)
	require.NoError(t, bus.Subscribe(ctx, "short", eventlog.UserEvents, collect(ch)))
	cancel()

	require.Eventually(t, func() bool {
		return bus.Subscribe(t.Context(), "short", eventlog.UserEvents, collect(ch)) == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUserEventsSkipsSystemEvents(t *testing.T) {
	assert.True(t, eventlog.UserEvents(eventlog.RecordedEvent{EventType: "OrderPlaced"}))
	assert.False(t, eventlog.UserEvents(eventlog.RecordedEvent{EventType: eventlog.EventTypeMetadata}))
	assert.True(t, eventlog.StreamFilter()(eventlog.RecordedEvent{StreamID: "x"}))
}
