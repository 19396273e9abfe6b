package logging_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraskye/eventlog"
	"github.com/terraskye/eventlog/consistency"
	"github.com/terraskye/eventlog/fixtures"
	"github.com/terraskye/eventlog/logging"
	"github.com/terraskye/eventlog/streamlog/memory"
)

func TestClientLogging(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	store := consistency.NewStore(memory.NewLog(), consistency.WithLogger(logrus.NewEntry(logrus.New())))
	client := logging.WithClientLogging(logrus.NewEntry(logger), store)
	t.Cleanup(func() { _ = client.Close() })

	_, err := client.AppendToStream(t.Context(), "orders", eventlog.NoStream{}, fixtures.NewEvents(1)...)
	require.NoError(t, err)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "orders", entry.Data["stream"])
	assert.Equal(t, int64(0), entry.Data["next"])

	_, err = client.AppendToStream(t.Context(), "orders", eventlog.NoStream{}, fixtures.NewEvents(1)...)
	require.ErrorIs(t, err, eventlog.ErrWrongExpectedVersion)
	entry = hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "ConcurrencyViolation", entry.Data["kind"])

	_, err = client.DeleteStream(t.Context(), "orders", eventlog.Any{})
	require.NoError(t, err)
	var infos int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.InfoLevel {
			infos++
		}
	}
	assert.Equal(t, 1, infos)
}

func TestHandlerLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	boom := errors.New("boom")
	h := logging.WithHandlerLogging(logger, eventlog.NewEventHandlerFunc(func(context.Context, eventlog.RecordedEvent) error {
		return boom
	}))

	err := h.Handle(t.Context(), eventlog.RecordedEvent{StreamID: "orders", EventNumber: 3, EventType: "OrderPlaced"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), `"stream-id":"orders"`)
	assert.Contains(t, buf.String(), `"event-number":3`)
	assert.Contains(t, buf.String(), "error processing event")
}
