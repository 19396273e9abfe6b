package logging

import (
	"context"
	"log/slog"

	"github.com/terraskye/eventlog"
)

// WithHandlerLogging wraps an event bus handler with slog logging of each
// delivered event.
func WithHandlerLogging(logger *slog.Logger, next eventlog.EventHandler) eventlog.EventHandler {
	return eventlog.NewEventHandlerFunc(func(ctx context.Context, event eventlog.RecordedEvent) error {
		l := logger.With(
			"stream-id", event.StreamID,
			"event-number", event.EventNumber,
			"event-type", event.EventType,
			"event-id", event.EventID.String(),
			"log-position", event.LogPosition,
		)

		l.DebugContext(ctx, "event processing started")

		err := next.Handle(ctx, event)

		if err != nil {
			l.ErrorContext(ctx, "error processing event", "error", err)
		} else {
			l.DebugContext(ctx, "event processed successfully")
		}

		return err
	})
}
