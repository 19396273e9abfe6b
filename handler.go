package eventlog

import "context"

// EventHandler handles committed events delivered by an event bus.
type EventHandler interface {
	Handle(ctx context.Context, event RecordedEvent) error
}

// NewEventHandlerFunc returns an EventHandler calling fn.
func NewEventHandlerFunc(fn func(ctx context.Context, event RecordedEvent) error) EventHandler {
	return eventHandlerFunc(fn)
}

type eventHandlerFunc func(ctx context.Context, event RecordedEvent) error

func (h eventHandlerFunc) Handle(ctx context.Context, event RecordedEvent) error {
	return h(ctx, event)
}

// StreamFilter matches the events of the given streams. With no streams it
// matches every event.
func StreamFilter(streams ...string) func(RecordedEvent) bool {
	if len(streams) == 0 {
		return func(RecordedEvent) bool { return true }
	}
	set := make(map[string]struct{}, len(streams))
	for _, s := range streams {
		set[s] = struct{}{}
	}
	return func(ev RecordedEvent) bool {
		_, ok := set[ev.StreamID]
		return ok
	}
}

// UserEvents matches events whose type is not a system event type.
func UserEvents(ev RecordedEvent) bool {
	return len(ev.EventType) == 0 || ev.EventType[0] != '$'
}
