package fixtures

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/terraskye/eventlog"
)

// EventBuilder provides a fluent API for constructing EventData.
type EventBuilder struct {
	typ      string
	data     string
	metadata []byte
	isJSON   bool
}

// NewEvent creates a new EventBuilder with sensible defaults.
func NewEvent() *EventBuilder {
	return &EventBuilder{
		typ:    "TestEvent",
		data:   "test",
		isJSON: true,
	}
}

// WithType sets the event type.
func (b *EventBuilder) WithType(typ string) *EventBuilder {
	b.typ = typ
	return b
}

// WithData sets the data prefix. JSON events carry {"data":"<prefix>-<n>"}.
func (b *EventBuilder) WithData(data string) *EventBuilder {
	b.data = data
	return b
}

// WithMetadata sets opaque metadata bytes.
func (b *EventBuilder) WithMetadata(metadata []byte) *EventBuilder {
	b.metadata = metadata
	return b
}

// Binary marks built events as non-JSON.
func (b *EventBuilder) Binary() *EventBuilder {
	b.isJSON = false
	return b
}

// Build constructs a single event.
func (b *EventBuilder) Build() eventlog.EventData {
	return b.build(1)
}

// BuildN creates n events with sequential data.
func (b *EventBuilder) BuildN(n int) []eventlog.EventData {
	events := make([]eventlog.EventData, n)
	for i := range n {
		events[i] = b.build(i + 1)
	}
	return events
}

func (b *EventBuilder) build(seq int) eventlog.EventData {
	data := fmt.Sprintf("%s-%d", b.data, seq)
	if b.isJSON {
		data = fmt.Sprintf(`{"data":%q}`, data)
	}
	return eventlog.EventData{
		EventID:   uuid.New(),
		EventType: b.typ,
		IsJSON:    b.isJSON,
		Data:      []byte(data),
		Metadata:  b.metadata,
	}
}

// NewEvents returns n JSON test events.
func NewEvents(n int) []eventlog.EventData {
	return NewEvent().BuildN(n)
}

// EventNumbers returns the event numbers of events in order.
func EventNumbers(events []eventlog.RecordedEvent) []int64 {
	out := make([]int64, len(events))
	for i, ev := range events {
		out[i] = ev.EventNumber
	}
	return out
}

// ResolvedEvent returns the event a multi-stream reader sees at
// stream/eventNumber, carrying metadata as its opaque position metadata.
func ResolvedEvent(stream string, eventNumber int64, metadata string) eventlog.ResolvedEvent {
	return eventlog.ResolvedEvent{
		PositionStreamID:    stream,
		PositionEventNumber: eventNumber,
		EventStreamID:       stream,
		EventNumber:         eventNumber,
		LogPosition:         -1,
		EventID:             uuid.New(),
		EventType:           "TestEvent",
		IsJSON:              true,
		Data:                []byte(`{}`),
		Metadata:            []byte(metadata),
		PositionMetadata:    []byte(metadata),
	}
}
