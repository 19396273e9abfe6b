package eventlog

import (
	"time"

	"github.com/google/uuid"
)

// EventData is an event as submitted for appending to a stream.
type EventData struct {
	EventID   uuid.UUID
	EventType string
	IsJSON    bool
	Data      []byte
	Metadata  []byte
}

// NewEventData returns an EventData with a fresh EventID.
func NewEventData(eventType string, data, metadata []byte) EventData {
	return EventData{
		EventID:   uuid.New(),
		EventType: eventType,
		IsJSON:    true,
		Data:      data,
		Metadata:  metadata,
	}
}

// RecordedEvent is an event as it was committed to a stream.
type RecordedEvent struct {
	StreamID    string
	EventNumber int64
	EventID     uuid.UUID
	EventType   string
	IsJSON      bool
	Data        []byte
	Metadata    []byte
	// LogPosition is the global position assigned by the StreamLog at commit.
	LogPosition int64
	Created     time.Time
}

// ResolvedEvent is an event as delivered to a multi-stream consumer.
//
// The position fields identify where the consumer read the event, which is
// what checkpoint tags track. The event fields identify the event itself;
// they differ from the position fields when the consumer read a link event
// and resolved it to its target.
type ResolvedEvent struct {
	PositionStreamID    string
	PositionEventNumber int64
	EventStreamID       string
	EventNumber         int64
	ResolvedLinkTo      bool
	LogPosition         int64

	EventID   uuid.UUID
	EventType string
	IsJSON    bool
	Data      []byte
	Metadata  []byte
	// PositionMetadata is the opaque metadata of the event at the position
	// stream (the link metadata when ResolvedLinkTo is set).
	PositionMetadata []byte
}

// ResolvedFromRecorded returns a ResolvedEvent for an event read directly
// from its own stream.
func ResolvedFromRecorded(ev RecordedEvent) ResolvedEvent {
	return ResolvedEvent{
		PositionStreamID:    ev.StreamID,
		PositionEventNumber: ev.EventNumber,
		EventStreamID:       ev.StreamID,
		EventNumber:         ev.EventNumber,
		LogPosition:         ev.LogPosition,
		EventID:             ev.EventID,
		EventType:           ev.EventType,
		IsJSON:              ev.IsJSON,
		Data:                ev.Data,
		Metadata:            ev.Metadata,
		PositionMetadata:    ev.Metadata,
	}
}
