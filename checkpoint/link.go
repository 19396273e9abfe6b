package checkpoint

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/terraskye/eventlog"
)

// Link is a decoded order-stream event: the position of one source event
// and the checkpoint tag reached by processing it.
type Link struct {
	StreamID    string
	EventNumber int64
	Tag         eventlog.CheckpointTag
	// Origin is the source event's metadata, byte for byte.
	Origin []byte
	// OrderEventNumber is the event number of the link in the order-stream.
	OrderEventNumber int64
}

// linkMetadata is the metadata envelope of a link event. The origin is kept
// as a string when it is valid UTF-8 and as base64 otherwise, so arbitrary
// bytes round-trip.
type linkMetadata struct {
	Tag          eventlog.CheckpointTag `json:"$s"`
	Origin       *string                `json:"$o,omitempty"`
	OriginBinary []byte                 `json:"$ob,omitempty"`
}

// LinkData returns the payload of a link to eventNumber in stream.
func LinkData(stream string, eventNumber int64) []byte {
	return []byte(strconv.FormatInt(eventNumber, 10) + "@" + stream)
}

// ParseLinkData parses a link payload written by LinkData.
func ParseLinkData(data []byte) (string, int64, error) {
	number, stream, ok := strings.Cut(string(data), "@")
	if !ok || stream == "" {
		return "", 0, fmt.Errorf("link payload %q: missing stream", data)
	}
	n, err := strconv.ParseInt(number, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("link payload %q: %w", data, err)
	}
	return stream, n, nil
}

func newLinkEvent(ev eventlog.ResolvedEvent, tag eventlog.CheckpointTag) (eventlog.EventData, error) {
	md := linkMetadata{Tag: tag}
	origin := ev.PositionMetadata
	switch {
	case len(origin) == 0:
	case utf8.Valid(origin):
		s := string(origin)
		md.Origin = &s
	default:
		md.OriginBinary = origin
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return eventlog.EventData{}, fmt.Errorf("encode link metadata: %w", err)
	}
	return eventlog.EventData{
		EventID:   uuid.New(),
		EventType: eventlog.EventTypeLinkTo,
		Data:      LinkData(ev.PositionStreamID, ev.PositionEventNumber),
		Metadata:  raw,
	}, nil
}

// DecodeLink decodes an order-stream event.
func DecodeLink(ev eventlog.RecordedEvent) (Link, error) {
	if ev.EventType != eventlog.EventTypeLinkTo {
		return Link{}, fmt.Errorf("order-stream event %d has type %q", ev.EventNumber, ev.EventType)
	}
	stream, n, err := ParseLinkData(ev.Data)
	if err != nil {
		return Link{}, err
	}
	var md linkMetadata
	if err := json.Unmarshal(ev.Metadata, &md); err != nil {
		return Link{}, fmt.Errorf("decode link metadata of order-stream event %d: %w", ev.EventNumber, err)
	}

	link := Link{StreamID: stream, EventNumber: n, Tag: md.Tag, OrderEventNumber: ev.EventNumber}
	switch {
	case md.Origin != nil:
		link.Origin = []byte(*md.Origin)
	case md.OriginBinary != nil:
		link.Origin = md.OriginBinary
	}
	return link, nil
}
