package eventlog

import (
	"fmt"
	"strings"
)

// System event types.
const (
	EventTypeMetadata      = "$metadata"
	EventTypeStreamDeleted = "$streamDeleted"
	EventTypeLinkTo        = "$>"
	EventTypeCheckpoint    = "$ProjectionCheckpoint"
)

const (
	metastreamPrefix = "$$"
	projectionPrefix = "$projections-"
	orderSuffix      = "-order"
	checkpointSuffix = "-checkpoint"
)

// MetastreamOf returns the name of the metastream of stream.
func MetastreamOf(stream string) string {
	return metastreamPrefix + stream
}

// IsMetastream reports whether stream is a metastream.
func IsMetastream(stream string) bool {
	return strings.HasPrefix(stream, metastreamPrefix)
}

// OriginalStreamOf returns the stream a metastream belongs to.
func OriginalStreamOf(metastream string) string {
	return strings.TrimPrefix(metastream, metastreamPrefix)
}

// OrderStreamName returns the order-stream of a projection.
func OrderStreamName(projection string) string {
	return projectionPrefix + projection + orderSuffix
}

// CheckpointStreamName returns the checkpoint stream of a projection.
func CheckpointStreamName(projection string) string {
	return projectionPrefix + projection + checkpointSuffix
}

// IsProjectionStream reports whether stream is an order-stream or a
// checkpoint stream owned by a projection.
func IsProjectionStream(stream string) bool {
	if !strings.HasPrefix(stream, projectionPrefix) {
		return false
	}
	return strings.HasSuffix(stream, orderSuffix) || strings.HasSuffix(stream, checkpointSuffix)
}

// ValidateStreamName rejects names no client may write to directly.
func ValidateStreamName(stream string) error {
	switch {
	case stream == "":
		return fmt.Errorf("stream name is empty: %w", ErrInvalidStreamName)
	case IsMetastream(stream):
		return fmt.Errorf("stream %q is a metastream: %w", stream, ErrInvalidStreamName)
	}
	return nil
}
