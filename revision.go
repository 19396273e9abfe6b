package eventlog

import "fmt"

// StreamState is the caller's assertion about the current version of a
// stream, checked before an append is accepted.
//
// It is one of:
//   - Any{}: append without checking the current version.
//   - NoStream{}: the stream must not exist, or must be soft-deleted.
//   - Revision(n): the last event number of the stream must be exactly n.
type StreamState interface {
	fmt.Stringer
	toRawInt64() int64
}

// Any means append without checking current revision.
type Any struct{}

func (Any) toRawInt64() int64 { return -2 }

func (Any) String() string { return "Any" }

// NoStream means the stream should not exist yet.
type NoStream struct{}

func (NoStream) toRawInt64() int64 { return -1 }

func (NoStream) String() string { return "NoStream" }

// Revision matches exactly a numeric revision, the last event number of the stream.
type Revision uint64

func (r Revision) toRawInt64() int64 { return int64(r) }

func (r Revision) String() string { return fmt.Sprintf("%d", uint64(r)) }

// ExpectedVersionOf converts a raw expected version value into a StreamState.
// -2 is Any, -1 is NoStream and any non-negative value an exact Revision.
func ExpectedVersionOf(v int64) (StreamState, error) {
	switch {
	case v == -2:
		return Any{}, nil
	case v == -1:
		return NoStream{}, nil
	case v >= 0:
		return Revision(v), nil
	default:
		return nil, fmt.Errorf("expected version %d: %w", v, ErrInvalidRevision)
	}
}

// RawExpectedVersion returns the raw value of a StreamState as used by ExpectedVersionOf.
func RawExpectedVersion(s StreamState) int64 {
	return s.toRawInt64()
}
