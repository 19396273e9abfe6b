package eventlog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Ordering is the result of comparing two checkpoint tags.
type Ordering int

const (
	Incomparable Ordering = iota
	Before
	Equal
	After
)

func (o Ordering) String() string {
	switch o {
	case Before:
		return "Before"
	case Equal:
		return "Equal"
	case After:
		return "After"
	default:
		return "Incomparable"
	}
}

// CheckpointTag records, per source stream, the last event number a
// multi-stream consumer has processed. -1 means nothing was consumed yet.
//
// The zero CheckpointTag has no streams. Tags are immutable; the With*
// methods return modified copies.
type CheckpointTag struct {
	positions map[string]int64
}

// FromStreamPositions returns a tag holding a copy of positions.
func FromStreamPositions(positions map[string]int64) CheckpointTag {
	p := make(map[string]int64, len(positions))
	for s, n := range positions {
		p[s] = n
	}
	return CheckpointTag{positions: p}
}

// InitialTag returns a tag positioned before the first event of every stream.
func InitialTag(streams ...string) CheckpointTag {
	p := make(map[string]int64, len(streams))
	for _, s := range streams {
		p[s] = -1
	}
	return CheckpointTag{positions: p}
}

// Position returns the position of stream and whether the tag tracks it.
func (t CheckpointTag) Position(stream string) (int64, bool) {
	n, ok := t.positions[stream]
	return n, ok
}

// Positions returns a copy of the per-stream positions.
func (t CheckpointTag) Positions() map[string]int64 {
	out := make(map[string]int64, len(t.positions))
	for s, n := range t.positions {
		out[s] = n
	}
	return out
}

// Streams returns the tracked stream names in sorted order.
func (t CheckpointTag) Streams() []string {
	out := make([]string, 0, len(t.positions))
	for s := range t.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// IsZero reports whether the tag tracks no stream.
func (t CheckpointTag) IsZero() bool {
	return len(t.positions) == 0
}

// WithPosition returns a copy of t with stream moved to position.
func (t CheckpointTag) WithPosition(stream string, position int64) CheckpointTag {
	out := FromStreamPositions(t.positions)
	out.positions[stream] = position
	return out
}

// Covers reports whether the event number of stream is at or before the
// tag's position for that stream.
func (t CheckpointTag) Covers(stream string, eventNumber int64) bool {
	n, ok := t.positions[stream]
	return ok && eventNumber <= n
}

// SameStreams reports whether both tags track the same set of streams.
func (t CheckpointTag) SameStreams(o CheckpointTag) bool {
	if len(t.positions) != len(o.positions) {
		return false
	}
	for s := range t.positions {
		if _, ok := o.positions[s]; !ok {
			return false
		}
	}
	return true
}

// Compare orders t against o. Tags over different stream sets, or whose
// positions move in opposite directions, are Incomparable.
func (t CheckpointTag) Compare(o CheckpointTag) Ordering {
	if !t.SameStreams(o) {
		return Incomparable
	}
	less, greater := false, false
	for s, n := range t.positions {
		m := o.positions[s]
		switch {
		case n < m:
			less = true
		case n > m:
			greater = true
		}
	}
	switch {
	case less && greater:
		return Incomparable
	case less:
		return Before
	case greater:
		return After
	default:
		return Equal
	}
}

// Precedes reports whether t is strictly before o.
func (t CheckpointTag) Precedes(o CheckpointTag) bool {
	return t.Compare(o) == Before
}

// Merge returns the per-stream maximum of both tags over the union of their streams.
func (t CheckpointTag) Merge(o CheckpointTag) CheckpointTag {
	out := FromStreamPositions(t.positions)
	for s, n := range o.positions {
		if cur, ok := out.positions[s]; !ok || n > cur {
			out.positions[s] = n
		}
	}
	return out
}

func (t CheckpointTag) String() string {
	streams := t.Streams()
	parts := make([]string, len(streams))
	for i, s := range streams {
		parts[i] = fmt.Sprintf("%s:%d", s, t.positions[s])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func (t CheckpointTag) MarshalJSON() ([]byte, error) {
	if t.positions == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(t.positions)
}

func (t *CheckpointTag) UnmarshalJSON(data []byte) error {
	var p map[string]int64
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse checkpoint tag: %w", err)
	}
	*t = FromStreamPositions(p)
	return nil
}
