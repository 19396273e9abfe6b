package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/terraskye/eventlog"
)

// LoadResult is the state recovered by BeginLoadState.
type LoadResult struct {
	// CheckpointTag is the last checkpoint acknowledged with
	// RequestCheckpoint. It is zero when none was ever written.
	CheckpointTag eventlog.CheckpointTag
	// CheckpointVersion is the last event number of the checkpoint stream.
	CheckpointVersion int64
	// OrderTag is the tag of the last link in the order-stream, zero when
	// the order-stream is empty.
	OrderTag eventlog.CheckpointTag
	// OrderStreamVersion is the last event number of the order-stream.
	OrderStreamVersion int64
	// Pending holds the links recorded after CheckpointTag, oldest first.
	Pending []Link
	Err     error
}

// Tag returns the position processing resumes from: the recorded order tag
// when there is one, the acknowledged checkpoint otherwise.
func (r LoadResult) Tag() eventlog.CheckpointTag {
	if !r.OrderTag.IsZero() {
		return r.OrderTag
	}
	return r.CheckpointTag
}

// backward pages through stream from its last event to its first.
func backward(client Client, stream string, pageSize int) *eventlog.Iterator[eventlog.RecordedEvent] {
	var (
		page []eventlog.RecordedEvent
		next int64 = -1
		end  bool
	)
	return eventlog.NewIteratorFunc(func(ctx context.Context) (eventlog.RecordedEvent, error) {
		for len(page) == 0 {
			if end {
				return eventlog.RecordedEvent{}, io.EOF
			}
			slice, err := client.ReadStreamBackward(ctx, stream, next, pageSize)
			if err != nil {
				return eventlog.RecordedEvent{}, err
			}
			if slice.Status != eventlog.ReadSuccess {
				return eventlog.RecordedEvent{}, io.EOF
			}
			page, next, end = slice.Events, slice.NextEventNumber, slice.IsEndOfStream
		}
		ev := page[0]
		page = page[1:]
		return ev, nil
	})
}

func lastEventNumber(ctx context.Context, client Client, stream string) (int64, []eventlog.RecordedEvent, error) {
	slice, err := client.ReadStreamBackward(ctx, stream, -1, 1)
	if err != nil {
		return 0, nil, err
	}
	switch slice.Status {
	case eventlog.ReadSuccess:
		return slice.LastEventNumber, slice.Events, nil
	case eventlog.ReadDeleted:
		return 0, nil, &eventlog.StreamDeletedError{Stream: stream}
	default:
		return -1, nil, nil
	}
}

// load reads the checkpoint stream and scans the order-stream from its tail
// back to the last acknowledged checkpoint.
func load(ctx context.Context, client Client, name string, pageSize int) (LoadResult, error) {
	var res LoadResult

	checkpointStream := eventlog.CheckpointStreamName(name)
	version, tail, err := lastEventNumber(ctx, client, checkpointStream)
	if err != nil {
		return LoadResult{}, fmt.Errorf("load checkpoint of %q: %w", name, err)
	}
	res.CheckpointVersion = version
	if len(tail) > 0 {
		if err := json.Unmarshal(tail[0].Data, &res.CheckpointTag); err != nil {
			return LoadResult{}, fmt.Errorf("load checkpoint of %q: %w", name, err)
		}
	}

	orderStream := eventlog.OrderStreamName(name)
	version, _, err = lastEventNumber(ctx, client, orderStream)
	if err != nil {
		return LoadResult{}, fmt.Errorf("load order of %q: %w", name, err)
	}
	res.OrderStreamVersion = version
	if version < 0 {
		return res, nil
	}

	var pending []Link
	it := backward(client, orderStream, pageSize)
	for it.Next(ctx) {
		link, err := DecodeLink(it.Value())
		if err != nil {
			return LoadResult{}, fmt.Errorf("load order of %q: %w", name, err)
		}
		if res.OrderTag.IsZero() {
			res.OrderTag = link.Tag
		}
		if acknowledged(link.Tag, res.CheckpointTag) {
			break
		}
		pending = append(pending, link)
	}
	if err := it.Err(); err != nil {
		return LoadResult{}, fmt.Errorf("load order of %q: %w", name, err)
	}

	for i, j := 0, len(pending)-1; i < j; i, j = i+1, j-1 {
		pending[i], pending[j] = pending[j], pending[i]
	}
	res.Pending = pending
	return res, nil
}

func acknowledged(tag, checkpoint eventlog.CheckpointTag) bool {
	if checkpoint.IsZero() {
		return false
	}
	switch tag.Compare(checkpoint) {
	case eventlog.Before, eventlog.Equal:
		return true
	}
	return false
}
