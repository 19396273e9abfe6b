package eventlog

import "context"

// ReadStatus is the outcome of a stream read.
type ReadStatus int

const (
	ReadSuccess ReadStatus = iota
	// ReadNotFound is reported for streams that were never written and for
	// live streams whose every event is truncated.
	ReadNotFound
	// ReadDeleted is reported for hard-deleted streams.
	ReadDeleted
)

func (s ReadStatus) String() string {
	switch s {
	case ReadSuccess:
		return "Success"
	case ReadNotFound:
		return "NotFound"
	case ReadDeleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// WriteResult describes the outcome of an accepted write.
type WriteResult struct {
	// NextExpectedVersion is the expected version to use for the next write
	// to the same stream, the last event number after this write.
	NextExpectedVersion int64
	// LogPosition is the log position of the last event written, -1 when
	// nothing was written.
	LogPosition int64
}

// StreamSlice is the result of reading a range of a stream.
type StreamSlice struct {
	Stream          string
	Status          ReadStatus
	FromEventNumber int64
	Events          []RecordedEvent
	// NextEventNumber is where the next read in the same direction starts.
	NextEventNumber int64
	// LastEventNumber is the last event number of the stream, truncated
	// events included.
	LastEventNumber int64
	IsEndOfStream   bool
}

// StreamMetadataResult is the interpreted metadata of a stream.
type StreamMetadataResult struct {
	Stream            string
	IsStreamDeleted   bool
	MetastreamVersion int64
	Metadata          StreamMetadata
}

// Client is the stream surface of the event log: optimistic appends,
// filtered reads, metadata and deletion.
type Client interface {
	// AppendToStream appends events to stream after checking expected.
	//
	// Errors:
	//   - *StreamRevisionConflictError (ErrWrongExpectedVersion) with the actual version.
	//   - *StreamDeletedError (ErrStreamDeleted) for hard-deleted streams.
	//   - *StorageError (ErrStorage) when the log failed or retries were exhausted.
	AppendToStream(ctx context.Context, stream string, expected StreamState, events ...EventData) (WriteResult, error)

	// ReadStreamForward reads up to count visible events starting at start.
	ReadStreamForward(ctx context.Context, stream string, start int64, count int) (StreamSlice, error)

	// ReadStreamBackward reads up to count visible events going down from
	// start. A negative start reads from the end of the stream.
	ReadStreamBackward(ctx context.Context, stream string, start int64, count int) (StreamSlice, error)

	// SetStreamMetadata writes metadata to the metastream of stream;
	// expected is checked against the metastream version.
	SetStreamMetadata(ctx context.Context, stream string, expected StreamState, metadata StreamMetadata) (WriteResult, error)

	// GetStreamMetadata returns the latest metadata of stream.
	GetStreamMetadata(ctx context.Context, stream string) (StreamMetadataResult, error)

	// DeleteStream hard-deletes stream. The deletion is terminal.
	DeleteStream(ctx context.Context, stream string, expected StreamState) (WriteResult, error)

	// SoftDeleteStream hides every event of stream while allowing recreation.
	SoftDeleteStream(ctx context.Context, stream string, expected StreamState) (WriteResult, error)

	// Close releases any resources held by the client. Close is idempotent.
	Close() error
}
