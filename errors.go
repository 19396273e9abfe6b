package eventlog

import (
	"errors"
	"fmt"
)

var (
	// ErrWrongExpectedVersion is matched by every concurrency violation.
	ErrWrongExpectedVersion = errors.New("wrong expected version")
	// ErrStreamDeleted is matched by every operation on a hard-deleted stream.
	ErrStreamDeleted = errors.New("stream deleted")
	// ErrInvalidEventBatch is returned when an append carries malformed events.
	ErrInvalidEventBatch = errors.New("invalid event batch")
	// ErrInvalidRevision is returned for expected versions that cannot be interpreted.
	ErrInvalidRevision = errors.New("invalid revision")
	// ErrInvalidStreamName is returned for empty or reserved stream names.
	ErrInvalidStreamName = errors.New("invalid stream name")
	// ErrLogConflict is returned by a StreamLog when a commit does not start at
	// the next event number of a stream.
	ErrLogConflict = errors.New("log append position conflict")
	// ErrTransient marks StreamLog failures that may succeed when retried.
	ErrTransient = errors.New("transient storage failure")
	// ErrStorage is matched by storage failures surfaced above the consistency
	// layer, including transient failures whose retries were exhausted.
	ErrStorage = errors.New("storage failure")
	// ErrOrderStreamWrite is matched by faults writing to an order-stream.
	ErrOrderStreamWrite = errors.New("order-stream write fault")
	// ErrClosed is returned by components used after Close.
	ErrClosed = errors.New("closed")
)

// StreamRevisionConflictError reports an append whose expected version did
// not match the stream. ActualVersion is the last event number of the stream
// at check time, -1 if it was never written.
type StreamRevisionConflictError struct {
	Stream           string
	ExpectedRevision StreamState
	ActualVersion    int64
}

func (s StreamRevisionConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on stream %q: (expected version %s, actual %d)",
		s.Stream, s.ExpectedRevision, s.ActualVersion)
}

func (s StreamRevisionConflictError) Is(target error) bool {
	return target == ErrWrongExpectedVersion
}

// StreamDeletedError reports an operation on a hard-deleted stream.
type StreamDeletedError struct {
	Stream string
}

func (e StreamDeletedError) Error() string {
	return fmt.Sprintf("stream %q is deleted", e.Stream)
}

func (e StreamDeletedError) Is(target error) bool {
	return target == ErrStreamDeleted
}

// LogConflictError is returned by a StreamLog when a write expected to start
// at FirstEventNumber but the stream's next event number was Next.
type LogConflictError struct {
	Stream           string
	FirstEventNumber int64
	Next             int64
}

func (e LogConflictError) Error() string {
	return fmt.Sprintf("append to stream %q at %d: next event number is %d", e.Stream, e.FirstEventNumber, e.Next)
}

func (e LogConflictError) Is(target error) bool {
	return target == ErrLogConflict
}

// StorageError wraps a StreamLog failure surfaced to callers.
type StorageError struct {
	Op       string
	Stream   string
	Attempts int
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s on stream %q failed after %d attempt(s): %v", e.Op, e.Stream, e.Attempts, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// OrderStreamWriteError is the fatal fault of a checkpoint manager that could
// not record event order.
type OrderStreamWriteError struct {
	Stream string
	Err    error
}

func (e *OrderStreamWriteError) Error() string {
	return fmt.Sprintf("write to order-stream %q: %v", e.Stream, e.Err)
}

func (e *OrderStreamWriteError) Unwrap() error {
	return e.Err
}

func (e *OrderStreamWriteError) Is(target error) bool {
	return target == ErrOrderStreamWrite
}

type transientError struct {
	err error
}

func (e transientError) Error() string { return e.err.Error() }

func (e transientError) Unwrap() []error { return []error{e.err, ErrTransient} }

// Transient marks err as retryable. StreamLog implementations use it for
// failures such as lock timeouts or transaction conflicts.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// ErrorKind classifies errors returned by this module.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindConcurrencyViolation
	KindStreamDeleted
	KindOrderStreamWriteFault
	KindTransientStorageFailure
	KindStorageFailure
	KindInvalidRequest
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindConcurrencyViolation:
		return "ConcurrencyViolation"
	case KindStreamDeleted:
		return "StreamDeleted"
	case KindOrderStreamWriteFault:
		return "OrderStreamWriteFault"
	case KindTransientStorageFailure:
		return "TransientStorageFailure"
	case KindStorageFailure:
		return "StorageFailure"
	case KindInvalidRequest:
		return "InvalidRequest"
	default:
		return "Unknown"
	}
}

// KindOf returns the kind of err so callers can branch without unwrapping.
// An order-stream fault caused by a concurrency conflict is still reported
// as KindOrderStreamWriteFault.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrOrderStreamWrite):
		return KindOrderStreamWriteFault
	case errors.Is(err, ErrWrongExpectedVersion):
		return KindConcurrencyViolation
	case errors.Is(err, ErrStreamDeleted):
		return KindStreamDeleted
	case errors.Is(err, ErrStorage):
		return KindStorageFailure
	case errors.Is(err, ErrTransient):
		return KindTransientStorageFailure
	case errors.Is(err, ErrInvalidEventBatch), errors.Is(err, ErrInvalidRevision), errors.Is(err, ErrInvalidStreamName):
		return KindInvalidRequest
	default:
		return KindUnknown
	}
}
