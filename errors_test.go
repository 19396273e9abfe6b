package eventlog

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorStrings(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "StreamRevisionConflictError",
			err: StreamRevisionConflictError{
				Stream:           "stream-123",
				ExpectedRevision: Revision(5),
				ActualVersion:    7,
			},
			want: `concurrency conflict on stream "stream-123": (expected version 5, actual 7)`,
		},
		{
			name: "StreamDeletedError",
			err:  StreamDeletedError{Stream: "stream-123"},
			want: `stream "stream-123" is deleted`,
		},
		{
			name: "StorageError",
			err:  &StorageError{Op: "commit", Stream: "s", Attempts: 3, Err: errors.New("disk full")},
			want: `storage commit on stream "s" failed after 3 attempt(s): disk full`,
		},
		{
			name: "OrderStreamWriteError",
			err:  &OrderStreamWriteError{Stream: "$projections-p-order", Err: errors.New("boom")},
			want: `write to order-stream "$projections-p-order": boom`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	conflict := StreamRevisionConflictError{Stream: "s", ExpectedRevision: NoStream{}, ActualVersion: 0}

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: KindNone},
		{name: "conflict", err: conflict, want: KindConcurrencyViolation},
		{name: "wrapped conflict", err: fmt.Errorf("append: %w", &conflict), want: KindConcurrencyViolation},
		{name: "deleted", err: StreamDeletedError{Stream: "s"}, want: KindStreamDeleted},
		{name: "order fault", err: &OrderStreamWriteError{Stream: "o", Err: conflict}, want: KindOrderStreamWriteFault},
		{name: "transient", err: Transient(errors.New("timeout")), want: KindTransientStorageFailure},
		{name: "storage", err: &StorageError{Err: Transient(errors.New("timeout"))}, want: KindStorageFailure},
		{name: "invalid batch", err: fmt.Errorf("x: %w", ErrInvalidEventBatch), want: KindInvalidRequest},
		{name: "invalid name", err: ValidateStreamName(""), want: KindInvalidRequest},
		{name: "other", err: context.Canceled, want: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTransient(t *testing.T) {
	if Transient(nil) != nil {
		t.Fatal("Transient(nil) should be nil")
	}
	cause := errors.New("lock timeout")
	err := Transient(cause)
	if !IsTransient(err) || !errors.Is(err, cause) {
		t.Fatalf("Transient(%v) lost its cause or marker: %v", cause, err)
	}
	if err.Error() != cause.Error() {
		t.Errorf("Error() = %q, want %q", err.Error(), cause.Error())
	}
	if IsTransient(cause) {
		t.Error("unmarked error reported as transient")
	}
}

func TestConflictErrorsMatchBothForms(t *testing.T) {
	var err error = &StreamRevisionConflictError{Stream: "s", ExpectedRevision: Any{}, ActualVersion: 1}
	if !errors.Is(err, ErrWrongExpectedVersion) {
		t.Error("pointer conflict does not match ErrWrongExpectedVersion")
	}
	var target StreamRevisionConflictError
	if !errors.As(StreamRevisionConflictError{Stream: "s"}, &target) || target.Stream != "s" {
		t.Error("value conflict not found with errors.As")
	}
	if !errors.Is(LogConflictError{Stream: "s"}, ErrLogConflict) {
		t.Error("LogConflictError does not match ErrLogConflict")
	}
}
