package eventlog_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/terraskye/eventlog"
)

func TestIteratorBasic(t *testing.T) {
	items := []int{1, 2, 3}
	i := 0

	iter := eventlog.NewIteratorFunc(func(ctx context.Context) (int, error) {
		if i >= len(items) {
			return 0, io.EOF
		}
		val := items[i]
		i++
		return val, nil
	})

	var got []int
	for iter.Next(t.Context()) {
		got = append(got, iter.Value())
	}

	if iter.Err() != nil {
		t.Fatalf("unexpected error: %v", iter.Err())
	}
	if len(got) != len(items) {
		t.Fatalf("expected %v items, got %v", len(items), len(got))
	}
	for i := range items {
		if got[i] != items[i] {
			t.Errorf("index %d: expected %v got %v", i, items[i], got[i])
		}
	}
}

func TestIteratorWrappedEOF(t *testing.T) {
	iter := eventlog.NewIteratorFunc(func(ctx context.Context) (int, error) {
		return 0, errors.Join(errors.New("page exhausted"), io.EOF)
	})

	if iter.Next(t.Context()) {
		t.Fatal("expected Next() to return false on EOF")
	}
	if iter.Err() != nil {
		t.Fatalf("expected Err() to be nil on EOF, got %v", iter.Err())
	}
}

func TestIteratorError(t *testing.T) {
	expectedErr := errors.New("boom")

	iter := eventlog.NewIteratorFunc(func(ctx context.Context) (eventlog.RecordedEvent, error) {
		return eventlog.RecordedEvent{}, expectedErr
	})

	if iter.Next(t.Context()) {
		t.Fatal("expected Next() to return false on error")
	}
	if !errors.Is(iter.Err(), expectedErr) {
		t.Fatalf("expected Err() to be %v, got %v", expectedErr, iter.Err())
	}
}

func TestIteratorStopsAfterEOF(t *testing.T) {
	callCount := 0
	iter := eventlog.NewIteratorFunc(func(ctx context.Context) (int, error) {
		callCount++
		if callCount == 1 {
			return 1, nil
		}
		return 0, io.EOF
	})

	if !iter.Next(t.Context()) || iter.Value() != 1 {
		t.Fatalf("expected first value 1, got %v", iter.Value())
	}
	for i := 0; i < 5; i++ {
		if iter.Next(t.Context()) {
			t.Fatal("expected Next() to stay false after EOF")
		}
	}
	if callCount != 2 {
		t.Fatalf("expected nextFunc to be called exactly twice, got %v", callCount)
	}
	if iter.Value() != 0 {
		t.Fatalf("expected zero Value() after EOF, got %v", iter.Value())
	}
}

func TestSliceIterator(t *testing.T) {
	events := []eventlog.RecordedEvent{{EventNumber: 0}, {EventNumber: 1}}
	got, err := eventlog.NewSliceIterator(events).All(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1].EventNumber != 1 {
		t.Fatalf("unexpected items %v", got)
	}

	empty, err := eventlog.NewSliceIterator[int](nil).All(t.Context())
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty slice, got %v, %v", empty, err)
	}
}

func BenchmarkSliceIterator(b *testing.B) {
	ctx := b.Context()
	items := []int{1, 2, 3, 4, 5}

	for n := 0; n < b.N; n++ {
		iter := eventlog.NewSliceIterator(items)
		for iter.Next(ctx) {
			_ = iter.Value()
		}
	}
}
