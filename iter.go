package eventlog

import (
	"context"
	"errors"
	"io"
)

// Iterator is a lazy, forward-only sequence of values produced by a next
// function. The next function signals the end of the sequence with io.EOF.
// Once the sequence ended or failed, the next function is no longer called.
type Iterator[T any] struct {
	nextFunc func(ctx context.Context) (T, error)
	current  T
	err      error
	done     bool
}

// NewIteratorFunc creates an Iterator from a function producing the next value.
func NewIteratorFunc[T any](nextFunc func(ctx context.Context) (T, error)) *Iterator[T] {
	return &Iterator[T]{nextFunc: nextFunc}
}

// NewSliceIterator creates an Iterator over the items of a slice.
func NewSliceIterator[T any](items []T) *Iterator[T] {
	idx := 0
	return NewIteratorFunc(func(ctx context.Context) (T, error) {
		var zero T
		if idx >= len(items) {
			return zero, io.EOF
		}
		v := items[idx]
		idx++
		return v, nil
	})
}

// Next advances the iterator. Returns false if the iterator is done or an error occurred.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	if it.done {
		return false
	}

	v, err := it.nextFunc(ctx)
	if err != nil {
		var zero T
		it.current = zero
		it.done = true
		if !errors.Is(err, io.EOF) {
			it.err = err
		}
		return false
	}
	it.current = v
	return true
}

// Value returns the current value.
func (it *Iterator[T]) Value() T {
	return it.current
}

// Err returns the error that stopped the iteration, nil when it ended with io.EOF.
func (it *Iterator[T]) Err() error {
	return it.err
}

// All consumes the iterator and returns all items in a slice.
func (it *Iterator[T]) All(ctx context.Context) ([]T, error) {
	results := make([]T, 0)
	for it.Next(ctx) {
		results = append(results, it.Value())
	}
	return results, it.Err()
}
