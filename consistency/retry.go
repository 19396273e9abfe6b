package consistency

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/terraskye/eventlog"
)

// RetryPolicy bounds the retries of StreamLog operations that failed with a
// transient error. Other errors are never retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, the first one included.
	// Values below 1 mean a single attempt.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     250 * time.Millisecond,
	}
}

// NoRetry makes a single attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	if p.MaxAttempts <= 1 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	// Attempts are bounded by count, not by elapsed time.
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)
}

// withRetry runs fn until it succeeds, fails with a non-transient error or
// the policy is exhausted. Storage failures, exhausted transient ones
// included, are returned as a *eventlog.StorageError.
func withRetry[T any](ctx context.Context, p RetryPolicy, op, stream string, fn func() (T, error)) (T, error) {
	attempts := 0
	result, err := backoff.RetryWithData(func() (T, error) {
		attempts++
		if attempts > 1 {
			eventlog.StorageRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
		}
		v, err := fn()
		if err != nil && !eventlog.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, p.backOff(ctx))

	if err != nil && isStorageFailure(err) {
		return result, &eventlog.StorageError{Op: op, Stream: stream, Attempts: attempts, Err: err}
	}
	return result, err
}

// isStorageFailure reports whether a StreamLog error is a fault of the log
// rather than an outcome the caller can act on.
func isStorageFailure(err error) bool {
	switch {
	case errors.Is(err, eventlog.ErrLogConflict),
		errors.Is(err, eventlog.ErrInvalidEventBatch),
		errors.Is(err, eventlog.ErrClosed),
		errors.Is(err, eventlog.ErrStorage),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
