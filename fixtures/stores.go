package fixtures

import (
	"context"
	"sync"

	"github.com/terraskye/eventlog"
)

var _ eventlog.StreamLog = (*LogSpy)(nil)

// LogSpy wraps a StreamLog for testing.
// It tracks calls and allows injecting custom behavior or failures.
type LogSpy struct {
	mu    sync.Mutex
	inner eventlog.StreamLog

	// Function overrides for custom behavior
	CommitFn       func(ctx context.Context, appends ...eventlog.StreamAppend) ([]eventlog.RecordedEvent, error)
	BeforeCommitFn func(appends []eventlog.StreamAppend)

	// Call tracking
	LastEventNumberCalls int
	ReadCalls            int
	CommitCalls          int
	CloseCalls           int

	// Captured arguments of every Commit that reached the inner log
	Commits [][]eventlog.StreamAppend

	// Error injection
	commitErr      error
	commitFailures int
	readErr        error
	readFailures   int
}

// NewLogSpy creates a LogSpy delegating to inner.
func NewLogSpy(inner eventlog.StreamLog) *LogSpy {
	return &LogSpy{inner: inner}
}

// FailCommits makes the next n commits fail with err. A negative n fails
// every commit.
func (s *LogSpy) FailCommits(n int, err error) *LogSpy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitFailures = n
	s.commitErr = err
	return s
}

// FailReads makes the next n reads, including LastEventNumber, fail with err.
// A negative n fails every read.
func (s *LogSpy) FailReads(n int, err error) *LogSpy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readFailures = n
	s.readErr = err
	return s
}

func take(n *int, err error) error {
	if *n == 0 || err == nil {
		return nil
	}
	if *n > 0 {
		*n--
	}
	return err
}

func (s *LogSpy) readFault() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return take(&s.readFailures, s.readErr)
}

// CommitCount returns the number of commits that reached the inner log.
func (s *LogSpy) CommitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Commits)
}

func (s *LogSpy) LastEventNumber(ctx context.Context, stream string) (int64, error) {
	s.mu.Lock()
	s.LastEventNumberCalls++
	s.mu.Unlock()
	if err := s.readFault(); err != nil {
		return 0, err
	}
	return s.inner.LastEventNumber(ctx, stream)
}

func (s *LogSpy) ReadForward(ctx context.Context, stream string, from int64, count int) ([]eventlog.RecordedEvent, error) {
	s.mu.Lock()
	s.ReadCalls++
	s.mu.Unlock()
	if err := s.readFault(); err != nil {
		return nil, err
	}
	return s.inner.ReadForward(ctx, stream, from, count)
}

func (s *LogSpy) ReadBackward(ctx context.Context, stream string, from int64, count int) ([]eventlog.RecordedEvent, error) {
	s.mu.Lock()
	s.ReadCalls++
	s.mu.Unlock()
	if err := s.readFault(); err != nil {
		return nil, err
	}
	return s.inner.ReadBackward(ctx, stream, from, count)
}

func (s *LogSpy) Commit(ctx context.Context, appends ...eventlog.StreamAppend) ([]eventlog.RecordedEvent, error) {
	s.mu.Lock()
	s.CommitCalls++
	err := take(&s.commitFailures, s.commitErr)
	fn := s.CommitFn
	before := s.BeforeCommitFn
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if before != nil {
		before(appends)
	}
	if fn != nil {
		return fn(ctx, appends...)
	}

	recorded, err := s.inner.Commit(ctx, appends...)
	if err == nil {
		s.mu.Lock()
		s.Commits = append(s.Commits, appends)
		s.mu.Unlock()
	}
	return recorded, err
}

func (s *LogSpy) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	s.mu.Unlock()
	return s.inner.Close()
}
