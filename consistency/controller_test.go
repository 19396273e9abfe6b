package consistency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraskye/eventlog"
	"github.com/terraskye/eventlog/fixtures"
	"github.com/terraskye/eventlog/streamlog/memory"
)

func TestDecide(t *testing.T) {
	active := StreamState{Stream: "s", CurrentVersion: 4}
	fresh := StreamState{Stream: "s", CurrentVersion: -1}
	soft := StreamState{Stream: "s", CurrentVersion: 4, SoftDeleted: true, TruncateBefore: eventlog.DeletedStream}
	hard := StreamState{Stream: "s", CurrentVersion: eventlog.DeletedStream, HardDeleted: true}

	tests := []struct {
		name         string
		state        StreamState
		expected     eventlog.StreamState
		count        int
		wantErr      error
		wantFirst    int64
		wantNext     int64
		wantRecreate bool
	}{
		{name: "any on active", state: active, expected: eventlog.Any{}, count: 2, wantFirst: 5, wantNext: 6},
		{name: "any on fresh", state: fresh, expected: eventlog.Any{}, count: 1, wantFirst: 0, wantNext: 0},
		{name: "no stream on fresh", state: fresh, expected: eventlog.NoStream{}, count: 3, wantFirst: 0, wantNext: 2},
		{name: "no stream on active", state: active, expected: eventlog.NoStream{}, count: 1, wantErr: eventlog.ErrWrongExpectedVersion},
		{name: "exact on active", state: active, expected: eventlog.Revision(4), count: 1, wantFirst: 5, wantNext: 5},
		{name: "stale exact on active", state: active, expected: eventlog.Revision(3), count: 1, wantErr: eventlog.ErrWrongExpectedVersion},
		{name: "any on soft-deleted", state: soft, expected: eventlog.Any{}, count: 1, wantFirst: 5, wantNext: 5, wantRecreate: true},
		{name: "no stream on soft-deleted", state: soft, expected: eventlog.NoStream{}, count: 1, wantFirst: 5, wantNext: 5, wantRecreate: true},
		{name: "exact on soft-deleted", state: soft, expected: eventlog.Revision(4), count: 2, wantFirst: 5, wantNext: 6, wantRecreate: true},
		{name: "empty append on soft-deleted", state: soft, expected: eventlog.Any{}, count: 0, wantFirst: 5, wantNext: 4},
		{name: "any on hard-deleted", state: hard, expected: eventlog.Any{}, count: 1, wantErr: eventlog.ErrStreamDeleted},
		{name: "no stream on hard-deleted", state: hard, expected: eventlog.NoStream{}, count: 1, wantErr: eventlog.ErrStreamDeleted},
		{name: "exact on hard-deleted", state: hard, expected: eventlog.Revision(4), count: 1, wantErr: eventlog.ErrStreamDeleted},
		{name: "revision beyond int64", state: active, expected: eventlog.Revision(1 << 63), count: 1, wantErr: eventlog.ErrWrongExpectedVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.state, tt.expected, tt.count)
			if tt.wantErr != nil {
				require.ErrorIs(t, d.Err, tt.wantErr)
				assert.False(t, d.Accepted)
				return
			}
			require.NoError(t, d.Err)
			assert.True(t, d.Accepted)
			assert.Equal(t, tt.wantFirst, d.FirstEventNumber)
			assert.Equal(t, tt.wantNext, d.NextExpectedVersion)
			assert.Equal(t, tt.wantRecreate, d.Recreate)
		})
	}
}

func TestDecideConflictCarriesActualVersion(t *testing.T) {
	d := Decide(StreamState{Stream: "s", CurrentVersion: 7}, eventlog.NoStream{}, 1)

	var conflict *eventlog.StreamRevisionConflictError
	require.True(t, errors.As(d.Err, &conflict))
	assert.Equal(t, int64(7), conflict.ActualVersion)
	assert.Equal(t, eventlog.NoStream{}, conflict.ExpectedRevision)
}

func TestHandleTableSerializesPerStream(t *testing.T) {
	table := newHandleTable()

	release, err := table.acquire(t.Context(), "a")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := table.acquire(context.Background(), "a")
		if err == nil {
			close(acquired)
			r()
		}
	}()

	other, err := table.acquire(t.Context(), "b")
	require.NoError(t, err, "other streams are not blocked")
	other()

	select {
	case <-acquired:
		t.Fatal("second holder acquired while the handle was held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("handle was not released")
	}

	assert.Eventually(t, func() bool { return table.len() == 0 }, time.Second, time.Millisecond)
}

func TestHandleTableAcquireHonorsContext(t *testing.T) {
	table := newHandleTable()
	release, err := table.acquire(t.Context(), "a")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err = table.acquire(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	table.mu.Lock()
	refs := table.handles["a"].refs
	table.mu.Unlock()
	assert.Equal(t, 1, refs)
}

func TestReservationHoldsHandleUntilCommit(t *testing.T) {
	log := memory.NewLog()
	lc := NewLifecycle(log, nil, nil)
	c := NewController(log, lc, NoRetry(), nil)

	r, err := c.CheckAndReserve(t.Context(), "s", eventlog.NoStream{}, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var second error
	wg.Add(1)
	go func() {
		defer wg.Done()
		r2, err := c.CheckAndReserve(context.Background(), "s", eventlog.NoStream{}, 1)
		if err != nil {
			second = err
			return
		}
		_, second = r2.Commit(context.Background(), fixtures.NewEvents(1))
	}()

	time.Sleep(10 * time.Millisecond)
	_, err = r.Commit(t.Context(), fixtures.NewEvents(1))
	require.NoError(t, err)
	wg.Wait()

	require.ErrorIs(t, second, eventlog.ErrWrongExpectedVersion, "the waiting check must see the committed event")
}

func TestLogConflictBecomesConcurrencyViolation(t *testing.T) {
	inner := memory.NewLog()
	spy := fixtures.NewLogSpy(inner)
	lc := NewLifecycle(spy, nil, nil)
	c := NewController(spy, lc, NoRetry(), nil)

	r, err := c.CheckAndReserve(t.Context(), "s", eventlog.Any{}, 1)
	require.NoError(t, err)

	// A writer outside this controller takes position 0.
	_, err = inner.Commit(t.Context(), eventlog.StreamAppend{StreamID: "s", FirstEventNumber: 0, Events: fixtures.NewEvents(1)})
	require.NoError(t, err)

	_, err = r.Commit(t.Context(), fixtures.NewEvents(1))
	require.ErrorIs(t, err, eventlog.ErrWrongExpectedVersion)

	var conflict *eventlog.StreamRevisionConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(0), conflict.ActualVersion)
}
