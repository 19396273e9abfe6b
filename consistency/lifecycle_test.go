package consistency_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraskye/eventlog"
	"github.com/terraskye/eventlog/consistency"
	"github.com/terraskye/eventlog/fixtures"
	"github.com/terraskye/eventlog/streamlog/memory"
)

func TestFirstVisible(t *testing.T) {
	tests := []struct {
		name  string
		state consistency.StreamState
		want  int64
	}{
		{name: "no metadata", state: consistency.StreamState{CurrentVersion: 9}, want: 0},
		{name: "truncate before", state: consistency.StreamState{CurrentVersion: 9, TruncateBefore: 4}, want: 4},
		{
			name:  "max count",
			state: consistency.StreamState{CurrentVersion: 9, Metadata: eventlog.StreamMetadata{}.WithMaxCount(3)},
			want:  7,
		},
		{
			name:  "max count larger than stream",
			state: consistency.StreamState{CurrentVersion: 1, Metadata: eventlog.StreamMetadata{}.WithMaxCount(30)},
			want:  0,
		},
		{
			name:  "higher of both",
			state: consistency.StreamState{CurrentVersion: 9, TruncateBefore: 8, Metadata: eventlog.StreamMetadata{}.WithMaxCount(3)},
			want:  8,
		},
		{
			name:  "system stream ignores metadata",
			state: consistency.StreamState{CurrentVersion: 9, TruncateBefore: 5, System: true},
			want:  0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.FirstVisible())
		})
	}
}

func TestReadStateIgnoresInvalidMetadata(t *testing.T) {
	log := memory.NewLog()
	_, err := log.Commit(t.Context(),
		eventlog.StreamAppend{StreamID: "s", FirstEventNumber: 0, Events: fixtures.NewEvents(2)},
		eventlog.StreamAppend{StreamID: "$$s", FirstEventNumber: 0, Events: []eventlog.EventData{
			fixtures.NewEvent().WithType(eventlog.EventTypeMetadata).Binary().WithData("not json").Build(),
		}},
	)
	require.NoError(t, err)

	state, err := consistency.NewLifecycle(log, nil, nil).ReadState(t.Context(), "s")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.CurrentVersion)
	assert.Equal(t, int64(0), state.MetastreamVersion)
	assert.False(t, state.SoftDeleted)
	assert.Equal(t, int64(0), state.TruncateBefore)
}

func TestOnAppendAccepted(t *testing.T) {
	lc := consistency.NewLifecycle(memory.NewLog(), nil, nil)

	_, ok, err := lc.OnAppendAccepted(consistency.StreamState{Stream: "s", CurrentVersion: 3}, 4)
	require.NoError(t, err)
	assert.False(t, ok, "active streams need no metadata write")

	state := consistency.StreamState{
		Stream:            "s",
		CurrentVersion:    3,
		SoftDeleted:       true,
		MetastreamVersion: 2,
		Metadata: eventlog.StreamMetadata{}.
			WithTruncateBefore(eventlog.DeletedStream).
			WithCustomProperty("owner", eventlog.StringValue("billing")),
	}
	write, ok, err := lc.OnAppendAccepted(state, 4)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "$$s", write.StreamID)
	assert.Equal(t, int64(3), write.FirstEventNumber)
	require.Len(t, write.Events, 1)
	assert.Equal(t, eventlog.EventTypeMetadata, write.Events[0].EventType)

	md, err := eventlog.ParseStreamMetadata(write.Events[0].Data)
	require.NoError(t, err)
	assert.Equal(t, int64(4), *md.TruncateBefore)
	owner, err := md.GetString("owner")
	require.NoError(t, err)
	assert.Equal(t, "billing", owner)

	state.System = true
	_, ok, err = lc.OnAppendAccepted(state, 4)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadForwardPaging(t *testing.T) {
	s := newStore(t)
	_, err := s.AppendToStream(t.Context(), "s", eventlog.NoStream{}, fixtures.NewEvents(5)...)
	require.NoError(t, err)

	slice, err := s.ReadStreamForward(t.Context(), "s", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, fixtures.EventNumbers(slice.Events))
	assert.Equal(t, int64(2), slice.NextEventNumber)
	assert.False(t, slice.IsEndOfStream)

	slice, err = s.ReadStreamForward(t.Context(), "s", slice.NextEventNumber, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 4}, fixtures.EventNumbers(slice.Events))
	assert.Equal(t, int64(5), slice.NextEventNumber)
	assert.True(t, slice.IsEndOfStream)

	slice, err = s.ReadStreamForward(t.Context(), "s", 9, 10)
	require.NoError(t, err)
	assert.Equal(t, eventlog.ReadSuccess, slice.Status)
	assert.Empty(t, slice.Events)
	assert.True(t, slice.IsEndOfStream)
}

func TestReadHonorsTruncation(t *testing.T) {
	s := newStore(t)
	_, err := s.AppendToStream(t.Context(), "s", eventlog.NoStream{}, fixtures.NewEvents(6)...)
	require.NoError(t, err)
	_, err = s.SetStreamMetadata(t.Context(), "s", eventlog.NoStream{}, eventlog.StreamMetadata{}.WithTruncateBefore(2).WithMaxCount(3))
	require.NoError(t, err)

	slice, err := s.ReadStreamForward(t.Context(), "s", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 5}, fixtures.EventNumbers(slice.Events))
	assert.Equal(t, int64(5), slice.LastEventNumber)

	slice, err = s.ReadStreamBackward(t.Context(), "s", -1, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 4, 3}, fixtures.EventNumbers(slice.Events))
	assert.True(t, slice.IsEndOfStream)
	assert.Equal(t, int64(-1), slice.NextEventNumber)
}

func TestReadBackwardPaging(t *testing.T) {
	s := newStore(t)
	_, err := s.AppendToStream(t.Context(), "s", eventlog.NoStream{}, fixtures.NewEvents(5)...)
	require.NoError(t, err)

	slice, err := s.ReadStreamBackward(t.Context(), "s", -1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 3}, fixtures.EventNumbers(slice.Events))
	assert.Equal(t, int64(2), slice.NextEventNumber)
	assert.False(t, slice.IsEndOfStream)

	slice, err = s.ReadStreamBackward(t.Context(), "s", slice.NextEventNumber, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1, 0}, fixtures.EventNumbers(slice.Events))
	assert.True(t, slice.IsEndOfStream)
}

func TestProjectionStreamsIgnoreSoftDelete(t *testing.T) {
	s := newStore(t)
	order := eventlog.OrderStreamName("p")
	_, err := s.AppendToStream(t.Context(), order, eventlog.NoStream{}, fixtures.NewEvents(2)...)
	require.NoError(t, err)
	_, err = s.SetStreamMetadata(t.Context(), order, eventlog.NoStream{}, eventlog.StreamMetadata{}.WithTruncateBefore(eventlog.DeletedStream))
	require.NoError(t, err)

	slice, err := s.ReadStreamForward(t.Context(), order, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, eventlog.ReadSuccess, slice.Status)
	assert.Len(t, slice.Events, 2)

	_, err = s.AppendToStream(t.Context(), order, eventlog.NoStream{}, fixtures.NewEvents(1)...)
	require.ErrorIs(t, err, eventlog.ErrWrongExpectedVersion)

	meta, err := s.GetStreamMetadata(t.Context(), order)
	require.NoError(t, err)
	assert.Equal(t, int64(0), meta.MetastreamVersion, "appends never rewrite order-stream metadata")
}
