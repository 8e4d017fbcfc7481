package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s, err := OpenStore(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	start := time.Now()
	require.NoError(t, s.CreateSession(ctx, Record{ID: "s1", DeviceName: "Mic", Engine: "mock", StartedAt: start}))
	require.NoError(t, s.CreateSession(ctx, Record{ID: "s2", DeviceName: "Loopback", Engine: "mock", StartedAt: start.Add(time.Minute)}))

	for i, ev := range sampleEvents() {
		ev.SegmentIndex = i
		ev.SegmentOffset = time.Duration(i) * 5 * time.Second
		ev.Duration = 5 * time.Second
		require.NoError(t, s.AppendEvent(ctx, "s1", ev))
	}
	require.NoError(t, s.FinishSession(ctx, "s1", string(StateIdle), 3))
	require.ErrorIs(t, s.FinishSession(ctx, "nope", string(StateIdle), 0), ErrSessionNotFound)

	recs, err := s.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "s2", recs[0].ID)
	assert.Equal(t, "s1", recs[1].ID)
	assert.Equal(t, 5, recs[1].EventCount)
	assert.Equal(t, uint64(3), recs[1].DroppedFrames)
	assert.Equal(t, string(StateIdle), recs[1].Status)
	assert.False(t, recs[1].EndedAt.IsZero())
	assert.True(t, recs[0].EndedAt.IsZero())

	evs, err := s.Events(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, evs, 5)
	assert.Equal(t, "[TL > EN] good morning to you", evs[1].Line())
	assert.Equal(t, 10*time.Second, evs[2].SegmentOffset)
	assert.Equal(t, KindAudioLevel, evs[4].Kind)

	require.NoError(t, s.DeleteSession(ctx, "s1"))
	evs, err = s.Events(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, evs)
}
