package channel

import (
	"testing"

	"channeld/internal/apperr"
	"channeld/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannel(state models.ChannelState) *Channel {
	return New(models.Channel{ID: "chan1", Slug: "chan1", State: state})
}

func TestLegalTransitionsSucceed(t *testing.T) {
	cases := []struct {
		from, to models.ChannelState
	}{
		{models.StateIdle, models.StateStarting},
		{models.StateStarting, models.StateStreaming},
		{models.StateStarting, models.StateError},
		{models.StateStarting, models.StateIdle},
		{models.StateStreaming, models.StateStopping},
		{models.StateStreaming, models.StateError},
		{models.StateStopping, models.StateIdle},
		{models.StateStopping, models.StateError},
		{models.StateError, models.StateIdle},
		{models.StateError, models.StateStarting},
	}
	for _, c := range cases {
		ch := newTestChannel(c.from)
		assert.True(t, ch.CanTransitionTo(c.to), "%s -> %s should be legal", c.from, c.to)
		require.NoError(t, ch.TransitionTo(c.to))
		assert.Equal(t, c.to, ch.State())
	}
}

func TestIllegalTransitionsFailAndLeaveStateUnchanged(t *testing.T) {
	cases := []struct {
		from, to models.ChannelState
	}{
		{models.StateIdle, models.StateStreaming},
		{models.StateIdle, models.StateStopping},
		{models.StateStreaming, models.StateIdle},
		{models.StateStreaming, models.StateStarting},
		{models.StateStopping, models.StateStreaming},
		{models.StateStopping, models.StateStarting},
	}
	for _, c := range cases {
		ch := newTestChannel(c.from)
		assert.False(t, ch.CanTransitionTo(c.to))
		err := ch.TransitionTo(c.to)
		require.Error(t, err)
		assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
		assert.Equal(t, c.from, ch.State(), "state must be unchanged after a rejected transition")
	}
}

func TestTransitionToStreamingSetsStartedAt(t *testing.T) {
	ch := newTestChannel(models.StateStarting)
	require.NoError(t, ch.TransitionTo(models.StateStreaming))
	require.NotNil(t, ch.Metadata().StartedAt)
}

func TestSetErrorIsReachableFromAnyState(t *testing.T) {
	for _, s := range []models.ChannelState{models.StateIdle, models.StateStarting, models.StateStreaming, models.StateStopping} {
		ch := newTestChannel(s)
		ch.SetError("boom")
		assert.Equal(t, models.StateError, ch.State())
		assert.Equal(t, "boom", ch.Metadata().LastError)
	}
}

func TestViewerCountIncrementDecrementClampAndReset(t *testing.T) {
	ch := newTestChannel(models.StateStreaming)

	assert.Equal(t, 1, ch.IncrementViewerCount())
	assert.Equal(t, 2, ch.IncrementViewerCount())
	assert.Equal(t, 1, ch.DecrementViewerCount())
	assert.Equal(t, 0, ch.DecrementViewerCount())
	assert.Equal(t, 0, ch.DecrementViewerCount(), "decrementing below zero clamps at zero")
	assert.Equal(t, 0, ch.ViewerCount())

	ch.IncrementViewerCount()
	ch.IncrementViewerCount()
	ch.ResetViewerCount()
	assert.Equal(t, 0, ch.ViewerCount())
}

func TestUpdateCurrentIndexRecordsAiringFile(t *testing.T) {
	ch := newTestChannel(models.StateStreaming)
	ch.UpdateCurrentIndex(2)
	assert.Equal(t, 2, ch.Metadata().CurrentIndex)
}

func TestSnapshotIsACopyNotAReference(t *testing.T) {
	ch := newTestChannel(models.StateIdle)
	snap := ch.Snapshot()
	ch.UpdateCurrentIndex(5)
	assert.Equal(t, 0, snap.Metadata.CurrentIndex, "mutating the channel after Snapshot must not affect the copy")
}

// TestStartupRecoveryResetsStreamingToIdle reproduces the channel-side half
// of spec scenario 6: a channel persisted as STREAMING with viewerCount 3
// is reset to IDLE with viewerCount 0 on recovery, without ever passing
// through the normal transition table (STREAMING -> IDLE is illegal).
func TestStartupRecoveryResetsStreamingToIdle(t *testing.T) {
	ch := New(models.Channel{
		ID: "chan1", State: models.StateStreaming,
		Metadata: models.ChannelMetadata{ViewerCount: 3},
	})

	assert.False(t, ch.CanTransitionTo(models.StateIdle))

	snap := ch.Snapshot()
	snap.State = models.StateIdle
	snap.Metadata.ViewerCount = 0
	recovered := New(snap)

	assert.Equal(t, models.StateIdle, recovered.State())
	assert.Equal(t, 0, recovered.ViewerCount())
}
