package runtime

import (
	"testing"
	"time"

	"channeld/internal/bumper"
	"channeld/internal/concat"
	"channeld/internal/epg"
	"channeld/internal/logger"
	"channeld/internal/models"
	"channeld/internal/playlist"
	"channeld/internal/presence"
	"channeld/internal/timeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChannel(id string) models.Channel {
	return models.Channel{
		ID:   id,
		Slug: id,
		Config: models.ChannelConfig{
			Name: "Test Channel", OutputDir: "/tmp/channeld-test-" + id,
			VideoBitrate: "2000k", AudioBitrate: "128k", Resolution: "1280x720",
			FPS: 30, SegmentDuration: 6,
		},
		State: models.StateIdle,
	}
}

type harness struct {
	manager    *Manager
	store      *fakeChannelStore
	source     *fakePlaylistSource
	adapter    *fakeAdapter
	clockStore *timeline.MemoryStore
}

func newHarness(t *testing.T, channels ...models.Channel) *harness {
	t.Helper()
	store := newFakeChannelStore(channels...)
	source := newFakePlaylistSource()
	adapter := &fakeAdapter{}

	log := logger.NewLogger("error")
	resolver := playlist.New(source)
	clockStore := timeline.NewMemoryStore()
	clock := timeline.New(clockStore)

	m := NewManager(Deps{
		Log:       log,
		Store:     store,
		Sessions:  &fakeSessionStore{},
		Resolver:  resolver,
		Clock:     clock,
		ConcatMgr: concat.New(),
		BumperGen: bumper.New(log),
		EPGGen:    epg.New(resolver, clock),
		NewAdapter: func(logger.Logger) TranscoderAdapter { return adapter },
	}, presence.Options{SweepInterval: time.Hour, IdleTimeout: time.Hour, GracePeriod: time.Hour})

	return &harness{manager: m, store: store, source: source, adapter: adapter, clockStore: clockStore}
}

func (h *harness) seedMedia(channelID, bucketID string, ids ...string) {
	mediaIDs := make([]string, len(ids))
	for i, id := range ids {
		h.source.media[id] = models.MediaFile{ID: id, Duration: 1800, Path: "/media/" + id + ".mp4", Title: id}
		mediaIDs[i] = id
	}
	h.source.buckets[bucketID] = models.Bucket{ID: bucketID, MediaIDs: mediaIDs}
	h.source.channelBuckets[channelID] = []models.ChannelBucket{{ChannelID: channelID, BucketID: bucketID, Priority: 1}}
}

func TestStartChannelTransitionsToStreaming(t *testing.T) {
	h := newHarness(t, testChannel("chan1"))
	h.seedMedia("chan1", "b1", "a", "b")

	err := h.manager.StartChannel("chan1", models.TriggerManual)
	require.NoError(t, err)

	snap, err := h.manager.ChannelSnapshot("chan1")
	require.NoError(t, err)
	assert.Equal(t, models.StateStreaming, snap.State)
	assert.True(t, h.adapter.IsActive())
}

func TestStartChannelFailsWithNoMedia(t *testing.T) {
	h := newHarness(t, testChannel("chan1"))

	err := h.manager.StartChannel("chan1", models.TriggerManual)
	require.Error(t, err)

	snap, err := h.manager.ChannelSnapshot("chan1")
	require.NoError(t, err)
	assert.Equal(t, models.StateError, snap.State)
}

func TestStopChannelReturnsToIdle(t *testing.T) {
	h := newHarness(t, testChannel("chan1"))
	h.seedMedia("chan1", "b1", "a", "b")

	require.NoError(t, h.manager.StartChannel("chan1", models.TriggerManual))
	require.NoError(t, h.manager.StopChannel("chan1", models.TriggerManual))

	snap, err := h.manager.ChannelSnapshot("chan1")
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, snap.State)
	assert.False(t, h.adapter.IsActive())
}

func TestDoubleStartIsRejected(t *testing.T) {
	h := newHarness(t, testChannel("chan1"))
	h.seedMedia("chan1", "b1", "a")

	require.NoError(t, h.manager.StartChannel("chan1", models.TriggerManual))
	err := h.manager.StartChannel("chan1", models.TriggerManual)
	assert.Error(t, err)
}

func TestRestartChannelRecoversFromError(t *testing.T) {
	h := newHarness(t, testChannel("chan1"))

	err := h.manager.StartChannel("chan1", models.TriggerManual)
	require.Error(t, err)
	snap, _ := h.manager.ChannelSnapshot("chan1")
	require.Equal(t, models.StateError, snap.State)

	h.seedMedia("chan1", "b1", "a")
	require.NoError(t, h.manager.RestartChannel("chan1", models.TriggerManual))

	snap, err = h.manager.ChannelSnapshot("chan1")
	require.NoError(t, err)
	assert.Equal(t, models.StateStreaming, snap.State)
}

func TestRecoverResetsStreamingChannelsToIdle(t *testing.T) {
	crashed := testChannel("chan1")
	crashed.State = models.StateStreaming
	h := newHarness(t, crashed)

	require.NoError(t, h.manager.Recover(nil))

	ch, ok, err := h.store.Channel("chan1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StateIdle, ch.State)
}

func TestRecoverAutoStartsConfiguredChannels(t *testing.T) {
	ch := testChannel("chan1")
	ch.Config.AutoStart = true
	h := newHarness(t, ch)
	h.seedMedia("chan1", "b1", "a")

	require.NoError(t, h.manager.Recover(nil))

	snap, err := h.manager.ChannelSnapshot("chan1")
	require.NoError(t, err)
	assert.Equal(t, models.StateStreaming, snap.State)
}
