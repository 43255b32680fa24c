package runtime

import (
	"os"
	"strings"
	"testing"
	"time"

	"channeld/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioFreshChannelFirstViewerSeeksIntoCurrentPosition reproduces
// spec scenario 1: three files of durations [600, 1200, 900]s,
// scheduleStartTime = now-1500s, no active schedule block, bumpers on.
// elapsed=1500 lands 900s into file index 1 (600 + 900 = 1500), so the
// manifest must start at file 2 with inpoint 900, a bumper, then file 3 —
// and the EPG's current program title must equal file 2's display name.
func TestScenarioFreshChannelFirstViewerSeeksIntoCurrentPosition(t *testing.T) {
	h := newHarness(t, testChannel("chan1"))
	h.source.media["f1"] = models.MediaFile{ID: "f1", Duration: 600, Path: "/media/f1.mp4", Title: "Show One"}
	h.source.media["f2"] = models.MediaFile{ID: "f2", Duration: 1200, Path: "/media/f2.mp4", Title: "Show Two"}
	h.source.media["f3"] = models.MediaFile{ID: "f3", Duration: 900, Path: "/media/f3.mp4", Title: "Show Three"}
	h.source.buckets["b1"] = models.Bucket{ID: "b1", MediaIDs: []string{"f1", "f2", "f3"}}
	h.source.channelBuckets["chan1"] = []models.ChannelBucket{{ChannelID: "chan1", BucketID: "b1", Priority: 1}}

	start := time.Now().Add(-1500 * time.Second)
	require.NoError(t, h.clockStore.Set("chan1", start))

	ch, _, err := h.store.Channel("chan1")
	require.NoError(t, err)
	ch.Config.IncludeBumpers = true
	ch.Config.OutputDir = t.TempDir()
	require.NoError(t, h.store.SaveChannel(ch))

	require.NoError(t, h.manager.StartChannel("chan1", models.TriggerManual))

	snap, err := h.manager.ChannelSnapshot("chan1")
	require.NoError(t, err)
	assert.Equal(t, models.StateStreaming, snap.State)
	assert.Equal(t, 1, snap.Metadata.CurrentIndex)

	h.manager.mu.Lock()
	rt := h.manager.runtimes["chan1"]
	h.manager.mu.Unlock()

	manifest, err := os.ReadFile(rt.manifestPath())
	require.NoError(t, err)
	text := string(manifest)

	assert.NotContains(t, text, "f1.mp4", "the manifest must start at startIndex, not include the file before it")

	f2Idx := strings.Index(text, "f2.mp4")
	require.True(t, f2Idx >= 0, "manifest should reference f2 first: %s", text)
	assert.Contains(t, text, "inpoint 900.000")

	f3Idx := strings.Index(text, "f3.mp4")
	require.True(t, f3Idx > f2Idx, "f3 should follow f2 in the manifest")

	bumperIdx := strings.Index(text, "bumper.mp4")
	require.True(t, bumperIdx > f2Idx && bumperIdx < f3Idx, "a bumper should sit between f2 and f3")

	program, _, ok := h.manager.epgGen.CurrentAndNext("chan1", time.Now())
	if ok {
		assert.Equal(t, "Show Two", program.Title)
	}
}
