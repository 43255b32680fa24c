package transcoder

import (
	"testing"

	"channeld/internal/logger"

	"github.com/stretchr/testify/assert"
)

func TestBuildArgsIncludesConcatAndHLSOutput(t *testing.T) {
	args := buildArgs(Options{
		ManifestPath: "/data/chan1.ffconcat",
		OutputDir:    "/data/chan1",
		VideoBitrate: "3000k",
		AudioBitrate: "192k",
		Resolution:   "1920x1080",
		FPS:          30,
		SegmentTime:  6,
	})

	assert.Contains(t, args, "/data/chan1.ffconcat")
	assert.Contains(t, args, "/data/chan1/stream.m3u8")
	assert.Contains(t, args, "3000k")
	assert.Contains(t, args, "192k")
}

func TestBuildArgsOmitsHWAccelWhenNone(t *testing.T) {
	args := buildArgs(Options{HWAccel: "none", VideoBitrate: "1000k", AudioBitrate: "128k"})
	for _, a := range args {
		assert.NotEqual(t, "-hwaccel", a)
	}
}

func TestBuildArgsIncludesHWAccelWhenSet(t *testing.T) {
	args := buildArgs(Options{HWAccel: "nvenc", VideoBitrate: "1000k", AudioBitrate: "128k"})
	assert.Contains(t, args, "-hwaccel")
	assert.Contains(t, args, "nvenc")
}

func TestAdapterIsActiveFalseBeforeStart(t *testing.T) {
	a := New(logger.NewLogger("error"))
	assert.False(t, a.IsActive())
}

func TestAdapterCleanupIsIdempotent(t *testing.T) {
	a := New(logger.NewLogger("error"))
	a.Cleanup()
	a.Cleanup()
	assert.False(t, a.IsActive())
}

func TestFormatInt(t *testing.T) {
	assert.Equal(t, "6", formatInt(6))
	assert.Equal(t, "0", formatInt(0))
	assert.Equal(t, "-3", formatInt(-3))
}
