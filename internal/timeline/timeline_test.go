package timeline

import (
	"testing"
	"time"

	"channeld/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func media(durations ...float64) []models.MediaFile {
	out := make([]models.MediaFile, len(durations))
	for i, d := range durations {
		out[i] = models.MediaFile{ID: string(rune('a' + i)), Duration: d}
	}
	return out
}

func TestInitializeSetsStartTimeOnce(t *testing.T) {
	store := NewMemoryStore()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tl := New(store).WithClock(func() time.Time { return fixed })

	require.NoError(t, tl.Initialize("chan1"))
	got, ok, err := store.Get("chan1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(fixed))

	later := fixed.Add(time.Hour)
	tl2 := New(store).WithClock(func() time.Time { return later })
	require.NoError(t, tl2.Initialize("chan1"), "Initialize must be idempotent")

	got2, _, err := store.Get("chan1")
	require.NoError(t, err)
	assert.True(t, got2.Equal(fixed), "a second Initialize must not overwrite the existing start time")
}

func TestCurrentPositionWalksCumulativeDurations(t *testing.T) {
	store := NewMemoryStore()
	start := time.Now().Add(-1500 * time.Second)
	require.NoError(t, store.Set("chan1", start))
	tl := New(store)

	pos, ok, err := tl.CurrentPosition("chan1", media(600, 1200, 900))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, pos.FileIndex)
	assert.InDelta(t, 900.0, pos.SeekSeconds, 1.0)
}

func TestCurrentPositionWrapsAroundTotalDuration(t *testing.T) {
	store := NewMemoryStore()
	start := time.Now().Add(-4000 * time.Second) // 4000 mod 2700 = 1300
	require.NoError(t, store.Set("chan1", start))
	tl := New(store)

	pos, ok, err := tl.CurrentPosition("chan1", media(600, 1200, 900))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, pos.FileIndex)
	assert.InDelta(t, 700.0, pos.SeekSeconds, 1.0)
}

func TestCurrentPositionFalseWithoutInitialization(t *testing.T) {
	store := NewMemoryStore()
	tl := New(store)
	_, ok, err := tl.CurrentPosition("chan1", media(600))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCurrentPositionFalseWithEmptyMedia(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set("chan1", time.Now()))
	tl := New(store)
	_, ok, err := tl.CurrentPosition("chan1", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCurrentPositionFalseWhenTotalDurationIsZero(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set("chan1", time.Now()))
	tl := New(store)
	_, ok, err := tl.CurrentPosition("chan1", media(0, 0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPositiveModStaysInRangeForNegativeInput(t *testing.T) {
	assert.InDelta(t, 2.0, positiveMod(-1, 3), 1e-9)
	assert.InDelta(t, 0.0, positiveMod(-3, 3), 1e-9)
	assert.InDelta(t, 1.5, positiveMod(7.5, 3), 1e-9)
}

func TestHasReportsInitializationState(t *testing.T) {
	store := NewMemoryStore()
	tl := New(store)

	has, err := tl.Has("chan1")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, tl.Initialize("chan1"))
	has, err = tl.Has("chan1")
	require.NoError(t, err)
	assert.True(t, has)
}
