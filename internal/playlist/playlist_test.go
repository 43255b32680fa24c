package playlist

import (
	"testing"
	"time"

	"channeld/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	channelBuckets map[string][]models.ChannelBucket
	buckets        map[string]models.Bucket
	media          map[string]models.MediaFile
	blocks         map[string][]models.ScheduleBlock
	progressions   map[string]models.BucketProgression
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		channelBuckets: make(map[string][]models.ChannelBucket),
		buckets:        make(map[string]models.Bucket),
		media:          make(map[string]models.MediaFile),
		blocks:         make(map[string][]models.ScheduleBlock),
		progressions:   make(map[string]models.BucketProgression),
	}
}

func (f *fakeSource) ChannelBuckets(channelID string) ([]models.ChannelBucket, error) {
	return f.channelBuckets[channelID], nil
}

func (f *fakeSource) Bucket(bucketID string) (models.Bucket, bool, error) {
	b, ok := f.buckets[bucketID]
	return b, ok, nil
}

func (f *fakeSource) MediaByIDs(ids []string) ([]models.MediaFile, error) {
	var out []models.MediaFile
	for _, id := range ids {
		if m, ok := f.media[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeSource) ScheduleBlocks(channelID string) ([]models.ScheduleBlock, error) {
	return f.blocks[channelID], nil
}

func (f *fakeSource) BucketProgression(channelID, bucketID string) (models.BucketProgression, bool, error) {
	p, ok := f.progressions[channelID+"|"+bucketID]
	return p, ok, nil
}

func (f *fakeSource) SaveBucketProgression(p models.BucketProgression) error {
	f.progressions[p.ChannelID+"|"+p.BucketID] = p
	return nil
}

func addMedia(f *fakeSource, ids ...string) {
	for _, id := range ids {
		f.media[id] = models.MediaFile{ID: id, Duration: 100, Title: id}
	}
}

func TestResolveStaticUnionByPriority(t *testing.T) {
	f := newFakeSource()
	addMedia(f, "a", "b", "c", "d")
	f.buckets["low"] = models.Bucket{ID: "low", MediaIDs: []string{"c", "d"}}
	f.buckets["high"] = models.Bucket{ID: "high", MediaIDs: []string{"a", "b", "c"}}
	f.channelBuckets["chan1"] = []models.ChannelBucket{
		{ChannelID: "chan1", BucketID: "low", Priority: 1},
		{ChannelID: "chan1", BucketID: "high", Priority: 10},
	}

	r := New(f)
	media, block, err := r.ResolveMedia("chan1", false, Context{CurrentTime: time.Now()})
	require.NoError(t, err)
	assert.Nil(t, block)
	ids := idsOf(media)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
}

func TestActiveBlockPicksHighestPriority(t *testing.T) {
	f := newFakeSource()
	now := time.Date(2026, 7, 31, 14, 0, 0, 0, time.Local) // Friday 14:00
	low := models.ScheduleBlock{
		ID: "low", ChannelID: "chan1", StartTime: "10:00:00", EndTime: "18:00:00",
		Priority: 1, Enabled: true, CreatedAt: now.Add(-time.Hour),
	}
	high := models.ScheduleBlock{
		ID: "high", ChannelID: "chan1", StartTime: "12:00:00", EndTime: "16:00:00",
		Priority: 5, Enabled: true, CreatedAt: now,
	}
	f.blocks["chan1"] = []models.ScheduleBlock{low, high}

	r := New(f)
	active, err := r.ActiveBlock("chan1", now)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "high", active.ID)
}

func TestActiveBlockRespectsDayOfWeek(t *testing.T) {
	f := newFakeSource()
	now := time.Date(2026, 7, 31, 14, 0, 0, 0, time.Local) // Friday == 5
	block := models.ScheduleBlock{
		ID: "weekend", ChannelID: "chan1", DayOfWeek: []int{0, 6},
		StartTime: "00:00:00", EndTime: "23:59:59", Priority: 1, Enabled: true,
	}
	f.blocks["chan1"] = []models.ScheduleBlock{block}

	r := New(f)
	active, err := r.ActiveBlock("chan1", now)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestResolveSequentialRotatesFromProgression(t *testing.T) {
	f := newFakeSource()
	addMedia(f, "a", "b", "c")
	f.buckets["b1"] = models.Bucket{ID: "b1", MediaIDs: []string{"a", "b", "c"}}
	now := time.Date(2026, 7, 31, 14, 0, 0, 0, time.Local)
	block := models.ScheduleBlock{
		ID: "blk1", ChannelID: "chan1", BucketID: "b1", PlaybackMode: models.PlaybackSequential,
		StartTime: "00:00:00", EndTime: "23:59:59", Priority: 1, Enabled: true,
	}
	f.blocks["chan1"] = []models.ScheduleBlock{block}
	f.progressions["chan1|b1"] = models.BucketProgression{ChannelID: "chan1", BucketID: "b1", PositionInBucket: 1}

	r := New(f)
	media, resolvedBlock, err := r.ResolveMedia("chan1", true, Context{CurrentTime: now})
	require.NoError(t, err)
	require.NotNil(t, resolvedBlock)
	assert.Equal(t, []string{"b", "c", "a"}, idsOf(media))
}

func TestResolveRandomIsDeterministicForSameDay(t *testing.T) {
	f := newFakeSource()
	addMedia(f, "a", "b", "c", "d", "e")
	f.buckets["b1"] = models.Bucket{ID: "b1", MediaIDs: []string{"a", "b", "c", "d", "e"}}
	now := time.Date(2026, 7, 31, 14, 0, 0, 0, time.Local)
	block := models.ScheduleBlock{
		ID: "blk1", ChannelID: "chan1", BucketID: "b1", PlaybackMode: models.PlaybackRandom,
		StartTime: "00:00:00", EndTime: "23:59:59", Priority: 1, Enabled: true,
	}
	f.blocks["chan1"] = []models.ScheduleBlock{block}

	r := New(f)
	media1, _, err := r.ResolveMedia("chan1", true, Context{CurrentTime: now})
	require.NoError(t, err)
	media2, _, err := r.ResolveMedia("chan1", true, Context{CurrentTime: now.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, idsOf(media1), idsOf(media2))
}

func TestResolveFallsBackToStaticWhenNoBlockActive(t *testing.T) {
	f := newFakeSource()
	addMedia(f, "a")
	f.buckets["static"] = models.Bucket{ID: "static", MediaIDs: []string{"a"}}
	f.channelBuckets["chan1"] = []models.ChannelBucket{{ChannelID: "chan1", BucketID: "static", Priority: 1}}

	r := New(f)
	now := time.Date(2026, 7, 31, 3, 0, 0, 0, time.Local)
	media, block, err := r.ResolveMedia("chan1", true, Context{CurrentTime: now})
	require.NoError(t, err)
	assert.Nil(t, block)
	assert.Equal(t, []string{"a"}, idsOf(media))
}

func idsOf(media []models.MediaFile) []string {
	var ids []string
	for _, m := range media {
		ids = append(ids, m.ID)
	}
	return ids
}
