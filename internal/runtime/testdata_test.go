package runtime

import (
	"context"
	"sync"

	"channeld/internal/models"
	"channeld/internal/transcoder"
)

// fakeChannelStore is an in-memory ChannelStore for tests.
type fakeChannelStore struct {
	mu       sync.Mutex
	channels map[string]models.Channel
}

func newFakeChannelStore(channels ...models.Channel) *fakeChannelStore {
	s := &fakeChannelStore{channels: make(map[string]models.Channel)}
	for _, c := range channels {
		s.channels[c.ID] = c
	}
	return s
}

func (s *fakeChannelStore) SaveChannel(c models.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[c.ID] = c
	return nil
}

func (s *fakeChannelStore) Channel(id string) (models.Channel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[id]
	return c, ok, nil
}

func (s *fakeChannelStore) AllChannels() ([]models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Channel, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c)
	}
	return out, nil
}

// fakeSessionStore records playback sessions in memory.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions []models.PlaybackSession
}

func (s *fakeSessionStore) SavePlaybackSession(ps models.PlaybackSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, ps)
	return nil
}

// fakePlaylistSource is a minimal playlist.Source for tests.
type fakePlaylistSource struct {
	channelBuckets map[string][]models.ChannelBucket
	buckets        map[string]models.Bucket
	media          map[string]models.MediaFile
	blocks         map[string][]models.ScheduleBlock
	progressions   map[string]models.BucketProgression
}

func newFakePlaylistSource() *fakePlaylistSource {
	return &fakePlaylistSource{
		channelBuckets: make(map[string][]models.ChannelBucket),
		buckets:        make(map[string]models.Bucket),
		media:          make(map[string]models.MediaFile),
		blocks:         make(map[string][]models.ScheduleBlock),
		progressions:   make(map[string]models.BucketProgression),
	}
}

func (f *fakePlaylistSource) ChannelBuckets(channelID string) ([]models.ChannelBucket, error) {
	return f.channelBuckets[channelID], nil
}
func (f *fakePlaylistSource) Bucket(bucketID string) (models.Bucket, bool, error) {
	b, ok := f.buckets[bucketID]
	return b, ok, nil
}
func (f *fakePlaylistSource) MediaByIDs(ids []string) ([]models.MediaFile, error) {
	var out []models.MediaFile
	for _, id := range ids {
		if m, ok := f.media[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}
func (f *fakePlaylistSource) ScheduleBlocks(channelID string) ([]models.ScheduleBlock, error) {
	return f.blocks[channelID], nil
}
func (f *fakePlaylistSource) BucketProgression(channelID, bucketID string) (models.BucketProgression, bool, error) {
	p, ok := f.progressions[channelID+"|"+bucketID]
	return p, ok, nil
}
func (f *fakePlaylistSource) SaveBucketProgression(p models.BucketProgression) error {
	f.progressions[p.ChannelID+"|"+p.BucketID] = p
	return nil
}

// fakeAdapter is a TranscoderAdapter that never shells out to ffmpeg.
type fakeAdapter struct {
	mu       sync.Mutex
	active   bool
	starts   int
	stops    int
	failNext bool
}

func (a *fakeAdapter) Start(ctx context.Context, opts transcoder.Options) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failNext {
		a.failNext = false
		return context.DeadlineExceeded
	}
	a.active = true
	a.starts++
	return nil
}

func (a *fakeAdapter) IsActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *fakeAdapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
	a.stops++
}

func (a *fakeAdapter) Cleanup() {
	a.Stop()
}

func (a *fakeAdapter) setInactive() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
}
