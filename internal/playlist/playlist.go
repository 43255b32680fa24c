// Package playlist implements the Playlist Resolver (spec §4.3): it picks an
// ordered media list for a channel at a point in time, honoring static
// bucket associations or, for dynamic channels, the highest-priority active
// schedule block.
//
// The active-block detection here is grounded on
// arung-agamani-denpa-radio/internal/playlist/scheduler.go's
// ResolveActiveTag: both answer "which named window is active right now,
// and did that answer just change" by comparing a derived tag/id against the
// last-observed one.
package playlist

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"channeld/internal/apperr"
	"channeld/internal/models"
)

// Source is the persistence-layer view the resolver needs. A concrete
// implementation lives in internal/repository; tests use an in-memory fake.
type Source interface {
	ChannelBuckets(channelID string) ([]models.ChannelBucket, error)
	Bucket(bucketID string) (models.Bucket, bool, error)
	MediaByIDs(ids []string) ([]models.MediaFile, error)
	ScheduleBlocks(channelID string) ([]models.ScheduleBlock, error)
	BucketProgression(channelID, bucketID string) (models.BucketProgression, bool, error)
	SaveBucketProgression(models.BucketProgression) error
}

// Context carries the point-in-time and optional known index the resolver
// needs to pick a playlist.
type Context struct {
	CurrentTime  time.Time
	CurrentIndex *int
}

// Resolver resolves channel media lists per §4.3.
type Resolver struct {
	source Source
}

func New(source Source) *Resolver {
	return &Resolver{source: source}
}

// ResolveMedia returns the ordered media list for channelID at ctx.CurrentTime.
// When useDynamicPlaylist is false, or true but no block is currently active,
// it returns the static bucket-union resolution. The returned block is nil
// unless a dynamic block was used. Per §4.3, an empty result is the caller's
// signal to treat it as apperr.NoMedia.
func (r *Resolver) ResolveMedia(channelID string, useDynamicPlaylist bool, ctx Context) ([]models.MediaFile, *models.ScheduleBlock, error) {
	if useDynamicPlaylist {
		block, err := r.ActiveBlock(channelID, ctx.CurrentTime)
		if err != nil {
			return nil, nil, err
		}
		if block != nil {
			media, err := r.resolveBlock(channelID, *block, ctx)
			if err != nil {
				return nil, nil, err
			}
			if len(media) > 0 {
				return media, block, nil
			}
			// fall through to static resolution per §4.3
		}
	}

	media, err := r.resolveStatic(channelID)
	return media, nil, err
}

// resolveStatic returns the union of ordered bucket contents attached to the
// channel, higher-priority buckets first, deduplicated preserving first
// occurrence.
func (r *Resolver) resolveStatic(channelID string) ([]models.MediaFile, error) {
	assocs, err := r.source.ChannelBuckets(channelID)
	if err != nil {
		return nil, apperr.IOFailure("playlist.resolveStatic", err)
	}

	sort.SliceStable(assocs, func(i, j int) bool {
		return assocs[i].Priority > assocs[j].Priority
	})

	seen := make(map[string]bool)
	var ordered []string
	for _, assoc := range assocs {
		bucket, ok, err := r.source.Bucket(assoc.BucketID)
		if err != nil {
			return nil, apperr.IOFailure("playlist.resolveStatic", err)
		}
		if !ok {
			continue
		}
		for _, id := range bucket.MediaIDs {
			if !seen[id] {
				seen[id] = true
				ordered = append(ordered, id)
			}
		}
	}

	return r.hydrate(ordered)
}

func (r *Resolver) hydrate(ids []string) ([]models.MediaFile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	files, err := r.source.MediaByIDs(ids)
	if err != nil {
		return nil, apperr.IOFailure("playlist.hydrate", err)
	}
	byID := make(map[string]models.MediaFile, len(files))
	for _, f := range files {
		byID[f.ID] = f
	}
	ordered := make([]models.MediaFile, 0, len(ids))
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			ordered = append(ordered, f)
		}
	}
	return ordered, nil
}

// ActiveBlock returns the schedule block active at t, or nil if none is.
// Among active blocks, the highest priority wins; ties break by creation
// order (earlier CreatedAt wins).
func (r *Resolver) ActiveBlock(channelID string, t time.Time) (*models.ScheduleBlock, error) {
	blocks, err := r.source.ScheduleBlocks(channelID)
	if err != nil {
		return nil, apperr.IOFailure("playlist.ActiveBlock", err)
	}

	var best *models.ScheduleBlock
	for i := range blocks {
		b := blocks[i]
		if !isActive(b, t) {
			continue
		}
		if best == nil || b.Priority > best.Priority ||
			(b.Priority == best.Priority && b.CreatedAt.Before(best.CreatedAt)) {
			bCopy := b
			best = &bCopy
		}
	}
	return best, nil
}

func isActive(b models.ScheduleBlock, t time.Time) bool {
	if !b.Enabled {
		return false
	}
	if len(b.DayOfWeek) > 0 {
		match := false
		weekday := int(t.Weekday())
		for _, d := range b.DayOfWeek {
			if d == weekday {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	start, err := parseTimeOfDay(b.StartTime)
	if err != nil {
		return false
	}
	end, err := parseTimeOfDay(b.EndTime)
	if err != nil {
		return false
	}
	now := timeOfDay(t)
	return !now.Before(start) && now.Before(end)
}

// dayDuration is a HH:MM:SS offset since local midnight.
type dayDuration time.Duration

func parseTimeOfDay(s string) (dayDuration, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, apperr.Validation("playlist.parseTimeOfDay", err)
	}
	return dayDuration(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second), nil
}

func timeOfDay(t time.Time) dayDuration {
	return dayDuration(time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second)
}

func (d dayDuration) Before(o dayDuration) bool { return d < o }

// resolveBlock orders a block's bucket media per its playback mode.
func (r *Resolver) resolveBlock(channelID string, block models.ScheduleBlock, ctx Context) ([]models.MediaFile, error) {
	bucket, ok, err := r.source.Bucket(block.BucketID)
	if err != nil {
		return nil, apperr.IOFailure("playlist.resolveBlock", err)
	}
	if !ok || len(bucket.MediaIDs) == 0 {
		return nil, nil
	}

	ids := append([]string(nil), bucket.MediaIDs...)

	switch block.PlaybackMode {
	case models.PlaybackSequential:
		ids, err = r.rotateFromProgression(channelID, block.BucketID, ids)
		if err != nil {
			return nil, err
		}
	case models.PlaybackRandom:
		seed := seedFor(channelID, block.ID, ctx.CurrentTime.Format("2006-01-02"))
		shuffleDeterministic(ids, seed)
	case models.PlaybackShuffle:
		windowStart := activationWindowStart(block, ctx.CurrentTime)
		seed := seedFor(channelID, block.ID, windowStart.Format(time.RFC3339))
		shuffleDeterministic(ids, seed)
	}

	return r.hydrate(ids)
}

// RecordProgression persists where a sequential bucket rotation stopped, so
// the next activation of this (channel, bucket) pair continues from there.
func (r *Resolver) RecordProgression(channelID, bucketID, lastPlayedMediaID string, positionInBucket int) error {
	return r.source.SaveBucketProgression(models.BucketProgression{
		ChannelID:         channelID,
		BucketID:          bucketID,
		LastPlayedMediaID: lastPlayedMediaID,
		PositionInBucket:  positionInBucket,
	})
}

// rotateFromProgression reads BucketProgression and rotates ids so the next
// play continues from where this bucket last stopped.
func (r *Resolver) rotateFromProgression(channelID, bucketID string, ids []string) ([]string, error) {
	prog, ok, err := r.source.BucketProgression(channelID, bucketID)
	if err != nil {
		return nil, apperr.IOFailure("playlist.rotateFromProgression", err)
	}
	if !ok || prog.PositionInBucket <= 0 || prog.PositionInBucket >= len(ids) {
		return ids, nil
	}
	offset := prog.PositionInBucket % len(ids)
	return append(ids[offset:], ids[:offset]...), nil
}

// activationWindowStart returns the instant this block's current activation
// window began: today's (or, for an overnight block, yesterday's) StartTime.
func activationWindowStart(block models.ScheduleBlock, t time.Time) time.Time {
	start, err := parseTimeOfDay(block.StartTime)
	if err != nil {
		return t
	}
	startOfDay := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	windowStart := startOfDay.Add(time.Duration(start))
	if windowStart.After(t) {
		windowStart = windowStart.AddDate(0, 0, -1)
	}
	return windowStart
}

func seedFor(parts ...string) int64 {
	var h int64 = 1469598103934665603 // 64-bit FNV offset basis with its last digit dropped to fit int64
	for _, p := range parts {
		for _, c := range []byte(p) {
			h ^= int64(c)
			h *= 1099511628211
		}
	}
	if h < 0 {
		h = -h
	}
	return h
}

// shuffleDeterministic shuffles ids in place using a seeded PRNG so a given
// seed always produces the same order.
func shuffleDeterministic(ids []string, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
}
