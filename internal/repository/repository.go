// Package repository is the Persistence Layer (spec §4.12/§3): it stores
// channels, media, buckets, schedule blocks, bucket progression, playback
// sessions, and each channel's schedule start time, backed by gorm over a
// cgo-free SQLite driver.
//
// dash2hlsd itself has no persistence layer to ground this on — it is
// stateless beyond the in-memory session map — so this package's schema and
// repository shape follow the DB-row-plus-domain-struct pattern common
// across the retrieved pack's gorm users (e.g. jmylchreest-tvarr's
// channel/schedule models), using gorm.io/gorm and
// github.com/glebarez/sqlite so the binary stays cgo-free like the rest of
// this module.
package repository

import (
	"fmt"
	"regexp"
	"time"

	"channeld/internal/apperr"
	"channeld/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// slugPattern is the allowed channel slug shape: lowercase letters, digits,
// and single hyphens between segments. No leading/trailing/doubled hyphens.
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Repository is a gorm-backed implementation of every repository interface
// the runtime needs: timeline.Store, playlist.Source, and the channel /
// media / settings CRUD the API and startup recovery use.
type Repository struct {
	db *gorm.DB
}

// Open opens (creating if absent) a SQLite database at path and migrates the
// schema.
func Open(path string) (*Repository, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, apperr.IOFailure("repository.Open", err)
	}

	if err := db.AutoMigrate(
		&dbChannel{},
		&dbMediaFile{},
		&dbBucket{},
		&dbBucketMedia{},
		&dbChannelBucket{},
		&dbScheduleBlock{},
		&dbBucketProgression{},
		&dbPlaybackSession{},
		&dbScheduleStartTime{},
		&dbSetting{},
	); err != nil {
		return nil, apperr.IOFailure("repository.Open", err)
	}

	return &Repository{db: db}, nil
}

// --- schema ---

type dbChannel struct {
	ID                 string `gorm:"primaryKey"`
	Slug               string `gorm:"uniqueIndex"`
	Name               string
	OutputDir          string
	VideoBitrate       string
	AudioBitrate       string
	Resolution         string
	FPS                int
	SegmentDuration    int
	AutoStart          bool
	UseDynamicPlaylist bool
	IncludeBumpers     bool
	HWAccel            string
	State              string
	CurrentIndex       int
	ViewerCount        int
	StartedAt          *time.Time
	LastError          string
}

type dbMediaFile struct {
	ID       string `gorm:"primaryKey"`
	Path     string
	Filename string
	Duration float64
	FileSize int64
	ShowName string
	Season   int
	Episode  int
	Title    string
}

type dbBucket struct {
	ID   string `gorm:"primaryKey"`
	Name string
	Type string
}

// dbBucketMedia preserves per-bucket media ordering, since a plain
// many-to-many join table has no ordering column of its own.
type dbBucketMedia struct {
	BucketID string `gorm:"primaryKey"`
	MediaID  string `gorm:"primaryKey"`
	Position int
}

type dbChannelBucket struct {
	ChannelID string `gorm:"primaryKey"`
	BucketID  string `gorm:"primaryKey"`
	Priority  int
}

type dbScheduleBlock struct {
	ID           string `gorm:"primaryKey"`
	ChannelID    string `gorm:"index"`
	DayOfWeek    string // comma-separated ints, empty means all days
	StartTime    string
	EndTime      string
	BucketID     string
	PlaybackMode string
	Priority     int
	Enabled      bool
	CreatedAt    time.Time
}

type dbBucketProgression struct {
	ChannelID         string `gorm:"primaryKey"`
	BucketID          string `gorm:"primaryKey"`
	LastPlayedMediaID string
	PositionInBucket  int
}

type dbPlaybackSession struct {
	ID        string `gorm:"primaryKey"`
	ChannelID string `gorm:"index"`
	StartedAt time.Time
	EndedAt   *time.Time
	Type      string
	Trigger   string
}

type dbScheduleStartTime struct {
	ChannelID string `gorm:"primaryKey"`
	StartTime time.Time
}

type dbSetting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// --- timeline.Store ---

func (r *Repository) Get(channelID string) (time.Time, bool, error) {
	var row dbScheduleStartTime
	err := r.db.First(&row, "channel_id = ?", channelID).Error
	if err == gorm.ErrRecordNotFound {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, apperr.IOFailure("repository.Get", err)
	}
	return row.StartTime, true, nil
}

func (r *Repository) Set(channelID string, at time.Time) error {
	row := dbScheduleStartTime{ChannelID: channelID, StartTime: at}
	err := r.db.Save(&row).Error
	if err != nil {
		return apperr.IOFailure("repository.Set", err)
	}
	return nil
}

// --- playlist.Source ---

func (r *Repository) ChannelBuckets(channelID string) ([]models.ChannelBucket, error) {
	var rows []dbChannelBucket
	if err := r.db.Where("channel_id = ?", channelID).Find(&rows).Error; err != nil {
		return nil, apperr.IOFailure("repository.ChannelBuckets", err)
	}
	out := make([]models.ChannelBucket, len(rows))
	for i, row := range rows {
		out[i] = models.ChannelBucket{ChannelID: row.ChannelID, BucketID: row.BucketID, Priority: row.Priority}
	}
	return out, nil
}

func (r *Repository) Bucket(bucketID string) (models.Bucket, bool, error) {
	var row dbBucket
	err := r.db.First(&row, "id = ?", bucketID).Error
	if err == gorm.ErrRecordNotFound {
		return models.Bucket{}, false, nil
	}
	if err != nil {
		return models.Bucket{}, false, apperr.IOFailure("repository.Bucket", err)
	}

	var members []dbBucketMedia
	if err := r.db.Where("bucket_id = ?", bucketID).Order("position asc").Find(&members).Error; err != nil {
		return models.Bucket{}, false, apperr.IOFailure("repository.Bucket", err)
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.MediaID
	}

	return models.Bucket{ID: row.ID, Name: row.Name, Type: models.BucketType(row.Type), MediaIDs: ids}, true, nil
}

func (r *Repository) MediaByIDs(ids []string) ([]models.MediaFile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []dbMediaFile
	if err := r.db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, apperr.IOFailure("repository.MediaByIDs", err)
	}
	out := make([]models.MediaFile, len(rows))
	for i, row := range rows {
		out[i] = mediaFromRow(row)
	}
	return out, nil
}

func (r *Repository) ScheduleBlocks(channelID string) ([]models.ScheduleBlock, error) {
	var rows []dbScheduleBlock
	if err := r.db.Where("channel_id = ?", channelID).Find(&rows).Error; err != nil {
		return nil, apperr.IOFailure("repository.ScheduleBlocks", err)
	}
	out := make([]models.ScheduleBlock, len(rows))
	for i, row := range rows {
		out[i] = models.ScheduleBlock{
			ID:           row.ID,
			ChannelID:    row.ChannelID,
			DayOfWeek:    parseDayOfWeek(row.DayOfWeek),
			StartTime:    row.StartTime,
			EndTime:      row.EndTime,
			BucketID:     row.BucketID,
			PlaybackMode: models.PlaybackMode(row.PlaybackMode),
			Priority:     row.Priority,
			Enabled:      row.Enabled,
			CreatedAt:    row.CreatedAt,
		}
	}
	return out, nil
}

func (r *Repository) BucketProgression(channelID, bucketID string) (models.BucketProgression, bool, error) {
	var row dbBucketProgression
	err := r.db.First(&row, "channel_id = ? AND bucket_id = ?", channelID, bucketID).Error
	if err == gorm.ErrRecordNotFound {
		return models.BucketProgression{}, false, nil
	}
	if err != nil {
		return models.BucketProgression{}, false, apperr.IOFailure("repository.BucketProgression", err)
	}
	return models.BucketProgression{
		ChannelID:         row.ChannelID,
		BucketID:          row.BucketID,
		LastPlayedMediaID: row.LastPlayedMediaID,
		PositionInBucket:  row.PositionInBucket,
	}, true, nil
}

func (r *Repository) SaveBucketProgression(p models.BucketProgression) error {
	row := dbBucketProgression{
		ChannelID:         p.ChannelID,
		BucketID:          p.BucketID,
		LastPlayedMediaID: p.LastPlayedMediaID,
		PositionInBucket:  p.PositionInBucket,
	}
	if err := r.db.Save(&row).Error; err != nil {
		return apperr.IOFailure("repository.SaveBucketProgression", err)
	}
	return nil
}

// --- channel CRUD ---

func (r *Repository) SaveChannel(c models.Channel) error {
	row := channelToRow(c)
	if err := r.db.Save(&row).Error; err != nil {
		return apperr.IOFailure("repository.SaveChannel", err)
	}
	return nil
}

// CreateChannel inserts a brand-new channel, per scenario 2 of §8: the slug
// must match slugPattern (apperr.Validation otherwise), and a slug already
// in use fails with apperr.Conflict rather than silently overwriting it the
// way SaveChannel's upsert would.
func (r *Repository) CreateChannel(c models.Channel) error {
	if !slugPattern.MatchString(c.Slug) {
		return apperr.Validation("repository.CreateChannel", fmt.Errorf("invalid slug %q", c.Slug))
	}

	existing, ok, err := r.ChannelBySlug(c.Slug)
	if err != nil {
		return err
	}
	if ok {
		return apperr.Conflict("repository.CreateChannel", fmt.Errorf("slug %q already in use", c.Slug))
	}

	row := channelToRow(c)
	if err := r.db.Create(&row).Error; err != nil {
		return apperr.IOFailure("repository.CreateChannel", err)
	}
	return nil
}

func (r *Repository) Channel(id string) (models.Channel, bool, error) {
	var row dbChannel
	err := r.db.First(&row, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return models.Channel{}, false, nil
	}
	if err != nil {
		return models.Channel{}, false, apperr.IOFailure("repository.Channel", err)
	}
	return channelFromRow(row), true, nil
}

func (r *Repository) ChannelBySlug(slug string) (models.Channel, bool, error) {
	var row dbChannel
	err := r.db.First(&row, "slug = ?", slug).Error
	if err == gorm.ErrRecordNotFound {
		return models.Channel{}, false, nil
	}
	if err != nil {
		return models.Channel{}, false, apperr.IOFailure("repository.ChannelBySlug", err)
	}
	return channelFromRow(row), true, nil
}

func (r *Repository) AllChannels() ([]models.Channel, error) {
	var rows []dbChannel
	if err := r.db.Find(&rows).Error; err != nil {
		return nil, apperr.IOFailure("repository.AllChannels", err)
	}
	out := make([]models.Channel, len(rows))
	for i, row := range rows {
		out[i] = channelFromRow(row)
	}
	return out, nil
}

func (r *Repository) DeleteChannel(id string) error {
	if err := r.db.Delete(&dbChannel{}, "id = ?", id).Error; err != nil {
		return apperr.IOFailure("repository.DeleteChannel", err)
	}
	return nil
}

// --- playback sessions ---

func (r *Repository) SavePlaybackSession(s models.PlaybackSession) error {
	row := dbPlaybackSession{
		ID: s.ID, ChannelID: s.ChannelID, StartedAt: s.StartedAt,
		EndedAt: s.EndedAt, Type: string(s.Type), Trigger: string(s.Trigger),
	}
	if err := r.db.Save(&row).Error; err != nil {
		return apperr.IOFailure("repository.SavePlaybackSession", err)
	}
	return nil
}

// --- settings ---

func (r *Repository) Setting(key string) (string, bool, error) {
	var row dbSetting
	err := r.db.First(&row, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.IOFailure("repository.Setting", err)
	}
	return row.Value, true, nil
}

func (r *Repository) SetSetting(key, value string) error {
	row := dbSetting{Key: key, Value: value}
	if err := r.db.Save(&row).Error; err != nil {
		return apperr.IOFailure("repository.SetSetting", err)
	}
	return nil
}

// --- media ---

func (r *Repository) SaveMedia(m models.MediaFile) error {
	row := dbMediaFile{
		ID: m.ID, Path: m.Path, Filename: m.Filename, Duration: m.Duration,
		FileSize: m.FileSize, ShowName: m.ShowName, Season: m.Season, Episode: m.Episode, Title: m.Title,
	}
	if err := r.db.Save(&row).Error; err != nil {
		return apperr.IOFailure("repository.SaveMedia", err)
	}
	return nil
}
