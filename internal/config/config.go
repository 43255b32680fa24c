// Package config implements Application Configuration (spec §4.11): layered
// runtime tunables via spf13/viper (defaults, optional config file,
// ORCH_-prefixed environment overrides), plus a separate lineup loader for
// bootstrapping a fresh store from structural channel/bucket seed data.
//
// LoadLineup keeps the teacher's raw-then-processed JSON pattern from the
// original config.go (rawChannel/rawConfig unmarshaled, then assembled into
// clean domain structs) — generalized from DASH channel+key seeding to
// channel/bucket/media seeding for this domain.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"channeld/internal/models"

	"github.com/spf13/viper"
)

// AppConfig holds the runtime tunables of §6's Configuration table.
type AppConfig struct {
	ServerURL                   string
	ViewerDisconnectGracePeriod time.Duration
	SegmentDuration             int
	IncludeBumpers              bool
	HWAccel                     models.HWAccel
	MaxConcurrentStreams        int
	ViewerSessionIdleTimeout    time.Duration
}

// Load builds an AppConfig by layering defaults, an optional config file at
// path (`.yaml`/`.json`/`.toml`, auto-detected by viper), and ORCH_-prefixed
// environment variables, in that increasing order of precedence. An empty
// path skips the file layer.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetDefault("serverUrl", "http://localhost:8080")
	v.SetDefault("viewerDisconnectGracePeriod", "45s")
	v.SetDefault("segmentDuration", 6)
	v.SetDefault("includeBumpers", true)
	v.SetDefault("hwAccel", string(models.HWAccelNone))
	v.SetDefault("maxConcurrentStreams", 8)
	v.SetDefault("viewerSessionIdleTimeout", "60s")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix("ORCH")
	v.AutomaticEnv()

	segmentDuration := v.GetInt("segmentDuration")
	if segmentDuration < 1 || segmentDuration > 30 {
		return nil, fmt.Errorf("config: segmentDuration must be in 1..30, got %d", segmentDuration)
	}

	return &AppConfig{
		ServerURL:                   v.GetString("serverUrl"),
		ViewerDisconnectGracePeriod: v.GetDuration("viewerDisconnectGracePeriod"),
		SegmentDuration:             segmentDuration,
		IncludeBumpers:              v.GetBool("includeBumpers"),
		HWAccel:                     models.HWAccel(v.GetString("hwAccel")),
		MaxConcurrentStreams:        v.GetInt("maxConcurrentStreams"),
		ViewerSessionIdleTimeout:    v.GetDuration("viewerSessionIdleTimeout"),
	}, nil
}

// LineupStore is the persistence surface LoadLineup seeds. A
// *repository.Repository satisfies it.
type LineupStore interface {
	SaveMedia(models.MediaFile) error
	SaveBucket(models.Bucket) error
	SaveChannelBucket(models.ChannelBucket) error
	CreateChannel(models.Channel) error
}

// rawMedia/rawBucket/rawChannelSeed/rawLineup mirror the seed JSON file's
// shape directly; LoadLineup processes them into domain structs below.
type rawMedia struct {
	ID       string  `json:"id"`
	Path     string  `json:"path"`
	Duration float64 `json:"durationSeconds"`
	Title    string  `json:"title"`
	ShowName string  `json:"showName"`
}

type rawBucket struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Type  string     `json:"type"`
	Media []rawMedia `json:"media"`
}

type rawChannelSeed struct {
	Slug           string   `json:"slug"`
	Name           string   `json:"name"`
	OutputDir      string   `json:"outputDir"`
	VideoBitrate   string   `json:"videoBitrate"`
	AudioBitrate   string   `json:"audioBitrate"`
	Resolution     string   `json:"resolution"`
	FPS            int      `json:"fps"`
	AutoStart      bool     `json:"autoStart"`
	IncludeBumpers bool     `json:"includeBumpers"`
	BucketIDs      []string `json:"bucketIds"` // highest priority first
}

type rawLineup struct {
	Buckets  []rawBucket      `json:"buckets"`
	Channels []rawChannelSeed `json:"channels"`
}

// LoadLineup reads a seed JSON file describing buckets, their media, and
// channels (with their bucket associations in priority order), and writes
// the processed result into store. This is structural lineup data, not a
// runtime tunable, so it is loaded separately from Load.
func LoadLineup(path string, store LineupStore) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading lineup %s: %w", path, err)
	}

	var raw rawLineup
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: unmarshaling lineup JSON: %w", err)
	}

	for _, rb := range raw.Buckets {
		mediaIDs := make([]string, 0, len(rb.Media))
		for _, rm := range rb.Media {
			media := models.MediaFile{
				ID: rm.ID, Path: rm.Path, Duration: rm.Duration,
				Title: rm.Title, ShowName: rm.ShowName,
			}
			if err := store.SaveMedia(media); err != nil {
				return fmt.Errorf("config: saving media %q: %w", rm.ID, err)
			}
			mediaIDs = append(mediaIDs, rm.ID)
		}

		bucketType := models.BucketGlobal
		if strings.EqualFold(rb.Type, "channel_specific") || strings.EqualFold(rb.Type, "dedicated") {
			bucketType = models.BucketChannelSpecific
		}
		bucket := models.Bucket{ID: rb.ID, Name: rb.Name, Type: bucketType, MediaIDs: mediaIDs}
		if err := store.SaveBucket(bucket); err != nil {
			return fmt.Errorf("config: saving bucket %q: %w", rb.ID, err)
		}
	}

	for _, rc := range raw.Channels {
		ch := models.Channel{
			ID:   rc.Slug,
			Slug: rc.Slug,
			Config: models.ChannelConfig{
				Name: rc.Name, OutputDir: rc.OutputDir, VideoBitrate: rc.VideoBitrate,
				AudioBitrate: rc.AudioBitrate, Resolution: rc.Resolution, FPS: rc.FPS,
				SegmentDuration: 6, AutoStart: rc.AutoStart, IncludeBumpers: rc.IncludeBumpers,
			},
			State: models.StateIdle,
		}
		if err := store.CreateChannel(ch); err != nil {
			return fmt.Errorf("config: creating channel %q: %w", rc.Slug, err)
		}

		for i, bucketID := range rc.BucketIDs {
			assoc := models.ChannelBucket{
				ChannelID: ch.ID, BucketID: bucketID,
				Priority: len(rc.BucketIDs) - i,
			}
			if err := store.SaveChannelBucket(assoc); err != nil {
				return fmt.Errorf("config: associating channel %q with bucket %q: %w", rc.Slug, bucketID, err)
			}
		}
	}

	return nil
}
