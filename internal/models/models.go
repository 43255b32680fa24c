// Package models defines the data model shared by every component of the
// channel runtime: channels, media, buckets, schedule blocks, bucket
// progression, playback sessions, and derived EPG programs.
package models

import "time"

// ChannelState is the lifecycle state of a Channel. Only the transitions
// enumerated in the channel package's legalTransitions table are legal.
type ChannelState string

const (
	StateIdle      ChannelState = "IDLE"
	StateStarting  ChannelState = "STARTING"
	StateStreaming ChannelState = "STREAMING"
	StateStopping  ChannelState = "STOPPING"
	StateError     ChannelState = "ERROR"
)

// HWAccel enumerates the recognized hardware acceleration backends.
type HWAccel string

const (
	HWAccelNone         HWAccel = "none"
	HWAccelNVENC        HWAccel = "nvenc"
	HWAccelQSV          HWAccel = "qsv"
	HWAccelVideoToolbox HWAccel = "videotoolbox"
)

// ChannelConfig holds the user-controlled settings for a channel.
type ChannelConfig struct {
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
	HWAccel            HWAccel
}

// ChannelMetadata holds runtime-observed state for a channel, separate from
// its user-controlled configuration.
type ChannelMetadata struct {
	CurrentIndex int
	ViewerCount  int
	StartedAt    *time.Time
	LastError    string
}

// Channel is the identity-plus-config-plus-runtime-metadata record for one
// virtual TV channel. The behavioral state machine lives in package channel;
// this struct is the plain data it wraps.
type Channel struct {
	ID       string
	Slug     string
	Config   ChannelConfig
	Metadata ChannelMetadata
	State    ChannelState
}

// MediaFile is an immutable (after scan) reference to one video file in the
// library.
type MediaFile struct {
	ID        string
	Path      string
	Filename  string
	Duration  float64 // seconds
	FileSize  int64
	ShowName  string
	Season    int
	Episode   int
	Title     string
}

// DisplayName is the human-readable title used to match EPG programs to
// files for the §4.7 tie-break resync.
func (m MediaFile) DisplayName() string {
	if m.Title != "" {
		return m.Title
	}
	return m.ShowName
}

// BucketType distinguishes buckets shared across channels from ones
// dedicated to a single channel.
type BucketType string

const (
	BucketGlobal          BucketType = "global"
	BucketChannelSpecific BucketType = "channel_specific"
)

// Bucket is an ordered set of media file IDs.
type Bucket struct {
	ID       string
	Name     string
	Type     BucketType
	MediaIDs []string
}

// ChannelBucket associates a channel with a bucket at a given priority;
// higher priority wins when static-resolving a channel's playlist.
type ChannelBucket struct {
	ChannelID string
	BucketID  string
	Priority  int
}

// PlaybackMode controls how a ScheduleBlock orders its bucket's media.
type PlaybackMode string

const (
	PlaybackSequential PlaybackMode = "sequential"
	PlaybackRandom     PlaybackMode = "random"
	PlaybackShuffle    PlaybackMode = "shuffle"
)

// ScheduleBlock is a recurring time window tying a channel to a bucket with a
// playback mode. Only consulted when the channel's UseDynamicPlaylist is set.
type ScheduleBlock struct {
	ID           string
	ChannelID    string
	DayOfWeek    []int // subset of 0..6, 0=Sunday; empty means "all days"
	StartTime    string // "HH:MM:SS", local time
	EndTime      string // "HH:MM:SS", local time
	BucketID     string
	PlaybackMode PlaybackMode
	Priority     int
	Enabled      bool
	CreatedAt    time.Time
}

// BucketProgression tracks, per (channel, bucket), where a sequential
// rotation last left off.
type BucketProgression struct {
	ChannelID         string
	BucketID          string
	LastPlayedMediaID string
	PositionInBucket  int
}

// PlaybackSessionType distinguishes a fresh start from a resume-after-pause.
type PlaybackSessionType string

const (
	PlaybackStarted  PlaybackSessionType = "started"
	PlaybackResumed  PlaybackSessionType = "resumed"
)

// PlaybackTrigger distinguishes operator-initiated starts from
// viewer-presence-driven ones.
type PlaybackTrigger string

const (
	TriggerManual    PlaybackTrigger = "manual"
	TriggerAutomatic PlaybackTrigger = "automatic"
)

// PlaybackSession is an audit row covering one continuous streaming period.
type PlaybackSession struct {
	ID        string
	ChannelID string
	StartedAt time.Time
	EndedAt   *time.Time
	Type      PlaybackSessionType
	Trigger   PlaybackTrigger
}

// Program is one derived EPG entry.
type Program struct {
	ID          string
	ChannelID   string
	StartTime   time.Time
	EndTime     time.Time
	Title       string
	Description string
	Category    string
	EpisodeNum  string
}

// ConcatMetadata is the JSON sidecar written next to each channel's concat
// manifest.
type ConcatMetadata struct {
	ScheduleBlockID *string   `json:"scheduleBlockId"`
	CreatedAt       time.Time `json:"createdAt"`
	MediaCount      int       `json:"mediaCount"`
	StartIndex      int       `json:"startIndex"`
	SeekToSeconds   float64   `json:"seekToSeconds"`
}
