package repository

import (
	"strconv"
	"strings"

	"channeld/internal/models"
)

func mediaFromRow(row dbMediaFile) models.MediaFile {
	return models.MediaFile{
		ID: row.ID, Path: row.Path, Filename: row.Filename, Duration: row.Duration,
		FileSize: row.FileSize, ShowName: row.ShowName, Season: row.Season, Episode: row.Episode, Title: row.Title,
	}
}

func channelToRow(c models.Channel) dbChannel {
	return dbChannel{
		ID:                 c.ID,
		Slug:               c.Slug,
		Name:               c.Config.Name,
		OutputDir:          c.Config.OutputDir,
		VideoBitrate:       c.Config.VideoBitrate,
		AudioBitrate:       c.Config.AudioBitrate,
		Resolution:         c.Config.Resolution,
		FPS:                c.Config.FPS,
		SegmentDuration:    c.Config.SegmentDuration,
		AutoStart:          c.Config.AutoStart,
		UseDynamicPlaylist: c.Config.UseDynamicPlaylist,
		IncludeBumpers:     c.Config.IncludeBumpers,
		HWAccel:            string(c.Config.HWAccel),
		State:              string(c.State),
		CurrentIndex:       c.Metadata.CurrentIndex,
		ViewerCount:        c.Metadata.ViewerCount,
		StartedAt:          c.Metadata.StartedAt,
		LastError:          c.Metadata.LastError,
	}
}

func channelFromRow(row dbChannel) models.Channel {
	return models.Channel{
		ID:   row.ID,
		Slug: row.Slug,
		Config: models.ChannelConfig{
			Name:               row.Name,
			OutputDir:          row.OutputDir,
			VideoBitrate:       row.VideoBitrate,
			AudioBitrate:       row.AudioBitrate,
			Resolution:         row.Resolution,
			FPS:                row.FPS,
			SegmentDuration:    row.SegmentDuration,
			AutoStart:          row.AutoStart,
			UseDynamicPlaylist: row.UseDynamicPlaylist,
			IncludeBumpers:     row.IncludeBumpers,
			HWAccel:            models.HWAccel(row.HWAccel),
		},
		Metadata: models.ChannelMetadata{
			CurrentIndex: row.CurrentIndex,
			ViewerCount:  row.ViewerCount,
			StartedAt:    row.StartedAt,
			LastError:    row.LastError,
		},
		State: models.ChannelState(row.State),
	}
}

func parseDayOfWeek(s string) []int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func formatDayOfWeek(days []int) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}
