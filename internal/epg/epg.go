// Package epg implements the EPG Generator (spec §4.7): it derives a
// forward-looking program guide from a channel's resolved media list and the
// Schedule Timeline's anchor, caches it per channel under a caller-supplied
// version (rebuilt when the version changes or after Invalidate), and can
// export it as XMLTV.
//
// The cache-by-version shape mirrors
// arung-agamani-denpa-radio/internal/playlist/scheduler.go's lastTag
// comparison: both avoid recomputing a derived view until the thing it's
// derived from actually changes.
package epg

import (
	"encoding/xml"
	"sync"
	"time"

	"channeld/internal/apperr"
	"channeld/internal/models"
	"channeld/internal/playlist"
	"channeld/internal/timeline"
)

// Generator derives and caches program guides.
type Generator struct {
	resolver *playlist.Resolver
	clock    *timeline.Timeline

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	version  int
	programs []models.Program
}

// guideEntry pairs a derived Program with the media index it came from, so
// CurrentProgramPosition can answer "which file" as well as "which program".
type guideEntry struct {
	fileIndex int
	program   models.Program
}

func New(resolver *playlist.Resolver, clock *timeline.Timeline) *Generator {
	return &Generator{resolver: resolver, clock: clock, cache: make(map[string]cacheEntry)}
}

// Generate returns the program guide for channelID covering [now, now+horizon),
// using the cached guide if version matches what's cached (the caller is
// responsible for bumping version whenever the channel's buckets or schedule
// blocks change). Programs are derived by walking the channel's currently
// resolved media list forward from the timeline's current position,
// repeating it as needed to fill the horizon — a schedule-block transition
// mid-horizon is not modeled; the guide reflects what's active right now.
func (g *Generator) Generate(channelID string, version int, cfg models.ChannelConfig, now time.Time, horizon time.Duration) ([]models.Program, error) {
	g.mu.Lock()
	if entry, ok := g.cache[channelID]; ok && entry.version == version {
		g.mu.Unlock()
		return entry.programs, nil
	}
	g.mu.Unlock()

	programs, err := g.build(channelID, cfg, now, horizon)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.cache[channelID] = cacheEntry{version: version, programs: programs}
	g.mu.Unlock()

	return programs, nil
}

// Invalidate drops the cached guide for channelID, forcing the next Generate
// to rebuild regardless of the version passed.
func (g *Generator) Invalidate(channelID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.cache, channelID)
}

func (g *Generator) build(channelID string, cfg models.ChannelConfig, now time.Time, horizon time.Duration) ([]models.Program, error) {
	media, _, err := g.resolver.ResolveMedia(channelID, cfg.UseDynamicPlaylist, playlist.Context{CurrentTime: now})
	if err != nil {
		return nil, err
	}

	entries, err := g.buildEntries(channelID, media, now, horizon)
	if err != nil {
		return nil, err
	}

	programs := make([]models.Program, len(entries))
	for i, e := range entries {
		programs[i] = e.program
	}
	return programs, nil
}

// buildEntries walks media forward from the schedule position at now (the
// channel's scheduleStartTime evaluated at now, not at the timeline's own
// clock), the same walk both Generate and CurrentProgramPosition derive their
// answers from (§4.7: "getCurrentAndNext and getCurrentPlaybackPosition are
// derived from the same walk").
func (g *Generator) buildEntries(channelID string, media []models.MediaFile, now time.Time, horizon time.Duration) ([]guideEntry, error) {
	if len(media) == 0 {
		return nil, apperr.NoMedia("epg.build", nil)
	}

	start, ok, err := g.clock.StartTime(channelID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("epg.build", nil)
	}
	anchor := timeline.NewMemoryStore()
	anchor.Set(channelID, start)
	pos, ok, err := timeline.New(anchor).WithClock(func() time.Time { return now }).CurrentPosition(channelID, media)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("epg.build", nil)
	}

	var entries []guideEntry
	cursor := now.Add(-time.Duration(pos.SeekSeconds * float64(time.Second)))
	idx := pos.FileIndex
	deadline := now.Add(horizon)

	for cursor.Before(deadline) {
		fileIndex := idx % len(media)
		m := media[fileIndex]
		start := cursor
		end := start.Add(time.Duration(m.Duration * float64(time.Second)))
		entries = append(entries, guideEntry{
			fileIndex: fileIndex,
			program: models.Program{
				ID:        channelID + "-" + m.ID + "-" + start.Format(time.RFC3339),
				ChannelID: channelID,
				StartTime: start,
				EndTime:   end,
				Title:     m.DisplayName(),
				Category:  m.ShowName,
			},
		})
		cursor = end
		idx++
	}

	return entries, nil
}

// currentPositionHorizon bounds the fresh, uncached walk CurrentProgramPosition
// performs — only the program airing right now is needed, so a short window
// well past the longest reasonable single episode suffices.
const currentPositionHorizon = 6 * time.Hour

// CurrentProgramPosition implements §4.7's getCurrentPlaybackPosition: it
// walks media fresh (bypassing the version cache, since a caller pinning
// playback needs this instant's answer, not whatever was last cached) and
// returns the start time and (fileIndex, seekSeconds) of whichever program
// is airing at now. ok is false if no program covers now.
func (g *Generator) CurrentProgramPosition(channelID string, media []models.MediaFile, now time.Time) (programStart time.Time, fileIndex int, seekSeconds float64, ok bool) {
	entries, err := g.buildEntries(channelID, media, now, currentPositionHorizon)
	if err != nil {
		return time.Time{}, 0, 0, false
	}
	for _, e := range entries {
		if !now.Before(e.program.StartTime) && now.Before(e.program.EndTime) {
			return e.program.StartTime, e.fileIndex, now.Sub(e.program.StartTime).Seconds(), true
		}
	}
	return time.Time{}, 0, 0, false
}

// CurrentAndNext returns the program airing at now and the one after it.
// ok is false if the cache has no entry covering now (a cold cache); callers
// should then fall back to Timeline.CurrentPosition directly, per the
// EPG-vs-timeline tie-break: the EPG is authoritative when it has an answer,
// the timeline's live computation is the fallback when it doesn't.
func (g *Generator) CurrentAndNext(channelID string, now time.Time) (current *models.Program, next *models.Program, ok bool) {
	g.mu.Lock()
	entry, exists := g.cache[channelID]
	g.mu.Unlock()
	if !exists {
		return nil, nil, false
	}

	for i, p := range entry.programs {
		if !now.Before(p.StartTime) && now.Before(p.EndTime) {
			current = &entry.programs[i]
			if i+1 < len(entry.programs) {
				next = &entry.programs[i+1]
			}
			return current, next, true
		}
	}
	return nil, nil, false
}

// xmltvDocument, xmltvChannel and xmltvProgramme model the subset of XMLTV
// this package emits.
type xmltvDocument struct {
	XMLName    xml.Name          `xml:"tv"`
	Channels   []xmltvChannel    `xml:"channel"`
	Programmes []xmltvProgramme  `xml:"programme"`
}

type xmltvChannel struct {
	ID          string `xml:"id,attr"`
	DisplayName string `xml:"display-name"`
}

type xmltvProgramme struct {
	Start   string `xml:"start,attr"`
	Stop    string `xml:"stop,attr"`
	Channel string `xml:"channel,attr"`
	Title   string `xml:"title"`
	Desc    string `xml:"desc,omitempty"`
	Episode string `xml:"episode-num,omitempty"`
}

const xmltvTimeLayout = "20060102150405 -0700"

// ExportXMLTV renders programs for channelID/displayName as an XMLTV
// document.
func ExportXMLTV(channelID, displayName string, programs []models.Program) ([]byte, error) {
	doc := xmltvDocument{
		Channels: []xmltvChannel{{ID: channelID, DisplayName: displayName}},
	}
	for _, p := range programs {
		doc.Programmes = append(doc.Programmes, xmltvProgramme{
			Start:   p.StartTime.Format(xmltvTimeLayout),
			Stop:    p.EndTime.Format(xmltvTimeLayout),
			Channel: channelID,
			Title:   p.Title,
			Desc:    p.Description,
			Episode: p.EpisodeNum,
		})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, apperr.IOFailure("epg.ExportXMLTV", err)
	}
	return append([]byte(xml.Header), out...), nil
}
