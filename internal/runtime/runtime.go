// Package runtime implements the Channel Runtime orchestrator (spec §4.9):
// the component that composes the Channel entity, Schedule Timeline,
// Playlist Resolver, Bumper Generator, Concat File Manager, Transcoder
// Adapter, EPG Generator, and Viewer Presence Tracker into one running
// channel, and the Manager that owns one Runtime per configured channel.
//
// The per-channel mutex, owned context/cancel pair, and named background
// loops started from Start and torn down from Stop are grounded on
// ericcug-dash2hlsd/internal/session/session.go's StreamSession/
// SessionManager; the progression loop's "did the active schedule block
// change" check is grounded on
// arung-agamani-denpa-radio/internal/playlist/scheduler.go.
package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"channeld/internal/apperr"
	"channeld/internal/bumper"
	"channeld/internal/channel"
	"channeld/internal/concat"
	"channeld/internal/epg"
	"channeld/internal/logger"
	"channeld/internal/models"
	"channeld/internal/playlist"
	"channeld/internal/presence"
	"channeld/internal/timeline"
	"channeld/internal/transcoder"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const progressionSchedule = "@every 5s"

// transcoderSettleDelay is the pause between stopping and restarting the
// transcoder (§4.9 step 10), giving ffmpeg time to release the output
// directory before a new process opens it.
const transcoderSettleDelay = 300 * time.Millisecond

// bumperClipSeconds is the fixed duration of a generated bumper clip; it
// also doubles as the per-file gap the static-playlist progression loop
// (§4.9.1) adds when bumpers are enabled.
const bumperClipSeconds = 10.0

// ChannelStore is the subset of the repository the runtime needs for
// channel records.
type ChannelStore interface {
	SaveChannel(models.Channel) error
	Channel(id string) (models.Channel, bool, error)
	AllChannels() ([]models.Channel, error)
}

// SessionStore records playback session audit rows (§3).
type SessionStore interface {
	SavePlaybackSession(models.PlaybackSession) error
}

// TranscoderAdapter is the black-box subprocess contract (§4.6) the runtime
// depends on. *transcoder.Adapter implements it; tests substitute a fake.
type TranscoderAdapter interface {
	Start(ctx context.Context, opts transcoder.Options) error
	Stop()
	IsActive() bool
	Cleanup()
}

// Runtime owns one channel's live lifecycle: its state machine, its running
// transcoder process (if any), and the background goroutines that keep its
// concat manifest in sync with the active schedule block.
type Runtime struct {
	mu sync.Mutex

	ch          *channel.Channel
	manifestDir string

	ctx    context.Context
	cancel context.CancelFunc

	// progression is the owned scheduler running the progression check
	// (§5's "fixed background tasks"); StopChannel stops it deterministically.
	progression *cron.Cron

	lastBlockID     string
	activeSessionID string
}

// removeStaleSegments deletes leftover stream_*.ts files from a channel's
// output directory (§4.9 step 6), so a fresh start never serves segments
// from a previous run.
func removeStaleSegments(outputDir string) {
	matches, err := filepath.Glob(filepath.Join(outputDir, "stream_*.ts"))
	if err != nil {
		return
	}
	for _, p := range matches {
		os.Remove(p)
	}
}

// Manager owns one Runtime per configured channel plus the shared
// collaborators every Runtime uses.
type Manager struct {
	log        logger.Logger
	store      ChannelStore
	sessions   SessionStore
	resolver   *playlist.Resolver
	clock      *timeline.Timeline
	concatMgr  *concat.Manager
	bumperGen  *bumper.Generator
	epgGen     *epg.Generator
	presenceTr *presence.Tracker

	mu       sync.Mutex
	runtimes map[string]*Runtime
	adapters map[string]TranscoderAdapter
	newAdapter func(logger.Logger) TranscoderAdapter
}

// Deps bundles every collaborator a Manager needs to construct. NewAdapter
// defaults to wrapping transcoder.New; tests override it with a fake.
type Deps struct {
	Log        logger.Logger
	Store      ChannelStore
	Sessions   SessionStore
	Resolver   *playlist.Resolver
	Clock      *timeline.Timeline
	ConcatMgr  *concat.Manager
	BumperGen  *bumper.Generator
	EPGGen     *epg.Generator
	NewAdapter func(logger.Logger) TranscoderAdapter
}

// NewManager constructs a Manager and its viewer-presence tracker, wiring
// presence edges to automatic start/stop.
func NewManager(deps Deps, presenceOpts presence.Options) *Manager {
	newAdapter := deps.NewAdapter
	if newAdapter == nil {
		newAdapter = func(log logger.Logger) TranscoderAdapter { return transcoder.New(log) }
	}

	m := &Manager{
		log:        deps.Log,
		store:      deps.Store,
		sessions:   deps.Sessions,
		resolver:   deps.Resolver,
		clock:      deps.Clock,
		concatMgr:  deps.ConcatMgr,
		bumperGen:  deps.BumperGen,
		epgGen:     deps.EPGGen,
		runtimes:   make(map[string]*Runtime),
		adapters:   make(map[string]TranscoderAdapter),
		newAdapter: newAdapter,
	}

	m.presenceTr = presence.New(deps.Log, presence.Callbacks{
		OnFirstViewer:    m.handleFirstViewer,
		OnLastViewerGone: m.handleLastViewerGone,
	}, presenceOpts)

	return m
}

// Start begins the Manager's own background workers (the presence idle
// sweep). Runtimes are started individually via Manager.StartChannel.
func (m *Manager) Start() {
	m.presenceTr.Start()
}

// Stop tears down every running channel and the presence tracker.
func (m *Manager) Stop() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.runtimes))
	for id := range m.runtimes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.StopChannel(id, models.TriggerManual); err != nil {
			m.log.Warnf("runtime: error stopping channel %s during shutdown: %v", id, err)
		}
	}

	m.presenceTr.Stop()
}

// Heartbeat records viewer presence for channelID, potentially triggering an
// automatic start.
func (m *Manager) Heartbeat(channelID, sessionID string) {
	m.presenceTr.Heartbeat(channelID, sessionID)
}

// Leave records a viewer leaving channelID, potentially starting the grace
// period toward an automatic stop.
func (m *Manager) Leave(channelID, sessionID string) {
	m.presenceTr.Leave(channelID, sessionID)
}

func (m *Manager) handleFirstViewer(channelID string) {
	ch, ok, err := m.store.Channel(channelID)
	if err != nil || !ok {
		return
	}
	if ch.State != models.StateIdle {
		return
	}
	if err := m.StartChannel(channelID, models.TriggerAutomatic); err != nil {
		m.log.Warnf("runtime: automatic start of %s failed: %v", channelID, err)
	}
}

func (m *Manager) handleLastViewerGone(channelID string) {
	ch, ok, err := m.store.Channel(channelID)
	if err != nil || !ok {
		return
	}
	if ch.Config.AutoStart {
		// Channels configured to always run ignore viewer presence.
		return
	}
	if err := m.StopChannel(channelID, models.TriggerAutomatic); err != nil {
		m.log.Warnf("runtime: automatic stop of %s failed: %v", channelID, err)
	}
}

// runtimeFor returns (creating if absent) the Runtime wrapper and its
// dedicated transcoder.Adapter for channelID.
func (m *Manager) runtimeFor(ch models.Channel) (*Runtime, TranscoderAdapter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rt, ok := m.runtimes[ch.ID]
	if !ok {
		rt = &Runtime{
			ch:          channel.New(ch),
			manifestDir: filepath.Join(ch.Config.OutputDir, "manifest"),
		}
		m.runtimes[ch.ID] = rt
	}
	adapter, ok := m.adapters[ch.ID]
	if !ok {
		adapter = m.newAdapter(m.log)
		m.adapters[ch.ID] = adapter
	}
	return rt, adapter
}

// StartChannel transitions channelID IDLE/ERROR -> STARTING -> STREAMING,
// resolving its playlist, writing its concat manifest, and launching its
// transcoder. It fails with apperr.NoMedia if no media resolves, and leaves
// the channel in ERROR in that case.
func (m *Manager) StartChannel(channelID string, trigger models.PlaybackTrigger) error {
	ch, ok, err := m.store.Channel(channelID)
	if err != nil {
		return apperr.IOFailure("runtime.StartChannel", err)
	}
	if !ok {
		return apperr.NotFound("runtime.StartChannel", nil)
	}

	rt, adapter := m.runtimeFor(ch)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err := rt.ch.TransitionTo(models.StateStarting); err != nil {
		return err
	}
	m.persist(rt.ch)

	if err := m.clock.Initialize(channelID); err != nil {
		rt.ch.SetError(err.Error())
		m.persist(rt.ch)
		return apperr.IOFailure("runtime.StartChannel", err)
	}

	if err := os.MkdirAll(ch.Config.OutputDir, 0o755); err != nil {
		rt.ch.SetError(err.Error())
		m.persist(rt.ch)
		return apperr.IOFailure("runtime.StartChannel", err)
	}
	removeStaleSegments(ch.Config.OutputDir)

	if err := m.restartTranscoder(rt, adapter, ch); err != nil {
		rt.ch.SetError(err.Error())
		m.persist(rt.ch)
		return err
	}

	if err := rt.ch.TransitionTo(models.StateStreaming); err != nil {
		adapter.Cleanup()
		return err
	}
	m.persist(rt.ch)

	sessionID := uuid.NewString()
	rt.activeSessionID = sessionID
	sessionType := models.PlaybackStarted
	if ch.Metadata.LastError != "" {
		sessionType = models.PlaybackResumed
	}
	m.sessions.SavePlaybackSession(models.PlaybackSession{
		ID: sessionID, ChannelID: channelID, StartedAt: time.Now(),
		Type: sessionType, Trigger: trigger,
	})

	rt.progression = cron.New()
	rt.progression.AddFunc(progressionSchedule, func() { m.tick(rt, adapter, channelID) })
	rt.progression.Start()

	m.log.Infof("runtime: channel %s streaming", channelID)
	return nil
}

// StopChannel transitions STREAMING -> STOPPING -> IDLE, stopping the
// transcoder and the progression loop.
func (m *Manager) StopChannel(channelID string, trigger models.PlaybackTrigger) error {
	m.mu.Lock()
	rt, adapterOK := m.runtimes[channelID]
	adapter, hasAdapter := m.adapters[channelID]
	m.mu.Unlock()
	if !adapterOK || !hasAdapter {
		return apperr.NotFound("runtime.StopChannel", nil)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err := rt.ch.TransitionTo(models.StateStopping); err != nil {
		return err
	}
	m.persist(rt.ch)

	if rt.progression != nil {
		rt.progression.Stop()
		rt.progression = nil
	}
	if rt.cancel != nil {
		rt.cancel()
	}
	adapter.Cleanup()

	if rt.activeSessionID != "" {
		now := time.Now()
		m.sessions.SavePlaybackSession(models.PlaybackSession{
			ID: rt.activeSessionID, ChannelID: channelID, EndedAt: &now, Trigger: trigger,
		})
		rt.activeSessionID = ""
	}

	if err := rt.ch.TransitionTo(models.StateIdle); err != nil {
		return err
	}
	rt.ch.ResetViewerCount()
	m.persist(rt.ch)

	m.log.Infof("runtime: channel %s stopped", channelID)
	return nil
}

// RestartChannel stops and starts channelID, used to recover from ERROR or
// to apply a configuration change.
func (m *Manager) RestartChannel(channelID string, trigger models.PlaybackTrigger) error {
	ch, ok, err := m.store.Channel(channelID)
	if err != nil {
		return apperr.IOFailure("runtime.RestartChannel", err)
	}
	if !ok {
		return apperr.NotFound("runtime.RestartChannel", nil)
	}

	if ch.State == models.StateStreaming {
		if err := m.StopChannel(channelID, trigger); err != nil {
			return err
		}
	} else if ch.State == models.StateError {
		m.mu.Lock()
		rt, ok := m.runtimes[channelID]
		m.mu.Unlock()
		if ok {
			rt.mu.Lock()
			if rt.progression != nil {
				rt.progression.Stop()
				rt.progression = nil
			}
			if rt.cancel != nil {
				rt.cancel()
			}
			rt.ch.TransitionTo(models.StateIdle)
			m.persist(rt.ch)
			rt.mu.Unlock()
		}
	}

	return m.StartChannel(channelID, trigger)
}

func (rt *Runtime) manifestPath() string {
	return filepath.Join(rt.manifestDir, rt.ch.ID()+".ffconcat")
}

// resolvePosition picks the (media, block, position) triple playback should
// start from, per §4.9 steps 2-3. For a dynamic channel, the EPG is
// authoritative: it's asked what's airing right now, the resolver is then
// re-run pinned to that program's startTime (a schedule block active at the
// program's start may differ from the one active at now, if the tick landed
// inside a transition), and the EPG's file index is kept if it still fits
// the pinned media list and wrapped modulo its length otherwise. The raw
// Schedule Timeline position is the
// fallback whenever the EPG can't answer, and the only source for static
// channels.
func (m *Manager) resolvePosition(ch models.Channel, now time.Time) ([]models.MediaFile, *models.ScheduleBlock, timeline.Position, error) {
	media, block, err := m.resolver.ResolveMedia(ch.ID, ch.Config.UseDynamicPlaylist, playlist.Context{CurrentTime: now})
	if err != nil {
		return nil, nil, timeline.Position{}, err
	}
	if len(media) == 0 {
		return nil, nil, timeline.Position{}, apperr.NoMedia("runtime.resolvePosition", nil)
	}

	if ch.Config.UseDynamicPlaylist {
		if programStart, idx, seek, ok := m.epgGen.CurrentProgramPosition(ch.ID, media, now); ok {
			if pinnedMedia, pinnedBlock, err := m.resolver.ResolveMedia(ch.ID, true, playlist.Context{CurrentTime: programStart}); err == nil && len(pinnedMedia) > 0 {
				media, block = pinnedMedia, pinnedBlock
			}
			if idx >= len(media) {
				idx = idx % len(media)
			}
			return media, block, timeline.Position{FileIndex: idx, SeekSeconds: seek}, nil
		}
	}

	pos, ok, err := m.clock.CurrentPosition(ch.ID, media)
	if err != nil {
		return nil, nil, timeline.Position{}, err
	}
	if !ok {
		pos = timeline.Position{FileIndex: 0, SeekSeconds: 0}
	}
	return media, block, pos, nil
}

// writeManifest resolves the current playlist and position and writes the
// concat manifest + sidecar starting playback from that position. Called on
// Start and on every detected schedule-block transition.
func (m *Manager) writeManifest(rt *Runtime, ch models.Channel, now time.Time) error {
	media, block, pos, err := m.resolvePosition(ch, now)
	if err != nil {
		return err
	}

	entries := concat.EntriesForMedia(media, pos.FileIndex, pos.SeekSeconds)
	if ch.Config.IncludeBumpers {
		m.regenerateBumper(ch, media, pos.FileIndex)
		bumperPath := filepath.Join(ch.Config.OutputDir, "bumper.mp4")
		entries = concat.InterleaveBumpers(entries, bumperPath)
	}

	var blockID *string
	if block != nil {
		blockID = &block.ID
		rt.lastBlockID = block.ID
	} else {
		rt.lastBlockID = ""
	}

	meta := models.ConcatMetadata{
		ScheduleBlockID: blockID,
		CreatedAt:       now,
		MediaCount:      len(media),
		StartIndex:      pos.FileIndex,
		SeekToSeconds:   pos.SeekSeconds,
	}

	if err := m.concatMgr.WriteManifest(rt.manifestPath(), entries, meta); err != nil {
		return err
	}

	rt.ch.UpdateCurrentIndex(pos.FileIndex)
	m.persist(rt.ch)

	if block != nil && block.PlaybackMode == models.PlaybackSequential {
		m.resolver.RecordProgression(ch.ID, block.BucketID, media[pos.FileIndex].ID, pos.FileIndex)
	}

	return nil
}

// regenerateBumper (re)renders the bumper for the episode after index, per
// §4.9 step 7: "Up Next" announcing media[index+1], not a generic station
// ident. A missing next file (index is the last one) means no bumper is
// needed yet.
func (m *Manager) regenerateBumper(ch models.Channel, media []models.MediaFile, index int) {
	nextIdx := index + 1
	if nextIdx >= len(media) {
		return
	}
	next := media[nextIdx]
	bumperPath := filepath.Join(ch.Config.OutputDir, "bumper.mp4")
	if err := m.bumperGen.Generate(context.Background(), bumperPath, bumper.Spec{
		ShowName:     ch.Config.Name,
		EpisodeTitle: next.DisplayName(),
		Duration:     bumperClipSeconds,
		Resolution:   ch.Config.Resolution,
		FPS:          ch.Config.FPS,
		VBitrate:     ch.Config.VideoBitrate,
		ABitrate:     ch.Config.AudioBitrate,
	}); err != nil {
		m.log.Warnf("runtime: bumper generation for %s failed: %v", ch.ID, err)
	}
}

// restartTranscoder rewrites the manifest for ch's current position and
// (re)launches the transcoder: if it's already active, it's stopped and
// given a settle delay first (§4.9 step 10). This is the one mechanism that
// allows the on-disk manifest to change out from under a running encoder
// (§4.9.2), and it's also what a fresh StartChannel uses to launch the
// first process.
func (m *Manager) restartTranscoder(rt *Runtime, adapter TranscoderAdapter, ch models.Channel) error {
	if err := m.writeManifest(rt, ch, time.Now()); err != nil {
		return err
	}

	if adapter.IsActive() {
		adapter.Stop()
		time.Sleep(transcoderSettleDelay)
	}

	if rt.ctx == nil || rt.ctx.Err() != nil {
		rt.ctx, rt.cancel = context.WithCancel(context.Background())
	}

	return adapter.Start(rt.ctx, transcoder.Options{
		ManifestPath: rt.manifestPath(),
		OutputDir:    ch.Config.OutputDir,
		SegmentTime:  ch.Config.SegmentDuration,
		VideoBitrate: ch.Config.VideoBitrate,
		AudioBitrate: ch.Config.AudioBitrate,
		Resolution:   ch.Config.Resolution,
		FPS:          ch.Config.FPS,
		HWAccel:      string(ch.Config.HWAccel),
	})
}

// tick is the progression check (§4.9.1): it detects transcoder failure,
// schedule-block transitions for dynamic channels, and file-boundary
// advances for static ones, run on rt.progression's "@every 5s" schedule.
func (m *Manager) tick(rt *Runtime, adapter TranscoderAdapter, channelID string) {
	if !adapter.IsActive() {
		rt.mu.Lock()
		if rt.ch.State() == models.StateStreaming {
			rt.ch.SetError("transcoder process exited unexpectedly")
			m.persist(rt.ch)
			m.log.Errorf("runtime: channel %s transcoder died, marked ERROR", channelID)
		}
		rt.mu.Unlock()
		return
	}

	ch, ok, err := m.store.Channel(channelID)
	if err != nil || !ok {
		return
	}

	if !ch.Config.UseDynamicPlaylist {
		m.advanceStaticProgression(rt, ch, channelID)
		return
	}

	active, err := m.resolver.ActiveBlock(channelID, time.Now())
	if err != nil {
		m.log.Warnf("runtime: %s: failed to resolve active block: %v", channelID, err)
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	currentID := ""
	if active != nil {
		currentID = active.ID
	}
	if currentID == rt.lastBlockID {
		return
	}

	m.log.Infof("runtime: channel %s schedule block transition %q -> %q", channelID, rt.lastBlockID, currentID)
	if err := m.restartTranscoder(rt, adapter, ch); err != nil {
		m.log.Warnf("runtime: %s: failed to restart transcoder on transition: %v", channelID, err)
	}
}

// advanceStaticProgression implements §4.9.1's non-dynamic branch: it
// computes the file index expected from elapsed wall time since the
// schedule's epoch, modulo the total playlist duration (including the fixed
// bumper gap between files when bumpers are enabled), and advances
// currentIndex when that differs from what's recorded — pre-regenerating
// the "Up Next" bumper for the file after the new one. The manifest itself
// is not rewritten: ffmpeg is already playing the full concat list straight
// through, so this only keeps the persisted/observable position in sync.
func (m *Manager) advanceStaticProgression(rt *Runtime, ch models.Channel, channelID string) {
	media, _, err := m.resolver.ResolveMedia(channelID, false, playlist.Context{CurrentTime: time.Now()})
	if err != nil || len(media) == 0 {
		return
	}

	start, ok, err := m.clock.StartTime(channelID)
	if err != nil || !ok {
		return
	}

	gap := 0.0
	if ch.Config.IncludeBumpers {
		gap = bumperClipSeconds
	}

	var total float64
	for _, mf := range media {
		total += mf.Duration + gap
	}
	if total <= 0 {
		return
	}

	elapsed := time.Since(start).Seconds()
	pos := wrapDuration(elapsed, total)

	expected := len(media) - 1
	var cumulative float64
	for i, mf := range media {
		step := mf.Duration + gap
		if pos < cumulative+step {
			expected = i
			break
		}
		cumulative += step
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if expected == rt.ch.Metadata().CurrentIndex {
		return
	}

	rt.ch.UpdateCurrentIndex(expected)
	m.persist(rt.ch)
	m.log.Infof("runtime: channel %s advanced static playlist to index %d", channelID, expected)

	if ch.Config.IncludeBumpers {
		m.regenerateBumper(ch, media, expected)
	}
}

// wrapDuration returns a mod b guaranteed to land in [0, b).
func wrapDuration(a, b float64) float64 {
	r := a - float64(int64(a/b))*b
	for r < 0 {
		r += b
	}
	for r >= b {
		r -= b
	}
	return r
}

// Recover implements startup recovery (§4.9): channels the repository
// recorded as STREAMING when the process last exited had their transcoders
// die with it, so they're reset to IDLE (not assumed still running) and
// restarted only if configured to auto-start.
func (m *Manager) Recover(ctx context.Context) error {
	channels, err := m.store.AllChannels()
	if err != nil {
		return apperr.IOFailure("runtime.Recover", err)
	}

	for _, ch := range channels {
		if ch.State == models.StateStreaming || ch.State == models.StateStarting || ch.State == models.StateStopping {
			ch.State = models.StateIdle
			ch.Metadata.ViewerCount = 0
			if err := m.store.SaveChannel(ch); err != nil {
				m.log.Warnf("runtime: recovery failed to reset channel %s: %v", ch.ID, err)
				continue
			}
			m.log.Infof("runtime: recovered channel %s to IDLE after restart", ch.ID)
		}

		if ch.Config.AutoStart {
			if err := m.StartChannel(ch.ID, models.TriggerAutomatic); err != nil {
				m.log.Warnf("runtime: recovery auto-start of %s failed: %v", ch.ID, err)
			}
		}
	}

	return nil
}

func (m *Manager) persist(ch *channel.Channel) {
	if err := m.store.SaveChannel(ch.Snapshot()); err != nil {
		m.log.Warnf("runtime: failed to persist channel %s: %v", ch.ID(), err)
	}
}

// ChannelSnapshot returns the current observable state of channelID,
// suitable for an API response.
func (m *Manager) ChannelSnapshot(channelID string) (models.Channel, error) {
	m.mu.Lock()
	rt, ok := m.runtimes[channelID]
	m.mu.Unlock()
	if ok {
		return rt.ch.Snapshot(), nil
	}

	ch, found, err := m.store.Channel(channelID)
	if err != nil {
		return models.Channel{}, apperr.IOFailure("runtime.ChannelSnapshot", err)
	}
	if !found {
		return models.Channel{}, apperr.NotFound("runtime.ChannelSnapshot", fmt.Errorf("channel %s", channelID))
	}
	return ch, nil
}
