// Package presence implements the Viewer Presence Tracker (spec §4.8): a
// per-channel session map with idle expiry, plus first-viewer and
// last-viewer-gone edge callbacks used to drive automatic start/stop.
//
// The idle sweep follows ericcug-dash2hlsd/internal/cache/segment_cache.go's
// evictionWorker in shape (periodically scan a mutex-guarded map, evict
// stale entries), but is scheduled with robfig/cron/v3 per §5's fixed
// background task convention rather than a hand-rolled time.Ticker loop; the
// per-session bookkeeping follows
// arung-agamani-denpa-radio/internal/radio/stream.go's client map. The
// per-viewer grace-period timer remains an ad hoc time.AfterFunc-style timer
// (one per pending departure, cancelled on reconnect) since cron is a poor
// fit for a dynamically created one-shot.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"channeld/internal/logger"

	"github.com/robfig/cron/v3"
)

// Callbacks are invoked on viewer-count edges. Both are optional.
type Callbacks struct {
	// OnFirstViewer fires when a channel's viewer count goes from 0 to 1.
	OnFirstViewer func(channelID string)
	// OnLastViewerGone fires after a channel's viewer count has been 0 for
	// GracePeriod. It is cancelled if a viewer reconnects before the grace
	// period elapses.
	OnLastViewerGone func(channelID string)
}

// Tracker tracks per-channel viewer sessions.
type Tracker struct {
	log           logger.Logger
	callbacks     Callbacks
	idleTimeout   time.Duration
	gracePeriod   time.Duration
	sweepInterval time.Duration

	mu       sync.Mutex
	sessions map[string]map[string]time.Time // channelID -> sessionID -> lastSeen
	counts   map[string]int
	graces   map[string]context.CancelFunc // channelID -> cancel for a pending OnLastViewerGone

	sweep *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

// Options configures a Tracker. Zero values fall back to sensible defaults.
type Options struct {
	IdleTimeout   time.Duration // a session with no heartbeat for this long is dropped
	GracePeriod   time.Duration // delay before OnLastViewerGone fires after the last viewer leaves
	SweepInterval time.Duration // how often the idle sweep runs; cron's @every rounds anything under 1s up to 1s
}

func New(log logger.Logger, callbacks Callbacks, opts Options) *Tracker {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Second
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 60 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		log:           log,
		callbacks:     callbacks,
		idleTimeout:   opts.IdleTimeout,
		gracePeriod:   opts.GracePeriod,
		sweepInterval: opts.SweepInterval,
		sessions:      make(map[string]map[string]time.Time),
		counts:        make(map[string]int),
		graces:        make(map[string]context.CancelFunc),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins the background idle-sweep worker, scheduled with cron's
// @every spec per §5.
func (t *Tracker) Start() {
	t.log.Infof("presence: starting idle sweep worker...")
	t.sweep = cron.New()
	t.sweep.AddFunc(fmt.Sprintf("@every %s", t.sweepInterval), t.runSweep)
	t.sweep.Start()
}

// Stop shuts down the idle-sweep worker and cancels any pending grace
// periods.
func (t *Tracker) Stop() {
	t.log.Infof("presence: stopping idle sweep worker...")
	if t.sweep != nil {
		t.sweep.Stop()
	}
	t.cancel()

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cancel := range t.graces {
		cancel()
	}
}

// Heartbeat records sessionID as present on channelID at now. It fires
// OnFirstViewer if this is the channel's first active session.
func (t *Tracker) Heartbeat(channelID, sessionID string) {
	t.mu.Lock()
	sessions, ok := t.sessions[channelID]
	if !ok {
		sessions = make(map[string]time.Time)
		t.sessions[channelID] = sessions
	}
	_, existed := sessions[sessionID]
	sessions[sessionID] = time.Now()

	wasZero := t.counts[channelID] == 0
	if !existed {
		t.counts[channelID]++
	}
	t.cancelPendingGrace(channelID)
	becameFirst := wasZero && t.counts[channelID] > 0
	t.mu.Unlock()

	if becameFirst && t.callbacks.OnFirstViewer != nil {
		t.callbacks.OnFirstViewer(channelID)
	}
}

// Leave removes sessionID from channelID immediately (e.g. on explicit
// disconnect, rather than waiting for the idle sweep).
func (t *Tracker) Leave(channelID, sessionID string) {
	t.mu.Lock()
	sessions, ok := t.sessions[channelID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if _, existed := sessions[sessionID]; existed {
		delete(sessions, sessionID)
		if t.counts[channelID] > 0 {
			t.counts[channelID]--
		}
	}
	becameEmpty := t.counts[channelID] == 0
	t.mu.Unlock()

	if becameEmpty {
		t.scheduleLastViewerGone(channelID)
	}
}

// ViewerCount returns the current session count for channelID.
func (t *Tracker) ViewerCount(channelID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[channelID]
}

func (t *Tracker) cancelPendingGrace(channelID string) {
	if cancel, ok := t.graces[channelID]; ok {
		cancel()
		delete(t.graces, channelID)
	}
}

// scheduleLastViewerGone starts (or restarts) the grace-period timer after
// which OnLastViewerGone fires, unless a new viewer arrives first.
func (t *Tracker) scheduleLastViewerGone(channelID string) {
	t.mu.Lock()
	t.cancelPendingGrace(channelID)
	graceCtx, cancel := context.WithCancel(t.ctx)
	t.graces[channelID] = cancel
	t.mu.Unlock()

	go func() {
		timer := time.NewTimer(t.gracePeriod)
		defer timer.Stop()
		select {
		case <-graceCtx.Done():
			return
		case <-timer.C:
		}

		t.mu.Lock()
		stillEmpty := t.counts[channelID] == 0
		delete(t.graces, channelID)
		t.mu.Unlock()

		if stillEmpty && t.callbacks.OnLastViewerGone != nil {
			t.callbacks.OnLastViewerGone(channelID)
		}
	}()
}

func (t *Tracker) runSweep() {
	now := time.Now()

	t.mu.Lock()
	var emptied []string
	for channelID, sessions := range t.sessions {
		for sessionID, lastSeen := range sessions {
			if now.Sub(lastSeen) > t.idleTimeout {
				delete(sessions, sessionID)
				if t.counts[channelID] > 0 {
					t.counts[channelID]--
				}
			}
		}
		if t.counts[channelID] == 0 {
			if _, pending := t.graces[channelID]; !pending {
				emptied = append(emptied, channelID)
			}
		}
	}
	t.mu.Unlock()

	for _, channelID := range emptied {
		t.scheduleLastViewerGone(channelID)
	}
}
