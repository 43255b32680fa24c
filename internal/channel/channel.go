// Package channel implements the Channel Entity: a pure in-memory
// value-plus-state-machine for one channel (spec §4.1). It holds no
// goroutines, no subprocess handles, and no disk references — those belong
// to the Channel Runtime that wraps it.
package channel

import (
	"sync"
	"time"

	"channeld/internal/apperr"
	"channeld/internal/models"
)

// legalTransitions encodes the state machine table from spec §3. Any edge
// not present here fails with apperr.InvalidState and leaves state
// unchanged.
var legalTransitions = map[models.ChannelState]map[models.ChannelState]bool{
	models.StateIdle: {
		models.StateStarting: true,
	},
	models.StateStarting: {
		models.StateStreaming: true,
		models.StateError:     true,
		models.StateIdle:      true,
	},
	models.StateStreaming: {
		models.StateStopping: true,
		models.StateError:    true,
	},
	models.StateStopping: {
		models.StateIdle:  true,
		models.StateError: true,
	},
	models.StateError: {
		models.StateIdle:     true,
		models.StateStarting: true,
	},
}

// Channel wraps a models.Channel with the state-machine operations of §4.1.
// The zero value is not usable; construct with New.
type Channel struct {
	mu   sync.Mutex
	data models.Channel
}

// New wraps an existing data record (e.g. freshly loaded from the
// repository) in a Channel.
func New(data models.Channel) *Channel {
	return &Channel{data: data}
}

// Snapshot returns a copy of the underlying data, safe to serialize or hand
// to a caller without risk of a later in-place mutation.
func (c *Channel) Snapshot() models.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

func (c *Channel) ID() string   { c.mu.Lock(); defer c.mu.Unlock(); return c.data.ID }
func (c *Channel) Slug() string { c.mu.Lock(); defer c.mu.Unlock(); return c.data.Slug }

func (c *Channel) State() models.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.State
}

func (c *Channel) Config() models.ChannelConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.Config
}

func (c *Channel) Metadata() models.ChannelMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.Metadata
}

// CanTransitionTo reports whether the current state may legally move to to.
func (c *Channel) CanTransitionTo(to models.ChannelState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return legalTransitions[c.data.State][to]
}

// TransitionTo moves the channel to state to, failing with
// apperr.InvalidState (and leaving state unchanged) if the edge isn't legal.
// Entering STREAMING sets StartedAt to now, per §4.1.
func (c *Channel) TransitionTo(to models.ChannelState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !legalTransitions[c.data.State][to] {
		return apperr.InvalidState("channel.transitionTo",
			illegalEdgeError{from: c.data.State, to: to})
	}

	c.data.State = to
	if to == models.StateStreaming {
		now := time.Now()
		c.data.Metadata.StartedAt = &now
	}
	return nil
}

type illegalEdgeError struct {
	from, to models.ChannelState
}

func (e illegalEdgeError) Error() string {
	return string(e.from) + " -> " + string(e.to) + " is not a legal transition"
}

// SetError atomically records msg and forces the channel into ERROR,
// bypassing the normal transition table: ERROR is always reachable since
// any in-flight step can fail.
func (c *Channel) SetError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data.Metadata.LastError = msg
	c.data.State = models.StateError
}

// UpdateCurrentIndex records the file index currently airing.
func (c *Channel) UpdateCurrentIndex(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data.Metadata.CurrentIndex = idx
}

// IncrementViewerCount bumps the viewer count by one.
func (c *Channel) IncrementViewerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data.Metadata.ViewerCount++
	return c.data.Metadata.ViewerCount
}

// DecrementViewerCount decreases the viewer count by one, clamped at 0: an
// unbounded sequence of decrements leaves it at 0, never negative.
func (c *Channel) DecrementViewerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data.Metadata.ViewerCount > 0 {
		c.data.Metadata.ViewerCount--
	}
	return c.data.Metadata.ViewerCount
}

// ViewerCount returns the current viewer count.
func (c *Channel) ViewerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.Metadata.ViewerCount
}

// ResetViewerCount zeroes the viewer count, used by startup recovery (§4.9).
func (c *Channel) ResetViewerCount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data.Metadata.ViewerCount = 0
}
