// Package api implements the demo HTTP surface of spec §6: channel/bucket/
// schedule-block CRUD and lifecycle, EPG endpoints, and a minimal streaming
// surface serving the Channel Runtime's on-disk artifacts. It is a thin
// translation layer — state transitions, slug validation and persistence
// live in internal/runtime, internal/repository, and internal/epg; this
// package marshals HTTP in and out, checks request shapes (schedule-block
// times, priority and days; stream slug and segment names), and maps
// apperr.Kind to status codes.
//
// The method-pattern ServeMux routing (`GET /live/{channelId}/...`) and
// PathValue-based handlers follow dash2hlsd/internal/api/router.go
// directly; the {success,error:{code,message}} envelope is this module's
// own, per spec §6/§7.
package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"channeld/internal/apperr"
	"channeld/internal/epg"
	"channeld/internal/models"
	"channeld/internal/runtime"
)

// Store is the persistence surface the API needs beyond what runtime.Manager
// already exposes. *repository.Repository satisfies it.
type Store interface {
	CreateChannel(models.Channel) error
	SaveChannel(models.Channel) error
	Channel(id string) (models.Channel, bool, error)
	AllChannels() ([]models.Channel, error)
	DeleteChannel(id string) error

	SaveBucket(models.Bucket) error
	Bucket(id string) (models.Bucket, bool, error)
	SaveChannelBucket(models.ChannelBucket) error
	ChannelBuckets(channelID string) ([]models.ChannelBucket, error)

	SaveScheduleBlock(models.ScheduleBlock) error
	ScheduleBlocks(channelID string) ([]models.ScheduleBlock, error)
	DeleteScheduleBlock(id string) error

	Set(channelID string, at time.Time) error
}

var segmentPattern = regexp.MustCompile(`^(stream_\d+\.ts|starting\.ts)$`)
var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// API wires the Store, Channel Runtime, and EPG Generator into HTTP handlers.
type API struct {
	store   Store
	manager *runtime.Manager
	epgGen  *epg.Generator
}

func New(store Store, manager *runtime.Manager, epgGen *epg.Generator) http.Handler {
	a := &API{store: store, manager: manager, epgGen: epgGen}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/channels", a.listChannels)
	mux.HandleFunc("POST /api/channels", a.createChannel)
	mux.HandleFunc("GET /api/channels/{id}", a.getChannel)
	mux.HandleFunc("PUT /api/channels/{id}", a.updateChannel)
	mux.HandleFunc("DELETE /api/channels/{id}", a.deleteChannel)
	mux.HandleFunc("POST /api/channels/{id}/start", a.startChannel)
	mux.HandleFunc("POST /api/channels/{id}/stop", a.stopChannel)
	mux.HandleFunc("POST /api/channels/{id}/restart", a.restartChannel)
	mux.HandleFunc("PUT /api/channels/{id}/schedule-start-time", a.setScheduleStartTime)

	mux.HandleFunc("POST /api/channels/{id}/buckets", a.associateBucket)
	mux.HandleFunc("GET /api/channels/{id}/buckets", a.listChannelBuckets)

	mux.HandleFunc("POST /api/buckets", a.createBucket)
	mux.HandleFunc("GET /api/buckets/{id}", a.getBucket)

	mux.HandleFunc("POST /api/channels/{id}/schedule-blocks", a.createScheduleBlock)
	mux.HandleFunc("GET /api/channels/{id}/schedule-blocks", a.listScheduleBlocks)
	mux.HandleFunc("DELETE /api/schedule-blocks/{id}", a.deleteScheduleBlock)

	mux.HandleFunc("GET /api/channels/{id}/epg", a.channelEPG)
	mux.HandleFunc("GET /api/channels/{id}/epg/current", a.currentAndNextEPG)
	mux.HandleFunc("GET /api/epg.xml", a.xmltvExport)

	mux.HandleFunc("GET /{slug}/master.m3u8", a.streamMaster)
	mux.HandleFunc("GET /{slug}/stream.m3u8", a.streamPlaylist)
	mux.HandleFunc("GET /{slug}/{segment}", a.streamSegment)

	return mux
}

// --- envelope helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	writeJSON(w, apperr.HTTPStatus(kind), map[string]any{
		"success": false,
		"error":   errorBody{Code: kind.String(), Message: err.Error()},
	})
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

// --- channels ---

func (a *API) listChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := a.store.AllChannels()
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, channels)
}

type createChannelRequest struct {
	Slug   string               `json:"slug"`
	Config models.ChannelConfig `json:"config"`
}

func (a *API) createChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("api.createChannel", err))
		return
	}

	ch := models.Channel{ID: req.Slug, Slug: req.Slug, Config: req.Config, State: models.StateIdle}
	if err := a.store.CreateChannel(ch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": ch})
}

func (a *API) getChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok, err := a.store.Channel(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperr.NotFound("api.getChannel", nil))
		return
	}
	writeOK(w, ch)
}

func (a *API) updateChannel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ch, ok, err := a.store.Channel(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperr.NotFound("api.updateChannel", nil))
		return
	}

	var req struct {
		Config models.ChannelConfig `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("api.updateChannel", err))
		return
	}

	ch.Config = req.Config
	if err := a.store.SaveChannel(ch); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, ch)
}

func (a *API) deleteChannel(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteChannel(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) startChannel(w http.ResponseWriter, r *http.Request) {
	if err := a.manager.StartChannel(r.PathValue("id"), models.TriggerManual); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]string{"status": "streaming"})
}

func (a *API) stopChannel(w http.ResponseWriter, r *http.Request) {
	if err := a.manager.StopChannel(r.PathValue("id"), models.TriggerManual); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]string{"status": "idle"})
}

func (a *API) restartChannel(w http.ResponseWriter, r *http.Request) {
	if err := a.manager.RestartChannel(r.PathValue("id"), models.TriggerManual); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]string{"status": "streaming"})
}

func (a *API) setScheduleStartTime(w http.ResponseWriter, r *http.Request) {
	var req struct {
		At time.Time `json:"at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("api.setScheduleStartTime", err))
		return
	}
	if err := a.store.Set(r.PathValue("id"), req.At); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]string{"status": "ok"})
}

// --- buckets ---

func (a *API) createBucket(w http.ResponseWriter, r *http.Request) {
	var b models.Bucket
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeError(w, apperr.Validation("api.createBucket", err))
		return
	}
	if err := a.store.SaveBucket(b); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": b})
}

func (a *API) getBucket(w http.ResponseWriter, r *http.Request) {
	b, ok, err := a.store.Bucket(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperr.NotFound("api.getBucket", nil))
		return
	}
	writeOK(w, b)
}

func (a *API) associateBucket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BucketID string `json:"bucketId"`
		Priority int    `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("api.associateBucket", err))
		return
	}
	assoc := models.ChannelBucket{ChannelID: r.PathValue("id"), BucketID: req.BucketID, Priority: req.Priority}
	if err := a.store.SaveChannelBucket(assoc); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, assoc)
}

func (a *API) listChannelBuckets(w http.ResponseWriter, r *http.Request) {
	assocs, err := a.store.ChannelBuckets(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, assocs)
}

// --- schedule blocks ---

func (a *API) createScheduleBlock(w http.ResponseWriter, r *http.Request) {
	var b models.ScheduleBlock
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeError(w, apperr.Validation("api.createScheduleBlock", err))
		return
	}
	b.ChannelID = r.PathValue("id")
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	if b.EndTime <= b.StartTime {
		writeError(w, apperr.Validation("api.createScheduleBlock", nil))
		return
	}
	if b.Priority < 1 {
		writeError(w, apperr.Validation("api.createScheduleBlock", nil))
		return
	}
	for _, d := range b.DayOfWeek {
		if d < 0 || d > 6 {
			writeError(w, apperr.Validation("api.createScheduleBlock", nil))
			return
		}
	}
	if err := a.store.SaveScheduleBlock(b); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": b})
}

func (a *API) listScheduleBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := a.store.ScheduleBlocks(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, blocks)
}

func (a *API) deleteScheduleBlock(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteScheduleBlock(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- EPG ---

const epgHorizon = 24 * time.Hour

func (a *API) channelEPG(w http.ResponseWriter, r *http.Request) {
	ch, ok, err := a.store.Channel(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperr.NotFound("api.channelEPG", nil))
		return
	}

	programs, err := a.epgGen.Generate(ch.ID, 0, ch.Config, time.Now(), epgHorizon)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, programs)
}

func (a *API) currentAndNextEPG(w http.ResponseWriter, r *http.Request) {
	current, next, ok := a.epgGen.CurrentAndNext(r.PathValue("id"), time.Now())
	if !ok {
		writeError(w, apperr.NotFound("api.currentAndNextEPG", nil))
		return
	}
	writeOK(w, map[string]any{"current": current, "next": next})
}

func (a *API) xmltvExport(w http.ResponseWriter, r *http.Request) {
	channels, err := a.store.AllChannels()
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte("<tv>\n"))
	for _, ch := range channels {
		programs, err := a.epgGen.Generate(ch.ID, 0, ch.Config, time.Now(), epgHorizon)
		if err != nil {
			continue
		}
		doc, err := epg.ExportXMLTV(ch.ID, ch.Config.Name, programs)
		if err != nil {
			continue
		}
		w.Write(doc)
	}
	w.Write([]byte("</tv>\n"))
}

// --- streaming surface ---
// The transcoder writes stream.m3u8/stream_NNN.ts directly into the
// channel's outputDir; this surface only validates and serves them. master.m3u8
// is a single-variant pass-through to stream.m3u8 since this module transcodes
// one rendition per channel, not adaptive bitrate.

func (a *API) resolveChannelBySlug(w http.ResponseWriter, slug string) (models.Channel, bool) {
	if !slugPattern.MatchString(slug) {
		writeError(w, apperr.Validation("api.resolveChannelBySlug", nil))
		return models.Channel{}, false
	}
	channels, err := a.store.AllChannels()
	if err != nil {
		writeError(w, err)
		return models.Channel{}, false
	}
	for _, ch := range channels {
		if ch.Slug == slug {
			return ch, true
		}
	}
	writeError(w, apperr.NotFound("api.resolveChannelBySlug", nil))
	return models.Channel{}, false
}

func (a *API) streamMaster(w http.ResponseWriter, r *http.Request) {
	ch, ok := a.resolveChannelBySlug(w, r.PathValue("slug"))
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	http.ServeFile(w, r, filepath.Join(ch.Config.OutputDir, "stream.m3u8"))
}

func (a *API) streamPlaylist(w http.ResponseWriter, r *http.Request) {
	ch, ok := a.resolveChannelBySlug(w, r.PathValue("slug"))
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	http.ServeFile(w, r, filepath.Join(ch.Config.OutputDir, "stream.m3u8"))
}

func (a *API) streamSegment(w http.ResponseWriter, r *http.Request) {
	segment := r.PathValue("segment")
	if !segmentPattern.MatchString(segment) {
		writeError(w, apperr.Validation("api.streamSegment", nil))
		return
	}

	ch, ok := a.resolveChannelBySlug(w, r.PathValue("slug"))
	if !ok {
		return
	}

	path := filepath.Join(ch.Config.OutputDir, segment)
	if _, err := os.Stat(path); err != nil {
		writeError(w, apperr.NotFound("api.streamSegment", err))
		return
	}

	w.Header().Set("Content-Type", "video/mp2t")
	http.ServeFile(w, r, path)
}
