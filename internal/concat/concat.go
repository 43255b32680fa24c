// Package concat implements the Concat File Manager (spec §4.5): it writes
// the ffconcat manifest and JSON metadata sidecar the Transcoder Adapter's
// ffmpeg subprocess reads as its playback source, including bumper
// interstitials when a channel has them enabled.
//
// The string-building style here follows
// ericcug-dash2hlsd/internal/hls/playlist.go's strings.Builder plus
// fmt.Sprintf approach to manifest generation.
package concat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"channeld/internal/apperr"
	"channeld/internal/models"
)

// minBumperSize is the §4.5 step 3 floor below which a bumper file is
// treated as not-yet-usable (an ffmpeg output still being flushed, or a
// truncated write).
const minBumperSize = 1024

// Entry is one item to splice into the manifest: either a program file with
// an optional seek-in point, or a bumper clip.
type Entry struct {
	Path        string
	SeekSeconds float64
	IsBumper    bool
}

// Manager writes ffconcat manifests and their metadata sidecars.
type Manager struct {
	// bumperUsable reports whether a bumper clip at the given path should
	// be spliced in: file exists, is at least minBumperSize, and has no
	// "<path>.tmp.*" sibling from an in-flight bumper.Generate.
	bumperUsable func(bumperPath string) bool
}

func New() *Manager {
	return &Manager{bumperUsable: defaultBumperUsable}
}

// WithBumperUsableCheck overrides the bumper usability probe, for tests.
func (m *Manager) WithBumperUsableCheck(f func(string) bool) *Manager {
	m.bumperUsable = f
	return m
}

func defaultBumperUsable(bumperPath string) bool {
	info, err := os.Stat(bumperPath)
	if err != nil || info.IsDir() || info.Size() < minBumperSize {
		return false
	}
	return !tempSiblingExists(bumperPath)
}

func tempSiblingExists(bumperPath string) bool {
	dir := filepath.Dir(bumperPath)
	base := filepath.Base(bumperPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	prefix := base + ".tmp."
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			return true
		}
	}
	return false
}

// Build renders entries into ffconcat manifest text. Paths are emitted
// unquoted per the §4.5 escape rule (see escapePath).
func (m *Manager) Build(entries []Entry) string {
	var sb strings.Builder
	sb.WriteString("ffconcat version 1.0\n")
	for _, e := range entries {
		if e.IsBumper && !m.bumperUsable(e.Path) {
			continue
		}
		sb.WriteString(fmt.Sprintf("file %s\n", escapePath(e.Path)))
		if e.SeekSeconds > 0 {
			sb.WriteString(fmt.Sprintf("inpoint %s\n", formatSeconds(e.SeekSeconds)))
		}
	}
	return sb.String()
}

// escapePath implements the §4.5 unquoted escape rule: backslash, space,
// single/double quote, parentheses, brackets and '!' are each prefixed with
// '\'. Backslashes are escaped first — walking rune-by-rune and emitting
// the escape inline (rather than chained strings.Replace passes) gives that
// ordering for free, since a backslash introduced by one escape is never
// itself re-escaped by a later pass.
func escapePath(p string) string {
	var sb strings.Builder
	for _, r := range p {
		switch r {
		case '\\', ' ', '\'', '"', '(', ')', '[', ']', '!':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func formatSeconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}

// WriteManifest writes the ffconcat manifest to manifestPath and its JSON
// metadata sidecar to the same path with a ".json" suffix. Both writes are
// atomic (temp file + rename), so a reader never observes a half-written
// manifest mid-transition.
func (m *Manager) WriteManifest(manifestPath string, entries []Entry, meta models.ConcatMetadata) error {
	content := m.Build(entries)
	if err := atomicWrite(manifestPath, []byte(content)); err != nil {
		return apperr.IOFailure("concat.WriteManifest", err)
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return apperr.IOFailure("concat.WriteManifest", err)
	}
	if err := atomicWrite(manifestPath+".json", metaJSON); err != nil {
		return apperr.IOFailure("concat.WriteManifest", err)
	}

	return nil
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmpPath := filepath.Join(dir, fmt.Sprintf("%s.tmp.%d", filepath.Base(path), time.Now().UnixNano()))
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// EntriesForMedia builds the plain (no bumpers) entry list for a resolved
// media window, per §4.5: the manifest starts at startIndex and runs to the
// end of media — files before startIndex are never re-emitted. Only the
// first emitted entry carries the seek-in point.
func EntriesForMedia(media []models.MediaFile, startIndex int, seekSeconds float64) []Entry {
	if startIndex < 0 || startIndex >= len(media) {
		startIndex = 0
	}
	window := media[startIndex:]
	entries := make([]Entry, 0, len(window))
	for i, m := range window {
		e := Entry{Path: m.Path}
		if i == 0 {
			e.SeekSeconds = seekSeconds
		}
		entries = append(entries, e)
	}
	return entries
}

// InterleaveBumpers inserts a bumper entry between each pair of subsequent
// program entries, per §4.5 step 3 — the leading entry plays straight
// through with no bumper ahead of it; every entry after that is preceded by
// one.
func InterleaveBumpers(entries []Entry, bumperPath string) []Entry {
	if bumperPath == "" || len(entries) == 0 {
		return entries
	}
	out := make([]Entry, 0, len(entries)*2)
	out = append(out, entries[0])
	for _, e := range entries[1:] {
		out = append(out, Entry{Path: bumperPath, IsBumper: true})
		out = append(out, e)
	}
	return out
}
