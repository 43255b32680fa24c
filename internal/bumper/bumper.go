// Package bumper generates short interstitial video clips (station idents,
// "up next" cards) that the Concat File Manager splices between programs.
// Generation is best-effort: a bumper failure must never block playback, so
// callers only log what this package returns.
//
// The ffmpeg subprocess shape — exec.CommandContext, piped stderr drained in
// a background goroutine, slog for progress — is grounded on
// arung-agamani-denpa-radio/internal/ffmpeg/encoder.go.
package bumper

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"channeld/internal/apperr"
	"channeld/internal/logger"
)

// Spec describes the bumper to synthesize: a short clip announcing the
// upcoming program, per §4.4's generate(showName, episodeTitle, duration,
// resolution, fps, vBitrate, aBitrate, outPath).
type Spec struct {
	ShowName     string
	EpisodeTitle string
	Duration     float64 // seconds
	Resolution   string  // "1920x1080"
	FPS          int
	VBitrate     string
	ABitrate     string
}

// Generator synthesizes bumper clips via ffmpeg, writing atomically so a
// concurrent reader of OutputPath never observes a partial file.
type Generator struct {
	log logger.Logger
}

func New(log logger.Logger) *Generator {
	return &Generator{log: log}
}

// Generate renders spec to outputPath. It writes to a temporary sibling file
// first (outputPath + ".tmp.<nanos>") and renames it into place only once
// ffmpeg exits successfully, so a half-written bumper is never visible to the
// Concat File Manager's skip-if-temp-sibling-exists check.
func (g *Generator) Generate(ctx context.Context, outputPath string, spec Spec) error {
	dir := filepath.Dir(outputPath)
	tmpPath := filepath.Join(dir, fmt.Sprintf("%s.tmp.%d", filepath.Base(outputPath), time.Now().UnixNano()))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.IOFailure("bumper.Generate", err)
	}

	args := buildArgs(spec, tmpPath)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	g.log.Debugf("bumper: generating %s (show=%q episode=%q duration=%.1fs)", outputPath, spec.ShowName, spec.EpisodeTitle, spec.Duration)

	if err := cmd.Run(); err != nil {
		os.Remove(tmpPath)
		g.log.Warnf("bumper: ffmpeg failed for %s: %v: %s", outputPath, err, stderrBuf.String())
		return apperr.IOFailure("bumper.Generate", err)
	}

	if err := os.Rename(tmpPath, outputPath); err != nil {
		os.Remove(tmpPath)
		return apperr.IOFailure("bumper.Generate", err)
	}

	g.log.Infof("bumper: wrote %s", outputPath)
	return nil
}

// announcementText renders the "Up Next: …" card text per §4.9 step 7 for
// the upcoming episode. Without an episode title it renders the show name
// alone, with no "Up Next" prefix.
func announcementText(spec Spec) string {
	if spec.EpisodeTitle == "" {
		return spec.ShowName
	}
	if spec.ShowName == "" {
		return "Up Next: " + spec.EpisodeTitle
	}
	return fmt.Sprintf("Up Next: %s - %s", spec.ShowName, spec.EpisodeTitle)
}

func buildArgs(spec Spec, outputPath string) []string {
	resolution := spec.Resolution
	if resolution == "" {
		resolution = "1920x1080"
	}
	fps := spec.FPS
	if fps == 0 {
		fps = 30
	}
	vBitrate := spec.VBitrate
	if vBitrate == "" {
		vBitrate = "2000k"
	}
	aBitrate := spec.ABitrate
	if aBitrate == "" {
		aBitrate = "128k"
	}

	drawtext := fmt.Sprintf("drawtext=text='%s':fontcolor=white:fontsize=48:x=(w-text_w)/2:y=(h-text_h)/2",
		escapeDrawtext(announcementText(spec)))

	return []string{
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=black:s=%s:d=%s:r=%d", resolution, formatDuration(spec.Duration), fps),
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=48000"),
		"-shortest",
		"-vf", drawtext,
		"-c:v", "libx264",
		"-b:v", vBitrate,
		"-c:a", "aac",
		"-b:a", aBitrate,
		"-pix_fmt", "yuv420p",
		outputPath,
	}
}

func formatDuration(d float64) string {
	return strconv.FormatFloat(d, 'f', 2, 64)
}

// escapeDrawtext escapes characters ffmpeg's drawtext filter treats
// specially, so a show title containing a colon or quote doesn't break the
// filtergraph.
func escapeDrawtext(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`:`, `\:`,
		`'`, `\'`,
	)
	return replacer.Replace(s)
}
