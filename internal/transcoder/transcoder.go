// Package transcoder implements the Transcoder Adapter (spec §4.6): a
// black-box wrapper around the ffmpeg process that reads a channel's concat
// manifest and writes its HLS output. The runtime never inspects ffmpeg's
// arguments or output format; it only starts, stops, and polls liveness.
//
// The subprocess lifecycle — exec.CommandContext, a owned context/cancel
// pair, stderr drained to the logger in a background goroutine — follows
// arung-agamani-denpa-radio/internal/ffmpeg/encoder.go and
// ericcug-dash2hlsd/internal/session/session.go's ctx-cancel shutdown
// pattern.
package transcoder

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"

	"channeld/internal/apperr"
	"channeld/internal/logger"
)

// Options configures one ffmpeg invocation.
type Options struct {
	ManifestPath string
	OutputDir    string
	SegmentTime  int
	VideoBitrate string
	AudioBitrate string
	Resolution   string
	FPS          int
	HWAccel      string
}

// Adapter manages at most one running ffmpeg process per channel. Construct
// it with New; the zero value has no logger and panics on Start.
type Adapter struct {
	log logger.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	running bool
}

func New(log logger.Logger) *Adapter {
	return &Adapter{log: log}
}

// Start launches ffmpeg for opts. It fails with apperr.Conflict if a process
// is already running for this Adapter, enforcing the at-most-one-encoder
// invariant at the single point that starts and stops it.
func (a *Adapter) Start(ctx context.Context, opts Options) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return apperr.Conflict("transcoder.Start", errAlreadyRunning)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, "ffmpeg", buildArgs(opts)...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return apperr.IOFailure("transcoder.Start", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return apperr.IOFailure("transcoder.Start", err)
	}

	a.cmd = cmd
	a.cancel = cancel
	a.running = true

	go a.drainStderr(stderr)
	go a.waitForExit(cmd)

	a.log.Infof("transcoder: started ffmpeg for %s", opts.ManifestPath)
	return nil
}

func (a *Adapter) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		a.log.Debugf("transcoder: ffmpeg: %s", scanner.Text())
	}
}

func (a *Adapter) waitForExit(cmd *exec.Cmd) {
	err := cmd.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cmd != cmd {
		// Superseded by a later Start after Stop; nothing to update.
		return
	}
	a.running = false
	if err != nil {
		a.log.Warnf("transcoder: ffmpeg exited with error: %v", err)
	} else {
		a.log.Infof("transcoder: ffmpeg exited cleanly")
	}
}

// Stop cancels ffmpeg's context, which kills the process, and returns
// without waiting: IsActive keeps reporting true until waitForExit observes
// the exit. Stop is idempotent: stopping an already-stopped Adapter is a no-op.
func (a *Adapter) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// IsActive reports whether ffmpeg is currently running.
func (a *Adapter) IsActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Cleanup stops ffmpeg if running and clears adapter state, used when a
// channel transitions out of STREAMING for good (not a pause/resume).
func (a *Adapter) Cleanup() {
	a.Stop()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cmd = nil
	a.cancel = nil
	a.running = false
}

func buildArgs(opts Options) []string {
	args := []string{
		"-y",
		"-re",
		"-f", "concat",
		"-safe", "0",
		"-i", opts.ManifestPath,
	}

	if opts.HWAccel != "" && opts.HWAccel != "none" {
		args = append(args, "-hwaccel", opts.HWAccel)
	}

	args = append(args,
		"-c:v", "libx264",
		"-b:v", opts.VideoBitrate,
		"-c:a", "aac",
		"-b:a", opts.AudioBitrate,
	)

	if opts.Resolution != "" {
		args = append(args, "-s", opts.Resolution)
	}
	if opts.FPS > 0 {
		args = append(args, "-r", formatInt(opts.FPS))
	}

	segmentTime := opts.SegmentTime
	if segmentTime <= 0 {
		segmentTime = 6
	}

	args = append(args,
		"-f", "hls",
		"-hls_time", formatInt(segmentTime),
		"-hls_list_size", "10",
		"-hls_flags", "delete_segments+append_list",
		opts.OutputDir+"/stream.m3u8",
	)

	return args
}

func formatInt(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

type notRunningError struct{}

func (notRunningError) Error() string { return "transcoder already running" }

var errAlreadyRunning = notRunningError{}
