// Package ffmpeg drives the ffmpeg binary as an opaque HLS muxer: ffmpeg is
// never linked against, only spawned, with `-c copy` so it remuxes
// container formats without re-encoding.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/nuslumi/luminus-sync/internal/engine"
)

// Muxer spawns one configured ffmpeg binary per call.
type Muxer struct {
	Path string
}

// New returns a Muxer invoking the ffmpeg binary at path.
func New(path string) *Muxer {
	return &Muxer{Path: path}
}

// StreamSpec describes one Panopto sub-stream to be muxed, carrying the
// offset (in seconds) at which it should start relative to the others.
type StreamSpec struct {
	StreamURLPath string
	OffsetSeconds float64
}

// Stream muxes a single HLS manifest straight to temp: `ffmpeg -y -i <url>
// -c copy <temp>`. Used both directly by the internal-multimedia loader and
// internally by MuxMulti to stage each Panopto sub-stream.
func (m *Muxer) Stream(ctx context.Context, streamURLPath, temp string) error {
	return m.run(ctx, temp, []string{"-i", streamURLPath})
}

// MuxMulti streams each of streams to its own staged temp file alongside
// temp, then invokes ffmpeg once more with alternating -itsoffset/-i pairs
// and one -map per input to combine them. A single stream skips staging
// and offsets entirely and is muxed directly.
func (m *Muxer) MuxMulti(ctx context.Context, streams []StreamSpec, temp string) error {
	if len(streams) == 0 {
		return engine.Fail(errors.New("ffmpeg: no streams to mux"))
	}
	if len(streams) == 1 {
		return m.Stream(ctx, streams[0].StreamURLPath, temp)
	}

	subTemps := make([]string, len(streams))
	for i, s := range streams {
		subTemps[i] = subTempPath(temp, i)
		if err := m.Stream(ctx, s.StreamURLPath, subTemps[i]); err != nil {
			removeAll(subTemps[:i+1])
			return err
		}
	}
	defer removeAll(subTemps)

	var args []string
	for i, s := range streams {
		args = append(args, "-itsoffset", strconv.FormatFloat(s.OffsetSeconds, 'f', -1, 64), "-i", subTemps[i])
	}
	for i := range streams {
		args = append(args, "-map", strconv.Itoa(i))
	}
	return m.run(ctx, temp, args)
}

func (m *Muxer) run(ctx context.Context, out string, inputArgs []string) error {
	args := append([]string{"-y"}, inputArgs...)
	args = append(args, "-c", "copy", out)

	cmd := exec.CommandContext(ctx, m.Path, args...)
	err := cmd.Run()
	return classifyExit(err)
}

// classifyExit turns a spawned ffmpeg's result into one of two outcomes:
// any non-zero exit is transient (Retry), any failure to even start the
// process (binary missing, permission denied, ...) is permanent (Fail).
// Split out from run so the classification itself is unit-testable without
// actually spawning ffmpeg.
func classifyExit(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return engine.Retry(fmt.Errorf("ffmpeg returned nonzero exit code %d", exitErr.ExitCode()))
	}
	return engine.Fail(fmt.Errorf("starting ffmpeg: %w", err))
}

func subTempPath(temp string, i int) string {
	dir, base := filepath.Split(temp)
	return filepath.Join(dir, fmt.Sprintf("~!%d~!%s", i, base))
}

func removeAll(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}
