package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// FrameSource reads video metadata and single frames.
type FrameSource interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
	FrameAt(ctx context.Context, path string, at time.Duration) ([]byte, error)
}

// FFmpeg extracts frames by shelling out to ffprobe and ffmpeg.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

func (f FFmpeg) Duration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, f.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func (f FFmpeg) FrameAt(ctx context.Context, path string, at time.Duration) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.FFmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg at %s: %w: %s", at, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg at %s: empty output", at)
	}
	return stdout.Bytes(), nil
}

// sampleTimes spreads count timestamps evenly inside the video, skipping
// both ends.
func sampleTimes(duration time.Duration, count int) []time.Duration {
	interval := duration / time.Duration(count+1)
	times := make([]time.Duration, count)
	for i := range times {
		times[i] = interval * time.Duration(i+1)
	}
	return times
}

// extractFrames samples the video in parallel. Frames that fail are
// dropped; the rest keep their timeline order.
func extractFrames(ctx context.Context, source FrameSource, path string, count int, maxDim int, workers int) ([]Frame, []error) {
	duration, err := source.Duration(ctx, path)
	if err != nil || duration <= 0 {
		if err == nil {
			err = fmt.Errorf("zero duration")
		}
		return nil, []error{fmt.Errorf("%w: %v", ErrUnreadableVideo, err)}
	}

	times := sampleTimes(duration, count)
	frames := make([]*Frame, len(times))
	errs := make([]error, len(times))

	p := pool.New().WithMaxGoroutines(max(workers, 1))
	for i, at := range times {
		p.Go(func() {
			raw, err := source.FrameAt(ctx, path, at)
			if err != nil {
				errs[i] = err
				return
			}
			frame, err := decodeFrame(raw, maxDim)
			if err != nil {
				errs[i] = err
				return
			}
			frames[i] = &frame
		})
	}
	p.Wait()

	out := make([]Frame, 0, len(frames))
	var failures []error
	for i, frame := range frames {
		if frame != nil {
			out = append(out, *frame)
		} else if errs[i] != nil {
			failures = append(failures, errs[i])
		}
	}
	return out, failures
}
