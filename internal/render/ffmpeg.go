package render

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

var commandContext = exec.CommandContext

// Prober reports the playable duration of a media file in seconds.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// CaptionBackend reports whether the runtime can draw text onto frames.
type CaptionBackend interface {
	Available(ctx context.Context) bool
}

// FFprobe measures media with the ffprobe binary.
type FFprobe struct {
	binary string
}

var _ Prober = (*FFprobe)(nil)

func NewFFprobe(binary string) *FFprobe {
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}
	return &FFprobe{binary: binary}
}

// Duration returns the container duration of path.
func (p *FFprobe) Duration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := commandContext(ctx, p.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	raw := strings.TrimSpace(string(output))
	durationSec, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", raw, err)
	}
	if durationSec <= 0 {
		return 0, fmt.Errorf("non-positive duration %.3f", durationSec)
	}
	return durationSec, nil
}

// AudioProber is implemented by probers that can tell whether a file carries
// an audio stream. The renderer uses it to vet the narration.
type AudioProber interface {
	AudioDuration(ctx context.Context, path string) (float64, error)
}

var _ AudioProber = (*FFprobe)(nil)

// AudioDuration returns the container duration of path, failing when the
// file has no audio stream.
func (p *FFprobe) AudioDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_type:format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := commandContext(ctx, p.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	// Stream entries print before format entries.
	hasAudio := false
	raw := ""
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "audio":
			hasAudio = true
		case line != "":
			raw = line
		}
	}
	if !hasAudio {
		return 0, fmt.Errorf("no audio stream in %s", path)
	}
	durationSec, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", raw, err)
	}
	if durationSec <= 0 {
		return 0, fmt.Errorf("non-positive duration %.3f", durationSec)
	}
	return durationSec, nil
}

// LibassBackend detects whether the ffmpeg build ships the ass filter, which
// the compositor uses to burn in captions. A completed listing is cached for
// the life of the backend; a failed one is retried on the next call.
type LibassBackend struct {
	binary string

	mu        sync.Mutex
	probed    bool
	available bool
}

var _ CaptionBackend = (*LibassBackend)(nil)

func NewLibassBackend(ffmpegBinary string) *LibassBackend {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	return &LibassBackend{binary: ffmpegBinary}
}

func (b *LibassBackend) Available(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.probed {
		return b.available
	}

	cmd := commandContext(ctx, b.binary, "-hide_banner", "-filters")
	output, err := cmd.Output()
	if err != nil {
		log.Printf("[FFmpeg] Warning: could not list filters, captions skipped for this render: %v", err)
		return false
	}
	b.probed = true
	b.available = hasFilter(output, "ass")
	if !b.available {
		log.Printf("[FFmpeg] ass filter not found, captions will be skipped")
	}
	return b.available
}

// hasFilter scans `ffmpeg -filters` output, where each filter line looks like
// " T.C ass               V->V       Render ASS subtitles ...".
func hasFilter(listing []byte, name string) bool {
	scanner := bufio.NewScanner(bytes.NewReader(listing))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}
