package render

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// EncodeSettings are the fixed container parameters for every render.
type EncodeSettings struct {
	FrameRate   int
	VideoCodec  string
	AudioCodec  string
	Preset      string
	Threads     int
	PixelFormat string
}

// DefaultEncodeSettings favours encode speed over size.
func DefaultEncodeSettings() EncodeSettings {
	return EncodeSettings{
		FrameRate:   FrameRate,
		VideoCodec:  "libx264",
		AudioCodec:  "aac",
		Preset:      "veryfast",
		Threads:     4,
		PixelFormat: "yuv420p",
	}
}

// Output binds the composite to an output file. The duration is pinned to
// the narration; anything longer is cut.
func (c *Composite) Output(path string, s EncodeSettings) *ffmpeg.Stream {
	return ffmpeg.Output([]*ffmpeg.Stream{c.Video, c.Audio}, path, ffmpeg.KwArgs{
		"r":        strconv.Itoa(s.FrameRate),
		"c:v":      s.VideoCodec,
		"c:a":      s.AudioCodec,
		"preset":   s.Preset,
		"threads":  strconv.Itoa(s.Threads),
		"pix_fmt":  s.PixelFormat,
		"t":        seconds(c.Duration),
		"movflags": "+faststart",
	}).OverWriteOutput()
}

// Encoder writes a composite into a single container file.
type Encoder interface {
	Encode(ctx context.Context, c *Composite, outputPath string) error
}

// FFmpegEncoder runs the composite graph through the ffmpeg binary.
type FFmpegEncoder struct {
	binary   string
	settings EncodeSettings
}

var _ Encoder = (*FFmpegEncoder)(nil)

func NewFFmpegEncoder(binary string, settings EncodeSettings) *FFmpegEncoder {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpegEncoder{binary: binary, settings: settings}
}

// Encode blocks until the container is fully written. On failure no file is
// left at outputPath.
func (e *FFmpegEncoder) Encode(ctx context.Context, c *Composite, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("%w: failed to create output dir: %v", ErrEncoding, err)
	}
	// A stale file from an earlier run must not pass for this run's output.
	if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: failed to remove stale output: %v", ErrEncoding, err)
	}

	args := c.Output(outputPath, e.settings).GetArgs()
	log.Printf("[FFmpeg] Encoding %.2fs composite (%d visual layers, %d captions) to %s",
		c.Duration, c.VisualLayers, c.CaptionLayers, outputPath)

	cmd := commandContext(ctx, e.binary, args...)
	var stderr bytes.Buffer
	cmd.Stdout = os.Stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(outputPath)
		return fmt.Errorf("%w: ffmpeg: %v: %s", ErrEncoding, err, tail(stderr.String(), 2000))
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("%w: output not written: %v", ErrEncoding, err)
	}
	if info.Size() == 0 {
		_ = os.Remove(outputPath)
		return fmt.Errorf("%w: output is empty", ErrEncoding)
	}

	log.Printf("[FFmpeg] Encoding complete: %s (%.2f MB)", outputPath, float64(info.Size())/(1024*1024))
	return nil
}

// tail keeps the last maxLen bytes of ffmpeg's stderr, which is where the
// actual error usually is.
func tail(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}
