package render

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/bobarin/storyreel/internal/timeline"
)

// OutputFileName is the fixed name of the rendered container inside the
// output directory.
const OutputFileName = "rendered_video.mp4"

// Options configures a Renderer.
type Options struct {
	// OutputDir receives OutputFileName. Defaults to the working directory.
	OutputDir string
	// WorkDir is the parent of each run's scratch directory.
	WorkDir string
	// Background is the fallback fill colour (ffmpeg colour syntax).
	Background string
}

// Request is one render: the narration file plus both timed tracks.
type Request struct {
	NarrationPath string
	Captions      []timeline.CaptionSegment
	Visuals       []timeline.VisualSegment
	// OutputDir overrides Options.OutputDir for this render.
	OutputDir string
}

// Result describes a finished render.
type Result struct {
	Path          string
	Duration      float64
	VisualLayers  int
	CaptionLayers int
	Report        Report
	Elapsed       time.Duration
}

// Exists reports whether the output file is present and non-empty.
func (r *Result) Exists() bool {
	if r == nil || r.Path == "" {
		return false
	}
	info, err := os.Stat(r.Path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// Renderer runs the whole pipeline: normalize the visual layout, fetch the
// footage, build the tracks, composite and encode.
type Renderer struct {
	fetcher Fetcher
	prober  Prober
	builder *TrackBuilder
	encoder Encoder
	opts    Options
}

func NewRenderer(fetcher Fetcher, prober Prober, captions CaptionBackend, encoder Encoder, opts Options) *Renderer {
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	return &Renderer{
		fetcher: fetcher,
		prober:  prober,
		builder: NewTrackBuilder(prober, captions, Fallback{Color: opts.Background}),
		encoder: encoder,
		opts:    opts,
	}
}

// OutputPath is where Render writes the container for req.
func (r *Renderer) OutputPath(req Request) string {
	dir := r.opts.OutputDir
	if req.OutputDir != "" {
		dir = req.OutputDir
	}
	return filepath.Join(dir, OutputFileName)
}

// Render produces one MP4 whose duration equals the narration's. Asset and
// caption problems degrade the output and are recorded in Result.Report; only
// a missing narration, an invalid interval, or an encoder failure is fatal.
// Scratch files are removed before Render returns, whether it succeeded or not.
func (r *Renderer) Render(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	if err := checkNarration(req.NarrationPath); err != nil {
		return nil, err
	}
	if err := timeline.ValidateVisuals(req.Visuals); err != nil {
		return nil, fmt.Errorf("visual segments: %w", err)
	}
	if err := timeline.ValidateCaptions(req.Captions); err != nil {
		return nil, fmt.Errorf("caption segments: %w", err)
	}

	narrationDuration, err := r.narrationDuration(ctx, req.NarrationPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingNarration, req.NarrationPath, err)
	}
	narration := Narration{Path: req.NarrationPath, Duration: narrationDuration}
	log.Printf("[Render] Narration %s: %.2fs, %d visual segments, %d captions",
		req.NarrationPath, narrationDuration, len(req.Visuals), len(req.Captions))

	scratch, err := NewScratch(r.opts.WorkDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if relErr := scratch.Release(); relErr != nil {
			log.Printf("[Render] Warning: scratch cleanup incomplete: %v", relErr)
		}
	}()

	layout := timeline.Normalize(timeline.FillGaps(req.Visuals, narrationDuration))

	outcomes := r.fetcher.Fetch(ctx, scratch, layout)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plan := r.builder.Build(ctx, narration, outcomes, req.Captions)
	plan.Report.NormalizedLayout = layout

	captionFile := ""
	if len(plan.Captions) > 0 {
		captionFile, err = r.writeCaptions(scratch, plan)
		if err != nil {
			log.Printf("[Render] Warning: failed to write caption overlay, omitting captions: %v", err)
			plan.Captions = nil
			plan.Report.CaptionsOmitted = true
			plan.Report.CaptionsErr = err
		}
	}

	composite := Compose(plan, captionFile)
	outputPath := r.OutputPath(req)
	if err := r.encoder.Encode(ctx, composite, outputPath); err != nil {
		return nil, err
	}

	result := &Result{
		Path:          outputPath,
		Duration:      composite.Duration,
		VisualLayers:  composite.VisualLayers,
		CaptionLayers: composite.CaptionLayers,
		Report:        plan.Report,
		Elapsed:       time.Since(started),
	}
	log.Printf("[Render] Done in %s: %s (%d/%d segments resolved, %d captions, degraded=%v)",
		result.Elapsed.Round(time.Millisecond), outputPath,
		plan.Report.Resolved, plan.Report.Resolved+len(plan.Report.Failures),
		result.CaptionLayers, plan.Report.Degraded())
	return result, nil
}

func (r *Renderer) writeCaptions(scratch *Scratch, plan *CompositionPlan) (string, error) {
	f, err := scratch.Create("captions-*.ass")
	if err != nil {
		return "", err
	}
	if err := WriteASS(f, plan.Captions, plan.Width, plan.Height); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write captions: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close captions: %w", err)
	}
	return f.Name(), nil
}

func (r *Renderer) narrationDuration(ctx context.Context, path string) (float64, error) {
	if ap, ok := r.prober.(AudioProber); ok {
		return ap.AudioDuration(ctx, path)
	}
	return r.prober.Duration(ctx, path)
}

func checkNarration(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no path given", ErrMissingNarration)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingNarration, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrMissingNarration, path)
	}
	return nil
}
