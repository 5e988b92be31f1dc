package render

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bobarin/storyreel/internal/timeline"
)

// recordingEncoder writes a placeholder container and remembers what it was
// asked to encode.
type recordingEncoder struct {
	composites []*Composite
	fail       error
	workDir    string
	// scratch entries seen under workDir while encoding
	liveScratch int
}

func (e *recordingEncoder) Encode(ctx context.Context, c *Composite, outputPath string) error {
	e.composites = append(e.composites, c)
	if e.workDir != "" {
		entries, _ := os.ReadDir(e.workDir)
		e.liveScratch = len(entries)
	}
	if e.fail != nil {
		return e.fail
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(outputPath, []byte("mp4"), 0644)
}

type pipelineEnv struct {
	srv       *httptest.Server
	narration string
	workDir   string
	outDir    string
	encoder   *recordingEncoder
	renderer  *Renderer
}

// newPipelineEnv serves /clip-<seconds>.mp4 as a decodable clip of that
// length, /garbage.mp4 as undecodable bytes, and 404 for anything else.
func newPipelineEnv(t *testing.T, narrationSeconds float64, captionsAvailable bool) *pipelineEnv {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/garbage.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>blocked</html>"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.URL.Path, "/clip-")
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "media:%s", strings.TrimSuffix(raw, ".mp4"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	root := t.TempDir()
	narration := filepath.Join(root, "narration.mp3")
	if err := os.WriteFile(narration, []byte(fmt.Sprintf("audio:%g", narrationSeconds)), 0644); err != nil {
		t.Fatal(err)
	}

	env := &pipelineEnv{
		srv:       srv,
		narration: narration,
		workDir:   filepath.Join(root, "work"),
		outDir:    filepath.Join(root, "out"),
	}
	env.encoder = &recordingEncoder{workDir: env.workDir}
	env.renderer = NewRenderer(
		NewHTTPFetcher(FetchOptions{Timeout: 2 * time.Second, Attempts: 1}),
		contentProber{},
		staticCaptions(captionsAvailable),
		env.encoder,
		Options{OutputDir: env.outDir, WorkDir: env.workDir},
	)
	return env
}

func (e *pipelineEnv) url(path string) string {
	return e.srv.URL + path
}

func (e *pipelineEnv) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.workDir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected work dir to be empty after render, found %d entries", len(entries))
	}
}

func caption(start, end float64, text string) timeline.CaptionSegment {
	return timeline.CaptionSegment{Interval: timeline.Interval{Start: start, End: end}, Text: text}
}

func TestRenderHappyPath(t *testing.T) {
	env := newPipelineEnv(t, 10, true)

	res, err := env.renderer.Render(context.Background(), Request{
		NarrationPath: env.narration,
		Captions:      []timeline.CaptionSegment{caption(0, 5, "first"), caption(5, 10, "second")},
		Visuals: []timeline.VisualSegment{
			seg(0, 5, env.url("/clip-8.mp4")),
			seg(5, 10, env.url("/clip-3.mp4")),
		},
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if !res.Exists() {
		t.Fatal("expected output file to exist")
	}
	if res.Path != filepath.Join(env.outDir, OutputFileName) {
		t.Errorf("Path = %q", res.Path)
	}
	if res.Duration != 10 {
		t.Errorf("Duration = %v, want narration duration 10", res.Duration)
	}
	if res.VisualLayers != 2 || res.CaptionLayers != 2 {
		t.Errorf("layers = %d visual / %d caption, want 2/2", res.VisualLayers, res.CaptionLayers)
	}
	if res.Report.Degraded() {
		t.Errorf("unexpected degrade: %+v", res.Report)
	}
	if env.encoder.liveScratch != 1 {
		t.Errorf("expected one scratch dir alive during encode, saw %d", env.encoder.liveScratch)
	}
	env.assertScratchEmpty(t)
}

func TestRenderFallbackWhenNoVisuals(t *testing.T) {
	env := newPipelineEnv(t, 6, true)

	res, err := env.renderer.Render(context.Background(), Request{NarrationPath: env.narration})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !res.Exists() || res.Duration != 6 {
		t.Fatalf("expected a 6s output, got %+v", res)
	}
	if !res.Report.UsedFallback || res.VisualLayers != 1 {
		t.Errorf("expected single fallback layer, got %d layers, report %+v", res.VisualLayers, res.Report)
	}
}

func TestRenderFallbackWhenEveryDownloadFails(t *testing.T) {
	env := newPipelineEnv(t, 9, true)

	res, err := env.renderer.Render(context.Background(), Request{
		NarrationPath: env.narration,
		Visuals: []timeline.VisualSegment{
			seg(0, 3, env.url("/missing-a.mp4")),
			seg(3, 6, env.url("/missing-b.mp4")),
			seg(6, 9, env.url("/missing-c.mp4")),
		},
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !res.Exists() {
		t.Fatal("expected output despite failed downloads")
	}
	if res.Report.DownloadFailures() != 3 || !res.Report.UsedFallback {
		t.Errorf("unexpected report %+v", res.Report)
	}
	env.assertScratchEmpty(t)
}

func TestRenderSkipsFailedSegments(t *testing.T) {
	env := newPipelineEnv(t, 12, true)

	res, err := env.renderer.Render(context.Background(), Request{
		NarrationPath: env.narration,
		Visuals: []timeline.VisualSegment{
			seg(0, 4, env.url("/clip-4.mp4")),
			seg(4, 8, env.url("/missing.mp4")),
			seg(8, 12, env.url("/garbage.mp4")),
		},
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if res.VisualLayers != 1 {
		t.Errorf("VisualLayers = %d, want 1", res.VisualLayers)
	}
	if res.Report.DownloadFailures() != 1 || res.Report.DecodeFailures() != 1 {
		t.Errorf("download=%d decode=%d, want 1/1", res.Report.DownloadFailures(), res.Report.DecodeFailures())
	}
	if res.Report.UsedFallback {
		t.Error("fallback should not be used when one segment resolved")
	}
	env.assertScratchEmpty(t)
}

func TestRenderOmitsCaptionsWithoutBackend(t *testing.T) {
	env := newPipelineEnv(t, 4, false)

	res, err := env.renderer.Render(context.Background(), Request{
		NarrationPath: env.narration,
		Captions:      []timeline.CaptionSegment{caption(0, 4, "unseen")},
		Visuals:       []timeline.VisualSegment{seg(0, 4, env.url("/clip-4.mp4"))},
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if res.CaptionLayers != 0 || !res.Report.CaptionsOmitted {
		t.Errorf("expected captions omitted, got %d layers, report %+v", res.CaptionLayers, res.Report)
	}
	if res.VisualLayers != 1 {
		t.Errorf("VisualLayers = %d, want 1", res.VisualLayers)
	}
}

func TestRenderNormalizesLayout(t *testing.T) {
	env := newPipelineEnv(t, 10, true)

	res, err := env.renderer.Render(context.Background(), Request{
		NarrationPath: env.narration,
		Visuals: []timeline.VisualSegment{
			seg(0, 3, ""),
			seg(3, 7, ""),
			seg(7, 10, env.url("/clip-5.mp4")),
		},
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	layout := res.Report.NormalizedLayout
	if len(layout) != 2 {
		t.Fatalf("expected 2 normalized segments, got %+v", layout)
	}
	if layout[0].Start != 0 || layout[0].End != 7 || layout[0].HasResource() {
		t.Errorf("first segment = %+v, want empty [0,7)", layout[0])
	}
	if layout[1].Start != 7 || layout[1].End != 10 {
		t.Errorf("second segment = %+v, want [7,10)", layout[1])
	}
}

func TestRenderRejectsInvalidIntervals(t *testing.T) {
	env := newPipelineEnv(t, 5, true)

	tests := []struct {
		name string
		req  Request
	}{
		{"visual end before start", Request{
			NarrationPath: env.narration,
			Visuals:       []timeline.VisualSegment{seg(4, 2, env.url("/clip-2.mp4"))},
		}},
		{"overlapping visuals", Request{
			NarrationPath: env.narration,
			Visuals: []timeline.VisualSegment{
				seg(0, 3, env.url("/clip-3.mp4")),
				seg(2, 5, env.url("/clip-3.mp4")),
			},
		}},
		{"caption end before start", Request{
			NarrationPath: env.narration,
			Captions:      []timeline.CaptionSegment{caption(3, 1, "backwards")},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.renderer.Render(context.Background(), tt.req)
			if !errors.Is(err, timeline.ErrInvalidInterval) {
				t.Fatalf("expected ErrInvalidInterval, got %v", err)
			}
			if len(env.encoder.composites) != 0 {
				t.Error("encoder must not run for invalid input")
			}
		})
	}
	env.assertScratchEmpty(t)
}

func TestRenderMissingNarration(t *testing.T) {
	env := newPipelineEnv(t, 5, true)

	tests := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"absent file", filepath.Join(t.TempDir(), "nope.mp3")},
		{"directory", t.TempDir()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.renderer.Render(context.Background(), Request{NarrationPath: tt.path})
			if !errors.Is(err, ErrMissingNarration) {
				t.Fatalf("expected ErrMissingNarration, got %v", err)
			}
		})
	}

	// A file that is not audio is treated the same way.
	notAudio := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(notAudio, []byte("just text"), 0644)
	if _, err := env.renderer.Render(context.Background(), Request{NarrationPath: notAudio}); !errors.Is(err, ErrMissingNarration) {
		t.Errorf("expected ErrMissingNarration for undecodable narration, got %v", err)
	}
	if len(env.encoder.composites) != 0 {
		t.Error("encoder must not run without narration")
	}

	// A container with a duration but no audio stream.
	silent := filepath.Join(t.TempDir(), "silent.mp4")
	os.WriteFile(silent, []byte("media:5"), 0644)
	if _, err := env.renderer.Render(context.Background(), Request{NarrationPath: silent}); !errors.Is(err, ErrMissingNarration) {
		t.Errorf("expected ErrMissingNarration for silent narration, got %v", err)
	}
	if len(env.encoder.composites) != 0 {
		t.Error("encoder must not run for silent narration")
	}
}

func TestRenderPinsDurationToNarration(t *testing.T) {
	env := newPipelineEnv(t, 7.5, true)

	// Visual layout runs past the narration; captions stop early.
	res, err := env.renderer.Render(context.Background(), Request{
		NarrationPath: env.narration,
		Captions:      []timeline.CaptionSegment{caption(0, 2, "short")},
		Visuals:       []timeline.VisualSegment{seg(0, 20, env.url("/clip-30.mp4"))},
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if res.Duration != 7.5 {
		t.Errorf("Duration = %v, want 7.5", res.Duration)
	}
	if got := env.encoder.composites[0].Duration; got != 7.5 {
		t.Errorf("composite duration = %v, want 7.5", got)
	}
}

func TestRenderEncodeFailureCleansUp(t *testing.T) {
	env := newPipelineEnv(t, 5, true)
	env.encoder.fail = fmt.Errorf("%w: codec not found", ErrEncoding)

	res, err := env.renderer.Render(context.Background(), Request{
		NarrationPath: env.narration,
		Captions:      []timeline.CaptionSegment{caption(0, 5, "bye")},
		Visuals:       []timeline.VisualSegment{seg(0, 5, env.url("/clip-5.mp4"))},
	})
	if !errors.Is(err, ErrEncoding) {
		t.Fatalf("expected ErrEncoding, got %v", err)
	}
	if res != nil {
		t.Error("expected no result on encode failure")
	}
	if _, statErr := os.Stat(filepath.Join(env.outDir, OutputFileName)); !os.IsNotExist(statErr) {
		t.Error("expected no output file")
	}
	env.assertScratchEmpty(t)
}

func TestRenderIsRepeatable(t *testing.T) {
	env := newPipelineEnv(t, 8, true)
	req := Request{
		NarrationPath: env.narration,
		Captions:      []timeline.CaptionSegment{caption(0, 4, "a"), caption(4, 8, "b")},
		Visuals: []timeline.VisualSegment{
			seg(0, 4, env.url("/clip-4.mp4")),
			seg(4, 8, env.url("/missing.mp4")),
		},
	}

	first, err := env.renderer.Render(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.renderer.Render(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	if first.Path != second.Path || first.Duration != second.Duration ||
		first.VisualLayers != second.VisualLayers || first.CaptionLayers != second.CaptionLayers ||
		len(first.Report.Failures) != len(second.Report.Failures) {
		t.Errorf("renders differ:\n%+v\n%+v", first, second)
	}
	env.assertScratchEmpty(t)
}

func TestRenderOutputDirOverride(t *testing.T) {
	env := newPipelineEnv(t, 3, true)
	jobDir := filepath.Join(t.TempDir(), "job-42")

	res, err := env.renderer.Render(context.Background(), Request{
		NarrationPath: env.narration,
		OutputDir:     jobDir,
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if res.Path != filepath.Join(jobDir, OutputFileName) || !res.Exists() {
		t.Errorf("Path = %q, want it under %s", res.Path, jobDir)
	}
	if _, err := os.Stat(filepath.Join(env.outDir, OutputFileName)); !os.IsNotExist(err) {
		t.Error("default output dir should be untouched")
	}
}
