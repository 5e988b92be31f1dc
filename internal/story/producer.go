// Package story chains script writing, narration, captioning, footage
// search and rendering into one topic-to-video run.
package story

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bobarin/storyreel/internal/render"
	"github.com/bobarin/storyreel/internal/services"
	"github.com/bobarin/storyreel/internal/timeline"
)

// Stage names a step of a production run.
type Stage string

const (
	StageScripting  Stage = "scripting"
	StageNarrating  Stage = "narrating"
	StageCaptioning Stage = "captioning"
	StageSearching  Stage = "searching"
	StageLocating   Stage = "locating"
	StageRendering  Stage = "rendering"
	StageDone       Stage = "done"
)

// ProgressFunc is told about every stage transition. message is a short
// human-readable status line.
type ProgressFunc func(stage Stage, message string)

type ScriptWriter interface {
	GenerateScript(ctx context.Context, topic string) (string, error)
}

type CaptionTimer interface {
	TimedCaptions(ctx context.Context, audioPath string) ([]timeline.CaptionSegment, error)
}

type QueryPlanner interface {
	SearchQueries(ctx context.Context, script string, captions []timeline.CaptionSegment) ([]services.TimedQuery, error)
}

type VideoLocator interface {
	LocateVideos(ctx context.Context, queries []services.TimedQuery, provider string) ([]timeline.VisualSegment, error)
}

type Renderer interface {
	Render(ctx context.Context, req render.Request) (*render.Result, error)
}

// StageError reports which stage of a run failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Production is everything a successful run produced.
type Production struct {
	Topic         string
	Script        string
	NarrationPath string
	Captions      []timeline.CaptionSegment
	Visuals       []timeline.VisualSegment
	Render        *render.Result
}

// Brief is what a caller asks a run for.
type Brief struct {
	Topic string
	// VideoServer overrides Producer.VideoServer when set.
	VideoServer string
}

// Producer runs the whole chain for a topic.
type Producer struct {
	Writer    ScriptWriter
	Narrator  services.TTSService
	Captioner CaptionTimer
	Planner   QueryPlanner
	Locator   VideoLocator
	Renderer  Renderer

	// VideoServer is the default footage provider; services.ProviderPexels when empty.
	VideoServer string
	// VoiceStyle is a delivery hint for narrators that support one.
	VoiceStyle string
}

// Produce turns the brief into a rendered video inside workDir. Stages run
// in order and the first failure ends the run with a *StageError.
func (p *Producer) Produce(ctx context.Context, brief Brief, workDir string, progress ProgressFunc) (*Production, error) {
	if progress == nil {
		progress = func(Stage, string) {}
	}
	topic := strings.TrimSpace(brief.Topic)
	if topic == "" {
		return nil, errors.New("topic is empty")
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	started := time.Now()
	prod := &Production{Topic: topic}
	provider := brief.VideoServer
	if provider == "" {
		provider = p.VideoServer
	}
	if provider == "" {
		provider = services.ProviderPexels
	}

	// 1. Script
	progress(StageScripting, "Creating a story with a moral from your text...")
	script, err := p.Writer.GenerateScript(ctx, topic)
	if err != nil {
		return nil, &StageError{Stage: StageScripting, Err: err}
	}
	prod.Script = script
	log.Printf("[Story] Script ready (%d words)", len(strings.Fields(script)))

	// 2. Narration
	progress(StageNarrating, "Generating narration audio for the story...")
	speech, err := p.Narrator.GenerateSpeech(ctx, script, p.VoiceStyle)
	if err != nil {
		return nil, &StageError{Stage: StageNarrating, Err: err}
	}
	prod.NarrationPath = filepath.Join(workDir, "narration."+services.SpeechFormat(speech.Format))
	if err := os.WriteFile(prod.NarrationPath, speech.AudioData, 0644); err != nil {
		return nil, &StageError{Stage: StageNarrating, Err: fmt.Errorf("failed to write narration: %w", err)}
	}
	log.Printf("[Story] Narration written to %s (%d bytes, ~%dms)", prod.NarrationPath, len(speech.AudioData), speech.DurationMs)

	// 3. Captions
	progress(StageCaptioning, "Generating captions...")
	prod.Captions, err = p.Captioner.TimedCaptions(ctx, prod.NarrationPath)
	if err != nil {
		return nil, &StageError{Stage: StageCaptioning, Err: err}
	}

	// 4. Search queries
	progress(StageSearching, "Generating video search queries...")
	queries, err := p.Planner.SearchQueries(ctx, script, prod.Captions)
	if err != nil {
		return nil, &StageError{Stage: StageSearching, Err: err}
	}

	// 5. Footage
	progress(StageLocating, "Locating background videos...")
	prod.Visuals, err = p.Locator.LocateVideos(ctx, queries, provider)
	if err != nil {
		return nil, &StageError{Stage: StageLocating, Err: err}
	}

	// 6. Render
	progress(StageRendering, "Rendering the video, please wait...")
	result, err := p.Renderer.Render(ctx, render.Request{
		NarrationPath: prod.NarrationPath,
		Captions:      prod.Captions,
		Visuals:       prod.Visuals,
		OutputDir:     workDir,
	})
	if err != nil {
		return nil, &StageError{Stage: StageRendering, Err: err}
	}
	if !result.Exists() {
		return nil, &StageError{Stage: StageRendering, Err: errors.New("video file was not found")}
	}
	prod.Render = result

	progress(StageDone, "Your video is ready.")
	log.Printf("[Story] Production complete in %s: %s", time.Since(started).Round(time.Millisecond), result.Path)
	return prod, nil
}
