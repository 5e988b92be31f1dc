// Package app builds the render pipeline and its collaborators from config.
package app

import (
	"fmt"
	"log"

	"github.com/bobarin/storyreel/internal/config"
	"github.com/bobarin/storyreel/internal/render"
	"github.com/bobarin/storyreel/internal/services"
	"github.com/bobarin/storyreel/internal/story"
)

// NewRenderer wires the ffmpeg-backed renderer.
func NewRenderer(cfg *config.Config) *render.Renderer {
	fetcher := render.NewHTTPFetcher(render.FetchOptions{
		Timeout:     cfg.FetchTimeout,
		Concurrency: cfg.FetchConcurrency,
		Attempts:    cfg.FetchAttempts,
	})
	return render.NewRenderer(
		fetcher,
		render.NewFFprobe(cfg.FFprobePath),
		render.NewLibassBackend(cfg.FFmpegPath),
		render.NewFFmpegEncoder(cfg.FFmpegPath, render.DefaultEncodeSettings()),
		render.Options{
			OutputDir:  cfg.OutputDir,
			WorkDir:    cfg.RenderWorkDir,
			Background: cfg.Background,
		},
	)
}

// NewProducer wires the topic-to-video chain. cfg must pass ValidateProduction.
func NewProducer(cfg *config.Config) (*story.Producer, error) {
	openaiSvc := services.NewOpenAIServiceWithBaseURL(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)

	var writer story.ScriptWriter
	switch cfg.ScriptProvider {
	case config.ProviderGemini:
		writer = services.NewGeminiService(cfg.GeminiKey, cfg.GeminiModel, "")
		log.Printf("Script provider: Gemini (model: %s)", cfg.GeminiModel)
	case config.ProviderOpenAI:
		writer = openaiSvc
		log.Printf("Script provider: OpenAI (model: %s)", cfg.OpenAIModel)
	default:
		return nil, fmt.Errorf("unknown script provider %q", cfg.ScriptProvider)
	}

	var narrator services.TTSService
	switch cfg.TTSProvider {
	case config.ProviderElevenLabs:
		narrator = services.NewElevenLabsService(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, "")
		log.Printf("TTS provider: ElevenLabs (voice: %s)", cfg.ElevenLabsVoiceID)
	case config.ProviderOpenAI:
		narrator = services.NewOpenAISpeech(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAITTSVoice, cfg.OpenAITTSFormat, 1.0)
		log.Printf("TTS provider: OpenAI (voice: %s, format: %s)", cfg.OpenAITTSVoice, cfg.OpenAITTSFormat)
	default:
		return nil, fmt.Errorf("unknown TTS provider %q", cfg.TTSProvider)
	}

	return &story.Producer{
		Writer:      writer,
		Narrator:    narrator,
		Captioner:   openaiSvc,
		Planner:     openaiSvc,
		Locator:     services.NewPexelsService(cfg.PexelsKey, ""),
		Renderer:    NewRenderer(cfg),
		VideoServer: cfg.VideoServer,
	}, nil
}
