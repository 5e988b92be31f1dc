package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultSpeechVoice  = "echo"
	defaultSpeechFormat = "mp3"
)

// OpenAISpeech narrates text with the OpenAI tts-1 model.
type OpenAISpeech struct {
	client *openai.Client
	voice  string
	format string
	speed  float64
}

var _ TTSService = (*OpenAISpeech)(nil)

// NewOpenAISpeech builds a narrator. Empty voice means echo; format is one of
// mp3, wav, opus, flac, aac and anything else falls back to mp3.
func NewOpenAISpeech(apiKey, baseURL, voice, format string, speed float64) *OpenAISpeech {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if voice == "" {
		voice = defaultSpeechVoice
	}
	if speed <= 0 {
		speed = 1.0
	}
	return &OpenAISpeech{
		client: openai.NewClientWithConfig(cfg),
		voice:  voice,
		format: SpeechFormat(format),
		speed:  speed,
	}
}

// SpeechFormat normalizes a file extension or format name to one the speech
// endpoint accepts.
func SpeechFormat(name string) string {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "."))
	switch name {
	case "mp3", "wav", "opus", "flac", "aac":
		return name
	default:
		return defaultSpeechFormat
	}
}

// GenerateSpeech implements TTSService. voiceStyle is ignored; tts-1 has no
// delivery instructions.
func (s *OpenAISpeech) GenerateSpeech(ctx context.Context, text, voiceStyle string) (*TTSResponse, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("nothing to narrate")
	}

	log.Printf("[OpenAI TTS] Generating speech (voice=%s, format=%s, textLen=%d, speed=%.2f)",
		s.voice, s.format, len(text), s.speed)

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          openai.SpeechVoice(s.voice),
		ResponseFormat: openai.SpeechResponseFormat(s.format),
		Speed:          s.speed,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech request failed: %w", err)
	}
	defer resp.Close()

	audioData, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read speech audio: %w", err)
	}
	if len(audioData) == 0 {
		return nil, fmt.Errorf("openai returned empty audio")
	}

	durationMs := estimateAudioDuration(text, s.speed)
	log.Printf("[OpenAI TTS] Speech generated (%d bytes, estimated %dms)", len(audioData), durationMs)

	return &TTSResponse{
		AudioData:  audioData,
		DurationMs: durationMs,
		Format:     s.format,
	}, nil
}
