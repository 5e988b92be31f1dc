package services

import (
	"bytes"
	"context"
)

// ---------------------------------------------------------------------------
// TTSService is the common interface for text-to-speech providers.
// OpenAI and ElevenLabs both implement it so the story producer can narrate
// with whichever is configured.
// ---------------------------------------------------------------------------

// TTSResponse is the common response type from any TTS provider.
type TTSResponse struct {
	AudioData  []byte
	DurationMs int    // estimate; the renderer probes the real length
	Format     string // "mp3", "wav", etc.
}

// TTSService is the interface that any TTS provider must implement.
type TTSService interface {
	// GenerateSpeech converts text to audio. voiceStyle is a human-readable
	// delivery hint ("slow and warm"); providers may ignore it.
	GenerateSpeech(ctx context.Context, text, voiceStyle string) (*TTSResponse, error)
}

// estimateAudioDuration estimates duration based on text length and speed.
// Narration runs at roughly 140 words per minute at speed 1.0.
func estimateAudioDuration(text string, speed float64) int {
	if speed <= 0 {
		speed = 1.0
	}
	words := len(bytes.Fields([]byte(text)))
	actualWPM := 140.0 * speed
	minutes := float64(words) / actualWPM
	return int(minutes * 60 * 1000)
}
