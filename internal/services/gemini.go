package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Gemini script generation
// Alternate story writer using the Google Gen AI SDK in JSON mode. Same
// prompt and output contract as the OpenAI writer.
// ---------------------------------------------------------------------------

const defaultGeminiModel = "gemini-2.5-flash"

type GeminiService struct {
	apiKey  string
	model   string
	baseURL string
}

// NewGeminiService creates a Gemini story writer. baseURL is only set for
// proxies and tests.
func NewGeminiService(apiKey, model, baseURL string) *GeminiService {
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiService{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
	}
}

// GenerateScript writes a short story with a moral inspired by topic.
func (s *GeminiService) GenerateScript(ctx context.Context, topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", errors.New("topic is empty")
	}

	cfg := &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if s.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: s.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("failed to create genai client: %w", err)
	}

	log.Printf("[Gemini script] Generating story (model=%s, topicLen=%d)", s.model, len(topic))

	resp, err := client.Models.GenerateContent(ctx, s.model, genai.Text(topic), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(scriptSystemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	content := resp.Text()
	script, err := parseScript(content)
	if err != nil {
		log.Printf("[Gemini script] parse failed: %v", err)
		log.Printf("[Gemini script] raw response: %s", truncateString(content, maxLogLen))
		return "", err
	}

	log.Printf("[Gemini script] Story generated (%d words)", len(strings.Fields(script)))
	return script, nil
}
