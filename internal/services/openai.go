package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/bobarin/storyreel/internal/timeline"
	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultChatModel = "gpt-4o-mini"
	maxLogLen        = 2000
)

// ErrNoScript means the model answered without a usable story.
var ErrNoScript = errors.New("no script in model response")

type OpenAIService struct {
	client *openai.Client
	model  string
}

func NewOpenAIService(apiKey string) *OpenAIService {
	return &OpenAIService{
		client: openai.NewClient(apiKey),
		model:  defaultChatModel,
	}
}

// NewOpenAIServiceWithBaseURL points the client at an OpenAI-compatible
// endpoint (a proxy, or a test server).
func NewOpenAIServiceWithBaseURL(apiKey, baseURL, model string) *OpenAIService {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = defaultChatModel
	}
	return &OpenAIService{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// ---------------------------------------------------------------------------
// Script generation
// ---------------------------------------------------------------------------

// GenerateScript writes a short story with a moral inspired by topic. The
// topic may be in any language; the story comes back in English.
func (s *OpenAIService) GenerateScript(ctx context.Context, topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", errors.New("topic is empty")
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: scriptSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: topic},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	content := resp.Choices[0].Message.Content
	script, err := parseScript(content)
	if err != nil {
		log.Printf("[OpenAI script] parse failed: %v", err)
		log.Printf("[OpenAI script] raw response: %s", truncateString(content, maxLogLen))
		return "", err
	}

	log.Printf("[OpenAI script] Story generated (%d words)", len(strings.Fields(script)))
	return script, nil
}

// parseScript reads {"script": "..."} from a model answer. Models sometimes
// wrap the object in prose or code fences, so the outermost {...} is tried
// when the whole answer does not parse.
func parseScript(content string) (string, error) {
	var out struct {
		Script string `json:"script"`
	}

	content = strings.TrimSpace(content)
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		obj, ok := extractJSONObject(content)
		if !ok {
			return "", fmt.Errorf("%w: could not find JSON object", ErrNoScript)
		}
		if err := json.Unmarshal([]byte(obj), &out); err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoScript, err)
		}
	}

	script := strings.TrimSpace(out.Script)
	if script == "" {
		return "", fmt.Errorf("%w: script field is empty", ErrNoScript)
	}
	return script, nil
}

// extractJSONObject returns the text between the first '{' and the last '}'.
func extractJSONObject(content string) (string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return content[start : end+1], true
}

const scriptSystemPrompt = `You are a creative storyteller who specializes in short, impactful stories with a moral.
Each story is one continuous narrative of fewer than 140 words, engaging, original and meaningful from start to finish.

The user gives you a phrase or text, possibly in Sanskrit or another language. Understand its meaning and write a short story inspired by it.
The story must flow smoothly, have a clear beginning, middle and end, and close on a memorable moral or twist. Write it in English.

For example, for "A lost dog finds its way home" you would produce:

{"script": "Once upon a rainy evening, Max, a little brown dog, wandered far from home. He braved busy streets and dark alleys, guided only by the faint scent of his favorite blanket. Just as hope seemed lost, a kind stranger noticed Max's collar and led him back to his worried family. That night, Max curled up, safe and sound, proving that even the smallest hearts can find their way home."}

The story is read aloud as narration, so write it to be listened to: short sentences, natural rhythm, no lists or headings.

Output only a parsable JSON object with the single key "script".`

// ---------------------------------------------------------------------------
// Whisper transcription: word-level timestamps for captions
// ---------------------------------------------------------------------------

// WordTimestamp is a single spoken word with its timing from Whisper.
type WordTimestamp struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
}

// TranscribeWords sends the narration file to Whisper and returns word-level
// timestamps.
func (s *OpenAIService) TranscribeWords(ctx context.Context, audioPath string) ([]WordTimestamp, error) {
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	if len(resp.Words) == 0 {
		return nil, fmt.Errorf("whisper returned no word timestamps (text: %q)", resp.Text)
	}

	words := make([]WordTimestamp, 0, len(resp.Words))
	for _, w := range resp.Words {
		text := strings.TrimSpace(w.Word)
		if text == "" {
			continue
		}
		words = append(words, WordTimestamp{Word: text, Start: w.Start, End: w.End})
	}

	log.Printf("[Whisper] Transcribed %d words (duration: %.1fs, text: %q)",
		len(words), resp.Duration, truncateString(resp.Text, 80))

	return words, nil
}

// TimedCaptions transcribes the narration and groups its words into short
// caption lines.
func (s *OpenAIService) TimedCaptions(ctx context.Context, audioPath string) ([]timeline.CaptionSegment, error) {
	words, err := s.TranscribeWords(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	captions := GroupCaptions(words, DefaultCaptionChars)
	if err := timeline.ValidateCaptions(captions); err != nil {
		return nil, fmt.Errorf("whisper timings: %w", err)
	}
	return captions, nil
}

// DefaultCaptionChars keeps each caption line short enough to read at a glance.
const DefaultCaptionChars = 15

// minCaptionDuration stretches captions whose words Whisper timed at zero length.
const minCaptionDuration = 0.1

// GroupCaptions packs consecutive words into lines of at most maxChars
// characters (a single longer word gets a line of its own). Each caption runs
// from its first word's start to its last word's end.
func GroupCaptions(words []WordTimestamp, maxChars int) []timeline.CaptionSegment {
	if maxChars <= 0 {
		maxChars = DefaultCaptionChars
	}

	var captions []timeline.CaptionSegment
	var line []WordTimestamp
	lineLen := 0

	flush := func() {
		if len(line) == 0 {
			return
		}
		texts := make([]string, len(line))
		for i, w := range line {
			texts[i] = w.Word
		}
		start := line[0].Start
		if start < 0 {
			start = 0
		}
		end := line[len(line)-1].End
		if end-start < minCaptionDuration {
			end = start + minCaptionDuration
		}
		captions = append(captions, timeline.CaptionSegment{
			Interval: timeline.Interval{Start: start, End: end},
			Text:     strings.Join(texts, " "),
		})
		line = line[:0]
		lineLen = 0
	}

	for _, w := range words {
		added := len(w.Word)
		if len(line) > 0 {
			added++ // space
		}
		if len(line) > 0 && lineLen+added > maxChars {
			flush()
			added = len(w.Word)
		}
		line = append(line, w)
		lineLen += added
	}
	flush()

	return captions
}

// ---------------------------------------------------------------------------
// Search query generation
// ---------------------------------------------------------------------------

// TimedQuery is the footage search plan for one interval: terms in order of
// preference.
type TimedQuery struct {
	timeline.Interval
	Terms []string `json:"keywords"`
}

// SearchQueries asks the model for visually concrete stock-footage keywords
// covering the narration, interval by interval.
func (s *OpenAIService) SearchQueries(ctx context.Context, script string, captions []timeline.CaptionSegment) ([]TimedQuery, error) {
	if len(captions) == 0 {
		return nil, errors.New("no captions to plan footage for")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Script: %s\n\nTimed captions:\n", script)
	for _, c := range captions {
		fmt.Fprintf(&sb, "[%.2f, %.2f] %s\n", c.Start, c.End, c.Text)
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: searchQuerySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: sb.String()},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	content := resp.Choices[0].Message.Content
	queries, err := parseQueries(content, captions[len(captions)-1].End)
	if err != nil {
		log.Printf("[OpenAI queries] raw response: %s", truncateString(content, maxLogLen))
		return nil, err
	}

	log.Printf("[OpenAI queries] %d timed queries generated", len(queries))
	return queries, nil
}

// parseQueries reads {"segments": [{start, end, keywords}]}. Segments with
// bad bounds or no keywords are dropped; the rest are sorted and clipped so
// they never overlap and never run past limit.
func parseQueries(content string, limit float64) ([]TimedQuery, error) {
	var out struct {
		Segments []struct {
			Start    float64  `json:"start"`
			End      float64  `json:"end"`
			Keywords []string `json:"keywords"`
		} `json:"segments"`
	}

	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out); err != nil {
		obj, ok := extractJSONObject(content)
		if !ok {
			return nil, fmt.Errorf("failed to parse search queries: %w", err)
		}
		if err := json.Unmarshal([]byte(obj), &out); err != nil {
			return nil, fmt.Errorf("failed to parse search queries: %w", err)
		}
	}

	queries := make([]TimedQuery, 0, len(out.Segments))
	for _, seg := range out.Segments {
		var terms []string
		for _, k := range seg.Keywords {
			if k = strings.TrimSpace(k); k != "" {
				terms = append(terms, k)
			}
		}
		if len(terms) == 0 {
			continue
		}
		queries = append(queries, TimedQuery{
			Interval: timeline.Interval{Start: seg.Start, End: seg.End},
			Terms:    terms,
		})
	}
	sort.SliceStable(queries, func(i, j int) bool { return queries[i].Start < queries[j].Start })

	cleaned := queries[:0]
	cursor := 0.0
	for _, q := range queries {
		if q.Start < cursor {
			q.Start = cursor
		}
		if limit > 0 && q.End > limit {
			q.End = limit
		}
		if q.Validate() != nil {
			continue
		}
		cleaned = append(cleaned, q)
		cursor = q.End
	}

	if len(cleaned) == 0 {
		return nil, errors.New("model returned no usable search segments")
	}
	return cleaned, nil
}

const searchQuerySystemPrompt = `You pick background stock footage for a narrated short video.

Given the script and its timed captions, split the narration into consecutive time segments of roughly 2 to 4 seconds that together cover the whole narration, and give each segment 3 search keywords for a stock video site.

Rules:
- Keywords must be visually concrete: things a camera can film ("rainy city street", "old man reading"), never abstract ideas ("hope", "wisdom").
- Each keyword is 1 to 3 words, in English, most specific first.
- Segment times are in seconds, taken from the captions, ordered and not overlapping.

Output only a JSON object of the form:
{"segments": [{"start": 0.0, "end": 2.8, "keywords": ["rainy street", "umbrella crowd", "city night"]}]}`

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
