package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string
	AutoMigrate bool

	// Redis
	RedisURL string

	// Object storage
	StorageBackend        string // "supabase" or "s3"
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string
	S3Bucket              string
	S3Region              string
	S3Endpoint            string

	// OpenAI (script, captions, search queries, TTS)
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	// Script provider: "openai" or "gemini"
	ScriptProvider string
	GeminiKey      string
	GeminiModel    string

	// TTS provider: "openai" or "elevenlabs"
	TTSProvider       string
	OpenAITTSVoice    string
	OpenAITTSFormat   string
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	// Footage
	PexelsKey   string
	VideoServer string

	// Rendering
	RenderWorkDir    string
	OutputDir        string
	FFmpegPath       string
	FFprobePath      string
	FetchTimeout     time.Duration
	FetchConcurrency int
	FetchAttempts    int
	Background       string

	// Worker
	MaxConcurrentJobs int
}

const (
	ProviderOpenAI     = "openai"
	ProviderGemini     = "gemini"
	ProviderElevenLabs = "elevenlabs"
)

// Load reads the environment (and .env when present). It does not validate;
// callers pick the checks for what they run.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	fetchTimeout, err := getEnvDuration("FETCH_TIMEOUT", 20*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		APIPort:               getEnv("API_PORT", "8080"),
		WorkerEnabled:         getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:         getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		AutoMigrate:           getEnvBool("AUTO_MIGRATE", true),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379"),
		StorageBackend:        getEnv("STORAGE_BACKEND", "supabase"),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "storyreel-videos"),
		S3Bucket:              getEnv("S3_BUCKET", ""),
		S3Region:              getEnv("S3_REGION", ""),
		S3Endpoint:            getEnv("S3_ENDPOINT", ""),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:           getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		ScriptProvider:        getEnv("SCRIPT_PROVIDER", ProviderOpenAI),
		GeminiKey:             getEnv("GEMINI_API_KEY", ""),
		GeminiModel:           getEnv("GEMINI_MODEL", ""),
		TTSProvider:           getEnv("TTS_PROVIDER", ProviderOpenAI),
		OpenAITTSVoice:        getEnv("OPENAI_TTS_VOICE", "echo"),
		OpenAITTSFormat:       getEnv("OPENAI_TTS_FORMAT", "mp3"),
		ElevenLabsKey:         getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID:     getEnv("ELEVENLABS_VOICE_ID", ""),
		PexelsKey:             getEnv("PEXELS_API_KEY", ""),
		VideoServer:           getEnv("VIDEO_SERVER", "pexel"),
		RenderWorkDir:         getEnv("RENDER_WORK_DIR", "/tmp/storyreel"),
		OutputDir:             getEnv("OUTPUT_DIR", "."),
		FFmpegPath:            getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:           getEnv("FFPROBE_PATH", "ffprobe"),
		FetchTimeout:          fetchTimeout,
		FetchConcurrency:      getEnvInt("FETCH_CONCURRENCY", 4),
		FetchAttempts:         getEnvInt("FETCH_ATTEMPTS", 2),
		Background:            getEnv("RENDER_BACKGROUND", "black"),
		MaxConcurrentJobs:     getEnvInt("MAX_CONCURRENT_JOBS", 2),
	}

	return cfg, nil
}

// ValidateService checks what the API server and worker need.
func (c *Config) ValidateService() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	switch c.StorageBackend {
	case "supabase":
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be supabase or s3, got %q", c.StorageBackend)
	}

	if c.WorkerEnabled {
		return c.ValidateProduction()
	}
	return nil
}

// ValidateProduction checks what a topic-to-video run needs.
func (c *Config) ValidateProduction() error {
	// Captions and search queries always go through OpenAI.
	if c.OpenAIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.PexelsKey == "" {
		return fmt.Errorf("PEXELS_API_KEY is required")
	}

	switch c.ScriptProvider {
	case ProviderOpenAI:
	case ProviderGemini:
		if c.GeminiKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when SCRIPT_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("SCRIPT_PROVIDER must be openai or gemini, got %q", c.ScriptProvider)
	}

	switch c.TTSProvider {
	case ProviderOpenAI:
	case ProviderElevenLabs:
		if c.ElevenLabsKey == "" || c.ElevenLabsVoiceID == "" {
			return fmt.Errorf("ELEVENLABS_API_KEY and ELEVENLABS_VOICE_ID are required when TTS_PROVIDER=elevenlabs")
		}
	default:
		return fmt.Errorf("TTS_PROVIDER must be openai or elevenlabs, got %q", c.TTSProvider)
	}

	return c.ValidateRender()
}

// ValidateRender checks the render-only settings.
func (c *Config) ValidateRender() error {
	if c.FetchConcurrency < 1 {
		return fmt.Errorf("FETCH_CONCURRENCY must be at least 1")
	}
	if c.FetchAttempts < 1 {
		return fmt.Errorf("FETCH_ATTEMPTS must be at least 1")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("20s") or plain seconds ("20").
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("%s: invalid duration %q", key, value)
}
