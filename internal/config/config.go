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
	BackendAPIKey      string // empty = no auth, dev mode
	CorsAllowedOrigins string // comma-separated, empty = *

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Supabase
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// Unsplash (image sourcing)
	UnsplashAccessKey string
	UnsplashURL       string

	// OpenAI (scripts and openai-tts narration)
	OpenAIKey      string
	OpenAIBaseURL  string
	OpenAITTSVoice string

	// Gemini (scripts and gemini-tts narration)
	GeminiKey     string
	GeminiBaseURL string

	// ScriptProvider picks the script writer: openai or gemini.
	ScriptProvider string

	// D-ID (talking-avatar narration)
	DIDKey          string
	DIDURL          string
	DIDPollInterval time.Duration
	DIDMaxAttempts  int

	// Rendering
	WorkDir              string
	FFmpegPath           string
	FFprobePath          string
	RenderConfigPath     string
	MaxConcurrentEncodes int64
	ClipConcurrency      int
	NarrationFallback    bool
	MotionSeed           int64
	KeepWorkspace        bool

	// Worker
	MaxConcurrentJobs int
	UploadSlots       int
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:               getEnv("PORT", getEnv("API_PORT", "8080")),
		WorkerEnabled:         getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:         getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379"),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "storyreel-videos"),
		UnsplashAccessKey:     getEnv("UNSPLASH_ACCESS_KEY", ""),
		UnsplashURL:           getEnv("UNSPLASH_API_URL", "https://api.unsplash.com"),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", ""),
		OpenAITTSVoice:        getEnv("OPENAI_TTS_VOICE", "alloy"),
		GeminiKey:             getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:         getEnv("GEMINI_BASE_URL", ""),
		ScriptProvider:        getEnv("SCRIPT_PROVIDER", "openai"),
		DIDKey:                getEnv("DID_API_KEY", ""),
		DIDURL:                getEnv("DID_API_URL", "https://api.d-id.com"),
		DIDPollInterval:       getEnvDuration("DID_POLL_INTERVAL", 2*time.Second),
		DIDMaxAttempts:        getEnvInt("DID_MAX_ATTEMPTS", 30),
		WorkDir:               getEnv("WORK_DIR", "/tmp/storyreel"),
		FFmpegPath:            getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:           getEnv("FFPROBE_PATH", "ffprobe"),
		RenderConfigPath:      getEnv("RENDER_CONFIG_PATH", "config/render.yaml"),
		MaxConcurrentEncodes:  getEnvInt64("MAX_CONCURRENT_ENCODES", 2),
		ClipConcurrency:       getEnvInt("CLIP_CONCURRENCY", 1),
		NarrationFallback:     getEnvBool("NARRATION_FALLBACK", true),
		MotionSeed:            getEnvInt64("MOTION_SEED", 0),
		KeepWorkspace:         getEnvBool("KEEP_WORKSPACE", false),
		MaxConcurrentJobs:     getEnvInt("MAX_CONCURRENT_JOBS", 2),
		UploadSlots:           getEnvInt("UPLOAD_SLOTS", 2),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
	}

	if c.UnsplashAccessKey == "" {
		return fmt.Errorf("UNSPLASH_ACCESS_KEY is required")
	}

	switch c.ScriptProvider {
	case "openai":
		if c.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when SCRIPT_PROVIDER=openai")
		}
	case "gemini":
		if c.GeminiKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when SCRIPT_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("SCRIPT_PROVIDER must be openai or gemini, got %q", c.ScriptProvider)
	}

	if c.DIDMaxAttempts < 1 {
		return fmt.Errorf("DID_MAX_ATTEMPTS must be at least 1")
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("2s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
