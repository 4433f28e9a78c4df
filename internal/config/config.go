package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendREST   = "rest"
	BackendVertex = "vertex"
)

type Config struct {
	GeminiAPIKey string
	ProxyAPIKey  string

	GeminiBackend    string
	GeminiBaseURL    string
	GeminiAPIVersion string
	GeminiTextModel  string
	GeminiImageModel string
	GeminiImageSize  string
	VertexProject    string
	VertexLocation   string

	ProxyBaseURL        string
	ProxyImageSize      string
	ProxyGuidanceScale  float64
	ProxyInferenceSteps int

	PollInterval    time.Duration
	PollMaxAttempts int
	RenderWorkers   int
	RenderPerMinute int

	HTTPTimeout    time.Duration
	RequestTimeout time.Duration
	RunTimeout     time.Duration
	PreferIPv4     bool

	WebAddr        string
	SessionTTL     time.Duration
	MaxUploadBytes int64

	TelegramToken string
	MaxConcurrent int

	LogLevel string
	Debug    bool
}

func Load() (Config, error) {
	cfg := Config{
		GeminiAPIKey: strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		ProxyAPIKey:  strings.TrimSpace(os.Getenv("PROXY_API_KEY")),

		GeminiBackend:    strings.ToLower(getEnv("GEMINI_BACKEND", BackendREST)),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		GeminiAPIVersion: getEnv("GEMINI_API_VERSION", "v1beta"),
		GeminiTextModel:  getEnv("GEMINI_TEXT_MODEL", "gemini-2.5-flash"),
		GeminiImageModel: getEnv("GEMINI_IMAGE_MODEL", "gemini-3-pro-image-preview"),
		GeminiImageSize:  getEnv("GEMINI_IMAGE_SIZE", "2K"),
		VertexProject:    getEnv("VERTEX_PROJECT", ""),
		VertexLocation:   getEnv("VERTEX_LOCATION", "us-central1"),

		ProxyBaseURL:        strings.TrimRight(getEnv("PROXY_BASE_URL", ""), "/"),
		ProxyImageSize:      getEnv("PROXY_IMAGE_SIZE", "2K"),
		ProxyGuidanceScale:  getEnvFloat("PROXY_GUIDANCE_SCALE", 7.5),
		ProxyInferenceSteps: getEnvInt("PROXY_INFERENCE_STEPS", 30),

		PollInterval:    time.Duration(getEnvInt("POLL_INTERVAL_MS", 2000)) * time.Millisecond,
		PollMaxAttempts: getEnvInt("POLL_MAX_ATTEMPTS", 30),
		RenderWorkers:   getEnvInt("RENDER_WORKERS", 3),
		RenderPerMinute: getEnvInt("RENDER_RATE_PER_MINUTE", 0),

		HTTPTimeout:    time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 180)) * time.Second,
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 240)) * time.Second,
		RunTimeout:     time.Duration(getEnvInt("RUN_TIMEOUT_SECONDS", 600)) * time.Second,
		PreferIPv4:     getEnvBool("PREFER_IPV4", true),

		WebAddr:        getEnv("WEB_ADDR", ":8080"),
		SessionTTL:     time.Duration(getEnvInt("SESSION_TTL_MINUTES", 120)) * time.Minute,
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_MB", 25)) << 20,

		TelegramToken: strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		MaxConcurrent: getEnvInt("MAX_CONCURRENT", 4),

		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Debug:    getEnvBool("DEBUG", false),
	}

	switch cfg.GeminiBackend {
	case BackendREST, BackendVertex:
	default:
		return Config{}, errors.New("GEMINI_BACKEND must be \"rest\" or \"vertex\"")
	}

	if cfg.ProxyGuidanceScale <= 0 {
		cfg.ProxyGuidanceScale = 7.5
	}
	if cfg.ProxyInferenceSteps < 1 {
		cfg.ProxyInferenceSteps = 30
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollMaxAttempts < 1 {
		cfg.PollMaxAttempts = 30
	}
	if cfg.RenderWorkers < 1 {
		cfg.RenderWorkers = 3
	}
	if cfg.RenderPerMinute < 0 {
		cfg.RenderPerMinute = 0
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 240 * time.Second
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 600 * time.Second
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 120 * time.Minute
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 25 << 20
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}

	return cfg, nil
}

// RequireTelegram reports whether the bot entrypoint can start.
func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}

func (c Config) RequireVertex() error {
	if c.GeminiBackend == BackendVertex && c.VertexProject == "" {
		return errors.New("VERTEX_PROJECT is required for the vertex backend")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
