package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"GEMINI_BACKEND", "POLL_INTERVAL_MS", "POLL_MAX_ATTEMPTS", "RENDER_WORKERS",
		"PROXY_BASE_URL", "TELEGRAM_BOT_TOKEN", "GEMINI_TEXT_MODEL",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendREST, cfg.GeminiBackend)
	assert.Equal(t, "gemini-2.5-flash", cfg.GeminiTextModel)
	assert.Equal(t, "gemini-3-pro-image-preview", cfg.GeminiImageModel)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 30, cfg.PollMaxAttempts)
	assert.Equal(t, 3, cfg.RenderWorkers)
	assert.Equal(t, int64(25<<20), cfg.MaxUploadBytes)
	assert.Error(t, cfg.RequireTelegram())
}

func TestLoadOverridesAndClamps(t *testing.T) {
	t.Setenv("POLL_INTERVAL_MS", "250")
	t.Setenv("POLL_MAX_ATTEMPTS", "0")
	t.Setenv("RENDER_WORKERS", "not-a-number")
	t.Setenv("PROXY_BASE_URL", "https://proxy.example.com/")
	t.Setenv("PROXY_GUIDANCE_SCALE", "-1")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 30, cfg.PollMaxAttempts)
	assert.Equal(t, 3, cfg.RenderWorkers)
	assert.Equal(t, "https://proxy.example.com", cfg.ProxyBaseURL)
	assert.Equal(t, 7.5, cfg.ProxyGuidanceScale)
	assert.NoError(t, cfg.RequireTelegram())
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("GEMINI_BACKEND", "grpc")

	_, err := Load()
	assert.Error(t, err)
}

func TestRequireVertex(t *testing.T) {
	t.Setenv("GEMINI_BACKEND", "vertex")
	t.Setenv("VERTEX_PROJECT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Error(t, cfg.RequireVertex())

	cfg.VertexProject = "demo"
	assert.NoError(t, cfg.RequireVertex())
}
