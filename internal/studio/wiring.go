package studio

import (
	"context"
	"log/slog"
	"net/http"

	"lynchvision/internal/config"
	"lynchvision/internal/gemini"
	"lynchvision/internal/metrics"
	"lynchvision/internal/proxy"
)

// FromConfig builds a studio with the Gemini backend and image proxy the
// configuration selects.
func FromConfig(ctx context.Context, cfg config.Config, httpClient *http.Client, m *metrics.Collector, logger *slog.Logger) (*Studio, error) {
	opts := Options{
		Config:  cfg,
		Metrics: m,
		Logger:  logger,
		Proxy: proxy.New(proxy.Options{
			APIKey:     cfg.ProxyAPIKey,
			BaseURL:    cfg.ProxyBaseURL,
			HTTPClient: httpClient,
			Logger:     logger,
		}),
	}

	switch cfg.GeminiBackend {
	case config.BackendVertex:
		if err := cfg.RequireVertex(); err != nil {
			return nil, err
		}
		sdk, err := gemini.NewSDK(ctx, gemini.SDKOptions{
			Project:    cfg.VertexProject,
			Location:   cfg.VertexLocation,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		opts.Gemini = func(string) Model { return sdk }
		opts.Keyless = true
	default:
		rest := gemini.New(gemini.Options{
			APIKey:     cfg.GeminiAPIKey,
			BaseURL:    cfg.GeminiBaseURL,
			APIVersion: cfg.GeminiAPIVersion,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		opts.Gemini = func(key string) Model { return rest.WithAPIKey(key) }
	}

	return New(opts), nil
}
