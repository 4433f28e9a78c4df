// Package studio runs a production: the director writes prompts from the
// reference image, then a renderer turns them into images.
package studio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"lynchvision/internal/config"
	"lynchvision/internal/director"
	"lynchvision/internal/imaging"
	"lynchvision/internal/metrics"
	"lynchvision/internal/proxy"
	"lynchvision/internal/render"
)

var (
	ErrMissingGeminiKey = errors.New("a Google API key is required")
	ErrMissingProxyKey  = errors.New("an image proxy API key is required")
	ErrMissingImage     = errors.New("a reference image is required")
)

type Stage string

const (
	StageDirecting Stage = "directing"
	StageRendering Stage = "rendering"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
)

const (
	RendererAuto   = ""
	RendererDirect = "direct"
	RendererProxy  = "proxy"
)

// Model is what a Gemini backend must offer the pipeline.
type Model interface {
	director.TextModel
	render.ImageModel
}

// ModelFunc returns the backend to use for a caller-supplied key.
type ModelFunc func(apiKey string) Model

type Keys struct {
	Gemini string
	Proxy  string
}

type Options struct {
	Config config.Config
	Gemini ModelFunc
	// Keyless is set when the Gemini backend authenticates on its own, as
	// Vertex AI does with application default credentials.
	Keyless bool
	Proxy   *proxy.Client
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

type Studio struct {
	cfg     config.Config
	gemini  ModelFunc
	keyless bool
	proxy   *proxy.Client
	metrics *metrics.Collector
	logger  *slog.Logger

	director   *director.Director
	direct     *render.Direct
	proxied    *render.Proxied
	dispatcher *render.Dispatcher
}

func New(opts Options) *Studio {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg := opts.Config

	var limiter *rate.Limiter
	if cfg.RenderPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RenderPerMinute)), 1)
	}

	return &Studio{
		cfg:     cfg,
		gemini:  opts.Gemini,
		keyless: opts.Keyless,
		proxy:   opts.Proxy,
		metrics: opts.Metrics,
		logger:  logger,
		director: director.New(director.Options{
			TextModelName: cfg.GeminiTextModel,
			Logger:        logger,
		}),
		direct: render.NewDirect(render.DirectOptions{
			ModelName: cfg.GeminiImageModel,
			ImageSize: cfg.GeminiImageSize,
			Logger:    logger,
		}),
		proxied: render.NewProxied(render.ProxiedOptions{
			Size:          cfg.ProxyImageSize,
			GuidanceScale: cfg.ProxyGuidanceScale,
			Steps:         cfg.ProxyInferenceSteps,
			PollInterval:  cfg.PollInterval,
			MaxAttempts:   cfg.PollMaxAttempts,
			Logger:        logger,
		}),
		dispatcher: render.NewDispatcher(render.DispatcherOptions{
			Workers: cfg.RenderWorkers,
			Limiter: limiter,
			Logger:  logger,
		}),
	}
}

// ResolveKeys prefers keys supplied by the caller over configured ones.
func (s *Studio) ResolveKeys(user Keys) Keys {
	keys := Keys{Gemini: strings.TrimSpace(user.Gemini), Proxy: strings.TrimSpace(user.Proxy)}
	if keys.Gemini == "" {
		keys.Gemini = s.cfg.GeminiAPIKey
	}
	if keys.Proxy == "" {
		keys.Proxy = s.cfg.ProxyAPIKey
	}
	return keys
}

// Validate reports missing inputs before any network call is made.
func (s *Studio) Validate(keys Keys, ref imaging.Reference) error {
	if keys.Gemini == "" && !s.keyless {
		return ErrMissingGeminiKey
	}
	if ref.Empty() {
		return ErrMissingImage
	}
	return nil
}

// ProxyAvailable reports whether grid renders can go through the proxy.
func (s *Studio) ProxyAvailable(keys Keys) bool {
	return s.proxy != nil && s.proxy.Configured() && keys.Proxy != ""
}

type ShotInput struct {
	Keys      Keys
	Reference imaging.Reference
	Scene     string
	Aspect    render.AspectRatio
	OnStage   func(Stage)
}

type ShotResult struct {
	Prompt string
	Image  []byte
	PNG    []byte
}

func (s *Studio) Shot(ctx context.Context, in ShotInput) (ShotResult, error) {
	keys := s.ResolveKeys(in.Keys)
	if err := s.Validate(keys, in.Reference); err != nil {
		return ShotResult{}, err
	}
	notify := stageNotifier(in.OnStage)

	ctx, cancel := s.withRequestTimeout(ctx)
	defer cancel()

	model := s.model(keys.Gemini)
	logger := s.logger.With("mode", director.ModeShot)

	notify(StageDirecting)
	prompt, err := s.director.WithModel(model).Shot(ctx, in.Reference, in.Scene)
	s.metrics.RecordPrompt(string(director.ModeShot), err)
	if err != nil {
		notify(StageFailed)
		return ShotResult{}, err
	}

	notify(StageRendering)
	start := time.Now()
	data, err := s.direct.WithModel(model).Render(ctx, prompt, in.Reference, in.Aspect)
	status := render.StatusCompleted
	if err != nil {
		status = render.StatusFailed
	}
	s.metrics.RecordRender(RendererDirect, string(status), time.Since(start))
	if err != nil {
		notify(StageFailed)
		return ShotResult{Prompt: prompt}, err
	}

	png, err := imaging.ToPNG(data)
	if err != nil {
		notify(StageFailed)
		return ShotResult{Prompt: prompt}, fmt.Errorf("encode png: %w", err)
	}

	notify(StageDone)
	logger.Info("shot produced", "bytes", len(png), "dur_ms", time.Since(start).Milliseconds())
	return ShotResult{Prompt: prompt, Image: data, PNG: png}, nil
}

type GridInput struct {
	Keys      Keys
	Reference imaging.Reference
	Scene     string
	Aspect    render.AspectRatio
	// Renderer forces a renderer; empty picks the proxy when a key is set.
	Renderer   string
	OnStage    func(Stage)
	OnPrompts  func(prompts []string)
	OnProgress render.ProgressFunc
}

type GridResult struct {
	Prompts  []string
	Outcomes []render.Outcome
	Images   [][]byte
	Present  int
	Renderer string
}

func (s *Studio) Grid(ctx context.Context, in GridInput) (GridResult, error) {
	keys := s.ResolveKeys(in.Keys)
	if err := s.Validate(keys, in.Reference); err != nil {
		return GridResult{}, err
	}
	renderer, err := s.PickRenderer(keys, in.Renderer)
	if err != nil {
		return GridResult{}, err
	}
	notify := stageNotifier(in.OnStage)
	model := s.model(keys.Gemini)

	notify(StageDirecting)
	promptCtx, cancel := s.withRequestTimeout(ctx)
	prompts, err := s.director.WithModel(model).Shots(promptCtx, in.Reference, in.Scene)
	cancel()
	s.metrics.RecordPrompt(string(director.ModeGrid), err)
	if err != nil {
		notify(StageFailed)
		return GridResult{}, err
	}
	if in.OnPrompts != nil {
		in.OnPrompts(prompts)
	}

	var fn render.RenderFunc
	switch renderer {
	case RendererProxy:
		fn = s.proxied.WithClient(s.proxy.WithAPIKey(keys.Proxy)).RenderFunc()
	default:
		direct := s.direct.WithModel(model).RenderFunc(in.Aspect)
		fn = func(ctx context.Context, index int, prompt string, ref imaging.Reference) render.Outcome {
			ctx, cancel := s.withRequestTimeout(ctx)
			defer cancel()
			return direct(ctx, index, prompt, ref)
		}
	}

	notify(StageRendering)
	start := time.Now()
	outcomes := s.dispatcher.Dispatch(ctx, prompts, in.Reference, s.timed(renderer, fn), in.OnProgress)

	result := GridResult{
		Prompts:  prompts,
		Outcomes: outcomes,
		Images:   make([][]byte, len(outcomes)),
		Renderer: renderer,
	}
	for i, out := range outcomes {
		if out.OK() {
			result.Images[i] = out.Image
			result.Present++
		}
	}

	notify(StageDone)
	s.logger.Info("grid produced", "renderer", renderer, "present", result.Present, "total", len(outcomes), "dur_ms", time.Since(start).Milliseconds())
	return result, nil
}

// PickRenderer resolves the grid renderer for keys. An empty choice picks
// the proxy when it can be used.
func (s *Studio) PickRenderer(keys Keys, forced string) (string, error) {
	switch forced {
	case RendererDirect:
		return RendererDirect, nil
	case RendererProxy:
		if !s.ProxyAvailable(keys) {
			return "", ErrMissingProxyKey
		}
		return RendererProxy, nil
	case RendererAuto:
		if s.ProxyAvailable(keys) {
			return RendererProxy, nil
		}
		return RendererDirect, nil
	default:
		return "", fmt.Errorf("unknown renderer %q", forced)
	}
}

func (s *Studio) timed(renderer string, fn render.RenderFunc) render.RenderFunc {
	return func(ctx context.Context, index int, prompt string, ref imaging.Reference) render.Outcome {
		start := time.Now()
		out := fn(ctx, index, prompt, ref)
		s.metrics.RecordRender(renderer, string(out.Status), time.Since(start))
		if out.Err != nil {
			s.logger.Warn("render failed", "renderer", renderer, "index", index, "status", out.Status, "err", out.Err)
		}
		return out
	}
}

func (s *Studio) model(key string) Model {
	if s.gemini == nil {
		return nil
	}
	return s.gemini(key)
}

func (s *Studio) withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.RequestTimeout)
}

func stageNotifier(fn func(Stage)) func(Stage) {
	if fn == nil {
		return func(Stage) {}
	}
	return fn
}
