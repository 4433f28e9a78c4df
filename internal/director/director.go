// Package director turns a character reference and a scene description into
// image-generation prompts by asking a multimodal text model.
package director

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"lynchvision/internal/gemini"
	"lynchvision/internal/imaging"
)

var ErrNoPrompt = errors.New("director produced no prompt")

// TextModel is satisfied by both gemini clients.
type TextModel interface {
	GenerateText(ctx context.Context, req gemini.TextRequest) (string, error)
}

type Options struct {
	Model         TextModel
	TextModelName string
	Logger        *slog.Logger
}

type Director struct {
	model     TextModel
	modelName string
	logger    *slog.Logger
}

func New(opts Options) *Director {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Director{
		model:     opts.Model,
		modelName: opts.TextModelName,
		logger:    logger,
	}
}

// WithModel returns a copy of d that talks to model, used for per-request keys.
func (d *Director) WithModel(model TextModel) *Director {
	cp := *d
	cp.model = model
	return &cp
}

// Shot asks for a single cinematic storyboard prompt.
func (d *Director) Shot(ctx context.Context, ref imaging.Reference, scene string) (string, error) {
	if d.model == nil {
		return "", fmt.Errorf("%w: text model is not configured", ErrNoPrompt)
	}

	start := time.Now()
	text, err := d.model.GenerateText(ctx, gemini.TextRequest{
		Model:       d.modelName,
		Image:       ref,
		Instruction: Instruction(ModeShot, scene),
	})
	if err != nil {
		d.logger.Warn("director request failed", "mode", ModeShot, "err", err)
		return "", fmt.Errorf("%w: %v", ErrNoPrompt, err)
	}

	prompt := strings.TrimSpace(text)
	if prompt == "" {
		return "", ErrNoPrompt
	}
	d.logger.Info("director prompt ready", "mode", ModeShot, "chars", len(prompt), "dur_ms", time.Since(start).Milliseconds())
	return prompt, nil
}

// Shots asks for exactly ShotCount independent panel prompts. The request
// carries a response schema and the reply is validated against it.
func (d *Director) Shots(ctx context.Context, ref imaging.Reference, scene string) ([]string, error) {
	if d.model == nil {
		return nil, fmt.Errorf("%w: text model is not configured", ErrNoPrompt)
	}

	start := time.Now()
	text, err := d.model.GenerateText(ctx, gemini.TextRequest{
		Model:       d.modelName,
		Image:       ref,
		Instruction: Instruction(ModeGrid, scene),
		JSONSchema:  ShotListSchema(),
	})
	if err != nil {
		d.logger.Warn("director request failed", "mode", ModeGrid, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrNoPrompt, err)
	}

	shots, err := ParseShotList(text)
	if err != nil {
		d.logger.Warn("director shot list rejected", "err", err, "chars", len(text))
		return nil, fmt.Errorf("%w: %v", ErrNoPrompt, err)
	}
	d.logger.Info("director prompts ready", "mode", ModeGrid, "count", len(shots), "dur_ms", time.Since(start).Milliseconds())
	return shots, nil
}
