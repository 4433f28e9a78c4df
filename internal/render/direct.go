package render

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

var ErrNoImage = errors.New("renderer returned no image")

// ImageModel is satisfied by both gemini clients.
type ImageModel interface {
	GenerateImage(ctx context.Context, req gemini.ImageRequest) (gemini.Payload, error)
}

type DirectOptions struct {
	Model     ImageModel
	ModelName string
	ImageSize string
	Logger    *slog.Logger
}

// Direct renders one image per request on the Gemini image model.
type Direct struct {
	model     ImageModel
	modelName string
	imageSize string
	logger    *slog.Logger
}

func NewDirect(opts DirectOptions) *Direct {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Direct{
		model:     opts.Model,
		modelName: opts.ModelName,
		imageSize: opts.ImageSize,
		logger:    logger,
	}
}

func (d *Direct) WithModel(model ImageModel) *Direct {
	cp := *d
	cp.model = model
	return &cp
}

func (d *Direct) Render(ctx context.Context, prompt string, ref imaging.Reference, aspect AspectRatio) ([]byte, error) {
	if d.model == nil {
		return nil, fmt.Errorf("%w: image model is not configured", ErrNoImage)
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: empty prompt", ErrNoImage)
	}
	if aspect == "" {
		aspect = AspectSquare
	}

	start := time.Now()
	payload, err := d.model.GenerateImage(ctx, gemini.ImageRequest{
		Model:       d.modelName,
		Prompt:      prompt,
		Image:       ref,
		AspectRatio: string(aspect),
		ImageSize:   d.imageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoImage, err)
	}

	info, err := imaging.Inspect(payload.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoImage, err)
	}
	d.logger.Debug("direct render done", "aspect", aspect, "width", info.Width, "height", info.Height, "dur_ms", time.Since(start).Milliseconds())
	return payload.Data, nil
}

// RenderFunc adapts Render for the dispatcher.
func (d *Direct) RenderFunc(aspect AspectRatio) RenderFunc {
	return func(ctx context.Context, index int, prompt string, ref imaging.Reference) Outcome {
		data, err := d.Render(ctx, prompt, ref, aspect)
		if err != nil {
			return Outcome{Index: index, Status: StatusFailed, Err: err}
		}
		return Outcome{Index: index, Image: data, Status: StatusCompleted}
	}
}
