package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// SDKOptions configures the google.golang.org/genai backed client, used for
// Vertex AI where the REST key-based endpoint does not apply.
type SDKOptions struct {
	Project    string
	Location   string
	APIKey     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type SDKClient struct {
	client *genai.Client
	logger *slog.Logger
}

func NewSDK(ctx context.Context, opts SDKOptions) (*SDKClient, error) {
	cfg := &genai.ClientConfig{
		HTTPClient: opts.HTTPClient,
	}
	if strings.TrimSpace(opts.Project) != "" {
		cfg.Backend = genai.BackendVertexAI
		cfg.Project = opts.Project
		cfg.Location = opts.Location
	} else {
		cfg.Backend = genai.BackendGeminiAPI
		cfg.APIKey = opts.APIKey
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SDKClient{client: client, logger: logger}, nil
}

func (c *SDKClient) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" {
		return "", errors.New("instruction is empty")
	}

	var parts []*genai.Part
	if !req.Image.Empty() {
		parts = append(parts, genai.NewPartFromBytes(req.Image.Data, req.Image.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(instruction))

	var cfg *genai.GenerateContentConfig
	if req.JSONSchema != nil {
		cfg = &genai.GenerateContentConfig{
			ResponseMIMEType:   "application/json",
			ResponseJsonSchema: req.JSONSchema,
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, req.Model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini API: %w", err)
	}
	return extractText(fromSDKResponse(resp)), nil
}

func (c *SDKClient) GenerateImage(ctx context.Context, req ImageRequest) (Payload, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Payload{}, errors.New("prompt is empty")
	}

	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	if !req.Image.Empty() {
		parts = append(parts, genai.NewPartFromBytes(req.Image.Data, req.Image.MIMEType))
	}

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE"},
		ImageConfig: &genai.ImageConfig{
			AspectRatio: req.AspectRatio,
			ImageSize:   req.ImageSize,
		},
	}

	resp, err := c.client.Models.GenerateContent(ctx, req.Model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return Payload{}, fmt.Errorf("gemini API: %w", err)
	}
	return extractPayload(fromSDKResponse(resp))
}

// fromSDKResponse maps the SDK response onto the REST wire shape so both
// backends share extractText and extractPayload.
func fromSDKResponse(resp *genai.GenerateContentResponse) generateContentResponse {
	var out generateContentResponse
	if resp == nil {
		return out
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		out.PromptFeedback = &promptFeedback{BlockReason: string(resp.PromptFeedback.BlockReason)}
	}
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		c := candidate{FinishReason: string(cand.FinishReason)}
		if cand.Content != nil {
			c.Content.Role = cand.Content.Role
			for _, p := range cand.Content.Parts {
				if p == nil {
					continue
				}
				wp := part{Text: p.Text}
				if p.InlineData != nil && len(p.InlineData.Data) > 0 {
					wp.InlineData = &blob{
						Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
						MimeType: p.InlineData.MIMEType,
					}
				}
				c.Content.Parts = append(c.Content.Parts, wp)
			}
		}
		out.Candidates = append(out.Candidates, c)
	}
	return out
}
