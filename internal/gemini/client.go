package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lynchvision/internal/imaging"
)

var ErrNoImagePart = errors.New("response contains no image part")

type Options struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	apiKey     string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "v1beta"
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		apiVersion: apiVersion,
		httpClient: opts.HTTPClient,
		logger:     logger,
	}
}

// WithAPIKey returns a copy of c that authenticates with key. A blank key
// keeps the configured one.
func (c *Client) WithAPIKey(key string) *Client {
	key = strings.TrimSpace(key)
	if key == "" {
		return c
	}
	cp := *c
	cp.apiKey = key
	return &cp
}

func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

func (c *Client) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" {
		return "", errors.New("instruction is empty")
	}

	payload := generateContentRequest{
		Contents: []content{{Role: "user", Parts: referenceParts(req.Image, instruction)}},
	}
	if req.JSONSchema != nil {
		payload.GenerationConfig = &generationConfig{
			ResponseMIMEType:   "application/json",
			ResponseJSONSchema: req.JSONSchema,
		}
	}

	resp, err := c.generateContent(ctx, req.Model, payload)
	if err != nil {
		return "", err
	}
	return extractText(resp), nil
}

func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (Payload, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Payload{}, errors.New("prompt is empty")
	}

	// The prompt leads so the model treats the image as reference, not as the edit target.
	parts := []part{{Text: prompt}}
	if !req.Image.Empty() {
		parts = append(parts, part{InlineData: &blob{
			Data:     base64.StdEncoding.EncodeToString(req.Image.Data),
			MimeType: req.Image.MIMEType,
		}})
	}

	payload := generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"IMAGE"},
			ImageConfig: &imageConfig{
				AspectRatio: req.AspectRatio,
				ImageSize:   req.ImageSize,
			},
		},
	}

	resp, err := c.generateContent(ctx, req.Model, payload)
	if err != nil {
		return Payload{}, err
	}
	return extractPayload(resp)
}

func referenceParts(ref imaging.Reference, text string) []part {
	var parts []part
	if !ref.Empty() {
		parts = append(parts, part{InlineData: &blob{
			Data:     base64.StdEncoding.EncodeToString(ref.Data),
			MimeType: ref.MIMEType,
		}})
	}
	return append(parts, part{Text: text})
}

func (c *Client) generateContent(ctx context.Context, model string, payload generateContentRequest) (generateContentResponse, error) {
	if c.httpClient == nil {
		return generateContentResponse{}, errors.New("http client is nil")
	}
	if strings.TrimSpace(model) == "" {
		return generateContentResponse{}, errors.New("model is empty")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return generateContentResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, c.apiVersion, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return generateContentResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return generateContentResponse{}, fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return generateContentResponse{}, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("gemini generateContent", "model", model, "status", httpResp.StatusCode, "dur_ms", time.Since(start).Milliseconds())

	if httpResp.StatusCode >= 400 {
		return generateContentResponse{}, fmt.Errorf("gemini API %s: %s", httpResp.Status, apiErrorMessage(rawBody))
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return generateContentResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return decoded, nil
}

// extractText concatenates the text parts of the first candidate.
func extractText(resp generateContentResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// extractPayload is the single place image bytes are pulled out of a
// response: the first inline part carrying data wins.
func extractPayload(resp generateContentResponse) (Payload, error) {
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return Payload{}, fmt.Errorf("decode inline data: %w", err)
			}
			mimeType := p.InlineData.MimeType
			if mimeType == "" {
				mimeType = http.DetectContentType(data)
			}
			return Payload{Data: data, MIMEType: mimeType}, nil
		}
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return Payload{}, fmt.Errorf("%w: blocked (%s)", ErrNoImagePart, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" && resp.Candidates[0].FinishReason != "STOP" {
		return Payload{}, fmt.Errorf("%w: finish reason %s", ErrNoImagePart, resp.Candidates[0].FinishReason)
	}
	return Payload{}, ErrNoImagePart
}

func apiErrorMessage(raw []byte) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

type generateContentRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ResponseMIMEType   string       `json:"responseMimeType,omitempty"`
	ResponseJSONSchema any          `json:"responseJsonSchema,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

type generateContentResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}
