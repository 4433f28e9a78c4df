// Package proxy talks to a third-party image-generation service that runs
// jobs asynchronously: a task is submitted, polled by id, and its result is
// downloaded from the URL the final status carries.
package proxy

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
	"net/url"
	"strings"
)

var (
	ErrSubmit      = errors.New("proxy submit failed")
	ErrStatusCheck = errors.New("proxy status check failed")
	ErrFetch       = errors.New("proxy result fetch failed")
)

type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type SubmitRequest struct {
	Prompt        string
	Image         []byte
	Count         int
	Size          string
	GuidanceScale float64
	Steps         int
}

type TaskStatus struct {
	State     State
	Raw       string
	ResultURL string
	Error     string
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		logger:     logger,
	}
}

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

// Configured reports whether the client has somewhere to send tasks.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

type submitBody struct {
	Prompt        string  `json:"prompt"`
	Image         string  `json:"image,omitempty"`
	N             int     `json:"n"`
	Size          string  `json:"size,omitempty"`
	GuidanceScale float64 `json:"guidance_scale,omitempty"`
	Steps         int     `json:"num_inference_steps,omitempty"`
}

func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	count := req.Count
	if count < 1 {
		count = 1
	}
	body := submitBody{
		Prompt:        req.Prompt,
		N:             count,
		Size:          req.Size,
		GuidanceScale: req.GuidanceScale,
		Steps:         req.Steps,
	}
	if len(req.Image) > 0 {
		body.Image = base64.StdEncoding.EncodeToString(req.Image)
	}

	var resp struct {
		TaskID string `json:"task_id"`
		ID     string `json:"id"`
	}
	status, raw, err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/tasks", body, &resp)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmit, err)
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusAccepted {
		return "", fmt.Errorf("%w: status %d: %s", ErrSubmit, status, strings.TrimSpace(string(raw)))
	}

	taskID := resp.TaskID
	if taskID == "" {
		taskID = resp.ID
	}
	if taskID == "" {
		return "", fmt.Errorf("%w: response has no task id", ErrSubmit)
	}
	return taskID, nil
}

func (c *Client) Status(ctx context.Context, taskID string) (TaskStatus, error) {
	var resp struct {
		Status    string `json:"status"`
		ResultURL string `json:"result_url"`
		Output    []struct {
			URL string `json:"url"`
		} `json:"output"`
		Error string `json:"error"`
	}
	status, raw, err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/v1/tasks/"+url.PathEscape(taskID), nil, &resp)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("%w: %v", ErrStatusCheck, err)
	}
	if status != http.StatusOK {
		return TaskStatus{}, fmt.Errorf("%w: status %d: %s", ErrStatusCheck, status, strings.TrimSpace(string(raw)))
	}

	resultURL := resp.ResultURL
	if resultURL == "" && len(resp.Output) > 0 {
		resultURL = resp.Output[0].URL
	}
	return TaskStatus{
		State:     NormalizeState(resp.Status),
		Raw:       resp.Status,
		ResultURL: resultURL,
		Error:     resp.Error,
	}, nil
}

func (c *Client) Fetch(ctx context.Context, resultURL string) ([]byte, error) {
	if strings.TrimSpace(resultURL) == "" {
		return nil, fmt.Errorf("%w: empty result url", ErrFetch)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if strings.HasPrefix(resultURL, c.baseURL+"/") && c.apiKey != "" {
		req.Header.Set("authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrFetch)
	}
	return data, nil
}

// NormalizeState folds the vocabulary of different proxy vendors into
// running, completed and failed.
func NormalizeState(raw string) State {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "succeeded", "success", "completed", "complete", "done", "finished":
		return StateCompleted
	case "failed", "failure", "error", "cancelled", "canceled":
		return StateFailed
	default:
		return StateRunning
	}
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, in any, out any) (int, []byte, error) {
	if c.baseURL == "" {
		return 0, nil, errors.New("proxy base url is not configured")
	}

	var reader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("content-type", "application/json")
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("authorization", "Bearer "+c.apiKey)

	resp, err := c.client().Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("proxy call", "method", method, "url", endpoint, "status", resp.StatusCode)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, raw, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, raw, nil
}

func (c *Client) client() *http.Client {
	if c.httpClient == nil {
		return http.DefaultClient
	}
	return c.httpClient
}
