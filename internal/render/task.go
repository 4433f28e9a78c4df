package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"lynchvision/internal/imaging"
	"lynchvision/internal/proxy"
)

var ErrTimedOut = errors.New("render task timed out")

type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed-out"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Task is one prompt travelling through the proxy queue. A task is never
// reused once it reaches a terminal status.
type Task struct {
	Index     int
	Prompt    string
	Reference imaging.Reference
	Status    Status
	RemoteID  string
	Attempts  int
}

// Outcome is the terminal result of a task. Image is nil unless Status is
// StatusCompleted.
type Outcome struct {
	Index  int
	Image  []byte
	Status Status
	Err    error
}

func (o Outcome) OK() bool {
	return o.Status == StatusCompleted && len(o.Image) > 0
}

// TaskClient is the async queue the proxied renderer drives.
type TaskClient interface {
	Submit(ctx context.Context, req proxy.SubmitRequest) (string, error)
	Status(ctx context.Context, taskID string) (proxy.TaskStatus, error)
	Fetch(ctx context.Context, resultURL string) ([]byte, error)
}

type ProxiedOptions struct {
	Client        TaskClient
	Size          string
	GuidanceScale float64
	Steps         int
	PollInterval  time.Duration
	MaxAttempts   int
	Logger        *slog.Logger
}

type Proxied struct {
	client        TaskClient
	size          string
	guidanceScale float64
	steps         int
	pollInterval  time.Duration
	maxAttempts   int
	logger        *slog.Logger
}

func NewProxied(opts ProxiedOptions) *Proxied {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 30
	}
	return &Proxied{
		client:        opts.Client,
		size:          opts.Size,
		guidanceScale: opts.GuidanceScale,
		steps:         opts.Steps,
		pollInterval:  interval,
		maxAttempts:   attempts,
		logger:        logger,
	}
}

func (p *Proxied) WithClient(client TaskClient) *Proxied {
	cp := *p
	cp.client = client
	return &cp
}

// Budget is the longest a task may spend polling.
func (p *Proxied) Budget() time.Duration {
	return time.Duration(p.maxAttempts) * p.pollInterval
}

// Run drives task from pending to a terminal status. It always returns the
// task's own index, and never polls more than MaxAttempts times.
func (p *Proxied) Run(ctx context.Context, task *Task) Outcome {
	task.Status = StatusPending
	task.Attempts = 0
	logger := p.logger.With("index", task.Index)

	if p.client == nil {
		return p.fail(task, errors.New("proxy client is not configured"))
	}

	id, err := p.client.Submit(ctx, proxy.SubmitRequest{
		Prompt:        task.Prompt,
		Image:         task.Reference.Data,
		Count:         1,
		Size:          p.size,
		GuidanceScale: p.guidanceScale,
		Steps:         p.steps,
	})
	if err != nil {
		logger.Warn("proxy submit failed", "err", err)
		return p.fail(task, err)
	}
	task.RemoteID = id
	task.Status = StatusSubmitted
	logger = logger.With("task_id", id)
	logger.Debug("proxy task submitted")

	for task.Attempts < p.maxAttempts {
		if err := sleep(ctx, p.pollInterval); err != nil {
			return p.fail(task, err)
		}
		task.Attempts++

		st, err := p.client.Status(ctx, id)
		if err != nil {
			logger.Warn("proxy status failed", "attempt", task.Attempts, "err", err)
			return p.fail(task, err)
		}

		switch st.State {
		case proxy.StateCompleted:
			data, err := p.client.Fetch(ctx, st.ResultURL)
			if err != nil {
				logger.Warn("proxy fetch failed", "err", err)
				return p.fail(task, err)
			}
			if _, err := imaging.Inspect(data); err != nil {
				logger.Warn("proxy result is not an image", "bytes", len(data), "err", err)
				return p.fail(task, fmt.Errorf("%w: %v", ErrNoImage, err))
			}
			task.Status = StatusCompleted
			logger.Debug("proxy task completed", "attempt", task.Attempts, "bytes", len(data))
			return Outcome{Index: task.Index, Image: data, Status: StatusCompleted}
		case proxy.StateFailed:
			msg := st.Error
			if msg == "" {
				msg = st.Raw
			}
			logger.Warn("proxy task failed", "attempt", task.Attempts, "status", st.Raw)
			return p.fail(task, fmt.Errorf("remote task %s failed: %s", id, msg))
		}
	}

	task.Status = StatusTimedOut
	logger.Warn("proxy task timed out", "attempt", task.Attempts)
	return Outcome{
		Index:  task.Index,
		Status: StatusTimedOut,
		Err:    fmt.Errorf("%w after %d polls", ErrTimedOut, task.Attempts),
	}
}

// RenderFunc adapts Run for the dispatcher.
func (p *Proxied) RenderFunc() RenderFunc {
	return func(ctx context.Context, index int, prompt string, ref imaging.Reference) Outcome {
		return p.Run(ctx, &Task{Index: index, Prompt: prompt, Reference: ref})
	}
}

func (p *Proxied) fail(task *Task, err error) Outcome {
	task.Status = StatusFailed
	return Outcome{Index: task.Index, Status: StatusFailed, Err: err}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
