package render

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"lynchvision/internal/imaging"
)

const DefaultWorkers = 3

var errPanic = errors.New("render panicked")

// RenderFunc renders one prompt and reports its terminal outcome.
type RenderFunc func(ctx context.Context, index int, prompt string, ref imaging.Reference) Outcome

// ProgressFunc is called once per finished task with the number of tasks
// finished so far. It may be called from several goroutines at once.
type ProgressFunc func(out Outcome, completed, total int)

type DispatcherOptions struct {
	Workers int
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

type Dispatcher struct {
	workers int
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{workers: workers, limiter: opts.Limiter, logger: logger}
}

// Dispatch renders every prompt on a bounded pool and returns one outcome
// per prompt, slot i holding prompt i. A failing task never cancels its
// siblings and Dispatch returns only when all of them are terminal.
func (d *Dispatcher) Dispatch(ctx context.Context, prompts []string, ref imaging.Reference, fn RenderFunc, progress ProgressFunc) []Outcome {
	total := len(prompts)
	results := make([]Outcome, total)
	if total == 0 {
		return results
	}

	var completed atomic.Int32
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(d.workers)

	for i, prompt := range prompts {
		g.Go(func() error {
			out := d.runOne(ctx, i, prompt, ref, fn)
			results[i] = out

			n := int(completed.Add(1))
			if progress != nil {
				progress(out, n, total)
			}
			return nil
		})
	}
	_ = g.Wait()

	present := 0
	for _, out := range results {
		if out.OK() {
			present++
		}
	}
	d.logger.Info("dispatch done", "total", total, "present", present, "workers", d.workers, "dur_ms", time.Since(start).Milliseconds())
	return results
}

func (d *Dispatcher) runOne(ctx context.Context, index int, prompt string, ref imaging.Reference, fn RenderFunc) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("render panicked", "index", index, "panic", r)
			out = Outcome{Index: index, Status: StatusFailed, Err: errPanic}
		}
	}()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return Outcome{Index: index, Status: StatusFailed, Err: err}
		}
	}

	out = fn(ctx, index, prompt, ref)
	out.Index = index
	if !out.Status.Terminal() {
		out.Status = StatusFailed
	}
	if out.Status != StatusCompleted {
		out.Image = nil
	} else if len(out.Image) == 0 {
		out.Status = StatusFailed
		if out.Err == nil {
			out.Err = ErrNoImage
		}
	}
	return out
}
