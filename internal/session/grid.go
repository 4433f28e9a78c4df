package session

import (
	"sync"
	"time"

	"lynchvision/internal/render"
	"lynchvision/internal/studio"
)

// GridRun is one storyboard generation. Slot i always belongs to prompt i
// and is either empty or a complete image.
type GridRun struct {
	ID string

	mu         sync.Mutex
	stage      studio.Stage
	prompts    []string
	images     [][]byte
	statuses   []render.Status
	completed  int
	total      int
	err        string
	startedAt  time.Time
	finishedAt time.Time
}

type GridSnapshot struct {
	ID        string   `json:"id"`
	Stage     string   `json:"stage"`
	Completed int      `json:"completed"`
	Total     int      `json:"total"`
	Prompts   []string `json:"prompts"`
	Present   []int    `json:"present"`
	Statuses  []string `json:"statuses"`
	Error     string   `json:"error,omitempty"`
	Done      bool     `json:"done"`
}

func newGridRun(id string, total int) *GridRun {
	if total < 0 {
		total = 0
	}
	statuses := make([]render.Status, total)
	for i := range statuses {
		statuses[i] = render.StatusPending
	}
	return &GridRun{
		ID:        id,
		stage:     studio.StageDirecting,
		images:    make([][]byte, total),
		statuses:  statuses,
		total:     total,
		startedAt: time.Now(),
	}
}

func (g *GridRun) SetStage(st studio.Stage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.finishedLocked() {
		return
	}
	g.stage = st
}

func (g *GridRun) SetPrompts(prompts []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append([]string(nil), prompts...)
}

// Record stores a terminal outcome in its slot. Completed counts that arrive
// out of order never move progress backwards.
func (g *GridRun) Record(out render.Outcome, completed int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if out.Index < 0 || out.Index >= g.total {
		return
	}
	g.statuses[out.Index] = out.Status
	if out.OK() {
		g.images[out.Index] = out.Image
	}
	if completed > g.completed {
		g.completed = completed
	}
}

func (g *GridRun) Finish(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finishedAt = time.Now()
	if err != nil {
		g.stage = studio.StageFailed
		g.err = err.Error()
		return
	}
	g.stage = studio.StageDone
}

// Image returns the blob in slot i, if any.
func (g *GridRun) Image(i int) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if i < 0 || i >= g.total || g.images[i] == nil {
		return nil, false
	}
	return g.images[i], true
}

// Present lists the indexes of filled slots in order.
func (g *GridRun) Present() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.presentLocked()
}

func (g *GridRun) Snapshot() GridSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	statuses := make([]string, len(g.statuses))
	for i, st := range g.statuses {
		statuses[i] = string(st)
	}
	prompts := append([]string(nil), g.prompts...)
	if prompts == nil {
		prompts = []string{}
	}
	return GridSnapshot{
		ID:        g.ID,
		Stage:     string(g.stage),
		Completed: g.completed,
		Total:     g.total,
		Prompts:   prompts,
		Present:   g.presentLocked(),
		Statuses:  statuses,
		Error:     g.err,
		Done:      g.finishedLocked(),
	}
}

func (g *GridRun) presentLocked() []int {
	present := []int{}
	for i, img := range g.images {
		if img != nil {
			present = append(present, i)
		}
	}
	return present
}

func (g *GridRun) finishedLocked() bool {
	return !g.finishedAt.IsZero()
}
