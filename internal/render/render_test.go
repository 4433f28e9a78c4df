package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"lynchvision/internal/gemini"
	"lynchvision/internal/imaging"
	"lynchvision/internal/proxy"
)

var ref = imaging.Reference{Data: []byte("ref"), MIMEType: imaging.MIMEPNG}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	data, err := imaging.EncodePNG(image.NewRGBA(image.Rect(0, 0, w, h)))
	require.NoError(t, err)
	return data
}

func TestParseAspectRatio(t *testing.T) {
	for _, a := range AspectRatios() {
		got, err := ParseAspectRatio(string(a))
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}

	got, err := ParseAspectRatio("  ")
	require.NoError(t, err)
	assert.Equal(t, AspectSquare, got)

	got, err = ParseAspectRatio(" 16 : 9 ")
	require.NoError(t, err)
	assert.Equal(t, AspectWide, got)

	_, err = ParseAspectRatio("21:9")
	assert.ErrorIs(t, err, ErrUnsupportedAspectRatio)

	assert.Equal(t, []AspectRatio{"1:1", "16:9", "9:16", "4:3", "3:4"}, AspectRatios())
}

type fakeImageModel struct {
	payload gemini.Payload
	err     error
	got     []gemini.ImageRequest
	mu      sync.Mutex
}

func (f *fakeImageModel) GenerateImage(_ context.Context, req gemini.ImageRequest) (gemini.Payload, error) {
	f.mu.Lock()
	f.got = append(f.got, req)
	f.mu.Unlock()
	return f.payload, f.err
}

func TestDirectRenderEveryAspect(t *testing.T) {
	img := pngBytes(t, 4, 3)
	m := &fakeImageModel{payload: gemini.Payload{Data: img, MIMEType: imaging.MIMEPNG}}
	d := NewDirect(DirectOptions{Model: m, ModelName: "gemini-3-pro-image-preview", ImageSize: "2K"})

	for _, a := range AspectRatios() {
		data, err := d.Render(context.Background(), "wide shot", ref, a)
		require.NoError(t, err, a)
		assert.Equal(t, img, data)
	}

	require.Len(t, m.got, len(AspectRatios()))
	for i, a := range AspectRatios() {
		assert.Equal(t, string(a), m.got[i].AspectRatio)
		assert.Equal(t, "2K", m.got[i].ImageSize)
		assert.Equal(t, "gemini-3-pro-image-preview", m.got[i].Model)
		assert.Equal(t, ref, m.got[i].Image)
	}
}

func TestDirectRenderFailures(t *testing.T) {
	d := NewDirect(DirectOptions{Model: &fakeImageModel{err: errors.New("gemini API 429: quota")}})
	_, err := d.Render(context.Background(), "p", ref, AspectSquare)
	require.ErrorIs(t, err, ErrNoImage)
	assert.Contains(t, err.Error(), "quota")

	d = NewDirect(DirectOptions{Model: &fakeImageModel{payload: gemini.Payload{Data: []byte("not an image")}}})
	_, err = d.Render(context.Background(), "p", ref, AspectSquare)
	assert.ErrorIs(t, err, ErrNoImage)

	_, err = d.Render(context.Background(), " ", ref, AspectSquare)
	assert.ErrorIs(t, err, ErrNoImage)

	out := d.RenderFunc(AspectWide)(context.Background(), 4, "p", ref)
	assert.Equal(t, 4, out.Index)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Nil(t, out.Image)
}

// fakeQueue scripts the remote state per prompt.
type fakeQueue struct {
	mu        sync.Mutex
	submitErr map[string]error
	states    map[string][]proxy.State
	fetchErr  error
	image     []byte
	garbage   map[string]bool
	submits   int
	polls     map[string]int
}

func newFakeQueue(t *testing.T) *fakeQueue {
	return &fakeQueue{
		image:     pngBytes(t, 4, 4),
		garbage:   map[string]bool{},
		submitErr: map[string]error{},
		states:    map[string][]proxy.State{},
		polls:     map[string]int{},
	}
}

func (q *fakeQueue) Submit(_ context.Context, req proxy.SubmitRequest) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.submits++
	if err := q.submitErr[req.Prompt]; err != nil {
		return "", err
	}
	return "task-" + req.Prompt, nil
}

func (q *fakeQueue) Status(_ context.Context, id string) (proxy.TaskStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	prompt := strings.TrimPrefix(id, "task-")
	n := q.polls[prompt]
	q.polls[prompt] = n + 1

	script := q.states[prompt]
	state := proxy.StateCompleted
	if len(script) > 0 {
		state = script[min(n, len(script)-1)]
	}
	return proxy.TaskStatus{State: state, Raw: string(state), ResultURL: "mem://" + prompt}, nil
}

func (q *fakeQueue) Fetch(_ context.Context, url string) ([]byte, error) {
	if q.fetchErr != nil {
		return nil, q.fetchErr
	}
	prompt := strings.TrimPrefix(url, "mem://")
	if q.garbage[prompt] {
		return []byte("<html>upstream error " + prompt + "</html>"), nil
	}
	return q.image, nil
}

func (q *fakeQueue) pollCount(prompt string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.polls[prompt]
}

func newProxied(q TaskClient, attempts int) *Proxied {
	return NewProxied(ProxiedOptions{Client: q, PollInterval: time.Millisecond, MaxAttempts: attempts})
}

func TestProxiedCompletesAfterPolling(t *testing.T) {
	q := newFakeQueue(t)
	q.states["a"] = []proxy.State{proxy.StateRunning, proxy.StateRunning, proxy.StateCompleted}

	task := &Task{Index: 2, Prompt: "a", Reference: ref}
	out := newProxied(q, 5).Run(context.Background(), task)

	assert.Equal(t, 2, out.Index)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, q.image, out.Image)
	assert.NoError(t, out.Err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, "task-a", task.RemoteID)
	assert.Equal(t, 3, task.Attempts)
}

func TestProxiedTimesOutWithinBudget(t *testing.T) {
	q := newFakeQueue(t)
	q.states["slow"] = []proxy.State{proxy.StateRunning}

	p := newProxied(q, 4)
	done := make(chan Outcome, 1)
	go func() { done <- p.Run(context.Background(), &Task{Index: 0, Prompt: "slow"}) }()

	select {
	case out := <-done:
		assert.Equal(t, StatusTimedOut, out.Status)
		assert.ErrorIs(t, out.Err, ErrTimedOut)
		assert.Nil(t, out.Image)
	case <-time.After(2 * time.Second):
		t.Fatal("proxied run did not stop after its poll budget")
	}
	assert.Equal(t, 4, q.pollCount("slow"))
	assert.Equal(t, 4*time.Millisecond, p.Budget())
}

func TestProxiedSubmitFailureNeverPolls(t *testing.T) {
	q := newFakeQueue(t)
	q.submitErr["bad"] = fmt.Errorf("%w: status 402", proxy.ErrSubmit)

	task := &Task{Index: 7, Prompt: "bad"}
	out := newProxied(q, 5).Run(context.Background(), task)

	assert.Equal(t, 7, out.Index)
	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, proxy.ErrSubmit)
	assert.Equal(t, 0, q.pollCount("bad"))
	assert.Equal(t, StatusFailed, task.Status)
}

func TestProxiedRemoteFailureAndFetchError(t *testing.T) {
	q := newFakeQueue(t)
	q.states["x"] = []proxy.State{proxy.StateRunning, proxy.StateFailed}
	out := newProxied(q, 5).Run(context.Background(), &Task{Prompt: "x"})
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, 2, q.pollCount("x"))

	q = newFakeQueue(t)
	q.fetchErr = errors.New("gone")
	out = newProxied(q, 5).Run(context.Background(), &Task{Prompt: "y"})
	assert.Equal(t, StatusFailed, out.Status)
	assert.Nil(t, out.Image)
}

func TestProxiedRejectsUndecodableResult(t *testing.T) {
	q := newFakeQueue(t)
	q.garbage["p4"] = true
	q.garbage["p7"] = true

	d := NewDispatcher(DispatcherOptions{Workers: 3})
	results := d.Dispatch(context.Background(), prompts(9), ref, newProxied(q, 3).RenderFunc(), nil)

	require.Len(t, results, 9)
	for i, out := range results {
		if i == 4 || i == 7 {
			assert.False(t, out.OK(), i)
			assert.Nil(t, out.Image, i)
			assert.Equal(t, StatusFailed, out.Status, i)
			assert.ErrorIs(t, out.Err, ErrNoImage, i)
			continue
		}
		assert.True(t, out.OK(), i)
	}
}

func TestProxiedStopsOnCancel(t *testing.T) {
	q := newFakeQueue(t)
	q.states["z"] = []proxy.State{proxy.StateRunning}
	p := NewProxied(ProxiedOptions{Client: q, PollInterval: time.Hour, MaxAttempts: 30})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := p.Run(ctx, &Task{Prompt: "z"})
	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func prompts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("p%d", i)
	}
	return out
}

func TestDispatchSevenOfNine(t *testing.T) {
	q := newFakeQueue(t)
	q.submitErr["p2"] = errors.New("rejected")
	q.submitErr["p6"] = errors.New("rejected")

	var running, peak atomic.Int32
	inner := newProxied(q, 3).RenderFunc()
	fn := func(ctx context.Context, index int, prompt string, r imaging.Reference) Outcome {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
		return inner(ctx, index, prompt, r)
	}

	var mu sync.Mutex
	var seen []int
	d := NewDispatcher(DispatcherOptions{Workers: 3})
	results := d.Dispatch(context.Background(), prompts(9), ref, fn, func(out Outcome, completed, total int) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, completed)
		assert.Equal(t, 9, total)
	})

	require.Len(t, results, 9)
	present := 0
	for i, out := range results {
		assert.Equal(t, i, out.Index)
		if i == 2 || i == 6 {
			assert.Nil(t, out.Image, i)
			assert.Equal(t, StatusFailed, out.Status)
			continue
		}
		require.True(t, out.OK(), i)
		assert.Equal(t, q.image, out.Image)
		present++
	}
	assert.Equal(t, 7, present)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, seen)
}

func TestDispatchPreservesIndexOutOfOrder(t *testing.T) {
	// later prompts finish first
	fn := func(_ context.Context, index int, prompt string, _ imaging.Reference) Outcome {
		time.Sleep(time.Duration(9-index) * 2 * time.Millisecond)
		return Outcome{Index: 99, Image: []byte(prompt), Status: StatusCompleted}
	}

	var order []int
	var mu sync.Mutex
	results := NewDispatcher(DispatcherOptions{Workers: 9}).Dispatch(context.Background(), prompts(9), ref, fn, func(out Outcome, _, _ int) {
		mu.Lock()
		order = append(order, out.Index)
		mu.Unlock()
	})

	for i, out := range results {
		assert.Equal(t, i, out.Index)
		assert.Equal(t, []byte(fmt.Sprintf("p%d", i)), out.Image)
	}
	assert.Len(t, order, 9)
}

func TestDispatchNormalizesOutcomes(t *testing.T) {
	fn := func(_ context.Context, index int, _ string, _ imaging.Reference) Outcome {
		switch index {
		case 0:
			return Outcome{Status: StatusTimedOut, Image: []byte("partial")}
		case 1:
			return Outcome{Status: StatusCompleted}
		case 2:
			panic("boom")
		default:
			return Outcome{Status: StatusSubmitted}
		}
	}

	results := NewDispatcher(DispatcherOptions{}).Dispatch(context.Background(), prompts(4), ref, fn, nil)
	assert.Equal(t, StatusTimedOut, results[0].Status)
	assert.Nil(t, results[0].Image)
	assert.Equal(t, StatusFailed, results[1].Status)
	assert.ErrorIs(t, results[1].Err, ErrNoImage)
	assert.Equal(t, StatusFailed, results[2].Status)
	assert.Equal(t, StatusFailed, results[3].Status)
	for _, out := range results {
		assert.False(t, out.OK())
	}
}

func TestDispatchWithLimiter(t *testing.T) {
	fn := func(_ context.Context, index int, p string, _ imaging.Reference) Outcome {
		return Outcome{Image: []byte(p), Status: StatusCompleted}
	}
	d := NewDispatcher(DispatcherOptions{Workers: 3, Limiter: rate.NewLimiter(rate.Every(time.Millisecond), 1)})
	results := d.Dispatch(context.Background(), prompts(5), ref, fn, nil)
	for _, out := range results {
		assert.True(t, out.OK())
	}

	assert.Empty(t, d.Dispatch(context.Background(), nil, ref, fn, nil))
}
