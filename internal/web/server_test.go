package web

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lynchvision/internal/config"
	"lynchvision/internal/gemini"
	"lynchvision/internal/imaging"
	"lynchvision/internal/metrics"
	"lynchvision/internal/session"
	"lynchvision/internal/studio"
)

type fakeModel struct {
	image []byte
}

func (f *fakeModel) GenerateText(_ context.Context, req gemini.TextRequest) (string, error) {
	if req.JSONSchema == nil {
		return "a cinematic prompt", nil
	}
	shots := make([]string, 9)
	for i := range shots {
		shots[i] = fmt.Sprintf("shot %d", i)
	}
	body, _ := json.Marshal(shots)
	return string(body), nil
}

func (f *fakeModel) GenerateImage(_ context.Context, req gemini.ImageRequest) (gemini.Payload, error) {
	if req.Prompt == "shot 4" {
		return gemini.Payload{}, fmt.Errorf("gemini API 400: blocked")
	}
	return gemini.Payload{Data: f.image, MIMEType: imaging.MIMEPNG}, nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	data, err := imaging.EncodePNG(image.NewRGBA(image.Rect(0, 0, 6, 4)))
	require.NoError(t, err)
	return data
}

type harness struct {
	srv    *Server
	http   *httptest.Server
	client *http.Client
	png    []byte
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	png := pngBytes(t)
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg, reg)
	st := studio.New(studio.Options{
		Config: config.Config{
			GeminiTextModel:  "text",
			GeminiImageModel: "image",
			RenderWorkers:    3,
			RequestTimeout:   5 * time.Second,
		},
		Gemini:  func(string) studio.Model { return &fakeModel{image: png} },
		Metrics: m,
	})
	srv := New(Options{
		Studio:     st,
		Sessions:   session.NewStore(session.Options{TTL: time.Minute}),
		Metrics:    m,
		RunTimeout: 10 * time.Second,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &harness{srv: srv, http: ts, client: &http.Client{Jar: jar}, png: png}
}

func (h *harness) post(t *testing.T, path string, fields map[string]string, image []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "ref.png")
		require.NoError(t, err)
		_, _ = fw.Write(image)
	}
	require.NoError(t, mw.Close())

	resp, err := h.client.Post(h.http.URL+path, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := h.client.Get(h.http.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSessionCookieAndTheme(t *testing.T) {
	h := newHarness(t)

	resp := h.get(t, "/api/session")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	s := decode[sessionResponse](t, resp)
	assert.Equal(t, "light", s.Theme)
	assert.Equal(t, "1:1", s.Aspect)
	assert.Equal(t, []string{"1:1", "16:9", "9:16", "4:3", "3:4"}, s.Aspects)
	assert.NotEmpty(t, s.DefaultScene)

	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == cookieName {
			found = true
			assert.True(t, c.HttpOnly)
			assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		}
	}
	assert.True(t, found)

	resp, err := h.client.Post(h.http.URL+"/api/theme", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, map[string]string{"theme": "dark"}, decode[map[string]string](t, resp))

	assert.Equal(t, "dark", decode[sessionResponse](t, h.get(t, "/api/session")).Theme)
}

func TestForgedSessionCookieIsReplaced(t *testing.T) {
	h := newHarness(t)

	req, err := http.NewRequest(http.MethodGet, h.http.URL+"/api/session", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: "chosen-by-client"})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var issued string
	for _, c := range resp.Cookies() {
		if c.Name == cookieName {
			issued = c.Value
		}
	}
	assert.NotEmpty(t, issued)
	assert.NotEqual(t, "chosen-by-client", issued)

	_, ok := h.srv.sessions.Lookup("chosen-by-client")
	assert.False(t, ok)
	_, ok = h.srv.sessions.Lookup(issued)
	assert.True(t, ok)
}

func TestShotMissingInputs(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/api/shot", map[string]string{}, h.png)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, studio.ErrMissingGeminiKey.Error(), decode[apiError](t, resp).Error)

	resp = h.post(t, "/api/shot", map[string]string{"gemini_key": "k"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, studio.ErrMissingImage.Error(), decode[apiError](t, resp).Error)

	resp = h.post(t, "/api/shot", map[string]string{"gemini_key": "k", "aspect_ratio": "2:1"}, h.png)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.post(t, "/api/grid", map[string]string{"gemini_key": "k", "renderer": "proxy"}, h.png)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, studio.ErrMissingProxyKey.Error(), decode[apiError](t, resp).Error)

	resp = h.post(t, "/api/shot", map[string]string{"gemini_key": "k"}, []byte("GIF89a not supported"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestShotAndDownload(t *testing.T) {
	h := newHarness(t)

	resp := h.get(t, "/api/shot/download")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.post(t, "/api/shot", map[string]string{"gemini_key": "k", "aspect_ratio": "16:9"}, h.png)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	shot := decode[shotResponse](t, resp)
	assert.Equal(t, "a cinematic prompt", shot.Prompt)
	assert.True(t, strings.HasPrefix(shot.Image, "data:image/png;base64,"))

	resp = h.get(t, shot.Download)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="lynchvision_shot.png"`, resp.Header.Get("content-disposition"))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, h.png, body)

	s := decode[sessionResponse](t, h.get(t, "/api/session"))
	require.NotNil(t, s.LastShot)
	assert.Equal(t, "16:9", s.LastShot.Aspect)
	assert.Equal(t, "16:9", s.Aspect)
}

func TestGridRunsInBackground(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/api/grid", map[string]string{"gemini_key": "k"}, h.png)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	run := decode[gridResponse](t, resp)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, studio.RendererDirect, run.Renderer)

	h.srv.Wait()

	s := decode[sessionResponse](t, h.get(t, "/api/session"))
	require.NotNil(t, s.Grid)
	assert.Equal(t, run.RunID, s.Grid.ID)
	assert.Equal(t, "done", s.Grid.Stage)
	assert.True(t, s.Grid.Done)
	assert.Equal(t, 9, s.Grid.Completed)
	assert.Equal(t, []int{0, 1, 2, 3, 5, 6, 7, 8}, s.Grid.Present)
	assert.Len(t, s.Grid.Prompts, 9)
	assert.Nil(t, s.LastShot)

	resp = h.get(t, "/api/grid/0")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("content-type"))
	assert.Equal(t, `attachment; filename="lynchvision_shot_1.jpg"`, resp.Header.Get("content-disposition"))
	body, _ := io.ReadAll(resp.Body)
	info, err := imaging.Inspect(body)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", info.Format)

	assert.Equal(t, http.StatusNotFound, h.get(t, "/api/grid/4").StatusCode)
	assert.Equal(t, http.StatusNotFound, h.get(t, "/api/grid/12").StatusCode)
	assert.Equal(t, http.StatusBadRequest, h.get(t, "/api/grid/x").StatusCode)

	resp = h.get(t, "/api/grid/archive")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="lynchvision_storyboard.zip"`, resp.Header.Get("content-disposition"))
	raw, _ := io.ReadAll(resp.Body)
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "lynchvision_shot_1.jpg")
	assert.Contains(t, names, "prompts.txt")
	assert.NotContains(t, names, "lynchvision_shot_5.jpg")
	assert.Len(t, names, 9)
}

func TestGridEndpointsWithoutRun(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusNotFound, h.get(t, "/api/grid/0").StatusCode)
	assert.Equal(t, http.StatusNotFound, h.get(t, "/api/grid/archive").StatusCode)
}

func TestStaticAndMetrics(t *testing.T) {
	h := newHarness(t)

	resp := h.get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "LynchVision")

	h.get(t, "/api/session")
	resp = h.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ = io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `lynchvision_http_requests_total{code="200",method="GET",route="GET /api/session"}`)
}
