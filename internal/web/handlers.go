package web

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"lynchvision/internal/director"
	"lynchvision/internal/imaging"
	"lynchvision/internal/render"
	"lynchvision/internal/session"
	"lynchvision/internal/studio"
)

type shotMeta struct {
	Prompt   string `json:"prompt"`
	Aspect   string `json:"aspect"`
	Download string `json:"download"`
}

type sessionResponse struct {
	Theme          string                `json:"theme"`
	Aspect         string                `json:"aspect"`
	Aspects        []string              `json:"aspects"`
	DefaultScene   string                `json:"default_scene"`
	ProxyAvailable bool                  `json:"proxy_available"`
	LastShot       *shotMeta             `json:"last_shot,omitempty"`
	Grid           *session.GridSnapshot `json:"grid,omitempty"`
}

type shotResponse struct {
	Prompt   string `json:"prompt"`
	Image    string `json:"image"`
	Download string `json:"download"`
}

type gridResponse struct {
	RunID    string `json:"run_id"`
	Renderer string `json:"renderer"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	v := s.sessionFor(w, r).View()

	aspects := make([]string, 0, len(render.AspectRatios()))
	for _, a := range render.AspectRatios() {
		aspects = append(aspects, string(a))
	}

	resp := sessionResponse{
		Theme:          string(v.Theme),
		Aspect:         string(v.Aspect),
		Aspects:        aspects,
		DefaultScene:   director.DefaultScene,
		ProxyAvailable: s.studio.ProxyAvailable(s.studio.ResolveKeys(studio.Keys{})),
	}
	if v.LastShot != nil {
		resp.LastShot = &shotMeta{
			Prompt:   v.LastShot.Prompt,
			Aspect:   string(v.LastShot.Aspect),
			Download: "/api/shot/download",
		}
	}
	if v.Grid != nil {
		snap := v.Grid.Snapshot()
		resp.Grid = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTheme(w http.ResponseWriter, r *http.Request) {
	theme := s.sessionFor(w, r).ToggleTheme()
	writeJSON(w, http.StatusOK, map[string]string{"theme": string(theme)})
}

type productionForm struct {
	keys      studio.Keys
	reference imaging.Reference
	scene     string
	aspect    render.AspectRatio
	renderer  string
}

func (s *Server) parseProductionForm(w http.ResponseWriter, r *http.Request) (productionForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)
	if err := r.ParseMultipartForm(s.maxBytes); err != nil {
		return productionForm{}, errors.New("invalid multipart form")
	}

	aspect, err := render.ParseAspectRatio(r.FormValue("aspect_ratio"))
	if err != nil {
		return productionForm{}, err
	}

	form := productionForm{
		keys: studio.Keys{
			Gemini: r.FormValue("gemini_key"),
			Proxy:  r.FormValue("proxy_key"),
		},
		scene:    strings.TrimSpace(r.FormValue("scene")),
		aspect:   aspect,
		renderer: strings.TrimSpace(r.FormValue("renderer")),
	}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return form, nil
	}
	if err != nil {
		return productionForm{}, errors.New("failed to read image")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return productionForm{}, errors.New("failed to read image")
	}
	ref, err := imaging.NewReference(data, header.Header.Get("Content-Type"))
	if err != nil {
		return productionForm{}, err
	}
	form.reference = ref
	return form, nil
}

func (s *Server) handleShot(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(w, r)
	form, err := s.parseProductionForm(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	sess.SetAspect(form.aspect)

	res, err := s.studio.Shot(r.Context(), studio.ShotInput{
		Keys:      form.keys,
		Reference: form.reference,
		Scene:     form.scene,
		Aspect:    form.aspect,
	})
	if err != nil {
		s.logger.Warn("shot failed", "session", sess.ID, "err", err)
		writeJSON(w, errorStatus(err), apiError{Error: err.Error()})
		return
	}

	sess.SetShot(res.Prompt, res.PNG, form.aspect)
	writeJSON(w, http.StatusOK, shotResponse{
		Prompt:   res.Prompt,
		Image:    "data:" + imaging.MIMEPNG + ";base64," + base64.StdEncoding.EncodeToString(res.PNG),
		Download: "/api/shot/download",
	})
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(w, r)
	form, err := s.parseProductionForm(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	sess.SetAspect(form.aspect)

	keys := s.studio.ResolveKeys(form.keys)
	if err := s.studio.Validate(keys, form.reference); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	renderer, err := s.studio.PickRenderer(keys, form.renderer)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	run := sess.StartGrid(director.ShotCount)
	logger := s.logger.With("session", sess.ID, "run_id", run.ID)

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.runTimeout)
		defer cancel()

		_, err := s.studio.Grid(ctx, studio.GridInput{
			Keys:       form.keys,
			Reference:  form.reference,
			Scene:      form.scene,
			Aspect:     form.aspect,
			Renderer:   renderer,
			OnStage:    run.SetStage,
			OnPrompts:  run.SetPrompts,
			OnProgress: func(out render.Outcome, completed, _ int) { run.Record(out, completed) },
		})
		if err != nil {
			logger.Warn("grid failed", "err", err)
		}
		run.Finish(err)
	}()

	writeJSON(w, http.StatusAccepted, gridResponse{RunID: run.ID, Renderer: renderer})
}

func (s *Server) handleShotDownload(w http.ResponseWriter, r *http.Request) {
	shot := s.sessionFor(w, r).LastShot()
	if shot == nil || len(shot.PNG) == 0 {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no shot yet"})
		return
	}
	writeAttachment(w, imaging.MIMEPNG, session.ShotFilename, shot.PNG)
}

func (s *Server) handleGridImage(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid index"})
		return
	}
	run := s.sessionFor(w, r).Grid()
	if run == nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no storyboard yet"})
		return
	}
	jpeg, ok, err := run.JPEG(index)
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "shot not available"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadGateway, apiError{Error: err.Error()})
		return
	}
	writeAttachment(w, imaging.MIMEJPEG, session.GridFilename(index), jpeg)
}

func (s *Server) handleGridArchive(w http.ResponseWriter, r *http.Request) {
	run := s.sessionFor(w, r).Grid()
	if run == nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no storyboard yet"})
		return
	}
	data, n, err := run.Archive()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
		return
	}
	if n == 0 {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no shots available"})
		return
	}
	writeAttachment(w, "application/zip", session.ArchiveFilename, data)
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("content-type", contentType)
	w.Header().Set("content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("content-length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, studio.ErrMissingGeminiKey),
		errors.Is(err, studio.ErrMissingProxyKey),
		errors.Is(err, studio.ErrMissingImage),
		errors.Is(err, imaging.ErrUnsupportedFormat),
		errors.Is(err, render.ErrUnsupportedAspectRatio):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
