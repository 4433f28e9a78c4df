// Package web serves the browser UI and its JSON API.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"lynchvision/internal/metrics"
	"lynchvision/internal/session"
	"lynchvision/internal/studio"
)

//go:embed static/*
var staticFS embed.FS

const (
	cookieName      = "lv_session"
	defaultMaxBytes = 25 << 20
)

type Options struct {
	Studio         *studio.Studio
	Sessions       *session.Store
	Metrics        *metrics.Collector
	MaxUploadBytes int64
	RunTimeout     time.Duration
	SessionTTL     time.Duration
	Logger         *slog.Logger
}

type Server struct {
	studio     *studio.Studio
	sessions   *session.Store
	metrics    *metrics.Collector
	maxBytes   int64
	runTimeout time.Duration
	cookieTTL  time.Duration
	logger     *slog.Logger

	// runs outlive the request that started them and stop on Close.
	ctx    context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup
}

type apiError struct {
	Error string `json:"error"`
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxBytes := opts.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	runTimeout := opts.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.NewStore(session.Options{TTL: opts.SessionTTL})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		studio:     opts.Studio,
		sessions:   sessions,
		metrics:    opts.Metrics,
		maxBytes:   maxBytes,
		runTimeout: runTimeout,
		cookieTTL:  opts.SessionTTL,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("POST /api/theme", s.handleTheme)
	mux.HandleFunc("POST /api/shot", s.handleShot)
	mux.HandleFunc("GET /api/shot/download", s.handleShotDownload)
	mux.HandleFunc("POST /api/grid", s.handleGrid)
	mux.HandleFunc("GET /api/grid/archive", s.handleGridArchive)
	mux.HandleFunc("GET /api/grid/{index}", s.handleGridImage)
	mux.Handle("GET /metrics", s.metrics.Handler())

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	mux.Handle("GET /", http.FileServer(http.FS(staticSub)))

	return withLogging(mux, s.logger, s.metrics)
}

// Close cancels background runs and waits for them to record their result.
func (s *Server) Close() {
	s.cancel()
	s.runs.Wait()
}

// Wait blocks until every background run has finished.
func (s *Server) Wait() {
	s.runs.Wait()
}

func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) *session.Session {
	var id string
	if c, err := r.Cookie(cookieName); err == nil {
		id = c.Value
	}
	sess := s.sessions.Resume(id)
	if sess.ID != id {
		cookie := &http.Cookie{
			Name:     cookieName,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		}
		if s.cookieTTL > 0 {
			cookie.MaxAge = int(s.cookieTTL.Seconds())
		}
		http.SetCookie(w, cookie)
	}
	return sess
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func withLogging(next http.Handler, logger *slog.Logger, m *metrics.Collector) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTPRequest(r.Method, route, rec.status)
		logger.Info("http", "method", r.Method, "path", r.URL.Path, "status", rec.status, "dur_ms", time.Since(start).Milliseconds())
	})
}
