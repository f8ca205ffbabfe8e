package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	lyricghost "github.com/drunkenbot/lyricghost"
)

const (
	serviceName  = "lyricghostd"
	maxBodyBytes = 1 << 20
)

// Completer produces continuations for the HTTP endpoints.
type Completer interface {
	Complete(ctx context.Context, req *lyricghost.Request) (*lyricghost.Completion, error)
	Configured() bool
	Model() string
	CorpusSize() int
	Close()
}

var errSuperseded = fmt.Errorf("%w: superseded by a newer request", lyricghost.ErrOracleUnavailable)

// detailResponse is the error body of POST /complete.
type detailResponse struct {
	Detail string `json:"detail"`
}

// sessionEntry tracks a cancellable in-flight request for a session.
type sessionEntry struct {
	requestID uint64
	cancel    context.CancelFunc
}

// Server serves completion requests over HTTP.
type Server struct {
	engine  Completer
	cfg     *lyricghost.Config
	version string
	router  chi.Router
	http    *http.Server

	mu       sync.Mutex
	nextID   uint64
	sessions map[string]sessionEntry
}

// NewServer builds the router around engine.
func NewServer(cfg *lyricghost.Config, engine Completer, version string) *Server {
	if cfg == nil {
		cfg = lyricghost.DefaultConfig()
	}
	s := &Server{
		engine:   engine,
		cfg:      cfg,
		version:  version,
		sessions: make(map[string]sessionEntry),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler(cfg.Server.AllowedOrigins))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/api/complete", s.handleComplete)
	r.Post("/complete", s.handleBackendComplete)

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown stops accepting requests, waits for in-flight ones and closes the engine.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.engine.Close()
	return err
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, lyricghost.ServiceInfo{
		Service:   serviceName,
		Status:    "running",
		Version:   s.version,
		OracleURL: lyricghost.ResolveGenerationBaseURL(s.cfg),
		Model:     s.engine.Model(),
		Corpus:    s.engine.CorpusSize(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, lyricghost.Health{
		Status:  "healthy",
		Service: serviceName,
		Version: s.version,
	})
}

// handleComplete serves POST /api/complete for editing surfaces.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PartialLyric any  `json:"partialLyric"`
		Refresh      bool `json:"refresh"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", lyricghost.ErrInvalidInput, err))
		return
	}
	text, ok := body.PartialLyric.(string)
	if !ok || strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, lyricghost.ErrInvalidInput)
		return
	}

	sid := r.Header.Get(lyricghost.SessionHeader)
	ctx, done := s.track(r.Context(), sid)
	defer done()

	c, err := s.engine.Complete(ctx, &lyricghost.Request{PartialLyric: text, Refresh: body.Refresh})
	if ctx.Err() != nil {
		slog.Debug("request cancelled", "session", sid)
		if r.Context().Err() == nil {
			// A newer request from the same session replaced this one.
			writeError(w, http.StatusConflict, errSuperseded)
		}
		return
	}
	if err != nil {
		slog.Warn("completion failed", "session", sid, "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	slog.Debug("completion", "session", sid, "text", c.Text, "cached", c.Cached)
	writeJSON(w, http.StatusOK, lyricghost.Response{Completion: c.Text})
}

// track cancels any in-flight request of session sid and registers a new
// one. done must be called when the request finishes.
func (s *Server) track(parent context.Context, sid string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	if sid == "" {
		return ctx, cancel
	}
	ctx = lyricghost.WithSessionID(ctx, sid)

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if prev, ok := s.sessions[sid]; ok {
		prev.cancel()
	}
	s.sessions[sid] = sessionEntry{requestID: id, cancel: cancel}
	s.mu.Unlock()

	return ctx, func() {
		cancel()
		s.mu.Lock()
		if cur, ok := s.sessions[sid]; ok && cur.requestID == id {
			delete(s.sessions, sid)
		}
		s.mu.Unlock()
	}
}

// handleBackendComplete serves POST /complete, which exposes the raw oracle
// answer next to the cleaned continuation.
func (s *Server) handleBackendComplete(w http.ResponseWriter, r *http.Request) {
	var body lyricghost.BackendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, detailResponse{Detail: "invalid request body: " + err.Error()})
		return
	}
	if msg := s.validateBackend(&body); msg != "" {
		writeJSON(w, http.StatusUnprocessableEntity, detailResponse{Detail: msg})
		return
	}

	req := &lyricghost.Request{PartialLyric: body.Text, Temperature: body.Temperature}
	if body.MaxTokens != nil {
		req.MaxTokens = *body.MaxTokens
	}
	slog.Info("completion request", "text", truncate(body.Text, 50), "max_tokens", req.MaxTokens)

	c, err := s.engine.Complete(r.Context(), req)
	switch {
	case errors.Is(err, lyricghost.ErrOracleEmpty) && c != nil:
		writeJSON(w, http.StatusOK, lyricghost.BackendResponse{RawCompletion: c.Raw})
	case err != nil:
		slog.Error("completion failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, detailResponse{Detail: "Completion generation failed: " + err.Error()})
	default:
		writeJSON(w, http.StatusOK, lyricghost.BackendResponse{Completion: c.Text, RawCompletion: c.Raw})
	}
}

func (s *Server) validateBackend(body *lyricghost.BackendRequest) string {
	if body.Text == "" {
		return "text: must contain at least 1 character"
	}
	if body.MaxTokens != nil {
		limit := s.cfg.Generation.MaxAllowedTokens
		if *body.MaxTokens < 1 || (limit > 0 && *body.MaxTokens > limit) {
			return fmt.Sprintf("max_tokens: must be between 1 and %d", limit)
		}
	}
	if body.Temperature != nil && (*body.Temperature < 0 || *body.Temperature > 2) {
		return "temperature: must be between 0 and 2"
	}
	return ""
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, lyricghost.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, lyricghost.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, lyricghost.ErrorResponse{Error: err.Error(), Code: lyricghost.ErrorCode(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// corsHandler allows browser editors served from origins to call the API.
// Credentials are never allowed.
func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		// go-chi/cors treats an empty list as "*".
		return func(next http.Handler) http.Handler { return next }
	}
	trimmed := make([]string, len(origins))
	for i, o := range origins {
		trimmed[i] = strings.TrimRight(o, "/")
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: trimmed,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", lyricghost.SessionHeader},
		MaxAge:         600,
	})
}
