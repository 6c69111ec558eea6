// Package server exposes the HTTP trigger for extraction runs and preflight
// checks.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nucleus/metadata-extractor/internal/config"
	"github.com/nucleus/metadata-extractor/internal/credentials"
	"github.com/nucleus/metadata-extractor/internal/preflight"
	"github.com/nucleus/metadata-extractor/internal/workflows"
)

// Starter starts extraction runs.
type Starter interface {
	Start(ctx context.Context, workflowID string, cfg workflows.WorkflowConfig) (workflows.RunRef, error)
}

// Checker runs preflight checks against a live source.
type Checker interface {
	Check(ctx context.Context, cred credentials.Credential, filters preflight.Filters) preflight.Result
	TestAuthentication(ctx context.Context, cred credentials.Credential) (any, error)
	FilterMetadata(ctx context.Context, cred credentials.Credential) (map[string][]string, error)
}

// Server holds the HTTP handlers.
type Server struct {
	cfg     *config.Config
	creds   credentials.Store
	starter Starter
	checker Checker
	logger  *zap.Logger
}

// New creates a Server.
func New(cfg *config.Config, creds credentials.Store, starter Starter, checker Checker, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, creds: creds, starter: starter, checker: checker, logger: logger}
}

// Handler returns the routed handler. Everything except /health requires
// authentication when a JWKS URL is configured.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /workflow/start", s.startWorkflow)
	api.HandleFunc("POST /preflight/check", s.preflightCheck)
	api.HandleFunc("POST /preflight/test-authentication", s.testAuthentication)
	api.HandleFunc("POST /preflight/filter-metadata", s.filterMetadata)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("/", AuthMiddleware(s.cfg, s.logger)(api))
	return s.logRequests(mux)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// errorResponse is the uniform failure body.
type errorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	body := errorResponse{Message: message, ErrorCode: code}
	if err != nil {
		body.Error = err.Error()
	}
	writeJSON(w, status, body)
}
