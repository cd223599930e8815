// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/okian/eea/internal/adapters/repository"
	service "github.com/okian/eea/internal/app"
	"github.com/okian/eea/internal/domain/errkind"
	"github.com/okian/eea/internal/domain/ratelimit"
	"github.com/okian/eea/internal/domain/tenancy"
	"github.com/okian/eea/pkg/logger"
)

// DefaultMaxBodyBytes bounds POST /attest request bodies.
const DefaultMaxBodyBytes = 128 * 1024

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	Authenticate(ctx context.Context, rawKey string) (tenancy.Entry, error)
	Admit(ctx context.Context, entry tenancy.Entry) (ratelimit.Decision, error)
	Attest(ctx context.Context, body []byte) (service.Result, error)
	Fetch(ctx context.Context, id string) (repository.Record, error)
	Now() time.Time
}

// Server wires HTTP routes for the attestation API.
type Server struct {
	healthHandler *HealthHandler
	attestHandler *AttestHandler

	serviceName  string
	version      string
	maxBodyBytes int64
	logger       logger.Logger
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithMaxBodyBytes sets the request body ceiling for POST /attest.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithServiceInfo sets the name and version reported by /health.
func WithServiceInfo(name, version string) Option {
	return func(s *Server) {
		if name != "" {
			s.serviceName = name
		}
		if version != "" {
			s.version = version
		}
	}
}

// WithLogger sets the logger used for request failures.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		serviceName:  "eea",
		version:      "dev",
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler(deps.Now, s.serviceName, s.version)
	s.attestHandler = NewAttestHandler(deps, s.maxBodyBytes, s.logger)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /health", MetricsMiddleware(s.healthHandler.HandleHealth, "health"))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("POST /attest", MetricsMiddleware(s.attestHandler.HandlePostAttest, "attest"))
	mux.HandleFunc("GET /attest/{id}", MetricsMiddleware(s.attestHandler.HandleGetAttest, "attest_fetch"))
}

// Handler wraps mux with request ids, panic recovery and JSON 404/405
// responses.
func (s *Server) Handler(mux *http.ServeMux) http.Handler {
	return RequestIDMiddleware(RecoveryMiddleware(jsonFallback(mux), s.logger))
}

// jsonFallback renders mux's own not-found and method-not-allowed answers
// in the error envelope.
func jsonFallback(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, pattern := mux.Handler(r)
		if pattern != "" {
			mux.ServeHTTP(w, r)
			return
		}
		probe := &headerProbe{header: http.Header{}}
		h.ServeHTTP(probe, r)
		if probe.status == http.StatusMethodNotAllowed {
			w.Header().Set("Allow", probe.header.Get("Allow"))
			writeEnvelope(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
			return
		}
		writeEnvelope(w, r, http.StatusNotFound, string(errkind.NotFound), "route not found")
	})
}

// headerProbe records what a handler would answer without sending it.
type headerProbe struct {
	header http.Header
	status int
}

func (p *headerProbe) Header() http.Header { return p.header }

func (p *headerProbe) Write(b []byte) (int, error) {
	if p.status == 0 {
		p.status = http.StatusOK
	}
	return len(b), nil
}

func (p *headerProbe) WriteHeader(code int) {
	if p.status == 0 {
		p.status = code
	}
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

type errorResponse struct {
	OK    bool      `json:"ok"`
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: errorBody{
			Code:      code,
			Message:   message,
			RequestID: logger.RequestID(r.Context()),
		},
	})
}

// writeError maps a classified error onto its status and envelope.
func writeError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	code := errkind.CodeOf(err)
	if code == errkind.Internal {
		log.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
	}
	writeEnvelope(w, r, code.Status(), string(code), errkind.MessageOf(err))
}
