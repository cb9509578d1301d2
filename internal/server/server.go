package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/overcast-ai/backplane/internal/backends"
	"github.com/overcast-ai/backplane/internal/routing"
)

// Server is the backplane HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	Registry     *routing.Registry
	ControlPlane *routing.ControlPlane
	Diagnostics  *routing.Diagnostics
	Pools        *backends.Pools
	Logger       *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	BackendTimeout      time.Duration
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Registry:            cfg.Registry,
		ControlPlane:        cfg.ControlPlane,
		Diagnostics:         cfg.Diagnostics,
		Pools:               cfg.Pools,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		BackendTimeout:      cfg.BackendTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Event spine.
	mux.HandleFunc("POST /v1/events/append", h.HandleAppendEvent)
	mux.HandleFunc("GET /v1/events/replay", h.HandleReplayEvents)
	mux.HandleFunc("GET /v1/events/list", h.HandleListEvents)

	// Blackboard store.
	mux.HandleFunc("POST /v1/blackboard/write", h.HandleBlackboardWrite)
	mux.HandleFunc("GET /v1/blackboard/read", h.HandleBlackboardRead)
	mux.HandleFunc("GET /v1/blackboard/keys", h.HandleBlackboardKeys)

	// Memory store.
	mux.HandleFunc("POST /v1/memory/set", h.HandleMemorySet)
	mux.HandleFunc("GET /v1/memory/get", h.HandleMemoryGet)
	mux.HandleFunc("DELETE /v1/memory/delete", h.HandleMemoryDelete)
	mux.HandleFunc("GET /v1/memory/keys", h.HandleMemoryKeys)

	// Analytics sink.
	mux.HandleFunc("POST /v1/analytics/record", h.HandleRecordMetric)

	// Routing control plane.
	mux.HandleFunc("PUT /v1/routes", h.HandleUpsertRoute)
	mux.HandleFunc("GET /v1/routes", h.HandleListRoutes)
	mux.HandleFunc("DELETE /v1/routes", h.HandleDeleteRoute)
	mux.HandleFunc("GET /v1/diagnostics/routes", h.HandleDiagnostics)

	// Health (no identity headers required).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → identity → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = identityMiddleware(handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// recoveryMiddleware converts handler panics into 500 responses.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("handler panic",
					"panic", rec,
					"path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal", "internal server error", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
