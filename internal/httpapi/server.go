// Package httpapi hosts the orchestrator's command surface over HTTP so
// any UI — web, native shell, headless harness — can drive it. Commands
// are typed huma operations; lifecycle events stream over SSE.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/convertworks/convertd/internal/config"
	"github.com/convertworks/convertd/internal/engine"
	"github.com/convertworks/convertd/internal/events"
	"github.com/convertworks/convertd/internal/history"
	"github.com/convertworks/convertd/internal/version"
)

// Server hosts the HTTP API.
type Server struct {
	cfg     config.ServerConfig
	logger  *slog.Logger
	orch    *engine.Orchestrator
	bus     *events.Bus
	history *history.Store // nil when the ledger is disabled

	httpServer *http.Server
}

// NewServer creates the HTTP host. history may be nil.
func NewServer(cfg config.ServerConfig, orch *engine.Orchestrator, bus *events.Bus, hist *history.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "httpapi")),
		orch:    orch,
		bus:     bus,
		history: hist,
	}
}

// Handler builds the router with all routes registered.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(s.corsMiddleware)

	humaConfig := huma.DefaultConfig("convertd", version.Version)
	humaConfig.Info.Description = "Media conversion orchestrator API"
	api := humachi.New(router, humaConfig)

	h := &handlers{orch: s.orch, history: s.history, logger: s.logger}
	h.Register(api)

	// SSE cannot be expressed as a huma operation; it mounts directly on
	// the chi router.
	sse := &sseHandler{bus: s.bus, logger: s.logger, heartbeat: 30 * time.Second}
	router.Get("/api/v1/events", sse.ServeHTTP)

	return router
}

// Start begins serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: 0, // SSE streams must not be cut off by a write deadline
	}

	s.logger.Info("http server listening", slog.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware applies the configured allowed origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origins := s.cfg.CORSOrigins
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "":
			for _, o := range origins {
				if o == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
