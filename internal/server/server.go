// Package server exposes loan sessions over HTTP: JSON endpoints for every
// session operation, multipart document intake and a websocket stream of
// session events.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"loanflow/internal/loan"
	"loanflow/internal/metrics"
)

// DefaultMaxUpload caps the multipart body of a single file upload.
const DefaultMaxUpload = 8 << 20

// Options tune the HTTP surface.
type Options struct {
	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string
	// MaxUpload caps an upload request body; zero uses DefaultMaxUpload.
	MaxUpload int64
}

// Server routes HTTP requests to the application service.
type Server struct {
	svc       *loan.Service
	logger    loan.Logger
	metrics   *metrics.Collector
	maxUpload int64
	upgrader  websocket.Upgrader
	router    chi.Router
}

// New builds the router. m may be nil, in which case /metrics is not
// served and requests are not counted.
func New(svc *loan.Service, logger loan.Logger, m *metrics.Collector, opts Options) *Server {
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = DefaultMaxUpload
	}
	s := &Server{
		svc:       svc,
		logger:    logger,
		metrics:   m,
		maxUpload: opts.MaxUpload,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/flows", s.handleListFlows)
		r.Get("/flows/{kind}", s.handleGetFlow)

		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Use(s.withSession)
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleCloseSession)
			r.Patch("/fields", s.handleSetFields)
			r.Put("/flags/{flag}", s.handleSetFlag)
			r.Put("/files/{slot}", s.handleStageFile)
			r.Delete("/files/{slot}", s.handleClearFile)
			r.Get("/files/{slot}/preview", s.handlePreview)
			r.Post("/advance", s.handleAdvance)
			r.Post("/retreat", s.handleRetreat)
			r.Post("/restart", s.handleRestart)
			r.Post("/auth/widget", s.handleWidget)
			r.Post("/auth/code", s.handleRequestCode)
			r.Post("/auth/confirm", s.handleConfirmCode)
			r.Post("/auth/signout", s.handleSignOut)
			r.Get("/events", s.handleEvents)
		})
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
