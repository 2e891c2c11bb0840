package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/factory-scheduler/internal/backend"
	"github.com/seantiz/factory-scheduler/internal/engine"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second

	// writeTimeout bounds ordinary responses. Experiment creation stages
	// and submits every scenario inside the request, so it is generous.
	// Event streams clear it.
	writeTimeout = 2 * time.Minute

	requestIDHeader = "X-Request-Id"
)

// Server exposes an engine over HTTP.
type Server struct {
	router   *chi.Mux
	registry *backend.Registry
	active   string
	engine   *engine.Engine
	logger   *slog.Logger
	addr     string
}

// NewServer creates and configures a new HTTP server. active names the
// backend from reg that eng submits to.
func NewServer(addr string, eng *engine.Engine, reg *backend.Registry, active string, logger *slog.Logger) *Server {
	srv := &Server{
		router:   chi.NewRouter(),
		registry: reg,
		active:   active,
		engine:   eng,
		logger:   logger,
		addr:     addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(echoRequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle(metricsPath, metricsHandler())

	s.router.Get("/v1/backends", s.handleListBackends)
	s.router.Get("/v1/names/random", s.handleRandomName)
	s.router.Get("/v1/submissions", s.handleListSubmissions)

	s.router.Route("/v1/experiments", func(r chi.Router) {
		r.Post("/", s.handleCreateExperiment)
		r.Get("/", s.handleListExperiments)
		r.Get("/{name}", s.handleGetExperiment)
		r.Get("/{name}/events", s.handleStreamEvents)
		r.Delete("/{name}", s.handleDeleteExperiment)
	})

	s.router.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Delete("/{id}", s.handleDeleteJob)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully. A listener that fails to start is returned as an error.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		s.logger.Info("shutting down", "reason", context.Cause(sigCtx).Error())
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Shutdown does not wait for event streams; they end when their
	// connections are closed.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// echoRequestID copies the id assigned by middleware.RequestID onto the
// response so clients can quote it.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(requestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request. Server errors are logged at warn,
// probes and scrapes at debug.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		switch {
		case ww.Status() >= http.StatusInternalServerError:
			level = slog.LevelWarn
		case r.URL.Path == "/healthz" || r.URL.Path == metricsPath:
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
