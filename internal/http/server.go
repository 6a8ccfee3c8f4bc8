// Package httpserver serves the operations API of a running maintainer.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dbmaintain/dbmaintain/internal/auth"
	"github.com/dbmaintain/dbmaintain/internal/db"
	"github.com/dbmaintain/dbmaintain/internal/maintainer"
	"github.com/dbmaintain/dbmaintain/internal/metrics"
	"github.com/dbmaintain/dbmaintain/internal/rbac"
)

// Engine is the part of the maintainer the API drives.
type Engine interface {
	UpdateDatabase(ctx context.Context, dryRun bool) (*maintainer.Result, error)
	CheckScriptUpdates(ctx context.Context) (*maintainer.Result, error)
	MarkErrorScriptPerformed(ctx context.Context) error
	MarkErrorScriptReverted(ctx context.Context) error
	Status(ctx context.Context) (*maintainer.Status, error)
	Databases() *db.Databases
}

type Server struct {
	addr    string
	logger  requestLogger
	engine  Engine
	tokens  *auth.TokenManager
	metrics *metrics.Collector
}

type requestLogger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

func New(addr string, logger requestLogger, engine Engine, tokens *auth.TokenManager, collector *metrics.Collector) *Server {
	return &Server{
		addr:    addr,
		logger:  logger,
		engine:  engine,
		tokens:  tokens,
		metrics: collector,
	}
}

func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// updates run inside the request and may take long
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	var rec requestRecorder
	if s.metrics != nil {
		rec = s.metrics
	}
	r.Use(RequestLogger(s.logger, rec))

	authMiddleware := NewAuthMiddleware(s.tokens, s.logger)
	ops := &OpsHandler{engine: s.engine, logger: s.logger}

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Method(http.MethodGet, "/health", HealthHandler{DBs: s.engine.Databases()})

		api.Group(func(read chi.Router) {
			read.Use(middleware.Timeout(60 * time.Second))
			read.Use(authMiddleware.RequireAuth)
			read.Use(authMiddleware.RequireRoles(rbac.RoleViewer, rbac.RoleOperator))
			read.Get("/status", ops.Status)
			read.Get("/updates", ops.Updates)
		})

		api.Group(func(write chi.Router) {
			write.Use(authMiddleware.RequireAuth)
			write.Use(authMiddleware.RequireRoles(rbac.RoleOperator))
			write.Post("/update", ops.Update)
			write.Post("/mark-error-performed", ops.MarkErrorPerformed)
			write.Post("/mark-error-reverted", ops.MarkErrorReverted)
		})
	})
	return r
}
