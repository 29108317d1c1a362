// Package server exposes the bridge over HTTP: the Zoho routes behind the
// session cookie middleware and, optionally, the MCP endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"zoho-crm-bridge/internal/bridge"
	"zoho-crm-bridge/internal/session"
)

const shutdownTimeout = 10 * time.Second

// Config holds the HTTP server configuration.
type Config struct {
	Addr   string
	Cookie session.CookieOptions
	// MCP is mounted at /mcp when set.
	MCP http.Handler
}

// Server wraps the router and the HTTP server.
type Server struct {
	config     Config
	bridge     *bridge.Service
	store      session.Store
	logger     *zerolog.Logger
	router     chi.Router
	httpServer *http.Server
}

// New creates a server and registers its routes.
func New(cfg Config, svc *bridge.Service, store session.Store, logger *zerolog.Logger) *Server {
	s := &Server{
		config: cfg,
		bridge: svc,
		store:  store,
		logger: logger,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.logger))
	r.Use(middleware.Recoverer)

	if s.config.MCP != nil {
		r.Handle("/mcp", s.config.MCP)
	}

	cookie := s.config.Cookie
	if cookie.Fail == nil {
		cookie.Fail = s.writeSessionFailure
	}

	r.Group(func(r chi.Router) {
		r.Use(session.Middleware(s.store, cookie, s.logger))

		r.Post("/contact", s.handleContact)
		r.Post("/deal", s.handleDeal)
		r.Get("/login", s.handleLogin)
		r.Get("/logout", s.handleLogout)
		r.Get("/refresh-token", s.handleRefreshToken)
	})

	return r
}

// Run starts the HTTP server and blocks until ctx is done or a shutdown
// signal arrives, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.config.Addr).Bool("mcp", s.config.MCP != nil).Msg("starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		s.logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
		s.logger.Info().Msg("context cancelled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

// accessLog logs one line per request with the chi request id.
func accessLog(logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
