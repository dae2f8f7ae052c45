// Package server builds the gin engine and HTTP server shared by the
// reader's commands, with the standard middleware chain and health routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/reader/internal/config"
	"github.com/jonesrussell/north-cloud/reader/internal/logger"
)

// Server is an HTTP server with graceful shutdown.
type Server struct {
	router *gin.Engine
	http   *http.Server
	log    logger.Logger
	cfg    config.ServerConfig
}

// Builder assembles a Server.
type Builder struct {
	service string
	version string
	debug   bool
	cfg     config.ServerConfig
	log     logger.Logger
	checks  []Check
	routes  []func(*gin.Engine)
	onStop  []func()
}

// NewBuilder starts a server definition for service.
func NewBuilder(service string, cfg config.ServerConfig) *Builder {
	return &Builder{service: service, cfg: cfg, version: "dev"}
}

func (b *Builder) WithLogger(log logger.Logger) *Builder {
	b.log = log
	return b
}

func (b *Builder) WithVersion(v string) *Builder {
	b.version = v
	return b
}

func (b *Builder) WithDebug(debug bool) *Builder {
	b.debug = debug
	return b
}

// WithCheck adds a dependency probe to GET /health.
func (b *Builder) WithCheck(name string, required bool, probe func(ctx context.Context) error) *Builder {
	b.checks = append(b.checks, Check{Name: name, Required: required, Probe: probe})
	return b
}

// WithRoutes adds a route registration step. Steps run in order after the
// middleware and health routes are installed.
func (b *Builder) WithRoutes(fn func(*gin.Engine)) *Builder {
	b.routes = append(b.routes, fn)
	return b
}

// OnShutdown registers fn to run when shutdown begins. Long-lived streams
// use it to end themselves so Shutdown does not wait out its timeout.
func (b *Builder) OnShutdown(fn func()) *Builder {
	b.onStop = append(b.onStop, fn)
	return b
}

// Build creates the engine and the http.Server.
func (b *Builder) Build() *Server {
	log := logger.OrNop(b.log)
	if b.debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(Recovery(log), RequestID(log), AccessLog(), CORS(b.cfg.CORSOrigins))
	registerHealth(r, b.service, b.version, time.Now(), b.checks)
	for _, fn := range b.routes {
		fn(r)
	}

	srv := &http.Server{
		Addr:              b.cfg.Address(),
		Handler:           r,
		ReadTimeout:       b.cfg.ReadTimeout,
		ReadHeaderTimeout: b.cfg.ReadTimeout,
		WriteTimeout:      b.cfg.WriteTimeout,
		IdleTimeout:       b.cfg.IdleTimeout,
	}
	for _, fn := range b.onStop {
		srv.RegisterOnShutdown(fn)
	}
	return &Server{router: r, log: log, cfg: b.cfg, http: srv}
}

// Router returns the gin engine.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until ctx ends, then shuts down within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", logger.String("address", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down HTTP server", logger.Duration("timeout", s.cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}
