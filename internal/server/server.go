package server

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 2 * time.Second

type Server struct {
	Engine *gin.Engine
	Addr   string
	checks map[string]HealthCheck
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck adds a named dependency to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// WithMetrics serves h at GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.Engine.GET("/metrics", gin.WrapH(h))
	}
}

func New(addr string, mode string, opts ...Option) *Server {
	if mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	s := &Server{
		Engine: r,
		Addr:   addr,
		checks: make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(s)
	}

	r.GET("/health", s.healthHandler)

	return s
}

// requestLogger logs each request through slog instead of gin's default writer.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("[HTTP] Request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"took", time.Since(start).Round(time.Microsecond),
		)
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	deps := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			slog.Error("[HTTP] Health check failed", "dependency", name, "error", err)
			deps[name] = "unreachable"
			healthy = false
			continue
		}
		deps[name] = "connected"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":       "unhealthy",
			"dependencies": deps,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"dependencies": deps,
	})
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("[HTTP] Starting server", "address", s.Addr)

	go func() {
		<-ctx.Done()
		slog.Info("[HTTP] Stopping server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("[HTTP] Server forced to shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
