// Package server exposes the query pipeline over HTTP: the query
// endpoint itself, direct lookups that bypass the model tier, and
// cache/memory administration.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/mindmate/cognigate/ai/engine"
	"github.com/mindmate/cognigate/ai/metrics"
	"github.com/mindmate/cognigate/internal/profile"
	"github.com/mindmate/cognigate/store"
)

// Server is the HTTP front of the gateway.
type Server struct {
	echo    *echo.Echo
	profile *profile.Profile
	store   *store.Store
	engine  *engine.Engine
}

// NewServer wires routes and middleware.
func NewServer(p *profile.Profile, st *store.Store, eng *engine.Engine, exporter *metrics.Exporter) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())
	e.Use(requestLogger())

	s := &Server{
		echo:    e,
		profile: p,
		store:   st,
		engine:  eng,
	}

	e.GET("/healthz", s.healthz)
	if exporter != nil {
		e.GET("/metrics", echo.WrapHandler(exporter.Handler()))
	}

	v1 := e.Group("/api/v1")
	v1.POST("/query", s.handleQuery)
	v1.GET("/patients/at-risk", s.handleAtRisk)
	v1.GET("/patients/:id", s.handlePatient)
	v1.GET("/patients/:id/dashboard", s.handleDashboard)
	v1.GET("/memory/stats", s.handleMemoryStats)

	admin := v1.Group("/cache")
	admin.GET("/stats", s.handleCacheStats)
	admin.POST("/invalidate/:patientID", s.handleCacheInvalidate)
	admin.POST("/clear", s.handleCacheClear)
	admin.POST("/cleanup", s.handleCacheCleanup)

	return s
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.profile.ListenAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("server listening", "addr", s.profile.ListenAddr(), "mode", s.profile.Mode)

	select {
	case err := <-errCh:
		return errors.Wrap(err, "starting server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutting down server")
	}
	return nil
}

// Echo exposes the router for handler tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			)
			return nil
		},
	})
}
