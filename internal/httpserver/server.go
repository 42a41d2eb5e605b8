// Package httpserver is the HTTP adapter: echo routes and handlers over
// the application service, plus the viewer WebSocket endpoint.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/stagepulse/stagepulse/internal/app"
	"github.com/stagepulse/stagepulse/internal/config"
	ws "github.com/stagepulse/stagepulse/internal/websocket"
)

// HealthCheck is a named health check function.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app          *app.Service
	hub          *ws.Hub
	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, svc *app.Service, hub *ws.Hub, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		app:          svc,
		hub:          hub,
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}
	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
