// Package server hosts the coordinator HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/MasterofNull/hybrid-coordinator/internal/profile"
	apiv1 "github.com/MasterofNull/hybrid-coordinator/server/router/api/v1"
)

type Server struct {
	Profile *profile.Profile

	echoServer *echo.Echo
	listener   net.Listener
}

// NewServer builds the echo server and mounts the API. The listener is
// opened by Start.
func NewServer(_ context.Context, profile *profile.Profile, apiV1Service *apiv1.APIV1Service) (*Server, error) {
	if apiV1Service == nil {
		return nil, errors.New("api service is required")
	}

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz" || c.Path() == "/metrics"
		},
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Int64("latency_ms", v.Latency.Milliseconds()),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			slog.LogAttrs(c.Request().Context(), level, "http request", attrs...)
			return nil
		},
	}))

	apiV1Service.RegisterRoutes(echoServer)

	return &Server{
		Profile:    profile,
		echoServer: echoServer,
	}, nil
}

// Start opens the listener and serves in the background. Bind errors are
// returned here rather than lost in the serving goroutine.
func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", address)
	}
	s.listener = listener
	s.echoServer.Listener = listener

	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "error", err)
		}
	}()
	slog.Info("coordinator listening", "addr", listener.Addr().String())
	return nil
}

// Addr is the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler exposes the router for in-process callers.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown http server", "error", err)
	}
	slog.Info("http server stopped")
}
