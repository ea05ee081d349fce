package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulseline/twitchrelay/internal/version"
)

// connectionStatus is the subset of the EventSub client the health
// endpoint reads.
type connectionStatus interface {
	IsConnected() bool
	SessionID() string
}

type healthResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	SessionID string `json:"session_id,omitempty"`
}

type Server struct {
	echo   *echo.Echo
	status connectionStatus
	port   string
}

func NewServer(port string, status connectionStatus) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	srv := &Server{echo: e, status: status, port: port}

	e.GET("/healthz", srv.handleHealth)
	e.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, version.Get())
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return srv
}

// handleHealth reports 200 while the socket is open and 503 otherwise,
// so orchestrators can restart a relay that lost its connection.
func (s *Server) handleHealth(c echo.Context) error {
	connected := s.status.IsConnected()
	resp := healthResponse{
		Status:    "ok",
		Connected: connected,
		SessionID: s.status.SessionID(),
	}
	if !connected {
		resp.Status = "disconnected"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) Start() error {
	return s.echo.Start(":" + s.port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
