// ABOUTME: Echo server wiring routes, middleware, and graceful shutdown
// ABOUTME: REST and WebSocket surfaces share one coordinator and directory

package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/deskline/livechat/internal/delivery"
	"github.com/deskline/livechat/internal/directory"
)

// Server hosts the HTTP surface of the chat backend.
type Server struct {
	echo      *echo.Echo
	coord     *delivery.Coordinator
	registry  *delivery.Registry
	directory *directory.Directory
	logger    *slog.Logger
}

// NewServer builds the server and mounts all routes. Pass nil logger for
// the default.
func NewServer(coord *delivery.Coordinator, registry *delivery.Registry, dir *directory.Directory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:      e,
		coord:     coord,
		registry:  registry,
		directory: dir,
		logger:    logger.With("component", "http"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.handleHealth)

	api := s.echo.Group("/api/v1", s.identify)
	api.POST("/conversations", s.handleStartConversation)
	api.GET("/conversations", s.handleListConversations)
	api.GET("/conversations/:id", s.handleGetConversation)
	api.POST("/conversations/:id/messages", s.handleSendMessage)
	api.GET("/conversations/:id/messages", s.handlePollMessages)
	api.POST("/conversations/:id/read", s.handleMarkRead)
	api.POST("/conversations/:id/assign", s.handleAssign)
	api.POST("/conversations/:id/close", s.handleClose)
	api.POST("/conversations/:id/resolve", s.handleResolve)
	api.GET("/conversations/:id/presence", s.handlePresence)
	api.GET("/stats", s.handleStats)

	s.echo.GET("/ws", s.handleWebSocket, s.identify)
}

func (s *Server) handleHealth(c echo.Context) error {
	return respond(c, http.StatusOK, map[string]string{"status": "ok"})
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying mux for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
