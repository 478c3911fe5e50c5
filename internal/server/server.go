package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/kode4food/tollgate/internal/engine"
	"github.com/kode4food/tollgate/internal/notify"
	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/util"
)

// Server implements the HTTP API server for the engine
type Server struct {
	engine  *engine.Engine
	slack   notify.SlackConfig
	sockets util.Set[*Client]
	mu      sync.Mutex
}

var ErrInvalidJSON = errors.New("invalid JSON")

// NewServer creates a new HTTP API server
func NewServer(eng *engine.Engine) *Server {
	return &Server{
		engine:  eng,
		slack:   eng.Config().Slack,
		sockets: util.Set[*Client]{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	router.GET("/health", s.handleHealth)
	router.GET("/programs", s.listPrograms)

	executions := router.Group("/executions")
	{
		executions.POST("", s.startExecution)
		executions.GET("/:executionID", s.getExecution)
		executions.GET("/:executionID/events", s.getExecutionEvents)
		executions.GET("/:executionID/watch", s.watchExecution)
		executions.POST("/:executionID/resume", s.resumeExecution)
		executions.POST("/:executionID/cancel", s.cancelExecution)
	}

	callbacks := router.Group("/callbacks")
	{
		callbacks.GET("/:token", s.getCallback)
		callbacks.POST("/:token/resolve", s.resolveCallback)
		callbacks.POST("/:token/reject", s.rejectCallback)
	}

	router.POST("/webhook/slack", s.handleSlackWebhook)
	return router
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Add(c)
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Remove(c)
}

// CloseWebSockets closes all active WebSocket connections.
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// writeError maps engine and domain errors onto HTTP statuses
func writeError(c *gin.Context, err error) {
	status := errorStatus(err)
	c.JSON(status, api.ErrorResponse{
		Error:  err.Error(),
		Status: status,
	})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, api.ErrExecutionNotFound),
		errors.Is(err, api.ErrUnknownToken):
		return http.StatusNotFound
	case errors.Is(err, api.ErrExecutionExists),
		errors.Is(err, engine.ErrExecutionTerminal):
		return http.StatusConflict
	case errors.Is(err, api.ErrValidation),
		errors.Is(err, engine.ErrUnknownProgram):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrEngineStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, api.ErrorResponse{
		Error:  err.Error(),
		Status: http.StatusBadRequest,
	})
}
