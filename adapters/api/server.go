// Package api exposes the experiment registry over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"callsplit/app"
	"callsplit/domain/core"
)

// Server wires the registry into a gin router.
type Server struct {
	router   *gin.Engine
	registry *app.Registry
}

// NewServer creates the HTTP server around an initialized registry.
func NewServer(registry *app.Registry) *Server {
	s := &Server{
		router:   gin.Default(),
		registry: registry,
	}
	s.registerRoutes()
	return s
}

// Router exposes the underlying gin engine for embedding and tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run blocks serving HTTP until the listener fails.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api")
	{
		api.POST("/tests", s.createTest)
		api.GET("/tests", s.listTests)
		api.GET("/tests/:id", s.getTest)
		api.DELETE("/tests/:id", s.deleteTest)

		api.POST("/tests/:id/start", s.startTest)
		api.POST("/tests/:id/pause", s.pauseTest)
		api.POST("/tests/:id/resume", s.resumeTest)
		api.POST("/tests/:id/stop", s.stopTest)

		api.GET("/tests/:id/results", s.results)
		api.GET("/tests/:id/comparison", s.comparison)
		api.GET("/tests/:id/timeseries", s.timeSeries)
		api.GET("/tests/:id/calls", s.pendingCalls)
		api.GET("/tests/:id/export", s.export)
	}
}

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case core.IsNotFoundError(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case core.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case core.IsTransitionError(err), errors.Is(err, core.ErrTestActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func testID(c *gin.Context) (core.TestID, bool) {
	id, err := core.ParseTestID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return id, true
}

// Shutdown delegates to the registry so main can stop loops on SIGTERM.
func (s *Server) Shutdown(ctx context.Context) {
	s.registry.Shutdown(ctx)
}
