package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	app "github.com/kode4food/tollgate"
	"github.com/kode4food/tollgate/pkg/api"
)

func (s *Server) handleHealth(c *gin.Context) {
	res := api.HealthResponse{
		Service: app.Name,
		Version: app.Version,
		Status:  api.HealthHealthy,
	}
	if err := s.engine.Health(c.Request.Context()); err != nil {
		res.Status = api.HealthUnhealthy
		res.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listPrograms(c *gin.Context) {
	programs := s.engine.Programs()
	c.JSON(http.StatusOK, api.ProgramsResponse{
		Programs: programs,
		Count:    len(programs),
	})
}
