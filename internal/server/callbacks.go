package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/tollgate/internal/engine"
	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/log"
)

func (s *Server) getCallback(c *gin.Context) {
	token, ok := tokenParam(c)
	if !ok {
		return
	}
	rec, err := s.engine.GetCallback(c.Request.Context(), token)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) resolveCallback(c *gin.Context) {
	token, ok := tokenParam(c)
	if !ok {
		return
	}

	var req api.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Errorf("%w: %w", ErrInvalidJSON, err))
		return
	}
	payload := req.Payload()
	if err := payload.Validate(); err != nil {
		badRequest(c, err)
		return
	}

	res, err := s.engine.ResolveCallback(c.Request.Context(), token, payload)
	s.writeSettled(c, token, res, err)
}

func (s *Server) rejectCallback(c *gin.Context) {
	token, ok := tokenParam(c)
	if !ok {
		return
	}

	var req api.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Errorf("%w: %w", ErrInvalidJSON, err))
		return
	}

	res, err := s.engine.RejectCallback(c.Request.Context(), token, req.Error)
	s.writeSettled(c, token, res, err)
}

func (s *Server) writeSettled(
	c *gin.Context, token api.Token, res *engine.Settled, err error,
) {
	if err != nil {
		slog.Warn("Callback resolution refused",
			log.Token(token), log.Error(err))
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.SettledResponse{
		Callback:       res.Record,
		AlreadySettled: res.AlreadySettled(),
	})
}

func tokenParam(c *gin.Context) (api.Token, bool) {
	token := api.Token(c.Param("token"))
	if err := api.ValidateToken(token); err != nil {
		badRequest(c, err)
		return "", false
	}
	return token, true
}
