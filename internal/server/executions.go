package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/tollgate/internal/engine"
	"github.com/kode4food/tollgate/pkg/api"
)

func (s *Server) startExecution(c *gin.Context) {
	var req api.StartExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Errorf("%w: %w", ErrInvalidJSON, err))
		return
	}
	if req.Program == "" {
		badRequest(c, api.ValidationError("program is required"))
		return
	}
	if req.ExecutionID != "" {
		if err := api.ValidateName("execution id", req.ExecutionID); err != nil {
			badRequest(c, err)
			return
		}
	}

	var input api.Payload
	if len(req.Input) > 0 {
		input = api.Payload{Schema: api.SchemaJSON, Data: req.Input}
	}
	st, err := s.engine.StartExecution(c.Request.Context(),
		engine.StartRequest{
			ExecutionID: req.ExecutionID,
			Program:     req.Program,
			Input:       input,
		},
	)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, st)
}

func (s *Server) getExecution(c *gin.Context) {
	id := api.ExecutionID(c.Param("executionID"))
	st, err := s.engine.GetExecution(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) getExecutionEvents(c *gin.Context) {
	id := api.ExecutionID(c.Param("executionID"))

	var fromSeq int64
	if from := c.Query("from"); from != "" {
		v, err := strconv.ParseInt(from, 10, 64)
		if err != nil || v < 0 {
			badRequest(c, api.ValidationError("invalid from %q", from))
			return
		}
		fromSeq = v
	}

	evs, err := s.engine.GetExecutionEvents(c.Request.Context(), id, fromSeq)
	if err != nil {
		writeError(c, err)
		return
	}

	res := make([]*api.JournalEvent, 0, len(evs))
	for _, ev := range evs {
		res = append(res, &api.JournalEvent{
			Type:      api.EventType(ev.Type),
			Data:      ev.Data,
			Timestamp: ev.Timestamp.UnixMilli(),
			Sequence:  ev.Sequence,
		})
	}
	c.JSON(http.StatusOK, api.EventsResponse{
		Events: res,
		Count:  len(res),
	})
}

func (s *Server) resumeExecution(c *gin.Context) {
	id := api.ExecutionID(c.Param("executionID"))
	st, err := s.engine.Resume(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) cancelExecution(c *gin.Context) {
	id := api.ExecutionID(c.Param("executionID"))
	st, err := s.engine.Cancel(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
