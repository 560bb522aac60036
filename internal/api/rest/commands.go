package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenFeederCore/internal/commands"
	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GET /api/v1/devices/commands?device_id=
func (s *Server) pollCommands(c *gin.Context) {
	deviceID := c.Query("device_id")
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("REQUEST_400", "Device ID is required", nil))
		return
	}

	ctx := c.Request.Context()
	device, err := s.lm.Registry().Get(ctx, deviceID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	pending, err := s.lm.Queue().DrainPending(ctx, device)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"commands": pending,
	})
}

type acknowledgeRequest struct {
	DeviceID  string `json:"device_id" binding:"required,max=50"`
	CommandID string `json:"command_id" binding:"required,uuid"`
	Status    string `json:"status" binding:"required,max=20"`
	Timestamp int64  `json:"timestamp"`
}

// POST /api/v1/devices/acknowledge
func (s *Server) acknowledgeCommand(c *gin.Context) {
	var req acknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	commandID, err := uuid.Parse(req.CommandID)
	if err != nil {
		s.respondError(c, types.NewValidationError("command_id", "must be a valid UUID"))
		return
	}

	ctx := c.Request.Context()
	device, err := s.lm.Registry().Get(ctx, req.DeviceID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if _, err := s.lm.Queue().Acknowledge(ctx, device, commandID, req.Status); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Command acknowledged",
	})
}

type enqueueRequest struct {
	Type       types.CommandType `json:"type" binding:"required"`
	Parameters json.RawMessage   `json:"parameters"`
}

// POST /api/v1/devices/:device_id/commands
func (s *Server) enqueueCommand(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	params, err := commands.ParseParameters(req.Type, req.Parameters)
	if err != nil {
		s.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	device, err := s.lm.Registry().Get(ctx, c.Param("device_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	cmd, err := s.lm.Queue().Enqueue(ctx, device, params)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, cmd)
}

// GET /api/v1/devices/:device_id/commands
func (s *Server) listCommands(c *gin.Context) {
	limit, err := queryLimit(c, commands.DefaultListLimit)
	if err != nil {
		s.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	device, err := s.lm.Registry().Get(ctx, c.Param("device_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	list, err := s.lm.Queue().List(ctx, device, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"commands": list,
		"count":    len(list),
	})
}

// queryLimit parses ?limit=, returning def when absent.
func queryLimit(c *gin.Context, def int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, types.NewValidationError("limit", "must be a positive integer")
	}
	return n, nil
}

// GET /api/v1/devices/:device_id/commands/:command_id
func (s *Server) getCommand(c *gin.Context) {
	commandID, err := uuid.Parse(c.Param("command_id"))
	if err != nil {
		s.respondError(c, types.NewValidationError("command_id", "must be a valid UUID"))
		return
	}

	ctx := c.Request.Context()
	device, err := s.lm.Registry().Get(ctx, c.Param("device_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	cmd, err := s.lm.Queue().Get(ctx, device, commandID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, cmd)
}
