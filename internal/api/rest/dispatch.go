package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenFeederCore/internal/bridge"
	"github.com/gin-gonic/gin"
)

type motorRequest struct {
	DeviceID      string `json:"device_id"`
	Steps         int    `json:"steps" binding:"required"`
	Direction     string `json:"direction" binding:"required"`
	Speed         int    `json:"speed"`
	Microstepping string `json:"microstepping"`
}

// POST /api/v1/motor/control
func (s *Server) motorControl(c *gin.Context) {
	var req motorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	res := s.lm.Bridge().Motor(c.Request.Context(), bridge.MotorRequest{
		DeviceID:      req.DeviceID,
		Steps:         req.Steps,
		Direction:     req.Direction,
		Speed:         req.Speed,
		Microstepping: req.Microstepping,
	})
	s.respondResult(c, res)
}

type feedRequest struct {
	DeviceID      string `json:"device_id"`
	Portion       int    `json:"portion" binding:"required"`
	Direction     string `json:"direction"`
	Speed         int    `json:"speed"`
	Microstepping string `json:"microstepping"`
}

// POST /api/v1/feed
func (s *Server) feed(c *gin.Context) {
	var req feedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	res := s.lm.Bridge().Feed(c.Request.Context(), bridge.FeedRequest{
		DeviceID:      req.DeviceID,
		Portion:       req.Portion,
		Direction:     req.Direction,
		Speed:         req.Speed,
		Microstepping: req.Microstepping,
	})
	s.respondResult(c, res)
}

// respondResult writes a dispatch result. Device failures keep the result
// body so the caller sees esp_response and command_id.
func (s *Server) respondResult(c *gin.Context, res *bridge.Result) {
	if res.Err == nil {
		c.JSON(http.StatusOK, res)
		return
	}

	e := classify(res.Err)
	switch e.status {
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		c.JSON(e.status, res)
	default:
		s.respondError(c, res.Err)
	}
}
