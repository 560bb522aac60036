package rest

import (
	"net/http"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/devices"
	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// POST /api/v1/devices
func (s *Server) registerDevice(c *gin.Context) {
	var req devices.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	device, err := s.lm.Registry().Register(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "Device registered successfully",
		"device_id": device.DeviceID,
	})
}

// GET /api/v1/devices
func (s *Server) listDevices(c *gin.Context) {
	list, err := s.lm.Registry().List(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": list,
		"count":   len(list),
	})
}

// GET /api/v1/devices/:device_id
func (s *Server) getDevice(c *gin.Context) {
	device, err := s.lm.Registry().Get(c.Request.Context(), c.Param("device_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// DELETE /api/v1/devices/:device_id
func (s *Server) deleteDevice(c *gin.Context) {
	deviceID := c.Param("device_id")
	if err := s.lm.Registry().Delete(c.Request.Context(), deviceID); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Device deleted",
	})
}

// GET /api/v1/devices/:device_id/status
func (s *Server) deviceStatus(c *gin.Context) {
	res := s.lm.Bridge().Status(c.Request.Context(), c.Param("device_id"))
	if res.Err != nil {
		s.respondError(c, res.Err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /api/v1/devices/heartbeat
func (s *Server) heartbeat(c *gin.Context) {
	var req devices.HeartbeatInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	if _, err := s.lm.Registry().Heartbeat(c.Request.Context(), req); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Heartbeat received",
	})
}

type feedNotificationRequest struct {
	DeviceID  string `json:"device_id" binding:"required,max=50"`
	Portion   *int   `json:"portion"`
	Type      string `json:"type" binding:"max=20"`
	Timestamp int64  `json:"timestamp"`
}

// POST /api/v1/devices/feed-notification
func (s *Server) feedNotification(c *gin.Context) {
	var req feedNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	ctx := c.Request.Context()
	device, err := s.lm.Registry().Get(ctx, req.DeviceID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	portion := 1
	if req.Portion != nil {
		portion = *req.Portion
	}

	// Device clocks are not trusted; the entry is stamped on arrival.
	entry, err := s.lm.Ledger().Append(ctx, device, portion, types.FeedType(req.Type), time.Time{})
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.logger.Debug("Feed notification recorded",
		zap.String("device_id", device.DeviceID),
		zap.Int("portion", entry.Portion),
		zap.Int64("device_timestamp", req.Timestamp))

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Feed notification recorded",
	})
}
