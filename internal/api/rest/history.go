package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/history?limit=
func (s *Server) listHistory(c *gin.Context) {
	limit, err := queryLimit(c, 0)
	if err != nil {
		s.respondError(c, err)
		return
	}

	rows, err := s.lm.Ledger().Recent(c.Request.Context(), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"history": rows,
	})
}

// GET /api/v1/schedules
func (s *Server) listSchedules(c *gin.Context) {
	schedules, err := s.lm.Schedules().List(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"schedules": schedules,
	})
}
