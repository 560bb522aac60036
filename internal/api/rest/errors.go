package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type apiError struct {
	status  int
	code    string
	message string
	details any
}

// classify maps a domain error onto an HTTP status and error envelope.
func classify(err error) apiError {
	var (
		verr        *types.ValidationError
		rejected    *types.DeviceRejectedError
		unreachable *types.DeviceUnreachableError
	)

	switch {
	case errors.As(err, &verr):
		return apiError{http.StatusBadRequest, "VALIDATION_400", "Invalid request", verr.Fields}
	case errors.Is(err, types.ErrNoActiveDevice):
		return apiError{http.StatusNotFound, "DEVICE_404", "No active feeder device configured", err.Error()}
	case errors.Is(err, types.ErrDeviceNotFound):
		return apiError{http.StatusNotFound, "DEVICE_404", "Device not found", nil}
	case errors.Is(err, types.ErrCommandNotFound):
		return apiError{http.StatusNotFound, "COMMAND_404", "Command not found", nil}
	case errors.Is(err, types.ErrInvalidTransition):
		return apiError{http.StatusConflict, "COMMAND_409", "Command cannot be acknowledged in its current state", err.Error()}
	case errors.As(err, &rejected):
		return apiError{http.StatusBadGateway, "DEVICE_502", rejected.Error(), rejected.Body}
	case errors.As(err, &unreachable):
		return apiError{http.StatusServiceUnavailable, "DEVICE_503", "Failed to connect to feeder", unreachable.Err.Error()}
	default:
		return apiError{http.StatusInternalServerError, "INTERNAL_500", "Internal server error", nil}
	}
}

func (s *Server) respondError(c *gin.Context, err error) {
	e := classify(err)
	if e.status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(e.status, types.NewErrorResponse(e.code, e.message, e.details))
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, types.NewErrorResponse("REQUEST_400", "Invalid request body", err.Error()))
}
