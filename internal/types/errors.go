package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrCommandNotFound   = errors.New("command not found")
	ErrNoActiveDevice    = errors.New("no active feeder device configured")
	ErrInvalidTransition = errors.New("invalid command status transition")
)

// ValidationError carries per-field messages for malformed input.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// OrNil returns nil when no field failed, so callers can return it directly.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// DeviceUnreachableError is returned when the device could not be contacted.
type DeviceUnreachableError struct {
	Address string
	Err     error
}

func (e *DeviceUnreachableError) Error() string {
	return fmt.Sprintf("failed to connect to feeder at %s: %v", e.Address, e.Err)
}

func (e *DeviceUnreachableError) Unwrap() error { return e.Err }

// DeviceRejectedError is returned when the device answered with a non-2xx status.
type DeviceRejectedError struct {
	StatusCode int
	Body       string
}

func (e *DeviceRejectedError) Error() string {
	return fmt.Sprintf("feeder returned status code %d", e.StatusCode)
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Status  string    `json:"status"`
	Message string    `json:"message"`
	Error   ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Status:  "error",
		Message: message,
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
