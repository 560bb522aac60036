package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/types"
)

const maxResponseBytes = 64 << 10

// MotorPayload is the body of the device POST /motor endpoint.
type MotorPayload struct {
	Steps         int    `json:"steps"`
	Direction     string `json:"direction"`
	Speed         int    `json:"speed"`
	Microstepping string `json:"microstepping"`
}

// Client talks to the feeder firmware over HTTP. Every call is bounded by
// timeout regardless of the caller's context deadline.
type Client struct {
	http    *http.Client
	timeout time.Duration
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{},
		timeout: timeout,
	}
}

// Motor drives the feeder motor and returns the decoded device response.
func (c *Client) Motor(ctx context.Context, device *types.Device, payload MotorPayload) (any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal motor payload: %w", err)
	}
	return c.do(ctx, device, http.MethodPost, "/motor", body)
}

// Status fetches the device GET /status document.
func (c *Client) Status(ctx context.Context, device *types.Device) (any, error) {
	return c.do(ctx, device, http.MethodGet, "/status", nil)
}

func (c *Client) do(ctx context.Context, device *types.Device, method, path string, body []byte) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := device.BaseURL() + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &types.DeviceUnreachableError{Address: device.BaseURL(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &types.DeviceUnreachableError{Address: device.BaseURL(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &types.DeviceRejectedError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	return decodeResponse(data), nil
}

// decodeResponse returns the JSON document, or the raw text when the device
// did not answer with JSON.
func decodeResponse(data []byte) any {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return map[string]any{}
	}
	var doc any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return string(trimmed)
	}
	return doc
}
