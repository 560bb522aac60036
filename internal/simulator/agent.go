package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/bridge"
	"github.com/KevinKickass/OpenFeederCore/internal/commands"
	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"go.uber.org/zap"
)

type AgentConfig struct {
	ServerURL       string
	DeviceID        string
	Name            string
	IPAddress       string
	Port            int
	Interval        time.Duration
	StepsPerPortion int
}

// Agent runs the firmware side of the polling protocol against the server:
// register once, then heartbeat, poll and acknowledge on every tick.
type Agent struct {
	cfg    AgentConfig
	device *Device
	http   *http.Client
	logger *zap.Logger
}

func NewAgent(cfg AgentConfig, device *Device, logger *zap.Logger) *Agent {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.StepsPerPortion <= 0 {
		cfg.StepsPerPortion = 200
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	return &Agent{
		cfg:    cfg,
		device: device,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Run blocks until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Register(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := a.Cycle(ctx); err != nil {
			a.logger.Warn("Agent cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *Agent) Register(ctx context.Context) error {
	body := map[string]any{
		"name":       a.cfg.Name,
		"ip_address": a.cfg.IPAddress,
		"port":       a.cfg.Port,
		"device_id":  a.cfg.DeviceID,
		"is_active":  true,
	}
	if err := a.post(ctx, "/api/v1/devices", body, nil); err != nil {
		return fmt.Errorf("register failed: %w", err)
	}
	a.logger.Info("Registered with server",
		zap.String("device_id", a.cfg.DeviceID),
		zap.String("server", a.cfg.ServerURL))
	return nil
}

// Cycle sends one heartbeat, drains pending commands and acknowledges each.
func (a *Agent) Cycle(ctx context.Context) error {
	if err := a.Heartbeat(ctx); err != nil {
		return err
	}

	pending, err := a.Poll(ctx)
	if err != nil {
		return err
	}

	for _, cmd := range pending {
		outcome := commands.OutcomeCompleted
		if err := a.execute(cmd); err != nil {
			a.logger.Warn("Command failed",
				zap.Any("command_id", cmd["id"]),
				zap.Error(err))
			outcome = string(types.StatusFailed)
		}
		id, _ := cmd["id"].(string)
		if err := a.Acknowledge(ctx, id, outcome); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) Heartbeat(ctx context.Context) error {
	body := map[string]any{
		"device_id":  a.cfg.DeviceID,
		"ip_address": a.cfg.IPAddress,
		"status":     "online",
		"timestamp":  time.Now().Unix(),
	}
	if err := a.post(ctx, "/api/v1/devices/heartbeat", body, nil); err != nil {
		return fmt.Errorf("heartbeat failed: %w", err)
	}
	return nil
}

func (a *Agent) Poll(ctx context.Context) ([]types.CommandView, error) {
	var resp struct {
		Status   string              `json:"status"`
		Commands []types.CommandView `json:"commands"`
	}
	path := "/api/v1/devices/commands?" + url.Values{"device_id": {a.cfg.DeviceID}}.Encode()
	if err := a.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("poll failed: %w", err)
	}
	return resp.Commands, nil
}

func (a *Agent) Acknowledge(ctx context.Context, commandID, outcome string) error {
	body := map[string]any{
		"device_id":  a.cfg.DeviceID,
		"command_id": commandID,
		"status":     outcome,
		"timestamp":  time.Now().Unix(),
	}
	if err := a.post(ctx, "/api/v1/devices/acknowledge", body, nil); err != nil {
		return fmt.Errorf("acknowledge %s failed: %w", commandID, err)
	}
	return nil
}

// NotifyFeed reports a feed triggered on the device itself.
func (a *Agent) NotifyFeed(ctx context.Context, portion int, feedType types.FeedType) error {
	body := map[string]any{
		"device_id": a.cfg.DeviceID,
		"portion":   portion,
		"type":      feedType,
		"timestamp": time.Now().Unix(),
	}
	if err := a.post(ctx, "/api/v1/devices/feed-notification", body, nil); err != nil {
		return fmt.Errorf("feed notification failed: %w", err)
	}
	return nil
}

func (a *Agent) execute(view types.CommandView) error {
	kind, _ := view["type"].(string)
	raw, err := json.Marshal(withoutEnvelope(view))
	if err != nil {
		return err
	}

	params, err := commands.ParseParameters(types.CommandType(kind), raw)
	if err != nil {
		return err
	}

	switch p := params.(type) {
	case commands.FeedParams:
		steps := p.Steps
		if steps == 0 {
			steps = p.Portion * a.cfg.StepsPerPortion
		}
		direction := p.Direction
		if direction == "" {
			direction = "clockwise"
		}
		a.device.Move(bridge.MotorPayload{
			Steps:         steps,
			Direction:     direction,
			Speed:         p.Speed,
			Microstepping: p.Microstepping,
		})
	case commands.ConfigParams:
		a.device.Configure(p.Settings)
	case commands.RebootParams:
		a.device.Reboot()
	}
	return nil
}

func withoutEnvelope(view types.CommandView) map[string]any {
	params := make(map[string]any, len(view))
	for k, v := range view {
		if k == "id" || k == "type" {
			continue
		}
		params[k] = v
	}
	return params
}

func (a *Agent) post(ctx context.Context, path string, body, out any) error {
	return a.do(ctx, http.MethodPost, path, body, out)
}

func (a *Agent) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.ServerURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
