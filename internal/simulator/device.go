package simulator

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/bridge"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Device emulates the feeder firmware HTTP surface.
type Device struct {
	id     string
	logger *zap.Logger

	mu         sync.Mutex
	bootedAt   time.Time
	moves      int
	totalSteps int
	lastMove   *bridge.MotorPayload
	settings   map[string]any
	failStatus int
}

func NewDevice(id string, logger *zap.Logger) *Device {
	return &Device{
		id:       id,
		logger:   logger,
		bootedAt: time.Now(),
		settings: map[string]any{},
	}
}

// Handler serves POST /motor and GET /status.
func (d *Device) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/motor", d.motor)
	r.Get("/status", d.status)
	return r
}

// FailWith makes the next motor calls answer with status until cleared with 0.
func (d *Device) FailWith(status int) {
	d.mu.Lock()
	d.failStatus = status
	d.mu.Unlock()
}

// Move runs the motor locally, as the firmware does for polled feed commands.
func (d *Device) Move(payload bridge.MotorPayload) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.moves++
	d.totalSteps += payload.Steps
	d.lastMove = &payload
}

// Configure merges settings pushed through a config command.
func (d *Device) Configure(settings map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range settings {
		d.settings[k] = v
	}
}

// Reboot resets the uptime counter.
func (d *Device) Reboot() {
	d.mu.Lock()
	d.bootedAt = time.Now()
	d.mu.Unlock()
}

func (d *Device) motor(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	failStatus := d.failStatus
	d.mu.Unlock()
	if failStatus != 0 {
		http.Error(w, "motor fault", failStatus)
		return
	}

	var payload bridge.MotorPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid JSON"})
		return
	}
	if payload.Steps < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "steps must be positive"})
		return
	}
	switch payload.Direction {
	case "clockwise", "counterclockwise":
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid direction"})
		return
	}

	d.Move(payload)
	d.logger.Info("Motor moved",
		zap.String("device_id", d.id),
		zap.Int("steps", payload.Steps),
		zap.String("direction", payload.Direction))

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"steps":     payload.Steps,
		"direction": payload.Direction,
	})
}

func (d *Device) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.Snapshot())
}

// Snapshot is the GET /status document.
func (d *Device) Snapshot() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()

	settings := make(map[string]any, len(d.settings))
	for k, v := range d.settings {
		settings[k] = v
	}
	doc := map[string]any{
		"device_id":      d.id,
		"status":         "online",
		"uptime_seconds": int(time.Since(d.bootedAt).Seconds()),
		"motor_moves":    d.moves,
		"total_steps":    d.totalSteps,
		"settings":       settings,
	}
	if d.lastMove != nil {
		doc["last_move"] = *d.lastMove
	}
	return doc
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
