package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/commands"
	"github.com/KevinKickass/OpenFeederCore/internal/config"
	"github.com/KevinKickass/OpenFeederCore/internal/devices"
	"github.com/KevinKickass/OpenFeederCore/internal/metrics"
	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"go.uber.org/zap"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type FeedRequest struct {
	DeviceID      string
	Portion       int
	Direction     string
	Speed         int
	Microstepping string
}

type MotorRequest struct {
	DeviceID      string
	Steps         int
	Direction     string
	Speed         int
	Microstepping string
}

// Result describes the outcome of a direct dispatch. Err is nil on success.
type Result struct {
	Status         string        `json:"status"`
	Message        string        `json:"message"`
	CommandID      string        `json:"command_id,omitempty"`
	Device         *types.Device `json:"device,omitempty"`
	DeviceResponse any           `json:"esp_response,omitempty"`
	Err            error         `json:"-"`
}

// Bridge sends feed commands to the device synchronously and folds the
// outcome into command state and feeding history.
type Bridge struct {
	registry   *devices.Registry
	queue      *commands.Queue
	dispatcher *Dispatcher
	client     *Client
	cfg        config.DispatchConfig
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func New(
	registry *devices.Registry,
	queue *commands.Queue,
	dispatcher *Dispatcher,
	cfg config.DispatchConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Bridge {
	if cfg.StepsPerPortion <= 0 {
		cfg.StepsPerPortion = 200
	}
	return &Bridge{
		registry:   registry,
		queue:      queue,
		dispatcher: dispatcher,
		client:     NewClient(cfg.Timeout),
		cfg:        cfg,
		metrics:    m,
		logger:     logger,
	}
}

// Feed dispenses portion units, converted to motor steps.
func (b *Bridge) Feed(ctx context.Context, req FeedRequest) *Result {
	if req.Portion < 1 {
		return failure(types.NewValidationError("portion", "must be a positive integer"))
	}
	params := b.feedParams(req.Portion, req.Portion*b.cfg.StepsPerPortion, req.Direction, req.Speed, req.Microstepping)
	return b.dispatch(ctx, req.DeviceID, params, "Feed command sent successfully")
}

// Motor moves the motor by a raw number of steps. The recorded portion is
// the step count rounded up to whole portions.
func (b *Bridge) Motor(ctx context.Context, req MotorRequest) *Result {
	if req.Steps < 1 {
		return failure(types.NewValidationError("steps", "must be a positive integer"))
	}
	portion := (req.Steps + b.cfg.StepsPerPortion - 1) / b.cfg.StepsPerPortion
	if portion < 1 {
		portion = 1
	}
	params := b.feedParams(portion, req.Steps, req.Direction, req.Speed, req.Microstepping)
	return b.dispatch(ctx, req.DeviceID, params, "Command sent to feeder successfully")
}

// Status proxies the device status document through the worker pool.
func (b *Bridge) Status(ctx context.Context, deviceID string) *Result {
	device, err := b.target(ctx, deviceID)
	if err != nil {
		return failure(err)
	}

	// The worker stamps its own copy; res.Device only sees it once the job
	// has returned.
	jobDevice := *device
	value, err := b.dispatcher.Submit(ctx, func(jobCtx context.Context) (any, error) {
		doc, err := b.client.Status(jobCtx, &jobDevice)
		if err == nil {
			if touchErr := b.registry.Touch(jobCtx, &jobDevice); touchErr != nil {
				b.logger.Warn("Failed to stamp device contact",
					zap.String("device_id", jobDevice.DeviceID),
					zap.Error(touchErr))
			}
		}
		return doc, err
	})

	res := &Result{Device: device}
	if err != nil {
		return b.fail(res, err)
	}
	res.Device = &jobDevice
	res.Status = StatusSuccess
	res.Message = "Device status retrieved"
	res.DeviceResponse = value
	return res
}

func (b *Bridge) feedParams(portion, steps int, direction string, speed int, microstepping string) commands.FeedParams {
	if direction == "" {
		direction = b.cfg.DefaultDirection
	}
	if speed == 0 {
		speed = b.cfg.DefaultSpeed
	}
	if microstepping == "" {
		microstepping = b.cfg.DefaultMicrostepping
	}
	return commands.FeedParams{
		Portion:       portion,
		Steps:         steps,
		Direction:     direction,
		Speed:         speed,
		Microstepping: microstepping,
	}
}

// target resolves the device and requires it to have a usable address.
func (b *Bridge) target(ctx context.Context, deviceID string) (*types.Device, error) {
	device, err := b.registry.Select(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !device.Addressable() {
		return nil, fmt.Errorf("%w: device %s has no IP address", types.ErrNoActiveDevice, device.DeviceID)
	}
	return device, nil
}

func (b *Bridge) dispatch(ctx context.Context, deviceID string, params commands.FeedParams, okMessage string) *Result {
	if err := commands.Validate(params); err != nil {
		return failure(err)
	}

	device, err := b.target(ctx, deviceID)
	if err != nil {
		return failure(err)
	}

	cmd, err := b.queue.CreateDirect(ctx, device, params)
	if err != nil {
		return failure(err)
	}

	res := &Result{CommandID: cmd.ID.String(), Device: device}

	jobDevice := *device
	value, err := b.dispatcher.Submit(ctx, func(jobCtx context.Context) (any, error) {
		return b.execute(jobCtx, &jobDevice, cmd, params)
	})
	if err != nil {
		if errors.Is(err, ErrNotAccepted) {
			b.abandon(device, cmd, err)
		}
		return b.fail(res, err)
	}

	res.Device = &jobDevice
	res.Status = StatusSuccess
	res.Message = okMessage
	res.DeviceResponse = value
	return res
}

// execute runs on a dispatcher worker. It owns the device call and the
// resulting state change so both complete even if the caller stops waiting.
func (b *Bridge) execute(ctx context.Context, device *types.Device, cmd *types.Command, params commands.FeedParams) (any, error) {
	start := time.Now()
	value, callErr := b.client.Motor(ctx, device, MotorPayload{
		Steps:         params.Steps,
		Direction:     params.Direction,
		Speed:         params.Speed,
		Microstepping: params.Microstepping,
	})
	b.metrics.ObserveDispatch(outcome(callErr), time.Since(start))

	if callErr != nil {
		b.logger.Warn("Direct dispatch failed",
			zap.String("command_id", cmd.ID.String()),
			zap.String("device_id", device.DeviceID),
			zap.Error(callErr))

		if _, err := b.queue.Resolve(ctx, device, cmd.ID, types.StatusFailed, nil); err != nil {
			b.logger.Error("Failed to mark command failed",
				zap.String("command_id", cmd.ID.String()),
				zap.Error(err))
		}
		return nil, callErr
	}

	if err := b.registry.Touch(ctx, device); err != nil {
		b.logger.Warn("Failed to stamp device contact",
			zap.String("device_id", device.DeviceID),
			zap.Error(err))
	}

	entry := &types.HistoryEntry{
		Portion:  params.Portion,
		FeedType: types.FeedTypeRemote,
	}
	if _, err := b.queue.Resolve(ctx, device, cmd.ID, types.StatusCompleted, entry); err != nil {
		b.logger.Error("Failed to complete command",
			zap.String("command_id", cmd.ID.String()),
			zap.Error(err))
	}

	b.logger.Info("Direct dispatch completed",
		zap.String("command_id", cmd.ID.String()),
		zap.String("device_id", device.DeviceID),
		zap.Int("steps", params.Steps),
		zap.Int("portion", params.Portion))

	return value, nil
}

// abandon fails a direct command no worker ever picked up. The caller's
// context may already be done, so the update runs detached from it.
func (b *Bridge) abandon(device *types.Device, cmd *types.Command, cause error) {
	b.logger.Warn("Direct dispatch not accepted",
		zap.String("command_id", cmd.ID.String()),
		zap.String("device_id", device.DeviceID),
		zap.Error(cause))

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Timeout+5*time.Second)
	defer cancel()
	if _, err := b.queue.Resolve(ctx, device, cmd.ID, types.StatusFailed, nil); err != nil {
		b.logger.Error("Failed to mark command failed",
			zap.String("command_id", cmd.ID.String()),
			zap.Error(err))
	}
}

func (b *Bridge) fail(res *Result, err error) *Result {
	res.Status = StatusError
	res.Message = err.Error()
	res.Err = err

	var rejected *types.DeviceRejectedError
	if errors.As(err, &rejected) {
		res.DeviceResponse = rejected.Body
	}
	return res
}

func failure(err error) *Result {
	return &Result{Status: StatusError, Message: err.Error(), Err: err}
}

func outcome(err error) string {
	var rejected *types.DeviceRejectedError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rejected):
		return "rejected"
	default:
		return "unreachable"
	}
}
