package devices

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/metrics"
	"github.com/KevinKickass/OpenFeederCore/internal/storage"
	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type RegisterInput struct {
	Name      string `json:"name" validate:"max=100"`
	IPAddress string `json:"ip_address" validate:"required,ipv4"`
	Port      int    `json:"port" validate:"min=1,max=65535"`
	DeviceID  string `json:"device_id" validate:"required,max=50"`
	IsActive  *bool  `json:"is_active"`
}

type HeartbeatInput struct {
	DeviceID  string `json:"device_id" validate:"required,max=50"`
	IPAddress string `json:"ip_address" validate:"required,ipv4"`
	Status    string `json:"status" validate:"max=20"`
	Timestamp int64  `json:"timestamp"`
}

// Registry tracks known feeders and picks the one direct commands go to.
type Registry struct {
	store           storage.Store
	validate        *validator.Validate
	defaultDeviceID string
	events          types.EventPublisher
	metrics         *metrics.Metrics
	logger          *zap.Logger
	now             func() time.Time
}

func NewRegistry(store storage.Store, defaultDeviceID string, events types.EventPublisher, m *metrics.Metrics, logger *zap.Logger) *Registry {
	if events == nil {
		events = types.NopPublisher{}
	}

	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	return &Registry{
		store:           store,
		validate:        validate,
		defaultDeviceID: defaultDeviceID,
		events:          events,
		metrics:         m,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Register creates the device or refreshes it when the device_id is
// already known.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (*types.Device, error) {
	in.DeviceID = strings.TrimSpace(in.DeviceID)
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		in.Name = types.DefaultDeviceName
	}
	if in.Port == 0 {
		in.Port = types.DefaultDevicePort
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	if err := r.check(in); err != nil {
		return nil, err
	}

	device, err := r.store.UpsertDevice(ctx, types.DeviceUpsert{
		DeviceID:  in.DeviceID,
		Name:      in.Name,
		IPAddress: in.IPAddress,
		Port:      in.Port,
		IsActive:  active,
		SeenAt:    r.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}

	r.logger.Info("Device registered",
		zap.String("device_id", device.DeviceID),
		zap.String("name", device.Name),
		zap.String("address", device.BaseURL()))

	r.events.Publish(types.EventDeviceRegistered, device)
	return device, nil
}

// Heartbeat refreshes the address and liveness of a known device. The
// device-reported timestamp is only logged; last_connected uses server time.
func (r *Registry) Heartbeat(ctx context.Context, in HeartbeatInput) (*types.Device, error) {
	in.DeviceID = strings.TrimSpace(in.DeviceID)
	if err := r.check(in); err != nil {
		return nil, err
	}

	device, err := r.store.HeartbeatDevice(ctx, in.DeviceID, in.IPAddress, r.now())
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Heartbeat received",
		zap.String("device_id", device.DeviceID),
		zap.String("ip_address", device.IPAddress),
		zap.String("status", in.Status),
		zap.Int64("device_timestamp", in.Timestamp))

	r.metrics.IncHeartbeat()
	r.events.Publish(types.EventDeviceHeartbeat, device)
	return device, nil
}

// PickActive returns the most recently seen active device.
func (r *Registry) PickActive(ctx context.Context) (*types.Device, error) {
	return r.store.FirstActiveDevice(ctx)
}

// Select resolves the target device for a direct command: the explicit id
// when given, then the configured default, then PickActive.
func (r *Registry) Select(ctx context.Context, deviceID string) (*types.Device, error) {
	if deviceID = strings.TrimSpace(deviceID); deviceID != "" {
		return r.store.GetDevice(ctx, deviceID)
	}

	if r.defaultDeviceID != "" {
		device, err := r.store.GetDevice(ctx, r.defaultDeviceID)
		if err == nil {
			return device, nil
		}
		if !errors.Is(err, types.ErrDeviceNotFound) {
			return nil, err
		}
		r.logger.Warn("Configured default device is not registered, falling back to active device",
			zap.String("device_id", r.defaultDeviceID))
	}

	return r.PickActive(ctx)
}

func (r *Registry) List(ctx context.Context) ([]types.Device, error) {
	return r.store.ListDevices(ctx)
}

func (r *Registry) Get(ctx context.Context, deviceID string) (*types.Device, error) {
	return r.store.GetDevice(ctx, strings.TrimSpace(deviceID))
}

// Touch stamps last_connected after a successful direct call.
func (r *Registry) Touch(ctx context.Context, device *types.Device) error {
	now := r.now()
	if err := r.store.TouchDevice(ctx, device.ID, now); err != nil {
		return err
	}
	device.LastConnected = &now
	return nil
}

// Delete removes the device together with its commands and history.
func (r *Registry) Delete(ctx context.Context, deviceID string) error {
	if err := r.store.DeleteDevice(ctx, strings.TrimSpace(deviceID)); err != nil {
		return err
	}
	r.logger.Info("Device deleted", zap.String("device_id", deviceID))
	r.events.Publish(types.EventDeviceDeleted, map[string]string{"device_id": deviceID})
	return nil
}

func (r *Registry) check(in any) error {
	err := r.validate.Struct(in)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("failed to validate input: %w", err)
	}

	verr := &types.ValidationError{}
	for _, fe := range fieldErrs {
		verr.Add(fe.Field(), fieldMessage(fe))
	}
	return verr
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "ipv4":
		return "enter a valid IPv4 address"
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("ensure this field has no more than %s characters", fe.Param())
		}
		return fmt.Sprintf("ensure this value is less than or equal to %s", fe.Param())
	case "min":
		return fmt.Sprintf("ensure this value is greater than or equal to %s", fe.Param())
	default:
		return fmt.Sprintf("failed on %s validation", fe.Tag())
	}
}
