package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenFeederCore/internal/bridge"
	"github.com/KevinKickass/OpenFeederCore/internal/commands"
	"github.com/KevinKickass/OpenFeederCore/internal/config"
	"github.com/KevinKickass/OpenFeederCore/internal/devices"
	"github.com/KevinKickass/OpenFeederCore/internal/history"
	"github.com/KevinKickass/OpenFeederCore/internal/schedule"
	"github.com/KevinKickass/OpenFeederCore/internal/storage"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string `json:"state"`
	DeviceCount      int    `json:"device_count"`
	ActiveDevices    int    `json:"active_devices"`
	WebSocketClients int    `json:"websocket_clients"`
	Timestamp        int64  `json:"timestamp"`
}

type LifecycleManager interface {
	Config() *config.Config
	Storage() storage.Store
	Registry() *devices.Registry
	Queue() *commands.Queue
	Bridge() *bridge.Bridge
	Ledger() *history.Ledger
	Schedules() *schedule.Loader
	GetCurrentStatus(ctx context.Context) SystemStatus
	Shutdown(ctx context.Context) error
}
