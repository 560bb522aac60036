package storage

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/config"
	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"github.com/google/uuid"
)

// Store is the persistence contract shared by the PostgreSQL and SQLite
// backends. Lookups that miss return types.ErrDeviceNotFound or
// types.ErrCommandNotFound.
type Store interface {
	Ping(ctx context.Context) error
	Close()

	UpsertDevice(ctx context.Context, in types.DeviceUpsert) (*types.Device, error)
	HeartbeatDevice(ctx context.Context, deviceID, ipAddress string, seenAt time.Time) (*types.Device, error)
	GetDevice(ctx context.Context, deviceID string) (*types.Device, error)
	ListDevices(ctx context.Context) ([]types.Device, error)
	FirstActiveDevice(ctx context.Context) (*types.Device, error)
	TouchDevice(ctx context.Context, id int64, seenAt time.Time) error
	DeleteDevice(ctx context.Context, deviceID string) error

	CreateCommand(ctx context.Context, cmd *types.Command) error
	DrainPendingCommands(ctx context.Context, devicePK int64) ([]types.Command, error)
	TransitionCommand(ctx context.Context, t types.Transition) (*types.Command, bool, error)
	GetCommand(ctx context.Context, devicePK int64, id uuid.UUID) (*types.Command, error)
	ListCommands(ctx context.Context, devicePK int64, limit int) ([]types.Command, error)

	AppendHistory(ctx context.Context, entry *types.HistoryEntry) error
	RecentHistory(ctx context.Context, limit int) ([]types.HistoryEntry, error)

	ReplaceSchedules(ctx context.Context, schedules []types.Schedule) error
	ListSchedules(ctx context.Context) ([]types.Schedule, error)
}

// Open connects the backend selected in cfg and applies the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return NewPostgresClient(ctx, cfg)
	case config.DriverSQLite:
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
}

// decideTransition applies the guard shared by both backends to a locked row.
// proceed=false with a nil error means the command is already terminal and
// the request is a no-op.
func decideTransition(cmd *types.Command, t types.Transition) (proceed bool, err error) {
	if cmd.Status.Terminal() {
		return false, nil
	}
	if !slices.Contains(t.From, cmd.Status) {
		return false, fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, cmd.Status, t.To)
	}
	return true, nil
}

func applyTransition(cmd *types.Command, t types.Transition) (*types.HistoryEntry, error) {
	if t.Apply == nil {
		return nil, nil
	}
	entry, err := t.Apply(*cmd)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		entry.DeviceID = cmd.DeviceID
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now().UTC()
		}
	}
	return entry, nil
}
