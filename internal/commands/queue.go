package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/metrics"
	"github.com/KevinKickass/OpenFeederCore/internal/storage"
	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	OutcomeCompleted = "completed"

	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Queue owns the command lifecycle for both the polling and the direct
// dispatch paths.
type Queue struct {
	store   storage.Store
	events  types.EventPublisher
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewQueue(store storage.Store, events types.EventPublisher, m *metrics.Metrics, logger *zap.Logger) *Queue {
	if events == nil {
		events = types.NopPublisher{}
	}
	return &Queue{
		store:   store,
		events:  events,
		metrics: m,
		logger:  logger,
	}
}

// Enqueue stores a pending command for the device to pick up on its next
// poll.
func (q *Queue) Enqueue(ctx context.Context, device *types.Device, params Parameters) (*types.Command, error) {
	return q.create(ctx, device, params, types.OriginQueue)
}

// CreateDirect stores a pending command that is dispatched synchronously
// and never handed out to polling devices.
func (q *Queue) CreateDirect(ctx context.Context, device *types.Device, params Parameters) (*types.Command, error) {
	return q.create(ctx, device, params, types.OriginDirect)
}

func (q *Queue) create(ctx context.Context, device *types.Device, params Parameters, origin types.CommandOrigin) (*types.Command, error) {
	cmd, err := New(device, params, origin)
	if err != nil {
		return nil, err
	}

	if err := q.store.CreateCommand(ctx, cmd); err != nil {
		return nil, fmt.Errorf("failed to create command: %w", err)
	}

	q.logger.Info("Command created",
		zap.String("command_id", cmd.ID.String()),
		zap.String("device_id", device.DeviceID),
		zap.String("type", string(cmd.Type)),
		zap.String("origin", string(origin)))

	q.metrics.IncCommandCreated(string(cmd.Type), string(origin))
	q.events.Publish(types.EventCommandCreated, cmd)
	return cmd, nil
}

// DrainPending hands every queued pending command to the device exactly
// once, oldest first, and marks them sent.
func (q *Queue) DrainPending(ctx context.Context, device *types.Device) ([]types.CommandView, error) {
	cmds, err := q.store.DrainPendingCommands(ctx, device.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to drain commands: %w", err)
	}

	views := make([]types.CommandView, 0, len(cmds))
	for _, cmd := range cmds {
		view, err := Flatten(cmd)
		if err != nil {
			q.logger.Error("Skipping undeliverable command",
				zap.String("command_id", cmd.ID.String()),
				zap.Error(err))
			continue
		}
		views = append(views, view)
		q.events.Publish(types.EventCommandDelivered, cmd)
	}

	if len(views) > 0 {
		q.logger.Info("Commands delivered",
			zap.String("device_id", device.DeviceID),
			zap.Int("count", len(views)))
	}
	q.metrics.AddCommandsDelivered(len(views))
	return views, nil
}

// Acknowledge records the device-reported outcome of a sent command.
// "completed" completes it, anything else fails it. Completing a feed
// command appends one scheduled history entry with its portion.
// Acknowledging a command that is already terminal changes nothing.
func (q *Queue) Acknowledge(ctx context.Context, device *types.Device, commandID uuid.UUID, outcome string) (*types.Command, error) {
	to := types.StatusFailed
	if outcome == OutcomeCompleted {
		to = types.StatusCompleted
	}

	var recorded *types.HistoryEntry
	cmd, applied, err := q.store.TransitionCommand(ctx, types.Transition{
		DeviceID:  device.ID,
		CommandID: commandID,
		From:      Sources(to, types.OriginQueue),
		To:        to,
		Apply: func(cmd types.Command) (*types.HistoryEntry, error) {
			if cmd.Type != types.CommandTypeFeed || to != types.StatusCompleted {
				return nil, nil
			}
			recorded = &types.HistoryEntry{
				DeviceName: device.Name,
				Portion:    feedPortion(cmd),
				FeedType:   types.FeedTypeScheduled,
				Timestamp:  time.Now().UTC(),
			}
			return recorded, nil
		},
	})
	if err != nil {
		return nil, err
	}

	if !applied {
		q.logger.Debug("Acknowledgment for terminal command ignored",
			zap.String("command_id", commandID.String()),
			zap.String("status", string(cmd.Status)))
		return cmd, nil
	}

	q.logger.Info("Command acknowledged",
		zap.String("command_id", commandID.String()),
		zap.String("device_id", device.DeviceID),
		zap.String("status", string(to)))

	q.afterTransition(cmd, recorded)
	return cmd, nil
}

// Resolve moves a direct command to its terminal status. A non-nil entry is
// appended to the history in the same transaction.
func (q *Queue) Resolve(ctx context.Context, device *types.Device, commandID uuid.UUID, to types.CommandStatus, entry *types.HistoryEntry) (*types.Command, error) {
	cmd, applied, err := q.store.TransitionCommand(ctx, types.Transition{
		DeviceID:  device.ID,
		CommandID: commandID,
		From:      Sources(to, types.OriginDirect),
		To:        to,
		Apply: func(types.Command) (*types.HistoryEntry, error) {
			if entry != nil && entry.DeviceName == "" {
				entry.DeviceName = device.Name
			}
			return entry, nil
		},
	})
	if err != nil {
		return nil, err
	}
	if applied {
		q.afterTransition(cmd, entry)
	}
	return cmd, nil
}

func (q *Queue) afterTransition(cmd *types.Command, entry *types.HistoryEntry) {
	q.metrics.IncCommandTransition(string(cmd.Status))
	q.events.Publish(types.EventCommandUpdated, cmd)
	if entry != nil {
		q.metrics.IncFeedRecorded(string(entry.FeedType))
		q.events.Publish(types.EventFeedingRecorded, entry)
	}
}

// Get returns one command of the device.
func (q *Queue) Get(ctx context.Context, device *types.Device, commandID uuid.UUID) (*types.Command, error) {
	return q.store.GetCommand(ctx, device.ID, commandID)
}

// List returns the device's commands, newest first.
func (q *Queue) List(ctx context.Context, device *types.Device, limit int) ([]types.Command, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return q.store.ListCommands(ctx, device.ID, limit)
}
