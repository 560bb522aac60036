package types

// Event kinds pushed to operator clients.
const (
	EventCommandCreated   = "command.created"
	EventCommandDelivered = "command.delivered"
	EventCommandUpdated   = "command.updated"
	EventDeviceRegistered = "device.registered"
	EventDeviceHeartbeat  = "device.heartbeat"
	EventDeviceDeleted    = "device.deleted"
	EventFeedingRecorded  = "feeding.recorded"
)

// EventPublisher receives domain events. Implementations must not block.
type EventPublisher interface {
	Publish(kind string, data any)
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(string, any) {}
