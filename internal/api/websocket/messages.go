package websocket

import (
	"strings"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/types"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Command lifecycle
	MessageTypeCommandCreated   MessageType = types.EventCommandCreated
	MessageTypeCommandDelivered MessageType = types.EventCommandDelivered
	MessageTypeCommandUpdated   MessageType = types.EventCommandUpdated

	// Device liveness
	MessageTypeDeviceRegistered MessageType = types.EventDeviceRegistered
	MessageTypeDeviceHeartbeat  MessageType = types.EventDeviceHeartbeat
	MessageTypeDeviceDeleted    MessageType = types.EventDeviceDeleted

	MessageTypeFeedingRecorded MessageType = types.EventFeedingRecorded

	// System messages
	MessageTypeSystemStatus MessageType = "system.status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// ClientMessage is what operators may send: {"type":"subscribe","topics":["command."]}.
// An empty topic list subscribes to everything.
type ClientMessage struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// matches reports whether msgType falls under one of the topic prefixes.
func matches(topics []string, msgType MessageType) bool {
	if len(topics) == 0 || msgType == MessageTypeSystemStatus {
		return true
	}
	for _, topic := range topics {
		if strings.HasPrefix(string(msgType), topic) {
			return true
		}
	}
	return false
}
