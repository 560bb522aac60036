package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type CommandType string

const (
	CommandTypeFeed   CommandType = "feed"
	CommandTypeConfig CommandType = "config"
	CommandTypeReboot CommandType = "reboot"
)

func (t CommandType) Valid() bool {
	switch t {
	case CommandTypeFeed, CommandTypeConfig, CommandTypeReboot:
		return true
	}
	return false
}

type CommandStatus string

const (
	StatusPending   CommandStatus = "pending"
	StatusSent      CommandStatus = "sent"
	StatusCompleted CommandStatus = "completed"
	StatusFailed    CommandStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s CommandStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CommandOrigin tells which path created the command. Only queue commands
// are handed out to polling devices.
type CommandOrigin string

const (
	OriginQueue  CommandOrigin = "queue"
	OriginDirect CommandOrigin = "direct"
)

type Command struct {
	ID         uuid.UUID       `json:"id"`
	DeviceID   int64           `json:"device"`
	DeviceName string          `json:"device_name,omitempty"`
	Type       CommandType     `json:"command_type"`
	Parameters json.RawMessage `json:"parameters"`
	Status     CommandStatus   `json:"status"`
	Origin     CommandOrigin   `json:"origin"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// CommandView is the flattened shape handed to the device on poll:
// {"id": ..., "type": ..., <parameters>...}.
type CommandView map[string]any

// Transition describes a guarded status change. Apply is invoked with the
// locked command row when the change is accepted; a non-nil entry it returns
// is appended to the feeding history in the same transaction.
type Transition struct {
	DeviceID  int64
	CommandID uuid.UUID
	From      []CommandStatus
	To        CommandStatus
	Apply     func(cmd Command) (*HistoryEntry, error)
}
