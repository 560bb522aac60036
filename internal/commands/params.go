package commands

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"github.com/google/uuid"
)

// Keys owned by the flattened command view; parameters may not use them.
var reservedKeys = []string{"id", "type"}

// Parameters is the typed payload of a command.
type Parameters interface {
	CommandType() types.CommandType
}

type FeedParams struct {
	Portion       int    `json:"portion"`
	Steps         int    `json:"steps,omitempty"`
	Direction     string `json:"direction,omitempty"`
	Speed         int    `json:"speed,omitempty"`
	Microstepping string `json:"microstepping,omitempty"`
}

func (FeedParams) CommandType() types.CommandType { return types.CommandTypeFeed }

// ConfigParams carries free-form device settings. They are encoded as the
// top-level parameter object.
type ConfigParams struct {
	Settings map[string]any
}

func (ConfigParams) CommandType() types.CommandType { return types.CommandTypeConfig }

func (c ConfigParams) MarshalJSON() ([]byte, error) {
	if c.Settings == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.Settings)
}

func (c *ConfigParams) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &c.Settings)
}

type RebootParams struct {
	DelaySeconds int `json:"delay_seconds,omitempty"`
}

func (RebootParams) CommandType() types.CommandType { return types.CommandTypeReboot }

// ParseParameters validates a raw parameter object for the given command
// type and decodes it into its typed variant.
func ParseParameters(kind types.CommandType, raw json.RawMessage) (Parameters, error) {
	if !kind.Valid() {
		return nil, types.NewValidationError("type", fmt.Sprintf("must be one of feed, config, reboot; got %q", kind))
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, types.NewValidationError("parameters", "must be valid JSON")
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, types.NewValidationError("parameters", "must be a JSON object")
	}

	if err := checkReservedKeys(obj); err != nil {
		return nil, err
	}

	validator, err := defaultValidator()
	if err != nil {
		return nil, err
	}
	if err := validator.Validate(kind, doc); err != nil {
		return nil, err
	}

	var params Parameters
	switch kind {
	case types.CommandTypeFeed:
		var p FeedParams
		err = json.Unmarshal(raw, &p)
		params = p
	case types.CommandTypeConfig:
		var p ConfigParams
		err = json.Unmarshal(raw, &p)
		params = p
	case types.CommandTypeReboot:
		var p RebootParams
		err = json.Unmarshal(raw, &p)
		params = p
	}
	if err != nil {
		return nil, types.NewValidationError("parameters", err.Error())
	}
	return params, nil
}

func checkReservedKeys(obj map[string]any) error {
	verr := &types.ValidationError{}
	for _, key := range reservedKeys {
		if _, ok := obj[key]; ok {
			verr.Add("parameters."+key, "reserved key")
		}
	}
	return verr.OrNil()
}

// New builds an unsaved pending command for the device. The typed
// parameters go through the same schema check as raw ones.
func New(device *types.Device, params Parameters, origin types.CommandOrigin) (*types.Command, error) {
	if params == nil {
		return nil, types.NewValidationError("parameters", "required")
	}

	raw, err := encode(params)
	if err != nil {
		return nil, err
	}

	return &types.Command{
		ID:         uuid.New(),
		DeviceID:   device.ID,
		DeviceName: device.Name,
		Type:       params.CommandType(),
		Parameters: raw,
		Status:     types.StatusPending,
		Origin:     origin,
	}, nil
}

// Validate applies the schema check of ParseParameters to typed parameters.
func Validate(params Parameters) error {
	if params == nil {
		return types.NewValidationError("parameters", "required")
	}
	_, err := encode(params)
	return err
}

func encode(params Parameters) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parameters: %w", err)
	}
	if _, err := ParseParameters(params.CommandType(), raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Flatten renders a command as the device sees it: its parameters with
// "id" and "type" set at the top level.
func Flatten(cmd types.Command) (types.CommandView, error) {
	view := types.CommandView{}
	if len(bytes.TrimSpace(cmd.Parameters)) > 0 {
		if err := json.Unmarshal(cmd.Parameters, &view); err != nil {
			return nil, fmt.Errorf("failed to decode parameters of command %s: %w", cmd.ID, err)
		}
		if view == nil {
			view = types.CommandView{}
		}
	}
	view["id"] = cmd.ID.String()
	view["type"] = string(cmd.Type)
	return view, nil
}

// feedPortion returns the stored portion of a feed command, at least 1.
func feedPortion(cmd types.Command) int {
	var p FeedParams
	if err := json.Unmarshal(cmd.Parameters, &p); err != nil || p.Portion < 1 {
		return 1
	}
	return p.Portion
}
