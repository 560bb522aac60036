package commands

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"github.com/google/uuid"
)

func TestParseParameters_Feed(t *testing.T) {
	params, err := ParseParameters(types.CommandTypeFeed, json.RawMessage(`{"portion":2,"steps":400,"direction":"clockwise"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	feed, ok := params.(FeedParams)
	if !ok {
		t.Fatalf("expected FeedParams, got %T", params)
	}
	if feed.Portion != 2 || feed.Steps != 400 || feed.Direction != "clockwise" {
		t.Fatalf("unexpected params: %+v", feed)
	}
}

func TestParseParameters_RejectsReservedKeys(t *testing.T) {
	_, err := ParseParameters(types.CommandTypeConfig, json.RawMessage(`{"id":"x","type":"feed","volume":3}`))

	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := verr.Fields["parameters.id"]; !ok {
		t.Fatalf("expected parameters.id field error, got %v", verr.Fields)
	}
	if _, ok := verr.Fields["parameters.type"]; !ok {
		t.Fatalf("expected parameters.type field error, got %v", verr.Fields)
	}
}

func TestParseParameters_SchemaErrors(t *testing.T) {
	cases := []struct {
		name string
		kind types.CommandType
		raw  string
	}{
		{"feed missing portion", types.CommandTypeFeed, `{}`},
		{"feed zero portion", types.CommandTypeFeed, `{"portion":0}`},
		{"feed bad direction", types.CommandTypeFeed, `{"portion":1,"direction":"up"}`},
		{"feed bad microstepping", types.CommandTypeFeed, `{"portion":1,"microstepping":"3"}`},
		{"feed unknown key", types.CommandTypeFeed, `{"portion":1,"grams":5}`},
		{"config empty", types.CommandTypeConfig, `{}`},
		{"reboot negative delay", types.CommandTypeReboot, `{"delay_seconds":-1}`},
		{"not an object", types.CommandTypeReboot, `[1,2]`},
		{"not json", types.CommandTypeReboot, `{`},
		{"unknown type", types.CommandType("dance"), `{}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseParameters(tc.kind, json.RawMessage(tc.raw))
			var verr *types.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestParseParameters_RebootDefaultsToEmptyObject(t *testing.T) {
	params, err := ParseParameters(types.CommandTypeReboot, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if params.(RebootParams).DelaySeconds != 0 {
		t.Fatalf("expected zero delay, got %+v", params)
	}
}

func TestFlatten(t *testing.T) {
	device := &types.Device{ID: 7, Name: "Feeder"}
	cmd, err := New(device, ConfigParams{Settings: map[string]any{"volume": 3}}, types.OriginQueue)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if cmd.Status != types.StatusPending || cmd.DeviceID != 7 || cmd.ID == uuid.Nil {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	view, err := Flatten(*cmd)
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if view["id"] != cmd.ID.String() || view["type"] != "config" {
		t.Fatalf("unexpected view header: %v", view)
	}
	if view["volume"] != float64(3) {
		t.Fatalf("expected parameters at top level, got %v", view)
	}
}

func TestNew_ValidatesTypedParams(t *testing.T) {
	_, err := New(&types.Device{ID: 1}, FeedParams{Portion: 0}, types.OriginDirect)
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for zero portion, got %v", err)
	}
}
