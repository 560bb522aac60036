package commands

import (
	"fmt"

	"github.com/KevinKickass/OpenFeederCore/internal/types"
)

var transitions = map[types.CommandStatus][]types.CommandStatus{
	types.StatusPending: {types.StatusSent, types.StatusCompleted, types.StatusFailed},
	types.StatusSent:    {types.StatusCompleted, types.StatusFailed},
}

// ValidateTransition reports whether a command of the given origin may move
// from one status to another. Queued commands reach a terminal status only
// after they were sent to the device.
func ValidateTransition(from, to types.CommandStatus, origin types.CommandOrigin) error {
	if from == types.StatusPending && to.Terminal() && origin != types.OriginDirect {
		return fmt.Errorf("%w: %s -> %s for %s command", types.ErrInvalidTransition, from, to, origin)
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, from, to)
}

// Sources lists the statuses a command of the given origin may leave to
// reach to.
func Sources(to types.CommandStatus, origin types.CommandOrigin) []types.CommandStatus {
	var out []types.CommandStatus
	for _, from := range []types.CommandStatus{types.StatusPending, types.StatusSent} {
		if ValidateTransition(from, to, origin) == nil {
			out = append(out, from)
		}
	}
	return out
}
