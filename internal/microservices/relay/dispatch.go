package relay

import (
	"fmt"

	"panelbridge/internal/protocol"
	"panelbridge/internal/state"
)

// Result is what one command did to the store and what to tell panels about it
type Result struct {
	Changes  []state.Change
	Feedback []protocol.Command
}

// Dispatch applies cmd to the store. Unknown displays count as unknown
// commands and leave the store untouched.
func Dispatch(store *state.Store, cmd protocol.Command) (Result, error) {
	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}

	switch cmd.Kind {
	case protocol.KindSetName:
		change := store.SetSystemName(cmd.Name)
		return single(change, protocol.SetName(cmd.Name)), nil

	case protocol.KindSetCounter:
		change := store.SetCounter(cmd.Value)
		return single(change, protocol.SetCounter(cmd.Value)), nil

	case protocol.KindIncrementCounter:
		change := store.AddCounter(1)
		return single(change, protocol.SetCounter(change.Value.(int64))), nil

	case protocol.KindDecrementCounter:
		change := store.AddCounter(-1)
		return single(change, protocol.SetCounter(change.Value.(int64))), nil

	case protocol.KindSetDisplayPower:
		change, err := store.SetDisplayPower(cmd.DisplayID, cmd.Power)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", protocol.ErrUnknownCommand, err)
		}
		return single(change, cmd), nil
	}

	return Result{}, fmt.Errorf("%w: %s", protocol.ErrUnknownCommand, cmd.Kind)
}

func single(change state.Change, feedback protocol.Command) Result {
	return Result{
		Changes:  []state.Change{change},
		Feedback: []protocol.Command{feedback},
	}
}
