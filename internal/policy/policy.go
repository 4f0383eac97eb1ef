// Package policy provides action selection strategies for the actor
package policy

import (
	"fmt"

	"github.com/cartridge/emulator/internal/action"
	"github.com/cartridge/emulator/internal/observation"
)

// Names accepted by New.
const (
	NameRandom = "random"
	NameScript = "script"
)

// Policy interface for action selection
type Policy interface {
	// SelectAction chooses an action given the current observation
	SelectAction(obs observation.Observation) (action.Action, error)
}

// New builds a policy by name. seed 0 seeds from the clock; script is only
// used by the script policy.
func New(name string, space action.Space, seed int64, script []action.Action) (Policy, error) {
	switch name {
	case NameRandom, "":
		return NewRandom(space, seed), nil
	case NameScript:
		return NewScript(space, script, false)
	default:
		return nil, fmt.Errorf("unknown policy %q", name)
	}
}
