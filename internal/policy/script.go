package policy

import (
	"errors"
	"fmt"

	"github.com/cartridge/emulator/internal/action"
	"github.com/cartridge/emulator/internal/observation"
)

// ErrScriptExhausted is returned once a non-looping script has played
// every action.
var ErrScriptExhausted = errors.New("script exhausted")

// ScriptPolicy plays a fixed action sequence.
type ScriptPolicy struct {
	actions []action.Action
	loop    bool
	next    int
}

// NewScript validates actions against space.
func NewScript(space action.Space, actions []action.Action, loop bool) (*ScriptPolicy, error) {
	if len(actions) == 0 {
		return nil, errors.New("script policy needs at least one action")
	}
	for i, a := range actions {
		if !space.Contains(string(a)) {
			return nil, fmt.Errorf("script step %d: %w: %q", i, action.ErrInvalidAction, a)
		}
	}
	return &ScriptPolicy{actions: append([]action.Action(nil), actions...), loop: loop}, nil
}

// SelectAction implements Policy interface
func (p *ScriptPolicy) SelectAction(observation.Observation) (action.Action, error) {
	if p.next >= len(p.actions) {
		if !p.loop {
			return "", ErrScriptExhausted
		}
		p.next = 0
	}
	a := p.actions[p.next]
	p.next++
	return a, nil
}

// Rewind restarts the script, e.g. at the start of an episode.
func (p *ScriptPolicy) Rewind() { p.next = 0 }
