package policy

import (
	"math/rand"
	"time"

	"github.com/cartridge/emulator/internal/action"
	"github.com/cartridge/emulator/internal/observation"
)

// RandomPolicy samples every axis and button uniformly
type RandomPolicy struct {
	rng   *rand.Rand
	space action.Space
}

// NewRandom creates a random policy. A zero seed uses the clock.
func NewRandom(space action.Space, seed int64) *RandomPolicy {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomPolicy{
		rng:   rand.New(rand.NewSource(seed)),
		space: space,
	}
}

// SelectAction implements Policy interface
func (p *RandomPolicy) SelectAction(observation.Observation) (action.Action, error) {
	return p.space.Sample(p.rng), nil
}
