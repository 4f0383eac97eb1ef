// Package action encodes controller inputs for the emulator as fixed-width
// tokens and maps them to flat ordinals usable as a discrete action index.
package action

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

const (
	// AxisStates is the alphabet of a movement axis: neutral, negative, positive.
	AxisStates = "012"
	// ButtonStates is the alphabet of a button: released, held.
	ButtonStates = "01"
)

var (
	// ErrInvalidOrdinal indicates an ordinal outside [0, Cardinality()).
	ErrInvalidOrdinal = errors.New("invalid action ordinal")
	// ErrInvalidAction indicates a token that is not a member of the space.
	ErrInvalidAction = errors.New("invalid action")
)

// Action is an encoded input token such as "210": one character per axis
// followed by one character per button.
type Action string

// Space describes the set of valid actions for a given number of movement
// axes and buttons. The zero value is not usable; call NewSpace.
type Space struct {
	axes    int
	buttons int
}

// NewSpace creates an action space with the given axis and button counts.
func NewSpace(axes, buttons int) (Space, error) {
	if axes < 0 || buttons < 0 || axes+buttons == 0 {
		return Space{}, fmt.Errorf("action space needs at least one axis or button, got %d axes and %d buttons", axes, buttons)
	}
	return Space{axes: axes, buttons: buttons}, nil
}

// Default returns the vertical/horizontal plus single shot button layout.
func Default() Space {
	return Space{axes: 2, buttons: 1}
}

// Axes returns the number of movement axes.
func (s Space) Axes() int { return s.axes }

// Buttons returns the number of buttons.
func (s Space) Buttons() int { return s.buttons }

// Width returns the length of every token in the space.
func (s Space) Width() int { return s.axes + s.buttons }

// Cardinality returns the number of distinct actions.
func (s Space) Cardinality() int {
	n := 1
	for i := 0; i < s.axes; i++ {
		n *= len(AxisStates)
	}
	for i := 0; i < s.buttons; i++ {
		n *= len(ButtonStates)
	}
	return n
}

// FromOrdinal decodes an ordinal into a token. Axes occupy the least
// significant digits, in token order, followed by the buttons.
func (s Space) FromOrdinal(n int) (Action, error) {
	if n < 0 || n >= s.Cardinality() {
		return "", fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidOrdinal, n, s.Cardinality())
	}

	var b strings.Builder
	b.Grow(s.Width())
	for i := 0; i < s.axes; i++ {
		b.WriteByte(AxisStates[n%len(AxisStates)])
		n /= len(AxisStates)
	}
	for i := 0; i < s.buttons; i++ {
		b.WriteByte(ButtonStates[n%len(ButtonStates)])
		n /= len(ButtonStates)
	}
	return Action(b.String()), nil
}

// ToOrdinal is the inverse of FromOrdinal.
func (s Space) ToOrdinal(a Action) (int, error) {
	if !s.Contains(string(a)) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAction, string(a))
	}

	n := 0
	radix := 1
	for i := 0; i < s.axes; i++ {
		n += strings.IndexByte(AxisStates, a[i]) * radix
		radix *= len(AxisStates)
	}
	for i := 0; i < s.buttons; i++ {
		n += strings.IndexByte(ButtonStates, a[s.axes+i]) * radix
		radix *= len(ButtonStates)
	}
	return n, nil
}

// Contains reports whether candidate is a well-formed token of this space.
func (s Space) Contains(candidate string) bool {
	if len(candidate) != s.Width() {
		return false
	}
	for i := 0; i < s.axes; i++ {
		if strings.IndexByte(AxisStates, candidate[i]) < 0 {
			return false
		}
	}
	for i := s.axes; i < s.Width(); i++ {
		if strings.IndexByte(ButtonStates, candidate[i]) < 0 {
			return false
		}
	}
	return true
}

// Sample draws an independent uniform state for every axis and button.
func (s Space) Sample(rng *rand.Rand) Action {
	b := make([]byte, s.Width())
	for i := 0; i < s.axes; i++ {
		b[i] = AxisStates[rng.Intn(len(AxisStates))]
	}
	for i := s.axes; i < s.Width(); i++ {
		b[i] = ButtonStates[rng.Intn(len(ButtonStates))]
	}
	return Action(b)
}

// SampleSeeded is Sample with a throwaway generator seeded by seed, so the
// same seed always yields the same action.
func (s Space) SampleSeeded(seed int64) Action {
	return s.Sample(rand.New(rand.NewSource(seed)))
}

// Compose builds a token from explicit axis and button states. Missing
// trailing values default to neutral/released.
func (s Space) Compose(axes []int, buttons []bool) (Action, error) {
	if len(axes) > s.axes || len(buttons) > s.buttons {
		return "", fmt.Errorf("%w: %d axes and %d buttons given for a %d/%d space",
			ErrInvalidAction, len(axes), len(buttons), s.axes, s.buttons)
	}
	b := []byte(s.Neutral())
	for i, v := range axes {
		if v < 0 || v >= len(AxisStates) {
			return "", fmt.Errorf("%w: axis %d state %d", ErrInvalidAction, i, v)
		}
		b[i] = AxisStates[v]
	}
	for i, held := range buttons {
		if held {
			b[s.axes+i] = ButtonStates[1]
		}
	}
	return Action(b), nil
}

// Neutral returns the action with no movement and no buttons held.
func (s Space) Neutral() Action {
	return Action(strings.Repeat(AxisStates[:1], s.axes) + strings.Repeat(ButtonStates[:1], s.buttons))
}
