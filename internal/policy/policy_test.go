package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/emulator/internal/action"
	"github.com/cartridge/emulator/internal/observation"
)

func TestRandomPolicy_ValidActions(t *testing.T) {
	space := action.Default()
	p := NewRandom(space, 7)

	seen := make(map[action.Action]bool)
	for i := 0; i < 200; i++ {
		a, err := p.SelectAction(observation.Observation{})
		require.NoError(t, err)
		require.True(t, space.Contains(string(a)), "action %q", a)
		seen[a] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestRandomPolicy_SeedIsReproducible(t *testing.T) {
	a, b := NewRandom(action.Default(), 42), NewRandom(action.Default(), 42)
	for i := 0; i < 20; i++ {
		x, _ := a.SelectAction(observation.Observation{})
		y, _ := b.SelectAction(observation.Observation{})
		assert.Equal(t, x, y)
	}
}

func TestScriptPolicy(t *testing.T) {
	space := action.Default()
	p, err := NewScript(space, []action.Action{"001", "100"}, false)
	require.NoError(t, err)

	for _, want := range []action.Action{"001", "100"} {
		got, err := p.SelectAction(observation.Observation{})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err = p.SelectAction(observation.Observation{})
	assert.ErrorIs(t, err, ErrScriptExhausted)

	p.Rewind()
	got, err := p.SelectAction(observation.Observation{})
	require.NoError(t, err)
	assert.Equal(t, action.Action("001"), got)
}

func TestScriptPolicy_Loops(t *testing.T) {
	p, err := NewScript(action.Default(), []action.Action{"201"}, true)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		got, err := p.SelectAction(observation.Observation{})
		require.NoError(t, err)
		assert.Equal(t, action.Action("201"), got)
	}
}

func TestScriptPolicy_RejectsInvalid(t *testing.T) {
	_, err := NewScript(action.Default(), []action.Action{"001", "9"}, false)
	assert.ErrorIs(t, err, action.ErrInvalidAction)

	_, err = NewScript(action.Default(), nil, false)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	p, err := New(NameRandom, action.Default(), 1, nil)
	require.NoError(t, err)
	assert.IsType(t, &RandomPolicy{}, p)

	p, err = New(NameScript, action.Default(), 0, []action.Action{"000"})
	require.NoError(t, err)
	assert.IsType(t, &ScriptPolicy{}, p)

	_, err = New("greedy", action.Default(), 0, nil)
	assert.Error(t, err)
}
