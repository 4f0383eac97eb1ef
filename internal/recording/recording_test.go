package recording

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/emulator/internal/action"
	"github.com/cartridge/emulator/internal/game"
)

func sampleTrace() Trace {
	t := Trace{SaveState: "start"}
	t.Append("001", 110)
	t.Append("120", 120)
	t.Append("201", 230)
	return t
}

func TestTrace_TextFormat(t *testing.T) {
	tr := sampleTrace()

	var buf bytes.Buffer
	n, err := tr.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	assert.Equal(t, "# save_state start\n001 110\n120 120\n201 230\n", buf.String())

	back, err := ReadTrace(&buf)
	require.NoError(t, err)
	assert.Equal(t, tr, back)
}

func TestReadTrace_SkipsCommentsAndBlanks(t *testing.T) {
	tr, err := ReadTrace(strings.NewReader("# captured by hand\n\n000 10\n  \n001 120\n"))
	require.NoError(t, err)
	assert.Empty(t, tr.SaveState)
	assert.Equal(t, []action.Action{"000", "001"}, tr.Actions())
}

func TestReadTrace_Malformed(t *testing.T) {
	for _, in := range []string{"000\n", "000 ten\n", "000 1 2\n"} {
		_, err := ReadTrace(strings.NewReader(in))
		assert.Error(t, err, "input %q", in)
	}
}

func TestTrace_Files(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episode.trace")
	tr := sampleTrace()
	require.NoError(t, tr.SaveFile(path))

	back, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, tr, back)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

// scriptedSession reports scores from a list per attempt.
type scriptedSession struct {
	attempts [][]int
	attempt  int
	step     int
	loads    []string
	readErr  error
}

func (s *scriptedSession) LoadState(_ context.Context, name string) error {
	s.loads = append(s.loads, name)
	if len(s.loads) > 1 {
		s.attempt++
	}
	s.step = 0
	return nil
}

func (s *scriptedSession) SendAction(context.Context, action.Action) error { return nil }

func (s *scriptedSession) ReadState(context.Context) (game.State, error) {
	if s.readErr != nil {
		return game.State{}, s.readErr
	}
	scores := s.attempts[min(s.attempt, len(s.attempts)-1)]
	score := scores[s.step]
	s.step++
	return game.State{Score: score}, nil
}

func TestReplayer_Matches(t *testing.T) {
	session := &scriptedSession{attempts: [][]int{{110, 120, 230}}}
	r := &Replayer{Logger: zerolog.Nop()}

	require.NoError(t, r.Run(context.Background(), session, sampleTrace()))
	assert.Equal(t, []string{"start"}, session.loads)
}

func TestReplayer_DesyncIsTyped(t *testing.T) {
	session := &scriptedSession{attempts: [][]int{{110, 999, 230}}}
	var seen []int
	r := &Replayer{
		MaxRetries: 2,
		Logger:     zerolog.Nop(),
		OnDesync:   func(attempt int, _ *DesyncError) { seen = append(seen, attempt) },
	}

	err := r.Run(context.Background(), session, sampleTrace())
	require.ErrorIs(t, err, ErrDesync)

	var desync *DesyncError
	require.ErrorAs(t, err, &desync)
	assert.Equal(t, DesyncError{Step: 1, Expected: 120, Actual: 999}, *desync)
	assert.Len(t, session.loads, 3, "whole replay retried")
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestReplayer_RetrySucceeds(t *testing.T) {
	session := &scriptedSession{attempts: [][]int{{110, 121, 230}, {110, 120, 230}}}
	r := &Replayer{MaxRetries: 1, Logger: zerolog.Nop()}

	require.NoError(t, r.Run(context.Background(), session, sampleTrace()))
	assert.Len(t, session.loads, 2)
}

func TestReplayer_ProtocolErrorsAreNotRetried(t *testing.T) {
	boom := errors.New("connection reset")
	session := &scriptedSession{readErr: boom}
	r := &Replayer{MaxRetries: 5, Logger: zerolog.Nop()}

	err := r.Run(context.Background(), session, sampleTrace())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, session.loads, 1)
}

func TestReplayer_NeedsSaveState(t *testing.T) {
	tr := sampleTrace()
	tr.SaveState = ""
	r := &Replayer{Logger: zerolog.Nop()}
	assert.Error(t, r.Run(context.Background(), &scriptedSession{}, tr))

	r.SaveState = "fallback"
	session := &scriptedSession{attempts: [][]int{{110, 120, 230}}}
	require.NoError(t, r.Run(context.Background(), session, tr))
	assert.Equal(t, []string{"fallback"}, session.loads)
}
