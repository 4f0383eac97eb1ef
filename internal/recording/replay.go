package recording

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cartridge/emulator/internal/action"
	"github.com/cartridge/emulator/internal/game"
)

// ErrDesync matches every *DesyncError.
var ErrDesync = errors.New("replay desync")

// DesyncError reports the first step whose score differs from the trace.
// Step is zero-based.
type DesyncError struct {
	Step     int
	Expected int
	Actual   int
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("replay desync at step %d: expected score %d, got %d", e.Step, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrDesync) hold.
func (e *DesyncError) Is(target error) bool { return target == ErrDesync }

// Session is the part of a protocol channel a replay needs.
type Session interface {
	LoadState(ctx context.Context, name string) error
	SendAction(ctx context.Context, a action.Action) error
	ReadState(ctx context.Context) (game.State, error)
}

// Replayer plays traces back and checks every reported score.
type Replayer struct {
	// MaxRetries is how many times a desynced replay is restarted from the
	// save state before giving up.
	MaxRetries int
	// SaveState is used when the trace does not name one.
	SaveState string
	// OnDesync, if set, is called for every desynced attempt.
	OnDesync func(attempt int, err *DesyncError)

	Logger zerolog.Logger
}

// Run replays trace on session. Desyncs restart the whole replay up to
// MaxRetries times; any other error ends the replay at once.
func (r *Replayer) Run(ctx context.Context, session Session, trace Trace) error {
	saveState := trace.SaveState
	if saveState == "" {
		saveState = r.SaveState
	}
	if saveState == "" {
		return errors.New("replay: no save state to start from")
	}

	var last *DesyncError
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		err := r.attempt(ctx, session, saveState, trace)
		if err == nil {
			if attempt > 0 {
				r.Logger.Info().Int("attempt", attempt+1).Msg("replay succeeded after retry")
			}
			return nil
		}
		if !errors.As(err, &last) {
			return err
		}
		r.Logger.Warn().
			Int("attempt", attempt+1).
			Int("step", last.Step).
			Int("expected", last.Expected).
			Int("actual", last.Actual).
			Msg("replay desync")
		if r.OnDesync != nil {
			r.OnDesync(attempt, last)
		}
	}
	return last
}

func (r *Replayer) attempt(ctx context.Context, session Session, saveState string, trace Trace) error {
	if err := session.LoadState(ctx, saveState); err != nil {
		return fmt.Errorf("load state %q: %w", saveState, err)
	}
	for i, step := range trace.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := session.SendAction(ctx, step.Action); err != nil {
			return err
		}
		state, err := session.ReadState(ctx)
		if err != nil {
			return err
		}
		if state.Score != step.Score {
			return &DesyncError{Step: i, Expected: step.Score, Actual: state.Score}
		}
	}
	return nil
}
