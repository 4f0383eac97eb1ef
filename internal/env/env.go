// Package env composes the supervisor, protocol channel, observation codec
// and reward policy behind a Reset/Step/Close contract.
package env

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cartridge/emulator/internal/action"
	"github.com/cartridge/emulator/internal/game"
	"github.com/cartridge/emulator/internal/observation"
	"github.com/cartridge/emulator/internal/protocol"
	"github.com/cartridge/emulator/internal/recording"
	"github.com/cartridge/emulator/internal/reward"
	"github.com/cartridge/emulator/internal/snapshot"
)

// ErrNotReset is returned by Step before the first successful Reset.
var ErrNotReset = errors.New("environment has no session, call Reset first")

// Supervisor is the process lifecycle the environment drives.
type Supervisor interface {
	Start(ctx context.Context) (*protocol.Channel, error)
	Stop() error
	Close() error
	MarkRunning()
}

// Renderer draws the frame persisted next to emulator snapshots.
type Renderer interface {
	Render(state game.State) *image.Gray
}

// Options wires the environment's collaborators.
type Options struct {
	Space  action.Space
	Codec  observation.Codec
	Reward reward.Policy
	// Transforms run on a copy of each state before encoding.
	Transforms []game.Transform
	// Snapshots, if set, receives one composed frame per tick. Frames are
	// drawn by Codec when it implements Renderer.
	Snapshots *snapshot.Writer
	// SaveState is recorded in each episode trace.
	SaveState string
}

// Counters are the running per-episode statistics, seeded from the first
// state the emulator reports.
type Counters struct {
	Steps     int     `json:"steps"`
	Frame     int     `json:"frame"`
	Lives     int     `json:"lives"`
	Bombs     int     `json:"bombs"`
	Score     int     `json:"score"`
	Combo     int     `json:"combo"`
	Hit       int     `json:"hit"`
	MaxHit    int     `json:"max_hit"`
	RewardSum float64 `json:"reward_sum"`
}

// Info carries auxiliary per-step data.
type Info struct {
	Counters
	Action   action.Action `json:"action"`
	Snapshot string        `json:"snapshot,omitempty"`
	// Bullets is the per-tick motion of bullets that kept their slot.
	Bullets []game.Motion `json:"bullets,omitempty"`
}

// StepResult is the outcome of one Step.
type StepResult struct {
	Observation observation.Observation `json:"observation"`
	Reward      float64                 `json:"reward"`
	Done        bool                    `json:"done"`
	Info        Info                    `json:"info"`
}

// Environment is one lockstep session with an emulator. It is not safe for
// concurrent use; callers serialise Reset and Step.
type Environment struct {
	sup    Supervisor
	opts   Options
	render Renderer
	logger zerolog.Logger

	channel  *protocol.Channel
	prev     game.State
	counters Counters
	trace    recording.Trace

	closeOnce sync.Once
	closeErr  error
}

// New returns an environment without a session; call Reset to start one.
func New(sup Supervisor, opts Options, logger zerolog.Logger) (*Environment, error) {
	if sup == nil {
		return nil, errors.New("env: supervisor is required")
	}
	if opts.Codec == nil {
		return nil, errors.New("env: observation codec is required")
	}
	if opts.Reward == nil {
		return nil, errors.New("env: reward policy is required")
	}
	if opts.Space.Width() == 0 {
		opts.Space = action.Default()
	}
	e := &Environment{
		sup:    sup,
		opts:   opts,
		logger: logger.With().Str("component", "env").Logger(),
	}
	if r, ok := opts.Codec.(Renderer); ok && opts.Snapshots != nil {
		e.render = r
	}
	return e, nil
}

// Space returns the action space.
func (e *Environment) Space() action.Space { return e.opts.Space }

// ObservationShape returns the fixed observation shape.
func (e *Environment) ObservationShape() []int { return e.opts.Codec.Shape() }

// Reset tears down any previous session, starts a fresh emulator and
// returns the observation of its first state.
func (e *Environment) Reset(ctx context.Context) (observation.Observation, error) {
	if e.channel != nil {
		if err := e.sup.Stop(); err != nil {
			e.logger.Warn().Err(err).Msg("stop previous session")
		}
		e.channel = nil
	}
	if e.opts.Snapshots != nil {
		if err := e.opts.Snapshots.Drain(ctx); err != nil {
			return observation.Observation{}, fmt.Errorf("drain snapshots: %w", err)
		}
	}

	ch, err := e.sup.Start(ctx)
	if err != nil {
		return observation.Observation{}, err
	}
	e.channel = ch

	state, err := ch.ReadState(ctx)
	if err != nil {
		return observation.Observation{}, fmt.Errorf("read first state: %w", err)
	}
	e.sup.MarkRunning()

	e.prev = state
	e.counters = Counters{}
	e.counters.observe(state)
	e.trace = recording.Trace{SaveState: e.opts.SaveState}

	obs, _, err := e.encode(ctx, state)
	if err != nil {
		return observation.Observation{}, err
	}
	e.logger.Info().Int("lives", state.Lives).Int("score", state.Score).Msg("episode started")
	return obs, nil
}

// Step validates a, sends it and scores the resulting state.
func (e *Environment) Step(ctx context.Context, a action.Action) (StepResult, error) {
	if !e.opts.Space.Contains(string(a)) {
		return StepResult{}, fmt.Errorf("%w: %q", action.ErrInvalidAction, a)
	}
	if e.channel == nil {
		return StepResult{}, ErrNotReset
	}

	if err := e.channel.SendAction(ctx, a); err != nil {
		return StepResult{}, err
	}
	state, err := e.channel.ReadState(ctx)
	if err != nil {
		return StepResult{}, err
	}

	obs, snap, err := e.encode(ctx, state)
	if err != nil {
		return StepResult{}, err
	}

	r, done := e.opts.Reward.Score(e.prev, state)
	bullets := game.Trajectories(e.prev.Bullets, state.Bullets)
	e.prev = state
	e.counters.Steps++
	e.counters.RewardSum += r
	e.counters.observe(state)
	e.trace.Append(a, state.Score)

	e.logger.Debug().
		Str("action", string(a)).
		Float64("reward", r).
		Bool("done", done).
		Int("score", state.Score).
		Int("lives", state.Lives).
		Msg("step")

	return StepResult{
		Observation: obs,
		Reward:      r,
		Done:        done,
		Info:        Info{Counters: e.counters, Action: a, Snapshot: snap, Bullets: bullets},
	}, nil
}

// StepOrdinal decodes n with the action space and steps with it.
func (e *Environment) StepOrdinal(ctx context.Context, n int) (StepResult, error) {
	a, err := e.opts.Space.FromOrdinal(n)
	if err != nil {
		return StepResult{}, fmt.Errorf("%w: %w", action.ErrInvalidAction, err)
	}
	return e.Step(ctx, a)
}

// encode transforms a copy of state, encodes it and queues the diagnostic
// frame when snapshots are enabled.
func (e *Environment) encode(ctx context.Context, state game.State) (observation.Observation, string, error) {
	view := game.Apply(state, e.opts.Transforms...)
	obs, err := e.opts.Codec.Encode(view)
	if err != nil {
		return observation.Observation{}, "", err
	}
	if e.render == nil {
		return obs, "", nil
	}

	path, err := e.channel.RequestSnapshot(ctx)
	if err != nil {
		return observation.Observation{}, "", fmt.Errorf("request snapshot: %w", err)
	}
	if err := e.opts.Snapshots.Enqueue(e.render.Render(view), path); err != nil {
		e.logger.Warn().Err(err).Msg("snapshot frame dropped")
	}
	return obs, path, nil
}

// Close stops the emulator and the snapshot writer. It is safe to call
// more than once.
func (e *Environment) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.sup.Close()
		if e.opts.Snapshots != nil {
			if err := e.opts.Snapshots.Close(); err != nil && e.closeErr == nil {
				e.closeErr = err
			}
		}
		e.channel = nil
	})
	return e.closeErr
}

// Counters returns the running statistics of the current episode.
func (e *Environment) Counters() Counters { return e.counters }

// Trace returns a copy of the current episode's action/score trace.
func (e *Environment) Trace() recording.Trace {
	t := recording.Trace{SaveState: e.trace.SaveState}
	t.Steps = append([]recording.Step(nil), e.trace.Steps...)
	return t
}

// Channel returns the live session, e.g. for replays. It is nil before
// Reset and after Close.
func (e *Environment) Channel() *protocol.Channel { return e.channel }

// State returns the last decoded state, before transforms.
func (e *Environment) State() game.State { return e.prev.Clone() }

func (c *Counters) observe(s game.State) {
	c.Frame = s.Frame
	c.Lives = s.Lives
	c.Bombs = s.Bombs
	c.Score = s.Score
	c.Combo = s.Combo
	c.Hit = s.Hit
	if s.Hit > c.MaxHit {
		c.MaxHit = s.Hit
	}
}
