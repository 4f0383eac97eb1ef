// Package actor plays episodes against an environment with a policy and
// records their outcomes.
package actor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cartridge/emulator/internal/action"
	"github.com/cartridge/emulator/internal/env"
	"github.com/cartridge/emulator/internal/events"
	"github.com/cartridge/emulator/internal/metrics"
	"github.com/cartridge/emulator/internal/observation"
	"github.com/cartridge/emulator/internal/policy"
	"github.com/cartridge/emulator/internal/recording"
	"github.com/cartridge/emulator/internal/storage"
)

// Config holds the episode loop settings.
type Config struct {
	Game   string `mapstructure:"game"`
	Policy string `mapstructure:"policy"`

	// Episode management
	MaxEpisodes    int           `mapstructure:"max_episodes"`
	MaxSteps       int           `mapstructure:"max_steps"`
	EpisodeTimeout time.Duration `mapstructure:"episode_timeout"`
	// MaxFailures stops Run after that many episodes fail in a row.
	MaxFailures int `mapstructure:"max_failures"`

	// TraceDir receives one trace file per episode when set.
	TraceDir string `mapstructure:"trace_dir"`
}

// Default returns a config with sensible defaults
func Default() Config {
	return Config{
		Game:           "ddonpach",
		Policy:         policy.NameRandom,
		MaxEpisodes:    -1, // unlimited
		MaxSteps:       0,
		EpisodeTimeout: 30 * time.Minute,
		MaxFailures:    3,
		TraceDir:       "run/traces",
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.EpisodeTimeout <= 0 {
		return fmt.Errorf("episode_timeout must be positive")
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("max_steps must not be negative")
	}
	if c.MaxFailures <= 0 {
		return fmt.Errorf("max_failures must be positive")
	}
	return nil
}

// Environment is what the actor plays against.
type Environment interface {
	Reset(ctx context.Context) (observation.Observation, error)
	Step(ctx context.Context, a action.Action) (env.StepResult, error)
	Trace() recording.Trace
}

// Episode summarises one played episode.
type Episode struct {
	ID        string
	Score     int
	Steps     int
	MaxHit    int
	RewardSum float64
	Done      bool
	TracePath string
	Duration  time.Duration
}

// Actor runs the episode loop.
type Actor struct {
	cfg     Config
	env     Environment
	policy  policy.Policy
	store   storage.Store
	events  events.Publisher
	metrics *metrics.Collector
	logger  zerolog.Logger
	now     func() time.Time

	episodeCount int
	episodes     []Episode
}

// New creates a new actor instance
func New(cfg Config, environment Environment, p policy.Policy, store storage.Store, publisher events.Publisher, collector *metrics.Collector, logger zerolog.Logger) *Actor {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if collector == nil {
		collector = metrics.NewCollector(zerolog.Nop())
	}
	return &Actor{
		cfg:     cfg,
		env:     environment,
		policy:  p,
		store:   store,
		events:  publisher,
		metrics: collector,
		logger:  logger.With().Str("component", "actor").Logger(),
		now:     time.Now,
	}
}

// Episodes returns the summaries of the successfully played episodes.
func (a *Actor) Episodes() []Episode {
	return append([]Episode(nil), a.episodes...)
}

// Run starts the actor main loop. It returns nil once MaxEpisodes have
// been attempted, the context error on cancellation, or the last episode
// error after MaxFailures consecutive failures.
func (a *Actor) Run(ctx context.Context) error {
	a.logger.Info().Int("max_episodes", a.cfg.MaxEpisodes).Msg("actor starting main loop")

	failures := 0
	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("context cancelled, stopping actor")
			return ctx.Err()
		default:
		}

		if a.cfg.MaxEpisodes >= 0 && a.episodeCount >= a.cfg.MaxEpisodes {
			a.logger.Info().Int("episodes", a.episodeCount).Msg("reached maximum episodes, stopping")
			return nil
		}

		ep, err := a.runEpisode(ctx)
		a.episodeCount++
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			a.logger.Error().Err(err).Int("episode", a.episodeCount).Int("failures", failures).Msg("episode failed")
			if failures >= a.cfg.MaxFailures {
				return fmt.Errorf("%d consecutive episodes failed: %w", failures, err)
			}
			continue
		}
		failures = 0
		a.episodes = append(a.episodes, ep)
		if a.episodeCount%10 == 0 {
			a.logger.Info().Int("episodes", a.episodeCount).Msg("episode milestone")
		}
	}
}

// runEpisode plays until the environment reports done, MaxSteps is reached
// or a script runs out.
func (a *Actor) runEpisode(ctx context.Context) (Episode, error) {
	episodeCtx, cancel := context.WithTimeout(ctx, a.cfg.EpisodeTimeout)
	defer cancel()

	ep := Episode{ID: uuid.New().String()}
	started := a.now()
	logger := a.logger.With().Str("episode_id", ep.ID).Logger()

	if r, ok := a.policy.(interface{ Rewind() }); ok {
		r.Rewind()
	}

	obs, err := a.env.Reset(episodeCtx)
	if err != nil {
		a.publish(ctx, ep, err)
		return ep, fmt.Errorf("failed to reset environment: %w", err)
	}

	for a.cfg.MaxSteps == 0 || ep.Steps < a.cfg.MaxSteps {
		act, err := a.policy.SelectAction(obs)
		if errors.Is(err, policy.ErrScriptExhausted) {
			break
		}
		if err != nil {
			a.publish(ctx, ep, err)
			return ep, fmt.Errorf("failed to select action: %w", err)
		}

		stepStart := a.now()
		res, err := a.env.Step(episodeCtx, act)
		if err != nil {
			a.publish(ctx, ep, err)
			return ep, fmt.Errorf("failed to step environment: %w", err)
		}
		ep.Steps++
		ep.Score = res.Info.Score
		ep.MaxHit = res.Info.MaxHit
		ep.RewardSum = res.Info.RewardSum
		a.metrics.Step(ep.ID, ep.Steps, res.Reward, a.now().Sub(stepStart))

		if res.Done {
			ep.Done = true
			break
		}
		obs = res.Observation
	}
	ep.Duration = a.now().Sub(started)

	if a.cfg.TraceDir != "" {
		path, err := a.saveTrace(ep.ID)
		if err != nil {
			logger.Warn().Err(err).Msg("trace not saved")
		}
		ep.TracePath = path
	}

	if a.store != nil {
		entry := &storage.Entry{
			ID:        ep.ID,
			Game:      a.cfg.Game,
			Policy:    a.cfg.Policy,
			Score:     ep.Score,
			Steps:     ep.Steps,
			MaxHit:    ep.MaxHit,
			RewardSum: ep.RewardSum,
			TracePath: ep.TracePath,
		}
		if err := a.store.Save(ctx, entry); err != nil {
			logger.Warn().Err(err).Msg("leaderboard entry not saved")
		}
	}

	a.publish(ctx, ep, nil)
	a.metrics.EpisodeCompleted(ep.ID, ep.Score, ep.Steps, ep.RewardSum, ep.Duration)
	logger.Info().
		Int("score", ep.Score).
		Int("steps", ep.Steps).
		Bool("done", ep.Done).
		Dur("duration", ep.Duration).
		Msg("episode completed")
	return ep, nil
}

func (a *Actor) saveTrace(id string) (string, error) {
	if err := os.MkdirAll(a.cfg.TraceDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(a.cfg.TraceDir, id+".trace")
	trace := a.env.Trace()
	if err := trace.SaveFile(path); err != nil {
		return "", err
	}
	return path, nil
}

func (a *Actor) publish(ctx context.Context, ep Episode, cause error) {
	event := events.EpisodeEvent{
		EpisodeID: ep.ID,
		Game:      a.cfg.Game,
		Policy:    a.cfg.Policy,
		Score:     ep.Score,
		Steps:     ep.Steps,
		MaxHit:    ep.MaxHit,
		RewardSum: ep.RewardSum,
		Done:      ep.Done,
	}
	if cause != nil {
		event.LastError = cause.Error()
	}
	if err := a.events.PublishEpisode(ctx, event); err != nil {
		a.logger.Warn().Err(err).Str("episode_id", ep.ID).Msg("episode event not published")
	}
}
