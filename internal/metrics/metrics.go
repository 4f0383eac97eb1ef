// Package metrics records operational metrics as structured log events.
package metrics

import (
	"time"

	"github.com/rs/zerolog"
)

// Collector emits one log event per metric sample.
type Collector struct {
	logger zerolog.Logger
}

func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{
		logger: logger,
	}
}

// Step tracks a single environment step.
func (c *Collector) Step(episodeID string, step int, reward float64, latency time.Duration) {
	c.logger.Debug().
		Str("metric", "step").
		Str("episode_id", episodeID).
		Int("step", step).
		Float64("reward", reward).
		Dur("latency", latency).
		Msg("step metric")
}

// EpisodeCompleted tracks the end of an episode.
func (c *Collector) EpisodeCompleted(episodeID string, score, steps int, rewardSum float64, duration time.Duration) {
	c.logger.Info().
		Str("metric", "episode_completed").
		Str("episode_id", episodeID).
		Int("score", score).
		Int("steps", steps).
		Float64("reward_sum", rewardSum).
		Dur("duration", duration).
		Msg("episode metric")
}

// SupervisorTransition tracks emulator lifecycle changes.
func (c *Collector) SupervisorTransition(fromState, toState string) {
	c.logger.Info().
		Str("metric", "supervisor_transition").
		Str("from_state", fromState).
		Str("to_state", toState).
		Msg("supervisor transition metric")
}

// Desync tracks a replay that diverged.
func (c *Collector) Desync(trace string, attempt, step, expected, actual int) {
	c.logger.Warn().
		Str("metric", "desync").
		Str("trace", trace).
		Int("attempt", attempt).
		Int("step", step).
		Int("expected", expected).
		Int("actual", actual).
		Msg("replay desync metric")
}

// APIRequest tracks HTTP and RPC requests.
func (c *Collector) APIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	c.logger.Info().
		Str("metric", "api_request").
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status_code", statusCode).
		Dur("duration", duration).
		Msg("API request metric")
}
