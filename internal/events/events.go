// Package events fans episode outcomes out to downstream consumers.
package events

import "context"

// Publisher is implemented by downstream fan-out mechanisms.
type Publisher interface {
	PublishEpisode(ctx context.Context, payload EpisodeEvent) error
	PublishDesync(ctx context.Context, payload DesyncEvent) error
}

// EpisodeEvent is emitted when an episode ends.
type EpisodeEvent struct {
	EpisodeID string  `json:"episode_id"`
	Game      string  `json:"game"`
	Policy    string  `json:"policy"`
	Score     int     `json:"score"`
	Steps     int     `json:"steps"`
	MaxHit    int     `json:"max_hit"`
	RewardSum float64 `json:"reward_sum"`
	Done      bool    `json:"done"`
	LastError string  `json:"last_error,omitempty"`
}

// DesyncEvent reports a replay that diverged from its trace.
type DesyncEvent struct {
	TracePath string `json:"trace_path"`
	Attempt   int    `json:"attempt"`
	Step      int    `json:"step"`
	Expected  int    `json:"expected"`
	Actual    int    `json:"actual"`
}

// NoopPublisher drops everything; useful for tests.
type NoopPublisher struct{}

// PublishEpisode satisfies Publisher.
func (NoopPublisher) PublishEpisode(context.Context, EpisodeEvent) error { return nil }

// PublishDesync satisfies Publisher.
func (NoopPublisher) PublishDesync(context.Context, DesyncEvent) error { return nil }
