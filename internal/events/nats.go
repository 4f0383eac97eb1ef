package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSPublisher implements Publisher using NATS
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSPublisher connects to natsURL. Events go to <subject>.episodes and
// <subject>.desync.
func NewNATSPublisher(natsURL, subject string, logger zerolog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name("emulator"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}

	return &NATSPublisher{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "events").Logger(),
	}, nil
}

// Close flushes pending messages and closes the connection.
func (n *NATSPublisher) Close() {
	if n.conn != nil {
		if err := n.conn.Flush(); err != nil {
			n.logger.Warn().Err(err).Msg("flush before close")
		}
		n.conn.Close()
	}
}

// EpisodeSubject is where episode events are published.
func (n *NATSPublisher) EpisodeSubject() string { return n.subject + ".episodes" }

// DesyncSubject is where desync events are published.
func (n *NATSPublisher) DesyncSubject() string { return n.subject + ".desync" }

// PublishEpisode publishes an episode summary.
func (n *NATSPublisher) PublishEpisode(_ context.Context, event EpisodeEvent) error {
	if err := n.publish(n.EpisodeSubject(), event); err != nil {
		return err
	}
	n.logger.Debug().
		Str("episode_id", event.EpisodeID).
		Int("score", event.Score).
		Str("subject", n.EpisodeSubject()).
		Msg("published episode event")
	return nil
}

// PublishDesync publishes a replay desync.
func (n *NATSPublisher) PublishDesync(_ context.Context, event DesyncEvent) error {
	if err := n.publish(n.DesyncSubject(), event); err != nil {
		return err
	}
	n.logger.Debug().
		Str("trace", event.TracePath).
		Int("step", event.Step).
		Str("subject", n.DesyncSubject()).
		Msg("published desync event")
	return nil
}

func (n *NATSPublisher) publish(subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(subject, data); err != nil {
		n.logger.Error().Err(err).Str("subject", subject).Msg("failed to publish")
		return err
	}
	return nil
}
