package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cartridge/emulator/internal/events"
	"github.com/cartridge/emulator/internal/metrics"
	"github.com/cartridge/emulator/internal/recording"
)

func newReplayCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay TRACE...",
		Short: "Replay traces against their save state and check every score",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), c, args)
		},
	}
	cmd.Flags().Int("max-retries", 3, "Times a desynced replay is restarted")
	bind(c.v, cmd.Flags(), map[string]string{"replay.max_retries": "max-retries"})
	return cmd
}

func runReplay(ctx context.Context, c *cli, paths []string) error {
	cfg, logger := c.cfg, c.logger
	collector := metrics.NewCollector(logger)

	s, err := newSession(cfg, logger, collector)
	if err != nil {
		return err
	}
	defer s.env.Close()
	publisher, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	if _, err := s.env.Reset(ctx); err != nil {
		return fmt.Errorf("failed to start emulator: %w", err)
	}

	failed := 0
	for _, path := range paths {
		trace, err := recording.LoadFile(path)
		if err != nil {
			return err
		}
		r := &recording.Replayer{
			MaxRetries: cfg.Replay.MaxRetries,
			SaveState:  cfg.Supervisor.SaveState,
			Logger:     logger.With().Str("trace", path).Logger(),
			OnDesync: func(attempt int, d *recording.DesyncError) {
				collector.Desync(path, attempt, d.Step, d.Expected, d.Actual)
				event := events.DesyncEvent{TracePath: path, Attempt: attempt, Step: d.Step, Expected: d.Expected, Actual: d.Actual}
				if err := publisher.PublishDesync(ctx, event); err != nil {
					logger.Warn().Err(err).Msg("desync event not published")
				}
			},
		}

		err = r.Run(ctx, s.env.Channel(), trace)
		switch {
		case err == nil:
			logger.Info().Str("trace", path).Int("steps", trace.Len()).Msg("replay matched")
		case errors.Is(err, recording.ErrDesync):
			failed++
			logger.Error().Err(err).Str("trace", path).Msg("replay desynced")
		default:
			return fmt.Errorf("replay %s: %w", path, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d traces desynced", failed, len(paths))
	}
	return nil
}
