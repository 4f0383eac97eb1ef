package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/cartridge/emulator/internal/actor"
	"github.com/cartridge/emulator/internal/metrics"
)

func newPlayCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play episodes with a policy and record them on the leaderboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlay(cmd.Context(), c)
		},
	}
	flags := cmd.Flags()
	flags.Int("max-episodes", -1, "Maximum episodes to run (-1 for unlimited)")
	flags.Int("max-steps", 0, "Maximum steps per episode (0 for unlimited)")
	flags.String("policy", "random", "Policy (random, script)")
	flags.Int64("seed", 0, "Random policy seed (0 seeds from the clock)")
	flags.String("script", "", "Trace file played by the script policy")
	flags.String("trace-dir", "run/traces", "Directory receiving one trace per episode")
	bind(c.v, flags, map[string]string{
		"actor.max_episodes": "max-episodes",
		"actor.max_steps":    "max-steps",
		"actor.policy":       "policy",
		"policy.seed":        "seed",
		"policy.script_file": "script",
		"actor.trace_dir":    "trace-dir",
	})
	return cmd
}

func runPlay(ctx context.Context, c *cli) error {
	cfg, logger := c.cfg, c.logger
	collector := metrics.NewCollector(logger)

	s, err := newSession(cfg, logger, collector)
	if err != nil {
		return err
	}
	defer s.env.Close()

	p, err := newPolicy(cfg, s.env.Space())
	if err != nil {
		return err
	}
	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	publisher, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	actorCfg := cfg.Actor
	actorCfg.Game = cfg.Supervisor.Game
	a := actor.New(actorCfg, s.env, p, store, publisher, collector, logger)

	logger.Info().
		Str("game", actorCfg.Game).
		Str("policy", actorCfg.Policy).
		Int("max_episodes", actorCfg.MaxEpisodes).
		Msg("starting actor")

	err = a.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info().Msg("actor stopped")
		return nil
	}
	return err
}
