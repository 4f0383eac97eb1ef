package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cartridge/emulator/internal/action"
	"github.com/cartridge/emulator/internal/config"
	"github.com/cartridge/emulator/internal/env"
	"github.com/cartridge/emulator/internal/events"
	"github.com/cartridge/emulator/internal/game"
	"github.com/cartridge/emulator/internal/metrics"
	"github.com/cartridge/emulator/internal/observation"
	"github.com/cartridge/emulator/internal/policy"
	"github.com/cartridge/emulator/internal/recording"
	"github.com/cartridge/emulator/internal/reward"
	"github.com/cartridge/emulator/internal/snapshot"
	"github.com/cartridge/emulator/internal/storage"
	"github.com/cartridge/emulator/internal/supervisor"
)

// bind maps config keys to flag names.
func bind(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

// session is an environment together with the supervisor it drives.
type session struct {
	env *env.Environment
	sup *supervisor.Supervisor
}

func newSession(cfg config.Config, logger zerolog.Logger, collector *metrics.Collector, opts ...supervisor.Option) (*session, error) {
	space, err := cfg.Space()
	if err != nil {
		return nil, err
	}
	codec, err := observation.New(cfg.Observation)
	if err != nil {
		return nil, fmt.Errorf("failed to create observation codec: %w", err)
	}
	rw, err := reward.New(cfg.Reward.Policy, cfg.Reward.TerminalLives)
	if err != nil {
		return nil, err
	}
	transforms, err := game.ParseTransforms(cfg.Transforms)
	if err != nil {
		return nil, err
	}

	opts = append(opts, supervisor.WithTransitionHook(func(from, to supervisor.State) {
		collector.SupervisorTransition(string(from), string(to))
	}))
	sup := supervisor.New(cfg.Supervisor, logger, opts...)

	var writer *snapshot.Writer
	if cfg.Snapshots.Enabled {
		writer = snapshot.NewWriter(cfg.Snapshots.QueueSize, logger)
	}

	e, err := env.New(sup, env.Options{
		Space:      space,
		Codec:      codec,
		Reward:     rw,
		Transforms: transforms,
		Snapshots:  writer,
		SaveState:  cfg.Supervisor.SaveState,
	}, logger)
	if err != nil {
		sup.Close()
		if writer != nil {
			writer.Close()
		}
		return nil, err
	}
	return &session{env: e, sup: sup}, nil
}

func newStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		return storage.OpenPostgres(ctx, cfg.Storage.DSN)
	default:
		return storage.NewMemoryStore(cfg.Storage.Capacity), nil
	}
}

// newPublisher returns the NATS publisher when configured. The returned
// func releases it.
func newPublisher(cfg config.Config, logger zerolog.Logger) (events.Publisher, func(), error) {
	if cfg.NATS.URL == "" {
		return events.NoopPublisher{}, func() {}, nil
	}
	p, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	return p, p.Close, nil
}

func newPolicy(cfg config.Config, space action.Space) (policy.Policy, error) {
	var script []action.Action
	if cfg.Actor.Policy == policy.NameScript {
		trace, err := recording.LoadFile(cfg.Policy.ScriptFile)
		if err != nil {
			return nil, err
		}
		script = trace.Actions()
	}
	return policy.New(cfg.Actor.Policy, space, cfg.Policy.Seed, script)
}
