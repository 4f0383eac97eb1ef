// Package config loads the service configuration from defaults, an
// optional file and EMULATOR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/cartridge/emulator/internal/action"
	"github.com/cartridge/emulator/internal/actor"
	"github.com/cartridge/emulator/internal/game"
	"github.com/cartridge/emulator/internal/observation"
	"github.com/cartridge/emulator/internal/policy"
	"github.com/cartridge/emulator/internal/reward"
	"github.com/cartridge/emulator/internal/snapshot"
	"github.com/cartridge/emulator/internal/storage"
	"github.com/cartridge/emulator/internal/supervisor"
)

// EnvPrefix prefixes every environment override, e.g.
// EMULATOR_SUPERVISOR_PORT.
const EnvPrefix = "EMULATOR"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config holds all service configuration
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Supervisor  supervisor.Config   `mapstructure:"supervisor"`
	Action      ActionConfig        `mapstructure:"action"`
	Observation observation.Options `mapstructure:"observation"`
	Reward      RewardConfig        `mapstructure:"reward"`
	// Transforms name the state transforms applied before encoding, in order.
	Transforms []string       `mapstructure:"transforms"`
	Snapshots  SnapshotConfig `mapstructure:"snapshots"`
	Policy     PolicyConfig   `mapstructure:"policy"`
	Actor      actor.Config   `mapstructure:"actor"`
	Replay     ReplayConfig   `mapstructure:"replay"`
	Storage    StorageConfig  `mapstructure:"storage"`
	NATS       NATSConfig     `mapstructure:"nats"`
	Server     ServerConfig   `mapstructure:"server"`
}

// ActionConfig sizes the action space.
type ActionConfig struct {
	Axes    int `mapstructure:"axes"`
	Buttons int `mapstructure:"buttons"`
}

// RewardConfig selects the reward policy.
type RewardConfig struct {
	Policy        string `mapstructure:"policy"`
	TerminalLives int    `mapstructure:"terminal_lives"`
}

// SnapshotConfig controls the per-tick diagnostic frames.
type SnapshotConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	QueueSize int  `mapstructure:"queue_size"`
}

// PolicyConfig parameterises action selection.
type PolicyConfig struct {
	// Seed for the random policy; zero seeds from the clock.
	Seed int64 `mapstructure:"seed"`
	// ScriptFile is a trace whose actions the script policy plays.
	ScriptFile string `mapstructure:"script_file"`
}

// ReplayConfig controls trace replays.
type ReplayConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

// StorageConfig holds leaderboard storage configuration
type StorageConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Capacity int    `mapstructure:"capacity"`
}

// NATSConfig holds NATS configuration. An empty URL disables publishing.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// ServerConfig holds the serve command's listeners.
type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Default returns a config with sensible defaults
func Default() Config {
	return Config{
		LogLevel:    "info",
		Supervisor:  supervisor.Default(),
		Action:      ActionConfig{Axes: 2, Buttons: 1},
		Observation: observation.DefaultOptions(),
		Reward:      RewardConfig{Policy: reward.NameGrade},
		Transforms:  []string{},
		Snapshots:   SnapshotConfig{QueueSize: snapshot.DefaultQueueSize},
		Actor:       actor.Default(),
		Replay:      ReplayConfig{MaxRetries: 3},
		Storage:     StorageConfig{Driver: DriverMemory, Capacity: storage.DefaultCapacity},
		NATS:        NATSConfig{Subject: "emulator"},
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":50051",
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if err := c.Supervisor.Validate(); err != nil {
		return err
	}
	if _, err := c.Space(); err != nil {
		return err
	}
	if _, err := observation.New(c.Observation); err != nil {
		return fmt.Errorf("observation: %w", err)
	}
	if _, err := reward.New(c.Reward.Policy, c.Reward.TerminalLives); err != nil {
		return err
	}
	if _, err := game.ParseTransforms(c.Transforms); err != nil {
		return err
	}
	if c.Snapshots.Enabled && c.Snapshots.QueueSize <= 0 {
		return errors.New("snapshots: queue_size must be positive")
	}
	switch c.Actor.Policy {
	case policy.NameRandom, "":
	case policy.NameScript:
		if c.Policy.ScriptFile == "" {
			return errors.New("policy: script_file is required by the script policy")
		}
	default:
		return fmt.Errorf("actor: unknown policy %q", c.Actor.Policy)
	}
	if err := c.Actor.Validate(); err != nil {
		return fmt.Errorf("actor: %w", err)
	}
	if c.Replay.MaxRetries < 0 {
		return errors.New("replay: max_retries must not be negative")
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage: dsn is required by the postgres driver")
		}
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Storage.Driver)
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return errors.New("nats: subject is required when url is set")
	}
	return nil
}

// Space returns the configured action space.
func (c Config) Space() (action.Space, error) {
	return action.NewSpace(c.Action.Axes, c.Action.Buttons)
}

// Load layers file (optional) and environment variables over Default and
// validates the result. Flags bound to v before the call take precedence.
func Load(v *viper.Viper, file string) (Config, error) {
	cfg := Default()
	if err := setDefaults(v, cfg); err != nil {
		return Config{}, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key of cfg with v so environment variables
// can override keys that appear in no config file.
func setDefaults(v *viper.Viper, cfg Config) error {
	var tree map[string]any
	if err := mapstructure.Decode(cfg, &tree); err != nil {
		return fmt.Errorf("failed to flatten defaults: %w", err)
	}
	walk("", tree, v.SetDefault)
	return nil
}

func walk(prefix string, m map[string]any, set func(string, any)) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			walk(key, sub, set)
			continue
		}
		set(key, val)
	}
}
