package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cartridge/emulator/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// cli carries state shared by the subcommands.
type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	logger  zerolog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "emulator",
		Short: "Drive an arcade emulator as a reinforcement learning environment",
		Long: `emulator launches MAME with a generated bridge plugin, steps the game in
lockstep over a local socket and turns each reported state into an
observation and a reward.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.v, c.cfgFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = newLogger(cfg.LogLevel)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "Config file (yaml, json or toml)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("binary", "mame", "Emulator binary")
	flags.String("game", "ddonpach", "Game (romset) to launch")
	flags.Int("port", 32512, "Port the plugin connects back to")
	flags.String("save-state", "", "Save state to start every session from")
	bind(c.v, flags, map[string]string{
		"log_level":             "log-level",
		"supervisor.binary":     "binary",
		"supervisor.game":       "game",
		"supervisor.port":       "port",
		"supervisor.save_state": "save-state",
	})

	root.AddCommand(
		newPlayCmd(c),
		newReplayCmd(c),
		newRenderCmd(c),
		newServeCmd(c),
		newVersionCmd(),
	)
	return root
}

func main() {
	for _, envFile := range []string{".env", "../../.env"} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		// skip config loading
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
