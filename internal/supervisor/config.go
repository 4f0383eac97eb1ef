package supervisor

import (
	"errors"
	"path/filepath"
	"time"
)

// Config describes how to launch the emulator and talk to it.
type Config struct {
	Binary string `mapstructure:"binary"`
	// BinaryArgs are placed before the game name, for wrappers around the
	// emulator binary.
	BinaryArgs []string `mapstructure:"binary_args"`
	Game       string   `mapstructure:"game"`

	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	PluginName    string `mapstructure:"plugin_name"`
	PluginsPath   string `mapstructure:"plugins_path"`
	InputDir      string `mapstructure:"input_dir"`
	SnapshotDir   string `mapstructure:"snapshot_dir"`
	RecordingFile string `mapstructure:"recording_file"`

	Windowed   bool     `mapstructure:"windowed"`
	NoThrottle bool     `mapstructure:"no_throttle"`
	NoVideo    bool     `mapstructure:"no_video"`
	NoAudio    bool     `mapstructure:"no_audio"`
	SaveState  string   `mapstructure:"save_state"`
	ExtraArgs  []string `mapstructure:"extra_args"`
	Env        []string `mapstructure:"env"`

	// Plugin settings rendered into the generated artifacts.
	TickRate      int  `mapstructure:"tick_rate"`
	RenderSprites bool `mapstructure:"render_sprites"`
	RenderState   bool `mapstructure:"render_state"`
	ShowInput     bool `mapstructure:"show_input"`

	// ConnectTimeout bounds the accept handshake. Zero waits until the
	// process connects, exits, or the context ends.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	IOTimeout      time.Duration `mapstructure:"io_timeout"`

	GracePeriod  time.Duration `mapstructure:"grace_period"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollCount    int           `mapstructure:"poll_count"`
}

// Default returns the settings for MAME running DoDonPachi.
func Default() Config {
	return Config{
		Binary:        "mame",
		Game:          "ddonpach",
		Host:          "127.0.0.1",
		Port:          32512,
		PluginName:    "emulator_bridge",
		PluginsPath:   filepath.Join("mame", "plugins"),
		InputDir:      filepath.Join("run", "inp"),
		SnapshotDir:   filepath.Join("run", "snap"),
		RecordingFile: "recording.inp",
		Windowed:      true,
		NoAudio:       true,
		TickRate:      2,
		ShowInput:     true,
		GracePeriod:   time.Second,
		PollInterval:  500 * time.Millisecond,
		PollCount:     10,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Binary == "" {
		return errors.New("supervisor: binary is required")
	}
	if c.Game == "" {
		return errors.New("supervisor: game is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.New("supervisor: port must be within [0, 65535]")
	}
	if c.PluginName == "" || c.PluginsPath == "" {
		return errors.New("supervisor: plugin_name and plugins_path are required")
	}
	if c.TickRate <= 0 {
		return errors.New("supervisor: tick_rate must be positive")
	}
	if c.GracePeriod < 0 || c.PollInterval <= 0 || c.PollCount < 0 {
		return errors.New("supervisor: shutdown timings must be non-negative and poll_interval positive")
	}
	if c.ConnectTimeout < 0 || c.IOTimeout < 0 {
		return errors.New("supervisor: timeouts must be non-negative")
	}
	return nil
}

// ShutdownBound is the longest Stop waits before forcing termination.
func (c Config) ShutdownBound() time.Duration {
	return c.GracePeriod + time.Duration(c.PollCount)*c.PollInterval
}

// BaseArgs returns the emulator arguments shared by sessions and renders.
func (c Config) BaseArgs() []string {
	args := append([]string{}, c.BinaryArgs...)
	args = append(args, c.Game, "-skip_gameinfo", "-pause_brightness", "1")
	if c.Windowed {
		args = append(args, "-window")
	}
	if c.NoThrottle {
		args = append(args, "-nothrottle")
	}
	if c.NoVideo {
		args = append(args, "-video", "none")
	}
	if c.NoAudio {
		args = append(args, "-sound", "none")
	}
	if c.SaveState != "" {
		args = append(args, "-state", c.SaveState)
	}
	return args
}

// SessionArgs returns the arguments of a recording bot session.
func (c Config) SessionArgs() ([]string, error) {
	inp, err := filepath.Abs(c.InputDir)
	if err != nil {
		return nil, err
	}
	snp, err := filepath.Abs(c.SnapshotDir)
	if err != nil {
		return nil, err
	}
	args := c.BaseArgs()
	args = append(args,
		"-plugin", c.PluginName,
		"-input_directory", inp,
		"-record", c.RecordingFile,
		"-snapshot_directory", snp,
	)
	return append(args, c.ExtraArgs...), nil
}

// PluginDir is the directory the generated artifacts are written to.
func (c Config) PluginDir() string {
	return filepath.Join(c.PluginsPath, c.PluginName)
}
