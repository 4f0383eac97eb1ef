// Package emutest provides a scripted stand-in for the emulator so the
// supervisor, environment and replay paths can be tested end to end. The
// test binary re-executes itself in helper mode, reads the generated
// plugin.json and speaks the wire protocol like the real plugin would.
//
// A test package opts in with
//
//	func TestHelperProcess(t *testing.T) { emutest.RunHelper() }
//
// and builds its supervisor configuration with Config.
package emutest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/cartridge/emulator/internal/game"
	"github.com/cartridge/emulator/internal/supervisor"
)

const (
	envHelper    = "EMUTEST_HELPER"
	envMode      = "EMUTEST_MODE"
	envPluginDir = "EMUTEST_PLUGINS_PATH"
	envDeathStep = "EMUTEST_DEATH_STEP"
)

// Helper behaviours.
const (
	// ModePlay connects, plays and exits on kill.
	ModePlay = "play"
	// ModeStubborn plays but ignores kill and must be terminated.
	ModeStubborn = "stubborn"
	// ModeSilent never connects.
	ModeSilent = "silent"
	// ModeCrash exits before connecting.
	ModeCrash = "crash"
)

// InitialLives and InitialScore are reported in the greeting state.
const (
	InitialLives = 2
	InitialScore = 0
)

// Options tune the scripted game.
type Options struct {
	Mode string
	// DeathStep is the action count at which a life is lost. Zero never.
	DeathStep int
}

// Config returns a supervisor configuration that launches the helper
// process with short shutdown timings.
func Config(t testing.TB, opts Options) supervisor.Config {
	t.Helper()
	if opts.Mode == "" {
		opts.Mode = ModePlay
	}
	root := t.TempDir()

	cfg := supervisor.Default()
	cfg.Binary = os.Args[0]
	cfg.BinaryArgs = []string{"-test.run=TestHelperProcess", "--"}
	cfg.Port = 0
	cfg.PluginsPath = filepath.Join(root, "plugins")
	cfg.InputDir = filepath.Join(root, "inp")
	cfg.SnapshotDir = filepath.Join(root, "snap")
	cfg.SaveState = "start"
	cfg.GracePeriod = 50 * time.Millisecond
	cfg.PollInterval = 20 * time.Millisecond
	cfg.PollCount = 5
	cfg.ConnectTimeout = 10 * time.Second
	cfg.IOTimeout = 10 * time.Second
	cfg.Env = []string{
		envHelper + "=1",
		envMode + "=" + opts.Mode,
		envPluginDir + "=" + cfg.PluginsPath,
		envDeathStep + "=" + strconv.Itoa(opts.DeathStep),
	}
	return cfg
}

// RunHelper turns the current process into the scripted emulator when it
// was launched by a supervisor built from Config. Otherwise it returns
// immediately.
func RunHelper() {
	if os.Getenv(envHelper) != "1" {
		return
	}
	if err := runHelper(); err != nil {
		fmt.Fprintln(os.Stderr, "emutest:", err)
		os.Exit(2)
	}
	os.Exit(0)
}

type launch struct {
	plugin      string
	state       string
	inputDir    string
	record      string
	snapshotDir string
	playback    string
	aviwrite    string
}

func parseArgs(args []string) launch {
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	var l launch
	for i := 0; i+1 < len(args); i++ {
		v := args[i+1]
		switch args[i] {
		case "-plugin":
			l.plugin = v
		case "-state":
			l.state = v
		case "-input_directory":
			l.inputDir = v
		case "-record":
			l.record = v
		case "-snapshot_directory":
			l.snapshotDir = v
		case "-playback":
			l.playback = v
		case "-aviwrite":
			l.aviwrite = v
		}
	}
	return l
}

type pluginFile struct {
	Settings struct {
		Host     string `json:"host"`
		Port     int    `json:"port"`
		TickRate int    `json:"tick_rate"`
	} `json:"settings"`
}

func runHelper() error {
	l := parseArgs(os.Args)
	mode := os.Getenv(envMode)

	if l.playback != "" {
		return os.WriteFile(l.aviwrite, []byte("RIFF"), 0o644)
	}

	switch mode {
	case ModeCrash:
		os.Exit(3)
	case ModeSilent:
		time.Sleep(time.Hour)
		return nil
	}

	raw, err := os.ReadFile(filepath.Join(os.Getenv(envPluginDir), l.plugin, "plugin.json"))
	if err != nil {
		return err
	}
	var pf pluginFile
	if err := json.Unmarshal(raw, &pf); err != nil {
		return err
	}

	conn, err := net.Dial("tcp", net.JoinHostPort(pf.Settings.Host, strconv.Itoa(pf.Settings.Port)))
	if err != nil {
		return err
	}
	defer conn.Close()

	deathStep, _ := strconv.Atoi(os.Getenv(envDeathStep))
	e := &emulator{
		conn:      conn,
		launch:    l,
		tickRate:  max(pf.Settings.TickRate, 1),
		deathStep: deathStep,
		game:      newSim(),
		saves:     map[string]sim{},
	}
	if l.state != "" {
		e.saves[l.state] = e.game
	}

	err = e.serve()
	if mode == ModeStubborn {
		time.Sleep(time.Hour)
	}
	return err
}

type emulator struct {
	conn      net.Conn
	launch    launch
	tickRate  int
	deathStep int
	game      sim
	saves     map[string]sim
	snapshots int
}

func (e *emulator) send(msg any) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = e.conn.Write(append(line, '\n'))
	return err
}

func (e *emulator) serve() error {
	if err := e.send(map[string]any{"observation": e.game.state()}); err != nil {
		return err
	}

	r := bufio.NewReader(e.conn)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return nil
		}
		var cmd struct {
			Command string `json:"command"`
			Inputs  string `json:"inputs"`
			Name    string `json:"name"`
		}
		if err := json.Unmarshal(line, &cmd); err != nil {
			return err
		}

		switch cmd.Command {
		case "action":
			e.game.apply(cmd.Inputs, e.tickRate, e.deathStep)
			e.record(cmd.Inputs)
			err = e.send(map[string]any{"observation": e.game.state()})
		case "save_state":
			e.saves[cmd.Name] = e.game
			err = e.send(map[string]string{"message": "ACK"})
		case "load_state":
			saved, ok := e.saves[cmd.Name]
			if !ok {
				err = e.send(map[string]string{"message": "unknown state " + cmd.Name})
				break
			}
			e.game = saved
			err = e.send(map[string]string{"message": "ACK"})
		case "snapshot":
			var path string
			path, err = e.snapshot()
			if err == nil {
				err = e.send(map[string]string{"message": "snapshot", "path": path})
			}
		case "kill":
			if os.Getenv(envMode) == ModeStubborn {
				continue
			}
			return nil
		default:
			err = fmt.Errorf("unknown command %q", cmd.Command)
		}
		if err != nil {
			return err
		}
	}
}

func (e *emulator) record(inputs string) {
	if e.launch.inputDir == "" || e.launch.record == "" {
		return
	}
	f, err := os.OpenFile(filepath.Join(e.launch.inputDir, e.launch.record), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintln(f, inputs)
}

func (e *emulator) snapshot() (string, error) {
	dir := filepath.Join(e.launch.snapshotDir, "ddonpach")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	e.snapshots++
	path := filepath.Join(dir, fmt.Sprintf("%04d.png", e.snapshots))

	img := image.NewRGBA(image.Rect(0, 0, game.ScreenWidth, game.ScreenHeight))
	for y := 0; y < game.ScreenHeight; y++ {
		for x := 0; x < game.ScreenWidth; x++ {
			img.Set(x, y, color.RGBA{R: 0x20, G: 0x40, B: 0x80, A: 0xFF})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return path, png.Encode(f, img)
}

// sim is a tiny deterministic game. It is a value type so save states are
// plain copies.
type sim struct {
	frame, step       int
	lives, bombs      int
	score, combo, hit int
	shipX, shipY      int
}

func newSim() sim {
	return sim{lives: InitialLives, bombs: 3, score: InitialScore, shipX: 120, shipY: 280}
}

// apply advances one tick. Holding the button scores and builds the combo;
// the axes move the ship.
func (s *sim) apply(inputs string, tickRate, deathStep int) {
	s.frame += tickRate
	s.step++
	move := func(digit byte) int {
		switch digit {
		case '1':
			return -4
		case '2':
			return 4
		}
		return 0
	}
	if len(inputs) > 0 {
		s.shipY = clamp(s.shipY+move(inputs[0]), 0, game.ScreenHeight)
	}
	if len(inputs) > 1 {
		s.shipX = clamp(s.shipX+move(inputs[1]), 0, game.ScreenWidth)
	}
	s.score += 10
	if len(inputs) > 2 && inputs[2] == '1' {
		s.score += 100 + s.shipX
		s.combo = min(s.combo+5, game.MaxCombo)
		s.hit++
	} else {
		s.combo = max(s.combo-1, 0)
	}
	if deathStep > 0 && s.step == deathStep {
		s.lives--
	}
}

func (s sim) state() game.State {
	return game.State{
		Frame: s.frame,
		Ship:  game.Ship{X: s.shipX, Y: s.shipY},
		Lives: s.lives,
		Bombs: s.bombs,
		Score: s.score,
		Combo: s.combo,
		Hit:   s.hit,
		Enemies: []game.Entity{
			{ID: 0x31, PosX: (s.step * 12) % game.ScreenWidth, PosY: 40, SizX: 32, SizY: 32},
			{ID: 0},
		},
		Bullets: []game.Entity{
			{ID: 0x77, PosX: s.shipX, PosY: s.shipY - 60 + s.step%20, SizX: 8, SizY: 8},
		},
		OwnShot: []game.Entity{{ID: 0x12, PosX: s.shipX, PosY: s.shipY - 30, SizX: 8, SizY: 16}},
		PowerUp: []game.Entity{},
		Bonuses: []game.Entity{},
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
