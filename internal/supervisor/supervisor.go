// Package supervisor owns the emulator subprocess: it generates the plugin
// artifacts, launches the emulator, waits for the plugin to connect back
// and tears the process down, gracefully first and forcibly if needed.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartridge/emulator/internal/protocol"
)

var (
	// ErrLaunchFailure is returned when the emulator cannot be spawned or
	// never connects back.
	ErrLaunchFailure = errors.New("emulator launch failed")
	// ErrSupervisorClosed is returned by Start after Close.
	ErrSupervisorClosed = errors.New("supervisor closed")

	errShutdownTimeout = errors.New("emulator did not exit within the shutdown bound")
)

// forcedExitWait bounds how long Stop waits for the reaper after a kill
// signal.
const forcedExitWait = 5 * time.Second

// State is the lifecycle position of the supervised process.
type State string

const (
	StateStopped   State = "STOPPED"
	StateLaunching State = "LAUNCHING"
	StateConnected State = "CONNECTED"
	StateRunning   State = "RUNNING"
	StateStopping  State = "STOPPING"
)

// TransitionFunc observes state changes.
type TransitionFunc func(from, to State)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithTransitionHook registers fn to be called on every state change.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(s *Supervisor) { s.hooks = append(s.hooks, fn) }
}

// Supervisor launches and stops one emulator process at a time.
type Supervisor struct {
	cfg    Config
	logger zerolog.Logger
	hooks  []TransitionFunc

	mu       sync.Mutex
	state    State
	closed   bool
	listener net.Listener
	process  *process
	channel  *protocol.Channel
}

// process tracks a spawned emulator. exited is closed by the reaper once
// Wait returns.
type process struct {
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
}

func (p *process) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// New returns a stopped supervisor. The listener is bound on first Start.
func New(cfg Config, logger zerolog.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		logger: logger.With().Str("component", "supervisor").Logger(),
		state:  StateStopped,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Channel returns the current session, or nil when no emulator is
// connected.
func (s *Supervisor) Channel() *protocol.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// Addr returns the listening address, or nil before the first Start.
func (s *Supervisor) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Listen binds the listening socket if it is not bound yet.
func (s *Supervisor) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenLocked()
}

func (s *Supervisor) listenLocked() error {
	if s.closed {
		return ErrSupervisorClosed
	}
	if s.listener != nil {
		return nil
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening for emulator")
	return nil
}

// transition must be called with s.mu held.
func (s *Supervisor) transition(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("state transition")
	for _, fn := range s.hooks {
		fn(from, to)
	}
}

// MarkRunning records that the session produced its first state.
func (s *Supervisor) MarkRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnected {
		s.transition(StateRunning)
	}
}

// Start writes the plugin, spawns the emulator and blocks until it
// connects back. The returned channel starts in AwaitingReceive: the
// plugin greets with its first state.
func (s *Supervisor) Start(ctx context.Context) (*protocol.Channel, error) {
	s.mu.Lock()
	if s.state != StateStopped {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("start: supervisor is %s", state)
	}
	if err := s.listenLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.transition(StateLaunching)
	ln := s.listener
	s.mu.Unlock()

	proc, err := s.launch(ln)
	if err != nil {
		s.setState(StateStopped)
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailure, err)
	}

	s.mu.Lock()
	s.process = proc
	s.mu.Unlock()

	conn, err := s.accept(ctx, ln, proc)
	if err != nil {
		s.logger.Error().Err(err).Msg("emulator never connected")
		if kerr := s.kill(proc); kerr != nil {
			s.logger.Error().Err(kerr).Msg("kill emulator")
		}
		s.mu.Lock()
		s.process = nil
		s.transition(StateStopped)
		s.mu.Unlock()
		return nil, err
	}

	ch := protocol.NewChannel(conn, s.logger,
		protocol.WithInitialTurn(protocol.AwaitingReceive),
		protocol.WithIOTimeout(s.cfg.IOTimeout),
	)

	s.mu.Lock()
	s.channel = ch
	s.transition(StateConnected)
	s.mu.Unlock()

	s.logger.Info().Str("remote", conn.RemoteAddr().String()).Int("pid", proc.cmd.Process.Pid).Msg("emulator connected")
	return ch, nil
}

func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transition(to)
}

func (s *Supervisor) launch(ln net.Listener) (*process, error) {
	for _, dir := range []string{s.cfg.InputDir, s.cfg.SnapshotDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	port := s.cfg.Port
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}
	if err := WritePlugin(s.cfg.PluginDir(), s.cfg.pluginSettings(ModeBot, port)); err != nil {
		return nil, err
	}

	args, err := s.cfg.SessionArgs()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(s.cfg.Binary, args...)
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Stdout = s.logger.With().Str("stream", "stdout").Logger()
	cmd.Stderr = s.logger.With().Str("stream", "stderr").Logger()

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	s.logger.Info().Str("binary", s.cfg.Binary).Strs("args", args).Int("pid", cmd.Process.Pid).Msg("emulator started")

	proc := &process{cmd: cmd, exited: make(chan struct{})}
	go func() {
		proc.waitErr = cmd.Wait()
		close(proc.exited)
	}()
	return proc, nil
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// accept waits for the plugin to connect. It gives up if the process
// exits, ctx ends, or the optional connect timeout elapses.
func (s *Supervisor) accept(ctx context.Context, ln net.Listener, proc *process) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		accepted <- result{conn, err}
	}()

	var timeout <-chan time.Time
	if s.cfg.ConnectTimeout > 0 {
		timer := time.NewTimer(s.cfg.ConnectTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var cause error
	select {
	case r := <-accepted:
		if r.err != nil {
			return nil, fmt.Errorf("%w: accept: %v", ErrLaunchFailure, r.err)
		}
		return r.conn, nil
	case <-proc.exited:
		cause = fmt.Errorf("%w: emulator exited before connecting: %v", ErrLaunchFailure, proc.waitErr)
	case <-ctx.Done():
		cause = fmt.Errorf("%w: %w", ErrLaunchFailure, ctx.Err())
	case <-timeout:
		cause = fmt.Errorf("%w: no connection within %s", ErrLaunchFailure, s.cfg.ConnectTimeout)
	}

	// Unblock the pending Accept so the listener can be reused.
	if d, ok := ln.(deadliner); ok {
		_ = d.SetDeadline(time.Now())
		r := <-accepted
		if r.conn != nil {
			r.conn.Close()
		}
		_ = d.SetDeadline(time.Time{})
	}
	return nil, cause
}

// Stop ends the current session: it sends kill over the channel, waits the
// grace period, polls for exit and finally kills the process. Shutdown
// timeouts are resolved internally and never returned.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	// A launch in progress is aborted by cancelling its context or by
	// Close releasing the listener.
	if s.state == StateStopped || s.state == StateStopping || s.state == StateLaunching {
		s.mu.Unlock()
		return nil
	}
	s.transition(StateStopping)
	proc, ch := s.process, s.channel
	s.mu.Unlock()

	if ch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GracePeriod+time.Second)
		if err := ch.Kill(ctx); err != nil && !errors.Is(err, protocol.ErrClosed) {
			s.logger.Debug().Err(err).Msg("graceful kill not delivered")
		}
		cancel()
		ch.Close()
	}

	var err error
	if proc != nil {
		err = s.terminate(proc)
	}

	s.mu.Lock()
	s.process = nil
	s.channel = nil
	s.transition(StateStopped)
	s.mu.Unlock()
	return err
}

// terminate waits for proc to exit on its own and escalates to a kill
// signal once the grace period and all polls are spent.
func (s *Supervisor) terminate(proc *process) error {
	if s.waitExit(proc) {
		s.logger.Info().Msg("emulator exited")
		return nil
	}

	s.logger.Warn().Err(errShutdownTimeout).Dur("bound", s.cfg.ShutdownBound()).Msg("killing emulator")
	return s.kill(proc)
}

// kill sends the kill signal and waits for the reaper.
func (s *Supervisor) kill(proc *process) error {
	if err := proc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill emulator: %w", err)
	}
	select {
	case <-proc.exited:
	case <-time.After(forcedExitWait):
		return fmt.Errorf("emulator pid %d survived kill", proc.cmd.Process.Pid)
	}
	return nil
}

// waitExit reports whether proc exited within the grace period plus
// PollCount polls.
func (s *Supervisor) waitExit(proc *process) bool {
	grace := time.NewTimer(s.cfg.GracePeriod)
	defer grace.Stop()
	select {
	case <-proc.exited:
		return true
	case <-grace.C:
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for i := 0; i < s.cfg.PollCount; i++ {
		if !proc.alive() {
			return true
		}
		s.logger.Debug().Int("poll", i+1).Msg("waiting for emulator to exit")
		select {
		case <-proc.exited:
			return true
		case <-ticker.C:
		}
	}
	return !proc.alive()
}

// Close stops any running emulator and releases the listener. It is safe
// to call more than once.
func (s *Supervisor) Close() error {
	err := s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return err
	}
	s.closed = true
	if s.listener != nil {
		if cerr := s.listener.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.listener = nil
	}
	return err
}
