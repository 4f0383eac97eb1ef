// Package protocol implements the line-delimited JSON channel spoken with the
// emulator plugin. The channel enforces strict request/response turns: a
// send is only allowed once the previous reply was consumed and a read only
// after a send. Misuse fails immediately with ErrOutOfTurn instead of
// blocking on the socket. Protocol violations of either side close the
// session.
package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartridge/emulator/internal/action"
	"github.com/cartridge/emulator/internal/game"
)

var (
	// ErrOutOfTurn is returned when a send or read violates turn order.
	ErrOutOfTurn = errors.New("protocol operation out of turn")
	// ErrAckMismatch is returned when a save or load is not acknowledged.
	ErrAckMismatch = errors.New("expected ACK from emulator")
	// ErrClosed is returned by every operation after the channel closed.
	ErrClosed = errors.New("protocol channel closed")
	// ErrUnexpectedMessage is returned when a reply has the wrong kind.
	ErrUnexpectedMessage = errors.New("unexpected message kind")
)

// Turn is the position of the channel in the request/response cycle.
type Turn int

const (
	AwaitingSend Turn = iota
	AwaitingReceive
	Closed
)

func (t Turn) String() string {
	switch t {
	case AwaitingSend:
		return "awaiting_send"
	case AwaitingReceive:
		return "awaiting_receive"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("turn(%d)", int(t))
}

// Option configures a Channel.
type Option func(*Channel)

// WithIOTimeout bounds every read and write. Zero disables the bound.
func WithIOTimeout(d time.Duration) Option {
	return func(c *Channel) { c.ioTimeout = d }
}

// WithInitialTurn sets the starting turn. A freshly accepted emulator
// greets with a state before it receives any command, so the supervisor
// opens its channels in AwaitingReceive.
func WithInitialTurn(t Turn) Option {
	return func(c *Channel) { c.turn = t }
}

// Channel is a single-client session with the emulator plugin.
type Channel struct {
	conn      net.Conn
	reader    *bufio.Reader
	logger    zerolog.Logger
	ioTimeout time.Duration

	writeMu sync.Mutex

	mu       sync.Mutex
	turn     Turn
	inflight bool
}

// NewChannel wraps an accepted connection. The channel starts in
// AwaitingSend unless WithInitialTurn says otherwise.
func NewChannel(conn net.Conn, logger zerolog.Logger, opts ...Option) *Channel {
	c := &Channel{
		conn:   conn,
		reader: bufio.NewReader(conn),
		logger: logger.With().Str("component", "protocol").Logger(),
		turn:   AwaitingSend,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Turn returns the current turn.
func (c *Channel) Turn() Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn
}

// RemoteAddr returns the emulator's address.
func (c *Channel) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// begin checks that want is the current turn and marks an operation in
// flight. An out-of-turn call closes the session.
func (c *Channel) begin(want Turn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn == Closed {
		return ErrClosed
	}
	if c.inflight || c.turn != want {
		err := fmt.Errorf("%w: channel is %s", ErrOutOfTurn, c.turn)
		c.turn = Closed
		c.conn.Close()
		return err
	}
	c.inflight = true
	return nil
}

// fail closes the session after a protocol violation and returns err.
func (c *Channel) fail(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn != Closed {
		c.turn = Closed
		c.conn.Close()
	}
	c.logger.Warn().Err(err).Msg("protocol violation, session closed")
	return err
}

// finish ends an in-flight operation. A failed operation leaves the stream
// at an unknown position, so the session is closed.
func (c *Channel) finish(next Turn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight = false
	if c.turn == Closed {
		return
	}
	if err != nil {
		c.turn = Closed
		c.conn.Close()
		return
	}
	c.turn = next
}

// SendCommand writes {"command": name, ...fields} as one line.
func (c *Channel) SendCommand(ctx context.Context, name string, fields map[string]any) error {
	if err := c.begin(AwaitingSend); err != nil {
		return err
	}
	err := c.write(ctx, name, fields)
	c.finish(AwaitingReceive, err)
	if err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	return nil
}

// ReadMessage reads and decodes the next inbound line.
func (c *Channel) ReadMessage(ctx context.Context) (Message, error) {
	if err := c.begin(AwaitingReceive); err != nil {
		return Message{}, err
	}
	line, err := c.readLine(ctx)
	c.finish(AwaitingSend, err)
	if err != nil {
		return Message{}, fmt.Errorf("read message: %w", err)
	}
	msg, err := parseMessage(line)
	if err != nil {
		return Message{}, c.fail(err)
	}
	c.logger.Trace().Str("kind", string(msg.Kind)).Str("text", msg.Text).Msg("received")
	return msg, nil
}

// SendAction sends an action token.
func (c *Channel) SendAction(ctx context.Context, a action.Action) error {
	return c.SendCommand(ctx, CommandAction, map[string]any{"inputs": string(a)})
}

// ReadState reads the next message and decodes its observation or state
// payload.
func (c *Channel) ReadState(ctx context.Context) (game.State, error) {
	msg, err := c.ReadMessage(ctx)
	if err != nil {
		return game.State{}, err
	}
	if msg.Kind != KindObservation && msg.Kind != KindState {
		return game.State{}, c.fail(fmt.Errorf("%w: want observation, got %s %q", ErrUnexpectedMessage, msg.Kind, msg.Text))
	}
	s, err := game.Decode(msg.Body)
	if err != nil {
		return game.State{}, c.fail(err)
	}
	return s, nil
}

// SaveState asks the emulator to save a state under name and waits for the
// acknowledgement.
func (c *Channel) SaveState(ctx context.Context, name string) error {
	return c.exchangeAck(ctx, CommandSaveState, name)
}

// LoadState asks the emulator to load the named state and waits for the
// acknowledgement.
func (c *Channel) LoadState(ctx context.Context, name string) error {
	return c.exchangeAck(ctx, CommandLoadState, name)
}

func (c *Channel) exchangeAck(ctx context.Context, command, name string) error {
	if err := c.SendCommand(ctx, command, map[string]any{"name": name}); err != nil {
		return err
	}
	msg, err := c.ReadMessage(ctx)
	if err != nil {
		return err
	}
	if msg.Kind != KindMessage || msg.Text != TextAck {
		return c.fail(fmt.Errorf("%w: %s %q got %s %q", ErrAckMismatch, command, name, msg.Kind, msg.Text))
	}
	return nil
}

// RequestSnapshot asks the emulator to write a screen snapshot and returns
// the path it reports.
func (c *Channel) RequestSnapshot(ctx context.Context) (string, error) {
	if err := c.SendCommand(ctx, CommandSnapshot, nil); err != nil {
		return "", err
	}
	msg, err := c.ReadMessage(ctx)
	if err != nil {
		return "", err
	}
	if msg.Kind != KindMessage || msg.Text != TextSnapshot {
		return "", c.fail(fmt.Errorf("%w: want snapshot, got %s %q", ErrUnexpectedMessage, msg.Kind, msg.Text))
	}
	path := msg.String("path")
	if path == "" {
		return "", c.fail(fmt.Errorf("%w: snapshot reply without path", game.ErrDecode))
	}
	return path, nil
}

// Kill sends the kill command regardless of turn and closes the channel.
// It is the one command allowed out of turn, since it ends the session.
func (c *Channel) Kill(ctx context.Context) error {
	c.mu.Lock()
	if c.turn == Closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.turn = Closed
	c.mu.Unlock()

	err := c.write(ctx, CommandKill, nil)
	c.conn.Close()
	if err != nil {
		return fmt.Errorf("send %s: %w", CommandKill, err)
	}
	return nil
}

// Close closes the connection. It is safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.turn == Closed {
		c.mu.Unlock()
		return nil
	}
	c.turn = Closed
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Channel) write(ctx context.Context, name string, fields map[string]any) error {
	msg := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		msg[k] = v
	}
	msg["command"] = name
	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stop := c.watch(ctx, c.conn.SetWriteDeadline)
	_, err = c.conn.Write(line)
	if cerr := stop(); err != nil && cerr != nil {
		return cerr
	}
	if err != nil {
		return err
	}
	c.logger.Trace().Str("command", name).Msg("sent")
	return nil
}

func (c *Channel) readLine(ctx context.Context) ([]byte, error) {
	stop := c.watch(ctx, c.conn.SetReadDeadline)
	line, err := c.reader.ReadBytes('\n')
	if cerr := stop(); err != nil && cerr != nil {
		return nil, cerr
	}
	return line, err
}

// watch applies the I/O timeout and context deadline to one operation and
// interrupts it when ctx is cancelled. The returned func releases the watch
// and returns the context error, if any.
func (c *Channel) watch(ctx context.Context, setDeadline func(time.Time) error) func() error {
	var deadline time.Time
	if c.ioTimeout > 0 {
		deadline = time.Now().Add(c.ioTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = setDeadline(deadline)

	release := context.AfterFunc(ctx, func() {
		_ = setDeadline(time.Now())
	})
	return func() error {
		release()
		return ctx.Err()
	}
}
