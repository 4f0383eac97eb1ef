package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/cartridge/emulator/internal/game"
)

// Kind is the discriminator of an inbound message.
type Kind string

const (
	KindObservation Kind = "observation"
	KindState       Kind = "state"
	KindMessage     Kind = "message"
)

// Message texts sent by the plugin.
const (
	TextAck      = "ACK"
	TextSnapshot = "snapshot"
)

// Outbound command names.
const (
	CommandAction    = "action"
	CommandSaveState = "save_state"
	CommandLoadState = "load_state"
	CommandSnapshot  = "snapshot"
	CommandKill      = "kill"
)

// Message is one decoded inbound line.
type Message struct {
	Kind Kind
	// Text is the value of a "message" field, e.g. "ACK".
	Text string
	// Body is the payload of an "observation" or "state" field.
	Body json.RawMessage
	// Fields holds every top-level field of the line.
	Fields map[string]json.RawMessage
}

// String returns the field as a string, or "" if it is absent or not a
// string.
func (m Message) String(field string) string {
	raw, ok := m.Fields[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func parseMessage(line []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return Message{}, fmt.Errorf("%w: malformed message: %v", game.ErrDecode, err)
	}

	m := Message{Fields: fields}
	switch {
	case fields[string(KindObservation)] != nil:
		m.Kind = KindObservation
		m.Body = fields[string(KindObservation)]
	case fields[string(KindState)] != nil:
		m.Kind = KindState
		m.Body = fields[string(KindState)]
	case fields[string(KindMessage)] != nil:
		m.Kind = KindMessage
		if err := json.Unmarshal(fields[string(KindMessage)], &m.Text); err != nil {
			return Message{}, fmt.Errorf("%w: message field is not a string", game.ErrDecode)
		}
	default:
		return Message{}, fmt.Errorf("%w: message has no observation, state or message field", game.ErrDecode)
	}
	return m, nil
}
