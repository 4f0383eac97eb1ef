// Package recording captures per-episode action/score traces and replays
// them against a save state to check the emulator is still deterministic.
package recording

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cartridge/emulator/internal/action"
)

const saveStateHeader = "# save_state "

// Step is one recorded action and the score reported after it.
type Step struct {
	Action action.Action `json:"action"`
	Score  int           `json:"score"`
}

// Trace is the ordered action/score sequence of one episode.
type Trace struct {
	// SaveState names the state the episode started from.
	SaveState string `json:"save_state,omitempty"`
	Steps     []Step `json:"steps"`
}

// Append records a step.
func (t *Trace) Append(a action.Action, score int) {
	t.Steps = append(t.Steps, Step{Action: a, Score: score})
}

// Len returns the number of steps.
func (t Trace) Len() int { return len(t.Steps) }

// Actions returns the recorded actions in order.
func (t Trace) Actions() []action.Action {
	out := make([]action.Action, len(t.Steps))
	for i, s := range t.Steps {
		out[i] = s.Action
	}
	return out
}

// WriteTo writes the trace as text: an optional save state header followed
// by one "<token> <score>" line per step.
func (t *Trace) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	if t.SaveState != "" {
		c, err := bw.WriteString(saveStateHeader + t.SaveState + "\n")
		n += int64(c)
		if err != nil {
			return n, err
		}
	}
	for _, s := range t.Steps {
		c, err := fmt.Fprintf(bw, "%s %d\n", s.Action, s.Score)
		n += int64(c)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// ReadTrace parses the format written by WriteTo. Blank lines and other
// comment lines are skipped.
func ReadTrace(r io.Reader) (Trace, error) {
	var t Trace
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		switch {
		case text == "":
			continue
		case strings.HasPrefix(text, saveStateHeader):
			t.SaveState = strings.TrimSpace(strings.TrimPrefix(text, saveStateHeader))
			continue
		case strings.HasPrefix(text, "#"):
			continue
		}

		fields := strings.Fields(text)
		if len(fields) != 2 {
			return Trace{}, fmt.Errorf("trace line %d: want \"<action> <score>\", got %q", line, text)
		}
		score, err := strconv.Atoi(fields[1])
		if err != nil {
			return Trace{}, fmt.Errorf("trace line %d: bad score: %w", line, err)
		}
		t.Append(action.Action(fields[0]), score)
	}
	if err := sc.Err(); err != nil {
		return Trace{}, err
	}
	return t, nil
}

// SaveFile writes the trace to path.
func (t *Trace) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := t.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write trace %s: %w", path, err)
	}
	return f.Close()
}

// LoadFile reads a trace from path.
func LoadFile(path string) (Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return Trace{}, err
	}
	defer f.Close()
	t, err := ReadTrace(f)
	if err != nil {
		return Trace{}, fmt.Errorf("read trace %s: %w", path, err)
	}
	return t, nil
}
