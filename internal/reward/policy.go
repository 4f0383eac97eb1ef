package reward

import (
	"fmt"

	"github.com/cartridge/emulator/internal/game"
)

// LifeLossPenalty replaces the reward of a step that cost a life.
const LifeLossPenalty = -1.0

// Policy turns a transition into a reward and a termination flag.
type Policy interface {
	Score(prev, curr game.State) (reward float64, done bool)
}

// IsTerminal reports whether curr lost a life relative to prev or reached
// the terminal life count.
func IsTerminal(prev, curr game.State, terminalLives int) bool {
	return curr.Lives < prev.Lives || curr.Lives <= terminalLives
}

// GradePolicy rewards the change in Grade between two states.
type GradePolicy struct {
	TerminalLives int
}

func (p GradePolicy) Score(prev, curr game.State) (float64, bool) {
	r := Grade(curr) - Grade(prev)
	if curr.Lives < prev.Lives {
		r = LifeLossPenalty
	}
	return r, IsTerminal(prev, curr, p.TerminalLives)
}

// ScoreDeltaPolicy rewards the in-game score gained.
type ScoreDeltaPolicy struct {
	TerminalLives int
}

func (p ScoreDeltaPolicy) Score(prev, curr game.State) (float64, bool) {
	r := float64(curr.Score - prev.Score)
	if curr.Lives < prev.Lives {
		r = LifeLossPenalty
	}
	return r, IsTerminal(prev, curr, p.TerminalLives)
}

// Policy names accepted by New.
const (
	NameGrade = "grade"
	NameScore = "score"
)

// New returns the policy registered under name.
func New(name string, terminalLives int) (Policy, error) {
	switch name {
	case NameGrade:
		return GradePolicy{TerminalLives: terminalLives}, nil
	case NameScore, "score_delta":
		return ScoreDeltaPolicy{TerminalLives: terminalLives}, nil
	default:
		return nil, fmt.Errorf("unknown reward policy %q", name)
	}
}
