// Package reward scores consecutive game states and decides when an
// episode ends.
package reward

import (
	"math"

	"github.com/cartridge/emulator/internal/game"
)

// MaxDistance bounds the bullet sub-score and the nearest-sprite search.
const MaxDistance = 400.0

// Breakdown holds the three grade components, each in [0, 1].
type Breakdown struct {
	Combo   float64 `json:"combo"`
	Bullet  float64 `json:"bullet"`
	Offense float64 `json:"offense"`
}

// Mean returns the arithmetic mean of the components.
func (b Breakdown) Mean() float64 {
	return (b.Combo + b.Bullet + b.Offense) / 3
}

// Grade rates how well a state is going: a full combo timer, bullets far
// from the ship and own shots close to enemies score high.
func Grade(s game.State) float64 {
	return Grades(s).Mean()
}

// Grades returns the grade components of s. The bullet and offense
// components are 1 when there is nothing to measure within MaxDistance.
// Empty slots are ignored.
func Grades(s game.State) Breakdown {
	b := Breakdown{
		Combo:   float64(s.Combo) / game.MaxCombo,
		Bullet:  1,
		Offense: 1,
	}

	if d, ok := nearest(float64(s.Ship.X), float64(s.Ship.Y), s.Bullets); ok {
		b.Bullet = d / MaxDistance
	}

	best, found := MaxDistance, false
	for _, own := range s.OwnShot {
		if !own.Active() {
			continue
		}
		if d, ok := nearest(float64(own.PosX), float64(own.PosY), s.Enemies); ok && d < best {
			best, found = d, true
		}
	}
	if found {
		b.Offense = 1 / math.Max(1, best)
	}
	return b
}

// nearest returns the distance to the closest active entity strictly within
// MaxDistance of (x, y).
func nearest(x, y float64, entities []game.Entity) (float64, bool) {
	best, found := MaxDistance*MaxDistance, false
	for _, e := range entities {
		if !e.Active() {
			continue
		}
		dx := float64(e.PosX) - x
		dy := float64(e.PosY) - y
		if d := dx*dx + dy*dy; d < best {
			best, found = d, true
		}
	}
	return math.Sqrt(best), found
}
