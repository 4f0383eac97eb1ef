package observation

import (
	"math"

	"github.com/cartridge/emulator/internal/game"
)

const (
	ringSectors = 8
	ringSector  = 360.0 / ringSectors
)

// ringMaxDistance is the screen diagonal.
var ringMaxDistance = math.Hypot(game.ScreenHeight, game.ScreenWidth)

// ThreatRing summarises enemies and bullets as eight 45° sectors around the
// ship. Each sprite adds floor(diagonal / (distance + 0.01)) to the sector
// it lies in, so near sprites dominate.
type ThreatRing struct{}

// NewThreatRing returns the threat ring codec.
func NewThreatRing() *ThreatRing { return &ThreatRing{} }

// Shape returns [2 + 2*8].
func (t *ThreatRing) Shape() []int {
	return []int{2 + 2*ringSectors}
}

// Encode returns [ship_x, ship_y, enemy_ring..., bullet_ring...].
func (t *ThreatRing) Encode(state game.State) (Observation, error) {
	data := make([]float32, 0, 2+2*ringSectors)
	data = append(data, float32(state.Ship.X), float32(state.Ship.Y))
	data = append(data, ring(state.Ship, state.Enemies)...)
	data = append(data, ring(state.Ship, state.Bullets)...)
	return Observation{Shape: t.Shape(), Data: data}, nil
}

func ring(ship game.Ship, entities []game.Entity) []float32 {
	out := make([]float32, ringSectors)
	for _, e := range entities {
		if !e.Active() {
			continue
		}
		dx := float64(ship.X - e.PosX)
		dy := float64(ship.Y - e.PosY)

		angle := math.Mod(math.Atan2(dy, dx)*180/math.Pi+180+360, 360)
		sector := int(angle / ringSector)
		if sector >= ringSectors {
			sector = ringSectors - 1
		}
		out[sector] += float32(math.Floor(ringMaxDistance / (math.Hypot(dx, dy) + 0.01)))
	}
	return out
}
