// Package game holds the typed per-tick game state reported by the emulator
// plugin, its strict decoder, and the coordinate transforms callers apply
// before encoding a state into an observation.
package game

// MaxCombo is the upper bound of the combo timer.
const MaxCombo = 0x37

// Entity is one sprite slot of the emulator. An ID of zero marks an empty
// slot.
type Entity struct {
	ID   int `json:"id"`
	PosX int `json:"pos_x"`
	PosY int `json:"pos_y"`
	SizX int `json:"siz_x"`
	SizY int `json:"siz_y"`
}

// Active reports whether the slot holds a live sprite.
func (e Entity) Active() bool { return e.ID != 0 }

// Ship is the player's position.
type Ship struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Kind names one of the entity lists of a State.
type Kind string

const (
	KindEnemies Kind = "enemies"
	KindBullets Kind = "bullets"
	KindOwnShot Kind = "ownshot"
	KindPowerUp Kind = "powerup"
	KindBonuses Kind = "bonuses"
)

// Kinds lists every entity list in wire order.
var Kinds = []Kind{KindEnemies, KindBullets, KindOwnShot, KindPowerUp, KindBonuses}

// State is one emulator tick.
type State struct {
	Frame int  `json:"frame"`
	Ship  Ship `json:"ship"`
	Lives int  `json:"lives"`
	Bombs int  `json:"bombs"`
	Score int  `json:"score"`
	Combo int  `json:"combo"`
	Hit   int  `json:"hit"`

	Enemies []Entity `json:"enemies"`
	Bullets []Entity `json:"bullets"`
	OwnShot []Entity `json:"ownshot"`
	PowerUp []Entity `json:"powerup"`
	Bonuses []Entity `json:"bonuses"`

	// Death and XOffset are only reported by some plugin variants.
	Death   bool `json:"death,omitempty"`
	XOffset int  `json:"x_off,omitempty"`
}

// Entities returns the list for kind, or nil for an unknown kind.
func (s *State) Entities(kind Kind) []Entity {
	switch kind {
	case KindEnemies:
		return s.Enemies
	case KindBullets:
		return s.Bullets
	case KindOwnShot:
		return s.OwnShot
	case KindPowerUp:
		return s.PowerUp
	case KindBonuses:
		return s.Bonuses
	}
	return nil
}

// ActiveCount returns the number of live sprites across all lists.
func (s *State) ActiveCount() int {
	n := 0
	for _, kind := range Kinds {
		for _, e := range s.Entities(kind) {
			if e.Active() {
				n++
			}
		}
	}
	return n
}

// Clone returns a deep copy so transforms never touch the decoded original.
func (s State) Clone() State {
	c := s
	c.Enemies = cloneEntities(s.Enemies)
	c.Bullets = cloneEntities(s.Bullets)
	c.OwnShot = cloneEntities(s.OwnShot)
	c.PowerUp = cloneEntities(s.PowerUp)
	c.Bonuses = cloneEntities(s.Bonuses)
	return c
}

func cloneEntities(in []Entity) []Entity {
	if in == nil {
		return nil
	}
	out := make([]Entity, len(in))
	copy(out, in)
	return out
}

// eachList calls fn with every entity list. Elements are shared with s.
func (s *State) eachList(fn func(list []Entity)) {
	fn(s.Enemies)
	fn(s.Bullets)
	fn(s.OwnShot)
	fn(s.PowerUp)
	fn(s.Bonuses)
}
