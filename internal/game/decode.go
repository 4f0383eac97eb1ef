package game

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDecode indicates a state message with missing or malformed fields.
var ErrDecode = errors.New("decode game state")

type wireEntity struct {
	ID   *int `json:"id"`
	PosX *int `json:"pos_x"`
	PosY *int `json:"pos_y"`
	SizX *int `json:"siz_x"`
	SizY *int `json:"siz_y"`
}

type wireShip struct {
	X *int `json:"x"`
	Y *int `json:"y"`
}

type wireState struct {
	Frame *int      `json:"frame"`
	Ship  *wireShip `json:"ship"`
	Lives *int      `json:"lives"`
	Bombs *int      `json:"bombs"`
	Score *int      `json:"score"`
	Combo *int      `json:"combo"`
	Hit   *int      `json:"hit"`

	Enemies *[]wireEntity `json:"enemies"`
	Bullets *[]wireEntity `json:"bullets"`
	OwnShot *[]wireEntity `json:"ownshot"`
	PowerUp *[]wireEntity `json:"powerup"`
	Bonuses *[]wireEntity `json:"bonuses"`

	Death   *bool `json:"death"`
	XOffset *int  `json:"x_off"`
}

// Decode parses a raw state object. Every counter, the ship, and all five
// entity lists are required; entity sizes must be non-negative and the
// combo must lie in [0, MaxCombo].
func Decode(raw []byte) (State, error) {
	var w wireState
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&w); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var s State
	fields := []struct {
		name string
		src  *int
		dst  *int
	}{
		{"frame", w.Frame, &s.Frame},
		{"lives", w.Lives, &s.Lives},
		{"bombs", w.Bombs, &s.Bombs},
		{"score", w.Score, &s.Score},
		{"combo", w.Combo, &s.Combo},
		{"hit", w.Hit, &s.Hit},
	}
	for _, f := range fields {
		if f.src == nil {
			return State{}, fmt.Errorf("%w: missing field %q", ErrDecode, f.name)
		}
		*f.dst = *f.src
	}

	if w.Ship == nil || w.Ship.X == nil || w.Ship.Y == nil {
		return State{}, fmt.Errorf("%w: missing or incomplete field \"ship\"", ErrDecode)
	}
	s.Ship = Ship{X: *w.Ship.X, Y: *w.Ship.Y}

	if s.Combo < 0 || s.Combo > MaxCombo {
		return State{}, fmt.Errorf("%w: combo %d outside [0, %d]", ErrDecode, s.Combo, MaxCombo)
	}

	lists := []struct {
		kind Kind
		src  *[]wireEntity
		dst  *[]Entity
	}{
		{KindEnemies, w.Enemies, &s.Enemies},
		{KindBullets, w.Bullets, &s.Bullets},
		{KindOwnShot, w.OwnShot, &s.OwnShot},
		{KindPowerUp, w.PowerUp, &s.PowerUp},
		{KindBonuses, w.Bonuses, &s.Bonuses},
	}
	for _, l := range lists {
		if l.src == nil {
			return State{}, fmt.Errorf("%w: missing field %q", ErrDecode, l.kind)
		}
		entities, err := decodeEntities(l.kind, *l.src)
		if err != nil {
			return State{}, err
		}
		*l.dst = entities
	}

	if w.Death != nil {
		s.Death = *w.Death
	}
	if w.XOffset != nil {
		s.XOffset = *w.XOffset
	}
	return s, nil
}

func decodeEntities(kind Kind, in []wireEntity) ([]Entity, error) {
	out := make([]Entity, len(in))
	for i, w := range in {
		if w.ID == nil || w.PosX == nil || w.PosY == nil || w.SizX == nil || w.SizY == nil {
			return nil, fmt.Errorf("%w: %s[%d] is missing a field", ErrDecode, kind, i)
		}
		if *w.SizX < 0 || *w.SizY < 0 {
			return nil, fmt.Errorf("%w: %s[%d] has negative size %dx%d", ErrDecode, kind, i, *w.SizX, *w.SizY)
		}
		out[i] = Entity{ID: *w.ID, PosX: *w.PosX, PosY: *w.PosY, SizX: *w.SizX, SizY: *w.SizY}
	}
	return out, nil
}
