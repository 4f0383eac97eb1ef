package observation

import (
	"fmt"
	"sort"

	"github.com/cartridge/emulator/internal/game"
)

const (
	// DefaultCapacity is the sprite capacity of the vector codec.
	DefaultCapacity = 256

	headerLen = 3
	spriteLen = 5
)

// Vector flattens a state into [bombs, lives, score, sprites...]. Each
// sprite contributes id, pos_x, pos_y, siz_x, siz_y; the list is sorted by
// position and padded with zero sprites up to capacity.
type Vector struct {
	capacity int
}

// NewVector returns a vector codec holding at most capacity sprites.
func NewVector(capacity int) (*Vector, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("vector capacity must be positive, got %d", capacity)
	}
	return &Vector{capacity: capacity}, nil
}

// Capacity returns the sprite capacity.
func (v *Vector) Capacity() int { return v.capacity }

// Shape returns the fixed vector length.
func (v *Vector) Shape() []int {
	return []int{headerLen + v.capacity*spriteLen}
}

// Encode fails with ErrCapacityExceeded when the active sprites do not fit.
// Empty slots are dropped before counting.
func (v *Vector) Encode(state game.State) (Observation, error) {
	sprites := make([]game.Entity, 0, v.capacity)
	for _, kind := range game.Kinds {
		for _, e := range state.Entities(kind) {
			if e.Active() {
				sprites = append(sprites, e)
			}
		}
	}
	if len(sprites) > v.capacity {
		return Observation{}, fmt.Errorf("%w: %d active sprites, capacity %d",
			ErrCapacityExceeded, len(sprites), v.capacity)
	}

	sort.SliceStable(sprites, func(i, j int) bool {
		a, b := sprites[i], sprites[j]
		if a.PosY != b.PosY {
			return a.PosY < b.PosY
		}
		if a.PosX != b.PosX {
			return a.PosX < b.PosX
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		if a.SizX != b.SizX {
			return a.SizX < b.SizX
		}
		return a.SizY < b.SizY
	})

	data := make([]float32, headerLen+v.capacity*spriteLen)
	data[0] = float32(state.Bombs)
	data[1] = float32(state.Lives)
	data[2] = float32(state.Score)
	for i, e := range sprites {
		off := headerLen + i*spriteLen
		data[off] = float32(e.ID)
		data[off+1] = float32(e.PosX)
		data[off+2] = float32(e.PosY)
		data[off+3] = float32(e.SizX)
		data[off+4] = float32(e.SizY)
	}
	return Observation{Shape: v.Shape(), Data: data}, nil
}
