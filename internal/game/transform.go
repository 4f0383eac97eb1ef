package game

import "fmt"

const (
	// ScreenWidth and ScreenHeight are the emulator's native resolution.
	ScreenWidth  = 240
	ScreenHeight = 320

	// DefaultStabiliseOffset is the fixed part of the vertical camera shift.
	DefaultStabiliseOffset = 40
)

// Transform rewrites coordinates of a state in place. Transforms are a
// caller-side normalisation step; codecs never apply them on their own.
type Transform func(s *State)

// Apply returns a transformed deep copy of s, leaving s untouched.
func Apply(s State, transforms ...Transform) State {
	out := s.Clone()
	for _, t := range transforms {
		t(&out)
	}
	return out
}

// FlipXY swaps the axes of every entity and of the ship. Plugins that read
// sprite tables of the rotated cabinet report x and y transposed.
func FlipXY() Transform {
	return func(s *State) {
		s.eachList(func(list []Entity) {
			for i := range list {
				list[i].PosX, list[i].PosY = list[i].PosY, list[i].PosX
				list[i].SizX, list[i].SizY = list[i].SizY, list[i].SizX
			}
		})
		s.Ship.X, s.Ship.Y = s.Ship.Y, s.Ship.X
	}
}

// Stabilise shifts entities and the ship vertically by offset plus the
// per-frame camera offset reported in the state.
func Stabilise(offset int) Transform {
	return func(s *State) {
		shift := offset + s.XOffset
		s.eachList(func(list []Entity) {
			for i := range list {
				list[i].PosY += shift
			}
		})
		s.Ship.Y += shift
	}
}

// Reorient mirrors entities and the ship vertically within a screen of the
// given height.
func Reorient(height int) Transform {
	return func(s *State) {
		s.eachList(func(list []Entity) {
			for i := range list {
				list[i].PosY = height - list[i].PosY
			}
		})
		s.Ship.Y = height - s.Ship.Y
	}
}

// ParseTransforms resolves transform names from configuration, in order.
func ParseTransforms(names []string) ([]Transform, error) {
	out := make([]Transform, 0, len(names))
	for _, name := range names {
		switch name {
		case "flip_xy":
			out = append(out, FlipXY())
		case "stabilise", "stabilize":
			out = append(out, Stabilise(DefaultStabiliseOffset))
		case "reorient":
			out = append(out, Reorient(ScreenHeight))
		default:
			return nil, fmt.Errorf("unknown transform %q", name)
		}
	}
	return out, nil
}

// Motion is the per-tick displacement of a sprite whose slot kept its id.
type Motion struct {
	Slot   int
	Entity Entity
	DX, DY int
}

// Trajectories pairs slots of prev and curr that hold the same active id
// and reports how far each moved. Slots are only comparable while the
// emulator keeps a sprite in the same table position.
func Trajectories(prev, curr []Entity) []Motion {
	var out []Motion
	for i, e := range curr {
		if i >= len(prev) {
			break
		}
		if !e.Active() || prev[i].ID != e.ID {
			continue
		}
		out = append(out, Motion{
			Slot:   i,
			Entity: e,
			DX:     e.PosX - prev[i].PosX,
			DY:     e.PosY - prev[i].PosY,
		})
	}
	return out
}
