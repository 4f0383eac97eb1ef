// Package observation turns decoded game states into fixed-shape numeric
// observations. Three strategies share the Codec interface: a downscaled
// raster image, a flat padded sprite vector and a directional threat ring.
package observation

import (
	"errors"
	"fmt"

	"github.com/cartridge/emulator/internal/game"
)

// ErrCapacityExceeded is returned by the vector codec when a state holds
// more active sprites than the configured capacity.
var ErrCapacityExceeded = errors.New("entity count exceeds observation capacity")

// Observation is the numeric form of one tick. Shape never varies for a
// given codec.
type Observation struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// Len returns the number of elements implied by the shape.
func (o Observation) Len() int {
	n := 1
	for _, d := range o.Shape {
		n *= d
	}
	return n
}

// Codec encodes states into observations of a fixed shape.
type Codec interface {
	Encode(state game.State) (Observation, error)
	Shape() []int
}

// Kind names a codec strategy in configuration.
type Kind string

const (
	KindRaster Kind = "raster"
	KindVector Kind = "vector"
	KindThreat Kind = "threat"
)

// Options selects and parameterises a codec.
type Options struct {
	Kind Kind `mapstructure:"kind"`

	// raster
	Width          int      `mapstructure:"width"`
	Height         int      `mapstructure:"height"`
	Scale          int      `mapstructure:"scale"`
	ComboBarHeight int      `mapstructure:"combo_bar_height"`
	ShipSize       int      `mapstructure:"ship_size"`
	Ellipses       []string `mapstructure:"ellipses"`

	// vector
	Capacity int `mapstructure:"capacity"`
}

// DefaultOptions returns the raster configuration used by the shipped agents.
func DefaultOptions() Options {
	return Options{
		Kind:           KindRaster,
		Width:          80,
		Height:         80,
		Scale:          4,
		ComboBarHeight: 4,
		ShipSize:       16,
		Capacity:       DefaultCapacity,
	}
}

// New builds the codec named by opts.Kind.
func New(opts Options) (Codec, error) {
	switch opts.Kind {
	case KindRaster, "":
		layers := DefaultLayers(opts.ShipSize)
		for _, name := range opts.Ellipses {
			found := false
			for i := range layers {
				if string(layers[i].Kind) == name {
					layers[i].Shape = ShapeEllipse
					found = true
				}
			}
			if !found {
				return nil, fmt.Errorf("ellipse layer %q: unknown entity kind", name)
			}
		}
		return NewRaster(RasterConfig{
			Width:          opts.Width,
			Height:         opts.Height,
			Scale:          opts.Scale,
			ComboBarHeight: opts.ComboBarHeight,
			ComboIntensity: ComboIntensity,
			Layers:         layers,
		})
	case KindVector:
		return NewVector(opts.Capacity)
	case KindThreat:
		return NewThreatRing(), nil
	default:
		return nil, fmt.Errorf("unknown observation kind %q", opts.Kind)
	}
}
