package observation

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/cartridge/emulator/internal/game"
)

// KindShip is the pseudo entity kind for the player's ship layer.
const KindShip game.Kind = "ship"

// Layer intensities, brightest painted last wins.
const (
	EnemiesIntensity uint8 = 0xAA
	OwnShotIntensity uint8 = 0xCC
	ShipIntensity    uint8 = 0xEE
	BonusesIntensity uint8 = 0x22
	PowerUpIntensity uint8 = 0x66
	BulletsIntensity uint8 = 0x44
	ComboIntensity   uint8 = 0x88
)

// Shape is how a layer's entities are drawn.
type Shape int

const (
	ShapeRectangle Shape = iota
	ShapeEllipse
)

// Layer describes one painter pass.
type Layer struct {
	Kind      game.Kind
	Intensity uint8
	Shape     Shape
	// SizeDivisor turns a downscaled size into a half-extent.
	SizeDivisor int
	// FixedSize overrides the entity size; used by the ship layer.
	FixedSize int
}

// DefaultLayers returns the painter order enemies, own shots, ship, bonuses,
// power-ups, bullets.
func DefaultLayers(shipSize int) []Layer {
	return []Layer{
		{Kind: game.KindEnemies, Intensity: EnemiesIntensity, SizeDivisor: 2},
		{Kind: game.KindOwnShot, Intensity: OwnShotIntensity, SizeDivisor: 2},
		{Kind: KindShip, Intensity: ShipIntensity, SizeDivisor: 2, FixedSize: shipSize},
		{Kind: game.KindBonuses, Intensity: BonusesIntensity, SizeDivisor: 2},
		{Kind: game.KindPowerUp, Intensity: PowerUpIntensity, SizeDivisor: 2},
		{Kind: game.KindBullets, Intensity: BulletsIntensity, SizeDivisor: 2},
	}
}

// RasterConfig configures a Raster codec.
type RasterConfig struct {
	Width, Height  int
	Scale          int
	ComboBarHeight int
	ComboIntensity uint8
	Layers         []Layer
}

// Raster draws a state into a single-channel image and flattens it row by
// row. Pixel values are the raw intensities in [0, 255].
type Raster struct {
	cfg RasterConfig
}

// NewRaster validates cfg and returns a raster codec.
func NewRaster(cfg RasterConfig) (*Raster, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("raster size must be positive, got %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Scale <= 0 {
		return nil, fmt.Errorf("raster scale must be positive, got %d", cfg.Scale)
	}
	if cfg.ComboBarHeight < 0 || cfg.ComboBarHeight > cfg.Height {
		return nil, fmt.Errorf("combo bar height %d outside [0, %d]", cfg.ComboBarHeight, cfg.Height)
	}
	if len(cfg.Layers) == 0 {
		return nil, errors.New("raster needs at least one layer")
	}
	for _, l := range cfg.Layers {
		if l.SizeDivisor <= 0 {
			return nil, fmt.Errorf("layer %s: size divisor must be positive", l.Kind)
		}
	}
	layers := make([]Layer, len(cfg.Layers))
	copy(layers, cfg.Layers)
	cfg.Layers = layers
	return &Raster{cfg: cfg}, nil
}

// Shape returns [height, width].
func (r *Raster) Shape() []int {
	return []int{r.cfg.Height, r.cfg.Width}
}

// Encode renders state and returns its pixels.
func (r *Raster) Encode(state game.State) (Observation, error) {
	img := r.Render(state)
	data := make([]float32, r.cfg.Width*r.cfg.Height)
	for y := 0; y < r.cfg.Height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+r.cfg.Width]
		for x, v := range row {
			data[y*r.cfg.Width+x] = float32(v)
		}
	}
	return Observation{Shape: r.Shape(), Data: data}, nil
}

// Render draws state onto a fresh image.
func (r *Raster) Render(state game.State) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, r.cfg.Width, r.cfg.Height))

	for _, layer := range r.cfg.Layers {
		if layer.Kind == KindShip {
			ship := game.Entity{ID: 1, PosX: state.Ship.X, PosY: state.Ship.Y}
			r.draw(img, layer, ship)
			continue
		}
		for _, e := range state.Entities(layer.Kind) {
			if e.Active() {
				r.draw(img, layer, e)
			}
		}
	}

	if r.cfg.ComboBarHeight > 0 && state.Combo > 0 {
		width := state.Combo * r.cfg.Width / game.MaxCombo
		fill(img, 0, r.cfg.Height-r.cfg.ComboBarHeight, width-1, r.cfg.Height-1, r.cfg.ComboIntensity)
	}
	return img
}

func (r *Raster) draw(img *image.Gray, layer Layer, e game.Entity) {
	sizX, sizY := e.SizX, e.SizY
	if layer.FixedSize > 0 {
		sizX, sizY = layer.FixedSize, layer.FixedSize
	}
	if sizX == 0 && sizY == 0 {
		return
	}

	scale := r.cfg.Scale
	cx := floorDiv(e.PosX, scale)
	cy := floorDiv(e.PosY, scale)
	hx := sizX / scale / layer.SizeDivisor
	hy := sizY / scale / layer.SizeDivisor

	switch layer.Shape {
	case ShapeEllipse:
		ellipse(img, cx, cy, hx, hy, layer.Intensity)
	default:
		fill(img, cx-hx, cy-hy, cx+hx, cy+hy, layer.Intensity)
	}
}

// fill paints the inclusive rectangle (x0,y0)-(x1,y1), clipped to img.
func fill(img *image.Gray, x0, y0, x1, y1 int, v uint8) {
	b := img.Bounds()
	x0, y0 = max(x0, b.Min.X), max(y0, b.Min.Y)
	x1, y1 = min(x1, b.Max.X-1), min(y1, b.Max.Y-1)
	c := color.Gray{Y: v}
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			img.SetGray(x, y, c)
		}
	}
}

// ellipse paints the pixels whose centres fall inside the ellipse of the
// given half-extents. Zero extents still cover the centre pixel.
func ellipse(img *image.Gray, cx, cy, hx, hy int, v uint8) {
	rx := float64(hx) + 0.5
	ry := float64(hy) + 0.5
	c := color.Gray{Y: v}
	for y := cy - hy; y <= cy+hy; y++ {
		for x := cx - hx; x <= cx+hx; x++ {
			dx := float64(x-cx) / rx
			dy := float64(y-cy) / ry
			if dx*dx+dy*dy > 1 {
				continue
			}
			if (image.Point{X: x, Y: y}).In(img.Bounds()) {
				img.SetGray(x, y, c)
			}
		}
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
