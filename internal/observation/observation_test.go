package observation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/emulator/internal/game"
)

func baseState() game.State {
	return game.State{
		Frame:   1,
		Ship:    game.Ship{X: 160, Y: 280},
		Lives:   2,
		Bombs:   3,
		Score:   1200,
		Enemies: []game.Entity{},
		Bullets: []game.Entity{},
		OwnShot: []game.Entity{},
		PowerUp: []game.Entity{},
		Bonuses: []game.Entity{},
	}
}

func newDefaultRaster(t *testing.T) *Raster {
	t.Helper()
	r, err := NewRaster(RasterConfig{
		Width: 80, Height: 80, Scale: 4,
		ComboBarHeight: 4, ComboIntensity: ComboIntensity,
		Layers: DefaultLayers(16),
	})
	require.NoError(t, err)
	return r
}

func TestRaster_ShapeInvariant(t *testing.T) {
	r := newDefaultRaster(t)

	empty := baseState()
	busy := baseState()
	for i := 0; i < 60; i++ {
		busy.Bullets = append(busy.Bullets, game.Entity{ID: i + 1, PosX: i * 5, PosY: i * 4, SizX: 8, SizY: 8})
	}
	busy.Enemies = append(busy.Enemies, game.Entity{ID: 9, PosX: -40, PosY: 900, SizX: 64, SizY: 64})

	for _, s := range []game.State{empty, busy} {
		obs, err := r.Encode(s)
		require.NoError(t, err)
		assert.Equal(t, []int{80, 80}, obs.Shape)
		assert.Len(t, obs.Data, 80*80)
		assert.Equal(t, obs.Len(), len(obs.Data))
	}
}

func TestRaster_Deterministic(t *testing.T) {
	r := newDefaultRaster(t)
	s := baseState()
	s.Enemies = []game.Entity{{ID: 4, PosX: 100, PosY: 100, SizX: 32, SizY: 16}}

	a, err := r.Encode(s)
	require.NoError(t, err)
	b, err := r.Encode(s)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRaster_DrawsShipAndEntities(t *testing.T) {
	r := newDefaultRaster(t)
	s := baseState()
	s.Enemies = []game.Entity{{ID: 4, PosX: 100, PosY: 100, SizX: 32, SizY: 16}}

	img := r.Render(s)

	// ship at (160,280)/4 = (40,70), half extent 16/4/2 = 2
	assert.Equal(t, ShipIntensity, img.GrayAt(40, 70).Y)
	assert.Equal(t, ShipIntensity, img.GrayAt(42, 72).Y)
	assert.Equal(t, uint8(0), img.GrayAt(43, 70).Y)

	// enemy at (25,25), half extents 4 and 2
	assert.Equal(t, EnemiesIntensity, img.GrayAt(29, 27).Y)
	assert.Equal(t, uint8(0), img.GrayAt(30, 25).Y)
	assert.Equal(t, uint8(0), img.GrayAt(25, 28).Y)
}

func TestRaster_PainterOrder(t *testing.T) {
	r := newDefaultRaster(t)
	s := baseState()
	s.Enemies = []game.Entity{{ID: 1, PosX: 40, PosY: 40, SizX: 16, SizY: 16}}
	s.Bullets = []game.Entity{{ID: 2, PosX: 40, PosY: 40, SizX: 4, SizY: 4}}

	img := r.Render(s)
	assert.Equal(t, BulletsIntensity, img.GrayAt(10, 10).Y, "bullets paint over enemies")
	assert.Equal(t, EnemiesIntensity, img.GrayAt(12, 12).Y)
}

func TestRaster_SmallAndEmptySizes(t *testing.T) {
	r := newDefaultRaster(t)
	s := baseState()
	s.Ship = game.Ship{X: -100, Y: -100}
	s.Bullets = []game.Entity{
		{ID: 1, PosX: 200, PosY: 200, SizX: 2, SizY: 2}, // half extent 0
		{ID: 2, PosX: 100, PosY: 40, SizX: 0, SizY: 0},  // not drawn
		{ID: 0, PosX: 60, PosY: 60, SizX: 16, SizY: 16}, // empty slot
	}

	img := r.Render(s)
	assert.Equal(t, BulletsIntensity, img.GrayAt(50, 50).Y)
	assert.Equal(t, uint8(0), img.GrayAt(51, 50).Y)
	assert.Equal(t, uint8(0), img.GrayAt(25, 10).Y)
	assert.Equal(t, uint8(0), img.GrayAt(15, 15).Y)
	assert.Equal(t, uint8(0), img.GrayAt(0, 0).Y, "nothing degenerates to the origin")
}

func TestRaster_ComboBar(t *testing.T) {
	r := newDefaultRaster(t)
	s := baseState()
	s.Ship = game.Ship{X: -100, Y: -100}
	s.Combo = game.MaxCombo

	img := r.Render(s)
	assert.Equal(t, ComboIntensity, img.GrayAt(0, 79).Y)
	assert.Equal(t, ComboIntensity, img.GrayAt(79, 76).Y)
	assert.Equal(t, uint8(0), img.GrayAt(0, 75).Y)

	s.Combo = 0
	img = r.Render(s)
	assert.Equal(t, uint8(0), img.GrayAt(0, 79).Y)
}

func TestRaster_Ellipse(t *testing.T) {
	layers := DefaultLayers(16)
	layers[0].Shape = ShapeEllipse
	r, err := NewRaster(RasterConfig{Width: 80, Height: 80, Scale: 4, Layers: layers})
	require.NoError(t, err)

	s := baseState()
	s.Ship = game.Ship{X: -100, Y: -100}
	s.Enemies = []game.Entity{{ID: 1, PosX: 160, PosY: 160, SizX: 64, SizY: 64}}

	img := r.Render(s)
	assert.Equal(t, EnemiesIntensity, img.GrayAt(40, 40).Y)
	assert.Equal(t, EnemiesIntensity, img.GrayAt(48, 40).Y)
	assert.Equal(t, uint8(0), img.GrayAt(48, 48).Y, "corner lies outside the ellipse")
}

func TestNewRaster_Validation(t *testing.T) {
	_, err := NewRaster(RasterConfig{Width: 0, Height: 80, Scale: 4, Layers: DefaultLayers(16)})
	assert.Error(t, err)
	_, err = NewRaster(RasterConfig{Width: 80, Height: 80, Scale: 0, Layers: DefaultLayers(16)})
	assert.Error(t, err)
	_, err = NewRaster(RasterConfig{Width: 80, Height: 80, Scale: 4})
	assert.Error(t, err)
	_, err = NewRaster(RasterConfig{Width: 80, Height: 80, Scale: 4, ComboBarHeight: 81, Layers: DefaultLayers(16)})
	assert.Error(t, err)
}

func TestVector_CapacityBoundary(t *testing.T) {
	v, err := NewVector(4)
	require.NoError(t, err)

	s := baseState()
	s.Enemies = []game.Entity{{ID: 1}, {ID: 2}, {ID: 0}}
	s.Bullets = []game.Entity{{ID: 3}, {ID: 4}}

	obs, err := v.Encode(s)
	require.NoError(t, err, "exactly at capacity succeeds")
	assert.Len(t, obs.Data, 3+4*5)

	s.PowerUp = []game.Entity{{ID: 5}}
	_, err = v.Encode(s)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestVector_EmptySlotsDoNotCount(t *testing.T) {
	v, err := NewVector(2)
	require.NoError(t, err)

	s := baseState()
	s.Enemies = []game.Entity{{ID: 0}, {ID: 1, PosY: 10}, {ID: 0}, {ID: 0}}
	s.Bullets = []game.Entity{{ID: 0}, {ID: 2, PosY: 20}, {ID: 0}}

	obs, err := v.Encode(s)
	require.NoError(t, err, "seven slots, two active")
	assert.Equal(t, float32(1), obs.Data[3])
	assert.Equal(t, float32(2), obs.Data[3+5])
}

func TestVector_LayoutAndPadding(t *testing.T) {
	v, err := NewVector(3)
	require.NoError(t, err)

	s := baseState()
	s.Bullets = []game.Entity{{ID: 7, PosX: 50, PosY: 90, SizX: 4, SizY: 4}}
	s.Enemies = []game.Entity{{ID: 2, PosX: 10, PosY: 20, SizX: 32, SizY: 16}}

	obs, err := v.Encode(s)
	require.NoError(t, err)
	assert.Equal(t, []int{18}, obs.Shape)
	assert.Equal(t, []float32{
		3, 2, 1200,
		2, 10, 20, 32, 16,
		7, 50, 90, 4, 4,
		0, 0, 0, 0, 0,
	}, obs.Data)
}

func TestVector_ShapeInvariant(t *testing.T) {
	v, err := NewVector(8)
	require.NoError(t, err)

	for n := 0; n <= 8; n++ {
		s := baseState()
		for i := 0; i < n; i++ {
			s.Bullets = append(s.Bullets, game.Entity{ID: i + 1, PosX: 8 - i})
		}
		obs, err := v.Encode(s)
		require.NoError(t, err)
		assert.Len(t, obs.Data, 3+8*5)
	}
}

func TestThreatRing(t *testing.T) {
	tr := NewThreatRing()
	s := baseState()
	s.Ship = game.Ship{X: 100, Y: 100}
	s.Enemies = []game.Entity{
		{ID: 1, PosX: 110, PosY: 100}, // right of the ship
		{ID: 0, PosX: 90, PosY: 100},
	}
	s.Bullets = []game.Entity{{ID: 2, PosX: 50, PosY: 100}} // left of the ship

	obs, err := tr.Encode(s)
	require.NoError(t, err)
	require.Len(t, obs.Data, 18)
	assert.Equal(t, []int{18}, tr.Shape())
	assert.Equal(t, float32(100), obs.Data[0])
	assert.Equal(t, float32(100), obs.Data[1])

	enemies := obs.Data[2:10]
	bullets := obs.Data[10:18]
	assert.Equal(t, float32(39), enemies[0]) // floor(400 / 10.01)
	assert.Equal(t, float32(7), bullets[4])  // floor(400 / 50.01)
	for i, v := range enemies {
		if i != 0 {
			assert.Zero(t, v)
		}
	}
}

func TestNew(t *testing.T) {
	c, err := New(DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []int{80, 80}, c.Shape())

	opts := DefaultOptions()
	opts.Kind = KindVector
	opts.Capacity = 10
	c, err = New(opts)
	require.NoError(t, err)
	assert.Equal(t, []int{53}, c.Shape())

	opts.Kind = KindThreat
	_, err = New(opts)
	require.NoError(t, err)

	opts = DefaultOptions()
	opts.Ellipses = []string{"bullets"}
	_, err = New(opts)
	require.NoError(t, err)

	opts.Ellipses = []string{"lasers"}
	_, err = New(opts)
	assert.Error(t, err)

	opts = DefaultOptions()
	opts.Kind = "voxel"
	_, err = New(opts)
	assert.Error(t, err)
}
