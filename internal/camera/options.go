package camera

import (
	"maprender/pkg/geo"
	"maprender/pkg/tiles"
)

// Options bundles an optional set of camera parameters. Nil fields keep
// their prior value.
type Options struct {
	Center  *geo.LngLat
	Zoom    *float64
	Bearing *float64
	Pitch   *float64
}

// JumpTo applies every supplied field, validating and constraining each,
// and leaves the transform self-consistent when only a subset is given.
func (t *Transform) JumpTo(o Options) {
	if o.Zoom != nil {
		t.SetZoom(*o.Zoom)
	}
	if o.Bearing != nil {
		t.SetBearing(*o.Bearing)
	}
	if o.Pitch != nil {
		t.SetPitch(*o.Pitch)
	}
	if o.Center != nil {
		t.SetCenter(*o.Center)
	}
}

// CoveringTiles returns the tiles a source cache needs to cover the
// current viewport. The fractional zoom is truncated to the tile zoom.
func (t *Transform) CoveringTiles() []tiles.Coord {
	return tiles.Cover(t.center, int(t.zoom), t.width, t.height, TileSize)
}
