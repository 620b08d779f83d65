// Package camera implements the viewport transform: the camera parameters
// (center, zoom, bearing, pitch, viewport size) and the math converting
// between geographic and screen coordinates.
package camera

import (
	"errors"
	"fmt"
	"math"

	"maprender/pkg/geo"
)

const (
	// TileSize is the side of a map tile in pixels.
	TileSize = 256

	// DefaultMinZoom and DefaultMaxZoom bound the zoom range unless
	// reconfigured.
	DefaultMinZoom = 0
	DefaultMaxZoom = 22

	// MaxPitch is the steepest allowed camera tilt in degrees.
	MaxPitch = 60

	// maxMercatorLat is the latitude limit of the Web Mercator projection.
	maxMercatorLat = 85.051129
)

// ErrInvalidConfiguration reports structurally invalid camera input, such
// as a minimum zoom above the maximum.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Transform holds the camera state and converts between geographic and
// screen coordinates. Mutations go through setters that re-validate and
// re-apply the configured pan/zoom constraints; Transform itself is not
// goroutine safe and is owned by the engine's scheduling goroutine.
type Transform struct {
	center  geo.LngLat
	zoom    float64
	bearing float64 // degrees clockwise from north
	pitch   float64 // degrees from the vertical

	width  int
	height int

	minZoom float64
	maxZoom float64

	lngRange *[2]float64
	latRange *[2]float64

	renderWorldCopies bool
}

// New returns a transform with default zoom bounds, centered on (0, 0).
// Resize must be called before Project/Unproject are meaningful.
func New() *Transform {
	return &Transform{
		zoom:              DefaultMinZoom,
		minZoom:           DefaultMinZoom,
		maxZoom:           DefaultMaxZoom,
		renderWorldCopies: true,
	}
}

// Center returns the geographic point at the middle of the viewport.
func (t *Transform) Center() geo.LngLat { return t.center }

// Zoom returns the current zoom level.
func (t *Transform) Zoom() float64 { return t.zoom }

// Bearing returns the rotation in degrees clockwise from north.
func (t *Transform) Bearing() float64 { return t.bearing }

// Pitch returns the camera tilt in degrees.
func (t *Transform) Pitch() float64 { return t.pitch }

// Width returns the viewport width in pixels.
func (t *Transform) Width() int { return t.width }

// Height returns the viewport height in pixels.
func (t *Transform) Height() int { return t.height }

// MinZoom returns the lower zoom bound.
func (t *Transform) MinZoom() float64 { return t.minZoom }

// MaxZoom returns the upper zoom bound.
func (t *Transform) MaxZoom() float64 { return t.maxZoom }

// RenderWorldCopies reports whether the world repeats horizontally.
func (t *Transform) RenderWorldCopies() bool { return t.renderWorldCopies }

// SetRenderWorldCopies toggles horizontal world wrapping.
func (t *Transform) SetRenderWorldCopies(v bool) { t.renderWorldCopies = v }

// Resize updates the viewport dimensions and re-applies constraints.
func (t *Transform) Resize(width, height int) {
	t.width = width
	t.height = height
	t.constrain()
}

// SetCenter moves the camera to the given point.
func (t *Transform) SetCenter(c geo.LngLat) {
	t.center = c
	t.constrain()
}

// SetZoom sets the zoom level, clamped to the configured bounds.
func (t *Transform) SetZoom(z float64) {
	t.zoom = clamp(z, t.minZoom, t.maxZoom)
	t.constrain()
}

// SetBearing sets the rotation, normalized into [-180, 180).
func (t *Transform) SetBearing(b float64) {
	t.bearing = geo.LngLat{Lng: b}.Wrap().Lng
}

// SetPitch sets the tilt, clamped to [0, MaxPitch].
func (t *Transform) SetPitch(p float64) {
	t.pitch = clamp(p, 0, MaxPitch)
}

// SetMinZoom lowers the zoom floor. Fails if the floor would exceed the
// current ceiling.
func (t *Transform) SetMinZoom(z float64) error {
	if math.IsNaN(z) || z > t.maxZoom {
		return fmt.Errorf("%w: minZoom %v exceeds maxZoom %v", ErrInvalidConfiguration, z, t.maxZoom)
	}
	t.minZoom = z
	t.SetZoom(t.zoom)
	return nil
}

// SetMaxZoom raises the zoom ceiling. Fails if the ceiling would drop
// below the current floor.
func (t *Transform) SetMaxZoom(z float64) error {
	if math.IsNaN(z) || z < t.minZoom {
		return fmt.Errorf("%w: maxZoom %v below minZoom %v", ErrInvalidConfiguration, z, t.minZoom)
	}
	t.maxZoom = z
	t.SetZoom(t.zoom)
	return nil
}

// SetMaxBounds constrains camera movement so the visible rectangle stays
// inside b. Passing empty bounds removes the constraint.
func (t *Transform) SetMaxBounds(b geo.Bounds) {
	if b.Empty() {
		t.lngRange = nil
		t.latRange = nil
		return
	}
	t.lngRange = &[2]float64{b.West(), b.East()}
	t.latRange = &[2]float64{b.South(), b.North()}
	t.constrain()
}

// Pan moves the camera by a screen-pixel delta.
func (t *Transform) Pan(dx, dy float64) {
	c := t.Unproject(geo.ScreenPoint{
		X: float64(t.width)/2 + dx,
		Y: float64(t.height)/2 + dy,
	})
	t.SetCenter(c.Wrap())
}

// ZoomAround changes the zoom level while keeping the geographic point
// under the given screen position fixed.
func (t *Transform) ZoomAround(zoom float64, around geo.ScreenPoint) {
	anchor := t.Unproject(around)
	t.SetZoom(zoom)
	moved := t.Project(anchor)
	t.Pan(moved.X-around.X, moved.Y-around.Y)
}

// worldSize returns the side of the square world plane in pixels at the
// current zoom.
func (t *Transform) worldSize() float64 {
	return TileSize * math.Pow(2, t.zoom)
}

// mercatorX maps longitude to [0, 1] across the world plane.
func mercatorX(lng float64) float64 {
	return (lng + 180) / 360
}

// mercatorY maps latitude to [0, 1], clamped to the Mercator limit.
func mercatorY(lat float64) float64 {
	lat = clamp(lat, -maxMercatorLat, maxMercatorLat)
	rad := lat * math.Pi / 180
	return (1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2
}

func invMercatorX(x float64) float64 {
	return x*360 - 180
}

func invMercatorY(y float64) float64 {
	return math.Atan(math.Sinh(math.Pi*(1-2*y))) * 180 / math.Pi
}

// Project converts a geographic point to viewport pixels.
func (t *Transform) Project(p geo.LngLat) geo.ScreenPoint {
	ws := t.worldSize()
	wx := mercatorX(p.Lng) * ws
	wy := mercatorY(p.Lat) * ws
	cx := mercatorX(t.center.Lng) * ws
	cy := mercatorY(t.center.Lat) * ws

	if t.renderWorldCopies {
		// Project into the world copy nearest the center.
		for wx-cx > ws/2 {
			wx -= ws
		}
		for cx-wx > ws/2 {
			wx += ws
		}
	}

	v := geo.ScreenPoint{X: wx - cx, Y: wy - cy}.Rotate(-t.bearing * math.Pi / 180)
	v.Y *= math.Cos(t.pitch * math.Pi / 180)
	return geo.ScreenPoint{
		X: v.X + float64(t.width)/2,
		Y: v.Y + float64(t.height)/2,
	}
}

// Unproject converts viewport pixels back to a geographic point. It is
// the exact inverse of Project up to floating-point tolerance.
func (t *Transform) Unproject(p geo.ScreenPoint) geo.LngLat {
	ws := t.worldSize()
	v := geo.ScreenPoint{
		X: p.X - float64(t.width)/2,
		Y: p.Y - float64(t.height)/2,
	}
	v.Y /= math.Cos(t.pitch * math.Pi / 180)
	v = v.Rotate(t.bearing * math.Pi / 180)

	wx := v.X + mercatorX(t.center.Lng)*ws
	wy := v.Y + mercatorY(t.center.Lat)*ws
	return geo.LngLat{
		Lng: invMercatorX(wx / ws),
		Lat: invMercatorY(clamp(wy/ws, 0, 1)),
	}
}

// Bounds returns the geographic rectangle covering the four viewport
// corners.
func (t *Transform) Bounds() geo.Bounds {
	var b geo.Bounds
	w, h := float64(t.width), float64(t.height)
	for _, corner := range []geo.ScreenPoint{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}} {
		b.Extend(t.Unproject(corner))
	}
	return b
}

// constrain is the post-mutation correction pass: it re-clamps zoom and
// center so the visible rectangle does not leave the configured lng/lat
// ranges further than necessary. Clamping, never rejection.
func (t *Transform) constrain() {
	t.zoom = clamp(t.zoom, t.minZoom, t.maxZoom)
	if t.width == 0 || t.height == 0 {
		return
	}
	if t.lngRange == nil && t.latRange == nil {
		return
	}

	// If the configured range is smaller than the viewport, zoom in just
	// enough to make it fit before clamping the center.
	scale := 1.0
	if t.lngRange != nil {
		span := (mercatorX(t.lngRange[1]) - mercatorX(t.lngRange[0])) * t.worldSize()
		if span > 0 && span < float64(t.width) {
			scale = math.Max(scale, float64(t.width)/span)
		}
	}
	if t.latRange != nil {
		span := (mercatorY(t.latRange[0]) - mercatorY(t.latRange[1])) * t.worldSize()
		if span > 0 && span < float64(t.height) {
			scale = math.Max(scale, float64(t.height)/span)
		}
	}
	if scale > 1 {
		t.zoom = clamp(t.zoom+math.Log2(scale), t.minZoom, t.maxZoom)
	}

	ws := t.worldSize()
	cx := mercatorX(t.center.Lng) * ws
	cy := mercatorY(t.center.Lat) * ws

	if t.lngRange != nil {
		minX := mercatorX(t.lngRange[0]) * ws
		maxX := mercatorX(t.lngRange[1]) * ws
		half := float64(t.width) / 2
		if maxX-minX >= float64(t.width) {
			cx = clamp(cx, minX+half, maxX-half)
		} else {
			cx = (minX + maxX) / 2
		}
	}
	if t.latRange != nil {
		minY := mercatorY(t.latRange[1]) * ws
		maxY := mercatorY(t.latRange[0]) * ws
		half := float64(t.height) / 2
		if maxY-minY >= float64(t.height) {
			cy = clamp(cy, minY+half, maxY-half)
		} else {
			cy = (minY + maxY) / 2
		}
	}

	t.center = geo.LngLat{
		Lng: invMercatorX(cx / ws),
		Lat: invMercatorY(cy / ws),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
