package style

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"maprender/internal/camera"
	"maprender/pkg/geo"
)

// labelBox is the assumed screen footprint of a symbol, in pixels, used
// for collision tests until glyph metrics exist.
// TODO: size boxes from the evaluated text-size layout property.
const labelBox = 24.0

// PlacedSymbol is one symbol that survived collision detection.
type PlacedSymbol struct {
	LayerID string
	Feature *geojson.Feature
	Screen  geo.ScreenPoint
	Opacity float64
}

type placementState struct {
	placed []PlacedSymbol

	lastZoom       int
	lastBearing    float64
	lastGeneration int
	fadeStart      time.Time
	valid          bool
}

// UpdatePlacement runs symbol collision detection when the camera or the
// style has changed enough to invalidate the previous result, then fades
// the placed symbols in. It returns true while opacities are still
// animating, which keeps the scheduler ticking.
func (s *Style) UpdatePlacement(tr *camera.Transform, fade time.Duration, crossSourceCollisions bool) bool {
	now := time.Now()
	p := &s.placement

	zoom := int(tr.Zoom())
	bearing := tr.Bearing()
	if !p.valid || zoom != p.lastZoom || bearing != p.lastBearing || s.generation != p.lastGeneration {
		p.placed = s.placeSymbols(tr, crossSourceCollisions)
		p.lastZoom = zoom
		p.lastBearing = bearing
		p.lastGeneration = s.generation
		p.fadeStart = now
		p.valid = true
	}

	if len(p.placed) == 0 {
		return false
	}
	if fade <= 0 {
		for i := range p.placed {
			p.placed[i].Opacity = 1
		}
		return false
	}
	t := float64(now.Sub(p.fadeStart)) / float64(fade)
	if t >= 1 {
		t = 1
	}
	for i := range p.placed {
		p.placed[i].Opacity = t
	}
	return t < 1
}

// PlacedSymbols returns the current placement result, for the painter.
func (s *Style) PlacedSymbols() []PlacedSymbol {
	return s.placement.placed
}

// placeSymbols walks symbol layers top-most first and keeps each symbol
// whose screen box does not collide with an already placed one. With
// crossSourceCollisions disabled, symbols only collide within their own
// source.
func (s *Style) placeSymbols(tr *camera.Transform, crossSourceCollisions bool) []PlacedSymbol {
	var placed []PlacedSymbol
	occupied := make(map[string][]orb.Bound)

	for i := len(s.order) - 1; i >= 0; i-- {
		layer := s.layers[s.order[i]]
		if layer.Spec.Type != "symbol" || !layer.visible {
			continue
		}
		collisionKey := ""
		if !crossSourceCollisions {
			collisionKey = layer.Spec.Source
		}
		for _, f := range s.visibleFeatures(layer) {
			anchor, ok := symbolAnchor(f.Geometry)
			if !ok {
				continue
			}
			pt := tr.Project(geo.LngLat{Lng: anchor[0], Lat: anchor[1]})
			w, h := float64(tr.Width()), float64(tr.Height())
			if pt.X < -labelBox || pt.Y < -labelBox || pt.X > w+labelBox || pt.Y > h+labelBox {
				continue
			}
			box := orb.Bound{
				Min: orb.Point{pt.X - labelBox/2, pt.Y - labelBox/2},
				Max: orb.Point{pt.X + labelBox/2, pt.Y + labelBox/2},
			}
			if collides(occupied[collisionKey], box) {
				continue
			}
			occupied[collisionKey] = append(occupied[collisionKey], box)
			placed = append(placed, PlacedSymbol{
				LayerID: layer.Spec.ID,
				Feature: f,
				Screen:  pt,
			})
		}
	}
	return placed
}

func collides(boxes []orb.Bound, b orb.Bound) bool {
	for _, o := range boxes {
		if o.Intersects(b) {
			return true
		}
	}
	return false
}

// symbolAnchor picks the anchor point of a feature geometry: the point
// itself, the first point of a line, or the centroid of a polygon.
func symbolAnchor(g orb.Geometry) (orb.Point, bool) {
	switch geom := g.(type) {
	case orb.Point:
		return geom, true
	case orb.MultiPoint:
		if len(geom) > 0 {
			return geom[0], true
		}
	case orb.LineString:
		if len(geom) > 0 {
			return geom[0], true
		}
	case orb.MultiLineString:
		if len(geom) > 0 && len(geom[0]) > 0 {
			return geom[0][0], true
		}
	case orb.Polygon:
		if len(geom) > 0 && len(geom[0]) > 0 {
			c, _ := planar.CentroidArea(geom)
			return c, true
		}
	case orb.MultiPolygon:
		if len(geom) > 0 {
			c, _ := planar.CentroidArea(geom)
			return c, true
		}
	}
	return orb.Point{}, false
}
