package style

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"maprender/internal/camera"
	"maprender/pkg/geo"
)

// defaultQueryTolerance is the hit-test slop for point and line
// features, in screen pixels.
const defaultQueryTolerance = 5.0

// QueryGeometry is a query region in both screen and geographic space.
// Screen holds either a single point or a closed ring; World is the
// unprojection of the same vertices.
type QueryGeometry struct {
	Screen []geo.ScreenPoint
	World  orb.Ring
}

// IsPoint reports whether the query is a single point rather than a box.
func (q QueryGeometry) IsPoint() bool { return len(q.Screen) == 1 }

// NewQueryGeometry builds a query region from screen coordinates. One
// point queries that point; two points span a box; no points query the
// whole viewport. Boxes become closed five-vertex rings.
func NewQueryGeometry(points []geo.ScreenPoint, tr *camera.Transform) QueryGeometry {
	var screen []geo.ScreenPoint
	switch len(points) {
	case 1:
		screen = []geo.ScreenPoint{points[0]}
	case 2:
		screen = boxRing(points[0], points[1])
	case 0:
		screen = boxRing(
			geo.ScreenPoint{},
			geo.ScreenPoint{X: float64(tr.Width()), Y: float64(tr.Height())},
		)
	default:
		screen = append([]geo.ScreenPoint(nil), points...)
		if screen[0] != screen[len(screen)-1] {
			screen = append(screen, screen[0])
		}
	}
	world := make(orb.Ring, len(screen))
	for i, p := range screen {
		ll := tr.Unproject(p)
		world[i] = orb.Point{ll.Lng, ll.Lat}
	}
	return QueryGeometry{Screen: screen, World: world}
}

func boxRing(a, b geo.ScreenPoint) []geo.ScreenPoint {
	minX, maxX := math.Min(a.X, b.X), math.Max(a.X, b.X)
	minY, maxY := math.Min(a.Y, b.Y), math.Max(a.Y, b.Y)
	return []geo.ScreenPoint{
		{X: minX, Y: minY},
		{X: maxX, Y: minY},
		{X: maxX, Y: maxY},
		{X: minX, Y: maxY},
		{X: minX, Y: minY},
	}
}

// QueryOptions narrows a rendered-feature query.
type QueryOptions struct {
	// Layers restricts results to these layer ids. Empty means all.
	Layers []string

	// Filter is an extra predicate applied on top of each layer's own
	// filter.
	Filter Filter

	// Tolerance is the hit slop in pixels; zero uses the default.
	Tolerance float64
}

// QueryRenderedFeatures returns the visible features intersecting the
// query region, top-most layer first. Each result is a shallow copy
// whose "$layer" property names the layer that matched it.
func (s *Style) QueryRenderedFeatures(q QueryGeometry, opts QueryOptions, tr *camera.Transform) []*geojson.Feature {
	tol := opts.Tolerance
	if tol <= 0 {
		tol = defaultQueryTolerance
	}
	var wanted map[string]bool
	if len(opts.Layers) > 0 {
		wanted = make(map[string]bool, len(opts.Layers))
		for _, id := range opts.Layers {
			wanted[id] = true
		}
	}

	var out []*geojson.Feature
	for i := len(s.order) - 1; i >= 0; i-- {
		layer := s.layers[s.order[i]]
		if !layer.visible || (wanted != nil && !wanted[layer.Spec.ID]) {
			continue
		}
		for _, f := range s.visibleFeatures(layer) {
			if opts.Filter != nil && !opts.Filter(f) {
				continue
			}
			if f.Geometry == nil {
				continue
			}
			if !s.hitTest(f.Geometry, q, tr, tol) {
				continue
			}
			cp := *f
			cp.Properties = cloneProps(f.Properties)
			if cp.Properties == nil {
				cp.Properties = geojson.Properties{}
			}
			cp.Properties["$layer"] = layer.Spec.ID
			out = append(out, &cp)
		}
	}
	return out
}

// hitTest projects the feature geometry to screen space and tests it
// against the query region there, so that bearing and pitch are
// accounted for.
func (s *Style) hitTest(g orb.Geometry, q QueryGeometry, tr *camera.Transform, tol float64) bool {
	screen := projectGeometry(g, tr)
	if screen == nil {
		return false
	}
	if q.IsPoint() {
		p := orb.Point{q.Screen[0].X, q.Screen[0].Y}
		return geometryNear(screen, p, tol)
	}
	b := screenBound(q.Screen)
	return geometryIntersectsBound(screen, b)
}

func screenBound(ring []geo.ScreenPoint) orb.Bound {
	b := orb.Bound{
		Min: orb.Point{ring[0].X, ring[0].Y},
		Max: orb.Point{ring[0].X, ring[0].Y},
	}
	for _, p := range ring[1:] {
		b = b.Extend(orb.Point{p.X, p.Y})
	}
	return b
}

// projectGeometry maps every vertex of g through the transform into
// screen coordinates.
func projectGeometry(g orb.Geometry, tr *camera.Transform) orb.Geometry {
	project := func(p orb.Point) orb.Point {
		sp := tr.Project(geo.LngLat{Lng: p[0], Lat: p[1]})
		return orb.Point{sp.X, sp.Y}
	}
	switch geom := g.(type) {
	case orb.Point:
		return project(geom)
	case orb.MultiPoint:
		out := make(orb.MultiPoint, len(geom))
		for i, p := range geom {
			out[i] = project(p)
		}
		return out
	case orb.LineString:
		out := make(orb.LineString, len(geom))
		for i, p := range geom {
			out[i] = project(p)
		}
		return out
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(geom))
		for i, ls := range geom {
			out[i] = projectGeometry(ls, tr).(orb.LineString)
		}
		return out
	case orb.Polygon:
		out := make(orb.Polygon, len(geom))
		for i, ring := range geom {
			r := make(orb.Ring, len(ring))
			for j, p := range ring {
				r[j] = project(p)
			}
			out[i] = r
		}
		return out
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(geom))
		for i, poly := range geom {
			out[i] = projectGeometry(poly, tr).(orb.Polygon)
		}
		return out
	}
	return nil
}

// geometryNear reports whether a screen-space geometry comes within tol
// pixels of point p.
func geometryNear(g orb.Geometry, p orb.Point, tol float64) bool {
	switch geom := g.(type) {
	case orb.Point:
		return planar.Distance(geom, p) <= tol
	case orb.MultiPoint:
		for _, pt := range geom {
			if planar.Distance(pt, p) <= tol {
				return true
			}
		}
	case orb.LineString:
		return lineNear(geom, p, tol)
	case orb.MultiLineString:
		for _, ls := range geom {
			if lineNear(ls, p, tol) {
				return true
			}
		}
	case orb.Polygon:
		if planar.PolygonContains(geom, p) {
			return true
		}
		for _, ring := range geom {
			if lineNear(orb.LineString(ring), p, tol) {
				return true
			}
		}
	case orb.MultiPolygon:
		for _, poly := range geom {
			if geometryNear(poly, p, tol) {
				return true
			}
		}
	}
	return false
}

func lineNear(ls orb.LineString, p orb.Point, tol float64) bool {
	for i := 1; i < len(ls); i++ {
		if segmentDistance(ls[i-1], ls[i], p) <= tol {
			return true
		}
	}
	return false
}

func segmentDistance(a, b, p orb.Point) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	if dx == 0 && dy == 0 {
		return planar.Distance(a, p)
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / (dx*dx + dy*dy)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return planar.Distance(orb.Point{a[0] + t*dx, a[1] + t*dy}, p)
}

// geometryIntersectsBound tests a screen-space geometry against a box
// query. Screen boxes are axis aligned, so the ring reduces to its
// bound.
func geometryIntersectsBound(g orb.Geometry, b orb.Bound) bool {
	switch geom := g.(type) {
	case orb.Point:
		return b.Contains(geom)
	case orb.MultiPoint:
		for _, p := range geom {
			if b.Contains(p) {
				return true
			}
		}
	case orb.LineString:
		return lineIntersectsBound(geom, b)
	case orb.MultiLineString:
		for _, ls := range geom {
			if lineIntersectsBound(ls, b) {
				return true
			}
		}
	case orb.Polygon:
		if len(geom) == 0 {
			return false
		}
		// Either an edge crosses the box, or the box sits entirely
		// inside the polygon.
		if lineIntersectsBound(orb.LineString(geom[0]), b) {
			return true
		}
		for _, inner := range geom[1:] {
			if lineIntersectsBound(orb.LineString(inner), b) {
				return true
			}
		}
		return planar.PolygonContains(geom, b.Min)
	case orb.MultiPolygon:
		for _, poly := range geom {
			if geometryIntersectsBound(poly, b) {
				return true
			}
		}
	}
	return false
}

func lineIntersectsBound(ls orb.LineString, b orb.Bound) bool {
	for i := 1; i < len(ls); i++ {
		if segmentIntersectsBound(ls[i-1], ls[i], b) {
			return true
		}
	}
	return len(ls) == 1 && b.Contains(ls[0])
}

// segmentIntersectsBound clips the segment against the box with the
// Liang-Barsky parametric test.
func segmentIntersectsBound(a, c orb.Point, b orb.Bound) bool {
	if b.Contains(a) || b.Contains(c) {
		return true
	}
	t0, t1 := 0.0, 1.0
	dx, dy := c[0]-a[0], c[1]-a[1]
	clip := func(p, q float64) bool {
		if p == 0 {
			return q >= 0
		}
		r := q / p
		if p < 0 {
			if r > t1 {
				return false
			}
			if r > t0 {
				t0 = r
			}
		} else {
			if r < t0 {
				return false
			}
			if r < t1 {
				t1 = r
			}
		}
		return true
	}
	return clip(-dx, a[0]-b.Min[0]) &&
		clip(dx, b.Max[0]-a[0]) &&
		clip(-dy, a[1]-b.Min[1]) &&
		clip(dy, b.Max[1]-a[1]) &&
		t0 <= t1
}
