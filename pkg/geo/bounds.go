package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Bounds is a geographic rectangle spanned by a southwest and a northeast
// corner. The zero value is empty; fold points in with Extend.
type Bounds struct {
	sw, ne LngLat
	set    bool
}

// NewBounds returns the bounds spanned by the two corners. The corners may
// be given in any order; they are normalized to southwest/northeast.
func NewBounds(a, b LngLat) Bounds {
	var bo Bounds
	bo.Extend(a)
	bo.Extend(b)
	return bo
}

// Empty reports whether no point has been folded into the bounds yet.
func (b Bounds) Empty() bool { return !b.set }

// SouthWest returns the southwest corner. Undefined on empty bounds.
func (b Bounds) SouthWest() LngLat { return b.sw }

// NorthEast returns the northeast corner. Undefined on empty bounds.
func (b Bounds) NorthEast() LngLat { return b.ne }

// West returns the western longitude edge.
func (b Bounds) West() float64 { return b.sw.Lng }

// East returns the eastern longitude edge.
func (b Bounds) East() float64 { return b.ne.Lng }

// South returns the southern latitude edge.
func (b Bounds) South() float64 { return b.sw.Lat }

// North returns the northern latitude edge.
func (b Bounds) North() float64 { return b.ne.Lat }

// Center returns the midpoint of the rectangle.
func (b Bounds) Center() LngLat {
	return LngLat{
		Lng: (b.sw.Lng + b.ne.Lng) / 2,
		Lat: (b.sw.Lat + b.ne.Lat) / 2,
	}
}

// Extend grows the bounds to include p, keeping a running min/max.
func (b *Bounds) Extend(p LngLat) {
	if !b.set {
		b.sw, b.ne = p, p
		b.set = true
		return
	}
	b.sw.Lng = math.Min(b.sw.Lng, p.Lng)
	b.sw.Lat = math.Min(b.sw.Lat, p.Lat)
	b.ne.Lng = math.Max(b.ne.Lng, p.Lng)
	b.ne.Lat = math.Max(b.ne.Lat, p.Lat)
}

// Contains reports whether p lies inside or on the edge of the bounds.
func (b Bounds) Contains(p LngLat) bool {
	return b.set &&
		p.Lng >= b.sw.Lng && p.Lng <= b.ne.Lng &&
		p.Lat >= b.sw.Lat && p.Lat <= b.ne.Lat
}

// Bound converts to an orb.Bound.
func (b Bounds) Bound() orb.Bound {
	return orb.Bound{Min: b.sw.Point(), Max: b.ne.Point()}
}

func (b Bounds) String() string {
	return fmt.Sprintf("Bounds(%v, %v)", b.sw, b.ne)
}
