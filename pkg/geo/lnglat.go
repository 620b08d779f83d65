// Package geo provides the geographic value types used by the map engine:
// a longitude/latitude coordinate and an axis-aligned bounding box.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// EarthRadius is the mean earth radius in meters.
const EarthRadius = 6371008.8

// EarthCircumference is the equatorial circumference in meters.
const EarthCircumference = 2 * math.Pi * EarthRadius

// ErrInvalidCoordinate reports a coordinate that is NaN or outside the
// valid latitude range.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// LngLat is a geographic coordinate in degrees (WGS 84).
// Operations return new values; a LngLat is never mutated in place.
type LngLat struct {
	Lng float64
	Lat float64
}

// NewLngLat validates and returns a coordinate. Either field being NaN or
// a latitude outside [-90, 90] yields ErrInvalidCoordinate.
func NewLngLat(lng, lat float64) (LngLat, error) {
	if math.IsNaN(lng) || math.IsNaN(lat) {
		return LngLat{}, fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, lng, lat)
	}
	if lat < -90 || lat > 90 {
		return LngLat{}, fmt.Errorf("%w: latitude %v must be within [-90, 90]", ErrInvalidCoordinate, lat)
	}
	return LngLat{Lng: lng, Lat: lat}, nil
}

// Wrap returns a copy with the longitude normalized into [-180, 180).
// Latitude is untouched.
func (l LngLat) Wrap() LngLat {
	lng := math.Mod(l.Lng+180, 360)
	if lng < 0 {
		lng += 360
	}
	return LngLat{Lng: lng - 180, Lat: l.Lat}
}

// DistanceTo returns the great-circle distance to other in meters.
func (l LngLat) DistanceTo(other LngLat) float64 {
	lat1 := l.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (other.Lng - l.Lng) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return EarthRadius * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// ToBounds returns a bounding box approximating a square of the given
// radius in meters centered on l. Uses a flat-earth approximation that
// degenerates near the poles (the longitude span blows up as cos(lat)
// approaches zero); callers must not rely on it above ~85° latitude.
func (l LngLat) ToBounds(radiusMeters float64) Bounds {
	latDelta := 360 * radiusMeters / EarthCircumference
	lngDelta := latDelta / math.Cos(l.Lat*math.Pi/180)
	return NewBounds(
		LngLat{Lng: l.Lng - lngDelta, Lat: l.Lat - latDelta},
		LngLat{Lng: l.Lng + lngDelta, Lat: l.Lat + latDelta},
	)
}

// Point converts to an orb.Point (lng, lat order).
func (l LngLat) Point() orb.Point {
	return orb.Point{l.Lng, l.Lat}
}

// FromPoint converts an orb.Point (lng, lat order) to a LngLat.
func FromPoint(p orb.Point) LngLat {
	return LngLat{Lng: p[0], Lat: p[1]}
}

func (l LngLat) String() string {
	return fmt.Sprintf("LngLat(%g, %g)", l.Lng, l.Lat)
}
