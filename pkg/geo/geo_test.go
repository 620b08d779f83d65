package geo

import (
	"errors"
	"math"
	"testing"
)

func TestNewLngLat(t *testing.T) {
	tests := []struct {
		name    string
		lng     float64
		lat     float64
		wantErr bool
	}{
		{"valid", 4.9041, 52.3676, false},
		{"lat at north limit", 0, 90, false},
		{"lat at south limit", 0, -90, false},
		{"lng beyond antimeridian is allowed", 200, 10, false},
		{"lat beyond limit", 10, 95, true},
		{"lat below limit", 10, -95, true},
		{"NaN lng", math.NaN(), 10, true},
		{"NaN lat", 10, math.NaN(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLngLat(tt.lng, tt.lat)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLngLat(%v, %v) error = %v, wantErr %v", tt.lng, tt.lat, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidCoordinate) {
				t.Errorf("error %v is not ErrInvalidCoordinate", err)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name string
		lng  float64
		want float64
	}{
		{"in range", -160, -160},
		{"beyond east", 200, -160},
		{"beyond west", -200, 160},
		{"exactly 180", 180, -180},
		{"exactly -180", -180, -180},
		{"full turn", 370, 10},
		{"several turns", 360*3 + 5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LngLat{Lng: tt.lng, Lat: 10}.Wrap()
			if math.Abs(got.Lng-tt.want) > 1e-9 {
				t.Errorf("Wrap() lng = %v, want %v", got.Lng, tt.want)
			}
			if got.Lng < -180 || got.Lng >= 180 {
				t.Errorf("Wrap() lng = %v outside [-180, 180)", got.Lng)
			}
			if got.Lat != 10 {
				t.Errorf("Wrap() changed lat to %v", got.Lat)
			}
		})
	}
}

func TestToBounds(t *testing.T) {
	center := LngLat{Lng: 4.9, Lat: 52.37}
	b := center.ToBounds(1000)

	if b.Empty() {
		t.Fatal("ToBounds returned empty bounds")
	}
	if !b.Contains(center) {
		t.Error("bounds do not contain their center")
	}
	// The latitude span of a 1km square is ~0.018 degrees.
	latSpan := b.North() - b.South()
	if math.Abs(latSpan-2*360*1000/EarthCircumference) > 1e-12 {
		t.Errorf("latitude span = %v", latSpan)
	}
	// Longitude span must be wider than the latitude span away from the equator.
	if b.East()-b.West() <= latSpan {
		t.Errorf("longitude span %v not wider than latitude span %v at lat 52",
			b.East()-b.West(), latSpan)
	}
}

func TestBoundsExtend(t *testing.T) {
	var b Bounds
	if !b.Empty() {
		t.Fatal("zero-value bounds not empty")
	}

	b.Extend(LngLat{Lng: 4, Lat: 52})
	if b.Empty() {
		t.Fatal("bounds empty after Extend")
	}
	if b.SouthWest() != (LngLat{Lng: 4, Lat: 52}) || b.NorthEast() != (LngLat{Lng: 4, Lat: 52}) {
		t.Errorf("single-point bounds = %v", b)
	}

	b.Extend(LngLat{Lng: 5, Lat: 51})
	b.Extend(LngLat{Lng: 3, Lat: 53})

	if b.West() != 3 || b.East() != 5 || b.South() != 51 || b.North() != 53 {
		t.Errorf("extended bounds = %v", b)
	}
	if got := b.Center(); got != (LngLat{Lng: 4, Lat: 52}) {
		t.Errorf("Center() = %v", got)
	}
}

func TestDistanceTo(t *testing.T) {
	// Amsterdam to Utrecht is roughly 35 km.
	ams := LngLat{Lng: 4.9041, Lat: 52.3676}
	utr := LngLat{Lng: 5.1214, Lat: 52.0907}
	d := ams.DistanceTo(utr)
	if d < 30000 || d > 40000 {
		t.Errorf("DistanceTo = %v, want roughly 35km", d)
	}
	if ams.DistanceTo(ams) != 0 {
		t.Errorf("distance to self = %v", ams.DistanceTo(ams))
	}
}
