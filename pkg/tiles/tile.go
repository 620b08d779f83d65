// Package tiles provides slippy-map tile arithmetic shared by the raster
// and vector source caches.
package tiles

import (
	"fmt"
	"math"

	"maprender/pkg/geo"
)

// Coord identifies a tile in the z/x/y slippy-map scheme.
type Coord struct {
	X int
	Y int
	Z int
}

func (c Coord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// URL formats a tile URL from a template with %d placeholders in
// z, x, y order.
func (c Coord) URL(template string) string {
	return fmt.Sprintf(template, c.Z, c.X, c.Y)
}

// Valid reports whether the coordinate addresses an existing tile at its
// zoom level.
func (c Coord) Valid() bool {
	max := 1<<uint(c.Z) - 1
	return c.Z >= 0 && c.X >= 0 && c.X <= max && c.Y >= 0 && c.Y <= max
}

// FromLngLat returns the tile containing the given point at a zoom level.
func FromLngLat(p geo.LngLat, zoom int) Coord {
	n := math.Pow(2, float64(zoom))
	x := int((p.Lng + 180) / 360 * n)
	latRad := p.Lat * math.Pi / 180
	y := int((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n)

	max := int(n) - 1
	return Coord{
		X: clampInt(x, 0, max),
		Y: clampInt(y, 0, max),
		Z: zoom,
	}
}

// NorthWest returns the geographic position of the tile's top-left corner.
func (c Coord) NorthWest() geo.LngLat {
	n := math.Pow(2, float64(c.Z))
	lng := float64(c.X)/n*360 - 180
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(c.Y)/n)))
	return geo.LngLat{Lng: lng, Lat: latRad * 180 / math.Pi}
}

// Parent returns the covering tile one zoom level up. The zoom-zero tile
// is its own parent.
func (c Coord) Parent() Coord {
	if c.Z == 0 {
		return c
	}
	return Coord{X: c.X / 2, Y: c.Y / 2, Z: c.Z - 1}
}

// Neighbors returns the existing horizontally and vertically adjacent
// tiles, nearest-first: east, west, south, north.
func (c Coord) Neighbors() []Coord {
	candidates := []Coord{
		{X: c.X + 1, Y: c.Y, Z: c.Z},
		{X: c.X - 1, Y: c.Y, Z: c.Z},
		{X: c.X, Y: c.Y + 1, Z: c.Z},
		{X: c.X, Y: c.Y - 1, Z: c.Z},
	}
	out := make([]Coord, 0, 4)
	for _, n := range candidates {
		if n.Valid() {
			out = append(out, n)
		}
	}
	return out
}

// Cover returns the tiles needed to cover a viewport of the given pixel
// size centered on center, with a one-tile margin on every side.
func Cover(center geo.LngLat, zoom, width, height, tileSize int) []Coord {
	if tileSize <= 0 {
		tileSize = 256
	}
	ct := FromLngLat(center, zoom)

	halfX := width/tileSize/2 + 1
	halfY := height/tileSize/2 + 1
	max := 1<<uint(zoom) - 1

	out := make([]Coord, 0, (2*halfX+1)*(2*halfY+1))
	for dy := -halfY; dy <= halfY; dy++ {
		for dx := -halfX; dx <= halfX; dx++ {
			c := Coord{X: ct.X + dx, Y: ct.Y + dy, Z: zoom}
			if c.X >= 0 && c.X <= max && c.Y >= 0 && c.Y <= max {
				out = append(out, c)
			}
		}
	}
	return out
}

// PrefetchCover returns a wider tile set around the viewport, including a
// reduced ring at the adjacent zoom levels, for warming caches ahead of
// panning and zooming.
func PrefetchCover(center geo.LngLat, zoom, minZoom, maxZoom, width, height, tileSize int) []Coord {
	out := Cover(center, zoom, width*2, height*2, tileSize)
	for _, adj := range []int{zoom - 1, zoom + 1} {
		if adj < minZoom || adj > maxZoom {
			continue
		}
		out = append(out, Cover(center, adj, width, height, tileSize)...)
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
