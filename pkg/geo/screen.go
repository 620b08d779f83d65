package geo

import "math"

// ScreenPoint is a position in viewport pixels, origin at the top-left
// corner, y growing downward.
type ScreenPoint struct {
	X, Y float64
}

// Add returns the vector sum of two points.
func (p ScreenPoint) Add(q ScreenPoint) ScreenPoint {
	return ScreenPoint{X: p.X + q.X, Y: p.Y + q.Y}
}

// Sub returns the vector difference of two points.
func (p ScreenPoint) Sub(q ScreenPoint) ScreenPoint {
	return ScreenPoint{X: p.X - q.X, Y: p.Y - q.Y}
}

// Rotate returns the point rotated by angle radians around the origin.
func (p ScreenPoint) Rotate(angle float64) ScreenPoint {
	cos := math.Cos(angle)
	sin := math.Sin(angle)
	return ScreenPoint{
		X: p.X*cos - p.Y*sin,
		Y: p.X*sin + p.Y*cos,
	}
}

// Dist returns the distance between two points.
func (p ScreenPoint) Dist(q ScreenPoint) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}
