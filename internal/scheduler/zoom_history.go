package scheduler

import (
	"math"
	"time"
)

// zoomHistory tracks integer-zoom crossings so zoom-dependent layer
// representations can cross-fade over the configured fade duration.
type zoomHistory struct {
	init                bool
	lastZoom            float64
	lastIntegerZoom     float64
	lastIntegerZoomTime time.Time // zero until the first crossing
}

func (h *zoomHistory) update(z float64, now time.Time) {
	if !h.init {
		h.init = true
		h.lastZoom = z
		h.lastIntegerZoom = math.Floor(z)
		return
	}
	if math.Floor(z) != math.Floor(h.lastZoom) {
		h.lastIntegerZoom = math.Floor(h.lastZoom)
		h.lastIntegerZoomTime = now
	}
	h.lastZoom = z
}

// crossFadingFactor returns the interpolation progress in [0, 1] since the
// last integer-zoom crossing. 1 means no transition is in flight.
func (h *zoomHistory) crossFadingFactor(now time.Time, fade time.Duration) float64 {
	if fade <= 0 || h.lastIntegerZoomTime.IsZero() {
		return 1
	}
	elapsed := now.Sub(h.lastIntegerZoomTime)
	if elapsed >= fade {
		return 1
	}
	if elapsed < 0 {
		return 0
	}
	return float64(elapsed) / float64(fade)
}
