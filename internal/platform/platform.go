// Package platform abstracts the host environment the engine runs in:
// frame scheduling, viewport resize notifications and connectivity
// changes. The engine receives a Context at construction and detaches on
// teardown instead of touching process-wide state.
package platform

import "time"

// FrameHandle cancels a frame request that has not fired yet. Cancel is
// idempotent.
type FrameHandle interface {
	Cancel()
}

// FrameSource schedules callbacks at the platform's next paint
// opportunity. The callback is invoked exactly once, asynchronously with
// respect to the requesting call, unless the handle is canceled first.
type FrameSource interface {
	RequestFrame(fn func(now time.Time)) FrameHandle
}

// Context is the full platform capability handed to the engine.
type Context interface {
	FrameSource

	// NotifyResize registers fn for viewport size changes. The returned
	// function removes the registration.
	NotifyResize(fn func(width, height int)) (cancel func())

	// NotifyConnectivity registers fn for online/offline transitions.
	// The returned function removes the registration.
	NotifyConnectivity(fn func(online bool)) (cancel func())

	// SurfaceSize returns the current drawable size in pixels.
	SurfaceSize() (width, height int)
}
