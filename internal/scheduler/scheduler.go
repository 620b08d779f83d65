// Package scheduler coalesces style, source and placement mutations into
// frame-paced redraws. Any number of synchronous mutation calls raise
// dirty flags on the Scheduler; at most one platform frame is pending at
// a time, and each frame reconciles exactly the categories that changed.
package scheduler

import (
	"time"

	"maprender/internal/camera"
	"maprender/internal/event"
	"maprender/internal/platform"
)

// DefaultFadeDuration is the symbol/raster cross-fade length.
const DefaultFadeDuration = 300 * time.Millisecond

// EvaluationParams is handed to the style when cascaded values are
// recomputed for the current zoom.
type EvaluationParams struct {
	Zoom              float64
	Now               time.Time
	FadeDuration      time.Duration
	CrossFadingFactor float64
}

// Style is the style collaborator re-evaluated during a render tick.
type Style interface {
	// Update recomputes cascaded paint/layout values.
	Update(params EvaluationParams)

	// UpdateSources reconciles source caches against the transform. Tile
	// fetches started here complete asynchronously and re-enter through
	// RequestUpdate, never through the running frame.
	UpdateSources(tr *camera.Transform)

	// UpdatePlacement repositions symbols against the transform and
	// reports whether placement needs another frame (animations).
	UpdatePlacement(tr *camera.Transform, fadeDuration time.Duration, crossSourceCollisions bool) bool

	// HasTransitions reports whether property transitions are running.
	HasTransitions() bool

	// Loaded reports whether the style and its sources are fully loaded.
	Loaded() bool
}

// RenderFlags are read-only hints passed to the painter; nothing is
// recomputed from them during the draw.
type RenderFlags struct {
	ShowTileBoundaries bool
	Rotating           bool
	Zooming            bool
	Moving             bool
}

// Painter draws a prepared style. Render is synchronous and runs once per
// tick.
type Painter interface {
	Resize(width, height int)
	Render(style Style, flags RenderFlags) error
}

// Emitter receives the scheduler's lifecycle events (render, load, error).
type Emitter interface {
	Fire(event.Event)
}

// Scheduler owns the dirty flags, the frame task queue and the pending
// frame handle. It is confined to the engine's scheduling goroutine;
// asynchronous completions must call RequestUpdate from a queued task or
// an externally synchronized context.
type Scheduler struct {
	frames    platform.FrameSource
	queue     *TaskQueue
	transform *camera.Transform
	events    Emitter

	style   Style
	painter Painter

	styleDirty     bool
	sourcesDirty   bool
	placementDirty bool

	crossFading       bool
	crossFadingFactor float64
	history           zoomHistory

	// frameHandle is non-nil iff a platform frame is scheduled.
	frameHandle platform.FrameHandle

	fadeDuration          time.Duration
	crossSourceCollisions bool
	flags                 RenderFlags
	repaint               bool

	loadFired bool
	removed   bool
}

// New returns a scheduler in the Idle state.
func New(frames platform.FrameSource, tr *camera.Transform, events Emitter) *Scheduler {
	return &Scheduler{
		frames:                frames,
		queue:                 NewTaskQueue(),
		transform:             tr,
		events:                events,
		crossFadingFactor:     1,
		fadeDuration:          DefaultFadeDuration,
		crossSourceCollisions: true,
	}
}

// Queue returns the frame task queue.
func (s *Scheduler) Queue() *TaskQueue { return s.queue }

// Transform returns the viewport transform frames reconcile against.
func (s *Scheduler) Transform() *camera.Transform { return s.transform }

// SetStyle swaps the style collaborator. Passing nil detaches it.
func (s *Scheduler) SetStyle(st Style) { s.style = st }

// SetPainter installs the painter invoked each tick.
func (s *Scheduler) SetPainter(p Painter) { s.painter = p }

// RequestUpdate records that sources changed — and the style too when
// styleChanged is set — and schedules a frame if none is pending. Safe to
// call reentrantly from inside a render tick.
func (s *Scheduler) RequestUpdate(styleChanged bool) {
	if s.removed {
		return
	}
	s.sourcesDirty = true
	if styleChanged {
		s.styleDirty = true
	}
	s.scheduleFrame()
}

// FrameScheduled reports whether a platform frame is pending.
func (s *Scheduler) FrameScheduled() bool { return s.frameHandle != nil }

// CrossFadingFactor returns the interpolation progress of the current
// zoom transition, 1 when none is running.
func (s *Scheduler) CrossFadingFactor() float64 { return s.crossFadingFactor }

// Loaded reports whether no reconciliation is outstanding and the style
// is fully loaded.
func (s *Scheduler) Loaded() bool {
	return !s.styleDirty && !s.sourcesDirty && s.style != nil && s.style.Loaded()
}

func (s *Scheduler) scheduleFrame() {
	if s.frameHandle != nil || s.removed {
		return
	}
	s.frameHandle = s.frames.RequestFrame(s.renderFrame)
}

// renderFrame is the tick body. Pipeline order is fixed: tasks, style,
// sources, placement, draw, events, reschedule.
func (s *Scheduler) renderFrame(now time.Time) {
	if s.removed {
		return
	}
	// Clear the handle before the tick body runs so a mutation made
	// synchronously during rendering immediately schedules a fresh frame.
	s.frameHandle = nil

	s.queue.Run()

	// Flags raised from here on — reentrant RequestUpdate calls out of
	// style or painter callbacks — belong to the next frame.
	styleDirty, sourcesDirty := s.styleDirty, s.sourcesDirty
	s.styleDirty, s.sourcesDirty = false, false

	s.crossFading = false
	if styleDirty {
		if s.style != nil {
			z := s.transform.Zoom()
			s.history.update(z, now)
			s.crossFadingFactor = s.history.crossFadingFactor(now, s.fadeDuration)
			if s.crossFadingFactor != 1 {
				s.crossFading = true
			}
			s.style.Update(EvaluationParams{
				Zoom:              z,
				Now:               now,
				FadeDuration:      s.fadeDuration,
				CrossFadingFactor: s.crossFadingFactor,
			})
		}
	}

	if sourcesDirty {
		if s.style != nil {
			s.style.UpdateSources(s.transform)
		}
	}

	if s.style != nil {
		s.placementDirty = s.style.UpdatePlacement(s.transform, s.fadeDuration, s.crossSourceCollisions)
	} else {
		s.placementDirty = false
	}

	if s.painter != nil && s.style != nil {
		if err := s.painter.Render(s.style, s.flags); err != nil {
			s.events.Fire(event.Event{Type: "error", Error: err})
		}
	}

	s.events.Fire(event.Event{Type: "render"})

	if !s.loadFired && s.Loaded() {
		s.loadFired = true
		s.events.Fire(event.Event{Type: "load"})
	}

	if s.style != nil && (s.style.HasTransitions() || s.crossFading) {
		s.styleDirty = true
	}

	if s.styleDirty || s.sourcesDirty || s.placementDirty || s.repaint {
		s.scheduleFrame()
	}
}

// ContextLost cancels the pending frame without running it. Dirty flags
// survive; the next ContextRestored or RequestUpdate picks them up.
func (s *Scheduler) ContextLost() {
	if s.removed {
		return
	}
	if s.frameHandle != nil {
		s.frameHandle.Cancel()
		s.frameHandle = nil
	}
}

// ContextRestored unconditionally requests a full update after the draw
// surface came back.
func (s *Scheduler) ContextRestored() {
	if s.removed {
		return
	}
	s.RequestUpdate(true)
}

// Remove tears the scheduler down. Subsequent calls on the instance are
// no-ops.
func (s *Scheduler) Remove() {
	if s.removed {
		return
	}
	s.removed = true
	if s.frameHandle != nil {
		s.frameHandle.Cancel()
		s.frameHandle = nil
	}
	s.queue.Clear()
	s.style = nil
	s.painter = nil
}

// SetShowTileBoundaries toggles the tile boundary debug overlay.
func (s *Scheduler) SetShowTileBoundaries(v bool) {
	if s.flags.ShowTileBoundaries == v {
		return
	}
	s.flags.ShowTileBoundaries = v
	s.RequestUpdate(false)
}

// SetRepaint toggles continuous repainting for debugging.
func (s *Scheduler) SetRepaint(v bool) {
	if s.repaint == v {
		return
	}
	s.repaint = v
	if v {
		s.RequestUpdate(true)
	}
}

// SetFadeDuration configures the cross-fade length.
func (s *Scheduler) SetFadeDuration(d time.Duration) { s.fadeDuration = d }

// SetCrossSourceCollisions toggles symbol collision detection across
// sources during placement.
func (s *Scheduler) SetCrossSourceCollisions(v bool) {
	if s.crossSourceCollisions == v {
		return
	}
	s.crossSourceCollisions = v
	s.RequestUpdate(false)
}

// SetMoving flags an in-flight camera move for the painter.
func (s *Scheduler) SetMoving(v bool) { s.flags.Moving = v }

// SetRotating flags an in-flight rotation for the painter.
func (s *Scheduler) SetRotating(v bool) { s.flags.Rotating = v }

// SetZooming flags an in-flight zoom for the painter.
func (s *Scheduler) SetZooming(v bool) { s.flags.Zooming = v }
