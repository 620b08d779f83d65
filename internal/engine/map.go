// Package engine assembles the map: the viewport transform, the render
// scheduler, the interaction dispatcher and the active style, behind the
// public mutation and event surface. One Map instance owns its
// collaborators for its whole lifetime and is confined to the platform's
// frame goroutine.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"

	"maprender/internal/camera"
	"maprender/internal/event"
	"maprender/internal/interaction"
	"maprender/internal/logx"
	"maprender/internal/platform"
	"maprender/internal/scheduler"
	"maprender/internal/style"
	"maprender/pkg/geo"
)

// Re-exported sentinels so callers match errors without importing the
// internal packages they originate from.
var (
	ErrInvalidCoordinate    = geo.ErrInvalidCoordinate
	ErrInvalidConfiguration = camera.ErrInvalidConfiguration
	ErrMissingResource      = style.ErrMissingResource
	ErrInvalidDocument      = style.ErrInvalidDocument
)

// Options configures a new Map. Platform is required; everything else
// has usable defaults.
type Options struct {
	Platform platform.Context
	Painter  scheduler.Painter

	// SourceFactory builds runtime sources for style documents. Nil
	// supports inline geojson sources only.
	SourceFactory style.SourceFactory

	// Style is the initial style document, optional.
	Style *style.Document

	Camera            camera.Options
	MinZoom, MaxZoom  *float64
	MaxBounds         *geo.Bounds
	RenderWorldCopies bool

	FadeDuration          time.Duration
	CrossSourceCollisions *bool
}

// Map is the engine facade.
type Map struct {
	events  event.Evented
	host    platform.Context
	tr      *camera.Transform
	sched   *scheduler.Scheduler
	disp    *interaction.Dispatcher
	painter scheduler.Painter

	style   *style.Style
	factory style.SourceFactory

	cancelResize       func()
	cancelConnectivity func()

	movePending bool
	diffWarned  bool
	removed     bool
}

// New builds a map over the given platform. Structurally invalid options
// fail here; nothing asynchronous has started yet.
func New(opts Options) (*Map, error) {
	if opts.Platform == nil {
		return nil, fmt.Errorf("%w: no platform context", ErrInvalidConfiguration)
	}

	m := &Map{
		host:    opts.Platform,
		tr:      camera.New(),
		painter: opts.Painter,
		factory: opts.SourceFactory,
	}
	w, h := opts.Platform.SurfaceSize()
	m.tr.Resize(w, h)
	m.tr.SetRenderWorldCopies(opts.RenderWorldCopies)

	if opts.MinZoom != nil {
		if err := m.tr.SetMinZoom(*opts.MinZoom); err != nil {
			return nil, err
		}
	}
	if opts.MaxZoom != nil {
		if err := m.tr.SetMaxZoom(*opts.MaxZoom); err != nil {
			return nil, err
		}
	}
	if opts.MaxBounds != nil {
		if err := validateBounds(*opts.MaxBounds); err != nil {
			return nil, err
		}
		m.tr.SetMaxBounds(*opts.MaxBounds)
	}
	m.tr.JumpTo(opts.Camera)

	m.sched = scheduler.New(opts.Platform, m.tr, &m.events)
	m.sched.SetPainter(opts.Painter)
	if opts.FadeDuration > 0 {
		m.sched.SetFadeDuration(opts.FadeDuration)
	}
	if opts.CrossSourceCollisions != nil {
		m.sched.SetCrossSourceCollisions(*opts.CrossSourceCollisions)
	}
	m.disp = interaction.New(m)

	m.cancelResize = opts.Platform.NotifyResize(m.Resize)
	m.cancelConnectivity = opts.Platform.NotifyConnectivity(m.connectivityChanged)
	m.events.On("render", m.afterRender)

	if opts.Style != nil {
		if err := m.SetStyle(opts.Style); err != nil {
			m.Remove()
			return nil, err
		}
	}
	m.sched.RequestUpdate(true)
	return m, nil
}

func validateBounds(b geo.Bounds) error {
	if b.Empty() {
		return nil
	}
	if b.South() < -90 || b.North() > 90 || b.South() > b.North() {
		return fmt.Errorf("%w: malformed max bounds", ErrInvalidConfiguration)
	}
	return nil
}

// Transform exposes the live camera state, read-only by convention.
func (m *Map) Transform() *camera.Transform { return m.tr }

// SetPainter installs or swaps the painter invoked each frame. Hosts that
// need the transform to build their painter attach it here after New.
func (m *Map) SetPainter(p scheduler.Painter) {
	if m.removed {
		return
	}
	m.painter = p
	m.sched.SetPainter(p)
	m.sched.RequestUpdate(false)
}

// Style returns the active style, or nil.
func (m *Map) Style() *style.Style { return m.style }

// Loaded reports whether all pending reconciliation and source loading
// has finished.
func (m *Map) Loaded() bool { return m.sched.Loaded() }

// --- Events ---

// On registers a listener. Pointer/touch types go to the interaction
// stream, everything else to the map lifecycle bus.
func (m *Map) On(typ string, fn event.Listener) {
	if interaction.IsPointerType(typ) {
		m.disp.On(typ, fn)
		return
	}
	m.events.On(typ, fn)
}

// Once registers a listener for a single lifecycle event.
func (m *Map) Once(typ string, fn event.Listener) {
	m.events.Once(typ, fn)
}

// Off removes a listener registered with On.
func (m *Map) Off(typ string, fn event.Listener) {
	if interaction.IsPointerType(typ) {
		m.disp.Off(typ, fn)
		return
	}
	m.events.Off(typ, fn)
}

// OnLayer registers a layer-delegated pointer listener. The returned
// cancel removes exactly this registration; OffLayer matches by the
// (type, layer, listener) triple instead.
func (m *Map) OnLayer(typ, layerID string, fn event.Listener) func() {
	return m.disp.OnLayer(typ, layerID, fn)
}

// OffLayer removes a layer-delegated listener and its derived
// subscriptions.
func (m *Map) OffLayer(typ, layerID string, fn event.Listener) {
	m.disp.OffLayer(typ, layerID, fn)
}

// HandlePointer feeds one raw pointer/touch event from the host into the
// dispatcher, annotated with the geographic position under the cursor.
func (m *Map) HandlePointer(typ string, p geo.ScreenPoint) {
	if m.removed {
		return
	}
	m.disp.Dispatch(event.Event{
		Type:   typ,
		Target: m,
		Point:  p,
		LngLat: m.tr.Unproject(p),
	})
}

// afterRender turns the first render after a camera mutation into the
// moveend signal.
func (m *Map) afterRender(event.Event) {
	if m.movePending {
		m.movePending = false
		m.events.Fire(event.Event{Type: "moveend", Target: m})
	}
}

func (m *Map) cameraChanged() {
	m.movePending = true
	m.events.Fire(event.Event{Type: "move", Target: m})
	m.sched.RequestUpdate(false)
}

// --- Camera surface ---

func (m *Map) SetCenter(c geo.LngLat) {
	m.tr.SetCenter(c)
	m.cameraChanged()
}

func (m *Map) SetZoom(z float64) {
	m.tr.SetZoom(z)
	m.cameraChanged()
}

func (m *Map) SetBearing(b float64) {
	m.tr.SetBearing(b)
	m.cameraChanged()
}

func (m *Map) SetPitch(p float64) {
	m.tr.SetPitch(p)
	m.cameraChanged()
}

// PanBy shifts the viewport by a screen-space delta.
func (m *Map) PanBy(dx, dy float64) {
	m.tr.Pan(dx, dy)
	m.cameraChanged()
}

// ZoomAround changes zoom while keeping the given screen point anchored.
func (m *Map) ZoomAround(zoom float64, anchor geo.ScreenPoint) {
	m.tr.ZoomAround(zoom, anchor)
	m.cameraChanged()
}

// JumpTo applies a partial set of camera parameters at once.
func (m *Map) JumpTo(o camera.Options) {
	m.tr.JumpTo(o)
	m.cameraChanged()
}

func (m *Map) SetMinZoom(z float64) error {
	if err := m.tr.SetMinZoom(z); err != nil {
		return err
	}
	m.cameraChanged()
	return nil
}

func (m *Map) SetMaxZoom(z float64) error {
	if err := m.tr.SetMaxZoom(z); err != nil {
		return err
	}
	m.cameraChanged()
	return nil
}

// SetMaxBounds constrains the camera to the given area. A nil bounds
// removes the constraint. Malformed bounds fail synchronously.
func (m *Map) SetMaxBounds(b *geo.Bounds) error {
	if b == nil {
		m.tr.SetMaxBounds(geo.Bounds{})
		m.cameraChanged()
		return nil
	}
	if err := validateBounds(*b); err != nil {
		return err
	}
	m.tr.SetMaxBounds(*b)
	m.cameraChanged()
	return nil
}

// --- Style surface ---

// SetStyle installs a style document. With a style already active the
// change is applied as an in-place diff when possible; diff failure
// degrades to a full rebuild. A nil document tears the style down.
func (m *Map) SetStyle(doc *style.Document) error {
	if m.removed {
		return nil
	}
	if doc == nil {
		if m.style != nil {
			m.style.Release()
			m.style = nil
			m.sched.SetStyle(nil)
		}
		return nil
	}

	if m.style != nil {
		changed, err := m.style.SetState(doc)
		if err == nil {
			if changed {
				m.sched.RequestUpdate(true)
			}
			return nil
		}
		if !m.diffWarned {
			m.diffWarned = true
			logx.Logger().Warn("style diff failed, rebuilding", "error", err)
		}
	}

	st, err := style.New(doc, m.factory, m.invalidate)
	if err != nil {
		return err
	}
	if m.style != nil {
		m.style.Release()
	}
	m.style = st
	m.sched.SetStyle(st)
	m.sched.RequestUpdate(true)
	return nil
}

// invalidate is handed to sources; async completions land on the frame
// goroutine before touching the scheduler.
func (m *Map) invalidate() {
	m.host.RequestFrame(func(time.Time) {
		m.sched.RequestUpdate(false)
	})
}

// styleMutation implements the shared error policy of the mutation
// surface: structural errors are returned synchronously, unknown-id
// errors are deferred to the error event, success schedules a frame.
func (m *Map) styleMutation(err error) error {
	switch {
	case err == nil:
		m.sched.RequestUpdate(true)
		return nil
	case errors.Is(err, style.ErrMissingResource):
		m.asyncError(err)
		return nil
	default:
		return err
	}
}

// asyncError defers an error to the next frame's task batch so the
// current call returns before listeners observe it.
func (m *Map) asyncError(err error) {
	m.sched.Queue().Add(func() {
		m.events.Fire(event.Event{Type: "error", Target: m, Error: err})
	})
	m.sched.RequestUpdate(false)
}

func (m *Map) noStyle() error {
	return fmt.Errorf("%w: no style loaded", ErrMissingResource)
}

func (m *Map) AddSource(id string, spec *style.SourceSpec) error {
	if m.style == nil {
		m.asyncError(m.noStyle())
		return nil
	}
	return m.styleMutation(m.style.AddSource(id, spec))
}

func (m *Map) RemoveSource(id string) error {
	if m.style == nil {
		m.asyncError(m.noStyle())
		return nil
	}
	return m.styleMutation(m.style.RemoveSource(id))
}

func (m *Map) AddLayer(spec *style.LayerSpec, before string) error {
	if m.style == nil {
		m.asyncError(m.noStyle())
		return nil
	}
	return m.styleMutation(m.style.AddLayer(spec, before))
}

func (m *Map) MoveLayer(id, before string) error {
	if m.style == nil {
		m.asyncError(m.noStyle())
		return nil
	}
	return m.styleMutation(m.style.MoveLayer(id, before))
}

func (m *Map) RemoveLayer(id string) error {
	if m.style == nil {
		m.asyncError(m.noStyle())
		return nil
	}
	return m.styleMutation(m.style.RemoveLayer(id))
}

func (m *Map) SetFilter(layerID string, filter []byte) error {
	if m.style == nil {
		m.asyncError(m.noStyle())
		return nil
	}
	return m.styleMutation(m.style.SetFilter(layerID, filter))
}

func (m *Map) SetPaintProperty(layerID, key string, value any) error {
	if m.style == nil {
		m.asyncError(m.noStyle())
		return nil
	}
	return m.styleMutation(m.style.SetPaintProperty(layerID, key, value))
}

func (m *Map) SetLayoutProperty(layerID, key string, value any) error {
	if m.style == nil {
		m.asyncError(m.noStyle())
		return nil
	}
	return m.styleMutation(m.style.SetLayoutProperty(layerID, key, value))
}

func (m *Map) SetFeatureState(sourceID, featureID string, state map[string]any) error {
	if m.style == nil {
		m.asyncError(m.noStyle())
		return nil
	}
	return m.styleMutation(m.style.SetFeatureState(sourceID, featureID, state))
}

func (m *Map) RemoveFeatureState(sourceID, featureID, key string) error {
	if m.style == nil {
		m.asyncError(m.noStyle())
		return nil
	}
	return m.styleMutation(m.style.RemoveFeatureState(sourceID, featureID, key))
}

func (m *Map) SetLight(light style.LightSpec) {
	if m.style == nil {
		m.asyncError(m.noStyle())
		return
	}
	m.style.SetLight(light)
	m.sched.RequestUpdate(true)
}

// --- Queries ---

// QueryRenderedFeatures hit-tests the visible features. points may be a
// single point, two box corners, or empty for the whole viewport.
func (m *Map) QueryRenderedFeatures(points []geo.ScreenPoint, opts style.QueryOptions) []*geojson.Feature {
	if m.style == nil {
		return nil
	}
	q := style.NewQueryGeometry(points, m.tr)
	return m.style.QueryRenderedFeatures(q, opts, m.tr)
}

// QueryPoint satisfies the dispatcher's hit-test dependency.
func (m *Map) QueryPoint(p geo.ScreenPoint, layerID string) []*geojson.Feature {
	return m.QueryRenderedFeatures([]geo.ScreenPoint{p}, style.QueryOptions{Layers: []string{layerID}})
}

// --- Host signals ---

// Resize propagates a new drawable size through the transform and the
// painter.
func (m *Map) Resize(width, height int) {
	if m.removed {
		return
	}
	m.tr.Resize(width, height)
	if m.painter != nil {
		m.painter.Resize(width, height)
	}
	m.events.Fire(event.Event{Type: "resize", Target: m})
	m.sched.RequestUpdate(false)
}

func (m *Map) connectivityChanged(online bool) {
	if m.removed {
		return
	}
	if online {
		// Sources retry failed fetches on the next reconciliation.
		m.sched.RequestUpdate(false)
	}
}

// ContextLost cancels in-flight frames after the draw surface went away.
func (m *Map) ContextLost() {
	if m.removed {
		return
	}
	m.sched.ContextLost()
	m.events.Fire(event.Event{Type: "contextlost", Target: m})
}

// ContextRestored requests a full update on a fresh draw surface.
func (m *Map) ContextRestored() {
	if m.removed {
		return
	}
	m.sched.ContextRestored()
	m.events.Fire(event.Event{Type: "contextrestored", Target: m})
}

// --- Debug flags ---

func (m *Map) SetShowTileBoundaries(v bool)    { m.sched.SetShowTileBoundaries(v) }
func (m *Map) SetRepaint(v bool)               { m.sched.SetRepaint(v) }
func (m *Map) SetFadeDuration(d time.Duration) { m.sched.SetFadeDuration(d) }
func (m *Map) SetCrossSourceCollisions(v bool) { m.sched.SetCrossSourceCollisions(v) }

// Remove tears the map down: pending frames are canceled, listeners and
// platform subscriptions detached, sources released. Idempotent; calls
// on a removed map are no-ops.
func (m *Map) Remove() {
	if m.removed {
		return
	}
	m.removed = true
	m.cancelResize()
	m.cancelConnectivity()
	m.sched.Remove()
	m.disp.Remove()
	if m.style != nil {
		m.style.Release()
		m.style = nil
	}
	m.events.Fire(event.Event{Type: "remove", Target: m})
	m.events.Clear()
}
