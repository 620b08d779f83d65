// Package interaction turns the raw pointer/touch stream into semantic
// map events: global subscriptions see every raw event, layer-delegated
// subscriptions fire only when a hit-test against their layer matches,
// and enter/leave pairs are synthesized from the move stream.
package interaction

import (
	"reflect"

	"github.com/paulmach/orb/geojson"

	"maprender/internal/event"
	"maprender/pkg/geo"
)

// Raw pointer/touch event types accepted by Dispatch.
const (
	MouseDown   = "mousedown"
	MouseUp     = "mouseup"
	Click       = "click"
	DblClick    = "dblclick"
	MouseMove   = "mousemove"
	MouseOut    = "mouseout"
	ContextMenu = "contextmenu"
	TouchStart  = "touchstart"
	TouchEnd    = "touchend"
	TouchMove   = "touchmove"
	TouchCancel = "touchcancel"
)

// Synthesized types available only with a layer scope.
const (
	MouseEnter = "mouseenter"
	MouseOver  = "mouseover"
	MouseLeave = "mouseleave"
)

var rawTypes = map[string]bool{
	MouseDown: true, MouseUp: true, Click: true, DblClick: true,
	MouseMove: true, MouseOut: true, ContextMenu: true,
	TouchStart: true, TouchEnd: true, TouchMove: true, TouchCancel: true,
}

// IsPointerType reports whether typ belongs to the pointer/touch stream
// handled by the dispatcher rather than the map lifecycle bus.
func IsPointerType(typ string) bool {
	return rawTypes[typ] || typ == MouseEnter || typ == MouseOver || typ == MouseLeave
}

// Querier hit-tests a screen point against one layer and returns the
// matching rendered features.
type Querier interface {
	QueryPoint(p geo.ScreenPoint, layerID string) []*geojson.Feature
}

// rawSub is one derived subscription on the raw bus, kept so teardown
// can remove exactly what registration added.
type rawSub struct {
	rawType string
	fn      event.Listener
	cancel  func()
}

type delegatedKey struct {
	eventType string
	layerID   string
	listener  uintptr
}

// registration groups the derived subscriptions created by one OnLayer
// call. Registrations under the same key form a stack: Go closures built
// from the same function literal share a code pointer, so the key alone
// cannot tell them apart, and each call must stay independently
// removable.
type registration struct {
	subs []rawSub
}

func (r *registration) cancel() {
	for _, sub := range r.subs {
		sub.cancel()
	}
}

// Dispatcher owns the raw event bus and the delegated listener registry.
// Like the rest of the engine it is confined to a single goroutine.
type Dispatcher struct {
	bus     event.Evented
	querier Querier

	delegated map[delegatedKey][]*registration
}

// New builds a dispatcher over the given hit-test collaborator.
func New(querier Querier) *Dispatcher {
	return &Dispatcher{
		querier:   querier,
		delegated: make(map[delegatedKey][]*registration),
	}
}

// Dispatch feeds one raw event through the bus. Global listeners and the
// derived listeners of delegated registrations all observe it.
func (d *Dispatcher) Dispatch(ev event.Event) {
	d.bus.Fire(ev)
}

// On registers a global listener for a raw event type.
func (d *Dispatcher) On(eventType string, fn event.Listener) {
	d.bus.On(eventType, fn)
}

// Off removes a global listener.
func (d *Dispatcher) Off(eventType string, fn event.Listener) {
	d.bus.Off(eventType, fn)
}

// OnLayer registers a layer-delegated listener. The listener fires only
// when the event's screen point hits at least one feature of the layer;
// the matches ride on the event's Features field for that invocation
// only. mouseenter/mouseover and mouseleave/mouseout are synthesized
// from the mousemove/mouseout stream with a per-registration inside
// flag. Every call adds an independent registration; the returned cancel
// removes exactly that one, which is the only precise handle when two
// closures share a code pointer.
func (d *Dispatcher) OnLayer(eventType, layerID string, fn event.Listener) func() {
	key := delegatedKey{eventType, layerID, reflect.ValueOf(fn).Pointer()}

	var subs []rawSub
	switch eventType {
	case MouseEnter, MouseOver:
		inside := false
		move := func(ev event.Event) {
			feats := d.querier.QueryPoint(ev.Point, layerID)
			if len(feats) > 0 {
				if !inside {
					inside = true
					ev.Type = eventType
					ev.Features = feats
					fn(ev)
				}
			} else {
				inside = false
			}
		}
		out := func(event.Event) { inside = false }
		subs = []rawSub{{rawType: MouseMove, fn: move}, {rawType: MouseOut, fn: out}}

	case MouseLeave, MouseOut:
		inside := false
		move := func(ev event.Event) {
			if len(d.querier.QueryPoint(ev.Point, layerID)) > 0 {
				inside = true
			} else if inside {
				inside = false
				ev.Type = eventType
				fn(ev)
			}
		}
		out := func(ev event.Event) {
			if inside {
				inside = false
				ev.Type = eventType
				fn(ev)
			}
		}
		subs = []rawSub{{rawType: MouseMove, fn: move}, {rawType: MouseOut, fn: out}}

	default:
		hit := func(ev event.Event) {
			feats := d.querier.QueryPoint(ev.Point, layerID)
			if len(feats) == 0 {
				return
			}
			ev.Features = feats
			fn(ev)
		}
		subs = []rawSub{{rawType: eventType, fn: hit}}
	}

	for i := range subs {
		subs[i].cancel = d.bus.Subscribe(subs[i].rawType, subs[i].fn)
	}
	reg := &registration{subs: subs}
	d.delegated[key] = append(d.delegated[key], reg)

	return func() { d.drop(key, reg) }
}

// drop cancels one registration and unlinks it from the key's stack.
// Already-dropped registrations are a no-op.
func (d *Dispatcher) drop(key delegatedKey, reg *registration) {
	regs := d.delegated[key]
	for i, r := range regs {
		if r == reg {
			r.cancel()
			regs = append(regs[:i:i], regs[i+1:]...)
			if len(regs) == 0 {
				delete(d.delegated, key)
			} else {
				d.delegated[key] = regs
			}
			return
		}
	}
}

// OffLayer removes the derived subscriptions of the most recent OnLayer
// matching the (type, layer, listener) triple. Unknown triples are a
// no-op.
func (d *Dispatcher) OffLayer(eventType, layerID string, fn event.Listener) {
	key := delegatedKey{eventType, layerID, reflect.ValueOf(fn).Pointer()}
	regs := d.delegated[key]
	if len(regs) == 0 {
		return
	}
	d.drop(key, regs[len(regs)-1])
}

// RawListenerCount reports the number of live subscriptions for a raw
// event type, derived ones included.
func (d *Dispatcher) RawListenerCount(rawType string) int {
	return d.bus.ListenerCount(rawType)
}

// Remove drops every registration, global and delegated.
func (d *Dispatcher) Remove() {
	for key, regs := range d.delegated {
		for _, reg := range regs {
			reg.cancel()
		}
		delete(d.delegated, key)
	}
	d.bus.Clear()
}
