// Package event implements the listener registry shared by the map engine.
// The original design inherited event capability through a base class; here
// it is a component embedded by the types that need it.
package event

import (
	"reflect"
	"sync"

	"github.com/paulmach/orb/geojson"

	"maprender/internal/logx"
	"maprender/pkg/geo"
)

// Event is the value passed to listeners. A fresh Event is constructed for
// every dispatch; listeners must not retain or mutate it past the callback.
type Event struct {
	Type   string
	Target any

	// Error is set on "error" events.
	Error error

	// Point and LngLat are set on pointer events.
	Point  geo.ScreenPoint
	LngLat geo.LngLat

	// Features carries hit-test results for layer-delegated pointer events.
	// It is populated for the duration of a single dispatch only.
	Features []*geojson.Feature
}

// Listener receives dispatched events. Off matches by function identity,
// so the same function value passed to On must be passed to Off.
type Listener func(Event)

type registration struct {
	fn   Listener
	key  uintptr
	id   uint64
	once bool
}

// Evented dispatches events to registered listeners. The zero value is
// ready to use. Safe for concurrent use; asynchronous completions (tile
// fetches) fire events from their own goroutines.
type Evented struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[string][]registration
}

func listenerKey(fn Listener) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// On registers fn for events of the given type.
func (e *Evented) On(typ string, fn Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.register(typ, registration{fn: fn, key: listenerKey(fn)})
}

// Subscribe registers fn and returns a cancel function that removes
// exactly this registration. Unlike Off, cancellation does not depend on
// function identity, so closures built from the same literal stay
// independent.
func (e *Evented) Subscribe(typ string, fn Listener) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.register(typ, registration{fn: fn, key: listenerKey(fn), id: id})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		regs := e.listeners[typ]
		for i, r := range regs {
			if r.id == id {
				e.listeners[typ] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

// register appends under the lock.
func (e *Evented) register(typ string, r registration) {
	if e.listeners == nil {
		e.listeners = make(map[string][]registration)
	}
	e.listeners[typ] = append(e.listeners[typ], r)
}

// Once registers fn to be invoked for the next event of the given type
// only; the registration is removed before fn runs.
func (e *Evented) Once(typ string, fn Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.register(typ, registration{fn: fn, key: listenerKey(fn), once: true})
}

// Off removes the registration for fn, matched by function identity.
// No-op if fn was never registered for the type.
func (e *Evented) Off(typ string, fn Listener) {
	key := listenerKey(fn)
	e.mu.Lock()
	defer e.mu.Unlock()
	regs := e.listeners[typ]
	for i, r := range regs {
		if r.key == key {
			e.listeners[typ] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// ListenerCount returns the number of live registrations for a type.
func (e *Evented) ListenerCount(typ string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[typ])
}

// Clear drops every registration of every type.
func (e *Evented) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = nil
}

// Fire dispatches ev to all listeners registered for ev.Type, in
// registration order. Listeners run without the registry lock held, so
// they may register and remove listeners reentrantly; such changes take
// effect for the next Fire, not the current one.
//
// An "error" event with no listener attached is never dropped silently:
// it is logged instead.
func (e *Evented) Fire(ev Event) {
	e.mu.Lock()
	regs := e.listeners[ev.Type]
	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)
	if len(regs) > 0 {
		// Drop one-shot registrations before invoking anything.
		kept := regs[:0]
		for _, r := range regs {
			if !r.once {
				kept = append(kept, r)
			}
		}
		e.listeners[ev.Type] = kept
	}
	e.mu.Unlock()

	if len(snapshot) == 0 {
		if ev.Type == "error" {
			logx.Logger().Error("unhandled map error", "error", ev.Error)
		}
		return
	}
	for _, r := range snapshot {
		r.fn(ev)
	}
}
