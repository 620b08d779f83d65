package platform

import (
	"sync"
	"time"
)

// Manual is a hand-pumped platform context for headless use and tests.
// Frame callbacks queue up until Step is called; resize and connectivity
// events are injected explicitly.
type Manual struct {
	mu        sync.Mutex
	nextID    uint64
	pending   []manualFrame
	resizeFns map[uint64]func(int, int)
	connFns   map[uint64]func(bool)
	width     int
	height    int
}

type manualFrame struct {
	id uint64
	fn func(time.Time)
}

// NewManual returns a manual context reporting the given surface size.
func NewManual(width, height int) *Manual {
	return &Manual{
		resizeFns: make(map[uint64]func(int, int)),
		connFns:   make(map[uint64]func(bool)),
		width:     width,
		height:    height,
	}
}

type manualHandle struct {
	m  *Manual
	id uint64
}

func (h manualHandle) Cancel() {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	for i, f := range h.m.pending {
		if f.id == h.id {
			h.m.pending = append(h.m.pending[:i:i], h.m.pending[i+1:]...)
			return
		}
	}
}

// RequestFrame queues fn for the next Step.
func (m *Manual) RequestFrame(fn func(time.Time)) FrameHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.pending = append(m.pending, manualFrame{id: m.nextID, fn: fn})
	return manualHandle{m: m, id: m.nextID}
}

// Step fires the frames queued before the call, in request order. Frames
// requested by a firing callback wait for the next Step.
func (m *Manual) Step(now time.Time) {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, f := range batch {
		f.fn(now)
	}
}

// PendingFrames returns the number of queued frame callbacks.
func (m *Manual) PendingFrames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// NotifyResize registers a resize subscriber.
func (m *Manual) NotifyResize(fn func(int, int)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.resizeFns[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.resizeFns, id)
	}
}

// NotifyConnectivity registers a connectivity subscriber.
func (m *Manual) NotifyConnectivity(fn func(bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.connFns[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.connFns, id)
	}
}

// SurfaceSize returns the configured surface size.
func (m *Manual) SurfaceSize() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.width, m.height
}

// Resize changes the surface size and notifies subscribers.
func (m *Manual) Resize(width, height int) {
	m.mu.Lock()
	m.width, m.height = width, height
	fns := make([]func(int, int), 0, len(m.resizeFns))
	for _, fn := range m.resizeFns {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(width, height)
	}
}

// SetOnline injects a connectivity transition.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	fns := make([]func(bool), 0, len(m.connFns))
	for _, fn := range m.connFns {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(online)
	}
}
