package platform

import (
	"sync"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
)

// GLFW adapts a glfw window to the Context interface. GLFW has no native
// animation-frame primitive, so requested frames queue up and the owning
// run loop drains them once per poll iteration with Flush.
type GLFW struct {
	window *glfw.Window

	mu        sync.Mutex
	nextID    uint64
	pending   []glfwFrame
	resizeFns map[uint64]func(int, int)
}

type glfwFrame struct {
	id uint64
	fn func(time.Time)
}

// NewGLFW wraps window. It takes over the framebuffer size callback.
func NewGLFW(window *glfw.Window) *GLFW {
	g := &GLFW{
		window:    window,
		resizeFns: make(map[uint64]func(int, int)),
	}
	window.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		g.mu.Lock()
		fns := make([]func(int, int), 0, len(g.resizeFns))
		for _, fn := range g.resizeFns {
			fns = append(fns, fn)
		}
		g.mu.Unlock()
		for _, fn := range fns {
			fn(width, height)
		}
	})
	return g
}

type glfwHandle struct {
	g  *GLFW
	id uint64
}

func (h glfwHandle) Cancel() {
	h.g.mu.Lock()
	defer h.g.mu.Unlock()
	for i, f := range h.g.pending {
		if f.id == h.id {
			h.g.pending = append(h.g.pending[:i:i], h.g.pending[i+1:]...)
			return
		}
	}
}

// RequestFrame queues fn for the next Flush.
func (g *GLFW) RequestFrame(fn func(time.Time)) FrameHandle {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.pending = append(g.pending, glfwFrame{id: g.nextID, fn: fn})
	return glfwHandle{g: g, id: g.nextID}
}

// Flush fires the frames queued before the call. The run loop calls this
// once per iteration, after polling events.
func (g *GLFW) Flush(now time.Time) {
	g.mu.Lock()
	batch := g.pending
	g.pending = nil
	g.mu.Unlock()
	for _, f := range batch {
		f.fn(now)
	}
}

// NotifyResize registers a resize subscriber.
func (g *GLFW) NotifyResize(fn func(int, int)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := g.nextID
	g.resizeFns[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.resizeFns, id)
	}
}

// NotifyConnectivity is a no-op: desktop GLFW exposes no connectivity
// signal. The cancel function is still valid to call.
func (g *GLFW) NotifyConnectivity(func(bool)) func() {
	return func() {}
}

// SurfaceSize returns the framebuffer size in pixels.
func (g *GLFW) SurfaceSize() (int, int) {
	return g.window.GetFramebufferSize()
}
