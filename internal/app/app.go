// Package app is the desktop viewer shell: window and GPU bring-up, the
// engine wiring, and the translation of GLFW input into engine calls.
package app

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/rajveermalviya/go-webgpu/wgpu"

	"maprender/internal/camera"
	"maprender/internal/config"
	"maprender/internal/engine"
	"maprender/internal/event"
	"maprender/internal/interaction"
	"maprender/internal/logx"
	"maprender/internal/platform"
	"maprender/internal/renderer"
	"maprender/internal/style"
	"maprender/internal/tileserver"
	"maprender/internal/vectortile"
	"maprender/pkg/geo"
)

const (
	keyPanSpeed = 10.0

	// clickSlop is the drag distance in pixels under which a press/release
	// pair still counts as a click.
	clickSlop = 3.0

	dblClickWindow = 300 * time.Millisecond
)

// App owns the window, the GPU stack and the map engine.
type App struct {
	cfg    *config.Config
	window *glfw.Window

	instance *wgpu.Instance
	surface  *wgpu.Surface
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	host     *platform.GLFW
	painter  *renderer.Renderer
	m        *engine.Map
	cancelRz func()

	dragging  bool
	pressPos  geo.ScreenPoint
	dragPos   geo.ScreenPoint
	lastClick time.Time
	keys      map[glfw.Key]bool
}

// New brings up the window, the GPU and the engine.
func New(cfg *config.Config) (*App, error) {
	runtime.LockOSThread()

	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("glfw init failed: %w", err)
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.CocoaRetinaFramebuffer, glfw.True)

	window, err := glfw.CreateWindow(cfg.Window.Width, cfg.Window.Height, cfg.Window.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("window creation failed: %w", err)
	}

	a := &App{
		cfg:    cfg,
		window: window,
		keys:   make(map[glfw.Key]bool),
	}
	if err := a.initWebGPU(); err != nil {
		a.Cleanup()
		return nil, err
	}

	doc, err := loadStyle(cfg.Map.StylePath)
	if err != nil {
		a.Cleanup()
		return nil, err
	}

	a.host = platform.NewGLFW(window)
	center := geo.LngLat{Lng: cfg.Map.CenterLng, Lat: cfg.Map.CenterLat}
	zoom := cfg.Map.Zoom
	opts := engine.Options{
		Platform:              a.host,
		SourceFactory:         a.sourceFactory(),
		Style:                 doc,
		Camera:                camera.Options{Center: &center, Zoom: &zoom},
		RenderWorldCopies:     true,
		CrossSourceCollisions: cfg.Map.CrossSourceCollisions,
	}
	if cfg.Map.FadeMillis > 0 {
		opts.FadeDuration = time.Duration(cfg.Map.FadeMillis) * time.Millisecond
	}
	a.m, err = engine.New(opts)
	if err != nil {
		a.Cleanup()
		return nil, err
	}

	w, h := window.GetFramebufferSize()
	a.painter, err = renderer.New(a.adapter, a.device, a.queue, a.surface, a.m.Transform(), w, h)
	if err != nil {
		a.Cleanup()
		return nil, fmt.Errorf("renderer creation failed: %w", err)
	}
	a.m.SetPainter(a.painter)
	a.cancelRz = a.host.NotifyResize(a.painter.Resize)

	a.m.SetShowTileBoundaries(cfg.Debug.ShowTileBoundaries)
	a.m.SetRepaint(cfg.Debug.Repaint)
	a.m.On("error", func(e event.Event) {
		logx.Logger().Warn("map error", "error", e.Error)
	})

	a.setupCallbacks()
	return a, nil
}

func (a *App) initWebGPU() error {
	a.instance = wgpu.CreateInstance(nil)
	if a.instance == nil {
		return fmt.Errorf("failed to create webgpu instance")
	}

	var err error
	a.surface, err = createSurface(a.instance, a.window)
	if err != nil {
		return err
	}

	a.adapter, err = a.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: a.surface,
		PowerPreference:   wgpu.PowerPreference_HighPerformance,
	})
	if err != nil {
		a.adapter, err = a.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
			PowerPreference: wgpu.PowerPreference_HighPerformance,
		})
		if err != nil {
			return fmt.Errorf("adapter request failed: %w", err)
		}
	}
	props := a.adapter.GetProperties()
	logx.Logger().Info("gpu adapter", "name", props.Name, "driver", props.DriverDescription)

	a.device, err = a.adapter.RequestDevice(&wgpu.DeviceDescriptor{Label: "maprender_device"})
	if err != nil {
		return fmt.Errorf("device request failed: %w", err)
	}
	a.queue = a.device.GetQueue()
	return nil
}

// sourceFactory dispatches style source specs to their runtime
// implementations.
func (a *App) sourceFactory() style.SourceFactory {
	return func(id string, spec *style.SourceSpec, notify func()) (style.Source, error) {
		switch spec.Type {
		case "raster":
			return tileserver.New(id, spec, a.cfg.Cache.Dir, a.cfg.Cache.Workers, notify)
		case "vector":
			return vectortile.New(id, spec, notify)
		default:
			return style.NewGeoJSONSource(id, spec)
		}
	}
}

// loadStyle reads a style document, falling back to the built-in raster
// basemap when no path is configured.
func loadStyle(path string) (*style.Document, error) {
	if path == "" {
		return defaultStyle(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style: %w", err)
	}
	return style.ParseDocument(raw)
}

func defaultStyle() *style.Document {
	return &style.Document{
		Version: style.SupportedVersion,
		Name:    "raster-basemap",
		Sources: map[string]*style.SourceSpec{
			"osm": {
				Type:     "raster",
				Tiles:    []string{"https://tile.openstreetmap.org/{z}/{x}/{y}.png"},
				TileSize: 256,
				MaxZoom:  19,
			},
		},
		Layers: []*style.LayerSpec{
			{ID: "basemap", Type: "raster", Source: "osm"},
		},
	}
}

func (a *App) cursor() geo.ScreenPoint {
	x, y := a.window.GetCursorPos()
	return geo.ScreenPoint{X: x, Y: y}
}

func (a *App) setupCallbacks() {
	a.window.SetMouseButtonCallback(func(w *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
		p := a.cursor()
		switch {
		case button == glfw.MouseButtonLeft && action == glfw.Press:
			a.dragging = true
			a.pressPos = p
			a.dragPos = p
			a.m.HandlePointer(interaction.MouseDown, p)
		case button == glfw.MouseButtonLeft && action == glfw.Release:
			a.dragging = false
			a.m.HandlePointer(interaction.MouseUp, p)
			if math.Hypot(p.X-a.pressPos.X, p.Y-a.pressPos.Y) <= clickSlop {
				if time.Since(a.lastClick) < dblClickWindow {
					a.m.HandlePointer(interaction.DblClick, p)
				} else {
					a.m.HandlePointer(interaction.Click, p)
				}
				a.lastClick = time.Now()
			}
		case button == glfw.MouseButtonRight && action == glfw.Release:
			a.m.HandlePointer(interaction.ContextMenu, p)
		}
	})

	a.window.SetCursorPosCallback(func(w *glfw.Window, x, y float64) {
		p := geo.ScreenPoint{X: x, Y: y}
		if a.dragging {
			a.m.PanBy(a.dragPos.X-p.X, a.dragPos.Y-p.Y)
			a.dragPos = p
		}
		a.m.HandlePointer(interaction.MouseMove, p)
	})

	a.window.SetCursorEnterCallback(func(w *glfw.Window, entered bool) {
		if !entered {
			a.m.HandlePointer(interaction.MouseOut, a.cursor())
		}
	})

	a.window.SetScrollCallback(func(w *glfw.Window, xoff, yoff float64) {
		p := a.cursor()
		a.m.ZoomAround(a.m.Transform().Zoom()+yoff*0.25, p)
	})

	a.window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		switch action {
		case glfw.Press:
			a.keys[key] = true
		case glfw.Release:
			a.keys[key] = false
		}
		if action != glfw.Press {
			return
		}
		switch key {
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		case glfw.KeyB:
			a.cfg.Debug.ShowTileBoundaries = !a.cfg.Debug.ShowTileBoundaries
			a.m.SetShowTileBoundaries(a.cfg.Debug.ShowTileBoundaries)
		case glfw.KeyQ:
			a.m.SetBearing(a.m.Transform().Bearing() - 15)
		case glfw.KeyE:
			a.m.SetBearing(a.m.Transform().Bearing() + 15)
		}
	})
}

func (a *App) processInput() {
	dx, dy := 0.0, 0.0
	if a.keys[glfw.KeyW] || a.keys[glfw.KeyUp] {
		dy -= keyPanSpeed
	}
	if a.keys[glfw.KeyS] || a.keys[glfw.KeyDown] {
		dy += keyPanSpeed
	}
	if a.keys[glfw.KeyA] || a.keys[glfw.KeyLeft] {
		dx -= keyPanSpeed
	}
	if a.keys[glfw.KeyD] || a.keys[glfw.KeyRight] {
		dx += keyPanSpeed
	}
	if dx != 0 || dy != 0 {
		a.m.PanBy(dx, dy)
	}
}

// Map exposes the engine for callers that register listeners or mutate
// the style.
func (a *App) Map() *engine.Map { return a.m }

// Run drives the event loop until the window closes. Frames requested by
// the scheduler are flushed once per poll iteration.
func (a *App) Run() error {
	lastTitle := time.Now()
	frames := 0

	for !a.window.ShouldClose() {
		glfw.PollEvents()
		a.processInput()
		a.host.Flush(time.Now())

		frames++
		if time.Since(lastTitle) >= time.Second {
			tr := a.m.Transform()
			a.window.SetTitle(fmt.Sprintf("%s | z%.1f | %d fps", a.cfg.Window.Title, tr.Zoom(), frames))
			frames = 0
			lastTitle = time.Now()
		}
	}
	return nil
}

// Cleanup tears the stack down in reverse construction order. Safe to
// call on a partially constructed App.
func (a *App) Cleanup() {
	if a.cancelRz != nil {
		a.cancelRz()
	}
	if a.m != nil {
		a.m.Remove()
	}
	if a.painter != nil {
		a.painter.Release()
	}
	if a.queue != nil {
		a.queue.Release()
	}
	if a.device != nil {
		a.device.Release()
	}
	if a.adapter != nil {
		a.adapter.Release()
	}
	if a.surface != nil {
		a.surface.Release()
	}
	if a.instance != nil {
		a.instance.Release()
	}
	if a.window != nil {
		a.window.Destroy()
	}
	glfw.Terminate()
}
