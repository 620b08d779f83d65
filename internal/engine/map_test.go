package engine

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"maprender/internal/camera"
	"maprender/internal/event"
	"maprender/internal/interaction"
	"maprender/internal/platform"
	"maprender/internal/style"
	"maprender/pkg/geo"
)

const baseDoc = `{
	"version": 8,
	"sources": {
		"pois": {"type": "geojson", "data": {
			"type": "FeatureCollection",
			"features": [
				{"type": "Feature", "geometry": {"type": "Point", "coordinates": [0, 0]},
				 "properties": {"name": "origin"}}
			]
		}}
	},
	"layers": [
		{"id": "poi-circles", "type": "circle", "source": "pois"}
	]
}`

func parseDoc(t *testing.T, raw string) *style.Document {
	t.Helper()
	doc, err := style.ParseDocument([]byte(raw))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	return doc
}

// stubSource stands in for an async tile source; tests flip loaded and
// invoke notify to simulate arrivals.
type stubSource struct {
	id     string
	loaded bool
	feats  []*geojson.Feature
	notify func()
}

func (s *stubSource) ID() string                              { return s.id }
func (s *stubSource) Loaded() bool                            { return s.loaded }
func (s *stubSource) Update(*camera.Transform)                {}
func (s *stubSource) Release()                                {}
func (s *stubSource) QueryFeatures(string) []*geojson.Feature { return s.feats }

type fixture struct {
	m       *Map
	pump    *platform.Manual
	sources map[string]*stubSource
}

func newFixture(t *testing.T, doc string) *fixture {
	t.Helper()
	f := &fixture{
		pump:    platform.NewManual(512, 512),
		sources: make(map[string]*stubSource),
	}
	factory := func(id string, spec *style.SourceSpec, notify func()) (style.Source, error) {
		if spec.Type == "geojson" {
			return style.NewGeoJSONSource(id, spec)
		}
		src := &stubSource{id: id, loaded: true, notify: notify}
		f.sources[id] = src
		return src, nil
	}
	m, err := New(Options{
		Platform:      f.pump,
		Style:         parseDoc(t, doc),
		SourceFactory: factory,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.m = m
	return f
}

// settle pumps frames until the scheduler goes idle.
func (f *fixture) settle(t *testing.T) {
	t.Helper()
	for i := 0; i < 20 && f.pump.PendingFrames() > 0; i++ {
		f.pump.Step(time.Now())
	}
	if f.pump.PendingFrames() > 0 {
		t.Fatal("scheduler did not settle")
	}
}

func TestLoadFiresOncePerLifetime(t *testing.T) {
	f := newFixture(t, baseDoc)

	var loads int
	f.m.On("load", func(event.Event) { loads++ })
	f.settle(t)

	if loads != 1 {
		t.Fatalf("loads = %d", loads)
	}
	if !f.m.Loaded() {
		t.Fatal("Loaded() = false after settling")
	}

	// Further mutations keep loaded true but never re-fire load.
	if err := f.m.SetPaintProperty("poi-circles", "circle-color", "#123456"); err != nil {
		t.Fatal(err)
	}
	f.pump.Step(time.Now())
	if loads != 1 {
		t.Fatalf("loads = %d after mutation", loads)
	}
}

func TestSetStyleDiffsInPlace(t *testing.T) {
	f := newFixture(t, baseDoc)
	f.settle(t)

	before := f.m.Style()
	gen := before.Generation()

	next := parseDoc(t, baseDoc)
	next.Layers = append(next.Layers, &style.LayerSpec{ID: "extra", Type: "line", Source: "pois"})
	if err := f.m.SetStyle(next); err != nil {
		t.Fatalf("SetStyle: %v", err)
	}

	if f.m.Style() != before {
		t.Fatal("diffable document rebuilt the style")
	}
	if f.m.Style().Generation() <= gen {
		t.Fatal("diff did not advance the generation")
	}
	if f.m.Style().Layer("extra") == nil {
		t.Fatal("diffed layer missing")
	}
}

func TestSetStyleDiffFailureRebuilds(t *testing.T) {
	f := newFixture(t, baseDoc)
	f.settle(t)
	before := f.m.Style()

	// Same source id, different source type: not expressible as a diff.
	next := parseDoc(t, `{
		"version": 8,
		"sources": {"pois": {"type": "vector", "tiles": ["http://tiles.test/{z}/{x}/{y}.mvt"]}},
		"layers": [{"id": "poi-circles", "type": "circle", "source": "pois"}]
	}`)
	if err := f.m.SetStyle(next); err != nil {
		t.Fatalf("SetStyle: %v", err)
	}
	if f.m.Style() == before {
		t.Fatal("type-changing document was not rebuilt")
	}

	rebuilt := geojson.NewFeature(orb.Point{0, 0})
	rebuilt.Properties["name"] = "rebuilt"
	f.sources["pois"].feats = []*geojson.Feature{rebuilt}

	f.settle(t)
	if !f.m.Loaded() {
		t.Fatal("Loaded() = false after rebuild")
	}
	got := f.m.QueryRenderedFeatures(nil, style.QueryOptions{})
	if len(got) != 1 || got[0].Properties["name"] != "rebuilt" {
		t.Fatalf("query after rebuild = %v", got)
	}
}

func TestSetStyleNilTearsDown(t *testing.T) {
	f := newFixture(t, baseDoc)
	f.settle(t)

	if err := f.m.SetStyle(nil); err != nil {
		t.Fatal(err)
	}
	if f.m.Style() != nil {
		t.Fatal("style survived teardown")
	}
	if got := f.m.QueryRenderedFeatures(nil, style.QueryOptions{}); got != nil {
		t.Fatalf("query on styleless map = %v", got)
	}
}

func TestUnknownResourceErrorIsAsync(t *testing.T) {
	f := newFixture(t, baseDoc)
	f.settle(t)

	var got error
	f.m.On("error", func(ev event.Event) { got = ev.Error })

	if err := f.m.SetPaintProperty("ghost", "circle-color", "red"); err != nil {
		t.Fatalf("unknown layer failed synchronously: %v", err)
	}
	if got != nil {
		t.Fatal("error fired before the call returned")
	}
	f.pump.Step(time.Now())
	if !errors.Is(got, ErrMissingResource) {
		t.Fatalf("async error = %v", got)
	}
}

func TestStructuralErrorIsSynchronous(t *testing.T) {
	f := newFixture(t, baseDoc)
	f.settle(t)

	err := f.m.SetFilter("poi-circles", json.RawMessage(`["bogus-op", "k", 1]`))
	if !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("err = %v, want ErrInvalidDocument", err)
	}
}

func TestMoveAndMoveEndEvents(t *testing.T) {
	f := newFixture(t, baseDoc)
	f.settle(t)

	var moves, moveEnds int
	f.m.On("move", func(event.Event) { moves++ })
	f.m.On("moveend", func(event.Event) { moveEnds++ })

	f.m.SetCenter(geo.LngLat{Lng: 4.9, Lat: 52.37})
	f.m.SetZoom(10)
	f.m.PanBy(12, -4)
	if moves != 3 {
		t.Fatalf("moves = %d", moves)
	}
	if moveEnds != 0 {
		t.Fatal("moveend fired before a frame rendered")
	}
	f.settle(t)
	if moveEnds != 1 {
		t.Fatalf("moveEnds = %d for one gesture batch", moveEnds)
	}
}

func TestSetMaxBoundsValidation(t *testing.T) {
	f := newFixture(t, baseDoc)

	bad := geo.NewBounds(geo.LngLat{Lng: 0, Lat: -95}, geo.LngLat{Lng: 10, Lat: 10})
	if err := f.m.SetMaxBounds(&bad); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("malformed bounds err = %v", err)
	}

	ok := geo.NewBounds(geo.LngLat{Lng: 4, Lat: 52}, geo.LngLat{Lng: 6, Lat: 53})
	if err := f.m.SetMaxBounds(&ok); err != nil {
		t.Fatalf("SetMaxBounds: %v", err)
	}
	f.m.SetZoom(10)
	f.m.SetCenter(geo.LngLat{Lng: 150, Lat: -40}) // far outside: clamped, not rejected
	c := f.m.Transform().Center()
	if !ok.Contains(c) {
		t.Fatalf("center %v escaped the max bounds", c)
	}

	if err := f.m.SetMaxBounds(nil); err != nil {
		t.Fatalf("clearing bounds: %v", err)
	}
}

func TestPointerDelegationThroughEngine(t *testing.T) {
	f := newFixture(t, baseDoc)
	f.settle(t)

	var clicks int
	var feats int
	f.m.OnLayer(interaction.Click, "poi-circles", func(ev event.Event) {
		clicks++
		feats = len(ev.Features)
	})

	// Null island sits at the viewport center for the default camera.
	f.m.HandlePointer(interaction.Click, geo.ScreenPoint{X: 256, Y: 256})
	f.m.HandlePointer(interaction.Click, geo.ScreenPoint{X: 20, Y: 20})

	if clicks != 1 {
		t.Fatalf("clicks = %d", clicks)
	}
	if feats != 1 {
		t.Fatalf("features = %d", feats)
	}
}

func TestAsyncSourceCompletionSchedulesFrame(t *testing.T) {
	f := newFixture(t, `{
		"version": 8,
		"sources": {"roads": {"type": "vector", "tiles": ["http://tiles.test/{z}/{x}/{y}.mvt"]}},
		"layers": [{"id": "roads", "type": "line", "source": "roads"}]
	}`)
	src := f.sources["roads"]
	src.loaded = false
	f.settle(t)

	if f.m.Loaded() {
		t.Fatal("Loaded() = true with an outstanding fetch")
	}

	var loads int
	f.m.On("load", func(event.Event) { loads++ })

	// Simulated async arrival: the source flips to loaded and pokes the
	// notify callback from its fetch goroutine.
	src.loaded = true
	src.notify()
	if f.pump.PendingFrames() == 0 {
		t.Fatal("notify did not schedule a frame")
	}
	f.settle(t)
	if loads != 1 {
		t.Fatalf("loads = %d after arrival", loads)
	}
}

func TestResizeSignal(t *testing.T) {
	f := newFixture(t, baseDoc)
	f.settle(t)

	var resizes int
	f.m.On("resize", func(event.Event) { resizes++ })

	f.pump.Resize(800, 600)
	if f.m.Transform().Width() != 800 || f.m.Transform().Height() != 600 {
		t.Fatalf("transform size = %dx%d", f.m.Transform().Width(), f.m.Transform().Height())
	}
	if resizes != 1 {
		t.Fatalf("resizes = %d", resizes)
	}
}

func TestContextLossAndRecovery(t *testing.T) {
	f := newFixture(t, baseDoc)
	f.settle(t)

	var lost, restored int
	f.m.On("contextlost", func(event.Event) { lost++ })
	f.m.On("contextrestored", func(event.Event) { restored++ })

	f.m.SetZoom(5)
	f.m.ContextLost()
	if f.pump.PendingFrames() != 0 {
		t.Fatal("context loss left a pending frame")
	}
	f.m.ContextRestored()
	if f.pump.PendingFrames() != 1 {
		t.Fatal("restore did not request an update")
	}
	if lost != 1 || restored != 1 {
		t.Fatalf("lost = %d, restored = %d", lost, restored)
	}
	f.settle(t)
}

func TestRemoveIsIdempotent(t *testing.T) {
	f := newFixture(t, baseDoc)
	f.settle(t)

	var removes int
	f.m.On("remove", func(event.Event) { removes++ })

	f.m.Remove()
	f.m.Remove()
	if removes != 1 {
		t.Fatalf("removes = %d", removes)
	}

	// Calls on a removed map are no-ops.
	f.m.SetCenter(geo.LngLat{Lng: 1, Lat: 1})
	f.m.HandlePointer(interaction.Click, geo.ScreenPoint{X: 256, Y: 256})
	if err := f.m.SetStyle(parseDoc(t, baseDoc)); err != nil {
		t.Fatal(err)
	}
	if f.m.Style() != nil {
		t.Fatal("removed map accepted a style")
	}
	if f.pump.PendingFrames() != 0 {
		t.Fatalf("removed map scheduled %d frames", f.pump.PendingFrames())
	}
}
