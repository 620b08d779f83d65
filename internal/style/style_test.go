package style

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb/geojson"

	"maprender/internal/camera"
	"maprender/internal/scheduler"
)

const testDoc = `{
	"version": 8,
	"name": "test",
	"sources": {
		"pois": {"type": "geojson", "data": {
			"type": "FeatureCollection",
			"features": [
				{"type": "Feature", "geometry": {"type": "Point", "coordinates": [0, 0]},
				 "properties": {"name": "origin", "rank": 1}},
				{"type": "Feature", "geometry": {"type": "Point", "coordinates": [10, 10]},
				 "properties": {"name": "northeast", "rank": 2}}
			]
		}}
	},
	"layers": [
		{"id": "poi-circles", "type": "circle", "source": "pois"},
		{"id": "poi-labels", "type": "symbol", "source": "pois"}
	]
}`

func newTestStyle(t *testing.T) *Style {
	t.Helper()
	doc, err := ParseDocument([]byte(testDoc))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	s, err := New(doc, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestParseDocumentRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"wrong version", `{"version": 7, "sources": {}, "layers": []}`},
		{"unknown source type", `{"version": 8, "sources": {"x": {"type": "wms"}}, "layers": []}`},
		{"unknown layer type", `{"version": 8, "sources": {}, "layers": [{"id": "a", "type": "hexbin"}]}`},
		{"duplicate layer id", `{"version": 8, "sources": {}, "layers": [
			{"id": "a", "type": "fill"}, {"id": "a", "type": "line"}]}`},
		{"dangling source ref", `{"version": 8, "sources": {}, "layers": [
			{"id": "a", "type": "fill", "source": "missing"}]}`},
		{"bad filter", `{"version": 8, "sources": {}, "layers": [
			{"id": "a", "type": "fill", "filter": ["bogus-op", "k", 1]}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseDocument([]byte(tc.doc)); !errors.Is(err, ErrInvalidDocument) {
				t.Errorf("err = %v, want ErrInvalidDocument", err)
			}
		})
	}
}

func TestSourceMutations(t *testing.T) {
	s := newTestStyle(t)

	if err := s.AddSource("pois", &SourceSpec{Type: "geojson"}); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("duplicate AddSource err = %v", err)
	}
	if err := s.AddSource("extra", &SourceSpec{Type: "geojson"}); err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	if s.Source("extra") == nil {
		t.Fatal("added source has no runtime state")
	}

	if err := s.RemoveSource("pois"); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("removing a source still in use: err = %v", err)
	}
	if err := s.RemoveSource("nope"); !errors.Is(err, ErrMissingResource) {
		t.Errorf("removing unknown source: err = %v", err)
	}
	if err := s.RemoveSource("extra"); err != nil {
		t.Fatalf("RemoveSource: %v", err)
	}
}

func TestLayerMutations(t *testing.T) {
	s := newTestStyle(t)

	if err := s.AddLayer(&LayerSpec{ID: "bg", Type: "fill"}, "poi-circles"); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	if got := s.LayerOrder(); got[0] != "bg" {
		t.Fatalf("order after insert-before = %v", got)
	}
	if err := s.AddLayer(&LayerSpec{ID: "bg", Type: "fill"}, ""); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("duplicate AddLayer err = %v", err)
	}
	if err := s.AddLayer(&LayerSpec{ID: "x", Type: "fill"}, "ghost"); !errors.Is(err, ErrMissingResource) {
		t.Errorf("AddLayer before unknown layer: err = %v", err)
	}

	if err := s.MoveLayer("bg", ""); err != nil {
		t.Fatalf("MoveLayer: %v", err)
	}
	order := s.LayerOrder()
	if order[len(order)-1] != "bg" {
		t.Fatalf("order after move-to-top = %v", order)
	}

	if err := s.RemoveLayer("bg"); err != nil {
		t.Fatalf("RemoveLayer: %v", err)
	}
	if err := s.RemoveLayer("bg"); !errors.Is(err, ErrMissingResource) {
		t.Errorf("double RemoveLayer err = %v", err)
	}
	if len(s.Doc().Layers) != 2 {
		t.Errorf("document has %d layers after mutations", len(s.Doc().Layers))
	}
}

func TestSetFilterAndProperties(t *testing.T) {
	s := newTestStyle(t)

	if err := s.SetFilter("poi-circles", json.RawMessage(`[">=", "rank", 2]`)); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	layer := s.Layer("poi-circles")
	if got := len(s.visibleFeatures(layer)); got != 1 {
		t.Fatalf("filtered features = %d, want 1", got)
	}
	if err := s.SetFilter("poi-circles", nil); err != nil {
		t.Fatalf("clearing filter: %v", err)
	}
	if got := len(s.visibleFeatures(layer)); got != 2 {
		t.Fatalf("unfiltered features = %d, want 2", got)
	}
	if err := s.SetFilter("poi-circles", json.RawMessage(`["nope"]`)); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("bad filter err = %v", err)
	}

	if err := s.SetPaintProperty("poi-circles", "circle-color", "#ff0000"); err != nil {
		t.Fatalf("SetPaintProperty: %v", err)
	}
	if err := s.SetLayoutProperty("ghost", "visibility", "none"); !errors.Is(err, ErrMissingResource) {
		t.Errorf("layout on unknown layer: err = %v", err)
	}
}

func TestPaintChangeStartsTransition(t *testing.T) {
	s := newTestStyle(t)

	if s.HasTransitions() {
		t.Fatal("fresh style already transitioning")
	}
	if err := s.SetPaintProperty("poi-circles", "circle-radius", 8.0); err != nil {
		t.Fatal(err)
	}
	// The deadline is stamped at the next evaluation.
	s.Update(scheduler.EvaluationParams{Zoom: 4, Now: time.Now(), CrossFadingFactor: 1})
	if !s.HasTransitions() {
		t.Fatal("no transition after paint change was evaluated")
	}
}

func TestArrayValuedPropertiesPatchWithoutPanic(t *testing.T) {
	s := newTestStyle(t)

	// Interpolation expressions decode to []any, which == cannot compare.
	ramp := []any{"interpolate", []any{"linear"}, []any{"zoom"}, 4.0, 2.0, 12.0, 8.0}
	if err := s.SetPaintProperty("poi-circles", "circle-radius", ramp); err != nil {
		t.Fatalf("SetPaintProperty: %v", err)
	}
	gen := s.Generation()
	if err := s.SetPaintProperty("poi-circles", "circle-radius", ramp); err != nil {
		t.Fatal(err)
	}
	if s.Generation() != gen {
		t.Error("setting an equal array value advanced the generation")
	}
	if err := s.SetLayoutProperty("poi-labels", "text-offset", []any{0.0, 1.2}); err != nil {
		t.Fatalf("SetLayoutProperty: %v", err)
	}
	if err := s.SetLayoutProperty("poi-labels", "text-offset", []any{0.0, 1.2}); err != nil {
		t.Fatal(err)
	}

	// The diff path compares the same decoded values.
	next, err := ParseDocument([]byte(testDoc))
	if err != nil {
		t.Fatal(err)
	}
	next.Layers[0].Paint = map[string]any{"circle-radius": []any{"interpolate", []any{"linear"}, []any{"zoom"}, 4.0, 3.0, 12.0, 9.0}}
	changed, err := s.SetState(next)
	if err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if !changed {
		t.Fatal("SetState reported no change for a differing array value")
	}
}

func TestUpdateEvaluatesVisibility(t *testing.T) {
	s := newTestStyle(t)
	if err := s.AddLayer(&LayerSpec{ID: "hi-zoom", Type: "circle", Source: "pois", MinZoom: 10}, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLayoutProperty("poi-labels", "visibility", "none"); err != nil {
		t.Fatal(err)
	}

	s.Update(scheduler.EvaluationParams{Zoom: 4, Now: time.Now(), CrossFadingFactor: 1})
	if s.Layer("hi-zoom").visible {
		t.Error("layer visible below its minzoom")
	}
	if s.Layer("poi-labels").visible {
		t.Error("visibility:none layer still visible")
	}
	if !s.Layer("poi-circles").visible {
		t.Error("plain layer not visible")
	}

	s.Update(scheduler.EvaluationParams{Zoom: 12, Now: time.Now(), CrossFadingFactor: 1})
	if !s.Layer("hi-zoom").visible {
		t.Error("layer hidden above its minzoom")
	}
}

func TestFeatureState(t *testing.T) {
	s := newTestStyle(t)

	if err := s.SetFeatureState("ghost", "1", map[string]any{"hover": true}); !errors.Is(err, ErrMissingResource) {
		t.Fatalf("unknown source err = %v", err)
	}
	if err := s.SetFeatureState("pois", "1", map[string]any{"hover": true}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetFeatureState("pois", "1", map[string]any{"selected": true}); err != nil {
		t.Fatal(err)
	}
	st := s.FeatureState("pois", "1")
	if st["hover"] != true || st["selected"] != true {
		t.Fatalf("merged state = %v", st)
	}

	if err := s.RemoveFeatureState("pois", "1", "hover"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.FeatureState("pois", "1")["hover"]; ok {
		t.Error("hover key survived removal")
	}
	if err := s.RemoveFeatureState("pois", "1", ""); err != nil {
		t.Fatal(err)
	}
	if len(s.FeatureState("pois", "1")) != 0 {
		t.Error("state survived full removal")
	}
}

func TestLoadedTracksSources(t *testing.T) {
	loaded := false
	factory := func(id string, spec *SourceSpec, notify func()) (Source, error) {
		if spec.Type == "geojson" {
			return NewGeoJSONSource(id, spec)
		}
		return &fakeSource{id: id, loaded: &loaded}, nil
	}
	doc, err := ParseDocument([]byte(testDoc))
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(doc, factory, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddSource("tiles", &SourceSpec{Type: "raster"}); err != nil {
		t.Fatal(err)
	}

	if s.Loaded() {
		t.Fatal("Loaded() true with a pending source")
	}
	loaded = true
	if !s.Loaded() {
		t.Fatal("Loaded() false with all sources done")
	}
}

type fakeSource struct {
	id      string
	loaded  *bool
	updates int
}

func (f *fakeSource) ID() string               { return f.id }
func (f *fakeSource) Loaded() bool             { return *f.loaded }
func (f *fakeSource) Update(*camera.Transform) { f.updates++ }
func (f *fakeSource) Release()                 {}

func (f *fakeSource) QueryFeatures(string) []*geojson.Feature { return nil }

func TestSetStatePatchesInPlace(t *testing.T) {
	s := newTestStyle(t)
	gen := s.Generation()

	next, err := ParseDocument([]byte(testDoc))
	if err != nil {
		t.Fatal(err)
	}
	next.Layers[0].Paint = map[string]any{"circle-color": "#00ff00"}
	next.Layers = append(next.Layers, &LayerSpec{ID: "extra", Type: "line", Source: "pois"})

	changed, err := s.SetState(next)
	if err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if !changed {
		t.Fatal("SetState reported no change")
	}
	if s.Generation() <= gen {
		t.Error("generation did not advance")
	}
	if s.Layer("extra") == nil {
		t.Error("added layer missing")
	}
	if got := s.Layer("poi-circles").Spec.Paint["circle-color"]; got != "#00ff00" {
		t.Errorf("paint not patched: %v", got)
	}

	// An identical document is a no-op.
	same, err := ParseDocument([]byte(testDoc))
	if err != nil {
		t.Fatal(err)
	}
	same.Layers[0].Paint = map[string]any{"circle-color": "#00ff00"}
	same.Layers = append(same.Layers, &LayerSpec{ID: "extra", Type: "line", Source: "pois"})
	changed, err = s.SetState(same)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("identical document reported a change")
	}
}

func TestSetStateReorders(t *testing.T) {
	s := newTestStyle(t)

	next, err := ParseDocument([]byte(testDoc))
	if err != nil {
		t.Fatal(err)
	}
	next.Layers[0], next.Layers[1] = next.Layers[1], next.Layers[0]

	changed, err := s.SetState(next)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("reorder reported no change")
	}
	if got := s.LayerOrder(); got[0] != "poi-labels" || got[1] != "poi-circles" {
		t.Fatalf("order = %v", got)
	}
}

func TestSetStateRebindsSources(t *testing.T) {
	s := newTestStyle(t)

	next, err := ParseDocument([]byte(testDoc))
	if err != nil {
		t.Fatal(err)
	}
	// Same source id, different data: the source and its layers rebuild.
	next.Sources["pois"].Data = json.RawMessage(`{"type": "FeatureCollection", "features": []}`)

	changed, err := s.SetState(next)
	if err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if !changed {
		t.Fatal("source data change reported no change")
	}
	if got := len(s.visibleFeatures(s.Layer("poi-circles"))); got != 0 {
		t.Fatalf("stale features after source rebuild: %d", got)
	}
}

func TestSetStateRefusesTypeChange(t *testing.T) {
	s := newTestStyle(t)

	next, err := ParseDocument([]byte(testDoc))
	if err != nil {
		t.Fatal(err)
	}
	next.Sources["pois"].Type = "vector"
	next.Sources["pois"].Data = nil

	if _, err := s.SetState(next); err == nil {
		t.Fatal("source type change diffed instead of failing")
	}
}
