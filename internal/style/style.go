package style

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/paulmach/orb/geojson"

	"maprender/internal/camera"
	"maprender/internal/scheduler"
)

// defaultTransition is the property transition length when the document
// does not configure one.
const defaultTransition = 300 * time.Millisecond

// Layer is the runtime state of a style layer.
type Layer struct {
	Spec    *LayerSpec
	filter  Filter
	visible bool // evaluated against the zoom at the last Update
}

// Visible reports whether the layer survived zoom-range and visibility
// evaluation at the last Update.
func (l *Layer) Visible() bool { return l.visible }

// Style is the document-backed style collaborator. It implements
// scheduler.Style and owns the runtime sources built from the document.
// Like the transform it is confined to the engine goroutine; only the
// notify callback handed to sources may be called from elsewhere.
type Style struct {
	doc     *Document
	factory SourceFactory
	notify  func()

	sources map[string]Source
	layers  map[string]*Layer
	order   []string

	light         LightSpec
	featureStates map[string]map[string]map[string]any

	pendingTransition bool
	transitionUntil   time.Time

	placement placementState

	crossFadingFactor float64
	generation        int
}

// New builds a style from a parsed document. factory constructs runtime
// sources; notify is handed to each source for async arrival signaling.
func New(doc *Document, factory SourceFactory, notify func()) (*Style, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if notify == nil {
		notify = func() {}
	}
	s := &Style{
		doc:               doc.Clone(),
		factory:           factory,
		notify:            notify,
		sources:           make(map[string]Source),
		layers:            make(map[string]*Layer),
		featureStates:     make(map[string]map[string]map[string]any),
		crossFadingFactor: 1,
	}
	if s.doc.Light != nil {
		s.light = *s.doc.Light
	}
	for id, spec := range s.doc.Sources {
		src, err := s.buildSource(id, spec)
		if err != nil {
			s.Release()
			return nil, err
		}
		s.sources[id] = src
	}
	for _, spec := range s.doc.Layers {
		layer, err := newLayer(spec)
		if err != nil {
			s.Release()
			return nil, err
		}
		s.layers[spec.ID] = layer
		s.order = append(s.order, spec.ID)
	}
	return s, nil
}

func newLayer(spec *LayerSpec) (*Layer, error) {
	l := &Layer{Spec: spec, visible: true}
	if len(spec.Filter) > 0 {
		f, err := ParseFilter(spec.Filter)
		if err != nil {
			return nil, fmt.Errorf("%w: layer %q: %v", ErrInvalidDocument, spec.ID, err)
		}
		l.filter = f
	}
	return l, nil
}

func (s *Style) buildSource(id string, spec *SourceSpec) (Source, error) {
	if s.factory != nil {
		return s.factory(id, spec, s.notify)
	}
	if spec.Type == "geojson" {
		return NewGeoJSONSource(id, spec)
	}
	return nil, fmt.Errorf("%w: no factory for source type %q", ErrInvalidDocument, spec.Type)
}

// Doc returns the style's current document.
func (s *Style) Doc() *Document { return s.doc }

// Generation counts applied mutations; the engine's tests use it to tell
// a patched style apart from a rebuilt one.
func (s *Style) Generation() int { return s.generation }

// CrossFadingFactor returns the factor from the last Update, for the
// painter.
func (s *Style) CrossFadingFactor() float64 { return s.crossFadingFactor }

// Light returns the current global light.
func (s *Style) Light() LightSpec { return s.light }

// LayerOrder returns layer ids in draw order (bottom first).
func (s *Style) LayerOrder() []string {
	return append([]string(nil), s.order...)
}

// Layer returns the runtime layer for an id, or nil.
func (s *Style) Layer(id string) *Layer { return s.layers[id] }

// Source returns the runtime source for an id, or nil.
func (s *Style) Source(id string) Source { return s.sources[id] }

// --- Mutation surface ---

// AddSource registers a new source and builds its runtime state.
func (s *Style) AddSource(id string, spec *SourceSpec) error {
	if _, exists := s.doc.Sources[id]; exists {
		return fmt.Errorf("%w: source %q already exists", ErrInvalidDocument, id)
	}
	if spec == nil || !sourceTypes[spec.Type] {
		return fmt.Errorf("%w: source %q has unknown type", ErrInvalidDocument, id)
	}
	src, err := s.buildSource(id, spec)
	if err != nil {
		return err
	}
	if s.doc.Sources == nil {
		s.doc.Sources = make(map[string]*SourceSpec)
	}
	s.doc.Sources[id] = spec
	s.sources[id] = src
	s.generation++
	return nil
}

// RemoveSource tears down a source. It fails while any layer still uses
// it.
func (s *Style) RemoveSource(id string) error {
	if _, ok := s.doc.Sources[id]; !ok {
		return fmt.Errorf("%w: source %q", ErrMissingResource, id)
	}
	for _, layerID := range s.order {
		if s.layers[layerID].Spec.Source == id {
			return fmt.Errorf("%w: source %q is used by layer %q", ErrInvalidDocument, id, layerID)
		}
	}
	s.sources[id].Release()
	delete(s.sources, id)
	delete(s.doc.Sources, id)
	delete(s.featureStates, id)
	s.generation++
	return nil
}

// AddLayer appends a layer, or inserts it before the given layer id.
func (s *Style) AddLayer(spec *LayerSpec, before string) error {
	if spec == nil || spec.ID == "" {
		return fmt.Errorf("%w: layer without id", ErrInvalidDocument)
	}
	if _, exists := s.layers[spec.ID]; exists {
		return fmt.Errorf("%w: duplicate layer id %q", ErrInvalidDocument, spec.ID)
	}
	if !layerTypes[spec.Type] {
		return fmt.Errorf("%w: layer %q has unknown type %q", ErrInvalidDocument, spec.ID, spec.Type)
	}
	if spec.Source != "" {
		if _, ok := s.doc.Sources[spec.Source]; !ok {
			return fmt.Errorf("%w: source %q", ErrMissingResource, spec.Source)
		}
	}
	layer, err := newLayer(spec)
	if err != nil {
		return err
	}

	pos := len(s.order)
	if before != "" {
		pos = s.layerIndex(before)
		if pos < 0 {
			return fmt.Errorf("%w: layer %q", ErrMissingResource, before)
		}
	}
	s.layers[spec.ID] = layer
	s.order = append(s.order, "")
	copy(s.order[pos+1:], s.order[pos:])
	s.order[pos] = spec.ID
	s.syncDocLayers()
	s.generation++
	return nil
}

// MoveLayer repositions a layer before another, or to the top when
// before is empty.
func (s *Style) MoveLayer(id, before string) error {
	from := s.layerIndex(id)
	if from < 0 {
		return fmt.Errorf("%w: layer %q", ErrMissingResource, id)
	}
	s.order = append(s.order[:from], s.order[from+1:]...)
	pos := len(s.order)
	if before != "" {
		pos = s.layerIndex(before)
		if pos < 0 {
			// Restore before failing.
			s.order = append(s.order, "")
			copy(s.order[from+1:], s.order[from:])
			s.order[from] = id
			return fmt.Errorf("%w: layer %q", ErrMissingResource, before)
		}
	}
	s.order = append(s.order, "")
	copy(s.order[pos+1:], s.order[pos:])
	s.order[pos] = id
	s.syncDocLayers()
	s.generation++
	return nil
}

// RemoveLayer deletes a layer.
func (s *Style) RemoveLayer(id string) error {
	pos := s.layerIndex(id)
	if pos < 0 {
		return fmt.Errorf("%w: layer %q", ErrMissingResource, id)
	}
	s.order = append(s.order[:pos], s.order[pos+1:]...)
	delete(s.layers, id)
	s.syncDocLayers()
	s.generation++
	return nil
}

// SetFilter replaces a layer's feature filter. nil clears it.
func (s *Style) SetFilter(layerID string, raw json.RawMessage) error {
	layer, ok := s.layers[layerID]
	if !ok {
		return fmt.Errorf("%w: layer %q", ErrMissingResource, layerID)
	}
	if len(raw) == 0 {
		layer.filter = nil
		layer.Spec.Filter = nil
		s.generation++
		return nil
	}
	f, err := ParseFilter(raw)
	if err != nil {
		return fmt.Errorf("%w: layer %q: %v", ErrInvalidDocument, layerID, err)
	}
	layer.filter = f
	layer.Spec.Filter = append(json.RawMessage(nil), raw...)
	s.generation++
	return nil
}

// SetPaintProperty sets one paint property and starts a transition.
func (s *Style) SetPaintProperty(layerID, key string, value any) error {
	layer, ok := s.layers[layerID]
	if !ok {
		return fmt.Errorf("%w: layer %q", ErrMissingResource, layerID)
	}
	if layer.Spec.Paint == nil {
		layer.Spec.Paint = make(map[string]any)
	}
	// Decoded properties may be JSON arrays or objects; == would panic.
	if reflect.DeepEqual(layer.Spec.Paint[key], value) {
		return nil
	}
	layer.Spec.Paint[key] = value
	s.pendingTransition = true
	s.generation++
	return nil
}

// SetLayoutProperty sets one layout property.
func (s *Style) SetLayoutProperty(layerID, key string, value any) error {
	layer, ok := s.layers[layerID]
	if !ok {
		return fmt.Errorf("%w: layer %q", ErrMissingResource, layerID)
	}
	if layer.Spec.Layout == nil {
		layer.Spec.Layout = make(map[string]any)
	}
	if reflect.DeepEqual(layer.Spec.Layout[key], value) {
		return nil
	}
	layer.Spec.Layout[key] = value
	s.generation++
	return nil
}

// SetLight replaces the global light.
func (s *Style) SetLight(light LightSpec) {
	s.light = light
	cp := light
	s.doc.Light = &cp
	s.pendingTransition = true
	s.generation++
}

// SetFeatureState merges state keys for one feature of a source.
func (s *Style) SetFeatureState(sourceID, featureID string, state map[string]any) error {
	if _, ok := s.sources[sourceID]; !ok {
		return fmt.Errorf("%w: source %q", ErrMissingResource, sourceID)
	}
	bySource := s.featureStates[sourceID]
	if bySource == nil {
		bySource = make(map[string]map[string]any)
		s.featureStates[sourceID] = bySource
	}
	cur := bySource[featureID]
	if cur == nil {
		cur = make(map[string]any)
		bySource[featureID] = cur
	}
	for k, v := range state {
		cur[k] = v
	}
	s.generation++
	return nil
}

// FeatureState returns the state previously set for a feature.
func (s *Style) FeatureState(sourceID, featureID string) map[string]any {
	return s.featureStates[sourceID][featureID]
}

// RemoveFeatureState drops one key, or all state for the feature when
// key is empty.
func (s *Style) RemoveFeatureState(sourceID, featureID, key string) error {
	if _, ok := s.sources[sourceID]; !ok {
		return fmt.Errorf("%w: source %q", ErrMissingResource, sourceID)
	}
	bySource := s.featureStates[sourceID]
	if bySource == nil {
		return nil
	}
	if key == "" {
		delete(bySource, featureID)
	} else if st := bySource[featureID]; st != nil {
		delete(st, key)
	}
	s.generation++
	return nil
}

// --- scheduler.Style ---

// Update recomputes cascaded values for the evaluation zoom and stamps
// the deadline of any property transition started since the last tick.
func (s *Style) Update(params scheduler.EvaluationParams) {
	s.crossFadingFactor = params.CrossFadingFactor
	if s.pendingTransition {
		s.pendingTransition = false
		s.transitionUntil = params.Now.Add(s.transitionDuration())
	}
	for _, id := range s.order {
		layer := s.layers[id]
		spec := layer.Spec
		layer.visible = params.Zoom >= spec.MinZoom &&
			(spec.MaxZoom == 0 || params.Zoom <= spec.MaxZoom)
		if v, ok := spec.Layout["visibility"]; ok && v == "none" {
			layer.visible = false
		}
	}
}

func (s *Style) transitionDuration() time.Duration {
	if s.doc.Transition != nil && s.doc.Transition.Duration > 0 {
		return time.Duration(s.doc.Transition.Duration) * time.Millisecond
	}
	return defaultTransition
}

// UpdateSources reconciles every source against the transform.
func (s *Style) UpdateSources(tr *camera.Transform) {
	for _, src := range s.sources {
		src.Update(tr)
	}
}

// HasTransitions reports whether a property transition is still running.
func (s *Style) HasTransitions() bool {
	return time.Now().Before(s.transitionUntil)
}

// Loaded reports whether every source finished its async work.
func (s *Style) Loaded() bool {
	for _, src := range s.sources {
		if !src.Loaded() {
			return false
		}
	}
	return true
}

// Release tears down all sources. The style must not be used afterwards.
func (s *Style) Release() {
	for _, src := range s.sources {
		src.Release()
	}
	s.sources = map[string]Source{}
}

func (s *Style) layerIndex(id string) int {
	for i, l := range s.order {
		if l == id {
			return i
		}
	}
	return -1
}

// syncDocLayers rewrites doc.Layers to match the runtime order.
func (s *Style) syncDocLayers() {
	layers := make([]*LayerSpec, len(s.order))
	for i, id := range s.order {
		layers[i] = s.layers[id].Spec
	}
	s.doc.Layers = layers
}

// visibleFeatures returns the filtered features of one layer.
func (s *Style) visibleFeatures(layer *Layer) []*geojson.Feature {
	if layer.Spec.Source == "" {
		return nil
	}
	src := s.sources[layer.Spec.Source]
	if src == nil {
		return nil
	}
	feats := src.QueryFeatures(layer.Spec.SourceLayer)
	if layer.filter == nil {
		return feats
	}
	out := make([]*geojson.Feature, 0, len(feats))
	for _, f := range feats {
		if layer.filter(f) {
			out = append(out, f)
		}
	}
	return out
}
