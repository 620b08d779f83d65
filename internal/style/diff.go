package style

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// SetState patches the running style in place to match next. It returns
// whether anything changed. A non-nil error means the difference cannot
// be expressed as mutations and the caller must rebuild from scratch.
func (s *Style) SetState(next *Document) (bool, error) {
	if err := next.Validate(); err != nil {
		return false, err
	}
	if next.Version != s.doc.Version {
		return false, fmt.Errorf("cannot diff document versions %d and %d", s.doc.Version, next.Version)
	}

	changed := false

	// Layers referencing sources that change or disappear must go first.
	removedSources := make(map[string]bool)
	for id, spec := range s.doc.Sources {
		nextSpec, ok := next.Sources[id]
		if ok && sourceSpecEqual(spec, nextSpec) {
			continue
		}
		if ok && nextSpec.Type != spec.Type {
			return changed, fmt.Errorf("source %q changed type %q to %q", id, spec.Type, nextSpec.Type)
		}
		removedSources[id] = true
	}
	for _, id := range s.LayerOrder() {
		keep := false
		for _, l := range next.Layers {
			if l.ID == id {
				keep = true
				break
			}
		}
		if !keep || removedSources[s.layers[id].Spec.Source] {
			if err := s.RemoveLayer(id); err != nil {
				return changed, err
			}
			changed = true
		}
	}
	for id := range removedSources {
		if err := s.RemoveSource(id); err != nil {
			return changed, err
		}
		changed = true
	}
	for id, spec := range next.Sources {
		if _, ok := s.doc.Sources[id]; ok {
			continue
		}
		if err := s.AddSource(id, spec); err != nil {
			return changed, err
		}
		changed = true
	}

	// Add missing layers, then patch and reorder survivors.
	for _, spec := range next.Layers {
		if _, ok := s.layers[spec.ID]; ok {
			continue
		}
		if err := s.AddLayer(spec.Clone(), ""); err != nil {
			return changed, err
		}
		changed = true
	}
	for _, spec := range next.Layers {
		ch, err := s.patchLayer(s.layers[spec.ID], spec)
		if err != nil {
			return changed, err
		}
		changed = changed || ch
	}
	if ch := s.reorderLayers(next.Layers); ch {
		changed = true
	}

	if next.Light != nil && (s.doc.Light == nil || !reflect.DeepEqual(*next.Light, *s.doc.Light)) {
		s.SetLight(*next.Light)
		changed = true
	}
	if !reflect.DeepEqual(next.Transition, s.doc.Transition) {
		s.doc.Transition = nil
		if next.Transition != nil {
			tr := *next.Transition
			s.doc.Transition = &tr
		}
		changed = true
	}
	s.doc.Name = next.Name
	return changed, nil
}

func (s *Style) patchLayer(layer *Layer, next *LayerSpec) (bool, error) {
	changed := false
	spec := layer.Spec
	if spec.Source != next.Source || spec.SourceLayer != next.SourceLayer || spec.Type != next.Type {
		// Re-binding a layer is remove plus add.
		before := s.layerAfter(spec.ID)
		if err := s.RemoveLayer(spec.ID); err != nil {
			return changed, err
		}
		if err := s.AddLayer(next.Clone(), before); err != nil {
			return changed, err
		}
		return true, nil
	}
	if !bytes.Equal(spec.Filter, next.Filter) {
		if err := s.SetFilter(spec.ID, next.Filter); err != nil {
			return changed, err
		}
		changed = true
	}
	for key, val := range next.Paint {
		if !reflect.DeepEqual(spec.Paint[key], val) {
			if err := s.SetPaintProperty(spec.ID, key, val); err != nil {
				return changed, err
			}
			changed = true
		}
	}
	for key := range spec.Paint {
		if _, ok := next.Paint[key]; !ok {
			delete(spec.Paint, key)
			s.generation++
			changed = true
		}
	}
	for key, val := range next.Layout {
		if !reflect.DeepEqual(spec.Layout[key], val) {
			if err := s.SetLayoutProperty(spec.ID, key, val); err != nil {
				return changed, err
			}
			changed = true
		}
	}
	for key := range spec.Layout {
		if _, ok := next.Layout[key]; !ok {
			delete(spec.Layout, key)
			s.generation++
			changed = true
		}
	}
	if spec.MinZoom != next.MinZoom || spec.MaxZoom != next.MaxZoom {
		spec.MinZoom = next.MinZoom
		spec.MaxZoom = next.MaxZoom
		s.generation++
		changed = true
	}
	return changed, nil
}

// layerAfter returns the id of the layer drawn after id, or "" when id
// is top-most.
func (s *Style) layerAfter(id string) string {
	pos := s.layerIndex(id)
	if pos < 0 || pos+1 >= len(s.order) {
		return ""
	}
	return s.order[pos+1]
}

// reorderLayers moves layers until the draw order matches next.
func (s *Style) reorderLayers(next []*LayerSpec) bool {
	want := make([]string, len(next))
	for i, l := range next {
		want[i] = l.ID
	}
	changed := false
	for i, id := range want {
		if s.order[i] == id {
			continue
		}
		before := ""
		if i < len(s.order) {
			before = s.order[i]
		}
		if err := s.MoveLayer(id, before); err == nil {
			changed = true
		}
	}
	return changed
}

// Clone deep-copies a layer spec.
func (l *LayerSpec) Clone() *LayerSpec {
	cp := *l
	cp.Filter = append(json.RawMessage(nil), l.Filter...)
	cp.Layout = cloneProps(l.Layout)
	cp.Paint = cloneProps(l.Paint)
	return &cp
}

func sourceSpecEqual(a, b *SourceSpec) bool {
	return a.Type == b.Type &&
		a.TileSize == b.TileSize &&
		a.MinZoom == b.MinZoom &&
		a.MaxZoom == b.MaxZoom &&
		reflect.DeepEqual(a.Tiles, b.Tiles) &&
		bytes.Equal(a.Data, b.Data)
}
