// Package style implements the style collaborator consumed by the render
// scheduler: a parsed style document, its sources and layers, cascaded
// property evaluation, symbol placement and rendered-feature queries.
package style

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidDocument reports a structurally malformed style payload.
var ErrInvalidDocument = errors.New("invalid style document")

// ErrMissingResource reports a reference to an unknown source or layer id.
var ErrMissingResource = errors.New("missing resource")

// SupportedVersion is the only style document version accepted.
const SupportedVersion = 8

// SourceSpec describes a data source in a style document.
type SourceSpec struct {
	Type     string          `json:"type"` // "raster", "vector" or "geojson"
	Tiles    []string        `json:"tiles,omitempty"`
	TileSize int             `json:"tileSize,omitempty"`
	MinZoom  float64         `json:"minzoom,omitempty"`
	MaxZoom  float64         `json:"maxzoom,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"` // geojson sources
}

// LayerSpec describes a style layer.
type LayerSpec struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"` // "raster", "fill", "line", "circle", "symbol"
	Source      string          `json:"source,omitempty"`
	SourceLayer string          `json:"source-layer,omitempty"`
	MinZoom     float64         `json:"minzoom,omitempty"`
	MaxZoom     float64         `json:"maxzoom,omitempty"`
	Filter      json.RawMessage `json:"filter,omitempty"`
	Layout      map[string]any  `json:"layout,omitempty"`
	Paint       map[string]any  `json:"paint,omitempty"`
}

// LightSpec describes the global light used by extrusion shading.
type LightSpec struct {
	Anchor    string    `json:"anchor,omitempty"`
	Color     string    `json:"color,omitempty"`
	Intensity float64   `json:"intensity,omitempty"`
	Position  []float64 `json:"position,omitempty"`
}

// TransitionSpec configures default property transition timing in
// milliseconds.
type TransitionSpec struct {
	Duration int `json:"duration,omitempty"`
	Delay    int `json:"delay,omitempty"`
}

// Document is a parsed style payload.
type Document struct {
	Version    int                    `json:"version"`
	Name       string                 `json:"name,omitempty"`
	Sources    map[string]*SourceSpec `json:"sources"`
	Layers     []*LayerSpec           `json:"layers"`
	Light      *LightSpec             `json:"light,omitempty"`
	Transition *TransitionSpec        `json:"transition,omitempty"`
}

// ParseDocument decodes and validates a raw style payload.
func ParseDocument(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

var sourceTypes = map[string]bool{"raster": true, "vector": true, "geojson": true}
var layerTypes = map[string]bool{"raster": true, "fill": true, "line": true, "circle": true, "symbol": true}

// Validate checks structural invariants: supported version, known source
// and layer types, unique layer ids, layers referencing declared sources.
func (d *Document) Validate() error {
	if d.Version != SupportedVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrInvalidDocument, d.Version, SupportedVersion)
	}
	for id, src := range d.Sources {
		if src == nil || !sourceTypes[src.Type] {
			return fmt.Errorf("%w: source %q has unknown type", ErrInvalidDocument, id)
		}
	}
	seen := make(map[string]bool, len(d.Layers))
	for _, l := range d.Layers {
		if l == nil || l.ID == "" {
			return fmt.Errorf("%w: layer without id", ErrInvalidDocument)
		}
		if seen[l.ID] {
			return fmt.Errorf("%w: duplicate layer id %q", ErrInvalidDocument, l.ID)
		}
		seen[l.ID] = true
		if !layerTypes[l.Type] {
			return fmt.Errorf("%w: layer %q has unknown type %q", ErrInvalidDocument, l.ID, l.Type)
		}
		if l.Source != "" {
			if _, ok := d.Sources[l.Source]; !ok {
				return fmt.Errorf("%w: layer %q references unknown source %q", ErrInvalidDocument, l.ID, l.Source)
			}
		}
		if len(l.Filter) > 0 {
			if _, err := ParseFilter(l.Filter); err != nil {
				return fmt.Errorf("%w: layer %q: %v", ErrInvalidDocument, l.ID, err)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := &Document{Version: d.Version, Name: d.Name}
	if d.Sources != nil {
		out.Sources = make(map[string]*SourceSpec, len(d.Sources))
		for id, s := range d.Sources {
			cp := *s
			cp.Tiles = append([]string(nil), s.Tiles...)
			cp.Data = append(json.RawMessage(nil), s.Data...)
			out.Sources[id] = &cp
		}
	}
	out.Layers = make([]*LayerSpec, len(d.Layers))
	for i, l := range d.Layers {
		cp := *l
		cp.Filter = append(json.RawMessage(nil), l.Filter...)
		cp.Layout = cloneProps(l.Layout)
		cp.Paint = cloneProps(l.Paint)
		out.Layers[i] = &cp
	}
	if d.Light != nil {
		light := *d.Light
		light.Position = append([]float64(nil), d.Light.Position...)
		out.Light = &light
	}
	if d.Transition != nil {
		tr := *d.Transition
		out.Transition = &tr
	}
	return out
}

func cloneProps(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
