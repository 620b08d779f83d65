package style

import (
	"fmt"

	"github.com/paulmach/orb/geojson"

	"maprender/internal/camera"
)

// Source is a runtime data source owned by a Style.
type Source interface {
	ID() string

	// Loaded reports whether the source has no outstanding async work.
	Loaded() bool

	// Update reconciles the source against the viewport; it may start
	// async fetches whose completion re-enters through the notify
	// callback the source was constructed with.
	Update(tr *camera.Transform)

	// QueryFeatures returns the loaded features of a named source layer
	// in geographic coordinates.
	QueryFeatures(sourceLayer string) []*geojson.Feature

	// Release frees the source's resources; no callbacks fire afterwards.
	Release()
}

// SourceFactory builds a runtime source from its spec. notify may be
// invoked from any goroutine when async data arrives; implementations
// route it back into the scheduler's RequestUpdate.
type SourceFactory func(id string, spec *SourceSpec, notify func()) (Source, error)

// NewGeoJSONSource builds a source backed by inline GeoJSON data. It is
// fully loaded at construction.
func NewGeoJSONSource(id string, spec *SourceSpec) (Source, error) {
	src := &geoJSONSource{id: id}
	if len(spec.Data) > 0 {
		fc, err := geojson.UnmarshalFeatureCollection(spec.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: geojson source %q: %v", ErrInvalidDocument, id, err)
		}
		src.fc = fc
	} else {
		src.fc = geojson.NewFeatureCollection()
	}
	return src, nil
}

type geoJSONSource struct {
	id string
	fc *geojson.FeatureCollection
}

func (s *geoJSONSource) ID() string               { return s.id }
func (s *geoJSONSource) Loaded() bool             { return true }
func (s *geoJSONSource) Update(*camera.Transform) {}
func (s *geoJSONSource) Release()                 {}

// QueryFeatures returns all features; geojson sources have a single
// unnamed layer.
func (s *geoJSONSource) QueryFeatures(sourceLayer string) []*geojson.Feature {
	if sourceLayer != "" {
		return nil
	}
	return s.fc.Features
}
