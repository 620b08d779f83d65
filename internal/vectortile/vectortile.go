// Package vectortile implements the vector source: MVT tiles fetched per
// viewport, decoded with orb and projected to WGS84, indexed by source
// layer for rendered-feature queries.
package vectortile

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"

	"maprender/internal/camera"
	"maprender/internal/logx"
	"maprender/internal/style"
	"maprender/pkg/tiles"
)

// Source is a vector tile source. Update reconciles the fetched tile set
// against the viewport; fetches run on their own goroutines and re-enter
// the engine through the notify callback.
type Source struct {
	id      string
	urls    []string
	minZoom int
	maxZoom int
	client  *http.Client
	notify  func()

	mu       sync.Mutex
	loaded   map[tiles.Coord]*tileData
	inFlight map[tiles.Coord]bool
	failed   map[tiles.Coord]bool
	released bool
}

type tileData struct {
	byLayer map[string][]*geojson.Feature
}

// New builds a vector source from its spec. The spec must carry at least
// one tile URL template.
func New(id string, spec *style.SourceSpec, notify func()) (*Source, error) {
	if len(spec.Tiles) == 0 {
		return nil, fmt.Errorf("%w: vector source %q has no tile URLs", style.ErrInvalidDocument, id)
	}
	if notify == nil {
		notify = func() {}
	}
	maxZoom := int(spec.MaxZoom)
	if maxZoom == 0 {
		maxZoom = 14
	}
	return &Source{
		id:       id,
		urls:     append([]string(nil), spec.Tiles...),
		minZoom:  int(spec.MinZoom),
		maxZoom:  maxZoom,
		client:   &http.Client{},
		notify:   notify,
		loaded:   make(map[tiles.Coord]*tileData),
		inFlight: make(map[tiles.Coord]bool),
		failed:   make(map[tiles.Coord]bool),
	}, nil
}

func (s *Source) ID() string { return s.id }

// Loaded reports whether no fetch is outstanding.
func (s *Source) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight) == 0
}

// Update starts fetches for viewport tiles that are neither loaded nor
// in flight. Failed tiles are not retried until Invalidate.
func (s *Source) Update(tr *camera.Transform) {
	z := int(tr.Zoom())
	if z < s.minZoom {
		z = s.minZoom
	}
	if z > s.maxZoom {
		z = s.maxZoom
	}
	wanted := tiles.Cover(tr.Center(), z, tr.Width(), tr.Height(), camera.TileSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	for _, c := range wanted {
		if s.loaded[c] != nil || s.inFlight[c] || s.failed[c] {
			continue
		}
		s.inFlight[c] = true
		go s.fetch(c)
	}
}

// Invalidate clears the failure marks so the next Update retries them,
// e.g. after connectivity returns.
func (s *Source) Invalidate() {
	s.mu.Lock()
	clear(s.failed)
	s.mu.Unlock()
}

// Layers returns the source layer names present across loaded tiles.
func (s *Source) Layers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, td := range s.loaded {
		for name := range td.byLayer {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out
}

// QueryFeatures returns the features of one source layer across all
// loaded tiles; an empty layer name returns every layer.
func (s *Source) QueryFeatures(sourceLayer string) []*geojson.Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*geojson.Feature
	for _, td := range s.loaded {
		if sourceLayer != "" {
			out = append(out, td.byLayer[sourceLayer]...)
			continue
		}
		for _, feats := range td.byLayer {
			out = append(out, feats...)
		}
	}
	return out
}

// Release drops all tile data; callbacks never fire afterwards.
func (s *Source) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	s.loaded = map[tiles.Coord]*tileData{}
	s.inFlight = map[tiles.Coord]bool{}
}

func (s *Source) fetch(c tiles.Coord) {
	data, err := s.fetchAndDecode(c)

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	delete(s.inFlight, c)
	if err != nil {
		s.failed[c] = true
	} else {
		s.loaded[c] = data
	}
	s.mu.Unlock()

	if err != nil {
		logx.Logger().Warn("vector tile fetch failed", "source", s.id, "tile", c.String(), "error", err)
	}
	s.notify()
}

func (s *Source) fetchAndDecode(c tiles.Coord) (*tileData, error) {
	url := templateURL(s.urls[(c.X+c.Y)%len(s.urls)], c)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "maprender/1.0")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip error: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}

	layers, err := mvt.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("mvt parse error: %w", err)
	}
	layers.ProjectToWGS84(maptile.New(uint32(c.X), uint32(c.Y), maptile.Zoom(c.Z)))

	td := &tileData{byLayer: make(map[string][]*geojson.Feature, len(layers))}
	for _, layer := range layers {
		td.byLayer[layer.Name] = layer.Features
	}
	return td, nil
}

// templateURL fills a tile URL template. Both {z}/{x}/{y} placeholders
// and printf-style %d templates are accepted.
func templateURL(template string, c tiles.Coord) string {
	if strings.Contains(template, "{z}") {
		r := strings.NewReplacer(
			"{z}", fmt.Sprintf("%d", c.Z),
			"{x}", fmt.Sprintf("%d", c.X),
			"{y}", fmt.Sprintf("%d", c.Y),
		)
		return r.Replace(template)
	}
	return c.URL(template)
}
