package tileserver

import (
	"fmt"
	"strings"
	"sync"

	"github.com/paulmach/orb/geojson"

	"maprender/internal/camera"
	"maprender/internal/logx"
	"maprender/internal/style"
	"maprender/pkg/tiles"
)

// Source is the raster tile source. Update keeps the viewport tiles
// resident and warms the cache around them; arrivals re-enter the engine
// through the notify callback.
type Source struct {
	id       string
	cache    *Cache
	notify   func()
	minZoom  int
	maxZoom  int
	tileSize int

	mu        sync.Mutex
	images    map[tiles.Coord][]byte
	pending   map[tiles.Coord]bool
	failed    map[tiles.Coord]bool
	lastCover tiles.Coord
	released  bool
}

// New builds a raster source fetching through a cache rooted at
// cacheDir.
func New(id string, spec *style.SourceSpec, cacheDir string, workers int, notify func()) (*Source, error) {
	if len(spec.Tiles) == 0 {
		return nil, fmt.Errorf("%w: raster source %q has no tile URLs", style.ErrInvalidDocument, id)
	}
	cache, err := NewCache(cacheDir, printfTemplate(spec.Tiles[0]), workers)
	if err != nil {
		return nil, err
	}
	if notify == nil {
		notify = func() {}
	}
	maxZoom := int(spec.MaxZoom)
	if maxZoom == 0 {
		maxZoom = 19
	}
	tileSize := spec.TileSize
	if tileSize == 0 {
		tileSize = camera.TileSize
	}
	return &Source{
		id:       id,
		cache:    cache,
		notify:   notify,
		minZoom:  int(spec.MinZoom),
		maxZoom:  maxZoom,
		tileSize: tileSize,
		images:   make(map[tiles.Coord][]byte),
		pending:  make(map[tiles.Coord]bool),
		failed:   make(map[tiles.Coord]bool),
	}, nil
}

// printfTemplate converts {z}/{x}/{y} placeholders to the %d form the
// tile cache formats with.
func printfTemplate(template string) string {
	r := strings.NewReplacer("{z}", "%d", "{x}", "%d", "{y}", "%d")
	return r.Replace(template)
}

func (s *Source) ID() string { return s.id }

// Loaded reports whether every viewport tile has arrived or failed.
func (s *Source) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) == 0
}

// Update requests the covering tiles that are not yet resident, and
// prefetches a wider ring whenever the viewport moved to a new center
// tile.
func (s *Source) Update(tr *camera.Transform) {
	z := int(tr.Zoom())
	if z < s.minZoom {
		z = s.minZoom
	}
	if z > s.maxZoom {
		z = s.maxZoom
	}
	center := tr.Center()
	wanted := tiles.Cover(center, z, tr.Width(), tr.Height(), s.tileSize)

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	var fetch []tiles.Coord
	for _, c := range wanted {
		if s.images[c] != nil || s.pending[c] || s.failed[c] {
			continue
		}
		s.pending[c] = true
		fetch = append(fetch, c)
	}
	centerTile := tiles.FromLngLat(center, z)
	moved := centerTile != s.lastCover
	s.lastCover = centerTile
	s.mu.Unlock()

	for _, c := range fetch {
		coord := c
		s.cache.Get(coord, func(data []byte, err error) {
			s.complete(coord, data, err)
		})
	}
	if moved {
		s.cache.Prefetch(tiles.PrefetchCover(center, z, s.minZoom, s.maxZoom, tr.Width(), tr.Height(), s.tileSize))
	}
}

func (s *Source) complete(c tiles.Coord, data []byte, err error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	delete(s.pending, c)
	if err != nil {
		s.failed[c] = true
	} else {
		s.images[c] = data
	}
	s.mu.Unlock()

	if err != nil {
		logx.Logger().Warn("raster tile fetch failed", "source", s.id, "tile", c.String(), "error", err)
	}
	s.notify()
}

// Invalidate clears failure marks so the next Update retries them.
func (s *Source) Invalidate() {
	s.mu.Lock()
	clear(s.failed)
	s.mu.Unlock()
}

// TileImage returns the encoded image for a resident tile.
func (s *Source) TileImage(c tiles.Coord) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.images[c]
	return data, ok
}

// EachTile visits every resident tile; for the painter's upload pass.
func (s *Source) EachTile(fn func(tiles.Coord, []byte)) {
	s.mu.Lock()
	snapshot := make(map[tiles.Coord][]byte, len(s.images))
	for c, data := range s.images {
		snapshot[c] = data
	}
	s.mu.Unlock()
	for c, data := range snapshot {
		fn(c, data)
	}
}

// QueryFeatures always returns nil; raster tiles carry no features.
func (s *Source) QueryFeatures(string) []*geojson.Feature { return nil }

// Release detaches the source and drains the fetch workers in the
// background.
func (s *Source) Release() {
	s.mu.Lock()
	s.released = true
	s.images = map[tiles.Coord][]byte{}
	s.pending = map[tiles.Coord]bool{}
	s.mu.Unlock()
	go s.cache.Close()
}
