// Package tileserver implements the raster source: a disk-backed tile
// cache with a worker pool for fetching and prefetching, and the source
// adapter that reconciles it against the viewport.
package tileserver

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"maprender/internal/logx"
	"maprender/pkg/tiles"
)

// Cache fetches raster tiles through a bounded worker pool and keeps
// them on disk. Completion callbacks run on worker goroutines.
type Cache struct {
	dir      string
	template string
	client   *http.Client

	queue chan job
	wg    sync.WaitGroup

	inFlightMu sync.Mutex
	inFlight   map[tiles.Coord]chan struct{}

	closeOnce sync.Once
}

type job struct {
	coord tiles.Coord
	done  func(data []byte, err error)
}

// NewCache builds a cache writing under dir and fetching from the given
// URL template.
func NewCache(dir, template string, workers int) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if workers <= 0 {
		workers = 4
	}
	c := &Cache{
		dir:      dir,
		template: template,
		client:   &http.Client{Timeout: 30 * time.Second},
		queue:    make(chan job, 1000),
		inFlight: make(map[tiles.Coord]chan struct{}),
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	return c, nil
}

func (c *Cache) worker() {
	defer c.wg.Done()
	for j := range c.queue {
		data, err := c.fetch(j.coord)
		if j.done != nil {
			j.done(data, err)
		}
	}
}

// Close drains the workers. Queued jobs still complete.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.queue) })
	c.wg.Wait()
}

// Get enqueues a fetch; done is invoked exactly once from a worker. A
// full queue fails fast instead of blocking the caller.
func (c *Cache) Get(coord tiles.Coord, done func([]byte, error)) {
	select {
	case c.queue <- job{coord: coord, done: done}:
	default:
		done(nil, fmt.Errorf("tile fetch queue full, dropped %s", coord))
	}
}

// Prefetch enqueues coords without completion tracking; a full queue
// silently drops the remainder.
func (c *Cache) Prefetch(coords []tiles.Coord) {
	for _, coord := range coords {
		select {
		case c.queue <- job{coord: coord}:
		default:
			return
		}
	}
}

func (c *Cache) tilePath(coord tiles.Coord) string {
	return filepath.Join(c.dir, fmt.Sprintf("%d_%d_%d.png", coord.Z, coord.X, coord.Y))
}

// IsCached reports whether a tile is already on disk.
func (c *Cache) IsCached(coord tiles.Coord) bool {
	_, err := os.Stat(c.tilePath(coord))
	return err == nil
}

// fetch returns tile bytes from disk or the network, deduplicating
// concurrent fetches of the same coordinate.
func (c *Cache) fetch(coord tiles.Coord) ([]byte, error) {
	path := c.tilePath(coord)
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	}

	c.inFlightMu.Lock()
	if ch, exists := c.inFlight[coord]; exists {
		c.inFlightMu.Unlock()
		<-ch
		return os.ReadFile(path)
	}
	ch := make(chan struct{})
	c.inFlight[coord] = ch
	c.inFlightMu.Unlock()

	defer func() {
		c.inFlightMu.Lock()
		delete(c.inFlight, coord)
		close(ch)
		c.inFlightMu.Unlock()
	}()

	req, err := http.NewRequest(http.MethodGet, coord.URL(c.template), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "maprender/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tile server returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tile data: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		// Keep serving from memory even when the disk write fails.
		logx.Logger().Warn("failed to cache tile", "tile", coord.String(), "error", err)
	}
	return data, nil
}
