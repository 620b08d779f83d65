// Package config holds the viewer configuration loaded at startup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the viewer configuration file.
type Config struct {
	Window Window `json:"window"`
	Map    Map    `json:"map"`
	Cache  Cache  `json:"cache"`
	Debug  Debug  `json:"debug"`
}

// Window configures the initial window geometry.
type Window struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Title  string `json:"title"`
}

// Map configures the initial camera and the style document.
type Map struct {
	// StylePath points at a style document; empty falls back to the
	// built-in raster style.
	StylePath string `json:"style_path"`

	CenterLng float64 `json:"center_lng"`
	CenterLat float64 `json:"center_lat"`
	Zoom      float64 `json:"zoom"`

	// FadeMillis overrides the symbol/raster cross-fade length; 0 keeps
	// the default.
	FadeMillis int `json:"fade_millis"`

	CrossSourceCollisions *bool `json:"cross_source_collisions,omitempty"`
}

// Cache configures the raster tile cache.
type Cache struct {
	Dir     string `json:"dir"`
	Workers int    `json:"workers"`
}

// Debug holds the render debug toggles.
type Debug struct {
	ShowTileBoundaries bool `json:"show_tile_boundaries"`
	Repaint            bool `json:"repaint"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Window: Window{Width: 1024, Height: 768, Title: "maprender"},
		Map:    Map{CenterLng: 4.9, CenterLat: 52.37, Zoom: 10},
		Cache:  Cache{Dir: "tile_cache", Workers: 4},
	}
}

// Load reads a configuration file over the defaults. A missing path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
