package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Window.Width != 1024 || cfg.Cache.Dir != "tile_cache" {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	payload := `{"map": {"zoom": 4}, "debug": {"show_tile_boundaries": true}}`
	if err := os.WriteFile(path, []byte(payload), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Map.Zoom != 4 {
		t.Fatalf("zoom = %v, want 4", cfg.Map.Zoom)
	}
	if !cfg.Debug.ShowTileBoundaries {
		t.Fatal("debug flag not loaded")
	}
	if cfg.Window.Width != 1024 {
		t.Fatalf("unset field lost its default: %+v", cfg.Window)
	}
}

func TestSaveRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Map.Zoom = 7.5
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Map.Zoom != 7.5 {
		t.Fatalf("zoom = %v, want 7.5", loaded.Map.Zoom)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config accepted")
	}
}
