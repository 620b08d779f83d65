// vectorprobe fetches one vector tile and prints its layer and feature
// inventory; a smoke test for tile endpoints and the decode path.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"maprender/internal/camera"
	"maprender/internal/style"
	"maprender/internal/vectortile"
	"maprender/pkg/geo"
)

func main() {
	url := flag.String("url", "", "tile URL template with {z}/{x}/{y} placeholders")
	lng := flag.Float64("lng", 4.9041, "longitude to probe")
	lat := flag.Float64("lat", 52.3676, "latitude to probe")
	zoom := flag.Float64("zoom", 10, "tile zoom level")
	flag.Parse()

	if *url == "" {
		fmt.Fprintln(os.Stderr, "Error: -url is required")
		os.Exit(1)
	}

	notify := make(chan struct{}, 64)
	src, err := vectortile.New("probe", &style.SourceSpec{
		Type:    "vector",
		Tiles:   []string{*url},
		MaxZoom: *zoom,
	}, func() { notify <- struct{}{} })
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer src.Release()

	tr := camera.New()
	tr.Resize(camera.TileSize, camera.TileSize)
	tr.SetZoom(*zoom)
	tr.SetCenter(geo.LngLat{Lng: *lng, Lat: *lat})

	fmt.Printf("Fetching tiles around (%.4f, %.4f) at z%.0f...\n", *lng, *lat, *zoom)
	src.Update(tr)

	deadline := time.After(15 * time.Second)
	for !src.Loaded() {
		select {
		case <-notify:
		case <-deadline:
			fmt.Fprintln(os.Stderr, "Error: fetch timed out")
			os.Exit(1)
		}
	}

	features := src.QueryFeatures("")
	if len(features) == 0 {
		fmt.Println("No features decoded; the tiles may be empty or failed to fetch.")
		return
	}

	fmt.Printf("\n%d features\n", len(features))
	for _, layer := range src.Layers() {
		fmt.Printf("  %-20s %d\n", layer, len(src.QueryFeatures(layer)))
	}

	fmt.Println("\nSample properties:")
	for i, f := range features {
		if i >= 10 {
			break
		}
		fmt.Printf("  %s %v\n", f.Geometry.GeoJSONType(), f.Properties)
	}
}
