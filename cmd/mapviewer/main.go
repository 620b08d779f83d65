package main

import (
	"flag"
	"fmt"
	"os"

	"maprender/internal/app"
	"maprender/internal/config"
	"maprender/internal/logx"
)

func main() {
	configPath := flag.String("config", "", "path to a viewer config file")
	stylePath := flag.String("style", "", "path to a style document (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *stylePath != "" {
		cfg.Map.StylePath = *stylePath
	}

	fmt.Println("Controls:")
	fmt.Println("  Mouse drag    : Pan")
	fmt.Println("  Mouse wheel   : Zoom")
	fmt.Println("  WASD / Arrows : Pan")
	fmt.Println("  Q / E         : Rotate")
	fmt.Println("  B             : Tile boundaries")
	fmt.Println("  Escape        : Exit")
	fmt.Println()

	viewer, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer viewer.Cleanup()

	if err := viewer.Run(); err != nil {
		logx.Logger().Error("run loop failed", "error", err)
		os.Exit(1)
	}
}
