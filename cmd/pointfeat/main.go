// Command pointfeat extracts multi-level point features for random regions of a batch of images
// and reports timing.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/nvr-ai/go-pointfeat/backbone"
	"github.com/nvr-ai/go-pointfeat/config"
	"github.com/nvr-ai/go-pointfeat/profiler"
)

func main() {
	var (
		configPath     string
		imagesDir      string
		backboneKind   string
		rois           int
		grid           int
		iterations     int
		batchSize      int
		debug          bool
		reportInterval time.Duration
	)
	flag.StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	flag.StringVar(&imagesDir, "images", "", "Directory of frames (default: synthetic images)")
	flag.StringVar(&backboneKind, "backbone", "", "Backbone kind: resize, pooling, onnx or opencv")
	flag.IntVar(&rois, "rois", 0, "Random regions per image")
	flag.IntVar(&grid, "grid", 0, "Side of the k x k query point grid")
	flag.IntVar(&iterations, "iterations", 0, "Number of extraction passes")
	flag.IntVar(&batchSize, "batch", 0, "Images per batch")
	flag.BoolVar(&debug, "debug", false, "Enable extractor debug output")
	flag.DurationVar(&reportInterval, "report-interval", 0, "Emit profiler reports while running")
	flag.Parse()

	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("❌ Failed to load config: %v", err)
		}
		cfg = loaded
	}

	// Only flags given on the command line override the configuration.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "images":
			cfg.Run.Images = imagesDir
		case "backbone":
			cfg.Backbone.Kind = backbone.Kind(backboneKind)
		case "rois":
			cfg.Run.RoIsPerImage = rois
		case "grid":
			cfg.Run.Grid = grid
		case "iterations":
			cfg.Run.Iterations = iterations
		case "batch":
			cfg.Run.BatchSize = batchSize
		case "debug":
			cfg.Run.Debug = debug
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	prof := profiler.New(profiler.Options{ReportInterval: reportInterval, Output: os.Stdout})
	prof.Start(ctx)

	if _, err := run(ctx, cfg, prof, os.Stdout); err != nil {
		prof.Stop()
		log.Fatalf("❌ Extraction failed: %v", err)
	}
	prof.Stop()
	prof.Report(os.Stdout)
}
