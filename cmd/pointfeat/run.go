package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"log"
	"math/rand"

	"github.com/nvr-ai/go-pointfeat/backbone"
	"github.com/nvr-ai/go-pointfeat/common"
	"github.com/nvr-ai/go-pointfeat/config"
	"github.com/nvr-ai/go-pointfeat/extractors"
	"github.com/nvr-ai/go-pointfeat/profiler"
	"github.com/nvr-ai/go-pointfeat/util"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

// Summary describes the output of the last extraction.
type Summary struct {
	Shape    tensor.Shape
	Batches  int
	Mean     float64
	StdDev   float64
	Min, Max float64
}

// String formats the summary for the console.
func (s Summary) String() string {
	return fmt.Sprintf("output %v over %d batches: mean=%.4f std=%.4f min=%.4f max=%.4f",
		s.Shape, s.Batches, s.Mean, s.StdDev, s.Min, s.Max)
}

// run loads the images, builds the backbone and extractor from cfg, and extracts point features
// for random regions Iterations times.
func run(ctx context.Context, cfg config.Config, prof *profiler.Profiler, out io.Writer) (Summary, error) {
	images, err := loadImages(cfg)
	if err != nil {
		return Summary{}, err
	}
	log.Printf("📷 Loaded %d images", len(images))

	bb, err := backbone.New(cfg.Backbone)
	if err != nil {
		return Summary{}, errors.Wrap(err, "creating backbone")
	}
	defer bb.Close()

	ext, err := extractors.NewExtractor(cfg.Extractor)
	if err != nil {
		return Summary{}, errors.Wrap(err, "creating extractor")
	}
	if d, ok := ext.(interface{ SetDebugMode(bool) }); ok {
		d.SetDebugMode(cfg.Run.Debug)
	}

	rng := rand.New(rand.NewSource(cfg.Run.Seed))
	grid := common.GridPoints(cfg.Run.Grid)

	var (
		summary Summary
		last    *tensor.Dense
	)
	for it := 0; it < cfg.Run.Iterations; it++ {
		for start := 0; start < len(images); start += cfg.Run.BatchSize {
			if err := ctx.Err(); err != nil {
				return Summary{}, err
			}
			batch := images[start:min(start+cfg.Run.BatchSize, len(images))]

			done := prof.StartOperation("forward")
			feats, err := bb.Forward(ctx, batch)
			done()
			if err != nil {
				return Summary{}, errors.Wrapf(err, "%s forward", bb.Name())
			}

			rois := randomRoIs(rng, len(batch), cfg.Run.RoIsPerImage, cfg.Backbone.Width, cfg.Backbone.Height)
			points := make([][]common.Point, len(rois))
			for i := range points {
				points[i] = grid
			}

			done = prof.StartOperation("extract")
			last, err = ext.Extract(feats, rois, points)
			done()
			if err != nil {
				return Summary{}, errors.Wrap(err, "extracting point features")
			}
			prof.RecordMetric("regions", float64(len(rois)))
			summary.Batches++
		}
	}

	if last != nil {
		summary.Shape = last.Shape().Clone()
		summarize(last.Float32s(), &summary)
	}
	fmt.Fprintln(out, summary)
	return summary, nil
}

// summarize fills the value statistics of s.
func summarize(values []float32, s *Summary) {
	if len(values) == 0 {
		return
	}
	xs := make([]float64, len(values))
	for i, v := range values {
		xs[i] = float64(v)
	}
	s.Mean, s.StdDev = stat.MeanStdDev(xs, nil)
	s.Min = floats.Min(xs)
	s.Max = floats.Max(xs)
}

// randomRoIs draws perImage regions inside a width x height image for every batch image.
func randomRoIs(rng *rand.Rand, batch, perImage, width, height int) []common.RoI {
	rois := make([]common.RoI, 0, batch*perImage)
	for b := 0; b < batch; b++ {
		for i := 0; i < perImage; i++ {
			x1 := rng.Float32() * float32(width) * 0.8
			y1 := rng.Float32() * float32(height) * 0.8
			w := (0.1 + rng.Float32()*0.5) * float32(width)
			h := (0.1 + rng.Float32()*0.5) * float32(height)
			rois = append(rois, common.RoI{
				BatchIndex: b,
				X1:         x1,
				Y1:         y1,
				X2:         min(x1+w, float32(width)),
				Y2:         min(y1+h, float32(height)),
			})
		}
	}
	return rois
}

// loadImages decodes the configured directory, or synthesizes one batch of gradient images.
func loadImages(cfg config.Config) ([]image.Image, error) {
	if cfg.Run.Images == "" {
		images := make([]image.Image, cfg.Run.BatchSize)
		for i := range images {
			images[i] = syntheticImage(cfg.Backbone.Width, cfg.Backbone.Height, i)
		}
		return images, nil
	}

	files, err := util.LoadDirectoryImageFiles(cfg.Run.Images)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", cfg.Run.Images)
	}
	return util.DecodeImages(files)
}

// syntheticImage is a diagonal color gradient, shifted per image so batch images differ.
func syntheticImage(width, height, shift int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x*255/max(width-1, 1) + 40*shift) % 256),
				G: uint8(y * 255 / max(height-1, 1)),
				B: uint8((x + y + 17*shift) % 256),
				A: 255,
			})
		}
	}
	return img
}
