// Package config - YAML configuration for point feature extraction runs.
package config

import (
	"fmt"
	"os"

	"github.com/nvr-ai/go-pointfeat/backbone"
	"github.com/nvr-ai/go-pointfeat/extractors/extractor"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config ties an extractor to the backbone that feeds it.
type Config struct {
	// Extractor selects and configures the point feature extractor.
	Extractor extractor.NewExtractorArgs `json:"extractor" yaml:"extractor"`
	// Backbone selects and configures the feature pyramid producer.
	Backbone backbone.Config `json:"backbone" yaml:"backbone"`
	// Run controls the command-line driver.
	Run RunConfig `json:"run" yaml:"run"`
}

// RunConfig controls a command-line extraction run.
type RunConfig struct {
	// Images is a directory of frames. Empty means synthetic images.
	Images string `json:"images" yaml:"images"`
	// BatchSize is the number of images per Forward/Extract call.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// RoIsPerImage is the number of random regions generated per image.
	RoIsPerImage int `json:"rois_per_image" yaml:"rois_per_image"`
	// Grid is the side of the k x k query point grid per region.
	Grid int `json:"grid" yaml:"grid"`
	// Iterations repeats the extraction for timing.
	Iterations int `json:"iterations" yaml:"iterations"`
	// Seed seeds region generation.
	Seed int64 `json:"seed" yaml:"seed"`
	// Debug enables extractor debug output.
	Debug bool `json:"debug" yaml:"debug"`
}

// DefaultConfig returns a configuration that runs out of the box on synthetic images.
//
// Returns:
//   - Config: A resize backbone with four RGB levels feeding a multi-level extractor.
//
// @example
// cfg := DefaultConfig()
// cfg.Run.Images = "./frames"
func DefaultConfig() Config {
	bb := backbone.DefaultConfig()

	ext := extractor.DefaultConfig()
	ext.FeatmapStrides = make([]float32, len(bb.Strides))
	for i, s := range bb.Strides {
		ext.FeatmapStrides[i] = float32(s)
	}
	ext.OutChannels = bb.Channels * len(bb.Strides)

	return Config{
		Extractor: extractor.NewExtractorArgs{
			Kind:   extractor.KindMultiLevel,
			Config: ext,
		},
		Backbone: bb,
		Run: RunConfig{
			BatchSize:    2,
			RoIsPerImage: 16,
			Grid:         7,
			Iterations:   10,
			Seed:         1,
		},
	}
}

// Load reads a YAML file over DefaultConfig and validates the result.
//
// Unknown keys are rejected.
//
// Arguments:
//   - path: The YAML file.
//
// Returns:
//   - Config: The loaded configuration.
//   - error: An error if the file cannot be read, parsed or validated.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "opening config %s", path)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "validating config %s", path)
	}
	return cfg, nil
}

// Validate checks every section and that the extractor matches the backbone's levels.
func (c Config) Validate() error {
	if err := c.Extractor.Config.Validate(); err != nil {
		return errors.Wrap(err, "extractor")
	}
	if err := c.Backbone.Validate(); err != nil {
		return errors.Wrap(err, "backbone")
	}
	if c.Run.BatchSize <= 0 {
		return fmt.Errorf("run: batch size must be positive, got %d", c.Run.BatchSize)
	}
	if c.Run.RoIsPerImage < 0 || c.Run.Grid < 0 {
		return fmt.Errorf("run: rois per image and grid must not be negative")
	}
	if c.Run.Iterations <= 0 {
		return fmt.Errorf("run: iterations must be positive, got %d", c.Run.Iterations)
	}
	return c.checkLevels()
}

// checkLevels verifies each consumed level's stride against the backbone and the channel sum
// against OutChannels.
func (c Config) checkLevels() error {
	ext := c.Extractor.Config
	channels := c.Backbone.LevelChannels()
	total := 0
	for k, idx := range ext.Levels() {
		if idx >= len(c.Backbone.Strides) {
			return errors.Wrapf(extractor.ErrConfigMismatch,
				"extractor consumes level %d, backbone produces %d", idx, len(c.Backbone.Strides))
		}
		if want := float32(c.Backbone.Strides[idx]); ext.FeatmapStrides[k] != want {
			return errors.Wrapf(extractor.ErrConfigMismatch,
				"extractor stride %v for level %d, backbone stride %v", ext.FeatmapStrides[k], idx, want)
		}
		total += channels[idx]
	}
	if total != ext.OutChannels {
		return errors.Wrapf(extractor.ErrChannelMismatch,
			"backbone levels provide %d channels, extractor expects %d", total, ext.OutChannels)
	}
	return nil
}
