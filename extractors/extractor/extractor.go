// Package extractor - Definitions shared by point feature extractors.
package extractor

import (
	"runtime"

	"github.com/nvr-ai/go-pointfeat/common"
	"github.com/nvr-ai/go-pointfeat/sampling"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Kind is the unique identifier of an extractor implementation.
type Kind string

const (
	// KindMultiLevel samples every configured pyramid level and concatenates the levels along the
	// channel axis.
	KindMultiLevel Kind = "multi_level"
)

var (
	// ErrConfigMismatch is returned when the stride list, level indices or channel depth do not
	// agree with each other or with the pyramid being consumed.
	ErrConfigMismatch = errors.New("extractor configuration mismatch")
	// ErrChannelMismatch is returned when the consumed levels' channels do not sum to OutChannels.
	ErrChannelMismatch = errors.New("level channels do not sum to output channels")
	// ErrShapeMismatch is returned when inputs disagree on shape.
	ErrShapeMismatch = errors.New("input shape mismatch")
	// ErrBatchIndexOutOfRange is returned when a region names a batch image that does not exist.
	ErrBatchIndexOutOfRange = errors.New("region batch index out of range")
	// ErrNonFinitePoint is returned when a query point is NaN or infinite.
	ErrNonFinitePoint = errors.New("query point is not finite")
	// ErrUnsupportedKind is returned by the factory for an unknown Kind.
	ErrUnsupportedKind = errors.New("unsupported extractor kind")
)

// ParallelConfig controls how batch images are fanned out across goroutines.
type ParallelConfig struct {
	Enabled    bool `json:"enabled"     yaml:"enabled"`
	NumWorkers int  `json:"num_workers" yaml:"num_workers"`
}

// Config is fixed at construction time.
type Config struct {
	// OutChannels is the depth of the per-point output vector.
	OutChannels int `json:"out_channels" yaml:"out_channels"`
	// FeatmapStrides holds one stride per consumed level, in consumption order.
	FeatmapStrides []float32 `json:"featmap_strides" yaml:"featmap_strides"`
	// InIndices selects and orders the pyramid levels to consume. Empty means all levels in order.
	InIndices []int `json:"in_indices,omitempty" yaml:"in_indices,omitempty"`
	// AlignCorners is passed to the sampler.
	AlignCorners bool `json:"align_corners" yaml:"align_corners"`
	// Padding is passed to the sampler.
	Padding sampling.PaddingMode `json:"padding" yaml:"padding"`
	// SkipOrphanRegions leaves rows of regions with an out-of-range batch index zeroed instead of
	// failing the call.
	SkipOrphanRegions bool `json:"skip_orphan_regions" yaml:"skip_orphan_regions"`
	// Parallel fans batch images out across goroutines.
	Parallel ParallelConfig `json:"parallel" yaml:"parallel"`
}

// DefaultConfig returns the configuration of a four-level FPN head with 256 channels per level.
//
// Returns:
//   - Config: Strides 4, 8, 16, 32 and 1024 output channels.
//
// @example
// cfg := DefaultConfig()
// cfg.OutChannels = 512
func DefaultConfig() Config {
	return Config{
		OutChannels:    1024,
		FeatmapStrides: []float32{4, 8, 16, 32},
		Padding:        sampling.PaddingZeros,
		Parallel: ParallelConfig{
			Enabled:    false,
			NumWorkers: runtime.NumCPU(),
		},
	}
}

// NumInputs returns the number of pyramid levels consumed.
func (c Config) NumInputs() int { return len(c.FeatmapStrides) }

// Levels returns the pyramid level consumed at each position, InIndices when set.
func (c Config) Levels() []int {
	if len(c.InIndices) > 0 {
		return append([]int(nil), c.InIndices...)
	}
	levels := make([]int, c.NumInputs())
	for i := range levels {
		levels[i] = i
	}
	return levels
}

// Validate checks the configuration on its own, without a pyramid.
//
// Returns:
//   - error: Wrapping ErrConfigMismatch when the configuration is inconsistent.
func (c Config) Validate() error {
	if c.OutChannels <= 0 {
		return errors.Wrapf(ErrConfigMismatch, "out channels must be positive, got %d", c.OutChannels)
	}
	if len(c.FeatmapStrides) == 0 {
		return errors.Wrap(ErrConfigMismatch, "at least one featmap stride is required")
	}
	for i, s := range c.FeatmapStrides {
		if !(s > 0) {
			return errors.Wrapf(ErrConfigMismatch, "stride %d must be positive, got %f", i, s)
		}
	}
	if len(c.InIndices) > 0 && len(c.InIndices) != len(c.FeatmapStrides) {
		return errors.Wrapf(ErrConfigMismatch, "%d in indices but %d featmap strides",
			len(c.InIndices), len(c.FeatmapStrides))
	}
	for _, idx := range c.InIndices {
		if idx < 0 {
			return errors.Wrapf(ErrConfigMismatch, "negative level index %d", idx)
		}
	}
	if c.Parallel.Enabled && c.Parallel.NumWorkers <= 0 {
		return errors.Wrapf(ErrConfigMismatch, "parallel extraction needs at least one worker, got %d",
			c.Parallel.NumWorkers)
	}
	return nil
}

// SamplingOptions returns the sampler options derived from the configuration.
func (c Config) SamplingOptions() sampling.Options {
	return sampling.Options{AlignCorners: c.AlignCorners, Padding: c.Padding}
}

// Extractor produces per-point features for a set of regions.
type Extractor interface {
	// Config returns a copy of the construction-time configuration.
	Config() Config
	// Extract returns a (len(rois), OutChannels, P) tensor.
	Extract(feats common.FeaturePyramid, rois []common.RoI, points [][]common.Point) (*tensor.Dense, error)
	// ExtractTensors is Extract for a (N, 5) region tensor and a (N, P, 2) point tensor.
	ExtractTensors(feats common.FeaturePyramid, rois, points *tensor.Dense) (*tensor.Dense, error)
}

// NewExtractorArgs is the arguments for creating a new extractor.
type NewExtractorArgs struct {
	Kind   Kind   `json:"kind"   yaml:"kind"`
	Config Config `json:"config" yaml:"config"`
}
