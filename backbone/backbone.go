// Package backbone - Feature pyramid producers for point feature extraction.
package backbone

import (
	"context"
	"fmt"
	"image"

	"github.com/nvr-ai/go-pointfeat/backbone/onnx"
	"github.com/nvr-ai/go-pointfeat/backbone/opencv"
	"github.com/nvr-ai/go-pointfeat/common"
	"github.com/nvr-ai/go-pointfeat/util"
	"github.com/pkg/errors"
)

// Backbone turns a batch of images into a feature pyramid.
type Backbone interface {
	// Name returns a short identifier for logs.
	Name() string
	// Strides returns the stride of every produced level, in level order.
	Strides() []int
	// Forward produces one (batch, channels, height, width) tensor per level.
	Forward(ctx context.Context, images []image.Image) (common.FeaturePyramid, error)
	// Close releases any native resources.
	Close() error
}

// Kind is the unique identifier of a backbone implementation.
type Kind string

const (
	// KindResize resizes the image once per level.
	KindResize Kind = "resize"
	// KindPooling max-pools the image through a gorgonia graph.
	KindPooling Kind = "pooling"
	// KindONNX runs an ONNX model that emits one output per level.
	KindONNX Kind = "onnx"
	// KindOpenCV builds a Gaussian pyramid with OpenCV.
	KindOpenCV Kind = "opencv"
)

// ErrUnsupportedKind is returned by New for an unknown Kind.
var ErrUnsupportedKind = errors.New("unsupported backbone kind")

// Config selects and configures a backbone.
type Config struct {
	Kind Kind `json:"kind" yaml:"kind"`
	// Width and Height are the size every image is resized to before the pyramid is built.
	Width  int `json:"width"  yaml:"width"`
	Height int `json:"height" yaml:"height"`
	// Channels is 1 (luma) or 3 (RGB).
	Channels int `json:"channels" yaml:"channels"`
	// Strides holds the stride of every level.
	Strides []int `json:"strides" yaml:"strides"`
	// ONNX configures KindONNX. Zero geometry fields inherit the values above.
	ONNX onnx.Config `json:"onnx" yaml:"onnx"`
}

// DefaultConfig returns a resize backbone producing four RGB levels from 256x256 inputs.
func DefaultConfig() Config {
	return Config{
		Kind:     KindResize,
		Width:    256,
		Height:   256,
		Channels: 3,
		Strides:  []int{4, 8, 16, 32},
		ONNX:     onnx.DefaultConfig(),
	}
}

// Validate checks the geometry shared by every backbone.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid input size %dx%d", c.Width, c.Height)
	}
	if c.Channels != 1 && c.Channels != 3 {
		return fmt.Errorf("unsupported channel count %d, want 1 or 3", c.Channels)
	}
	if len(c.Strides) == 0 {
		return fmt.Errorf("at least one stride is required")
	}
	for i, s := range c.Strides {
		if s <= 0 {
			return fmt.Errorf("stride %d must be positive, got %d", i, s)
		}
		if c.Width/s == 0 || c.Height/s == 0 {
			return fmt.Errorf("stride %d leaves an empty level for a %dx%d input", s, c.Width, c.Height)
		}
	}
	return nil
}

// LevelChannels returns the channel depth of every level the configured backbone produces.
func (c Config) LevelChannels() []int {
	channels := make([]int, len(c.Strides))
	for i := range channels {
		channels[i] = c.Channels
		if c.Kind == KindONNX && i < len(c.ONNX.OutputChannels) {
			channels[i] = c.ONNX.OutputChannels[i]
		}
	}
	return channels
}

// New creates a backbone of the configured kind.
//
// Arguments:
//   - cfg: The backbone configuration. An empty kind selects KindResize.
//
// Returns:
//   - Backbone: The backbone, which the caller must Close.
//   - error: Wrapping ErrUnsupportedKind for unknown kinds, or the constructor's error.
//
// @example
// bb, err := New(DefaultConfig())
//
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// defer bb.Close()
func New(cfg Config) (Backbone, error) {
	var (
		bb  Backbone
		err error
	)
	switch cfg.Kind {
	case KindResize, "":
		bb, err = NewResize(cfg)
	case KindPooling:
		bb, err = NewPooling(cfg)
	case KindONNX:
		oc := cfg.ONNX
		if oc.Width == 0 {
			oc.Width = cfg.Width
		}
		if oc.Height == 0 {
			oc.Height = cfg.Height
		}
		if oc.Channels == 0 {
			oc.Channels = cfg.Channels
		}
		if len(oc.Strides) == 0 {
			oc.Strides = cfg.Strides
		}
		bb, err = onnx.New(oc)
	case KindOpenCV:
		bb, err = opencv.New(opencv.Config{
			Width:    cfg.Width,
			Height:   cfg.Height,
			Channels: cfg.Channels,
			Strides:  cfg.Strides,
		})
	default:
		return nil, errors.Wrapf(ErrUnsupportedKind, "%q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return bb, nil
}

// batchInputs converts a batch of images into a (batch, channels, height, width) buffer.
func batchInputs(ctx context.Context, cfg Config, images []image.Image) ([]float32, error) {
	plane := cfg.Channels * cfg.Height * cfg.Width
	data := make([]float32, len(images)*plane)
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := util.ImageToCHW(img, cfg.Width, cfg.Height, cfg.Channels, data[i*plane:(i+1)*plane]); err != nil {
			return nil, errors.Wrapf(err, "preparing image %d", i)
		}
	}
	return data, nil
}
