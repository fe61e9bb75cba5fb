// Package onnx - Feature pyramids from ONNX models through onnxruntime.
package onnx

import (
	"fmt"
)

// Config is the configuration of an ONNX feature backbone.
type Config struct {
	// ModelPath is the ONNX model file. Its outputs are the pyramid levels.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// SharedLibraryPath overrides the onnxruntime library location.
	SharedLibraryPath string `json:"shared_library_path,omitempty" yaml:"shared_library_path,omitempty"`
	// InputName is the model's image input.
	InputName string `json:"input_name" yaml:"input_name"`
	// OutputNames lists one model output per level, in level order.
	OutputNames []string `json:"output_names" yaml:"output_names"`
	// OutputChannels holds the channel depth of every output.
	OutputChannels []int `json:"output_channels" yaml:"output_channels"`
	// BatchSize is the fixed batch dimension of the model.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// NumThreads bounds intra-op parallelism; 0 lets onnxruntime decide.
	NumThreads int `json:"num_threads" yaml:"num_threads"`

	Width    int   `json:"width,omitempty"    yaml:"width,omitempty"`
	Height   int   `json:"height,omitempty"   yaml:"height,omitempty"`
	Channels int   `json:"channels,omitempty" yaml:"channels,omitempty"`
	Strides  []int `json:"strides,omitempty"  yaml:"strides,omitempty"`
}

// DefaultConfig returns the names of a typical FPN export with four 256-channel outputs.
func DefaultConfig() Config {
	return Config{
		InputName:      "images",
		OutputNames:    []string{"p2", "p3", "p4", "p5"},
		OutputChannels: []int{256, 256, 256, 256},
		BatchSize:      1,
	}
}

// Validate checks the configuration without touching onnxruntime.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return fmt.Errorf("model path is required")
	}
	if c.InputName == "" {
		return fmt.Errorf("input name is required")
	}
	if len(c.OutputNames) == 0 {
		return fmt.Errorf("at least one output name is required")
	}
	if len(c.OutputChannels) != len(c.OutputNames) {
		return fmt.Errorf("%d output channel counts for %d outputs", len(c.OutputChannels), len(c.OutputNames))
	}
	if len(c.Strides) != len(c.OutputNames) {
		return fmt.Errorf("%d strides for %d outputs", len(c.Strides), len(c.OutputNames))
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid input size %dx%d", c.Width, c.Height)
	}
	if c.Channels != 1 && c.Channels != 3 {
		return fmt.Errorf("unsupported channel count %d, want 1 or 3", c.Channels)
	}
	for i, ch := range c.OutputChannels {
		if ch <= 0 {
			return fmt.Errorf("output %d channel count must be positive, got %d", i, ch)
		}
		s := c.Strides[i]
		if s <= 0 || c.Width/s == 0 || c.Height/s == 0 {
			return fmt.Errorf("stride %d is invalid for a %dx%d input", s, c.Width, c.Height)
		}
	}
	return nil
}

// levelShape returns the (batch, channels, height, width) of output i.
func (c Config) levelShape(i int) [4]int {
	return [4]int{c.BatchSize, c.OutputChannels[i], c.Height / c.Strides[i], c.Width / c.Strides[i]}
}
