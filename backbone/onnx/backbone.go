package onnx

import (
	"context"
	"fmt"
	"image"
	"log"
	"os"
	"sync"

	"github.com/nvr-ai/go-pointfeat/common"
	"github.com/nvr-ai/go-pointfeat/util"
	ort "github.com/yalue/onnxruntime_go"
)

// Backbone runs an ONNX feature pyramid network with preallocated input and output tensors.
//
// Forward calls are serialized because the bound tensors are shared.
type Backbone struct {
	cfg     Config
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
}

// New creates an ONNX backbone.
//
// Order of operations:
//  1. Configuration and library path checks.
//  2. Environment setup, once per process.
//  3. Tensor allocation for the fixed batch.
//  4. Session options and session creation.
//
// Arguments:
//   - cfg: The backbone configuration.
//
// Returns:
//   - *Backbone: The backbone, which the caller must Close.
//   - error: An error if the configuration is invalid or onnxruntime fails.
func New(cfg Config) (*Backbone, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("onnx backbone: %w", err)
	}
	cfg.OutputNames = append([]string(nil), cfg.OutputNames...)
	cfg.OutputChannels = append([]int(nil), cfg.OutputChannels...)
	cfg.Strides = append([]int(nil), cfg.Strides...)

	libPath := GetSharedLibPath(cfg.SharedLibraryPath)
	if _, err := os.Stat(libPath); err != nil {
		return nil, fmt.Errorf("ONNX Runtime library not found at %s: %w", libPath, err)
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("ONNX model not found at %s: %w", cfg.ModelPath, err)
	}

	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("error initializing ORT environment: %w", err)
		}
	}

	b := &Backbone{cfg: cfg}
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(
		int64(cfg.BatchSize), int64(cfg.Channels), int64(cfg.Height), int64(cfg.Width)))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	b.input = input

	for i := range cfg.OutputNames {
		s := cfg.levelShape(i)
		output, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(s[0]), int64(s[1]), int64(s[2]), int64(s[3])))
		if err != nil {
			b.destroyTensors()
			return nil, fmt.Errorf("error creating output tensor %s: %w", cfg.OutputNames[i], err)
		}
		b.outputs = append(b.outputs, output)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		b.destroyTensors()
		return nil, fmt.Errorf("error creating ORT session options: %w", err)
	}
	defer options.Destroy()

	// Intra-op threads parallelize single nodes; 0 lets onnxruntime pick.
	options.SetIntraOpNumThreads(cfg.NumThreads)
	options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended)

	outputs := make([]ort.ArbitraryTensor, len(b.outputs))
	for i, o := range b.outputs {
		outputs[i] = o
	}
	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		cfg.OutputNames,
		[]ort.ArbitraryTensor{b.input},
		outputs,
		options,
	)
	if err != nil {
		b.destroyTensors()
		return nil, fmt.Errorf("error creating ORT session: %w", err)
	}
	b.session = session

	log.Printf("✅ ONNX backbone ready: %s, outputs %v, strides %v", cfg.ModelPath, cfg.OutputNames, cfg.Strides)
	return b, nil
}

// Name returns "onnx".
func (b *Backbone) Name() string { return "onnx" }

// Strides returns the stride of every output.
func (b *Backbone) Strides() []int { return append([]int(nil), b.cfg.Strides...) }

// Forward runs the model over the batch in chunks of the model's batch size.
//
// The last chunk is zero-padded; padded rows are dropped from the result.
func (b *Backbone) Forward(ctx context.Context, images []image.Image) (common.FeaturePyramid, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil, fmt.Errorf("onnx backbone is closed")
	}

	levels := make([][]float32, len(b.outputs))
	for i := range b.outputs {
		s := b.cfg.levelShape(i)
		levels[i] = make([]float32, 0, len(images)*s[1]*s[2]*s[3])
	}

	plane := b.cfg.Channels * b.cfg.Height * b.cfg.Width
	inData := b.input.GetData()
	for start := 0; start < len(images); start += b.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+b.cfg.BatchSize, len(images))

		clear(inData)
		for i, img := range images[start:end] {
			if err := util.ImageToCHW(img, b.cfg.Width, b.cfg.Height, b.cfg.Channels,
				inData[i*plane:(i+1)*plane]); err != nil {
				return nil, fmt.Errorf("preparing image %d: %w", start+i, err)
			}
		}

		if err := b.session.Run(); err != nil {
			return nil, fmt.Errorf("error running ORT session: %w", err)
		}

		for l, out := range b.outputs {
			s := b.cfg.levelShape(l)
			per := s[1] * s[2] * s[3]
			levels[l] = append(levels[l], out.GetData()[:(end-start)*per]...)
		}
	}

	pyramid := make(common.FeaturePyramid, len(levels))
	for l, data := range levels {
		s := b.cfg.levelShape(l)
		level, err := common.NewLevel(len(images), s[1], s[2], s[3], data)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", b.cfg.OutputNames[l], err)
		}
		pyramid[l] = level
	}
	return pyramid, nil
}

// Close releases the session and its tensors.
//
// Returns:
//   - error: An error if the session fails to be destroyed.
func (b *Backbone) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.destroyTensors()
	if b.session != nil {
		err := b.session.Destroy()
		b.session = nil
		if err != nil {
			return fmt.Errorf("error destroying ORT session: %w", err)
		}
		log.Printf("🛑 ONNX backbone closed: %s", b.cfg.ModelPath)
	}
	return nil
}

func (b *Backbone) destroyTensors() {
	if b.input != nil {
		b.input.Destroy()
		b.input = nil
	}
	for _, o := range b.outputs {
		o.Destroy()
	}
	b.outputs = nil
}
