package backbone

import (
	"context"
	"fmt"
	"image"
	"log"

	"github.com/nvr-ai/go-pointfeat/common"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Pooling builds a max-pooling pyramid with a gorgonia expression graph.
//
// The first level pools the input with a window equal to its stride; every following level pools
// the previous one 2x2 with stride 2. Strides must therefore double from level to level.
type Pooling struct {
	cfg Config
}

var _ Backbone = (*Pooling)(nil)

// NewPooling creates a pooling backbone.
//
// Arguments:
//   - cfg: The backbone geometry. Strides must be s, 2s, 4s, ...
//
// Returns:
//   - *Pooling: The backbone.
//   - error: An error if the geometry is invalid.
func NewPooling(cfg Config) (*Pooling, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "pooling backbone")
	}
	for i := 1; i < len(cfg.Strides); i++ {
		if cfg.Strides[i] != 2*cfg.Strides[i-1] {
			return nil, fmt.Errorf("pooling backbone: stride %d must double stride %d, got %v",
				i, i-1, cfg.Strides)
		}
	}
	cfg.Kind = KindPooling
	cfg.Strides = append([]int(nil), cfg.Strides...)
	log.Printf("✅ Pooling backbone ready: %dx%dx%d, strides %v", cfg.Channels, cfg.Height, cfg.Width, cfg.Strides)
	return &Pooling{cfg: cfg}, nil
}

// Name returns "pooling".
func (p *Pooling) Name() string { return string(KindPooling) }

// Strides returns the level strides.
func (p *Pooling) Strides() []int { return append([]int(nil), p.cfg.Strides...) }

// Forward runs the pooling graph over the batch.
//
// A graph is built per call because its input node is shaped by the batch size.
func (p *Pooling) Forward(ctx context.Context, images []image.Image) (common.FeaturePyramid, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("pooling backbone: empty batch")
	}
	data, err := batchInputs(ctx, p.cfg, images)
	if err != nil {
		return nil, err
	}

	g := G.NewGraph()
	input := G.NewTensor(g, tensor.Float32, 4,
		G.WithShape(len(images), p.cfg.Channels, p.cfg.Height, p.cfg.Width),
		G.WithName("input"))

	levels := make([]*G.Node, len(p.cfg.Strides))
	prev := input
	for l, stride := range p.cfg.Strides {
		kernel := 2
		if l == 0 {
			kernel = stride
		}
		if kernel == 1 {
			levels[l] = prev
			continue
		}
		pooled, err := G.MaxPool2D(prev, tensor.Shape{kernel, kernel}, []int{0, 0}, []int{kernel, kernel})
		if err != nil {
			return nil, errors.Wrapf(err, "building pool for level %d", l)
		}
		levels[l] = pooled
		prev = pooled
	}

	x := tensor.New(tensor.WithShape(len(images), p.cfg.Channels, p.cfg.Height, p.cfg.Width),
		tensor.Of(tensor.Float32), tensor.WithBacking(data))
	if err := G.Let(input, x); err != nil {
		return nil, errors.Wrap(err, "binding pooling input")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "running pooling graph")
	}

	pyramid := make(common.FeaturePyramid, len(levels))
	for l, n := range levels {
		v, ok := n.Value().(*tensor.Dense)
		if !ok {
			return nil, fmt.Errorf("level %d produced %T, want *tensor.Dense", l, n.Value())
		}
		// Tape machine buffers are reused across runs.
		pyramid[l] = v.Clone().(*tensor.Dense)
	}
	return pyramid, nil
}

// Close is a no-op; graphs live for a single Forward call.
func (p *Pooling) Close() error { return nil }
