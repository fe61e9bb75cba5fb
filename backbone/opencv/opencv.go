// Package opencv - Gaussian feature pyramids built with OpenCV.
package opencv

import (
	"context"
	"fmt"
	"image"
	"log"
	"sync"

	"github.com/nvr-ai/go-pointfeat/common"
	"gocv.io/x/gocv"
)

// Config is the geometry of an OpenCV pyramid.
type Config struct {
	Width    int
	Height   int
	Channels int
	// Strides must be powers of two; level l is the input blurred and halved log2(stride) times.
	Strides []int
}

// Validate checks the geometry.
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
		if s <= 0 || s&(s-1) != 0 {
			return fmt.Errorf("stride %d must be a power of two, got %d", i, s)
		}
		if i > 0 && s <= c.Strides[i-1] {
			return fmt.Errorf("strides must increase, got %v", c.Strides)
		}
	}
	return nil
}

// Backbone builds a Gaussian pyramid with gocv.PyrDown.
//
// PyrDown rounds odd sizes up, so a level may be one cell larger than size/stride.
type Backbone struct {
	cfg Config
	mu  sync.Mutex
}

// New creates an OpenCV backbone.
//
// Arguments:
//   - cfg: The pyramid geometry.
//
// Returns:
//   - *Backbone: The backbone.
//   - error: An error if the geometry is invalid.
func New(cfg Config) (*Backbone, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("opencv backbone: %w", err)
	}
	cfg.Strides = append([]int(nil), cfg.Strides...)
	log.Printf("✅ OpenCV backbone ready: %dx%dx%d, strides %v", cfg.Channels, cfg.Height, cfg.Width, cfg.Strides)
	return &Backbone{cfg: cfg}, nil
}

// Name returns "opencv".
func (b *Backbone) Name() string { return "opencv" }

// Strides returns the level strides.
func (b *Backbone) Strides() []int { return append([]int(nil), b.cfg.Strides...) }

// Forward builds the pyramid of every image and stacks the images per level.
func (b *Backbone) Forward(ctx context.Context, images []image.Image) (common.FeaturePyramid, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(images) == 0 {
		return nil, fmt.Errorf("opencv backbone: empty batch")
	}

	levels := make([]plane, len(b.cfg.Strides))

	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		planes, err := b.pyramid(img)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		for l, p := range planes {
			if i == 0 {
				levels[l] = plane{
					data:   make([]float32, 0, len(images)*len(p.data)),
					height: p.height,
					width:  p.width,
				}
			}
			levels[l].data = append(levels[l].data, p.data...)
		}
	}

	pyramid := make(common.FeaturePyramid, len(levels))
	for l, lv := range levels {
		level, err := common.NewLevel(len(images), b.cfg.Channels, lv.height, lv.width, lv.data)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", l, err)
		}
		pyramid[l] = level
	}
	return pyramid, nil
}

type plane struct {
	data          []float32
	height, width int
}

// pyramid returns every configured level of one image as CHW float32 in [0, 1].
func (b *Backbone) pyramid(img image.Image) ([]plane, error) {
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("converting image: %w", err)
	}
	defer src.Close()

	sized := gocv.NewMat()
	defer sized.Close()
	gocv.Resize(src, &sized, image.Pt(b.cfg.Width, b.cfg.Height), 0, 0, gocv.InterpolationLinear)
	if sized.Empty() {
		return nil, fmt.Errorf("resizing to %dx%d failed", b.cfg.Width, b.cfg.Height)
	}

	cur := gocv.NewMat()
	defer func() { cur.Close() }()
	if b.cfg.Channels == 1 {
		gray := gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(sized, &gray, gocv.ColorBGRToGray)
		gray.ConvertToWithParams(&cur, gocv.MatTypeCV32F, 1.0/255, 0)
	} else {
		sized.ConvertToWithParams(&cur, gocv.MatTypeCV32FC3, 1.0/255, 0)
	}
	if cur.Empty() {
		return nil, fmt.Errorf("converting to float32 failed")
	}

	planes := make([]plane, 0, len(b.cfg.Strides))
	scale := 1
	for _, stride := range b.cfg.Strides {
		for scale < stride {
			next := gocv.NewMat()
			gocv.PyrDown(cur, &next, image.Point{}, gocv.BorderDefault)
			cur.Close()
			cur = next
			if cur.Empty() {
				return nil, fmt.Errorf("pyramid level at stride %d is empty", scale*2)
			}
			scale *= 2
		}
		p, err := toCHW(cur, b.cfg.Channels)
		if err != nil {
			return nil, fmt.Errorf("stride %d: %w", stride, err)
		}
		planes = append(planes, p)
	}
	return planes, nil
}

// toCHW splits an interleaved float32 Mat into planar RGB (or a single luma plane).
func toCHW(m gocv.Mat, channels int) (plane, error) {
	h, w := m.Rows(), m.Cols()
	out := plane{data: make([]float32, channels*h*w), height: h, width: w}

	split := gocv.Split(m)
	defer func() {
		for _, s := range split {
			s.Close()
		}
	}()
	if len(split) != channels {
		return plane{}, fmt.Errorf("mat has %d channels, want %d", len(split), channels)
	}

	// OpenCV stores color as BGR.
	for c := 0; c < channels; c++ {
		src := split[c]
		if channels == 3 {
			src = split[2-c]
		}
		values, err := src.DataPtrFloat32()
		if err != nil {
			return plane{}, fmt.Errorf("reading channel %d: %w", c, err)
		}
		copy(out.data[c*h*w:(c+1)*h*w], values)
	}
	return out, nil
}
