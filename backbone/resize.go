package backbone

import (
	"context"
	"image"
	"log"

	"github.com/nfnt/resize"
	"github.com/nvr-ai/go-pointfeat/common"
	"github.com/nvr-ai/go-pointfeat/util"
	"github.com/pkg/errors"
)

// Resize builds every level by resizing the input image to the level's resolution.
//
// Level l of an image is the image resized to (Width/stride_l, Height/stride_l) with bilinear
// interpolation, stored as planar channels in [0, 1].
type Resize struct {
	cfg Config
}

var _ Backbone = (*Resize)(nil)

// NewResize creates a resize backbone.
//
// Arguments:
//   - cfg: The backbone geometry.
//
// Returns:
//   - *Resize: The backbone.
//   - error: An error if the geometry is invalid.
func NewResize(cfg Config) (*Resize, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "resize backbone")
	}
	cfg.Kind = KindResize
	cfg.Strides = append([]int(nil), cfg.Strides...)
	log.Printf("✅ Resize backbone ready: %dx%dx%d, strides %v", cfg.Channels, cfg.Height, cfg.Width, cfg.Strides)
	return &Resize{cfg: cfg}, nil
}

// Name returns "resize".
func (r *Resize) Name() string { return string(KindResize) }

// Strides returns the level strides.
func (r *Resize) Strides() []int { return append([]int(nil), r.cfg.Strides...) }

// Forward produces one level per stride.
func (r *Resize) Forward(ctx context.Context, images []image.Image) (common.FeaturePyramid, error) {
	// Fit every image to the input size first so that all levels see the same field of view.
	fitted := make([]image.Image, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fitted[i] = img
		if b := img.Bounds(); b.Dx() != r.cfg.Width || b.Dy() != r.cfg.Height {
			fitted[i] = resize.Resize(uint(r.cfg.Width), uint(r.cfg.Height), img, resize.Bilinear)
		}
	}

	c := r.cfg.Channels
	pyramid := make(common.FeaturePyramid, len(r.cfg.Strides))
	for l, stride := range r.cfg.Strides {
		w, h := r.cfg.Width/stride, r.cfg.Height/stride
		plane := c * h * w
		data := make([]float32, len(images)*plane)

		for i, img := range fitted {
			if err := util.ImageToCHW(img, w, h, c, data[i*plane:(i+1)*plane]); err != nil {
				return nil, errors.Wrapf(err, "level %d image %d", l, i)
			}
		}

		level, err := common.NewLevel(len(images), c, h, w, data)
		if err != nil {
			return nil, errors.Wrapf(err, "level %d", l)
		}
		pyramid[l] = level
	}
	return pyramid, nil
}

// Close is a no-op.
func (r *Resize) Close() error { return nil }
