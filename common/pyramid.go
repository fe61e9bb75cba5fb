package common

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// FeaturePyramid is an ordered set of feature maps, one per level, each shaped
// (batch, channels, height, width). Spatial size shrinks as the level index grows.
type FeaturePyramid []*tensor.Dense

// LevelShape describes one level of a pyramid.
type LevelShape struct {
	Batch    int
	Channels int
	Height   int
	Width    int
}

// NewLevel wraps a flat NCHW float32 slice as one pyramid level. The slice is used as the
// backing store without copying.
func NewLevel(batch, channels, height, width int, data []float32) (*tensor.Dense, error) {
	if want := batch * channels * height * width; len(data) != want {
		return nil, errors.Errorf("level data has %d values, shape (%d, %d, %d, %d) needs %d",
			len(data), batch, channels, height, width, want)
	}
	return tensor.New(tensor.WithShape(batch, channels, height, width), tensor.WithBacking(data)), nil
}

// Levels returns the number of levels in the pyramid.
func (fp FeaturePyramid) Levels() int { return len(fp) }

// Shape returns the (batch, channels, height, width) of level l.
//
// Arguments:
//   - l: Level index in [0, Levels()).
//
// Returns:
//   - LevelShape: The level dimensions.
//   - error: If l is out of range or the level is not a 4-D float32 tensor.
func (fp FeaturePyramid) Shape(l int) (LevelShape, error) {
	if l < 0 || l >= len(fp) {
		return LevelShape{}, errors.Errorf("level %d out of range [0, %d)", l, len(fp))
	}
	t := fp[l]
	if t == nil {
		return LevelShape{}, errors.Errorf("level %d is nil", l)
	}
	if t.Dtype() != tensor.Float32 {
		return LevelShape{}, errors.Errorf("level %d has dtype %v, expected float32", l, t.Dtype())
	}
	s := t.Shape()
	if len(s) != 4 {
		return LevelShape{}, errors.Errorf("level %d has shape %v, expected (batch, channels, height, width)", l, s)
	}
	return LevelShape{Batch: s[0], Channels: s[1], Height: s[2], Width: s[3]}, nil
}

// BatchSize returns the batch dimension shared by all levels.
//
// Returns:
//   - int: The batch size.
//   - error: If the pyramid is empty, a level is malformed or levels disagree on batch size.
func (fp FeaturePyramid) BatchSize() (int, error) {
	if len(fp) == 0 {
		return 0, errors.New("feature pyramid has no levels")
	}
	batch := -1
	for l := range fp {
		s, err := fp.Shape(l)
		if err != nil {
			return 0, err
		}
		if batch >= 0 && s.Batch != batch {
			return 0, errors.Errorf("level %d has batch size %d, level 0 has %d", l, s.Batch, batch)
		}
		batch = s.Batch
	}
	return batch, nil
}

// Plane returns the contiguous (channels, height, width) slice of level l for batch image b.
//
// The returned slice aliases the level's backing store and must not be modified.
func (fp FeaturePyramid) Plane(l, b int) ([]float32, LevelShape, error) {
	s, err := fp.Shape(l)
	if err != nil {
		return nil, LevelShape{}, err
	}
	if b < 0 || b >= s.Batch {
		return nil, LevelShape{}, errors.Errorf("batch image %d out of range [0, %d)", b, s.Batch)
	}
	data, _, err := float32Data(fp[l])
	if err != nil {
		return nil, LevelShape{}, errors.Wrapf(err, "level %d", l)
	}
	size := s.Channels * s.Height * s.Width
	return data[b*size : (b+1)*size], s, nil
}
