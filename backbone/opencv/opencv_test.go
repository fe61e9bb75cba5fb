package opencv

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{Width: 32, Height: 32, Channels: 3, Strides: []int{1, 4, 8}}.Validate())

	assert.Error(t, Config{Width: 32, Height: 32, Channels: 3, Strides: []int{6}}.Validate())
	assert.Error(t, Config{Width: 32, Height: 32, Channels: 3, Strides: []int{8, 4}}.Validate())
	assert.Error(t, Config{Width: 32, Height: 32, Channels: 4, Strides: []int{4}}.Validate())
	assert.Error(t, Config{Width: 0, Height: 32, Channels: 3, Strides: []int{4}}.Validate())
	assert.Error(t, Config{Width: 32, Height: 32, Channels: 3}.Validate())
}

func TestForward(t *testing.T) {
	bb, err := New(Config{Width: 16, Height: 16, Channels: 3, Strides: []int{2, 4}})
	require.NoError(t, err)

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: 255, B: 51, A: 255})
		}
	}

	fp, err := bb.Forward(context.Background(), []image.Image{img, img})
	require.NoError(t, err)
	require.Equal(t, 2, fp.Levels())

	s, err := fp.Shape(1)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Batch)
	assert.Equal(t, 3, s.Channels)
	assert.Equal(t, 4, s.Height)
	assert.Equal(t, 4, s.Width)

	// Blurring a solid image keeps it solid; channels come out in RGB order.
	plane, _, err := fp.Plane(0, 1)
	require.NoError(t, err)
	hw := 8 * 8
	assert.InDelta(t, 1, plane[0], 1e-3)
	assert.InDelta(t, 0, plane[hw], 1e-3)
	assert.InDelta(t, 0.2, plane[2*hw], 1e-3)

	_, err = bb.Forward(context.Background(), nil)
	assert.Error(t, err)
}
