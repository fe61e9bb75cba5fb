package util

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
)

// ImageToCHW resizes an image and writes it into dst as planar float32 channels in [0, 1].
//
// Three channels are written in RGB order; a single channel holds ITU-R BT.601 luma.
//
// Arguments:
//   - img: The image to convert.
//   - width: The target width.
//   - height: The target height.
//   - channels: 1 or 3.
//   - dst: The destination, at least channels*height*width long.
//
// Returns:
//   - error: An error if the channel count is unsupported or dst is too small.
func ImageToCHW(img image.Image, width, height, channels int, dst []float32) error {
	if channels != 1 && channels != 3 {
		return fmt.Errorf("unsupported channel count %d, want 1 or 3", channels)
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid target size %dx%d", width, height)
	}
	plane := width * height
	if len(dst) < channels*plane {
		return fmt.Errorf("destination only holds %d floats, needs %d", len(dst), channels*plane)
	}

	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		img = resize.Resize(uint(width), uint(height), img, resize.Bilinear)
		b = img.Bounds()
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			rf := float32(r>>8) / 255.0
			gf := float32(g>>8) / 255.0
			bf := float32(bl>>8) / 255.0
			if channels == 1 {
				dst[i] = 0.299*rf + 0.587*gf + 0.114*bf
			} else {
				dst[i] = rf
				dst[plane+i] = gf
				dst[2*plane+i] = bf
			}
			i++
		}
	}
	return nil
}
