package util

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestLoadDirectoryImages(t *testing.T) {
	dir := t.TempDir()
	data := encodePNG(t, solid(2, 2, color.White))
	for _, name := range []string{"frame-10.png", "frame-2.png", "cover.png", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	images, err := LoadDirectoryImageFiles(dir)
	require.NoError(t, err)
	require.Len(t, images, 3)

	assert.Equal(t, 2, images[0].Frame)
	assert.Equal(t, 10, images[1].Frame)
	assert.Equal(t, -1, images[2].Frame)
	assert.Equal(t, filepath.Join(dir, "cover.png"), images[2].Path)
	for _, f := range images {
		assert.Equal(t, data, f.Data)
	}
}

func TestLoadDirectoryImagesMissingDir(t *testing.T) {
	_, err := LoadDirectoryImageFiles(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestDecodeImages(t *testing.T) {
	files := []ImageFile{
		{Path: "a.png", Data: encodePNG(t, solid(3, 2, color.Black))},
		{Path: "b.png", Data: encodePNG(t, solid(4, 5, color.White))},
	}
	images, err := DecodeImages(files)
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, image.Rect(0, 0, 4, 5), images[1].Bounds())

	_, err = DecodeImages([]ImageFile{{Path: "bad.png", Data: []byte("nope")}})
	assert.Error(t, err)

	_, err = DecodeImage(ImageFile{Path: "bad.webp", Data: []byte("nope")})
	assert.Error(t, err)
}

func TestImageToCHW(t *testing.T) {
	img := solid(2, 2, color.RGBA{R: 255, G: 0, B: 51, A: 255})

	rgb := make([]float32, 3*4)
	require.NoError(t, ImageToCHW(img, 2, 2, 3, rgb))
	assert.InDeltaSlice(t, []float32{1, 1, 1, 1, 0, 0, 0, 0, 0.2, 0.2, 0.2, 0.2}, rgb, 1e-6)

	gray := make([]float32, 4)
	require.NoError(t, ImageToCHW(img, 2, 2, 1, gray))
	assert.InDelta(t, 0.299+0.114*0.2, gray[0], 1e-5)

	// A resized solid image stays solid.
	big := make([]float32, 3*16)
	require.NoError(t, ImageToCHW(img, 4, 4, 3, big))
	assert.InDelta(t, 1, big[0], 1e-2)
	assert.InDelta(t, 0, big[16], 1e-2)

	assert.Error(t, ImageToCHW(img, 2, 2, 2, rgb))
	assert.Error(t, ImageToCHW(img, 2, 2, 3, make([]float32, 3)))
	assert.Error(t, ImageToCHW(img, 0, 2, 3, rgb))
}
