package util

import (
	"bytes"
	"image"
	_ "image/jpeg" // register JPEG decoding
	_ "image/png"  // register PNG decoding
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
)

// DecodeImage decodes a single image file.
//
// Arguments:
//   - file: The image file to decode.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: An error if the bytes are not a supported image.
func DecodeImage(file ImageFile) (image.Image, error) {
	if strings.EqualFold(filepath.Ext(file.Path), ".webp") {
		img, err := webp.Decode(bytes.NewReader(file.Data))
		if err != nil {
			return nil, errors.Wrapf(err, "decoding webp %s", file.Path)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(file.Data))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", file.Path)
	}
	return img, nil
}

// DecodeImages decodes a batch of image files, preserving order.
//
// Arguments:
//   - files: The image files to decode.
//
// Returns:
//   - []image.Image: One decoded image per file.
//   - error: The first decoding failure.
//
// @example
// files, _ := LoadDirectoryImageFiles("./frames")
// batch, err := DecodeImages(files[:4])
func DecodeImages(files []ImageFile) ([]image.Image, error) {
	images := make([]image.Image, 0, len(files))
	for _, f := range files {
		img, err := DecodeImage(f)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}
