// Package common - Shared geometry and feature types for point feature extraction.
package common

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// RoI is a region of interest in image coordinates, tagged with the batch image it belongs to.
type RoI struct {
	// BatchIndex selects the image of the batch the region was proposed on.
	BatchIndex int `json:"batch_index" yaml:"batch_index"`
	// X1,Y1 is the top-left corner and X2,Y2 the bottom-right corner in image pixels.
	X1 float32 `json:"x1" yaml:"x1"`
	Y1 float32 `json:"y1" yaml:"y1"`
	X2 float32 `json:"x2" yaml:"x2"`
	Y2 float32 `json:"y2" yaml:"y2"`
}

// Point is a 2D coordinate. Depending on context it is region-local ([0,1]² relative to a RoI),
// image pixels or feature-grid units.
type Point struct {
	X, Y float32
}

func (r RoI) String() string {
	return fmt.Sprintf("RoI[%d] (%f, %f), (%f, %f)", r.BatchIndex, r.X1, r.Y1, r.X2, r.Y2)
}

// Width returns the horizontal extent of the region. Degenerate boxes yield zero or a negative value.
func (r RoI) Width() float32 { return r.X2 - r.X1 }

// Height returns the vertical extent of the region.
func (r RoI) Height() float32 { return r.Y2 - r.Y1 }

// RegionToImage maps a point from the region's normalized local space into absolute image
// coordinates.
//
// The mapping is affine and does not clamp, so points outside [0,1]² land outside the box.
//
// Arguments:
//   - roi: The region whose box defines the local frame.
//   - p: The region-local point.
//
// Returns:
//   - The point in image pixels.
//
// @example
// img := RegionToImage(RoI{X1: 10, Y1: 20, X2: 30, Y2: 60}, Point{X: 0.5, Y: 0.5}) // (20, 40)
func RegionToImage(roi RoI, p Point) Point {
	return Point{
		X: roi.X1 + p.X*roi.Width(),
		Y: roi.Y1 + p.Y*roi.Height(),
	}
}

// ProjectPoints maps every region-local point of a region into image coordinates.
//
// Arguments:
//   - roi: The region whose box defines the local frame.
//   - points: Region-local query points.
//   - dst: Optional destination; reused when it has enough capacity.
//
// Returns:
//   - The projected points, len(points) long.
func ProjectPoints(roi RoI, points []Point, dst []Point) []Point {
	if cap(dst) < len(points) {
		dst = make([]Point, len(points))
	}
	dst = dst[:len(points)]
	for i, p := range points {
		dst[i] = RegionToImage(roi, p)
	}
	return dst
}

// GridPoints returns a k×k grid of cell-center points covering the unit square, row-major.
//
// @example
// GridPoints(2) // (0.25,0.25) (0.75,0.25) (0.25,0.75) (0.75,0.75)
func GridPoints(k int) []Point {
	if k <= 0 {
		return []Point{}
	}
	step := 1 / float32(k)
	points := make([]Point, 0, k*k)
	for y := 0; y < k; y++ {
		for x := 0; x < k; x++ {
			points = append(points, Point{
				X: (float32(x) + 0.5) * step,
				Y: (float32(y) + 0.5) * step,
			})
		}
	}
	return points
}

// IsFinite reports whether both coordinates are neither NaN nor infinite.
func (p Point) IsFinite() bool {
	return !math32.IsNaN(p.X) && !math32.IsNaN(p.Y) && !math32.IsInf(p.X, 0) && !math32.IsInf(p.Y, 0)
}

// RoIsFromTensor converts a (N, 5) float32 tensor laid out as [batch, x1, y1, x2, y2] into
// regions.
//
// Arguments:
//   - t: The region tensor. Batch indices must be integral.
//
// Returns:
//   - []RoI: One region per row.
//   - error: If the tensor has the wrong shape, dtype or a fractional batch index.
func RoIsFromTensor(t *tensor.Dense) ([]RoI, error) {
	data, shape, err := float32Data(t)
	if err != nil {
		return nil, errors.Wrap(err, "rois")
	}
	if len(shape) != 2 || shape[1] != 5 {
		return nil, errors.Errorf("rois: expected shape (N, 5), got %v", shape)
	}

	rois := make([]RoI, shape[0])
	for i := range rois {
		row := data[i*5 : i*5+5]
		if row[0] != math32.Floor(row[0]) {
			return nil, errors.Errorf("rois: row %d has fractional batch index %f", i, row[0])
		}
		rois[i] = RoI{BatchIndex: int(row[0]), X1: row[1], Y1: row[2], X2: row[3], Y2: row[4]}
	}
	return rois, nil
}

// RoIsToTensor packs regions into a (N, 5) float32 tensor.
func RoIsToTensor(rois []RoI) *tensor.Dense {
	data := make([]float32, 0, len(rois)*5)
	for _, r := range rois {
		data = append(data, float32(r.BatchIndex), r.X1, r.Y1, r.X2, r.Y2)
	}
	return tensor.New(tensor.WithShape(len(rois), 5), tensor.WithBacking(data))
}

// PointsFromTensor converts a (N, P, 2) float32 tensor of (x, y) pairs into per-region point
// sets.
func PointsFromTensor(t *tensor.Dense) ([][]Point, error) {
	data, shape, err := float32Data(t)
	if err != nil {
		return nil, errors.Wrap(err, "points")
	}
	if len(shape) != 3 || shape[2] != 2 {
		return nil, errors.Errorf("points: expected shape (N, P, 2), got %v", shape)
	}

	n, p := shape[0], shape[1]
	points := make([][]Point, n)
	for i := range points {
		points[i] = make([]Point, p)
		for j := range points[i] {
			off := (i*p + j) * 2
			points[i][j] = Point{X: data[off], Y: data[off+1]}
		}
	}
	return points, nil
}

// PointsToTensor packs per-region point sets into a (N, P, 2) float32 tensor. Every set must
// have the same length.
func PointsToTensor(points [][]Point) (*tensor.Dense, error) {
	p := 0
	if len(points) > 0 {
		p = len(points[0])
	}
	data := make([]float32, 0, len(points)*p*2)
	for i, set := range points {
		if len(set) != p {
			return nil, errors.Errorf("points: region %d has %d points, expected %d", i, len(set), p)
		}
		for _, pt := range set {
			data = append(data, pt.X, pt.Y)
		}
	}
	return tensor.New(tensor.WithShape(len(points), p, 2), tensor.WithBacking(data)), nil
}

// float32Data returns the contiguous float32 backing of t, materializing views first.
func float32Data(t *tensor.Dense) ([]float32, tensor.Shape, error) {
	if t == nil {
		return nil, nil, errors.New("tensor is nil")
	}
	if t.Dtype() != tensor.Float32 {
		return nil, nil, errors.Errorf("expected float32 tensor, got %v", t.Dtype())
	}
	if t.IsMaterializable() {
		m, ok := t.Materialize().(*tensor.Dense)
		if !ok {
			return nil, nil, errors.New("unable to materialize tensor view")
		}
		t = m
	}
	return t.Float32s(), t.Shape(), nil
}
