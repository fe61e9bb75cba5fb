package common

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestRegionToImage(t *testing.T) {
	roi := RoI{BatchIndex: 1, X1: 10, Y1: 20, X2: 30, Y2: 60}

	tests := []struct {
		name     string
		local    Point
		expected Point
	}{
		{name: "origin", local: Point{X: 0, Y: 0}, expected: Point{X: 10, Y: 20}},
		{name: "center", local: Point{X: 0.5, Y: 0.5}, expected: Point{X: 20, Y: 40}},
		{name: "far corner", local: Point{X: 1, Y: 1}, expected: Point{X: 30, Y: 60}},
		{name: "outside is not clamped", local: Point{X: -0.5, Y: 1.5}, expected: Point{X: 0, Y: 80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RegionToImage(roi, tt.local)
			assert.InDelta(t, tt.expected.X, got.X, 1e-5)
			assert.InDelta(t, tt.expected.Y, got.Y, 1e-5)
		})
	}
}

func TestProjectPointsDegenerateRegion(t *testing.T) {
	roi := RoI{X1: 5, Y1: 5, X2: 5, Y2: 5}
	got := ProjectPoints(roi, GridPoints(2), nil)
	require.Len(t, got, 4)
	for _, p := range got {
		assert.Equal(t, Point{X: 5, Y: 5}, p)
	}
}

func TestGridPoints(t *testing.T) {
	assert.Equal(t, []Point{{X: 0.25, Y: 0.25}, {X: 0.75, Y: 0.25}, {X: 0.25, Y: 0.75}, {X: 0.75, Y: 0.75}}, GridPoints(2))
	assert.Empty(t, GridPoints(0))
	assert.Len(t, GridPoints(7), 49)
}

func TestPointIsFinite(t *testing.T) {
	assert.True(t, Point{X: 1, Y: -3}.IsFinite())
	assert.False(t, Point{X: float32(math.NaN()), Y: 0}.IsFinite())
	assert.False(t, Point{X: 0, Y: float32(math.Inf(-1))}.IsFinite())
}

func TestRoIsTensorRoundTrip(t *testing.T) {
	rois := []RoI{
		{BatchIndex: 0, X1: 1, Y1: 2, X2: 3, Y2: 4},
		{BatchIndex: 3, X1: 0.5, Y1: 0.25, X2: 8, Y2: 9},
	}
	tt := RoIsToTensor(rois)
	assert.Equal(t, tensor.Shape{2, 5}, tt.Shape())

	got, err := RoIsFromTensor(tt)
	require.NoError(t, err)
	assert.Equal(t, rois, got)
}

func TestRoIsFromTensorErrors(t *testing.T) {
	_, err := RoIsFromTensor(nil)
	assert.Error(t, err)

	_, err = RoIsFromTensor(tensor.New(tensor.WithShape(2, 4), tensor.Of(tensor.Float32)))
	assert.Error(t, err)

	_, err = RoIsFromTensor(tensor.New(tensor.WithShape(1, 5), tensor.WithBacking([]float32{0.5, 0, 0, 1, 1})))
	assert.Error(t, err)

	_, err = RoIsFromTensor(tensor.New(tensor.WithShape(1, 5), tensor.WithBacking([]float64{0, 0, 0, 1, 1})))
	assert.Error(t, err)
}

func TestPointsTensor(t *testing.T) {
	points := [][]Point{
		{{X: 0, Y: 0.5}, {X: 1, Y: 1}},
		{{X: 0.25, Y: 0.75}, {X: 0.5, Y: 0}},
	}
	pt, err := PointsToTensor(points)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2, 2}, pt.Shape())

	got, err := PointsFromTensor(pt)
	require.NoError(t, err)
	assert.Equal(t, points, got)

	_, err = PointsToTensor([][]Point{{{X: 0, Y: 0}}, {}})
	assert.Error(t, err)

	_, err = PointsFromTensor(tensor.New(tensor.WithShape(2, 3), tensor.Of(tensor.Float32)))
	assert.Error(t, err)
}

func TestFeaturePyramid(t *testing.T) {
	lvl0, err := NewLevel(2, 3, 4, 4, make([]float32, 2*3*4*4))
	require.NoError(t, err)
	lvl1, err := NewLevel(2, 3, 2, 2, make([]float32, 2*3*2*2))
	require.NoError(t, err)
	fp := FeaturePyramid{lvl0, lvl1}

	batch, err := fp.BatchSize()
	require.NoError(t, err)
	assert.Equal(t, 2, batch)

	s, err := fp.Shape(1)
	require.NoError(t, err)
	assert.Equal(t, LevelShape{Batch: 2, Channels: 3, Height: 2, Width: 2}, s)

	plane, _, err := fp.Plane(1, 1)
	require.NoError(t, err)
	assert.Len(t, plane, 3*2*2)

	_, _, err = fp.Plane(1, 2)
	assert.Error(t, err)
	_, err = fp.Shape(2)
	assert.Error(t, err)

	_, err = NewLevel(1, 1, 2, 2, []float32{1})
	assert.Error(t, err)

	_, err = FeaturePyramid{}.BatchSize()
	assert.Error(t, err)

	flat := tensor.New(tensor.WithShape(4), tensor.Of(tensor.Float32))
	_, err = FeaturePyramid{flat}.BatchSize()
	assert.Error(t, err)
}

func TestPlaneSelectsBatchImage(t *testing.T) {
	data := []float32{
		1, 2, 3, 4, // image 0
		5, 6, 7, 8, // image 1
	}
	lvl, err := NewLevel(2, 1, 2, 2, data)
	require.NoError(t, err)

	plane, s, err := FeaturePyramid{lvl}.Plane(0, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 6, 7, 8}, plane)
	assert.Equal(t, 2, s.Width)
}
