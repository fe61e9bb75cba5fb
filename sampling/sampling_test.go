package sampling

import (
	"testing"

	"github.com/nvr-ai/go-pointfeat/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rampMap is a 2-channel 3x4 (H x W) map: channel 0 holds x + 10y, channel 1 holds its negation.
func rampMap() Map {
	const h, w = 3, 4
	data := make([]float32, 2*h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float32(x) + 10*float32(y)
			data[y*w+x] = v
			data[h*w+y*w+x] = -v
		}
	}
	return Map{Data: data, Channels: 2, Height: h, Width: w}
}

func TestSamplePixelCenters(t *testing.T) {
	m := rampMap()
	coords := []common.Point{{X: 0.5, Y: 0.5}, {X: 3.5, Y: 2.5}, {X: 2, Y: 1.5}, {X: 1.25, Y: 2}}
	out := make([]float32, m.Channels*len(coords))

	require.NoError(t, Sample(m, coords, Options{}, out))

	// Pixel centers reproduce stored values; in-between points are linear in a linear field.
	expected := []float32{0, 23, 11.5, 15.75}
	assert.InDeltaSlice(t, expected, out[:4], 1e-5)
	for i := range expected {
		assert.InDelta(t, -expected[i], out[4+i], 1e-5)
	}
}

func TestSamplePaddingModes(t *testing.T) {
	m := rampMap()
	// Outside the left edge by half a pixel and below the bottom edge by one pixel.
	coords := []common.Point{{X: 0, Y: 0.5}, {X: 1.5, Y: 3.5}}

	tests := []struct {
		name     string
		opts     Options
		expected []float32
	}{
		{name: "zeros", opts: Options{Padding: PaddingZeros}, expected: []float32{0, 0}},
		{name: "border", opts: Options{Padding: PaddingBorder}, expected: []float32{0, 21}},
		// Reflection folds pixel coordinate 3 back to 2 on a 3-row map.
		{name: "reflection", opts: Options{Padding: PaddingReflection}, expected: []float32{0, 21}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := make([]float32, m.Channels*len(coords))
			require.NoError(t, Sample(m, coords, tt.opts, out))
			assert.InDeltaSlice(t, tt.expected, out[:2], 1e-5)
		})
	}
}

func TestSampleZerosPaddingWeightsPartialCorners(t *testing.T) {
	m := Map{Data: []float32{4, 4, 4, 4}, Channels: 1, Height: 2, Width: 2}
	coords := []common.Point{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 2, Y: 2}, {X: 5, Y: 5}}
	out := make([]float32, len(coords))

	require.NoError(t, Sample(m, coords, Options{Padding: PaddingZeros}, out))
	assert.InDeltaSlice(t, []float32{1, 2, 1, 0}, out, 1e-6)
}

func TestSampleAlignCorners(t *testing.T) {
	m := rampMap()
	// With aligned corners the grid extent [0, W] maps onto pixel centers [0, W-1].
	coords := []common.Point{{X: 0, Y: 0}, {X: 4, Y: 3}, {X: 2, Y: 1.5}}
	out := make([]float32, m.Channels*len(coords))

	require.NoError(t, Sample(m, coords, Options{AlignCorners: true}, out))
	assert.InDeltaSlice(t, []float32{0, 23, 11.5}, out[:3], 1e-5)
}

func TestSampleErrors(t *testing.T) {
	m := rampMap()

	err := Sample(m, []common.Point{{X: 1, Y: 1}}, Options{}, make([]float32, 1))
	assert.Error(t, err)

	bad := Map{Data: []float32{1, 2, 3}, Channels: 1, Height: 2, Width: 2}
	err = Sample(bad, []common.Point{{X: 1, Y: 1}}, Options{}, make([]float32, 1))
	assert.Error(t, err)
}

func TestScaleCoordsReusesDestination(t *testing.T) {
	dst := make([]common.Point, 0, 4)
	got := ScaleCoords([]common.Point{{X: 8, Y: 4}, {X: -2, Y: 6}}, 0.25, dst)
	assert.Equal(t, []common.Point{{X: 2, Y: 1}, {X: -0.5, Y: 1.5}}, got)
	assert.Equal(t, cap(dst), cap(got))
}

func TestPaddingModeText(t *testing.T) {
	for _, mode := range []PaddingMode{PaddingZeros, PaddingBorder, PaddingReflection} {
		text, err := mode.MarshalText()
		require.NoError(t, err)

		var parsed PaddingMode
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, mode, parsed)
	}

	m, err := ParsePaddingMode("BORDER")
	require.NoError(t, err)
	assert.Equal(t, PaddingBorder, m)

	m, err = ParsePaddingMode("")
	require.NoError(t, err)
	assert.Equal(t, PaddingZeros, m)

	_, err = ParsePaddingMode("wrap")
	assert.Error(t, err)
	assert.Equal(t, "PaddingMode(7)", PaddingMode(7).String())
}

func BenchmarkSample(b *testing.B) {
	const c, h, w = 256, 64, 64
	m := Map{Data: make([]float32, c*h*w), Channels: c, Height: h, Width: w}
	for i := range m.Data {
		m.Data[i] = float32(i % 97)
	}
	coords := make([]common.Point, 196)
	for i := range coords {
		coords[i] = common.Point{X: float32(i%14) * 4.3, Y: float32(i/14) * 4.1}
	}
	out := make([]float32, c*len(coords))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := Sample(m, coords, Options{}, out); err != nil {
			b.Fatal(err)
		}
	}
}
