// Package sampling - Bilinear grid sampling of dense feature maps at arbitrary points.
package sampling

import (
	"fmt"
	"strings"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-pointfeat/common"
	"github.com/pkg/errors"
)

// PaddingMode defines what a sample reads when it falls outside the map.
//   - Zeros: out-of-range neighbors contribute 0.
//   - Border: coordinates are clamped to the outermost pixel centers.
//   - Reflection: coordinates are reflected about the map extent, then clamped.
type PaddingMode int

const (
	PaddingZeros PaddingMode = iota
	PaddingBorder
	PaddingReflection
)

var paddingNames = map[PaddingMode]string{
	PaddingZeros:      "zeros",
	PaddingBorder:     "border",
	PaddingReflection: "reflection",
}

func (m PaddingMode) String() string {
	if s, ok := paddingNames[m]; ok {
		return s
	}
	return fmt.Sprintf("PaddingMode(%d)", int(m))
}

// ParsePaddingMode maps "zeros", "border" or "reflection" (case-insensitive) to a PaddingMode.
// The empty string selects PaddingZeros.
func ParsePaddingMode(s string) (PaddingMode, error) {
	if s == "" {
		return PaddingZeros, nil
	}
	for m, name := range paddingNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return PaddingZeros, errors.Errorf("unknown padding mode %q", s)
}

// MarshalText implements encoding.TextMarshaler so modes read naturally in config files.
func (m PaddingMode) MarshalText() ([]byte, error) {
	if _, ok := paddingNames[m]; !ok {
		return nil, errors.Errorf("unknown padding mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *PaddingMode) UnmarshalText(text []byte) error {
	parsed, err := ParsePaddingMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Options configures a sampling call.
type Options struct {
	// AlignCorners treats the extreme grid coordinates as the centers of the corner pixels.
	// When false, pixel i covers [i, i+1) and its center sits at i+0.5.
	AlignCorners bool
	Padding      PaddingMode
}

// Map is a single image's (channels, height, width) feature map stored row-major.
type Map struct {
	Data     []float32
	Channels int
	Height   int
	Width    int
}

// Validate checks that Data holds exactly Channels*Height*Width values.
func (m Map) Validate() error {
	if m.Channels < 0 || m.Height <= 0 || m.Width <= 0 {
		return errors.Errorf("invalid map dimensions (%d, %d, %d)", m.Channels, m.Height, m.Width)
	}
	if len(m.Data) != m.Channels*m.Height*m.Width {
		return errors.Errorf("map data has %d values, expected %d", len(m.Data), m.Channels*m.Height*m.Width)
	}
	return nil
}

// Sample bilinearly interpolates every channel of m at the given grid-unit coordinates.
//
// A coordinate (u, v) is expressed in the map's own grid units, i.e. image coordinates already
// divided by the level stride. Results are written channel-major: dst[c*len(coords)+i] holds
// channel c at coords[i].
//
// Arguments:
//   - m: The feature map to read.
//   - coords: Sample locations in grid units.
//   - opts: Corner alignment and padding behavior.
//   - dst: Destination with at least m.Channels*len(coords) values.
//
// Returns:
//   - error: If the map is malformed or dst is too small.
//
// @example
// out := make([]float32, m.Channels*len(coords))
// err := Sample(m, coords, Options{Padding: PaddingZeros}, out)
func Sample(m Map, coords []common.Point, opts Options, dst []float32) error {
	if err := m.Validate(); err != nil {
		return err
	}
	n := len(coords)
	if len(dst) < m.Channels*n {
		return errors.Errorf("destination has %d values, need %d", len(dst), m.Channels*n)
	}

	plane := m.Height * m.Width
	for i, p := range coords {
		ix := unnormalize(p.X, m.Width, opts.AlignCorners)
		iy := unnormalize(p.Y, m.Height, opts.AlignCorners)
		ix = pad(ix, m.Width, opts)
		iy = pad(iy, m.Height, opts)

		x0 := int(math32.Floor(ix))
		y0 := int(math32.Floor(iy))
		x1, y1 := x0+1, y0+1
		wx1 := ix - float32(x0)
		wy1 := iy - float32(y0)
		wx0, wy0 := 1-wx1, 1-wy1

		// Corner order: (x0,y0) (x1,y0) (x0,y1) (x1,y1).
		var offs [4]int
		var ws [4]float32
		corners := [4][2]int{{x0, y0}, {x1, y0}, {x0, y1}, {x1, y1}}
		weights := [4]float32{wx0 * wy0, wx1 * wy0, wx0 * wy1, wx1 * wy1}
		k := 0
		for j, c := range corners {
			if c[0] < 0 || c[0] >= m.Width || c[1] < 0 || c[1] >= m.Height || weights[j] == 0 {
				continue
			}
			offs[k] = c[1]*m.Width + c[0]
			ws[k] = weights[j]
			k++
		}

		for c := 0; c < m.Channels; c++ {
			base := m.Data[c*plane : (c+1)*plane]
			var v float32
			for j := 0; j < k; j++ {
				v += base[offs[j]] * ws[j]
			}
			dst[c*n+i] = v
		}
	}
	return nil
}

// ScaleCoords multiplies every coordinate by scale, writing into dst (reused when large enough).
func ScaleCoords(coords []common.Point, scale float32, dst []common.Point) []common.Point {
	if cap(dst) < len(coords) {
		dst = make([]common.Point, len(coords))
	}
	dst = dst[:len(coords)]
	for i, p := range coords {
		dst[i] = common.Point{X: p.X * scale, Y: p.Y * scale}
	}
	return dst
}

// unnormalize converts a grid-unit coordinate into a pixel index coordinate.
func unnormalize(u float32, size int, alignCorners bool) float32 {
	if alignCorners {
		if size <= 1 {
			return 0
		}
		return u * float32(size-1) / float32(size)
	}
	return u - 0.5
}

// pad applies the border or reflection policy. Zeros padding is handled per corner in Sample.
func pad(ix float32, size int, opts Options) float32 {
	switch opts.Padding {
	case PaddingBorder:
		return clip(ix, size)
	case PaddingReflection:
		if opts.AlignCorners {
			ix = reflect(ix, 0, 2*float32(size-1))
		} else {
			ix = reflect(ix, -1, 2*float32(size)-1)
		}
		return clip(ix, size)
	default:
		return ix
	}
}

func clip(ix float32, size int) float32 {
	return math32.Min(float32(size-1), math32.Max(ix, 0))
}

// reflect folds ix into [twiceLow/2, twiceHigh/2].
func reflect(ix, twiceLow, twiceHigh float32) float32 {
	if twiceLow == twiceHigh {
		return 0
	}
	lo := twiceLow / 2
	span := (twiceHigh - twiceLow) / 2
	ix = math32.Abs(ix - lo)
	extra := math32.Mod(ix, span)
	flips := int(math32.Floor(ix / span))
	if flips%2 == 0 {
		return extra + lo
	}
	return span - extra + lo
}
