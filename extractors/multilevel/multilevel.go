// Package multilevel - Point feature extraction from every level of a feature pyramid.
package multilevel

import (
	"fmt"
	"log"
	"sync"

	"github.com/nvr-ai/go-pointfeat/common"
	"github.com/nvr-ai/go-pointfeat/extractors/extractor"
	"github.com/nvr-ai/go-pointfeat/sampling"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Extractor samples each region's query points on every configured pyramid level and
// concatenates the per-level features along the channel axis.
//
// The extractor holds only immutable configuration, so concurrent Extract calls are safe as long
// as callers do not share output tensors.
type Extractor struct {
	config    extractor.Config
	levels    []int
	debugMode bool
}

var _ extractor.Extractor = (*Extractor)(nil)

// New creates a multi-level extractor.
//
// Arguments:
//   - config: The extractor configuration. It is copied.
//
// Returns:
//   - *Extractor: The configured extractor.
//   - error: Wrapping extractor.ErrConfigMismatch if the configuration is inconsistent.
//
// @example
//
//	ext, err := New(extractor.Config{
//	    OutChannels:    512,
//	    FeatmapStrides: []float32{8, 16},
//	})
//
//	if err != nil {
//	    log.Fatal(err)
//	}
func New(config extractor.Config) (*Extractor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.FeatmapStrides = append([]float32(nil), config.FeatmapStrides...)
	config.InIndices = append([]int(nil), config.InIndices...)
	return &Extractor{
		config: config,
		levels: config.Levels(),
	}, nil
}

// SetDebugMode enables or disables debug logging.
func (e *Extractor) SetDebugMode(enabled bool) {
	e.debugMode = enabled
}

// Config returns a copy of the construction-time configuration.
func (e *Extractor) Config() extractor.Config {
	c := e.config
	c.FeatmapStrides = append([]float32(nil), e.config.FeatmapStrides...)
	c.InIndices = append([]int(nil), e.config.InIndices...)
	return c
}

// NumInputs returns the number of pyramid levels consumed.
func (e *Extractor) NumInputs() int { return e.config.NumInputs() }

// InIndices returns the pyramid level consumed at each position.
func (e *Extractor) InIndices() []int { return append([]int(nil), e.levels...) }

// level is one consumed pyramid level resolved against a concrete pyramid.
type level struct {
	index    int
	scale    float32
	channels int
	offset   int
}

// Extract produces one feature vector per query point per region.
//
// Regions are grouped by batch image; for every image and every configured level the region's
// local points are projected into image coordinates, divided by the level stride and bilinearly
// sampled. Each level writes a disjoint channel slice of the region's output row.
//
// Arguments:
//   - feats: The feature pyramid, every level shaped (batch, channels, height, width).
//   - rois: The regions, each tagged with its batch image.
//   - points: One query-point set per region; every set has the same length P.
//
// Returns:
//   - *tensor.Dense: A zero-initialized (len(rois), OutChannels, P) float32 tensor with every
//     region row filled.
//   - error: ErrConfigMismatch / ErrChannelMismatch / ErrShapeMismatch for inconsistent inputs,
//     ErrBatchIndexOutOfRange for a region naming a missing image (unless SkipOrphanRegions),
//     ErrNonFinitePoint for NaN or infinite query points.
//
// @example
// out, err := ext.Extract(pyramid, rois, points)
//
//	if err != nil {
//	    return err
//	}
//
// fmt.Println(out.Shape()) // (N, OutChannels, P)
func (e *Extractor) Extract(
	feats common.FeaturePyramid,
	rois []common.RoI,
	points [][]common.Point,
) (*tensor.Dense, error) {
	return e.extract(feats, rois, points, -1)
}

// extract is Extract with an optional known point count; numPoints < 0 infers it from points.
func (e *Extractor) extract(
	feats common.FeaturePyramid,
	rois []common.RoI,
	points [][]common.Point,
	numPoints int,
) (*tensor.Dense, error) {
	batch, levels, err := e.resolveLevels(feats)
	if err != nil {
		return nil, err
	}

	numPoints, err = validatePoints(rois, points, numPoints)
	if err != nil {
		return nil, err
	}

	groups, err := e.groupByBatch(rois, batch)
	if err != nil {
		return nil, err
	}

	outChannels := e.config.OutChannels
	data := make([]float32, len(rois)*outChannels*numPoints)

	if e.debugMode {
		fmt.Printf("[DEBUG] Extracting %d points for %d regions over %d images and %d levels\n",
			numPoints, len(rois), batch, len(levels))
	}

	if numPoints > 0 {
		if err := e.run(groups, func(b int, inds []int) error {
			return e.extractBatch(feats, levels, b, inds, rois, points, numPoints, data)
		}); err != nil {
			return nil, err
		}
	}

	return tensor.New(tensor.WithShape(len(rois), outChannels, numPoints), tensor.WithBacking(data)), nil
}

// ExtractTensors is Extract for the (N, 5) [batch, x1, y1, x2, y2] region convention and a
// (N, P, 2) point tensor.
func (e *Extractor) ExtractTensors(feats common.FeaturePyramid, rois, points *tensor.Dense) (*tensor.Dense, error) {
	r, err := common.RoIsFromTensor(rois)
	if err != nil {
		return nil, errors.Wrap(extractor.ErrShapeMismatch, err.Error())
	}
	p, err := common.PointsFromTensor(points)
	if err != nil {
		return nil, errors.Wrap(extractor.ErrShapeMismatch, err.Error())
	}
	return e.extract(feats, r, p, points.Shape()[1])
}

// resolveLevels checks the pyramid against the configuration and computes channel offsets.
func (e *Extractor) resolveLevels(feats common.FeaturePyramid) (int, []level, error) {
	if len(e.config.InIndices) == 0 && len(e.config.FeatmapStrides) != feats.Levels() {
		return 0, nil, errors.Wrapf(extractor.ErrConfigMismatch,
			"%d featmap strides for a %d-level pyramid", len(e.config.FeatmapStrides), feats.Levels())
	}

	batch, err := feats.BatchSize()
	if err != nil {
		return 0, nil, errors.Wrap(extractor.ErrShapeMismatch, err.Error())
	}

	levels := make([]level, len(e.levels))
	offset := 0
	for k, idx := range e.levels {
		if idx >= feats.Levels() {
			return 0, nil, errors.Wrapf(extractor.ErrConfigMismatch,
				"level index %d out of range for a %d-level pyramid", idx, feats.Levels())
		}
		s, err := feats.Shape(idx)
		if err != nil {
			return 0, nil, errors.Wrap(extractor.ErrShapeMismatch, err.Error())
		}
		levels[k] = level{
			index:    idx,
			scale:    1 / e.config.FeatmapStrides[k],
			channels: s.Channels,
			offset:   offset,
		}
		offset += s.Channels
	}

	if offset != e.config.OutChannels {
		return 0, nil, errors.Wrapf(extractor.ErrChannelMismatch,
			"levels %v provide %d channels, configured %d", e.levels, offset, e.config.OutChannels)
	}
	return batch, levels, nil
}

// validatePoints returns the per-region point count P. A negative numPoints is inferred from the
// first region, or 0 when there are no regions.
func validatePoints(rois []common.RoI, points [][]common.Point, numPoints int) (int, error) {
	if len(points) != len(rois) {
		return 0, errors.Wrapf(extractor.ErrShapeMismatch, "%d point sets for %d regions", len(points), len(rois))
	}
	if numPoints < 0 {
		numPoints = 0
		if len(points) > 0 {
			numPoints = len(points[0])
		}
	}

	for i, set := range points {
		if len(set) != numPoints {
			return 0, errors.Wrapf(extractor.ErrShapeMismatch,
				"region %d has %d points, expected %d", i, len(set), numPoints)
		}
		for j, p := range set {
			if !p.IsFinite() {
				return 0, errors.Wrapf(extractor.ErrNonFinitePoint, "region %d point %d is (%f, %f)", i, j, p.X, p.Y)
			}
		}
	}
	return numPoints, nil
}

// groupByBatch partitions region indices by batch image, preserving region order.
func (e *Extractor) groupByBatch(rois []common.RoI, batch int) ([][]int, error) {
	groups := make([][]int, batch)
	for i, r := range rois {
		if r.BatchIndex < 0 || r.BatchIndex >= batch {
			if !e.config.SkipOrphanRegions {
				return nil, errors.Wrapf(extractor.ErrBatchIndexOutOfRange,
					"region %d has batch index %d, batch size is %d", i, r.BatchIndex, batch)
			}
			log.Printf("⚠️  Region %d has batch index %d outside [0, %d), leaving its row zeroed",
				i, r.BatchIndex, batch)
			continue
		}
		groups[r.BatchIndex] = append(groups[r.BatchIndex], i)
	}
	return groups, nil
}

// run calls fn for every non-empty batch group, sequentially or on a bounded worker pool.
func (e *Extractor) run(groups [][]int, fn func(b int, inds []int) error) error {
	if !e.config.Parallel.Enabled || e.config.Parallel.NumWorkers <= 1 {
		for b, inds := range groups {
			if len(inds) == 0 {
				continue
			}
			if err := fn(b, inds); err != nil {
				return err
			}
		}
		return nil
	}

	jobs := make(chan int, len(groups))
	for b, inds := range groups {
		if len(inds) > 0 {
			jobs <- b
		}
	}
	close(jobs)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	workers := min(e.config.Parallel.NumWorkers, len(groups))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range jobs {
				if err := fn(b, groups[b]); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return firstErr
}

// extractBatch fills the output rows of the regions in inds, which all belong to batch image b.
// Rows of different batch images never overlap, so concurrent calls need no locking.
func (e *Extractor) extractBatch(
	feats common.FeaturePyramid,
	levels []level,
	b int,
	inds []int,
	rois []common.RoI,
	points [][]common.Point,
	numPoints int,
	out []float32,
) error {
	opts := e.config.SamplingOptions()
	rowSize := e.config.OutChannels * numPoints

	var (
		imgCoords  []common.Point
		gridCoords []common.Point
		scratch    []float32
	)
	for _, lvl := range levels {
		plane, shape, err := feats.Plane(lvl.index, b)
		if err != nil {
			return errors.Wrapf(extractor.ErrShapeMismatch, "level %d image %d: %v", lvl.index, b, err)
		}
		m := sampling.Map{Data: plane, Channels: shape.Channels, Height: shape.Height, Width: shape.Width}

		block := lvl.channels * numPoints
		if cap(scratch) < block {
			scratch = make([]float32, block)
		}
		scratch = scratch[:block]

		for _, i := range inds {
			imgCoords = common.ProjectPoints(rois[i], points[i], imgCoords)
			gridCoords = sampling.ScaleCoords(imgCoords, lvl.scale, gridCoords)
			if err := sampling.Sample(m, gridCoords, opts, scratch); err != nil {
				return errors.Wrapf(err, "sampling level %d for region %d", lvl.index, i)
			}
			start := i*rowSize + lvl.offset*numPoints
			copy(out[start:start+block], scratch)
		}

		if e.debugMode {
			fmt.Printf("[DEBUG] Image %d level %d (stride %.1f): %d regions -> channels [%d, %d)\n",
				b, lvl.index, 1/lvl.scale, len(inds), lvl.offset, lvl.offset+lvl.channels)
		}
	}
	return nil
}
