package raster

import (
	"math"

	"github.com/avaviz/flowrender/internal/grid"
	"github.com/avaviz/flowrender/pkg/core"
)

// Frame is one decoded single-band raster. It only lives until it has been
// resampled onto a flow-height grid.
type Frame struct {
	Width     int
	Height    int
	Samples   []float64 // row-major, row 0 = north
	Extent    core.Extent
	HasExtent bool
	NoData    float64
	HasNoData bool
}

// At returns the sample at column x, row y.
func (f *Frame) At(x, y int) float64 {
	return f.Samples[y*f.Width+x]
}

// Resample maps the frame onto a res×res flow-height grid with
// nearest-neighbor sampling. NaN, nodata and non-positive samples become 0.
func Resample(f *Frame, res int) *grid.FlowHeightGrid {
	values := make([]float64, res*res)
	for row := 0; row < res; row++ {
		sy := nearest(row, res, f.Height)
		for col := 0; col < res; col++ {
			sx := nearest(col, res, f.Width)
			v := f.Samples[sy*f.Width+sx]
			if f.HasNoData && v == f.NoData {
				v = 0
			}
			values[row*res+col] = v
		}
	}
	return grid.NewFlowHeightGrid(values, res, f.Extent)
}

// nearest maps destination index i of n onto a floored source index of size.
func nearest(i, n, size int) int {
	if n <= 1 || size <= 1 {
		return 0
	}
	u := float64(i) / float64(n-1)
	return min(int(math.Floor(u*float64(size-1))), size-1)
}
