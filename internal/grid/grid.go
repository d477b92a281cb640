// Package grid holds the square sample grids used by the mesh pipeline and
// the interpolation routines that resample them.
//
// All grids are row-major with row 0 at the north edge of the extent and
// column 0 at its west edge, so the flow grid and the ground grid of a
// simulation line up point for point.
package grid

import (
	"gonum.org/v1/gonum/stat"

	"github.com/avaviz/flowrender/pkg/core"
)

// XY is a planar position in the grid's CRS.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FlowHeightGrid is one time step of flow heights resampled to a square grid.
type FlowHeightGrid struct {
	Resolution   int
	Values       []float64
	MaxHeight    float64
	MeanHeight   float64
	NonZeroCount int
	Extent       core.Extent
}

// NewFlowHeightGrid wraps values (resolution² samples) and computes the
// statistics. Non-positive and NaN samples are coerced to 0.
func NewFlowHeightGrid(values []float64, resolution int, extent core.Extent) *FlowHeightGrid {
	g := &FlowHeightGrid{
		Resolution: resolution,
		Values:     values,
		Extent:     extent,
	}
	nonZero := make([]float64, 0, len(values)/4)
	for i, v := range values {
		if !(v > 0) {
			values[i] = 0
			continue
		}
		nonZero = append(nonZero, v)
		if v > g.MaxHeight {
			g.MaxHeight = v
		}
	}
	g.NonZeroCount = len(nonZero)
	if len(nonZero) > 0 {
		g.MeanHeight = stat.Mean(nonZero, nil)
	}
	return g
}

// At returns the value at column x, row y.
func (g *FlowHeightGrid) At(x, y int) float64 {
	return g.Values[y*g.Resolution+x]
}

// ElevationGrid is a square grid of ground positions and elevations.
type ElevationGrid struct {
	Resolution int
	Points     []XY
	Elevations []float64
}

// PointsForExtent returns resolution² positions spread evenly over extent,
// corners included, row 0 at MaxY.
func PointsForExtent(ext core.Extent, resolution int) []XY {
	points := make([]XY, 0, resolution*resolution)
	for row := 0; row < resolution; row++ {
		v := normalized(row, resolution)
		y := ext.MaxY - v*ext.Height()
		for col := 0; col < resolution; col++ {
			u := normalized(col, resolution)
			points = append(points, XY{X: ext.MinX + u*ext.Width(), Y: y})
		}
	}
	return points
}

// normalized maps index i of n evenly spaced samples onto [0,1].
func normalized(i, n int) float64 {
	if n <= 1 {
		return 0
	}
	return float64(i) / float64(n-1)
}

// UpsampledResolution returns (res-1)*factor+1.
func UpsampledResolution(res, factor int) int {
	return (res-1)*factor + 1
}
