package grid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaviz/flowrender/pkg/core"
)

func TestNewFlowHeightGrid_CoercesAndCounts(t *testing.T) {
	values := []float64{0, -1, math.NaN(), 2, 4, 0, 0, 0, 3}
	g := NewFlowHeightGrid(values, 3, core.Extent{CRS: "EPSG:2056"})

	assert.Equal(t, []float64{0, 0, 0, 2, 4, 0, 0, 0, 3}, g.Values)
	assert.Equal(t, 3, g.NonZeroCount)
	assert.Equal(t, 4.0, g.MaxHeight)
	assert.InDelta(t, 3.0, g.MeanHeight, 1e-12)
	assert.Equal(t, 4.0, g.At(1, 1))
}

func TestNewFlowHeightGrid_Empty(t *testing.T) {
	g := NewFlowHeightGrid(make([]float64, 4), 2, core.Extent{})
	assert.Zero(t, g.NonZeroCount)
	assert.Zero(t, g.MaxHeight)
	assert.Zero(t, g.MeanHeight)
}

func TestPointsForExtent(t *testing.T) {
	ext := core.Extent{MinX: 100, MinY: 200, MaxX: 110, MaxY: 220}
	pts := PointsForExtent(ext, 3)

	require.Len(t, pts, 9)
	assert.Equal(t, XY{X: 100, Y: 220}, pts[0])
	assert.Equal(t, XY{X: 105, Y: 220}, pts[1])
	assert.Equal(t, XY{X: 110, Y: 220}, pts[2])
	assert.Equal(t, XY{X: 100, Y: 210}, pts[3])
	assert.Equal(t, XY{X: 110, Y: 200}, pts[8])
}

func TestUpsampledResolution(t *testing.T) {
	assert.Equal(t, 5, UpsampledResolution(5, 1))
	assert.Equal(t, 9, UpsampledResolution(5, 2))
	assert.Equal(t, 13, UpsampledResolution(5, 3))
}
