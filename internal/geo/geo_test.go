package geo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaviz/flowrender/internal/grid"
	"github.com/avaviz/flowrender/pkg/core"
)

func TestParseEPSG(t *testing.T) {
	cases := map[string]int{
		"EPSG:2056":    2056,
		"epsg:3857":    3857,
		"4326":         4326,
		" EPSG:21781 ": 21781,
	}
	for in, want := range cases {
		got, err := ParseEPSG(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseEPSG_Invalid(t *testing.T) {
	for _, in := range []string{"", "EPSG:", "ESRI:102100", "EPSG:abc", "-3"} {
		_, err := ParseEPSG(in)
		assert.True(t, errors.Is(err, ErrInvalidCRS), "input %q", in)
	}
}

func TestSameCRS(t *testing.T) {
	assert.True(t, SameCRS("EPSG:2056", "2056"))
	assert.True(t, SameCRS("epsg:2056", "EPSG:2056"))
	assert.False(t, SameCRS("EPSG:2056", "EPSG:3857"))
	assert.Equal(t, "EPSG:3857", FormatEPSG(3857))
}

func TestTransformer_Identity(t *testing.T) {
	tr, err := NewTransformer("EPSG:2056", "2056")
	require.NoError(t, err)
	assert.True(t, tr.Identity())

	p := grid.XY{X: 2600000, Y: 1200000}
	q, err := tr.Point(p)
	require.NoError(t, err)
	assert.Equal(t, p, q)
}

func TestTransformer_WebMercator(t *testing.T) {
	tr, err := NewTransformer("EPSG:4326", "EPSG:3857")
	require.NoError(t, err)
	assert.False(t, tr.Identity())

	origin, err := tr.Point(grid.XY{X: 0, Y: 0})
	require.NoError(t, err)
	assert.InDelta(t, 0, origin.X, 1e-6)
	assert.InDelta(t, 0, origin.Y, 1e-6)

	p, err := tr.Point(grid.XY{X: 10, Y: 0})
	require.NoError(t, err)
	assert.InDelta(t, 1113194.9, p.X, 1)
}

func TestTransformExtent_SameCRS(t *testing.T) {
	ext := core.Extent{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4, CRS: "2056"}
	out, err := TransformExtent(ext, "EPSG:2056")
	require.NoError(t, err)
	assert.Equal(t, core.Extent{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4, CRS: "EPSG:2056"}, out)
}

func TestTransformExtent_Reprojects(t *testing.T) {
	ext := core.Extent{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10, CRS: "EPSG:4326"}
	out, err := TransformExtent(ext, "EPSG:3857")
	require.NoError(t, err)
	assert.Equal(t, "EPSG:3857", out.CRS)
	assert.InDelta(t, 0, out.MinX, 1e-6)
	assert.InDelta(t, 1113194.9, out.MaxX, 1)
	assert.Greater(t, out.MaxY, out.MinY)
}

func TestUnionExtents(t *testing.T) {
	_, ok, err := UnionExtents()
	require.NoError(t, err)
	assert.False(t, ok)

	a := core.Extent{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10, CRS: "EPSG:2056"}
	b := core.Extent{MinX: 5, MinY: -5, MaxX: 20, MaxY: 8, CRS: "2056"}
	u, ok, err := UnionExtents(a, b)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.Extent{MinX: 0, MinY: -5, MaxX: 20, MaxY: 10, CRS: "EPSG:2056"}, u)
}
