package elevation

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaviz/flowrender/internal/grid"
	"github.com/avaviz/flowrender/internal/raster"
	"github.com/avaviz/flowrender/pkg/core"
)

// 3x3 DEM with 100 m pixels centered on the origin.
func testDEMFrame(crs string) *raster.Frame {
	return &raster.Frame{
		Width:  3,
		Height: 3,
		Samples: []float64{
			10, 20, 30,
			40, 50, 60,
			70, 80, -9999,
		},
		Extent:    core.Extent{MinX: -150, MinY: -150, MaxX: 150, MaxY: 150, CRS: crs},
		HasExtent: true,
		NoData:    -9999,
		HasNoData: true,
	}
}

func TestDEM_PixelCenters(t *testing.T) {
	d, err := NewDEM(testDEMFrame("EPSG:3857"))
	require.NoError(t, err)

	got, err := d.Sample(context.Background(), []grid.XY{
		{X: -100, Y: 100}, {X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: -100},
	}, "EPSG:3857")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{10, 50, 60, 0}, got, 1e-9)
}

func TestDEM_Interpolates(t *testing.T) {
	d, err := NewDEM(testDEMFrame("EPSG:3857"))
	require.NoError(t, err)

	got, err := d.Sample(context.Background(), []grid.XY{{X: -50, Y: 100}, {X: -50, Y: 50}}, "")
	require.NoError(t, err)
	assert.InDelta(t, 15, got[0], 1e-9)
	assert.InDelta(t, 30, got[1], 1e-9)
}

func TestDEM_ClampsOutside(t *testing.T) {
	d, err := NewDEM(testDEMFrame("EPSG:3857"))
	require.NoError(t, err)

	got, err := d.Sample(context.Background(), []grid.XY{{X: -1000, Y: 1000}}, "EPSG:3857")
	require.NoError(t, err)
	assert.InDelta(t, 10, got[0], 1e-9)
}

func TestDEM_ReprojectsQuery(t *testing.T) {
	d, err := NewDEM(testDEMFrame("EPSG:3857"))
	require.NoError(t, err)

	got, err := d.Sample(context.Background(), []grid.XY{{X: 0, Y: 0}}, "EPSG:4326")
	require.NoError(t, err)
	assert.InDelta(t, 50, got[0], 1e-6)
}

func TestDEM_RequiresGeoreference(t *testing.T) {
	f := testDEMFrame("EPSG:3857")
	f.HasExtent = false
	_, err := NewDEM(f)
	assert.ErrorIs(t, err, ErrNoGeoreference)
}

func TestLoadDEM_FromFile(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, raster.Encode(&buf, testDEMFrame("EPSG:3857")))

	path := filepath.Join(t.TempDir(), "dem.tif")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	d, err := LoadDEM(context.Background(), raster.NewLoader("", nil), path)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:3857", d.CRS())

	g, err := Query(context.Background(), d, core.Extent{MinX: -100, MinY: -100, MaxX: 100, MaxY: 100, CRS: "EPSG:3857"}, 3)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{10, 20, 30, 40, 50, 60, 70, 80, 0}, g.Elevations, 1e-6)
}
