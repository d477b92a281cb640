package elevation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/avaviz/flowrender/internal/geo"
	"github.com/avaviz/flowrender/internal/grid"
	"github.com/avaviz/flowrender/internal/raster"
)

// ErrNoGeoreference is returned for DEM rasters without an extent.
var ErrNoGeoreference = errors.New("DEM raster has no georeference")

// DEM samples a digital elevation model raster bilinearly. Query points in
// another CRS are reprojected to the DEM's CRS first.
type DEM struct {
	frame *raster.Frame
}

// NewDEM wraps a decoded elevation raster.
func NewDEM(f *raster.Frame) (*DEM, error) {
	if !f.HasExtent || f.Extent.IsEmpty() {
		return nil, ErrNoGeoreference
	}
	return &DEM{frame: f}, nil
}

// LoadDEM fetches and decodes a GeoTIFF DEM from a local path or URL.
func LoadDEM(ctx context.Context, loader *raster.Loader, location string) (*DEM, error) {
	data, err := loader.Fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	f, err := raster.Decode(data)
	if err != nil {
		return nil, err
	}
	return NewDEM(f)
}

// CRS returns the DEM's coordinate reference.
func (d *DEM) CRS() string { return d.frame.Extent.CRS }

func (d *DEM) Sample(_ context.Context, points []grid.XY, crs string) ([]float64, error) {
	src := points
	if crs != "" && d.CRS() != "" && !geo.SameCRS(crs, d.CRS()) {
		tr, err := geo.NewTransformer(crs, d.CRS())
		if err != nil {
			return nil, err
		}
		if src, err = tr.Points(points); err != nil {
			return nil, err
		}
	}

	out := make([]float64, len(src))
	for i, p := range src {
		out[i] = d.at(p.X, p.Y)
	}
	return out, nil
}

// at interpolates between pixel centers; positions outside the raster take
// the nearest edge value and nodata counts as 0.
func (d *DEM) at(x, y float64) float64 {
	f := d.frame
	ext := f.Extent
	px := (x-ext.MinX)/ext.Width()*float64(f.Width) - 0.5
	py := (ext.MaxY-y)/ext.Height()*float64(f.Height) - 0.5
	px = math.Max(0, math.Min(px, float64(f.Width-1)))
	py = math.Max(0, math.Min(py, float64(f.Height-1)))

	x0, y0 := int(px), int(py)
	x1, y1 := min(x0+1, f.Width-1), min(y0+1, f.Height-1)
	tx, ty := px-float64(x0), py-float64(y0)

	v00 := d.value(x0, y0)
	v10 := d.value(x1, y0)
	v01 := d.value(x0, y1)
	v11 := d.value(x1, y1)
	top := v00*(1-tx) + v10*tx
	bottom := v01*(1-tx) + v11*tx
	return top*(1-ty) + bottom*ty
}

func (d *DEM) value(x, y int) float64 {
	v := d.frame.At(x, y)
	if math.IsNaN(v) || (d.frame.HasNoData && v == d.frame.NoData) {
		return 0
	}
	return v
}

func (d *DEM) String() string {
	f := d.frame
	return fmt.Sprintf("DEM %dx%d %s", f.Width, f.Height, f.Extent)
}
