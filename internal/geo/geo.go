package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wroge/wgs84"

	"github.com/avaviz/flowrender/internal/grid"
	"github.com/avaviz/flowrender/pkg/core"
)

// ErrInvalidCRS is returned when a CRS identifier cannot be parsed.
var ErrInvalidCRS = errors.New("invalid CRS identifier")

// ErrTransformFailed is returned when a coordinate transform yields no result.
var ErrTransformFailed = errors.New("coordinate transform failed")

// ParseEPSG extracts the numeric code from "EPSG:2056", "epsg:2056" or "2056".
func ParseEPSG(crs string) (int, error) {
	s := strings.TrimSpace(crs)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		if !strings.EqualFold(s[:i], "EPSG") {
			return 0, fmt.Errorf("%w: %q", ErrInvalidCRS, crs)
		}
		s = s[i+1:]
	}
	code, err := strconv.Atoi(s)
	if err != nil || code <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCRS, crs)
	}
	return code, nil
}

// FormatEPSG returns the canonical "EPSG:<code>" identifier.
func FormatEPSG(code int) string {
	return "EPSG:" + strconv.Itoa(code)
}

// SameCRS reports whether two identifiers name the same EPSG code.
func SameCRS(a, b string) bool {
	ca, errA := ParseEPSG(a)
	cb, errB := ParseEPSG(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return ca == cb
}

// Transformer converts planar positions between two CRSs.
type Transformer struct {
	from, to int
	fn       func(a, b, c float64) (float64, float64, float64)
}

// NewTransformer builds a transformer between two CRS identifiers.
func NewTransformer(from, to string) (*Transformer, error) {
	f, err := ParseEPSG(from)
	if err != nil {
		return nil, err
	}
	t, err := ParseEPSG(to)
	if err != nil {
		return nil, err
	}
	tr := &Transformer{from: f, to: t}
	if f != t {
		tr.fn = wgs84.EPSG().Transform(f, t)
	}
	return tr, nil
}

// Identity reports whether the transform is a no-op.
func (t *Transformer) Identity() bool {
	return t.fn == nil
}

// Point transforms a single position.
func (t *Transformer) Point(p grid.XY) (grid.XY, error) {
	if t.fn == nil {
		return p, nil
	}
	x, y, _ := t.fn(p.X, p.Y, 0)
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return grid.XY{}, fmt.Errorf("%w: EPSG:%d -> EPSG:%d at (%g, %g)", ErrTransformFailed, t.from, t.to, p.X, p.Y)
	}
	return grid.XY{X: x, Y: y}, nil
}

// Points transforms a slice of positions into a new slice.
func (t *Transformer) Points(ps []grid.XY) ([]grid.XY, error) {
	if t.fn == nil {
		return ps, nil
	}
	out := make([]grid.XY, len(ps))
	for i, p := range ps {
		q, err := t.Point(p)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

// TransformExtent reprojects an extent by transforming its four corners and
// taking their bounds.
func TransformExtent(ext core.Extent, to string) (core.Extent, error) {
	if SameCRS(ext.CRS, to) {
		ext.CRS = to
		return ext, nil
	}
	tr, err := NewTransformer(ext.CRS, to)
	if err != nil {
		return core.Extent{}, err
	}
	corners := []grid.XY{
		{X: ext.MinX, Y: ext.MinY},
		{X: ext.MaxX, Y: ext.MinY},
		{X: ext.MinX, Y: ext.MaxY},
		{X: ext.MaxX, Y: ext.MaxY},
	}
	pts, err := tr.Points(corners)
	if err != nil {
		return core.Extent{}, err
	}
	out := core.Extent{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
		CRS: to,
	}
	for _, p := range pts {
		out.MinX = min(out.MinX, p.X)
		out.MinY = min(out.MinY, p.Y)
		out.MaxX = max(out.MaxX, p.X)
		out.MaxY = max(out.MaxY, p.Y)
	}
	return out, nil
}

// UnionExtents unions extents, reprojecting each into the CRS of the first.
func UnionExtents(exts ...core.Extent) (core.Extent, bool, error) {
	if len(exts) == 0 {
		return core.Extent{}, false, nil
	}
	out := exts[0]
	for _, e := range exts[1:] {
		if !SameCRS(e.CRS, out.CRS) {
			var err error
			e, err = TransformExtent(e, out.CRS)
			if err != nil {
				return core.Extent{}, false, err
			}
		}
		e.CRS = out.CRS
		u, err := out.Union(e)
		if err != nil {
			return core.Extent{}, false, err
		}
		out = u
	}
	return out, true, nil
}
