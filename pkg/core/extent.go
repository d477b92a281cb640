// pkg/core/extent.go
package core

import "fmt"

// Extent is an axis-aligned geographic bounding rectangle in a given CRS.
type Extent struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
	CRS  string  `json:"crs"`
}

// Width returns the X span.
func (e Extent) Width() float64 { return e.MaxX - e.MinX }

// Height returns the Y span.
func (e Extent) Height() float64 { return e.MaxY - e.MinY }

// Center returns the midpoint of the extent.
func (e Extent) Center() (x, y float64) {
	return (e.MinX + e.MaxX) / 2, (e.MinY + e.MaxY) / 2
}

// IsEmpty reports whether the extent has no area.
func (e Extent) IsEmpty() bool {
	return e.MaxX <= e.MinX || e.MaxY <= e.MinY
}

// Union returns the smallest extent covering both e and o.
// Both extents must share a CRS; an empty CRS adopts the other one.
func (e Extent) Union(o Extent) (Extent, error) {
	crs := e.CRS
	if crs == "" {
		crs = o.CRS
	} else if o.CRS != "" && o.CRS != e.CRS {
		return Extent{}, fmt.Errorf("cannot union extents in %s and %s", e.CRS, o.CRS)
	}
	return Extent{
		MinX: min(e.MinX, o.MinX),
		MinY: min(e.MinY, o.MinY),
		MaxX: max(e.MaxX, o.MaxX),
		MaxY: max(e.MaxY, o.MaxY),
		CRS:  crs,
	}, nil
}

func (e Extent) String() string {
	return fmt.Sprintf("[%g,%g - %g,%g %s]", e.MinX, e.MinY, e.MaxX, e.MaxY, e.CRS)
}
