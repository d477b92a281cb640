package geo

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/avaviz/flowrender/pkg/core"
)

// ReleaseArea is the release zone outline of a simulation.
type ReleaseArea struct {
	Polygon geom.Polygon
	CRS     string
}

// ParseReleaseArea reads a release zone either as WKT ("POLYGON((...))") or
// as a JSON ring "[[x1,y1],[x2,y2],...]".
func ParseReleaseArea(input, crs string) (ReleaseArea, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return ReleaseArea{}, fmt.Errorf("release area is empty")
	}
	if strings.HasPrefix(s, "[") {
		poly, err := ParseRing(s)
		if err != nil {
			return ReleaseArea{}, err
		}
		return ReleaseArea{Polygon: poly, CRS: crs}, nil
	}

	g, err := geom.UnmarshalWKT(s)
	if err != nil {
		return ReleaseArea{}, fmt.Errorf("failed to parse release area WKT: %w", err)
	}
	poly, ok := g.AsPolygon()
	if !ok {
		return ReleaseArea{}, fmt.Errorf("release area must be a POLYGON, got %s", g.Type())
	}
	return ReleaseArea{Polygon: poly, CRS: crs}, nil
}

// ParseRing parses a JSON array of coordinates into a closed polygon.
// Input format: "[[x1,y1],[x2,y2],...]". The ring is closed if needed.
func ParseRing(input string) (geom.Polygon, error) {
	var coords [][]float64
	if err := json.Unmarshal([]byte(input), &coords); err != nil {
		return geom.Polygon{}, fmt.Errorf("failed to parse ring JSON: %w", err)
	}
	if len(coords) < 3 {
		return geom.Polygon{}, fmt.Errorf("ring must have at least 3 points, got %d", len(coords))
	}

	flat := make([]float64, 0, (len(coords)+1)*2)
	for i, c := range coords {
		if len(c) < 2 {
			return geom.Polygon{}, fmt.Errorf("coordinate %d has insufficient values", i)
		}
		flat = append(flat, c[0], c[1])
	}
	first, last := coords[0], coords[len(coords)-1]
	if first[0] != last[0] || first[1] != last[1] {
		flat = append(flat, first[0], first[1])
	}

	ring, err := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
	if err != nil {
		return geom.Polygon{}, fmt.Errorf("invalid ring: %w", err)
	}
	poly, err := geom.NewPolygon([]geom.LineString{ring})
	if err != nil {
		return geom.Polygon{}, fmt.Errorf("invalid release area: %w", err)
	}
	return poly, nil
}

// Bounds returns the bounding extent of the release area's outer ring.
func (r ReleaseArea) Bounds() (core.Extent, bool) {
	seq := r.Polygon.ExteriorRing().Coordinates()
	if seq.Length() == 0 {
		return core.Extent{}, false
	}
	ext := core.Extent{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
		CRS: r.CRS,
	}
	for i := 0; i < seq.Length(); i++ {
		c := seq.Get(i)
		ext.MinX = min(ext.MinX, c.X)
		ext.MinY = min(ext.MinY, c.Y)
		ext.MaxX = max(ext.MaxX, c.X)
		ext.MaxY = max(ext.MaxY, c.Y)
	}
	return ext, true
}

// Area returns the planar area of the release zone in CRS units squared.
func (r ReleaseArea) Area() float64 {
	return r.Polygon.Area()
}

// WKT returns the polygon as well-known text.
func (r ReleaseArea) WKT() string {
	return r.Polygon.AsText()
}
