// Package elevation provides ground heights for the points of a simulation
// grid. A failing service never stops a simulation from loading: Query
// degrades to a flat zero grid and reports a QueryError as a warning.
package elevation

import (
	"context"
	"fmt"

	"github.com/avaviz/flowrender/internal/grid"
	"github.com/avaviz/flowrender/pkg/core"
)

// Service returns one elevation in meters per point, in input order.
type Service interface {
	Sample(ctx context.Context, points []grid.XY, crs string) ([]float64, error)
}

// QueryError reports an elevation lookup that fell back to zeros.
type QueryError struct {
	CRS    string
	Points int
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("elevation query for %d points (%s) failed: %v", e.Points, e.CRS, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Query builds the ground grid for extent at resolution. The returned grid is
// always usable; when the service fails its elevations are zero and the
// error is a *QueryError.
func Query(ctx context.Context, svc Service, extent core.Extent, resolution int) (*grid.ElevationGrid, error) {
	points := grid.PointsForExtent(extent, resolution)
	g := &grid.ElevationGrid{
		Resolution: resolution,
		Points:     points,
		Elevations: make([]float64, len(points)),
	}
	if svc == nil {
		return g, nil
	}

	elev, err := svc.Sample(ctx, points, extent.CRS)
	if err == nil && len(elev) != len(points) {
		err = fmt.Errorf("got %d elevations for %d points", len(elev), len(points))
	}
	if err != nil {
		return g, &QueryError{CRS: extent.CRS, Points: len(points), Err: err}
	}
	copy(g.Elevations, elev)
	return g, nil
}

// Flat is a Service returning the same height everywhere.
type Flat struct {
	Height float64
}

func (f Flat) Sample(_ context.Context, points []grid.XY, _ string) ([]float64, error) {
	out := make([]float64, len(points))
	for i := range out {
		out[i] = f.Height
	}
	return out, nil
}
