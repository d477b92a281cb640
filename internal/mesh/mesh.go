// Package mesh turns flow-height grids into colored triangle meshes draped
// over the terrain.
package mesh

import (
	"errors"
	"fmt"

	"github.com/avaviz/flowrender/internal/colormap"
	"github.com/avaviz/flowrender/internal/grid"
	"github.com/avaviz/flowrender/pkg/core"
)

// DefaultZOffset lifts the flow surface slightly above the ground so the two
// never z-fight.
const DefaultZOffset = 0.5

// Mesh is a flat-shaded triangle mesh. Every triangle owns its three vertices
// so each can carry the triangle's single color.
type Mesh struct {
	Positions  []float64 // x,y,z per vertex
	Colors     []uint8   // r,g,b,a per vertex
	Indices    []uint32  // three per triangle
	GridIndex  []uint32  // source grid cell of each vertex
	Resolution int
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Positions) / 3
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// Bounds returns the XY bounds and Z range of the mesh.
func (m *Mesh) Bounds() (minX, minY, minZ, maxX, maxY, maxZ float64) {
	for i := 0; i+2 < len(m.Positions); i += 3 {
		x, y, z := m.Positions[i], m.Positions[i+1], m.Positions[i+2]
		if i == 0 {
			minX, minY, minZ, maxX, maxY, maxZ = x, y, z, x, y, z
			continue
		}
		minX, minY, minZ = min(minX, x), min(minY, y), min(minZ, z)
		maxX, maxY, maxZ = max(maxX, x), max(maxY, y), max(maxZ, z)
	}
	return
}

// ErrGroundMismatch is returned when the ground grid does not line up with
// the flow grid.
var ErrGroundMismatch = errors.New("ground grid does not match flow grid")

// Build creates the mesh for one time step. smoothed may be nil; it is only
// used when smoothingFactor > 1, in which case the flow grid is upsampled to
// the smoothed ground's resolution and flattened with flattenPasses.
// A nil mesh and nil error mean there is nothing to draw.
func Build(
	flow *grid.FlowHeightGrid,
	base *grid.ElevationGrid,
	smoothed *grid.ElevationGrid,
	terrain core.TerrainConfig,
	smoothingFactor int,
	flattenPasses int,
) (*Mesh, error) {
	if flow == nil || flow.NonZeroCount == 0 {
		return nil, nil
	}
	if len(terrain.ColorStops) == 0 {
		return nil, colormap.ErrNoStops
	}

	res := flow.Resolution
	heights := flow.Values
	ground := base
	if smoothingFactor > 1 && smoothed != nil {
		res = grid.UpsampledResolution(flow.Resolution, smoothingFactor)
		if smoothed.Resolution != res {
			return nil, fmt.Errorf("%w: smoothed resolution %d, want %d", ErrGroundMismatch, smoothed.Resolution, res)
		}
		heights = grid.Upsample(flow.Values, flow.Resolution, res, flattenPasses)
		ground = smoothed
	}
	if ground == nil || ground.Resolution != res || len(ground.Points) != res*res || len(ground.Elevations) != res*res {
		return nil, fmt.Errorf("%w: resolution %d", ErrGroundMismatch, res)
	}

	n := res * res
	z := make([]float64, n)
	colors := make([]core.RGBA, n)
	for i := 0; i < n; i++ {
		z[i] = ground.Elevations[i] + heights[i]*terrain.Exaggeration + terrain.ZOffset
		colors[i] = colormap.MustColorFor(heights[i], terrain.ColorStops)
	}

	m := &Mesh{Resolution: res}
	emit := func(a, b, c int) {
		if heights[a] <= 0 && heights[b] <= 0 && heights[c] <= 0 {
			return
		}
		col := colormap.Average(colors[a], colors[b], colors[c])
		for _, idx := range [3]int{a, b, c} {
			m.Indices = append(m.Indices, uint32(len(m.Positions)/3))
			p := ground.Points[idx]
			m.Positions = append(m.Positions, p.X, p.Y, z[idx])
			m.Colors = append(m.Colors, col.R, col.G, col.B, col.A)
			m.GridIndex = append(m.GridIndex, uint32(idx))
		}
	}

	for y := 0; y < res-1; y++ {
		for x := 0; x < res-1; x++ {
			i1 := y*res + x
			i2 := i1 + 1
			i3 := i1 + res
			i4 := i3 + 1
			emit(i1, i2, i3)
			emit(i2, i4, i3)
		}
	}

	if len(m.Indices) == 0 {
		return nil, nil
	}
	return m, nil
}
