package grid

import "math"

// Bilinear samples a square grid at normalized coordinates x,y in [0,1].
func Bilinear(values []float64, res int, x, y float64) float64 {
	if res <= 1 {
		return values[0]
	}
	fx := x * float64(res-1)
	fy := y * float64(res-1)

	x0 := clamp(int(math.Floor(fx)), 0, res-1)
	y0 := clamp(int(math.Floor(fy)), 0, res-1)
	x1 := min(x0+1, res-1)
	y1 := min(y0+1, res-1)

	tx := fx - float64(x0)
	ty := fy - float64(y0)

	v00 := values[y0*res+x0]
	v10 := values[y0*res+x1]
	v01 := values[y1*res+x0]
	v11 := values[y1*res+x1]

	top := v00*(1-tx) + v10*tx
	bottom := v01*(1-tx) + v11*tx
	return top*(1-ty) + bottom*ty
}

// 3x3 smoothing kernel, row-major.
var kernel = [3][3]float64{
	{1, 2, 1},
	{2, 4, 2},
	{1, 2, 1},
}

// Smooth runs passes of the 3x3 kernel over values. Zero cells stay zero and
// only non-zero cells take part in a neighbor's average, so flow never spreads
// into empty terrain. The input slice is not modified.
func Smooth(values []float64, res, passes int) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	if passes <= 0 {
		return out
	}

	next := make([]float64, len(values))
	for p := 0; p < passes; p++ {
		for y := 0; y < res; y++ {
			for x := 0; x < res; x++ {
				idx := y*res + x
				if out[idx] == 0 {
					next[idx] = 0
					continue
				}
				var sum, weight float64
				for ky := -1; ky <= 1; ky++ {
					ny := y + ky
					if ny < 0 || ny >= res {
						continue
					}
					for kx := -1; kx <= 1; kx++ {
						nx := x + kx
						if nx < 0 || nx >= res {
							continue
						}
						v := out[ny*res+nx]
						if v == 0 {
							continue
						}
						w := kernel[ky+1][kx+1]
						sum += v * w
						weight += w
					}
				}
				if weight == 0 {
					next[idx] = out[idx]
				} else {
					next[idx] = sum / weight
				}
			}
		}
		out, next = next, out
	}
	return out
}

// Upsample bilinearly resamples a srcRes grid onto dstRes and then flattens
// the result with flattenPasses smoothing passes.
func Upsample(src []float64, srcRes, dstRes, flattenPasses int) []float64 {
	dst := make([]float64, dstRes*dstRes)
	for y := 0; y < dstRes; y++ {
		ny := normalized(y, dstRes)
		for x := 0; x < dstRes; x++ {
			dst[y*dstRes+x] = Bilinear(src, srcRes, normalized(x, dstRes), ny)
		}
	}
	return Smooth(dst, dstRes, flattenPasses)
}

// SmoothedGround upsamples a ground grid by factor. Positions are laid out
// linearly between the base grid's corner points and elevations are sampled
// bilinearly; terrain is never flattened.
func SmoothedGround(base *ElevationGrid, factor int) *ElevationGrid {
	res := base.Resolution
	dstRes := UpsampledResolution(res, factor)

	topLeft := base.Points[0]
	bottomRight := base.Points[len(base.Points)-1]

	g := &ElevationGrid{
		Resolution: dstRes,
		Points:     make([]XY, 0, dstRes*dstRes),
		Elevations: make([]float64, 0, dstRes*dstRes),
	}
	for y := 0; y < dstRes; y++ {
		v := normalized(y, dstRes)
		py := topLeft.Y + v*(bottomRight.Y-topLeft.Y)
		for x := 0; x < dstRes; x++ {
			u := normalized(x, dstRes)
			g.Points = append(g.Points, XY{X: topLeft.X + u*(bottomRight.X-topLeft.X), Y: py})
			g.Elevations = append(g.Elevations, Bilinear(base.Elevations, res, u, v))
		}
	}
	return g
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
