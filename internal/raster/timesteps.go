package raster

import (
	"fmt"
	"math"
	"strings"

	"github.com/avaviz/flowrender/pkg/core"
)

// TimeSteps lists the nominal times start, start+interval, ... up to and
// including end. Values are computed from the step index rather than by
// repeated addition, so long series do not drift past (or short of) end, and
// each value is rounded to 1e-9 to drop representation noise.
func TimeSteps(cfg core.SimulationConfig) []float64 {
	start, end, step := cfg.Start(), cfg.End(), cfg.TimeInterval
	if step <= 0 || end < start || math.IsNaN(start) || math.IsNaN(end) {
		return nil
	}
	n := int(math.Floor((end-start)/step+1e-9)) + 1
	steps := make([]float64, n)
	for i := range steps {
		steps[i] = math.Round((start+float64(i)*step)*1e9) / 1e9
	}
	return steps
}

// FrameURL builds <base>/<folder>/<prefix><t with 2 decimals><suffix>.
func FrameURL(base string, cfg core.SimulationConfig, t float64) string {
	name := fmt.Sprintf("%s%.2f%s", cfg.Prefix, t, cfg.Suffix)
	parts := make([]string, 0, 3)
	if b := strings.TrimRight(base, "/"); b != "" {
		parts = append(parts, b)
	}
	if f := strings.Trim(cfg.Folder, "/"); f != "" {
		parts = append(parts, f)
	}
	parts = append(parts, name)
	return strings.Join(parts, "/")
}
