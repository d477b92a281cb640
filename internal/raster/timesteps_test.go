package raster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avaviz/flowrender/pkg/core"
)

func TestTimeSteps_Inclusive(t *testing.T) {
	cfg := core.SimulationConfig{TimeInterval: 2, TimeRange: [2]float64{0, 4}}
	assert.Equal(t, []float64{0, 2, 4}, TimeSteps(cfg))
}

func TestTimeSteps_EndNotOnStep(t *testing.T) {
	cfg := core.SimulationConfig{TimeInterval: 2, TimeRange: [2]float64{0, 5}}
	assert.Equal(t, []float64{0, 2, 4}, TimeSteps(cfg))
}

func TestTimeSteps_NoDriftOverManySteps(t *testing.T) {
	cfg := core.SimulationConfig{TimeInterval: 0.1, TimeRange: [2]float64{0, 100}}
	steps := TimeSteps(cfg)

	require.Len(t, steps, 1001)
	assert.Equal(t, 100.0, steps[len(steps)-1])
	assert.Equal(t, 0.3, steps[3])
	assert.Equal(t, 57.3, steps[573])
}

func TestTimeSteps_SingleStep(t *testing.T) {
	cfg := core.SimulationConfig{TimeInterval: 5, TimeRange: [2]float64{3, 3}}
	assert.Equal(t, []float64{3}, TimeSteps(cfg))
}

func TestTimeSteps_Invalid(t *testing.T) {
	assert.Nil(t, TimeSteps(core.SimulationConfig{TimeInterval: 0, TimeRange: [2]float64{0, 4}}))
	assert.Nil(t, TimeSteps(core.SimulationConfig{TimeInterval: 1, TimeRange: [2]float64{4, 0}}))
}

func TestFrameURL(t *testing.T) {
	cfg := core.SimulationConfig{Folder: "sim_a/", Prefix: "fh_t", Suffix: ".tif"}

	assert.Equal(t, "https://data.example/runs/sim_a/fh_t2.50.tif", FrameURL("https://data.example/runs/", cfg, 2.5))
	assert.Equal(t, "/srv/runs/sim_a/fh_t0.00.tif", FrameURL("/srv/runs", cfg, 0))
	assert.Equal(t, "sim_a/fh_t10.00.tif", FrameURL("", cfg, 10))

	cfg.Folder = ""
	assert.Equal(t, "base/fh_t1.00.tif", FrameURL("base", cfg, 1))
}
