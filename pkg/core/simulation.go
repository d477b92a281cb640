// pkg/core/simulation.go
package core

import (
	"fmt"
	"time"
)

// SimulationConfig describes one avalanche simulation and where its frames live.
// It is loaded once from the configuration source and never mutated.
type SimulationConfig struct {
	ID           string     `json:"id" mapstructure:"id"`
	Name         string     `json:"name" mapstructure:"name"`
	Folder       string     `json:"folder" mapstructure:"folder"`
	Prefix       string     `json:"prefix" mapstructure:"prefix"`
	Suffix       string     `json:"suffix" mapstructure:"suffix"`
	TimeInterval float64    `json:"timeInterval" mapstructure:"timeInterval"`
	TimeRange    [2]float64 `json:"timeRange" mapstructure:"timeRange"`

	// ReleaseArea is a WKT polygon outlining the release zone.
	ReleaseArea       string  `json:"releaseArea,omitempty" mapstructure:"releaseArea"`
	ReleaseDepth      float64 `json:"releaseDepth,omitempty" mapstructure:"releaseDepth"`
	DEMSource         string  `json:"demSource,omitempty" mapstructure:"demSource"`
	DEMGridResolution float64 `json:"demGridResolution,omitempty" mapstructure:"demGridResolution"`
	Description       string  `json:"description,omitempty" mapstructure:"description"`
}

// Start returns the first nominal time of the simulation.
func (c SimulationConfig) Start() float64 { return c.TimeRange[0] }

// End returns the last nominal time of the simulation (inclusive).
func (c SimulationConfig) End() float64 { return c.TimeRange[1] }

// Validate checks the invariants a simulation config must satisfy.
func (c SimulationConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("simulation config: missing id")
	}
	if c.TimeInterval <= 0 {
		return fmt.Errorf("simulation %s: timeInterval must be > 0, got %v", c.ID, c.TimeInterval)
	}
	if c.End() < c.Start() {
		return fmt.Errorf("simulation %s: timeRange end %v before start %v", c.ID, c.End(), c.Start())
	}
	return nil
}

// DisplayName returns Name, falling back to ID.
func (c SimulationConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Defaults are the global settings applied to every simulation unless overridden.
type Defaults struct {
	GridResolution  int           `json:"gridResolution" mapstructure:"gridResolution"`
	Exaggeration    float64       `json:"exaggeration" mapstructure:"exaggeration"`
	ZOffset         float64       `json:"zOffset" mapstructure:"zOffset"`
	Smoothing       int           `json:"smoothing" mapstructure:"smoothing"`
	FlattenPasses   int           `json:"flattenPasses" mapstructure:"flattenPasses"`
	PlaybackSpeed   time.Duration `json:"-" mapstructure:"-"`
	PlaybackSpeedMs int           `json:"playbackSpeedMs" mapstructure:"playbackSpeedMs"`
	ColorStops      []ColorStop   `json:"colorStops" mapstructure:"colorStops"`
}

// TerrainConfig carries the parameters the mesh builder needs.
type TerrainConfig struct {
	Exaggeration float64
	ZOffset      float64
	ColorStops   []ColorStop
}
