// pkg/core/report.go
package core

import "time"

// FrameStats summarizes one loaded time step.
type FrameStats struct {
	Time         float64 `json:"time"`
	Loaded       bool    `json:"loaded"`
	MaxHeight    float64 `json:"maxHeight"`
	MeanHeight   float64 `json:"meanHeight"`
	NonZeroCount int     `json:"nonZeroCount"`
	Triangles    int     `json:"triangles"`
}

// SimulationReport summarizes the load of one simulation.
type SimulationReport struct {
	SimulationID string       `json:"simulationId"`
	Name         string       `json:"name"`
	Extent       Extent       `json:"extent"`
	Requested    int          `json:"requested"`
	Loaded       int          `json:"loaded"`
	Failed       int          `json:"failed"`
	Error        string       `json:"error,omitempty"`
	Frames       []FrameStats `json:"frames"`
}

// LoadReport is the result of loading every configured simulation once.
type LoadReport struct {
	RunID       string             `json:"runId"`
	StartedAt   time.Time          `json:"startedAt"`
	Duration    time.Duration      `json:"duration"`
	Simulations []SimulationReport `json:"simulations"`
}
